// Command runbatch triggers one newsletter run from the command line,
// bypassing the HTTP server. Useful for cron jobs that run on the same
// host and for manual reruns after an incident.
package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	_ "github.com/lib/pq" // PostgreSQL driver
	"github.com/redis/go-redis/v9"

	"github.com/ignite/personifeed/internal/batch"
	"github.com/ignite/personifeed/internal/config"
	"github.com/ignite/personifeed/internal/dispatch"
	"github.com/ignite/personifeed/internal/generator"
	"github.com/ignite/personifeed/internal/pkg/distlock"
	"github.com/ignite/personifeed/internal/replyaddr"
	"github.com/ignite/personifeed/internal/store"
)

func main() {
	configPath := flag.String("config", "config/config.yaml", "path to config file")
	skipLock := flag.Bool("skip-lock", false, "run without acquiring the run lock")
	flag.Parse()

	// os.Exit skips defers, so everything that holds resources (the run
	// lock in particular) lives inside run and releases before we get here.
	os.Exit(run(*configPath, *skipLock))
}

func run(configPath string, skipLock bool) int {
	cfg, err := config.LoadFromEnv(configPath)
	if err != nil {
		log.Printf("Failed to load config: %v", err)
		return 1
	}

	db, err := sql.Open("postgres", cfg.Database.URL)
	if err != nil {
		log.Printf("Failed to open database: %v", err)
		return 1
	}
	defer db.Close()

	st := store.NewStore(db)

	var redisClient *redis.Client
	if cfg.Redis.Enabled {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
	}

	ctx := context.Background()

	transport, err := dispatch.NewSESTransport(ctx, cfg.SES)
	if err != nil {
		log.Printf("Failed to init SES transport: %v", err)
		return 1
	}
	codec := replyaddr.NewCodec(cfg.Newsletter.ReplyLocalPart, cfg.Newsletter.ReplyDomain)
	dispatcher := dispatch.New(transport, codec, cfg.Newsletter.FromName, cfg.Newsletter.Subject)

	bedrock, err := generator.NewBedrockProvider(ctx, cfg.Bedrock)
	if err != nil {
		log.Printf("Failed to init Bedrock provider: %v", err)
		return 1
	}
	var fallback generator.Provider
	if cfg.OpenAI.Enabled {
		fallback = generator.NewOpenAIProvider(cfg.OpenAI)
	}
	gen := generator.New(bedrock, fallback, cfg.Bedrock.MaxTokens)

	coordinator := batch.New(st, gen, dispatcher, batch.Config{
		Concurrency:   cfg.Newsletter.Concurrency,
		FeedbackLimit: cfg.Newsletter.FeedbackLimit,
		UserTimeout:   cfg.Newsletter.UserTimeout(),
	})

	if !skipLock {
		lock := distlock.NewLock(redisClient, db, "newsletter-run", cfg.Cron.LockTTL())
		acquired, err := lock.Acquire(ctx)
		if err != nil {
			log.Printf("Failed to acquire run lock: %v", err)
			return 1
		}
		if !acquired {
			log.Print("A run is already in progress")
			return 1
		}
		defer func() {
			releaseCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := lock.Release(releaseCtx); err != nil {
				log.Printf("Run lock release failed: %v", err)
			}
		}()
	}

	result, err := coordinator.Run(ctx)
	if err != nil {
		log.Printf("Run failed: %v", err)
		return 1
	}

	out, _ := json.MarshalIndent(result.Stats, "", "  ")
	fmt.Println(string(out))

	for _, f := range result.Failures {
		log.Printf("user %s failed: %s", f.UserID, f.Detail)
	}
	if result.Stats.FailureCount > 0 {
		return 1
	}
	return 0
}
