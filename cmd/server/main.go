package main

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/lib/pq" // PostgreSQL driver
	"github.com/redis/go-redis/v9"

	"github.com/ignite/personifeed/internal/api"
	"github.com/ignite/personifeed/internal/batch"
	"github.com/ignite/personifeed/internal/config"
	"github.com/ignite/personifeed/internal/dispatch"
	"github.com/ignite/personifeed/internal/generator"
	"github.com/ignite/personifeed/internal/pkg/distlock"
	"github.com/ignite/personifeed/internal/reply"
	"github.com/ignite/personifeed/internal/replyaddr"
	"github.com/ignite/personifeed/internal/store"
)

func main() {
	log.Println("personi[feed] server starting")

	cfg, err := config.LoadFromEnv("config/config.yaml")
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if os.Getenv("DATABASE_URL") != "" {
		log.Println("[config] DATABASE_URL env override active")
	}

	// Database
	db, err := sql.Open("postgres", cfg.Database.URL)
	if err != nil {
		log.Fatalf("Failed to open database: %v", err)
	}
	defer db.Close()
	db.SetMaxOpenConns(cfg.Database.MaxOpenConns)
	db.SetMaxIdleConns(cfg.Database.MaxIdleConns)

	pingCtx, pingCancel := context.WithTimeout(context.Background(), 5*time.Second)
	if err := db.PingContext(pingCtx); err != nil {
		log.Printf("WARNING: database unreachable at startup: %v", err)
	}
	pingCancel()

	st := store.NewStore(db)

	// Redis is optional. Without it the run lock falls back to PG advisory
	// locks and webhook dedup is disabled.
	var redisClient *redis.Client
	if cfg.Redis.Enabled {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		if err := redisClient.Ping(ctx).Err(); err != nil {
			log.Printf("WARNING: redis unreachable at startup: %v", err)
		}
		cancel()
	}

	ctx := context.Background()

	// Outbound mail
	transport, err := dispatch.NewSESTransport(ctx, cfg.SES)
	if err != nil {
		log.Fatalf("Failed to init SES transport: %v", err)
	}
	codec := replyaddr.NewCodec(cfg.Newsletter.ReplyLocalPart, cfg.Newsletter.ReplyDomain)
	dispatcher := dispatch.New(transport, codec, cfg.Newsletter.FromName, cfg.Newsletter.Subject)

	// Content generation: Bedrock primary, OpenAI fallback when configured
	bedrock, err := generator.NewBedrockProvider(ctx, cfg.Bedrock)
	if err != nil {
		log.Fatalf("Failed to init Bedrock provider: %v", err)
	}
	var fallback generator.Provider
	if cfg.OpenAI.Enabled {
		fallback = generator.NewOpenAIProvider(cfg.OpenAI)
		log.Println("[generator] OpenAI fallback enabled")
	}
	gen := generator.New(bedrock, fallback, cfg.Bedrock.MaxTokens)

	coordinator := batch.New(st, gen, dispatcher, batch.Config{
		Concurrency:   cfg.Newsletter.Concurrency,
		FeedbackLimit: cfg.Newsletter.FeedbackLimit,
		UserTimeout:   cfg.Newsletter.UserTimeout(),
	})

	var dedup reply.Deduper
	if redisClient != nil {
		dedup = reply.NewRedisDeduper(redisClient, 24*time.Hour)
	}
	router := reply.New(st, codec, dispatcher, dedup, cfg.Newsletter.MaxReplyBodyChars)

	newRunLock := func() distlock.DistLock {
		return distlock.NewLock(redisClient, db, "newsletter-run", cfg.Cron.LockTTL())
	}

	handlers := api.NewHandlers(st, coordinator, router, newRunLock, redisClient, cfg.Cron.Token)
	server := api.NewServer(cfg.Server, handlers)

	addr := fmt.Sprintf("%s:%d", cfg.Server.GetHost(), cfg.Server.Port)

	errCh := make(chan error, 1)
	go func() {
		log.Printf("Listening on %s", addr)
		errCh <- server.ListenAndServe(addr)
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-errCh:
		log.Fatalf("Server error: %v", err)
	case sig := <-stop:
		log.Printf("Received %v, shutting down", sig)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("Shutdown error: %v", err)
	}
	log.Println("Server stopped")
}
