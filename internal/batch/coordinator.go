// Package batch runs one scheduled newsletter generation-and-delivery pass
// over all active users.
//
// A run is a pure function of the active-user snapshot and fixed
// configuration: nothing survives between runs except what was durably
// written per user, and re-triggering simply produces a new, independent run
// with fresh newsletter records.
package batch

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ignite/personifeed/internal/dispatch"
	"github.com/ignite/personifeed/internal/generator"
	"github.com/ignite/personifeed/internal/pkg/logger"
	"github.com/ignite/personifeed/internal/store"
)

// ErrStoreUnavailable is returned when the active-user snapshot cannot be
// loaded. The run fails atomically before any user is processed.
var ErrStoreUnavailable = errors.New("user store unavailable, run not started")

// Store is the subset of store operations a run needs
type Store interface {
	GetActiveUsers(ctx context.Context) ([]*store.User, error)
	GetFeedbackHistory(ctx context.Context, userID uuid.UUID, replyLimit int) ([]*store.FeedbackEntry, error)
	CreateNewsletterRecord(ctx context.Context, userID uuid.UUID) (uuid.UUID, error)
	MarkNewsletterSent(ctx context.Context, recordID uuid.UUID, body string) error
	MarkNewsletterFailed(ctx context.Context, recordID uuid.UUID, detail string) error
}

// Generator produces newsletter body text for one user
type Generator interface {
	Generate(ctx context.Context, user *store.User, history []*store.FeedbackEntry) (string, error)
}

// Dispatcher sends one outbound message
type Dispatcher interface {
	Send(ctx context.Context, user *store.User, body string, kind dispatch.Kind) error
}

// Stats is the aggregated summary reported for one run
type Stats struct {
	TotalUsers   int   `json:"totalUsers"`
	SuccessCount int   `json:"successCount"`
	FailureCount int   `json:"failureCount"`
	DurationMs   int64 `json:"durationMs"`
}

// Failure is one user's recorded failure reason, kept for observability only
type Failure struct {
	UserID uuid.UUID `json:"userId"`
	Detail string    `json:"detail"`
}

// Result is the outcome of one completed run
type Result struct {
	Stats    Stats     `json:"stats"`
	Failures []Failure `json:"failures,omitempty"`
}

// Config holds the fixed per-run settings
type Config struct {
	Concurrency   int           // concurrent user tasks
	FeedbackLimit int           // most-recent-K replies pulled into the prompt
	UserTimeout   time.Duration // generation+delivery ceiling per user
}

// Coordinator executes scheduled runs
type Coordinator struct {
	store      Store
	generator  Generator
	dispatcher Dispatcher
	cfg        Config
}

// New creates a coordinator
func New(st Store, gen Generator, disp Dispatcher, cfg Config) *Coordinator {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 10
	}
	if cfg.FeedbackLimit <= 0 {
		cfg.FeedbackLimit = 10
	}
	if cfg.UserTimeout <= 0 {
		cfg.UserTimeout = 60 * time.Second
	}
	return &Coordinator{store: st, generator: gen, dispatcher: disp, cfg: cfg}
}

// Run processes every active user once with bounded concurrency and full
// per-user failure isolation. It returns an error only when the run could
// not start at all; individual user failures surface solely through the
// aggregated stats.
func (c *Coordinator) Run(ctx context.Context) (*Result, error) {
	start := time.Now()

	users, err := c.store.GetActiveUsers(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	logger.Info("batch run starting", "total_users", len(users), "concurrency", c.cfg.Concurrency)

	type outcome struct {
		userID uuid.UUID
		detail string // empty on success
	}

	sem := make(chan struct{}, c.cfg.Concurrency)
	outcomes := make(chan outcome, len(users))
	var wg sync.WaitGroup

	for _, user := range users {
		wg.Add(1)
		sem <- struct{}{}
		go func(u *store.User) {
			defer wg.Done()
			defer func() { <-sem }()

			detail := c.processUser(ctx, u)
			outcomes <- outcome{userID: u.ID, detail: detail}
		}(user)
	}

	wg.Wait()
	close(outcomes)

	result := &Result{Stats: Stats{TotalUsers: len(users)}}
	for o := range outcomes {
		if o.detail == "" {
			result.Stats.SuccessCount++
		} else {
			result.Stats.FailureCount++
			result.Failures = append(result.Failures, Failure{UserID: o.userID, Detail: o.detail})
		}
	}
	result.Stats.DurationMs = time.Since(start).Milliseconds()

	logger.Info("batch run completed",
		"total_users", result.Stats.TotalUsers,
		"success", result.Stats.SuccessCount,
		"failed", result.Stats.FailureCount,
		"duration_ms", result.Stats.DurationMs)

	return result, nil
}

// processUser takes one user through pending→generating→delivering→sent|failed.
// It returns the failure detail, or "" on success. It never returns an error:
// anything that goes wrong, including a panic in a provider client, is
// contained here so the other users' tasks are untouched.
func (c *Coordinator) processUser(ctx context.Context, user *store.User) (detail string) {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.UserTimeout)
	defer cancel()

	defer func() {
		if r := recover(); r != nil {
			logger.Error("user task panicked", "user_id", user.ID.String(), "panic", fmt.Sprintf("%v", r))
			detail = "InternalError"
		}
	}()

	recordID, err := c.store.CreateNewsletterRecord(ctx, user.ID)
	if err != nil {
		logger.Error("failed to create newsletter record", "user_id", user.ID.String(), "error", err)
		return "RecordCreateFailure"
	}

	fail := func(d string) string {
		// the task context may already be past its deadline; the status
		// write gets its own short one so the failure is still recorded
		writeCtx, writeCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer writeCancel()
		if err := c.store.MarkNewsletterFailed(writeCtx, recordID, d); err != nil {
			logger.Error("failed to mark record failed", "user_id", user.ID.String(), "error", err)
		}
		return d
	}

	history, err := c.store.GetFeedbackHistory(ctx, user.ID, c.cfg.FeedbackLimit)
	if err != nil {
		logger.Error("failed to load feedback history", "user_id", user.ID.String(), "error", err)
		return fail("StoreReadFailure")
	}

	body, err := c.generator.Generate(ctx, user, history)
	if err != nil {
		logger.Warn("generation failed", "user_id", user.ID.String(), "error", err)
		return fail(generator.Detail(err))
	}

	if err := c.dispatcher.Send(ctx, user, body, dispatch.KindNewsletter); err != nil {
		logger.Warn("delivery failed", "user_id", user.ID.String(), "error", err)
		return fail(dispatch.Detail(err))
	}

	// The mail is out; a failed status write must not turn a delivered
	// newsletter into a reported failure.
	if err := c.store.MarkNewsletterSent(ctx, recordID, body); err != nil {
		logger.Error("failed to mark record sent", "user_id", user.ID.String(), "error", err)
	}
	return ""
}
