package api

import (
	"context"
	"database/sql"
	"errors"
	"net/http"
	"net/mail"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/ignite/personifeed/internal/batch"
	"github.com/ignite/personifeed/internal/pkg/distlock"
	"github.com/ignite/personifeed/internal/pkg/httputil"
	"github.com/ignite/personifeed/internal/pkg/logger"
	"github.com/ignite/personifeed/internal/reply"
	"github.com/ignite/personifeed/internal/store"
)

const maxPromptChars = 2000

// UserStore is the subset of store operations the HTTP layer needs
type UserStore interface {
	Ping(ctx context.Context) error
	CreateUser(ctx context.Context, email, prompt string) (*store.User, error)
	DeactivateUser(ctx context.Context, id uuid.UUID) error
}

// BatchRunner kicks off one newsletter run
type BatchRunner interface {
	Run(ctx context.Context) (*batch.Result, error)
}

// ReplyRouter handles one inbound email event
type ReplyRouter interface {
	Handle(ctx context.Context, event reply.InboundEvent) (reply.Outcome, error)
}

// LockFactory builds a fresh run lock per trigger. Lock instances carry
// per-acquire ownership tokens and must not be reused across requests.
type LockFactory func() distlock.DistLock

// Handlers contains all HTTP handlers
type Handlers struct {
	store      UserStore
	runner     BatchRunner
	router     ReplyRouter
	newRunLock LockFactory // optional
	redis      *redis.Client
	cronToken  string
	startTime  time.Time
}

// NewHandlers creates the handler set. newRunLock and redisClient may be nil.
func NewHandlers(st UserStore, runner BatchRunner, router ReplyRouter, newRunLock LockFactory, redisClient *redis.Client, cronToken string) *Handlers {
	return &Handlers{
		store:      st,
		runner:     runner,
		router:     router,
		newRunLock: newRunLock,
		redis:      redisClient,
		cronToken:  cronToken,
		startTime:  time.Now(),
	}
}

// RunBatch handles POST /cron/run. It is the scheduler's entry point:
// authenticated by bearer token, serialized by a distributed lock so a slow
// run and the next tick cannot overlap.
func (h *Handlers) RunBatch(w http.ResponseWriter, r *http.Request) {
	if h.cronToken != "" {
		auth := r.Header.Get("Authorization")
		if auth != "Bearer "+h.cronToken {
			httputil.Error(w, http.StatusUnauthorized, "unauthorized")
			return
		}
	}

	if h.newRunLock != nil {
		lock := h.newRunLock()
		acquired, err := lock.Acquire(r.Context())
		if err != nil {
			httputil.InternalError(w, err)
			return
		}
		if !acquired {
			httputil.Error(w, http.StatusConflict, "a run is already in progress")
			return
		}
		defer func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := lock.Release(ctx); err != nil {
				logger.Warn("run lock release failed", "error", err)
			}
		}()
	}

	// A triggered run must finish on its own terms. The caller dropping the
	// connection mid-run would otherwise cancel every in-flight user task.
	result, err := h.runner.Run(context.WithoutCancel(r.Context()))
	if err != nil {
		if errors.Is(err, batch.ErrStoreUnavailable) {
			httputil.Error(w, http.StatusServiceUnavailable, "user store unavailable")
			return
		}
		httputil.InternalError(w, err)
		return
	}

	httputil.OK(w, map[string]any{
		"success":  true,
		"stats":    result.Stats,
		"failures": result.Failures,
	})
}

// InboundWebhook handles POST /webhooks/inbound. A 5xx response tells the
// mail provider to redeliver, which is the recovery path for storage
// failures.
func (h *Handlers) InboundWebhook(w http.ResponseWriter, r *http.Request) {
	var event reply.InboundEvent
	if !httputil.Decode(w, r, &event) {
		return
	}

	outcome, err := h.router.Handle(r.Context(), event)
	if err != nil {
		httputil.InternalError(w, err)
		return
	}

	httputil.OK(w, map[string]any{"outcome": outcome})
}

type signupRequest struct {
	Email  string `json:"email"`
	Prompt string `json:"prompt"`
}

// Signup handles POST /api/signup. Signups are idempotent per email: a
// repeat signup returns the existing subscription instead of an error.
func (h *Handlers) Signup(w http.ResponseWriter, r *http.Request) {
	var req signupRequest
	if !httputil.Decode(w, r, &req) {
		return
	}

	addr, err := mail.ParseAddress(strings.TrimSpace(req.Email))
	if err != nil {
		httputil.BadRequest(w, "invalid email address")
		return
	}

	prompt := strings.TrimSpace(req.Prompt)
	if prompt == "" {
		httputil.BadRequest(w, "prompt is required")
		return
	}
	if len(prompt) > maxPromptChars {
		httputil.BadRequest(w, "prompt too long")
		return
	}

	user, err := h.store.CreateUser(r.Context(), addr.Address, prompt)
	if err != nil {
		httputil.InternalError(w, err)
		return
	}

	logger.Info("signup accepted", "user_id", user.ID.String(), "email", user.Email)
	httputil.Created(w, map[string]any{
		"user_id": user.ID,
		"email":   user.Email,
	})
}

// DeactivateUser handles POST /api/users/{id}/deactivate.
func (h *Handlers) DeactivateUser(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		httputil.BadRequest(w, "invalid user id")
		return
	}

	if err := h.store.DeactivateUser(r.Context(), id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			httputil.NotFound(w, "user not found")
			return
		}
		httputil.InternalError(w, err)
		return
	}

	httputil.OK(w, map[string]any{"success": true})
}
