package api

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ignite/personifeed/internal/batch"
	"github.com/ignite/personifeed/internal/pkg/distlock"
	"github.com/ignite/personifeed/internal/reply"
	"github.com/ignite/personifeed/internal/store"
)

type fakeUserStore struct {
	pingErr       error
	createErr     error
	deactivateErr error
	created       []string
	deactivated   []uuid.UUID
}

func (f *fakeUserStore) Ping(ctx context.Context) error { return f.pingErr }

func (f *fakeUserStore) CreateUser(ctx context.Context, email, prompt string) (*store.User, error) {
	if f.createErr != nil {
		return nil, f.createErr
	}
	f.created = append(f.created, email)
	return &store.User{ID: uuid.New(), Email: email, Prompt: prompt, Active: true}, nil
}

func (f *fakeUserStore) DeactivateUser(ctx context.Context, id uuid.UUID) error {
	if f.deactivateErr != nil {
		return f.deactivateErr
	}
	f.deactivated = append(f.deactivated, id)
	return nil
}

type fakeRunner struct {
	result *batch.Result
	err    error
	runs   int
	ctxErr error
}

func (f *fakeRunner) Run(ctx context.Context) (*batch.Result, error) {
	f.runs++
	f.ctxErr = ctx.Err()
	return f.result, f.err
}

type fakeRouter struct {
	outcome reply.Outcome
	err     error
	events  []reply.InboundEvent
}

func (f *fakeRouter) Handle(ctx context.Context, event reply.InboundEvent) (reply.Outcome, error) {
	f.events = append(f.events, event)
	return f.outcome, f.err
}

type fakeLock struct {
	acquired   bool
	acquireErr error
	released   bool
}

func (f *fakeLock) Acquire(ctx context.Context) (bool, error) { return f.acquired, f.acquireErr }
func (f *fakeLock) Release(ctx context.Context) error {
	f.released = true
	return nil
}

func newTestServer(st *fakeUserStore, runner *fakeRunner, router *fakeRouter, lock *fakeLock, token string) http.Handler {
	var factory LockFactory
	if lock != nil {
		factory = func() distlock.DistLock { return lock }
	}
	h := NewHandlers(st, runner, router, factory, nil, token)
	return SetupRoutes(h)
}

func doJSON(t *testing.T, handler http.Handler, method, path string, body any, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func TestHealthCheck(t *testing.T) {
	handler := newTestServer(&fakeUserStore{}, &fakeRunner{}, &fakeRouter{}, nil, "")

	rec := doJSON(t, handler, http.MethodGet, "/health", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var status HealthStatus
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &status))
	assert.Equal(t, "healthy", status.Status)
	assert.Equal(t, "up", status.Checks["database"].Status)
}

func TestHealthCheckDatabaseDown(t *testing.T) {
	st := &fakeUserStore{pingErr: errors.New("connection refused")}
	handler := newTestServer(st, &fakeRunner{}, &fakeRouter{}, nil, "")

	rec := doJSON(t, handler, http.MethodGet, "/health", nil, nil)
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)

	var status HealthStatus
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &status))
	assert.Equal(t, "unhealthy", status.Status)
}

func TestRunBatchRequiresToken(t *testing.T) {
	runner := &fakeRunner{result: &batch.Result{}}
	handler := newTestServer(&fakeUserStore{}, runner, &fakeRouter{}, nil, "secret")

	rec := doJSON(t, handler, http.MethodPost, "/cron/run", nil, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, 0, runner.runs)

	rec = doJSON(t, handler, http.MethodPost, "/cron/run", nil, map[string]string{
		"Authorization": "Bearer wrong",
	})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, 0, runner.runs)
}

func TestRunBatchSuccess(t *testing.T) {
	runner := &fakeRunner{result: &batch.Result{
		Stats: batch.Stats{TotalUsers: 3, SuccessCount: 2, FailureCount: 1, DurationMs: 1200},
	}}
	lock := &fakeLock{acquired: true}
	handler := newTestServer(&fakeUserStore{}, runner, &fakeRouter{}, lock, "secret")

	rec := doJSON(t, handler, http.MethodPost, "/cron/run", nil, map[string]string{
		"Authorization": "Bearer secret",
	})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 1, runner.runs)
	assert.True(t, lock.released)

	var resp struct {
		Success bool        `json:"success"`
		Stats   batch.Stats `json:"stats"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.True(t, resp.Success)
	assert.Equal(t, 3, resp.Stats.TotalUsers)
	assert.Equal(t, 2, resp.Stats.SuccessCount)
}

func TestRunBatchSurvivesClientDisconnect(t *testing.T) {
	runner := &fakeRunner{result: &batch.Result{}}
	handler := newTestServer(&fakeUserStore{}, runner, &fakeRouter{}, nil, "")

	// the caller hanging up must not cancel the in-flight run
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	req := httptest.NewRequest(http.MethodPost, "/cron/run", nil).WithContext(ctx)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	require.Equal(t, 1, runner.runs)
	assert.NoError(t, runner.ctxErr)
}

func TestRunBatchLockHeld(t *testing.T) {
	runner := &fakeRunner{result: &batch.Result{}}
	lock := &fakeLock{acquired: false}
	handler := newTestServer(&fakeUserStore{}, runner, &fakeRouter{}, lock, "")

	rec := doJSON(t, handler, http.MethodPost, "/cron/run", nil, nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, 0, runner.runs)
}

func TestRunBatchStoreUnavailable(t *testing.T) {
	runner := &fakeRunner{err: fmt.Errorf("%w: dial tcp refused", batch.ErrStoreUnavailable)}
	handler := newTestServer(&fakeUserStore{}, runner, &fakeRouter{}, nil, "")

	rec := doJSON(t, handler, http.MethodPost, "/cron/run", nil, nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestInboundWebhookStored(t *testing.T) {
	router := &fakeRouter{outcome: reply.OutcomeStored}
	handler := newTestServer(&fakeUserStore{}, &fakeRunner{}, router, nil, "")

	rec := doJSON(t, handler, http.MethodPost, "/webhooks/inbound", reply.InboundEvent{
		To:   "reply+abc@mail.personifeed.com",
		Text: "more science",
	}, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, router.events, 1)
	assert.Equal(t, "more science", router.events[0].Text)

	var resp map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, string(reply.OutcomeStored), resp["outcome"])
}

func TestInboundWebhookPersistFailure(t *testing.T) {
	router := &fakeRouter{err: fmt.Errorf("%w: insert failed", reply.ErrPersistFailure)}
	handler := newTestServer(&fakeUserStore{}, &fakeRunner{}, router, nil, "")

	rec := doJSON(t, handler, http.MethodPost, "/webhooks/inbound", reply.InboundEvent{
		To:   "reply+abc@mail.personifeed.com",
		Text: "feedback",
	}, nil)
	// 5xx so the provider redelivers the event
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestInboundWebhookBadJSON(t *testing.T) {
	handler := newTestServer(&fakeUserStore{}, &fakeRunner{}, &fakeRouter{}, nil, "")

	req := httptest.NewRequest(http.MethodPost, "/webhooks/inbound", bytes.NewBufferString("{not json"))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSignup(t *testing.T) {
	st := &fakeUserStore{}
	handler := newTestServer(st, &fakeRunner{}, &fakeRouter{}, nil, "")

	rec := doJSON(t, handler, http.MethodPost, "/api/signup", signupRequest{
		Email:  "reader@example.com",
		Prompt: "daily AI research digest",
	}, nil)
	require.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, []string{"reader@example.com"}, st.created)

	var resp map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "reader@example.com", resp["email"])
	assert.NotEmpty(t, resp["user_id"])
}

func TestSignupValidation(t *testing.T) {
	st := &fakeUserStore{}
	handler := newTestServer(st, &fakeRunner{}, &fakeRouter{}, nil, "")

	tests := []struct {
		name string
		req  signupRequest
	}{
		{"invalid email", signupRequest{Email: "not-an-email", Prompt: "news"}},
		{"empty prompt", signupRequest{Email: "reader@example.com", Prompt: "   "}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := doJSON(t, handler, http.MethodPost, "/api/signup", tt.req, nil)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
		})
	}
	assert.Empty(t, st.created)
}

func TestDeactivateUser(t *testing.T) {
	st := &fakeUserStore{}
	handler := newTestServer(st, &fakeRunner{}, &fakeRouter{}, nil, "")
	id := uuid.New()

	rec := doJSON(t, handler, http.MethodPost, "/api/users/"+id.String()+"/deactivate", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []uuid.UUID{id}, st.deactivated)
}

func TestDeactivateUserNotFound(t *testing.T) {
	st := &fakeUserStore{deactivateErr: sql.ErrNoRows}
	handler := newTestServer(st, &fakeRunner{}, &fakeRouter{}, nil, "")

	rec := doJSON(t, handler, http.MethodPost, "/api/users/"+uuid.NewString()+"/deactivate", nil, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestDeactivateUserBadID(t *testing.T) {
	handler := newTestServer(&fakeUserStore{}, &fakeRunner{}, &fakeRouter{}, nil, "")

	rec := doJSON(t, handler, http.MethodPost, "/api/users/not-a-uuid/deactivate", nil, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
