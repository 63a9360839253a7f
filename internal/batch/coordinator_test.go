package batch

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ignite/personifeed/internal/dispatch"
	"github.com/ignite/personifeed/internal/generator"
	"github.com/ignite/personifeed/internal/store"
)

type recordState struct {
	status store.NewsletterStatus
	detail string
	body   string
}

type fakeStore struct {
	mu       sync.Mutex
	users    []*store.User
	usersErr error
	records  map[uuid.UUID]*recordState // record ID → state
	byUser   map[uuid.UUID]uuid.UUID    // user ID → record ID
}

func newFakeStore(users ...*store.User) *fakeStore {
	return &fakeStore{
		users:   users,
		records: make(map[uuid.UUID]*recordState),
		byUser:  make(map[uuid.UUID]uuid.UUID),
	}
}

func (f *fakeStore) GetActiveUsers(ctx context.Context) ([]*store.User, error) {
	if f.usersErr != nil {
		return nil, f.usersErr
	}
	return f.users, nil
}

func (f *fakeStore) GetFeedbackHistory(ctx context.Context, userID uuid.UUID, replyLimit int) ([]*store.FeedbackEntry, error) {
	return []*store.FeedbackEntry{
		{ID: uuid.New(), UserID: userID, Body: "daily AI news", Source: store.SourceInitial, CreatedAt: time.Now()},
	}, nil
}

func (f *fakeStore) CreateNewsletterRecord(ctx context.Context, userID uuid.UUID) (uuid.UUID, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	id := uuid.New()
	f.records[id] = &recordState{status: store.StatusPending}
	f.byUser[userID] = id
	return id, nil
}

func (f *fakeStore) MarkNewsletterSent(ctx context.Context, recordID uuid.UUID, body string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.records[recordID].status = store.StatusSent
	f.records[recordID].body = body
	return nil
}

func (f *fakeStore) MarkNewsletterFailed(ctx context.Context, recordID uuid.UUID, detail string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.records[recordID].status = store.StatusFailed
	f.records[recordID].detail = detail
	return nil
}

func (f *fakeStore) recordFor(userID uuid.UUID) *recordState {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.records[f.byUser[userID]]
}

type fakeGenerator struct {
	failFor map[uuid.UUID]error
	block   bool

	inFlight    int64
	maxInFlight int64
}

func (g *fakeGenerator) Generate(ctx context.Context, user *store.User, history []*store.FeedbackEntry) (string, error) {
	cur := atomic.AddInt64(&g.inFlight, 1)
	defer atomic.AddInt64(&g.inFlight, -1)
	for {
		prev := atomic.LoadInt64(&g.maxInFlight)
		if cur <= prev || atomic.CompareAndSwapInt64(&g.maxInFlight, prev, cur) {
			break
		}
	}

	if g.block {
		<-ctx.Done()
		return "", ctx.Err()
	}
	if err, ok := g.failFor[user.ID]; ok {
		return "", err
	}
	return "newsletter for " + user.Email, nil
}

type fakeDispatcher struct {
	mu      sync.Mutex
	failFor map[uuid.UUID]error
	sends   int
}

func (d *fakeDispatcher) Send(ctx context.Context, user *store.User, body string, kind dispatch.Kind) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err, ok := d.failFor[user.ID]; ok {
		return err
	}
	d.sends++
	return nil
}

func makeUsers(n int) []*store.User {
	users := make([]*store.User, n)
	for i := range users {
		users[i] = &store.User{
			ID:     uuid.New(),
			Email:  fmt.Sprintf("reader%d@example.com", i),
			Prompt: "daily AI news",
			Active: true,
		}
	}
	return users
}

func TestRunHappyPath(t *testing.T) {
	users := makeUsers(3)
	st := newFakeStore(users...)
	disp := &fakeDispatcher{}
	c := New(st, &fakeGenerator{}, disp, Config{})

	result, err := c.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 3, result.Stats.TotalUsers)
	assert.Equal(t, 3, result.Stats.SuccessCount)
	assert.Equal(t, 0, result.Stats.FailureCount)
	assert.Equal(t, 3, disp.sends)
	for _, u := range users {
		assert.Equal(t, store.StatusSent, st.recordFor(u.ID).status)
	}
}

func TestRunIsolatesGenerationFailure(t *testing.T) {
	users := makeUsers(5)
	st := newFakeStore(users...)
	gen := &fakeGenerator{failFor: map[uuid.UUID]error{
		users[2].ID: fmt.Errorf("%w: boom", generator.ErrProvider),
	}}
	c := New(st, gen, &fakeDispatcher{}, Config{})

	result, err := c.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 5, result.Stats.TotalUsers)
	assert.Equal(t, 4, result.Stats.SuccessCount)
	assert.Equal(t, 1, result.Stats.FailureCount)
	require.Len(t, result.Failures, 1)
	assert.Equal(t, users[2].ID, result.Failures[0].UserID)
	assert.Equal(t, "ProviderError", result.Failures[0].Detail)

	rec := st.recordFor(users[2].ID)
	assert.Equal(t, store.StatusFailed, rec.status)
	assert.Equal(t, "ProviderError", rec.detail)
	for i, u := range users {
		if i == 2 {
			continue
		}
		assert.Equal(t, store.StatusSent, st.recordFor(u.ID).status)
	}
}

func TestRunIsolatesDeliveryFailure(t *testing.T) {
	users := makeUsers(3)
	st := newFakeStore(users...)
	disp := &fakeDispatcher{failFor: map[uuid.UUID]error{
		users[0].ID: fmt.Errorf("%w: 554", dispatch.ErrRejected),
	}}
	c := New(st, &fakeGenerator{}, disp, Config{})

	result, err := c.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 2, result.Stats.SuccessCount)
	assert.Equal(t, 1, result.Stats.FailureCount)
	assert.Equal(t, "TransportRejected", st.recordFor(users[0].ID).detail)
}

func TestRunStoreUnavailableAbortsAtomically(t *testing.T) {
	st := newFakeStore()
	st.usersErr = errors.New("connection refused")
	disp := &fakeDispatcher{}
	c := New(st, &fakeGenerator{}, disp, Config{})

	result, err := c.Run(context.Background())
	assert.ErrorIs(t, err, ErrStoreUnavailable)
	assert.Nil(t, result)
	assert.Equal(t, 0, disp.sends)
	assert.Empty(t, st.records)
}

func TestRunRespectsConcurrencyLimit(t *testing.T) {
	users := makeUsers(20)
	st := newFakeStore(users...)
	gen := &fakeGenerator{}
	c := New(st, gen, &fakeDispatcher{}, Config{Concurrency: 4})

	_, err := c.Run(context.Background())
	require.NoError(t, err)
	assert.LessOrEqual(t, atomic.LoadInt64(&gen.maxInFlight), int64(4))
}

func TestRunTimesOutStuckUser(t *testing.T) {
	users := makeUsers(2)
	st := newFakeStore(users...)
	gen := &fakeGenerator{block: true}
	c := New(st, gen, &fakeDispatcher{}, Config{UserTimeout: 50 * time.Millisecond})

	done := make(chan *Result, 1)
	go func() {
		result, err := c.Run(context.Background())
		require.NoError(t, err)
		done <- result
	}()

	select {
	case result := <-done:
		// a stuck provider call releases its slot at the timeout instead of
		// wedging the whole run
		assert.Equal(t, 2, result.Stats.FailureCount)
		for _, f := range result.Failures {
			assert.Equal(t, "GenerationTimeout", f.Detail)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("run did not complete after per-user timeout")
	}
}

func TestRunIsolatesPanic(t *testing.T) {
	users := makeUsers(3)
	st := newFakeStore(users...)
	gen := &fakeGenerator{failFor: map[uuid.UUID]error{}}
	c := New(st, &panicGenerator{inner: gen, panicFor: users[1].ID}, &fakeDispatcher{}, Config{})

	result, err := c.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, result.Stats.SuccessCount)
	assert.Equal(t, 1, result.Stats.FailureCount)
	assert.Equal(t, "InternalError", result.Failures[0].Detail)
}

type panicGenerator struct {
	inner    Generator
	panicFor uuid.UUID
}

func (p *panicGenerator) Generate(ctx context.Context, user *store.User, history []*store.FeedbackEntry) (string, error) {
	if user.ID == p.panicFor {
		panic("nil deref in provider client")
	}
	return p.inner.Generate(ctx, user, history)
}
