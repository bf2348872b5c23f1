package scheduler

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mailquote/mailquote/internal/config"
	"github.com/mailquote/mailquote/internal/storage"
)

type tickRecorder struct {
	mu    sync.Mutex
	calls map[int64]int
}

func newTickRecorder() *tickRecorder {
	return &tickRecorder{calls: make(map[int64]int)}
}

func (r *tickRecorder) tick(_ context.Context, tenantID int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls[tenantID]++
	return nil
}

func (r *tickRecorder) count(tenantID int64) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.calls[tenantID]
}

func (r *tickRecorder) waitFor(t *testing.T, tenantID int64, n int) {
	t.Helper()
	require.Eventually(t, func() bool {
		return r.count(tenantID) >= n
	}, 2*time.Second, 5*time.Millisecond)
}

// manualClock hands out controllable tick channels instead of real
// tickers.
type manualClock struct {
	mu    sync.Mutex
	chans []chan time.Time
}

func (c *manualClock) factory(time.Duration) (<-chan time.Time, func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	ch := make(chan time.Time, 1)
	c.chans = append(c.chans, ch)
	return ch, func() {}
}

func (c *manualClock) fireAll() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, ch := range c.chans {
		select {
		case ch <- time.Now():
		default:
		}
	}
}

func newTestScheduler(t *testing.T) (*Scheduler, *storage.Store, *tickRecorder, *manualClock) {
	t.Helper()
	store, err := storage.NewStore(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	rec := newTickRecorder()
	clock := &manualClock{}

	s := New(store, config.SchedulerConfig{
		DefaultPollInterval: 10 * time.Minute,
		SweepInterval:       30 * time.Minute,
		TickTimeout:         time.Minute,
	}, rec.tick, zerolog.Nop())
	s.newTicker = clock.factory

	return s, store, rec, clock
}

func connectedTenant(t *testing.T, store *storage.Store, email string) *storage.Tenant {
	t.Helper()
	tn := &storage.Tenant{
		Name:               "Co",
		Email:              email,
		IMAPPort:           993,
		Active:             true,
		RefreshTokenSealed: "sealed",
	}
	require.NoError(t, store.CreateTenant(context.Background(), tn))
	return tn
}

func TestSchedulerPollsConnectedTenants(t *testing.T) {
	s, store, rec, clock := newTestScheduler(t)
	ctx := context.Background()

	connected := connectedTenant(t, store, "a@acme.com")

	// Active but never authorized: no credentials, no job.
	noCreds := &storage.Tenant{Name: "Co", Email: "b@other.com", IMAPPort: 993, Active: true}
	require.NoError(t, store.CreateTenant(ctx, noCreds))

	// Disconnected tenant: no job either.
	inactive := &storage.Tenant{Name: "Co", Email: "c@gone.com", IMAPPort: 993, RefreshTokenSealed: "sealed"}
	require.NoError(t, store.CreateTenant(ctx, inactive))

	require.NoError(t, s.Start(ctx))
	defer s.Stop()

	assert.Equal(t, []int64{connected.ID}, s.TenantIDs())

	// Each job ticks once immediately on start.
	rec.waitFor(t, connected.ID, 1)
	assert.Zero(t, rec.count(noCreds.ID))
	assert.Zero(t, rec.count(inactive.ID))

	// Firing the tickers produces another round.
	clock.fireAll()
	rec.waitFor(t, connected.ID, 2)
}

func TestSchedulerTrigger(t *testing.T) {
	s, store, rec, _ := newTestScheduler(t)
	ctx := context.Background()

	tn := connectedTenant(t, store, "a@acme.com")
	require.NoError(t, s.Start(ctx))
	defer s.Stop()

	rec.waitFor(t, tn.ID, 1)

	s.Trigger(tn.ID)
	rec.waitFor(t, tn.ID, 2)

	// Triggering an unknown tenant is a no-op.
	s.Trigger(999)
}

func TestSchedulerSyncAddsAndRemovesJobs(t *testing.T) {
	s, store, rec, _ := newTestScheduler(t)
	ctx := context.Background()

	require.NoError(t, s.Start(ctx))
	defer s.Stop()
	assert.Empty(t, s.TenantIDs())

	// A tenant connects between sweeps.
	tn := connectedTenant(t, store, "a@acme.com")
	require.NoError(t, s.Sync(ctx))
	assert.Equal(t, []int64{tn.ID}, s.TenantIDs())
	rec.waitFor(t, tn.ID, 1)

	// The tenant disconnects; the next sweep drops the job.
	require.NoError(t, store.ClearTenantCredentials(ctx, tn.ID))
	require.NoError(t, s.Sync(ctx))
	assert.Empty(t, s.TenantIDs())
}

func TestSchedulerStopIsIdempotent(t *testing.T) {
	s, store, _, _ := newTestScheduler(t)
	ctx := context.Background()

	connectedTenant(t, store, "a@acme.com")
	require.NoError(t, s.Start(ctx))

	s.Stop()
	s.Stop()
	assert.Empty(t, s.TenantIDs())

	// Restart works after a stop.
	require.NoError(t, s.Start(ctx))
	s.Stop()
}

func TestSchedulerTickErrorsAreIsolated(t *testing.T) {
	store, err := storage.NewStore(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	rec := newTickRecorder()
	failing := func(ctx context.Context, tenantID int64) error {
		_ = rec.tick(ctx, tenantID)
		return assert.AnError
	}

	s := New(store, config.SchedulerConfig{
		DefaultPollInterval: 10 * time.Minute,
		SweepInterval:       30 * time.Minute,
	}, failing, zerolog.Nop())
	clock := &manualClock{}
	s.newTicker = clock.factory

	tn := connectedTenant(t, store, "a@acme.com")
	require.NoError(t, s.Start(context.Background()))
	defer s.Stop()

	// The job keeps ticking despite the errors.
	rec.waitFor(t, tn.ID, 1)
	clock.fireAll()
	rec.waitFor(t, tn.ID, 2)
}
