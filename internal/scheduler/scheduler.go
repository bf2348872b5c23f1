// Package scheduler runs the per-tenant mailbox polling loops. Each
// connected tenant gets its own job ticking at the tenant's interval;
// a slower sweep reconciles the job set against the tenant table so
// newly connected tenants start polling and disconnected ones stop.
package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/mailquote/mailquote/internal/config"
	"github.com/mailquote/mailquote/internal/storage"
)

// TickFunc performs one poll of one tenant's mailbox.
type TickFunc func(ctx context.Context, tenantID int64) error

// tickerFactory abstracts time.NewTicker so tests can drive ticks
// manually.
type tickerFactory func(d time.Duration) (<-chan time.Time, func())

func realTicker(d time.Duration) (<-chan time.Time, func()) {
	t := time.NewTicker(d)
	return t.C, t.Stop
}

type job struct {
	tenantID int64
	interval time.Duration
	stop     chan struct{}
	trigger  chan struct{}
}

// Scheduler owns the polling job registry.
type Scheduler struct {
	store  *storage.Store
	cfg    config.SchedulerConfig
	tick   TickFunc
	logger zerolog.Logger

	now       func() time.Time
	newTicker tickerFactory

	mu      sync.Mutex
	jobs    map[int64]*job
	stopCh  chan struct{}
	wg      sync.WaitGroup
	running bool
}

// New creates a scheduler that polls tenants with the given tick
// function.
func New(store *storage.Store, cfg config.SchedulerConfig, tick TickFunc, logger zerolog.Logger) *Scheduler {
	return &Scheduler{
		store:     store,
		cfg:       cfg,
		tick:      tick,
		logger:    logger.With().Str("component", "scheduler").Logger(),
		now:       time.Now,
		newTicker: realTicker,
		jobs:      make(map[int64]*job),
	}
}

// Start registers jobs for all pollable tenants and begins the sweep
// loop. Idempotent.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = true
	s.stopCh = make(chan struct{})
	s.mu.Unlock()

	if err := s.Sync(ctx); err != nil {
		return err
	}

	s.wg.Add(1)
	go s.sweepLoop()

	return nil
}

// Stop halts all jobs and the sweep loop, waiting for in-flight ticks
// to finish.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	close(s.stopCh)
	for id, j := range s.jobs {
		close(j.stop)
		delete(s.jobs, id)
	}
	s.mu.Unlock()

	s.wg.Wait()
}

// Sync reconciles the job registry against the tenant table: active
// tenants with credentials get a job, everyone else's job is removed.
func (s *Scheduler) Sync(ctx context.Context) error {
	tenants, err := s.store.ListActiveTenants(ctx)
	if err != nil {
		return err
	}

	wanted := make(map[int64]*storage.Tenant)
	for _, t := range tenants {
		if t.HasCredentials() {
			wanted[t.ID] = t
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		return nil
	}

	for id, j := range s.jobs {
		if _, ok := wanted[id]; !ok {
			close(j.stop)
			delete(s.jobs, id)
			s.logger.Info().Int64("tenant_id", id).Msg("Stopped polling tenant")
		}
	}

	for id, t := range wanted {
		if _, ok := s.jobs[id]; ok {
			continue
		}
		j := &job{
			tenantID: id,
			interval: s.intervalFor(t),
			stop:     make(chan struct{}),
			trigger:  make(chan struct{}, 1),
		}
		s.jobs[id] = j
		s.wg.Add(1)
		go s.runJob(j)
		s.logger.Info().
			Int64("tenant_id", id).
			Dur("interval", j.interval).
			Msg("Started polling tenant")
	}

	return nil
}

// Trigger requests an immediate poll of a tenant, on top of its
// regular schedule. No-op when the tenant has no job.
func (s *Scheduler) Trigger(tenantID int64) {
	s.mu.Lock()
	j, ok := s.jobs[tenantID]
	s.mu.Unlock()
	if !ok {
		return
	}
	select {
	case j.trigger <- struct{}{}:
	default:
	}
}

// TenantIDs returns the tenants currently being polled.
func (s *Scheduler) TenantIDs() []int64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	ids := make([]int64, 0, len(s.jobs))
	for id := range s.jobs {
		ids = append(ids, id)
	}
	return ids
}

func (s *Scheduler) intervalFor(t *storage.Tenant) time.Duration {
	if t.PollIntervalMins > 0 {
		return time.Duration(t.PollIntervalMins) * time.Minute
	}
	return s.cfg.DefaultPollInterval
}

// runJob is the polling loop for one tenant. Ticks within a job are
// strictly sequential, so a slow poll can never overlap the next one;
// it just delays it.
func (s *Scheduler) runJob(j *job) {
	defer s.wg.Done()

	tickC, stopTicker := s.newTicker(j.interval)
	defer stopTicker()

	s.tickTenant(j.tenantID)

	for {
		select {
		case <-s.stopCh:
			return
		case <-j.stop:
			return
		case <-tickC:
			s.tickTenant(j.tenantID)
		case <-j.trigger:
			s.tickTenant(j.tenantID)
		}
	}
}

// tickTenant runs one poll under the configured timeout. Errors are
// logged, never propagated: one tenant's failure must not affect the
// others or kill the loop.
func (s *Scheduler) tickTenant(tenantID int64) {
	ctx := context.Background()
	var cancel context.CancelFunc
	if s.cfg.TickTimeout > 0 {
		ctx, cancel = context.WithTimeout(ctx, s.cfg.TickTimeout)
		defer cancel()
	}

	if err := s.tick(ctx, tenantID); err != nil {
		s.logger.Error().Err(err).Int64("tenant_id", tenantID).Msg("Poll failed")
	}
}

// sweepLoop periodically re-syncs the job registry.
func (s *Scheduler) sweepLoop() {
	defer s.wg.Done()

	sweepC, stopTicker := s.newTicker(s.cfg.SweepInterval)
	defer stopTicker()

	for {
		select {
		case <-s.stopCh:
			return
		case <-sweepC:
			if err := s.Sync(context.Background()); err != nil {
				s.logger.Error().Err(err).Msg("Job sweep failed")
			}
		}
	}
}
