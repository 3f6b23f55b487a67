// Package engine is the scheduling and execution core: the poller that
// claims ready work, the per-task executor pipeline, and the stale-lock
// reaper. All cross-replica coordination goes through the store; replicas
// never talk to each other.
package engine

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"taskd/internal/alert"
	"taskd/internal/eventbus"
	"taskd/internal/handler"
	"taskd/internal/store"
	logx "taskd/pkg/logx"

	rtsup "taskd/internal/runtime/supervisor"
)

// Cluster mutex names. The singleton is a convenience (it reduces load);
// correctness comes from the store's skip-lock and conditional updates.
const (
	mutexPolling = "taskPollingJob"
	mutexStale   = "staleTaskCleanup"
)

type Config struct {
	Enabled bool

	PollInterval     time.Duration
	BatchSize        int
	ExecutorPoolSize int

	DefaultMaxRetries      int
	DefaultRetryDelayHours int

	LockDuration       time.Duration
	StaleTaskThreshold time.Duration
	StaleCheckInterval time.Duration

	ShutdownGrace time.Duration
}

func (c Config) withDefaults() Config {
	if c.PollInterval <= 0 {
		c.PollInterval = 30 * time.Second
	}
	if c.PollInterval < time.Second {
		c.PollInterval = time.Second
	}
	if c.BatchSize <= 0 {
		c.BatchSize = 100
	}
	if c.ExecutorPoolSize <= 0 {
		c.ExecutorPoolSize = 20
	}
	if c.DefaultMaxRetries < 0 {
		c.DefaultMaxRetries = 0
	}
	if c.DefaultRetryDelayHours <= 0 {
		c.DefaultRetryDelayHours = 24
	}
	if c.LockDuration <= 0 {
		c.LockDuration = 30 * time.Minute
	}
	if c.StaleTaskThreshold <= 0 {
		c.StaleTaskThreshold = 60 * time.Minute
	}
	if c.StaleCheckInterval <= 0 {
		c.StaleCheckInterval = 5 * time.Minute
	}
	if c.ShutdownGrace <= 0 {
		c.ShutdownGrace = 30 * time.Second
	}
	return c
}

// Service drives the poll/execute/reap cycle for one replica.
type Service struct {
	mu  sync.Mutex
	cfg Config

	st       store.Store
	registry *handler.Registry
	alerts   alert.Alerter
	bus      eventbus.Bus
	log      logx.Logger

	instance string

	// permits bounds concurrent executions (executor_pool_size).
	permits chan struct{}

	// pollBusy is the local single-flight guard: a tick is skipped while the
	// previous one is still running.
	pollBusy sync.Mutex
	polling  bool

	inFlight sync.WaitGroup

	sup        *rtsup.Supervisor
	execCtx    context.Context
	execCancel context.CancelFunc
	stopCh     chan struct{}
	stopped    bool
}

func New(cfg Config, st store.Store, registry *handler.Registry, alerts alert.Alerter, bus eventbus.Bus, log logx.Logger) *Service {
	cfg = cfg.withDefaults()
	if log.IsZero() {
		log = logx.Nop()
	}
	if alerts == nil {
		alerts = alert.Nop{}
	}
	return &Service{
		cfg:      cfg,
		st:       st,
		registry: registry,
		alerts:   alerts,
		bus:      bus,
		log:      log.With(logx.String("comp", "engine")),
		instance: instanceID(),
	}
}

// instanceID is fixed for the replica lifetime and identifies lock owners.
func instanceID() string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "unknown"
	}
	return fmt.Sprintf("%s:%d", host, os.Getpid())
}

func (s *Service) Instance() string { return s.instance }

func (s *Service) Config() Config {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg
}

// Start launches the poll and reap loops. Idempotent while running.
func (s *Service) Start(ctx context.Context) {
	if ctx == nil {
		ctx = context.Background()
	}
	s.mu.Lock()
	if s.sup != nil || !s.cfg.Enabled {
		s.mu.Unlock()
		return
	}
	cfg := s.cfg
	s.permits = make(chan struct{}, cfg.ExecutorPoolSize)
	s.stopCh = make(chan struct{})
	s.stopped = false

	// Executions outlive the trigger context: shutdown stops new batches
	// first and cancels in-flight work only after the grace period.
	s.execCtx, s.execCancel = context.WithCancel(context.Background())

	s.sup = rtsup.New(ctx,
		rtsup.WithLogger(s.log),
		rtsup.WithCancelOnError(false),
	)
	sup := s.sup
	stopCh := s.stopCh
	s.mu.Unlock()

	sup.GoRestart("poller", func(c context.Context) error {
		s.pollLoop(c, stopCh, cfg.PollInterval)
		select {
		case <-stopCh:
			return context.Canceled
		default:
		}
		if c.Err() != nil {
			return c.Err()
		}
		return errors.New("poller exited unexpectedly")
	})

	sup.GoRestart("reaper", func(c context.Context) error {
		s.reapLoop(c, stopCh, cfg.StaleCheckInterval)
		select {
		case <-stopCh:
			return context.Canceled
		default:
		}
		if c.Err() != nil {
			return c.Err()
		}
		return errors.New("reaper exited unexpectedly")
	})

	s.log.Info("engine started",
		logx.String("instance", s.instance),
		logx.Duration("poll_interval", cfg.PollInterval),
		logx.Int("batch_size", cfg.BatchSize),
		logx.Int("executor_pool_size", cfg.ExecutorPoolSize),
	)
}

// Stop performs the graceful shutdown sequence: no new batches, wait for
// in-flight executions up to shutdown_grace, then cancel the rest. Tasks
// still running at that point stay locked and will be reaped.
func (s *Service) Stop(ctx context.Context) {
	if ctx == nil {
		ctx = context.Background()
	}
	s.mu.Lock()
	if s.sup == nil || s.stopped {
		s.mu.Unlock()
		return
	}
	s.stopped = true
	sup := s.sup
	stopCh := s.stopCh
	execCancel := s.execCancel
	grace := s.cfg.ShutdownGrace
	s.mu.Unlock()

	close(stopCh)
	sup.Cancel()

	done := make(chan struct{})
	go func() {
		s.inFlight.Wait()
		close(done)
	}()
	select {
	case <-done:
		s.log.Info("engine stopped: all executions finished")
	case <-time.After(grace):
		s.log.Warn("engine stop grace elapsed; abandoning in-flight tasks to the reaper")
	case <-ctx.Done():
		s.log.Warn("engine stop cancelled", logx.Any("err", ctx.Err()))
	}

	execCancel()
	_ = sup.Wait(ctx)

	s.mu.Lock()
	s.sup = nil
	s.stopCh = nil
	s.permits = nil
	s.mu.Unlock()
}

func (s *Service) pollLoop(ctx context.Context, stopCh <-chan struct{}, every time.Duration) {
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-stopCh:
			return
		case <-t.C:
			s.PollOnce(ctx)
		}
	}
}

func (s *Service) reapLoop(ctx context.Context, stopCh <-chan struct{}, every time.Duration) {
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-stopCh:
			return
		case <-t.C:
			s.ReapOnce(ctx)
		}
	}
}

// acquirePermit bounds concurrent executions. Returns false when the engine
// is shutting down.
func (s *Service) acquirePermit(ctx context.Context) bool {
	s.mu.Lock()
	permits := s.permits
	stopCh := s.stopCh
	s.mu.Unlock()
	if permits == nil {
		return false
	}
	select {
	case permits <- struct{}{}:
		return true
	case <-ctx.Done():
		return false
	case <-stopCh:
		return false
	}
}

func (s *Service) releasePermit() {
	s.mu.Lock()
	permits := s.permits
	s.mu.Unlock()
	if permits == nil {
		return
	}
	select {
	case <-permits:
	default:
	}
}
