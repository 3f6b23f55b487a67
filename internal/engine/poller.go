package engine

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"taskd/internal/eventbus"
	"taskd/internal/task"
	logx "taskd/pkg/logx"
)

// PollOnce runs one polling cycle: acquire the cluster mutex, fetch a batch
// of ready tasks, dispatch them to the executor pool, and wait for the batch
// bounded by the lock duration.
//
// The cluster singleton reduces fleet-wide load; even without it the
// skip-locked fetch keeps batches disjoint.
func (s *Service) PollOnce(ctx context.Context) {
	s.pollBusy.Lock()
	if s.polling {
		s.pollBusy.Unlock()
		s.log.Debug("previous polling cycle still running, skipping")
		return
	}
	s.polling = true
	s.pollBusy.Unlock()
	defer func() {
		s.pollBusy.Lock()
		s.polling = false
		s.pollBusy.Unlock()
	}()

	cfg := s.Config()
	now := time.Now().UTC()

	// Lease must outlive the longest expected tick (we wait on the batch up
	// to the lock duration below).
	lease := cfg.LockDuration + time.Minute
	if lease < 5*time.Minute {
		lease = 5 * time.Minute
	}
	held, err := s.st.AcquireMutex(ctx, mutexPolling, s.instance, lease)
	if err != nil {
		s.log.Error("poll mutex acquire failed", logx.Err(err))
		return
	}
	if !held {
		s.log.Debug("poll mutex held elsewhere, skipping cycle")
		return
	}
	defer func() {
		if err := s.st.ReleaseMutex(context.WithoutCancel(ctx), mutexPolling, s.instance); err != nil {
			s.log.Warn("poll mutex release failed", logx.Err(err))
		}
	}()

	tasks, err := s.st.FetchDue(ctx, now, cfg.BatchSize)
	if err != nil {
		s.log.Error("fetching due tasks failed", logx.Err(err))
		return
	}
	if len(tasks) == 0 {
		s.log.Debug("no tasks ready for execution")
		return
	}

	s.log.Info("dispatching batch", logx.Int("tasks", len(tasks)))
	if s.bus != nil {
		s.bus.Publish(eventbus.Event{Type: eventbus.TypeBatchFetched, Time: now, Data: len(tasks)})
	}

	// Dispatch preserves fetch order (priority desc, scheduled asc): each
	// task starts in order as a permit frees up, but may finish in any order.
	var wg sync.WaitGroup
	for _, t := range tasks {
		if !s.acquirePermit(ctx) {
			break
		}
		wg.Add(1)
		s.inFlight.Add(1)
		go func(t *task.Task) {
			defer wg.Done()
			defer s.inFlight.Done()
			defer s.releasePermit()
			s.processTask(s.execContext(), t)
		}(t)
	}

	// Await batch completion bounded by the lock duration, then release the
	// mutex so the next cycle (possibly on another replica) can proceed.
	batchDone := make(chan struct{})
	go func() {
		wg.Wait()
		close(batchDone)
	}()
	select {
	case <-batchDone:
	case <-time.After(cfg.LockDuration):
		s.log.Warn("batch did not finish within lock duration", logx.Int("tasks", len(tasks)))
	case <-ctx.Done():
	}
}

func (s *Service) execContext() context.Context {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.execCtx != nil {
		return s.execCtx
	}
	return context.Background()
}

// ProcessTaskByID runs one task immediately, outside the polling cycle
// (manual retry-now). It still goes through the full lock pipeline, so a
// concurrent poller cannot double-run it.
func (s *Service) ProcessTaskByID(ctx context.Context, id uuid.UUID) error {
	t, err := s.st.GetTask(ctx, id)
	if err != nil {
		return err
	}
	if !s.acquirePermit(ctx) {
		return context.Canceled
	}
	s.inFlight.Add(1)
	defer s.inFlight.Done()
	defer s.releasePermit()
	s.processTask(ctx, t)
	return nil
}
