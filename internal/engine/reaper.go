package engine

import (
	"context"
	"time"

	"taskd/internal/eventbus"
	logx "taskd/pkg/logx"
)

// ReapOnce resets tasks whose lock expired without a commit (crashed
// replica, hung handler). The fetch predicate already ignores expired locks,
// so this exists to re-count the attempt as retryable and to leave an
// observable error message for operators.
//
// The reset is a bulk conditional update over a captured id list; a second
// reap at the same instant is a no-op because the status guard no longer
// matches.
func (s *Service) ReapOnce(ctx context.Context) {
	cfg := s.Config()
	now := time.Now().UTC()

	held, err := s.st.AcquireMutex(ctx, mutexStale, s.instance, 5*time.Minute)
	if err != nil {
		s.log.Error("reaper mutex acquire failed", logx.Err(err))
		return
	}
	if !held {
		return
	}
	defer func() {
		if err := s.st.ReleaseMutex(context.WithoutCancel(ctx), mutexStale, s.instance); err != nil {
			s.log.Warn("reaper mutex release failed", logx.Err(err))
		}
	}()

	threshold := now.Add(-cfg.StaleTaskThreshold)
	ids, err := s.st.FindStale(ctx, threshold)
	if err != nil {
		s.log.Error("finding stale tasks failed", logx.Err(err))
		return
	}
	if len(ids) == 0 {
		s.log.Debug("no stale tasks found")
		return
	}

	s.log.Warn("resetting stale tasks for retry", logx.Int("count", len(ids)))

	// Pick the abandoned work up on the next polling cycle, not immediately.
	nextRetry := now.Add(60 * time.Second)
	reset, err := s.st.ResetStale(ctx, ids, nextRetry, now)
	if err != nil {
		s.log.Error("stale task reset failed", logx.Err(err))
		return
	}
	s.log.Info("stale tasks reset", logx.Int64("reset", reset))

	if s.bus != nil && reset > 0 {
		s.bus.Publish(eventbus.Event{Type: eventbus.TypeStaleReset, Time: now, Data: int(reset)})
	}
}
