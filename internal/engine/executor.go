package engine

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"time"

	"taskd/internal/eventbus"
	"taskd/internal/handler"
	"taskd/internal/store"
	"taskd/internal/task"
	logx "taskd/pkg/logx"
)

// processTask runs the per-task pipeline:
//
//  1. conditional lock acquire (lost race = silent abort)
//  2. reload under the lock
//  3. expiry check
//  4. executability check
//  5. open the attempt log
//  6. validate
//  7. invoke the handler
//  8. classify the result and commit log + task row together
//
// Every branch that opened an attempt log converges on a single
// FinishAttempt commit; if that commit fails the lock simply expires and the
// reaper recovers the task. The expiry and not-executable branches run
// before the log is opened and persist the row with UpdateLocked.
func (s *Service) processTask(ctx context.Context, t *task.Task) {
	cfg := s.Config()
	now := time.Now().UTC()
	log := s.log.With(
		logx.String("task_id", t.ID.String()),
		logx.String("type", string(t.Type)),
		logx.String("reference", t.ReferenceID),
	)

	locked, err := s.st.AcquireLock(ctx, t.ID, s.instance, now.Add(cfg.LockDuration), now, t.Version)
	if err != nil {
		log.Error("lock acquire failed", logx.Err(err))
		return
	}
	if !locked {
		// Lost the race to another replica or an operator write. Not an error.
		log.Debug("lock not acquired, skipping")
		return
	}

	fresh, err := s.st.GetTask(ctx, t.ID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			log.Warn("task vanished after lock acquire")
			return
		}
		log.Error("reload under lock failed", logx.Err(err))
		return
	}

	if fresh.Expired(now) {
		s.expireTask(ctx, fresh, now, log)
		return
	}

	if !fresh.Status.Executable() && fresh.Status != task.StatusProcessing {
		// Status changed between fetch and lock (e.g. operator action raced
		// the version check). Release the lock and walk away.
		log.Warn("task no longer executable", logx.String("status", string(fresh.Status)))
		fresh.LockedBy = ""
		fresh.LockedUntil = nil
		if err := s.st.UpdateLocked(ctx, s.instance, fresh); err != nil {
			log.Warn("unlock of non-executable task failed", logx.Err(err))
		}
		return
	}

	attempt := fresh.RetryCount + 1
	started := time.Now().UTC()
	lg := &task.ExecutionLog{
		TaskID:           fresh.ID,
		AttemptNumber:    attempt,
		Status:           task.StatusProcessing,
		ExecutorInstance: s.instance,
		StartedAt:        started,
		RequestPayload:   requestSnapshot(fresh, attempt),
	}
	if err := s.st.OpenLog(ctx, lg); err != nil {
		log.Error("opening execution log failed", logx.Err(err))
		return
	}

	log.Info("executing task", logx.Int("attempt", attempt))

	result := s.runHandler(ctx, fresh, log)

	finished := time.Now().UTC()
	duration := finished.Sub(started)
	durationMs := duration.Milliseconds()

	switch {
	case result.Success:
		s.commitSuccess(ctx, fresh, lg, result, finished, durationMs, log)
	case !result.Retryable:
		s.commitPermanentFailure(ctx, fresh, lg, result, finished, durationMs, log)
	case attempt >= fresh.EffectiveMaxRetries(cfg.DefaultMaxRetries):
		s.commitMaxRetriesExceeded(ctx, fresh, lg, result, finished, durationMs, log)
	default:
		s.commitRetry(ctx, fresh, lg, result, finished, durationMs, cfg, log)
	}
}

// runHandler validates and executes, converting panics into retryable
// failures so a bad handler cannot take the worker down.
func (s *Service) runHandler(ctx context.Context, t *task.Task, log logx.Logger) (result task.Result) {
	defer func() {
		if r := recover(); r != nil {
			log.Error("handler panicked", logx.Any("panic", r), logx.Stack(string(debug.Stack())))
			result = task.Result{
				Success:      false,
				ErrorMessage: fmt.Sprintf("panic: %v", r),
				ErrorType:    "PANIC",
				StackTrace:   task.TruncateStack(string(debug.Stack())),
				Retryable:    true,
			}
		}
	}()

	h, err := s.registry.Get(t.Type)
	if err != nil {
		// A missing handler is a deployment problem; keep the task retryable
		// so a fixed deployment picks it up.
		log.Error("no handler for task type", logx.Err(err))
		return task.Fail(err.Error(), "NO_HANDLER")
	}

	if err := h.Validate(t); err != nil {
		var ve *handler.ValidationError
		if errors.As(err, &ve) {
			log.Error("task validation failed", logx.String("reason", ve.Message))
			return task.PermanentFailure(ve.Message, "VALIDATION_ERROR")
		}
		return task.FailErr(err)
	}

	return h.Execute(ctx, t)
}

// expireTask transitions a task whose deadline passed before the handler
// ran. No attempt log, no alert.
func (s *Service) expireTask(ctx context.Context, t *task.Task, now time.Time, log logx.Logger) {
	log.Info("task expired before execution")
	t.Status = task.StatusExpired
	t.CompletedAt = &now
	t.LockedBy = ""
	t.LockedUntil = nil
	if err := s.st.UpdateLocked(ctx, s.instance, t); err != nil {
		log.Warn("persisting expiry failed", logx.Err(err))
		return
	}
	s.publish(eventbus.TypeTaskExpired, t, 0, 0, "")
}

func (s *Service) commitSuccess(ctx context.Context, t *task.Task, lg *task.ExecutionLog, result task.Result, finished time.Time, durationMs int64, log logx.Logger) {
	closeLog(lg, task.StatusCompleted, result, finished, durationMs, true)

	t.Status = task.StatusCompleted
	t.CompletedAt = &finished
	t.ExecutionDurationMs = &durationMs
	t.ExecutionResult = result.ResponseData
	t.LastError = ""
	t.LastErrorStackTrace = ""
	t.LockedBy = ""
	t.LockedUntil = nil

	if !s.commit(ctx, t, lg, log) {
		return
	}
	log.Info("task completed", logx.Int64("duration_ms", durationMs))
	s.publish(eventbus.TypeTaskCompleted, t, lg.AttemptNumber, time.Duration(durationMs)*time.Millisecond, "")

	s.rescheduleRecurring(ctx, t, finished, log)
}

func (s *Service) commitPermanentFailure(ctx context.Context, t *task.Task, lg *task.ExecutionLog, result task.Result, finished time.Time, durationMs int64, log logx.Logger) {
	closeLog(lg, task.StatusFailed, result, finished, durationMs, false)

	t.Status = task.StatusDeadLetter
	t.CompletedAt = &finished
	t.ExecutionDurationMs = &durationMs
	t.LastError = result.ErrorMessage
	t.LastErrorStackTrace = result.StackTrace
	t.LockedBy = ""
	t.LockedUntil = nil

	if !s.commit(ctx, t, lg, log) {
		return
	}
	log.Error("task failed permanently",
		logx.String("error_type", result.ErrorType),
		logx.String("error", result.ErrorMessage),
	)
	s.publish(eventbus.TypeTaskDeadLetter, t, lg.AttemptNumber, time.Duration(durationMs)*time.Millisecond, result.ErrorType)

	// Alert emission never affects the commit outcome.
	s.alerts.TaskFailure(t, result.ErrorMessage)
}

func (s *Service) commitMaxRetriesExceeded(ctx context.Context, t *task.Task, lg *task.ExecutionLog, result task.Result, finished time.Time, durationMs int64, log logx.Logger) {
	closeLog(lg, task.StatusFailed, result, finished, durationMs, false)

	t.Status = task.StatusMaxRetriesExceeded
	t.CompletedAt = &finished
	t.ExecutionDurationMs = &durationMs
	t.RetryCount = lg.AttemptNumber
	t.LastError = result.ErrorMessage
	t.LastErrorStackTrace = result.StackTrace
	t.LockedBy = ""
	t.LockedUntil = nil

	if !s.commit(ctx, t, lg, log) {
		return
	}
	log.Error("task exceeded max retries", logx.Int("retry_count", t.RetryCount))
	s.publish(eventbus.TypeTaskMaxRetries, t, lg.AttemptNumber, time.Duration(durationMs)*time.Millisecond, result.ErrorType)

	s.alerts.MaxRetriesExceeded(t)
}

func (s *Service) commitRetry(ctx context.Context, t *task.Task, lg *task.ExecutionLog, result task.Result, finished time.Time, durationMs int64, cfg Config, log logx.Logger) {
	closeLog(lg, task.StatusFailed, result, finished, durationMs, false)

	delay := result.CustomRetryDelay
	if delay <= 0 {
		delay = s.nextRetryDelay(t, cfg)
	}
	next := finished.Add(delay)

	t.Status = task.StatusRetryPending
	t.RetryCount = lg.AttemptNumber
	t.ScheduledTime = next
	t.ExecutionDurationMs = &durationMs
	t.LastError = result.ErrorMessage
	t.LastErrorStackTrace = result.StackTrace
	t.LockedBy = ""
	t.LockedUntil = nil

	if !s.commit(ctx, t, lg, log) {
		return
	}
	log.Warn("retry scheduled",
		logx.Int("retry_count", t.RetryCount),
		logx.Duration("delay", delay),
		logx.String("error_type", result.ErrorType),
	)
	s.publish(eventbus.TypeTaskRetry, t, lg.AttemptNumber, time.Duration(durationMs)*time.Millisecond, result.ErrorType)
}

func (s *Service) nextRetryDelay(t *task.Task, cfg Config) time.Duration {
	h, err := s.registry.Get(t.Type)
	if err != nil {
		return handler.DefaultRetryDelay(t, cfg.DefaultRetryDelayHours)
	}
	return h.NextRetryDelay(t, cfg.DefaultRetryDelayHours)
}

// commit writes the attempt log and the task row in one transaction. A lost
// lock means another actor owns the row now; the attempt is abandoned.
func (s *Service) commit(ctx context.Context, t *task.Task, lg *task.ExecutionLog, log logx.Logger) bool {
	if err := s.st.FinishAttempt(ctx, s.instance, t, lg); err != nil {
		if errors.Is(err, store.ErrLockLost) {
			log.Warn("lock lost before commit; attempt abandoned")
		} else {
			// The lock will expire and the reaper re-queues the task.
			log.Error("attempt commit failed", logx.Err(err))
		}
		return false
	}
	return true
}

func closeLog(lg *task.ExecutionLog, status task.Status, result task.Result, finished time.Time, durationMs int64, success bool) {
	lg.Status = status
	lg.CompletedAt = &finished
	lg.DurationMs = &durationMs
	lg.Success = success
	lg.ResponsePayload = result.ResponseData
	if result.HTTPStatusCode != 0 {
		code := result.HTTPStatusCode
		lg.HTTPStatusCode = &code
	}
	if !success {
		lg.ErrorMessage = result.ErrorMessage
		lg.ErrorStackTrace = task.TruncateStack(result.StackTrace)
		lg.ErrorType = result.ErrorType
	}
}

func requestSnapshot(t *task.Task, attempt int) task.Document {
	doc := task.Document{
		"taskId":        t.ID.String(),
		"taskType":      string(t.Type),
		"referenceId":   t.ReferenceID,
		"attemptNumber": attempt,
	}
	if t.SecondaryReferenceID != "" {
		doc["secondaryReferenceId"] = t.SecondaryReferenceID
	}
	if len(t.Payload) > 0 {
		doc["taskPayload"] = t.Payload
	}
	return doc
}

func (s *Service) publish(typ string, t *task.Task, attempt int, duration time.Duration, errorType string) {
	if s.bus == nil {
		return
	}
	s.bus.Publish(eventbus.Event{
		Type: typ,
		Data: task.Event{
			TaskID:      t.ID,
			Type:        t.Type,
			ReferenceID: t.ReferenceID,
			Status:      t.Status,
			Attempt:     attempt,
			Duration:    duration,
			ErrorType:   errorType,
		},
	})
}
