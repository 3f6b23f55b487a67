// Package manage implements the operator-facing task lifecycle operations:
// creation with duplicate prevention, state commands, search, statistics and
// the retention sweep. The engine owns execution; this package only touches
// non-locked rows through version-guarded updates.
package manage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"

	"taskd/internal/engine"
	"taskd/internal/store"
	"taskd/internal/task"
	logx "taskd/pkg/logx"
)

var (
	// ErrInvalidState: the command's precondition failed (terminal task,
	// wrong source status).
	ErrInvalidState = errors.New("task state does not allow this operation")

	// ErrLocked: the task is being processed right now; operator commands
	// are advisory while locked.
	ErrLocked = errors.New("task is currently being processed")

	// ErrDuplicate: strict duplicate prevention rejected the create.
	ErrDuplicate = errors.New("active task already exists for reference")

	// ErrValidation: the request itself is malformed.
	ErrValidation = errors.New("invalid task request")
)

type Config struct {
	// StrictDuplicates makes duplicate creation an error instead of
	// idempotently returning the existing task.
	StrictDuplicates bool

	RetentionDays     int
	RetentionSchedule string
}

type Service struct {
	cfg Config
	st  store.Store
	eng *engine.Service
	log logx.Logger

	cron *cron.Cron
}

func New(cfg Config, st store.Store, eng *engine.Service, log logx.Logger) *Service {
	if cfg.RetentionDays <= 0 {
		cfg.RetentionDays = 30
	}
	if cfg.RetentionSchedule == "" {
		cfg.RetentionSchedule = "0 4 * * *"
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Service{cfg: cfg, st: st, eng: eng, log: log.With(logx.String("comp", "manage"))}
}

// ---- creation ----

type CreateRequest struct {
	Type                 task.Type
	Priority             task.Priority
	ReferenceID          string
	SecondaryReferenceID string
	Description          string
	Payload              task.Document
	Metadata             task.Document
	ScheduledTime        *time.Time
	ExpiresAt            *time.Time
	MaxRetries           *int
	RetryDelayHours      *int
	CronExpression       string
	CreatedBy            string
	PreventDuplicates    bool
}

func (r CreateRequest) validate() error {
	if r.ReferenceID == "" {
		return fmt.Errorf("%w: referenceId is required", ErrValidation)
	}
	if r.Type == "" {
		return fmt.Errorf("%w: taskType is required", ErrValidation)
	}
	if r.CronExpression != "" {
		if _, err := cron.ParseStandard(r.CronExpression); err != nil {
			return fmt.Errorf("%w: bad cron expression: %v", ErrValidation, err)
		}
	}
	return nil
}

// Create inserts a new task. With PreventDuplicates, an existing active
// (non-terminal) task for the same (reference, type) is returned as-is —
// idempotent success — unless strict mode turns it into ErrDuplicate.
func (s *Service) Create(ctx context.Context, req CreateRequest) (*task.Task, error) {
	if err := req.validate(); err != nil {
		return nil, err
	}

	if req.PreventDuplicates {
		existing, err := s.st.FindActiveByReference(ctx, req.ReferenceID, req.Type)
		if err == nil {
			if s.cfg.StrictDuplicates {
				return nil, fmt.Errorf("%w: %s/%s", ErrDuplicate, req.ReferenceID, req.Type)
			}
			s.log.Warn("active task already exists for reference; returning it",
				logx.String("reference", req.ReferenceID),
				logx.String("type", string(req.Type)),
				logx.String("task_id", existing.ID.String()),
			)
			return existing, nil
		}
		if !errors.Is(err, store.ErrNotFound) {
			return nil, err
		}
	}

	now := time.Now().UTC()
	status := task.StatusPending
	scheduled := now
	if req.ScheduledTime != nil {
		scheduled = req.ScheduledTime.UTC()
		if scheduled.After(now) {
			status = task.StatusScheduled
		}
	}

	t := &task.Task{
		Type:                 req.Type,
		Status:               status,
		Priority:             req.Priority,
		ReferenceID:          req.ReferenceID,
		SecondaryReferenceID: req.SecondaryReferenceID,
		Description:          req.Description,
		Payload:              req.Payload,
		Metadata:             req.Metadata,
		ScheduledTime:        scheduled,
		ExpiresAt:            req.ExpiresAt,
		MaxRetries:           req.MaxRetries,
		RetryDelayHours:      req.RetryDelayHours,
		CronExpression:       req.CronExpression,
		CreatedBy:            req.CreatedBy,
	}
	if err := s.st.CreateTask(ctx, t); err != nil {
		return nil, err
	}
	s.log.Info("task created",
		logx.String("task_id", t.ID.String()),
		logx.String("type", string(t.Type)),
		logx.String("reference", t.ReferenceID),
	)
	return t, nil
}

// BatchResult pairs one create request's outcome for bulk creation.
type BatchResult struct {
	Task *task.Task
	Err  error
}

// CreateBatch creates tasks independently; one failure does not abort the
// rest.
func (s *Service) CreateBatch(ctx context.Context, reqs []CreateRequest) []BatchResult {
	out := make([]BatchResult, 0, len(reqs))
	for _, req := range reqs {
		t, err := s.Create(ctx, req)
		if err != nil {
			s.log.Warn("batch create item failed",
				logx.String("reference", req.ReferenceID), logx.Err(err))
		}
		out = append(out, BatchResult{Task: t, Err: err})
	}
	return out
}

// ---- reads ----

func (s *Service) Get(ctx context.Context, id uuid.UUID) (*task.Task, error) {
	return s.st.GetTask(ctx, id)
}

func (s *Service) GetWithLogs(ctx context.Context, id uuid.UUID) (*task.Task, []*task.ExecutionLog, error) {
	t, err := s.st.GetTask(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	logs, err := s.st.ListLogs(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	return t, logs, nil
}

func (s *Service) ByReference(ctx context.Context, referenceID string) ([]*task.Task, error) {
	return s.st.TasksByReference(ctx, referenceID)
}

func (s *Service) Search(ctx context.Context, f store.SearchFilter) ([]*task.Task, error) {
	return s.st.SearchTasks(ctx, f)
}

func (s *Service) Statistics(ctx context.Context) (store.Stats, error) {
	return s.st.Statistics(ctx)
}

// ---- state commands ----

// Cancel refuses terminal and locked tasks; otherwise the task becomes
// CANCELLED with the reason recorded in last_error.
func (s *Service) Cancel(ctx context.Context, id uuid.UUID, reason string) (*task.Task, error) {
	t, err := s.st.GetTask(ctx, id)
	if err != nil {
		return nil, err
	}
	now := time.Now().UTC()
	if t.Status.Terminal() {
		return nil, fmt.Errorf("%w: cannot cancel %s task", ErrInvalidState, t.Status)
	}
	if t.Locked(now) {
		return nil, ErrLocked
	}
	if reason == "" {
		reason = "Manual cancellation"
	}

	t.Status = task.StatusCancelled
	t.CompletedAt = &now
	t.LastError = "Cancelled: " + reason
	if err := s.st.UpdateUnlocked(ctx, t, now); err != nil {
		return nil, err
	}
	s.log.Info("task cancelled", logx.String("task_id", id.String()), logx.String("reason", reason))
	return t, nil
}

func (s *Service) Pause(ctx context.Context, id uuid.UUID) (*task.Task, error) {
	t, err := s.st.GetTask(ctx, id)
	if err != nil {
		return nil, err
	}
	now := time.Now().UTC()
	if t.Status.Terminal() {
		return nil, fmt.Errorf("%w: cannot pause %s task", ErrInvalidState, t.Status)
	}
	if t.Locked(now) {
		return nil, ErrLocked
	}

	t.Status = task.StatusPaused
	if err := s.st.UpdateUnlocked(ctx, t, now); err != nil {
		return nil, err
	}
	s.log.Info("task paused", logx.String("task_id", id.String()))
	return t, nil
}

// Resume moves a PAUSED task back to PENDING, scheduled immediately.
func (s *Service) Resume(ctx context.Context, id uuid.UUID) (*task.Task, error) {
	t, err := s.st.GetTask(ctx, id)
	if err != nil {
		return nil, err
	}
	if t.Status != task.StatusPaused {
		return nil, fmt.Errorf("%w: can only resume paused tasks, status is %s", ErrInvalidState, t.Status)
	}
	now := time.Now().UTC()

	t.Status = task.StatusPending
	t.ScheduledTime = now
	if err := s.st.UpdateUnlocked(ctx, t, now); err != nil {
		return nil, err
	}
	s.log.Info("task resumed", logx.String("task_id", id.String()))
	return t, nil
}

// Retry re-queues a failed or paused task as RETRY_PENDING at the given
// time (now when nil), clearing any stale lock fields.
func (s *Service) Retry(ctx context.Context, id uuid.UUID, at *time.Time) (*task.Task, error) {
	t, err := s.st.GetTask(ctx, id)
	if err != nil {
		return nil, err
	}
	if !t.Status.Failure() && t.Status != task.StatusPaused {
		return nil, fmt.Errorf("%w: can only retry failed or paused tasks, status is %s", ErrInvalidState, t.Status)
	}
	now := time.Now().UTC()

	t.Status = task.StatusRetryPending
	if at != nil {
		t.ScheduledTime = at.UTC()
	} else {
		t.ScheduledTime = now
	}
	t.LockedBy = ""
	t.LockedUntil = nil
	if err := s.st.UpdateUnlocked(ctx, t, now); err != nil {
		return nil, err
	}
	s.log.Info("task retry scheduled",
		logx.String("task_id", id.String()), logx.Time("at", t.ScheduledTime))
	return t, nil
}

// RetryNow re-queues the task as PENDING and triggers one immediate
// dispatch cycle for it, bypassing the next poll tick.
func (s *Service) RetryNow(ctx context.Context, id uuid.UUID) (*task.Task, error) {
	t, err := s.st.GetTask(ctx, id)
	if err != nil {
		return nil, err
	}
	if !t.Status.Failure() && t.Status != task.StatusPaused {
		return nil, fmt.Errorf("%w: can only retry failed or paused tasks, status is %s", ErrInvalidState, t.Status)
	}
	now := time.Now().UTC()

	t.Status = task.StatusPending
	t.ScheduledTime = now
	t.LockedBy = ""
	t.LockedUntil = nil
	if err := s.st.UpdateUnlocked(ctx, t, now); err != nil {
		return nil, err
	}

	if s.eng != nil {
		go func() {
			dctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
			defer cancel()
			if err := s.eng.ProcessTaskByID(dctx, id); err != nil {
				s.log.Warn("immediate dispatch failed", logx.String("task_id", id.String()), logx.Err(err))
			}
		}()
	}
	return t, nil
}

// ---- retention ----

// Cleanup deletes terminal tasks (and their logs) older than the retention
// horizon.
func (s *Service) Cleanup(ctx context.Context) (int64, int64, error) {
	cutoff := time.Now().UTC().AddDate(0, 0, -s.cfg.RetentionDays)
	tasks, logs, err := s.st.DeleteTerminalBefore(ctx, cutoff)
	if err != nil {
		return 0, 0, err
	}
	s.log.Info("retention sweep finished",
		logx.Int64("tasks_deleted", tasks),
		logx.Int64("logs_deleted", logs),
		logx.Int("retention_days", s.cfg.RetentionDays),
	)
	return tasks, logs, nil
}

// StartRetention schedules the periodic sweep.
func (s *Service) StartRetention(ctx context.Context) error {
	c := cron.New()
	_, err := c.AddFunc(s.cfg.RetentionSchedule, func() {
		sctx, cancel := context.WithTimeout(ctx, 10*time.Minute)
		defer cancel()
		if _, _, err := s.Cleanup(sctx); err != nil {
			s.log.Error("retention sweep failed", logx.Err(err))
		}
	})
	if err != nil {
		return fmt.Errorf("retention schedule: %w", err)
	}
	c.Start()
	s.cron = c
	return nil
}

func (s *Service) StopRetention() {
	if s.cron != nil {
		<-s.cron.Stop().Done()
		s.cron = nil
	}
}
