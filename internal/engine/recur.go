package engine

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"

	"taskd/internal/eventbus"
	"taskd/internal/task"
	logx "taskd/pkg/logx"
)

// rescheduleRecurring writes a successor row for a completed recurring task.
//
// The completed row stays COMPLETED so each occurrence keeps its own attempt
// history; the successor starts a fresh retry budget at the next cron
// occurrence. An unparseable expression logs a warning and does not
// reschedule.
func (s *Service) rescheduleRecurring(ctx context.Context, t *task.Task, after time.Time, log logx.Logger) {
	if t.CronExpression == "" {
		return
	}

	sched, err := cron.ParseStandard(t.CronExpression)
	if err != nil {
		log.Warn("recurring task has invalid cron expression; not rescheduled",
			logx.String("cron", t.CronExpression), logx.Err(err))
		return
	}
	next := sched.Next(after)
	if next.IsZero() {
		log.Warn("cron expression yields no next occurrence", logx.String("cron", t.CronExpression))
		return
	}

	succ := &task.Task{
		Type:                 t.Type,
		Status:               task.StatusScheduled,
		Priority:             t.Priority,
		ReferenceID:          t.ReferenceID,
		SecondaryReferenceID: t.SecondaryReferenceID,
		Description:          t.Description,
		Payload:              t.Payload,
		Metadata:             t.Metadata,
		ScheduledTime:        next,
		MaxRetries:           t.MaxRetries,
		RetryDelayHours:      t.RetryDelayHours,
		CronExpression:       t.CronExpression,
		CreatedBy:            t.CreatedBy,
	}
	if err := s.st.CreateTask(ctx, succ); err != nil {
		log.Error("rescheduling recurring task failed", logx.Err(err))
		return
	}

	log.Info("recurring task rescheduled",
		logx.String("successor_id", succ.ID.String()),
		logx.Time("next", next),
	)
	s.publish(eventbus.TypeTaskRescheduled, succ, 0, 0, "")
}
