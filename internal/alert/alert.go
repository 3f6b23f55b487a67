// Package alert delivers operator alerts (max retries exceeded, high
// priority task failures, engine errors) through a pluggable transport.
//
// Delivery is fire-and-forget: a bounded queue feeds one worker that sends
// under a rate limit. Enqueue never blocks and failures never propagate to
// the task commit path.
package alert

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"taskd/internal/task"
	logx "taskd/pkg/logx"
)

// Alerter is the engine-facing contract.
type Alerter interface {
	MaxRetriesExceeded(t *task.Task)
	TaskFailure(t *task.Task, errorMessage string)
	Error(title, message, details string)
}

// Nop drops every alert. Useful when alerting is disabled and in tests.
type Nop struct{}

func (Nop) MaxRetriesExceeded(*task.Task)  {}
func (Nop) TaskFailure(*task.Task, string) {}
func (Nop) Error(string, string, string)   {}

// Field is one key/value pair in a message attachment.
type Field struct {
	Title string `json:"title"`
	Value string `json:"value"`
	Short bool   `json:"short"`
}

// Message is the transport-independent alert shape; transports render it.
type Message struct {
	Text      string
	Color     string // "danger" | "warning"
	Title     string
	TitleLink string
	Fields    []Field
	Footer    string
	Timestamp time.Time
}

// Transport sends one rendered message.
type Transport interface {
	Send(ctx context.Context, m Message) error
}

type Config struct {
	Enabled          bool
	Channel          string
	DashboardBaseURL string
	RatePerSec       int
	QueueSize        int
}

// Service queues and sends alerts.
type Service struct {
	mu        sync.Mutex
	cfg       Config
	transport Transport
	limiter   *rate.Limiter
	log       logx.Logger

	queue    chan Message
	stopOnce sync.Once
	stopCh   chan struct{}
	doneCh   chan struct{}

	dropped uint64
}

func New(cfg Config, transport Transport, log logx.Logger) *Service {
	if cfg.RatePerSec <= 0 {
		cfg.RatePerSec = 1
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 64
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Service{
		cfg:       cfg,
		transport: transport,
		limiter:   rate.NewLimiter(rate.Limit(cfg.RatePerSec), cfg.RatePerSec),
		log:       log.With(logx.String("comp", "alert")),
		queue:     make(chan Message, cfg.QueueSize),
		stopCh:    make(chan struct{}),
		doneCh:    make(chan struct{}),
	}
}

// Start launches the delivery worker. It returns immediately.
func (s *Service) Start(ctx context.Context) {
	go func() {
		defer close(s.doneCh)
		for {
			select {
			case <-ctx.Done():
				return
			case <-s.stopCh:
				return
			case m := <-s.queue:
				if err := s.limiter.Wait(ctx); err != nil {
					return
				}
				s.send(ctx, m)
			}
		}
	}()
}

func (s *Service) Stop() {
	s.stopOnce.Do(func() { close(s.stopCh) })
	select {
	case <-s.doneCh:
	case <-time.After(2 * time.Second):
	}
}

func (s *Service) send(ctx context.Context, m Message) {
	if s.transport == nil {
		return
	}
	sctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := s.transport.Send(sctx, m); err != nil {
		s.log.Error("alert delivery failed", logx.Err(err), logx.String("title", m.Title))
	}
}

// enqueue never blocks; alerts are droppable by contract.
func (s *Service) enqueue(m Message) {
	if !s.cfg.Enabled || s.transport == nil {
		return
	}
	if m.Timestamp.IsZero() {
		m.Timestamp = time.Now()
	}
	select {
	case s.queue <- m:
	default:
		s.mu.Lock()
		s.dropped++
		n := s.dropped
		s.mu.Unlock()
		s.log.Warn("alert dropped: queue full", logx.String("title", m.Title), logx.Uint64("dropped", n))
	}
}

func (s *Service) taskLink(t *task.Task) string {
	if s.cfg.DashboardBaseURL == "" {
		return ""
	}
	return s.cfg.DashboardBaseURL + "/tasks/" + t.ID.String()
}

// MaxRetriesExceeded is always emitted when a task exhausts its retries.
func (s *Service) MaxRetriesExceeded(t *task.Task) {
	lastError := t.LastError
	if lastError == "" {
		lastError = "Unknown error"
	}
	s.enqueue(Message{
		Text:      ":rotating_light: *Task Max Retries Exceeded - Manual Intervention Required*",
		Color:     "danger",
		Title:     t.Type.DisplayName() + " - " + t.ReferenceID,
		TitleLink: s.taskLink(t),
		Fields: []Field{
			{Title: "Task ID", Value: t.ID.String(), Short: true},
			{Title: "Task Type", Value: t.Type.DisplayName(), Short: true},
			{Title: "Reference ID", Value: t.ReferenceID, Short: true},
			{Title: "Retry Count", Value: strconv.Itoa(t.RetryCount), Short: true},
			{Title: "Created At", Value: t.CreatedAt.Format("2006-01-02 15:04:05 MST"), Short: true},
			{Title: "Last Error", Value: "```" + truncate(lastError, 400) + "```", Short: false},
		},
		Footer: "taskd | Please investigate and manually retry or cancel",
	})
}

// TaskFailure is emitted on permanent (dead-letter) failures of tasks with
// priority HIGH or above.
func (s *Service) TaskFailure(t *task.Task, errorMessage string) {
	if t.Priority < task.PriorityHigh {
		return
	}
	s.enqueue(Message{
		Text:      ":rotating_light: *Critical Task Failed*",
		Color:     "danger",
		Title:     "Task: " + t.Type.DisplayName(),
		TitleLink: s.taskLink(t),
		Fields: []Field{
			{Title: "Task ID", Value: t.ID.String(), Short: true},
			{Title: "Reference", Value: t.ReferenceID, Short: true},
			{Title: "Error", Value: truncate(errorMessage, 300), Short: false},
		},
		Footer: "taskd",
	})
}

// Error reports an engine-internal problem.
func (s *Service) Error(title, message, details string) {
	fields := []Field{}
	if details != "" {
		fields = append(fields, Field{Title: "Details", Value: truncate(details, 500)})
	}
	s.enqueue(Message{
		Text:   fmt.Sprintf(":warning: *%s*", title),
		Color:  "warning",
		Title:  message,
		Fields: fields,
		Footer: "taskd",
	})
}

func truncate(text string, maxLength int) string {
	if len(text) <= maxLength {
		return text
	}
	if maxLength < 4 {
		return text[:maxLength]
	}
	return text[:maxLength-3] + "..."
}
