package engine

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"taskd/internal/eventbus"
	"taskd/internal/handler"
	"taskd/internal/store"
	"taskd/internal/store/storetest"
	"taskd/internal/task"
	logx "taskd/pkg/logx"
)

var _ store.Store = (*storetest.MemStore)(nil)

// stubHandler lets each test script the handler outcome.
type stubHandler struct {
	typ         task.Type
	validateErr error
	result      task.Result
	retryDelay  time.Duration
	panicWith   any

	mu    sync.Mutex
	calls int
}

func (h *stubHandler) TaskType() task.Type { return h.typ }

func (h *stubHandler) Validate(*task.Task) error { return h.validateErr }

func (h *stubHandler) Execute(context.Context, *task.Task) task.Result {
	h.mu.Lock()
	h.calls++
	h.mu.Unlock()
	if h.panicWith != nil {
		panic(h.panicWith)
	}
	return h.result
}

func (h *stubHandler) NextRetryDelay(*task.Task, int) time.Duration {
	if h.retryDelay > 0 {
		return h.retryDelay
	}
	return time.Hour
}

func (h *stubHandler) executions() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.calls
}

// stubAlerter records alert emissions.
type stubAlerter struct {
	mu          sync.Mutex
	maxRetries  []uuid.UUID
	taskFailure []uuid.UUID
}

func (a *stubAlerter) MaxRetriesExceeded(t *task.Task) {
	a.mu.Lock()
	a.maxRetries = append(a.maxRetries, t.ID)
	a.mu.Unlock()
}

func (a *stubAlerter) TaskFailure(t *task.Task, _ string) {
	a.mu.Lock()
	a.taskFailure = append(a.taskFailure, t.ID)
	a.mu.Unlock()
}

func (a *stubAlerter) Error(string, string, string) {}

func newTestService(t *testing.T, st *storetest.MemStore, h handler.Handler, alerts *stubAlerter) *Service {
	t.Helper()
	reg := handler.NewRegistry()
	if h != nil {
		reg.Register(h)
	}
	svc := New(Config{
		Enabled:                true,
		PollInterval:           time.Second,
		BatchSize:              100,
		ExecutorPoolSize:       4,
		DefaultMaxRetries:      5,
		DefaultRetryDelayHours: 24,
		LockDuration:           30 * time.Minute,
		StaleTaskThreshold:     time.Hour,
		ShutdownGrace:          time.Second,
	}, st, reg, alerts, eventbus.New(), logx.Nop())
	svc.permits = make(chan struct{}, 4)
	svc.stopCh = make(chan struct{})
	return svc
}

func seedTask(st *storetest.MemStore, mutate func(*task.Task)) *task.Task {
	now := time.Now().UTC()
	t := &task.Task{
		ID:            uuid.New(),
		Type:          task.TypeOrderCancel,
		Status:        task.StatusPending,
		Priority:      task.PriorityNormal,
		ReferenceID:   "ORD-1",
		ScheduledTime: now.Add(-time.Minute),
		CreatedAt:     now.Add(-time.Minute),
		UpdatedAt:     now.Add(-time.Minute),
	}
	if mutate != nil {
		mutate(t)
	}
	st.Seed(t)
	return t
}

func TestExecutorSuccess(t *testing.T) {
	t.Parallel()
	st := storetest.New()
	h := &stubHandler{
		typ:    task.TypeOrderCancel,
		result: task.Succeed(task.Document{"orderId": "ORD-1", "status": "CANCELLED"}),
	}
	svc := newTestService(t, st, h, &stubAlerter{})
	seeded := seedTask(st, nil)

	svc.processTask(context.Background(), seeded)

	got, err := st.GetTask(context.Background(), seeded.ID)
	if err != nil {
		t.Fatalf("GetTask: %v", err)
	}
	if got.Status != task.StatusCompleted {
		t.Fatalf("status = %s, want COMPLETED", got.Status)
	}
	if got.LockedBy != "" || got.LockedUntil != nil {
		t.Fatalf("lock not cleared: %q %v", got.LockedBy, got.LockedUntil)
	}
	if got.CompletedAt == nil || got.ExecutionDurationMs == nil {
		t.Fatal("completion audit fields not set")
	}
	if got.ExecutionResult["status"] != "CANCELLED" {
		t.Fatalf("execution result = %v", got.ExecutionResult)
	}
	if got.Version < 2 {
		t.Fatalf("version = %d, want >= 2 (lock + commit)", got.Version)
	}

	logs := st.Logs(seeded.ID)
	if len(logs) != 1 {
		t.Fatalf("logs = %d, want 1", len(logs))
	}
	lg := logs[0]
	if lg.AttemptNumber != 1 || !lg.Success || lg.Status != task.StatusCompleted {
		t.Fatalf("log = attempt %d success %v status %s", lg.AttemptNumber, lg.Success, lg.Status)
	}
	if lg.RequestPayload["referenceId"] != "ORD-1" {
		t.Fatalf("request snapshot missing reference: %v", lg.RequestPayload)
	}
}

func TestExecutorPermanentFailureDeadLetters(t *testing.T) {
	t.Parallel()
	st := storetest.New()
	h := &stubHandler{
		typ:    task.TypeOrderCancel,
		result: task.PermanentFailure("Order not found: ORD-1", "ORDER_NOT_FOUND"),
	}
	alerts := &stubAlerter{}
	svc := newTestService(t, st, h, alerts)
	seeded := seedTask(st, func(t *task.Task) { t.Priority = task.PriorityHigh })

	svc.processTask(context.Background(), seeded)

	got, _ := st.GetTask(context.Background(), seeded.ID)
	if got.Status != task.StatusDeadLetter {
		t.Fatalf("status = %s, want DEAD_LETTER", got.Status)
	}
	if got.LastError != "Order not found: ORD-1" {
		t.Fatalf("last error = %q", got.LastError)
	}
	if got.LockedBy != "" {
		t.Fatal("lock not cleared")
	}

	logs := st.Logs(seeded.ID)
	if len(logs) != 1 || logs[0].ErrorType != "ORDER_NOT_FOUND" || logs[0].Success {
		t.Fatalf("unexpected log: %+v", logs[0])
	}

	// High priority permanent failure emits a TaskFailure alert.
	if len(alerts.taskFailure) != 1 {
		t.Fatalf("task failure alerts = %d, want 1", len(alerts.taskFailure))
	}
	if len(alerts.maxRetries) != 0 {
		t.Fatal("unexpected max retries alert")
	}
}

func TestExecutorRetrySchedulesBackoff(t *testing.T) {
	t.Parallel()
	st := storetest.New()
	h := &stubHandler{
		typ:        task.TypeOrderCancel,
		result:     task.HTTPFailure(503, "order-service returned HTTP 503"),
		retryDelay: 90 * time.Minute,
	}
	svc := newTestService(t, st, h, &stubAlerter{})
	seeded := seedTask(st, nil)

	before := time.Now().UTC()
	svc.processTask(context.Background(), seeded)

	got, _ := st.GetTask(context.Background(), seeded.ID)
	if got.Status != task.StatusRetryPending {
		t.Fatalf("status = %s, want RETRY_PENDING", got.Status)
	}
	if got.RetryCount != 1 {
		t.Fatalf("retry count = %d, want 1", got.RetryCount)
	}
	lo := before.Add(89 * time.Minute)
	hi := time.Now().UTC().Add(91 * time.Minute)
	if got.ScheduledTime.Before(lo) || got.ScheduledTime.After(hi) {
		t.Fatalf("next retry %v not within [%v, %v]", got.ScheduledTime, lo, hi)
	}
	if got.LastError == "" {
		t.Fatal("last error not recorded")
	}

	logs := st.Logs(seeded.ID)
	if len(logs) != 1 || logs[0].ErrorType != "HTTP_503" {
		t.Fatalf("unexpected log: %+v", logs[0])
	}
	if logs[0].HTTPStatusCode == nil || *logs[0].HTTPStatusCode != 503 {
		t.Fatalf("http status = %v", logs[0].HTTPStatusCode)
	}
}

func TestExecutorCustomDelayWins(t *testing.T) {
	t.Parallel()
	st := storetest.New()
	h := &stubHandler{
		typ:        task.TypeOrderCancel,
		result:     task.Fail("throttled", "HTTP_429").WithCustomDelay(10 * time.Minute),
		retryDelay: 90 * time.Minute,
	}
	svc := newTestService(t, st, h, &stubAlerter{})
	seeded := seedTask(st, nil)

	before := time.Now().UTC()
	svc.processTask(context.Background(), seeded)

	got, _ := st.GetTask(context.Background(), seeded.ID)
	lo := before.Add(9 * time.Minute)
	hi := time.Now().UTC().Add(11 * time.Minute)
	if got.ScheduledTime.Before(lo) || got.ScheduledTime.After(hi) {
		t.Fatalf("custom delay ignored: next retry %v", got.ScheduledTime)
	}
}

func TestExecutorMaxRetriesExceeded(t *testing.T) {
	t.Parallel()
	st := storetest.New()
	h := &stubHandler{
		typ:    task.TypeOrderCancel,
		result: task.HTTPFailure(503, "still down"),
	}
	alerts := &stubAlerter{}
	svc := newTestService(t, st, h, alerts)

	maxRetries := 3
	seeded := seedTask(st, func(t *task.Task) {
		t.RetryCount = 2 // attempt 3 of 3
		t.MaxRetries = &maxRetries
		t.Status = task.StatusRetryPending
	})

	svc.processTask(context.Background(), seeded)

	got, _ := st.GetTask(context.Background(), seeded.ID)
	if got.Status != task.StatusMaxRetriesExceeded {
		t.Fatalf("status = %s, want MAX_RETRIES_EXCEEDED", got.Status)
	}
	if got.RetryCount != 3 {
		t.Fatalf("retry count = %d, want 3", got.RetryCount)
	}
	if len(alerts.maxRetries) != 1 {
		t.Fatalf("max retries alerts = %d, want 1", len(alerts.maxRetries))
	}
}

func TestExecutorExpiredTaskSkipsHandler(t *testing.T) {
	t.Parallel()
	st := storetest.New()
	h := &stubHandler{typ: task.TypeOrderCancel, result: task.Succeed(nil)}
	alerts := &stubAlerter{}
	svc := newTestService(t, st, h, alerts)

	expired := time.Now().UTC().Add(-time.Second)
	seeded := seedTask(st, func(t *task.Task) { t.ExpiresAt = &expired })

	svc.processTask(context.Background(), seeded)

	got, _ := st.GetTask(context.Background(), seeded.ID)
	if got.Status != task.StatusExpired {
		t.Fatalf("status = %s, want EXPIRED", got.Status)
	}
	if h.executions() != 0 {
		t.Fatal("handler must not run for expired tasks")
	}
	if len(st.Logs(seeded.ID)) != 0 {
		t.Fatal("expiry must not open an attempt log")
	}
	if len(alerts.taskFailure)+len(alerts.maxRetries) != 0 {
		t.Fatal("expiry must not alert")
	}
}

func TestExecutorLostLockRaceAborts(t *testing.T) {
	t.Parallel()
	st := storetest.New()
	h := &stubHandler{typ: task.TypeOrderCancel, result: task.Succeed(nil)}
	svc := newTestService(t, st, h, &stubAlerter{})

	seeded := seedTask(st, nil)

	// Simulate a concurrent writer: version moves before we try to lock.
	stale := *seeded
	now := time.Now().UTC()
	ok, err := st.AcquireLock(context.Background(), seeded.ID, "other-replica:1", now.Add(time.Hour), now, seeded.Version)
	if err != nil || !ok {
		t.Fatalf("seed lock failed: ok=%v err=%v", ok, err)
	}

	svc.processTask(context.Background(), &stale)

	if h.executions() != 0 {
		t.Fatal("handler ran despite lost lock race")
	}
	got, _ := st.GetTask(context.Background(), seeded.ID)
	if got.LockedBy != "other-replica:1" {
		t.Fatalf("foreign lock clobbered: %q", got.LockedBy)
	}
}

func TestExecutorValidationFailureIsPermanent(t *testing.T) {
	t.Parallel()
	st := storetest.New()
	h := &stubHandler{
		typ:         task.TypeOrderCancel,
		validateErr: handler.Validationf("order ID (referenceId) is required"),
		result:      task.Succeed(nil),
	}
	svc := newTestService(t, st, h, &stubAlerter{})
	seeded := seedTask(st, nil)

	svc.processTask(context.Background(), seeded)

	got, _ := st.GetTask(context.Background(), seeded.ID)
	if got.Status != task.StatusDeadLetter {
		t.Fatalf("status = %s, want DEAD_LETTER", got.Status)
	}
	if h.executions() != 0 {
		t.Fatal("execute must not run after validation failure")
	}
	logs := st.Logs(seeded.ID)
	if len(logs) != 1 || logs[0].ErrorType != "VALIDATION_ERROR" {
		t.Fatalf("unexpected log: %+v", logs[0])
	}
}

func TestExecutorPanicIsRetryable(t *testing.T) {
	t.Parallel()
	st := storetest.New()
	h := &stubHandler{typ: task.TypeOrderCancel, panicWith: "boom"}
	svc := newTestService(t, st, h, &stubAlerter{})
	seeded := seedTask(st, nil)

	svc.processTask(context.Background(), seeded)

	got, _ := st.GetTask(context.Background(), seeded.ID)
	if got.Status != task.StatusRetryPending {
		t.Fatalf("status = %s, want RETRY_PENDING", got.Status)
	}
	logs := st.Logs(seeded.ID)
	if len(logs) != 1 || logs[0].ErrorType != "PANIC" {
		t.Fatalf("unexpected log: %+v", logs[0])
	}
}

func TestExecutorCommitFailureLeavesLock(t *testing.T) {
	t.Parallel()
	st := storetest.New()
	h := &stubHandler{typ: task.TypeOrderCancel, result: task.Succeed(nil)}
	svc := newTestService(t, st, h, &stubAlerter{})
	seeded := seedTask(st, nil)

	st.FailFinish = context.DeadlineExceeded
	svc.processTask(context.Background(), seeded)

	// The row keeps its PROCESSING lock; recovery belongs to the reaper.
	got, _ := st.GetTask(context.Background(), seeded.ID)
	if got.Status != task.StatusProcessing {
		t.Fatalf("status = %s, want PROCESSING", got.Status)
	}
	if got.LockedBy == "" {
		t.Fatal("lock should remain for the reaper")
	}
}
