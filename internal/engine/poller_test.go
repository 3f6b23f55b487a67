package engine

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"taskd/internal/store/storetest"
	"taskd/internal/task"
)

func TestPollOnceExecutesBatch(t *testing.T) {
	t.Parallel()
	st := storetest.New()
	h := &stubHandler{typ: task.TypeOrderCancel, result: task.Succeed(nil)}
	svc := newTestService(t, st, h, &stubAlerter{})

	var ids []*task.Task
	for i := 0; i < 5; i++ {
		ids = append(ids, seedTask(st, nil))
	}
	// A future-dated task must not be selected by this poll.
	future := seedTask(st, func(tk *task.Task) {
		tk.ScheduledTime = time.Now().UTC().Add(time.Hour)
	})

	svc.PollOnce(context.Background())

	for _, seeded := range ids {
		got, _ := st.GetTask(context.Background(), seeded.ID)
		if got.Status != task.StatusCompleted {
			t.Fatalf("task %s status = %s, want COMPLETED", seeded.ID, got.Status)
		}
	}
	if h.executions() != 5 {
		t.Fatalf("executions = %d, want 5", h.executions())
	}

	got, _ := st.GetTask(context.Background(), future.ID)
	if got.Status != task.StatusPending {
		t.Fatalf("future task status = %s, want PENDING", got.Status)
	}
}

func TestPollOnceSkipsWhenMutexHeldElsewhere(t *testing.T) {
	t.Parallel()
	st := storetest.New()
	h := &stubHandler{typ: task.TypeOrderCancel, result: task.Succeed(nil)}
	svc := newTestService(t, st, h, &stubAlerter{})

	held, err := st.AcquireMutex(context.Background(), "taskPollingJob", "other:1", 5*time.Minute)
	if err != nil || !held {
		t.Fatalf("seed mutex: held=%v err=%v", held, err)
	}
	seedTask(st, nil)

	svc.PollOnce(context.Background())

	if h.executions() != 0 {
		t.Fatal("poll ran despite foreign cluster mutex")
	}
}

func TestPollOnceHonorsPriorityOrder(t *testing.T) {
	t.Parallel()
	st := storetest.New()

	var order []task.Priority
	h := &recordingHandler{order: &order}
	svc := newTestService(t, st, h, &stubAlerter{})
	// Serialize executions so start order is observable.
	svc.permits = make(chan struct{}, 1)

	seedTask(st, func(tk *task.Task) { tk.Priority = task.PriorityLow })
	seedTask(st, func(tk *task.Task) { tk.Priority = task.PriorityCritical })
	seedTask(st, func(tk *task.Task) { tk.Priority = task.PriorityHigh })

	svc.PollOnce(context.Background())

	want := []task.Priority{task.PriorityCritical, task.PriorityHigh, task.PriorityLow}
	if len(order) != len(want) {
		t.Fatalf("executions = %d, want %d", len(order), len(want))
	}
	for i := range want {
		if order[i] != want[i] {
			t.Fatalf("execution order = %v, want %v", order, want)
		}
	}
}

type recordingHandler struct {
	order *[]task.Priority
}

func (h *recordingHandler) TaskType() task.Type       { return task.TypeOrderCancel }
func (h *recordingHandler) Validate(*task.Task) error { return nil }

func (h *recordingHandler) Execute(_ context.Context, t *task.Task) task.Result {
	*h.order = append(*h.order, t.Priority)
	return task.Succeed(nil)
}

func (h *recordingHandler) NextRetryDelay(*task.Task, int) time.Duration { return time.Hour }

func TestProcessTaskByID(t *testing.T) {
	t.Parallel()
	st := storetest.New()
	h := &stubHandler{typ: task.TypeOrderCancel, result: task.Succeed(nil)}
	svc := newTestService(t, st, h, &stubAlerter{})

	seeded := seedTask(st, nil)
	if err := svc.ProcessTaskByID(context.Background(), seeded.ID); err != nil {
		t.Fatalf("ProcessTaskByID: %v", err)
	}

	got, _ := st.GetTask(context.Background(), seeded.ID)
	if got.Status != task.StatusCompleted {
		t.Fatalf("status = %s, want COMPLETED", got.Status)
	}
}

// Two replicas over one store: every task must be processed exactly once.
// The cluster mutex serializes the poll cycles; the conditional lock acquire
// keeps a racing direct dispatch from double-running a task.
func TestTwoReplicasProcessDisjointSets(t *testing.T) {
	t.Parallel()
	st := storetest.New()

	type seen struct {
		mu     sync.Mutex
		counts map[string]int
	}
	record := &seen{counts: map[string]int{}}

	mk := func() (*Service, *countingHandler) {
		h := &countingHandler{record: func(ref string) {
			record.mu.Lock()
			record.counts[ref]++
			record.mu.Unlock()
		}}
		return newTestService(t, st, h, &stubAlerter{}), h
	}
	a, _ := mk()
	b, _ := mk()
	// Distinct replica identities.
	a.instance = "replica-a:1"
	b.instance = "replica-b:1"

	for i := 0; i < 10; i++ {
		seedTask(st, func(tk *task.Task) { tk.ReferenceID = fmt.Sprintf("ORD-%d", i) })
	}

	var wg sync.WaitGroup
	for _, svc := range []*Service{a, b} {
		wg.Add(1)
		go func(s *Service) {
			defer wg.Done()
			// Poll until the queue drains; a replica that loses the cluster
			// mutex simply retries the next tick.
			for i := 0; i < 20; i++ {
				s.PollOnce(context.Background())
				due, _ := st.FetchDue(context.Background(), time.Now().UTC(), 1)
				if len(due) == 0 {
					return
				}
			}
		}(svc)
	}
	wg.Wait()

	record.mu.Lock()
	defer record.mu.Unlock()
	if len(record.counts) != 10 {
		t.Fatalf("processed %d distinct tasks, want 10", len(record.counts))
	}
	for ref, n := range record.counts {
		if n != 1 {
			t.Fatalf("task %s processed %d times", ref, n)
		}
	}
}

type countingHandler struct {
	record func(ref string)
}

func (h *countingHandler) TaskType() task.Type       { return task.TypeOrderCancel }
func (h *countingHandler) Validate(*task.Task) error { return nil }

func (h *countingHandler) Execute(_ context.Context, t *task.Task) task.Result {
	h.record(t.ReferenceID)
	return task.Succeed(nil)
}

func (h *countingHandler) NextRetryDelay(*task.Task, int) time.Duration { return time.Hour }
