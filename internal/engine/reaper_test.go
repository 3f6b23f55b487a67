package engine

import (
	"context"
	"strings"
	"testing"
	"time"

	"taskd/internal/store"
	"taskd/internal/store/storetest"
	"taskd/internal/task"
)

func TestReaperResetsStaleTasks(t *testing.T) {
	t.Parallel()
	st := storetest.New()
	svc := newTestService(t, st, nil, &stubAlerter{})

	longAgo := time.Now().UTC().Add(-2 * time.Hour)
	stale := seedTask(st, func(tk *task.Task) {
		tk.Status = task.StatusProcessing
		tk.LockedBy = "dead-replica:42"
		tk.LockedUntil = &longAgo
	})
	// A healthy PROCESSING task with a live lock must not be touched.
	liveUntil := time.Now().UTC().Add(time.Hour)
	healthy := seedTask(st, func(tk *task.Task) {
		tk.Status = task.StatusProcessing
		tk.LockedBy = "alive-replica:1"
		tk.LockedUntil = &liveUntil
	})

	before := time.Now().UTC()
	svc.ReapOnce(context.Background())

	got, _ := st.GetTask(context.Background(), stale.ID)
	if got.Status != task.StatusRetryPending {
		t.Fatalf("status = %s, want RETRY_PENDING", got.Status)
	}
	if !strings.Contains(got.LastError, "timed out or instance crashed") {
		t.Fatalf("last error = %q", got.LastError)
	}
	if got.LockedBy != "" || got.LockedUntil != nil {
		t.Fatal("lock not cleared")
	}
	lo := before.Add(55 * time.Second)
	hi := time.Now().UTC().Add(65 * time.Second)
	if got.ScheduledTime.Before(lo) || got.ScheduledTime.After(hi) {
		t.Fatalf("next retry %v not ~60s out", got.ScheduledTime)
	}

	h, _ := st.GetTask(context.Background(), healthy.ID)
	if h.Status != task.StatusProcessing || h.LockedBy != "alive-replica:1" {
		t.Fatalf("healthy task disturbed: %s %q", h.Status, h.LockedBy)
	}
}

func TestReaperIsIdempotent(t *testing.T) {
	t.Parallel()
	st := storetest.New()
	svc := newTestService(t, st, nil, &stubAlerter{})

	longAgo := time.Now().UTC().Add(-2 * time.Hour)
	stale := seedTask(st, func(tk *task.Task) {
		tk.Status = task.StatusProcessing
		tk.LockedBy = "dead-replica:42"
		tk.LockedUntil = &longAgo
	})

	svc.ReapOnce(context.Background())
	first, _ := st.GetTask(context.Background(), stale.ID)

	svc.ReapOnce(context.Background())
	second, _ := st.GetTask(context.Background(), stale.ID)

	if second.Version != first.Version {
		t.Fatalf("second reap mutated the task: version %d -> %d", first.Version, second.Version)
	}
}

func TestReaperSkipsWhenMutexHeldElsewhere(t *testing.T) {
	t.Parallel()
	st := storetest.New()
	svc := newTestService(t, st, nil, &stubAlerter{})

	held, err := st.AcquireMutex(context.Background(), "staleTaskCleanup", "other:1", 5*time.Minute)
	if err != nil || !held {
		t.Fatalf("seed mutex: held=%v err=%v", held, err)
	}

	longAgo := time.Now().UTC().Add(-2 * time.Hour)
	stale := seedTask(st, func(tk *task.Task) {
		tk.Status = task.StatusProcessing
		tk.LockedBy = "dead-replica:42"
		tk.LockedUntil = &longAgo
	})

	svc.ReapOnce(context.Background())

	got, _ := st.GetTask(context.Background(), stale.ID)
	if got.Status != task.StatusProcessing {
		t.Fatal("reaper ran despite foreign cluster mutex")
	}
	if got.LastError == store.StaleError {
		t.Fatal("stale error written despite foreign cluster mutex")
	}
}
