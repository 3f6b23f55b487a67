package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"taskd/internal/eventbus"
	"taskd/internal/task"
)

func TestRecordLifecycleEvents(t *testing.T) {
	t.Parallel()
	c := New()

	ev := func(typ string, data task.Event) eventbus.Event {
		return eventbus.Event{Type: typ, Time: time.Now(), Data: data}
	}

	c.record(ev(eventbus.TypeTaskCompleted, task.Event{Type: task.TypeOrderCancel, Duration: time.Second}))
	c.record(ev(eventbus.TypeTaskRetry, task.Event{Type: task.TypeOrderCancel, ErrorType: "HTTP_503"}))
	c.record(ev(eventbus.TypeTaskMaxRetries, task.Event{Type: task.TypeOrderCancel, ErrorType: "HTTP_503"}))
	c.record(ev(eventbus.TypeTaskDeadLetter, task.Event{Type: task.TypePaymentRefund, ErrorType: "PAYMENT_NOT_FOUND"}))

	if got := testutil.ToFloat64(c.executions.WithLabelValues("ORDER_CANCEL", "success")); got != 1 {
		t.Fatalf("success executions = %v", got)
	}
	if got := testutil.ToFloat64(c.executions.WithLabelValues("ORDER_CANCEL", "failure")); got != 2 {
		t.Fatalf("failure executions = %v", got)
	}
	if got := testutil.ToFloat64(c.retries.WithLabelValues("ORDER_CANCEL")); got != 1 {
		t.Fatalf("retries = %v", got)
	}
	if got := testutil.ToFloat64(c.maxRetries.WithLabelValues("ORDER_CANCEL")); got != 1 {
		t.Fatalf("max retries = %v", got)
	}
	if got := testutil.ToFloat64(c.failures.WithLabelValues("PAYMENT_REFUND", "PAYMENT_NOT_FOUND")); got != 1 {
		t.Fatalf("dead letter failures = %v", got)
	}
}

func TestRecordStaleResetCount(t *testing.T) {
	t.Parallel()
	c := New()
	c.record(eventbus.Event{Type: eventbus.TypeStaleReset, Data: 3})
	c.record(eventbus.Event{Type: eventbus.TypeStaleReset, Data: 2})

	if got := testutil.ToFloat64(c.staleReset); got != 5 {
		t.Fatalf("stale resets = %v", got)
	}
}

func TestRecordIgnoresForeignPayloads(t *testing.T) {
	t.Parallel()
	c := New()
	// Must not panic on unexpected payload shapes.
	c.record(eventbus.Event{Type: eventbus.TypeTaskCompleted, Data: "not an event"})
	c.record(eventbus.Event{Type: eventbus.TypeBatchFetched, Data: "not an int"})
}
