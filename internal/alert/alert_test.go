package alert

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"taskd/internal/task"
	logx "taskd/pkg/logx"
)

type captureTransport struct {
	mu   sync.Mutex
	sent []Message
}

func (c *captureTransport) Send(_ context.Context, m Message) error {
	c.mu.Lock()
	c.sent = append(c.sent, m)
	c.mu.Unlock()
	return nil
}

func (c *captureTransport) messages() []Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Message(nil), c.sent...)
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("condition not met in time")
}

func sampleTask(prio task.Priority) *task.Task {
	return &task.Task{
		ID:          uuid.New(),
		Type:        task.TypePaymentRefund,
		Priority:    prio,
		ReferenceID: "PAY-9",
		RetryCount:  5,
		LastError:   "payment-service returned HTTP 503",
		CreatedAt:   time.Now().UTC(),
	}
}

func TestMaxRetriesAlwaysEmitted(t *testing.T) {
	t.Parallel()
	tr := &captureTransport{}
	svc := New(Config{Enabled: true, RatePerSec: 100}, tr, logx.Nop())
	svc.Start(context.Background())
	defer svc.Stop()

	svc.MaxRetriesExceeded(sampleTask(task.PriorityLow))

	waitFor(t, func() bool { return len(tr.messages()) == 1 })
	m := tr.messages()[0]
	if m.Color != "danger" {
		t.Fatalf("color = %s", m.Color)
	}
	var hasRetryCount bool
	for _, f := range m.Fields {
		if f.Title == "Retry Count" && f.Value == "5" {
			hasRetryCount = true
		}
	}
	if !hasRetryCount {
		t.Fatalf("retry count field missing: %+v", m.Fields)
	}
}

func TestTaskFailureGatedOnPriority(t *testing.T) {
	t.Parallel()
	tr := &captureTransport{}
	svc := New(Config{Enabled: true, RatePerSec: 100}, tr, logx.Nop())
	svc.Start(context.Background())
	defer svc.Stop()

	svc.TaskFailure(sampleTask(task.PriorityNormal), "ignored")
	svc.TaskFailure(sampleTask(task.PriorityHigh), "emitted")
	svc.TaskFailure(sampleTask(task.PriorityCritical), "emitted")

	waitFor(t, func() bool { return len(tr.messages()) == 2 })
	time.Sleep(50 * time.Millisecond)
	if got := len(tr.messages()); got != 2 {
		t.Fatalf("alerts = %d, want 2 (NORMAL gated out)", got)
	}
}

func TestEnqueueNeverBlocksWhenQueueFull(t *testing.T) {
	t.Parallel()
	tr := &captureTransport{}
	// Tiny queue, worker never started: enqueue must still return.
	svc := New(Config{Enabled: true, QueueSize: 1, RatePerSec: 1}, tr, logx.Nop())

	done := make(chan struct{})
	go func() {
		for i := 0; i < 50; i++ {
			svc.Error("engine", "queue full test", "")
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("enqueue blocked on a full queue")
	}
}

func TestWebhookTransportPayload(t *testing.T) {
	t.Parallel()
	var got webhookPayload
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode: %v", err)
		}
		w.WriteHeader(http.StatusOK)
	}))
	t.Cleanup(srv.Close)

	tr := NewWebhookTransport(srv.URL, "#oncall")
	err := tr.Send(context.Background(), Message{
		Text:      ":warning: *test*",
		Color:     "warning",
		Title:     "Payment Refund - PAY-9",
		Fields:    []Field{{Title: "Task ID", Value: "abc", Short: true}},
		Footer:    "taskd",
		Timestamp: time.Unix(1700000000, 0),
	})
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if got.Channel != "#oncall" || got.Username != "taskd" {
		t.Fatalf("payload header = %+v", got)
	}
	if len(got.Attachments) != 1 || got.Attachments[0].Title != "Payment Refund - PAY-9" {
		t.Fatalf("attachments = %+v", got.Attachments)
	}
	if got.Attachments[0].TS != "1700000000" {
		t.Fatalf("ts = %s", got.Attachments[0].TS)
	}
}

func TestWebhookTransportNon200IsError(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "invalid_payload", http.StatusBadRequest)
	}))
	t.Cleanup(srv.Close)

	tr := NewWebhookTransport(srv.URL, "")
	if err := tr.Send(context.Background(), Message{Text: "x"}); err == nil {
		t.Fatal("non-200 accepted")
	}
}

func TestDisabledServiceDropsEverything(t *testing.T) {
	t.Parallel()
	tr := &captureTransport{}
	svc := New(Config{Enabled: false}, tr, logx.Nop())
	svc.Start(context.Background())
	defer svc.Stop()

	svc.MaxRetriesExceeded(sampleTask(task.PriorityCritical))
	time.Sleep(50 * time.Millisecond)
	if len(tr.messages()) != 0 {
		t.Fatal("disabled service sent alerts")
	}
}

func TestRenderTelegramFlattensFields(t *testing.T) {
	t.Parallel()
	out := renderTelegram(Message{
		Text:   ":rotating_light: *Critical Task Failed*",
		Title:  "Task: Payment Refund",
		Fields: []Field{{Title: "Reference", Value: "PAY-9"}},
		Footer: "taskd",
	})
	if out == "" {
		t.Fatal("empty render")
	}
	for _, want := range []string{"Critical Task Failed", "Task: Payment Refund", "Reference: PAY-9", "taskd"} {
		if !strings.Contains(out, want) {
			t.Fatalf("render missing %q:\n%s", want, out)
		}
	}
	if strings.Contains(out, ":rotating_light:") || strings.Contains(out, "*") {
		t.Fatalf("markup not stripped:\n%s", out)
	}
}
