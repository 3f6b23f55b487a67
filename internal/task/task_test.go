package task

import (
	"encoding/json"
	"testing"
	"time"
)

func TestEffectiveRetrySettings(t *testing.T) {
	t.Parallel()
	plain := &Task{}
	if got := plain.EffectiveMaxRetries(5); got != 5 {
		t.Fatalf("default max retries = %d", got)
	}
	if got := plain.EffectiveRetryDelayHours(24); got != 24 {
		t.Fatalf("default delay hours = %d", got)
	}

	three := 3
	two := 2
	custom := &Task{MaxRetries: &three, RetryDelayHours: &two}
	if got := custom.EffectiveMaxRetries(5); got != 3 {
		t.Fatalf("per-task max retries = %d", got)
	}
	if got := custom.EffectiveRetryDelayHours(24); got != 2 {
		t.Fatalf("per-task delay hours = %d", got)
	}

	// Explicit zero means "never retry", not "use default".
	zero := 0
	noRetry := &Task{MaxRetries: &zero}
	if got := noRetry.EffectiveMaxRetries(5); got != 0 {
		t.Fatalf("explicit zero max retries = %d", got)
	}
}

func TestLockedAndExpired(t *testing.T) {
	t.Parallel()
	now := time.Now()
	future := now.Add(time.Hour)
	past := now.Add(-time.Hour)

	if (&Task{}).Locked(now) {
		t.Fatal("unlocked task reported locked")
	}
	live := &Task{LockedBy: "a:1", LockedUntil: &future}
	if !live.Locked(now) {
		t.Fatal("live lock not reported")
	}
	expired := &Task{LockedBy: "a:1", LockedUntil: &past}
	if expired.Locked(now) {
		t.Fatal("expired lock reported live")
	}

	if (&Task{}).Expired(now) {
		t.Fatal("task without deadline reported expired")
	}
	if !(&Task{ExpiresAt: &past}).Expired(now) {
		t.Fatal("past deadline not reported")
	}
	if (&Task{ExpiresAt: &future}).Expired(now) {
		t.Fatal("future deadline reported expired")
	}
}

func TestPayloadAccessors(t *testing.T) {
	t.Parallel()
	tk := &Task{Payload: Document{
		"reason": "fraud",
		"amount": 12.5,
		"flag":   true,
	}}

	if got := tk.PayloadString("reason", "x"); got != "fraud" {
		t.Fatalf("PayloadString = %q", got)
	}
	if got := tk.PayloadString("missing", "fallback"); got != "fallback" {
		t.Fatalf("missing key = %q", got)
	}
	if got := tk.PayloadString("amount", ""); got != "12.5" {
		t.Fatalf("numeric as string = %q", got)
	}

	amount, ok := tk.PayloadFloat("amount")
	if !ok || amount != 12.5 {
		t.Fatalf("PayloadFloat = %v %v", amount, ok)
	}
	if _, ok := tk.PayloadFloat("reason"); ok {
		t.Fatal("non-numeric accepted")
	}
}

func TestMetadataAccessors(t *testing.T) {
	t.Parallel()
	// JSON numbers decode as float64; the accessor must handle that.
	var tk Task
	raw := `{"metadata":{"retryDelayHours":6,"notifyCustomer":true,"channel":"ops"}}`
	if err := json.Unmarshal([]byte(raw), &tk); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}

	hours, ok := tk.MetadataInt("retryDelayHours")
	if !ok || hours != 6 {
		t.Fatalf("MetadataInt = %v %v", hours, ok)
	}
	if !tk.MetadataBool("notifyCustomer") {
		t.Fatal("MetadataBool = false")
	}
	if got := tk.MetadataString("channel"); got != "ops" {
		t.Fatalf("MetadataString = %q", got)
	}
	if _, ok := tk.MetadataInt("missing"); ok {
		t.Fatal("missing key reported present")
	}
}

func TestTaskJSONRoundTrip(t *testing.T) {
	t.Parallel()
	src := Task{
		Type:        TypePaymentRefund,
		Status:      StatusPending,
		Priority:    PriorityHigh,
		ReferenceID: "PAY-1",
		Payload:     Document{"amount": 10.0},
		Metadata:    Document{"retryDelayHours": 2.0},
	}
	b, err := json.Marshal(src)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var got Task
	if err := json.Unmarshal(b, &got); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if got.Type != src.Type || got.Status != src.Status || got.Priority != src.Priority {
		t.Fatalf("round trip lost enums: %+v", got)
	}
	if got.Payload["amount"] != 10.0 || got.Metadata["retryDelayHours"] != 2.0 {
		t.Fatalf("round trip lost documents: %+v", got)
	}
}

func TestTruncateStack(t *testing.T) {
	t.Parallel()
	short := "tiny"
	if got := TruncateStack(short); got != short {
		t.Fatalf("short stack mangled: %q", got)
	}
	long := make([]byte, maxStackTrace+100)
	for i := range long {
		long[i] = 'x'
	}
	got := TruncateStack(string(long))
	if len(got) != maxStackTrace+3 {
		t.Fatalf("truncated length = %d", len(got))
	}
}
