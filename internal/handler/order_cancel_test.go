package handler

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"taskd/internal/client"
	"taskd/internal/task"
	logx "taskd/pkg/logx"
)

func orderHandlerFor(t *testing.T, fn http.HandlerFunc) (*OrderCancelHandler, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(fn)
	t.Cleanup(srv.Close)
	oc := client.NewOrderClient(client.Config{BaseURL: srv.URL}, logx.Nop())
	return NewOrderCancelHandler(oc, logx.Nop()), srv
}

func orderTask() *task.Task {
	return &task.Task{
		Type:        task.TypeOrderCancel,
		ReferenceID: "ORD-1",
		Payload:     task.Document{"reason": "fraud review"},
	}
}

func TestOrderCancelSuccess(t *testing.T) {
	t.Parallel()
	h, _ := orderHandlerFor(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v1/orders/ORD-1/cancel" {
			t.Errorf("path = %s", r.URL.Path)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"orderId":"ORD-1","status":"CANCELLED","message":"done"}`))
	})

	res := h.Execute(context.Background(), orderTask())
	if !res.Success {
		t.Fatalf("success = false: %+v", res)
	}
	if res.ResponseData["orderId"] != "ORD-1" {
		t.Fatalf("response data = %v", res.ResponseData)
	}
}

func TestOrderCancelErrorClassification(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name          string
		status        int
		wantRetryable bool
		wantErrorType string
	}{
		{name: "404 is permanent", status: 404, wantRetryable: false, wantErrorType: "ORDER_NOT_FOUND"},
		{name: "409 is permanent", status: 409, wantRetryable: false, wantErrorType: "ORDER_STATE_CONFLICT"},
		{name: "400 is permanent", status: 400, wantRetryable: false, wantErrorType: "VALIDATION_ERROR"},
		{name: "503 is retryable", status: 503, wantRetryable: true, wantErrorType: "HTTP_503"},
		{name: "429 is retryable", status: 429, wantRetryable: true, wantErrorType: "HTTP_429"},
		{name: "408 is retryable", status: 408, wantRetryable: true, wantErrorType: "HTTP_408"},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			h, _ := orderHandlerFor(t, func(w http.ResponseWriter, _ *http.Request) {
				http.Error(w, "nope", tt.status)
			})

			res := h.Execute(context.Background(), orderTask())
			if res.Success {
				t.Fatal("unexpected success")
			}
			if res.Retryable != tt.wantRetryable {
				t.Fatalf("retryable = %v, want %v", res.Retryable, tt.wantRetryable)
			}
			if res.ErrorType != tt.wantErrorType {
				t.Fatalf("error type = %s, want %s", res.ErrorType, tt.wantErrorType)
			}
		})
	}
}

func TestOrderCancelUnexpectedStatusIsRetryable(t *testing.T) {
	t.Parallel()
	h, _ := orderHandlerFor(t, func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"orderId":"ORD-1","status":"PENDING_REVIEW"}`))
	})

	res := h.Execute(context.Background(), orderTask())
	if res.Success {
		t.Fatal("unexpected success")
	}
	if !res.Retryable || res.ErrorType != "UNEXPECTED_STATUS" {
		t.Fatalf("got retryable=%v type=%s", res.Retryable, res.ErrorType)
	}
}

func TestOrderCancelConnectionErrorIsRetryable(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.NotFoundHandler())
	srv.Close() // dead endpoint
	oc := client.NewOrderClient(client.Config{BaseURL: srv.URL}, logx.Nop())
	h := NewOrderCancelHandler(oc, logx.Nop())

	res := h.Execute(context.Background(), orderTask())
	if res.Success || !res.Retryable {
		t.Fatalf("connection error must be retryable: %+v", res)
	}
}

func TestOrderCancelValidate(t *testing.T) {
	t.Parallel()
	h := NewOrderCancelHandler(nil, logx.Nop())

	if err := h.Validate(orderTask()); err != nil {
		t.Fatalf("valid task rejected: %v", err)
	}

	err := h.Validate(&task.Task{Type: task.TypeOrderCancel})
	if err == nil {
		t.Fatal("missing reference accepted")
	}
	var ve *ValidationError
	if !asValidation(err, &ve) {
		t.Fatalf("error type = %T, want *ValidationError", err)
	}
}
