package handler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"taskd/internal/client"
	"taskd/internal/task"
	logx "taskd/pkg/logx"
)

// OrderCancelHandler cancels an order through the order service.
//
// Expected payload:
//   - reason: cancellation reason
//   - cancelledBy: who initiated the cancellation
type OrderCancelHandler struct {
	orders *client.OrderClient
	log    logx.Logger
}

func NewOrderCancelHandler(orders *client.OrderClient, log logx.Logger) *OrderCancelHandler {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &OrderCancelHandler{orders: orders, log: log.With(logx.String("handler", "order_cancel"))}
}

func (h *OrderCancelHandler) TaskType() task.Type { return task.TypeOrderCancel }

func (h *OrderCancelHandler) Validate(t *task.Task) error {
	if err := ValidateReference(t); err != nil {
		return Validationf("order ID (referenceId) is required")
	}
	return nil
}

func (h *OrderCancelHandler) Execute(ctx context.Context, t *task.Task) task.Result {
	orderID := t.ReferenceID
	h.log.Info("cancelling order", logx.String("order_id", orderID))

	req := client.OrderCancelRequest{
		OrderID:     orderID,
		Reason:      t.PayloadString("reason", "Automated cancellation"),
		CancelledBy: t.PayloadString("cancelledBy", "taskd"),
		Metadata:    t.Metadata,
	}

	resp, err := h.orders.CancelOrder(ctx, req)
	if err != nil {
		return classifyOrderError(orderID, err)
	}

	if resp.Status == "CANCELLED" || resp.Status == "cancelled" {
		return task.Succeed(task.Document{
			"orderId":     resp.OrderID,
			"status":      resp.Status,
			"message":     orDefault(resp.Message, "Order cancelled"),
			"cancelledAt": resp.CancelledAt,
		})
	}

	h.log.Warn("order cancel returned unexpected status",
		logx.String("order_id", orderID), logx.String("status", resp.Status))
	return task.Fail(
		fmt.Sprintf("Unexpected status: %s - %s", resp.Status, orDefault(resp.Message, "No message")),
		"UNEXPECTED_STATUS",
	)
}

func (h *OrderCancelHandler) NextRetryDelay(t *task.Task, defaultDelayHours int) time.Duration {
	return orderBackoff(t, defaultDelayHours)
}

func classifyOrderError(orderID string, err error) task.Result {
	var se *client.StatusError
	if errors.As(err, &se) {
		switch se.Code {
		case 404:
			return task.PermanentFailure("Order not found: "+orderID, "ORDER_NOT_FOUND")
		case 409:
			return task.PermanentFailure("Order cannot be cancelled (conflict): "+se.Body, "ORDER_STATE_CONFLICT")
		case 400:
			return task.PermanentFailure("Invalid cancellation request: "+se.Body, "VALIDATION_ERROR")
		}
		return task.HTTPFailure(se.Code, se.Error())
	}
	// Connection error, timeout, bad response body: retryable.
	return task.FailErr(err)
}

func orDefault(s, def string) string {
	if s == "" {
		return def
	}
	return s
}
