package handler

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"taskd/internal/client"
	"taskd/internal/task"
	logx "taskd/pkg/logx"
)

// classifyPaymentError maps payment service failures onto the result
// envelope. 422 is a business-rule refusal (insufficient funds, already
// refunded amount, ...) and is permanent.
func classifyPaymentError(paymentID string, err error) task.Result {
	var se *client.StatusError
	if errors.As(err, &se) {
		switch se.Code {
		case 404:
			return task.PermanentFailure("Payment not found: "+paymentID, "PAYMENT_NOT_FOUND")
		case 409:
			return task.PermanentFailure("Payment operation conflict: "+se.Body, "PAYMENT_STATE_CONFLICT")
		case 400:
			return task.PermanentFailure("Invalid payment request: "+se.Body, "VALIDATION_ERROR")
		case 422:
			return task.PermanentFailure("Payment operation rejected: "+se.Body, "BUSINESS_RULE_VIOLATION")
		}
		return task.HTTPFailure(se.Code, se.Error())
	}
	return task.FailErr(err)
}

func paymentSuccessStatus(status string) bool {
	switch strings.ToUpper(status) {
	case "COMPLETED", "SUCCESS", "REFUNDED", "PROCESSED", "VOIDED":
		return true
	}
	return false
}

// PaymentRefundHandler processes full refunds.
//
// Expected payload:
//   - amount: optional (full refund when absent)
//   - currency: default USD
//   - reason, requestedBy
//
// referenceId is the payment ID; secondaryReferenceId the transaction ID.
type PaymentRefundHandler struct {
	payments *client.PaymentClient
	log      logx.Logger
}

func NewPaymentRefundHandler(payments *client.PaymentClient, log logx.Logger) *PaymentRefundHandler {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &PaymentRefundHandler{payments: payments, log: log.With(logx.String("handler", "payment_refund"))}
}

func (h *PaymentRefundHandler) TaskType() task.Type { return task.TypePaymentRefund }

func (h *PaymentRefundHandler) Validate(t *task.Task) error {
	if err := ValidateReference(t); err != nil {
		return Validationf("payment ID (referenceId) is required")
	}
	return nil
}

func (h *PaymentRefundHandler) Execute(ctx context.Context, t *task.Task) task.Result {
	return executeRefund(ctx, h.payments, h.log, t, false)
}

func (h *PaymentRefundHandler) NextRetryDelay(t *task.Task, defaultDelayHours int) time.Duration {
	return paymentBackoff(t, defaultDelayHours)
}

// PaymentPartialRefundHandler refunds part of a payment; amount is required.
type PaymentPartialRefundHandler struct {
	payments *client.PaymentClient
	log      logx.Logger
}

func NewPaymentPartialRefundHandler(payments *client.PaymentClient, log logx.Logger) *PaymentPartialRefundHandler {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &PaymentPartialRefundHandler{payments: payments, log: log.With(logx.String("handler", "payment_partial_refund"))}
}

func (h *PaymentPartialRefundHandler) TaskType() task.Type { return task.TypePaymentPartialRefund }

func (h *PaymentPartialRefundHandler) Validate(t *task.Task) error {
	if err := ValidateReference(t); err != nil {
		return Validationf("payment ID (referenceId) is required")
	}
	amount, ok := t.PayloadFloat("amount")
	if !ok || amount <= 0 {
		return Validationf("partial refund requires a positive payload amount")
	}
	return nil
}

func (h *PaymentPartialRefundHandler) Execute(ctx context.Context, t *task.Task) task.Result {
	return executeRefund(ctx, h.payments, h.log, t, true)
}

func (h *PaymentPartialRefundHandler) NextRetryDelay(t *task.Task, defaultDelayHours int) time.Duration {
	return paymentBackoff(t, defaultDelayHours)
}

func executeRefund(ctx context.Context, payments *client.PaymentClient, log logx.Logger, t *task.Task, partial bool) task.Result {
	paymentID := t.ReferenceID
	log.Info("refunding payment", logx.String("payment_id", paymentID), logx.Bool("partial", partial))

	req := client.PaymentRefundRequest{
		PaymentID:     paymentID,
		TransactionID: t.SecondaryReferenceID,
		Currency:      t.PayloadString("currency", "USD"),
		Reason:        t.PayloadString("reason", "Automated refund"),
		RequestedBy:   t.PayloadString("requestedBy", "taskd"),
		Metadata:      t.Metadata,
	}
	if amount, ok := t.PayloadFloat("amount"); ok {
		req.Amount = &amount
	}

	resp, err := payments.RefundPayment(ctx, req)
	if err != nil {
		return classifyPaymentError(paymentID, err)
	}

	if paymentSuccessStatus(resp.Status) {
		doc := task.Document{
			"refundId":    resp.RefundID,
			"paymentId":   resp.PaymentID,
			"status":      resp.Status,
			"message":     orDefault(resp.Message, "Refund processed"),
			"processedAt": resp.ProcessedAt,
		}
		if resp.Amount != nil {
			doc["amount"] = *resp.Amount
		}
		return task.Succeed(doc)
	}

	log.Warn("payment refund returned unexpected status",
		logx.String("payment_id", paymentID), logx.String("status", resp.Status))
	return task.Fail(
		fmt.Sprintf("Unexpected status: %s - %s", resp.Status, orDefault(resp.Message, "No message")),
		"UNEXPECTED_STATUS",
	)
}

// PaymentVoidHandler voids a pending payment authorization.
type PaymentVoidHandler struct {
	payments *client.PaymentClient
	log      logx.Logger
}

func NewPaymentVoidHandler(payments *client.PaymentClient, log logx.Logger) *PaymentVoidHandler {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &PaymentVoidHandler{payments: payments, log: log.With(logx.String("handler", "payment_void"))}
}

func (h *PaymentVoidHandler) TaskType() task.Type { return task.TypePaymentVoid }

func (h *PaymentVoidHandler) Validate(t *task.Task) error {
	if err := ValidateReference(t); err != nil {
		return Validationf("payment ID (referenceId) is required")
	}
	return nil
}

func (h *PaymentVoidHandler) Execute(ctx context.Context, t *task.Task) task.Result {
	paymentID := t.ReferenceID
	h.log.Info("voiding payment", logx.String("payment_id", paymentID))

	req := client.PaymentVoidRequest{
		PaymentID:   paymentID,
		Reason:      t.PayloadString("reason", "Automated void"),
		RequestedBy: t.PayloadString("requestedBy", "taskd"),
		Metadata:    t.Metadata,
	}

	resp, err := h.payments.VoidPayment(ctx, req)
	if err != nil {
		return classifyPaymentError(paymentID, err)
	}

	if paymentSuccessStatus(resp.Status) {
		return task.Succeed(task.Document{
			"paymentId": resp.PaymentID,
			"status":    resp.Status,
			"message":   orDefault(resp.Message, "Payment voided"),
			"voidedAt":  resp.VoidedAt,
		})
	}

	h.log.Warn("payment void returned unexpected status",
		logx.String("payment_id", paymentID), logx.String("status", resp.Status))
	return task.Fail(
		fmt.Sprintf("Unexpected status: %s - %s", resp.Status, orDefault(resp.Message, "No message")),
		"UNEXPECTED_STATUS",
	)
}

func (h *PaymentVoidHandler) NextRetryDelay(t *task.Task, defaultDelayHours int) time.Duration {
	return paymentBackoff(t, defaultDelayHours)
}
