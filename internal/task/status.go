package task

import "fmt"

// Status is the task lifecycle state.
//
// Executable statuses are eligible for the poll fetch; terminal statuses are
// never re-read for execution and never transition again.
type Status string

const (
	// StatusPending: created and waiting to be picked up. Initial state.
	StatusPending Status = "PENDING"

	// StatusScheduled: waiting for a future scheduled_time.
	StatusScheduled Status = "SCHEDULED"

	// StatusProcessing: picked up by an executor; locked_by/locked_until are set.
	StatusProcessing Status = "PROCESSING"

	// StatusCompleted: finished successfully. Terminal.
	StatusCompleted Status = "COMPLETED"

	// StatusFailed: failed but still eligible for pickup.
	StatusFailed Status = "FAILED"

	// StatusRetryPending: waiting for its next retry time.
	StatusRetryPending Status = "RETRY_PENDING"

	// StatusMaxRetriesExceeded: retry ceiling hit. Terminal, needs an operator.
	StatusMaxRetriesExceeded Status = "MAX_RETRIES_EXCEEDED"

	// StatusCancelled: cancelled by an operator. Terminal.
	StatusCancelled Status = "CANCELLED"

	// StatusPaused: held back until resumed.
	StatusPaused Status = "PAUSED"

	// StatusExpired: expires_at passed before execution. Terminal.
	StatusExpired Status = "EXPIRED"

	// StatusDeadLetter: permanent (non-retryable) failure. Terminal.
	StatusDeadLetter Status = "DEAD_LETTER"
)

var allStatuses = []Status{
	StatusPending, StatusScheduled, StatusProcessing, StatusCompleted,
	StatusFailed, StatusRetryPending, StatusMaxRetriesExceeded,
	StatusCancelled, StatusPaused, StatusExpired, StatusDeadLetter,
}

// ExecutableStatuses are the statuses the poll predicate selects.
var ExecutableStatuses = []Status{StatusPending, StatusScheduled, StatusFailed, StatusRetryPending}

func ParseStatus(s string) (Status, error) {
	for _, st := range allStatuses {
		if string(st) == s {
			return st, nil
		}
	}
	return "", fmt.Errorf("unknown task status %q", s)
}

// Executable reports whether a task in this status may be picked up.
func (s Status) Executable() bool {
	switch s {
	case StatusPending, StatusScheduled, StatusFailed, StatusRetryPending:
		return true
	}
	return false
}

// Terminal reports whether this status ends the lifecycle.
func (s Status) Terminal() bool {
	switch s {
	case StatusCompleted, StatusCancelled, StatusExpired, StatusMaxRetriesExceeded, StatusDeadLetter:
		return true
	}
	return false
}

// Failure reports whether this status represents a failure condition
// (manual retry is allowed from these, plus PAUSED).
func (s Status) Failure() bool {
	switch s {
	case StatusFailed, StatusMaxRetriesExceeded, StatusDeadLetter:
		return true
	}
	return false
}

// Type determines which handler processes a task.
type Type string

const (
	TypeOrderCancel          Type = "ORDER_CANCEL"
	TypePaymentRefund        Type = "PAYMENT_REFUND"
	TypePaymentPartialRefund Type = "PAYMENT_PARTIAL_REFUND"
	TypePaymentVoid          Type = "PAYMENT_VOID"
	TypeWebhookNotification  Type = "WEBHOOK_NOTIFICATION"
	TypeCustom               Type = "CUSTOM"
)

var allTypes = []Type{
	TypeOrderCancel, TypePaymentRefund, TypePaymentPartialRefund,
	TypePaymentVoid, TypeWebhookNotification, TypeCustom,
}

func ParseType(s string) (Type, error) {
	for _, t := range allTypes {
		if string(t) == s {
			return t, nil
		}
	}
	return "", fmt.Errorf("unknown task type %q", s)
}

// DisplayName is used in alerts and operator-facing payloads.
func (t Type) DisplayName() string {
	switch t {
	case TypeOrderCancel:
		return "Order Cancellation"
	case TypePaymentRefund:
		return "Payment Refund"
	case TypePaymentPartialRefund:
		return "Partial Payment Refund"
	case TypePaymentVoid:
		return "Payment Void"
	case TypeWebhookNotification:
		return "Webhook Notification"
	case TypeCustom:
		return "Custom Task"
	}
	return string(t)
}

// Priority orders execution within a batch window. Higher runs first.
type Priority int

const (
	PriorityLow      Priority = 1
	PriorityNormal   Priority = 5
	PriorityHigh     Priority = 8
	PriorityCritical Priority = 10
)

func (p Priority) String() string {
	switch p {
	case PriorityLow:
		return "LOW"
	case PriorityNormal:
		return "NORMAL"
	case PriorityHigh:
		return "HIGH"
	case PriorityCritical:
		return "CRITICAL"
	}
	return fmt.Sprintf("PRIORITY_%d", int(p))
}

func ParsePriority(s string) (Priority, error) {
	switch s {
	case "LOW":
		return PriorityLow, nil
	case "NORMAL", "":
		return PriorityNormal, nil
	case "HIGH":
		return PriorityHigh, nil
	case "CRITICAL":
		return PriorityCritical, nil
	}
	return 0, fmt.Errorf("unknown task priority %q", s)
}
