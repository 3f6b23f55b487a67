package task

import (
	"fmt"
	"runtime/debug"
	"time"
)

// maxStackTrace bounds stored stack traces (DB columns are TEXT but logs
// should stay scannable).
const maxStackTrace = 4000

// Result is the single contract between handlers and the executor: a plain
// value, not an error hierarchy. Domain failures travel here; only
// transport/runtime panics surface as Go panics (and the executor converts
// those to retryable failures).
type Result struct {
	Success bool

	ErrorMessage string
	ErrorType    string
	StackTrace   string

	// HTTPStatusCode is 0 when no HTTP exchange happened.
	HTTPStatusCode int

	ResponseData Document

	// Retryable failures re-enter the queue with delay; permanent failures
	// dead-letter the task.
	Retryable bool

	// CustomRetryDelay overrides the handler's backoff calculation when > 0.
	CustomRetryDelay time.Duration
}

// Succeed returns a success result with response data.
func Succeed(data Document) Result {
	if data == nil {
		data = Document{}
	}
	return Result{Success: true, ResponseData: data}
}

// Fail returns a retryable failure.
func Fail(message, errorType string) Result {
	return Result{Success: false, ErrorMessage: message, ErrorType: errorType, Retryable: true}
}

// FailErr returns a retryable failure from an error, capturing a bounded
// stack trace for diagnosis.
func FailErr(err error) Result {
	msg := ""
	if err != nil {
		msg = err.Error()
	}
	return Result{
		Success:      false,
		ErrorMessage: msg,
		ErrorType:    fmt.Sprintf("%T", err),
		StackTrace:   TruncateStack(string(debug.Stack())),
		Retryable:    true,
	}
}

// PermanentFailure returns a non-retryable failure (dead-letter path).
func PermanentFailure(message, errorType string) Result {
	return Result{Success: false, ErrorMessage: message, ErrorType: errorType, Retryable: false}
}

// HTTPFailure classifies a failed HTTP exchange: 408, 429 and 5xx are
// retryable, everything else is permanent.
func HTTPFailure(statusCode int, message string) Result {
	retryable := statusCode >= 500 || statusCode == 408 || statusCode == 429
	return Result{
		Success:        false,
		ErrorMessage:   message,
		ErrorType:      fmt.Sprintf("HTTP_%d", statusCode),
		HTTPStatusCode: statusCode,
		Retryable:      retryable,
	}
}

// WithCustomDelay sets an explicit next-retry delay on a failure result.
func (r Result) WithCustomDelay(d time.Duration) Result {
	r.CustomRetryDelay = d
	return r
}

// TruncateStack bounds a stack trace for storage.
func TruncateStack(s string) string {
	if len(s) <= maxStackTrace {
		return s
	}
	return s[:maxStackTrace] + "..."
}
