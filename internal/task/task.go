package task

import (
	"strconv"
	"time"

	"github.com/google/uuid"
)

// Document is an opaque JSON object (payload, metadata, results).
type Document map[string]any

// Task is the persisted scheduling unit.
//
// Locking fields (LockedBy/LockedUntil/Version) implement the distributed
// acquisition protocol: a row skip-lock for batch fetch plus an optimistic
// version so operator mutations interleave safely with the executor.
type Task struct {
	ID uuid.UUID `json:"id"`

	Type     Type     `json:"taskType"`
	Status   Status   `json:"status"`
	Priority Priority `json:"priority"`

	ReferenceID          string `json:"referenceId"`
	SecondaryReferenceID string `json:"secondaryReferenceId,omitempty"`
	Description          string `json:"description,omitempty"`

	Payload  Document `json:"payload,omitempty"`
	Metadata Document `json:"metadata,omitempty"`

	ScheduledTime time.Time  `json:"scheduledTime"`
	ExpiresAt     *time.Time `json:"expiresAt,omitempty"`

	RetryCount      int    `json:"retryCount"`
	MaxRetries      *int   `json:"maxRetries,omitempty"`
	RetryDelayHours *int   `json:"retryDelayHours,omitempty"`
	CronExpression  string `json:"cronExpression,omitempty"`

	LastError           string   `json:"lastError,omitempty"`
	LastErrorStackTrace string   `json:"lastErrorStackTrace,omitempty"`
	ExecutionResult     Document `json:"executionResult,omitempty"`

	LockedBy    string     `json:"lockedBy,omitempty"`
	LockedUntil *time.Time `json:"lockedUntil,omitempty"`
	Version     int64      `json:"version"`

	CreatedAt time.Time  `json:"createdAt"`
	UpdatedAt time.Time  `json:"updatedAt"`
	CreatedBy string     `json:"createdBy,omitempty"`
	StartedAt *time.Time `json:"startedAt,omitempty"`

	CompletedAt         *time.Time `json:"completedAt,omitempty"`
	ExecutionDurationMs *int64     `json:"executionDurationMs,omitempty"`
}

// EffectiveMaxRetries returns the per-task ceiling or the given default.
func (t *Task) EffectiveMaxRetries(def int) int {
	if t.MaxRetries != nil {
		return *t.MaxRetries
	}
	return def
}

// EffectiveRetryDelayHours returns the per-task backoff base or the default.
func (t *Task) EffectiveRetryDelayHours(def int) int {
	if t.RetryDelayHours != nil {
		return *t.RetryDelayHours
	}
	return def
}

// Locked reports whether the task holds an unexpired lock at now.
func (t *Task) Locked(now time.Time) bool {
	return t.LockedBy != "" && t.LockedUntil != nil && t.LockedUntil.After(now)
}

// Expired reports whether the task's deadline has passed at now.
func (t *Task) Expired(now time.Time) bool {
	return t.ExpiresAt != nil && t.ExpiresAt.Before(now)
}

// PayloadString reads a string-ish payload entry with a default.
func (t *Task) PayloadString(key, def string) string {
	if t.Payload == nil {
		return def
	}
	v, ok := t.Payload[key]
	if !ok || v == nil {
		return def
	}
	switch s := v.(type) {
	case string:
		return s
	case float64:
		return strconv.FormatFloat(s, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(s)
	}
	return def
}

// PayloadFloat reads a numeric payload entry. ok is false when absent or
// not a number.
func (t *Task) PayloadFloat(key string) (float64, bool) {
	if t.Payload == nil {
		return 0, false
	}
	switch v := t.Payload[key].(type) {
	case float64:
		return v, true
	case int:
		return float64(v), true
	case string:
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return 0, false
		}
		return f, true
	}
	return 0, false
}

// MetadataInt reads an integer metadata entry (JSON numbers decode as
// float64). ok is false when absent or not numeric.
func (t *Task) MetadataInt(key string) (int, bool) {
	if t.Metadata == nil {
		return 0, false
	}
	switch v := t.Metadata[key].(type) {
	case float64:
		return int(v), true
	case int:
		return v, true
	case string:
		n, err := strconv.Atoi(v)
		if err != nil {
			return 0, false
		}
		return n, true
	}
	return 0, false
}

// MetadataBool reads a boolean metadata entry.
func (t *Task) MetadataBool(key string) bool {
	if t.Metadata == nil {
		return false
	}
	v, _ := t.Metadata[key].(bool)
	return v
}

// MetadataString reads a string metadata entry.
func (t *Task) MetadataString(key string) string {
	if t.Metadata == nil {
		return ""
	}
	v, _ := t.Metadata[key].(string)
	return v
}

// ExecutionLog is one append-only row per attempt.
// AttemptNumber is 1-based and equals RetryCount+1 at attempt start.
type ExecutionLog struct {
	ID     uuid.UUID `json:"id"`
	TaskID uuid.UUID `json:"taskId"`

	AttemptNumber    int    `json:"attemptNumber"`
	Status           Status `json:"status"`
	ExecutorInstance string `json:"executorInstance"`

	StartedAt   time.Time  `json:"startedAt"`
	CompletedAt *time.Time `json:"completedAt,omitempty"`
	DurationMs  *int64     `json:"durationMs,omitempty"`

	Success         bool   `json:"success"`
	ErrorMessage    string `json:"errorMessage,omitempty"`
	ErrorStackTrace string `json:"errorStackTrace,omitempty"`
	ErrorType       string `json:"errorType,omitempty"`
	HTTPStatusCode  *int   `json:"httpStatusCode,omitempty"`

	RequestPayload  Document `json:"requestPayload,omitempty"`
	ResponsePayload Document `json:"responsePayload,omitempty"`
}

// Event is published on the bus for task lifecycle transitions.
type Event struct {
	TaskID      uuid.UUID     `json:"task_id"`
	Type        Type          `json:"type"`
	ReferenceID string        `json:"reference_id"`
	Status      Status        `json:"status"`
	Attempt     int           `json:"attempt"`
	Duration    time.Duration `json:"duration"`
	ErrorType   string        `json:"error_type,omitempty"`
}
