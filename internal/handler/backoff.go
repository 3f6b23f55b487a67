package handler

import (
	"math/rand"
	"time"

	"taskd/internal/task"
)

// metadataDelayKey lets individual tasks override their backoff base via
// metadata, e.g. {"retryDelayHours": 2}.
const metadataDelayKey = "retryDelayHours"

// addJitter adds a uniform sample from [base/10, base/4] on top of base.
// Without it, a fleet of tasks failing against the same dead downstream
// would all come back at the same instant once it recovers.
func addJitter(base time.Duration) time.Duration {
	if base <= 0 {
		return 0
	}
	lo := int64(base / 10)
	hi := int64(base / 4)
	if hi <= lo {
		return base + time.Duration(lo)
	}
	return base + time.Duration(lo+rand.Int63n(hi-lo+1))
}

// metadataDelay returns the per-task metadata backoff override, if present.
func metadataDelay(t *task.Task) (time.Duration, bool) {
	if hours, ok := t.MetadataInt(metadataDelayKey); ok && hours > 0 {
		return time.Duration(hours) * time.Hour, true
	}
	return 0, false
}

// DefaultRetryDelay is the fallback policy: the task's effective delay-hours
// (per-task override or the configured default), jittered.
func DefaultRetryDelay(t *task.Task, defaultDelayHours int) time.Duration {
	if d, ok := metadataDelay(t); ok {
		return addJitter(d)
	}
	hours := t.EffectiveRetryDelayHours(defaultDelayHours)
	return addJitter(time.Duration(hours) * time.Hour)
}

// orderBackoff: exponential for the first three retries (1h, 2h, 4h), then
// the configured default (typically daily).
func orderBackoff(t *task.Task, defaultDelayHours int) time.Duration {
	if d, ok := metadataDelay(t); ok {
		return addJitter(d)
	}
	if t.RetryCount < 3 {
		return addJitter(time.Duration(1<<t.RetryCount) * time.Hour)
	}
	return addJitter(time.Duration(defaultDelayHours) * time.Hour)
}

// paymentBackoff: deliberately more conservative than orders to reduce
// duplicate-effect risk (2h, 6h, 9h, then default).
func paymentBackoff(t *task.Task, defaultDelayHours int) time.Duration {
	if d, ok := metadataDelay(t); ok {
		return addJitter(d)
	}
	rc := t.RetryCount
	switch {
	case rc == 0:
		return addJitter(2 * time.Hour)
	case rc < 3:
		return addJitter(time.Duration(3+rc*3) * time.Hour)
	}
	return addJitter(time.Duration(defaultDelayHours) * time.Hour)
}
