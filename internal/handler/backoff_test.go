package handler

import (
	"testing"
	"time"

	"taskd/internal/task"
)

// jitter adds [base/10, base/4], so every delay lands in a known window.
func assertWindow(t *testing.T, got, base time.Duration) {
	t.Helper()
	lo := base + base/10
	hi := base + base/4
	if got < lo || got > hi {
		t.Fatalf("delay %v outside [%v, %v] for base %v", got, lo, hi, base)
	}
}

func TestOrderBackoffLadder(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name       string
		retryCount int
		base       time.Duration
	}{
		{name: "first retry", retryCount: 0, base: time.Hour},
		{name: "second retry", retryCount: 1, base: 2 * time.Hour},
		{name: "third retry", retryCount: 2, base: 4 * time.Hour},
		{name: "falls back to daily", retryCount: 3, base: 24 * time.Hour},
		{name: "stays daily", retryCount: 7, base: 24 * time.Hour},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			tk := &task.Task{RetryCount: tt.retryCount}
			// Sample repeatedly: jitter must stay inside the window.
			for i := 0; i < 50; i++ {
				assertWindow(t, orderBackoff(tk, 24), tt.base)
			}
		})
	}
}

func TestPaymentBackoffLadder(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name       string
		retryCount int
		base       time.Duration
	}{
		{name: "first retry conservative", retryCount: 0, base: 2 * time.Hour},
		{name: "second retry", retryCount: 1, base: 6 * time.Hour},
		{name: "third retry", retryCount: 2, base: 9 * time.Hour},
		{name: "falls back to daily", retryCount: 3, base: 24 * time.Hour},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			tk := &task.Task{RetryCount: tt.retryCount}
			for i := 0; i < 50; i++ {
				assertWindow(t, paymentBackoff(tk, 24), tt.base)
			}
		})
	}
}

func TestMetadataOverrideWinsOverLadder(t *testing.T) {
	t.Parallel()
	tk := &task.Task{
		RetryCount: 0,
		Metadata:   task.Document{"retryDelayHours": float64(3)},
	}
	assertWindow(t, orderBackoff(tk, 24), 3*time.Hour)
	assertWindow(t, paymentBackoff(tk, 24), 3*time.Hour)
	assertWindow(t, DefaultRetryDelay(tk, 24), 3*time.Hour)
}

func TestDefaultRetryDelayUsesTaskOverride(t *testing.T) {
	t.Parallel()
	hours := 2
	tk := &task.Task{RetryDelayHours: &hours}
	assertWindow(t, DefaultRetryDelay(tk, 24), 2*time.Hour)

	plain := &task.Task{}
	assertWindow(t, DefaultRetryDelay(plain, 24), 24*time.Hour)
}
