package gateway

import (
	"context"
	"errors"
	"log/slog"
	"math"
	"os"
	"time"
)

// RetryPolicy retries a failing operation with exponential backoff.
type RetryPolicy struct {
	MaxAttempts  int
	InitialDelay time.Duration
	Multiplier   float64
	MaxDelay     time.Duration

	// Retryable classifies an error. Nil means Transient.
	Retryable func(error) bool
}

// PersistRetryPolicy retries a failed transcript save once after a short
// pause.
func PersistRetryPolicy() *RetryPolicy {
	return &RetryPolicy{
		MaxAttempts:  2,
		InitialDelay: 250 * time.Millisecond,
		Multiplier:   2.0,
		MaxDelay:     time.Second,
	}
}

// Transient reports whether a storage error may succeed on a second try.
// Cancellation, missing files and permission problems are permanent.
func Transient(err error) bool {
	switch {
	case err == nil:
		return false
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return false
	case errors.Is(err, os.ErrPermission), errors.Is(err, os.ErrNotExist):
		return false
	}
	return true
}

// ShouldRetry reports whether attempt (1-indexed) may be followed by another.
func (p *RetryPolicy) ShouldRetry(err error, attempt int) bool {
	if attempt >= p.MaxAttempts {
		return false
	}
	if p.Retryable != nil {
		return err != nil && p.Retryable(err)
	}
	return Transient(err)
}

// NextDelay returns InitialDelay * Multiplier^(attempt-1), capped at MaxDelay.
func (p *RetryPolicy) NextDelay(attempt int) time.Duration {
	d := float64(p.InitialDelay) * math.Pow(p.Multiplier, float64(attempt-1))
	if p.MaxDelay > 0 && d > float64(p.MaxDelay) {
		return p.MaxDelay
	}
	return time.Duration(d)
}

// Execute calls fn until it succeeds or the policy gives up, and returns the
// last error. A context that ends during backoff stops the retries.
func (p *RetryPolicy) Execute(ctx context.Context, fn func() error) error {
	for attempt := 1; ; attempt++ {
		err := fn()
		if err == nil || !p.ShouldRetry(err, attempt) {
			return err
		}
		delay := p.NextDelay(attempt)
		slog.Debug("retrying", "attempt", attempt, "delay", delay, "error", err)
		timer := time.NewTimer(delay)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return err
		}
	}
}
