package services

import (
	"context"
	"errors"
	"net"
	"syscall"
	"time"

	apperrors "github.com/guildhook/guildhook/internal/application/errors"
)

// CommitRetry bounds how often a transient commit failure is retried.
// Commits are idempotent per run id, so a retry never double-applies.
type CommitRetry struct {
	Attempts     int
	InitialDelay time.Duration
	MaxDelay     time.Duration
}

// DefaultCommitRetry returns the retry policy used by the extension manager.
func DefaultCommitRetry() CommitRetry {
	return CommitRetry{
		Attempts:     3,
		InitialDelay: 50 * time.Millisecond,
		MaxDelay:     time.Second,
	}
}

// Do calls fn until it succeeds, fails permanently or attempts run out.
func (r CommitRetry) Do(ctx context.Context, fn func(context.Context) error) error {
	attempts := max(r.Attempts, 1)
	var err error
	for attempt := 1; attempt <= attempts; attempt++ {
		if err = fn(ctx); err == nil || !isTransientError(err) || attempt == attempts {
			return err
		}
		timer := time.NewTimer(backoffDelay(attempt, r.InitialDelay, r.MaxDelay))
		select {
		case <-ctx.Done():
			timer.Stop()
			return errors.Join(err, ctx.Err())
		case <-timer.C:
		}
	}
	return err
}

// backoffDelay doubles initial per attempt, capped at maxDelay.
func backoffDelay(attempt int, initial, maxDelay time.Duration) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	if attempt > 62 {
		return maxDelay
	}
	delay := time.Duration(1<<(attempt-1)) * initial
	if maxDelay > 0 && (delay > maxDelay || delay < 0) {
		return maxDelay
	}
	return delay
}

// isTransientError reports whether err is likely to clear on its own.
func isTransientError(err error) bool {
	if err == nil {
		return false
	}

	// Cancellation ends the retry loop.
	if errors.Is(err, context.DeadlineExceeded) ||
		errors.Is(err, context.Canceled) {
		return false
	}

	if errors.Is(err, apperrors.ErrTransient) {
		return true
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	if errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.ETIMEDOUT) ||
		errors.Is(err, syscall.ECONNABORTED) {
		return true
	}

	var dnsErr *net.DNSError
	return errors.As(err, &dnsErr) && dnsErr.IsTemporary
}
