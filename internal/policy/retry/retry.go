// Package retry classifies fetch and collaborator failures and drives
// bounded exponential backoff.
package retry

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"syscall"
	"time"
)

// StatusCoder is implemented by errors that carry an HTTP status.
type StatusCoder interface {
	StatusCode() int
}

type permanentError struct{ err error }

func (e permanentError) Error() string { return e.err.Error() }
func (e permanentError) Unwrap() error { return e.err }

// Permanent marks err as never retryable, e.g. malformed input.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return permanentError{err: err}
}

// IsPermanent reports whether err was marked with Permanent.
func IsPermanent(err error) bool {
	var p permanentError
	return errors.As(err, &p)
}

// Policy bounds retries and spaces them exponentially.
type Policy struct {
	// MaxRetries excludes the first try; 3 means up to four attempts.
	MaxRetries int
	BaseDelay  time.Duration
	MaxDelay   time.Duration
}

// Default mirrors the scraper defaults: 3 retries, 1s base, 30s cap.
func Default() Policy {
	return Policy{MaxRetries: 3, BaseDelay: time.Second, MaxDelay: 30 * time.Second}
}

// IsZero reports whether p was left unset.
func (p Policy) IsZero() bool {
	return p == Policy{}
}

// MaxAttempts is the total number of tries, the first included.
func (p Policy) MaxAttempts() int {
	if p.MaxRetries < 0 {
		return 1
	}
	return p.MaxRetries + 1
}

// Backoff returns the wait after the given failed attempt (1-based):
// BaseDelay × 2^(attempt-1), capped at MaxDelay.
func (p Policy) Backoff(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	delay := p.BaseDelay
	for i := 1; i < attempt; i++ {
		delay *= 2
		if p.MaxDelay > 0 && delay >= p.MaxDelay {
			return p.MaxDelay
		}
	}
	if p.MaxDelay > 0 && delay > p.MaxDelay {
		return p.MaxDelay
	}
	return delay
}

// ShouldRetry decides whether another attempt follows the given failed attempt.
func (p Policy) ShouldRetry(err error, attempt int) bool {
	if attempt > p.MaxRetries {
		return false
	}
	return Retryable(err)
}

// Retryable reports whether err is transient: timeouts, connection
// resets, and HTTP 429/500/502/503/504. Everything else, including other
// 4xx statuses and errors marked Permanent, is terminal.
func Retryable(err error) bool {
	if err == nil || IsPermanent(err) {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	var sc StatusCoder
	if errors.As(err, &sc) {
		return RetryableStatus(sc.StatusCode())
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	return errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.ECONNABORTED) ||
		errors.Is(err, syscall.EPIPE) ||
		errors.Is(err, io.ErrUnexpectedEOF)
}

// RetryableStatus reports whether an HTTP status is worth retrying.
func RetryableStatus(code int) bool {
	switch code {
	case http.StatusTooManyRequests,
		http.StatusInternalServerError,
		http.StatusBadGateway,
		http.StatusServiceUnavailable,
		http.StatusGatewayTimeout:
		return true
	default:
		return false
	}
}

// Do runs fn until it succeeds, fails terminally, or the attempt budget is
// spent. onRetry, when set, is told about each scheduled retry. Do returns
// the number of attempts made and the last error.
func Do(
	ctx context.Context,
	p Policy,
	fn func(ctx context.Context, attempt int) error,
	onRetry func(attempt int, delay time.Duration, err error),
) (int, error) {
	maxAttempts := p.MaxAttempts()
	var err error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if ctxErr := ctx.Err(); ctxErr != nil {
			if err == nil {
				err = ctxErr
			}
			return attempt - 1, fmt.Errorf("retry aborted: %w", err)
		}
		err = fn(ctx, attempt)
		if err == nil {
			return attempt, nil
		}
		if !p.ShouldRetry(err, attempt) || ctx.Err() != nil {
			return attempt, err
		}
		delay := p.Backoff(attempt)
		if onRetry != nil {
			onRetry(attempt, delay, err)
		}
		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return attempt, err
		case <-timer.C:
		}
	}
	return maxAttempts, err
}
