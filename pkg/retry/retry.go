// Package retry provides a bounded retry for transient infrastructure
// failures. Classification is typed: an error is retried only when it is a
// recognized transient category, never based on message text.
package retry

import (
	"context"
	"errors"
	"net"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"go.uber.org/zap"
)

const (
	// Attempts is the total number of tries per operation.
	Attempts = 4
	// BaseBackoff is the delay before the second attempt; doubles each retry.
	BaseBackoff = 200 * time.Millisecond
)

// Transienter is implemented by errors that know whether they are retriable
// (e.g. an upstream 502/503 status error).
type Transienter interface {
	Transient() bool
}

// Transient reports whether err is safe to retry: network timeouts,
// connection resets/refusals, Postgres errors pgx marks safe to retry, or any
// error that classifies itself via Transienter.
func Transient(err error) bool {
	if err == nil {
		return false
	}
	var tr Transienter
	if errors.As(err, &tr) {
		return tr.Transient()
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	if errors.Is(err, syscall.ECONNRESET) || errors.Is(err, syscall.ECONNREFUSED) {
		return true
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	if pgconn.SafeToRetry(err) {
		return true
	}
	return false
}

// Do runs fn up to Attempts times with exponential backoff, retrying only
// transient errors. Non-transient errors and the final failure propagate
// unchanged. The parent context cancels the wait between attempts.
func Do(ctx context.Context, logger *zap.Logger, label string, fn func(ctx context.Context) error) error {
	if logger == nil {
		logger = zap.NewNop()
	}
	var lastErr error
	backoff := BaseBackoff
	for attempt := 1; attempt <= Attempts; attempt++ {
		lastErr = fn(ctx)
		if lastErr == nil {
			return nil
		}
		if !Transient(lastErr) || attempt == Attempts {
			return lastErr
		}
		logger.Warn("transient failure, retrying",
			zap.String("op", label),
			zap.Int("attempt", attempt),
			zap.Duration("backoff", backoff),
			zap.Error(lastErr),
		)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
		backoff *= 2
	}
	return lastErr
}
