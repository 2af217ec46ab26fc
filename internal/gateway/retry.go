package gateway

import (
	"context"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"
)

type RetryConfig struct {
	Attempts int
	Delay    time.Duration
}

func DefaultRetryConfig() RetryConfig {
	return RetryConfig{Attempts: 3, Delay: time.Second}
}

// linearBackOff waits delay, 2*delay, 3*delay, ...
type linearBackOff struct {
	delay time.Duration
	n     int
}

func (b *linearBackOff) NextBackOff() time.Duration {
	b.n++
	return b.delay * time.Duration(b.n)
}

func (b *linearBackOff) Reset() {
	b.n = 0
}

// Retry runs fn up to cfg.Attempts times with linear backoff between
// attempts. Backend rejections are returned immediately since repeating them
// cannot change the answer.
func Retry[T any](ctx context.Context, cfg RetryConfig, logger *slog.Logger, fn func(context.Context) (T, error)) (T, error) {
	attempts := cfg.Attempts
	if attempts < 1 {
		attempts = 1
	}

	attempt := 0
	op := func() (T, error) {
		attempt++
		v, err := fn(ctx)
		if err != nil && IsRejection(err) {
			return v, backoff.Permanent(err)
		}
		return v, err
	}
	notify := func(err error, wait time.Duration) {
		logger.Info("retrying gateway call", "attempt", attempt, "max_attempts", attempts, "wait", wait, "error", err)
	}

	b := backoff.WithContext(
		backoff.WithMaxRetries(&linearBackOff{delay: cfg.Delay}, uint64(attempts-1)),
		ctx,
	)
	return backoff.RetryNotifyWithData(op, b, notify)
}
