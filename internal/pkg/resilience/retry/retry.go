// Package retry wraps avast/retry-go behind a small interface with
// functional options. The default policy is exponential backoff with a
// capped delay, returning only the last error.
package retry

import (
	"context"
	"time"

	retrygo "github.com/avast/retry-go/v4"
)

// Retry executes operations that may fail transiently, re-attempting
// them according to the configured policy.
type Retry interface {
	// Execute runs operation until it succeeds, the attempt budget is
	// exhausted, or ctx is done. The operation must be idempotent.
	Execute(ctx context.Context, operation func() error) error
}

// OnRetryFunc is invoked after each failed attempt, before the backoff
// delay.
type OnRetryFunc func(attempt uint, err error)

type config struct {
	attempts uint
	delay    time.Duration
	maxDelay time.Duration
	onRetry  OnRetryFunc
}

// Option adjusts the retry policy.
type Option func(*config)

// WithAttempts sets the total attempt budget, including the first try.
// Default: 3.
func WithAttempts(n uint) Option {
	return func(c *config) {
		c.attempts = n
	}
}

// WithDelay sets the base delay before the first re-attempt. Default:
// 1s.
func WithDelay(d time.Duration) Option {
	return func(c *config) {
		c.delay = d
	}
}

// WithMaxDelay caps the exponential backoff delay. Default: 5s.
func WithMaxDelay(d time.Duration) Option {
	return func(c *config) {
		c.maxDelay = d
	}
}

// WithOnRetry registers a callback observing each failed attempt,
// typically to log it.
func WithOnRetry(f OnRetryFunc) Option {
	return func(c *config) {
		c.onRetry = f
	}
}

type retrier struct {
	cfg config
}

var _ Retry = (*retrier)(nil)

// New builds a Retry with the given options applied over the defaults.
func New(opts ...Option) Retry {
	cfg := config{
		attempts: 3,
		delay:    time.Second,
		maxDelay: 5 * time.Second,
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	return &retrier{cfg: cfg}
}

func (r *retrier) Execute(ctx context.Context, operation func() error) error {
	options := []retrygo.Option{
		retrygo.Attempts(r.cfg.attempts),
		retrygo.Delay(r.cfg.delay),
		retrygo.MaxDelay(r.cfg.maxDelay),
		retrygo.DelayType(retrygo.BackOffDelay),
		retrygo.LastErrorOnly(true),
		retrygo.Context(ctx),
	}
	if r.cfg.onRetry != nil {
		options = append(options, retrygo.OnRetry(retrygo.OnRetryFunc(r.cfg.onRetry)))
	}

	return retrygo.Do(operation, options...)
}
