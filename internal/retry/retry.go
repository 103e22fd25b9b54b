package retry

import (
	"context"
	"log/slog"
	"time"
)

const (
	DefaultRetries   = 3
	DefaultBaseDelay = 2 * time.Second
)

// Operation is a single call that may fail transiently.
type Operation[T any] func(ctx context.Context) (T, error)

// SleepFunc waits for d or until ctx is done.
type SleepFunc func(ctx context.Context, d time.Duration) error

// Policy controls how many times a failed call is retried and how long to
// wait between attempts. A zero Policy makes a single attempt.
type Policy struct {
	Retries   int
	BaseDelay time.Duration

	sleep  SleepFunc
	logger *slog.Logger
}

// Option customises a Policy.
type Option func(*Policy)

// WithSleep replaces the backoff wait (for testing).
func WithSleep(fn SleepFunc) Option {
	return func(p *Policy) { p.sleep = fn }
}

// WithLogger sets the logger used for retry diagnostics.
func WithLogger(l *slog.Logger) Option {
	return func(p *Policy) { p.logger = l }
}

// NewPolicy returns a Policy with the given budget. retries < 0 means no
// retries; baseDelay <= 0 uses DefaultBaseDelay.
func NewPolicy(retries int, baseDelay time.Duration, opts ...Option) Policy {
	if retries < 0 {
		retries = 0
	}
	if baseDelay <= 0 {
		baseDelay = DefaultBaseDelay
	}
	p := Policy{Retries: retries, BaseDelay: baseDelay}
	for _, o := range opts {
		o(&p)
	}
	return p
}

// DefaultPolicy is 3 retries starting at 2s (4 attempts total).
func DefaultPolicy(opts ...Option) Policy {
	return NewPolicy(DefaultRetries, DefaultBaseDelay, opts...)
}

// Do runs op under the default policy.
func Do[T any](ctx context.Context, op Operation[T], opts ...Option) (T, error) {
	return Run(ctx, DefaultPolicy(opts...), op)
}

// Run invokes op, retrying quota-exhausted and server-busy failures with
// exponential backoff (ratio 2, no jitter). Any other failure, or a
// transient failure once the budget is spent, is returned unchanged.
func Run[T any](ctx context.Context, p Policy, op Operation[T]) (T, error) {
	sleep := p.sleep
	if sleep == nil {
		sleep = sleepContext
	}
	logger := p.logger
	if logger == nil {
		logger = slog.Default()
	}
	delay := p.BaseDelay
	if delay <= 0 {
		delay = DefaultBaseDelay
	}

	retries := p.Retries
	for {
		v, err := op(ctx)
		if err == nil {
			return v, nil
		}

		class := Classify(err)
		if !class.Retryable() || retries <= 0 {
			return v, err
		}

		logger.Warn("generation API busy or quota hit, retrying",
			"class", class.String(),
			"attempts_left", retries,
			"delay", delay,
			"error", err,
		)
		if serr := sleep(ctx, delay); serr != nil {
			var zero T
			return zero, serr
		}
		retries--
		delay *= 2
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// IsTransient reports whether err would be retried by Run.
func IsTransient(err error) bool {
	return err != nil && Classify(err).Retryable()
}

