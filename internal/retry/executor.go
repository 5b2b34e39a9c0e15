package retry

import (
	"context"
	"errors"
	"log/slog"
	"time"
)

const (
	DefaultMaxAttempts  = 3
	DefaultInitialDelay = 2 * time.Second
)

// Sleeper waits for d or until ctx is done.
type Sleeper func(ctx context.Context, d time.Duration) error

// Executor runs lookups with exponential backoff. It is safe for concurrent
// use; all state lives in each Fetch call.
type Executor struct {
	name         string
	maxAttempts  int
	initialDelay time.Duration
	jitter       bool
	sleep        Sleeper
	logger       *slog.Logger
}

// Option configures an Executor.
type Option func(*Executor)

// WithJitter adds +-25% jitter to each wait.
func WithJitter() Option {
	return func(e *Executor) { e.jitter = true }
}

// WithSleeper replaces the timer-based wait. Tests use it to record delays.
func WithSleeper(s Sleeper) Option {
	return func(e *Executor) { e.sleep = s }
}

// WithLogger sets the logger for attempt lines.
func WithLogger(l *slog.Logger) Option {
	return func(e *Executor) {
		if l != nil {
			e.logger = l
		}
	}
}

// NewExecutor creates an executor. maxAttempts <= 0 rounds up to 1 and a
// negative initialDelay is treated as zero.
func NewExecutor(name string, maxAttempts int, initialDelay time.Duration, opts ...Option) *Executor {
	if maxAttempts <= 0 {
		maxAttempts = 1
	}
	if initialDelay < 0 {
		initialDelay = 0
	}
	e := &Executor{
		name:         name,
		maxAttempts:  maxAttempts,
		initialDelay: initialDelay,
		sleep:        sleepContext,
		logger:       slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Name returns the operation name used in logs and metrics.
func (e *Executor) Name() string { return e.name }

// WithName returns a copy of e reporting under a different operation name.
func (e *Executor) WithName(name string) *Executor {
	cp := *e
	cp.name = name
	return &cp
}

// Fetch calls op until it returns Found or attempts run out, doubling the
// wait after each miss. It never waits after the final attempt.
//
// A Failed outcome is retried like Empty, except on the final attempt where
// its error is returned. Failed(Permanent(err)) returns err immediately. If
// every attempt is Empty, Fetch returns the zero value with found=false and
// a nil error.
func Fetch[T any](ctx context.Context, e *Executor, op func(ctx context.Context) Outcome[T]) (T, bool, error) {
	var zero T
	delay := e.initialDelay

	for attempt := 1; attempt <= e.maxAttempts; attempt++ {
		out := op(ctx)
		retryAttempts.WithLabelValues(e.name, out.label()).Inc()

		if v, ok := out.Value(); ok {
			if attempt > 1 {
				e.logger.Info("data found after retry", "operation", e.name, "attempts", attempt)
			}
			return v, true, nil
		}

		if err := out.Err(); err != nil {
			var pe *PermanentError
			if errors.As(err, &pe) {
				return zero, false, pe.Err
			}
			if attempt == e.maxAttempts {
				return zero, false, err
			}
			e.logger.Warn("lookup failed, retrying",
				"operation", e.name, "attempt", attempt, "delay", delay, "error", err)
		} else if attempt < e.maxAttempts {
			e.logger.Info("no data yet, waiting",
				"operation", e.name, "attempt", attempt, "max_attempts", e.maxAttempts, "delay", delay)
		}

		if attempt == e.maxAttempts {
			break
		}

		wait := delay
		if e.jitter {
			wait = jittered(delay)
		}
		if err := e.sleep(ctx, wait); err != nil {
			return zero, false, err
		}
		delay *= 2
	}

	e.logger.Warn("no data after all attempts", "operation", e.name, "attempts", e.maxAttempts)
	return zero, false, nil
}
