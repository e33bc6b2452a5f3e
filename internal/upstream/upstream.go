// Package upstream centralizes the call policy for external capabilities
// (transcription, synthesis, LLM scoring): bounded concurrency, per-attempt
// timeouts, and bounded retry with exponential backoff plus jitter.
//
// The limiter exists to respect upstream rate limits — every external call in
// the process should go through a [Guard] so that a burst of assessments
// cannot fan out into an unbounded number of simultaneous API requests.
package upstream

import (
	"context"
	"errors"
	"math/rand"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/saylens/saylens/internal/observe"
)

const (
	// DefaultConcurrency bounds simultaneous upstream calls per guard.
	DefaultConcurrency = 4

	// DefaultTimeout is the per-attempt deadline.
	DefaultTimeout = 30 * time.Second

	// DefaultMaxRetries is the number of re-attempts after the first failure.
	DefaultMaxRetries = 2

	// defaultBaseDelay seeds the exponential backoff schedule.
	defaultBaseDelay = 400 * time.Millisecond

	// defaultMaxJitter is added uniformly at random to each backoff delay so
	// concurrent retries spread out instead of stampeding.
	defaultMaxJitter = 150 * time.Millisecond
)

// Retryable reports whether an error is worth re-attempting. Implementations
// should return true only for transient classes (rate limits, 5xx, timeouts);
// permanent errors must propagate immediately.
type Retryable func(error) bool

// Option is a functional option for configuring a [Guard].
type Option func(*Guard)

// WithTimeout sets the per-attempt deadline. Default: 30 s.
func WithTimeout(d time.Duration) Option {
	return func(g *Guard) {
		g.timeout = d
	}
}

// WithMaxRetries sets how many times a failed attempt is retried. Default: 2.
func WithMaxRetries(n int) Option {
	return func(g *Guard) {
		g.maxRetries = n
	}
}

// WithBaseDelay sets the first backoff delay; subsequent delays double.
// Default: 400 ms.
func WithBaseDelay(d time.Duration) Option {
	return func(g *Guard) {
		g.baseDelay = d
	}
}

// WithMaxJitter bounds the random jitter added to every backoff delay.
// Default: 150 ms.
func WithMaxJitter(d time.Duration) Option {
	return func(g *Guard) {
		g.maxJitter = d
	}
}

// WithInstruments attaches request/error counters to the guard, labeled with
// the backend name and capability kind ("stt", "llm", "tts"). Every attempt
// is counted, so retries show up as additional requests.
func WithInstruments(m *observe.Metrics, provider, kind string) Option {
	return func(g *Guard) {
		g.metrics = m
		g.provider = provider
		g.kind = kind
	}
}

// Guard serializes access to one upstream capability. It is safe for
// concurrent use; all fields are fixed at construction.
type Guard struct {
	sem        *semaphore.Weighted
	timeout    time.Duration
	maxRetries int
	baseDelay  time.Duration
	maxJitter  time.Duration

	metrics  *observe.Metrics
	provider string
	kind     string
}

// NewGuard returns a [Guard] admitting at most concurrency simultaneous
// calls. concurrency values < 1 fall back to [DefaultConcurrency].
func NewGuard(concurrency int, opts ...Option) *Guard {
	if concurrency < 1 {
		concurrency = DefaultConcurrency
	}
	g := &Guard{
		sem:        semaphore.NewWeighted(int64(concurrency)),
		timeout:    DefaultTimeout,
		maxRetries: DefaultMaxRetries,
		baseDelay:  defaultBaseDelay,
		maxJitter:  defaultMaxJitter,
	}
	for _, o := range opts {
		o(g)
	}
	return g
}

// Do acquires a concurrency slot, then runs op with a per-attempt timeout,
// retrying up to the configured limit when retryable reports the failure as
// transient. Waiting for a slot respects ctx. The last attempt's error is
// returned unwrapped so callers can inspect it with errors.Is/As.
func (g *Guard) Do(ctx context.Context, retryable Retryable, op func(ctx context.Context) error) error {
	if err := g.sem.Acquire(ctx, 1); err != nil {
		return err
	}
	defer g.sem.Release(1)

	var err error
	for attempt := 0; ; attempt++ {
		attemptCtx, cancel := context.WithTimeout(ctx, g.timeout)
		err = op(attemptCtx)
		cancel()
		g.recordAttempt(ctx, err)

		if err == nil {
			return nil
		}
		// The caller going away ends the whole call, not just the attempt.
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if attempt >= g.maxRetries || retryable == nil || !retryable(err) {
			return err
		}

		delay := g.baseDelay << attempt
		if g.maxJitter > 0 {
			delay += time.Duration(rand.Int63n(int64(g.maxJitter)))
		}
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (g *Guard) recordAttempt(ctx context.Context, err error) {
	if g.metrics == nil {
		return
	}
	status := "ok"
	if err != nil {
		status = "error"
	}
	g.metrics.RecordProviderRequest(ctx, g.provider, g.kind, status)
	if err != nil {
		g.metrics.RecordProviderError(ctx, g.provider, g.kind)
	}
}

// Transient is a convenience [Retryable] that treats deadline expiry as
// retryable in addition to any error matching one of the given sentinels.
func Transient(sentinels ...error) Retryable {
	return func(err error) bool {
		if errors.Is(err, context.DeadlineExceeded) {
			return true
		}
		for _, s := range sentinels {
			if errors.Is(err, s) {
				return true
			}
		}
		return false
	}
}
