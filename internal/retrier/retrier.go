package retrier

import (
	"context"
	"math"
	"math/rand"
	"time"
)

const (
	defaultInitialInterval = 5 * time.Millisecond
	defaultMaxInterval     = 200 * time.Millisecond
	defaultMultiplier      = 2.0
	defaultMaxRetries      = 3
	defaultJitter          = 0.1
)

// Retrier re-runs an operation that lost an optimistic-concurrency race. Each
// attempt re-reads state inside fn, so the retrier itself carries nothing
// between attempts except the backoff schedule.
type Retrier struct {
	initialInterval time.Duration
	maxInterval     time.Duration
	multiplier      float64
	maxRetries      int
	jitter          float64
	retryIf         func(error) bool
	random          func() float64
}

// Option configures a Retrier.
type Option func(*Retrier)

// WithInitialInterval sets the wait before the first retry.
func WithInitialInterval(d time.Duration) Option {
	return func(r *Retrier) { r.initialInterval = d }
}

// WithMaxInterval caps the wait between retries.
func WithMaxInterval(d time.Duration) Option {
	return func(r *Retrier) { r.maxInterval = d }
}

// WithMultiplier sets how much the wait grows after each retry.
func WithMultiplier(m float64) Option {
	return func(r *Retrier) { r.multiplier = m }
}

// WithMaxRetries sets the number of retries after the first attempt.
func WithMaxRetries(n int) Option {
	return func(r *Retrier) { r.maxRetries = n }
}

// WithJitter spreads each wait by up to ±j of its length, j in [0, 1].
func WithJitter(j float64) Option {
	return func(r *Retrier) { r.jitter = j }
}

// WithRetryIf limits retries to errors accepted by fn. Other errors are
// returned immediately.
func WithRetryIf(fn func(error) bool) Option {
	return func(r *Retrier) { r.retryIf = fn }
}

// New creates a Retrier with the defaults tuned for in-process conflicts.
func New(opts ...Option) *Retrier {
	r := &Retrier{
		initialInterval: defaultInitialInterval,
		maxInterval:     defaultMaxInterval,
		multiplier:      defaultMultiplier,
		maxRetries:      defaultMaxRetries,
		jitter:          defaultJitter,
		retryIf:         func(error) bool { return true },
		random:          rand.Float64,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Do runs fn until it succeeds, returns an error retryIf rejects, the retries
// run out or ctx ends. It returns fn's last error, or ctx's error when the
// context ends during a wait.
func (r *Retrier) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	for retry := 0; ; retry++ {
		err := fn(ctx)
		if err == nil || !r.retryIf(err) || retry >= r.maxRetries {
			return err
		}

		timer := time.NewTimer(r.wait(retry))
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

// wait returns the jittered backoff before retry number n, counted from 0.
func (r *Retrier) wait(n int) time.Duration {
	d := float64(r.initialInterval) * math.Pow(r.multiplier, float64(n))
	if limit := float64(r.maxInterval); d > limit {
		d = limit
	}
	d += (r.random()*2 - 1) * r.jitter * d
	if d < 0 {
		return 0
	}
	return time.Duration(d)
}

// DoWithData is Do for operations that produce a value.
func DoWithData[T any](r *Retrier, ctx context.Context, fn func(ctx context.Context) (T, error)) (T, error) {
	var result T
	err := r.Do(ctx, func(ctx context.Context) error {
		v, err := fn(ctx)
		if err == nil {
			result = v
		}
		return err
	})
	return result, err
}
