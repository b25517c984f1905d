// Package retry runs an operation with exponential backoff and jitter.
//
// The engine only schedules attempts; side effects belong to the operation.
// Waits are cancellable through the context and no lock is held while
// sleeping.
package retry

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"net"
	"net/http"
	"time"
)

// Zero-valued Options fields mean "use the default", so disabling retries
// or jitter takes these negative sentinels.
const (
	NoRetries = -1
	NoJitter  = -1.0
)

// Options configures a retry loop. Zero values fall back to the defaults
// documented on each field.
type Options struct {
	// Name labels the policy in logs and metrics.
	Name string
	// MaxRetries is the number of retries after the first attempt. Default 3.
	// NoRetries (any negative value) runs the operation once.
	MaxRetries int
	// InitialDelay is the delay before the first retry. Default 500ms.
	InitialDelay time.Duration
	// MaxDelay caps a single delay. Default 30s.
	MaxDelay time.Duration
	// BackoffMultiplier grows the delay per attempt. Default 2.
	BackoffMultiplier float64
	// JitterFactor spreads delays uniformly in [1-j, 1+j]. Default 0.1,
	// capped at 1. NoJitter (any negative value) uses the exact backoff.
	JitterFactor float64
	// IsRetryable decides whether a failure is worth another attempt.
	// Default DefaultIsRetryable.
	IsRetryable func(error) bool
	// OnRetry observes each scheduled retry.
	OnRetry func(attempt int, err error, delay time.Duration)

	// Rand returns a float in [0,1). Tests pin it.
	Rand func() float64
	// Sleep waits for d or until ctx is done. Tests replace it.
	Sleep func(ctx context.Context, d time.Duration) error
}

// Result reports the outcome of Do.
type Result[T any] struct {
	Value    T
	Err      error
	Attempts int
	Elapsed  time.Duration
}

// Success reports whether the operation eventually succeeded.
func (r Result[T]) Success() bool { return r.Err == nil }

// RetryAfterer is implemented by errors that carry a server-suggested wait.
type RetryAfterer interface {
	RetryAfter() time.Duration
}

func (o Options) withDefaults() Options {
	if o.MaxRetries == 0 {
		o.MaxRetries = 3
	}
	if o.InitialDelay <= 0 {
		o.InitialDelay = 500 * time.Millisecond
	}
	if o.MaxDelay <= 0 {
		o.MaxDelay = 30 * time.Second
	}
	if o.MaxDelay < o.InitialDelay {
		o.MaxDelay = o.InitialDelay
	}
	if o.BackoffMultiplier < 1 {
		o.BackoffMultiplier = 2
	}
	if o.JitterFactor == 0 {
		o.JitterFactor = 0.1
	}
	if o.JitterFactor > 1 {
		o.JitterFactor = 1
	}
	if o.IsRetryable == nil {
		o.IsRetryable = DefaultIsRetryable
	}
	if o.Rand == nil {
		o.Rand = rand.Float64
	}
	if o.Sleep == nil {
		o.Sleep = sleepContext
	}
	return o
}

// BaseDelay is the un-jittered delay after the given zero-based failed
// attempt: min(MaxDelay, InitialDelay * BackoffMultiplier^attempt).
func BaseDelay(opts Options, attempt int) time.Duration {
	opts = opts.withDefaults()
	d := float64(opts.InitialDelay) * math.Pow(opts.BackoffMultiplier, float64(attempt))
	if d > float64(opts.MaxDelay) || math.IsInf(d, 0) {
		return opts.MaxDelay
	}
	return time.Duration(d)
}

// Delay is BaseDelay scaled by a uniform factor in [1-jitter, 1+jitter].
func Delay(opts Options, attempt int) time.Duration {
	opts = opts.withDefaults()
	base := float64(BaseDelay(opts, attempt))
	j := max(opts.JitterFactor, 0)
	factor := 1 - j + 2*j*opts.Rand()
	return time.Duration(base * factor)
}

// Do runs op until it succeeds, fails with a non-retryable error, the
// retries are exhausted, or ctx is done. The last error is returned.
func Do[T any](ctx context.Context, opts Options, op func(ctx context.Context) (T, error)) Result[T] {
	opts = opts.withDefaults()
	start := time.Now()
	var res Result[T]

	for attempt := 0; ; attempt++ {
		if err := ctx.Err(); err != nil {
			if res.Err == nil {
				res.Err = err
			}
			break
		}

		res.Attempts++
		v, err := op(ctx)
		if err == nil {
			res.Value = v
			res.Err = nil
			break
		}
		res.Err = err

		if attempt >= max(opts.MaxRetries, 0) || !opts.IsRetryable(err) {
			break
		}

		delay := Delay(opts, attempt)
		var ra RetryAfterer
		if errors.As(err, &ra) && ra.RetryAfter() > delay {
			delay = min(ra.RetryAfter(), opts.MaxDelay)
		}
		if opts.OnRetry != nil {
			opts.OnRetry(attempt+1, err, delay)
		}
		if serr := opts.Sleep(ctx, delay); serr != nil {
			res.Err = fmt.Errorf("retry aborted after %d attempts: %w", res.Attempts, serr)
			break
		}
	}

	res.Elapsed = time.Since(start)
	return res
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

// RetryableStatus reports whether an HTTP status is transient.
func RetryableStatus(status int) bool {
	switch status {
	case http.StatusTooManyRequests,
		http.StatusInternalServerError,
		http.StatusBadGateway,
		http.StatusServiceUnavailable,
		http.StatusGatewayTimeout:
		return true
	}
	return false
}

// DefaultIsRetryable classifies by HTTP status when the error carries one,
// trusts errors that declare their own retryability, and retries network
// timeouts. Anything else fails closed.
func DefaultIsRetryable(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) {
		return false
	}
	var st interface{ HTTPStatus() int }
	if errors.As(err, &st) && st.HTTPStatus() > 0 {
		return RetryableStatus(st.HTTPStatus())
	}
	var r interface{ IsRetryable() bool }
	if errors.As(err, &r) {
		return r.IsRetryable()
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return true
	}
	return false
}
