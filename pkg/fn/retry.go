package fn

import (
	"context"
	"math/rand/v2"
	"time"
)

// RetryOpts configures Retry.
type RetryOpts struct {
	MaxAttempts int
	InitialWait time.Duration
	MaxWait     time.Duration
	// Jitter spreads each wait over [0.5, 1.5) of its nominal value.
	Jitter bool
	// Retryable decides whether a failure is worth another attempt. Nil
	// retries every error.
	Retryable func(error) bool
}

// DefaultRetry is used for catalog reads.
var DefaultRetry = RetryOpts{
	MaxAttempts: 3,
	InitialWait: time.Second,
	MaxWait:     30 * time.Second,
	Jitter:      true,
}

// delay is the wait before attempt n+1 (n counts from zero).
func (o RetryOpts) delay(n int) time.Duration {
	d := o.InitialWait << n
	if d <= 0 || (o.MaxWait > 0 && d > o.MaxWait) {
		d = o.MaxWait
	}
	if o.Jitter {
		d = time.Duration(float64(d) * (0.5 + rand.Float64()))
		if o.MaxWait > 0 && d > o.MaxWait {
			d = o.MaxWait
		}
	}
	return d
}

// Retry calls f until it succeeds, the attempts run out, the error is not
// retryable or ctx is done. Waits double from InitialWait up to MaxWait.
func Retry[T any](ctx context.Context, opts RetryOpts, f func(context.Context) Result[T]) Result[T] {
	attempts := max(opts.MaxAttempts, 1)
	var result Result[T]
	for n := 0; n < attempts; n++ {
		result = f(ctx)
		if result.IsOk() {
			return result
		}
		if n == attempts-1 {
			break
		}
		if _, err := result.Unwrap(); opts.Retryable != nil && !opts.Retryable(err) {
			break
		}

		t := time.NewTimer(opts.delay(n))
		select {
		case <-ctx.Done():
			t.Stop()
			return Err[T](ctx.Err())
		case <-t.C:
		}
	}
	return result
}
