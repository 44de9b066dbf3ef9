package chaingateway

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
	"golang.org/x/time/rate"

	"github.com/devdotbo/bmn-evm-resolver-sub002/rerrors"
)

// RetryConfig bounds the exponential back-off applied to transient
// failures (§4.1 "Retry"): timeouts, rate limits, and reorgs of the
// inclusion block retry up to MaxAttempts; hard failures are fatal to
// the call.
type RetryConfig struct {
	InitialInterval time.Duration
	MaxInterval     time.Duration
	MaxAttempts     uint64
}

// DefaultRetryConfig matches the conservative defaults used throughout
// the resolver's background loops.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		InitialInterval: 250 * time.Millisecond,
		MaxInterval:     10 * time.Second,
		MaxAttempts:     8,
	}
}

// defaultRPCRate caps outbound calls per chain so a busy order backlog
// never floods a rate-limited RPC provider; most public endpoints allow
// well above this.
const defaultRPCRate = 20 // requests/second

// Retrier classifies each failure with rerrors.Category and retries only
// the transient ones, via github.com/cenkalti/backoff/v4. It also rate
// limits every attempt (including the first) via golang.org/x/time/rate,
// since a tight retry loop and a burst of independent calls are the same
// failure mode from the RPC provider's point of view.
type Retrier struct {
	cfg     RetryConfig
	limiter *rate.Limiter
}

// NewRetrier builds a Retrier bound by cfg.
func NewRetrier(cfg RetryConfig) *Retrier {
	return &Retrier{
		cfg:     cfg,
		limiter: rate.NewLimiter(rate.Limit(defaultRPCRate), defaultRPCRate),
	}
}

// Do runs fn, retrying with exponential back-off while fn returns a
// *rerrors.Error with CategoryTransient. Any other error is returned
// immediately (§7 "hard failures ... are fatal to that call").
func (r *Retrier) Do(ctx context.Context, op string, fn func() error) error {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = r.cfg.InitialInterval
	bo.MaxInterval = r.cfg.MaxInterval
	bounded := backoff.WithMaxRetries(bo, r.cfg.MaxAttempts)
	withCtx := backoff.WithContext(bounded, ctx)

	return backoff.Retry(func() error {
		if err := r.limiter.Wait(ctx); err != nil {
			return backoff.Permanent(err)
		}
		err := fn()
		if err == nil {
			return nil
		}
		rerr, ok := err.(*rerrors.Error)
		if !ok || !rerr.Retryable() {
			return backoff.Permanent(err)
		}
		return err
	}, withCtx)
}
