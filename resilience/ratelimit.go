package resilience

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"golang.org/x/time/rate"
)

// ErrRateLimited is returned when a request is rejected by the limiter.
var ErrRateLimited = errors.New("rate limit exceeded")

// RateLimitConfig configures client-side rate limiting.
type RateLimitConfig struct {
	// Name labels metrics. Default: "default".
	Name string

	// RequestsPerSecond is the sustained request rate. Zero disables the
	// limiter.
	RequestsPerSecond float64

	// Burst is the number of requests allowed above the rate in a spike.
	// Values below 1 are raised to 1.
	Burst int

	// WaitOnLimit waits for a token within the request context instead of
	// failing with ErrRateLimited.
	WaitOnLimit bool

	// Metrics counts rejections. Optional.
	Metrics *Metrics
}

// DefaultRateLimitConfig returns 100 requests per second with a burst of
// 10, waiting for tokens.
func DefaultRateLimitConfig() RateLimitConfig {
	return RateLimitConfig{
		RequestsPerSecond: 100,
		Burst:             10,
		WaitOnLimit:       true,
	}
}

// RateLimiter is a token bucket shared by every transport it decorates.
type RateLimiter struct {
	limiter *rate.Limiter
	cfg     RateLimitConfig
}

// NewRateLimiter creates a limiter for cfg. It returns nil when
// cfg.RequestsPerSecond is not positive.
func NewRateLimiter(cfg RateLimitConfig) *RateLimiter {
	if cfg.RequestsPerSecond <= 0 {
		return nil
	}
	if cfg.Name == "" {
		cfg.Name = defaultName
	}
	return &RateLimiter{
		limiter: rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), max(cfg.Burst, 1)),
		cfg:     cfg,
	}
}

// RateLimit returns a decorator backed by a new RateLimiter.
func RateLimit(cfg RateLimitConfig) Decorator {
	return NewRateLimiter(cfg).Decorator()
}

// Decorator returns a decorator taking tokens from l. A nil limiter passes
// requests through.
func (l *RateLimiter) Decorator() Decorator {
	return func(next http.RoundTripper) http.RoundTripper {
		if l == nil {
			return next
		}
		return RoundTripperFunc(func(req *http.Request) (*http.Response, error) {
			if err := l.acquire(req.Context()); err != nil {
				return nil, err
			}
			return next.RoundTrip(req)
		})
	}
}

func (l *RateLimiter) acquire(ctx context.Context) error {
	if !l.cfg.WaitOnLimit {
		if !l.limiter.Allow() {
			l.cfg.Metrics.recordRateLimited(l.cfg.Name)
			return ErrRateLimited
		}
		return nil
	}

	if err := l.limiter.Wait(ctx); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		// The wait would outlast the context deadline.
		l.cfg.Metrics.recordRateLimited(l.cfg.Name)
		return fmt.Errorf("%w: %w", ErrRateLimited, err)
	}
	return nil
}

// RateLimiterStats is a point-in-time view of a limiter.
type RateLimiterStats struct {
	Limit           float64
	Burst           int
	TokensAvailable float64
}

// Stats returns the current limiter state.
func (l *RateLimiter) Stats() RateLimiterStats {
	return RateLimiterStats{
		Limit:           float64(l.limiter.Limit()),
		Burst:           l.limiter.Burst(),
		TokensAvailable: l.limiter.Tokens(),
	}
}

// Reserve reports how long a caller must wait for n tokens without
// taking them. It returns -1 when n exceeds the burst.
func (l *RateLimiter) Reserve(n int) time.Duration {
	now := time.Now()
	r := l.limiter.ReserveN(now, n)
	if !r.OK() {
		return -1
	}
	delay := r.DelayFrom(now)
	r.CancelAt(now)
	return delay
}
