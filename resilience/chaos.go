package resilience

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"math/rand/v2"
	"net"
	"net/http"
	"time"
)

// ErrChaosInjected is the cause of a simulated network failure.
var ErrChaosInjected = errors.New("chaos: simulated network error")

// ChaosConfig injects faults to exercise retries and breakers outside
// production.
//
// Example, failing one call in ten with a dial error:
//
//	transport := resilience.Chain(http.DefaultTransport,
//	    resilience.Retry(resilience.DefaultRetryConfig()),
//	    resilience.Chaos(resilience.ChaosConfig{ErrorRate: 0.1}),
//	)
type ChaosConfig struct {
	// Latency is added to every request.
	Latency time.Duration

	// Jitter adds a random extra delay in [0, Jitter).
	Jitter time.Duration

	// ErrorRate is the share (0.0 - 1.0) of requests failing with a
	// net.OpError wrapping ErrChaosInjected.
	ErrorRate float64

	// StatusRate is the share of requests answered with Status without
	// calling the upstream.
	StatusRate float64

	// Status is the injected status. Default: 503.
	Status int

	// TimeoutRate is the share of requests that hang until their context
	// ends.
	TimeoutRate float64
}

func (c ChaosConfig) delay() time.Duration {
	d := c.Latency
	if c.Jitter > 0 {
		d += rand.N(c.Jitter) //nolint:gosec // fault injection
	}
	return d
}

func roll(rate float64) bool {
	return rate > 0 && rand.Float64() < rate //nolint:gosec // fault injection
}

// Chaos returns a fault injecting decorator.
func Chaos(cfg ChaosConfig) Decorator {
	if cfg.Status == 0 {
		cfg.Status = http.StatusServiceUnavailable
	}
	return func(next http.RoundTripper) http.RoundTripper {
		return RoundTripperFunc(func(req *http.Request) (*http.Response, error) {
			ctx := req.Context()

			if roll(cfg.TimeoutRate) {
				<-ctx.Done()
				return nil, ctx.Err()
			}
			if roll(cfg.ErrorRate) {
				return nil, &net.OpError{Op: "dial", Net: "tcp", Err: ErrChaosInjected}
			}

			if d := cfg.delay(); d > 0 {
				timer := time.NewTimer(d)
				select {
				case <-timer.C:
				case <-ctx.Done():
					timer.Stop()
					return nil, ctx.Err()
				}
			}

			if roll(cfg.StatusRate) {
				body := []byte(fmt.Sprintf("chaos: injected %d", cfg.Status))
				return &http.Response{
					Status:        fmt.Sprintf("%d %s", cfg.Status, http.StatusText(cfg.Status)),
					StatusCode:    cfg.Status,
					Proto:         "HTTP/1.1",
					ProtoMajor:    1,
					ProtoMinor:    1,
					Header:        http.Header{"Content-Type": {"text/plain"}},
					Body:          io.NopCloser(bytes.NewReader(body)),
					ContentLength: int64(len(body)),
					Request:       req,
				}, nil
			}
			return next.RoundTrip(req)
		})
	}
}
