package resilience

import (
	"context"
	"io"
	"net/http"
	"slices"
	"sync"
	"time"
)

// HedgeConfig configures hedged requests.
//
// A hedge is a duplicate of a request that has not completed within Delay.
// The first response wins and the other attempts are cancelled. Only hedge
// idempotent calls: a POST creating a resource may run twice.
//
// With a Tracker set, the delay adapts to the observed TargetPercentile
// latency of the request host once the tracker holds enough samples.
//
// Example:
//
//	tracker := resilience.NewLatencyTracker(100, 10)
//	hedge := resilience.Hedge(resilience.HedgeConfig{
//	    Delay:            50 * time.Millisecond,
//	    MaxHedges:        1,
//	    Tracker:          tracker,
//	    TargetPercentile: 0.95,
//	})
type HedgeConfig struct {
	// Name labels metrics. Default: "default".
	Name string

	// Delay is the wait before each hedge, and the fallback delay of an
	// adaptive configuration. Zero disables hedging.
	Delay time.Duration

	// MaxHedges is the number of duplicates sent at most. Zero disables
	// hedging.
	MaxHedges int

	// Methods lists the hedged methods. Default: GET and HEAD.
	Methods []string

	// Tracker records latencies and enables adaptive delays. Optional.
	Tracker *LatencyTracker

	// TargetPercentile is the latency percentile used as the adaptive
	// delay. Default: 0.95.
	TargetPercentile float64

	// Metrics counts the hedges sent. Optional.
	Metrics *Metrics
}

// IsEnabled reports whether hedges are sent.
func (c HedgeConfig) IsEnabled() bool {
	return c.Delay > 0 && c.MaxHedges > 0
}

func (c HedgeConfig) delay(key string) time.Duration {
	if c.Tracker == nil {
		return c.Delay
	}
	if d, ok := c.Tracker.Percentile(key, c.TargetPercentile); ok && d > 0 {
		return d
	}
	return c.Delay
}

// Hedge returns a decorator that races duplicates of slow requests.
func Hedge(cfg HedgeConfig) Decorator {
	if cfg.Name == "" {
		cfg.Name = defaultName
	}
	if len(cfg.Methods) == 0 {
		cfg.Methods = []string{http.MethodGet, http.MethodHead}
	}
	if cfg.TargetPercentile <= 0 || cfg.TargetPercentile > 1 {
		cfg.TargetPercentile = 0.95
	}

	return func(next http.RoundTripper) http.RoundTripper {
		if !cfg.IsEnabled() {
			return next
		}
		return &hedgeTransport{next: next, cfg: cfg}
	}
}

type hedgeTransport struct {
	next http.RoundTripper
	cfg  HedgeConfig
}

type hedgeResult struct {
	attempt int
	resp    *http.Response
	err     error
}

// RoundTrip implements http.RoundTripper.
func (t *hedgeTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if !slices.Contains(t.cfg.Methods, req.Method) {
		return t.next.RoundTrip(req)
	}

	body, err := bufferBody(req)
	if err != nil {
		return nil, err
	}

	key := req.URL.Host
	start := time.Now()
	delay := t.cfg.delay(key)

	results := make(chan hedgeResult, t.cfg.MaxHedges+1)
	cancels := make([]context.CancelFunc, 0, t.cfg.MaxHedges+1)

	var wg sync.WaitGroup
	launch := func() {
		ctx, cancel := context.WithCancel(req.Context())
		attempt := len(cancels)
		cancels = append(cancels, cancel)

		wg.Add(1)
		go func() {
			defer wg.Done()
			resp, err := t.next.RoundTrip(cloneRequest(req, body).WithContext(ctx))
			results <- hedgeResult{attempt: attempt, resp: resp, err: err}
		}()
	}

	launch()
	pending := 1
	timer := time.NewTimer(delay)
	defer timer.Stop()

	var winner hedgeResult
wait:
	for {
		select {
		case r := <-results:
			pending--
			winner = r
			// An error loses to an attempt still in flight.
			if r.err == nil || pending == 0 {
				break wait
			}
		case <-timer.C:
			if len(cancels) <= t.cfg.MaxHedges {
				pending++
				t.cfg.Metrics.recordHedge(t.cfg.Name)
				launch()
				timer.Reset(delay)
			}
		}
	}

	for i, cancel := range cancels {
		if i != winner.attempt {
			cancel()
		}
	}
	go func() {
		wg.Wait()
		close(results)
		for r := range results {
			if r.resp != nil && r.resp.Body != nil {
				r.resp.Body.Close()
			}
		}
	}()

	if winner.err != nil {
		cancels[winner.attempt]()
		return nil, winner.err
	}
	if t.cfg.Tracker != nil {
		t.cfg.Tracker.Record(key, time.Since(start))
	}
	winner.resp.Body = &cancelOnClose{ReadCloser: winner.resp.Body, cancel: cancels[winner.attempt]}
	return winner.resp, nil
}

// cancelOnClose releases the context of the winning attempt with its body.
type cancelOnClose struct {
	io.ReadCloser
	cancel context.CancelFunc
}

func (c *cancelOnClose) Close() error {
	err := c.ReadCloser.Close()
	c.cancel()
	return err
}
