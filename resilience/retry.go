package resilience

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/cenkalti/backoff/v5"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// RetryConfig holds the retry behavior configuration.
// Use DefaultRetryConfig() for balanced defaults, then modify as needed.
//
// Intervals grow exponentially with jitter so that many clients retrying
// at once do not hit a recovering upstream in lockstep.
//
// Example usage:
//
//	cfg := resilience.DefaultRetryConfig()
//	cfg.MaxRetries = 5
//	cfg.InitialInterval = 200 * time.Millisecond
//	rt := resilience.Chain(http.DefaultTransport, resilience.Retry(cfg))
type RetryConfig struct {
	// Name labels metrics. Default: "default".
	Name string

	// MaxRetries is the maximum number of retry attempts. The initial
	// attempt is not counted. Zero disables retries.
	// Default: 3
	MaxRetries uint

	// InitialInterval is the first backoff interval.
	// Default: 500ms
	InitialInterval time.Duration

	// MaxInterval caps each backoff interval.
	// Default: 30s
	MaxInterval time.Duration

	// MaxElapsedTime is the time budget of the whole retry sequence.
	// Zero means only MaxRetries applies.
	// Default: 2m
	MaxElapsedTime time.Duration

	// Multiplier controls exponential growth of backoff intervals.
	// Default: 2.0
	Multiplier float64

	// JitterFactor randomises each interval by ±JitterFactor.
	// Default: 0.5
	JitterFactor float64

	// Classifier decides which outcomes are retried.
	// Default: DefaultRetryClassifier
	Classifier Classifier

	// BackOff, when set, creates the strategy of each call instead of the
	// exponential one built from the fields above.
	BackOff func() backoff.BackOff

	// Metrics receives retry counters. Optional.
	Metrics *Metrics
}

// Default values for RetryConfig.
const (
	DefaultMaxRetries      = 3
	DefaultInitialInterval = 500 * time.Millisecond
	DefaultMaxInterval     = 30 * time.Second
	DefaultMaxElapsedTime  = 2 * time.Minute
	DefaultMultiplier      = 2.0
	DefaultJitterFactor    = 0.5
)

// DefaultRetryConfig returns balanced defaults for general use:
// 3 retries (500ms, 1s, 2s) within 2 minutes.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries:      DefaultMaxRetries,
		InitialInterval: DefaultInitialInterval,
		MaxInterval:     DefaultMaxInterval,
		MaxElapsedTime:  DefaultMaxElapsedTime,
		Multiplier:      DefaultMultiplier,
		JitterFactor:    DefaultJitterFactor,
		Classifier:      DefaultRetryClassifier,
	}
}

// ConservativeRetryConfig returns settings for expensive or rate-limited
// upstreams: 2 retries (1s, 2s) within 30 seconds.
func ConservativeRetryConfig() RetryConfig {
	cfg := DefaultRetryConfig()
	cfg.MaxRetries = 2
	cfg.InitialInterval = time.Second
	cfg.MaxInterval = 10 * time.Second
	cfg.MaxElapsedTime = 30 * time.Second
	return cfg
}

// IsEnabled returns true if retries are enabled.
func (c RetryConfig) IsEnabled() bool {
	return c.MaxRetries > 0
}

// Retry returns a decorator retrying attempts the classifier accepts.
//
// Request bodies are buffered once and replayed on every attempt. When the
// retries run out on a retryable status, the last response is returned
// as-is so callers still see the upstream status.
func Retry(cfg RetryConfig) Decorator {
	if cfg.Classifier == nil {
		cfg.Classifier = DefaultRetryClassifier
	}
	if cfg.Name == "" {
		cfg.Name = defaultName
	}
	return func(next http.RoundTripper) http.RoundTripper {
		if !cfg.IsEnabled() {
			return next
		}
		return &retryTransport{next: next, cfg: cfg}
	}
}

type retryTransport struct {
	next http.RoundTripper
	cfg  RetryConfig
}

// errRetryableStatus marks an attempt that produced a retryable response.
var errRetryableStatus = errors.New("retryable status")

// RoundTrip implements http.RoundTripper.
func (t *retryTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	ctx := req.Context()

	body, err := bufferBody(req)
	if err != nil {
		return nil, err
	}

	span := trace.SpanFromContext(ctx)
	var (
		attempt int
		last    *snapshot
	)

	opts := []backoff.RetryOption{
		backoff.WithBackOff(t.backOff()),
		backoff.WithMaxTries(t.cfg.MaxRetries + 1),
		backoff.WithNotify(func(err error, next time.Duration) {
			attempt++
			recordRetryEvent(span, attempt, err, next)
			t.cfg.Metrics.recordRetry(t.cfg.Name)
		}),
	}
	if t.cfg.MaxElapsedTime > 0 {
		opts = append(opts, backoff.WithMaxElapsedTime(t.cfg.MaxElapsedTime))
	}

	resp, err := backoff.Retry(ctx, func() (*http.Response, error) {
		last = nil
		resp, err := t.next.RoundTrip(cloneRequest(req, body))
		if !t.cfg.Classifier(resp, err) {
			if err != nil {
				return nil, backoff.Permanent(err)
			}
			return resp, nil
		}
		if err != nil {
			return nil, err
		}

		last, err = takeSnapshot(resp)
		if err != nil {
			return nil, err
		}
		if wait, ok := retryAfter(resp); ok {
			return nil, fmt.Errorf("%w %d: %w", errRetryableStatus, resp.StatusCode, backoff.RetryAfter(wait))
		}
		return nil, fmt.Errorf("%w %d", errRetryableStatus, resp.StatusCode)
	}, opts...)

	if attempt > 0 {
		span.SetAttributes(
			attribute.Int("http.retry_count", attempt),
			attribute.Bool("http.retry_success", err == nil),
		)
	}
	if err == nil {
		return resp, nil
	}

	t.cfg.Metrics.recordRetryExhausted(t.cfg.Name)
	if last != nil && ctx.Err() == nil {
		return last.response(req), nil
	}
	return nil, err
}

func (t *retryTransport) backOff() backoff.BackOff {
	if t.cfg.BackOff != nil {
		b := t.cfg.BackOff()
		b.Reset()
		return b
	}
	return exponentialBackOff(t.cfg)
}

// retryAfter reads a Retry-After header given in seconds.
func retryAfter(resp *http.Response) (int, bool) {
	v := resp.Header.Get("Retry-After")
	if v == "" {
		return 0, false
	}
	secs, err := strconv.Atoi(v)
	if err != nil || secs < 0 {
		return 0, false
	}
	return secs, true
}

func bufferBody(req *http.Request) ([]byte, error) {
	if req.Body == nil || req.Body == http.NoBody || req.GetBody != nil {
		return nil, nil
	}
	data, err := io.ReadAll(req.Body)
	req.Body.Close()
	if err != nil {
		return nil, err
	}
	req.Body = io.NopCloser(bytes.NewReader(data))
	return data, nil
}

func cloneRequest(req *http.Request, body []byte) *http.Request {
	clone := req.Clone(req.Context())
	switch {
	case body != nil:
		clone.Body = io.NopCloser(bytes.NewReader(body))
		clone.ContentLength = int64(len(body))
	case req.GetBody != nil:
		if b, err := req.GetBody(); err == nil {
			clone.Body = b
		}
	}
	return clone
}

// snapshot is a fully read response that can be replayed.
type snapshot struct {
	status int
	header http.Header
	body   []byte
	proto  string
	major  int
	minor  int
}

func takeSnapshot(resp *http.Response) (*snapshot, error) {
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	return &snapshot{
		status: resp.StatusCode,
		header: resp.Header.Clone(),
		body:   data,
		proto:  resp.Proto,
		major:  resp.ProtoMajor,
		minor:  resp.ProtoMinor,
	}, nil
}

func (s *snapshot) response(req *http.Request) *http.Response {
	return &http.Response{
		Status:        fmt.Sprintf("%d %s", s.status, http.StatusText(s.status)),
		StatusCode:    s.status,
		Proto:         s.proto,
		ProtoMajor:    s.major,
		ProtoMinor:    s.minor,
		Header:        s.header.Clone(),
		Body:          io.NopCloser(bytes.NewReader(s.body)),
		ContentLength: int64(len(s.body)),
		Request:       req,
	}
}

func recordRetryEvent(span trace.Span, attempt int, err error, next time.Duration) {
	if !span.IsRecording() {
		return
	}
	attrs := []attribute.KeyValue{
		attribute.Int("retry.attempt", attempt),
		attribute.Int64("retry.delay_ms", next.Milliseconds()),
	}
	if err != nil {
		reason := err.Error()
		if len(reason) > 50 {
			reason = reason[:50] + "..."
		}
		attrs = append(attrs, attribute.String("retry.reason", reason))
	}
	span.AddEvent("http.retry", trace.WithAttributes(attrs...))
}
