package resilience

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	gobreaker "github.com/sony/gobreaker/v2"
	gobreakerredis "github.com/sony/gobreaker/v2/redis"
)

const defaultName = "default"

// ErrCircuitOpen is returned when the breaker rejects a call. It wraps the
// underlying gobreaker error.
var ErrCircuitOpen = errors.New("circuit breaker open")

// NewRedisStore creates a SharedDataStore backed by Redis so that several
// service instances share one breaker state.
//
// Usage:
//
//	rdb := redis.NewUniversalClient(&redis.UniversalOptions{Addrs: []string{"localhost:6379"}})
//	cfg := resilience.DistributedBreakerConfig("payments", resilience.NewRedisStore(rdb))
func NewRedisStore(client redis.UniversalClient) gobreaker.SharedDataStore {
	return gobreakerredis.NewStoreFromClient(client)
}

// BreakerConfig holds the configuration for the circuit breaker.
//
// Concepts:
//   - Closed: Normal state, requests allowed.
//   - Open: Failing state, requests rejected immediately.
//   - Half-Open: Probing state, limited requests allowed to test recovery.
type BreakerConfig struct {
	// Name identifies the breaker. Distributed breakers with the same name
	// share state. Default: "default".
	Name string

	// MaxRequests is the number of probes allowed while half-open.
	MaxRequests uint32

	// Interval is the cyclic period of the closed state after which the
	// counts are cleared. Zero never clears them.
	Interval time.Duration

	// Timeout is the period of the open state before probing.
	Timeout time.Duration

	// FailureThreshold is the minimum number of requests before the
	// failure ratio is considered.
	FailureThreshold uint32

	// FailureRatio trips the breaker at this failure share (0.0 - 1.0).
	FailureRatio float64

	// ConsecutiveFailures trips the breaker after this many failures in a
	// row. Zero disables the rule.
	ConsecutiveFailures uint32

	// Store shares state between instances. Nil keeps the breaker local.
	Store gobreaker.SharedDataStore

	// Classifier decides which outcomes count as failures.
	// Default: DefaultBreakerClassifier
	Classifier Classifier

	// OnStateChange is called after every transition.
	OnStateChange func(name string, from, to gobreaker.State)

	// Logger receives transition logs. Default: the global zerolog logger.
	Logger *zerolog.Logger

	// Metrics receives breaker gauges and counters. Optional.
	Metrics *Metrics
}

// DefaultBreakerConfig returns a local breaker configuration:
// a 10s window, 10s open period, trips at 5 consecutive failures or a 50%
// failure ratio over at least 20 requests.
func DefaultBreakerConfig(name string) BreakerConfig {
	return BreakerConfig{
		Name:                name,
		MaxRequests:         1,
		Interval:            10 * time.Second,
		Timeout:             10 * time.Second,
		FailureThreshold:    20,
		FailureRatio:        0.5,
		ConsecutiveFailures: 5,
		Classifier:          DefaultBreakerClassifier,
	}
}

// DistributedBreakerConfig is DefaultBreakerConfig sharing state through
// store.
func DistributedBreakerConfig(name string, store gobreaker.SharedDataStore) BreakerConfig {
	cfg := DefaultBreakerConfig(name)
	cfg.Store = store
	return cfg
}

// readyToTrip reports whether counts cross the configured thresholds.
func (c BreakerConfig) readyToTrip(counts gobreaker.Counts) bool {
	if c.ConsecutiveFailures > 0 && counts.ConsecutiveFailures >= c.ConsecutiveFailures {
		return true
	}
	if c.FailureThreshold > 0 && counts.Requests < c.FailureThreshold {
		return false
	}
	if c.FailureRatio > 0 && counts.Requests > 0 {
		return float64(counts.TotalFailures)/float64(counts.Requests) >= c.FailureRatio
	}
	return false
}

// executor is satisfied by both the local and the distributed breaker.
type executor interface {
	Execute(req func() (*http.Response, error)) (*http.Response, error)
}

// Breaker returns a decorator guarding calls with one circuit breaker.
// Every RoundTripper the decorator wraps shares that breaker.
//
// A distributed breaker that cannot be created degrades to a local one.
func Breaker(cfg BreakerConfig) Decorator {
	if cfg.Name == "" {
		cfg.Name = defaultName
	}
	if cfg.Classifier == nil {
		cfg.Classifier = DefaultBreakerClassifier
	}
	logger := loggerOrGlobal(cfg.Logger)

	settings := gobreaker.Settings{
		Name:        cfg.Name,
		MaxRequests: cfg.MaxRequests,
		Interval:    cfg.Interval,
		Timeout:     cfg.Timeout,
		ReadyToTrip: cfg.readyToTrip,
		IsSuccessful: func(err error) bool {
			if err == nil {
				return true
			}
			return !errors.Is(err, errCountedFailure) && !cfg.Classifier(nil, err)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn().
				Str("breaker", name).
				Str("from", from.String()).
				Str("to", to.String()).
				Msg("circuit breaker state changed")
			cfg.Metrics.recordBreakerState(name, to)
			if cfg.OnStateChange != nil {
				cfg.OnStateChange(name, from, to)
			}
		},
	}

	var cb executor = gobreaker.NewCircuitBreaker[*http.Response](settings)
	if cfg.Store != nil {
		dcb, err := gobreaker.NewDistributedCircuitBreaker[*http.Response](cfg.Store, settings)
		if err != nil {
			logger.Error().Err(err).Str("breaker", cfg.Name).
				Msg("distributed circuit breaker unavailable, using local state")
		} else {
			cb = dcb
		}
	}

	return func(next http.RoundTripper) http.RoundTripper {
		return &breakerTransport{breaker: cb, next: next, cfg: cfg}
	}
}

type breakerTransport struct {
	breaker executor
	next    http.RoundTripper
	cfg     BreakerConfig
}

// errCountedFailure tells the breaker a response was a failure even though
// the round trip itself succeeded.
var errCountedFailure = errors.New("counted failure")

// RoundTrip implements http.RoundTripper.
func (t *breakerTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	var counted *http.Response

	resp, err := t.breaker.Execute(func() (*http.Response, error) {
		resp, err := t.next.RoundTrip(req) //nolint:bodyclose // returned to the caller
		if err != nil {
			return nil, err
		}
		if t.cfg.Classifier(resp, nil) {
			counted = resp
			return nil, errCountedFailure
		}
		return resp, nil
	})

	switch {
	case err == nil:
		t.cfg.Metrics.recordBreakerRequest(t.cfg.Name, "success")
		return resp, nil
	case errors.Is(err, errCountedFailure):
		t.cfg.Metrics.recordBreakerRequest(t.cfg.Name, "failure")
		return counted, nil
	case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
		t.cfg.Metrics.recordBreakerRequest(t.cfg.Name, "rejected")
		return nil, fmt.Errorf("%w: %s: %w", ErrCircuitOpen, t.cfg.Name, err)
	default:
		t.cfg.Metrics.recordBreakerRequest(t.cfg.Name, "failure")
		return nil, err
	}
}
