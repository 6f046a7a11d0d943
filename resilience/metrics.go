package resilience

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"
	gobreaker "github.com/sony/gobreaker/v2"
)

// Metrics holds the Prometheus collectors of the decorators. A nil
// *Metrics records nothing.
type Metrics struct {
	retries         *prometheus.CounterVec
	retryExhausted  *prometheus.CounterVec
	breakerState    *prometheus.GaugeVec
	breakerRequests *prometheus.CounterVec
	rateLimited     *prometheus.CounterVec
	coalesced       *prometheus.CounterVec
	hedges          *prometheus.CounterVec
}

// NewMetrics creates the collectors and registers them with reg. A nil reg
// means prometheus.DefaultRegisterer. Collectors already registered by an
// earlier call are reused.
func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	m := &Metrics{
		retries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "apisdk",
			Subsystem: "retry",
			Name:      "attempts_total",
			Help:      "Number of retry attempts.",
		}, []string{"name"}),
		retryExhausted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "apisdk",
			Subsystem: "retry",
			Name:      "exhausted_total",
			Help:      "Number of calls that failed after all retries.",
		}, []string{"name"}),
		breakerState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "apisdk",
			Subsystem: "breaker",
			Name:      "state",
			Help:      "Circuit breaker state: 0 closed, 1 half-open, 2 open.",
		}, []string{"name"}),
		breakerRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "apisdk",
			Subsystem: "breaker",
			Name:      "requests_total",
			Help:      "Requests seen by the circuit breaker by result.",
		}, []string{"name", "result"}),
		rateLimited: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "apisdk",
			Subsystem: "ratelimit",
			Name:      "rejected_total",
			Help:      "Requests rejected by the rate limiter.",
		}, []string{"name"}),
		coalesced: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "apisdk",
			Subsystem: "coalesce",
			Name:      "shared_total",
			Help:      "Requests answered by a shared in-flight round trip.",
		}, []string{"name"}),
		hedges: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "apisdk",
			Subsystem: "hedge",
			Name:      "sent_total",
			Help:      "Hedge requests sent for slow calls.",
		}, []string{"name"}),
	}

	var err error
	if m.retries, err = register(reg, m.retries); err != nil {
		return nil, err
	}
	if m.retryExhausted, err = register(reg, m.retryExhausted); err != nil {
		return nil, err
	}
	if m.breakerState, err = register(reg, m.breakerState); err != nil {
		return nil, err
	}
	if m.breakerRequests, err = register(reg, m.breakerRequests); err != nil {
		return nil, err
	}
	if m.rateLimited, err = register(reg, m.rateLimited); err != nil {
		return nil, err
	}
	if m.coalesced, err = register(reg, m.coalesced); err != nil {
		return nil, err
	}
	if m.hedges, err = register(reg, m.hedges); err != nil {
		return nil, err
	}
	return m, nil
}

func register[C prometheus.Collector](reg prometheus.Registerer, c C) (C, error) {
	if err := reg.Register(c); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(C); ok {
				return existing, nil
			}
		}
		return c, err
	}
	return c, nil
}

func (m *Metrics) recordRetry(name string) {
	if m == nil {
		return
	}
	m.retries.WithLabelValues(name).Inc()
}

func (m *Metrics) recordRetryExhausted(name string) {
	if m == nil {
		return
	}
	m.retryExhausted.WithLabelValues(name).Inc()
}

func (m *Metrics) recordBreakerState(name string, state gobreaker.State) {
	if m == nil {
		return
	}
	m.breakerState.WithLabelValues(name).Set(float64(state))
}

func (m *Metrics) recordBreakerRequest(name, result string) {
	if m == nil {
		return
	}
	m.breakerRequests.WithLabelValues(name, result).Inc()
}

func (m *Metrics) recordRateLimited(name string) {
	if m == nil {
		return
	}
	m.rateLimited.WithLabelValues(name).Inc()
}

func (m *Metrics) recordCoalesced(name string) {
	if m == nil {
		return
	}
	m.coalesced.WithLabelValues(name).Inc()
}

func (m *Metrics) recordHedge(name string) {
	if m == nil {
		return
	}
	m.hedges.WithLabelValues(name).Inc()
}
