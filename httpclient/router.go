package httpclient

import (
	"context"
	"errors"
	"math/rand/v2"
	"sync/atomic"
)

// Router selects the endpoint for each call.
//
// Implementations must be safe for concurrent use.
type Router interface {
	NextEndpoint(ctx context.Context) (Endpoint, error)
}

// RouterFunc adapts a service discovery function to Router.
// A returned error surfaces as a routing error before any network I/O.
type RouterFunc func(ctx context.Context) (Endpoint, error)

func (f RouterFunc) NextEndpoint(ctx context.Context) (Endpoint, error) {
	ep, err := f(ctx)
	if err != nil {
		return nil, routingError(err)
	}
	if ep == nil {
		return OriginalEndpoint{}, nil
	}
	return ep, nil
}

// RouterOption configures the built-in routers.
type RouterOption func(*routerConfig)

type routerConfig struct {
	preserveHost bool
}

// WithPreserveHost keeps the logical base host in the Host header after
// the selected endpoint replaced the URL host.
func WithPreserveHost(preserve bool) RouterOption {
	return func(c *routerConfig) {
		c.preserveHost = preserve
	}
}

func newRouterConfig(opts []RouterOption) routerConfig {
	var cfg routerConfig
	for _, opt := range opts {
		opt(&cfg)
	}
	return cfg
}

var errNoEndpoints = errors.New("router requires at least one endpoint")

// FixedRouter always selects the same endpoint.
type FixedRouter struct {
	endpoint HostEndpoint
}

// NewFixedRouter returns a router pinned to endpoint.
func NewFixedRouter(endpoint HostEndpoint, opts ...RouterOption) *FixedRouter {
	cfg := newRouterConfig(opts)
	endpoint.preserveHost = cfg.preserveHost
	return &FixedRouter{endpoint: endpoint}
}

func (r *FixedRouter) NextEndpoint(_ context.Context) (Endpoint, error) {
	return r.endpoint, nil
}

// RoundRobinRouter cycles through its endpoints starting at index 0.
type RoundRobinRouter struct {
	endpoints []HostEndpoint
	counter   atomic.Uint64
}

// NewRoundRobinRouter returns a round-robin router over endpoints.
func NewRoundRobinRouter(endpoints []HostEndpoint, opts ...RouterOption) (*RoundRobinRouter, error) {
	eps, err := prepareEndpoints(endpoints, opts)
	if err != nil {
		return nil, err
	}
	return &RoundRobinRouter{endpoints: eps}, nil
}

func (r *RoundRobinRouter) NextEndpoint(_ context.Context) (Endpoint, error) {
	n := r.counter.Add(1) - 1
	return r.endpoints[n%uint64(len(r.endpoints))], nil
}

// RandomRouter draws a random endpoint on each call.
type RandomRouter struct {
	endpoints []HostEndpoint
}

// NewRandomRouter returns a random router over endpoints.
func NewRandomRouter(endpoints []HostEndpoint, opts ...RouterOption) (*RandomRouter, error) {
	eps, err := prepareEndpoints(endpoints, opts)
	if err != nil {
		return nil, err
	}
	return &RandomRouter{endpoints: eps}, nil
}

func (r *RandomRouter) NextEndpoint(_ context.Context) (Endpoint, error) {
	return r.endpoints[rand.IntN(len(r.endpoints))], nil
}

func prepareEndpoints(endpoints []HostEndpoint, opts []RouterOption) ([]HostEndpoint, error) {
	if len(endpoints) == 0 {
		return nil, routingError(errNoEndpoints)
	}
	cfg := newRouterConfig(opts)
	eps := make([]HostEndpoint, len(endpoints))
	for i, ep := range endpoints {
		ep.preserveHost = cfg.preserveHost
		eps[i] = ep
	}
	return eps, nil
}
