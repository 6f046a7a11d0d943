package httpclient

import (
	"crypto/tls"
	"net"
	"net/http"
	"net/url"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
)

// scope is the instrumentation scope name for OpenTelemetry.
const scope = "github.com/kroma-labs/apisdk-go/httpclient"

// Config holds the HTTP transport configuration.
// Use DefaultConfig() and modify specific fields as needed.
//
// Example:
//
//	cfg := httpclient.DefaultConfig()
//	cfg.Timeout = 5 * time.Second
//
//	client, err := httpclient.New("https://api.example.com",
//	    httpclient.WithConfig(cfg),
//	)
type Config struct {
	// Timeout limits the whole network exchange, including reading the
	// response body. Zero means no timeout; callers then bound calls with
	// their context.
	//
	// Default: 15s
	Timeout time.Duration

	// MaxIdleConns controls the idle (keep-alive) connections across all
	// hosts combined.
	//
	// Default: 100
	MaxIdleConns int

	// MaxIdleConnsPerHost controls the idle connections kept per host.
	// With a router spreading calls over several endpoints, each endpoint
	// is a separate host.
	//
	// Default: 20
	MaxIdleConnsPerHost int

	// MaxConnsPerHost limits idle plus active connections per host.
	// Zero means unlimited.
	//
	// Default: 100
	MaxConnsPerHost int

	// IdleConnTimeout is how long an idle connection stays in the pool.
	//
	// Default: 90s
	IdleConnTimeout time.Duration

	// TLSHandshakeTimeout is the maximum time to wait for a TLS handshake.
	//
	// Default: 10s
	TLSHandshakeTimeout time.Duration

	// ExpectContinueTimeout is how long to wait for "100 Continue".
	//
	// Default: 1s
	ExpectContinueTimeout time.Duration

	// ResponseHeaderTimeout is the time to wait for response headers after
	// the request is written. Zero disables it.
	//
	// Default: 0
	ResponseHeaderTimeout time.Duration

	// DialTimeout bounds each TCP connect, including every address a
	// Resolver returns.
	//
	// Default: 5s
	DialTimeout time.Duration

	// KeepAlive is the TCP keep-alive probe interval.
	//
	// Default: 30s
	KeepAlive time.Duration

	// FallbackDelay is the RFC 6555 dual-stack fallback delay.
	//
	// Default: 300ms
	FallbackDelay time.Duration

	// WriteBufferSize and ReadBufferSize size the per-connection buffers.
	//
	// Default: 64KB
	WriteBufferSize int
	ReadBufferSize  int

	// MaxResponseHeaderBytes limits the size of response headers.
	// Zero uses the net/http default.
	MaxResponseHeaderBytes int64

	// DisableKeepAlives forces a new connection for each request.
	DisableKeepAlives bool

	// DisableCompression stops the transport from asking for gzip.
	//
	// Default: true
	DisableCompression bool

	// ForceHTTP2 attempts HTTP/2 even with a custom dialer or TLS config.
	ForceHTTP2 bool
}

// DefaultConfig returns balanced transport settings for service to
// service calls.
func DefaultConfig() Config {
	return Config{
		Timeout: 15 * time.Second,

		MaxIdleConns:        100,
		MaxIdleConnsPerHost: 20,
		MaxConnsPerHost:     100,
		IdleConnTimeout:     90 * time.Second,

		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,

		DialTimeout:   5 * time.Second,
		KeepAlive:     30 * time.Second,
		FallbackDelay: 300 * time.Millisecond,

		WriteBufferSize: 64 * 1024,
		ReadBufferSize:  64 * 1024,

		DisableCompression: true,
	}
}

// HighThroughputConfig returns settings for high-concurrency callers:
// larger pools, unlimited connections per host and bigger buffers.
func HighThroughputConfig() Config {
	cfg := DefaultConfig()
	cfg.Timeout = 30 * time.Second
	cfg.MaxIdleConns = 500
	cfg.MaxIdleConnsPerHost = 100
	cfg.MaxConnsPerHost = 0
	cfg.IdleConnTimeout = 120 * time.Second
	cfg.WriteBufferSize = 128 * 1024
	cfg.ReadBufferSize = 128 * 1024
	return cfg
}

// LowLatencyConfig returns settings that fail fast: short timeouts and
// an early response header deadline.
func LowLatencyConfig() Config {
	cfg := DefaultConfig()
	cfg.Timeout = 5 * time.Second
	cfg.MaxIdleConns = 50
	cfg.MaxIdleConnsPerHost = 25
	cfg.MaxConnsPerHost = 50
	cfg.IdleConnTimeout = 60 * time.Second
	cfg.TLSHandshakeTimeout = 5 * time.Second
	cfg.ExpectContinueTimeout = 500 * time.Millisecond
	cfg.ResponseHeaderTimeout = 3 * time.Second
	cfg.DialTimeout = 2 * time.Second
	cfg.KeepAlive = 15 * time.Second
	cfg.FallbackDelay = 150 * time.Millisecond
	cfg.WriteBufferSize = 32 * 1024
	cfg.ReadBufferSize = 32 * 1024
	cfg.ForceHTTP2 = true
	return cfg
}

// internalConfig holds everything New needs to assemble a Client.
type internalConfig struct {
	httpConfig Config

	// Collaborators
	router       Router
	rewriter     URLRewriter
	resolver     Resolver
	signature    Signature
	middlewares  []Middleware
	initialisers []Initialiser
	transport    http.RoundTripper

	defaultHeaders http.Header
	logger         zerolog.Logger

	// Observability
	tracerProvider     trace.TracerProvider
	meterProvider      metric.MeterProvider
	tracer             trace.Tracer
	metrics            *metrics
	propagator         propagation.TextMapPropagator
	serviceName        string
	enableNetworkTrace bool

	// Transport security
	tlsConfig            *tls.Config
	proxyURL             *url.URL
	proxyFromEnvironment bool
}

// newConfig creates a config with defaults, then applies opts.
func newConfig(opts ...Option) *internalConfig {
	cfg := &internalConfig{
		httpConfig:           DefaultConfig(),
		defaultHeaders:       make(http.Header),
		logger:               log.Logger,
		tracerProvider:       otel.GetTracerProvider(),
		meterProvider:        otel.GetMeterProvider(),
		enableNetworkTrace:   true,
		proxyFromEnvironment: true,
	}

	for _, opt := range opts {
		opt(cfg)
	}

	cfg.tracer = cfg.tracerProvider.Tracer(scope)
	m, err := newMetrics(cfg.meterProvider.Meter(scope))
	if err != nil {
		cfg.logger.Warn().Err(err).Msg("httpclient: metrics disabled")
	}
	cfg.metrics = m

	return cfg
}

func (cfg *internalConfig) dialer() *net.Dialer {
	hc := cfg.httpConfig
	return &net.Dialer{
		Timeout:       hc.DialTimeout,
		KeepAlive:     hc.KeepAlive,
		FallbackDelay: hc.FallbackDelay,
	}
}

// buildTransport returns the network transport. A configured Resolver is
// installed in the dialer so it only changes the dialed address.
func (cfg *internalConfig) buildTransport() http.RoundTripper {
	if cfg.transport != nil {
		if t, ok := cfg.transport.(*http.Transport); ok && cfg.resolver != nil {
			t = t.Clone()
			t.DialContext = (&resolvingDialer{resolver: cfg.resolver, dialer: cfg.dialer()}).DialContext
			return t
		}
		return cfg.transport
	}

	hc := cfg.httpConfig
	dialer := cfg.dialer()
	transport := &http.Transport{
		DialContext:            dialer.DialContext,
		MaxIdleConns:           hc.MaxIdleConns,
		MaxIdleConnsPerHost:    hc.MaxIdleConnsPerHost,
		MaxConnsPerHost:        hc.MaxConnsPerHost,
		IdleConnTimeout:        hc.IdleConnTimeout,
		TLSHandshakeTimeout:    hc.TLSHandshakeTimeout,
		ResponseHeaderTimeout:  hc.ResponseHeaderTimeout,
		ExpectContinueTimeout:  hc.ExpectContinueTimeout,
		DisableKeepAlives:      hc.DisableKeepAlives,
		DisableCompression:     hc.DisableCompression,
		WriteBufferSize:        hc.WriteBufferSize,
		ReadBufferSize:         hc.ReadBufferSize,
		MaxResponseHeaderBytes: hc.MaxResponseHeaderBytes,
		TLSClientConfig:        cfg.tlsConfig,
		ForceAttemptHTTP2:      hc.ForceHTTP2,
	}
	if cfg.resolver != nil {
		transport.DialContext = (&resolvingDialer{resolver: cfg.resolver, dialer: dialer}).DialContext
	}

	if cfg.proxyURL != nil {
		transport.Proxy = http.ProxyURL(cfg.proxyURL)
	} else if cfg.proxyFromEnvironment {
		transport.Proxy = http.ProxyFromEnvironment
	}
	return transport
}

// baseAttributes returns attributes shared by all spans and metrics.
func (cfg *internalConfig) baseAttributes() []attribute.KeyValue {
	if cfg.serviceName == "" {
		return nil
	}
	return []attribute.KeyValue{attribute.String("http.client.name", cfg.serviceName)}
}

// Option configures a Client.
type Option func(*internalConfig)

// WithConfig sets the transport configuration.
func WithConfig(c Config) Option {
	return func(cfg *internalConfig) {
		cfg.httpConfig = c
	}
}

// WithServiceName names the downstream service in spans and metrics.
func WithServiceName(name string) Option {
	return func(cfg *internalConfig) {
		cfg.serviceName = name
	}
}

// WithTracerProvider sets the tracer provider. Default: otel global.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(cfg *internalConfig) {
		cfg.tracerProvider = tp
	}
}

// WithMeterProvider sets the meter provider. Default: otel global.
func WithMeterProvider(mp metric.MeterProvider) Option {
	return func(cfg *internalConfig) {
		cfg.meterProvider = mp
	}
}

// WithPropagators sets the propagator injecting trace context into
// outgoing headers. Default: W3C TraceContext and Baggage.
func WithPropagators(p propagation.TextMapPropagator) Option {
	return func(cfg *internalConfig) {
		cfg.propagator = p
	}
}

// WithDisableNetworkTrace disables DNS, connect, TLS and TTFB capture.
func WithDisableNetworkTrace() Option {
	return func(cfg *internalConfig) {
		cfg.enableNetworkTrace = false
	}
}

// WithTLSConfig sets the TLS configuration of the default transport.
func WithTLSConfig(tlsCfg *tls.Config) Option {
	return func(cfg *internalConfig) {
		cfg.tlsConfig = tlsCfg
	}
}

// WithProxyURL routes requests through proxyURL.
func WithProxyURL(proxyURL *url.URL) Option {
	return func(cfg *internalConfig) {
		cfg.proxyURL = proxyURL
		cfg.proxyFromEnvironment = false
	}
}

// WithProxyFromEnvironment toggles HTTP_PROXY / HTTPS_PROXY support.
// Default: enabled.
func WithProxyFromEnvironment(enabled bool) Option {
	return func(cfg *internalConfig) {
		cfg.proxyFromEnvironment = enabled
	}
}

// WithTransport replaces the network transport. A Resolver is installed
// into it only when it is an *http.Transport.
func WithTransport(rt http.RoundTripper) Option {
	return func(cfg *internalConfig) {
		cfg.transport = rt
	}
}

// WithRouter selects the endpoint of each call with r.
// It replaces any URLRewriter set before.
func WithRouter(r Router) Option {
	return func(cfg *internalConfig) {
		cfg.router = r
		cfg.rewriter = nil
	}
}

// WithRewriter transforms the base URL of each call with r.
// It replaces any Router set before.
func WithRewriter(r URLRewriter) Option {
	return func(cfg *internalConfig) {
		cfg.rewriter = r
		cfg.router = nil
	}
}

// WithResolver resolves host names with r before the system resolver.
func WithResolver(r Resolver) Option {
	return func(cfg *internalConfig) {
		cfg.resolver = r
	}
}

// WithSignature signs every call with sig. A Signature set on a single
// call takes precedence.
func WithSignature(sig Signature) Option {
	return func(cfg *internalConfig) {
		cfg.signature = sig
	}
}

// WithMiddleware appends user middlewares. They run in registration order
// between the host rewrite and the signing stages.
func WithMiddleware(mw ...Middleware) Option {
	return func(cfg *internalConfig) {
		cfg.middlewares = append(cfg.middlewares, mw...)
	}
}

// WithInitialiser runs init on the extension bag of every call.
func WithInitialiser(init Initialiser) Option {
	return func(cfg *internalConfig) {
		cfg.initialisers = append(cfg.initialisers, init)
	}
}

// WithLogLevel sets the client default log level. Per-call configuration
// overrides it; it overrides the process default.
func WithLogLevel(level zerolog.Level) Option {
	return WithInitialiser(LogConfig{Level: level})
}

// WithLogger sets the sink of the logging stage.
// Default: the global github.com/rs/zerolog/log logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(cfg *internalConfig) {
		cfg.logger = logger
	}
}

// WithMockServer answers every call of the client with mock.
func WithMockServer(mock *MockServer) Option {
	return WithInitialiser(mock)
}

// WithDefaultHeader sets a header on every request built by the client.
func WithDefaultHeader(key, value string) Option {
	return func(cfg *internalConfig) {
		cfg.defaultHeaders.Set(key, value)
	}
}

// WithDefaultHeaders sets headers on every request built by the client.
func WithDefaultHeaders(headers map[string]string) Option {
	return func(cfg *internalConfig) {
		for k, v := range headers {
			cfg.defaultHeaders.Set(k, v)
		}
	}
}
