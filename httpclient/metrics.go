package httpclient

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

var (
	latencyBuckets = []float64{0.005, 0.01, 0.025, 0.05, 0.075, 0.1, 0.25, 0.5, 0.75, 1, 2.5, 5, 7.5, 10}
	phaseBuckets   = []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5}
	sizeBuckets    = []float64{0, 100, 1024, 10 * 1024, 100 * 1024, 1024 * 1024, 10 * 1024 * 1024}
)

// metrics holds the instruments recorded by the transport and the
// dispatch pipeline. A nil *metrics records nothing.
type metrics struct {
	// Transport level, one per network round trip.
	requestDuration         metric.Float64Histogram
	requestBodySize         metric.Int64Histogram
	responseBodySize        metric.Int64Histogram
	activeRequests          metric.Int64UpDownCounter
	requestErrors           metric.Int64Counter
	connectionsOpened       metric.Int64Counter
	connectionDuration      metric.Float64Histogram
	dnsDuration             metric.Float64Histogram
	tlsDuration             metric.Float64Histogram
	ttfb                    metric.Float64Histogram
	contentTransferDuration metric.Float64Histogram

	// Dispatch level, one per call including extraction.
	dispatchDuration metric.Float64Histogram
	dispatchErrors   metric.Int64Counter
}

type instrumentBuilder struct {
	meter metric.Meter
	err   error
}

func (b *instrumentBuilder) seconds(name, desc string, buckets []float64) metric.Float64Histogram {
	if b.err != nil {
		return nil
	}
	var h metric.Float64Histogram
	h, b.err = b.meter.Float64Histogram(name,
		metric.WithDescription(desc),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(buckets...),
	)
	return h
}

func (b *instrumentBuilder) bytes(name, desc string) metric.Int64Histogram {
	if b.err != nil {
		return nil
	}
	var h metric.Int64Histogram
	h, b.err = b.meter.Int64Histogram(name,
		metric.WithDescription(desc),
		metric.WithUnit("By"),
		metric.WithExplicitBucketBoundaries(sizeBuckets...),
	)
	return h
}

func (b *instrumentBuilder) counter(name, desc, unit string) metric.Int64Counter {
	if b.err != nil {
		return nil
	}
	var c metric.Int64Counter
	c, b.err = b.meter.Int64Counter(name, metric.WithDescription(desc), metric.WithUnit(unit))
	return c
}

// newMetrics creates the metric instruments.
func newMetrics(meter metric.Meter) (*metrics, error) {
	b := &instrumentBuilder{meter: meter}
	m := &metrics{
		requestDuration: b.seconds("http.client.request.duration",
			"Duration of HTTP client requests in seconds", latencyBuckets),
		requestBodySize: b.bytes("http.client.request.body.size",
			"Size of HTTP client request bodies in bytes"),
		responseBodySize: b.bytes("http.client.response.body.size",
			"Size of HTTP client response bodies in bytes"),
		requestErrors: b.counter("http.client.request.error",
			"Number of HTTP client request errors", "{error}"),
		connectionsOpened: b.counter("http.client.connection.opened",
			"Number of HTTP client connections opened", "{connection}"),
		connectionDuration: b.seconds("http.client.connection.duration",
			"Time to establish HTTP connection in seconds", phaseBuckets),
		dnsDuration: b.seconds("http.client.dns.duration",
			"DNS lookup duration in seconds", phaseBuckets),
		tlsDuration: b.seconds("http.client.tls.duration",
			"TLS handshake duration in seconds", phaseBuckets),
		ttfb: b.seconds("http.client.ttfb",
			"Time to first response byte in seconds", latencyBuckets),
		contentTransferDuration: b.seconds("http.client.content_transfer.duration",
			"Response body download duration in seconds", latencyBuckets),
		dispatchDuration: b.seconds("apisdk.client.dispatch.duration",
			"Duration of a dispatched call including response extraction in seconds", latencyBuckets),
		dispatchErrors: b.counter("apisdk.client.dispatch.errors",
			"Number of dispatched calls that failed, by error kind", "{error}"),
	}
	if b.err != nil {
		return nil, b.err
	}

	var err error
	m.activeRequests, err = meter.Int64UpDownCounter(
		"http.client.active_requests",
		metric.WithDescription("Number of active HTTP client requests"),
		metric.WithUnit("{request}"),
	)
	if err != nil {
		return nil, err
	}
	return m, nil
}

func recordSeconds(ctx context.Context, h metric.Float64Histogram, d time.Duration, attrs []attribute.KeyValue) {
	if h == nil {
		return
	}
	h.Record(ctx, d.Seconds(), metric.WithAttributes(attrs...))
}

func (m *metrics) recordRequestDuration(ctx context.Context, d time.Duration, attrs []attribute.KeyValue) {
	if m == nil {
		return
	}
	recordSeconds(ctx, m.requestDuration, d, attrs)
}

func (m *metrics) recordRequestBodySize(ctx context.Context, size int64, attrs []attribute.KeyValue) {
	if m == nil || m.requestBodySize == nil {
		return
	}
	m.requestBodySize.Record(ctx, size, metric.WithAttributes(attrs...))
}

func (m *metrics) recordResponseBodySize(ctx context.Context, size int64, attrs []attribute.KeyValue) {
	if m == nil || m.responseBodySize == nil {
		return
	}
	m.responseBodySize.Record(ctx, size, metric.WithAttributes(attrs...))
}

func (m *metrics) recordConnectionOpened(ctx context.Context, attrs []attribute.KeyValue) {
	if m == nil || m.connectionsOpened == nil {
		return
	}
	m.connectionsOpened.Add(ctx, 1, metric.WithAttributes(attrs...))
}

func (m *metrics) recordConnectionDuration(ctx context.Context, d time.Duration, attrs []attribute.KeyValue) {
	if m == nil {
		return
	}
	recordSeconds(ctx, m.connectionDuration, d, attrs)
}

func (m *metrics) recordDNSDuration(ctx context.Context, d time.Duration, attrs []attribute.KeyValue) {
	if m == nil {
		return
	}
	recordSeconds(ctx, m.dnsDuration, d, attrs)
}

func (m *metrics) recordTLSDuration(ctx context.Context, d time.Duration, attrs []attribute.KeyValue) {
	if m == nil {
		return
	}
	recordSeconds(ctx, m.tlsDuration, d, attrs)
}

func (m *metrics) recordTTFB(ctx context.Context, d time.Duration, attrs []attribute.KeyValue) {
	if m == nil {
		return
	}
	recordSeconds(ctx, m.ttfb, d, attrs)
}

func (m *metrics) recordContentTransferDuration(ctx context.Context, d time.Duration, attrs []attribute.KeyValue) {
	if m == nil {
		return
	}
	recordSeconds(ctx, m.contentTransferDuration, d, attrs)
}

func (m *metrics) recordActiveRequestStart(ctx context.Context, attrs []attribute.KeyValue) {
	if m == nil || m.activeRequests == nil {
		return
	}
	m.activeRequests.Add(ctx, 1, metric.WithAttributes(attrs...))
}

func (m *metrics) recordActiveRequestEnd(ctx context.Context, attrs []attribute.KeyValue) {
	if m == nil || m.activeRequests == nil {
		return
	}
	m.activeRequests.Add(ctx, -1, metric.WithAttributes(attrs...))
}

func (m *metrics) recordError(ctx context.Context, errorType string, attrs []attribute.KeyValue) {
	if m == nil || m.requestErrors == nil {
		return
	}
	all := append(append(make([]attribute.KeyValue, 0, len(attrs)+1), attrs...),
		attribute.String("error.type", errorType))
	m.requestErrors.Add(ctx, 1, metric.WithAttributes(all...))
}

// recordDispatch records the outcome of one call through the pipeline.
func (m *metrics) recordDispatch(ctx context.Context, d time.Duration, err error, attrs []attribute.KeyValue) {
	if m == nil {
		return
	}
	if err != nil {
		attrs = append(append(make([]attribute.KeyValue, 0, len(attrs)+1), attrs...),
			attribute.String("error.kind", KindOf(err).String()))
		if m.dispatchErrors != nil {
			m.dispatchErrors.Add(ctx, 1, metric.WithAttributes(attrs...))
		}
	}
	recordSeconds(ctx, m.dispatchDuration, d, attrs)
}
