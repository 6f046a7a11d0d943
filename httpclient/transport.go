package httpclient

import (
	"fmt"
	"net/http"
	"net/http/httptrace"
	"strconv"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
)

// Compile-time interface check.
var _ http.RoundTripper = (*otelTransport)(nil)

// otelTransport wraps the network transport with a client span and
// metrics. The span ends when the response body is closed, so it covers
// the body transfer.
type otelTransport struct {
	base       http.RoundTripper
	cfg        *internalConfig
	propagator propagation.TextMapPropagator
}

func newOtelTransport(base http.RoundTripper, cfg *internalConfig) *otelTransport {
	p := cfg.propagator
	if p == nil {
		p = propagation.NewCompositeTextMapPropagator(
			propagation.TraceContext{},
			propagation.Baggage{},
		)
	}
	return &otelTransport{base: base, cfg: cfg, propagator: p}
}

// Unwrap returns the network transport.
func (t *otelTransport) Unwrap() http.RoundTripper { return t.base }

// CloseIdleConnections forwards to the network transport.
func (t *otelTransport) CloseIdleConnections() {
	if ci, ok := t.base.(interface{ CloseIdleConnections() }); ok {
		ci.CloseIdleConnections()
	}
}

// RoundTrip implements http.RoundTripper.
func (t *otelTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	start := time.Now()

	ctx, span := t.cfg.tracer.Start(req.Context(), "HTTP "+req.Method,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(t.requestAttributes(req)...),
	)

	t.propagator.Inject(ctx, propagation.HeaderCarrier(req.Header))

	baseAttrs := t.cfg.baseAttributes()
	t.cfg.metrics.recordActiveRequestStart(ctx, baseAttrs)
	defer t.cfg.metrics.recordActiveRequestEnd(ctx, baseAttrs)

	if req.ContentLength > 0 {
		t.cfg.metrics.recordRequestBodySize(ctx, req.ContentLength, baseAttrs)
	}

	var nt *networkTrace
	if t.cfg.enableNetworkTrace {
		nt = &networkTrace{}
		ctx = httptrace.WithClientTrace(ctx, nt.clientTrace())
	}

	resp, err := t.base.RoundTrip(req.WithContext(ctx))
	duration := time.Since(start)

	if nt != nil {
		nt.addTraceEvents(span)
		nt.recordTimingMetrics(ctx, t.cfg.metrics, baseAttrs)
	}

	if err != nil {
		errorType := classifyError(err)
		setSpanError(span, err, errorType)
		t.cfg.metrics.recordError(ctx, errorType, baseAttrs)
		t.cfg.metrics.recordRequestDuration(ctx, duration, t.metricsAttributes(req, nil, errorType))
		span.End()
		return nil, err
	}

	span.SetAttributes(t.responseAttributes(resp)...)
	if resp.StatusCode >= http.StatusBadRequest {
		span.SetStatus(codes.Error, fmt.Sprintf("HTTP %d", resp.StatusCode))
		span.SetAttributes(attribute.String("error.type", errorTypeFromStatusCode(resp.StatusCode)))
	}
	t.cfg.metrics.recordRequestDuration(ctx, duration, t.metricsAttributes(req, resp, ""))

	headersAt := time.Now()
	resp.Body = newWrappedBody(span, resp.Body, func(n int64) {
		t.cfg.metrics.recordResponseBodySize(ctx, n, baseAttrs)
		t.cfg.metrics.recordContentTransferDuration(ctx, time.Since(headersAt), baseAttrs)
	})
	if resp.Body == nil {
		span.End()
	}
	return resp, nil
}

func serverAttributes(req *http.Request, defaultPort bool) []attribute.KeyValue {
	if req.URL == nil {
		return nil
	}
	var attrs []attribute.KeyValue
	if host := req.URL.Hostname(); host != "" {
		attrs = append(attrs, attribute.String("server.address", host))
	}
	if port := req.URL.Port(); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			attrs = append(attrs, attribute.Int("server.port", p))
		}
	} else if defaultPort {
		switch req.URL.Scheme {
		case "http":
			attrs = append(attrs, attribute.Int("server.port", 80))
		case "https":
			attrs = append(attrs, attribute.Int("server.port", 443))
		}
	}
	return attrs
}

func (t *otelTransport) requestAttributes(req *http.Request) []attribute.KeyValue {
	attrs := make([]attribute.KeyValue, 0, 10)
	attrs = append(attrs, t.cfg.baseAttributes()...)
	attrs = append(attrs, attribute.String("http.request.method", req.Method))

	if req.URL != nil {
		attrs = append(attrs,
			attribute.String("url.full", req.URL.Redacted()),
			attribute.String("url.scheme", req.URL.Scheme),
		)
		attrs = append(attrs, serverAttributes(req, true)...)
	}
	if req.ContentLength > 0 {
		attrs = append(attrs, attribute.Int64("http.request.body.size", req.ContentLength))
	}
	if ua := req.UserAgent(); ua != "" {
		attrs = append(attrs, attribute.String("user_agent.original", ua))
	}

	ext := ExtensionsFromContext(req.Context())
	if target, ok := GetExtension[LogTarget](ext); ok && target != "" {
		attrs = append(attrs, attribute.String("apisdk.target", string(target)))
	}
	if id, ok := GetExtension[RequestID](ext); ok {
		attrs = append(attrs, attribute.String("apisdk.request_id", string(id)))
	}
	return attrs
}

func (t *otelTransport) responseAttributes(resp *http.Response) []attribute.KeyValue {
	attrs := []attribute.KeyValue{attribute.Int("http.response.status_code", resp.StatusCode)}
	if resp.ContentLength > 0 {
		attrs = append(attrs, attribute.Int64("http.response.body.size", resp.ContentLength))
	}
	if resp.ProtoMajor > 0 {
		version := strconv.Itoa(resp.ProtoMajor)
		if resp.ProtoMajor == 1 {
			version += "." + strconv.Itoa(resp.ProtoMinor)
		}
		attrs = append(attrs, attribute.String("network.protocol.version", version))
	}
	return attrs
}

// metricsAttributes returns the low cardinality attributes of a request.
// errorType is used when resp is nil.
func (t *otelTransport) metricsAttributes(req *http.Request, resp *http.Response, errorType string) []attribute.KeyValue {
	attrs := make([]attribute.KeyValue, 0, 6)
	attrs = append(attrs, t.cfg.baseAttributes()...)
	attrs = append(attrs, attribute.String("http.request.method", req.Method))
	attrs = append(attrs, serverAttributes(req, resp != nil)...)

	switch {
	case resp != nil:
		attrs = append(attrs, attribute.Int("http.response.status_code", resp.StatusCode))
		if resp.StatusCode >= http.StatusBadRequest {
			attrs = append(attrs, attribute.String("error.type", errorTypeFromStatusCode(resp.StatusCode)))
		}
	case errorType != "":
		attrs = append(attrs, attribute.String("error.type", errorType))
	}
	return attrs
}
