package httpclient

import (
	"context"
	"net/http"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/trace"
)

// Correlation headers set on every outgoing request.
const (
	HeaderRequestID = "X-Request-ID"
	HeaderTraceID   = "X-Trace-ID"
	HeaderSpanID    = "X-Span-ID"
)

// RequestID is the correlation id extension of a call.
type RequestID string

// TraceID is the trace id extension of a call, with an optional span id.
type TraceID struct {
	TraceID string
	SpanID  string
}

func generateID() string {
	return uuid.New().String()
}

// RequestIDFromContext returns the request id resolved for the call
// carried by ctx, or an empty string.
func RequestIDFromContext(ctx context.Context) string {
	if id, ok := GetExtension[RequestID](ExtensionsFromContext(ctx)); ok {
		return string(id)
	}
	return ""
}

// TraceIDFromContext returns the trace id resolved for the call carried
// by ctx.
func TraceIDFromContext(ctx context.Context) (TraceID, bool) {
	return GetExtension[TraceID](ExtensionsFromContext(ctx))
}

// resolveIDs makes sure the bag holds both a RequestID and a TraceID.
//
// A single supplied id is used for both. With none supplied, the active
// OpenTelemetry span provides the trace and span ids, else a fresh id is
// generated for both.
func resolveIDs(ctx context.Context, ext *Extensions) (RequestID, TraceID) {
	reqID, hasReq := GetExtension[RequestID](ext)
	traceID, hasTrace := GetExtension[TraceID](ext)

	switch {
	case hasReq && hasTrace:
	case hasReq:
		traceID = TraceID{TraceID: string(reqID)}
	case hasTrace:
		reqID = RequestID(traceID.TraceID)
	default:
		if sc := trace.SpanContextFromContext(ctx); sc.IsValid() {
			traceID = TraceID{TraceID: sc.TraceID().String(), SpanID: sc.SpanID().String()}
			reqID = RequestID(traceID.TraceID)
		} else {
			id := generateID()
			reqID, traceID = RequestID(id), TraceID{TraceID: id}
		}
	}

	SetExtension(ext, reqID)
	SetExtension(ext, traceID)
	return reqID, traceID
}

// traceMiddleware is the first stage of the chain.
// Headers already present on the request are left untouched.
func traceMiddleware() Middleware {
	return func(next http.RoundTripper) http.RoundTripper {
		return RoundTripperFunc(func(req *http.Request) (*http.Response, error) {
			ext := ExtensionsFromContext(req.Context())
			if ext == nil {
				ext = NewExtensions()
				req = req.WithContext(ContextWithExtensions(req.Context(), ext))
			}

			reqID, traceID := resolveIDs(req.Context(), ext)

			if req.Header.Get(HeaderRequestID) == "" {
				req.Header.Set(HeaderRequestID, string(reqID))
			}
			if req.Header.Get(HeaderTraceID) == "" {
				req.Header.Set(HeaderTraceID, traceID.TraceID)
				if traceID.SpanID != "" {
					req.Header.Set(HeaderSpanID, traceID.SpanID)
				}
			}
			return next.RoundTrip(req)
		})
	}
}
