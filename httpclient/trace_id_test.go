package httpclient

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

func TestResolveIDs(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		reqID     *RequestID
		traceID   *TraceID
		wantReq   string
		wantTrace TraceID
	}{
		{
			name:      "given both ids, then keeps both",
			reqID:     ptr(RequestID("req-1")),
			traceID:   &TraceID{TraceID: "trace-1", SpanID: "span-1"},
			wantReq:   "req-1",
			wantTrace: TraceID{TraceID: "trace-1", SpanID: "span-1"},
		},
		{
			name:      "given request id only, then reuses it as trace id",
			reqID:     ptr(RequestID("req-2")),
			wantReq:   "req-2",
			wantTrace: TraceID{TraceID: "req-2"},
		},
		{
			name:      "given trace id only, then reuses it as request id",
			traceID:   &TraceID{TraceID: "trace-3", SpanID: "span-3"},
			wantReq:   "trace-3",
			wantTrace: TraceID{TraceID: "trace-3", SpanID: "span-3"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			ext := NewExtensions()
			if tt.reqID != nil {
				SetExtension(ext, *tt.reqID)
			}
			if tt.traceID != nil {
				SetExtension(ext, *tt.traceID)
			}

			reqID, traceID := resolveIDs(context.Background(), ext)
			assert.Equal(t, tt.wantReq, string(reqID))
			assert.Equal(t, tt.wantTrace, traceID)

			stored, ok := GetExtension[RequestID](ext)
			require.True(t, ok)
			assert.Equal(t, reqID, stored)
		})
	}
}

func TestResolveIDs_Generated(t *testing.T) {
	t.Parallel()

	ext := NewExtensions()
	reqID, traceID := resolveIDs(context.Background(), ext)
	assert.Len(t, string(reqID), 36)
	assert.Equal(t, string(reqID), traceID.TraceID)
	assert.Empty(t, traceID.SpanID)

	other, _ := resolveIDs(context.Background(), NewExtensions())
	assert.NotEqual(t, reqID, other)
}

func TestResolveIDs_ActiveSpan(t *testing.T) {
	t.Parallel()

	tp := sdktrace.NewTracerProvider()
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })

	ctx, span := tp.Tracer("test").Start(context.Background(), "parent")
	defer span.End()

	reqID, traceID := resolveIDs(ctx, NewExtensions())
	sc := span.SpanContext()
	assert.Equal(t, sc.TraceID().String(), traceID.TraceID)
	assert.Equal(t, sc.SpanID().String(), traceID.SpanID)
	assert.Equal(t, sc.TraceID().String(), string(reqID))
}

func TestTraceMiddleware(t *testing.T) {
	t.Parallel()

	var got http.Header
	terminal := RoundTripperFunc(func(req *http.Request) (*http.Response, error) {
		got = req.Header.Clone()
		return &http.Response{StatusCode: http.StatusOK, Body: http.NoBody}, nil
	})
	rt := chain(terminal, traceMiddleware())

	t.Run("given ids in the bag, then sets the headers", func(t *testing.T) {
		ext := NewExtensions()
		SetExtension(ext, TraceID{TraceID: "t-1", SpanID: "s-1"})
		req := httptest.NewRequest(http.MethodGet, "http://example.com", nil)
		req = req.WithContext(ContextWithExtensions(req.Context(), ext))

		_, err := rt.RoundTrip(req)
		require.NoError(t, err)
		assert.Equal(t, "t-1", got.Get(HeaderRequestID))
		assert.Equal(t, "t-1", got.Get(HeaderTraceID))
		assert.Equal(t, "s-1", got.Get(HeaderSpanID))
	})

	t.Run("given headers already set, then leaves them", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "http://example.com", nil)
		req.Header.Set(HeaderRequestID, "caller")
		req.Header.Set(HeaderTraceID, "caller-trace")

		_, err := rt.RoundTrip(req)
		require.NoError(t, err)
		assert.Equal(t, "caller", got.Get(HeaderRequestID))
		assert.Equal(t, "caller-trace", got.Get(HeaderTraceID))
	})

	t.Run("given no bag, then creates one with generated ids", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "http://example.com", nil)

		_, err := rt.RoundTrip(req)
		require.NoError(t, err)
		assert.NotEmpty(t, got.Get(HeaderRequestID))
		assert.Equal(t, got.Get(HeaderRequestID), got.Get(HeaderTraceID))
		assert.Empty(t, got.Get(HeaderSpanID))
	})
}

func TestExtensions(t *testing.T) {
	t.Parallel()

	ext := NewExtensions()
	SetExtension(ext, RequestID("a"))
	assert.False(t, SetExtensionIfAbsent(ext, RequestID("b")))
	assert.True(t, SetExtensionIfAbsent(ext, LogTarget("GetUser")))
	assert.True(t, HasExtension[RequestID](ext))
	assert.Equal(t, 2, ext.Len())

	id, ok := RemoveExtension[RequestID](ext)
	assert.True(t, ok)
	assert.Equal(t, RequestID("a"), id)
	assert.False(t, HasExtension[RequestID](ext))

	_, ok = GetExtension[TraceID](nil)
	assert.False(t, ok)
	assert.Nil(t, ExtensionsFromContext(context.Background()))
}

func ptr[T any](v T) *T { return &v }
