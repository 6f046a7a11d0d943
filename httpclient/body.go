package httpclient

import (
	"io"
	"sync"
	"sync/atomic"

	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// wrappedBody ends the transport span once the response body is fully
// read or closed, and reports the number of bytes read.
type wrappedBody struct {
	span    trace.Span
	body    io.ReadCloser
	read    atomic.Int64
	once    sync.Once
	onClose func(bytesRead int64)
}

// newWrappedBody returns nil for a nil body.
func newWrappedBody(span trace.Span, body io.ReadCloser, onClose func(bytesRead int64)) io.ReadCloser {
	if body == nil {
		return nil
	}
	return &wrappedBody{span: span, body: body, onClose: onClose}
}

func (w *wrappedBody) Read(p []byte) (int, error) {
	n, err := w.body.Read(p)
	w.read.Add(int64(n))

	switch err {
	case nil:
	case io.EOF:
		w.finish()
	default:
		w.span.RecordError(err)
		w.span.SetStatus(codes.Error, err.Error())
	}
	return n, err
}

func (w *wrappedBody) Close() error {
	w.finish()
	return w.body.Close()
}

func (w *wrappedBody) finish() {
	w.once.Do(func() {
		if w.onClose != nil {
			w.onClose(w.read.Load())
		}
		w.span.End()
	})
}
