package httpclient

import (
	"context"
	"crypto/tls"
	"errors"
	"io"
	"net"
	"net/http/httptrace"
	"strconv"
	"strings"
	"syscall"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Error type classifications for the error.type attribute.
const (
	ErrorTypeTimeout           = "timeout"
	ErrorTypeConnectionRefused = "connection_refused"
	ErrorTypeDNSError          = "dns_error"
	ErrorTypeResolveError      = "resolve_error"
	ErrorTypeTLSError          = "tls_error"
	ErrorTypeCancelled         = "cancelled"
	ErrorTypeConnectionReset   = "connection_reset"
	ErrorTypeEOF               = "eof"
	ErrorTypeUnknown           = "unknown"
)

// phase is a start/done pair captured by httptrace.
type phase struct {
	start, done time.Time
}

func (p phase) complete() bool { return !p.start.IsZero() && !p.done.IsZero() }

func (p phase) duration() time.Duration { return p.done.Sub(p.start) }

func (p phase) ms() float64 { return float64(p.duration().Microseconds()) / 1000 }

// networkTrace holds timing data of one round trip.
type networkTrace struct {
	dns, connect, tls phase

	gotConn           time.Time
	wroteRequest      time.Time
	firstResponseByte time.Time

	connReused  bool
	connIdle    bool
	connRemote  string
	protocolVer string
	dnsAddrs    []string
}

func (nt *networkTrace) clientTrace() *httptrace.ClientTrace {
	return &httptrace.ClientTrace{
		GotConn: func(info httptrace.GotConnInfo) {
			nt.gotConn = time.Now()
			nt.connReused = info.Reused
			nt.connIdle = info.WasIdle
			if info.Conn != nil && info.Conn.RemoteAddr() != nil {
				nt.connRemote = info.Conn.RemoteAddr().String()
			}
		},
		DNSStart: func(httptrace.DNSStartInfo) { nt.dns.start = time.Now() },
		DNSDone: func(info httptrace.DNSDoneInfo) {
			nt.dns.done = time.Now()
			for _, addr := range info.Addrs {
				nt.dnsAddrs = append(nt.dnsAddrs, addr.String())
			}
		},
		ConnectStart: func(_, _ string) { nt.connect.start = time.Now() },
		ConnectDone:  func(_, _ string, _ error) { nt.connect.done = time.Now() },
		TLSHandshakeStart: func() {
			nt.tls.start = time.Now()
		},
		TLSHandshakeDone: func(state tls.ConnectionState, _ error) {
			nt.tls.done = time.Now()
			nt.protocolVer = state.NegotiatedProtocol
		},
		WroteRequest:         func(httptrace.WroteRequestInfo) { nt.wroteRequest = time.Now() },
		GotFirstResponseByte: func() { nt.firstResponseByte = time.Now() },
	}
}

// addTraceEvents adds span events for the captured phases.
func (nt *networkTrace) addTraceEvents(span trace.Span) {
	if nt.dns.complete() {
		span.AddEvent("dns.start", trace.WithTimestamp(nt.dns.start))
		span.AddEvent("dns.done", trace.WithTimestamp(nt.dns.done), trace.WithAttributes(
			attribute.Float64("dns.duration_ms", nt.dns.ms()),
			attribute.StringSlice("dns.addresses", nt.dnsAddrs),
		))
	}
	if nt.connect.complete() {
		span.AddEvent("connect.start", trace.WithTimestamp(nt.connect.start))
		span.AddEvent("connect.done", trace.WithTimestamp(nt.connect.done), trace.WithAttributes(
			attribute.Float64("connect.duration_ms", nt.connect.ms()),
		))
	}
	if nt.tls.complete() {
		span.AddEvent("tls.start", trace.WithTimestamp(nt.tls.start))
		span.AddEvent("tls.done", trace.WithTimestamp(nt.tls.done), trace.WithAttributes(
			attribute.Float64("tls.duration_ms", nt.tls.ms()),
			attribute.String("tls.protocol", nt.protocolVer),
		))
	}
	if !nt.gotConn.IsZero() {
		span.AddEvent("got_conn", trace.WithTimestamp(nt.gotConn), trace.WithAttributes(
			attribute.Bool("connection.reused", nt.connReused),
			attribute.Bool("connection.was_idle", nt.connIdle),
			attribute.String("network.peer.address", nt.connRemote),
		))
	}
	if !nt.wroteRequest.IsZero() {
		span.AddEvent("wrote_request", trace.WithTimestamp(nt.wroteRequest))
	}
	if ttfb := (phase{nt.wroteRequest, nt.firstResponseByte}); ttfb.complete() {
		span.AddEvent("got_first_response_byte", trace.WithTimestamp(nt.firstResponseByte),
			trace.WithAttributes(attribute.Float64("ttfb_ms", ttfb.ms())))
	}
}

// recordTimingMetrics records the captured phases as histograms.
func (nt *networkTrace) recordTimingMetrics(ctx context.Context, m *metrics, attrs []attribute.KeyValue) {
	if m == nil {
		return
	}
	if !nt.connReused && !nt.connect.start.IsZero() {
		m.recordConnectionOpened(ctx, attrs)
	}
	if nt.dns.complete() {
		m.recordDNSDuration(ctx, nt.dns.duration(), attrs)
	}
	if nt.connect.complete() {
		m.recordConnectionDuration(ctx, nt.connect.duration(), attrs)
	}
	if nt.tls.complete() {
		m.recordTLSDuration(ctx, nt.tls.duration(), attrs)
	}
	if ttfb := (phase{nt.wroteRequest, nt.firstResponseByte}); ttfb.complete() {
		m.recordTTFB(ctx, ttfb.duration(), attrs)
	}
}

// classifyError returns an error.type classification for a transport error.
func classifyError(err error) string {
	if err == nil {
		return ""
	}

	var resolveErr *ResolveError
	var netErr net.Error
	var dnsErr *net.DNSError
	var tlsRecordErr *tls.RecordHeaderError
	var certErr *tls.CertificateVerificationError

	switch {
	case errors.Is(err, context.Canceled):
		return ErrorTypeCancelled
	case errors.Is(err, context.DeadlineExceeded):
		return ErrorTypeTimeout
	case errors.As(err, &resolveErr):
		return ErrorTypeResolveError
	case errors.As(err, &netErr) && netErr.Timeout():
		return ErrorTypeTimeout
	case errors.As(err, &dnsErr):
		return ErrorTypeDNSError
	case errors.As(err, &tlsRecordErr), errors.As(err, &certErr):
		return ErrorTypeTLSError
	case errors.Is(err, syscall.ECONNREFUSED):
		return ErrorTypeConnectionRefused
	case errors.Is(err, syscall.ECONNRESET):
		return ErrorTypeConnectionReset
	case errors.Is(err, io.EOF), errors.Is(err, io.ErrUnexpectedEOF):
		return ErrorTypeEOF
	}

	// Wrapped errors that lost their type.
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "timeout"):
		return ErrorTypeTimeout
	case strings.Contains(msg, "connection refused"):
		return ErrorTypeConnectionRefused
	case strings.Contains(msg, "connection reset"):
		return ErrorTypeConnectionReset
	case strings.Contains(msg, "no such host"):
		return ErrorTypeDNSError
	case strings.Contains(msg, "tls"), strings.Contains(msg, "x509"), strings.Contains(msg, "certificate"):
		return ErrorTypeTLSError
	case strings.Contains(msg, "eof"):
		return ErrorTypeEOF
	}
	return ErrorTypeUnknown
}

// transportError maps a failure of the network send into the taxonomy.
// Resolver failures are routing errors; everything else, including
// cancellation and timeouts, is a transport error.
func transportError(err error) *Error {
	if e, ok := AsError(err); ok {
		return e
	}
	var resolveErr *ResolveError
	if errors.As(err, &resolveErr) {
		return routingError(err)
	}
	return newError(KindTransport, err)
}

// errorTypeFromStatusCode returns error.type for 4xx and 5xx statuses.
func errorTypeFromStatusCode(statusCode int) string {
	if statusCode >= 400 {
		return strconv.Itoa(statusCode)
	}
	return ""
}

// setSpanError records err on span.
func setSpanError(span trace.Span, err error, errorType string) {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	if errorType != "" {
		span.SetAttributes(attribute.String("error.type", errorType))
	}
}
