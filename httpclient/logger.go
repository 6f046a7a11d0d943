package httpclient

import (
	"bytes"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
)

// maxLogExcerpt is the number of characters of a body written to the log.
const maxLogExcerpt = 1024

// maxLogBodyBytes bounds the response bytes read ahead for the excerpt.
const maxLogBodyBytes = maxLogExcerpt * 4

// LogConfig is the bag extension holding the log level of a call.
// zerolog.Disabled turns logging off.
//
// As an Initialiser it provides a client-level default that per-call
// configuration overrides.
type LogConfig struct {
	Level zerolog.Level
}

// Init stores c unless the bag already has a LogConfig.
func (c LogConfig) Init(ext *Extensions) {
	SetExtensionIfAbsent(ext, c)
}

// LogTarget is the bag extension naming the call in log lines.
type LogTarget string

var (
	defaultLogOnce  sync.Once
	defaultLogLevel atomic.Int32
)

func init() {
	defaultLogLevel.Store(int32(zerolog.DebugLevel))
}

// InitDefaultLogLevel sets the process-wide default log level of calls
// that carry no LogConfig. Only the first call has an effect; it reports
// whether level was applied.
func InitDefaultLogLevel(level zerolog.Level) bool {
	applied := false
	defaultLogOnce.Do(func() {
		defaultLogLevel.Store(int32(level))
		applied = true
	})
	return applied
}

// InitDefaultLogEnabled is InitDefaultLogLevel with Debug for true and
// Disabled for false.
func InitDefaultLogEnabled(enabled bool) bool {
	if enabled {
		return InitDefaultLogLevel(zerolog.DebugLevel)
	}
	return InitDefaultLogLevel(zerolog.Disabled)
}

// DefaultLogLevel returns the process-wide default log level.
func DefaultLogLevel() zerolog.Level {
	return zerolog.Level(defaultLogLevel.Load())
}

func effectiveLogLevel(ext *Extensions) zerolog.Level {
	if cfg, ok := GetExtension[LogConfig](ext); ok {
		return cfg.Level
	}
	return DefaultLogLevel()
}

// PayloadKind names the encoding of a staged request body.
type PayloadKind string

const (
	PayloadJSON      PayloadKind = "json"
	PayloadXML       PayloadKind = "xml"
	PayloadForm      PayloadKind = "form"
	PayloadMultipart PayloadKind = "multipart"
	PayloadRaw       PayloadKind = "raw"
)

// RequestPayload is the bag extension describing the request body for the
// logging stage. Body holds the encoded bytes when they are known.
type RequestPayload struct {
	Kind PayloadKind
	Body []byte
	// Summary replaces Body in logs for multipart uploads.
	Summary string
}

func (p RequestPayload) excerpt() string {
	if p.Summary != "" {
		return p.Summary
	}
	return truncate(string(p.Body), maxLogExcerpt)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	i := 0
	for pos := range s {
		if i == n {
			return s[:pos]
		}
		i++
	}
	return s
}

func loggingMiddleware(logger zerolog.Logger) Middleware {
	return func(next http.RoundTripper) http.RoundTripper {
		return RoundTripperFunc(func(req *http.Request) (*http.Response, error) {
			ext := ExtensionsFromContext(req.Context())
			level := effectiveLogLevel(ext)
			if level == zerolog.Disabled || level == zerolog.NoLevel {
				return next.RoundTrip(req)
			}

			target, _ := GetExtension[LogTarget](ext)
			reqID, _ := GetExtension[RequestID](ext)
			l := logger.With().
				Str("target", string(target)).
				Str("request_id", string(reqID)).
				Logger()

			carrier, _ := GetExtension[Carrier](ext)
			logRequest(l, level, req, ext, carrier)

			start := time.Now()
			resp, err := next.RoundTrip(req)
			elapsed := time.Since(start)

			if err != nil {
				logError(l, level, err, elapsed)
				return nil, err
			}
			logResponse(l, level, resp, elapsed)
			return resp, nil
		})
	}
}

func logRequest(l zerolog.Logger, level zerolog.Level, req *http.Request, ext *Extensions, carrier Carrier) {
	ev := l.WithLevel(level)
	if !ev.Enabled() {
		return
	}
	ev = ev.Str("method", req.Method).
		Str("url", redactedURL(req.URL, carrier))
	if req.Host != "" && req.Host != req.URL.Host {
		ev = ev.Str("host", req.Host)
	}

	var body []byte
	if payload, ok := GetExtension[RequestPayload](ext); ok {
		ev = ev.Str("payload_kind", string(payload.Kind)).Str("payload", payload.excerpt())
		if payload.Kind != PayloadMultipart {
			body = payload.Body
		}
	}
	if level <= zerolog.TraceLevel {
		ev = ev.Str("curl", generateCurlCommand(req, body, carrier))
	}
	ev.Msg("HTTP request")
}

func logResponse(l zerolog.Logger, level zerolog.Level, resp *http.Response, elapsed time.Duration) {
	ev := l.WithLevel(level)
	if !ev.Enabled() {
		return
	}
	ev = ev.Int("status", resp.StatusCode).
		Float64("elapsed_ms", float64(elapsed.Microseconds())/1000)

	if resp.StatusCode < http.StatusBadRequest && resp.StatusCode != http.StatusNoContent {
		switch ParseMimeType(resp.Header.Get("Content-Type")) {
		case MimeJSON, MimeXML, MimeText:
			if excerpt, ok := bufferBody(resp); ok {
				ev = ev.Str("body", excerpt)
			}
		}
	}
	ev.Msg("HTTP response")
}

func logError(l zerolog.Logger, level zerolog.Level, err error, elapsed time.Duration) {
	if level < zerolog.WarnLevel {
		level = zerolog.WarnLevel
	}
	l.WithLevel(level).
		Err(err).
		Float64("elapsed_ms", float64(elapsed.Microseconds())/1000).
		Msg("HTTP request failed")
}

// bufferBody reads the head of the response body for the log and puts it
// back in front of the unread rest. A body of unknown length is read once,
// so streams are not waited on.
func bufferBody(resp *http.Response) (string, bool) {
	if resp.Body == nil || resp.Body == http.NoBody {
		return "", false
	}

	head := make([]byte, maxLogBodyBytes)
	var n int
	var err error
	if resp.ContentLength >= 0 {
		n, err = io.ReadFull(resp.Body, head[:min(resp.ContentLength, int64(len(head)))])
	} else {
		n, err = resp.Body.Read(head)
	}
	head = head[:n]

	resp.Body = struct {
		io.Reader
		io.Closer
	}{io.MultiReader(bytes.NewReader(head), resp.Body), resp.Body}

	if err != nil && err != io.EOF && err != io.ErrUnexpectedEOF {
		return "", false
	}
	return strings.ToValidUTF8(truncate(string(head), maxLogExcerpt), ""), true
}

// redactedURL renders u with the value of a query parameter carrier masked.
func redactedURL(u *url.URL, carrier Carrier) string {
	if carrier.kind != carrierQueryParam || u.RawQuery == "" {
		return u.String()
	}
	pairs := strings.Split(u.RawQuery, "&")
	for i, pair := range pairs {
		key, _, _ := strings.Cut(pair, "=")
		if name, err := url.QueryUnescape(key); err == nil && name == carrier.name {
			pairs[i] = key + "=***"
		}
	}
	masked := *u
	masked.RawQuery = strings.Join(pairs, "&")
	return masked.String()
}

func maskedHeader(key string, carrier Carrier) bool {
	if key == "Authorization" {
		return true
	}
	return carrier.kind == carrierHeader && http.CanonicalHeaderKey(carrier.name) == key
}

// generateCurlCommand renders req as a cURL command line.
//
//	curl -X POST 'https://api.example.com/users' \
//	  -H 'Content-Type: application/json' \
//	  -d '{"name":"John"}'
func generateCurlCommand(req *http.Request, body []byte, carrier Carrier) string {
	parts := []string{"curl"}

	if req.Method != http.MethodGet {
		parts = append(parts, "-X", req.Method)
	}
	parts = append(parts, fmt.Sprintf("'%s'", redactedURL(req.URL, carrier)))

	keys := make([]string, 0, len(req.Header))
	for k := range req.Header {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, k := range keys {
		for _, v := range req.Header[k] {
			if maskedHeader(k, carrier) {
				v = "***"
			}
			parts = append(parts, "-H", fmt.Sprintf("'%s: %s'", k, v))
		}
	}
	if req.Host != "" && req.Host != req.URL.Host {
		parts = append(parts, "-H", fmt.Sprintf("'Host: %s'", req.Host))
	}

	if len(body) > 0 {
		escaped := strings.ReplaceAll(string(body), "'", "'\\''")
		parts = append(parts, "-d", fmt.Sprintf("'%s'", escaped))
	}
	return strings.Join(parts, " ")
}
