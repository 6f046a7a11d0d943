package httpclient

import (
	"bytes"
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	json "github.com/goccy/go-json"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
)

// RequestBuilder provides a fluent API for constructing one call.
//
// Create a RequestBuilder using Client.Request():
//
//	resp, err := client.Request("CreateUser").
//	    Path("/users").
//	    JSON(user).
//	    Post(ctx)
//
// A RequestBuilder is not safe for concurrent use and should not be reused
// after sending.
type RequestBuilder struct {
	client     *Client
	target     string
	path       string
	pathParams map[string]string
	query      url.Values
	headers    http.Header

	body        []byte
	bodyErr     error
	contentType string
	payloadKind PayloadKind

	// Multipart upload fields
	fileUploads []FileUpload
	formFields  map[string]string

	configurator RequestConfigurator
	signature    Signature
	requestID    RequestID
	traceID      *TraceID
	mock         *MockServer

	extractor Extractor
	result    any
}

// Request creates a new RequestBuilder for the given target name.
//
// The target names the call in log lines and span attributes. A
// RequestConfigurator passed to Configure may override it.
//
// Example:
//
//	resp, err := client.Request("CreateUser").
//	    Path("/users").
//	    JSON(user).
//	    Post(ctx)
func (c *Client) Request(target string) *RequestBuilder {
	return &RequestBuilder{
		client:     c,
		target:     target,
		headers:    make(http.Header),
		pathParams: make(map[string]string),
	}
}

// Path sets the request path, merged onto the base URL path.
//
// Path parameters can be specified using {name} syntax and filled with
// PathParam(). A query string in path is kept.
//
// Example:
//
//	client.Request("GetUser").
//	    Path("/users/{id}").
//	    PathParam("id", userID).
//	    Get(ctx)
func (rb *RequestBuilder) Path(path string) *RequestBuilder {
	rb.path = path
	return rb
}

// PathParam sets a path parameter value. The value is path-escaped.
func (rb *RequestBuilder) PathParam(key, value string) *RequestBuilder {
	rb.pathParams[key] = value
	return rb
}

// Query adds a query parameter. Repeated keys are kept.
//
// Example:
//
//	client.Request("SearchUsers").
//	    Path("/users").
//	    Query("search", "john").
//	    Query("limit", "10").
//	    Get(ctx)
func (rb *RequestBuilder) Query(key, value string) *RequestBuilder {
	if rb.query == nil {
		rb.query = make(url.Values)
	}
	rb.query.Add(key, value)
	return rb
}

// Queries sets multiple query parameters.
func (rb *RequestBuilder) Queries(params map[string]string) *RequestBuilder {
	if rb.query == nil {
		rb.query = make(url.Values)
	}
	for k, v := range params {
		rb.query.Set(k, v)
	}
	return rb
}

// Header sets a single request header, replacing a client default.
//
// Example:
//
//	client.Request("CreateUser").
//	    Header("Idempotency-Key", key).
//	    Post(ctx)
func (rb *RequestBuilder) Header(key, value string) *RequestBuilder {
	rb.headers.Set(key, value)
	return rb
}

// Headers sets multiple request headers.
func (rb *RequestBuilder) Headers(headers map[string]string) *RequestBuilder {
	for k, v := range headers {
		rb.headers.Set(k, v)
	}
	return rb
}

func (rb *RequestBuilder) setBody(kind PayloadKind, contentType string, data []byte, err error) *RequestBuilder {
	rb.payloadKind, rb.contentType = kind, contentType
	rb.body, rb.bodyErr = data, err
	return rb
}

// Body sets the request body with content type detection.
//
// Encoding rules:
//   - string: raw text (Content-Type: text/plain)
//   - []byte: raw bytes (Content-Type: application/octet-stream)
//   - io.Reader: read fully, raw bytes
//   - url.Values: form encoded (Content-Type: application/x-www-form-urlencoded)
//   - anything else: JSON (Content-Type: application/json)
func (rb *RequestBuilder) Body(v any) *RequestBuilder {
	switch body := v.(type) {
	case nil:
		return rb
	case string:
		return rb.Raw("text/plain; charset=utf-8", []byte(body))
	case []byte:
		return rb.Raw("application/octet-stream", body)
	case io.Reader:
		data, err := io.ReadAll(body)
		return rb.setBody(PayloadRaw, "application/octet-stream", data, err)
	case url.Values:
		return rb.FormValues(body)
	default:
		return rb.JSON(v)
	}
}

// JSON encodes v as the JSON request body.
//
// Example:
//
//	client.Request("CreateUser").
//	    Path("/users").
//	    JSON(user).
//	    Post(ctx)
func (rb *RequestBuilder) JSON(v any) *RequestBuilder {
	data, err := json.Marshal(v)
	return rb.setBody(PayloadJSON, "application/json", data, err)
}

// XML encodes v as the XML request body.
func (rb *RequestBuilder) XML(v any) *RequestBuilder {
	data, err := xml.Marshal(v)
	return rb.setBody(PayloadXML, "application/xml", data, err)
}

// Form sets form data as the request body.
//
// Example:
//
//	client.Request("Login").
//	    Path("/login").
//	    Form(map[string]string{"username": "john", "password": "secret"}).
//	    Post(ctx)
func (rb *RequestBuilder) Form(data map[string]string) *RequestBuilder {
	values := make(url.Values, len(data))
	for k, v := range data {
		values.Set(k, v)
	}
	return rb.FormValues(values)
}

// FormValues sets url-encoded form values as the request body.
func (rb *RequestBuilder) FormValues(values url.Values) *RequestBuilder {
	return rb.setBody(PayloadForm, "application/x-www-form-urlencoded", []byte(values.Encode()), nil)
}

// Raw sends data verbatim with contentType.
func (rb *RequestBuilder) Raw(contentType string, data []byte) *RequestBuilder {
	return rb.setBody(PayloadRaw, contentType, data, nil)
}

// Configure sets the per-call configuration. Its target, when set,
// replaces the one given to Client.Request.
//
// Example:
//
//	quiet := httpclient.NewRequestConfigurator("HealthCheck").WithLogEnabled(false)
//	_, err := client.Request("").Configure(quiet).Path("/health").Get(ctx)
func (rb *RequestBuilder) Configure(cfg RequestConfigurator) *RequestBuilder {
	rb.configurator = cfg
	return rb
}

// LogLevel overrides the log level of this call.
func (rb *RequestBuilder) LogLevel(level zerolog.Level) *RequestBuilder {
	rb.configurator = rb.configurator.WithLogLevel(level)
	return rb
}

// RequireHeaders exposes the response headers to the extractor under
// HeadersField.
func (rb *RequestBuilder) RequireHeaders() *RequestBuilder {
	rb.configurator = rb.configurator.WithRequireHeaders(true)
	return rb
}

// Signature signs this call with sig instead of the client signature.
func (rb *RequestBuilder) Signature(sig Signature) *RequestBuilder {
	rb.signature = sig
	return rb
}

// RequestID sets the X-Request-ID of this call.
func (rb *RequestBuilder) RequestID(id string) *RequestBuilder {
	rb.requestID = RequestID(id)
	return rb
}

// TraceID sets the X-Trace-ID and, when spanID is not empty, X-Span-ID of
// this call.
func (rb *RequestBuilder) TraceID(traceID, spanID string) *RequestBuilder {
	rb.traceID = &TraceID{TraceID: traceID, SpanID: spanID}
	return rb
}

// Mock answers this call with mock instead of the network.
func (rb *RequestBuilder) Mock(mock *MockServer) *RequestBuilder {
	rb.mock = mock
	return rb
}

// Extract sets the extractor used by Decode. Default: Auto.
func (rb *RequestBuilder) Extract(extractor Extractor) *RequestBuilder {
	rb.extractor = extractor
	return rb
}

// Decode sets the target decoded from the response by the verb methods.
//
// With a target set, a 4xx or 5xx status is returned as an error together
// with the Response.
//
// Example:
//
//	var users []User
//	resp, err := client.Request("ListUsers").
//	    Path("/users").
//	    Extract(httpclient.Envelope).
//	    Decode(&users).
//	    Get(ctx)
func (rb *RequestBuilder) Decode(v any) *RequestBuilder {
	rb.result = v
	return rb
}

// Get sends a GET request.
func (rb *RequestBuilder) Get(ctx context.Context) (*Response, error) {
	return rb.Send(ctx, http.MethodGet)
}

// Post sends a POST request.
func (rb *RequestBuilder) Post(ctx context.Context) (*Response, error) {
	return rb.Send(ctx, http.MethodPost)
}

// Put sends a PUT request.
func (rb *RequestBuilder) Put(ctx context.Context) (*Response, error) {
	return rb.Send(ctx, http.MethodPut)
}

// Patch sends a PATCH request.
func (rb *RequestBuilder) Patch(ctx context.Context) (*Response, error) {
	return rb.Send(ctx, http.MethodPatch)
}

// Delete sends a DELETE request.
func (rb *RequestBuilder) Delete(ctx context.Context) (*Response, error) {
	return rb.Send(ctx, http.MethodDelete)
}

// Send sends the request with method.
//
// Without a Decode target the Response is returned for any status and the
// caller owns its body. With a target the body is extracted with the
// configured extractor.
func (rb *RequestBuilder) Send(ctx context.Context, method string) (*Response, error) {
	extractor := rb.extractorOrAuto()
	start := time.Now()

	resp, err := rb.roundTrip(ctx, method, extractor.RequireHeaders())
	if err == nil && rb.result != nil {
		err = resp.Extract(extractor, rb.result)
	}
	rb.recordDispatch(ctx, method, start, err)
	return resp, err
}

// Send dispatches rb with method and extracts the response into a T.
//
// A nil extractor means Auto. The returned error is always an *Error.
//
// Example:
//
//	user, err := httpclient.Send[User](ctx,
//	    client.Request("GetUser").Path("/users/{id}").PathParam("id", "42"),
//	    http.MethodGet, httpclient.Envelope)
//	if code, msg, ok := httpclient.IsBusinessError(err); ok {
//	    log.Warn().Int64("code", code).Msg(msg)
//	}
func Send[T any](ctx context.Context, rb *RequestBuilder, method string, extractor Extractor) (T, error) {
	var out T
	if extractor == nil {
		extractor = Auto
	}
	start := time.Now()

	err := func() error {
		resp, err := rb.roundTrip(ctx, method, extractor.RequireHeaders())
		if err != nil {
			return err
		}
		body, err := readResponseBody(resp.Response, resp.requireHeaders)
		if err != nil {
			return err
		}
		return extractor.Extract(body, &out)
	}()

	rb.recordDispatch(ctx, method, start, err)
	return out, err
}

func (rb *RequestBuilder) extractorOrAuto() Extractor {
	if rb.extractor == nil {
		return Auto
	}
	return rb.extractor
}

func (rb *RequestBuilder) recordDispatch(ctx context.Context, method string, start time.Time, err error) {
	cfg := rb.client.config
	attrs := append(cfg.baseAttributes(), attribute.String("http.request.method", method))
	if target := rb.targetName(); target != "" {
		attrs = append(attrs, attribute.String("apisdk.target", target))
	}
	cfg.metrics.recordDispatch(ctx, time.Since(start), err, attrs)
}

func (rb *RequestBuilder) targetName() string {
	if t := rb.configurator.Target(); t != "" {
		return t
	}
	return rb.target
}

// roundTrip builds the request, fills its extension bag and runs it
// through the chain.
func (rb *RequestBuilder) roundTrip(ctx context.Context, method string, extractorHeaders bool) (*Response, error) {
	ext := rb.extensions(extractorHeaders)
	ctx = ContextWithExtensions(ctx, ext)

	req, err := rb.build(ctx, method, ext)
	if err != nil {
		return nil, err
	}

	//nolint:bodyclose // owned by the returned Response
	httpResp, err := rb.client.do(req)
	if err != nil {
		return nil, err
	}

	requireHeaders, _ := GetExtension[RequireHeaders](ext)
	return &Response{
		Response:       httpResp,
		extensions:     ext,
		requireHeaders: bool(requireHeaders),
	}, nil
}

// extensions returns the bag of the call: client initialisers first, then
// per-call values, which therefore win.
func (rb *RequestBuilder) extensions(extractorHeaders bool) *Extensions {
	ext := NewExtensions()
	for _, init := range rb.client.config.initialisers {
		init.Init(ext)
	}

	if rb.signature != nil {
		SetExtension[Signature](ext, rb.signature)
	}
	if rb.requestID != "" {
		SetExtension(ext, rb.requestID)
	}
	if rb.traceID != nil {
		SetExtension(ext, *rb.traceID)
	}
	if rb.mock != nil {
		SetExtension(ext, rb.mock)
	}

	rb.configurator.Merge(rb.target, extractorHeaders).apply(ext)
	return ext
}

func (rb *RequestBuilder) build(ctx context.Context, method string, ext *Extensions) (*http.Request, error) {
	path := rb.path
	for k, v := range rb.pathParams {
		path = strings.ReplaceAll(path, "{"+k+"}", url.PathEscape(v))
	}

	u, preserveHost, err := rb.client.buildURL(ctx, path)
	if err != nil {
		return nil, err
	}
	if len(rb.query) > 0 {
		q := u.Query()
		for k, vs := range rb.query {
			for _, v := range vs {
				q.Add(k, v)
			}
		}
		u.RawQuery = q.Encode()
	}
	if preserveHost {
		SetExtension(ext, RewriteHost(rb.client.baseURL.Host))
	}

	payload, contentType, err := rb.encodeBody()
	if err != nil {
		return nil, err
	}

	var reader io.Reader
	if payload != nil {
		reader = bytes.NewReader(payload.Body)
		SetExtension(ext, *payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, u.String(), reader)
	if err != nil {
		return nil, newError(KindInvalidURL, err)
	}

	for k, v := range rb.client.config.defaultHeaders {
		req.Header[k] = append([]string(nil), v...)
	}
	for k, v := range rb.headers {
		req.Header[k] = v
	}
	if contentType != "" && req.Header.Get("Content-Type") == "" {
		req.Header.Set("Content-Type", contentType)
	}
	return req, nil
}

// encodeBody returns the staged payload, or nil when the call has no body.
func (rb *RequestBuilder) encodeBody() (*RequestPayload, string, error) {
	if len(rb.fileUploads) > 0 || len(rb.formFields) > 0 {
		data, contentType, summary, err := rb.buildMultipart()
		if err != nil {
			return nil, "", newError(KindEncodeRequest, err)
		}
		return &RequestPayload{Kind: PayloadMultipart, Body: data, Summary: summary}, contentType, nil
	}

	if rb.bodyErr != nil {
		return nil, "", newError(KindEncodeRequest, fmt.Errorf("encode %s body: %w", rb.payloadKind, rb.bodyErr))
	}
	if rb.payloadKind == "" {
		return nil, "", nil
	}
	return &RequestPayload{Kind: rb.payloadKind, Body: rb.body}, rb.contentType, nil
}
