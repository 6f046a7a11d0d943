package httpclient

import (
	"bytes"
	"encoding"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"net/http"
	"reflect"
	"strconv"
	"strings"

	json "github.com/goccy/go-json"
)

// HeadersField is the reserved JSON key under which response headers are
// spliced into an object payload when headers are required.
const HeadersField = "__headers__"

// MimeType is a normalized media type category.
type MimeType string

const (
	MimeJSON MimeType = "application/json"
	MimeXML  MimeType = "application/xml"
	MimeText MimeType = "text/plain"
)

// ParseMimeType strips parameters and lowercases a Content-Type value.
// application/json maps to MimeJSON, text/xml and application/xml to
// MimeXML, any other text/* and an empty value to MimeText. Other types
// are returned as they are.
func ParseMimeType(contentType string) MimeType {
	mt, _, _ := strings.Cut(contentType, ";")
	mt = strings.ToLower(strings.TrimSpace(mt))

	switch {
	case mt == "":
		return MimeText
	case mt == "application/json":
		return MimeJSON
	case mt == "text/xml" || mt == "application/xml":
		return MimeXML
	case strings.HasPrefix(mt, "text/"):
		return MimeText
	default:
		return MimeType(mt)
	}
}

func (m MimeType) String() string { return string(m) }

// BodyKind tags the variant held by a ResponseBody.
type BodyKind int

const (
	BodyEmpty BodyKind = iota
	BodyJSON
	BodyXML
	BodyText
)

func (k BodyKind) String() string {
	switch k {
	case BodyJSON:
		return "json"
	case BodyXML:
		return "xml"
	case BodyText:
		return "text"
	default:
		return "empty"
	}
}

// ResponseBody is a successful response classified by content type.
//
// JSON holds the payload for BodyJSON, Text holds it for BodyXML and
// BodyText. Headers are the response headers.
type ResponseBody struct {
	Kind    BodyKind
	JSON    json.RawMessage
	Text    string
	Headers http.Header

	injectHeaders bool
}

// Payload returns the JSON payload, with the response headers spliced in
// under HeadersField when the call required them.
func (b *ResponseBody) Payload() []byte {
	if b.Kind != BodyJSON {
		return nil
	}
	if !b.injectHeaders {
		return b.JSON
	}
	return spliceHeaders(b.JSON, b.Headers)
}

// String returns the body as text. JSON bodies are returned verbatim.
func (b *ResponseBody) String() string {
	if b.Kind == BodyJSON {
		return string(b.JSON)
	}
	return b.Text
}

func flattenHeaders(h http.Header) map[string]string {
	out := make(map[string]string, len(h))
	for k, v := range h {
		if len(v) > 0 {
			out[k] = v[0]
		}
	}
	return out
}

// spliceHeaders inserts HeadersField at the start of a JSON object.
// Non-object payloads are returned unchanged.
func spliceHeaders(payload json.RawMessage, headers http.Header) []byte {
	trimmed := bytes.TrimSpace(payload)
	if len(trimmed) < 2 || trimmed[0] != '{' {
		return payload
	}
	encoded, err := json.Marshal(flattenHeaders(headers))
	if err != nil {
		return payload
	}

	rest := bytes.TrimSpace(trimmed[1:])
	var buf bytes.Buffer
	buf.Grow(len(trimmed) + len(encoded) + len(HeadersField) + 4)
	buf.WriteString(`{"` + HeadersField + `":`)
	buf.Write(encoded)
	if len(rest) > 0 && rest[0] != '}' {
		buf.WriteByte(',')
	}
	buf.Write(rest)
	return buf.Bytes()
}

// readResponseBody classifies resp. It always closes the response body.
//
// 4xx and 5xx statuses fail before the body is read. 204 is always empty.
func readResponseBody(resp *http.Response, requireHeaders bool) (*ResponseBody, error) {
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		return nil, statusError(resp.StatusCode)
	}

	body := &ResponseBody{Kind: BodyEmpty, Headers: resp.Header}
	if resp.StatusCode == http.StatusNoContent {
		return body, nil
	}

	contentType := resp.Header.Get("Content-Type")
	mime := ParseMimeType(contentType)
	switch mime {
	case MimeJSON, MimeXML, MimeText:
	default:
		return nil, &Error{Kind: KindUnsupportedContentType, ContentType: mime.String()}
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, newError(KindTransport, fmt.Errorf("read response body: %w", err))
	}

	switch mime {
	case MimeJSON:
		if len(bytes.TrimSpace(data)) == 0 {
			return body, nil
		}
		if !json.Valid(data) {
			return nil, &Error{
				Kind:        KindDecodeResponse,
				ContentType: contentType,
				Err:         errors.New("invalid json payload"),
			}
		}
		body.Kind, body.JSON = BodyJSON, data
		body.injectHeaders = requireHeaders
	case MimeXML:
		body.Kind, body.Text = BodyXML, string(data)
	default:
		body.Kind, body.Text = BodyText, string(data)
	}
	return body, nil
}

// Extractor decodes a ResponseBody into a caller supplied target.
//
// Extractors are plain values and can be composed: a custom Extractor may
// delegate to the built-ins after inspecting the body.
type Extractor interface {
	// RequireHeaders reports whether response headers must be spliced into
	// JSON payloads under HeadersField.
	RequireHeaders() bool

	// Extract decodes body into target, which must be a non-nil pointer.
	Extract(body *ResponseBody, target any) error
}

// BodyDecoder is implemented by targets that convert a ResponseBody
// themselves. The Body extractor calls it.
type BodyDecoder interface {
	DecodeBody(body *ResponseBody) error
}

// Built-in extractors.
var (
	// Auto dispatches on the body kind. Text bodies are tried as JSON,
	// then as XML.
	Auto Extractor = autoExtractor{}

	// JSON decodes JSON bodies only.
	JSON Extractor = jsonExtractor{}

	// XML decodes XML bodies, and Text bodies as XML.
	XML Extractor = xmlExtractor{}

	// Text decodes Text bodies into strings, byte slices, numbers, booleans
	// and encoding.TextUnmarshaler values.
	Text Extractor = textExtractor{}

	// Body hands the classified body to a BodyDecoder target, or copies it
	// into a *ResponseBody target.
	Body Extractor = bodyExtractor{}
)

type autoExtractor struct{}

func (autoExtractor) RequireHeaders() bool { return false }

func (autoExtractor) Extract(body *ResponseBody, target any) error {
	switch body.Kind {
	case BodyEmpty:
		return nil
	case BodyJSON:
		return decodeJSON(body.Payload(), target)
	case BodyXML:
		return decodeXML(body.Text, target)
	default:
		if assignText(body.Text, target) {
			return nil
		}
		if err := decodeJSON([]byte(body.Text), target); err == nil {
			return nil
		}
		return decodeXML(body.Text, target)
	}
}

type jsonExtractor struct{}

func (jsonExtractor) RequireHeaders() bool { return false }

func (jsonExtractor) Extract(body *ResponseBody, target any) error {
	switch body.Kind {
	case BodyEmpty:
		return nil
	case BodyJSON:
		return decodeJSON(body.Payload(), target)
	default:
		return mismatch(KindDecodeJSON, MimeJSON, body.Kind)
	}
}

type xmlExtractor struct{}

func (xmlExtractor) RequireHeaders() bool { return false }

func (xmlExtractor) Extract(body *ResponseBody, target any) error {
	switch body.Kind {
	case BodyEmpty:
		return nil
	case BodyXML, BodyText:
		return decodeXML(body.Text, target)
	default:
		return mismatch(KindDecodeXML, MimeXML, body.Kind)
	}
}

type textExtractor struct{}

func (textExtractor) RequireHeaders() bool { return false }

func (textExtractor) Extract(body *ResponseBody, target any) error {
	switch body.Kind {
	case BodyEmpty:
		return nil
	case BodyText:
		return decodeText(body.Text, target)
	default:
		return mismatch(KindDecodeText, MimeText, body.Kind)
	}
}

type bodyExtractor struct{}

func (bodyExtractor) RequireHeaders() bool { return false }

func (bodyExtractor) Extract(body *ResponseBody, target any) error {
	switch t := target.(type) {
	case BodyDecoder:
		if err := t.DecodeBody(body); err != nil {
			if _, ok := AsError(err); ok {
				return err
			}
			return newError(KindDecodeResponse, err)
		}
		return nil
	case *ResponseBody:
		*t = *body
		return nil
	default:
		return newError(KindDecodeResponse,
			fmt.Errorf("target %T implements neither BodyDecoder nor *ResponseBody", target))
	}
}

func mismatch(kind Kind, expected MimeType, actual BodyKind) error {
	return &Error{Kind: kind, ContentType: actual.String(), Err: incompatible(expected, actual)}
}

// decodeJSON decodes data into target. A *string target receives the raw
// payload unless the payload is a JSON string.
func decodeJSON(data []byte, target any) error {
	if s, ok := target.(*string); ok {
		trimmed := bytes.TrimSpace(data)
		if len(trimmed) == 0 || trimmed[0] != '"' {
			*s = string(data)
			return nil
		}
	}
	if err := json.Unmarshal(data, target); err != nil {
		return &Error{Kind: KindDecodeJSON, Err: err}
	}
	return nil
}

func decodeXML(text string, target any) error {
	if err := xml.Unmarshal([]byte(text), target); err != nil {
		return &Error{Kind: KindDecodeXML, Err: err}
	}
	return nil
}

// assignText stores text into string-like targets.
func assignText(text string, target any) bool {
	switch t := target.(type) {
	case *string:
		*t = text
	case *[]byte:
		*t = []byte(text)
	default:
		return false
	}
	return true
}

func decodeText(text string, target any) error {
	if assignText(text, target) {
		return nil
	}
	if u, ok := target.(encoding.TextUnmarshaler); ok {
		if err := u.UnmarshalText([]byte(text)); err != nil {
			return &Error{Kind: KindDecodeText, Err: err}
		}
		return nil
	}

	rv := reflect.ValueOf(target)
	if rv.Kind() != reflect.Pointer || rv.IsNil() {
		return &Error{Kind: KindDecodeText, Err: fmt.Errorf("target %T is not a non-nil pointer", target)}
	}
	v := rv.Elem()
	s := strings.TrimSpace(text)

	var err error
	switch v.Kind() {
	case reflect.Bool:
		var b bool
		if b, err = strconv.ParseBool(s); err == nil {
			v.SetBool(b)
		}
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		var n int64
		if n, err = strconv.ParseInt(s, 10, v.Type().Bits()); err == nil {
			v.SetInt(n)
		}
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		var n uint64
		if n, err = strconv.ParseUint(s, 10, v.Type().Bits()); err == nil {
			v.SetUint(n)
		}
	case reflect.Float32, reflect.Float64:
		var f float64
		if f, err = strconv.ParseFloat(s, v.Type().Bits()); err == nil {
			v.SetFloat(f)
		}
	default:
		err = fmt.Errorf("cannot decode text into %T", target)
	}
	if err != nil {
		return &Error{Kind: KindDecodeText, Err: err}
	}
	return nil
}
