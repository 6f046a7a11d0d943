package httpclient

import (
	"bytes"
	"errors"
	"fmt"
	"net/http"

	json "github.com/goccy/go-json"
)

// Envelope decodes the generic {"code", "data", "message"} payload.
//
// A code of 0 decodes data into the target (a missing data field is null).
// Any other code fails with a KindBusiness error carrying the code and the
// "message" or "msg" field. A payload without an integer code fails with
// KindIllegalPayload.
//
// A *CodeDataMessage target receives the whole envelope, including the
// response headers and the unknown fields, without checking the code.
var Envelope Extractor = envelopeExtractor{}

type envelopeExtractor struct{}

func (envelopeExtractor) RequireHeaders() bool { return true }

func (envelopeExtractor) Extract(body *ResponseBody, target any) error {
	if body.Kind != BodyJSON {
		if body.Kind == BodyEmpty {
			return &Error{Kind: KindIllegalPayload, Message: "empty payload"}
		}
		return mismatch(KindDecodeJSON, MimeJSON, body.Kind)
	}

	var env CodeDataMessage
	if err := env.UnmarshalJSON(body.Payload()); err != nil {
		var e *Error
		if errors.As(err, &e) {
			return e
		}
		return &Error{Kind: KindDecodeJSON, Err: err}
	}

	if cdm, ok := target.(*CodeDataMessage); ok {
		*cdm = env
		return nil
	}

	if !env.IsSuccess() {
		return businessError(env.Code, env.Message)
	}
	data := env.Data
	if len(data) == 0 {
		data = json.RawMessage("null")
	}
	return decodeJSON(data, target)
}

// CodeDataMessage is the decoded envelope.
type CodeDataMessage struct {
	Code    int64
	Data    json.RawMessage
	Message string

	headers map[string]string
	extra   map[string]json.RawMessage
}

// UnmarshalJSON decodes the envelope. "msg" is accepted for "message".
func (c *CodeDataMessage) UnmarshalJSON(data []byte) error {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		return err
	}

	rawCode, ok := fields["code"]
	if !ok {
		return &Error{Kind: KindIllegalPayload, Message: "missing code field"}
	}
	if bytes.Equal(bytes.TrimSpace(rawCode), []byte("null")) {
		return &Error{Kind: KindIllegalPayload, Message: "code field is null"}
	}
	var code int64
	if err := json.Unmarshal(rawCode, &code); err != nil {
		return &Error{
			Kind:    KindIllegalPayload,
			Message: fmt.Sprintf("code field is not an integer: %s", rawCode),
		}
	}

	out := CodeDataMessage{Code: code, Data: fields["data"]}
	for _, key := range []string{"message", "msg"} {
		raw, ok := fields[key]
		if !ok {
			continue
		}
		var msg string
		if json.Unmarshal(raw, &msg) == nil {
			out.Message = msg
			break
		}
	}

	if raw, ok := fields[HeadersField]; ok {
		_ = json.Unmarshal(raw, &out.headers)
	}

	for k, v := range fields {
		switch k {
		case "code", "data", "message", "msg", HeadersField:
			continue
		}
		if out.extra == nil {
			out.extra = make(map[string]json.RawMessage)
		}
		out.extra[k] = v
	}

	*c = out
	return nil
}

// IsSuccess reports whether the code is 0.
func (c *CodeDataMessage) IsSuccess() bool { return c.Code == 0 }

// Header returns a response header captured with the envelope.
func (c *CodeDataMessage) Header(name string) (string, bool) {
	if v, ok := c.headers[name]; ok {
		return v, true
	}
	v, ok := c.headers[http.CanonicalHeaderKey(name)]
	return v, ok
}

// Extra decodes an unknown top-level field into target.
func (c *CodeDataMessage) Extra(name string, target any) bool {
	raw, ok := c.extra[name]
	if !ok {
		return false
	}
	return json.Unmarshal(raw, target) == nil
}

// RequestID returns the X-Request-ID response header.
func (c *CodeDataMessage) RequestID() string {
	v, _ := c.Header(HeaderRequestID)
	return v
}

// TraceID returns the X-Trace-ID response header.
func (c *CodeDataMessage) TraceID() string {
	v, _ := c.Header(HeaderTraceID)
	return v
}

// SpanID returns the X-Span-ID response header.
func (c *CodeDataMessage) SpanID() string {
	v, _ := c.Header(HeaderSpanID)
	return v
}

// DecodeData decodes the data field into target.
func (c *CodeDataMessage) DecodeData(target any) error {
	data := c.Data
	if len(data) == 0 {
		data = json.RawMessage("null")
	}
	return decodeJSON(data, target)
}
