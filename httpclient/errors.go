package httpclient

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind classifies a dispatch failure.
type Kind int

const (
	KindUnknown Kind = iota
	KindInvalidURL
	KindEncodeRequest
	KindRouting
	KindTransport
	KindMiddleware
	KindHTTPClientStatus
	KindHTTPServerStatus
	KindUnsupportedContentType
	KindIncompatibleContentType
	KindDecodeResponse
	KindDecodeJSON
	KindDecodeXML
	KindDecodeText
	KindIllegalPayload
	KindBusiness
)

var kindNames = map[Kind]string{
	KindUnknown:                 "unknown",
	KindInvalidURL:              "invalid_url",
	KindEncodeRequest:           "encode_request",
	KindRouting:                 "routing",
	KindTransport:               "transport",
	KindMiddleware:              "middleware",
	KindHTTPClientStatus:        "http_client_status",
	KindHTTPServerStatus:        "http_server_status",
	KindUnsupportedContentType:  "unsupported_content_type",
	KindIncompatibleContentType: "incompatible_content_type",
	KindDecodeResponse:          "decode_response",
	KindDecodeJSON:              "decode_json",
	KindDecodeXML:               "decode_xml",
	KindDecodeText:              "decode_text",
	KindIllegalPayload:          "illegal_payload",
	KindBusiness:                "business",
}

func (k Kind) String() string {
	if s, ok := kindNames[k]; ok {
		return s
	}
	return kindNames[KindUnknown]
}

// Sentinels for errors.Is. Matching compares Kind only.
var (
	ErrInvalidURL              = &Error{Kind: KindInvalidURL}
	ErrEncodeRequest           = &Error{Kind: KindEncodeRequest}
	ErrRouting                 = &Error{Kind: KindRouting}
	ErrTransport               = &Error{Kind: KindTransport}
	ErrMiddleware              = &Error{Kind: KindMiddleware}
	ErrHTTPClientStatus        = &Error{Kind: KindHTTPClientStatus}
	ErrHTTPServerStatus        = &Error{Kind: KindHTTPServerStatus}
	ErrUnsupportedContentType  = &Error{Kind: KindUnsupportedContentType}
	ErrIncompatibleContentType = &Error{Kind: KindIncompatibleContentType}
	ErrDecodeResponse          = &Error{Kind: KindDecodeResponse}
	ErrDecodeJSON              = &Error{Kind: KindDecodeJSON}
	ErrDecodeXML               = &Error{Kind: KindDecodeXML}
	ErrDecodeText              = &Error{Kind: KindDecodeText}
	ErrIllegalPayload          = &Error{Kind: KindIllegalPayload}
	ErrBusiness                = &Error{Kind: KindBusiness}
)

// Error is the single error type returned by every stage of the pipeline.
//
// Depending on Kind, some fields are populated:
//   - Status: HTTP status for KindHTTPClientStatus / KindHTTPServerStatus
//   - Code, Message: application code and message for KindBusiness
//   - ContentType: the offending media type for content-type and decode kinds
type Error struct {
	Kind        Kind
	Status      int
	Code        int64
	Message     string
	ContentType string
	Err         error
}

func (e *Error) Error() string {
	switch e.Kind {
	case KindHTTPClientStatus:
		return fmt.Sprintf("http client status error: [%d] %s", e.Status, e.Message)
	case KindHTTPServerStatus:
		return fmt.Sprintf("http server status error: [%d] %s", e.Status, e.Message)
	case KindBusiness:
		if e.Message == "" {
			return fmt.Sprintf("business error: %d", e.Code)
		}
		return fmt.Sprintf("business error: %d - %s", e.Code, e.Message)
	case KindUnsupportedContentType:
		return "unsupported content type: " + e.ContentType
	}

	msg := e.Kind.String() + " error"
	if e.ContentType != "" {
		msg += " (" + e.ContentType + ")"
	}
	if e.Message != "" {
		msg += ": " + e.Message
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is reports whether target is an *Error of the same Kind.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Kind == t.Kind
}

// AsError returns the outermost *Error in err's chain.
func AsError(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// KindOf returns the Kind of the outermost *Error in err's chain.
func KindOf(err error) Kind {
	if e, ok := AsError(err); ok {
		return e.Kind
	}
	return KindUnknown
}

// IsBusinessError reports whether err carries an application-level failure
// and returns its code and message.
func IsBusinessError(err error) (int64, string, bool) {
	e, ok := AsError(err)
	if !ok || e.Kind != KindBusiness {
		return 0, "", false
	}
	return e.Code, e.Message, true
}

func newError(kind Kind, err error) *Error {
	return &Error{Kind: kind, Err: err}
}

func routingError(err error) *Error {
	if e, ok := AsError(err); ok && e.Kind == KindRouting {
		return e
	}
	return newError(KindRouting, err)
}

func statusError(status int) *Error {
	kind := KindHTTPServerStatus
	if status < 500 {
		kind = KindHTTPClientStatus
	}
	return &Error{Kind: kind, Status: status, Message: http.StatusText(status)}
}

func businessError(code int64, message string) *Error {
	return &Error{Kind: KindBusiness, Code: code, Message: message}
}

func incompatible(expected MimeType, actual BodyKind) *Error {
	return &Error{
		Kind:        KindIncompatibleContentType,
		ContentType: actual.String(),
		Message:     "expected " + expected.String(),
	}
}
