package httpclient

import (
	"bytes"
	"io"
	"net/http"
)

// Response wraps http.Response with convenience methods for body handling
// and extraction.
//
// Response provides:
//   - Cached body reading (body is read once and reused)
//   - Classification into a ResponseBody and extraction with any Extractor
//   - Success/error status helpers
//   - The ids the trace stage attached to the call
//
// Example usage:
//
//	resp, err := client.Request("GetUsers").Path("/users").Get(ctx)
//	if err != nil {
//	    return err
//	}
//
//	var users []User
//	if err := resp.Extract(httpclient.JSON, &users); err != nil {
//	    return err
//	}
type Response struct {
	// Response embeds the standard http.Response.
	// All http.Response fields and methods are accessible directly.
	*http.Response

	// extensions is the bag of the call.
	extensions *Extensions

	// requireHeaders splices the response headers into JSON payloads.
	requireHeaders bool

	// body is the cached response body, populated on first call to Body().
	body     []byte
	bodyRead bool
}

// Body returns the response body as bytes.
//
// The body is read and closed on first access. Subsequent calls return the
// cached value.
func (r *Response) Body() ([]byte, error) {
	if r.bodyRead {
		return r.body, nil
	}

	defer r.Response.Body.Close()
	body, err := io.ReadAll(r.Response.Body)
	if err != nil {
		return nil, err
	}

	r.body = body
	r.bodyRead = true
	return r.body, nil
}

// String returns the response body as a string.
func (r *Response) String() (string, error) {
	body, err := r.Body()
	if err != nil {
		return "", err
	}
	return string(body), nil
}

// Close releases the response body without reading it.
func (r *Response) Close() error {
	if r.bodyRead {
		return nil
	}
	r.bodyRead = true
	return r.Response.Body.Close()
}

// IsSuccess returns true if the response status code is 2xx.
func (r *Response) IsSuccess() bool {
	return r.StatusCode >= 200 && r.StatusCode < 300
}

// IsError returns true if the response status code is 4xx or 5xx.
func (r *Response) IsError() bool {
	return r.StatusCode >= 400
}

// RequestID returns the X-Request-ID sent with the call.
func (r *Response) RequestID() string {
	id, _ := GetExtension[RequestID](r.extensions)
	return string(id)
}

// TraceID returns the trace ids sent with the call.
func (r *Response) TraceID() TraceID {
	id, _ := GetExtension[TraceID](r.extensions)
	return id
}

// ResponseBody classifies the response by status and content type.
//
// A 4xx or 5xx status fails with ErrHTTPClientStatus or ErrHTTPServerStatus
// and closes the body without reading it.
func (r *Response) ResponseBody() (*ResponseBody, error) {
	if r.StatusCode >= http.StatusBadRequest {
		_ = r.Close()
		return nil, statusError(r.StatusCode)
	}

	data, err := r.Body()
	if err != nil {
		return nil, newError(KindTransport, err)
	}

	cached := *r.Response
	cached.Body = io.NopCloser(bytes.NewReader(data))
	return readResponseBody(&cached, r.requireHeaders)
}

// Extract decodes the response into target with extractor.
// A nil extractor means Auto.
func (r *Response) Extract(extractor Extractor, target any) error {
	if extractor == nil {
		extractor = Auto
	}
	body, err := r.ResponseBody()
	if err != nil {
		return err
	}
	return extractor.Extract(body, target)
}
