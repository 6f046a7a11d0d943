package httpclient

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"sync"
)

// MockServer answers calls in-process instead of the network.
//
// It replaces the network send at the end of the dispatch chain, so trace
// headers, signing and logging still run against mocked calls. Stubs are
// matched in registration order; the first match wins.
//
// Install it for every call of a client with WithMockServer, or for a
// single call with RequestBuilder.Mock.
//
// Example:
//
//	mock := httpclient.NewMockServer().
//	    StubJSON("/users/1", http.StatusOK, `{"code":0,"data":{"id":1}}`)
//
//	client, _ := httpclient.New("https://api.example.com",
//	    httpclient.WithMockServer(mock),
//	)
type MockServer struct {
	mu       sync.RWMutex
	stubs    []mockStub
	fallback *mockStub
	requests []*RecordedRequest
}

// RecordedRequest is a snapshot of a request received by a MockServer.
type RecordedRequest struct {
	Method string
	URL    *url.URL
	Host   string
	Header http.Header
	Body   []byte
}

type mockStub struct {
	matcher func(*http.Request) bool
	status  int
	header  http.Header
	body    []byte
	err     error
}

func (s *mockStub) response(req *http.Request) *http.Response {
	return &http.Response{
		Status:        fmt.Sprintf("%d %s", s.status, http.StatusText(s.status)),
		StatusCode:    s.status,
		Proto:         "HTTP/1.1",
		ProtoMajor:    1,
		ProtoMinor:    1,
		Header:        s.header.Clone(),
		Body:          io.NopCloser(bytes.NewReader(s.body)),
		ContentLength: int64(len(s.body)),
		Request:       req,
	}
}

// NewMockServer creates a MockServer without stubs.
func NewMockServer() *MockServer {
	return &MockServer{}
}

// Stub answers every request that no other stub matches.
func (m *MockServer) Stub(status int, contentType, body string) *MockServer {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := newMockStub(nil, status, contentType, body)
	m.fallback = &s
	return m
}

// StubError fails every request that no other stub matches.
func (m *MockServer) StubError(err error) *MockServer {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fallback = &mockStub{err: err}
	return m
}

// StubPath answers requests whose URL path equals path.
func (m *MockServer) StubPath(path string, status int, contentType, body string) *MockServer {
	return m.StubFunc(func(req *http.Request) bool {
		return req.URL.Path == path
	}, status, contentType, body)
}

// StubPathRegex answers requests whose URL path matches pattern.
func (m *MockServer) StubPathRegex(pattern string, status int, contentType, body string) *MockServer {
	re := regexp.MustCompile(pattern)
	return m.StubFunc(func(req *http.Request) bool {
		return re.MatchString(req.URL.Path)
	}, status, contentType, body)
}

// StubMethod answers requests with the given method.
func (m *MockServer) StubMethod(method string, status int, contentType, body string) *MockServer {
	return m.StubFunc(func(req *http.Request) bool {
		return req.Method == method
	}, status, contentType, body)
}

// StubJSON answers requests for path with a JSON body.
func (m *MockServer) StubJSON(path string, status int, body string) *MockServer {
	return m.StubPath(path, status, string(MimeJSON), body)
}

// StubFunc answers requests matching the predicate.
func (m *MockServer) StubFunc(
	matcher func(*http.Request) bool,
	status int,
	contentType, body string,
) *MockServer {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stubs = append(m.stubs, newMockStub(matcher, status, contentType, body))
	return m
}

// StubFuncError fails requests matching the predicate with err.
func (m *MockServer) StubFuncError(matcher func(*http.Request) bool, err error) *MockServer {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stubs = append(m.stubs, mockStub{matcher: matcher, err: err})
	return m
}

func newMockStub(matcher func(*http.Request) bool, status int, contentType, body string) mockStub {
	header := make(http.Header)
	if contentType != "" {
		header.Set("Content-Type", contentType)
	}
	return mockStub{matcher: matcher, status: status, header: header, body: []byte(body)}
}

var errNoStub = errors.New("no stub found for request")

// RoundTrip implements http.RoundTripper.
func (m *MockServer) RoundTrip(req *http.Request) (*http.Response, error) {
	rec, err := record(req)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	m.requests = append(m.requests, rec)
	m.mu.Unlock()

	m.mu.RLock()
	defer m.mu.RUnlock()

	for i := range m.stubs {
		s := &m.stubs[i]
		if !s.matcher(req) {
			continue
		}
		if s.err != nil {
			return nil, s.err
		}
		return s.response(req), nil
	}

	if m.fallback != nil {
		if m.fallback.err != nil {
			return nil, m.fallback.err
		}
		return m.fallback.response(req), nil
	}
	return nil, fmt.Errorf("%w: %s %s", errNoStub, req.Method, req.URL.Redacted())
}

func record(req *http.Request) (*RecordedRequest, error) {
	rec := &RecordedRequest{
		Method: req.Method,
		URL:    cloneURL(req.URL),
		Host:   req.Host,
		Header: req.Header.Clone(),
	}
	if req.Body != nil && req.Body != http.NoBody {
		data, err := io.ReadAll(req.Body)
		req.Body.Close()
		if err != nil {
			return nil, fmt.Errorf("read mocked request body: %w", err)
		}
		req.Body = io.NopCloser(bytes.NewReader(data))
		rec.Body = data
	}
	return rec, nil
}

// Requests returns the recorded requests in arrival order.
func (m *MockServer) Requests() []*RecordedRequest {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]*RecordedRequest{}, m.requests...)
}

// RequestCount returns the number of recorded requests.
func (m *MockServer) RequestCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.requests)
}

// LastRequest returns the most recent request, or nil if none.
func (m *MockServer) LastRequest() *RecordedRequest {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if len(m.requests) == 0 {
		return nil
	}
	return m.requests[len(m.requests)-1]
}

// Reset clears recorded requests and stubs.
func (m *MockServer) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.requests = nil
	m.stubs = nil
	m.fallback = nil
}

// Init installs m in the bag unless a per-call mock is already present.
func (m *MockServer) Init(ext *Extensions) {
	SetExtensionIfAbsent(ext, m)
}
