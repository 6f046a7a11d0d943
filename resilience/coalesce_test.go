package resilience

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCoalesceKey(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		method1  string
		url1     string
		auth1    string
		method2  string
		url2     string
		auth2    string
		wantSame bool
	}{
		{
			name:     "given identical requests, then same key",
			method1:  http.MethodGet,
			url1:     "https://example.com/users/123",
			method2:  http.MethodGet,
			url2:     "https://example.com/users/123",
			wantSame: true,
		},
		{
			name:     "given different methods, then different key",
			method1:  http.MethodGet,
			url1:     "https://example.com/users/123",
			method2:  http.MethodHead,
			url2:     "https://example.com/users/123",
			wantSame: false,
		},
		{
			name:     "given different paths, then different key",
			method1:  http.MethodGet,
			url1:     "https://example.com/users/123",
			method2:  http.MethodGet,
			url2:     "https://example.com/users/456",
			wantSame: false,
		},
		{
			name:     "given same query in different order, then same key",
			method1:  http.MethodGet,
			url1:     "https://example.com/users?a=1&b=2",
			method2:  http.MethodGet,
			url2:     "https://example.com/users?b=2&a=1",
			wantSame: true,
		},
		{
			name:     "given different authorization, then different key",
			method1:  http.MethodGet,
			url1:     "https://example.com/me",
			auth1:    "Bearer a",
			method2:  http.MethodGet,
			url2:     "https://example.com/me",
			auth2:    "Bearer b",
			wantSame: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			req1 := httptest.NewRequest(tt.method1, tt.url1, nil)
			req1.Header.Set("Authorization", tt.auth1)
			req2 := httptest.NewRequest(tt.method2, tt.url2, nil)
			req2.Header.Set("Authorization", tt.auth2)

			headers := []string{"Authorization"}
			assert.Equal(t, tt.wantSame, coalesceKey(req1, headers) == coalesceKey(req2, headers))
		})
	}
}

func TestCoalesce_SharesSimultaneousRequests(t *testing.T) {
	t.Parallel()

	var serverCalls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		serverCalls.Add(1)
		time.Sleep(100 * time.Millisecond)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"result":"ok"}`))
	}))
	t.Cleanup(server.Close)

	reg := prometheus.NewRegistry()
	metrics, err := NewMetrics(reg)
	require.NoError(t, err)

	cfg := DefaultCoalesceConfig()
	cfg.Name = "data"
	cfg.Metrics = metrics
	transport := Chain(http.DefaultTransport, Coalesce(cfg))

	const numRequests = 10
	var wg sync.WaitGroup
	bodies := make([]string, numRequests)
	errs := make([]error, numRequests)

	for i := range numRequests {
		wg.Add(1)
		go func() {
			defer wg.Done()
			req, _ := http.NewRequest(http.MethodGet, server.URL+"/data", nil)
			resp, err := transport.RoundTrip(req)
			errs[i] = err
			if err == nil {
				bodies[i] = readBody(t, resp)
			}
		}()
	}
	wg.Wait()

	for i := range numRequests {
		require.NoError(t, errs[i])
		assert.JSONEq(t, `{"result":"ok"}`, bodies[i])
	}
	assert.Equal(t, int32(1), serverCalls.Load())
	assert.InDelta(t, numRequests, testutil.ToFloat64(metrics.coalesced.WithLabelValues("data")), 0)
}

func TestCoalesce_Bypass(t *testing.T) {
	t.Parallel()

	var serverCalls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		serverCalls.Add(1)
		w.WriteHeader(http.StatusOK)
	}))
	t.Cleanup(server.Close)

	transport := Chain(http.DefaultTransport, Coalesce(DefaultCoalesceConfig()))

	tests := []struct {
		name   string
		method string
		body   string
	}{
		{name: "given sequential GET, then calls upstream", method: http.MethodGet},
		{name: "given POST, then calls upstream", method: http.MethodPost, body: `{}`},
		{name: "given GET with body, then calls upstream", method: http.MethodGet, body: `{}`},
	}

	for _, tt := range tests {
		req, err := http.NewRequest(tt.method, server.URL, strings.NewReader(tt.body))
		require.NoError(t, err, tt.name)
		if tt.body == "" {
			req.Body = http.NoBody
		}
		resp, err := transport.RoundTrip(req)
		require.NoError(t, err, tt.name)
		resp.Body.Close()
	}

	assert.Equal(t, int32(len(tests)), serverCalls.Load())
}
