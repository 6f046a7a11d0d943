package httpclient

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	json "github.com/goccy/go-json"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type errReader struct{ err error }

func (r errReader) Read([]byte) (int, error) { return 0, r.err }

func logLines(t *testing.T, buf *bytes.Buffer) []map[string]any {
	t.Helper()

	var lines []map[string]any
	for _, raw := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		if raw == "" {
			continue
		}
		var line map[string]any
		require.NoError(t, json.Unmarshal([]byte(raw), &line))
		lines = append(lines, line)
	}
	return lines
}

func TestLoggingMiddleware_Levels(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		clientOpt []Option
		configure func(rb *RequestBuilder) *RequestBuilder
		wantLevel string
		wantLines int
	}{
		{
			name:      "given no configuration, then logs at the process default",
			wantLevel: DefaultLogLevel().String(),
			wantLines: 2,
		},
		{
			name:      "given client level, then uses it",
			clientOpt: []Option{WithLogLevel(zerolog.InfoLevel)},
			wantLevel: "info",
			wantLines: 2,
		},
		{
			name:      "given per-call level, then it wins over the client level",
			clientOpt: []Option{WithLogLevel(zerolog.InfoLevel)},
			configure: func(rb *RequestBuilder) *RequestBuilder { return rb.LogLevel(zerolog.WarnLevel) },
			wantLevel: "warn",
			wantLines: 2,
		},
		{
			name:      "given client disabled, then writes nothing",
			clientOpt: []Option{WithLogLevel(zerolog.Disabled)},
			wantLines: 0,
		},
		{
			name:      "given per-call enable on a disabled client, then logs",
			clientOpt: []Option{WithLogLevel(zerolog.Disabled)},
			configure: func(rb *RequestBuilder) *RequestBuilder {
				return rb.Configure(NewRequestConfigurator("").WithLogEnabled(true))
			},
			wantLevel: "debug",
			wantLines: 2,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			var buf bytes.Buffer
			mock := NewMockServer().Stub(http.StatusOK, "application/json", `{"id":1}`)
			opts := append([]Option{WithLogger(zerolog.New(&buf)), WithMockServer(mock)}, tt.clientOpt...)
			client, err := New("http://users.internal", opts...)
			require.NoError(t, err)

			rb := client.Request("GetUser").Path("/users/1")
			if tt.configure != nil {
				rb = tt.configure(rb)
			}
			resp, err := rb.Get(context.Background())
			require.NoError(t, err)
			require.NoError(t, resp.Close())

			lines := logLines(t, &buf)
			require.Len(t, lines, tt.wantLines)
			for _, line := range lines {
				assert.Equal(t, tt.wantLevel, line["level"])
				assert.Equal(t, "GetUser", line["target"])
			}
		})
	}
}

func TestLoggingMiddleware_Fields(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	mock := NewMockServer().StubJSON("/users", http.StatusCreated, `{"id":7}`)
	client, err := New("http://users.internal",
		WithLogger(zerolog.New(&buf)),
		WithLogLevel(zerolog.InfoLevel),
		WithMockServer(mock),
	)
	require.NoError(t, err)

	var created struct {
		ID int `json:"id"`
	}
	_, err = client.Request("CreateUser").
		Path("/users").
		RequestID("req-9").
		JSON(map[string]string{"name": "ann"}).
		Decode(&created).
		Post(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 7, created.ID, "logged body is still readable")

	lines := logLines(t, &buf)
	require.Len(t, lines, 2)

	req, resp := lines[0], lines[1]
	assert.Equal(t, "HTTP request", req["message"])
	assert.Equal(t, "req-9", req["request_id"])
	assert.Equal(t, "POST", req["method"])
	assert.Equal(t, "http://users.internal/users", req["url"])
	assert.Equal(t, "json", req["payload_kind"])
	assert.Equal(t, `{"name":"ann"}`, req["payload"])
	assert.NotContains(t, req, "curl", "curl only at trace level")

	assert.Equal(t, "HTTP response", resp["message"])
	assert.EqualValues(t, 201, resp["status"])
	assert.Equal(t, `{"id":7}`, resp["body"])
	assert.Contains(t, resp, "elapsed_ms")
}

func TestLoggingMiddleware_Failure(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	mock := NewMockServer().StubError(errors.New("connection refused"))
	client, err := New("http://users.internal",
		WithLogger(zerolog.New(&buf)),
		WithLogLevel(zerolog.DebugLevel),
		WithMockServer(mock),
	)
	require.NoError(t, err)

	_, err = client.Request("GetUser").Path("/users/1").Get(context.Background())
	require.Error(t, err)

	lines := logLines(t, &buf)
	require.Len(t, lines, 2)
	assert.Equal(t, "HTTP request failed", lines[1]["message"])
	assert.Equal(t, "warn", lines[1]["level"], "failures log at warn or above")
	assert.Contains(t, lines[1]["error"], "connection refused")
}

func TestGenerateCurlCommand(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		method  string
		body    []byte
		header  map[string]string
		host    string
		rawURL  string
		carrier Carrier
		want    string
	}{
		{
			name:   "given get, then omits the method",
			method: http.MethodGet,
			want:   "curl 'http://api.example.com/users'",
		},
		{
			name:   "given post with body and auth, then masks the credential",
			method: http.MethodPost,
			header: map[string]string{"Content-Type": "application/json", "Authorization": "Bearer secret"},
			body:   []byte(`{"name":"o'neil"}`),
			want: "curl -X POST 'http://api.example.com/users' -H 'Authorization: ***' " +
				`-H 'Content-Type: application/json' -d '{"name":"o'\''neil"}'`,
		},
		{
			name:   "given rewritten host, then adds a host header",
			method: http.MethodGet,
			host:   "users.internal",
			want:   "curl 'http://api.example.com/users' -H 'Host: users.internal'",
		},
		{
			name:    "given header carrier, then masks the named header",
			method:  http.MethodGet,
			header:  map[string]string{"X-Api-Key": "secret"},
			carrier: HeaderCarrier("x-api-key"),
			want:    "curl 'http://api.example.com/users' -H 'X-Api-Key: ***'",
		},
		{
			name:    "given query carrier, then masks the parameter only",
			method:  http.MethodGet,
			rawURL:  "http://api.example.com/users?page=2&x-auth=secret",
			carrier: QueryParamCarrier("x-auth"),
			want:    "curl 'http://api.example.com/users?page=2&x-auth=***'",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			rawURL := tt.rawURL
			if rawURL == "" {
				rawURL = "http://api.example.com/users"
			}
			req, err := http.NewRequest(tt.method, rawURL, nil)
			require.NoError(t, err)
			for k, v := range tt.header {
				req.Header.Set(k, v)
			}
			if tt.host != "" {
				req.Host = tt.host
			}
			assert.Equal(t, tt.want, generateCurlCommand(req, tt.body, tt.carrier))
		})
	}
}

func TestTruncate(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "abc", truncate("abc", 5))
	assert.Equal(t, "ab", truncate("abcdef", 2))
	assert.Equal(t, "héł", truncate("héłło", 3), "cuts on rune boundaries")
	assert.Len(t, truncate(strings.Repeat("x", 2000), maxLogExcerpt), maxLogExcerpt)
}

func TestInitDefaultLogLevel(t *testing.T) {
	t.Parallel()

	first := DefaultLogLevel()
	assert.True(t, InitDefaultLogLevel(first), "first call applies")
	assert.False(t, InitDefaultLogEnabled(false), "later calls are ignored")
	assert.Equal(t, first, DefaultLogLevel())
}

func TestLoggingMiddleware_StreamedBody(t *testing.T) {
	t.Parallel()

	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		_, _ = w.Write([]byte("data: hello\n\n"))
		w.(http.Flusher).Flush()
		select {
		case <-release:
		case <-r.Context().Done():
			return
		}
		_, _ = w.Write([]byte("data: bye\n\n"))
	}))
	t.Cleanup(server.Close)

	var buf bytes.Buffer
	client, err := New(server.URL,
		WithLogger(zerolog.New(&buf)),
		WithLogLevel(zerolog.DebugLevel),
		WithProxyFromEnvironment(false),
	)
	require.NoError(t, err)

	type result struct {
		resp *Response
		err  error
	}
	done := make(chan result, 1)
	go func() {
		resp, err := client.Request("Events").Path("/events").Get(context.Background())
		done <- result{resp, err}
	}()

	var got result
	select {
	case got = <-done:
	case <-time.After(2 * time.Second):
		close(release)
		t.Fatal("logging waited for the stream to end")
	}
	require.NoError(t, got.err)
	close(release)

	body, err := got.resp.Body()
	require.NoError(t, err)
	assert.Equal(t, "data: hello\n\ndata: bye\n\n", string(body), "the logged head is put back")

	lines := logLines(t, &buf)
	require.Len(t, lines, 2)
	assert.Contains(t, lines[1]["body"], "data: hello")
}

func TestLoggingMiddleware_LargeBody(t *testing.T) {
	t.Parallel()

	payload := `{"data":"` + strings.Repeat("x", 10*maxLogBodyBytes) + `"}`
	var buf bytes.Buffer
	mock := NewMockServer().StubJSON("/big", http.StatusOK, payload)
	client, err := New("http://users.internal",
		WithLogger(zerolog.New(&buf)),
		WithLogLevel(zerolog.InfoLevel),
		WithMockServer(mock),
	)
	require.NoError(t, err)

	var got struct {
		Data string `json:"data"`
	}
	_, err = client.Request("Big").Path("/big").Decode(&got).Get(context.Background())
	require.NoError(t, err)
	assert.Len(t, got.Data, 10*maxLogBodyBytes)

	lines := logLines(t, &buf)
	require.Len(t, lines, 2)
	logged, ok := lines[1]["body"].(string)
	require.True(t, ok)
	assert.Len(t, logged, maxLogExcerpt)
	assert.True(t, strings.HasPrefix(payload, logged))
}

func TestLoggingMiddleware_SkipsFilteredEvents(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	tracker := &closeTracker{Reader: strings.NewReader(`{"id":1}`)}
	client, err := New("http://users.internal",
		WithLogger(zerolog.New(&buf).Level(zerolog.ErrorLevel)),
		WithLogLevel(zerolog.DebugLevel),
		WithTransport(RoundTripperFunc(func(req *http.Request) (*http.Response, error) {
			return &http.Response{
				StatusCode:    http.StatusOK,
				Header:        http.Header{"Content-Type": {"application/json"}},
				Body:          tracker,
				ContentLength: -1,
				Request:       req,
			}, nil
		})),
	)
	require.NoError(t, err)

	resp, err := client.Request("GetUser").Path("/users/1").Get(context.Background())
	require.NoError(t, err)
	assert.Empty(t, buf.String())

	rest, err := io.ReadAll(tracker.Reader)
	require.NoError(t, err)
	assert.Equal(t, `{"id":1}`, string(rest), "a filtered event reads nothing ahead")
	require.NoError(t, resp.Close())
}

func TestLoggingMiddleware_MasksCarrier(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		signature Signature
		wantURL   string
	}{
		{
			name:      "given query carrier, then the url is masked",
			signature: NewAccessTokenAuth("s3cr3t").WithQueryParam("x-auth"),
			wantURL:   "http://users.internal/users?page=2&x-auth=***",
		},
		{
			name:      "given header carrier, then the url is unchanged",
			signature: NewAccessTokenAuth("s3cr3t").WithHeaderName("X-Api-Key"),
			wantURL:   "http://users.internal/users?page=2",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			var buf bytes.Buffer
			mock := NewMockServer().Stub(http.StatusOK, "application/json", `{}`)
			client, err := New("http://users.internal",
				WithLogger(zerolog.New(&buf)),
				WithLogLevel(zerolog.InfoLevel),
				WithSignature(tt.signature),
				WithMockServer(mock),
			)
			require.NoError(t, err)

			resp, err := client.Request("ListUsers").Path("/users").Query("page", "2").Get(context.Background())
			require.NoError(t, err)
			require.NoError(t, resp.Close())

			lines := logLines(t, &buf)
			require.Len(t, lines, 2)
			assert.Equal(t, tt.wantURL, lines[0]["url"])
			assert.NotContains(t, buf.String(), "s3cr3t")
		})
	}
}
