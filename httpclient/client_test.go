package httpclient

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/netip"
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		baseURL string
		wantErr assert.ErrorAssertionFunc
	}{
		{name: "given absolute url, then succeeds", baseURL: "https://api.example.com/v1", wantErr: assert.NoError},
		{
			name:    "given relative url, then invalid url error",
			baseURL: "/v1/users",
			wantErr: func(t assert.TestingT, err error, _ ...any) bool {
				return assert.ErrorIs(t, err, ErrInvalidURL)
			},
		},
		{
			name:    "given unparsable url, then invalid url error",
			baseURL: "http://[::1",
			wantErr: func(t assert.TestingT, err error, _ ...any) bool {
				return assert.ErrorIs(t, err, ErrInvalidURL)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			client, err := New(tt.baseURL)
			tt.wantErr(t, err)
			if err == nil {
				assert.NotNil(t, client.HTTP())
				assert.Equal(t, tt.baseURL, client.BaseURL().String())
			}
		})
	}
}

func TestClient_BuildURL(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		opts []Option
		path string
		want string
	}{
		{
			name: "given no router, then merges onto base",
			path: "/users",
			want: "http://users.internal/api/users",
		},
		{
			name: "given fixed router, then substitutes host",
			opts: []Option{WithRouter(NewFixedRouter(MustParseEndpoint("10.0.0.1:8080")))},
			path: "users",
			want: "http://10.0.0.1:8080/api/users",
		},
		{
			name: "given path rewriter, then prefixes path",
			opts: []Option{WithRewriter(PathRewriter("/v2"))},
			path: "/users",
			want: "http://users.internal/api/v2/users",
		},
		{
			name: "given ip rewriter, then pins host",
			opts: []Option{WithRewriter(IPRewriter(netip.MustParseAddr("192.168.1.1")))},
			path: "/users",
			want: "http://192.168.1.1/api/users",
		},
		{
			name: "given router after rewriter, then router wins",
			opts: []Option{
				WithRewriter(PathRewriter("/v2")),
				WithRouter(NewFixedRouter(MustParseEndpoint("10.0.0.2"))),
			},
			path: "/users",
			want: "http://10.0.0.2/api/users",
		},
		{
			name: "given static resolver with scheme, then overrides scheme and port",
			opts: []Option{WithResolver(
				NewStaticResolver(netip.MustParseAddrPort("127.0.0.1:8443")).WithScheme("https"),
			)},
			path: "/users",
			want: "https://users.internal:8443/api/users",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			client, err := New("http://users.internal/api", tt.opts...)
			require.NoError(t, err)

			got, err := client.BuildURL(context.Background(), tt.path)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got.String())
		})
	}
}

func TestClient_BuildURL_RoutingErrors(t *testing.T) {
	t.Parallel()

	cause := errors.New("no healthy instance")
	tests := []struct {
		name string
		opt  Option
	}{
		{
			name: "given failing router, then routing error",
			opt: WithRouter(RouterFunc(func(context.Context) (Endpoint, error) {
				return nil, cause
			})),
		},
		{
			name: "given failing rewriter, then routing error",
			opt: WithRewriter(RewriterFunc(func(context.Context, *url.URL) (*url.URL, error) {
				return nil, cause
			})),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			client, err := New("http://users.internal", tt.opt)
			require.NoError(t, err)

			_, err = client.BuildURL(context.Background(), "/x")
			assert.ErrorIs(t, err, ErrRouting)
			assert.ErrorIs(t, err, cause)
		})
	}
}

func TestClient_RebaseAndReroute(t *testing.T) {
	t.Parallel()

	client, err := New("http://users.internal/api", WithRewriter(PathRewriter("/v2")))
	require.NoError(t, err)

	rebased, err := client.Rebase("https://orders.internal/")
	require.NoError(t, err)
	u, err := rebased.BuildURL(context.Background(), "/orders")
	require.NoError(t, err)
	assert.Equal(t, "https://orders.internal/v2/orders", u.String())
	assert.Same(t, client.HTTP(), rebased.HTTP(), "rebased client shares the connection pool")

	_, err = client.Rebase("orders")
	assert.ErrorIs(t, err, ErrInvalidURL)

	rerouted := client.Reroute(NewFixedRouter(MustParseEndpoint("10.0.0.9:81")))
	u, err = rerouted.BuildURL(context.Background(), "/users")
	require.NoError(t, err)
	assert.Equal(t, "http://10.0.0.9:81/api/users", u.String())

	u, err = client.BuildURL(context.Background(), "/users")
	require.NoError(t, err)
	assert.Equal(t, "http://users.internal/api/v2/users", u.String(), "original client is unchanged")
}

func TestClient_NextEndpoint(t *testing.T) {
	t.Parallel()

	client, err := New("http://users.internal")
	require.NoError(t, err)
	ep, err := client.NextEndpoint(context.Background())
	require.NoError(t, err)
	assert.Equal(t, OriginalEndpoint{}, ep)
}

func TestClient_PreserveHost(t *testing.T) {
	t.Parallel()

	var gotHost string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotHost = r.Host
		w.WriteHeader(http.StatusNoContent)
	}))
	t.Cleanup(server.Close)

	serverURL, _ := url.Parse(server.URL)
	endpoint := MustParseEndpoint(serverURL.Host)

	tests := []struct {
		name     string
		preserve bool
		wantHost string
	}{
		{name: "given preserve host, then sends the logical host", preserve: true, wantHost: "users.internal"},
		{name: "given no preserve host, then sends the endpoint host", preserve: false, wantHost: serverURL.Host},
	}

	for _, tt := range tests {
		client, err := New("http://users.internal",
			WithRouter(NewFixedRouter(endpoint, WithPreserveHost(tt.preserve))),
			WithProxyFromEnvironment(false),
		)
		require.NoError(t, err, tt.name)

		resp, err := client.Request("Ping").Path("/ping").Get(context.Background())
		require.NoError(t, err, tt.name)
		require.NoError(t, resp.Close())
		assert.Equal(t, tt.wantHost, gotHost, tt.name)
	}
}

func TestClient_Resolver(t *testing.T) {
	t.Parallel()

	var gotHost string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotHost = r.Host
		w.Header().Set("Content-Type", "text/plain")
		_, _ = w.Write([]byte("pong"))
	}))
	t.Cleanup(server.Close)

	addr := netip.MustParseAddrPort(server.Listener.Addr().String())

	t.Run("given static resolver, then dials the address and keeps the host name", func(t *testing.T) {
		client, err := New("http://users.internal",
			WithResolver(NewStaticResolver(addr)),
			WithProxyFromEnvironment(false),
		)
		require.NoError(t, err)

		got, err := Send[string](context.Background(), client.Request("Ping").Path("/ping"), http.MethodGet, Text)
		require.NoError(t, err)
		assert.Equal(t, "pong", got)

		host, _, _ := splitHost(gotHost)
		assert.Equal(t, "users.internal", host)
	})

	t.Run("given declining resolver, then falls back to the system resolver", func(t *testing.T) {
		client, err := New(server.URL, WithResolver(ResolverFunc(
			func(context.Context, string) ([]netip.AddrPort, error) { return nil, nil },
		)))
		require.NoError(t, err)

		got, err := Send[string](context.Background(), client.Request("Ping").Path("/ping"), http.MethodGet, Text)
		require.NoError(t, err)
		assert.Equal(t, "pong", got)
	})

	t.Run("given failing resolver, then routing error", func(t *testing.T) {
		cause := errors.New("registry unavailable")
		client, err := New("http://users.internal",
			WithResolver(ResolverFunc(func(context.Context, string) ([]netip.AddrPort, error) {
				return nil, cause
			})),
			WithProxyFromEnvironment(false),
		)
		require.NoError(t, err)

		_, err = client.Request("Ping").Path("/ping").Get(context.Background())
		assert.ErrorIs(t, err, ErrRouting)
		assert.ErrorIs(t, err, cause)

		var resolveErr *ResolveError
		require.ErrorAs(t, err, &resolveErr)
		assert.Equal(t, "users.internal", resolveErr.Host)
	})
}

func splitHost(hostport string) (string, string, error) {
	u, err := url.Parse("http://" + hostport)
	if err != nil {
		return "", "", err
	}
	return u.Hostname(), u.Port(), nil
}
