package httpclient

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
)

// Client dispatches calls to one logical upstream through the fixed
// middleware chain: trace, host rewrite, user middlewares, signing,
// logging, then the network send.
//
// Create a Client using New():
//
//	client, err := httpclient.New("https://api.example.com/v1",
//	    httpclient.WithServiceName("payment-service"),
//	    httpclient.WithSignature(httpclient.NewAccessTokenAuth(token)),
//	)
//
//	user, err := httpclient.Send[User](ctx,
//	    client.Request("GetUser").Path("/users/{id}").PathParam("id", id),
//	    http.MethodGet, httpclient.Envelope)
type Client struct {
	// httpClient is the instrumented network client used by the terminal
	// stage.
	httpClient *http.Client

	// config holds all client configuration.
	config *internalConfig

	// baseURL is the logical upstream every path is merged onto.
	baseURL *url.URL

	// dispatch is the composed middleware chain.
	dispatch http.RoundTripper
}

// New creates a Client for baseURL with production-ready defaults and
// OpenTelemetry instrumentation.
//
// An unparsable or relative baseURL fails with ErrInvalidURL.
//
// Example - Balanced over two replicas, keeping the logical Host header:
//
//	router, _ := httpclient.NewRoundRobinRouter([]httpclient.HostEndpoint{
//	    httpclient.MustParseEndpoint("10.0.0.1:8080"),
//	    httpclient.MustParseEndpoint("10.0.0.2:8080"),
//	}, httpclient.WithPreserveHost(true))
//
//	client, err := httpclient.New("http://users.internal",
//	    httpclient.WithRouter(router),
//	)
func New(baseURL string, opts ...Option) (*Client, error) {
	base, err := parseBaseURL(baseURL)
	if err != nil {
		return nil, err
	}

	cfg := newConfig(opts...)
	httpClient := &http.Client{
		Transport: newOtelTransport(cfg.buildTransport(), cfg),
		Timeout:   cfg.httpConfig.Timeout,
	}

	c := &Client{
		httpClient: httpClient,
		config:     cfg,
		baseURL:    base,
	}
	c.dispatch = chain(RoundTripperFunc(c.send), dispatchStages(cfg)...)
	return c, nil
}

func parseBaseURL(raw string) (*url.URL, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return nil, newError(KindInvalidURL, err)
	}
	if u.Scheme == "" || u.Host == "" {
		return nil, newError(KindInvalidURL, fmt.Errorf("base url %q must be absolute", raw))
	}
	return u, nil
}

// HTTP returns the underlying instrumented *http.Client.
//
// Calls made through it skip the dispatch chain: no trace ids, signing or
// logging are applied.
func (c *Client) HTTP() *http.Client {
	return c.httpClient
}

// BaseURL returns a copy of the logical base URL.
func (c *Client) BaseURL() *url.URL {
	return cloneURL(c.baseURL)
}

// Rebase returns a client for another base URL sharing every other
// collaborator, including the connection pool.
func (c *Client) Rebase(baseURL string) (*Client, error) {
	base, err := parseBaseURL(baseURL)
	if err != nil {
		return nil, err
	}
	clone := *c
	clone.baseURL = base
	return &clone, nil
}

// Reroute returns a client that selects endpoints with router. A
// URLRewriter configured on c is dropped.
func (c *Client) Reroute(router Router) *Client {
	cfg := *c.config
	cfg.router = router
	cfg.rewriter = nil

	clone := *c
	clone.config = &cfg
	return &clone
}

// NextEndpoint returns the endpoint for the next call: the router's choice,
// or OriginalEndpoint when no router is configured.
func (c *Client) NextEndpoint(ctx context.Context) (Endpoint, error) {
	if c.config.router == nil {
		return OriginalEndpoint{}, nil
	}
	ep, err := c.config.router.NextEndpoint(ctx)
	if err != nil {
		return nil, routingError(err)
	}
	if ep == nil {
		return nil, routingError(errors.New("router returned no endpoint"))
	}
	return ep, nil
}

// BuildURL returns the request URL for path: the base URL passed through the
// rewriter or the selected endpoint, the resolver's scheme and port
// overrides, then path merged onto the base path.
func (c *Client) BuildURL(ctx context.Context, path string) (*url.URL, error) {
	u, _, err := c.buildURL(ctx, path)
	return u, err
}

// buildURL also reports whether the logical Host must be kept.
func (c *Client) buildURL(ctx context.Context, path string) (*url.URL, bool, error) {
	var (
		u        *url.URL
		preserve bool
	)

	if c.config.rewriter != nil {
		rewritten, err := c.config.rewriter.Rewrite(ctx, cloneURL(c.baseURL))
		if err != nil {
			return nil, false, routingError(err)
		}
		if rewritten == nil {
			return nil, false, routingError(errors.New("rewriter returned a nil url"))
		}
		u = JoinURL(rewritten, path)
	} else {
		ep, err := c.NextEndpoint(ctx)
		if err != nil {
			return nil, false, err
		}
		u, err = ep.BuildURL(c.baseURL, path)
		if err != nil {
			return nil, false, routingError(err)
		}
		preserve = ep.PreserveHost()
	}

	applyOverrides(c.config.resolver, u)
	return u, preserve, nil
}

// send is the terminal stage. A MockServer in the bag answers instead of
// the network.
func (c *Client) send(req *http.Request) (*http.Response, error) {
	if mock, ok := GetExtension[*MockServer](ExtensionsFromContext(req.Context())); ok && mock != nil {
		resp, err := mock.RoundTrip(req)
		if err != nil {
			return nil, newError(KindMiddleware, err)
		}
		return resp, nil
	}

	//nolint:bodyclose // closed by readResponseBody or the Response owner
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, transportError(err)
	}
	return resp, nil
}

// do runs req through the chain. Stage failures that are not an *Error
// are reported as KindMiddleware.
func (c *Client) do(req *http.Request) (*http.Response, error) {
	resp, err := c.dispatch.RoundTrip(req)
	if err != nil {
		if resp != nil && resp.Body != nil {
			resp.Body.Close()
		}
		if _, ok := AsError(err); ok {
			return nil, err
		}
		return nil, newError(KindMiddleware, err)
	}
	if resp == nil {
		return nil, newError(KindMiddleware, errors.New("middleware returned neither response nor error"))
	}
	return resp, nil
}
