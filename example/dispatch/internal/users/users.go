// Package users is a typed client for the upstream user API.
package users

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/kroma-labs/apisdk-go/example/dispatch/internal/config"
	"github.com/kroma-labs/apisdk-go/example/dispatch/internal/upstream"
	"github.com/kroma-labs/apisdk-go/httpclient"
	"github.com/kroma-labs/apisdk-go/resilience"
	"github.com/rs/zerolog"
)

// Client calls the user API through the dispatch pipeline.
type Client struct {
	http *httpclient.Client
}

// New builds a client balancing over addrs. The logical host stays
// config.UpstreamHost in the Host header.
func New(addrs []string, metrics *resilience.Metrics, logger zerolog.Logger) (*Client, error) {
	endpoints := make([]httpclient.HostEndpoint, 0, len(addrs))
	for _, addr := range addrs {
		ep, err := httpclient.ParseEndpoint(addr)
		if err != nil {
			return nil, err
		}
		endpoints = append(endpoints, ep)
	}
	router, err := httpclient.NewRoundRobinRouter(endpoints, httpclient.WithPreserveHost(true))
	if err != nil {
		return nil, err
	}

	signature := httpclient.NewHashedTokenAuth(config.AppID, config.AppSecret).
		WithAlgorithm(httpclient.HashSHA256).
		WithClientID(config.ClientID)

	retry := resilience.DefaultRetryConfig()
	retry.Name = "users"
	retry.InitialInterval = 100 * time.Millisecond
	retry.Metrics = metrics

	breaker := resilience.DefaultBreakerConfig("users")
	breaker.Logger = &logger
	breaker.Metrics = metrics

	client, err := httpclient.New("http://"+config.UpstreamHost+"/api",
		httpclient.WithConfig(httpclient.LowLatencyConfig()),
		httpclient.WithServiceName("users"),
		httpclient.WithRouter(router),
		httpclient.WithSignature(signature),
		httpclient.WithLogger(logger),
		httpclient.WithLogLevel(zerolog.InfoLevel),
		httpclient.WithDefaultHeader("Accept", "application/json"),
		httpclient.WithMiddleware(
			httpclient.UserAgentMiddleware("apisdk-dispatch-example/"+config.ServiceVersion),
			httpclient.Middleware(resilience.Retry(retry)),
			httpclient.Middleware(resilience.Breaker(breaker)),
			httpclient.Middleware(resilience.RateLimit(resilience.RateLimitConfig{
				Name:              "users",
				RequestsPerSecond: 50,
				Burst:             5,
				WaitOnLimit:       true,
				Metrics:           metrics,
			})),
			httpclient.Middleware(resilience.Hedge(resilience.HedgeConfig{
				Name:      "users",
				Delay:     200 * time.Millisecond,
				MaxHedges: 1,
				Tracker:   resilience.NewLatencyTracker(100, 10),
				Metrics:   metrics,
			})),
			httpclient.Middleware(resilience.Chaos(resilience.ChaosConfig{
				Jitter:    20 * time.Millisecond,
				ErrorRate: 0.05,
			})),
		),
	)
	if err != nil {
		return nil, err
	}
	return &Client{http: client}, nil
}

// Get fetches one user. Unknown users fail with a business error.
func (c *Client) Get(ctx context.Context, id int) (upstream.User, error) {
	return httpclient.Send[upstream.User](ctx,
		c.http.Request("GetUser").
			Path("/users/{id}").
			PathParam("id", strconv.Itoa(id)),
		http.MethodGet, httpclient.Envelope)
}

// Create registers a user and returns it with its id.
func (c *Client) Create(ctx context.Context, name, email string) (upstream.User, error) {
	return httpclient.Send[upstream.User](ctx,
		c.http.Request("CreateUser").
			Path("/users").
			JSON(upstream.User{Name: name, Email: email}),
		http.MethodPost, httpclient.Envelope)
}

// Flaky calls an endpoint that fails part of the time and returns the
// whole envelope, including the upstream that answered.
func (c *Client) Flaky(ctx context.Context) (*httpclient.CodeDataMessage, error) {
	var env httpclient.CodeDataMessage
	_, err := c.http.Request("Flaky").
		Path("/flaky").
		Extract(httpclient.Envelope).
		Decode(&env).
		Get(ctx)
	if err != nil {
		return nil, err
	}
	return &env, nil
}

// PoolStats exposes the connection pool settings.
func (c *Client) PoolStats() httpclient.PoolStats {
	return c.http.PoolStats()
}

// Close releases idle connections.
func (c *Client) Close() {
	c.http.CloseIdleConnections()
}
