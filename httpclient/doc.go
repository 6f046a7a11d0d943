// Package httpclient dispatches calls to remote HTTP APIs through a fixed
// middleware chain with routing, signing, structured logging, typed
// response extraction and OpenTelemetry instrumentation.
//
// # Features
//
//   - Base URL merging with exactly one slash between base and call path
//   - Endpoint routing (fixed, round-robin, random, custom) with optional
//     Host header preservation
//   - URL rewriting and dialer-level host resolution
//   - Request and trace id propagation (X-Request-ID, X-Trace-ID, X-Span-ID)
//   - Request signing with bearer, header, query and hashed tokens
//   - zerolog request/response logging with cURL rendering at trace level
//   - Extractors for JSON, XML, text and {"code","data","message"} envelopes
//   - One error type with a closed set of kinds
//   - In-process mock responder for tests
//
// # Quick Start
//
//	client, err := httpclient.New("https://api.example.com/v1",
//	    httpclient.WithServiceName("user-service"),
//	    httpclient.WithSignature(httpclient.NewAccessTokenAuth(token)),
//	)
//	if err != nil {
//	    return err
//	}
//
//	user, err := httpclient.Send[User](ctx,
//	    client.Request("GetUser").Path("/users/{id}").PathParam("id", id),
//	    http.MethodGet, httpclient.Envelope)
//
// The verb methods return the raw Response, whose body the caller owns:
//
//	resp, err := client.Request("Ping").Path("/ping").Get(ctx)
//	if err != nil {
//	    return err
//	}
//	defer resp.Close()
//
// # Middleware Order
//
// Every call passes the stages in this order:
//
//	trace -> host rewrite -> user middlewares -> signing -> logging -> send
//
// User middlewares therefore see the trace headers, and the signature is
// computed over the request they produced. The send stage answers from a
// MockServer when one is installed.
//
// # Resilience
//
// The pipeline never retries. Decorators from the resilience package can be
// installed as user middlewares, so each attempt is signed and logged:
//
//	client, _ := httpclient.New(baseURL,
//	    httpclient.WithMiddleware(
//	        httpclient.Middleware(resilience.Retry(resilience.DefaultRetryConfig())),
//	    ),
//	)
//
// # Configuration Presets
//
//	httpclient.WithConfig(httpclient.HighThroughputConfig())
//	httpclient.WithConfig(httpclient.LowLatencyConfig())
//
// # Observability
//
// The network transport emits a client span per round trip with W3C trace
// context propagation, and the metrics:
//   - http.client.request.duration (histogram)
//   - http.client.active_requests (up-down counter)
//   - http.client.request.error (counter)
//   - http.client.dns.duration, http.client.tls.duration (histograms)
//   - apisdk.client.dispatch.duration and apisdk.client.dispatch.errors,
//     which include response extraction
package httpclient
