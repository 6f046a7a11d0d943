// Package resilience provides opt-in http.RoundTripper decorators: retry
// with backoff, circuit breaking, rate limiting and request coalescing.
//
// Nothing here is installed by default. Decorators compose around a
// transport with Chain, or plug into an httpclient.Client as user
// middlewares:
//
//	client, err := httpclient.New("https://api.example.com",
//	    httpclient.WithMiddleware(
//	        httpclient.Middleware(resilience.Retry(resilience.DefaultRetryConfig())),
//	        httpclient.Middleware(resilience.Breaker(resilience.DefaultBreakerConfig("payments"))),
//	    ),
//	)
//
// As middlewares they run between the host rewrite and the signing stages,
// so each retry attempt is signed and logged.
package resilience

import (
	"net/http"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Decorator wraps a RoundTripper with additional behaviour.
type Decorator func(next http.RoundTripper) http.RoundTripper

// RoundTripperFunc adapts a function to http.RoundTripper.
type RoundTripperFunc func(req *http.Request) (*http.Response, error)

// RoundTrip implements http.RoundTripper.
func (f RoundTripperFunc) RoundTrip(req *http.Request) (*http.Response, error) {
	return f(req)
}

// Chain wraps base with decorators. The first decorator is the outermost.
// A nil base means http.DefaultTransport.
func Chain(base http.RoundTripper, decorators ...Decorator) http.RoundTripper {
	if base == nil {
		base = http.DefaultTransport
	}
	rt := base
	for i := len(decorators) - 1; i >= 0; i-- {
		if decorators[i] != nil {
			rt = decorators[i](rt)
		}
	}
	return rt
}

func loggerOrGlobal(l *zerolog.Logger) *zerolog.Logger {
	if l != nil {
		return l
	}
	return &log.Logger
}
