package httpclient

import (
	"net/http"
)

// Middleware wraps the next stage of the dispatch chain.
//
// A middleware may inspect or mutate the request before calling next and
// the response after. Returning an error that is not an *Error surfaces
// to the caller as a KindMiddleware error.
type Middleware func(next http.RoundTripper) http.RoundTripper

// RoundTripperFunc adapts a function to http.RoundTripper.
type RoundTripperFunc func(req *http.Request) (*http.Response, error)

// RoundTrip implements http.RoundTripper.
func (f RoundTripperFunc) RoundTrip(req *http.Request) (*http.Response, error) {
	return f(req)
}

// Compile-time interface check.
var _ http.RoundTripper = RoundTripperFunc(nil)

// RewriteHost is the bag extension carrying the logical Host header of a
// call whose endpoint replaced the URL host.
type RewriteHost string

// chain composes stages around terminal. The first stage is the outermost.
func chain(terminal http.RoundTripper, stages ...Middleware) http.RoundTripper {
	rt := terminal
	for i := len(stages) - 1; i >= 0; i-- {
		if stages[i] == nil {
			continue
		}
		rt = stages[i](rt)
	}
	return rt
}

// hostRewriteMiddleware restores the logical Host header after the router
// substituted the URL host.
func hostRewriteMiddleware() Middleware {
	return func(next http.RoundTripper) http.RoundTripper {
		return RoundTripperFunc(func(req *http.Request) (*http.Response, error) {
			if host, ok := GetExtension[RewriteHost](ExtensionsFromContext(req.Context())); ok && host != "" {
				req.Host = string(host)
			}
			return next.RoundTrip(req)
		})
	}
}

// dispatchStages returns the stages of the chain in their fixed order:
// trace, host rewrite, user middlewares, signing, logging.
func dispatchStages(cfg *internalConfig) []Middleware {
	stages := make([]Middleware, 0, len(cfg.middlewares)+4)
	stages = append(stages, traceMiddleware(), hostRewriteMiddleware())
	stages = append(stages, cfg.middlewares...)
	stages = append(stages, signingMiddleware(cfg.signature))
	stages = append(stages, loggingMiddleware(cfg.logger))
	return stages
}
