package httpclient

import (
	"net/http"
)

// RequestInterceptor allows modification of requests before they are sent.
//
// Common use cases:
//   - Adding static or computed headers
//   - Rejecting requests that miss required context
type RequestInterceptor func(req *http.Request) error

// ResponseInterceptor allows inspection of responses after receipt.
//
// Common use cases:
//   - Response auditing
//   - Mapping vendor specific status headers to errors
type ResponseInterceptor func(resp *http.Response, req *http.Request) error

// InterceptorChain manages request and response interceptors.
// Interceptors are executed in the order they are added.
type InterceptorChain struct {
	requestInterceptors  []RequestInterceptor
	responseInterceptors []ResponseInterceptor
}

// NewInterceptorChain creates an empty interceptor chain.
func NewInterceptorChain() *InterceptorChain {
	return &InterceptorChain{}
}

// AddRequestInterceptor adds a request interceptor to the chain.
func (c *InterceptorChain) AddRequestInterceptor(i RequestInterceptor) *InterceptorChain {
	c.requestInterceptors = append(c.requestInterceptors, i)
	return c
}

// AddResponseInterceptor adds a response interceptor to the chain.
func (c *InterceptorChain) AddResponseInterceptor(i ResponseInterceptor) *InterceptorChain {
	c.responseInterceptors = append(c.responseInterceptors, i)
	return c
}

// Middleware turns the chain into a dispatch stage.
//
// A failing request interceptor stops the call before the network send. A
// failing response interceptor closes the response body.
func (c *InterceptorChain) Middleware() Middleware {
	return func(next http.RoundTripper) http.RoundTripper {
		return RoundTripperFunc(func(req *http.Request) (*http.Response, error) {
			for _, interceptor := range c.requestInterceptors {
				if err := interceptor(req); err != nil {
					return nil, err
				}
			}

			resp, err := next.RoundTrip(req)
			if err != nil {
				return nil, err
			}

			for _, interceptor := range c.responseInterceptors {
				if err := interceptor(resp, req); err != nil {
					resp.Body.Close()
					return nil, err
				}
			}
			return resp, nil
		})
	}
}

// InterceptorMiddleware creates a stage from request interceptors.
//
// Example:
//
//	client, _ := httpclient.New(baseURL,
//	    httpclient.WithMiddleware(httpclient.InterceptorMiddleware(
//	        func(req *http.Request) error {
//	            req.Header.Set("X-Tenant", tenant)
//	            return nil
//	        },
//	    )),
//	)
func InterceptorMiddleware(interceptors ...RequestInterceptor) Middleware {
	c := NewInterceptorChain()
	for _, i := range interceptors {
		c.AddRequestInterceptor(i)
	}
	return c.Middleware()
}

// HeaderMiddleware sets a header on every request.
func HeaderMiddleware(key, value string) Middleware {
	return InterceptorMiddleware(func(req *http.Request) error {
		req.Header.Set(key, value)
		return nil
	})
}

// UserAgentMiddleware sets the User-Agent header.
func UserAgentMiddleware(userAgent string) Middleware {
	return HeaderMiddleware("User-Agent", userAgent)
}
