package httpclient

import (
	"errors"
	"net/http"
	"net/url"
)

// Signature attaches a credential to an outgoing request.
//
// GenerateToken is called once per request after every user middleware
// ran, so it observes the final request. The returned token is attached
// through Carrier.
type Signature interface {
	Carrier() Carrier
	GenerateToken(req *http.Request) (string, error)
}

// TokenGenerator produces an access token for a request.
type TokenGenerator interface {
	GenerateToken(req *http.Request) (string, error)
}

// TokenGeneratorFunc adapts a function to TokenGenerator.
type TokenGeneratorFunc func(req *http.Request) (string, error)

func (f TokenGeneratorFunc) GenerateToken(req *http.Request) (string, error) {
	return f(req)
}

type carrierKind int

const (
	carrierBearer carrierKind = iota
	carrierSchemeless
	carrierHeader
	carrierQueryParam
)

// Carrier decides where a token is placed on the request.
// The zero value is the Bearer Authorization carrier.
type Carrier struct {
	kind carrierKind
	name string
}

// BearerAuth places the token in "Authorization: Bearer <token>".
func BearerAuth() Carrier { return Carrier{kind: carrierBearer} }

// SchemelessAuth places the token in "Authorization: <token>".
func SchemelessAuth() Carrier { return Carrier{kind: carrierSchemeless} }

// HeaderCarrier places the token in the named header.
func HeaderCarrier(name string) Carrier { return Carrier{kind: carrierHeader, name: name} }

// QueryParamCarrier appends the token as the named query parameter.
func QueryParamCarrier(name string) Carrier { return Carrier{kind: carrierQueryParam, name: name} }

func (c Carrier) String() string {
	switch c.kind {
	case carrierSchemeless:
		return "schemeless"
	case carrierHeader:
		return "header:" + c.name
	case carrierQueryParam:
		return "query:" + c.name
	default:
		return "bearer"
	}
}

// Apply attaches token to req.
func (c Carrier) Apply(req *http.Request, token string) {
	switch c.kind {
	case carrierSchemeless:
		req.Header.Set("Authorization", token)
	case carrierHeader:
		req.Header.Add(c.name, token)
	case carrierQueryParam:
		pair := url.QueryEscape(c.name) + "=" + url.QueryEscape(token)
		if req.URL.RawQuery == "" {
			req.URL.RawQuery = pair
		} else {
			req.URL.RawQuery += "&" + pair
		}
	default:
		req.Header.Set("Authorization", "Bearer "+token)
	}
}

// AccessTokenAuth signs requests with a fixed or dynamically generated token.
//
// Example:
//
//	auth := httpclient.NewAccessTokenAuth(token).WithQueryParam("x-auth")
//	client, _ := httpclient.New("https://api.example.com",
//	    httpclient.WithSignature(auth),
//	)
type AccessTokenAuth struct {
	token     string
	generator TokenGenerator
	carrier   Carrier
}

// NewAccessTokenAuth returns a signature that always uses token.
func NewAccessTokenAuth(token string) *AccessTokenAuth {
	return &AccessTokenAuth{token: token}
}

// NewDynamicTokenAuth returns a signature that asks generator for a token
// on every request.
func NewDynamicTokenAuth(generator TokenGenerator) *AccessTokenAuth {
	return &AccessTokenAuth{generator: generator}
}

// WithCarrier returns a copy using carrier.
func (a *AccessTokenAuth) WithCarrier(carrier Carrier) *AccessTokenAuth {
	c := *a
	c.carrier = carrier
	return &c
}

// WithHeaderName returns a copy carrying the token in the named header.
func (a *AccessTokenAuth) WithHeaderName(name string) *AccessTokenAuth {
	return a.WithCarrier(HeaderCarrier(name))
}

// WithQueryParam returns a copy carrying the token in the named query parameter.
func (a *AccessTokenAuth) WithQueryParam(name string) *AccessTokenAuth {
	return a.WithCarrier(QueryParamCarrier(name))
}

func (a *AccessTokenAuth) Carrier() Carrier { return a.carrier }

var errNoTokenSource = errors.New("access token auth has no token source")

func (a *AccessTokenAuth) GenerateToken(req *http.Request) (string, error) {
	if a.generator != nil {
		return a.generator.GenerateToken(req)
	}
	if a.token == "" {
		return "", errNoTokenSource
	}
	return a.token, nil
}

// signingMiddleware attaches the credential of the call. A Signature in the
// request's bag wins over the client-level one.
func signingMiddleware(fallback Signature) Middleware {
	return func(next http.RoundTripper) http.RoundTripper {
		return RoundTripperFunc(func(req *http.Request) (*http.Response, error) {
			sig, ok := GetExtension[Signature](ExtensionsFromContext(req.Context()))
			if !ok || sig == nil {
				sig = fallback
			}
			if sig == nil {
				return next.RoundTrip(req)
			}

			token, err := sig.GenerateToken(req)
			if err != nil {
				return nil, newError(KindMiddleware, err)
			}
			carrier := sig.Carrier()
			carrier.Apply(req, token)
			// Read by the logging stage to mask the credential.
			if ext := ExtensionsFromContext(req.Context()); ext != nil {
				SetExtension(ext, carrier)
			}
			return next.RoundTrip(req)
		})
	}
}
