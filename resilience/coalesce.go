package resilience

import (
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"net/url"
	"slices"
	"strings"

	"golang.org/x/sync/singleflight"
)

// CoalesceConfig configures request coalescing.
type CoalesceConfig struct {
	// Name labels metrics. Default: "default".
	Name string

	// Methods lists the coalesced methods. Default: GET and HEAD.
	Methods []string

	// KeyHeaders are request headers that distinguish otherwise identical
	// calls, such as Authorization.
	KeyHeaders []string

	// Metrics counts shared responses. Optional.
	Metrics *Metrics
}

// DefaultCoalesceConfig coalesces GET and HEAD keyed by Authorization.
func DefaultCoalesceConfig() CoalesceConfig {
	return CoalesceConfig{
		Methods:    []string{http.MethodGet, http.MethodHead},
		KeyHeaders: []string{"Authorization"},
	}
}

// Coalesce returns a decorator that lets concurrent identical requests
// share one upstream round trip. Each caller receives its own copy of the
// response.
func Coalesce(cfg CoalesceConfig) Decorator {
	if cfg.Name == "" {
		cfg.Name = defaultName
	}
	if len(cfg.Methods) == 0 {
		cfg.Methods = []string{http.MethodGet, http.MethodHead}
	}
	group := &singleflight.Group{}

	return func(next http.RoundTripper) http.RoundTripper {
		return RoundTripperFunc(func(req *http.Request) (*http.Response, error) {
			if !slices.Contains(cfg.Methods, req.Method) || (req.Body != nil && req.Body != http.NoBody) {
				return next.RoundTrip(req)
			}

			key := coalesceKey(req, cfg.KeyHeaders)
			v, err, shared := group.Do(key, func() (any, error) {
				resp, err := next.RoundTrip(req)
				if err != nil {
					return nil, err
				}
				return takeSnapshot(resp)
			})
			if err != nil {
				return nil, err
			}
			if shared {
				cfg.Metrics.recordCoalesced(cfg.Name)
			}
			return v.(*snapshot).response(req), nil
		})
	}
}

// coalesceKey hashes the method, the normalised URL and the key headers.
// Query parameters are sorted so that their order does not matter.
func coalesceKey(req *http.Request, headers []string) string {
	parts := []string{req.Method, req.Host, normalizeURL(req.URL)}
	for _, h := range headers {
		parts = append(parts, h+"="+req.Header.Get(h))
	}
	sum := sha256.Sum256([]byte(strings.Join(parts, "|")))
	return hex.EncodeToString(sum[:])
}

func normalizeURL(u *url.URL) string {
	query := u.Query()
	params := make([]string, 0, len(query))
	for k, vs := range query {
		for _, v := range vs {
			params = append(params, k+"="+v)
		}
	}
	slices.Sort(params)
	return u.Scheme + "://" + u.Host + u.EscapedPath() + "?" + strings.Join(params, "&")
}
