package httpclient

import (
	"net/http"
	"time"
)

// PoolStats is a snapshot of the connection pool settings of a Client.
//
// Example:
//
//	stats := client.PoolStats()
//	log.Info().
//	    Int("max_idle", stats.MaxIdleConns).
//	    Int("max_per_host", stats.MaxConnsPerHost).
//	    Msg("connection pool")
type PoolStats struct {
	MaxIdleConns        int
	MaxIdleConnsPerHost int
	MaxConnsPerHost     int
	IdleConnTimeout     time.Duration
	DisableKeepAlives   bool
	// Resolving reports whether a Resolver is installed in the dialer.
	Resolving bool
}

// PoolStats returns the pool settings of the network transport. The zero
// value is returned when a custom RoundTripper hides the *http.Transport.
func (c *Client) PoolStats() PoolStats {
	t := unwrapTransport(c.httpClient.Transport)
	if t == nil {
		return PoolStats{}
	}
	return PoolStats{
		MaxIdleConns:        t.MaxIdleConns,
		MaxIdleConnsPerHost: t.MaxIdleConnsPerHost,
		MaxConnsPerHost:     t.MaxConnsPerHost,
		IdleConnTimeout:     t.IdleConnTimeout,
		DisableKeepAlives:   t.DisableKeepAlives,
		Resolving:           c.config.resolver != nil,
	}
}

// CloseIdleConnections closes idle pooled connections.
func (c *Client) CloseIdleConnections() {
	c.httpClient.CloseIdleConnections()
}

// unwrapTransport follows Unwrap methods down to the *http.Transport.
func unwrapTransport(rt http.RoundTripper) *http.Transport {
	for rt != nil {
		switch t := rt.(type) {
		case *http.Transport:
			return t
		case interface{ Unwrap() http.RoundTripper }:
			rt = t.Unwrap()
		default:
			return nil
		}
	}
	return nil
}
