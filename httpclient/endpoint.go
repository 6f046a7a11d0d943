package httpclient

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"strconv"
	"strings"
)

// Endpoint produces a full request URL from the logical base URL.
type Endpoint interface {
	// BuildURL substitutes the endpoint into a copy of base and merges path.
	BuildURL(base *url.URL, path string) (*url.URL, error)

	// PreserveHost reports whether the Host header must keep the logical
	// base host after substitution.
	PreserveHost() bool
}

// OriginalEndpoint passes the base URL through unchanged.
type OriginalEndpoint struct{}

func (OriginalEndpoint) BuildURL(base *url.URL, path string) (*url.URL, error) {
	return JoinURL(base, path), nil
}

func (OriginalEndpoint) PreserveHost() bool { return false }

func (OriginalEndpoint) String() string { return "original" }

// HostEndpoint is a fixed network destination.
// Empty Scheme keeps the base scheme; zero Port keeps the scheme default.
type HostEndpoint struct {
	Scheme string
	Host   string
	Port   uint16

	preserveHost bool
}

// NewHostEndpoint returns an endpoint for host and port.
func NewHostEndpoint(host string, port uint16) HostEndpoint {
	return HostEndpoint{Host: host, Port: port}
}

// ParseEndpoint parses "host:port", "host" or "scheme://host:port".
func ParseEndpoint(s string) (HostEndpoint, error) {
	var ep HostEndpoint

	if i := strings.Index(s, "://"); i >= 0 {
		ep.Scheme = strings.ToLower(s[:i])
		s = s[i+3:]
		if ep.Scheme != "http" && ep.Scheme != "https" {
			return HostEndpoint{}, routingError(fmt.Errorf("unsupported scheme %q", ep.Scheme))
		}
	}

	host, portStr, err := net.SplitHostPort(s)
	if err != nil {
		// No port present.
		host, portStr = strings.Trim(s, "[]"), ""
	}
	if host == "" {
		return HostEndpoint{}, routingError(errors.New("endpoint host is empty"))
	}
	ep.Host = host

	if portStr != "" {
		port, err := strconv.ParseUint(portStr, 10, 16)
		if err != nil || port == 0 {
			return HostEndpoint{}, routingError(fmt.Errorf("invalid endpoint port %q", portStr))
		}
		ep.Port = uint16(port)
	}
	return ep, nil
}

// MustParseEndpoint is like ParseEndpoint but panics on error.
// It is intended for package-level router tables.
func MustParseEndpoint(s string) HostEndpoint {
	ep, err := ParseEndpoint(s)
	if err != nil {
		panic(err)
	}
	return ep
}

// WithScheme returns a copy with the scheme replaced.
func (e HostEndpoint) WithScheme(scheme string) HostEndpoint {
	e.Scheme = scheme
	return e
}

func (e HostEndpoint) BuildURL(base *url.URL, path string) (*url.URL, error) {
	u := cloneURL(base)
	if err := e.apply(u); err != nil {
		return nil, err
	}
	return JoinURL(u, path), nil
}

func (e HostEndpoint) PreserveHost() bool { return e.preserveHost }

func (e HostEndpoint) String() string {
	s := e.Host
	if strings.Contains(s, ":") {
		s = "[" + s + "]"
	}
	if e.Port != 0 {
		s += ":" + strconv.Itoa(int(e.Port))
	}
	if e.Scheme != "" {
		s = e.Scheme + "://" + s
	}
	return s
}

func (e HostEndpoint) apply(u *url.URL) error {
	if e.Host == "" {
		return routingError(fmt.Errorf("update host: empty host for %s", u.Redacted()))
	}
	if e.Scheme != "" {
		if e.Scheme != "http" && e.Scheme != "https" {
			return routingError(fmt.Errorf("update scheme: %s => %s", u.Redacted(), e.Scheme))
		}
		u.Scheme = e.Scheme
	}

	port := u.Port()
	if e.Port != 0 {
		port = strconv.Itoa(int(e.Port))
	}
	if port != "" {
		u.Host = net.JoinHostPort(e.Host, port)
	} else if strings.Contains(e.Host, ":") {
		u.Host = "[" + e.Host + "]"
	} else {
		u.Host = e.Host
	}
	return nil
}
