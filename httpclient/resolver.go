package httpclient

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/netip"
	"net/url"
	"strconv"
)

// Resolver maps a logical host name to concrete socket addresses.
//
// Resolution only affects the address the transport dials: the URL text
// and the Host header keep the logical name. Returning no addresses and a
// nil error declines, and the system resolver is used instead.
type Resolver interface {
	Resolve(ctx context.Context, host string) ([]netip.AddrPort, error)
}

// SchemeOverrider is implemented by resolvers that force a URL scheme.
type SchemeOverrider interface {
	Scheme() string
}

// PortOverrider is implemented by resolvers that force a URL port.
type PortOverrider interface {
	Port() uint16
}

// ResolverFunc adapts a function to Resolver.
type ResolverFunc func(ctx context.Context, host string) ([]netip.AddrPort, error)

func (f ResolverFunc) Resolve(ctx context.Context, host string) ([]netip.AddrPort, error) {
	return f(ctx, host)
}

// StaticResolver resolves every name to one socket address and forces the
// URL port to match it.
type StaticResolver struct {
	addr   netip.AddrPort
	scheme string
}

// NewStaticResolver returns a resolver pinned to addr.
func NewStaticResolver(addr netip.AddrPort) *StaticResolver {
	return &StaticResolver{addr: addr}
}

// WithScheme returns a copy that also forces the URL scheme.
func (r *StaticResolver) WithScheme(scheme string) *StaticResolver {
	c := *r
	c.scheme = scheme
	return &c
}

func (r *StaticResolver) Resolve(_ context.Context, _ string) ([]netip.AddrPort, error) {
	return []netip.AddrPort{r.addr}, nil
}

func (r *StaticResolver) Port() uint16 { return r.addr.Port() }

func (r *StaticResolver) Scheme() string { return r.scheme }

// ResolveError reports a failure of the configured Resolver.
type ResolveError struct {
	Host string
	Err  error
}

func (e *ResolveError) Error() string {
	return fmt.Sprintf("resolve %s: %v", e.Host, e.Err)
}

func (e *ResolveError) Unwrap() error { return e.Err }

// applyOverrides writes the resolver's scheme and port overrides into u.
func applyOverrides(r Resolver, u *url.URL) {
	if r == nil {
		return
	}
	if so, ok := r.(SchemeOverrider); ok {
		if scheme := so.Scheme(); scheme != "" {
			u.Scheme = scheme
		}
	}
	if po, ok := r.(PortOverrider); ok {
		if port := po.Port(); port != 0 {
			u.Host = net.JoinHostPort(u.Hostname(), strconv.Itoa(int(port)))
		}
	}
}

// resolvingDialer consults the Resolver before falling back to the
// system resolver of the wrapped dialer.
type resolvingDialer struct {
	resolver Resolver
	dialer   *net.Dialer
}

func (d *resolvingDialer) DialContext(ctx context.Context, network, address string) (net.Conn, error) {
	host, port, err := net.SplitHostPort(address)
	if err != nil {
		return d.dialer.DialContext(ctx, network, address)
	}

	addrs, err := d.resolver.Resolve(ctx, host)
	if err != nil {
		return nil, &ResolveError{Host: host, Err: err}
	}
	if len(addrs) == 0 {
		return d.dialer.DialContext(ctx, network, address)
	}

	var errs []error
	for _, ap := range addrs {
		target := ap.String()
		if ap.Port() == 0 {
			target = net.JoinHostPort(ap.Addr().String(), port)
		}
		conn, err := d.dialer.DialContext(ctx, network, target)
		if err == nil {
			return conn, nil
		}
		errs = append(errs, err)
		if ctx.Err() != nil {
			break
		}
	}
	return nil, errors.Join(errs...)
}
