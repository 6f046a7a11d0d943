package httpclient

import (
	"context"
	"errors"
	"net/netip"
	"net/url"
	"strconv"
)

// URLRewriter transforms the base URL before the endpoint is applied.
//
// Rewrite receives a copy of the base URL and may modify it in place.
// Implementations must be safe for concurrent use.
type URLRewriter interface {
	Rewrite(ctx context.Context, u *url.URL) (*url.URL, error)
}

// RewriterFunc adapts a function to URLRewriter.
type RewriterFunc func(ctx context.Context, u *url.URL) (*url.URL, error)

func (f RewriterFunc) Rewrite(ctx context.Context, u *url.URL) (*url.URL, error) {
	return f(ctx, u)
}

// IPRewriter pins the URL host to an IP address, keeping the port.
type IPRewriter netip.Addr

func (r IPRewriter) Rewrite(_ context.Context, u *url.URL) (*url.URL, error) {
	addr := netip.Addr(r)
	if !addr.IsValid() {
		return nil, errors.New("rewrite: invalid ip address")
	}
	host := addr.String()
	if addr.Is6() {
		host = "[" + host + "]"
	}
	if port := u.Port(); port != "" {
		host = netip.AddrPortFrom(addr, parsePort(port)).String()
	}
	u.Host = host
	return u, nil
}

// AddrPortRewriter pins the URL host and port to a socket address.
type AddrPortRewriter netip.AddrPort

func (r AddrPortRewriter) Rewrite(_ context.Context, u *url.URL) (*url.URL, error) {
	ap := netip.AddrPort(r)
	if !ap.IsValid() {
		return nil, errors.New("rewrite: invalid socket address")
	}
	u.Host = ap.String()
	return u, nil
}

// PathRewriter merges a static sub-path onto the base path.
type PathRewriter string

func (r PathRewriter) Rewrite(_ context.Context, u *url.URL) (*url.URL, error) {
	if r == "" {
		return u, nil
	}
	u.Path = MergePath(u.Path, string(r))
	u.RawPath = ""
	return u, nil
}

func parsePort(port string) uint16 {
	p, err := strconv.ParseUint(port, 10, 16)
	if err != nil {
		return 0
	}
	return uint16(p)
}
