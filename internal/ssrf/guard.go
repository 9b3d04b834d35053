// Package ssrf guards outbound fetches against being redirected to internal
// network ranges.
package ssrf

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"net/url"
)

var deniedNets = mustParseCIDRs(
	"127.0.0.0/8", "10.0.0.0/8", "172.16.0.0/12", "192.168.0.0/16",
	"169.254.0.0/16", "::1/128", "fc00::/7", "fe80::/10",
)

func mustParseCIDRs(cidrs ...string) []*net.IPNet {
	nets := make([]*net.IPNet, 0, len(cidrs))
	for _, c := range cidrs {
		_, n, err := net.ParseCIDR(c)
		if err != nil {
			panic(err)
		}
		nets = append(nets, n)
	}
	return nets
}

// CheckURL resolves u's host and rejects it if any resolved address falls in
// a private, loopback, or link-local range.
func CheckURL(ctx context.Context, rawURL string) error {
	u, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("parse url: %w", err)
	}
	host := u.Hostname()
	if host == "" {
		return fmt.Errorf("url has no host")
	}

	addrs, err := net.DefaultResolver.LookupIPAddr(ctx, host)
	if err != nil {
		return fmt.Errorf("resolve host %s: %w", host, err)
	}
	for _, addr := range addrs {
		if isDenied(addr.IP) {
			return fmt.Errorf("host %s resolves to a denied address range (%s)", host, addr.IP)
		}
	}
	return nil
}

func isDenied(ip net.IP) bool {
	for _, n := range deniedNets {
		if n.Contains(ip) {
			return true
		}
	}
	return false
}

// CheckRedirect is an http.Client.CheckRedirect implementation that reruns
// CheckURL against every hop, preventing a 3xx response from smuggling a
// fetch into an internal address after the initial URL passed the guard.
func CheckRedirect(req *http.Request, via []*http.Request) error {
	if len(via) >= 5 {
		return fmt.Errorf("stopped after 5 redirects")
	}
	return CheckURL(req.Context(), req.URL.String())
}
