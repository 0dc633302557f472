package api

import (
	"fmt"
	"net/http"
	"net/netip"
	"strings"
)

// ClientIPResolver resolves the client IP address used for rate limiting and
// audit records. Forwarding headers are only trusted when the immediate peer
// is in a trusted proxy prefix.
type ClientIPResolver struct {
	trustedProxies []netip.Prefix
}

func NewClientIPResolver(trustedProxyCIDRs []string) (*ClientIPResolver, error) {
	resolver := &ClientIPResolver{}

	for _, raw := range trustedProxyCIDRs {
		value := strings.TrimSpace(raw)
		if value == "" {
			continue
		}

		if addr, err := netip.ParseAddr(value); err == nil {
			addr = addr.Unmap()
			resolver.trustedProxies = append(resolver.trustedProxies, netip.PrefixFrom(addr, addr.BitLen()))
			continue
		}

		prefix, err := netip.ParsePrefix(value)
		if err != nil {
			return nil, fmt.Errorf("invalid trusted proxy CIDR %q: %w", value, err)
		}
		resolver.trustedProxies = append(resolver.trustedProxies, prefix.Masked())
	}

	return resolver, nil
}

func (r *ClientIPResolver) Resolve(req *http.Request) string {
	peer, ok := parseAddr(req.RemoteAddr)
	if !ok {
		return "unknown"
	}

	if r.isTrustedProxy(peer) {
		for _, part := range strings.Split(req.Header.Get("X-Forwarded-For"), ",") {
			if addr, ok := parseAddr(part); ok {
				return addr.String()
			}
		}
		if addr, ok := parseAddr(req.Header.Get("X-Real-IP")); ok {
			return addr.String()
		}
	}

	return peer.String()
}

func (r *ClientIPResolver) isTrustedProxy(addr netip.Addr) bool {
	for _, prefix := range r.trustedProxies {
		if prefix.Contains(addr) {
			return true
		}
	}
	return false
}

// parseAddr accepts a bare address, a host:port pair, or either in quotes.
func parseAddr(value string) (netip.Addr, bool) {
	value = strings.Trim(strings.TrimSpace(value), `"`)
	if value == "" {
		return netip.Addr{}, false
	}

	if addrPort, err := netip.ParseAddrPort(value); err == nil {
		return addrPort.Addr().Unmap(), true
	}
	if addr, err := netip.ParseAddr(strings.Trim(value, "[]")); err == nil {
		return addr.Unmap(), true
	}

	return netip.Addr{}, false
}
