package auth

import (
	"fmt"
	"net"
	"net/http"
	"strings"

	"github.com/elbethel/academy/pkg/contextkeys"
)

// ProxyTrust decides which peers may speak for the client through
// X-Forwarded-For and X-Real-IP. The zero value trusts nobody.
type ProxyTrust struct {
	nets []*net.IPNet
}

// NewProxyTrust parses a list of proxy addresses or CIDR blocks
func NewProxyTrust(proxies []string) (*ProxyTrust, error) {
	p := &ProxyTrust{}
	for _, raw := range proxies {
		entry := strings.TrimSpace(raw)
		if entry == "" {
			continue
		}
		if !strings.Contains(entry, "/") {
			ip := net.ParseIP(entry)
			if ip == nil {
				return nil, fmt.Errorf("invalid trusted proxy %q", raw)
			}
			bits := 128
			if ip.To4() != nil {
				ip, bits = ip.To4(), 32
			}
			p.nets = append(p.nets, &net.IPNet{IP: ip, Mask: net.CIDRMask(bits, bits)})
			continue
		}
		_, ipNet, err := net.ParseCIDR(entry)
		if err != nil {
			return nil, fmt.Errorf("invalid trusted proxy %q: %w", raw, err)
		}
		p.nets = append(p.nets, ipNet)
	}
	return p, nil
}

// Trusts reports whether ip belongs to a trusted proxy
func (p *ProxyTrust) Trusts(ip net.IP) bool {
	if p == nil || ip == nil {
		return false
	}
	for _, n := range p.nets {
		if n.Contains(ip) {
			return true
		}
	}
	return false
}

// Resolve returns the client address of r. Forwarding headers are read only
// when the direct peer is trusted; X-Forwarded-For is walked right to left
// and the first hop that is not itself a trusted proxy wins. Anything that
// does not parse as an IP falls back to the peer address.
func (p *ProxyTrust) Resolve(r *http.Request) string {
	peer := remoteHost(r)
	if !p.Trusts(net.ParseIP(peer)) {
		return peer
	}

	if forwarded := r.Header.Values("X-Forwarded-For"); len(forwarded) > 0 {
		hops := strings.Split(strings.Join(forwarded, ","), ",")
		for i := len(hops) - 1; i >= 0; i-- {
			ip := net.ParseIP(strings.TrimSpace(hops[i]))
			if ip == nil {
				return peer
			}
			if !p.Trusts(ip) || i == 0 {
				return ip.String()
			}
		}
	}

	if ip := net.ParseIP(strings.TrimSpace(r.Header.Get("X-Real-IP"))); ip != nil {
		return ip.String()
	}
	return peer
}

// Middleware resolves the client address once and stores it on the request
// context for ClientIP
func (p *ProxyTrust) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := contextkeys.WithClientIP(r.Context(), p.Resolve(r))
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// ClientIP returns the address resolved by ProxyTrust.Middleware, or the
// direct peer when the request did not pass through it
func ClientIP(r *http.Request) string {
	if ip := contextkeys.GetClientIP(r.Context()); ip != "" {
		return ip
	}
	return remoteHost(r)
}

func remoteHost(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
