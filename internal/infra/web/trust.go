// File: internal/infra/web/trust.go
package web

import (
	"fmt"
	"net"
	"net/http"
	"strings"
)

// TrustChecker decides whether a webhook delivery originates from the
// provider's published egress ranges. Untrusted deliveries are rejected
// before anything is logged or parsed.
type TrustChecker struct {
	nets      []*net.IPNet
	localMode bool
}

func NewTrustChecker(cidrs []string, localMode bool) (*TrustChecker, error) {
	nets := make([]*net.IPNet, 0, len(cidrs))
	for _, c := range cidrs {
		_, n, err := net.ParseCIDR(c)
		if err != nil {
			return nil, fmt.Errorf("bad trusted CIDR %q: %w", c, err)
		}
		nets = append(nets, n)
	}
	return &TrustChecker{nets: nets, localMode: localMode}, nil
}

// ClientIP extracts the originating address of a request: the first
// X-Forwarded-For hop, then X-Real-IP, then the socket peer. IPv4-mapped
// IPv6 addresses are unwrapped before matching.
func ClientIP(r *http.Request) net.IP {
	raw := ""
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		raw = strings.TrimSpace(strings.Split(xff, ",")[0])
	} else if xr := r.Header.Get("X-Real-IP"); xr != "" {
		raw = strings.TrimSpace(xr)
	} else {
		host, _, err := net.SplitHostPort(r.RemoteAddr)
		if err != nil {
			host = r.RemoteAddr
		}
		raw = host
	}
	raw = strings.TrimPrefix(raw, "::ffff:")
	ip := net.ParseIP(raw)
	if ip == nil {
		return nil
	}
	if v4 := ip.To4(); v4 != nil {
		return v4
	}
	return ip
}

// Trusted reports whether the request may deliver webhooks. Local mode
// trusts everything (tunnels, tests).
func (t *TrustChecker) Trusted(r *http.Request) bool {
	if t.localMode {
		return true
	}
	ip := ClientIP(r)
	if ip == nil {
		return false
	}
	for _, n := range t.nets {
		if n.Contains(ip) {
			return true
		}
	}
	return false
}
