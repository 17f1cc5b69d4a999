package httputil

import (
	"fmt"
	"net"
	"net/http"
	"net/netip"
	"strings"

	"github.com/platinummonkey/tenantguard/pkg/contextkeys"
)

// TrustedProxies lists the networks allowed to set X-Forwarded-For and
// X-Real-IP. Forwarding headers from any other peer are ignored.
type TrustedProxies []netip.Prefix

// ParseTrustedProxies parses CIDRs or bare addresses
func ParseTrustedProxies(values []string) (TrustedProxies, error) {
	var out TrustedProxies
	for _, v := range values {
		v = strings.TrimSpace(v)
		if v == "" {
			continue
		}
		if !strings.Contains(v, "/") {
			addr, err := netip.ParseAddr(v)
			if err != nil {
				return nil, fmt.Errorf("invalid trusted proxy %q: %w", v, err)
			}
			out = append(out, netip.PrefixFrom(addr.Unmap(), addr.Unmap().BitLen()))
			continue
		}
		prefix, err := netip.ParsePrefix(v)
		if err != nil {
			return nil, fmt.Errorf("invalid trusted proxy %q: %w", v, err)
		}
		out = append(out, prefix.Masked())
	}
	return out, nil
}

func (t TrustedProxies) trusts(ip string) bool {
	addr, err := netip.ParseAddr(ip)
	if err != nil {
		return false
	}
	addr = addr.Unmap()
	for _, p := range t {
		if p.Contains(addr) {
			return true
		}
	}
	return false
}

// ClientIP returns the caller address. The connection peer is the answer
// unless it is a trusted proxy, in which case X-Forwarded-For is walked from
// the right and the first untrusted hop wins.
func (t TrustedProxies) ClientIP(r *http.Request) string {
	peer := remoteHost(r)
	if !t.trusts(peer) {
		return peer
	}

	if forwarded := r.Header.Values("X-Forwarded-For"); len(forwarded) > 0 {
		hops := strings.Split(strings.Join(forwarded, ","), ",")
		client := peer
		for i := len(hops) - 1; i >= 0; i-- {
			hop := strings.TrimSpace(hops[i])
			if _, err := netip.ParseAddr(hop); err != nil {
				break
			}
			client = hop
			if !t.trusts(hop) {
				break
			}
		}
		return client
	}
	if realIP := strings.TrimSpace(r.Header.Get("X-Real-IP")); realIP != "" {
		if _, err := netip.ParseAddr(realIP); err == nil {
			return realIP
		}
	}
	return peer
}

// ClientIP returns the address recorded by ClientInfoMiddleware, or the
// connection peer when the middleware did not run.
func ClientIP(r *http.Request) string {
	if ip := contextkeys.GetClient(r.Context()).IPAddress; ip != "" {
		return ip
	}
	return remoteHost(r)
}

func remoteHost(r *http.Request) string {
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}
