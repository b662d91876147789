// Package realip resolves the originating client address for requests that
// arrive through reverse proxies.
package realip

import (
	"context"
	"net"
	"net/http"
	"net/netip"
	"strings"
)

type ctxKey struct{}

// Config controls which peers may assert a forwarded client address.
type Config struct {
	// TrustProxy enables X-Forwarded-For and X-Real-IP resolution.
	TrustProxy bool
	// TrustedProxies lists proxy ranges as CIDRs or bare addresses.
	TrustedProxies []string
}

// Middleware resolves the client address once per request and stores it on
// the request context for downstream handlers.
func Middleware(cfg Config) func(http.Handler) http.Handler {
	var trusted []netip.Prefix
	if cfg.TrustProxy {
		trusted = parsePrefixes(cfg.TrustedProxies)
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ip := resolve(r, cfg.TrustProxy, trusted)
			ctx := context.WithValue(r.Context(), ctxKey{}, ip)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// GetClientIP returns the address resolved by Middleware, or the bare
// RemoteAddr when the middleware is not installed.
func GetClientIP(r *http.Request) string {
	if ip, ok := r.Context().Value(ctxKey{}).(string); ok && ip != "" {
		return ip
	}
	return stripPort(r.RemoteAddr)
}

// parsePrefixes accepts CIDR ranges and bare addresses. A bare address
// becomes a single-host prefix. Unparseable entries are skipped.
func parsePrefixes(entries []string) []netip.Prefix {
	var prefixes []netip.Prefix
	for _, entry := range entries {
		if p, err := netip.ParsePrefix(entry); err == nil {
			prefixes = append(prefixes, p)
			continue
		}
		if a, err := netip.ParseAddr(entry); err == nil {
			prefixes = append(prefixes, netip.PrefixFrom(a, a.BitLen()))
		}
	}
	return prefixes
}

// resolve walks the X-Forwarded-For chain right to left and returns the
// first hop that is not a trusted proxy. Forwarding headers are honoured
// only when the direct peer itself is trusted.
func resolve(r *http.Request, trustProxy bool, trusted []netip.Prefix) string {
	peer := stripPort(r.RemoteAddr)
	if !trustProxy || !isTrusted(peer, trusted) {
		return peer
	}

	xff := r.Header.Get("X-Forwarded-For")
	if xff == "" {
		if xri := strings.TrimSpace(r.Header.Get("X-Real-IP")); xri != "" {
			return xri
		}
		return peer
	}

	hops := strings.Split(xff, ",")
	for i := len(hops) - 1; i >= 0; i-- {
		hop := strings.TrimSpace(hops[i])
		if hop == "" {
			continue
		}
		if !isTrusted(hop, trusted) {
			return hop
		}
	}

	// Every hop is a trusted proxy; the leftmost entry is the client.
	if first := strings.TrimSpace(hops[0]); first != "" {
		return first
	}
	return peer
}

func stripPort(addr string) string {
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		return addr
	}
	return host
}

func isTrusted(ipStr string, trusted []netip.Prefix) bool {
	ip, err := netip.ParseAddr(ipStr)
	if err != nil {
		return false
	}
	for _, p := range trusted {
		if p.Contains(ip) {
			return true
		}
	}
	return false
}
