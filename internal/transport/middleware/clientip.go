package middleware

import (
	"net/http"
	"net/netip"
	"strings"

	"github.com/frahmantamala/meddevice-orders/internal"
)

// ClientIPResolver works out the caller address for audit entries and rate
// limiting. Forwarding headers are honoured only when the socket peer is one
// of the trusted proxies.
type ClientIPResolver struct {
	trusted []netip.Prefix
}

func NewClientIPResolver(trusted []netip.Prefix) *ClientIPResolver {
	return &ClientIPResolver{trusted: trusted}
}

// Middleware records the resolved address on the request context.
func (c *ClientIPResolver) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := internal.ContextWithClientIP(r.Context(), c.Resolve(r))
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// Resolve returns the socket peer unless it is a trusted proxy. Behind a
// trusted proxy X-Forwarded-For is walked right to left and the first hop
// outside the trusted set wins; X-Real-IP is the fallback. Values that do not
// parse as an address are ignored.
func (c *ClientIPResolver) Resolve(r *http.Request) string {
	peer, ok := peerAddr(r.RemoteAddr)
	if !ok {
		return ""
	}
	if !c.isTrusted(peer) {
		return peer.String()
	}

	if xff := r.Header.Values("X-Forwarded-For"); len(xff) > 0 {
		hops := strings.Split(strings.Join(xff, ","), ",")
		for i := len(hops) - 1; i >= 0; i-- {
			addr, err := netip.ParseAddr(strings.TrimSpace(hops[i]))
			if err != nil {
				break
			}
			addr = addr.Unmap()
			if !c.isTrusted(addr) {
				return addr.String()
			}
		}
	}
	if addr, err := netip.ParseAddr(strings.TrimSpace(r.Header.Get("X-Real-IP"))); err == nil {
		return addr.Unmap().String()
	}
	return peer.String()
}

func (c *ClientIPResolver) isTrusted(addr netip.Addr) bool {
	for _, p := range c.trusted {
		if p.Contains(addr) {
			return true
		}
	}
	return false
}

// ClientIP records the socket peer, trusting no proxy.
func ClientIP(next http.Handler) http.Handler {
	return NewClientIPResolver(nil).Middleware(next)
}

// requestClientIP prefers the address a resolver stored on the context.
func requestClientIP(r *http.Request) string {
	if ip := internal.ClientIPFromContext(r.Context()); ip != "" {
		return ip
	}
	return clientIP(r)
}

// clientIP is the socket peer of r, used when no resolver ran.
func clientIP(r *http.Request) string {
	if addr, ok := peerAddr(r.RemoteAddr); ok {
		return addr.String()
	}
	return ""
}

func peerAddr(remote string) (netip.Addr, bool) {
	if ap, err := netip.ParseAddrPort(remote); err == nil {
		return ap.Addr().Unmap(), true
	}
	if addr, err := netip.ParseAddr(remote); err == nil {
		return addr.Unmap(), true
	}
	return netip.Addr{}, false
}
