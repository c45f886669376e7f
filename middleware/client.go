package middleware

import (
	"net"
	"net/http"

	"github.com/MrEthical07/authcore"
)

// ClientInfo records the caller's address and User-Agent on the request
// context, where engine operations pick them up when no explicit value is
// passed. RemoteAddr is used as-is; put a trusted proxy rewriter in front
// if forwarded headers are needed.
func ClientInfo(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ip := r.RemoteAddr
		if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
			ip = host
		}
		ctx := authcore.WithClientIP(r.Context(), ip)
		if ua := r.UserAgent(); ua != "" {
			ctx = authcore.WithUserAgent(ctx, ua)
		}
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
