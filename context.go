package authcore

import "context"

type clientIPContextKey struct{}
type userAgentContextKey struct{}

// WithClientIP attaches the caller's IP address to ctx. It is recorded on
// issued tokens and audit events when an operation is not given one
// explicitly.
func WithClientIP(ctx context.Context, ip string) context.Context {
	return context.WithValue(ctx, clientIPContextKey{}, ip)
}

// WithUserAgent attaches the User-Agent string to ctx. It becomes the
// client info of refresh tokens issued without explicit client info.
func WithUserAgent(ctx context.Context, userAgent string) context.Context {
	return context.WithValue(ctx, userAgentContextKey{}, userAgent)
}

// ClientFromContext returns the IP and User-Agent attached to ctx, empty
// when absent.
func ClientFromContext(ctx context.Context) (ip, userAgent string) {
	return clientIPFromContext(ctx), userAgentFromContext(ctx)
}

func clientIPFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}

	ip, _ := ctx.Value(clientIPContextKey{}).(string)
	return ip
}

func userAgentFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}

	userAgent, _ := ctx.Value(userAgentContextKey{}).(string)
	return userAgent
}

// requestIP prefers an explicit value over the context one.
func requestIP(ctx context.Context, explicit string) string {
	if explicit != "" {
		return explicit
	}
	return clientIPFromContext(ctx)
}

func requestClientInfo(ctx context.Context, explicit string) string {
	if explicit != "" {
		return explicit
	}
	return userAgentFromContext(ctx)
}
