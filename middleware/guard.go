package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/MrEthical07/authcore"
)

type claimsContextKey struct{}

// ClaimsFromContext returns the claims attached by RequireAccessToken.
func ClaimsFromContext(ctx context.Context) (*authcore.Claims, bool) {
	claims, ok := ctx.Value(claimsContextKey{}).(*authcore.Claims)
	return claims, ok
}

// AccessTokenValidator is the engine method the guard depends on.
type AccessTokenValidator interface {
	ValidateAccessToken(token string) (*authcore.Claims, bool)
}

// RequireAccessToken rejects requests without a valid bearer access token
// and attaches the verified claims to the request context.
func RequireAccessToken(v AccessTokenValidator) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if v == nil {
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}

			token, ok := bearerToken(r.Header.Get("Authorization"))
			if !ok {
				w.Header().Set("WWW-Authenticate", `Bearer realm="authcore"`)
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}

			claims, ok := v.ValidateAccessToken(token)
			if !ok {
				w.Header().Set("WWW-Authenticate", `Bearer realm="authcore", error="invalid_token"`)
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}

			ctx := context.WithValue(r.Context(), claimsContextKey{}, claims)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequireRole allows only requests whose claims carry one of roles. It must
// run after RequireAccessToken.
func RequireRole(roles ...authcore.Role) func(http.Handler) http.Handler {
	allowed := make(map[string]struct{}, len(roles))
	for _, role := range roles {
		allowed[string(role)] = struct{}{}
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			claims, ok := ClaimsFromContext(r.Context())
			if !ok {
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}
			if _, ok := allowed[claims.Role]; !ok {
				http.Error(w, "forbidden", http.StatusForbidden)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func bearerToken(value string) (string, bool) {
	const bearer = "bearer "
	if len(value) < len(bearer) || !strings.EqualFold(value[:len(bearer)], bearer) {
		return "", false
	}

	token := strings.TrimSpace(value[len(bearer):])
	if token == "" {
		return "", false
	}

	return token, true
}
