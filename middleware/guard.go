package middleware

import (
	"context"
	"net/http"
	"strings"

	authcore "github.com/arkadore/authcore"
)

type authResultContextKey struct{}

// AuthResultFromContext returns the validation result a guard stored on the
// request context.
func AuthResultFromContext(ctx context.Context) (*authcore.AuthResult, bool) {
	res, ok := ctx.Value(authResultContextKey{}).(*authcore.AuthResult)
	return res, ok
}

// RequireAccess guards a route with the full access-token check: bearer
// token signature, a live session holding exactly that token, and the
// caller's device fingerprint against the one embedded in the token.
func RequireAccess(engine *authcore.Engine) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if engine == nil {
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}

			token, ok := bearerToken(r.Header.Get("Authorization"))
			if !ok {
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}

			res, err := engine.ValidateAccess(r.Context(), token, r.Header)
			if err != nil {
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}

			ctx := context.WithValue(r.Context(), authResultContextKey{}, res)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequireRole gates an already-guarded route on a role claim. The token is
// decoded, not re-verified; mount this inside [RequireAccess].
func RequireRole(engine *authcore.Engine, role string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if engine == nil {
				http.Error(w, "forbidden", http.StatusForbidden)
				return
			}

			token, ok := bearerToken(r.Header.Get("Authorization"))
			if !ok {
				http.Error(w, "forbidden", http.StatusForbidden)
				return
			}

			roles, err := engine.DecodeRoles(token)
			if err != nil || !hasRole(roles, role) {
				http.Error(w, "forbidden", http.StatusForbidden)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// RequireAdmin is [RequireRole] for the built-in admin role.
func RequireAdmin(engine *authcore.Engine) func(http.Handler) http.Handler {
	return RequireRole(engine, authcore.RoleAdmin)
}

func hasRole(roles []string, want string) bool {
	for _, role := range roles {
		if role == want {
			return true
		}
	}
	return false
}

func bearerToken(value string) (string, bool) {
	const bearer = "Bearer "
	if !strings.HasPrefix(value, bearer) {
		return "", false
	}

	token := value[len(bearer):]
	if token == "" {
		return "", false
	}

	return token, true
}
