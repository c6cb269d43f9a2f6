package middleware

import (
	"context"
	"net/http"

	authcore "github.com/arkadore/authcore"
)

// RequireRefresh guards a route with the refresh check: the refresh cookie's
// token must verify, a live session must hold it, and the caller's device
// fingerprint must match the one stored on the session. A fingerprint
// mismatch burns the session before the 401 goes out.
func RequireRefresh(engine *authcore.Engine) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if engine == nil {
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}

			cookie, err := r.Cookie(engine.CookieConfig().Name)
			if err != nil || cookie.Value == "" {
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}

			res, err := engine.ValidateRefresh(r.Context(), cookie.Value, r.Header)
			if err != nil {
				ClearRefreshCookie(w, engine)
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}

			ctx := context.WithValue(r.Context(), authResultContextKey{}, res)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
