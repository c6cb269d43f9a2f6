package middleware

import (
	"net/http"
	"time"

	authcore "github.com/arkadore/authcore"
)

// SetRefreshCookie writes the refresh token cookie. HttpOnly always; the
// rest of the attributes follow the engine's cookie configuration, and the
// expiry tracks the refresh-token lifetime.
func SetRefreshCookie(w http.ResponseWriter, engine *authcore.Engine, refreshToken string) {
	cfg := engine.CookieConfig()
	http.SetCookie(w, &http.Cookie{
		Name:     cfg.Name,
		Value:    refreshToken,
		Path:     cfg.Path,
		Domain:   cfg.Domain,
		Expires:  time.Now().Add(engine.RefreshTTL()),
		HttpOnly: true,
		Secure:   cfg.Secure,
		SameSite: cfg.SameSite,
	})
}

// ClearRefreshCookie expires the refresh cookie at the epoch.
func ClearRefreshCookie(w http.ResponseWriter, engine *authcore.Engine) {
	cfg := engine.CookieConfig()
	http.SetCookie(w, &http.Cookie{
		Name:     cfg.Name,
		Value:    "",
		Path:     cfg.Path,
		Domain:   cfg.Domain,
		Expires:  time.Unix(0, 0),
		HttpOnly: true,
		Secure:   cfg.Secure,
		SameSite: cfg.SameSite,
	})
}

// AnonymousKey returns the device's anonymous key for the one-time-code
// flow, minting and setting the cookie when the request carries none.
func AnonymousKey(w http.ResponseWriter, r *http.Request, engine *authcore.Engine) string {
	cfg := engine.CookieConfig()

	if cookie, err := r.Cookie(cfg.AnonKeyName); err == nil && cookie.Value != "" {
		return cookie.Value
	}

	key := authcore.NewAnonymousKey()
	http.SetCookie(w, &http.Cookie{
		Name:     cfg.AnonKeyName,
		Value:    key,
		Path:     cfg.Path,
		Domain:   cfg.Domain,
		HttpOnly: true,
		Secure:   cfg.Secure,
		SameSite: cfg.SameSite,
	})
	return key
}
