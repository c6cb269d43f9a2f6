package authcore

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/arkadore/authcore/fingerprint"
	internalaudit "github.com/arkadore/authcore/internal/audit"
	"github.com/arkadore/authcore/internal/rate"
	"github.com/arkadore/authcore/jwt"
	"github.com/arkadore/authcore/otp"
	"github.com/arkadore/authcore/password"
	"github.com/arkadore/authcore/session"
)

// Engine is the authentication core: identity checks, device-bound session
// issuance with a FIFO quota, token rotation, and the one-time-code flows.
// Engines are built once via [Builder] and are safe for concurrent use.
type Engine struct {
	config     Config
	redis      *redis.Client
	tokens     *jwt.Manager
	deriver    *fingerprint.Deriver
	passwords  *password.Hasher
	sessions   *session.Store
	otpRecords *otp.Store
	limiter    *rate.Limiter
	identities IdentityProvider
	mailer     Mailer
	metrics    *Metrics
	audit      *internalaudit.Dispatcher
}

// RegisterRequest carries a local-account registration. A non-empty Key ties
// the registration to an anonymous device key; the email must then have been
// verified through the one-time-code flow under that key.
type RegisterRequest struct {
	Email    string
	Password string
	Name     string
	Surname  string
	Phone    string
	Key      string
	Headers  http.Header
	IP       string
}

// LoginRequest carries a password login attempt.
type LoginRequest struct {
	Email    string
	Password string
	Headers  http.Header
	IP       string
}

// Register creates a local identity and opens its first session.
func (e *Engine) Register(ctx context.Context, req RegisterRequest) (*AuthResult, error) {
	if e.identities == nil {
		return nil, ErrEngineNotReady
	}

	if req.Key != "" {
		verified, err := e.IsMailVerified(ctx, req.Key, req.Email)
		if err != nil {
			return nil, err
		}
		if !verified {
			e.emitAudit(ctx, EventRegister, false, 0, "", req.IP, ErrCodeNotFound, nil)
			return nil, ErrCodeNotFound
		}
	}

	existing, err := e.identities.GetByEmail(ctx, req.Email)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrProviderUnavailable, err)
	}
	if existing != nil {
		e.metrics.Inc(MetricRegisterDuplicate)
		e.emitAudit(ctx, EventRegister, false, 0, "", req.IP, ErrUserExists, nil)
		return nil, ErrUserExists
	}

	hash, err := e.passwords.Hash(req.Password)
	if err != nil {
		return nil, err
	}

	identity, err := e.identities.Create(ctx, &Identity{
		Email:        req.Email,
		PasswordHash: hash,
		Name:         req.Name,
		Surname:      req.Surname,
		Phone:        req.Phone,
		Roles:        e.rolesFor(req.Email),
		Provider:     ProviderLocal,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrProviderUnavailable, err)
	}

	result, err := e.createSession(ctx, identity, req.Headers)
	if err != nil {
		return nil, err
	}

	e.metrics.Inc(MetricRegisterSuccess)
	e.emitAudit(ctx, EventRegister, true, identity.ID, result.SessionID, req.IP, nil, nil)
	return result, nil
}

// Login authenticates an email+password pair and opens a session. Unknown
// emails and wrong passwords are indistinguishable to the caller.
func (e *Engine) Login(ctx context.Context, req LoginRequest) (*AuthResult, error) {
	if e.identities == nil {
		return nil, ErrEngineNotReady
	}

	if e.limiter != nil && e.config.Login.Enabled {
		if err := e.limiter.CheckLogin(ctx, req.Email, req.IP); err != nil {
			if errors.Is(err, rate.ErrRateLimited) {
				e.metrics.Inc(MetricLoginRateLimited)
				e.emitAudit(ctx, EventLogin, false, 0, "", req.IP, ErrLoginRateLimited, nil)
				return nil, ErrLoginRateLimited
			}
			return nil, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
		}
	}

	identity, err := e.identities.GetByEmail(ctx, req.Email)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrProviderUnavailable, err)
	}
	if identity == nil || !e.passwords.Verify(identity.PasswordHash, req.Password) {
		if e.limiter != nil && e.config.Login.Enabled {
			if incErr := e.limiter.IncrementLogin(ctx, req.Email, req.IP); incErr != nil && !errors.Is(incErr, rate.ErrRateLimited) {
				return nil, fmt.Errorf("%w: %v", ErrRedisUnavailable, incErr)
			}
		}
		e.metrics.Inc(MetricLoginFailure)
		e.emitAudit(ctx, EventLogin, false, 0, "", req.IP, ErrInvalidCredentials, nil)
		return nil, ErrInvalidCredentials
	}

	if e.limiter != nil && e.config.Login.Enabled {
		if err := e.limiter.ResetLogin(ctx, req.Email, req.IP); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
		}
	}

	result, err := e.createSession(ctx, identity, req.Headers)
	if err != nil {
		return nil, err
	}

	e.metrics.Inc(MetricLoginSuccess)
	e.emitAudit(ctx, EventLogin, true, identity.ID, result.SessionID, req.IP, nil, nil)
	return result, nil
}

// Refresh mints a fresh token pair from a valid refresh token and swaps the
// tokens into the existing session row. The identity is reloaded from the
// provider so the new pair carries its current roles, not the ones frozen
// into the old token. A missing session row does not fail the call; the
// miss is counted and audited, and the new pair is returned anyway.
func (e *Engine) Refresh(ctx context.Context, refreshToken string, ip string) (*AuthResult, error) {
	if e.identities == nil {
		return nil, ErrEngineNotReady
	}

	claims, err := e.tokens.Parse(refreshToken)
	if err != nil {
		e.metrics.Inc(MetricRefreshFailure)
		e.emitAudit(ctx, EventRefresh, false, 0, "", ip, ErrUnauthorized, nil)
		return nil, ErrUnauthorized
	}

	if e.limiter != nil && e.config.Login.EnableRefreshThrottle {
		if err := e.limiter.CheckRefresh(ctx, strconv.FormatInt(claims.ID, 10)); err != nil {
			if errors.Is(err, rate.ErrRateLimited) {
				e.metrics.Inc(MetricRefreshFailure)
				e.emitAudit(ctx, EventRefresh, false, claims.ID, "", ip, ErrRefreshRateLimited, nil)
				return nil, ErrRefreshRateLimited
			}
			return nil, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
		}
	}

	identity, err := e.identities.GetByID(ctx, claims.ID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrProviderUnavailable, err)
	}
	if identity == nil {
		e.metrics.Inc(MetricRefreshFailure)
		e.emitAudit(ctx, EventRefresh, false, claims.ID, "", ip, ErrUnauthorized, nil)
		return nil, ErrUnauthorized
	}

	pair, err := e.tokens.IssuePair(identity.ID, claims.Fingerprint, identity.Roles)
	if err != nil {
		return nil, err
	}

	rotated, err := e.sessions.Rotate(ctx, claims.ID, refreshToken, pair.AccessToken, pair.RefreshToken)
	if err != nil {
		return nil, err
	}
	if !rotated {
		e.metrics.Inc(MetricRefreshRotateMiss)
		e.emitAudit(ctx, EventRefreshRotateMiss, false, claims.ID, "", ip, nil, nil)
	} else {
		e.metrics.Inc(MetricRefreshSuccess)
		e.emitAudit(ctx, EventRefresh, true, claims.ID, "", ip, nil, nil)
	}

	return &AuthResult{
		UserID: identity.ID,
		Roles:  identity.Roles,
		Tokens: pair,
	}, nil
}

// Logout drops the session holding the given refresh token. Unknown tokens
// that still verify are a no-op; tokens that do not verify are rejected.
func (e *Engine) Logout(ctx context.Context, refreshToken string, ip string) error {
	claims, err := e.tokens.Parse(refreshToken)
	if err != nil {
		return ErrUnauthorized
	}

	if err := e.sessions.DeleteByRefreshToken(ctx, claims.ID, refreshToken); err != nil {
		return err
	}

	e.metrics.Inc(MetricLogout)
	e.emitAudit(ctx, EventLogout, true, claims.ID, "", ip, nil, nil)
	return nil
}

// CheckMail reports whether an identity with this email already exists.
// Registration forms use it as a pre-flight.
func (e *Engine) CheckMail(ctx context.Context, email string) (bool, error) {
	if e.identities == nil {
		return false, ErrEngineNotReady
	}
	identity, err := e.identities.GetByEmail(ctx, email)
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrProviderUnavailable, err)
	}
	return identity != nil, nil
}

// ValidateAccess checks a bearer access token against signature, session
// liveness, and the caller's device fingerprint. Every failure collapses
// into [ErrUnauthorized].
func (e *Engine) ValidateAccess(ctx context.Context, accessToken string, h http.Header) (*AuthResult, error) {
	claims, err := e.tokens.Parse(accessToken)
	if err != nil {
		return nil, e.guardReject(ctx, 0, "signature")
	}

	sess, err := e.sessions.FindByAccessToken(ctx, claims.ID, accessToken)
	if err != nil {
		return nil, err
	}
	if sess == nil {
		return nil, e.guardReject(ctx, claims.ID, "no_session")
	}

	expired, err := e.sessions.CheckExpired(ctx, sess)
	if err != nil {
		return nil, err
	}
	if expired {
		e.metrics.Inc(MetricSessionInvalidated)
		return nil, e.guardReject(ctx, claims.ID, "session_expired")
	}

	if !fingerprint.Match(e.deriver.Join(h), claims.Fingerprint) {
		e.metrics.Inc(MetricFingerprintMismatch)
		return nil, e.guardReject(ctx, claims.ID, "fingerprint")
	}

	return &AuthResult{
		UserID:    claims.ID,
		Roles:     claims.Roles,
		SessionID: sess.ID,
		Tokens:    TokenPair{AccessToken: accessToken, RefreshToken: sess.RefreshToken},
	}, nil
}

// ValidateRefresh checks a refresh token against signature, session
// liveness, and the device fingerprint stored on the session. A fingerprint
// mismatch additionally burns the session, forcing a full re-login from
// the token holder.
func (e *Engine) ValidateRefresh(ctx context.Context, refreshToken string, h http.Header) (*AuthResult, error) {
	claims, err := e.tokens.Parse(refreshToken)
	if err != nil {
		return nil, e.guardReject(ctx, 0, "signature")
	}

	sess, err := e.sessions.FindByRefreshToken(ctx, claims.ID, refreshToken)
	if err != nil {
		return nil, err
	}
	if sess == nil {
		return nil, e.guardReject(ctx, claims.ID, "no_session")
	}

	expired, err := e.sessions.CheckExpired(ctx, sess)
	if err != nil {
		return nil, err
	}
	if expired {
		e.metrics.Inc(MetricSessionInvalidated)
		return nil, e.guardReject(ctx, claims.ID, "session_expired")
	}

	if !fingerprint.Match(e.deriver.Join(h), sess.FingerprintHash) {
		if err := e.sessions.DeleteByID(ctx, claims.ID, sess.ID); err != nil {
			return nil, err
		}
		e.metrics.Inc(MetricFingerprintMismatch)
		e.metrics.Inc(MetricSessionInvalidated)
		return nil, e.guardReject(ctx, claims.ID, "fingerprint")
	}

	return &AuthResult{
		UserID:    claims.ID,
		Roles:     claims.Roles,
		SessionID: sess.ID,
		Tokens:    TokenPair{AccessToken: sess.AccessToken, RefreshToken: refreshToken},
	}, nil
}

// DecodeRoles extracts the role set from a token without re-verifying it.
// Only for use behind a guard that already validated the token.
func (e *Engine) DecodeRoles(token string) ([]string, error) {
	claims, err := e.tokens.Decode(token)
	if err != nil {
		return nil, ErrUnauthorized
	}
	return claims.Roles, nil
}

// Sessions lists a user's live sessions, oldest first.
func (e *Engine) Sessions(ctx context.Context, userID int64) ([]*session.Session, error) {
	return e.sessions.ListForUser(ctx, userID)
}

// Metrics exposes the engine counter set.
func (e *Engine) Metrics() *Metrics {
	return e.metrics
}

// CookieConfig returns the cookie parameters the middleware helpers apply.
func (e *Engine) CookieConfig() CookieConfig {
	return e.config.Cookie
}

// RefreshTTL returns the refresh-token lifetime. Cookie expiry tracks it.
func (e *Engine) RefreshTTL() time.Duration {
	return e.tokens.RefreshTTL()
}

func (e *Engine) guardReject(ctx context.Context, userID int64, reason string) error {
	e.metrics.Inc(MetricGuardReject)
	e.emitAudit(ctx, EventGuardReject, false, userID, "", "", ErrUnauthorized, func() map[string]string {
		return map[string]string{"reason": reason}
	})
	return ErrUnauthorized
}

func (e *Engine) rolesFor(email string) []string {
	roles := []string{e.config.Account.DefaultRole}
	if e.config.Account.AdminEmail != "" && email == e.config.Account.AdminEmail {
		roles = append(roles, e.config.Account.AdminRole)
	}
	return roles
}

// createSession derives the caller's fingerprint, makes room under the
// session quota, and persists a new session with a fresh token pair.
func (e *Engine) createSession(ctx context.Context, identity *Identity, h http.Header) (*AuthResult, error) {
	fp, err := e.deriver.Derive(h)
	if err != nil {
		return nil, err
	}

	evicted, err := e.sessions.EnforceQuota(ctx, identity.ID, e.config.Session.MaxPerUser)
	if err != nil {
		return nil, err
	}
	for i := 0; i < evicted; i++ {
		e.metrics.Inc(MetricSessionEvicted)
	}
	if evicted > 0 {
		e.emitAudit(ctx, EventSessionEvicted, true, identity.ID, "", "", nil, func() map[string]string {
			return map[string]string{"evicted": strconv.Itoa(evicted)}
		})
	}

	pair, err := e.tokens.IssuePair(identity.ID, fp.Hash, identity.Roles)
	if err != nil {
		return nil, err
	}

	sess := session.New(identity.ID, fp.Hash, pair.AccessToken, pair.RefreshToken, e.config.Session.Lifetime)
	if err := e.sessions.Save(ctx, sess); err != nil {
		return nil, err
	}
	e.metrics.Inc(MetricSessionCreated)

	return &AuthResult{
		UserID:    identity.ID,
		Roles:     identity.Roles,
		SessionID: sess.ID,
		Tokens:    pair,
	}, nil
}
