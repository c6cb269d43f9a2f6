package authcore

import "errors"

var (
	// ErrEngineNotReady reports a call on an engine missing a required dependency.
	ErrEngineNotReady = errors.New("engine not ready")
	// ErrUnauthorized is the single rejection for every token, session, or
	// fingerprint check. Callers never learn which check failed.
	ErrUnauthorized = errors.New("unauthorized")
	// ErrForbidden reports a role check failure on an otherwise valid token.
	ErrForbidden = errors.New("forbidden")
	// ErrInvalidCredentials reports a failed email+password check.
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrUserNotFound reports a lookup miss on the identity provider.
	ErrUserNotFound = errors.New("user not found")
	// ErrUserExists reports a registration against an already-taken email.
	ErrUserExists = errors.New("user already exists")
	// ErrLoginRateLimited reports an exhausted login attempt window.
	ErrLoginRateLimited = errors.New("login rate limited")
	// ErrRefreshRateLimited reports an exhausted refresh attempt window.
	ErrRefreshRateLimited = errors.New("refresh rate limited")

	// ErrMailLimit reports a key at or over its mail-attempt cap, whether by
	// its own requests or by fingerprint correlation.
	ErrMailLimit = errors.New("mail attempts exceeded")
	// ErrMailCooldown reports a code request inside the resend cooldown.
	ErrMailCooldown = errors.New("mail resend cooldown")
	// ErrCodeNotFound reports a verification against a key with no live code
	// for that email.
	ErrCodeNotFound = errors.New("code not found")
	// ErrCodeInvalid reports a wrong code value.
	ErrCodeInvalid = errors.New("invalid code")
	// ErrCodeExpired reports a code past its validity window. A replacement
	// has already been mailed when this is returned.
	ErrCodeExpired = errors.New("code expired")

	// ErrRedisUnavailable wraps transport-level Redis failures.
	ErrRedisUnavailable = errors.New("redis unavailable")
	// ErrProviderUnavailable wraps identity provider failures.
	ErrProviderUnavailable = errors.New("identity provider unavailable")
)
