package authcore

import (
	"net/http"
	"time"
)

// Config is the full engine configuration tree. Instances are set up once
// during initialization and treated as immutable afterwards.
type Config struct {
	JWT         JWTConfig
	Fingerprint FingerprintConfig
	Session     SessionConfig
	OTP         OTPConfig
	Login       LoginThrottleConfig
	Cookie      CookieConfig
	Account     AccountConfig
	Audit       AuditConfig
	Metrics     MetricsConfig
}

// JWTConfig controls token signing and lifetimes.
type JWTConfig struct {
	Secret     []byte
	AccessTTL  time.Duration
	RefreshTTL time.Duration
	Issuer     string
	Leeway     time.Duration
}

// FingerprintConfig controls device fingerprint derivation. Headers are
// joined in order; the hash cost trades verification latency against
// brute-force resistance on stored fingerprints.
type FingerprintConfig struct {
	Headers []string
	Cost    int
}

// SessionConfig controls the per-user session quota and storage.
type SessionConfig struct {
	RedisPrefix string
	MaxPerUser  int
	Lifetime    time.Duration
}

// OTPConfig controls the one-time-code state machine.
type OTPConfig struct {
	RedisPrefix         string
	Digits              int
	MaxCodeAttempts     int
	MaxMailAttempts     int
	SuspicionCheckLimit int
	ResendCooldown      time.Duration
	CodeTTL             time.Duration
	Retention           time.Duration
}

// LoginThrottleConfig controls the fixed-window login and refresh limiters.
type LoginThrottleConfig struct {
	Enabled               bool
	EnableIPThrottle      bool
	MaxAttempts           int
	Cooldown              time.Duration
	EnableRefreshThrottle bool
	MaxRefreshAttempts    int
	RefreshCooldown       time.Duration
}

// CookieConfig shapes the cookies the middleware helpers emit. Name holds the
// refresh token; AnonKeyName holds the anonymous key the OTP flow tracks
// unauthenticated devices by.
type CookieConfig struct {
	Name        string
	AnonKeyName string
	Path        string
	Domain      string
	SameSite    http.SameSite
	Secure      bool
}

// AccountConfig holds identity-level policy.
type AccountConfig struct {
	AdminEmail   string
	DefaultRole  string
	AdminRole    string
	PasswordCost int
}

// AuditConfig controls the async audit dispatcher.
type AuditConfig struct {
	Enabled    bool
	BufferSize int
	DropIfFull bool
}

// MetricsConfig controls the engine counter set.
type MetricsConfig struct {
	Enabled bool
}

// DefaultConfig returns the configuration tree [New] starts from. Callers
// adjusting a few fields should start here rather than from a zero Config.
func DefaultConfig() Config {
	return defaultConfig()
}

func defaultConfig() Config {
	return Config{
		JWT: JWTConfig{
			AccessTTL:  time.Hour,
			RefreshTTL: 15 * 24 * time.Hour,
		},
		Fingerprint: FingerprintConfig{
			Cost: 7,
		},
		Session: SessionConfig{
			RedisPrefix: "as",
			MaxPerUser:  3,
			Lifetime:    15 * 24 * time.Hour,
		},
		OTP: OTPConfig{
			RedisPrefix:         "ao",
			Digits:              4,
			MaxCodeAttempts:     3,
			MaxMailAttempts:     5,
			SuspicionCheckLimit: 3,
			ResendCooldown:      time.Minute,
			CodeTTL:             time.Hour,
			Retention:           30 * 24 * time.Hour,
		},
		Login: LoginThrottleConfig{
			Enabled:     true,
			MaxAttempts: 10,
			Cooldown:    15 * time.Minute,
		},
		Cookie: CookieConfig{
			Name:        "refreshToken",
			AnonKeyName: "unauthorizedUserKey",
			Path:        "/",
			SameSite:    http.SameSiteLaxMode,
			Secure:      true,
		},
		Account: AccountConfig{
			DefaultRole:  RoleUser,
			AdminRole:    RoleAdmin,
			PasswordCost: 7,
		},
		Audit: AuditConfig{
			BufferSize: 256,
			DropIfFull: true,
		},
	}
}

func cloneConfig(cfg Config) Config {
	out := cfg
	out.JWT.Secret = append([]byte(nil), cfg.JWT.Secret...)
	out.Fingerprint.Headers = append([]string(nil), cfg.Fingerprint.Headers...)
	return out
}
