package authcore

import (
	"errors"

	"github.com/redis/go-redis/v9"

	"github.com/arkadore/authcore/fingerprint"
	internalaudit "github.com/arkadore/authcore/internal/audit"
	"github.com/arkadore/authcore/internal/rate"
	"github.com/arkadore/authcore/jwt"
	"github.com/arkadore/authcore/otp"
	"github.com/arkadore/authcore/password"
	"github.com/arkadore/authcore/session"
)

// Builder assembles an [Engine]. A builder is single-use; Build consumes it.
type Builder struct {
	config Config
	redis  *redis.Client

	identities IdentityProvider
	mailer     Mailer
	auditSink  AuditSink

	built bool
}

// New creates a builder preloaded with the default configuration.
func New() *Builder {
	return &Builder{
		config: defaultConfig(),
	}
}

// WithConfig replaces the whole configuration tree.
func (b *Builder) WithConfig(cfg Config) *Builder {
	b.config = cloneConfig(cfg)
	return b
}

// WithRedis sets the Redis client backing sessions, OTP records, and limiters.
func (b *Builder) WithRedis(client *redis.Client) *Builder {
	b.redis = client
	return b
}

// WithIdentityProvider sets the account backend.
func (b *Builder) WithIdentityProvider(provider IdentityProvider) *Builder {
	b.identities = provider
	return b
}

// WithMailer sets the one-time-code delivery channel.
func (b *Builder) WithMailer(mailer Mailer) *Builder {
	b.mailer = mailer
	return b
}

// WithAuditSink sets the audit event consumer and enables auditing.
func (b *Builder) WithAuditSink(sink AuditSink) *Builder {
	b.auditSink = sink
	b.config.Audit.Enabled = true
	return b
}

// WithMetricsEnabled toggles the engine counter set.
func (b *Builder) WithMetricsEnabled(enabled bool) *Builder {
	b.config.Metrics.Enabled = enabled
	return b
}

// Build validates the configuration and assembles the engine.
func (b *Builder) Build() (*Engine, error) {
	if b.built {
		return nil, errors.New("builder already used")
	}

	cfg := cloneConfig(b.config)

	if b.redis == nil {
		return nil, errors.New("redis client is required")
	}
	if cfg.Session.MaxPerUser <= 0 {
		return nil, errors.New("session quota must be positive")
	}
	if cfg.OTP.MaxMailAttempts <= 1 || cfg.OTP.MaxCodeAttempts <= 0 {
		return nil, errors.New("otp attempt caps too low")
	}
	if cfg.OTP.SuspicionCheckLimit > cfg.OTP.MaxMailAttempts {
		return nil, errors.New("suspicion check limit cannot exceed the mail cap")
	}

	tokens, err := jwt.NewManager(jwt.Config{
		Secret:     cfg.JWT.Secret,
		AccessTTL:  cfg.JWT.AccessTTL,
		RefreshTTL: cfg.JWT.RefreshTTL,
		Issuer:     cfg.JWT.Issuer,
		Leeway:     cfg.JWT.Leeway,
	})
	if err != nil {
		return nil, err
	}

	var limiter *rate.Limiter
	if cfg.Login.Enabled || cfg.Login.EnableRefreshThrottle {
		limiter = rate.New(b.redis, rate.Config{
			EnableIPThrottle:        cfg.Login.EnableIPThrottle,
			EnableRefreshThrottle:   cfg.Login.EnableRefreshThrottle,
			MaxLoginAttempts:        cfg.Login.MaxAttempts,
			LoginCooldownDuration:   cfg.Login.Cooldown,
			MaxRefreshAttempts:      cfg.Login.MaxRefreshAttempts,
			RefreshCooldownDuration: cfg.Login.RefreshCooldown,
		})
	}

	engine := &Engine{
		config:     cfg,
		redis:      b.redis,
		tokens:     tokens,
		deriver:    fingerprint.NewDeriver(cfg.Fingerprint.Headers, cfg.Fingerprint.Cost),
		passwords:  password.NewHasher(cfg.Account.PasswordCost),
		sessions:   session.NewStore(b.redis, cfg.Session.RedisPrefix),
		otpRecords: otp.NewStore(b.redis, cfg.OTP.RedisPrefix, cfg.OTP.MaxMailAttempts, cfg.OTP.Retention),
		limiter:    limiter,
		identities: b.identities,
		mailer:     b.mailer,
		metrics:    NewMetrics(cfg.Metrics),
		audit: internalaudit.NewDispatcher(internalaudit.Config{
			Enabled:    cfg.Audit.Enabled,
			BufferSize: cfg.Audit.BufferSize,
			DropIfFull: cfg.Audit.DropIfFull,
		}, b.auditSink),
	}

	b.built = true
	return engine, nil
}
