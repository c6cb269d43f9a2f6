// Package jwt mints and verifies the signed access/refresh token pairs the
// engine hands out. Both tokens of a pair carry the same identity payload
// and differ only in lifetime.
package jwt

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// Config holds the signing parameters for a [Manager].
//
// Config instances are intended to be configured during initialization and
// then treated as immutable.
type Config struct {
	// Secret is the server-held HS256 key. Never exposed to clients.
	Secret     []byte
	AccessTTL  time.Duration
	RefreshTTL time.Duration
	Issuer     string
	Leeway     time.Duration
}

// Claims is the token payload: identity id, device fingerprint hash, and
// the role set. The same shape rides in both access and refresh tokens.
type Claims struct {
	ID          int64    `json:"id"`
	Fingerprint string   `json:"fingerprint"`
	Roles       []string `json:"roles"`
	jwt.RegisteredClaims
}

// Pair is one issued access/refresh token couple.
type Pair struct {
	AccessToken  string
	RefreshToken string
}

// Manager signs and parses token pairs with a single HS256 secret.
type Manager struct {
	config Config
}

// NewManager validates cfg and returns a Manager.
func NewManager(cfg Config) (*Manager, error) {
	if len(cfg.Secret) == 0 {
		return nil, errors.New("jwt: empty signing secret")
	}
	if cfg.AccessTTL <= 0 || cfg.RefreshTTL <= 0 {
		return nil, errors.New("jwt: invalid TTL configuration")
	}
	if cfg.RefreshTTL <= cfg.AccessTTL {
		return nil, errors.New("jwt: refresh TTL must exceed access TTL")
	}
	if cfg.Leeway < 0 || cfg.Leeway > 2*time.Minute {
		return nil, errors.New("jwt: invalid leeway configuration")
	}
	return &Manager{config: cfg}, nil
}

// IssuePair signs an access token (short-lived) and a refresh token
// (long-lived) from the same payload.
func (m *Manager) IssuePair(id int64, fingerprintHash string, roles []string) (Pair, error) {
	access, err := m.sign(id, fingerprintHash, roles, m.config.AccessTTL)
	if err != nil {
		return Pair{}, err
	}

	refresh, err := m.sign(id, fingerprintHash, roles, m.config.RefreshTTL)
	if err != nil {
		return Pair{}, err
	}

	return Pair{AccessToken: access, RefreshToken: refresh}, nil
}

// Parse verifies the signature and expiry of token and returns its claims.
// Callers must treat every failure cause identically; the engine boundary
// collapses them into a single unauthorized error to avoid oracle leakage.
func (m *Manager) Parse(tokenStr string) (*Claims, error) {
	options := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
	}
	if m.config.Leeway > 0 {
		options = append(options, jwt.WithLeeway(m.config.Leeway))
	}
	if m.config.Issuer != "" {
		options = append(options, jwt.WithIssuer(m.config.Issuer))
	}

	parser := jwt.NewParser(options...)
	token, err := parser.ParseWithClaims(tokenStr, &Claims{}, func(*jwt.Token) (interface{}, error) {
		return m.config.Secret, nil
	})
	if err != nil {
		return nil, err
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, jwt.ErrTokenInvalidClaims
	}

	return claims, nil
}

// Decode extracts claims without verifying the signature or expiry. Only
// safe after the token has already passed [Manager.Parse] on the same
// request path; role gates use it to avoid a second verification.
func (m *Manager) Decode(tokenStr string) (*Claims, error) {
	claims := &Claims{}
	if _, _, err := jwt.NewParser().ParseUnverified(tokenStr, claims); err != nil {
		return nil, err
	}
	return claims, nil
}

// AccessTTL returns the configured access-token lifetime.
func (m *Manager) AccessTTL() time.Duration { return m.config.AccessTTL }

// RefreshTTL returns the configured refresh-token lifetime. Cookie expiry
// must track this value.
func (m *Manager) RefreshTTL() time.Duration { return m.config.RefreshTTL }

func (m *Manager) sign(id int64, fingerprintHash string, roles []string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := Claims{
		ID:          id,
		Fingerprint: fingerprintHash,
		Roles:       roles,
		RegisteredClaims: jwt.RegisteredClaims{
			// iat/exp have second granularity; the jti keeps two tokens
			// signed within the same second from colliding, which rotation
			// relies on to actually retire the superseded token.
			ID:        uuid.NewString(),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
			Issuer:    m.config.Issuer,
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(m.config.Secret)
}
