package session

import (
	"time"

	"github.com/google/uuid"
)

// Session is one authenticated device/browser for one identity. The literal
// token values are stored so guards can detect revoked or rotated tokens by
// exact match.
//
// Session instances are intended to be configured during initialization and
// then treated as immutable unless documented otherwise.
type Session struct {
	ID              string
	UserID          int64
	FingerprintHash string
	AccessToken     string
	RefreshToken    string

	CreatedAt int64
	ExpiresAt int64
}

// New mints a session row for a fresh login. Expiry is now+lifetime.
func New(userID int64, fingerprintHash, accessToken, refreshToken string, lifetime time.Duration) *Session {
	now := time.Now()
	return &Session{
		ID:              uuid.NewString(),
		UserID:          userID,
		FingerprintHash: fingerprintHash,
		AccessToken:     accessToken,
		RefreshToken:    refreshToken,
		CreatedAt:       now.UnixNano(),
		ExpiresAt:       now.Add(lifetime).Unix(),
	}
}

// Expired reports whether the session's absolute expiry has passed.
func (s *Session) Expired(now time.Time) bool {
	return now.Unix() > s.ExpiresAt
}
