package authcore

import (
	"context"

	"github.com/arkadore/authcore/jwt"
	"github.com/arkadore/authcore/otp"
)

// Identity providers an account can originate from.
const (
	ProviderLocal  = "LOCAL"
	ProviderGoogle = "GOOGLE"
	ProviderYandex = "YANDEX"
	ProviderMailRu = "MAILRU"
)

// Default role names. The admin role is granted to the identity whose email
// matches the configured admin email.
const (
	RoleUser  = "USER"
	RoleAdmin = "ADMIN"
)

// Identity is the engine's view of an account. The engine never owns account
// storage; an [IdentityProvider] supplies and persists these.
type Identity struct {
	ID           int64
	Email        string
	PasswordHash string
	Name         string
	Surname      string
	Phone        string
	Roles        []string
	Provider     string
}

// IdentityProvider is the account backend the engine delegates to. Lookup
// misses return (nil, nil), not an error.
type IdentityProvider interface {
	GetByEmail(ctx context.Context, email string) (*Identity, error)
	GetByID(ctx context.Context, id int64) (*Identity, error)
	Create(ctx context.Context, identity *Identity) (*Identity, error)
}

// Mailer delivers one-time codes. Called off the request goroutine; failures
// are audited but never surface to the requester.
type Mailer interface {
	SendCode(ctx context.Context, email, code string) error
}

// ProviderProfile is the minimal profile an OAuth callback hands to
// [Engine.OAuthLogin].
type ProviderProfile struct {
	Email   string
	Name    string
	Surname string
	Phone   string
}

// TokenPair is an access+refresh token pair.
type TokenPair = jwt.Pair

// Claims is the decoded JWT payload.
type Claims = jwt.Claims

// SuspiciousEntry is one blocked OTP key in the admin listing.
type SuspiciousEntry = otp.SuspiciousEntry

// AuthResult is what a successful authentication or validation yields.
type AuthResult struct {
	UserID    int64
	Roles     []string
	SessionID string
	Tokens    TokenPair
}
