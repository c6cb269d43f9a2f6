package authcore

import (
	"context"
	"fmt"
	"net/http"

	"github.com/google/uuid"
)

// OAuthLogin completes a provider callback: the profile's email either maps
// to an existing identity or a new one is created under that provider. Either
// way a session opens, subject to the same quota as password logins.
//
// Provider-created identities get an unguessable random password hash so the
// password login path can never match them by accident.
func (e *Engine) OAuthLogin(ctx context.Context, provider string, profile ProviderProfile, h http.Header, ip string) (*AuthResult, error) {
	if e.identities == nil {
		return nil, ErrEngineNotReady
	}

	identity, err := e.identities.GetByEmail(ctx, profile.Email)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrProviderUnavailable, err)
	}

	if identity == nil {
		hash, err := e.passwords.Hash(uuid.NewString())
		if err != nil {
			return nil, err
		}

		identity, err = e.identities.Create(ctx, &Identity{
			Email:        profile.Email,
			PasswordHash: hash,
			Name:         profile.Name,
			Surname:      profile.Surname,
			Phone:        profile.Phone,
			Roles:        e.rolesFor(profile.Email),
			Provider:     provider,
		})
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrProviderUnavailable, err)
		}
	}

	result, err := e.createSession(ctx, identity, h)
	if err != nil {
		return nil, err
	}

	e.metrics.Inc(MetricOAuthLoginSuccess)
	e.emitAudit(ctx, EventOAuthLogin, true, identity.ID, result.SessionID, ip, nil, func() map[string]string {
		return map[string]string{"provider": provider}
	})
	return result, nil
}
