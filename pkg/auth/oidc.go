package auth

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/coreos/go-oidc/v3/oidc"
	"golang.org/x/oauth2"

	"github.com/lockhaven/tenantd/pkg/apperror"
	"github.com/lockhaven/tenantd/pkg/authz"
)

// OIDCAuthenticator verifies ID tokens from an external identity provider and
// maps the verified email claim to a user row.
type OIDCAuthenticator struct {
	provider *oidc.Provider
	verifier *oidc.IDTokenVerifier
	db       *sql.DB
}

// NewOIDCAuthenticator discovers the provider configuration from the issuer
func NewOIDCAuthenticator(ctx context.Context, issuer, clientID string, db *sql.DB) (*OIDCAuthenticator, error) {
	provider, err := oidc.NewProvider(ctx, issuer)
	if err != nil {
		return nil, fmt.Errorf("failed to discover OIDC provider: %w", err)
	}

	return &OIDCAuthenticator{
		provider: provider,
		verifier: provider.Verifier(&oidc.Config{ClientID: clientID}),
		db:       db,
	}, nil
}

// Authenticate verifies an ID token and resolves the actor by email claim
func (a *OIDCAuthenticator) Authenticate(ctx context.Context, credential string) (*authz.Actor, error) {
	idToken, err := a.verifier.Verify(ctx, credential)
	if err != nil {
		return nil, apperror.Authentication("invalid or expired ID token")
	}

	var claims struct {
		Email         string `json:"email"`
		EmailVerified bool   `json:"email_verified"`
	}
	if err := idToken.Claims(&claims); err != nil {
		return nil, apperror.Authentication("failed to parse token claims")
	}
	if claims.Email == "" || !claims.EmailVerified {
		return nil, apperror.Authentication("token does not carry a verified email")
	}

	var actor authz.Actor
	err = a.db.QueryRowContext(ctx,
		`SELECT id, name, email, is_master_admin FROM users WHERE email = $1`,
		claims.Email,
	).Scan(&actor.ID, &actor.Name, &actor.Email, &actor.IsMasterAdmin)
	if err == sql.ErrNoRows {
		return nil, apperror.Authentication("no user registered for this identity")
	}
	if err != nil {
		return nil, fmt.Errorf("failed to resolve user by email: %w", err)
	}

	return &actor, nil
}

// LoginConfig builds the OAuth2 configuration for interactive login flows,
// for example the CLI's browser-based login.
func (a *OIDCAuthenticator) LoginConfig(clientID, clientSecret, redirectURL string) *oauth2.Config {
	return &oauth2.Config{
		ClientID:     clientID,
		ClientSecret: clientSecret,
		RedirectURL:  redirectURL,
		Endpoint:     a.provider.Endpoint(),
		Scopes:       []string{oidc.ScopeOpenID, "email", "profile"},
	}
}

// ChainAuthenticator tries each authenticator in order. Service tokens carry a
// distinguishing prefix, so the token manager rejects OIDC credentials fast
// and vice versa.
type ChainAuthenticator struct {
	authenticators []Authenticator
}

// NewChainAuthenticator creates an authenticator that tries each candidate
func NewChainAuthenticator(authenticators ...Authenticator) *ChainAuthenticator {
	return &ChainAuthenticator{authenticators: authenticators}
}

// Authenticate returns the first successful resolution. Infrastructure errors
// stop the chain; authentication failures let the next candidate try.
func (c *ChainAuthenticator) Authenticate(ctx context.Context, credential string) (*authz.Actor, error) {
	var lastErr error
	for _, a := range c.authenticators {
		actor, err := a.Authenticate(ctx, credential)
		if err == nil {
			return actor, nil
		}
		if !apperror.IsKind(err, apperror.KindAuthentication) {
			return nil, err
		}
		lastErr = err
	}
	if lastErr == nil {
		lastErr = apperror.Authentication("no authenticator configured")
	}
	return nil, lastErr
}
