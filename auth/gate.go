// Package auth implements the session gate: a single-slot authenticated
// session cache plus the sign-in/sign-up/refresh flows against the external
// identity provider. Every privileged operation passes through the gate to
// obtain a caller identity or be rejected.
package auth

import (
	"context"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/cryptex-im/cryptex/internal"
)

var logger = zerolog.New(os.Stdout).With().Timestamp().Logger().Output(zerolog.ConsoleWriter{
	Out:        os.Stderr,
	TimeFormat: "15:04:05",
})

// Gate combines the session store with the identity provider.
type Gate struct {
	store    *SessionStore
	provider IdentityProvider
	now      func() time.Time
}

func NewGate(store *SessionStore, provider IdentityProvider) *Gate {
	return &Gate{store: store, provider: provider, now: time.Now}
}

// SignInResult reports a successful credential exchange.
type SignInResult struct {
	UserID string
}

// SignUpResult reports a successful registration. NeedsConfirmation is set
// when the account still requires an emailed verification code; otherwise
// the user has already been signed in.
type SignUpResult struct {
	UserID            string
	NeedsConfirmation bool
}

// SignIn exchanges email+password for a session and installs it, replacing
// whatever the slot held. The slot is untouched on failure. Returns
// *internal.ValidationError for empty fields and *ProviderError for
// classified provider rejections.
func (g *Gate) SignIn(ctx context.Context, email, password string) (*SignInResult, error) {
	email = strings.TrimSpace(email)
	if email == "" {
		return nil, internal.Validationf("Email is required")
	}
	if password == "" {
		return nil, internal.Validationf("Password is required")
	}

	tokens, err := g.provider.InitiateAuth(ctx, email, password)
	if err != nil {
		return nil, err
	}
	claims, err := DecodeIDToken(tokens.IDToken)
	if err != nil {
		return nil, err
	}

	g.store.Install(Session{
		AccessToken:  tokens.AccessToken,
		RefreshToken: tokens.RefreshToken,
		IDToken:      tokens.IDToken,
		UserID:       claims.Subject,
		Email:        claims.Email,
		ExpiresAt:    g.now().Unix() + tokens.ExpiresIn,
	})
	logger.Info().Str("user", claims.Subject).Msg("signed in")
	return &SignInResult{UserID: claims.Subject}, nil
}

// SignUp registers a new account. Auto-confirmed accounts are signed in
// immediately.
func (g *Gate) SignUp(ctx context.Context, email, password, phone string) (*SignUpResult, error) {
	email = strings.TrimSpace(email)
	if email == "" {
		return nil, internal.Validationf("Email is required")
	}
	if len(password) < 8 {
		return nil, internal.Validationf("Password must be at least 8 characters")
	}

	userID, confirmed, err := g.provider.SignUp(ctx, email, password, strings.TrimSpace(phone))
	if err != nil {
		return nil, err
	}
	if confirmed {
		if _, err := g.SignIn(ctx, email, password); err != nil {
			return nil, err
		}
		return &SignUpResult{UserID: userID}, nil
	}
	return &SignUpResult{UserID: userID, NeedsConfirmation: true}, nil
}

// ConfirmSignUp redeems an emailed verification code.
func (g *Gate) ConfirmSignUp(ctx context.Context, email, code string) error {
	return g.provider.ConfirmSignUp(ctx, strings.TrimSpace(email), code)
}

// Refresh exchanges the held refresh credential for fresh tokens, rewriting
// the session in place. Returns false when no session is held. Any provider
// or token-decode failure revokes the session entirely (fail-closed) rather
// than leaving stale credentials behind.
func (g *Gate) Refresh(ctx context.Context) bool {
	refreshToken, ok := g.store.RefreshToken()
	if !ok {
		return false
	}

	tokens, err := g.provider.RefreshTokens(ctx, refreshToken)
	if err != nil {
		logger.Warn().Err(err).Msg("token refresh failed, revoking session")
		g.store.Clear()
		return false
	}
	claims, err := DecodeIDToken(tokens.IDToken)
	if err != nil {
		logger.Warn().Err(err).Msg("refresh returned an undecodable identity token, revoking session")
		g.store.Clear()
		return false
	}

	return g.store.UpdateTokens(
		tokens.AccessToken,
		tokens.IDToken,
		claims.Subject,
		claims.Email,
		g.now().Unix()+tokens.ExpiresIn,
	)
}

// SyncExternalSession installs a fully-formed session produced outside this
// process (the OAuth hosted-UI flow), replacing any existing session. The
// bearer token and subject id are the only fields every downstream
// authorization check depends on, so those two are required.
func (g *Gate) SyncExternalSession(sess Session) error {
	if sess.AccessToken == "" {
		return internal.Validationf("Access token is required")
	}
	if sess.UserID == "" {
		return internal.Validationf("User ID is required")
	}
	g.store.Install(sess)
	return nil
}

// SignOut clears the session slot. Idempotent.
func (g *Gate) SignOut() {
	g.store.Clear()
}

// UserID is the access-control check used by every privileged operation.
func (g *Gate) UserID() (string, error) {
	return g.store.UserID()
}

// AccessToken returns the bearer token for API calls iff a valid session is
// held.
func (g *Gate) AccessToken() (string, bool) {
	return g.store.AccessToken()
}

// Info returns the token-free session view for the frontend.
func (g *Gate) Info() (SessionInfo, bool) {
	return g.store.Info()
}
