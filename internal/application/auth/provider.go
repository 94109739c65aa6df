package auth

import (
	"context"

	"wcsc/internal/domain/account"
	"wcsc/internal/domain/session"
)

// SessionChangeFunc receives provider session events. ps is nil on sign-out.
type SessionChangeFunc func(event session.ChangeEvent, ps *session.ProviderSession)

// Provider is the identity provider contract the Manager depends on.
// A Provider instance is bound to a single UI context.
type Provider interface {
	// VerifyCredentials signs in with email and password.
	VerifyCredentials(ctx context.Context, email, password string) (session.ProviderSession, error)
	// CreateAccount registers a new identity. The account may need confirmation before use.
	CreateAccount(ctx context.Context, email, password string, meta account.Metadata) (session.Identity, error)
	// CurrentSession returns the signed-in session, or nil when there is none.
	CurrentSession(ctx context.Context) (*session.ProviderSession, error)
	SignOut(ctx context.Context) error
	OnSessionChange(fn SessionChangeFunc) (unsubscribe func())
	// LookupProfileByAuthID returns the profile row, or nil when there is none.
	LookupProfileByAuthID(ctx context.Context, authID string) (*account.Profile, error)
	// LookupEmailByUsername returns the email registered to username, or found=false.
	LookupEmailByUsername(ctx context.Context, username string) (email string, found bool, err error)
}

// Prober is implemented by providers that can report readiness.
type Prober interface {
	Probe(ctx context.Context) error
}

// LocalStateClearer is implemented by providers that keep state on this side of the wire.
type LocalStateClearer interface {
	ClearLocalState(ctx context.Context) error
}
