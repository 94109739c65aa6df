package session

import (
	"errors"
	"fmt"
	"time"

	"wcsc/internal/domain/account"
)

// Status is the lifecycle state of a Session.
type Status string

// Status constants
const (
	StatusAnonymous      Status = "anonymous"
	StatusAuthenticating Status = "authenticating"
	StatusAuthenticated  Status = "authenticated"
	// StatusError is transient; the manager folds it back to anonymous.
	StatusError Status = "error"
)

// transitions lists the allowed next states for each state.
var transitions = map[Status][]Status{
	StatusAnonymous:      {StatusAnonymous, StatusAuthenticating, StatusAuthenticated, StatusError},
	StatusAuthenticating: {StatusAuthenticating, StatusAuthenticated, StatusAnonymous, StatusError},
	StatusAuthenticated:  {StatusAuthenticated, StatusAuthenticating, StatusAnonymous},
	StatusError:          {StatusAnonymous},
}

// Domain errors
var (
	ErrInvalidTransition   = errors.New("invalid session transition")
	ErrIdentityWithoutAuth = errors.New("identity present on unauthenticated session")
	ErrAuthWithoutIdentity = errors.New("authenticated session has no identity")
	ErrProfileMismatch     = errors.New("profile does not belong to session identity")
)

// Identity is the authenticated principal as reported by the identity provider.
type Identity struct {
	ID    string
	Email string
}

// ProviderSession is the provider's view of a signed-in identity.
// Tokens are opaque to everything except the provider that issued them.
type ProviderSession struct {
	Identity     Identity
	AccessToken  string
	RefreshToken string
	ExpiresAt    time.Time
	Metadata     account.Metadata
}

// Expired reports whether the access token has passed its expiry at now.
func (p ProviderSession) Expired(now time.Time) bool {
	return !p.ExpiresAt.IsZero() && !now.Before(p.ExpiresAt)
}

// ChangeEvent is a provider-originated session notification.
type ChangeEvent string

// ChangeEvent constants
const (
	EventSignedIn       ChangeEvent = "SIGNED_IN"
	EventSignedOut      ChangeEvent = "SIGNED_OUT"
	EventTokenRefreshed ChangeEvent = "TOKEN_REFRESHED"
)

// Session is the cached authentication state of one UI context.
type Session struct {
	Status   Status
	Identity *Identity
	Profile  *account.Profile
}

// Anonymous returns the initial session.
func Anonymous() Session {
	return Session{Status: StatusAnonymous}
}

// CanTransition reports whether moving from one status to another is allowed.
func CanTransition(from, to Status) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Validate checks the session invariants.
// PRE: none
// POST: Returns nil if identity and profile are consistent with Status
// INVARIANT: Identity is set iff Status is authenticated; Profile.AuthID matches Identity.ID
func (s Session) Validate() error {
	if s.Status == StatusAuthenticated {
		if s.Identity == nil {
			return ErrAuthWithoutIdentity
		}
	} else if s.Identity != nil || s.Profile != nil {
		return ErrIdentityWithoutAuth
	}
	if s.Profile != nil && s.Profile.AuthID != s.Identity.ID {
		return ErrProfileMismatch
	}
	return nil
}

// Transition returns the session moved to next, or ErrInvalidTransition.
// Leaving the authenticated state drops identity and profile.
func (s Session) Transition(next Session) (Session, error) {
	if !CanTransition(s.Status, next.Status) {
		return s, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, s.Status, next.Status)
	}
	if next.Status != StatusAuthenticated {
		next.Identity = nil
		next.Profile = nil
	}
	if err := next.Validate(); err != nil {
		return s, err
	}
	return next, nil
}

// Authenticated builds an authenticated session. profile may be nil.
func Authenticated(id Identity, profile *account.Profile) Session {
	return Session{Status: StatusAuthenticated, Identity: &id, Profile: profile}
}

// IsAuthenticated reports whether the session holds a verified identity.
func (s Session) IsAuthenticated() bool {
	return s.Status == StatusAuthenticated && s.Identity != nil
}

// Role returns the effective role. Anything short of an authenticated session
// with a loaded profile is a guest.
func (s Session) Role() account.Role {
	if !s.IsAuthenticated() || s.Profile == nil {
		return account.RoleGuest
	}
	if _, err := account.ParseRole(string(s.Profile.Role)); err != nil {
		return account.RoleGuest
	}
	return s.Profile.Role
}

// Can reports whether the session's role may perform action.
func (s Session) Can(action account.Action) bool {
	return account.Can(s.Role(), action)
}
