package session_test

import (
	"errors"
	"testing"
	"time"

	"wcsc/internal/domain/account"
	"wcsc/internal/domain/session"
)

func member(authID string, role account.Role) *account.Profile {
	return &account.Profile{AuthID: authID, FullName: "Test User", Role: role}
}

// TestCanTransition tests the session state machine table.
func TestCanTransition(t *testing.T) {
	tests := []struct {
		from, to session.Status
		want     bool
	}{
		{session.StatusAnonymous, session.StatusAuthenticating, true},
		{session.StatusAnonymous, session.StatusAuthenticated, true},
		{session.StatusAuthenticating, session.StatusAuthenticated, true},
		{session.StatusAuthenticating, session.StatusAnonymous, true},
		{session.StatusAuthenticating, session.StatusError, true},
		{session.StatusAuthenticated, session.StatusAnonymous, true},
		{session.StatusAuthenticated, session.StatusError, false},
		{session.StatusError, session.StatusAnonymous, true},
		{session.StatusError, session.StatusAuthenticated, false},
		{session.StatusError, session.StatusAuthenticating, false},
	}
	for _, tt := range tests {
		if got := session.CanTransition(tt.from, tt.to); got != tt.want {
			t.Errorf("CanTransition(%s, %s) = %v, want %v", tt.from, tt.to, got, tt.want)
		}
	}
}

// TestSession_Transition tests that leaving authenticated clears identity.
func TestSession_Transition(t *testing.T) {
	authed := session.Authenticated(session.Identity{ID: "u1", Email: "a@b.co"}, member("u1", account.RoleLeader))

	next, err := authed.Transition(session.Session{Status: session.StatusAnonymous, Identity: authed.Identity})
	if err != nil {
		t.Fatalf("Transition() error = %v", err)
	}
	if next.Identity != nil || next.Profile != nil {
		t.Errorf("anonymous session kept identity: %+v", next)
	}

	_, err = session.Session{Status: session.StatusError}.Transition(authed)
	if !errors.Is(err, session.ErrInvalidTransition) {
		t.Errorf("error -> authenticated = %v, want ErrInvalidTransition", err)
	}

	_, err = session.Anonymous().Transition(session.Authenticated(session.Identity{ID: "u1"}, member("u2", account.RoleMember)))
	if !errors.Is(err, session.ErrProfileMismatch) {
		t.Errorf("mismatched profile = %v, want ErrProfileMismatch", err)
	}
}

// TestSession_Role tests the effective role rules.
func TestSession_Role(t *testing.T) {
	id := session.Identity{ID: "u1"}
	tests := []struct {
		name string
		s    session.Session
		want account.Role
	}{
		{"anonymous", session.Anonymous(), account.RoleGuest},
		{"authenticating", session.Session{Status: session.StatusAuthenticating}, account.RoleGuest},
		{"no profile", session.Authenticated(id, nil), account.RoleGuest},
		{"leader", session.Authenticated(id, member("u1", account.RoleLeader)), account.RoleLeader},
		{"garbage role", session.Authenticated(id, member("u1", "coach")), account.RoleGuest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.s.Role(); got != tt.want {
				t.Errorf("Role() = %q, want %q", got, tt.want)
			}
		})
	}
}

// TestProviderSession_Expired tests token expiry.
func TestProviderSession_Expired(t *testing.T) {
	now := time.Now()
	if (session.ProviderSession{}).Expired(now) {
		t.Error("zero expiry should never expire")
	}
	if !(session.ProviderSession{ExpiresAt: now}).Expired(now) {
		t.Error("expiry at now should be expired")
	}
	if (session.ProviderSession{ExpiresAt: now.Add(time.Minute)}).Expired(now) {
		t.Error("future expiry should not be expired")
	}
}
