package session_test

import (
	"testing"

	"wcsc/internal/domain/account"
	"wcsc/internal/domain/session"
)

// TestAccessPolicy_RequireAuth tests the login redirect.
func TestAccessPolicy_RequireAuth(t *testing.T) {
	p := session.DefaultAccessPolicy()

	d := p.RequireAuth(session.Anonymous(), "/archives?year=2024")
	if d.Allowed {
		t.Fatal("anonymous should not be allowed")
	}
	if want := "/login?redirect=%2Farchives%3Fyear%3D2024"; d.RedirectTo != want {
		t.Errorf("RedirectTo = %q, want %q", d.RedirectTo, want)
	}

	d = p.RequireAuth(session.Authenticated(session.Identity{ID: "u1"}, nil), "/archives")
	if !d.Allowed {
		t.Error("authenticated session without profile should pass RequireAuth")
	}

	d = p.RequireAuth(session.Anonymous(), "https://evil.example/")
	if d.RedirectTo != "/login" {
		t.Errorf("foreign redirect target should be dropped, got %q", d.RedirectTo)
	}
}

// TestAccessPolicy_RequireAdmin tests the admin guard for each role.
func TestAccessPolicy_RequireAdmin(t *testing.T) {
	p := session.DefaultAccessPolicy()
	id := session.Identity{ID: "u1"}

	if d := p.RequireAdmin(session.Anonymous(), "/admin"); d.RedirectTo != "/login?redirect=%2Fadmin" {
		t.Errorf("anonymous RedirectTo = %q", d.RedirectTo)
	}

	for _, role := range []account.Role{account.RoleMember, account.RoleLeader} {
		d := p.RequireAdmin(session.Authenticated(id, member("u1", role)), "/admin")
		if d.Allowed || d.RedirectTo != "/dashboard" || d.Warning != session.AccessDeniedWarning {
			t.Errorf("%s decision = %+v", role, d)
		}
	}

	if d := p.RequireAdmin(session.Authenticated(id, member("u1", account.RoleAdmin)), "/admin"); !d.Allowed {
		t.Errorf("admin decision = %+v", d)
	}
}

// TestAccessPolicy_Guard tests page-list matching.
func TestAccessPolicy_Guard(t *testing.T) {
	p := session.DefaultAccessPolicy()
	anon := session.Anonymous()

	tests := []struct {
		path    string
		allowed bool
	}{
		{"/", true},
		{"/login", true},
		{"/calendar", false},
		{"/calendar/2025", false},
		{"/calendars", true},
		{"/admin", false},
	}
	for _, tt := range tests {
		if d := p.Guard(anon, tt.path, tt.path); d.Allowed != tt.allowed {
			t.Errorf("Guard(%s).Allowed = %v, want %v", tt.path, d.Allowed, tt.allowed)
		}
	}
}

// TestAccessPolicy_PostLoginRedirect tests the redirect parameter handling.
func TestAccessPolicy_PostLoginRedirect(t *testing.T) {
	p := session.DefaultAccessPolicy()
	tests := []struct {
		in, want string
	}{
		{"", "/calendar"},
		{"/archives", "/archives"},
		{"/scripture?book=john", "/scripture?book=john"},
		{"//evil.example", "/calendar"},
		{"/\\evil.example", "/calendar"},
		{"https://evil.example/x", "/calendar"},
		{"archives", "/calendar"},
	}
	for _, tt := range tests {
		if got := p.PostLoginRedirect(tt.in); got != tt.want {
			t.Errorf("PostLoginRedirect(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
