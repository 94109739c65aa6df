package session_test

import (
	"reflect"
	"testing"

	"wcsc/internal/domain/account"
	"wcsc/internal/domain/session"
)

// TestGate tests visibility for each kind of session.
func TestGate(t *testing.T) {
	id := session.Identity{ID: "u1"}
	tests := []struct {
		name string
		s    session.Session
		want session.Visibility
	}{
		{
			name: "anonymous",
			s:    session.Anonymous(),
			want: session.Visibility{session.TagGuestOnly: true},
		},
		{
			name: "member",
			s:    session.Authenticated(id, member("u1", account.RoleMember)),
			want: session.Visibility{session.TagMemberOnly: true},
		},
		{
			name: "leader",
			s:    session.Authenticated(id, member("u1", account.RoleLeader)),
			want: session.Visibility{session.TagMemberOnly: true, session.TagLeaderOnly: true},
		},
		{
			name: "admin",
			s:    session.Authenticated(id, member("u1", account.RoleAdmin)),
			want: session.Visibility{session.TagMemberOnly: true, session.TagLeaderOnly: true, session.TagAdminOnly: true},
		},
		{
			name: "profile missing",
			s:    session.Authenticated(id, nil),
			want: session.Visibility{session.TagMemberOnly: true},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := session.Gate(tt.s)
			for _, tag := range session.Tags {
				if got.Visible(tag) != tt.want[tag] {
					t.Errorf("Visible(%s) = %v, want %v", tag, got.Visible(tag), tt.want[tag])
				}
			}
		})
	}
}

// TestGate_Idempotent tests that gating the same session twice yields the same result.
func TestGate_Idempotent(t *testing.T) {
	s := session.Authenticated(session.Identity{ID: "u1"}, member("u1", account.RoleLeader))
	if !reflect.DeepEqual(session.Gate(s), session.Gate(s)) {
		t.Error("Gate is not idempotent")
	}
}

// TestVisibility_Untagged tests that untagged elements stay visible.
func TestVisibility_Untagged(t *testing.T) {
	v := session.Gate(session.Anonymous())
	if !v.Visible("") || v.Hidden("") {
		t.Error("untagged element should be visible")
	}
	if !v.Hidden("admin-only") {
		t.Error("admin-only should be hidden for guests")
	}
}
