package session

import "wcsc/internal/domain/account"

// Tag marks a page element as visible only to some audience.
type Tag string

// Gating tags
const (
	TagGuestOnly  Tag = "guest-only"
	TagMemberOnly Tag = "member-only"
	TagLeaderOnly Tag = "leader-only"
	TagAdminOnly  Tag = "admin-only"
)

// Tags lists every gating tag.
var Tags = []Tag{TagGuestOnly, TagMemberOnly, TagLeaderOnly, TagAdminOnly}

// Visibility says, per tag, whether tagged elements are shown.
type Visibility map[Tag]bool

// Visible reports whether elements carrying tag are shown. Untagged elements always are.
func (v Visibility) Visible(tag Tag) bool {
	if tag == "" {
		return true
	}
	return v[tag]
}

// Hidden is the inverse of Visible, convenient for templates.
func (v Visibility) Hidden(tag string) bool {
	return !v.Visible(Tag(tag))
}

// Gate computes element visibility for a session.
// member-only follows authentication alone, so a signed-in user whose profile
// failed to load still sees member chrome while permission checks treat them as guest.
// PRE: none
// POST: Pure; the same session always yields the same Visibility
func Gate(s Session) Visibility {
	authed := s.IsAuthenticated()
	role := s.Role()
	return Visibility{
		TagGuestOnly:  !authed,
		TagMemberOnly: authed,
		TagLeaderOnly: authed && role.AtLeast(account.RoleLeader),
		TagAdminOnly:  authed && role == account.RoleAdmin,
	}
}
