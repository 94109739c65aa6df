package account

import (
	"errors"
	"strings"
	"time"
)

// Max length constants for user-editable fields.
const (
	MaxEmailLength = 254
	MaxNameLength  = 100
)

// Role is the coarse permission tier stored on a profile row.
type Role string

// Role constants
const (
	RoleGuest  Role = "guest"
	RoleMember Role = "member"
	RoleLeader Role = "leader"
	RoleAdmin  Role = "admin"
)

// DefaultRole is assigned to every new registration.
const DefaultRole = RoleMember

// ValidRoles contains all roles a profile row may carry, lowest first.
var ValidRoles = []Role{RoleGuest, RoleMember, RoleLeader, RoleAdmin}

// roleLevels orders roles: admin ⊇ leader ⊇ member ⊇ guest.
var roleLevels = map[Role]int{
	RoleGuest:  0,
	RoleMember: 1,
	RoleLeader: 2,
	RoleAdmin:  3,
}

// FallbackFirstName is the greeting used when a profile carries no usable name.
const FallbackFirstName = "Brother"

// Domain errors
var (
	ErrInvalidRole = errors.New("role must be one of: guest, member, leader, admin")
	ErrEmptyAuthID = errors.New("profile must reference an identity")
)

// ParseRole converts a stored role string into a Role.
// PRE: none
// POST: Returns the role, or ErrInvalidRole for unknown values
func ParseRole(s string) (Role, error) {
	r := Role(strings.ToLower(strings.TrimSpace(s)))
	if _, ok := roleLevels[r]; !ok {
		return RoleGuest, ErrInvalidRole
	}
	return r, nil
}

// Level returns the position of the role in the hierarchy. Unknown roles rank as guest.
func (r Role) Level() int {
	return roleLevels[r]
}

// AtLeast reports whether r grants everything min grants.
// INVARIANT: Role values are not mutated
func (r Role) AtLeast(min Role) bool {
	return r.Level() >= min.Level()
}

// String implements fmt.Stringer.
func (r Role) String() string {
	return string(r)
}

// Profile is the application-level row describing a user, distinct from the
// identity provider's bare credential record.
type Profile struct {
	ID        string
	AuthID    string
	Email     string
	FullName  string
	Username  string
	Phone     string
	Chapter   string
	Bio       string
	Role      Role
	CreatedAt time.Time
}

// Validate checks if the Profile has valid data.
// PRE: Profile struct is populated
// POST: Returns nil if valid, error otherwise
func (p *Profile) Validate() error {
	if strings.TrimSpace(p.AuthID) == "" {
		return ErrEmptyAuthID
	}
	if len(p.Email) > MaxEmailLength {
		return errors.New("email cannot exceed 254 characters")
	}
	if len(p.FullName) > MaxNameLength {
		return errors.New("full name cannot exceed 100 characters")
	}
	if _, ok := roleLevels[p.Role]; !ok {
		return ErrInvalidRole
	}
	return nil
}

// DisplayName returns the full name, falling back to the username.
func (p Profile) DisplayName() string {
	if p.FullName != "" {
		return p.FullName
	}
	return p.Username
}

// FirstName returns the first word of the full name for greetings.
func (p Profile) FirstName() string {
	if fields := strings.Fields(p.FullName); len(fields) > 0 {
		return fields[0]
	}
	if p.Username != "" {
		return p.Username
	}
	return FallbackFirstName
}

// Initial returns the upper-cased first letter of FirstName, used for avatars.
func (p Profile) Initial() string {
	name := p.FirstName()
	for _, r := range name {
		return strings.ToUpper(string(r))
	}
	return ""
}
