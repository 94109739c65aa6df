package account

import (
	"fmt"
	"strings"
	"time"
)

// Metadata is the loosely-shaped user metadata attached to an identity at signup.
// Older clients wrote overlapping name fields, so reads go through NormalizeProfile.
type Metadata map[string]any

// Metadata keys written by Registration.Metadata.
const (
	MetaFullName = "full_name"
	MetaUsername = "username"
	MetaPhone    = "phone"
	MetaChapter  = "chapter"
	MetaBio      = "bio"
	MetaRole     = "role"
	MetaJoinedAt = "joined_at"
)

// legacy keys still present on accounts created by earlier registration forms
const (
	legacyFullName  = "fullName"
	legacyFirstName = "firstName"
	legacyLastName  = "lastName"
)

// String returns the trimmed string value stored under key, or "".
func (m Metadata) String(key string) string {
	v, ok := m[key]
	if !ok || v == nil {
		return ""
	}
	switch s := v.(type) {
	case string:
		return strings.TrimSpace(s)
	default:
		return strings.TrimSpace(fmt.Sprint(s))
	}
}

// canonicalFullName picks the single canonical name out of the overlapping fields.
func (m Metadata) canonicalFullName() string {
	if name := m.String(MetaFullName); name != "" {
		return name
	}
	if name := m.String(legacyFullName); name != "" {
		return name
	}
	first, last := m.String(legacyFirstName), m.String(legacyLastName)
	return strings.TrimSpace(first + " " + last)
}

// NormalizeProfile builds a Profile from identity metadata. Fields already set on
// row win; metadata only fills the gaps. The role is taken from the row when it
// parses, otherwise from metadata, otherwise DefaultRole.
// PRE: authID identifies the identity the row belongs to
// POST: Returns a profile with a single canonical FullName
func NormalizeProfile(row Profile, authID, email string, meta Metadata) Profile {
	p := row
	if p.AuthID == "" {
		p.AuthID = authID
	}
	if p.Email == "" {
		p.Email = email
	}
	if p.FullName == "" {
		p.FullName = meta.canonicalFullName()
	}
	if p.Username == "" {
		p.Username = meta.String(MetaUsername)
	}
	if p.Phone == "" {
		p.Phone = meta.String(MetaPhone)
	}
	if p.Chapter == "" {
		p.Chapter = meta.String(MetaChapter)
	}
	if p.Bio == "" {
		p.Bio = meta.String(MetaBio)
	}
	if _, err := ParseRole(string(p.Role)); err != nil || p.Role == "" {
		p.Role = DefaultRole
		if r, err := ParseRole(meta.String(MetaRole)); err == nil && meta.String(MetaRole) != "" {
			p.Role = r
		}
	}
	if p.CreatedAt.IsZero() {
		if t, err := time.Parse(time.RFC3339, meta.String(MetaJoinedAt)); err == nil {
			p.CreatedAt = t
		}
	}
	return p
}
