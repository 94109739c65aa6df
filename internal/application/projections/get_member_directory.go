// Package projections holds read-side queries for the portal's admin views.
package projections

import (
	"cmp"
	"context"
	"slices"
	"strings"

	"wcsc/internal/application/listutil"
	"wcsc/internal/domain/account"
)

// ProfileLister lists every known profile.
type ProfileLister interface {
	ListProfiles(ctx context.Context) ([]account.Profile, error)
}

// Member directory sort columns and filter keys.
var (
	MemberDirectorySortColumns = []string{"name", "username", "chapter", "role", "joined"}
	MemberDirectoryFilterKeys  = []string{"chapter", "role"}
)

// GetMemberDirectoryQuery carries query parameters.
type GetMemberDirectoryQuery struct {
	listutil.ListParams
}

// GetMemberDirectoryResult carries one page of matching profiles.
type GetMemberDirectoryResult struct {
	Members  []account.Profile
	Page     listutil.PageInfo
	Chapters []string
}

// GetMemberDirectoryDeps holds dependencies for GetMemberDirectory.
type GetMemberDirectoryDeps struct {
	Profiles ProfileLister
}

// QueryGetMemberDirectory filters, sorts and pages the member directory.
// PRE: query.PerPage > 0
// POST: Members holds at most PerPage profiles; Chapters lists every chapter seen, sorted
// INVARIANT: Search matches name, username or email case-insensitively
func QueryGetMemberDirectory(ctx context.Context, query GetMemberDirectoryQuery, deps GetMemberDirectoryDeps) (GetMemberDirectoryResult, error) {
	all, err := deps.Profiles.ListProfiles(ctx)
	if err != nil {
		return GetMemberDirectoryResult{}, err
	}

	var chapters []string
	needle := strings.ToLower(query.Search)
	matched := make([]account.Profile, 0, len(all))
	for _, p := range all {
		if p.Chapter != "" && !slices.Contains(chapters, p.Chapter) {
			chapters = append(chapters, p.Chapter)
		}
		if c := query.Filters["chapter"]; c != "" && !strings.EqualFold(p.Chapter, c) {
			continue
		}
		if r := query.Filters["role"]; r != "" && string(p.Role) != r {
			continue
		}
		if needle != "" && !matchesSearch(p, needle) {
			continue
		}
		matched = append(matched, p)
	}
	slices.Sort(chapters)

	slices.SortStableFunc(matched, compareBy(query.Sort))
	if query.Dir == listutil.Desc {
		slices.Reverse(matched)
	}

	info := listutil.NewPageInfo(query.Page, query.PerPage, len(matched))
	return GetMemberDirectoryResult{
		Members:  listutil.Paginate(matched, info),
		Page:     info,
		Chapters: chapters,
	}, nil
}

func matchesSearch(p account.Profile, needle string) bool {
	for _, field := range []string{p.DisplayName(), p.Username, p.Email} {
		if strings.Contains(strings.ToLower(field), needle) {
			return true
		}
	}
	return false
}

// compareBy orders profiles by column, breaking ties by email. The default is name.
func compareBy(column string) func(a, b account.Profile) int {
	key := func(p account.Profile) string { return strings.ToLower(p.DisplayName()) }
	switch column {
	case "username":
		key = func(p account.Profile) string { return strings.ToLower(p.Username) }
	case "chapter":
		key = func(p account.Profile) string { return strings.ToLower(p.Chapter) }
	case "role":
		return func(a, b account.Profile) int {
			return cmp.Or(cmp.Compare(a.Role.Level(), b.Role.Level()), cmp.Compare(a.Email, b.Email))
		}
	case "joined":
		return func(a, b account.Profile) int {
			return cmp.Or(a.CreatedAt.Compare(b.CreatedAt), cmp.Compare(a.Email, b.Email))
		}
	}
	return func(a, b account.Profile) int {
		return cmp.Or(cmp.Compare(key(a), key(b)), cmp.Compare(a.Email, b.Email))
	}
}
