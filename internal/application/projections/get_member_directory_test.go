package projections

import (
	"context"
	"errors"
	"testing"
	"time"

	"wcsc/internal/application/listutil"
	"wcsc/internal/domain/account"
)

type mockProfileLister struct {
	profiles []account.Profile
	err      error
}

// ListProfiles returns the seeded profiles.
// PRE: none
// POST: Returns the seeded profiles or the seeded error
func (m *mockProfileLister) ListProfiles(context.Context) ([]account.Profile, error) {
	return m.profiles, m.err
}

func seededDirectory() *mockProfileLister {
	day := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	return &mockProfileLister{profiles: []account.Profile{
		{Email: "carl@wcsc.org", FullName: "Carl Young", Username: "carl", Chapter: "Austin", Role: account.RoleMember, CreatedAt: day.AddDate(0, 0, 2)},
		{Email: "adam@wcsc.org", FullName: "Adam Brown", Username: "abrown", Chapter: "Georgetown", Role: account.RoleLeader, CreatedAt: day},
		{Email: "bob@wcsc.org", Username: "bobby", Chapter: "Georgetown", Role: account.RoleAdmin, CreatedAt: day.AddDate(0, 0, 1)},
	}}
}

func query(sort, dir, search string, filters map[string]string) GetMemberDirectoryQuery {
	if filters == nil {
		filters = map[string]string{}
	}
	return GetMemberDirectoryQuery{ListParams: listutil.ListParams{
		Page: 1, PerPage: listutil.DefaultPerPage, Sort: sort, Dir: dir, Search: search, Filters: filters,
	}}
}

func emails(ps []account.Profile) []string {
	out := make([]string, len(ps))
	for i, p := range ps {
		out[i] = p.Email
	}
	return out
}

// TestQueryGetMemberDirectory tests filtering and sorting.
func TestQueryGetMemberDirectory(t *testing.T) {
	tests := []struct {
		name  string
		query GetMemberDirectoryQuery
		want  []string
	}{
		{"default sorts by name", query("", listutil.Asc, "", nil), []string{"adam@wcsc.org", "bob@wcsc.org", "carl@wcsc.org"}},
		{"name descending", query("name", listutil.Desc, "", nil), []string{"carl@wcsc.org", "bob@wcsc.org", "adam@wcsc.org"}},
		{"by role", query("role", listutil.Asc, "", nil), []string{"carl@wcsc.org", "adam@wcsc.org", "bob@wcsc.org"}},
		{"by joined", query("joined", listutil.Asc, "", nil), []string{"adam@wcsc.org", "bob@wcsc.org", "carl@wcsc.org"}},
		{"chapter filter ignores case", query("", listutil.Asc, "", map[string]string{"chapter": "georgetown"}), []string{"adam@wcsc.org", "bob@wcsc.org"}},
		{"role filter", query("", listutil.Asc, "", map[string]string{"role": "admin"}), []string{"bob@wcsc.org"}},
		{"search by name", query("", listutil.Asc, "young", nil), []string{"carl@wcsc.org"}},
		{"search by username", query("", listutil.Asc, "BOBBY", nil), []string{"bob@wcsc.org"}},
		{"no match", query("", listutil.Asc, "zed", nil), []string{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := QueryGetMemberDirectory(context.Background(), tt.query, GetMemberDirectoryDeps{Profiles: seededDirectory()})
			if err != nil {
				t.Fatalf("QueryGetMemberDirectory() error = %v", err)
			}
			got := emails(res.Members)
			if len(got) != len(tt.want) {
				t.Fatalf("got %v, want %v", got, tt.want)
			}
			for i := range got {
				if got[i] != tt.want[i] {
					t.Fatalf("got %v, want %v", got, tt.want)
				}
			}
			if res.Page.Total != len(tt.want) {
				t.Errorf("Total = %d, want %d", res.Page.Total, len(tt.want))
			}
		})
	}
}

// TestQueryGetMemberDirectory_Paging tests that pages slice the sorted rows.
func TestQueryGetMemberDirectory_Paging(t *testing.T) {
	q := query("joined", listutil.Asc, "", nil)
	q.PerPage = 2
	q.Page = 2

	res, err := QueryGetMemberDirectory(context.Background(), q, GetMemberDirectoryDeps{Profiles: seededDirectory()})
	if err != nil {
		t.Fatalf("QueryGetMemberDirectory() error = %v", err)
	}
	if got := emails(res.Members); len(got) != 1 || got[0] != "carl@wcsc.org" {
		t.Errorf("page 2 = %v", got)
	}
	if res.Page.TotalPages != 2 {
		t.Errorf("TotalPages = %d", res.Page.TotalPages)
	}
	if len(res.Chapters) != 2 || res.Chapters[0] != "Austin" {
		t.Errorf("Chapters = %v", res.Chapters)
	}
}

// TestQueryGetMemberDirectory_Error tests that lister errors propagate.
func TestQueryGetMemberDirectory_Error(t *testing.T) {
	boom := errors.New("boom")
	_, err := QueryGetMemberDirectory(context.Background(), query("", listutil.Asc, "", nil), GetMemberDirectoryDeps{Profiles: &mockProfileLister{err: boom}})
	if !errors.Is(err, boom) {
		t.Errorf("error = %v, want boom", err)
	}
}
