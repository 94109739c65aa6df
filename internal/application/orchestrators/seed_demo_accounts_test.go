package orchestrators

import (
	"context"
	"errors"
	"strings"
	"testing"

	"golang.org/x/crypto/bcrypt"

	"wcsc/internal/adapters/identity/local"
	"wcsc/internal/adapters/storage"
	"wcsc/internal/adapters/storage/kv"
	"wcsc/internal/application/auth"
	"wcsc/internal/domain/account"
)

// --- in-memory test doubles ---

type memDemoDirectory struct {
	records map[string]local.Record // keyed by email
	failGet error
}

func newMemDemoDirectory() *memDemoDirectory {
	return &memDemoDirectory{records: make(map[string]local.Record)}
}

// Get returns a record by email from memory.
// PRE: email is non-empty
// POST: returns record or kv.ErrNotFound
func (d *memDemoDirectory) Get(_ context.Context, email string) (local.Record, error) {
	if d.failGet != nil {
		return local.Record{}, d.failGet
	}
	r, ok := d.records[email]
	if !ok {
		return local.Record{}, kv.ErrNotFound
	}
	return r, nil
}

// Create stores a record in memory, rejecting taken usernames.
// PRE: record has an email
// POST: record is stored with its plaintext password in Password
func (d *memDemoDirectory) Create(_ context.Context, r local.Record, password string) (local.Record, error) {
	for _, existing := range d.records {
		if strings.EqualFold(existing.Username, r.Username) {
			return local.Record{}, account.ErrUsernameTaken
		}
	}
	r.Password = password
	d.records[r.Email] = r
	return r, nil
}

// --- tests ---

// TestSeedDemoAccounts_CreatesMemberAndLeader verifies both demo accounts are created with their roles.
func TestSeedDemoAccounts_CreatesMemberAndLeader(t *testing.T) {
	dir := newMemDemoDirectory()

	created, err := ExecuteSeedDemoAccounts(context.Background(), DemoSeedDeps{Directory: dir}, AdminSeed{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if created != 2 {
		t.Errorf("expected 2 accounts, got %d", created)
	}

	expected := map[string]string{
		"member@wcsc.org": "member",
		"leader@wcsc.org": "leader",
	}
	for email, role := range expected {
		r, ok := dir.records[email]
		if !ok {
			t.Errorf("account %s not found", email)
			continue
		}
		if r.Role != role {
			t.Errorf("account %s: expected role %s, got %s", email, role, r.Role)
		}
		if r.Chapter != "Georgetown" {
			t.Errorf("account %s: expected chapter Georgetown, got %q", email, r.Chapter)
		}
	}
}

// TestSeedDemoAccounts_Idempotent verifies running seed twice creates no duplicates.
func TestSeedDemoAccounts_Idempotent(t *testing.T) {
	dir := newMemDemoDirectory()
	deps := DemoSeedDeps{Directory: dir}

	if _, err := ExecuteSeedDemoAccounts(context.Background(), deps, AdminSeed{}); err != nil {
		t.Fatalf("first seed: %v", err)
	}
	created, err := ExecuteSeedDemoAccounts(context.Background(), deps, AdminSeed{})
	if err != nil {
		t.Fatalf("second seed: %v", err)
	}
	if created != 0 {
		t.Errorf("expected 0 created on second run, got %d", created)
	}
	if len(dir.records) != 2 {
		t.Errorf("expected 2 accounts, got %d", len(dir.records))
	}
}

// TestSeedDemoAccounts_Admin verifies the admin account is only seeded when configured.
func TestSeedDemoAccounts_Admin(t *testing.T) {
	dir := newMemDemoDirectory()
	admin := AdminSeed{Email: "admin@wcsc.org", Password: "change-me-now"}

	created, err := ExecuteSeedDemoAccounts(context.Background(), DemoSeedDeps{Directory: dir}, admin)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if created != 3 {
		t.Errorf("expected 3 accounts, got %d", created)
	}
	r := dir.records["admin@wcsc.org"]
	if r.Role != "admin" || r.Username != "admin" {
		t.Errorf("admin record = %+v", r)
	}

	dir = newMemDemoDirectory()
	created, _ = ExecuteSeedDemoAccounts(context.Background(), DemoSeedDeps{Directory: dir}, AdminSeed{Email: "admin@wcsc.org"})
	if created != 2 {
		t.Errorf("admin without password: expected 2 accounts, got %d", created)
	}
}

// TestSeedDemoAccounts_UsernameTaken verifies a clashing username is skipped, not fatal.
func TestSeedDemoAccounts_UsernameTaken(t *testing.T) {
	dir := newMemDemoDirectory()
	dir.records["someone@example.com"] = local.Record{Email: "someone@example.com", Username: "member"}

	created, err := ExecuteSeedDemoAccounts(context.Background(), DemoSeedDeps{Directory: dir}, AdminSeed{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if created != 1 {
		t.Errorf("expected 1 account, got %d", created)
	}
}

// TestSeedDemoAccounts_LookupError verifies storage errors stop the seed.
func TestSeedDemoAccounts_LookupError(t *testing.T) {
	dir := newMemDemoDirectory()
	dir.failGet = errors.New("disk on fire")

	if _, err := ExecuteSeedDemoAccounts(context.Background(), DemoSeedDeps{Directory: dir}, AdminSeed{}); err == nil {
		t.Fatal("expected error")
	}
}

// TestSeedDemoAccounts_LoginWithSeededLeader verifies seeded accounts can sign in through the fallback provider.
func TestSeedDemoAccounts_LoginWithSeededLeader(t *testing.T) {
	db, err := storage.Open(":memory:")
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	defer db.Close()
	dir := local.NewDirectory(kv.NewSQLiteStore(db), local.Options{Secret: []byte("k"), BcryptCost: bcrypt.MinCost})
	ctx := context.Background()

	if _, err := ExecuteSeedDemoAccounts(ctx, DemoSeedDeps{Directory: dir}, AdminSeed{}); err != nil {
		t.Fatalf("seed: %v", err)
	}

	m := auth.NewManager(nil, dir.ForContext("tab-1"), auth.Config{})
	if _, err := m.Initialize(ctx); err != nil {
		t.Fatalf("initialize: %v", err)
	}
	if _, err := m.Login(ctx, "leader", "leadership"); err != nil {
		t.Fatalf("login: %v", err)
	}
	if !m.IsLeader() {
		t.Errorf("expected leader role, got %s", m.Role())
	}
	if got := m.Session().Profile.FirstName(); got != "Demo" {
		t.Errorf("expected first name Demo, got %q", got)
	}
}
