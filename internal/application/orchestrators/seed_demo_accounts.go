package orchestrators

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"wcsc/internal/adapters/identity/local"
	"wcsc/internal/adapters/storage/kv"
	"wcsc/internal/domain/account"
)

// DemoSeedDeps holds the directory demo accounts are written to.
type DemoSeedDeps struct {
	Directory demoDirectory
}

type demoDirectory interface {
	Get(ctx context.Context, email string) (local.Record, error)
	Create(ctx context.Context, r local.Record, password string) (local.Record, error)
}

// AdminSeed describes an optional admin account. It is skipped when Email or Password is empty.
type AdminSeed struct {
	Email    string
	Password string
	FullName string
	Username string
}

// demoAccount defines a single demo account to seed.
type demoAccount struct {
	record   local.Record
	password string
}

func demoAccounts(admin AdminSeed) []demoAccount {
	defs := []demoAccount{
		{
			record: local.Record{
				Email: "member@wcsc.org", FullName: "Demo Member", Username: "member",
				Chapter: "Georgetown", Role: string(account.RoleMember),
			},
			password: "wcsc2025",
		},
		{
			record: local.Record{
				Email: "leader@wcsc.org", FullName: "Demo Leader", Username: "leader",
				Chapter: "Georgetown", Role: string(account.RoleLeader),
			},
			password: "leadership",
		},
	}
	if admin.Email != "" && admin.Password != "" {
		username := admin.Username
		if username == "" {
			username = "admin"
		}
		name := admin.FullName
		if name == "" {
			name = "WCSC Admin"
		}
		defs = append(defs, demoAccount{
			record: local.Record{
				Email: admin.Email, FullName: name, Username: username,
				Chapter: "Georgetown", Role: string(account.RoleAdmin),
			},
			password: admin.Password,
		})
	}
	return defs
}

// ExecuteSeedDemoAccounts creates the demo member and leader accounts, plus the
// admin when one is configured. Existing emails are skipped.
// PRE: Directory is open
// POST: Every demo account exists; returns the number created
func ExecuteSeedDemoAccounts(ctx context.Context, deps DemoSeedDeps, admin AdminSeed) (int, error) {
	created := 0
	for _, def := range demoAccounts(admin) {
		_, err := deps.Directory.Get(ctx, def.record.Email)
		if err == nil {
			continue
		}
		if !errors.Is(err, kv.ErrNotFound) {
			return created, fmt.Errorf("seed demo account %s: lookup: %w", def.record.Email, err)
		}
		if _, err := deps.Directory.Create(ctx, def.record, def.password); err != nil {
			if errors.Is(err, account.ErrUsernameTaken) {
				slog.Warn("seed_event", "event", "demo_account_skipped", "email", def.record.Email, "reason", "username_taken")
				continue
			}
			return created, fmt.Errorf("seed demo account %s: create: %w", def.record.Email, err)
		}
		created++
		slog.Info("seed_event", "event", "demo_account_created", "email", def.record.Email, "role", def.record.Role)
	}

	if created > 0 {
		slog.Info("seed_event", "event", "demo_accounts_seeded", "created", created)
	}
	return created, nil
}
