package local

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"

	"wcsc/internal/adapters/storage/kv"
	"wcsc/internal/application/auth"
	"wcsc/internal/domain/account"
	"wcsc/internal/domain/session"
)

// currentEntry is what the wcsc_current_user namespace holds per UI context.
type currentEntry struct {
	Email string `json:"email"`
	Token string `json:"token"`
}

// Provider is the fallback identity provider for one UI context.
type Provider struct {
	dir       *Directory
	contextID string

	mu        sync.Mutex
	listeners map[int]auth.SessionChangeFunc
	nextID    int
}

var (
	_ auth.Provider          = (*Provider)(nil)
	_ auth.LocalStateClearer = (*Provider)(nil)
)

// VerifyCredentials checks email and password against the directory.
// PRE: email is non-empty
// POST: On success the current user is stored for this UI context and SIGNED_IN is emitted
func (p *Provider) VerifyCredentials(ctx context.Context, emailAddr, password string) (session.ProviderSession, error) {
	r, err := p.dir.Get(ctx, emailAddr)
	if errors.Is(err, kv.ErrNotFound) {
		return session.ProviderSession{}, auth.ErrInvalidCredentials
	}
	if err != nil {
		return session.ProviderSession{}, err
	}
	if !r.CheckPassword(password) {
		return session.ProviderSession{}, auth.ErrInvalidCredentials
	}
	if r.PasswordHash == "" {
		p.dir.upgradePassword(ctx, r, password)
	}

	token, expires, err := p.dir.tokens.issue(r.ID, r.Email)
	if err != nil {
		return session.ProviderSession{}, err
	}
	raw, err := json.Marshal(currentEntry{Email: r.Email, Token: token})
	if err != nil {
		return session.ProviderSession{}, fmt.Errorf("encode current user: %w", err)
	}
	if err := p.dir.store.Put(ctx, CurrentUserNamespace, p.contextID, raw); err != nil {
		return session.ProviderSession{}, err
	}

	ps := session.ProviderSession{
		Identity:    session.Identity{ID: r.ID, Email: r.Email},
		AccessToken: token,
		ExpiresAt:   expires,
		Metadata:    r.Metadata(),
	}
	p.emit(session.EventSignedIn, &ps)
	return ps, nil
}

// CreateAccount registers a new fallback user and sends the welcome email.
// PRE: meta carries the registration fields
// POST: The user exists with a hashed password; no session is started
func (p *Provider) CreateAccount(ctx context.Context, emailAddr, password string, meta account.Metadata) (session.Identity, error) {
	r := Record{
		Email:    emailAddr,
		FullName: meta.String(account.MetaFullName),
		Username: meta.String(account.MetaUsername),
		Phone:    meta.String(account.MetaPhone),
		Chapter:  meta.String(account.MetaChapter),
		Bio:      meta.String(account.MetaBio),
		Role:     string(account.DefaultRole),
	}
	created, err := p.dir.Create(ctx, r, password)
	if err != nil {
		return session.Identity{}, err
	}
	p.dir.sendWelcome(ctx, created)
	return session.Identity{ID: created.ID, Email: created.Email}, nil
}

// CurrentSession returns the stored session for this UI context. Invalid or
// expired tokens and deleted users clear the entry and report no session.
func (p *Provider) CurrentSession(ctx context.Context) (*session.ProviderSession, error) {
	raw, err := p.dir.store.Get(ctx, CurrentUserNamespace, p.contextID)
	if errors.Is(err, kv.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var entry currentEntry
	if err := json.Unmarshal(raw, &entry); err != nil {
		return nil, p.dropCurrent(ctx, "undecodable", err)
	}
	claims, err := p.dir.tokens.parse(entry.Token)
	if err != nil {
		return nil, p.dropCurrent(ctx, "token_invalid", err)
	}
	r, err := p.dir.Get(ctx, claims.Email)
	if errors.Is(err, kv.ErrNotFound) || (err == nil && r.ID != claims.Subject) {
		return nil, p.dropCurrent(ctx, "user_gone", nil)
	}
	if err != nil {
		return nil, err
	}

	return &session.ProviderSession{
		Identity:    session.Identity{ID: r.ID, Email: r.Email},
		AccessToken: entry.Token,
		ExpiresAt:   claims.ExpiresAt.Time,
		Metadata:    r.Metadata(),
	}, nil
}

// dropCurrent removes an unusable current-user entry. It returns only storage errors.
func (p *Provider) dropCurrent(ctx context.Context, reason string, cause error) error {
	slog.Info("auth_event", "event", "fallback_session_dropped", "context", p.contextID, "reason", reason, "error", cause)
	return p.dir.store.Delete(ctx, CurrentUserNamespace, p.contextID)
}

// SignOut clears this UI context's session and emits SIGNED_OUT.
func (p *Provider) SignOut(ctx context.Context) error {
	if err := p.dir.store.Delete(ctx, CurrentUserNamespace, p.contextID); err != nil {
		return err
	}
	p.emit(session.EventSignedOut, nil)
	return nil
}

// ClearLocalState removes the stored current user without emitting events.
func (p *Provider) ClearLocalState(ctx context.Context) error {
	return p.dir.store.Delete(ctx, CurrentUserNamespace, p.contextID)
}

// OnSessionChange registers fn for session events from this provider.
func (p *Provider) OnSessionChange(fn auth.SessionChangeFunc) func() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.nextID++
	id := p.nextID
	p.listeners[id] = fn
	return func() {
		p.mu.Lock()
		defer p.mu.Unlock()
		delete(p.listeners, id)
	}
}

func (p *Provider) emit(event session.ChangeEvent, ps *session.ProviderSession) {
	p.mu.Lock()
	ids := make([]int, 0, len(p.listeners))
	for id := range p.listeners {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	fns := make([]auth.SessionChangeFunc, 0, len(ids))
	for _, id := range ids {
		fns = append(fns, p.listeners[id])
	}
	p.mu.Unlock()

	for _, fn := range fns {
		fn(event, ps)
	}
}

// LookupProfileByAuthID returns the profile row for authID, or nil.
func (p *Provider) LookupProfileByAuthID(ctx context.Context, authID string) (*account.Profile, error) {
	r, found, err := p.dir.FindByID(ctx, authID)
	if err != nil || !found {
		return nil, err
	}
	profile := r.Profile()
	return &profile, nil
}

// LookupEmailByUsername resolves username to the registered email.
func (p *Provider) LookupEmailByUsername(ctx context.Context, username string) (string, bool, error) {
	r, found, err := p.dir.FindByUsername(ctx, username)
	if err != nil || !found {
		return "", false, err
	}
	return r.Email, true, nil
}
