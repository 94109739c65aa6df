package hosted

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"slices"
	"sync"
	"time"

	"wcsc/internal/adapters/storage/kv"
	"wcsc/internal/application/auth"
	"wcsc/internal/domain/account"
	"wcsc/internal/domain/session"
)

// storedSession is the per-context token pair kept in the key-value store.
type storedSession struct {
	UserID       string           `json:"user_id"`
	Email        string           `json:"email"`
	AccessToken  string           `json:"access_token"`
	RefreshToken string           `json:"refresh_token"`
	ExpiresAt    time.Time        `json:"expires_at"`
	Metadata     account.Metadata `json:"metadata,omitempty"`
}

func (s storedSession) providerSession() session.ProviderSession {
	return session.ProviderSession{
		Identity:     session.Identity{ID: s.UserID, Email: s.Email},
		AccessToken:  s.AccessToken,
		RefreshToken: s.RefreshToken,
		ExpiresAt:    s.ExpiresAt,
		Metadata:     s.Metadata,
	}
}

// Provider is the hosted identity provider for one UI context.
type Provider struct {
	client    *Client
	contextID string

	mu        sync.Mutex
	listeners map[int]auth.SessionChangeFunc
	nextID    int
}

var (
	_ auth.Provider          = (*Provider)(nil)
	_ auth.Prober            = (*Provider)(nil)
	_ auth.LocalStateClearer = (*Provider)(nil)
)

// Probe checks that the service is reachable.
func (p *Provider) Probe(ctx context.Context) error {
	return p.client.Health(ctx)
}

func (p *Provider) sessionFromTokens(tr tokenResponse) storedSession {
	expires := time.Unix(tr.ExpiresAt, 0)
	if tr.ExpiresAt == 0 {
		expires = p.client.now().Add(time.Duration(tr.ExpiresIn) * time.Second)
	}
	return storedSession{
		UserID:       tr.User.ID,
		Email:        tr.User.Email,
		AccessToken:  tr.AccessToken,
		RefreshToken: tr.RefreshToken,
		ExpiresAt:    expires,
		Metadata:     tr.User.UserMetadata,
	}
}

// VerifyCredentials signs in with the password grant.
// PRE: email is non-empty
// POST: Tokens are stored for this UI context and SIGNED_IN is emitted
func (p *Provider) VerifyCredentials(ctx context.Context, email, password string) (session.ProviderSession, error) {
	var tr tokenResponse
	err := p.client.do(ctx, http.MethodPost, "/auth/v1/token?grant_type=password", "",
		map[string]string{"email": email, "password": password}, &tr)
	if err != nil {
		return session.ProviderSession{}, mapError(err)
	}
	stored := p.sessionFromTokens(tr)
	if err := p.save(ctx, stored); err != nil {
		return session.ProviderSession{}, err
	}
	ps := stored.providerSession()
	p.emit(session.EventSignedIn, &ps)
	return ps, nil
}

// CreateAccount registers a new identity with user metadata. The service may
// require email confirmation, so no session is stored even if one is returned.
func (p *Provider) CreateAccount(ctx context.Context, email, password string, meta account.Metadata) (session.Identity, error) {
	var resp struct {
		tokenResponse
		userResponse
	}
	err := p.client.do(ctx, http.MethodPost, "/auth/v1/signup", "",
		map[string]any{"email": email, "password": password, "data": meta}, &resp)
	if err != nil {
		return session.Identity{}, mapError(err)
	}
	// the service answers with a bare user when confirmation is pending
	user := resp.tokenResponse.User
	if user.ID == "" {
		user = resp.userResponse
	}
	if user.ID == "" {
		return session.Identity{}, fmt.Errorf("%w: signup returned no user", auth.ErrProviderUnavailable)
	}
	return session.Identity{ID: user.ID, Email: user.Email}, nil
}

// CurrentSession returns this context's session after checking it with the
// service. Expiring tokens are refreshed first. Rejected tokens are dropped and
// SIGNED_OUT is emitted.
func (p *Provider) CurrentSession(ctx context.Context) (*session.ProviderSession, error) {
	stored, ok, err := p.load(ctx)
	if err != nil || !ok {
		return nil, err
	}

	if !stored.ExpiresAt.IsZero() && p.client.now().Add(refreshMargin).After(stored.ExpiresAt) {
		refreshed, err := p.refresh(ctx, stored)
		if err != nil {
			if isUnauthorized(err) || errors.Is(err, auth.ErrInvalidCredentials) {
				return nil, p.signedOutRemotely(ctx, "refresh_rejected")
			}
			return nil, err
		}
		stored = refreshed
	}

	var user userResponse
	if err := p.client.do(ctx, http.MethodGet, "/auth/v1/user", stored.AccessToken, nil, &user); err != nil {
		if isUnauthorized(err) {
			return nil, p.signedOutRemotely(ctx, "token_rejected")
		}
		return nil, mapError(err)
	}
	stored.UserID, stored.Email, stored.Metadata = user.ID, user.Email, user.UserMetadata
	ps := stored.providerSession()
	return &ps, nil
}

func (p *Provider) refresh(ctx context.Context, stored storedSession) (storedSession, error) {
	var tr tokenResponse
	err := p.client.do(ctx, http.MethodPost, "/auth/v1/token?grant_type=refresh_token", "",
		map[string]string{"refresh_token": stored.RefreshToken}, &tr)
	if err != nil {
		return storedSession{}, mapError(err)
	}
	next := p.sessionFromTokens(tr)
	if next.UserID == "" {
		next.UserID, next.Email, next.Metadata = stored.UserID, stored.Email, stored.Metadata
	}
	if err := p.save(ctx, next); err != nil {
		return storedSession{}, err
	}
	ps := next.providerSession()
	p.emit(session.EventTokenRefreshed, &ps)
	return next, nil
}

func (p *Provider) signedOutRemotely(ctx context.Context, reason string) error {
	slog.Info("auth_event", "event", "provider_signed_out", "context", p.contextID, "reason", reason)
	if err := p.ClearLocalState(ctx); err != nil {
		return err
	}
	p.emit(session.EventSignedOut, nil)
	return nil
}

// SignOut revokes the session at the service and forgets local tokens. Local
// tokens are dropped even when the service call fails.
func (p *Provider) SignOut(ctx context.Context) error {
	stored, ok, err := p.load(ctx)
	if err != nil {
		return err
	}
	var remoteErr error
	if ok {
		remoteErr = p.client.do(ctx, http.MethodPost, "/auth/v1/logout", stored.AccessToken, nil, nil)
		if isUnauthorized(remoteErr) {
			remoteErr = nil
		}
	}
	if err := p.ClearLocalState(ctx); err != nil {
		return err
	}
	p.emit(session.EventSignedOut, nil)
	if remoteErr != nil {
		return mapError(remoteErr)
	}
	return nil
}

// ClearLocalState forgets this context's tokens.
func (p *Provider) ClearLocalState(ctx context.Context) error {
	return p.client.store.Delete(ctx, SessionNamespace, p.contextID)
}

// LookupProfileByAuthID reads the profile row for authID.
func (p *Provider) LookupProfileByAuthID(ctx context.Context, authID string) (*account.Profile, error) {
	bearer := ""
	if stored, ok, err := p.load(ctx); err == nil && ok {
		bearer = stored.AccessToken
	}
	var rows []profileRow
	if err := p.client.selectRows(ctx, bearer, ProfileTable, "*", map[string]string{"auth_id": authID}, &rows); err != nil {
		return nil, mapError(err)
	}
	if len(rows) == 0 {
		return nil, nil
	}
	profile := rows[0].profile()
	return &profile, nil
}

// LookupEmailByUsername resolves username to an email via the users table.
func (p *Provider) LookupEmailByUsername(ctx context.Context, username string) (string, bool, error) {
	var rows []struct {
		Email string `json:"email"`
	}
	if err := p.client.selectRows(ctx, "", ProfileTable, "email", map[string]string{"username": username}, &rows); err != nil {
		return "", false, mapError(err)
	}
	if len(rows) == 0 || rows[0].Email == "" {
		return "", false, nil
	}
	return rows[0].Email, true, nil
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

func (p *Provider) load(ctx context.Context) (storedSession, bool, error) {
	raw, err := p.client.store.Get(ctx, SessionNamespace, p.contextID)
	if errors.Is(err, kv.ErrNotFound) {
		return storedSession{}, false, nil
	}
	if err != nil {
		return storedSession{}, false, err
	}
	var s storedSession
	if err := json.Unmarshal(raw, &s); err != nil {
		slog.Warn("kv_event", "event", "bad_hosted_session", "context", p.contextID, "error", err)
		return storedSession{}, false, p.ClearLocalState(ctx)
	}
	return s, true, nil
}

func (p *Provider) save(ctx context.Context, s storedSession) error {
	raw, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("encode hosted session: %w", err)
	}
	return p.client.store.Put(ctx, SessionNamespace, p.contextID, raw)
}
