package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"wcsc/internal/domain/account"
	"wcsc/internal/domain/session"
)

// Mode says which provider a Manager ended up using.
type Mode string

// Mode constants
const (
	ModeReady       Mode = "ready"
	ModeUnavailable Mode = "unavailable"
)

// Default probe policy.
const (
	DefaultProbeAttempts = 10
	DefaultProbeInterval = 500 * time.Millisecond
	DefaultProbeTimeout  = 500 * time.Millisecond
)

// Config holds Manager settings.
type Config struct {
	ProbeAttempts int
	ProbeInterval time.Duration
	ProbeTimeout  time.Duration // per attempt; zero uses ProbeInterval
	Policy        session.AccessPolicy
	Now           func() time.Time
}

func (c Config) withDefaults() Config {
	if c.ProbeAttempts <= 0 {
		c.ProbeAttempts = DefaultProbeAttempts
	}
	if c.ProbeInterval <= 0 {
		c.ProbeInterval = DefaultProbeInterval
	}
	if c.ProbeTimeout <= 0 {
		c.ProbeTimeout = c.ProbeInterval
	}
	if c.Policy.LoginPath == "" {
		c.Policy = session.DefaultAccessPolicy()
	}
	if c.Now == nil {
		c.Now = time.Now
	}
	return c
}

// InitResult reports the outcome of Initialize.
type InitResult struct {
	Mode     Mode
	Attempts int
	// Fallback is true when the local fallback provider is serving requests.
	Fallback bool
	Session  session.Session
}

// Change is delivered to listeners after every transition.
type Change struct {
	Previous session.Session
	Current  session.Session
	// Notice is a non-blocking message for the user, such as a missing profile.
	Notice string
}

// Listener receives state changes. Listeners run synchronously while the
// transition's delivery lock is held: they may call query methods but must not
// call Login, Logout, Signup, Initialize or Refresh.
type Listener func(Change)

type subscriber struct {
	id int
	fn Listener
}

// Manager owns the Session of one UI context.
// Overlapping Login/Logout calls are not serialized: whichever call resolves
// last determines the final state.
type Manager struct {
	cfg      Config
	primary  Provider
	fallback Provider

	// notifyMu orders transitions and their delivery.
	notifyMu sync.Mutex

	mu          sync.RWMutex
	state       session.Session
	gen         uint64 // committed transitions
	active      Provider
	mode        Mode
	unsubscribe func()

	subsMu sync.Mutex
	subs   []subscriber
	nextID int

	sleep func(ctx context.Context, d time.Duration) error
}

// NewManager creates a Manager in the anonymous state. Either provider may be nil.
func NewManager(primary, fallback Provider, cfg Config) *Manager {
	return &Manager{
		cfg:      cfg.withDefaults(),
		primary:  primary,
		fallback: fallback,
		state:    session.Anonymous(),
		sleep:    sleepContext,
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Initialize probes the primary provider, falls back to the local provider when
// it stays unreachable, and restores any existing session.
// PRE: Called once per UI context
// POST: A Change is always broadcast; status is authenticated only if the provider has a session
func (m *Manager) Initialize(ctx context.Context) (InitResult, error) {
	attempts, ready := m.probe(ctx)
	if err := ctx.Err(); err != nil {
		return InitResult{Mode: ModeUnavailable, Attempts: attempts}, err
	}

	result := InitResult{Mode: ModeReady, Attempts: attempts}
	provider := m.primary
	if !ready {
		result.Mode = ModeUnavailable
		provider = m.fallback
		if provider != nil {
			result.Fallback = true
			slog.Warn("identity_provider", "event", "unavailable", "attempts", attempts, "fallback", "local")
		}
	} else {
		slog.Info("identity_provider", "event", "ready", "attempts", attempts)
	}

	m.setActive(provider, result.Mode)

	if provider == nil {
		m.transition(session.Anonymous(), "")
		result.Session = m.Session()
		return result, ErrProviderUnavailable
	}

	ps, err := provider.CurrentSession(ctx)
	if err != nil || ps == nil {
		if err != nil {
			slog.Warn("auth_event", "event", "session_restore_failed", "error", err)
		}
		m.transition(session.Anonymous(), "")
		result.Session = m.Session()
		return result, nil
	}

	profile, notice := m.loadProfile(ctx, provider, *ps)
	m.transition(session.Authenticated(ps.Identity, profile), notice)
	result.Session = m.Session()
	return result, nil
}

// probe checks the primary provider up to ProbeAttempts times.
func (m *Manager) probe(ctx context.Context) (int, bool) {
	if m.primary == nil {
		return 0, false
	}
	prober, ok := m.primary.(Prober)
	if !ok {
		return 1, true
	}
	for attempt := 1; attempt <= m.cfg.ProbeAttempts; attempt++ {
		probeCtx, cancel := context.WithTimeout(ctx, m.cfg.ProbeTimeout)
		err := prober.Probe(probeCtx)
		cancel()
		if err == nil {
			return attempt, true
		}
		slog.Debug("identity_provider", "event", "probe_failed", "attempt", attempt, "error", err)
		if attempt == m.cfg.ProbeAttempts {
			return attempt, false
		}
		if err := m.sleep(ctx, m.cfg.ProbeInterval); err != nil {
			return attempt, false
		}
	}
	return m.cfg.ProbeAttempts, false
}

func (m *Manager) setActive(p Provider, mode Mode) {
	var unsub func()
	if p != nil {
		unsub = p.OnSessionChange(m.handleProviderChange)
	}
	m.mu.Lock()
	old := m.unsubscribe
	m.active = p
	m.mode = mode
	m.unsubscribe = unsub
	m.mu.Unlock()
	if old != nil {
		old()
	}
}

func (m *Manager) provider() Provider {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.active != nil {
		return m.active
	}
	if m.primary != nil {
		return m.primary
	}
	return m.fallback
}

// Mode returns the provider mode chosen by Initialize, or "" before it runs.
func (m *Manager) Mode() Mode {
	if m == nil {
		return ""
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.mode
}

// Login signs in with an email or username.
// PRE: identifier is an email, or a username containing no '@'
// POST: On success status is authenticated; on failure status is anonymous
func (m *Manager) Login(ctx context.Context, identifier, password string) (session.Identity, error) {
	p := m.provider()
	if p == nil {
		return session.Identity{}, ErrProviderUnavailable
	}
	identifier = strings.TrimSpace(identifier)
	if identifier == "" || password == "" {
		return session.Identity{}, &account.ValidationError{Err: account.ErrRequiredField}
	}

	m.transition(session.Session{Status: session.StatusAuthenticating}, "")

	email := identifier
	if !strings.Contains(identifier, "@") {
		resolved, found, err := p.LookupEmailByUsername(ctx, identifier)
		if err != nil {
			return session.Identity{}, m.fail("login_failed", identifier, fmt.Errorf("resolve username: %w", err))
		}
		if !found {
			return session.Identity{}, m.fail("login_failed", identifier, ErrUnknownUsername)
		}
		email = resolved
	}

	ps, err := p.VerifyCredentials(ctx, email, password)
	if err != nil {
		return session.Identity{}, m.fail("login_failed", email, err)
	}

	profile, notice := m.loadProfile(ctx, p, ps)
	m.transition(session.Authenticated(ps.Identity, profile), notice)

	role := account.RoleGuest
	if profile != nil {
		role = profile.Role
	}
	slog.Info("auth_event", "event", "login_success", "email", ps.Identity.Email, "role", role)
	return ps.Identity, nil
}

// fail records a failed call and returns the state to anonymous. Unexpected
// errors pass through the transient error state first.
func (m *Manager) fail(event, who string, err error) error {
	slog.Info("auth_event", "event", event, "email", who, "reason", err)
	if !errors.Is(err, ErrAuthentication) && session.CanTransition(m.Session().Status, session.StatusError) {
		m.transition(session.Session{Status: session.StatusError}, "")
	}
	m.transition(session.Anonymous(), "")
	return err
}

// loadProfile fetches and normalizes the profile row. A missing or unreadable
// row yields a nil profile and a notice for the user.
func (m *Manager) loadProfile(ctx context.Context, p Provider, ps session.ProviderSession) (*account.Profile, string) {
	row, err := p.LookupProfileByAuthID(ctx, ps.Identity.ID)
	if err != nil || row == nil {
		reason := "not_found"
		if err != nil {
			reason = err.Error()
		}
		slog.Warn("auth_event", "event", "profile_missing", "auth_id", ps.Identity.ID, "reason", reason)
		return nil, UserMessage(ErrProfileFetch)
	}
	profile := account.NormalizeProfile(*row, ps.Identity.ID, ps.Identity.Email, ps.Metadata)
	profile.AuthID = ps.Identity.ID
	return &profile, ""
}

// Signup registers a new account. It never changes the session: the caller
// prompts the user to confirm their email and log in.
// PRE: none
// POST: Returns a *account.ValidationError before any provider call when the form is invalid
func (m *Manager) Signup(ctx context.Context, reg account.Registration) (session.Identity, error) {
	if err := reg.Validate(); err != nil {
		return session.Identity{}, err
	}
	p := m.provider()
	if p == nil {
		return session.Identity{}, ErrProviderUnavailable
	}

	username := strings.TrimSpace(reg.Username)
	if _, taken, err := p.LookupEmailByUsername(ctx, username); err != nil {
		return session.Identity{}, fmt.Errorf("check username: %w", err)
	} else if taken {
		slog.Info("auth_event", "event", "signup_failed", "username", username, "reason", "username_taken")
		return session.Identity{}, account.ErrUsernameTaken
	}

	email := reg.NormalizedEmail()
	id, err := p.CreateAccount(ctx, email, reg.Password, reg.Metadata(m.cfg.Now()))
	if err != nil {
		slog.Info("auth_event", "event", "signup_failed", "email", email, "reason", err)
		return session.Identity{}, err
	}
	slog.Info("auth_event", "event", "signup", "email", email, "username", username)
	return id, nil
}

// Logout signs out and returns the navigation to the home page. Provider
// failures are logged and do not stop local state from being cleared.
// PRE: none
// POST: status is anonymous
func (m *Manager) Logout(ctx context.Context) session.Decision {
	who := ""
	if id := m.Session().Identity; id != nil {
		who = id.Email
	}
	if p := m.provider(); p != nil {
		if err := p.SignOut(ctx); err != nil {
			slog.Warn("auth_event", "event", "logout_provider_failed", "email", who, "error", err)
		}
	}
	if clearer, ok := m.fallback.(LocalStateClearer); ok {
		if err := clearer.ClearLocalState(ctx); err != nil {
			slog.Warn("auth_event", "event", "logout_clear_failed", "error", err)
		}
	}
	m.transition(session.Anonymous(), "")
	slog.Info("auth_event", "event", "logout", "email", who)
	return session.Decision{RedirectTo: m.cfg.Policy.HomePath}
}

// Refresh reconciles the cached session with the provider. This is the
// provider-backed call that resolves a stale cached session.
// PRE: none
// POST: status reflects the provider's current session, unless another
// transition landed while the provider was being asked; provider errors leave state untouched
func (m *Manager) Refresh(ctx context.Context) error {
	p := m.provider()
	if p == nil {
		return ErrProviderUnavailable
	}
	current, gen := m.snapshot()
	if current.Status == session.StatusAuthenticating {
		return nil
	}
	ps, err := p.CurrentSession(ctx)
	if err != nil {
		return fmt.Errorf("refresh session: %w", err)
	}
	if ps == nil {
		if current.IsAuthenticated() && m.transitionIf(gen, session.Anonymous(), "") {
			slog.Info("auth_event", "event", "provider_signed_out", "email", current.Identity.Email)
		}
		return nil
	}
	profile, notice := m.loadProfile(ctx, p, *ps)
	if !m.transitionIf(gen, session.Authenticated(ps.Identity, profile), notice) {
		slog.Debug("auth_event", "event", "refresh_superseded", "email", ps.Identity.Email)
	}
	return nil
}

// snapshot returns the cached session and its transition generation.
func (m *Manager) snapshot() (session.Session, uint64) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return copySession(m.state), m.gen
}

// handleProviderChange applies provider-originated events.
// SIGNED_IN is left to the call that caused it or to the next Refresh.
func (m *Manager) handleProviderChange(event session.ChangeEvent, ps *session.ProviderSession) {
	switch event {
	case session.EventSignedOut:
		if m.Session().IsAuthenticated() {
			slog.Info("auth_event", "event", "provider_signed_out")
			m.transition(session.Anonymous(), "")
		}
	case session.EventTokenRefreshed:
		slog.Debug("auth_event", "event", "token_refreshed")
	case session.EventSignedIn:
		if ps != nil {
			slog.Debug("auth_event", "event", "provider_signed_in", "email", ps.Identity.Email)
		}
	}
}

// transition moves to next and delivers the Change to every subscriber in
// subscription order before returning. Invalid transitions are logged and dropped.
func (m *Manager) transition(next session.Session, notice string) {
	m.commit(next, notice, nil)
}

// transitionIf applies next only when no transition has been committed since
// generation gen was read. It reports whether next was applied.
func (m *Manager) transitionIf(gen uint64, next session.Session, notice string) bool {
	return m.commit(next, notice, &gen)
}

func (m *Manager) commit(next session.Session, notice string, expect *uint64) bool {
	m.notifyMu.Lock()
	defer m.notifyMu.Unlock()

	m.mu.Lock()
	if expect != nil && *expect != m.gen {
		m.mu.Unlock()
		return false
	}
	prev := m.state
	moved, err := prev.Transition(next)
	if err != nil {
		m.mu.Unlock()
		slog.Error("auth_event", "event", "invalid_transition", "from", prev.Status, "to", next.Status, "error", err)
		return false
	}
	m.state = moved
	m.gen++
	m.mu.Unlock()

	change := Change{Previous: copySession(prev), Current: copySession(moved), Notice: notice}
	for _, s := range m.subscribers() {
		s.fn(change)
	}
	return true
}

// Subscribe registers fn for state changes and returns a function that removes it.
func (m *Manager) Subscribe(fn Listener) (unsubscribe func()) {
	m.subsMu.Lock()
	defer m.subsMu.Unlock()
	m.nextID++
	id := m.nextID
	m.subs = append(m.subs, subscriber{id: id, fn: fn})
	return func() {
		m.subsMu.Lock()
		defer m.subsMu.Unlock()
		for i, s := range m.subs {
			if s.id == id {
				m.subs = append(m.subs[:i:i], m.subs[i+1:]...)
				return
			}
		}
	}
}

func (m *Manager) subscribers() []subscriber {
	m.subsMu.Lock()
	defer m.subsMu.Unlock()
	return append([]subscriber(nil), m.subs...)
}

// Close detaches the Manager from its provider's event stream.
func (m *Manager) Close() {
	m.mu.Lock()
	unsub := m.unsubscribe
	m.unsubscribe = nil
	m.mu.Unlock()
	if unsub != nil {
		unsub()
	}
}

// Session returns a copy of the cached session. A nil Manager is anonymous.
func (m *Manager) Session() session.Session {
	if m == nil {
		return session.Anonymous()
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	return copySession(m.state)
}

func copySession(s session.Session) session.Session {
	if s.Identity != nil {
		id := *s.Identity
		s.Identity = &id
	}
	if s.Profile != nil {
		p := *s.Profile
		s.Profile = &p
	}
	return s
}

// IsAuthenticated reports whether the cached session is authenticated.
func (m *Manager) IsAuthenticated() bool {
	return m.Session().IsAuthenticated()
}

// Role returns the cached effective role.
func (m *Manager) Role() account.Role {
	return m.Session().Role()
}

// IsAdmin reports whether the cached role is admin.
func (m *Manager) IsAdmin() bool {
	return m.Role() == account.RoleAdmin
}

// IsLeader reports whether the cached role is leader or higher.
func (m *Manager) IsLeader() bool {
	return m.Role().AtLeast(account.RoleLeader)
}

// Can reports whether the cached role may perform action.
func (m *Manager) Can(action account.Action) bool {
	return account.Can(m.Role(), action)
}

// Visibility gates page elements for the cached session.
func (m *Manager) Visibility() session.Visibility {
	return session.Gate(m.Session())
}

// RequireAuth guards a member page using cached state only. A session revoked
// at the provider still passes until the next provider-backed call.
func (m *Manager) RequireAuth(requestURI string) session.Decision {
	return m.policy().RequireAuth(m.Session(), requestURI)
}

// RequireAdmin guards an admin page using cached state only.
func (m *Manager) RequireAdmin(requestURI string) session.Decision {
	return m.policy().RequireAdmin(m.Session(), requestURI)
}

// Policy returns the access policy the guards apply.
func (m *Manager) Policy() session.AccessPolicy {
	return m.policy()
}

func (m *Manager) policy() session.AccessPolicy {
	if m == nil {
		return session.DefaultAccessPolicy()
	}
	return m.cfg.Policy
}
