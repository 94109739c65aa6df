package middleware

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"

	"wcsc/internal/application/auth"
)

// ContextCookieName holds the UI context id.
const ContextCookieName = "wcsc_context"

// contextCookieMaxAge keeps the UI context across browser restarts.
const contextCookieMaxAge = 30 * 24 * 60 * 60

// contextKey is an unexported type for context keys in this package.
type contextKey string

const uiContextKey contextKey = "ui_context"

// Flash kinds.
const (
	FlashInfo    = "info"
	FlashSuccess = "success"
	FlashWarning = "warning"
	FlashError   = "error"
)

// Flash is a one-shot message shown on the next rendered page.
type Flash struct {
	Kind    string
	Message string
}

// ManagerFactory builds the session manager for a new UI context.
type ManagerFactory func(contextID string) *auth.Manager

// UIContext is one browser's view of the site: its session manager and pending flashes.
type UIContext struct {
	ID      string
	Manager *auth.Manager

	initOnce sync.Once

	mu       sync.Mutex
	flashes  []Flash
	lastSeen time.Time
}

// AddFlash queues a message for the next page.
func (c *UIContext) AddFlash(kind, message string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.flashes = append(c.flashes, Flash{Kind: kind, Message: message})
}

// TakeFlashes returns and clears queued messages.
func (c *UIContext) TakeFlashes() []Flash {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := c.flashes
	c.flashes = nil
	return out
}

func (c *UIContext) touch(now time.Time) {
	c.mu.Lock()
	c.lastSeen = now
	c.mu.Unlock()
}

func (c *UIContext) idleSince() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastSeen
}

// ContextRegistry maps UI context ids to live contexts.
type ContextRegistry struct {
	mu         sync.Mutex
	contexts   map[string]*UIContext
	newManager ManagerFactory
	idleTTL    time.Duration
	now        func() time.Time
}

// NewContextRegistry creates a registry. Contexts idle longer than idleTTL are dropped by Sweep.
func NewContextRegistry(factory ManagerFactory, idleTTL time.Duration) *ContextRegistry {
	return &ContextRegistry{
		contexts:   make(map[string]*UIContext),
		newManager: factory,
		idleTTL:    idleTTL,
		now:        time.Now,
	}
}

// Open returns the context for id, creating and initializing it on first use.
// PRE: id is a valid UUID
// POST: The returned context's manager has been initialized exactly once
func (reg *ContextRegistry) Open(ctx context.Context, id string) *UIContext {
	reg.mu.Lock()
	c, ok := reg.contexts[id]
	if !ok {
		c = &UIContext{ID: id, Manager: reg.newManager(id)}
		reg.contexts[id] = c
	}
	reg.mu.Unlock()

	c.touch(reg.now())
	c.initOnce.Do(func() {
		c.Manager.Subscribe(func(change auth.Change) {
			if change.Notice != "" {
				c.AddFlash(FlashWarning, change.Notice)
			}
		})
		res, err := c.Manager.Initialize(context.WithoutCancel(ctx))
		if err != nil {
			slog.Warn("identity_provider", "event", "unavailable", "context", id, "error", err)
			return
		}
		slog.Debug("identity_provider", "event", "context_opened", "context", id, "mode", res.Mode, "fallback", res.Fallback)
	})
	return c
}

// Drop closes and forgets the context for id.
func (reg *ContextRegistry) Drop(id string) {
	reg.mu.Lock()
	c, ok := reg.contexts[id]
	delete(reg.contexts, id)
	reg.mu.Unlock()
	if ok {
		c.Manager.Close()
	}
}

// Managers returns the managers of every live context.
func (reg *ContextRegistry) Managers() []*auth.Manager {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	out := make([]*auth.Manager, 0, len(reg.contexts))
	for _, c := range reg.contexts {
		out = append(out, c.Manager)
	}
	return out
}

// Len returns the number of live contexts.
func (reg *ContextRegistry) Len() int {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	return len(reg.contexts)
}

// Sweep drops contexts idle longer than the TTL. Their stored provider
// sessions survive, so a returning browser is restored on its next request.
// POST: Returns the number of contexts dropped
func (reg *ContextRegistry) Sweep() int {
	if reg.idleTTL <= 0 {
		return 0
	}
	cutoff := reg.now().Add(-reg.idleTTL)
	var stale []string
	reg.mu.Lock()
	for id, c := range reg.contexts {
		if c.idleSince().Before(cutoff) {
			stale = append(stale, id)
		}
	}
	reg.mu.Unlock()

	for _, id := range stale {
		reg.Drop(id)
	}
	if len(stale) > 0 {
		slog.Info("auth_event", "event", "contexts_swept", "dropped", len(stale))
	}
	return len(stale)
}

// StartSweeper runs Sweep every interval until stopCh is closed.
func (reg *ContextRegistry) StartSweeper(interval time.Duration, stopCh <-chan struct{}) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				reg.Sweep()
			case <-stopCh:
				return
			}
		}
	}()
}

// UIContextMiddleware attaches the caller's UI context, issuing a new id cookie when needed.
func UIContextMiddleware(reg *ContextRegistry, secure bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id := ""
			if cookie, err := r.Cookie(ContextCookieName); err == nil {
				if _, err := uuid.Parse(cookie.Value); err == nil {
					id = cookie.Value
				}
			}
			if id == "" {
				id = uuid.NewString()
				http.SetCookie(w, &http.Cookie{
					Name:     ContextCookieName,
					Value:    id,
					HttpOnly: true,
					Secure:   secure,
					SameSite: http.SameSiteLaxMode,
					Path:     "/",
					MaxAge:   contextCookieMaxAge,
				})
			}
			c := reg.Open(r.Context(), id)
			next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), uiContextKey, c)))
		})
	}
}

// GetUIContext extracts the UI context from the request context.
func GetUIContext(ctx context.Context) (*UIContext, bool) {
	c, ok := ctx.Value(uiContextKey).(*UIContext)
	return c, ok
}

// ManagerFrom returns the request's session manager, or nil. Manager queries are nil-safe.
func ManagerFrom(ctx context.Context) *auth.Manager {
	if c, ok := GetUIContext(ctx); ok {
		return c.Manager
	}
	return nil
}

// ContextWithUIContext returns a context carrying c.
// Intended for use in tests.
func ContextWithUIContext(ctx context.Context, c *UIContext) context.Context {
	return context.WithValue(ctx, uiContextKey, c)
}

// Guard applies the manager's access policy to every request. Denied requests
// are redirected; a policy warning becomes a flash on the destination page.
func Guard(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c, ok := GetUIContext(r.Context())
		if !ok {
			next.ServeHTTP(w, r)
			return
		}
		d := c.Manager.Policy().Guard(c.Manager.Session(), r.URL.Path, r.URL.RequestURI())
		if d.Allowed {
			next.ServeHTTP(w, r)
			return
		}
		if d.Warning != "" {
			c.AddFlash(FlashWarning, d.Warning)
		}
		slog.Info("auth_event", "event", "guard_redirect", "path", r.URL.Path, "to", d.RedirectTo, "role", c.Manager.Role())
		http.Redirect(w, r, d.RedirectTo, http.StatusSeeOther)
	})
}
