// Package web serves the member portal: guarded pages rendered per UI context.
package web

import (
	"embed"
	"io/fs"
	"net/http"
	"time"

	"wcsc/internal/adapters/http/middleware"
	"wcsc/internal/adapters/http/perf"
	"wcsc/internal/application/projections"
)

//go:embed templates/*.html
var templateFS embed.FS

//go:embed content/*.md
var contentFS embed.FS

//go:embed static
var staticFS embed.FS

// DefaultToastInterval is how long flash messages stay on screen.
const DefaultToastInterval = 5 * time.Second

// Options configures NewMux.
type Options struct {
	Contexts       *middleware.ContextRegistry
	Collector      *perf.Collector
	CSRFKey        []byte
	SecureCookies  bool
	TrustedOrigins []string
	RateLimiter    *middleware.RateLimiter
	ToastInterval  time.Duration
	SlowRequest    time.Duration
	// Members lists profiles for the admin directory. Nil hides it.
	Members projections.ProfileLister
}

// Global registry of UI contexts (set by NewMux)
var contexts *middleware.ContextRegistry

// Global perf collector (set by NewMux)
var perfCollector *perf.Collector

// Profile source for the admin member directory (set by NewMux)
var memberDirectory projections.ProfileLister

// toastInterval is the flash auto-dismiss delay.
var toastInterval = DefaultToastInterval

// startedAt is reported on the admin page.
var startedAt = time.Now()

// NewMux wires HTTP handlers for the portal.
// PRE: opts.Contexts is non-nil; opts.CSRFKey is 32 bytes
// POST: Returns the fully wrapped handler
func NewMux(opts Options) http.Handler {
	contexts = opts.Contexts
	perfCollector = opts.Collector
	memberDirectory = opts.Members
	if opts.ToastInterval > 0 {
		toastInterval = opts.ToastInterval
	}

	mux := http.NewServeMux()
	static, _ := fs.Sub(staticFS, "static")
	mux.Handle("GET /static/", http.StripPrefix("/static/", http.FileServerFS(static)))
	registerRoutes(mux)

	limiter := opts.RateLimiter
	if limiter == nil {
		limiter = middleware.NewRateLimiter(5, 20)
	}

	// Timing -> RateLimit -> SecurityHeaders -> CSRF -> UIContext -> Guard -> Mux
	return middleware.Chain(mux,
		middleware.Guard,
		middleware.UIContextMiddleware(opts.Contexts, opts.SecureCookies),
		middleware.CSRF(opts.CSRFKey, opts.SecureCookies, opts.TrustedOrigins),
		middleware.SecurityHeaders,
		middleware.RateLimit(limiter),
		middleware.Timing(opts.Collector, opts.SlowRequest),
	)
}

func registerRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /{$}", handleHome)
	mux.HandleFunc("GET /healthz", handleHealth)
	mux.HandleFunc("GET /login", handleLoginForm)
	mux.HandleFunc("POST /login", handleLogin)
	mux.HandleFunc("GET /register", handleRegisterForm)
	mux.HandleFunc("POST /register", handleRegister)
	mux.HandleFunc("POST /logout", handleLogout)
	mux.HandleFunc("GET /dashboard", handleDashboard)
	mux.HandleFunc("GET /calendar", handleMemberPage(calendarPage))
	mux.HandleFunc("GET /archives", handleMemberPage(archivesPage))
	mux.HandleFunc("GET /scripture", handleMemberPage(scripturePage))
	mux.HandleFunc("GET /admin", handleAdmin)
}
