package web

import (
	"context"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/http/httptest"
	"net/url"
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"wcsc/internal/adapters/http/middleware"
	"wcsc/internal/adapters/http/perf"
	"wcsc/internal/adapters/identity/local"
	"wcsc/internal/adapters/storage"
	"wcsc/internal/adapters/storage/kv"
	"wcsc/internal/application/auth"
	"wcsc/internal/application/orchestrators"
	"wcsc/internal/domain/account"
	"wcsc/internal/domain/session"
)

var csrfFieldPattern = regexp.MustCompile(`name="gorilla\.csrf\.Token" value="([^"]+)"`)

type portal struct {
	server   *httptest.Server
	contexts *middleware.ContextRegistry
}

func newPortal(t *testing.T) *portal {
	t.Helper()
	return newPortalWith(t, nil)
}

// newPortalWith lets wrap replace each context's fallback provider.
func newPortalWith(t *testing.T, wrap func(auth.Provider) auth.Provider) *portal {
	t.Helper()
	db, err := storage.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	dir := local.NewDirectory(kv.NewSQLiteStore(db), local.Options{
		Secret:     []byte("portal-test-secret"),
		TokenTTL:   time.Hour,
		BcryptCost: bcrypt.MinCost,
	})
	_, err = orchestrators.ExecuteSeedDemoAccounts(context.Background(),
		orchestrators.DemoSeedDeps{Directory: dir},
		orchestrators.AdminSeed{Email: "admin@wcsc.org", Password: "admin-pass-1"})
	require.NoError(t, err)

	reg := middleware.NewContextRegistry(func(id string) *auth.Manager {
		var p auth.Provider = dir.ForContext(id)
		if wrap != nil {
			p = wrap(p)
		}
		return auth.NewManager(nil, p, auth.Config{})
	}, time.Hour)

	srv := httptest.NewServer(NewMux(Options{
		Contexts:    reg,
		Collector:   perf.NewCollector(64),
		CSRFKey:     []byte("0123456789abcdef0123456789abcdef"),
		RateLimiter: middleware.NewRateLimiter(1000, 1000),
		Members:     dir,
	}))
	t.Cleanup(srv.Close)
	return &portal{server: srv, contexts: reg}
}

// browser is one cookie jar, i.e. one UI context.
type browser struct {
	t      *testing.T
	base   string
	client *http.Client
}

func (p *portal) browser(t *testing.T) *browser {
	t.Helper()
	jar, err := cookiejar.New(nil)
	require.NoError(t, err)
	return &browser{t: t, base: p.server.URL, client: &http.Client{Jar: jar}}
}

// get follows redirects and returns the final response and body.
func (b *browser) get(path string) (*http.Response, string) {
	b.t.Helper()
	resp, err := b.client.Get(b.base + path)
	require.NoError(b.t, err)
	return resp, readBody(b.t, resp)
}

// noFollow returns the first response without following redirects.
func (b *browser) noFollow(path string) *http.Response {
	b.t.Helper()
	c := *b.client
	c.CheckRedirect = func(*http.Request, []*http.Request) error { return http.ErrUseLastResponse }
	resp, err := c.Get(b.base + path)
	require.NoError(b.t, err)
	resp.Body.Close()
	return resp
}

// submit loads formPage for a CSRF token, then posts form to action.
func (b *browser) submit(formPage, action string, form url.Values) (*http.Response, string) {
	b.t.Helper()
	_, page := b.get(formPage)
	m := csrfFieldPattern.FindStringSubmatch(page)
	require.Len(b.t, m, 2, "form token missing on %s", formPage)
	form.Set("gorilla.csrf.Token", m[1])
	resp, err := b.client.PostForm(b.base+action, form)
	require.NoError(b.t, err)
	return resp, readBody(b.t, resp)
}

func (b *browser) login(identifier, password string) (*http.Response, string) {
	b.t.Helper()
	return b.submit("/login", "/login", url.Values{"identifier": {identifier}, "password": {password}})
}

func readBody(t *testing.T, resp *http.Response) string {
	t.Helper()
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return string(raw)
}

func TestHome_Guest(t *testing.T) {
	b := newPortal(t).browser(t)

	resp, body := b.get("/")

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, body, "Become a member")
	assert.Contains(t, body, `id="login-link"`)
	assert.Regexp(t, `href="/admin" data-gate="admin-only" hidden`, body)
}

func TestMemberPage_GuestRedirectedToLogin(t *testing.T) {
	b := newPortal(t).browser(t)

	resp := b.noFollow("/calendar")

	assert.Equal(t, http.StatusSeeOther, resp.StatusCode)
	assert.Equal(t, "/login?redirect=%2Fcalendar", resp.Header.Get("Location"))
}

// profilelessProvider answers every profile lookup with no row.
type profilelessProvider struct {
	auth.Provider
}

func (profilelessProvider) LookupProfileByAuthID(context.Context, string) (*account.Profile, error) {
	return nil, nil
}

func TestMemberPage_MissingProfileGetsGuestAccess(t *testing.T) {
	b := newPortalWith(t, func(p auth.Provider) auth.Provider { return profilelessProvider{p} }).browser(t)

	resp, body := b.login("member", "wcsc2025")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, body, "your profile could not be loaded")

	for _, path := range []string{"/archives", "/scripture"} {
		denied := b.noFollow(path)
		assert.Equal(t, http.StatusSeeOther, denied.StatusCode, path)
		assert.Equal(t, "/dashboard", denied.Header.Get("Location"), path)
	}

	resp, body = b.get("/archives")
	assert.Equal(t, "/dashboard", resp.Request.URL.Path)
	assert.Contains(t, body, pageDeniedWarning)
	assert.NotContains(t, body, "Meeting Archives</h1>")

	resp, _ = b.get("/calendar")
	assert.Equal(t, "/calendar", resp.Request.URL.Path)
}

func TestLogin_MemberReturnsToRequestedPage(t *testing.T) {
	b := newPortal(t).browser(t)

	_, _ = b.get("/archives")
	resp, body := b.submit("/login?redirect=%2Farchives", "/login", url.Values{
		"identifier": {"member@wcsc.org"},
		"password":   {"wcsc2025"},
		"redirect":   {"/archives"},
	})

	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "/archives", resp.Request.URL.Path)
	assert.Contains(t, body, "Welcome back, Demo!")
	assert.Contains(t, body, "Meeting Archives")
	assert.NotContains(t, body, "Create meeting archive")
}

func TestLogin_DefaultsToPostLoginPage(t *testing.T) {
	b := newPortal(t).browser(t)

	resp, _ := b.login("member", "wcsc2025")

	assert.Equal(t, session.DefaultAccessPolicy().PostLoginPath, resp.Request.URL.Path)
}

func TestLogin_LeaderSeesEditAction(t *testing.T) {
	b := newPortal(t).browser(t)
	b.login("leader@wcsc.org", "leadership")

	_, body := b.get("/calendar")

	assert.Contains(t, body, `id="page-action"`)
	assert.Contains(t, body, "Edit calendar")
	assert.Contains(t, body, "<table>")
}

func TestLogin_InvalidCredentials(t *testing.T) {
	b := newPortal(t).browser(t)

	resp, body := b.login("member@wcsc.org", "wrong-password")

	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Contains(t, body, "Invalid username or password.")
	assert.Contains(t, body, `value="member@wcsc.org"`)
}

func TestLogin_RejectsOffsiteRedirect(t *testing.T) {
	b := newPortal(t).browser(t)

	resp, _ := b.submit("/login", "/login", url.Values{
		"identifier": {"member"},
		"password":   {"wcsc2025"},
		"redirect":   {"//evil.example/phish"},
	})

	assert.Equal(t, "/calendar", resp.Request.URL.Path)
	assert.Equal(t, b.base[len("http://"):], resp.Request.URL.Host)
}

func TestLoginForm_AuthenticatedRedirects(t *testing.T) {
	b := newPortal(t).browser(t)
	b.login("member", "wcsc2025")

	resp := b.noFollow("/login")

	assert.Equal(t, http.StatusSeeOther, resp.StatusCode)
	assert.Equal(t, "/calendar", resp.Header.Get("Location"))
}

func TestAdmin_MemberDenied(t *testing.T) {
	b := newPortal(t).browser(t)
	b.login("member", "wcsc2025")

	resp, body := b.get("/admin")

	assert.Equal(t, "/dashboard", resp.Request.URL.Path)
	assert.Contains(t, body, session.AccessDeniedWarning)
}

func TestAdmin_AdminSeesPanel(t *testing.T) {
	p := newPortal(t)
	b := p.browser(t)
	b.login("admin@wcsc.org", "admin-pass-1")

	resp, body := b.get("/admin")

	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "/admin", resp.Request.URL.Path)
	assert.Contains(t, body, "manage-users")
	assert.Contains(t, body, `id="admin-contexts">1<`)
	assert.Contains(t, body, "Requests (last hour)")
	assert.NotRegexp(t, `href="/admin" data-gate="admin-only" hidden`, body)
}

func TestAdmin_MemberDirectory(t *testing.T) {
	b := newPortal(t).browser(t)
	b.login("admin", "admin-pass-1")

	_, body := b.get("/admin")
	assert.Contains(t, body, `id="member-directory"`)
	assert.Contains(t, body, "Showing 1-3 of 3")

	_, body = b.get("/admin?q=leader&sort=name&dir=desc")
	assert.Contains(t, body, "leader@wcsc.org")
	assert.NotContains(t, body, "member@wcsc.org")
	assert.Contains(t, body, "Showing 1-1 of 1")

	_, body = b.get("/admin?role=member")
	assert.Contains(t, body, "member@wcsc.org")
	assert.NotContains(t, body, "<td>leader@wcsc.org</td>")
}

func TestDashboard_ShowsProfile(t *testing.T) {
	b := newPortal(t).browser(t)
	b.login("leader", "leadership")

	_, body := b.get("/dashboard")

	assert.Contains(t, body, "Welcome, Demo")
	assert.Contains(t, body, `id="profile-role">leader<`)
	assert.Contains(t, body, "Georgetown")
}

func TestRegister_ThenLogin(t *testing.T) {
	b := newPortal(t).browser(t)

	resp, body := b.submit("/register", "/register", url.Values{
		"full_name":        {"John Paul Smith"},
		"email":            {"John@Example.org"},
		"username":         {"jpsmith"},
		"chapter":          {"Austin"},
		"password":         {"longenough"},
		"confirm_password": {"longenough"},
		"terms_present":    {"1"},
		"terms":            {"on"},
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "/login", resp.Request.URL.Path)
	assert.Contains(t, body, "Registration successful!")

	resp, body = b.login("jpsmith", "longenough")
	assert.Equal(t, "/calendar", resp.Request.URL.Path)
	assert.Contains(t, body, "Welcome back, John!")
}

func TestRegister_ValidationErrors(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(url.Values)
		status  int
		message string
		field   string
	}{
		{"password mismatch", func(v url.Values) { v.Set("confirm_password", "different1") }, http.StatusBadRequest, "Passwords do not match.", "confirm_password"},
		{"short password", func(v url.Values) { v.Set("password", "short"); v.Set("confirm_password", "short") }, http.StatusBadRequest, "Password must be at least 8 characters long.", "password"},
		{"terms unchecked", func(v url.Values) { v.Del("terms") }, http.StatusBadRequest, "Please accept the terms and conditions.", "terms"},
		{"missing chapter", func(v url.Values) { v.Del("chapter") }, http.StatusBadRequest, "Please fill in all required fields.", "chapter"},
		{"duplicate email", func(v url.Values) { v.Set("email", "member@wcsc.org") }, http.StatusConflict, "An account with this email already exists.", "email"},
		{"taken username", func(v url.Values) { v.Set("username", "leader") }, http.StatusConflict, "That username is already taken.", "username"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := newPortal(t).browser(t)
			form := url.Values{
				"full_name":        {"New Brother"},
				"email":            {"new@wcsc.org"},
				"username":         {"newbrother"},
				"chapter":          {"Georgetown"},
				"password":         {"longenough"},
				"confirm_password": {"longenough"},
				"terms_present":    {"1"},
				"terms":            {"on"},
			}
			tt.mutate(form)

			resp, body := b.submit("/register", "/register", form)

			assert.Equal(t, tt.status, resp.StatusCode)
			assert.Contains(t, body, tt.message)
			assert.Contains(t, body, `data-field="`+tt.field+`"`)
			assert.NotContains(t, body, `value="longenough"`)
		})
	}
}

func TestLogout(t *testing.T) {
	b := newPortal(t).browser(t)
	b.login("member", "wcsc2025")

	resp, body := b.submit("/dashboard", "/logout", url.Values{})

	assert.Equal(t, "/", resp.Request.URL.Path)
	assert.Contains(t, body, "You have been logged out.")
	assert.Contains(t, body, "Become a member")

	after := b.noFollow("/dashboard")
	assert.Equal(t, http.StatusSeeOther, after.StatusCode)
}

func TestContexts_AreIsolated(t *testing.T) {
	p := newPortal(t)
	member := p.browser(t)
	guest := p.browser(t)
	member.login("member", "wcsc2025")

	resp := guest.noFollow("/dashboard")

	assert.Equal(t, http.StatusSeeOther, resp.StatusCode)
	assert.Equal(t, 2, p.contexts.Len())
}

func TestContexts_SessionSurvivesDrop(t *testing.T) {
	p := newPortal(t)
	b := p.browser(t)
	b.login("member", "wcsc2025")

	u, err := url.Parse(b.base)
	require.NoError(t, err)
	var id string
	for _, c := range b.client.Jar.Cookies(u) {
		if c.Name == middleware.ContextCookieName {
			id = c.Value
		}
	}
	require.NotEmpty(t, id)
	p.contexts.Drop(id)
	require.Equal(t, 0, p.contexts.Len())

	resp, body := b.get("/dashboard")

	assert.Equal(t, "/dashboard", resp.Request.URL.Path)
	assert.Contains(t, body, "Welcome, Demo")
}

func TestCSRF_MissingTokenRejected(t *testing.T) {
	b := newPortal(t).browser(t)
	b.get("/login")

	resp, err := b.client.PostForm(b.base+"/login", url.Values{"identifier": {"member"}, "password": {"wcsc2025"}})
	require.NoError(t, err)
	body := readBody(t, resp)

	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	assert.True(t, strings.Contains(body, "invalid or missing form token"))
}

func TestHealth(t *testing.T) {
	b := newPortal(t).browser(t)

	resp, body := b.get("/healthz")

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "ok contexts=1\n", body)
}

func TestStatic(t *testing.T) {
	b := newPortal(t).browser(t)

	resp, body := b.get("/static/site.css")

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, body, "#flashes")
}

func TestRenderMarkdown_EscapesRawHTML(t *testing.T) {
	out := string(renderMarkdown([]byte("hi <script>alert(1)</script>\nnext")))

	assert.NotContains(t, out, "<script>")
	assert.Contains(t, out, "<br>")
}
