package web

import (
	"bytes"
	"errors"
	"html/template"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/csrf"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
	goldmarkHTML "github.com/yuin/goldmark/renderer/html"

	"wcsc/internal/adapters/http/middleware"
	"wcsc/internal/application/auth"
	"wcsc/internal/application/listutil"
	"wcsc/internal/application/projections"
	"wcsc/internal/domain/account"
	"wcsc/internal/domain/session"
)

// mdRenderer is a goldmark instance configured for safe HTML output.
// Raw HTML in markdown input is escaped (WithUnsafe is NOT set).
var mdRenderer = goldmark.New(
	goldmark.WithExtensions(extension.Table),
	goldmark.WithRendererOptions(
		goldmarkHTML.WithHardWraps(),
	),
)

// internalError logs the real error and returns a generic message to the client.
func internalError(w http.ResponseWriter, err error) {
	slog.Error("internal_error", "error", err.Error())
	http.Error(w, "internal server error", http.StatusInternalServerError)
}

func renderMarkdown(md []byte) template.HTML {
	var buf bytes.Buffer
	if err := mdRenderer.Convert(md, &buf); err != nil {
		return template.HTML(template.HTMLEscapeString(string(md)))
	}
	return template.HTML(buf.String())
}

func renderTemplate(w http.ResponseWriter, r *http.Request, status int, templateName string, data map[string]any) {
	var flashes []middleware.Flash
	if c, ok := middleware.GetUIContext(r.Context()); ok {
		flashes = c.TakeFlashes()
	}
	m := middleware.ManagerFrom(r.Context())
	sess := m.Session()
	visibility := m.Visibility()

	funcMap := template.FuncMap{
		"csrfField":   func() template.HTML { return csrf.TemplateField(r) },
		"isLoggedIn":  func() bool { return sess.IsAuthenticated() },
		"currentRole": func() string { return string(m.Role()) },
		"hidden":      visibility.Hidden,
		"can":         func(action string) bool { return m.Can(account.Action(action)) },
		"displayName": func() string {
			if sess.Profile != nil {
				return sess.Profile.DisplayName()
			}
			if sess.Identity != nil {
				return sess.Identity.Email
			}
			return ""
		},
		"firstName": func() string {
			if sess.Profile != nil {
				return sess.Profile.FirstName()
			}
			return account.FallbackFirstName
		},
		"toastMs": func() int64 { return toastInterval.Milliseconds() },
	}

	if data == nil {
		data = map[string]any{}
	}
	data["Flashes"] = flashes

	tpl, err := template.New("layout.html").Funcs(funcMap).ParseFS(templateFS, "templates/layout.html", "templates/"+templateName)
	if err != nil {
		internalError(w, err)
		return
	}
	var buf bytes.Buffer
	if err := tpl.Execute(&buf, data); err != nil {
		internalError(w, err)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	buf.WriteTo(w)
}

// flash queues a message for the next page of the caller's UI context.
func flash(r *http.Request, kind, message string) {
	if c, ok := middleware.GetUIContext(r.Context()); ok {
		c.AddFlash(kind, message)
	}
}

// handleHome renders the public landing page.
func handleHome(w http.ResponseWriter, r *http.Request) {
	renderTemplate(w, r, http.StatusOK, "home.html", map[string]any{
		"Title": "Home",
	})
}

// handleHealth reports liveness and the number of open UI contexts.
func handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	n := 0
	if contexts != nil {
		n = contexts.Len()
	}
	w.Write([]byte("ok contexts=" + strconv.Itoa(n) + "\n"))
}

// handleLoginForm handles GET /login.
func handleLoginForm(w http.ResponseWriter, r *http.Request) {
	m := middleware.ManagerFrom(r.Context())
	redirect := r.URL.Query().Get(session.RedirectParam)
	if m.IsAuthenticated() {
		http.Redirect(w, r, m.Policy().PostLoginRedirect(redirect), http.StatusSeeOther)
		return
	}
	renderTemplate(w, r, http.StatusOK, "login.html", map[string]any{
		"Title":    "Member Login",
		"Redirect": redirect,
	})
}

// handleLogin handles POST /login with an email or username.
func handleLogin(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		http.Error(w, "Invalid form submission", http.StatusBadRequest)
		return
	}
	m := middleware.ManagerFrom(r.Context())
	identifier := r.FormValue("identifier")
	redirect := r.FormValue(session.RedirectParam)

	id, err := m.Login(r.Context(), identifier, r.FormValue("password"))
	if err != nil {
		renderTemplate(w, r, loginErrorStatus(err), "login.html", map[string]any{
			"Title":      "Member Login",
			"Redirect":   redirect,
			"Identifier": identifier,
			"Error":      auth.UserMessage(err),
		})
		return
	}

	first := account.FallbackFirstName
	if p := m.Session().Profile; p != nil {
		first = p.FirstName()
	}
	slog.Info("auth_event", "event", "web_login", "email", id.Email)
	flash(r, middleware.FlashSuccess, "Welcome back, "+first+"!")
	http.Redirect(w, r, m.Policy().PostLoginRedirect(redirect), http.StatusSeeOther)
}

func loginErrorStatus(err error) int {
	var verr *account.ValidationError
	switch {
	case errors.As(err, &verr):
		return http.StatusBadRequest
	case errors.Is(err, auth.ErrAuthentication):
		return http.StatusUnauthorized
	case errors.Is(err, auth.ErrProviderUnavailable):
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

// handleRegisterForm handles GET /register.
func handleRegisterForm(w http.ResponseWriter, r *http.Request) {
	renderTemplate(w, r, http.StatusOK, "register.html", map[string]any{
		"Title": "Join WCSC",
		"Form":  account.Registration{},
	})
}

// handleRegister handles POST /register. Success never signs the user in.
func handleRegister(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		http.Error(w, "Invalid form submission", http.StatusBadRequest)
		return
	}
	reg := account.Registration{
		Email:           r.FormValue("email"),
		Password:        r.FormValue("password"),
		ConfirmPassword: r.FormValue("confirm_password"),
		FullName:        r.FormValue("full_name"),
		Username:        r.FormValue("username"),
		Phone:           r.FormValue("phone"),
		Chapter:         r.FormValue("chapter"),
		Bio:             r.FormValue("bio"),
		TermsPresent:    r.FormValue("terms_present") != "",
		TermsAccepted:   r.FormValue("terms") != "",
	}

	m := middleware.ManagerFrom(r.Context())
	if _, err := m.Signup(r.Context(), reg); err != nil {
		status := http.StatusBadRequest
		field := ""
		var verr *account.ValidationError
		switch {
		case errors.As(err, &verr):
			field = verr.Field
		case errors.Is(err, account.ErrDuplicateUser):
			status = http.StatusConflict
			if errors.Is(err, account.ErrUsernameTaken) {
				field = "username"
			} else {
				field = "email"
			}
		case errors.Is(err, account.ErrWeakPassword):
			field = "password"
		case errors.Is(err, account.ErrInvalidEmail):
			field = "email"
		case errors.Is(err, auth.ErrProviderUnavailable):
			status = http.StatusServiceUnavailable
		default:
			slog.Error("auth_event", "event", "signup_error", "error", err)
			status = http.StatusInternalServerError
		}
		reg.Password, reg.ConfirmPassword = "", ""
		renderTemplate(w, r, status, "register.html", map[string]any{
			"Title":      "Join WCSC",
			"Form":       reg,
			"Error":      auth.UserMessage(err),
			"ErrorField": field,
		})
		return
	}

	flash(r, middleware.FlashSuccess, "Registration successful! Please check your email to confirm your account, then log in.")
	http.Redirect(w, r, m.Policy().LoginPath, http.StatusSeeOther)
}

// handleLogout handles POST /logout.
func handleLogout(w http.ResponseWriter, r *http.Request) {
	m := middleware.ManagerFrom(r.Context())
	d := m.Logout(r.Context())
	flash(r, middleware.FlashInfo, "You have been logged out.")
	http.Redirect(w, r, d.RedirectTo, http.StatusSeeOther)
}

// handleDashboard renders the signed-in member's profile.
func handleDashboard(w http.ResponseWriter, r *http.Request) {
	m := middleware.ManagerFrom(r.Context())
	renderTemplate(w, r, http.StatusOK, "dashboard.html", map[string]any{
		"Title":   "Dashboard",
		"Profile": m.Session().Profile,
		"Email":   identityEmail(m.Session()),
	})
}

func identityEmail(s session.Session) string {
	if s.Identity != nil {
		return s.Identity.Email
	}
	return ""
}

// memberPage describes one markdown-backed member page.
type memberPage struct {
	Title   string
	Content string
	// View, when set, must be allowed for the viewer; otherwise any signed-in session may view.
	View account.Action
	// Action, when set, gates the page's primary button.
	Action      account.Action
	ActionLabel string
}

var (
	calendarPage  = memberPage{Title: "Calendar", Content: "content/calendar.md", Action: account.ActionEditCalendar, ActionLabel: "Edit calendar"}
	archivesPage  = memberPage{Title: "Meeting Archives", Content: "content/archives.md", View: account.ActionViewArchives, Action: account.ActionCreateMeetingArchive, ActionLabel: "Create meeting archive"}
	scripturePage = memberPage{Title: "Scripture", Content: "content/scripture.md", View: account.ActionViewScripture}
)

// pageDeniedWarning is flashed when a signed-in viewer lacks a page's view permission.
const pageDeniedWarning = "Access denied. Your membership profile is required to view this page."

// handleMemberPage renders a member page from embedded markdown.
func handleMemberPage(page memberPage) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		m := middleware.ManagerFrom(r.Context())
		if page.View != "" && !m.Can(page.View) {
			slog.Info("auth_event", "event", "page_denied", "path", r.URL.Path, "role", m.Role())
			flash(r, middleware.FlashWarning, pageDeniedWarning)
			http.Redirect(w, r, m.Policy().LandingPath, http.StatusSeeOther)
			return
		}
		md, err := contentFS.ReadFile(page.Content)
		if err != nil {
			internalError(w, err)
			return
		}
		renderTemplate(w, r, http.StatusOK, "page.html", map[string]any{
			"Title":       page.Title,
			"Body":        renderMarkdown(md),
			"Action":      string(page.Action),
			"ActionLabel": page.ActionLabel,
		})
	}
}

// permissionRow is one line of the admin permission table.
type permissionRow struct {
	Action  account.Action
	Minimum account.Role
	Allowed map[account.Role]bool
}

// pageLink is one pagination button.
type pageLink struct {
	Number  int
	URL     template.URL
	Current bool
}

// handleAdmin renders the admin panel: permissions, live contexts, request timings
// and, when a directory is configured, the member directory.
func handleAdmin(w http.ResponseWriter, r *http.Request) {
	m := middleware.ManagerFrom(r.Context())
	roles := []account.Role{account.RoleGuest, account.RoleMember, account.RoleLeader, account.RoleAdmin}
	var rows []permissionRow
	for _, action := range account.Actions() {
		minRole, _ := account.MinimumRole(action)
		row := permissionRow{Action: action, Minimum: minRole, Allowed: map[account.Role]bool{}}
		for _, role := range roles {
			row.Allowed[role] = account.Can(role, action)
		}
		rows = append(rows, row)
	}

	data := map[string]any{
		"Title":       "Admin",
		"Roles":       roles,
		"Permissions": rows,
		"Uptime":      time.Since(startedAt).Round(time.Second).String(),
		"Mode":        string(m.Mode()),
	}
	if contexts != nil {
		data["Contexts"] = contexts.Len()
	}
	if perfCollector != nil {
		data["Perf"] = perfCollector.Snapshot(time.Now().Add(-time.Hour), 10)
	}

	if memberDirectory != nil && m.Can(account.ActionManageUsers) {
		params := listutil.ParseListParams(r.URL.Query(), projections.MemberDirectorySortColumns, projections.MemberDirectoryFilterKeys)
		result, err := projections.QueryGetMemberDirectory(r.Context(), projections.GetMemberDirectoryQuery{ListParams: params}, projections.GetMemberDirectoryDeps{Profiles: memberDirectory})
		if err != nil {
			internalError(w, err)
			return
		}
		var links []pageLink
		if result.Page.ShowPagination() {
			for _, n := range result.Page.PageNumbers() {
				links = append(links, pageLink{Number: n, URL: template.URL("/admin?" + params.Query(n)), Current: n == result.Page.Page})
			}
		}
		data["Directory"] = result
		data["Params"] = params
		data["PageLinks"] = links
	}
	renderTemplate(w, r, http.StatusOK, "admin.html", data)
}
