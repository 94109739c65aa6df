package session

import (
	"net/url"
	"strings"

	"wcsc/internal/domain/account"
)

// AccessDeniedWarning is shown when an authenticated user lacks the admin role.
const AccessDeniedWarning = "Access denied. Admin privileges required."

// RedirectParam is the query parameter carrying the post-login destination.
const RedirectParam = "redirect"

// AccessPolicy names the pages guards send users to and the pages they protect.
type AccessPolicy struct {
	LoginPath     string
	HomePath      string
	LandingPath   string
	PostLoginPath string
	MemberPages   []string
	AdminPages    []string
}

// DefaultAccessPolicy returns the site's standard page layout.
func DefaultAccessPolicy() AccessPolicy {
	return AccessPolicy{
		LoginPath:     "/login",
		HomePath:      "/",
		LandingPath:   "/dashboard",
		PostLoginPath: "/calendar",
		MemberPages:   []string{"/dashboard", "/calendar", "/archives", "/scripture"},
		AdminPages:    []string{"/admin"},
	}
}

// Decision is the outcome of a guard: proceed, or navigate elsewhere.
type Decision struct {
	Allowed    bool
	RedirectTo string
	Warning    string
}

// Allow is the proceed decision.
func Allow() Decision {
	return Decision{Allowed: true}
}

// RequireAuth checks that s is authenticated before showing requestURI.
// PRE: requestURI is the path (and query) being requested
// POST: Unauthenticated sessions are sent to the login page with a redirect back
func (p AccessPolicy) RequireAuth(s Session, requestURI string) Decision {
	if s.IsAuthenticated() {
		return Allow()
	}
	return Decision{RedirectTo: p.loginRedirect(requestURI)}
}

// RequireAdmin checks that s is an authenticated admin.
// PRE: requestURI is the path (and query) being requested
// POST: Unauthenticated sessions go to login; others without the role go to the landing page with a warning
func (p AccessPolicy) RequireAdmin(s Session, requestURI string) Decision {
	if !s.IsAuthenticated() {
		return Decision{RedirectTo: p.loginRedirect(requestURI)}
	}
	if s.Role() != account.RoleAdmin {
		return Decision{RedirectTo: p.LandingPath, Warning: AccessDeniedWarning}
	}
	return Allow()
}

// Guard applies the policy's page lists to path: admin pages need the admin
// role, member pages need authentication, everything else is public.
func (p AccessPolicy) Guard(s Session, path, requestURI string) Decision {
	if matchPage(p.AdminPages, path) {
		return p.RequireAdmin(s, requestURI)
	}
	if matchPage(p.MemberPages, path) {
		return p.RequireAuth(s, requestURI)
	}
	return Allow()
}

// PostLoginRedirect returns where to go after a successful login. Only local
// paths are honoured; anything else falls back to PostLoginPath.
func (p AccessPolicy) PostLoginRedirect(redirect string) string {
	if IsLocalPath(redirect) {
		return redirect
	}
	return p.PostLoginPath
}

// IsLocalPath reports whether target is a same-origin absolute path.
func IsLocalPath(target string) bool {
	if !strings.HasPrefix(target, "/") || strings.HasPrefix(target, "//") || strings.HasPrefix(target, "/\\") {
		return false
	}
	u, err := url.Parse(target)
	return err == nil && u.Scheme == "" && u.Host == ""
}

func (p AccessPolicy) loginRedirect(requestURI string) string {
	if !IsLocalPath(requestURI) {
		return p.LoginPath
	}
	return p.LoginPath + "?" + url.Values{RedirectParam: {requestURI}}.Encode()
}

func matchPage(pages []string, path string) bool {
	for _, page := range pages {
		if path == page || strings.HasPrefix(path, page+"/") {
			return true
		}
	}
	return false
}
