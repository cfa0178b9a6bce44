package http

import (
	"context"
	"net/http"
	"net/url"
	"strings"

	"github.com/carebridge/identity/pkg/httputil"
	"github.com/carebridge/identity/pkg/middleware"

	"github.com/carebridge/identity/internal/domain"
)

type sessionKeyType struct{}

var sessionKey sessionKeyType

// SessionFromContext returns the session the route guard resolved for this
// request, or an anonymous session when the guard did not run.
func SessionFromContext(ctx context.Context) domain.Session {
	if s, ok := ctx.Value(sessionKey).(domain.Session); ok {
		return s
	}
	return domain.Anonymous()
}

// withSession stores the resolved session in the context.
func withSession(ctx context.Context, s domain.Session) context.Context {
	return context.WithValue(ctx, sessionKey, s)
}

// SessionResolver turns an access token into a session. Errors are treated
// the same as no session: the guard fails closed.
type SessionResolver func(ctx context.Context, accessToken string) (domain.Session, error)

// routeClass is the outcome of path classification.
type routeClass int

const (
	classPublic routeClass = iota
	classRoleRestricted
	classDefault
)

// publicPaths are reachable with no session: auth pages, the public half of
// the auth API, and operational endpoints.
var publicPrefixes = []string{
	"/auth/",
	"/health",
	"/static/",
}

var publicExact = map[string]struct{}{
	"/":                                {},
	"/auth":                            {},
	"/metrics":                         {},
	"/api/auth/register":               {},
	"/api/auth/login":                  {},
	"/api/auth/refresh":                {},
	"/api/auth/status":                 {},
	"/api/auth/password-reset/request": {},
	"/api/auth/password-reset/confirm": {},
	"/api/auth/verify-email":           {},
}

// roleRestricted maps a path prefix to the role required under it. Page and
// API trees map to the same roles.
var roleRestricted = []struct {
	prefix string
	role   domain.Role
}{
	{"/admin", domain.RoleAdministrator},
	{"/api/admin", domain.RoleAdministrator},
	{"/case-manager", domain.RoleCaseManager},
	{"/api/case-manager", domain.RoleCaseManager},
	{"/provider", domain.RoleProvider},
	{"/api/provider", domain.RoleProvider},
	{"/client", domain.RoleClient},
	{"/api/client", domain.RoleClient},
}

// classify decides how a path is protected. First match wins; anything
// unmatched requires an authenticated session.
func classify(path string) (routeClass, domain.Role) {
	if _, ok := publicExact[path]; ok {
		return classPublic, ""
	}
	for _, prefix := range publicPrefixes {
		if strings.HasPrefix(path, prefix) {
			return classPublic, ""
		}
	}
	for _, rule := range roleRestricted {
		if path == rule.prefix || strings.HasPrefix(path, rule.prefix+"/") {
			return classRoleRestricted, rule.role
		}
	}
	return classDefault, ""
}

// RouteGuard enforces the platform's route protection rules around the
// application mount. Unknown paths require authentication; role trees
// require the mapped role; every resolution failure is treated as no
// session. Page requests get redirects, API requests get JSON errors.
func RouteGuard(resolve SessionResolver) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			class, requiredRole := classify(r.URL.Path)
			if class == classPublic {
				next.ServeHTTP(w, r)
				return
			}

			session := resolveSession(r, resolve)
			if !session.IsAuthenticated {
				denyUnauthenticated(w, r)
				return
			}

			if class == classRoleRestricted {
				verdict := domain.ValidateSession(session, domain.Requirements{RequiredRole: requiredRole})
				if !verdict.Valid {
					denyForbidden(w, r, session, requiredRole)
					return
				}
			}

			next.ServeHTTP(w, r.WithContext(withSession(r.Context(), session)))
		})
	}
}

// resolveSession pulls the access token from the bearer header or the
// access cookie and resolves it. Any failure yields an anonymous session.
func resolveSession(r *http.Request, resolve SessionResolver) domain.Session {
	token := middleware.BearerToken(r)
	if token == "" {
		if cookie, err := r.Cookie(accessCookieName); err == nil {
			token = cookie.Value
		}
	}
	if token == "" {
		return domain.Anonymous()
	}

	session, err := resolve(r.Context(), token)
	if err != nil {
		return domain.Anonymous()
	}
	return session
}

// denyUnauthenticated sends the caller to login with the original
// destination preserved, or a JSON 401 for API callers.
func denyUnauthenticated(w http.ResponseWriter, r *http.Request) {
	if wantsJSON(r) {
		httputil.WriteJSON(w, http.StatusUnauthorized, httputil.Response{
			Error: &httputil.ErrorResponse{Code: "UNAUTHORIZED", Message: "authentication required"},
		})
		return
	}

	target := r.URL.Path
	if r.URL.RawQuery != "" {
		target += "?" + r.URL.RawQuery
	}
	http.Redirect(w, r, "/auth/login?callbackUrl="+url.QueryEscape(target), http.StatusTemporaryRedirect)
}

// denyForbidden sends an authenticated but under-privileged caller to their
// own dashboard with the denial marked, or a JSON 403 for API callers.
func denyForbidden(w http.ResponseWriter, r *http.Request, session domain.Session, required domain.Role) {
	if wantsJSON(r) {
		httputil.WriteJSON(w, http.StatusForbidden, httputil.Response{
			Error: &httputil.ErrorResponse{Code: "FORBIDDEN", Message: "insufficient permissions"},
		})
		return
	}

	dashboard := domain.DashboardPath(session.User.Role)
	http.Redirect(w, r,
		dashboard+"?unauthorized=true&requiredRole="+url.QueryEscape(string(required)),
		http.StatusTemporaryRedirect)
}

// wantsJSON reports whether the request should get a JSON error instead of
// a redirect: API paths, XHR, or an explicit JSON Accept preference.
func wantsJSON(r *http.Request) bool {
	if strings.HasPrefix(r.URL.Path, "/api/") {
		return true
	}
	if r.Header.Get("X-Requested-With") == "XMLHttpRequest" {
		return true
	}
	accept := r.Header.Get("Accept")
	return strings.Contains(accept, "application/json") && !strings.Contains(accept, "text/html")
}
