package rbac

import (
	"net/http"
	"net/url"

	"github.com/platinummonkey/campus/pkg/httputil"
	"github.com/platinummonkey/campus/pkg/middleware"
	"github.com/platinummonkey/campus/pkg/observability"
)

// GuardMiddleware applies the access guard to requests whose path is declared
// in the route table. Undeclared paths pass through.
type GuardMiddleware struct {
	routes    *RouteTable
	directory *Directory
	metrics   *observability.Metrics
}

// NewGuardMiddleware creates a new guard middleware
func NewGuardMiddleware(routes *RouteTable, directory *Directory, metrics *observability.Metrics) *GuardMiddleware {
	return &GuardMiddleware{
		routes:    routes,
		directory: directory,
		metrics:   metrics,
	}
}

// guardResponse is the body of a 401 or 403 from the guard
type guardResponse struct {
	Error    string     `json:"error"`
	Reason   DenyReason `json:"reason"`
	Redirect string     `json:"redirect,omitempty"`
	Required []Role     `json:"required_roles,omitempty"`
}

// Protect guards next with the route table
func (gm *GuardMiddleware) Protect(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		route, ok := gm.routes.Match(r.URL.Path)
		if !ok {
			next.ServeHTTP(w, r)
			return
		}
		gm.serve(w, r, route, next)
	})
}

// RequireRoles guards next with an explicit route declaration, independent of
// the route table. No roles means any signed-in principal.
func (gm *GuardMiddleware) RequireRoles(roles ...Role) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			gm.serve(w, r, Route{Path: r.URL.Path, Required: roles}, next)
		})
	}
}

func (gm *GuardMiddleware) serve(w http.ResponseWriter, r *http.Request, route Route, next http.Handler) {
	route.Path = r.URL.RequestURI()
	session := middleware.GetSession(r)
	decision := Evaluate(session, gm.directory.Resolution(r.Context(), session), route)
	gm.metrics.RecordGuardDecision(decision.Outcome.String(), string(decision.Reason))

	switch decision.Outcome {
	case Granted:
		next.ServeHTTP(w, r)
	case Denied:
		writeDenied(w, decision)
	default:
		// the session middleware only attaches settled sessions, so this is
		// a verifier that returned a loading session
		httputil.WriteServiceUnavailable(w, "session not resolved")
	}
}

func writeDenied(w http.ResponseWriter, decision Decision) {
	if decision.Reason == ReasonUnauthenticated {
		httputil.WriteJSON(w, http.StatusUnauthorized, guardResponse{
			Error:    "authentication required",
			Reason:   decision.Reason,
			Redirect: "/auth/login?return_to=" + url.QueryEscape(decision.ReturnTo),
		})
		return
	}
	httputil.WriteJSON(w, http.StatusForbidden, guardResponse{
		Error:    "insufficient role",
		Reason:   decision.Reason,
		Required: decision.Required,
	})
}
