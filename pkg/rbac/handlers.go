package rbac

import (
	"errors"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/platinummonkey/campus/pkg/httputil"
	"github.com/platinummonkey/campus/pkg/middleware"
	"github.com/platinummonkey/campus/pkg/observability"
)

// Handlers provides HTTP handlers for the role state of the signed-in principal
type Handlers struct {
	directory *Directory
	routes    *RouteTable
}

// NewHandlers creates new role handlers
func NewHandlers(directory *Directory, routes *RouteTable) *Handlers {
	return &Handlers{
		directory: directory,
		routes:    routes,
	}
}

// RegisterRoutes registers all role routes
func (h *Handlers) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/v1/me/roles", h.GetRoles).Methods("GET")
	router.HandleFunc("/v1/me/roles", h.AddRole).Methods("POST")
	router.HandleFunc("/v1/me/roles/primary", h.SetPrimaryRole).Methods("PUT")
	router.HandleFunc("/v1/me/roles/refresh", h.RefreshRoles).Methods("POST")
	router.HandleFunc("/v1/me/roles/{role}", h.RemoveRole).Methods("DELETE")

	router.HandleFunc("/v1/access", h.CheckAccess).Methods("GET")
}

// RoleStateResponse is the wire form of a principal's role state
type RoleStateResponse struct {
	PrimaryRole Role    `json:"primary_role"`
	Roles       RoleSet `json:"roles"`
	Available   []Role  `json:"available"`
	Addable     []Role  `json:"addable"`
	Greeting    string  `json:"greeting"`
	Source      Source  `json:"source,omitempty"`
	Pending     bool    `json:"pending"`
}

func newRoleStateResponse(state State, pending bool) RoleStateResponse {
	addable := state.Addable()
	if addable == nil {
		addable = []Role{}
	}
	return RoleStateResponse{
		PrimaryRole: state.Primary,
		Roles:       state.Roles,
		Available:   state.Available(),
		Addable:     addable,
		Greeting:    Greeting(state.Primary),
		Source:      state.Source,
		Pending:     pending,
	}
}

// roleRequest names one role by storage token or display name
type roleRequest struct {
	Role string `json:"role"`
}

// AccessResponse reports the guard decision for a path
type AccessResponse struct {
	Path     string   `json:"path"`
	Pattern  string   `json:"pattern"`
	Decision Decision `json:"decision"`
}

// GetRoles handles GET /v1/me/roles
func (h *Handlers) GetRoles(w http.ResponseWriter, r *http.Request) {
	store, ok := h.store(w, r)
	if !ok {
		return
	}
	httputil.WriteJSON(w, http.StatusOK, newRoleStateResponse(store.State(), store.Pending()))
}

// RefreshRoles handles POST /v1/me/roles/refresh. It resolves the session
// again, picking up assignments changed outside this service.
func (h *Handlers) RefreshRoles(w http.ResponseWriter, r *http.Request) {
	state, err := h.directory.Refresh(r.Context(), middleware.GetSession(r))
	if errors.Is(err, ErrNotAuthenticated) {
		httputil.WriteUnauthorized(w, "authentication required")
		return
	}
	if err != nil {
		httputil.WriteInternalError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, newRoleStateResponse(state, false))
}

// SetPrimaryRole handles PUT /v1/me/roles/primary
func (h *Handlers) SetPrimaryRole(w http.ResponseWriter, r *http.Request) {
	role, ok := parseRoleBody(w, r)
	if !ok {
		return
	}
	store, ok := h.store(w, r)
	if !ok {
		return
	}

	state, err := store.SetPrimaryRole(r.Context(), role)
	if err != nil {
		writeMutationError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, newRoleStateResponse(state, false))
}

// AddRole handles POST /v1/me/roles
func (h *Handlers) AddRole(w http.ResponseWriter, r *http.Request) {
	role, ok := parseRoleBody(w, r)
	if !ok {
		return
	}
	store, ok := h.store(w, r)
	if !ok {
		return
	}

	state, err := store.AddSecondaryRole(r.Context(), role)
	if err != nil {
		writeMutationError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, newRoleStateResponse(state, false))
}

// RemoveRole handles DELETE /v1/me/roles/{role}
func (h *Handlers) RemoveRole(w http.ResponseWriter, r *http.Request) {
	name, ok := httputil.ParsePathStringOrError(w, r, "role")
	if !ok {
		return
	}
	role, err := ParseRole(name)
	if err != nil {
		httputil.WriteBadRequest(w, err.Error())
		return
	}
	store, ok := h.store(w, r)
	if !ok {
		return
	}

	state, err := store.RemoveSecondaryRole(r.Context(), role)
	if err != nil {
		writeMutationError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, newRoleStateResponse(state, false))
}

// CheckAccess handles GET /v1/access?path=
func (h *Handlers) CheckAccess(w http.ResponseWriter, r *http.Request) {
	path := httputil.ParseQueryString(r, "path", "")
	if path == "" {
		httputil.WriteBadRequest(w, "path is required")
		return
	}

	route, ok := h.routes.Match(path)
	if !ok {
		httputil.WriteErrorCode(w, http.StatusNotFound, "route_not_declared", path)
		return
	}
	route.Path = path

	session := middleware.GetSession(r)
	decision := Evaluate(session, h.directory.Resolution(r.Context(), session), route)
	httputil.WriteJSON(w, http.StatusOK, AccessResponse{
		Path:     path,
		Pattern:  route.Pattern,
		Decision: decision,
	})
}

// store returns the role store of the request's session, writing a 401 when
// nobody is signed in
func (h *Handlers) store(w http.ResponseWriter, r *http.Request) (*Store, bool) {
	store, err := h.directory.Store(r.Context(), middleware.GetSession(r))
	if errors.Is(err, ErrNotAuthenticated) {
		httputil.WriteUnauthorized(w, "authentication required")
		return nil, false
	}
	if err != nil {
		httputil.WriteInternalError(w, err)
		return nil, false
	}
	return store, true
}

func parseRoleBody(w http.ResponseWriter, r *http.Request) (Role, bool) {
	var req roleRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return DefaultRole, false
	}
	role, err := ParseRole(req.Role)
	if err != nil {
		httputil.WriteBadRequest(w, err.Error())
		return DefaultRole, false
	}
	return role, true
}

// writeMutationError maps a store error to its HTTP status
func writeMutationError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, ErrIncompatibleRole):
		httputil.WriteErrorCode(w, http.StatusConflict, "incompatible_role", err.Error())
	case errors.Is(err, ErrPrimaryRoleProtected):
		httputil.WriteErrorCode(w, http.StatusConflict, "primary_role_protected", err.Error())
	case errors.Is(err, ErrRemovalRefused):
		httputil.WriteErrorCode(w, http.StatusConflict, "removal_refused", err.Error())
	case errors.Is(err, ErrSessionChanged):
		httputil.WriteErrorCode(w, http.StatusConflict, "session_changed", err.Error())
	case errors.Is(err, ErrMutationInFlight):
		httputil.WriteErrorCode(w, http.StatusTooManyRequests, "mutation_in_flight", err.Error())
	case errors.Is(err, ErrRemoteWrite):
		observability.FromContext(r.Context()).WithError(err).Warn("Role mutation failed remotely")
		httputil.WriteErrorCode(w, http.StatusBadGateway, "remote_write_failed", err.Error())
	default:
		httputil.WriteInternalError(w, err)
	}
}
