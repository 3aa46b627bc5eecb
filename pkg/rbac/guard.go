package rbac

import (
	"sync"

	"github.com/platinummonkey/campus/pkg/auth"
)

// Outcome is the access guard classification of a route visit
type Outcome int

const (
	// Pending means the session or the role resolution is still in flight
	Pending Outcome = iota
	// Denied means the principal is signed out or lacks a required role
	Denied
	// Granted means the protected content may be shown
	Granted
)

func (o Outcome) String() string {
	switch o {
	case Pending:
		return "pending"
	case Denied:
		return "denied"
	case Granted:
		return "granted"
	default:
		return "unknown"
	}
}

// MarshalText encodes the outcome name
func (o Outcome) MarshalText() ([]byte, error) {
	return []byte(o.String()), nil
}

// DenyReason explains a Denied outcome
type DenyReason string

const (
	ReasonUnauthenticated DenyReason = "unauthenticated"
	ReasonMissingRole     DenyReason = "missing_role"
)

// Route is a protected route visit: the requested path and the roles the
// matching declaration accepts. No roles means any signed-in principal.
type Route struct {
	Path     string `json:"path"`
	Pattern  string `json:"pattern,omitempty"`
	Required []Role `json:"required_roles,omitempty"`
}

// RequiresRoles reports whether the route declares acceptable roles
func (r Route) RequiresRoles() bool {
	return len(r.Required) > 0
}

// Resolution is the role resolution result seen by the guard. Settled is false
// while resolution is in flight.
type Resolution struct {
	Principal PrincipalID
	Settled   bool
	State     State
}

// ResolvedFor returns a settled resolution of state for principal
func ResolvedFor(principal PrincipalID, state State) Resolution {
	return Resolution{Principal: principal, Settled: true, State: state}
}

// Decision is the guard's answer for one route visit
type Decision struct {
	Outcome Outcome    `json:"outcome"`
	Reason  DenyReason `json:"reason,omitempty"`
	// ReturnTo is the requested path, for the post sign-in redirect
	ReturnTo string `json:"return_to,omitempty"`
	// Required names the acceptable roles when a role is missing
	Required []Role `json:"required_roles,omitempty"`
}

// Evaluate classifies a route visit. A route that requires roles stays
// Pending until a resolution for the current principal has settled, even when
// the session itself is already known.
func Evaluate(session *auth.Session, resolution Resolution, route Route) Decision {
	if session == nil || !session.Settled() {
		return Decision{Outcome: Pending}
	}
	if !session.Authenticated() {
		return Decision{Outcome: Denied, Reason: ReasonUnauthenticated, ReturnTo: route.Path}
	}
	if !route.RequiresRoles() {
		return Decision{Outcome: Granted}
	}

	// a resolution for another principal is stale
	if !resolution.Settled || resolution.Principal != session.PrincipalID() {
		return Decision{Outcome: Pending}
	}
	if resolution.State.Roles.Intersects(route.Required) {
		return Decision{Outcome: Granted}
	}

	required := make([]Role, len(route.Required))
	copy(required, route.Required)
	return Decision{Outcome: Denied, Reason: ReasonMissingRole, Required: required}
}

// Gate is the guard state for one mounted route. Once definite, a decision
// never returns to Pending for the same identity; an identity change restarts
// it.
type Gate struct {
	mu       sync.Mutex
	route    Route
	identity *auth.Session
	decision Decision
}

// NewGate creates a gate for route, starting Pending
func NewGate(route Route) *Gate {
	return &Gate{route: route}
}

// Update feeds the latest session and resolution to the gate and returns the
// current decision
func (g *Gate) Update(session *auth.Session, resolution Resolution) Decision {
	g.mu.Lock()
	defer g.mu.Unlock()

	if session.Settled() && (g.identity == nil || !g.identity.SameIdentity(session)) {
		g.identity = session
		g.decision = Decision{Outcome: Pending}
	}

	next := Evaluate(session, resolution, g.route)
	if next.Outcome == Pending && g.decision.Outcome != Pending {
		return g.decision
	}
	g.decision = next
	return next
}

// Decision returns the current decision without new input
func (g *Gate) Decision() Decision {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.decision
}
