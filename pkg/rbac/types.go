package rbac

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// Role represents one of the four application-level roles a principal can hold
type Role int

const (
	Learner Role = iota
	TeachingAssistant
	Teacher
	Administrator
)

// AllRoles lists every role in display order
func AllRoles() []Role {
	return []Role{Learner, TeachingAssistant, Teacher, Administrator}
}

// DefaultRole is the least-privileged role, used whenever nothing better is known
const DefaultRole = Learner

// String returns the display name of the role
func (r Role) String() string {
	switch r {
	case Learner:
		return "Learner"
	case TeachingAssistant:
		return "TeachingAssistant"
	case Teacher:
		return "Teacher"
	case Administrator:
		return "Administrator"
	default:
		return fmt.Sprintf("Role(%d)", int(r))
	}
}

// Valid reports whether r is one of the four known roles
func (r Role) Valid() bool {
	return r >= Learner && r <= Administrator
}

// MarshalText encodes the role as its storage token
func (r Role) MarshalText() ([]byte, error) {
	if !r.Valid() {
		return nil, fmt.Errorf("%w: %d", ErrUnknownRole, int(r))
	}
	return []byte(ToStorage(r)), nil
}

// UnmarshalText decodes a storage token or display name
func (r *Role) UnmarshalText(text []byte) error {
	parsed, err := ParseRole(string(text))
	if err != nil {
		return err
	}
	*r = parsed
	return nil
}

// Cluster is one of the two mutually exclusive partitions of the roles
type Cluster string

const (
	ClusterStaff       Cluster = "staff"
	ClusterParticipant Cluster = "participant"
)

// PrincipalID identifies an authenticated principal
type PrincipalID = uuid.UUID

// RoleSet is an ordered, duplicate-free set of roles. Order is insertion order.
type RoleSet struct {
	roles []Role
}

// NewRoleSet builds a set from roles, keeping the first occurrence of duplicates
func NewRoleSet(roles ...Role) RoleSet {
	var s RoleSet
	for _, r := range roles {
		s = s.With(r)
	}
	return s
}

// Contains reports whether r is in the set
func (s RoleSet) Contains(r Role) bool {
	for _, existing := range s.roles {
		if existing == r {
			return true
		}
	}
	return false
}

// Len returns the number of roles in the set
func (s RoleSet) Len() int {
	return len(s.roles)
}

// IsEmpty reports whether the set holds no roles
func (s RoleSet) IsEmpty() bool {
	return len(s.roles) == 0
}

// Slice returns a copy of the roles in order
func (s RoleSet) Slice() []Role {
	out := make([]Role, len(s.roles))
	copy(out, s.roles)
	return out
}

// First returns the first role in the set
func (s RoleSet) First() (Role, bool) {
	if len(s.roles) == 0 {
		return DefaultRole, false
	}
	return s.roles[0], true
}

// With returns a new set with r appended if absent
func (s RoleSet) With(r Role) RoleSet {
	if s.Contains(r) {
		return s
	}
	roles := make([]Role, len(s.roles), len(s.roles)+1)
	copy(roles, s.roles)
	return RoleSet{roles: append(roles, r)}
}

// Without returns a new set with r removed
func (s RoleSet) Without(r Role) RoleSet {
	roles := make([]Role, 0, len(s.roles))
	for _, existing := range s.roles {
		if existing != r {
			roles = append(roles, existing)
		}
	}
	return RoleSet{roles: roles}
}

// Intersects reports whether any role in other is also in s
func (s RoleSet) Intersects(other []Role) bool {
	for _, r := range other {
		if s.Contains(r) {
			return true
		}
	}
	return false
}

// Tokens returns the storage tokens of the roles in order
func (s RoleSet) Tokens() []string {
	tokens := make([]string, 0, len(s.roles))
	for _, r := range s.roles {
		tokens = append(tokens, ToStorage(r))
	}
	return tokens
}

// String renders the set as {a, b}
func (s RoleSet) String() string {
	names := make([]string, 0, len(s.roles))
	for _, r := range s.roles {
		names = append(names, r.String())
	}
	return "{" + strings.Join(names, ", ") + "}"
}

// MarshalJSON encodes the set as an array of storage tokens
func (s RoleSet) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.Tokens())
}

// UnmarshalJSON decodes an array of storage tokens
func (s *RoleSet) UnmarshalJSON(data []byte) error {
	var tokens []string
	if err := json.Unmarshal(data, &tokens); err != nil {
		return err
	}
	roles := make([]Role, 0, len(tokens))
	for _, t := range tokens {
		r, err := ParseRole(t)
		if err != nil {
			return err
		}
		roles = append(roles, r)
	}
	*s = NewRoleSet(roles...)
	return nil
}

// Source records which resolution stage produced a state
type Source string

const (
	SourceAuthoritative Source = "authoritative"
	SourceMetadata      Source = "metadata"
	SourceDefault       Source = "default"
	SourceMutation      Source = "mutation"
)

// State is the role state of one principal for the lifetime of a session
type State struct {
	Primary Role    `json:"primary_role"`
	Roles   RoleSet `json:"roles"`
	Source  Source  `json:"source,omitempty"`
}

// DefaultState returns {primary: Learner, roles: {Learner}}
func DefaultState() State {
	return State{
		Primary: DefaultRole,
		Roles:   NewRoleSet(DefaultRole),
		Source:  SourceDefault,
	}
}

// SingleRoleState returns a state holding only role
func SingleRoleState(role Role, source Source) State {
	return State{
		Primary: role,
		Roles:   NewRoleSet(role),
		Source:  source,
	}
}

// Validate checks that the state is non-empty, holds its primary role, and
// does not straddle clusters
func (s State) Validate() error {
	if s.Roles.IsEmpty() {
		return fmt.Errorf("%w: empty role set", ErrInvalidState)
	}
	if !s.Roles.Contains(s.Primary) {
		return fmt.Errorf("%w: primary role %s not in %s", ErrInvalidState, s.Primary, s.Roles)
	}
	cluster := ClusterOf(s.Primary)
	for _, r := range s.Roles.roles {
		if !r.Valid() {
			return fmt.Errorf("%w: %s", ErrUnknownRole, r)
		}
		if ClusterOf(r) != cluster {
			return fmt.Errorf("%w: %s straddles clusters", ErrInvalidState, s.Roles)
		}
	}
	return nil
}

// Has reports whether the state holds role
func (s State) Has(role Role) bool {
	return s.Roles.Contains(role)
}

// Cluster returns the cluster the state's roles belong to
func (s State) Cluster() Cluster {
	return ClusterOf(s.Primary)
}

// Available returns the roles that could additionally be held without
// violating cluster exclusivity
func (s State) Available() []Role {
	return AvailableRolesFor(s.Roles)
}

// Addable returns the compatible roles not yet held
func (s State) Addable() []Role {
	var out []Role
	for _, r := range s.Available() {
		if !s.Roles.Contains(r) {
			out = append(out, r)
		}
	}
	return out
}
