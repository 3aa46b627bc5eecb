package auth

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// Status describes how far session retrieval has progressed
type Status int

const (
	// StatusAbsent means no principal is signed in
	StatusAbsent Status = iota
	// StatusLoading means session retrieval is still in flight
	StatusLoading
	// StatusPresent means a principal is signed in
	StatusPresent
)

func (s Status) String() string {
	switch s {
	case StatusAbsent:
		return "absent"
	case StatusLoading:
		return "loading"
	case StatusPresent:
		return "present"
	default:
		return "unknown"
	}
}

// MetadataRoleKey is the metadata key holding the principal's role hint
const MetadataRoleKey = "role"

// Principal is the signed-in end user
type Principal struct {
	ID       uuid.UUID         `json:"id"`
	Email    string            `json:"email,omitempty"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

// RoleHint returns the role token attached to the session metadata, if any
func (p *Principal) RoleHint() (string, bool) {
	if p == nil || p.Metadata == nil {
		return "", false
	}
	hint := strings.TrimSpace(p.Metadata[MetadataRoleKey])
	if hint == "" {
		return "", false
	}
	return hint, true
}

// Session is the authentication state seen by one request or view
type Session struct {
	ID        string     `json:"id,omitempty"`
	Status    Status     `json:"status"`
	Principal *Principal `json:"principal,omitempty"`
	IssuedAt  time.Time  `json:"issued_at,omitempty"`
	ExpiresAt time.Time  `json:"expires_at,omitempty"`
}

// AbsentSession returns a session with no principal
func AbsentSession() *Session {
	return &Session{Status: StatusAbsent}
}

// LoadingSession returns a session whose retrieval has not settled
func LoadingSession() *Session {
	return &Session{Status: StatusLoading}
}

// NewSession returns a present session for principal
func NewSession(id string, principal *Principal, issuedAt, expiresAt time.Time) *Session {
	return &Session{
		ID:        id,
		Status:    StatusPresent,
		Principal: principal,
		IssuedAt:  issuedAt,
		ExpiresAt: expiresAt,
	}
}

// Authenticated reports whether a principal is signed in
func (s *Session) Authenticated() bool {
	return s != nil && s.Status == StatusPresent && s.Principal != nil
}

// Settled reports whether session retrieval has produced a definite answer
func (s *Session) Settled() bool {
	return s != nil && s.Status != StatusLoading
}

// PrincipalID returns the principal id, or uuid.Nil when nobody is signed in
func (s *Session) PrincipalID() uuid.UUID {
	if !s.Authenticated() {
		return uuid.Nil
	}
	return s.Principal.ID
}

// SameIdentity reports whether two sessions describe the same signed-in principal.
// Two unauthenticated sessions count as the same identity.
func (s *Session) SameIdentity(other *Session) bool {
	if s.Authenticated() != other.Authenticated() {
		return false
	}
	if !s.Authenticated() {
		return true
	}
	return s.ID == other.ID && s.Principal.ID == other.Principal.ID
}
