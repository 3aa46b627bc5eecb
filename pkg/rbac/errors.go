package rbac

import (
	"errors"
	"fmt"
)

var (
	// ErrUnknownRole is returned when user input names no known role
	ErrUnknownRole = errors.New("unknown role")

	// ErrInvalidState is returned when a state violates the role invariants
	ErrInvalidState = errors.New("invalid role state")

	// ErrIncompatibleRole is returned when a role would straddle clusters
	ErrIncompatibleRole = errors.New("incompatible role")

	// ErrPrimaryRoleProtected is returned when removing the primary role
	ErrPrimaryRoleProtected = errors.New("primary role cannot be removed")

	// ErrRemovalRefused is returned when the assignment service declines a removal
	ErrRemovalRefused = errors.New("role removal refused")

	// ErrRemoteWrite wraps storage failures during a mutation
	ErrRemoteWrite = errors.New("remote write failed")

	// ErrMutationInFlight is returned when a mutation starts while another is pending
	ErrMutationInFlight = errors.New("role mutation already in flight")

	// ErrSessionChanged is returned when the session was reset during a mutation
	ErrSessionChanged = errors.New("session changed during mutation")
)

// Op names a role mutation
type Op string

const (
	OpSetPrimary      Op = "set_primary"
	OpAddSecondary    Op = "add_secondary"
	OpRemoveSecondary Op = "remove_secondary"
)

// MutationError describes a rejected mutation
type MutationError struct {
	Op   Op
	Role Role
	Err  error
}

func (e *MutationError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Op, ToStorage(e.Role), e.Err)
}

func (e *MutationError) Unwrap() error {
	return e.Err
}

// IsInvariantViolation reports whether err is a synchronous rejection that
// retrying with the same input cannot fix
func IsInvariantViolation(err error) bool {
	return errors.Is(err, ErrIncompatibleRole) || errors.Is(err, ErrPrimaryRoleProtected)
}

// IsRetryable reports whether the same mutation may be retried
func IsRetryable(err error) bool {
	return errors.Is(err, ErrRemoteWrite) || errors.Is(err, ErrMutationInFlight) || errors.Is(err, ErrSessionChanged)
}

// ErrNotAuthenticated is returned when role state is requested for a session
// without a signed-in principal
var ErrNotAuthenticated = errors.New("session is not authenticated")
