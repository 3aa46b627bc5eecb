package rbac

import (
	"context"

	"github.com/platinummonkey/campus/pkg/auth"
)

// RoleLister is the read side of the authoritative role assignment service.
// It returns the storage tokens held by principal in service order.
type RoleLister interface {
	ListRoles(ctx context.Context, principal PrincipalID) ([]string, error)
}

// RoleMutator is the write side of the role assignment service
type RoleMutator interface {
	// AddRole records an assignment. Adding a held role succeeds without change.
	AddRole(ctx context.Context, principal PrincipalID, token string) error

	// RemoveRole deletes an assignment. removed is false when the service
	// declines the removal.
	RemoveRole(ctx context.Context, principal PrincipalID, token string) (removed bool, err error)
}

// RoleService is the complete role assignment service
type RoleService interface {
	RoleLister
	RoleMutator
}

// ProfileStore holds the single-valued primary role field
type ProfileStore interface {
	UpdatePrimaryRole(ctx context.Context, principal PrincipalID, token string) error
}

// SessionProvider delivers sign-in and sign-out events. *auth.Broker implements it.
type SessionProvider interface {
	Subscribe(listener auth.Listener) (unsubscribe func())
}
