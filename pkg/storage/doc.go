// Package storage holds the persistence configuration shared by the PostgreSQL
// repositories in pkg/storage/postgres and the role state cache in pkg/cache.
//
// Two storage shapes describe a principal's roles:
//
//   - profiles.role: the single-valued primary role field
//   - user_roles: the multi-valued role assignment table
//
// pkg/storage/postgres implements both behind the collaborator interfaces that
// pkg/rbac declares (ProfileStore, RoleLister, RoleMutator).
package storage
