package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// ProfileStore persists the single-valued primary role field
type ProfileStore struct {
	conn *ConnectionManager
	now  func() time.Time
}

// NewProfileStore creates a profile store
func NewProfileStore(conn *ConnectionManager) *ProfileStore {
	return &ProfileStore{conn: conn, now: time.Now}
}

// UpdatePrimaryRole writes the primary role token, creating the profile row if needed
func (s *ProfileStore) UpdatePrimaryRole(ctx context.Context, principal uuid.UUID, token string) error {
	query := `
		INSERT INTO profiles (id, role, created_at, updated_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (id) DO UPDATE SET role = excluded.role, updated_at = excluded.updated_at
	`

	now := s.now()
	if _, err := s.conn.Primary().ExecContext(ctx, query, principal, token, now, now); err != nil {
		return fmt.Errorf("failed to update primary role: %w", err)
	}
	return nil
}

// EnsureProfile creates a profile for a newly signed-in principal together
// with the assignment row of its primary role. An existing profile keeps its
// role; its assignment row is restored if missing.
func (s *ProfileStore) EnsureProfile(ctx context.Context, principal uuid.UUID, email, token string) error {
	tx, err := s.conn.Primary().BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to start transaction: %w", err)
	}
	defer tx.Rollback()

	now := s.now()
	_, err = tx.ExecContext(ctx, `
		INSERT INTO profiles (id, email, role, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (id) DO UPDATE SET email = excluded.email
	`, principal, nullString(email), token, now, now)
	if err != nil {
		return fmt.Errorf("failed to ensure profile: %w", err)
	}

	// the stored role wins over token for an existing profile
	_, err = tx.ExecContext(ctx, `
		INSERT INTO user_roles (user_id, role)
		SELECT id, role FROM profiles WHERE id = $1
		ON CONFLICT (user_id, role) DO NOTHING
	`, principal)
	if err != nil {
		return fmt.Errorf("failed to ensure primary assignment: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit profile: %w", err)
	}
	return nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
