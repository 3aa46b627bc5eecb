package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// AssignmentStore is the role assignment service over the user_roles table
type AssignmentStore struct {
	conn *ConnectionManager
	now  func() time.Time
}

// NewAssignmentStore creates an assignment store
func NewAssignmentStore(conn *ConnectionManager) *AssignmentStore {
	return &AssignmentStore{conn: conn, now: time.Now}
}

// ListRoles returns the role tokens held by principal. The profile's primary
// role sorts first, then assignments in the order they were made.
func (s *AssignmentStore) ListRoles(ctx context.Context, principal uuid.UUID) ([]string, error) {
	query := `
		SELECT ur.role
		FROM user_roles ur
		LEFT JOIN profiles p ON p.id = ur.user_id
		WHERE ur.user_id = $1
		ORDER BY CASE WHEN ur.role = p.role THEN 0 ELSE 1 END, ur.assigned_at, ur.id
	`

	rows, err := s.conn.Replica().QueryContext(ctx, query, principal)
	if err != nil {
		return nil, fmt.Errorf("failed to list roles: %w", err)
	}
	defer rows.Close()

	var tokens []string
	for rows.Next() {
		var token string
		if err := rows.Scan(&token); err != nil {
			return nil, fmt.Errorf("failed to scan role: %w", err)
		}
		tokens = append(tokens, token)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to list roles: %w", err)
	}

	return tokens, nil
}

// AddRole records an assignment. Re-adding a held role is a no-op.
func (s *AssignmentStore) AddRole(ctx context.Context, principal uuid.UUID, token string) error {
	query := `
		INSERT INTO user_roles (user_id, role, assigned_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (user_id, role) DO NOTHING
	`

	if _, err := s.conn.Primary().ExecContext(ctx, query, principal, token, s.now()); err != nil {
		return fmt.Errorf("failed to add role: %w", err)
	}
	return nil
}

// RemoveRole deletes an assignment. The removal is declined (false, nil) when
// token is the profile's primary role, so the two storage shapes cannot drift
// apart. Removing a role that is not held succeeds.
func (s *AssignmentStore) RemoveRole(ctx context.Context, principal uuid.UUID, token string) (bool, error) {
	tx, err := s.conn.Primary().BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("failed to start transaction: %w", err)
	}
	defer tx.Rollback()

	var primary string
	err = tx.QueryRowContext(ctx, "SELECT role FROM profiles WHERE id = $1", principal).Scan(&primary)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return false, fmt.Errorf("failed to read primary role: %w", err)
	}
	if primary == token {
		return false, nil
	}

	if _, err := tx.ExecContext(ctx, "DELETE FROM user_roles WHERE user_id = $1 AND role = $2", principal, token); err != nil {
		return false, fmt.Errorf("failed to remove role: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("failed to commit role removal: %w", err)
	}
	return true, nil
}

// RepairPrimaryAssignments inserts the missing user_roles row for up to limit
// profiles whose primary role has no matching assignment. It returns the number
// of rows inserted.
func (s *AssignmentStore) RepairPrimaryAssignments(ctx context.Context, limit int) (int, error) {
	query := `
		INSERT INTO user_roles (user_id, role)
		SELECT p.id, p.role
		FROM profiles p
		WHERE NOT EXISTS (
			SELECT 1 FROM user_roles ur WHERE ur.user_id = p.id AND ur.role = p.role
		)
		ORDER BY p.id
		LIMIT $1
	`

	result, err := s.conn.Primary().ExecContext(ctx, query, limit)
	if err != nil {
		return 0, fmt.Errorf("failed to repair primary assignments: %w", err)
	}

	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to count repaired assignments: %w", err)
	}
	return int(n), nil
}
