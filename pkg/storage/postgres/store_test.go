package postgres

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// setupTestDB creates an in-memory sqlite database with the campus schema
func setupTestDB(t *testing.T) *ConnectionManager {
	t.Helper()

	db, err := sql.Open("sqlite3", ":memory:")
	require.NoError(t, err)
	// every connection to :memory: is a separate database
	db.SetMaxOpenConns(1)

	_, err = db.Exec(`
		CREATE TABLE profiles (
			id TEXT PRIMARY KEY,
			email TEXT,
			role TEXT NOT NULL DEFAULT 'learner',
			created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
			updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
		);

		CREATE TABLE user_roles (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			user_id TEXT NOT NULL REFERENCES profiles(id) ON DELETE CASCADE,
			role TEXT NOT NULL,
			assigned_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
			UNIQUE(user_id, role)
		);
	`)
	require.NoError(t, err)

	t.Cleanup(func() { db.Close() })
	return NewConnectionManagerFromDB(db)
}

// steppingClock returns increasing timestamps so assignment order is deterministic
func steppingClock() func() time.Time {
	base := time.Date(2026, 1, 1, 9, 0, 0, 0, time.UTC)
	n := 0
	return func() time.Time {
		n++
		return base.Add(time.Duration(n) * time.Minute)
	}
}

// readProfile loads the stored role and email of a profile row
func readProfile(t *testing.T, conn *ConnectionManager, id uuid.UUID) (string, sql.NullString) {
	t.Helper()
	var role string
	var email sql.NullString
	err := conn.Primary().QueryRow("SELECT role, email FROM profiles WHERE id = $1", id).Scan(&role, &email)
	require.NoError(t, err)
	return role, email
}

func TestProfileStore_UpdatePrimaryRole(t *testing.T) {
	ctx := context.Background()
	conn := setupTestDB(t)
	profiles := NewProfileStore(conn)
	id := uuid.New()

	require.NoError(t, profiles.UpdatePrimaryRole(ctx, id, "teacher"))
	role, email := readProfile(t, conn, id)
	assert.Equal(t, "teacher", role)
	assert.False(t, email.Valid)

	require.NoError(t, profiles.UpdatePrimaryRole(ctx, id, "administrator"))
	role, _ = readProfile(t, conn, id)
	assert.Equal(t, "administrator", role)
}

func TestProfileStore_EnsureProfileKeepsRole(t *testing.T) {
	ctx := context.Background()
	conn := setupTestDB(t)
	profiles := NewProfileStore(conn)
	id := uuid.New()

	require.NoError(t, profiles.EnsureProfile(ctx, id, "ada@example.edu", "learner"))
	require.NoError(t, profiles.UpdatePrimaryRole(ctx, id, "teaching_assistant"))
	require.NoError(t, profiles.EnsureProfile(ctx, id, "ada@campus.edu", "learner"))

	role, email := readProfile(t, conn, id)
	assert.Equal(t, "teaching_assistant", role)
	assert.Equal(t, "ada@campus.edu", email.String)
}

func TestProfileStore_EnsureProfileAssignsPrimary(t *testing.T) {
	ctx := context.Background()
	conn := setupTestDB(t)
	profiles := NewProfileStore(conn)
	assignments := NewAssignmentStore(conn)
	id := uuid.New()

	require.NoError(t, profiles.EnsureProfile(ctx, id, "ada@example.edu", "learner"))

	roles, err := assignments.ListRoles(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, []string{"learner"}, roles)

	// a secondary added right after the first sign-in never displaces the primary
	require.NoError(t, assignments.AddRole(ctx, id, "teaching_assistant"))
	roles, err = assignments.ListRoles(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, []string{"learner", "teaching_assistant"}, roles)

	t.Run("sign-in again is idempotent", func(t *testing.T) {
		require.NoError(t, profiles.EnsureProfile(ctx, id, "ada@example.edu", "learner"))
		roles, err := assignments.ListRoles(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, []string{"learner", "teaching_assistant"}, roles)
	})

	t.Run("missing assignment of the stored role is restored", func(t *testing.T) {
		other := uuid.New()
		require.NoError(t, profiles.UpdatePrimaryRole(ctx, other, "teacher"))
		require.NoError(t, profiles.EnsureProfile(ctx, other, "", "learner"))

		roles, err := assignments.ListRoles(ctx, other)
		require.NoError(t, err)
		assert.Equal(t, []string{"teacher"}, roles)
	})
}

func TestAssignmentStore_ListRolesOrdersPrimaryFirst(t *testing.T) {
	ctx := context.Background()
	conn := setupTestDB(t)
	profiles := NewProfileStore(conn)
	assignments := NewAssignmentStore(conn)
	assignments.now = steppingClock()
	id := uuid.New()

	require.NoError(t, profiles.UpdatePrimaryRole(ctx, id, "administrator"))
	require.NoError(t, assignments.AddRole(ctx, id, "teacher"))
	require.NoError(t, assignments.AddRole(ctx, id, "administrator"))

	roles, err := assignments.ListRoles(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, []string{"administrator", "teacher"}, roles)
}

func TestAssignmentStore_ListRolesEmpty(t *testing.T) {
	roles, err := NewAssignmentStore(setupTestDB(t)).ListRoles(context.Background(), uuid.New())
	require.NoError(t, err)
	assert.Empty(t, roles)
}

func TestAssignmentStore_AddRoleIsIdempotent(t *testing.T) {
	ctx := context.Background()
	conn := setupTestDB(t)
	assignments := NewAssignmentStore(conn)
	id := uuid.New()

	require.NoError(t, NewProfileStore(conn).UpdatePrimaryRole(ctx, id, "learner"))
	require.NoError(t, assignments.AddRole(ctx, id, "learner"))
	require.NoError(t, assignments.AddRole(ctx, id, "learner"))

	roles, err := assignments.ListRoles(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, []string{"learner"}, roles)
}

func TestAssignmentStore_RemoveRole(t *testing.T) {
	ctx := context.Background()
	conn := setupTestDB(t)
	assignments := NewAssignmentStore(conn)
	id := uuid.New()

	require.NoError(t, NewProfileStore(conn).UpdatePrimaryRole(ctx, id, "learner"))
	require.NoError(t, assignments.AddRole(ctx, id, "learner"))
	require.NoError(t, assignments.AddRole(ctx, id, "teaching_assistant"))

	t.Run("primary role is declined", func(t *testing.T) {
		removed, err := assignments.RemoveRole(ctx, id, "learner")
		require.NoError(t, err)
		assert.False(t, removed)
	})

	t.Run("secondary role is removed", func(t *testing.T) {
		removed, err := assignments.RemoveRole(ctx, id, "teaching_assistant")
		require.NoError(t, err)
		assert.True(t, removed)

		roles, err := assignments.ListRoles(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, []string{"learner"}, roles)
	})

	t.Run("role not held succeeds", func(t *testing.T) {
		removed, err := assignments.RemoveRole(ctx, id, "teaching_assistant")
		require.NoError(t, err)
		assert.True(t, removed)
	})
}

func TestAssignmentStore_RepairPrimaryAssignments(t *testing.T) {
	ctx := context.Background()
	conn := setupTestDB(t)
	profiles := NewProfileStore(conn)
	assignments := NewAssignmentStore(conn)

	drifted := []uuid.UUID{uuid.New(), uuid.New(), uuid.New()}
	for _, id := range drifted {
		require.NoError(t, profiles.UpdatePrimaryRole(ctx, id, "teacher"))
	}
	consistent := uuid.New()
	require.NoError(t, profiles.UpdatePrimaryRole(ctx, consistent, "learner"))
	require.NoError(t, assignments.AddRole(ctx, consistent, "learner"))

	n, err := assignments.RepairPrimaryAssignments(ctx, 2)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	n, err = assignments.RepairPrimaryAssignments(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	n, err = assignments.RepairPrimaryAssignments(ctx, 10)
	require.NoError(t, err)
	assert.Zero(t, n)

	for _, id := range drifted {
		roles, err := assignments.ListRoles(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, []string{"teacher"}, roles)
	}
}

func TestAssignmentStore_DatabaseErrors(t *testing.T) {
	ctx := context.Background()
	id := uuid.New()

	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()
	assignments := NewAssignmentStore(NewConnectionManagerFromDB(db))

	mock.ExpectQuery("SELECT ur.role").WillReturnError(errors.New("connection reset"))
	_, err = assignments.ListRoles(ctx, id)
	assert.ErrorContains(t, err, "failed to list roles")

	mock.ExpectExec("INSERT INTO user_roles").WillReturnError(errors.New("connection reset"))
	assert.ErrorContains(t, assignments.AddRole(ctx, id, "teacher"), "failed to add role")

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT role FROM profiles").WillReturnRows(sqlmock.NewRows([]string{"role"}).AddRow("teacher"))
	mock.ExpectExec("DELETE FROM user_roles").WillReturnError(errors.New("deadlock"))
	mock.ExpectRollback()
	removed, err := assignments.RemoveRole(ctx, id, "administrator")
	assert.False(t, removed)
	assert.ErrorContains(t, err, "failed to remove role")

	mock.ExpectExec("INSERT INTO user_roles").WillReturnError(errors.New("read only"))
	_, err = assignments.RepairPrimaryAssignments(ctx, 10)
	assert.ErrorContains(t, err, "failed to repair primary assignments")

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestProfileStore_DatabaseErrors(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()
	profiles := NewProfileStore(NewConnectionManagerFromDB(db))

	mock.ExpectExec("INSERT INTO profiles").WillReturnError(errors.New("constraint"))
	err = profiles.UpdatePrimaryRole(context.Background(), uuid.New(), "teacher")
	assert.ErrorContains(t, err, "failed to update primary role")

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO profiles").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO user_roles").WillReturnError(errors.New("deadlock"))
	mock.ExpectRollback()
	err = profiles.EnsureProfile(context.Background(), uuid.New(), "ada@campus.edu", "learner")
	assert.ErrorContains(t, err, "failed to ensure primary assignment")
	assert.NoError(t, mock.ExpectationsWereMet())
}
