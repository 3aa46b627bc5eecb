package postgres

import (
	"context"
	"os"
	"testing"
	"time"
)

// TestDatabaseEnv names the variable holding a pre-provisioned test database URL
const TestDatabaseEnv = "TEST_POSTGRES_PRIMARY"

// SkipIfNoDatabase skips the test if TEST_POSTGRES_PRIMARY is not set.
// This allows tests to run in CI where the database is available, but skip locally if not configured.
func SkipIfNoDatabase(t *testing.T) string {
	t.Helper()

	dbURL := os.Getenv(TestDatabaseEnv)
	if dbURL == "" {
		t.Skipf("Skipping test: %s environment variable not set (database not available)", TestDatabaseEnv)
	}

	return dbURL
}

// SkipIfNoDatabaseOrShort skips the test if running in short mode OR if database is not available.
func SkipIfNoDatabaseOrShort(t *testing.T) string {
	t.Helper()

	if testing.Short() {
		t.Skip("Skipping database test in short mode")
	}

	return SkipIfNoDatabase(t)
}

// RequireDatabase connects to the test database, runs the migrations, and
// closes the connection when the test ends. Skips when none is configured.
func RequireDatabase(t *testing.T) *ConnectionManager {
	t.Helper()

	dbURL := SkipIfNoDatabase(t)
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	conn, err := NewConnectionManager(ctx, ConnectionConfig{PrimaryURL: dbURL, MaxConns: 5, MinConns: 1}, nil)
	if err != nil {
		t.Skipf("Database not reachable: %v", err)
	}
	if err := RunMigrations(ctx, conn.Primary(), nil); err != nil {
		conn.Close()
		t.Fatalf("Failed to run migrations: %v", err)
	}
	t.Cleanup(func() { conn.Close() })

	return conn
}

// IsDatabaseAvailable returns true if TEST_POSTGRES_PRIMARY is set (does not test connection).
func IsDatabaseAvailable() bool {
	return os.Getenv(TestDatabaseEnv) != ""
}
