package postgres

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIsDatabaseAvailable(t *testing.T) {
	t.Run("returns true when env var is set", func(t *testing.T) {
		t.Setenv(TestDatabaseEnv, "postgres://test")
		assert.True(t, IsDatabaseAvailable())
	})

	t.Run("returns false when env var is empty", func(t *testing.T) {
		t.Setenv(TestDatabaseEnv, "")
		assert.False(t, IsDatabaseAvailable())
	})
}

func TestSkipIfNoDatabase(t *testing.T) {
	t.Setenv(TestDatabaseEnv, "postgres://fake")
	assert.Equal(t, "postgres://fake", SkipIfNoDatabase(t))
}
