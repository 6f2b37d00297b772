package database

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rtcore/internal/models"
)

func TestConnect_SQLite(t *testing.T) {
	db, err := Connect(DriverSQLite, "file:connect_test?mode=memory&cache=shared")
	require.NoError(t, err)
	t.Cleanup(func() { _ = Close(db) })

	require.NoError(t, Migrate(db))
	assert.True(t, db.Migrator().HasTable(&models.Message{}))
	assert.True(t, db.Migrator().HasTable(&models.CallRecord{}))
	assert.True(t, db.Migrator().HasColumn(&models.Message{}, "is_read"))

	// migrations are idempotent
	require.NoError(t, Migrate(db))
}

func TestConnect_UnknownDriver(t *testing.T) {
	_, err := Connect("postgres", "whatever")
	assert.ErrorContains(t, err, `unsupported database driver "postgres"`)
}
