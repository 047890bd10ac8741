// Package testutil opens migrated SQLite databases for tests.
package testutil

import (
	"path/filepath"
	"testing"

	"github.com/garyjia/bordereau-engine/internal/infrastructure/persistence/sqlite"
	"github.com/garyjia/bordereau-engine/pkg/database"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// NewDB returns a migrated file-backed database removed at test cleanup
func NewDB(t testing.TB) *sqlite.DB {
	t.Helper()

	logger := zap.NewNop()
	db, err := database.New(database.Config{
		Path:         filepath.Join(t.TempDir(), "bordereau.db"),
		MaxOpenConns: 4,
	}, logger)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	_, err = database.NewMigrator(db, logger).Run(database.Migrations())
	require.NoError(t, err)

	return sqlite.NewDB(db.DB, logger)
}
