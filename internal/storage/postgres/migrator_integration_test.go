package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestMigrator_UpDownLifecycle(t *testing.T) {
	store := openRawPostgresStoreForIntegrationTest(t)
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	steps := []struct {
		stage   string
		apply   func() error
		version int64
		applied int
	}{
		{"reset", func() error { return store.MigrateDown(ctx, 100) }, 0, 0},
		{"up one step", func() error { return store.MigrateUp(ctx, 1) }, 1, 1},
		{"up", func() error { return store.MigrateUp(ctx, 0) }, 2, 2},
		{"repeated up", func() error { return store.MigrateUp(ctx, 0) }, 2, 2},
		{"down", func() error { return store.MigrateDown(ctx, 0) }, 1, 1},
		{"down rest", func() error { return store.MigrateDown(ctx, 5) }, 0, 0},
		{"down on empty schema", func() error { return store.MigrateDown(ctx, 1) }, 0, 0},
		{"ensure schema", func() error { return store.EnsureSchema(ctx) }, 2, 2},
	}
	for _, step := range steps {
		require.NoError(t, step.apply(), step.stage)
		version, applied, err := store.MigrationStatus(ctx)
		require.NoError(t, err, step.stage)
		require.Equal(t, step.version, version, step.stage)
		require.Equal(t, step.applied, applied, step.stage)
	}
}

func TestMigrator_NilStore(t *testing.T) {
	var store *Store
	ctx := context.Background()

	require.ErrorIs(t, store.MigrateUp(ctx, 0), errStoreClosed)
	require.ErrorIs(t, store.MigrateDown(ctx, 1), errStoreClosed)
	_, _, err := store.MigrationStatus(ctx)
	require.ErrorIs(t, err, errStoreClosed)
}
