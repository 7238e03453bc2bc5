package database

import (
	"context"
	"testing"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/bsm/redislock"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mohans/snaptutor/internal/logging"
)

func TestMigrate_Idempotent(t *testing.T) {
	ctx := context.Background()
	db, dialect, err := Open(ctx, "file:schema_idem?mode=memory&cache=shared")
	require.NoError(t, err)
	defer db.Close()

	require.NoError(t, Migrate(ctx, db, dialect))
	require.NoError(t, Migrate(ctx, db, dialect))

	var n int
	require.NoError(t, db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM sqlite_master WHERE type = 'index' AND name IN ('idx_history_user_timestamp', 'idx_task_status_user')`).Scan(&n))
	assert.Equal(t, 2, n)
}

func TestMigrateLocked_ReleasesLock(t *testing.T) {
	ctx := context.Background()
	s := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: s.Addr()})
	defer rdb.Close()

	db, dialect, err := Open(ctx, "file:schema_locked?mode=memory&cache=shared")
	require.NoError(t, err)
	defer db.Close()

	locker := redislock.New(rdb)
	require.NoError(t, MigrateLocked(ctx, db, dialect, locker, logging.Discard()))
	assert.False(t, s.Exists(migrateLockKey), "lock must be released after migration")

	var n int
	require.NoError(t, db.QueryRowContext(ctx, `SELECT COUNT(*) FROM task_status`).Scan(&n))
	assert.Zero(t, n)
}

func TestMigrate_UnknownDialect(t *testing.T) {
	assert.Error(t, Migrate(context.Background(), nil, Dialect("oracle")))
}
