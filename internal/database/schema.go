package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/bsm/redislock"
	"github.com/sirupsen/logrus"
)

const migrateLockKey = "snaptutor:schema-migrate"

var tables = map[Dialect][]string{
	Postgres: {
		`CREATE TABLE IF NOT EXISTS history (
			id           SERIAL PRIMARY KEY,
			user_id      VARCHAR(255) NOT NULL,
			school_id    VARCHAR(255),
			image_base64 TEXT NOT NULL,
			explanation  TEXT NOT NULL,
			timestamp    TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE TABLE IF NOT EXISTS task_status (
			task_id       VARCHAR(255) PRIMARY KEY,
			user_id       VARCHAR(255) NOT NULL,
			status        VARCHAR(50)  NOT NULL,
			result        TEXT,
			error_message TEXT,
			created_at    TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT CURRENT_TIMESTAMP,
			updated_at    TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`,
	},
	SQLite: {
		`CREATE TABLE IF NOT EXISTS history (
			id           INTEGER PRIMARY KEY AUTOINCREMENT,
			user_id      VARCHAR(255) NOT NULL,
			school_id    VARCHAR(255),
			image_base64 TEXT NOT NULL,
			explanation  TEXT NOT NULL,
			timestamp    DATETIME NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS task_status (
			task_id       VARCHAR(255) PRIMARY KEY,
			user_id       VARCHAR(255) NOT NULL,
			status        VARCHAR(50)  NOT NULL,
			result        TEXT,
			error_message TEXT,
			created_at    DATETIME NOT NULL,
			updated_at    DATETIME NOT NULL
		)`,
	},
}

var indexes = []string{
	`CREATE INDEX IF NOT EXISTS idx_history_user_timestamp ON history (user_id, timestamp DESC)`,
	`CREATE INDEX IF NOT EXISTS idx_task_status_user ON task_status (user_id, created_at DESC)`,
}

// Migrate creates the history and task_status tables and their indexes.
// It is safe to run repeatedly.
func Migrate(ctx context.Context, db *sql.DB, dialect Dialect) error {
	stmts, ok := tables[dialect]
	if !ok {
		return fmt.Errorf("migrate: unsupported dialect %q", dialect)
	}
	for _, stmt := range append(append([]string{}, stmts...), indexes...) {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	return nil
}

// MigrateLocked runs Migrate while holding a redis lock, so replicas starting
// together do not race on DDL. With a nil locker it just runs Migrate.
func MigrateLocked(ctx context.Context, db *sql.DB, dialect Dialect, locker *redislock.Client, logger *logrus.Logger) error {
	if locker == nil {
		return Migrate(ctx, db, dialect)
	}
	lock, err := locker.Obtain(ctx, migrateLockKey, 30*time.Second, &redislock.Options{
		RetryStrategy: redislock.LimitRetry(redislock.LinearBackoff(500*time.Millisecond), 60),
	})
	if errors.Is(err, redislock.ErrNotObtained) {
		return fmt.Errorf("migrate: another instance holds %s", migrateLockKey)
	}
	if err != nil {
		return fmt.Errorf("migrate: obtain lock: %w", err)
	}
	defer func() {
		if err := lock.Release(context.WithoutCancel(ctx)); err != nil && !errors.Is(err, redislock.ErrLockNotHeld) {
			logger.WithError(err).Warn("release migrate lock")
		}
	}()
	if err := Migrate(ctx, db, dialect); err != nil {
		return err
	}
	logger.WithField("dialect", dialect).Info("database tables initialized or verified")
	return nil
}
