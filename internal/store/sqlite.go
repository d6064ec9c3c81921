package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"

	"github.com/medfatnasii277/portalbell/internal/model"
)

// SQLiteCache persists the last known snapshot per user so the client can
// show state before the first REST load completes, or when it fails.
type SQLiteCache struct {
	db *sqlx.DB
}

// cachedRow is one persisted notification.
type cachedRow struct {
	ID       int64  `db:"id"`
	Position int    `db:"position"`
	Payload  string `db:"payload"`
}

// NewSQLiteCache opens (or creates) a SQLite database at dbPath,
// enables WAL mode, and runs any pending schema migrations.
func NewSQLiteCache(dbPath string) (*SQLiteCache, error) {
	db, err := sqlx.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("opening sqlite db: %w", err)
	}

	// One connection keeps ":memory:" databases coherent and serializes
	// writers.
	db.SetMaxOpenConns(1)

	// Enable WAL mode for better concurrent read performance.
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}

	c := &SQLiteCache{db: db}
	if err := c.runMigrations(); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	return c, nil
}

// Close closes the underlying database connection.
func (c *SQLiteCache) Close() error {
	return c.db.Close()
}

// runMigrations checks the current schema version and applies any
// outstanding migrations in order.
func (c *SQLiteCache) runMigrations() error {
	currentVersion := 0

	var tableCount int
	err := c.db.Get(
		&tableCount,
		"SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name='schema_version'",
	)
	if err != nil {
		return fmt.Errorf("checking schema_version table: %w", err)
	}

	if tableCount > 0 {
		err = c.db.Get(&currentVersion, "SELECT COALESCE(MAX(version), 0) FROM schema_version")
		if err != nil {
			return fmt.Errorf("reading schema version: %w", err)
		}
	}

	for _, m := range migrations {
		if m.version <= currentVersion {
			continue
		}
		if _, err := c.db.Exec(m.sql); err != nil {
			return fmt.Errorf("applying migration v%d: %w", m.version, err)
		}
	}

	return nil
}

// Save replaces the stored snapshot for owner.
func (c *SQLiteCache) Save(ctx context.Context, owner string, snap Snapshot) error {
	tx, err := c.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, "DELETE FROM notifications WHERE owner = ?", owner); err != nil {
		return fmt.Errorf("clearing cached notifications: %w", err)
	}

	const insert = `
		INSERT INTO notifications (owner, id, position, read, created_at, payload)
		VALUES (?, ?, ?, ?, ?, ?)`

	stmt, err := tx.PreparexContext(ctx, insert)
	if err != nil {
		return fmt.Errorf("preparing insert statement: %w", err)
	}
	defer stmt.Close()

	for i, n := range snap.Records {
		payload, err := json.Marshal(n)
		if err != nil {
			return fmt.Errorf("marshaling notification %d: %w", n.ID, err)
		}
		_, err = stmt.ExecContext(ctx,
			owner, n.ID, i, n.Read, n.CreatedAt.UTC(), string(payload),
		)
		if err != nil {
			return fmt.Errorf("caching notification %d: %w", n.ID, err)
		}
	}

	const upsert = `
		INSERT INTO snapshots (owner, unread_count, saved_at) VALUES (?, ?, ?)
		ON CONFLICT(owner) DO UPDATE SET
			unread_count = excluded.unread_count,
			saved_at = excluded.saved_at`

	_, err = tx.ExecContext(ctx, upsert, owner, max(snap.UnreadCount, 0), time.Now().UTC())
	if err != nil {
		return fmt.Errorf("saving snapshot header: %w", err)
	}

	return tx.Commit()
}

// Load returns the stored snapshot for owner. ok is false when nothing has
// been saved for that owner yet.
func (c *SQLiteCache) Load(ctx context.Context, owner string) (snap Snapshot, ok bool, err error) {
	var unread int
	err = c.db.GetContext(ctx, &unread,
		"SELECT unread_count FROM snapshots WHERE owner = ?", owner,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return Snapshot{}, false, nil
	}
	if err != nil {
		return Snapshot{}, false, fmt.Errorf("loading snapshot header: %w", err)
	}

	var rows []cachedRow
	err = c.db.SelectContext(ctx, &rows,
		"SELECT id, position, payload FROM notifications WHERE owner = ? ORDER BY position",
		owner,
	)
	if err != nil {
		return Snapshot{}, false, fmt.Errorf("loading cached notifications: %w", err)
	}

	records := make([]model.Notification, 0, len(rows))
	for _, r := range rows {
		var n model.Notification
		if err := json.Unmarshal([]byte(r.Payload), &n); err != nil {
			return Snapshot{}, false, fmt.Errorf("decoding cached notification %d: %w", r.ID, err)
		}
		records = append(records, n)
	}

	return Snapshot{Records: records, UnreadCount: unread}, true, nil
}
