package store

// migration holds a single schema migration with its target version and SQL.
type migration struct {
	version int
	sql     string
}

// migrations is the ordered list of schema migrations.
// Each migration's version must be sequential starting from 1.
var migrations = []migration{
	{
		version: 1,
		sql: `
CREATE TABLE IF NOT EXISTS schema_version (
	version INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS notifications (
	owner      TEXT    NOT NULL,
	id         INTEGER NOT NULL,
	position   INTEGER NOT NULL,
	read       INTEGER NOT NULL DEFAULT 0 CHECK(read IN (0, 1)),
	created_at DATETIME NOT NULL,
	payload    TEXT    NOT NULL,
	PRIMARY KEY (owner, id)
);

CREATE TABLE IF NOT EXISTS snapshots (
	owner        TEXT PRIMARY KEY,
	unread_count INTEGER NOT NULL DEFAULT 0 CHECK(unread_count >= 0),
	saved_at     DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_notifications_owner_position
	ON notifications(owner, position);

INSERT INTO schema_version (version) VALUES (1);
`,
	},
	{
		version: 2,
		sql: `
CREATE INDEX IF NOT EXISTS idx_notifications_owner_read
	ON notifications(owner, read);

INSERT INTO schema_version (version) VALUES (2);
`,
	},
}
