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
	user_id    TEXT NOT NULL,
	position   INTEGER NOT NULL,
	id         TEXT NOT NULL,
	read       INTEGER NOT NULL DEFAULT 0 CHECK(read IN (0, 1)),
	created_at DATETIME NOT NULL,
	body       TEXT NOT NULL,
	PRIMARY KEY (user_id, position)
);

CREATE TABLE IF NOT EXISTS tickets (
	user_id    TEXT NOT NULL,
	collection TEXT NOT NULL CHECK(collection IN ('raised', 'assigned')),
	position   INTEGER NOT NULL,
	id         TEXT NOT NULL,
	priority   TEXT NOT NULL DEFAULT '',
	status     TEXT NOT NULL DEFAULT '',
	version    INTEGER NOT NULL DEFAULT 0,
	updated_at DATETIME NOT NULL,
	body       TEXT NOT NULL,
	PRIMARY KEY (user_id, collection, position)
);

CREATE TABLE IF NOT EXISTS sync_state (
	user_id          TEXT PRIMARY KEY,
	notifications_at DATETIME NOT NULL,
	tickets_at       DATETIME NOT NULL
);

INSERT INTO schema_version (version) VALUES (1);
`,
	},
	{
		version: 2,
		sql: `
CREATE INDEX IF NOT EXISTS idx_notifications_read ON notifications(user_id, read);
CREATE INDEX IF NOT EXISTS idx_tickets_status ON tickets(user_id, collection, status);

INSERT INTO schema_version (version) VALUES (2);
`,
	},
}
