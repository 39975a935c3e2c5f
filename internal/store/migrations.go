package store

// migration represents a single schema migration.
type migration struct {
	Version int
	Name    string
	SQL     string
}

// migrations is the ordered list of all schema migrations.
var migrations = []migration{
	{
		Version: 1,
		Name:    "create credentials",
		SQL: `
			CREATE TABLE credentials (
				user_id     TEXT PRIMARY KEY,
				username    TEXT NOT NULL,
				password    TEXT NOT NULL,
				updated_at  TEXT NOT NULL DEFAULT (datetime('now'))
			);
		`,
	},
	{
		Version: 2,
		Name:    "create audit log",
		SQL: `
			CREATE TABLE audit_log (
				id          INTEGER PRIMARY KEY AUTOINCREMENT,
				user_id     TEXT NOT NULL,
				message     TEXT NOT NULL,
				outcome     TEXT NOT NULL,
				results     INTEGER NOT NULL DEFAULT 0,
				created_at  TEXT NOT NULL DEFAULT (datetime('now'))
			);

			CREATE INDEX idx_audit_user ON audit_log (user_id, id);
		`,
	},
}
