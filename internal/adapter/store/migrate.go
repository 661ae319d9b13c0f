package store

import "database/sql"

// migrate creates the schema if it doesn't exist. Timestamps are stored as
// integer unix nanoseconds so that creation-order queries need no parsing.
func migrate(db *sql.DB) error {
	const schema = `
		CREATE TABLE IF NOT EXISTS records (
			id                TEXT PRIMARY KEY,
			text              TEXT NOT NULL,
			category          TEXT NOT NULL DEFAULT 'other',
			importance        REAL NOT NULL DEFAULT 0.7,
			access_count      INTEGER NOT NULL DEFAULT 0,
			created_at        INTEGER NOT NULL,
			updated_at        INTEGER NOT NULL,
			last_accessed_at  INTEGER NOT NULL,
			consolidated_into TEXT,
			namespace         TEXT NOT NULL DEFAULT '',
			agent_id          TEXT NOT NULL DEFAULT '',
			metadata          TEXT NOT NULL DEFAULT '{}'
		);

		CREATE INDEX IF NOT EXISTS idx_records_created_at
			ON records(created_at);
		CREATE INDEX IF NOT EXISTS idx_records_consolidated
			ON records(consolidated_into);

		CREATE TABLE IF NOT EXISTS vectors (
			id        TEXT PRIMARY KEY,
			embedding BLOB NOT NULL
		);

		CREATE TABLE IF NOT EXISTS vault_meta (
			key   TEXT PRIMARY KEY,
			value TEXT NOT NULL
		);
	`
	_, err := db.Exec(schema)
	return err
}
