package store

// migration is a single versioned schema change.
type migration struct {
	version int
	sql     string
}

// migrations are applied in order; each runs at most once per database.
var migrations = []migration{
	{
		version: 1,
		sql: `
			CREATE TABLE IF NOT EXISTS schema_version (
				version INTEGER PRIMARY KEY
			);

			CREATE TABLE IF NOT EXISTS accounts (
				id            TEXT PRIMARY KEY,
				user_id       TEXT NOT NULL,
				provider      TEXT NOT NULL,
				email_address TEXT NOT NULL,
				token_expiry  TIMESTAMP,
				created_at    TIMESTAMP NOT NULL,
				updated_at    TIMESTAMP NOT NULL
			);

			CREATE INDEX IF NOT EXISTS idx_accounts_user
				ON accounts(user_id);

			CREATE UNIQUE INDEX IF NOT EXISTS idx_accounts_user_address
				ON accounts(user_id, provider, email_address);

			INSERT INTO schema_version (version) VALUES (1);
		`,
	},
}
