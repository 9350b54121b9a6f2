package postgres

const schema = `
CREATE TABLE IF NOT EXISTS models (
	id         TEXT PRIMARY KEY,
	language   TEXT NOT NULL,
	version    TEXT NOT NULL,
	checksum   TEXT NOT NULL,
	data       BYTEA NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS models_language_idx ON models (language);

CREATE TABLE IF NOT EXISTS schemes (
	id          TEXT PRIMARY KEY,
	version     TEXT NOT NULL,
	data        JSONB NOT NULL,
	fetched_at  TIMESTAMPTZ NOT NULL,
	ttl_seconds BIGINT NOT NULL
);
`
