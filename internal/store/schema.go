package store

// Schema is the set of DDL statements for the three tables this module owns
// (§6 "Persisted tables (local)"). The engine does not apply it: the caller
// does (cmd/syncengine executes it once at startup, before constructing the
// store, and exits if it fails). No push and no application-table migration
// runs before or around it.
const Schema = `
CREATE TABLE IF NOT EXISTS outbox_commits (
	id                 TEXT PRIMARY KEY,
	client_commit_id   TEXT NOT NULL UNIQUE,
	status             TEXT NOT NULL,
	operations_json    JSONB NOT NULL,
	last_response_json JSONB,
	error              TEXT,
	created_at         TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at         TIMESTAMPTZ NOT NULL DEFAULT now(),
	attempt_count      INT NOT NULL DEFAULT 0,
	acked_commit_seq   BIGINT,
	schema_version     INT NOT NULL DEFAULT 1
);
CREATE INDEX IF NOT EXISTS idx_outbox_status_created ON outbox_commits (status, created_at);
CREATE INDEX IF NOT EXISTS idx_outbox_status_updated_created ON outbox_commits (status, updated_at, created_at);

CREATE TABLE IF NOT EXISTS subscription_state (
	state_id              TEXT NOT NULL,
	subscription_id        TEXT NOT NULL,
	table_name             TEXT NOT NULL,
	scopes_json            JSONB NOT NULL,
	params_json            JSONB,
	cursor                 BIGINT NOT NULL DEFAULT -1,
	bootstrap_state_json   JSONB,
	status                 TEXT NOT NULL,
	created_at             TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at             TIMESTAMPTZ NOT NULL DEFAULT now(),
	PRIMARY KEY (state_id, subscription_id)
);
CREATE INDEX IF NOT EXISTS idx_subscription_state_updated ON subscription_state (state_id, updated_at);

CREATE TABLE IF NOT EXISTS conflicts (
	id                TEXT PRIMARY KEY,
	outbox_commit_id  TEXT NOT NULL,
	client_commit_id  TEXT NOT NULL,
	op_index          INT NOT NULL,
	result_status     TEXT NOT NULL,
	message           TEXT NOT NULL,
	code              TEXT,
	server_version    BIGINT,
	server_row_json   JSONB,
	created_at        TIMESTAMPTZ NOT NULL DEFAULT now(),
	resolved_at       TIMESTAMPTZ,
	resolution        TEXT
);
CREATE INDEX IF NOT EXISTS idx_conflicts_outbox_commit ON conflicts (outbox_commit_id);
CREATE INDEX IF NOT EXISTS idx_conflicts_resolved_at ON conflicts (resolved_at);
`
