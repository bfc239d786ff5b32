package store

// PostgresSchema creates the tables used by PostgresStore. Money columns are
// NUMERIC for exact decimal precision. The seq columns break timestamp ties
// when listing newest first.
const PostgresSchema = `
CREATE TABLE IF NOT EXISTS accounts (
	user_id    TEXT PRIMARY KEY,
	balance    NUMERIC NOT NULL CHECK (balance >= 0),
	updated_at TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS lots (
	id             TEXT PRIMARY KEY,
	user_id        TEXT NOT NULL REFERENCES accounts(user_id),
	event_id       TEXT NOT NULL,
	purchase_price NUMERIC NOT NULL,
	quantity       BIGINT NOT NULL CHECK (quantity > 0),
	status         TEXT NOT NULL,
	acquired_at    TIMESTAMPTZ NOT NULL,
	position       INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_lots_user ON lots(user_id, position);

CREATE TABLE IF NOT EXISTS trades (
	seq            BIGSERIAL,
	id             TEXT PRIMARY KEY,
	transaction_id TEXT NOT NULL UNIQUE,
	user_id        TEXT NOT NULL,
	event_id       TEXT NOT NULL,
	event_name     TEXT NOT NULL,
	price          NUMERIC NOT NULL,
	type           TEXT NOT NULL,
	quantity       BIGINT NOT NULL,
	proposal_id    TEXT NOT NULL DEFAULT '',
	timestamp      TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_trades_user ON trades(user_id, timestamp DESC, seq DESC);

CREATE TABLE IF NOT EXISTS proposals (
	seq             BIGSERIAL,
	id              TEXT PRIMARY KEY,
	proposer_id     TEXT NOT NULL,
	counterparty_id TEXT NOT NULL,
	event_id        TEXT NOT NULL,
	quantity        BIGINT NOT NULL,
	price           NUMERIC NOT NULL,
	type            TEXT NOT NULL,
	status          TEXT NOT NULL,
	parent_id       TEXT NOT NULL DEFAULT '',
	counter_id      TEXT NOT NULL DEFAULT '',
	created_at      TIMESTAMPTZ NOT NULL,
	updated_at      TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_proposals_proposer ON proposals(proposer_id);
CREATE INDEX IF NOT EXISTS idx_proposals_counterparty ON proposals(counterparty_id);
CREATE INDEX IF NOT EXISTS idx_proposals_sent ON proposals(created_at) WHERE status = 'SENT';

CREATE TABLE IF NOT EXISTS notifications (
	seq         BIGSERIAL,
	id          TEXT PRIMARY KEY,
	user_id     TEXT NOT NULL,
	kind        TEXT NOT NULL,
	title       TEXT NOT NULL,
	message     TEXT NOT NULL,
	proposal_id TEXT NOT NULL DEFAULT '',
	terms       TEXT NOT NULL DEFAULT '',
	read        BOOLEAN NOT NULL DEFAULT FALSE,
	timestamp   TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_notifications_user ON notifications(user_id, timestamp DESC, seq DESC);
`

// SQLiteSchema is the SQLite flavour of PostgresSchema. Decimals are kept
// as TEXT and rowid provides insertion order.
const SQLiteSchema = `
CREATE TABLE IF NOT EXISTS accounts (
	user_id    TEXT PRIMARY KEY,
	balance    TEXT NOT NULL,
	updated_at DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS lots (
	id             TEXT PRIMARY KEY,
	user_id        TEXT NOT NULL REFERENCES accounts(user_id),
	event_id       TEXT NOT NULL,
	purchase_price TEXT NOT NULL,
	quantity       INTEGER NOT NULL CHECK (quantity > 0),
	status         TEXT NOT NULL,
	acquired_at    DATETIME NOT NULL,
	position       INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_lots_user ON lots(user_id, position);

CREATE TABLE IF NOT EXISTS trades (
	id             TEXT PRIMARY KEY,
	transaction_id TEXT NOT NULL UNIQUE,
	user_id        TEXT NOT NULL,
	event_id       TEXT NOT NULL,
	event_name     TEXT NOT NULL,
	price          TEXT NOT NULL,
	type           TEXT NOT NULL,
	quantity       INTEGER NOT NULL,
	proposal_id    TEXT NOT NULL DEFAULT '',
	timestamp      DATETIME NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_trades_user ON trades(user_id, timestamp);

CREATE TABLE IF NOT EXISTS proposals (
	id              TEXT PRIMARY KEY,
	proposer_id     TEXT NOT NULL,
	counterparty_id TEXT NOT NULL,
	event_id        TEXT NOT NULL,
	quantity        INTEGER NOT NULL,
	price           TEXT NOT NULL,
	type            TEXT NOT NULL,
	status          TEXT NOT NULL,
	parent_id       TEXT NOT NULL DEFAULT '',
	counter_id      TEXT NOT NULL DEFAULT '',
	created_at      DATETIME NOT NULL,
	updated_at      DATETIME NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_proposals_status ON proposals(status, created_at);

CREATE TABLE IF NOT EXISTS notifications (
	id          TEXT PRIMARY KEY,
	user_id     TEXT NOT NULL,
	kind        TEXT NOT NULL,
	title       TEXT NOT NULL,
	message     TEXT NOT NULL,
	proposal_id TEXT NOT NULL DEFAULT '',
	terms       TEXT NOT NULL DEFAULT '',
	read        BOOLEAN NOT NULL DEFAULT 0,
	timestamp   DATETIME NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_notifications_user ON notifications(user_id, timestamp);
`
