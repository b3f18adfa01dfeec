package postgres

const schemaSQL = `
CREATE TABLE IF NOT EXISTS mining_deposit_events (
	sender BYTEA NOT NULL,
	tx_nonce BIGINT NOT NULL,

	recipient_salt_hash BYTEA NOT NULL,
	token_index BIGINT NOT NULL,
	amount TEXT NOT NULL,
	deposit_index BIGINT NOT NULL,

	stage SMALLINT NOT NULL,
	claimed BOOLEAN NOT NULL DEFAULT FALSE,

	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),

	PRIMARY KEY (sender, tx_nonce),

	CONSTRAINT sender_len CHECK (octet_length(sender) = 20),
	CONSTRAINT salt_hash_len CHECK (octet_length(recipient_salt_hash) = 32),
	CONSTRAINT tx_nonce_nonneg CHECK (tx_nonce >= 0),
	CONSTRAINT token_index_nonneg CHECK (token_index >= 0),
	CONSTRAINT deposit_index_nonneg CHECK (deposit_index >= 0),
	CONSTRAINT stage_range CHECK (stage >= 1 AND stage <= 5)
);

CREATE INDEX IF NOT EXISTS mining_deposit_events_stage_idx ON mining_deposit_events (sender, stage);
`
