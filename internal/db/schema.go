package db

const schemaSQL = `
CREATE TABLE IF NOT EXISTS stock (
    sku TEXT PRIMARY KEY,
    available INT NOT NULL CHECK (available >= 0)
);

CREATE TABLE IF NOT EXISTS purchases (
    id TEXT PRIMARY KEY,
    sku TEXT NOT NULL REFERENCES stock(sku),
    qty INT NOT NULL CHECK (qty > 0),
    email TEXT NOT NULL,
    total_usd NUMERIC(12, 2) NOT NULL,
    paid BOOLEAN NOT NULL DEFAULT FALSE,
    payment_tx TEXT NOT NULL DEFAULT '',
    reward_tx TEXT NOT NULL DEFAULT '',
    created_at TIMESTAMPTZ NOT NULL,
    paid_at TIMESTAMPTZ
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_purchases_payment_tx ON purchases(payment_tx) WHERE payment_tx <> '';

CREATE TABLE IF NOT EXISTS reward_claims (
    token_hash TEXT PRIMARY KEY,
    purchase_id TEXT NOT NULL DEFAULT '',
    email TEXT NOT NULL DEFAULT '',
    recipient TEXT NOT NULL,
    amount TEXT NOT NULL,
    status TEXT NOT NULL CHECK (status IN ('pending', 'claimed', 'unknown')),
    tx_id TEXT NOT NULL DEFAULT '',
    reserved_at TIMESTAMPTZ NOT NULL,
    claimed_at TIMESTAMPTZ,
    expires_at TIMESTAMPTZ
);

CREATE INDEX IF NOT EXISTS idx_reward_claims_status ON reward_claims(status) WHERE status <> 'claimed';

CREATE TABLE IF NOT EXISTS claim_log (
    id BIGSERIAL PRIMARY KEY,
    event_id TEXT NOT NULL,
    token_hash TEXT NOT NULL UNIQUE,
    purchase_id TEXT NOT NULL,
    email TEXT NOT NULL,
    recipient TEXT NOT NULL,
    amount TEXT NOT NULL,
    asset TEXT NOT NULL,
    network TEXT NOT NULL,
    tx_hash TEXT NOT NULL,
    claimed_at TIMESTAMPTZ NOT NULL,
    created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE INDEX IF NOT EXISTS idx_claim_log_purchase ON claim_log(purchase_id);
`
