package repository

// Schema definitions for the RationGuard database.
// Compatible with both SQLite and PostgreSQL.

const schemaBeneficiaries = `
CREATE TABLE IF NOT EXISTS beneficiaries (
    id TEXT PRIMARY KEY,
    card_number TEXT NOT NULL UNIQUE,
    name TEXT NOT NULL,
    phone TEXT,
    address TEXT,
    face_image_url TEXT,
    face_embedding TEXT NOT NULL,
    status TEXT NOT NULL DEFAULT 'active',
    created_at TIMESTAMP NOT NULL,
    updated_at TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_beneficiaries_status ON beneficiaries(status);
`

const schemaShops = `
CREATE TABLE IF NOT EXISTS ration_shops (
    id TEXT PRIMARY KEY,
    name TEXT NOT NULL,
    shop_code TEXT NOT NULL UNIQUE,
    district TEXT,
    created_at TIMESTAMP NOT NULL
);
`

const schemaCycles = `
CREATE TABLE IF NOT EXISTS distribution_cycles (
    id TEXT PRIMARY KEY,
    name TEXT NOT NULL,
    status TEXT NOT NULL DEFAULT 'planned',
    starts_at TIMESTAMP NOT NULL,
    ends_at TIMESTAMP NOT NULL,
    created_at TIMESTAMP NOT NULL
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_cycles_single_active ON distribution_cycles(status) WHERE status = 'active';
`

const schemaTransactions = `
CREATE TABLE IF NOT EXISTS transactions (
    id TEXT PRIMARY KEY,
    beneficiary_id TEXT,
    card_number TEXT NOT NULL,
    shop_id TEXT NOT NULL,
    cycle_id TEXT,
    operator_id TEXT,
    verification_type TEXT NOT NULL,
    confidence_score REAL NOT NULL DEFAULT 0,
    status TEXT NOT NULL,
    items_collected TEXT,
    captured_image_url TEXT,
    created_at TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_transactions_card ON transactions(card_number, created_at);
CREATE INDEX IF NOT EXISTS idx_transactions_beneficiary ON transactions(beneficiary_id, created_at);
CREATE INDEX IF NOT EXISTS idx_transactions_cycle ON transactions(beneficiary_id, cycle_id, status);
CREATE INDEX IF NOT EXISTS idx_transactions_shop ON transactions(shop_id, created_at);
`

const schemaAlerts = `
CREATE TABLE IF NOT EXISTS duplicate_alerts (
    id TEXT PRIMARY KEY,
    alert_type TEXT NOT NULL,
    beneficiary_id TEXT NOT NULL,
    card_number TEXT NOT NULL,
    transaction_id TEXT NOT NULL,
    shop_id TEXT NOT NULL,
    description TEXT NOT NULL,
    severity TEXT NOT NULL,
    status TEXT NOT NULL DEFAULT 'pending',
    previous_transaction_id TEXT,
    reviewed_by TEXT,
    reviewed_at TIMESTAMP,
    created_at TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_alerts_status ON duplicate_alerts(status, severity);
CREATE INDEX IF NOT EXISTS idx_alerts_transaction ON duplicate_alerts(transaction_id);
`

// AllSchemas returns all schema statements in order.
func AllSchemas() []string {
	return []string{
		schemaBeneficiaries,
		schemaShops,
		schemaCycles,
		schemaTransactions,
		schemaAlerts,
	}
}
