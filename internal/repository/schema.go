package repository

// Schema definitions for the Kestrel database.
// Compatible with both SQLite and PostgreSQL.

const schemaRuleSets = `
CREATE TABLE IF NOT EXISTS rule_sets (
    id TEXT NOT NULL,
    tenant_id TEXT NOT NULL,
    name TEXT NOT NULL,
    description TEXT,
    version TEXT NOT NULL,
    rules TEXT NOT NULL,
    enabled INTEGER NOT NULL DEFAULT 1,
    created_at TIMESTAMP NOT NULL,
    updated_at TIMESTAMP NOT NULL,
    PRIMARY KEY (id, tenant_id, version)
);

CREATE INDEX IF NOT EXISTS idx_rule_sets_tenant ON rule_sets(tenant_id);
CREATE INDEX IF NOT EXISTS idx_rule_sets_enabled ON rule_sets(tenant_id, enabled);
`

const schemaActionPatterns = `
CREATE TABLE IF NOT EXISTS action_patterns (
    tenant_id TEXT NOT NULL,
    pattern TEXT NOT NULL,
    recommendation TEXT NOT NULL,
    updated_at TIMESTAMP NOT NULL,
    PRIMARY KEY (tenant_id, pattern)
);
`

const schemaDecisionModels = `
CREATE TABLE IF NOT EXISTS decision_models (
    id TEXT NOT NULL,
    tenant_id TEXT NOT NULL,
    name TEXT NOT NULL,
    version TEXT NOT NULL,
    xml TEXT NOT NULL,
    checksum TEXT NOT NULL,
    enabled INTEGER NOT NULL DEFAULT 1,
    created_at TIMESTAMP NOT NULL,
    updated_at TIMESTAMP NOT NULL,
    PRIMARY KEY (id, tenant_id, version)
);

CREATE INDEX IF NOT EXISTS idx_decision_models_tenant ON decision_models(tenant_id);
CREATE INDEX IF NOT EXISTS idx_decision_models_checksum ON decision_models(tenant_id, checksum);
`

const schemaEvaluations = `
CREATE TABLE IF NOT EXISTS evaluations (
    id TEXT PRIMARY KEY,
    tenant_id TEXT NOT NULL,
    request_id TEXT,
    kind TEXT NOT NULL,
    status TEXT NOT NULL,
    total_points REAL NOT NULL,
    pattern TEXT NOT NULL,
    recommendation TEXT,
    decision_outputs TEXT,
    trace TEXT,
    metadata TEXT NOT NULL,
    timestamp TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_evaluations_tenant ON evaluations(tenant_id);
CREATE INDEX IF NOT EXISTS idx_evaluations_request ON evaluations(tenant_id, request_id);
CREATE INDEX IF NOT EXISTS idx_evaluations_timestamp ON evaluations(tenant_id, timestamp);
`

// AllSchemas returns all schema statements in order.
func AllSchemas() []string {
	return []string{
		schemaRuleSets,
		schemaActionPatterns,
		schemaDecisionModels,
		schemaEvaluations,
	}
}
