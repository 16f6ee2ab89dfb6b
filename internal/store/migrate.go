package store

import (
	"fmt"
	"strings"
)

// Migrate creates the schema if it does not exist.
func (db *DB) Migrate() error {
	migrations := []string{
		migrationLeads,
		migrationVariants,
		migrationVariantStats,
		migrationAssignments,
		migrationEvents,
		migrationErrorLog,
	}

	r := db.typeReplacer()
	for _, m := range migrations {
		for _, stmt := range strings.Split(r.Replace(m), ";") {
			if strings.TrimSpace(stmt) == "" {
				continue
			}
			if _, err := db.Exec(stmt); err != nil {
				return fmt.Errorf("migration failed: %w", err)
			}
		}
	}

	return nil
}

func (db *DB) typeReplacer() *strings.Replacer {
	if db.dialect == DialectPostgres {
		return strings.NewReplacer("{{serial}}", "BIGSERIAL PRIMARY KEY", "{{float}}", "DOUBLE PRECISION")
	}
	return strings.NewReplacer("{{serial}}", "INTEGER PRIMARY KEY AUTOINCREMENT", "{{float}}", "REAL")
}

const migrationLeads = `
CREATE TABLE IF NOT EXISTS leads (
    id TEXT PRIMARY KEY,
    name TEXT NOT NULL DEFAULT '',
    email TEXT NOT NULL,
    language TEXT NOT NULL DEFAULT 'en',
    persona_id TEXT,
    age INTEGER,
    city TEXT,
    org_type TEXT,
    is_test BOOLEAN NOT NULL DEFAULT FALSE,
    last_sent_at TIMESTAMP,
    created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
);
CREATE INDEX IF NOT EXISTS idx_leads_last_sent ON leads(last_sent_at);
`

const migrationVariants = `
CREATE TABLE IF NOT EXISTS variants (
    id TEXT PRIMARY KEY,
    persona_id TEXT NOT NULL,
    language TEXT NOT NULL DEFAULT 'en',
    content TEXT NOT NULL,
    channel TEXT NOT NULL DEFAULT 'email',
    created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
);
CREATE INDEX IF NOT EXISTS idx_variants_persona_lang ON variants(persona_id, language);
`

const migrationVariantStats = `
CREATE TABLE IF NOT EXISTS variant_stats (
    persona_id TEXT NOT NULL,
    variant_id TEXT NOT NULL,
    alpha {{float}} NOT NULL DEFAULT 1,
    beta {{float}} NOT NULL DEFAULT 1,
    updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
    PRIMARY KEY (persona_id, variant_id)
);
`

const migrationAssignments = `
CREATE TABLE IF NOT EXISTS assignments (
    id TEXT PRIMARY KEY,
    lead_id TEXT NOT NULL,
    persona_id TEXT NOT NULL,
    variant_id TEXT NOT NULL,
    correlation_id TEXT,
    status TEXT NOT NULL DEFAULT 'pending',
    error TEXT,
    beta_credited BOOLEAN NOT NULL DEFAULT FALSE,
    created_at TIMESTAMP NOT NULL,
    sent_at TIMESTAMP,
    updated_at TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_assignments_correlation ON assignments(correlation_id);
CREATE INDEX IF NOT EXISTS idx_assignments_persona ON assignments(persona_id);
CREATE INDEX IF NOT EXISTS idx_assignments_lead ON assignments(lead_id);
`

const migrationEvents = `
CREATE TABLE IF NOT EXISTS events (
    id {{serial}},
    assignment_id TEXT NOT NULL REFERENCES assignments(id) ON DELETE CASCADE,
    type TEXT NOT NULL,
    external_id TEXT NOT NULL DEFAULT '',
    occurred_at TIMESTAMP NOT NULL,
    meta TEXT,
    created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
    UNIQUE (assignment_id, type, external_id)
);
CREATE INDEX IF NOT EXISTS idx_events_type ON events(type);
`

const migrationErrorLog = `
CREATE TABLE IF NOT EXISTS error_log (
    id {{serial}},
    workflow TEXT NOT NULL,
    category TEXT,
    lead_id TEXT,
    persona_id TEXT,
    message TEXT NOT NULL,
    payload TEXT,
    created_at TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_error_log_created ON error_log(created_at);
`
