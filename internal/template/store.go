// Package template implements the Template Store (C6) and the Template
// Orchestrator (C10): the durable record of learned document classes and
// the policy that decides when to trust a template versus fall back to
// the LLM. Grounded on original_source/core/store/database.py's
// TemplateDatabase and original_source/core/learning/template_orchestrator.py,
// with the connection-management idiom (writer/reader split, WAL,
// versioned migrations) carried from internal/store/store.go.
package template

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"sort"

	_ "modernc.org/sqlite"

	"github.com/allaspectsdev/pdfxtract/internal/rule"
	"github.com/allaspectsdev/pdfxtract/internal/structmatch"
)

// MinSaveConfidence gates which rules the Template Store will persist
// (invariant I5): a rule below this confidence is never saved.
const MinSaveConfidence = 0.5

// MatureThreshold is the minimum sample_count before a template may be
// applied by the Orchestrator's fast path.
const MatureThreshold = 2

const schemaTemplates = `
CREATE TABLE IF NOT EXISTS templates (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	label TEXT NOT NULL UNIQUE,
	sample_count INTEGER NOT NULL DEFAULT 0,
	confidence REAL NOT NULL DEFAULT 0.0,
	structural_signature TEXT NOT NULL,
	created_at TEXT NOT NULL DEFAULT (datetime('now')),
	updated_at TEXT NOT NULL DEFAULT (datetime('now'))
);
`

const schemaExtractionRules = `
CREATE TABLE IF NOT EXISTS extraction_rules (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	template_id INTEGER NOT NULL REFERENCES templates(id),
	field_name TEXT NOT NULL,
	rule_type TEXT NOT NULL,
	rule_data BLOB NOT NULL,
	confidence REAL NOT NULL DEFAULT 0.0,
	UNIQUE(template_id, field_name)
);
CREATE INDEX IF NOT EXISTS idx_extraction_rules_template ON extraction_rules(template_id);
`

// Template is the Template Store's durable record of one learned
// document class (spec §3's Template type).
type Template struct {
	ID                  int64
	Label               string
	SampleCount         int
	Confidence          float64
	StructuralSignature []string
	CreatedAt           string
	UpdatedAt           string
}

// Mature reports whether this template has seen enough samples for the
// Orchestrator's fast path to trust it, against threshold (normally the
// owning Store's configured MatureThreshold).
func (t *Template) Mature(threshold int) bool {
	return t.SampleCount >= threshold
}

// Stats summarises the Template Store's content for /stats.
type Stats struct {
	Templates        int64
	Rules            int64
	MatureTemplates  int64
	MinSaveConfidence float64
	MatureThreshold  int
}

// Store is the Template Store (C6): a durable tabular store of
// Templates and their per-field ExtractionRules.
type Store struct {
	db               *sql.DB
	matureThresholdV int
}

// Open opens (creating if necessary) the template database at path and
// applies its schema. Uses a single connection, matching internal/store's
// writer discipline: template writes are small and infrequent enough
// that a dedicated reader pool brings no benefit.
func Open(path string) (*Store, error) {
	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("template: open %s: %w", path, err)
	}
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schemaTemplates); err != nil {
		db.Close()
		return nil, fmt.Errorf("template: create templates table: %w", err)
	}
	if _, err := db.Exec(schemaExtractionRules); err != nil {
		db.Close()
		return nil, fmt.Errorf("template: create extraction_rules table: %w", err)
	}

	return &Store{db: db, matureThresholdV: MatureThreshold}, nil
}

// SetMatureThreshold overrides the sample count a template must reach
// before the Orchestrator's fast path will trust it, mirroring
// Config.Template.MatureThreshold.
func (s *Store) SetMatureThreshold(threshold int) {
	s.matureThresholdV = threshold
}

func (s *Store) matureThreshold() int {
	return s.matureThresholdV
}

// Close releases the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping verifies the database connection is alive, for readiness checks.
func (s *Store) Ping() error {
	if err := s.db.Ping(); err != nil {
		return fmt.Errorf("template: ping: %w", err)
	}
	return nil
}

// FindByLabel looks up a template by its unique label. Returns
// (nil, nil) when no template exists for that label.
func (s *Store) FindByLabel(label string) (*Template, error) {
	t := &Template{}
	var sigJSON string
	err := s.db.QueryRow(`
		SELECT id, label, sample_count, confidence, structural_signature, created_at, updated_at
		FROM templates WHERE label = ?`, label,
	).Scan(&t.ID, &t.Label, &t.SampleCount, &t.Confidence, &sigJSON, &t.CreatedAt, &t.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("template: find by label %s: %w", label, err)
	}
	if err := json.Unmarshal([]byte(sigJSON), &t.StructuralSignature); err != nil {
		return nil, fmt.Errorf("template: decode signature for %s: %w", label, err)
	}
	return t, nil
}

// Create inserts a new template with sample_count=1, confidence=0.5
// (matching original_source's TemplateDatabase.create_template), and
// returns its assigned id.
func (s *Store) Create(label string, signature []string) (int64, error) {
	sigJSON, err := encodeSignature(signature)
	if err != nil {
		return 0, err
	}
	result, err := s.db.Exec(
		"INSERT INTO templates (label, structural_signature, sample_count, confidence) VALUES (?, ?, 1, 0.5)",
		label, sigJSON,
	)
	if err != nil {
		return 0, fmt.Errorf("template: create %s: %w", label, err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("template: create %s: last insert id: %w", label, err)
	}
	return id, nil
}

// ExtendSignature unions newElements into the template's stored
// signature, increments sample_count, and bumps updated_at.
func (s *Store) ExtendSignature(templateID int64, newElements []string) error {
	existing, err := s.signatureOf(templateID)
	if err != nil {
		return err
	}

	union := structmatch.UnionSignatures(
		structmatch.SignatureFromSlice(existing),
		structmatch.SignatureFromSlice(newElements),
	)
	merged := structmatch.SignatureSlice(union)

	sigJSON, err := encodeSignature(merged)
	if err != nil {
		return err
	}

	_, err = s.db.Exec(
		"UPDATE templates SET structural_signature = ?, sample_count = sample_count + 1, updated_at = datetime('now') WHERE id = ?",
		sigJSON, templateID,
	)
	if err != nil {
		return fmt.Errorf("template: extend signature %d: %w", templateID, err)
	}
	return nil
}

func (s *Store) signatureOf(templateID int64) ([]string, error) {
	var sigJSON string
	err := s.db.QueryRow("SELECT structural_signature FROM templates WHERE id = ?", templateID).Scan(&sigJSON)
	if err != nil {
		return nil, fmt.Errorf("template: read signature %d: %w", templateID, err)
	}
	var sig []string
	if err := json.Unmarshal([]byte(sigJSON), &sig); err != nil {
		return nil, fmt.Errorf("template: decode signature %d: %w", templateID, err)
	}
	return sig, nil
}

// UpsertRule deletes any prior rule for (templateID, fieldName) and
// inserts the new one, enforcing the one-rule-per-field invariant.
// Callers are expected to have already checked confidence against
// MinSaveConfidence (invariant I5); UpsertRule itself does not gate.
func (s *Store) UpsertRule(templateID int64, fieldName string, r rule.ExtractionRule) error {
	payload, err := r.EncodePayload()
	if err != nil {
		return fmt.Errorf("template: encode rule payload for %s: %w", fieldName, err)
	}

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("template: upsert rule tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	if _, err := tx.Exec(
		"DELETE FROM extraction_rules WHERE template_id = ? AND field_name = ?",
		templateID, fieldName,
	); err != nil {
		return fmt.Errorf("template: delete prior rule for %s: %w", fieldName, err)
	}

	if _, err := tx.Exec(
		"INSERT INTO extraction_rules (template_id, field_name, rule_type, rule_data, confidence) VALUES (?, ?, ?, ?, ?)",
		templateID, fieldName, string(r.Kind), payload, r.Confidence,
	); err != nil {
		return fmt.Errorf("template: insert rule for %s: %w", fieldName, err)
	}

	return tx.Commit()
}

// RulesOf returns every rule stored for templateID, keyed by field name.
func (s *Store) RulesOf(templateID int64) (map[string]rule.ExtractionRule, error) {
	rows, err := s.db.Query(
		"SELECT field_name, rule_type, rule_data, confidence FROM extraction_rules WHERE template_id = ?",
		templateID,
	)
	if err != nil {
		return nil, fmt.Errorf("template: rules of %d: %w", templateID, err)
	}
	defer rows.Close()

	out := make(map[string]rule.ExtractionRule)
	for rows.Next() {
		var fieldName, ruleType string
		var payload []byte
		var confidence float64
		if err := rows.Scan(&fieldName, &ruleType, &payload, &confidence); err != nil {
			return nil, fmt.Errorf("template: scan rule: %w", err)
		}
		decoded, err := rule.Decode(rule.Kind(ruleType), confidence, payload)
		if err != nil {
			return nil, fmt.Errorf("template: decode rule for %s: %w", fieldName, err)
		}
		out[fieldName] = decoded
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("template: rules of %d: %w", templateID, err)
	}
	return out, nil
}

// Stats summarises the store's contents, matching
// original_source's TemplateOrchestrator.get_template_stats.
func (s *Store) Stats() (*Stats, error) {
	stats := &Stats{MinSaveConfidence: MinSaveConfidence, MatureThreshold: s.matureThreshold()}

	if err := s.db.QueryRow("SELECT COUNT(*) FROM templates").Scan(&stats.Templates); err != nil {
		return nil, fmt.Errorf("template: count templates: %w", err)
	}
	if err := s.db.QueryRow("SELECT COUNT(*) FROM extraction_rules").Scan(&stats.Rules); err != nil {
		return nil, fmt.Errorf("template: count rules: %w", err)
	}
	if err := s.db.QueryRow(
		"SELECT COUNT(*) FROM templates WHERE sample_count >= ?", s.matureThreshold(),
	).Scan(&stats.MatureTemplates); err != nil {
		return nil, fmt.Errorf("template: count mature templates: %w", err)
	}

	return stats, nil
}

// encodeSignature sorts the signature before marshalling, matching
// original_source's json.dumps(sorted(structural_signature)) so two
// equal signatures always serialise identically regardless of insertion
// order.
func encodeSignature(signature []string) (string, error) {
	sorted := append([]string(nil), signature...)
	sort.Strings(sorted)
	data, err := json.Marshal(sorted)
	if err != nil {
		return "", fmt.Errorf("template: encode signature: %w", err)
	}
	return string(data), nil
}
