package store

import "fmt"

// FieldRow is the Tier-3 durable representation of one resolved field
// value, keyed by its FieldFingerprint. Per invariant I2, Tier-3 never
// stores null — an absent field is represented by key non-existence,
// never by a stored row.
type FieldRow struct {
	Key       string
	Label     string
	FieldName string
	Value     string
	CreatedAt string
}

// GetField retrieves a Tier-3 row by its FieldFingerprint key.
// Returns a wrapped sql.ErrNoRows if the key does not exist.
func (s *Store) GetField(key string) (*FieldRow, error) {
	f := &FieldRow{}
	err := s.reader.QueryRow(`
		SELECT key, label, field_name, value, created_at
		FROM fields WHERE key = ?`, key,
	).Scan(&f.Key, &f.Label, &f.FieldName, &f.Value, &f.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("store: get field %s: %w", key, err)
	}
	return f, nil
}

// SetField inserts or replaces a Tier-3 row. Callers must never call
// this for a null field value (invariant I2); schema.FieldValue's
// closed sum type makes that mistake a compile-time impossibility for
// any caller that extracts the string via its String() accessor first.
func (s *Store) SetField(f *FieldRow) error {
	_, err := s.writer.Exec(`
		INSERT OR REPLACE INTO fields (key, label, field_name, value, created_at)
		VALUES (?, ?, ?, ?, ?)`,
		f.Key, f.Label, f.FieldName, f.Value, f.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("store: set field: %w", err)
	}
	return nil
}

// CountFields returns the number of Tier-3 rows, used by /stats.
func (s *Store) CountFields() (int64, error) {
	var n int64
	if err := s.reader.QueryRow("SELECT COUNT(*) FROM fields").Scan(&n); err != nil {
		return 0, fmt.Errorf("store: count fields: %w", err)
	}
	return n, nil
}
