package store

import (
	"database/sql"
	"fmt"
	"time"
)

// CacheRow is the Tier-2 durable representation of a CachedResult: the
// full merged extraction result plus pipeline metadata, keyed by the
// L1/L2 RequestFingerprint. Tier-2 is uncapped and survives restarts
// (spec §4.3); unlike the teacher's proxy cache there is no TTL/expiry —
// a document's extraction does not go stale with time.
type CacheRow struct {
	Key          string
	Label        string
	ResultBody   []byte
	MetadataBody []byte
	CreatedAt    string
	HitCount     int64
	LastHit      sql.NullString
}

// GetCache retrieves a Tier-2 row by its RequestFingerprint key.
// Returns a wrapped sql.ErrNoRows if the key does not exist.
func (s *Store) GetCache(key string) (*CacheRow, error) {
	c := &CacheRow{}
	err := s.reader.QueryRow(`
		SELECT key, label, result_body, metadata_body, created_at, hit_count, last_hit
		FROM cache WHERE key = ?`, key,
	).Scan(&c.Key, &c.Label, &c.ResultBody, &c.MetadataBody, &c.CreatedAt, &c.HitCount, &c.LastHit)
	if err != nil {
		return nil, fmt.Errorf("store: get cache %s: %w", key, err)
	}
	return c, nil
}

// SetCache inserts or replaces a Tier-2 row.
func (s *Store) SetCache(c *CacheRow) error {
	_, err := s.writer.Exec(`
		INSERT OR REPLACE INTO cache (
			key, label, result_body, metadata_body, created_at, hit_count, last_hit
		) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		c.Key, c.Label, c.ResultBody, c.MetadataBody, c.CreatedAt, c.HitCount, c.LastHit,
	)
	if err != nil {
		return fmt.Errorf("store: set cache: %w", err)
	}
	return nil
}

// IncrementHitCount atomically increments the hit_count for a Tier-2 row
// and updates last_hit to the current time.
func (s *Store) IncrementHitCount(key string) error {
	now := time.Now().UTC().Format(time.RFC3339)
	result, err := s.writer.Exec(`
		UPDATE cache SET hit_count = hit_count + 1, last_hit = ?
		WHERE key = ?`, now, key,
	)
	if err != nil {
		return fmt.Errorf("store: increment hit count: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("store: increment hit count rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("store: increment hit count: %w", sql.ErrNoRows)
	}
	return nil
}

// CountCache returns the number of Tier-2 rows.
func (s *Store) CountCache() (int64, error) {
	var n int64
	if err := s.reader.QueryRow("SELECT COUNT(*) FROM cache").Scan(&n); err != nil {
		return 0, fmt.Errorf("store: count cache: %w", err)
	}
	return n, nil
}
