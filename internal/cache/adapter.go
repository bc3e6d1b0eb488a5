package cache

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/allaspectsdev/pdfxtract/internal/store"
)

// StoreAdapter implements Store on top of internal/store's Tier-2/Tier-3
// tables, translating between the cache package's Result type and the
// store package's row types. This mirrors the teacher's adapters.go
// idiom of wrapping *store.Store behind a middleware-facing interface.
type StoreAdapter struct {
	st *store.Store
}

// NewStoreAdapter wraps st to satisfy the Store interface.
func NewStoreAdapter(st *store.Store) *StoreAdapter {
	return &StoreAdapter{st: st}
}

var _ Store = (*StoreAdapter)(nil)

// GetFullResult retrieves and decodes a Tier-2 row, incrementing its hit
// counter on success.
func (a *StoreAdapter) GetFullResult(key string) (*Result, bool, error) {
	row, err := a.st.GetCache(key)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("cache adapter: get full result: %w", err)
	}

	result, err := decodeRow(row)
	if err != nil {
		return nil, false, err
	}

	if err := a.st.IncrementHitCount(key); err != nil {
		return nil, false, fmt.Errorf("cache adapter: increment hit count: %w", err)
	}

	return result, true, nil
}

// SetFullResult encodes and writes a Tier-2 row.
func (a *StoreAdapter) SetFullResult(key, label string, result *Result) error {
	resultBody, err := EncodeResult(result)
	if err != nil {
		return err
	}
	metadataBody, err := encodeMetadata(result.Metadata)
	if err != nil {
		return err
	}

	row := &store.CacheRow{
		Key:          key,
		Label:        label,
		ResultBody:   resultBody,
		MetadataBody: metadataBody,
		CreatedAt:    time.Now().UTC().Format(time.RFC3339),
	}
	if err := a.st.SetCache(row); err != nil {
		return fmt.Errorf("cache adapter: set full result: %w", err)
	}
	return nil
}

// GetFieldValue retrieves a Tier-3 row's value.
func (a *StoreAdapter) GetFieldValue(key string) (string, bool, error) {
	row, err := a.st.GetField(key)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", false, nil
		}
		return "", false, fmt.Errorf("cache adapter: get field value: %w", err)
	}
	return row.Value, true, nil
}

// SetFieldValue writes a Tier-3 row.
func (a *StoreAdapter) SetFieldValue(key, label, fieldName, value string) error {
	row := &store.FieldRow{
		Key:       key,
		Label:     label,
		FieldName: fieldName,
		Value:     value,
		CreatedAt: time.Now().UTC().Format(time.RFC3339),
	}
	if err := a.st.SetField(row); err != nil {
		return fmt.Errorf("cache adapter: set field value: %w", err)
	}
	return nil
}

// encodeMetadata stores the metadata map redundantly in its own column so
// the store package's schema (result_body + metadata_body) stays usable
// independently of this package's Result encoding.
func encodeMetadata(metadata map[string]interface{}) ([]byte, error) {
	data, err := json.Marshal(metadata)
	if err != nil {
		return nil, fmt.Errorf("cache adapter: encode metadata: %w", err)
	}
	return data, nil
}

func decodeRow(row *store.CacheRow) (*Result, error) {
	result, err := DecodeResult(row.ResultBody)
	if err != nil {
		return nil, fmt.Errorf("cache adapter: decode row %s: %w", row.Key, err)
	}
	return result, nil
}
