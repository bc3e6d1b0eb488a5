// Package cache implements the tiering protocol of spec §4.2/§4.5: a
// bounded in-memory Tier-1 LRU composed with a durable Tier-2/Tier-3
// store behind the Manager type. Grounded on the teacher's
// CacheMiddleware two-tier promotion pattern (lru.Cache backed by a
// persistent CacheStore, with a background purger goroutine), rebuilt
// here for the closed-form CachedResult shape this domain needs instead
// of the teacher's raw response-body blob cache.
package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/rs/zerolog/log"

	"github.com/allaspectsdev/pdfxtract/internal/keybuilder"
	"github.com/allaspectsdev/pdfxtract/internal/schema"
)

// DefaultL1Max is the default Tier-1 LRU capacity.
const DefaultL1Max = 100

// Result is CachedResult from spec §3: the full merged extraction
// result plus pipeline metadata for one request fingerprint.
type Result struct {
	Data      map[string]schema.FieldValue `json:"data"`
	Metadata  map[string]interface{}       `json:"metadata"`
	Timestamp int64                        `json:"timestamp"`
}

// Tier identifies which cache level satisfied a lookup.
type Tier string

const (
	TierL1 Tier = "l1"
	TierL2 Tier = "l2"
)

// OutcomeKind distinguishes the three shapes a Manager.Get can return.
type OutcomeKind int

const (
	OutcomeMiss OutcomeKind = iota
	OutcomeFull
	OutcomePartial
)

// Outcome is the tagged result of Manager.Get: Outcome ∈ {Full, Partial, Miss}.
type Outcome struct {
	Kind            OutcomeKind
	Result          *Result
	Tier            Tier
	PartialData     map[string]schema.FieldValue
	FieldsFound     int
	FieldsRequested int
}

// Store is the durable backing Manager delegates Tier-2/Tier-3
// persistence to. NewStoreAdapter (adapter.go) wraps an internal/store
// Store to implement this.
type Store interface {
	GetFullResult(key string) (*Result, bool, error)
	SetFullResult(key, label string, result *Result) error
	GetFieldValue(key string) (string, bool, error)
	SetFieldValue(key, label, fieldName, value string) error
}

// Manager composes the Tier-1 LRU with a durable Store, implementing the
// Cache Manager's get/set tiering algorithm (spec §4.5).
type Manager struct {
	l1    *lru.Cache[string, *Result]
	store Store

	mu     sync.Mutex
	hitsL1 int64
	hitsL2 int64
	hitsL3 int64
	misses int64
}

// NewManager builds a Manager with a Tier-1 LRU of the given capacity
// (DefaultL1Max if l1Max <= 0) backed by store for Tiers 2/3. A nil store
// degrades Manager to a Tier-1-only cache, useful in tests.
func NewManager(store Store, l1Max int) (*Manager, error) {
	if l1Max <= 0 {
		l1Max = DefaultL1Max
	}
	l1, err := lru.New[string, *Result](l1Max)
	if err != nil {
		return nil, fmt.Errorf("cache: creating LRU: %w", err)
	}
	return &Manager{l1: l1, store: store}, nil
}

// Get implements the three-step tiering lookup of spec §4.5: check
// Tier-1, then Tier-2 (promoting a hit back into Tier-1), then fall back
// to a per-field Tier-3 scan that can return a Partial outcome.
func (m *Manager) Get(pdfBytes []byte, label string, s *schema.Schema) (Outcome, error) {
	key, err := keybuilder.L12Key(pdfBytes, label, s)
	if err != nil {
		return Outcome{}, fmt.Errorf("cache: l1/l2 key: %w", err)
	}

	if result, ok := m.l1.Get(key); ok {
		m.incr(&m.hitsL1)
		return Outcome{Kind: OutcomeFull, Result: result, Tier: TierL1}, nil
	}

	if m.store != nil {
		result, ok, err := m.store.GetFullResult(key)
		if err != nil {
			return Outcome{}, fmt.Errorf("cache: tier-2 lookup: %w", err)
		}
		if ok {
			m.l1.Add(key, result)
			m.incr(&m.hitsL2)
			return Outcome{Kind: OutcomeFull, Result: result, Tier: TierL2}, nil
		}
	}

	if m.store == nil {
		m.incr(&m.misses)
		return Outcome{Kind: OutcomeMiss}, nil
	}

	names := s.Names()
	found := make(map[string]schema.FieldValue, len(names))
	foundCount := 0
	for _, field := range names {
		fieldKey := keybuilder.L3Key(pdfBytes, label, field)
		value, ok, err := m.store.GetFieldValue(fieldKey)
		if err != nil {
			return Outcome{}, fmt.Errorf("cache: tier-3 lookup %s: %w", field, err)
		}
		if ok {
			found[field] = schema.StringValue(value)
			foundCount++
		} else {
			found[field] = schema.NullValue()
		}
	}

	if foundCount == 0 {
		m.incr(&m.misses)
		return Outcome{Kind: OutcomeMiss}, nil
	}

	m.incr(&m.hitsL3)
	return Outcome{
		Kind:            OutcomePartial,
		PartialData:     found,
		FieldsFound:     foundCount,
		FieldsRequested: len(names),
	}, nil
}

// Set writes the full CachedResult to Tier-1 and Tier-2, and every
// non-null field to Tier-3, per spec §4.5's set algorithm.
func (m *Manager) Set(pdfBytes []byte, label string, s *schema.Schema, data map[string]schema.FieldValue, metadata map[string]interface{}) error {
	key, err := keybuilder.L12Key(pdfBytes, label, s)
	if err != nil {
		return fmt.Errorf("cache: l1/l2 key: %w", err)
	}

	result := &Result{Data: data, Metadata: metadata, Timestamp: time.Now().Unix()}
	m.l1.Add(key, result)

	if m.store == nil {
		return nil
	}

	if err := m.store.SetFullResult(key, label, result); err != nil {
		return fmt.Errorf("cache: tier-2 write: %w", err)
	}

	for field, value := range data {
		str, ok := value.String()
		if !ok {
			continue // never store null in Tier-3 (invariant I2)
		}
		fieldKey := keybuilder.L3Key(pdfBytes, label, field)
		if err := m.store.SetFieldValue(fieldKey, label, field, str); err != nil {
			return fmt.Errorf("cache: tier-3 write %s: %w", field, err)
		}
	}

	return nil
}

func (m *Manager) incr(counter *int64) {
	m.mu.Lock()
	*counter++
	m.mu.Unlock()
}

// Stats reports hit/miss counters per tier for /stats.
type Stats struct {
	HitsL1 int64 `json:"hits_l1"`
	HitsL2 int64 `json:"hits_l2"`
	HitsL3 int64 `json:"hits_l3"`
	Misses int64 `json:"misses"`
	L1Size int   `json:"l1_size"`
}

func (m *Manager) Stats() Stats {
	m.mu.Lock()
	defer m.mu.Unlock()
	return Stats{
		HitsL1: m.hitsL1,
		HitsL2: m.hitsL2,
		HitsL3: m.hitsL3,
		Misses: m.misses,
		L1Size: m.l1.Len(),
	}
}

// StartPruner runs store.Prune on an interval until ctx is cancelled,
// adapted from the teacher's StartPurger. Unlike the teacher's TTL-based
// expiry sweep, pruning here is age-based retention (spec §10), since
// Tier-2/Tier-3 rows never expire on their own.
func StartPruner(ctx context.Context, pruneFn func(retentionDays int) (int64, error), retentionDays int, interval time.Duration) <-chan struct{} {
	done := make(chan struct{})
	if interval <= 0 {
		interval = time.Hour
	}
	ticker := time.NewTicker(interval)
	go func() {
		defer close(done)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				func() {
					defer func() {
						if r := recover(); r != nil {
							log.Error().Interface("panic", r).Msg("cache pruner: recovered from panic")
						}
					}()
					if _, err := pruneFn(retentionDays); err != nil {
						log.Error().Err(err).Msg("cache pruner: prune failed")
					}
				}()
			}
		}
	}()
	return done
}

// EncodeResult/DecodeResult let the durable store adapter serialise a
// Result as opaque JSON bytes.
func EncodeResult(r *Result) ([]byte, error) {
	data, err := json.Marshal(r)
	if err != nil {
		return nil, fmt.Errorf("cache: encode result: %w", err)
	}
	return data, nil
}

func DecodeResult(data []byte) (*Result, error) {
	var r Result
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("cache: decode result: %w", err)
	}
	return &r, nil
}
