package cache

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/allaspectsdev/pdfxtract/internal/schema"
)

type mockStore struct {
	full   map[string]*Result
	fields map[string]string
}

func newMockStore() *mockStore {
	return &mockStore{full: make(map[string]*Result), fields: make(map[string]string)}
}

func (m *mockStore) GetFullResult(key string) (*Result, bool, error) {
	r, ok := m.full[key]
	return r, ok, nil
}

func (m *mockStore) SetFullResult(key, label string, result *Result) error {
	m.full[key] = result
	return nil
}

func (m *mockStore) GetFieldValue(key string) (string, bool, error) {
	v, ok := m.fields[key]
	return v, ok, nil
}

func (m *mockStore) SetFieldValue(key, label, fieldName, value string) error {
	m.fields[key] = value
	return nil
}

func mustSchema(t *testing.T, fields map[string]string) *schema.Schema {
	t.Helper()
	s, err := schema.FromMap(fields)
	require.NoError(t, err)
	return s
}

func TestManagerSetThenGetHitsL1(t *testing.T) {
	mgr, err := NewManager(newMockStore(), 10)
	require.NoError(t, err)

	s := mustSchema(t, map[string]string{"nome": "full name"})
	data := map[string]schema.FieldValue{"nome": schema.StringValue("JOANA SILVA")}

	require.NoError(t, mgr.Set([]byte("pdf"), "oab", s, data, map[string]interface{}{"method": "llm-full"}))

	out, err := mgr.Get([]byte("pdf"), "oab", s)
	require.NoError(t, err)
	assert.Equal(t, OutcomeFull, out.Kind)
	assert.Equal(t, TierL1, out.Tier)
	v, ok := out.Result.Data["nome"].String()
	require.True(t, ok)
	assert.Equal(t, "JOANA SILVA", v)
}

func TestManagerL2HitPromotesToL1(t *testing.T) {
	mockSt := newMockStore()
	mgr, err := NewManager(mockSt, 10)
	require.NoError(t, err)

	s := mustSchema(t, map[string]string{"nome": "full name"})
	data := map[string]schema.FieldValue{"nome": schema.StringValue("JOANA SILVA")}
	require.NoError(t, mgr.Set([]byte("pdf"), "oab", s, data, nil))

	// Force eviction from L1 by building a fresh Manager sharing the same
	// durable store but an empty L1, simulating a cold process restart.
	mgr2, err := NewManager(mockSt, 10)
	require.NoError(t, err)

	out, err := mgr2.Get([]byte("pdf"), "oab", s)
	require.NoError(t, err)
	assert.Equal(t, OutcomeFull, out.Kind)
	assert.Equal(t, TierL2, out.Tier)

	// A second Get on mgr2 must now be served from L1.
	out2, err := mgr2.Get([]byte("pdf"), "oab", s)
	require.NoError(t, err)
	assert.Equal(t, TierL1, out2.Tier)
}

func TestManagerPartialFromTier3(t *testing.T) {
	mockSt := newMockStore()
	mgr, err := NewManager(mockSt, 10)
	require.NoError(t, err)

	s := mustSchema(t, map[string]string{"nome": "full name", "cpf": "tax id"})

	// Simulate a prior Set that only resolved "nome", leaving "cpf" null
	// (and therefore absent from Tier-3 per invariant I2) without ever
	// writing a Tier-2 full result for this exact schema.
	data := map[string]schema.FieldValue{
		"nome": schema.StringValue("JOANA SILVA"),
		"cpf":  schema.NullValue(),
	}
	require.NoError(t, mgr.Set([]byte("pdf"), "oab", s, data, nil))

	// A fresh manager with a wider schema (a superset) forces a Tier-3
	// per-field scan since no Tier-2 row exists for that schema hash.
	s2 := mustSchema(t, map[string]string{"nome": "full name", "cpf": "tax id", "rg": "id number"})
	mgr2, err := NewManager(mockSt, 10)
	require.NoError(t, err)

	out, err := mgr2.Get([]byte("pdf"), "oab", s2)
	require.NoError(t, err)
	assert.Equal(t, OutcomePartial, out.Kind)
	assert.Equal(t, 1, out.FieldsFound)
	assert.Equal(t, 3, out.FieldsRequested)
	v, ok := out.PartialData["nome"].String()
	require.True(t, ok)
	assert.Equal(t, "JOANA SILVA", v)
	assert.True(t, out.PartialData["rg"].IsNull())
}

func TestManagerMissWhenNothingCached(t *testing.T) {
	mgr, err := NewManager(newMockStore(), 10)
	require.NoError(t, err)

	s := mustSchema(t, map[string]string{"nome": "full name"})
	out, err := mgr.Get([]byte("never-seen"), "oab", s)
	require.NoError(t, err)
	assert.Equal(t, OutcomeMiss, out.Kind)
}

func TestManagerNeverWritesNullToTier3(t *testing.T) {
	mockSt := newMockStore()
	mgr, err := NewManager(mockSt, 10)
	require.NoError(t, err)

	s := mustSchema(t, map[string]string{"cpf": "tax id"})
	data := map[string]schema.FieldValue{"cpf": schema.NullValue()}
	require.NoError(t, mgr.Set([]byte("pdf"), "oab", s, data, nil))

	assert.Empty(t, mockSt.fields, "null field values must never be written to tier-3")
}

func TestManagerStatsTrackHitsAndMisses(t *testing.T) {
	mgr, err := NewManager(newMockStore(), 10)
	require.NoError(t, err)

	s := mustSchema(t, map[string]string{"nome": "full name"})
	_, err = mgr.Get([]byte("a"), "oab", s)
	require.NoError(t, err)

	data := map[string]schema.FieldValue{"nome": schema.StringValue("x")}
	require.NoError(t, mgr.Set([]byte("b"), "oab", s, data, nil))
	_, err = mgr.Get([]byte("b"), "oab", s)
	require.NoError(t, err)

	stats := mgr.Stats()
	assert.EqualValues(t, 1, stats.Misses)
	assert.EqualValues(t, 1, stats.HitsL1)
}

func TestManagerNilStoreIsL1Only(t *testing.T) {
	mgr, err := NewManager(nil, 10)
	require.NoError(t, err)

	s := mustSchema(t, map[string]string{"nome": "full name"})
	data := map[string]schema.FieldValue{"nome": schema.StringValue("x")}
	require.NoError(t, mgr.Set([]byte("pdf"), "oab", s, data, nil))

	out, err := mgr.Get([]byte("pdf"), "oab", s)
	require.NoError(t, err)
	assert.Equal(t, OutcomeFull, out.Kind)

	out2, err := mgr.Get([]byte("never-seen"), "oab", s)
	require.NoError(t, err)
	assert.Equal(t, OutcomeMiss, out2.Kind)
}

func TestNewManagerDefaultsL1Max(t *testing.T) {
	mgr, err := NewManager(nil, 0)
	require.NoError(t, err)
	require.NotNil(t, mgr)

	s := mustSchema(t, map[string]string{"nome": "full name"})
	for i := 0; i < DefaultL1Max+10; i++ {
		data := map[string]schema.FieldValue{"nome": schema.StringValue("x")}
		require.NoError(t, mgr.Set([]byte{byte(i), byte(i >> 8)}, "oab", s, data, nil))
	}
	assert.Equal(t, DefaultL1Max, mgr.l1.Len(), "LRU should cap at the default capacity")
}
