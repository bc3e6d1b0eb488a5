package keybuilder

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/allaspectsdev/pdfxtract/internal/schema"
)

func mustSchema(t *testing.T, fields map[string]string) *schema.Schema {
	t.Helper()
	s, err := schema.FromMap(fields)
	require.NoError(t, err)
	return s
}

func TestL12KeyDeterministic(t *testing.T) {
	s := mustSchema(t, map[string]string{"nome": "full name", "cpf": "tax id"})

	k1, err := L12Key([]byte("pdf-bytes"), "oab", s)
	require.NoError(t, err)
	k2, err := L12Key([]byte("pdf-bytes"), "oab", s)
	require.NoError(t, err)

	assert.Equal(t, k1, k2)
}

func TestL12KeyInsensitiveToSchemaKeyOrder(t *testing.T) {
	a := mustSchema(t, map[string]string{"nome": "full name", "cpf": "tax id"})
	b, err := schema.New(map[string]string{"cpf": "tax id", "nome": "full name"}, []string{"cpf", "nome"})
	require.NoError(t, err)

	ka, err := L12Key([]byte("pdf-bytes"), "oab", a)
	require.NoError(t, err)
	kb, err := L12Key([]byte("pdf-bytes"), "oab", b)
	require.NoError(t, err)

	assert.Equal(t, ka, kb, "L1/L2 key must not depend on schema field insertion order")
}

func TestL12KeyChangesWithInputs(t *testing.T) {
	s := mustSchema(t, map[string]string{"nome": "full name"})

	base, err := L12Key([]byte("pdf-a"), "oab", s)
	require.NoError(t, err)

	diffPDF, err := L12Key([]byte("pdf-b"), "oab", s)
	require.NoError(t, err)
	assert.NotEqual(t, base, diffPDF)

	diffLabel, err := L12Key([]byte("pdf-a"), "cnh", s)
	require.NoError(t, err)
	assert.NotEqual(t, base, diffLabel)

	s2 := mustSchema(t, map[string]string{"nome": "different description"})
	diffSchema, err := L12Key([]byte("pdf-a"), "oab", s2)
	require.NoError(t, err)
	assert.NotEqual(t, base, diffSchema)
}

func TestL3KeyFormat(t *testing.T) {
	key := L3Key([]byte("pdf-bytes"), "oab", "nome")
	assert.Contains(t, key, "field:")
	assert.Contains(t, key, "oab")
	assert.Contains(t, key, "nome")
}

func TestL3KeyIndependentOfSchema(t *testing.T) {
	k1 := L3Key([]byte("pdf-bytes"), "oab", "nome")
	k2 := L3Key([]byte("pdf-bytes"), "oab", "nome")
	assert.Equal(t, k1, k2)
}
