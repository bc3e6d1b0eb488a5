package rule

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegexRoundTrip(t *testing.T) {
	r := NewRegex("cpf", `\d{3}\.\d{3}\.\d{3}-\d{2}`, 0.95)

	payload, err := r.EncodePayload()
	require.NoError(t, err)

	decoded, err := Decode(r.Kind, r.Confidence, payload)
	require.NoError(t, err)

	assert.Equal(t, r, decoded)
}

func TestRelativeContextRoundTrip(t *testing.T) {
	r := NewRelativeContext("Nome:", DirectionRight, 0.8)

	payload, err := r.EncodePayload()
	require.NoError(t, err)

	decoded, err := Decode(r.Kind, r.Confidence, payload)
	require.NoError(t, err)

	assert.Equal(t, r, decoded)
}

func TestPositionRoundTrip(t *testing.T) {
	r := NewPosition(0.42, 0.17, 0.03, 0.6)

	payload, err := r.EncodePayload()
	require.NoError(t, err)

	decoded, err := Decode(r.Kind, r.Confidence, payload)
	require.NoError(t, err)

	assert.Equal(t, r, decoded)
}

func TestHybridRoundTrip(t *testing.T) {
	sub := []ExtractionRule{
		NewRegex("email", `[^@]+@[^@]+`, 0.9),
		NewPosition(0.5, 0.5, 0.05, 0.4),
	}
	r := NewHybrid(sub, 0.99)

	payload, err := r.EncodePayload()
	require.NoError(t, err)

	decoded, err := Decode(r.Kind, r.Confidence, payload)
	require.NoError(t, err)

	assert.Equal(t, r, decoded)
}

func TestNoneRoundTrip(t *testing.T) {
	r := NewNone("no stable anchor found", 0.9)

	payload, err := r.EncodePayload()
	require.NoError(t, err)

	decoded, err := Decode(r.Kind, r.Confidence, payload)
	require.NoError(t, err)

	assert.Equal(t, r, decoded)
}

func TestDecodeUnknownKind(t *testing.T) {
	_, err := Decode(Kind("bogus"), 0.5, nil)
	assert.Error(t, err)
}

func TestStrongRegexPatterns(t *testing.T) {
	assert.True(t, StrongRegexPatterns["cpf"])
	assert.False(t, StrongRegexPatterns["texto"])
}
