package pattern

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/allaspectsdev/pdfxtract/internal/rule"
	"github.com/allaspectsdev/pdfxtract/internal/tokeniser"
)

func TestLearnPositionRejectsZeroPageDimensions(t *testing.T) {
	b := New()

	_, ok := b.learnPosition(tokeniser.PositionedToken{Text: "x", X: 10, Y: 20, PageWidth: 0, PageHeight: 792})
	assert.False(t, ok, "zero PageWidth must reject, not substitute a fallback")

	_, ok = b.learnPosition(tokeniser.PositionedToken{Text: "x", X: 10, Y: 20, PageWidth: 612, PageHeight: 0})
	assert.False(t, ok, "zero PageHeight must reject, not substitute a fallback")

	_, ok = b.learnPosition(tokeniser.PositionedToken{Text: "x", X: 10, Y: 20, PageWidth: 612, PageHeight: 792})
	assert.True(t, ok)
}

func TestLearnNullValue(t *testing.T) {
	b := New()
	r := b.Learn("cpf_cliente", LearnNull(), nil)
	require.Equal(t, rule.KindNone, r.Kind)
	assert.Equal(t, "value_is_null", r.None.Reason)
	assert.Equal(t, 0.9, r.Confidence)
}

func TestLearnValueNotFound(t *testing.T) {
	b := New()
	r := b.Learn("nome", LearnValue("JOANA SILVA"), nil)
	require.Equal(t, rule.KindNone, r.Kind)
	assert.Equal(t, "value_not_found", r.None.Reason)
}

func TestLearnSubstringAnchorMatchesContainingToken(t *testing.T) {
	tokens := []tokeniser.PositionedToken{
		{Text: "Nome:", X: 10, Y: 100, PageWidth: 612, PageHeight: 792},
		{Text: "Sr. JOANA SILVA", X: 120, Y: 100, PageWidth: 612, PageHeight: 792},
	}

	b := New()
	r := b.Learn("nome", LearnValue("JOANA SILVA"), tokens)
	assert.NotEqual(t, rule.KindNone, r.Kind, "substring anchoring is on by default")
}

func TestLearnValueNotFoundWhenSubstringAnchorsDisabled(t *testing.T) {
	tokens := []tokeniser.PositionedToken{
		{Text: "Nome:", X: 10, Y: 100, PageWidth: 612, PageHeight: 792},
		{Text: "Sr. JOANA SILVA", X: 120, Y: 100, PageWidth: 612, PageHeight: 792},
	}

	b := New()
	b.AllowSubstringAnchors = false
	r := b.Learn("nome", LearnValue("JOANA SILVA"), tokens)
	require.Equal(t, rule.KindNone, r.Kind)
	assert.Equal(t, "value_not_found", r.None.Reason)
}

func TestLearnHybridFromRegexContextAndPosition(t *testing.T) {
	tokens := []tokeniser.PositionedToken{
		{Text: "CPF:", X: 50, Y: 100, PageWidth: 612, PageHeight: 792},
		{Text: "123.456.789-00", X: 120, Y: 100, PageWidth: 612, PageHeight: 792},
	}

	b := New()
	r := b.Learn("cpf_cliente", LearnValue("123.456.789-00"), tokens)

	require.Equal(t, rule.KindHybrid, r.Kind)
	require.NotNil(t, r.Hybrid)
	assert.Len(t, r.Hybrid.Rules, 3)

	var kinds []rule.Kind
	for _, sub := range r.Hybrid.Rules {
		kinds = append(kinds, sub.Kind)
	}
	assert.Contains(t, kinds, rule.KindRegex)
	assert.Contains(t, kinds, rule.KindRelativeContext)
	assert.Contains(t, kinds, rule.KindPosition)

	assert.InDelta(t, 0.99, r.Confidence, 1e-9)
}

func TestLearnContextAnchorAbove(t *testing.T) {
	tokens := []tokeniser.PositionedToken{
		{Text: "Inscricao", X: 100, Y: 50, PageWidth: 612, PageHeight: 792},
		{Text: "101943", X: 100, Y: 70, PageWidth: 612, PageHeight: 792},
	}

	b := New()
	r := b.Learn("numero_inscricao", LearnValue("101943"), tokens)

	require.Equal(t, rule.KindHybrid, r.Kind)
	var ctx *rule.RelativeContext
	for _, sub := range r.Hybrid.Rules {
		if sub.Kind == rule.KindRelativeContext {
			ctx = sub.Context
		}
	}
	require.NotNil(t, ctx)
	assert.Equal(t, "Inscricao", ctx.AnchorText)
	assert.Equal(t, rule.DirectionBelow, ctx.Direction)
}

func TestLearnContextIgnoresNumericAnchors(t *testing.T) {
	tokens := []tokeniser.PositionedToken{
		{Text: "999", X: 10, Y: 100, PageWidth: 612, PageHeight: 792},
		{Text: "joao@example.com", X: 120, Y: 100, PageWidth: 612, PageHeight: 792},
	}

	b := New()
	r := b.Learn("email_contato", LearnValue("joao@example.com"), tokens)

	require.Equal(t, rule.KindHybrid, r.Kind)
	for _, sub := range r.Hybrid.Rules {
		assert.NotEqual(t, rule.KindRelativeContext, sub.Kind)
	}
}

func TestLearnFallsBackToOutrosWithNoAnchorAndNoPageDimensions(t *testing.T) {
	// With a single token, no context anchor available, and no page
	// dimensions reported by the tokeniser, only the catch-all "outros"
	// regex can succeed: per spec §4.9, a position rule requires non-zero
	// page dimensions and must be rejected rather than substituting a
	// fallback page size.
	tokens := []tokeniser.PositionedToken{
		{Text: "xyz-not-a-known-format", X: 100, Y: 100},
	}

	b := New()
	r := b.Learn("campo_livre", LearnValue("xyz-not-a-known-format"), tokens)

	require.Equal(t, rule.KindRegex, r.Kind)
}
