// Package pattern implements the Pattern Builder (spec §4.9): given one
// known-good field value and the document's tokens, it learns an
// ExtractionRule by trying a regex, a relative-context anchor, and a
// position rule in turn, then combining whichever succeed into a hybrid.
package pattern

import (
	"regexp"
	"strings"

	"github.com/allaspectsdev/pdfxtract/internal/rule"
	"github.com/allaspectsdev/pdfxtract/internal/tokeniser"
)

// Defaults mirror spec §4.9; Y_TOL is 5 points here (shared with row
// grouping), distinct from the original reference implementation's wider
// same-line tolerance, per the distilled specification's own constant.
const (
	DefaultYTolerance = 5.0
	DefaultXTolerance = 20.0

	positionTolerance = 0.05
)

// CatalogueEntry is one named regex pattern with its base confidence, as
// tried in catalogue order by the regex sub-rule.
type CatalogueEntry struct {
	Name       string
	Pattern    string
	Confidence float64
	compiled   *regexp.Regexp
}

// DefaultCatalogue is the fixed regex catalogue from spec §4.9, tried in
// this order: a field name containing a catalogue name, or a value
// matching its regex, selects that entry.
var DefaultCatalogue = buildCatalogue([]CatalogueEntry{
	{Name: "cpf", Pattern: `\d{3}\.?\d{3}\.?\d{3}-?\d{2}`, Confidence: 1.0},
	{Name: "cnpj", Pattern: `\d{2}\.?\d{3}\.?\d{3}/?\d{4}-?\d{2}`, Confidence: 1.0},
	{Name: "email", Pattern: `[\w.-]+@[\w.-]+\.\w+`, Confidence: 1.0},
	{Name: "telefone", Pattern: `\(?\d{2}\)?\s?\d{4,5}-?\d{4}`, Confidence: 1.0},
	{Name: "cep", Pattern: `\d{5}-?\d{3}`, Confidence: 1.0},
	{Name: "valor_monetario", Pattern: `R\$\s?\d{1,3}(\.\d{3})*([.,]\d{2})`, Confidence: 1.0},
	{Name: "data", Pattern: `\d{2}/\d{2}/\d{4}`, Confidence: 1.0},
	{Name: "numero_inscricao", Pattern: `\d{5,8}`, Confidence: 1.0},
	{Name: "numero", Pattern: `\d+`, Confidence: 0.7},
	{Name: "texto", Pattern: `^[^\d]+$`, Confidence: 0.7},
	{Name: "outros", Pattern: `.+`, Confidence: 0.7},
})

func buildCatalogue(entries []CatalogueEntry) []CatalogueEntry {
	for i := range entries {
		entries[i].compiled = regexp.MustCompile(entries[i].Pattern)
	}
	return entries
}

// Builder learns rules using a regex catalogue and the spec's context/
// position tolerances.
type Builder struct {
	Catalogue  []CatalogueEntry
	YTolerance float64
	XTolerance float64

	// AllowSubstringAnchors gates findTokenByValue's second pass, which
	// matches a field value against a token that merely contains it
	// rather than equalling it exactly. Mirrors
	// Config.Pattern.AllowSubstringAnchors; defaults to true, matching
	// the distilled specification's behaviour.
	AllowSubstringAnchors bool
}

// New builds a Builder with the default catalogue and tolerances.
func New() *Builder {
	return &Builder{
		Catalogue:             DefaultCatalogue,
		YTolerance:            DefaultYTolerance,
		XTolerance:            DefaultXTolerance,
		AllowSubstringAnchors: true,
	}
}

// FieldValue is either a present string or explicitly absent (null),
// mirroring the schema.FieldValue sum type without importing it, since
// the pattern builder only cares about presence, not JSON round-tripping.
type FieldValue struct {
	text  string
	isSet bool
}

// LearnNull expresses "the LLM returned null for this field" to Learn.
func LearnNull() FieldValue { return FieldValue{} }

// LearnValue expresses a present field value to Learn.
func LearnValue(v string) FieldValue { return FieldValue{text: v, isSet: true} }

// Learn runs the Pattern Builder's policy for one field against one
// document's tokens, returning the learned ExtractionRule.
func (b *Builder) Learn(fieldName string, value FieldValue, tokens []tokeniser.PositionedToken) rule.ExtractionRule {
	if !value.isSet || value.text == "null" {
		return rule.NewNone("value_is_null", 0.9)
	}

	target, ok := b.findTokenByValue(value.text, tokens)
	if !ok {
		return rule.NewNone("value_not_found", 0.1)
	}

	var found []rule.ExtractionRule

	if r, ok := b.learnRegex(fieldName, value.text); ok {
		found = append(found, r)
	}
	if r, ok := b.learnContext(target, tokens); ok {
		found = append(found, r)
	}
	if r, ok := b.learnPosition(target); ok {
		found = append(found, r)
	}

	switch len(found) {
	case 0:
		return rule.NewNone("no_pattern_found", 0.1)
	case 1:
		return found[0]
	default:
		sum := 0.0
		for _, r := range found {
			sum += r.Confidence
		}
		confidence := sum/float64(len(found)) + 0.2
		if confidence > 0.99 {
			confidence = 0.99
		}
		return rule.NewHybrid(found, confidence)
	}
}

func (b *Builder) findTokenByValue(value string, tokens []tokeniser.PositionedToken) (tokeniser.PositionedToken, bool) {
	for _, tok := range tokens {
		if tok.Text == value {
			return tok, true
		}
	}
	if b.AllowSubstringAnchors {
		for _, tok := range tokens {
			if strings.Contains(tok.Text, value) {
				return tok, true
			}
		}
	}
	return tokeniser.PositionedToken{}, false
}

func (b *Builder) learnRegex(fieldName, value string) (rule.ExtractionRule, bool) {
	fieldNameLower := strings.ToLower(fieldName)
	for _, entry := range b.Catalogue {
		if strings.Contains(fieldNameLower, entry.Name) || entry.compiled.MatchString(value) {
			return rule.NewRegex(entry.Name, entry.Pattern, entry.Confidence), true
		}
	}
	return rule.ExtractionRule{}, false
}

var numericOnly = regexp.MustCompile(`^\d+$`)

func (b *Builder) learnContext(target tokeniser.PositionedToken, tokens []tokeniser.PositionedToken) (rule.ExtractionRule, bool) {
	if anchor, ok := b.findAnchorLeft(target, tokens); ok {
		return rule.NewRelativeContext(anchor.Text, rule.DirectionRight, 0.8), true
	}
	if anchor, ok := b.findAnchorAbove(target, tokens); ok {
		return rule.NewRelativeContext(anchor.Text, rule.DirectionBelow, 0.8), true
	}
	return rule.ExtractionRule{}, false
}

func (b *Builder) findAnchorLeft(target tokeniser.PositionedToken, tokens []tokeniser.PositionedToken) (tokeniser.PositionedToken, bool) {
	var best tokeniser.PositionedToken
	minDistance := -1.0
	found := false

	for _, tok := range tokens {
		if numericOnly.MatchString(strings.TrimSpace(tok.Text)) {
			continue
		}
		if absFloat(tok.Y-target.Y) <= b.YTolerance && tok.X < target.X {
			d := target.X - tok.X
			if !found || d < minDistance {
				minDistance = d
				best = tok
				found = true
			}
		}
	}
	return best, found
}

func (b *Builder) findAnchorAbove(target tokeniser.PositionedToken, tokens []tokeniser.PositionedToken) (tokeniser.PositionedToken, bool) {
	var best tokeniser.PositionedToken
	minDistance := -1.0
	found := false

	for _, tok := range tokens {
		if numericOnly.MatchString(strings.TrimSpace(tok.Text)) {
			continue
		}
		if tok.Y < target.Y && absFloat(tok.X-target.X) <= b.XTolerance {
			d := target.Y - tok.Y
			if !found || d < minDistance {
				minDistance = d
				best = tok
				found = true
			}
		}
	}
	return best, found
}

func (b *Builder) learnPosition(target tokeniser.PositionedToken) (rule.ExtractionRule, bool) {
	if target.PageWidth == 0 || target.PageHeight == 0 {
		return rule.ExtractionRule{}, false
	}

	return rule.NewPosition(target.X/target.PageWidth, target.Y/target.PageHeight, positionTolerance, 0.6), true
}

func absFloat(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}
