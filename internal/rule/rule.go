// Package rule defines ExtractionRule, the closed tagged union a Template
// stores one of per field (spec §3, §9 design note). Encoding rule types
// as a Go sum type instead of a loosely-typed string+blob pair removes an
// entire class of payload-mismatch bugs when rules are persisted and
// reloaded from the Template Store.
package rule

import (
	"encoding/json"
	"fmt"
)

// Kind identifies which variant of ExtractionRule is populated.
type Kind string

const (
	KindNone            Kind = "none"
	KindRegex           Kind = "regex"
	KindRelativeContext Kind = "relative_context"
	KindPosition        Kind = "position"
	KindHybrid          Kind = "hybrid"
)

// Direction is the relative-context direction a field lies in from its
// anchor.
type Direction string

const (
	DirectionRight Direction = "right"
	DirectionBelow Direction = "below"
)

// None records a deliberate "no rule learnable" decision, suppressing
// future learning attempts for the same field on this template.
type None struct {
	Reason string `json:"reason"`
}

// Regex requires the field value to match a named catalogue pattern.
type Regex struct {
	PatternName string `json:"pattern_name"`
	Pattern     string `json:"regex"`
}

// RelativeContext anchors the field to a direction from a text anchor.
type RelativeContext struct {
	AnchorText string    `json:"anchor_text"`
	Direction  Direction `json:"direction"`
}

// Position anchors the field to a page-relative coordinate.
type Position struct {
	RelX      float64 `json:"rel_x"`
	RelY      float64 `json:"rel_y"`
	Tolerance float64 `json:"tolerance"`
}

// Hybrid is a disjunction of sub-rules scored jointly at execution time.
// Per spec §4.9/§4.10, a hybrid's sub-rules are drawn from at most one
// each of Regex, RelativeContext, and Position.
type Hybrid struct {
	Rules []ExtractionRule `json:"rules"`
}

// ExtractionRule is the tagged union persisted by the Template Store.
// Exactly one of the payload fields is meaningful, selected by Kind.
type ExtractionRule struct {
	Kind       Kind             `json:"kind"`
	Confidence float64          `json:"confidence"`
	None       *None            `json:"none,omitempty"`
	Regex      *Regex           `json:"regex,omitempty"`
	Context    *RelativeContext `json:"context,omitempty"`
	Position   *Position        `json:"position,omitempty"`
	Hybrid     *Hybrid          `json:"hybrid,omitempty"`
}

// NewNone builds a None rule.
func NewNone(reason string, confidence float64) ExtractionRule {
	return ExtractionRule{Kind: KindNone, Confidence: confidence, None: &None{Reason: reason}}
}

// NewRegex builds a Regex rule.
func NewRegex(patternName, pattern string, confidence float64) ExtractionRule {
	return ExtractionRule{Kind: KindRegex, Confidence: confidence, Regex: &Regex{PatternName: patternName, Pattern: pattern}}
}

// NewRelativeContext builds a RelativeContext rule.
func NewRelativeContext(anchorText string, direction Direction, confidence float64) ExtractionRule {
	return ExtractionRule{Kind: KindRelativeContext, Confidence: confidence, Context: &RelativeContext{AnchorText: anchorText, Direction: direction}}
}

// NewPosition builds a Position rule.
func NewPosition(relX, relY, tolerance, confidence float64) ExtractionRule {
	return ExtractionRule{Kind: KindPosition, Confidence: confidence, Position: &Position{RelX: relX, RelY: relY, Tolerance: tolerance}}
}

// NewHybrid builds a Hybrid rule from its successful sub-rules.
func NewHybrid(subRules []ExtractionRule, confidence float64) ExtractionRule {
	return ExtractionRule{Kind: KindHybrid, Confidence: confidence, Hybrid: &Hybrid{Rules: subRules}}
}

// payload marshals the rule's kind-specific data only, for storage as the
// Template Store's rule_data column (kind is stored separately as
// rule_type).
func (r ExtractionRule) payload() (interface{}, error) {
	switch r.Kind {
	case KindNone:
		return r.None, nil
	case KindRegex:
		return r.Regex, nil
	case KindRelativeContext:
		return r.Context, nil
	case KindPosition:
		return r.Position, nil
	case KindHybrid:
		return r.Hybrid, nil
	default:
		return nil, fmt.Errorf("rule: unknown kind %q", r.Kind)
	}
}

// EncodePayload serialises the rule's kind-specific payload as JSON, for
// the Template Store's rule_data column.
func (r ExtractionRule) EncodePayload() ([]byte, error) {
	p, err := r.payload()
	if err != nil {
		return nil, err
	}
	return json.Marshal(p)
}

// Decode reconstructs an ExtractionRule from a stored (kind, confidence,
// payload) triple.
func Decode(kind Kind, confidence float64, payload []byte) (ExtractionRule, error) {
	r := ExtractionRule{Kind: kind, Confidence: confidence}
	switch kind {
	case KindNone:
		r.None = &None{}
		return r, unmarshalIfPresent(payload, r.None)
	case KindRegex:
		r.Regex = &Regex{}
		return r, unmarshalIfPresent(payload, r.Regex)
	case KindRelativeContext:
		r.Context = &RelativeContext{}
		return r, unmarshalIfPresent(payload, r.Context)
	case KindPosition:
		r.Position = &Position{}
		return r, unmarshalIfPresent(payload, r.Position)
	case KindHybrid:
		r.Hybrid = &Hybrid{}
		return r, unmarshalIfPresent(payload, r.Hybrid)
	default:
		return ExtractionRule{}, fmt.Errorf("rule: unknown kind %q", kind)
	}
}

func unmarshalIfPresent(data []byte, v interface{}) error {
	if len(data) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("rule: decode payload: %w", err)
	}
	return nil
}

// StrongRegexPatterns are pattern names considered high-specificity: they
// contribute positive score during hybrid candidate selection (spec §4.10).
var StrongRegexPatterns = map[string]bool{
	"cpf": true, "cnpj": true, "email": true, "telefone": true, "cep": true,
}
