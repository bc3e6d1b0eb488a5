// Package ruleexec implements the Rule Executor (spec §4.10): applying
// stored ExtractionRules to a new document's tokens. Only hybrid rules
// are executed; single-typed rules are only ever emitted by the Pattern
// Builder when a hybrid was impossible, and are treated as unresolved
// when read back, matching the distilled specification's read-path
// contract.
package ruleexec

import (
	"math"
	"regexp"
	"strings"

	"github.com/allaspectsdev/pdfxtract/internal/rule"
	"github.com/allaspectsdev/pdfxtract/internal/tokeniser"
)

const (
	positionScore    = 0.9
	contextScore     = 0.9
	strongRegexScore = 1.0

	fallbackPageWidth  = 612.0
	fallbackPageHeight = 792.0
)

type processedToken struct {
	tok   tokeniser.PositionedToken
	relX  float64
	relY  float64
}

func preprocess(tokens []tokeniser.PositionedToken) []processedToken {
	out := make([]processedToken, len(tokens))
	for i, tok := range tokens {
		w, h := tok.PageWidth, tok.PageHeight
		if w == 0 {
			w = fallbackPageWidth
		}
		if h == 0 {
			h = fallbackPageHeight
		}
		out[i] = processedToken{tok: tok, relX: tok.X / w, relY: tok.Y / h}
	}
	return out
}

// Execute applies one field's stored rule against a document's tokens,
// returning the extracted string and whether a value was resolved.
func Execute(r rule.ExtractionRule, tokens []tokeniser.PositionedToken) (string, bool) {
	switch r.Kind {
	case rule.KindNone:
		return "", false
	case rule.KindHybrid:
		return executeHybrid(r.Hybrid, preprocess(tokens))
	default:
		return "", false
	}
}

// ExecuteAll applies a map of field rules against one document's tokens,
// returning a field → (value, found) result for every field, matching
// the Rule Executor's batch contract.
func ExecuteAll(rules map[string]rule.ExtractionRule, tokens []tokeniser.PositionedToken) map[string]*string {
	processed := preprocess(tokens)
	result := make(map[string]*string, len(rules))

	for field, r := range rules {
		switch r.Kind {
		case rule.KindNone:
			result[field] = nil
		case rule.KindHybrid:
			if value, ok := executeHybrid(r.Hybrid, processed); ok {
				v := value
				result[field] = &v
			} else {
				result[field] = nil
			}
		default:
			result[field] = nil
		}
	}
	return result
}

type candidate struct {
	tok      processedToken
	score    float64
	distance float64
}

func executeHybrid(h *rule.Hybrid, tokens []processedToken) (string, bool) {
	if h == nil {
		return "", false
	}

	var posRule *rule.Position
	var ctxRule *rule.RelativeContext
	var rgxRule *rule.Regex

	for _, sub := range h.Rules {
		switch sub.Kind {
		case rule.KindPosition:
			posRule = sub.Position
		case rule.KindRelativeContext:
			ctxRule = sub.Context
		case rule.KindRegex:
			rgxRule = sub.Regex
		}
	}

	if rgxRule == nil {
		return "", false
	}
	rgx, err := regexp.Compile(rgxRule.Pattern)
	if err != nil {
		return "", false
	}

	candidates := make([]candidate, len(tokens))
	for i, t := range tokens {
		candidates[i] = candidate{tok: t, score: 0, distance: math.Inf(1)}
	}

	if posRule != nil {
		for i, t := range tokens {
			d := math.Hypot(t.relX-posRule.RelX, t.relY-posRule.RelY)
			candidates[i].distance = d
			if d <= posRule.Tolerance {
				candidates[i].score += positionScore
			}
		}
	}

	if ctxRule != nil {
		if anchorIdx, ok := findAnchorByText(ctxRule.AnchorText, tokens); ok {
			if targetIdx, ok := findInDirection(tokens, anchorIdx, ctxRule.Direction); ok {
				candidates[targetIdx].score += contextScore
			}
		}
	}

	if rule.StrongRegexPatterns[rgxRule.PatternName] {
		for i, t := range tokens {
			if rgx.MatchString(t.tok.Text) {
				candidates[i].score += strongRegexScore
			}
		}
	}

	var survivors []candidate
	for _, c := range candidates {
		if c.score > 0 && rgx.MatchString(c.tok.Text) {
			survivors = append(survivors, c)
		}
	}
	if len(survivors) == 0 {
		return "", false
	}

	best := survivors[0]
	for _, c := range survivors[1:] {
		if c.score > best.score || (c.score == best.score && c.distance < best.distance) {
			best = c
		}
	}

	return best.tok.tok.Text, true
}

func findAnchorByText(anchorText string, tokens []processedToken) (int, bool) {
	trimmed := strings.TrimSpace(anchorText)
	for i, t := range tokens {
		if strings.TrimSpace(t.tok.Text) == trimmed {
			return i, true
		}
	}
	lower := strings.ToLower(trimmed)
	for i, t := range tokens {
		if strings.Contains(strings.ToLower(strings.TrimSpace(t.tok.Text)), lower) {
			return i, true
		}
	}
	return 0, false
}

func findInDirection(tokens []processedToken, anchorIdx int, direction rule.Direction) (int, bool) {
	switch direction {
	case rule.DirectionRight:
		return findToRight(tokens, anchorIdx)
	case rule.DirectionBelow:
		return findBelow(tokens, anchorIdx)
	default:
		return 0, false
	}
}

func findToRight(tokens []processedToken, anchorIdx int) (int, bool) {
	anchor := tokens[anchorIdx].tok
	best := -1
	minDistance := math.Inf(1)
	for i, t := range tokens {
		if t.tok.X > anchor.X && absFloat(t.tok.Y-anchor.Y) <= 10 {
			d := t.tok.X - anchor.X
			if d < minDistance {
				minDistance = d
				best = i
			}
		}
	}
	return best, best >= 0
}

func findBelow(tokens []processedToken, anchorIdx int) (int, bool) {
	anchor := tokens[anchorIdx].tok
	best := -1
	minDistance := math.Inf(1)
	for i, t := range tokens {
		if t.tok.Y > anchor.Y && absFloat(t.tok.X-anchor.X) <= 20 {
			d := t.tok.Y - anchor.Y
			if d < minDistance {
				minDistance = d
				best = i
			}
		}
	}
	return best, best >= 0
}

func absFloat(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}
