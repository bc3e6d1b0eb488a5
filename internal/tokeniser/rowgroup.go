package tokeniser

import (
	"sort"
	"strings"
)

// DefaultYTolerance is the default row-grouping tolerance in PDF points
// (~2mm). Tokeniser implementations with sub-pixel coordinates may need
// to widen it.
const DefaultYTolerance = 5.0

// GroupRows reconstructs a document's reading order from its positioned
// tokens: sort by (y, x), then walk the stream grouping tokens into rows
// whose y falls within yTolerance of the row's first token. Rows are
// joined with spaces, and rows with newlines, reproducing the page's
// natural left-to-right, top-to-bottom text flow. Shared by the
// Structural Matcher (signature extraction) and the LLM client (document
// serialisation).
func GroupRows(tokens []PositionedToken, yTolerance float64) string {
	if len(tokens) == 0 {
		return ""
	}

	sorted := make([]PositionedToken, len(tokens))
	copy(sorted, tokens)
	sort.Slice(sorted, func(i, j int) bool {
		if sorted[i].Y != sorted[j].Y {
			return sorted[i].Y < sorted[j].Y
		}
		return sorted[i].X < sorted[j].X
	})

	var rows [][]PositionedToken
	var current []PositionedToken
	var rowRefY float64

	for _, tok := range sorted {
		if current == nil {
			current = []PositionedToken{tok}
			rowRefY = tok.Y
			continue
		}
		if absFloat(tok.Y-rowRefY) <= yTolerance {
			current = append(current, tok)
			continue
		}
		rows = append(rows, current)
		current = []PositionedToken{tok}
		rowRefY = tok.Y
	}
	if current != nil {
		rows = append(rows, current)
	}

	lines := make([]string, 0, len(rows))
	for _, row := range rows {
		sort.Slice(row, func(i, j int) bool { return row[i].X < row[j].X })
		texts := make([]string, len(row))
		for i, tok := range row {
			texts[i] = tok.Text
		}
		lines = append(lines, strings.Join(texts, " "))
	}

	return strings.Join(lines, "\n")
}

func absFloat(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}
