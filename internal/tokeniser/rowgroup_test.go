package tokeniser

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestGroupRowsOrdersAndJoins(t *testing.T) {
	tokens := []PositionedToken{
		{Text: "JOANA SILVA", X: 200, Y: 200},
		{Text: "Nome:", X: 100, Y: 200},
		{Text: "CPF:", X: 100, Y: 250},
		{Text: "123.456.789-00", X: 200, Y: 252},
	}

	got := GroupRows(tokens, DefaultYTolerance)
	assert.Equal(t, "Nome: JOANA SILVA\nCPF: 123.456.789-00", got)
}

func TestGroupRowsEmpty(t *testing.T) {
	assert.Equal(t, "", GroupRows(nil, DefaultYTolerance))
}

func TestGroupRowsRespectsTolerance(t *testing.T) {
	tokens := []PositionedToken{
		{Text: "A", X: 0, Y: 0},
		{Text: "B", X: 10, Y: 20}, // far enough to start a new row
	}
	got := GroupRows(tokens, DefaultYTolerance)
	assert.Equal(t, "A\nB", got)
}
