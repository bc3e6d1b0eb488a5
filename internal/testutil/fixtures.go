package testutil

import (
	"path/filepath"
	"testing"

	"github.com/allaspectsdev/pdfxtract/internal/pattern"
	"github.com/allaspectsdev/pdfxtract/internal/schema"
	"github.com/allaspectsdev/pdfxtract/internal/structmatch"
	"github.com/allaspectsdev/pdfxtract/internal/template"
	"github.com/allaspectsdev/pdfxtract/internal/tokeniser"
)

// SamplePDFBytes returns minimal bytes carrying a PDF header, enough to
// exercise file-size and multipart plumbing without a real PDF parser.
func SamplePDFBytes() []byte {
	return []byte("%PDF-1.4 fake content")
}

// SampleTokens returns a fixed positioned-token stream shaped like an OAB
// certificate's name/CPF fields, mirroring the fixtures duplicated across
// internal/pipeline and internal/template's own tests.
func SampleTokens() []tokeniser.PositionedToken {
	return []tokeniser.PositionedToken{
		{Text: "Nome:", Page: 1, X: 100, Y: 200, PageWidth: 612, PageHeight: 792},
		{Text: "JOANA SILVA", Page: 1, X: 200, Y: 200, PageWidth: 612, PageHeight: 792},
		{Text: "CPF:", Page: 1, X: 100, Y: 250, PageWidth: 612, PageHeight: 792},
		{Text: "123.456.789-00", Page: 1, X: 200, Y: 250, PageWidth: 612, PageHeight: 792},
	}
}

// SampleSchema builds a two-field extraction schema (name, CPF) matching
// SampleTokens, failing the test on the (unreachable) validation error.
func SampleSchema(t *testing.T) *schema.Schema {
	t.Helper()
	s, err := schema.New(map[string]string{
		"nome": "full name",
		"cpf":  "CPF number",
	}, []string{"nome", "cpf"})
	if err != nil {
		t.Fatalf("failed to build test schema: %v", err)
	}
	return s
}

// NewTestOrchestrator opens a fresh template store and structure matcher in
// a temp directory, wired the way daemon.Run wires them in production.
func NewTestOrchestrator(t *testing.T) *template.Orchestrator {
	t.Helper()
	path := filepath.Join(t.TempDir(), "templates.db")
	st, err := template.Open(path)
	if err != nil {
		t.Fatalf("failed to open test template store: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	matcher := structmatch.New(structmatch.KnownLabels)
	builder := pattern.New()
	return template.NewOrchestrator(st, matcher, builder)
}
