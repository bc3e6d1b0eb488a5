package pipeline

import (
	"github.com/allaspectsdev/pdfxtract/internal/schema"
)

// Request is one call into the Extractor: a PDF's bytes, the document
// label that scopes caching and templates, and the schema of fields to
// extract.
type Request struct {
	PDFBytes []byte
	FileName string
	Label    string
	Schema   *schema.Schema
}

// Result is the merged extraction result returned to the HTTP front-end:
// the field data plus the `_pipeline` object of spec §6 (method and the
// ordered list of steps the state machine executed).
type Result struct {
	Data   map[string]schema.FieldValue
	Method string
	Steps  []string
}
