package llmclient

import (
	"fmt"
	"strings"

	"github.com/allaspectsdev/pdfxtract/internal/schema"
	"github.com/allaspectsdev/pdfxtract/internal/tokeniser"
)

// BuildPrompt reconstructs the prompt original_source's
// LLMConnector._generate_extraction_prompt builds: a Portuguese
// instruction naming the document label and schema, followed by the
// row-grouped document text.
func BuildPrompt(label string, s *schema.Schema, tokens []tokeniser.PositionedToken) string {
	var fields strings.Builder
	var jsonTemplate strings.Builder
	jsonTemplate.WriteByte('{')
	for i, name := range s.Names() {
		if i > 0 {
			fields.WriteByte('\n')
			jsonTemplate.WriteString(", ")
		}
		fmt.Fprintf(&fields, "%q: %q", name, s.Description(name))
		fmt.Fprintf(&jsonTemplate, "%q: \"...\"", name)
	}
	jsonTemplate.WriteByte('}')

	instruction := fmt.Sprintf(
		"Extraia os seguintes dados do documento %q. O texto está ordenado de cima para baixo, esquerda para direita.\n\n"+
			"SCHEMA DE EXTRAÇÃO:\n%s\n\n"+
			"Responda APENAS com um objeto JSON válido, seguindo este formato.\n"+
			"Se alguns dos campos não estiverem presentes no documento, retorne null para eles.\n\n"+
			"FORMATO JSON:\n%s\n",
		label, fields.String(), jsonTemplate.String(),
	)

	documentText := tokeniser.GroupRows(tokens, tokeniser.DefaultYTolerance)

	return instruction + "\nDOCUMENT_TEXT:\n" + documentText
}
