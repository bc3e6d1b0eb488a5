// Package structmatch implements the Structural Matcher (spec §4.7): it
// fingerprints a document's layout as a set of known label terms and
// compares fingerprints with Jaccard similarity, the cheap pre-check that
// decides whether a learned template can be trusted against a new PDF.
package structmatch

import (
	"unicode"

	"golang.org/x/text/unicode/norm"

	"github.com/allaspectsdev/pdfxtract/internal/tokeniser"
)

// DefaultJaccardThreshold is the minimum similarity score for two
// structural signatures to be considered a match.
const DefaultJaccardThreshold = 0.80

// KnownLabels is the fixed vocabulary of form-caption terms the matcher
// recognises. Drawn from common Brazilian administrative and identity
// document captions; deployments needing other vocabularies can extend
// this list at init time.
var KnownLabels = []string{
	"nome", "cpf", "cnpj", "rg", "endereco", "cep", "telefone", "email",
	"data", "nascimento", "total", "valor", "numero", "inscricao",
	"matricula", "profissao", "municipio", "estado", "bairro", "cidade",
	"assinatura", "emissao", "validade", "orgao", "naturalidade",
	"nacionalidade", "filiacao", "mae", "pai", "sexo", "registro",
}

// Matcher holds the label vocabulary used for signature extraction.
type Matcher struct {
	knownLabels []string
}

// New builds a Matcher over the given label vocabulary. A nil or empty
// slice falls back to KnownLabels.
func New(knownLabels []string) *Matcher {
	if len(knownLabels) == 0 {
		knownLabels = KnownLabels
	}
	return &Matcher{knownLabels: knownLabels}
}

// Normalise lowercases text, strips diacritics via NFD decomposition, and
// trims a trailing colon and surrounding whitespace.
func Normalise(text string) string {
	decomposed := norm.NFD.String(text)

	var b []rune
	for _, r := range decomposed {
		if unicode.Is(unicode.Mn, r) {
			continue
		}
		b = append(b, unicode.ToLower(r))
	}

	s := string(b)
	s = trimSpace(s)
	s = trimSuffixColon(s)
	s = trimSpace(s)
	return s
}

func trimSpace(s string) string {
	start := 0
	for start < len(s) && isSpaceByte(s[start]) {
		start++
	}
	end := len(s)
	for end > start && isSpaceByte(s[end-1]) {
		end--
	}
	return s[start:end]
}

func isSpaceByte(b byte) bool {
	return b == ' ' || b == '\t' || b == '\n' || b == '\r'
}

func trimSuffixColon(s string) string {
	if len(s) > 0 && s[len(s)-1] == ':' {
		return s[:len(s)-1]
	}
	return s
}

// ExtractSignature row-groups tokens into a reconstructed document text,
// normalises it, and returns every known label appearing as a substring.
func (m *Matcher) ExtractSignature(tokens []tokeniser.PositionedToken) map[string]struct{} {
	text := Normalise(tokeniser.GroupRows(tokens, tokeniser.DefaultYTolerance))

	sig := make(map[string]struct{})
	for _, label := range m.knownLabels {
		if containsSubstring(text, label) {
			sig[label] = struct{}{}
		}
	}
	return sig
}

func containsSubstring(haystack, needle string) bool {
	if needle == "" {
		return true
	}
	if len(needle) > len(haystack) {
		return false
	}
	for i := 0; i+len(needle) <= len(haystack); i++ {
		if haystack[i:i+len(needle)] == needle {
			return true
		}
	}
	return false
}

// Similarity computes the Jaccard coefficient between a freshly extracted
// signature and one stored on a template, returning 0 when the union is
// empty. The boolean reports whether the score meets threshold.
func Similarity(newSig, storedSig map[string]struct{}, threshold float64) (bool, float64) {
	if len(newSig) == 0 && len(storedSig) == 0 {
		return false, 0
	}

	intersection := 0
	for label := range newSig {
		if _, ok := storedSig[label]; ok {
			intersection++
		}
	}

	union := len(newSig)
	for label := range storedSig {
		if _, ok := newSig[label]; !ok {
			union++
		}
	}
	if union == 0 {
		return false, 0
	}

	score := float64(intersection) / float64(union)
	return score >= threshold, score
}

// SignatureSlice converts a signature set to a sorted-at-write-time slice
// for persistence. Ordering is the caller's concern; this keeps the
// matcher itself storage-agnostic.
func SignatureSlice(sig map[string]struct{}) []string {
	out := make([]string, 0, len(sig))
	for label := range sig {
		out = append(out, label)
	}
	return out
}

// SignatureFromSlice rebuilds the set form of a signature loaded from
// storage.
func SignatureFromSlice(labels []string) map[string]struct{} {
	sig := make(map[string]struct{}, len(labels))
	for _, l := range labels {
		sig[l] = struct{}{}
	}
	return sig
}

// UnionSignatures merges b into a, implementing the monotonic-growth
// invariant (spec I4) for a template's structural_signature.
func UnionSignatures(a, b map[string]struct{}) map[string]struct{} {
	out := make(map[string]struct{}, len(a)+len(b))
	for l := range a {
		out[l] = struct{}{}
	}
	for l := range b {
		out[l] = struct{}{}
	}
	return out
}
