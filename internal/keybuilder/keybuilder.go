// Package keybuilder computes the deterministic content-addressed
// identifiers used by every cache tier. It holds no state.
package keybuilder

import (
	"crypto/sha256"
	"fmt"

	"github.com/allaspectsdev/pdfxtract/internal/schema"
)

// L12Key is the RequestFingerprint: the tuple (sha256(pdf), label,
// sha256(canonical schema)) used as the Tier-1/Tier-2 cache key.
func L12Key(pdfBytes []byte, label string, s *schema.Schema) (string, error) {
	schemaHash, err := hashSchema(s)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%s:%s:%s", hashBytes(pdfBytes), label, schemaHash), nil
}

// L3Key is the FieldFingerprint: the tuple (sha256(pdf), label, field_name)
// used as the Tier-3 per-field cache key. It is independent of the
// surrounding schema.
func L3Key(pdfBytes []byte, label, fieldName string) string {
	return fmt.Sprintf("field:%s:%s:%s", hashBytes(pdfBytes), label, fieldName)
}

func hashBytes(content []byte) string {
	sum := sha256.Sum256(content)
	return fmt.Sprintf("%x", sum)
}

func hashSchema(s *schema.Schema) (string, error) {
	canonical, err := s.CanonicalJSON()
	if err != nil {
		return "", fmt.Errorf("keybuilder: hash schema: %w", err)
	}
	sum := sha256.Sum256(canonical)
	return fmt.Sprintf("%x", sum), nil
}
