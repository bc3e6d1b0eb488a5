// Package schema defines the wire shapes shared across the extraction
// pipeline: the field schema a caller submits, and the field values the
// pipeline produces.
package schema

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
)

// Schema is an ordered mapping from field name to a natural-language
// description of what should be extracted into it. Field ordering is
// preserved for responses but is insignificant for cache key derivation,
// which canonicalises by sorting keys (see CanonicalJSON).
type Schema struct {
	names        []string
	descriptions map[string]string
}

// New builds a Schema from an ordered slice of (name, description) pairs.
func New(fields map[string]string, order []string) (*Schema, error) {
	if len(fields) == 0 {
		return nil, fmt.Errorf("schema: must contain at least one field")
	}
	names := order
	if names == nil {
		names = make([]string, 0, len(fields))
		for name := range fields {
			names = append(names, name)
		}
		sort.Strings(names)
	}
	descriptions := make(map[string]string, len(fields))
	for name, desc := range fields {
		if name == "" {
			return nil, fmt.Errorf("schema: field name must not be empty")
		}
		descriptions[name] = desc
	}
	return &Schema{names: names, descriptions: descriptions}, nil
}

// FromMap builds a Schema from a plain map, deriving response order from
// sorted keys. Used when decoding the `extraction_schema` form field,
// where Go's JSON decoder does not preserve source key order.
func FromMap(fields map[string]string) (*Schema, error) {
	return New(fields, nil)
}

// Names returns the field names in the schema's preserved order.
func (s *Schema) Names() []string {
	out := make([]string, len(s.names))
	copy(out, s.names)
	return out
}

// Description returns the natural-language description for a field.
func (s *Schema) Description(name string) string {
	return s.descriptions[name]
}

// Len returns the number of fields in the schema.
func (s *Schema) Len() int {
	return len(s.names)
}

// Map returns the underlying field name -> description map.
func (s *Schema) Map() map[string]string {
	out := make(map[string]string, len(s.descriptions))
	for k, v := range s.descriptions {
		out[k] = v
	}
	return out
}

// Subset returns a new Schema containing only the named fields, preserving
// their relative order from the receiver.
func (s *Schema) Subset(names []string) *Schema {
	want := make(map[string]bool, len(names))
	for _, n := range names {
		want[n] = true
	}
	sub := &Schema{descriptions: make(map[string]string, len(names))}
	for _, n := range s.names {
		if want[n] {
			sub.names = append(sub.names, n)
			sub.descriptions[n] = s.descriptions[n]
		}
	}
	return sub
}

// CanonicalJSON returns the schema's field->description map encoded as
// JSON with lexicographically sorted keys and no insignificant whitespace.
// Go's encoding/json already emits map[string]string keys in sorted order,
// so a plain Marshal is the canonical encoding used for cache key hashing.
func (s *Schema) CanonicalJSON() ([]byte, error) {
	data, err := json.Marshal(s.descriptions)
	if err != nil {
		return nil, fmt.Errorf("schema: canonical encode: %w", err)
	}
	var buf bytes.Buffer
	if err := json.Compact(&buf, data); err != nil {
		return nil, fmt.Errorf("schema: compact encode: %w", err)
	}
	return buf.Bytes(), nil
}

// FieldValue is a closed sum over the two shapes a cached or extracted
// field value can take: a present string, or a known absence.
type FieldValue struct {
	str   string
	valid bool
}

// StringValue wraps a known, present string value.
func StringValue(s string) FieldValue {
	return FieldValue{str: s, valid: true}
}

// NullValue represents a field known to be absent from the document.
func NullValue() FieldValue {
	return FieldValue{}
}

// IsNull reports whether the value represents an absence.
func (v FieldValue) IsNull() bool {
	return !v.valid
}

// String returns the underlying string and whether it is present.
func (v FieldValue) String() (string, bool) {
	return v.str, v.valid
}

// MarshalJSON encodes a present value as a JSON string and an absent value
// as JSON null.
func (v FieldValue) MarshalJSON() ([]byte, error) {
	if !v.valid {
		return []byte("null"), nil
	}
	return json.Marshal(v.str)
}

// UnmarshalJSON decodes a JSON string into a present value, and JSON null
// into an absent value.
func (v *FieldValue) UnmarshalJSON(data []byte) error {
	if bytes.Equal(bytes.TrimSpace(data), []byte("null")) {
		*v = FieldValue{}
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("schema: field value must be a string or null: %w", err)
	}
	*v = FieldValue{str: s, valid: true}
	return nil
}
