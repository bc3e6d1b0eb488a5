// Package apierr defines the error taxonomy of spec §7: the kinds of
// failure the Pipeline can produce and how the HTTP front-end should map
// them to status codes. Grounded on the teacher's fmt.Errorf("...: %w",
// err) wrapping convention (used throughout internal/store and
// internal/cache) rather than a heavier error-handling library — nothing
// in the example pack reaches for one.
package apierr

import (
	"errors"
	"fmt"
)

// Kind classifies a pipeline-facing error for HTTP status mapping.
type Kind string

const (
	// KindBadRequest: the schema is not valid JSON, or a required input
	// is missing. Mapped to 400/422 at the boundary; never retried.
	KindBadRequest Kind = "bad_request"

	// KindUpstreamFailure: the LLM or tokeniser failed or timed out.
	// Surfaced, not recovered inside the core. Mapped to 500. Cache
	// state is not mutated when this occurs.
	KindUpstreamFailure Kind = "upstream_failure"

	// KindInternal covers any other unexpected core failure, also
	// mapped to 500.
	KindInternal Kind = "internal"
)

// Error is a typed error carrying a Kind for HTTP status mapping.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Op, e.Kind)
	}
	return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// BadRequest builds a KindBadRequest error.
func BadRequest(op string, err error) *Error {
	return &Error{Kind: KindBadRequest, Op: op, Err: err}
}

// UpstreamFailure builds a KindUpstreamFailure error.
func UpstreamFailure(op string, err error) *Error {
	return &Error{Kind: KindUpstreamFailure, Op: op, Err: err}
}

// Internal builds a KindInternal error.
func Internal(op string, err error) *Error {
	return &Error{Kind: KindInternal, Op: op, Err: err}
}

// KindOf extracts the Kind from err if it (or something it wraps) is an
// *Error, defaulting to KindInternal for anything else.
func KindOf(err error) Kind {
	var apiErr *Error
	if errors.As(err, &apiErr) {
		return apiErr.Kind
	}
	return KindInternal
}

// UnparseableLLMResponse is not an *Error: per spec §7 it is a recovered
// condition, not a propagated failure. llmclient returns it, wrapping the
// JSON decode failure; the Pipeline's recovery policy is to catch it, log
// it, and proceed with an empty result — see the LLM step of
// internal/pipeline's Extractor.Extract. This marker type lets that
// recovery be expressed with errors.As instead of string matching.
type UnparseableLLMResponse struct {
	Err error
}

func (e *UnparseableLLMResponse) Error() string {
	return fmt.Sprintf("unparseable LLM response: %v", e.Err)
}

func (e *UnparseableLLMResponse) Unwrap() error {
	return e.Err
}
