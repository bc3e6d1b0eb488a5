// Package pipeline implements the Extractor: the explicit state machine
// of spec §4.12 that drives one request through the Cache Manager, the
// Tokeniser, the Template Orchestrator and the LLM Client in order,
// merging their partial results into one CachedResult. This is
// deliberately not built on the teacher's generic Middleware/Chain
// abstraction (see chain.go's fate in DESIGN.md): there is exactly one
// fixed sequence of named steps here, not an open set of interchangeable
// stages, so a small explicit function reads more plainly than a
// registered-middleware list would. The per-step timing discipline is
// still carried over, adapted into Timer (timing.go).
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/allaspectsdev/pdfxtract/internal/apierr"
	"github.com/allaspectsdev/pdfxtract/internal/cache"
	"github.com/allaspectsdev/pdfxtract/internal/llmclient"
	"github.com/allaspectsdev/pdfxtract/internal/schema"
	"github.com/allaspectsdev/pdfxtract/internal/template"
	"github.com/allaspectsdev/pdfxtract/internal/tokeniser"
	"github.com/allaspectsdev/pdfxtract/internal/tracing"
)

// Extractor composes the Cache Manager, Tokeniser, Template Orchestrator
// and LLM Client into the state machine of spec §4.12.
type Extractor struct {
	cache *cache.Manager
	tok   tokeniser.Tokeniser
	orch  *template.Orchestrator
	llm   *llmclient.Client
	stats *methodCounts

	// failClosedOnUnparseable mirrors Config.Pipeline.FailClosedOnUnparseableLLM.
	// Defaults to false: an unparseable LLM response is recovered to an
	// all-null result rather than surfaced as an UpstreamFailure.
	failClosedOnUnparseable bool
}

// New builds an Extractor from its already-constructed collaborators.
func New(cacheMgr *cache.Manager, tok tokeniser.Tokeniser, orch *template.Orchestrator, llm *llmclient.Client) *Extractor {
	return &Extractor{cache: cacheMgr, tok: tok, orch: orch, llm: llm, stats: newMethodCounts()}
}

// SetFailClosedOnUnparseableLLM configures whether an unparseable LLM
// response surfaces as an UpstreamFailure (true) instead of being
// recovered to an all-null result (false, the default).
func (e *Extractor) SetFailClosedOnUnparseableLLM(failClosed bool) {
	e.failClosedOnUnparseable = failClosed
}

// Stats reports how many extractions resolved via each method, for /stats.
func (e *Extractor) Stats() Stats {
	return e.stats.snapshot()
}

// Extract runs req through CACHE_LOOKUP, and on anything short of a full
// hit, TOKENISE, TEMPLATE_ATTEMPT, LLM_FALLBACK, LEARN and WRITEBACK, per
// spec §4.12's state machine.
func (e *Extractor) Extract(ctx context.Context, req *Request) (*Result, error) {
	ctx, span := tracing.StartPipelineSpan(ctx, "extract")
	defer span.End()
	timer := NewTimer()

	outcome, err := e.cache.Get(req.PDFBytes, req.Label, req.Schema)
	if err != nil {
		return nil, apierr.Internal("pipeline: cache lookup", err)
	}

	if outcome.Kind == cache.OutcomeFull {
		timer.Record("cache-l2", 0)
		e.stats.record(timer.Method())
		return &Result{Data: outcome.Result.Data, Method: timer.Method(), Steps: timer.Steps()}, nil
	}

	data := make(map[string]schema.FieldValue, req.Schema.Len())
	schemaToExtract := req.Schema

	if outcome.Kind == cache.OutcomePartial {
		var remaining []string
		for _, name := range req.Schema.Names() {
			v := outcome.PartialData[name]
			if !v.IsNull() {
				data[name] = v
			} else {
				remaining = append(remaining, name)
			}
		}
		timer.Record("cache-l3", 0)
		schemaToExtract = req.Schema.Subset(remaining)
	}

	tokens, err := e.tokenise(ctx, req.PDFBytes)
	if err != nil {
		return nil, apierr.UpstreamFailure("pipeline: tokenise", err)
	}

	if schemaToExtract.Len() > 0 {
		start := time.Now()
		if templateData, ok := e.orch.CheckAndUseTemplate(req.Label, tokens); ok {
			adopted := false
			var remaining []string
			for _, name := range schemaToExtract.Names() {
				if ptr := templateData[name]; ptr != nil {
					data[name] = schema.StringValue(*ptr)
					adopted = true
				} else {
					remaining = append(remaining, name)
				}
			}
			if adopted {
				timer.Record("template", time.Since(start))
			}
			schemaToExtract = schemaToExtract.Subset(remaining)
		}
	}

	var llmAsked []string
	var llmData map[string]schema.FieldValue
	llmUnparseable := false
	if schemaToExtract.Len() > 0 {
		stepName := "llm-full"
		if len(timer.Steps()) > 0 {
			stepName = "llm-fallback"
		}

		start := time.Now()
		result, err := e.llm.Extract(ctx, req.Label, schemaToExtract, tokens)
		if err != nil {
			var unparseable *apierr.UnparseableLLMResponse
			if errors.As(err, &unparseable) && !e.failClosedOnUnparseable {
				log.Error().Err(err).Str("label", req.Label).Msg("pipeline: LLM response unparseable, proceeding with nulls")
				result = map[string]schema.FieldValue{}
				llmUnparseable = true
			} else {
				return nil, apierr.UpstreamFailure("pipeline: llm extract", err)
			}
		}
		timer.Record(stepName, time.Since(start))

		llmAsked = schemaToExtract.Names()
		llmData = result
		for _, name := range llmAsked {
			v, ok := result[name]
			if !ok {
				v = schema.NullValue()
			}
			data[name] = v
		}
	}

	// Per spec §7, an unparseable LLM response never feeds the Pattern
	// Builder: learning from an empty recovered result would teach the
	// template that every requested field is absent.
	if llmData != nil && !llmUnparseable {
		askedSchema := req.Schema.Subset(llmAsked)
		if err := e.orch.Learn(req.Label, askedSchema, llmData, tokens); err != nil {
			log.Error().Err(err).Str("label", req.Label).Msg("pipeline: learning failed, request unaffected")
		}
	}

	metadata := map[string]interface{}{
		"method": timer.Method(),
		"steps":  timer.Steps(),
	}
	if err := e.cache.Set(req.PDFBytes, req.Label, req.Schema, data, metadata); err != nil {
		log.Error().Err(err).Str("label", req.Label).Msg("pipeline: writeback failed, result still returned")
	}

	e.stats.record(timer.Method())
	return &Result{Data: data, Method: timer.Method(), Steps: timer.Steps()}, nil
}

// tokenise stages pdfBytes to a scoped temporary file for the Tokeniser,
// which operates on a path rather than a byte slice, and guarantees the
// file is removed on every exit path per spec §4.9's resource-scoping
// requirement.
func (e *Extractor) tokenise(ctx context.Context, pdfBytes []byte) ([]tokeniser.PositionedToken, error) {
	f, err := os.CreateTemp("", "pdfxtract-*.pdf")
	if err != nil {
		return nil, fmt.Errorf("pipeline: stage temp file: %w", err)
	}
	path := f.Name()
	defer os.Remove(path)

	if _, err := f.Write(pdfBytes); err != nil {
		f.Close()
		return nil, fmt.Errorf("pipeline: write temp file: %w", err)
	}
	if err := f.Close(); err != nil {
		return nil, fmt.Errorf("pipeline: close temp file: %w", err)
	}

	tokens, err := e.tok.Tokenise(ctx, path)
	if err != nil {
		return nil, fmt.Errorf("pipeline: tokenise: %w", err)
	}
	return tokens, nil
}
