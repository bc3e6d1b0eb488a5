package template

import (
	"fmt"

	"github.com/allaspectsdev/pdfxtract/internal/pattern"
	"github.com/allaspectsdev/pdfxtract/internal/ruleexec"
	"github.com/allaspectsdev/pdfxtract/internal/schema"
	"github.com/allaspectsdev/pdfxtract/internal/structmatch"
	"github.com/allaspectsdev/pdfxtract/internal/tokeniser"
)

// Orchestrator is the Template Orchestrator (C10): it composes the
// Template Store, Structural Matcher, Pattern Builder and Rule Executor
// into the fast (template reuse) and learning (LLM-backed) paths of
// spec §4.11. Grounded directly on
// original_source/core/learning/template_orchestrator.py's
// TemplateOrchestrator.
type Orchestrator struct {
	store   *Store
	matcher *structmatch.Matcher
	builder *pattern.Builder

	jaccardThreshold  float64
	minSaveConfidence float64
}

// NewOrchestrator composes an Orchestrator around an already-open
// Template Store, defaulting its thresholds to structmatch's and this
// package's own package-level defaults.
func NewOrchestrator(store *Store, matcher *structmatch.Matcher, builder *pattern.Builder) *Orchestrator {
	return &Orchestrator{
		store:             store,
		matcher:           matcher,
		builder:           builder,
		jaccardThreshold:  structmatch.DefaultJaccardThreshold,
		minSaveConfidence: MinSaveConfidence,
	}
}

// SetJaccardThreshold overrides the structural similarity threshold used
// by CheckAndUseTemplate, mirroring Config.Template.JaccardThreshold.
func (o *Orchestrator) SetJaccardThreshold(threshold float64) {
	o.jaccardThreshold = threshold
}

// SetMinSaveConfidence overrides the minimum confidence Learn requires
// before persisting a rule, mirroring Config.Template.MinSaveConfidence.
func (o *Orchestrator) SetMinSaveConfidence(confidence float64) {
	o.minSaveConfidence = confidence
}

// CheckAndUseTemplate is the fast path: look up a template by label,
// require maturity, compare structural signatures, and on a match
// delegate every stored rule to the Rule Executor. Returns (nil, false)
// whenever no usable template exists — this is a "continue" signal, not
// an error (spec §7's TemplateUnusable).
func (o *Orchestrator) CheckAndUseTemplate(label string, tokens []tokeniser.PositionedToken) (map[string]*string, bool) {
	tpl, err := o.store.FindByLabel(label)
	if err != nil || tpl == nil {
		return nil, false
	}

	if !tpl.Mature(o.store.matureThreshold()) {
		return nil, false
	}

	newSig := o.matcher.ExtractSignature(tokens)
	storedSig := structmatch.SignatureFromSlice(tpl.StructuralSignature)
	isMatch, _ := structmatch.Similarity(newSig, storedSig, o.jaccardThreshold)
	if !isMatch {
		return nil, false
	}

	rules, err := o.store.RulesOf(tpl.ID)
	if err != nil || len(rules) == 0 {
		return nil, false
	}

	return ruleexec.ExecuteAll(rules, tokens), true
}

// Learn is the learning path: extend or create the template's signature,
// then run the Pattern Builder against the LLM's result for every field
// in schema, persisting rules that clear MinSaveConfidence. Per spec
// §4.11 this must never fail the caller's request; errors are returned
// for logging but the pipeline should treat any error here as "learning
// skipped", not as a request failure.
func (o *Orchestrator) Learn(label string, s *schema.Schema, llmData map[string]schema.FieldValue, tokens []tokeniser.PositionedToken) error {
	newSigSet := o.matcher.ExtractSignature(tokens)
	newSig := structmatch.SignatureSlice(newSigSet)

	tpl, err := o.store.FindByLabel(label)
	if err != nil {
		return fmt.Errorf("orchestrator: learn: find template %s: %w", label, err)
	}

	var templateID int64
	if tpl != nil {
		templateID = tpl.ID
		if err := o.store.ExtendSignature(templateID, newSig); err != nil {
			return fmt.Errorf("orchestrator: learn: extend signature %s: %w", label, err)
		}
	} else {
		templateID, err = o.store.Create(label, newSig)
		if err != nil {
			return fmt.Errorf("orchestrator: learn: create template %s: %w", label, err)
		}
	}

	var firstErr error
	for _, fieldName := range s.Names() {
		value := llmData[fieldName]
		learned := fieldValueFrom(value)

		r := o.builder.Learn(fieldName, learned, tokens)
		if r.Confidence < o.minSaveConfidence {
			continue
		}
		if err := o.store.UpsertRule(templateID, fieldName, r); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("orchestrator: learn: upsert rule %s: %w", fieldName, err)
		}
	}

	return firstErr
}

// fieldValueFrom converts a schema.FieldValue into the pattern package's
// learning input, mapping null to LearnNull and a present string to
// LearnValue.
func fieldValueFrom(v schema.FieldValue) pattern.FieldValue {
	if s, ok := v.String(); ok {
		return pattern.LearnValue(s)
	}
	return pattern.LearnNull()
}

// Stats delegates to the Template Store's stats for /stats.
func (o *Orchestrator) Stats() (*Stats, error) {
	return o.store.Stats()
}
