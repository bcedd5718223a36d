// Package engine wires the span resolver, operator registry, text
// transformer, and statistics aggregator into the analyze/anonymize
// pipeline consumed by the hosting service.
//
// An Engine is constructed explicitly and passed by handle to request
// handlers; there is no process-wide singleton. Every call allocates its own
// span set, output buffer, and statistics record, so independent requests
// and batch items run fully in parallel without locking.
package engine

import (
	"context"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/scrubly-ai/scrubly/internal/anonymize"
	"github.com/scrubly-ai/scrubly/internal/pii"
	"github.com/scrubly-ai/scrubly/internal/recognizer"
	"github.com/scrubly-ai/scrubly/internal/telemetry"
)

// Config carries the engine's injected collaborators and defaults.
type Config struct {
	Detector       recognizer.Detector
	Language       string
	EntityTypes    []string
	ScoreThreshold float64
	Policy         anonymize.PolicyTable
	Telemetry      *telemetry.Provider
}

// Engine runs the detection/resolution/anonymization pipeline. It holds no
// cross-call state beyond its immutable defaults.
type Engine struct {
	detector  recognizer.Detector
	language  string
	entities  []string
	threshold float64
	policy    anonymize.PolicyTable
	tel       *telemetry.Provider
}

// New builds an Engine from cfg, filling unset defaults.
func New(cfg Config) *Engine {
	language := cfg.Language
	if language == "" {
		language = "en"
	}
	entities := cfg.EntityTypes
	if len(entities) == 0 {
		entities = pii.DefaultEntityTypes()
	}
	threshold := cfg.ScoreThreshold
	if threshold <= 0 {
		threshold = 0.5
	}
	policy := cfg.Policy
	if policy == nil {
		policy = anonymize.DefaultPolicy()
	}
	return &Engine{
		detector:  cfg.Detector,
		language:  language,
		entities:  entities,
		threshold: threshold,
		policy:    policy,
		tel:       cfg.Telemetry,
	}
}

// Options carries per-request overrides of the engine defaults.
type Options struct {
	Language       string
	EntityTypes    []string
	ScoreThreshold *float64
}

// Metadata echoes the effective analysis parameters back to the caller.
type Metadata struct {
	TextLength     int      `json:"text_length"`
	EntityTypes    []string `json:"entities_requested"`
	Language       string   `json:"language"`
	ScoreThreshold float64  `json:"score_threshold"`
}

// AnalysisResult is the analyze operation output. A result with zero spans
// and a nil error means "no entities found"; analysis failure is always a
// non-nil error, never an empty result.
type AnalysisResult struct {
	Spans      []pii.Span     `json:"results"`
	Statistics pii.Statistics `json:"statistics"`
	Metadata   Metadata       `json:"metadata"`
	Warnings   []string       `json:"warnings,omitempty"`
}

// AnonymizeResult pairs the rewritten text with its audit trail and the
// analysis that produced it.
type AnonymizeResult struct {
	Text       string           `json:"anonymized_text"`
	Items      []anonymize.Item `json:"anonymized_items"`
	Spans      []pii.Span       `json:"detected_entities"`
	Statistics pii.Statistics   `json:"statistics"`
	Warnings   []string         `json:"warnings,omitempty"`
}

// SupportedEntities lists the entity types the configured detector can
// produce for the engine's language.
func (e *Engine) SupportedEntities() []string {
	return e.detector.SupportedEntities(e.language)
}

// DefaultEntityTypes returns the engine's configured default detection set.
func (e *Engine) DefaultEntityTypes() []string {
	return append([]string(nil), e.entities...)
}

// DefaultPolicy returns the engine's default policy table.
func (e *Engine) DefaultPolicy() anonymize.PolicyTable {
	return e.policy
}

// ValidateEntities filters requested entity types against the detector's
// supported set. Unknown types are dropped with a warning, not a failure; an
// empty surviving set falls back to the engine defaults.
func (e *Engine) ValidateEntities(requested []string) ([]string, []string) {
	if len(requested) == 0 {
		return e.DefaultEntityTypes(), nil
	}
	supported := make(map[string]struct{})
	for _, t := range e.SupportedEntities() {
		supported[t] = struct{}{}
	}
	var valid, warnings []string
	for _, t := range requested {
		if _, ok := supported[t]; ok {
			valid = append(valid, t)
		} else {
			warnings = append(warnings, "unsupported entity type dropped: "+t)
		}
	}
	if len(valid) == 0 {
		warnings = append(warnings, "no valid entity types requested, using defaults")
		return e.DefaultEntityTypes(), warnings
	}
	return valid, warnings
}

// Analyze detects entities in text, resolves overlaps, and aggregates
// statistics.
func (e *Engine) Analyze(ctx context.Context, text string, opts Options) (*AnalysisResult, error) {
	if strings.TrimSpace(text) == "" {
		return nil, &ValidationError{Field: "text", Reason: "must be a non-empty string"}
	}

	language := opts.Language
	if language == "" {
		language = e.language
	}
	threshold := e.threshold
	if opts.ScoreThreshold != nil {
		threshold = *opts.ScoreThreshold
	}
	entities, warnings := e.ValidateEntities(opts.EntityTypes)

	start := time.Now()
	raw, err := e.detector.Detect(ctx, text, recognizer.DetectParams{
		Language:       language,
		EntityTypes:    entities,
		ScoreThreshold: threshold,
	})
	if err != nil {
		return nil, &UpstreamError{Err: err}
	}

	textLen := utf8.RuneCountInString(text)
	spans := pii.Resolve(textLen, raw, threshold, entities)
	fillSpanText(text, spans)
	stats := pii.Summarize(spans)

	e.tel.RecordAnalyze(ctx, time.Since(start), len(spans))

	return &AnalysisResult{
		Spans:      spans,
		Statistics: stats,
		Metadata: Metadata{
			TextLength:     textLen,
			EntityTypes:    entities,
			Language:       language,
			ScoreThreshold: threshold,
		},
		Warnings: warnings,
	}, nil
}

// AnonymizeOptions extends Options with pre-analyzed spans and a policy
// override. When Spans is nil the engine analyzes first; provided spans may
// be raw and are resolved (validated, de-overlapped) before transforming.
type AnonymizeOptions struct {
	Options
	Spans  []pii.Span
	Policy anonymize.PolicyTable
}

// Anonymize rewrites text under the merged policy table. On a ConfigError
// the returned result still carries the analysis (spans and statistics);
// only the rewrite is aborted.
func (e *Engine) Anonymize(ctx context.Context, text string, opts AnonymizeOptions) (*AnonymizeResult, error) {
	if strings.TrimSpace(text) == "" {
		return nil, &ValidationError{Field: "text", Reason: "must be a non-empty string"}
	}

	var (
		spans    []pii.Span
		stats    pii.Statistics
		warnings []string
	)
	if opts.Spans == nil {
		analysis, err := e.Analyze(ctx, text, opts.Options)
		if err != nil {
			return nil, err
		}
		spans = analysis.Spans
		stats = analysis.Statistics
		warnings = analysis.Warnings
	} else {
		// Caller-provided spans were already filtered by their producer:
		// re-resolve for the invariants, not for confidence.
		threshold := 0.0
		if opts.ScoreThreshold != nil {
			threshold = *opts.ScoreThreshold
		}
		spans = pii.Resolve(utf8.RuneCountInString(text), opts.Spans, threshold, nil)
		fillSpanText(text, spans)
		stats = pii.Summarize(spans)
	}

	table := e.policy
	if len(opts.Policy) > 0 {
		table = table.Merge(opts.Policy)
	}

	start := time.Now()
	out, items, err := anonymize.Transform(text, spans, table)
	if err != nil {
		return &AnonymizeResult{
			Spans:      spans,
			Statistics: stats,
			Warnings:   warnings,
		}, err
	}
	e.tel.RecordAnonymize(ctx, time.Since(start), len(items))

	return &AnonymizeResult{
		Text:       out,
		Items:      items,
		Spans:      spans,
		Statistics: stats,
		Warnings:   warnings,
	}, nil
}

// Deanonymize recovers the original substrings for audit items produced by
// the encrypt strategy.
func (e *Engine) Deanonymize(items []anonymize.Item, key []byte) (map[int]string, error) {
	out := make(map[int]string, len(items))
	for i, item := range items {
		if item.Strategy != anonymize.StrategyEncrypt {
			continue
		}
		original, err := anonymize.DecryptItem(item, key)
		if err != nil {
			return nil, err
		}
		out[i] = original
	}
	return out, nil
}

// fillSpanText populates Span.Text for spans the detector left bare, so
// callers always see the source substring alongside the offsets.
func fillSpanText(text string, spans []pii.Span) {
	var runes []rune
	for i := range spans {
		if spans[i].Text != "" {
			continue
		}
		if runes == nil {
			runes = []rune(text)
		}
		spans[i].Text = string(runes[spans[i].Start:spans[i].End])
	}
}
