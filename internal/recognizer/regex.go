package recognizer

import (
	"context"
	"regexp"

	"github.com/scrubly-ai/scrubly/internal/pii"
)

// patternSpec pairs a compiled expression with its entity type and the fixed
// confidence a match carries. Pattern recognizers have no probabilistic
// model, so scores encode how discriminating each expression is.
type patternSpec struct {
	re         *regexp.Regexp
	entityType string
	score      float64
}

// RegexDetector finds structured PII (addresses, identifiers, numbers) with
// compiled patterns. It is stateless and safe for concurrent use.
type RegexDetector struct {
	patterns []patternSpec
}

// NewRegexDetector compiles the built-in pattern table.
func NewRegexDetector() *RegexDetector {
	return &RegexDetector{patterns: []patternSpec{
		{
			re:         regexp.MustCompile(`\b[A-Za-z0-9._%+\-]+@[A-Za-z0-9.\-]+\.[A-Za-z]{2,}\b`),
			entityType: pii.EntityEmailAddress,
			score:      0.95,
		},
		{
			re:         regexp.MustCompile(`https?://[^\s"'<>]+`),
			entityType: pii.EntityURL,
			score:      0.9,
		},
		{
			re:         regexp.MustCompile(`\b(?:\d{4}[\- ]?){3}\d{4}\b`),
			entityType: pii.EntityCreditCard,
			score:      0.8,
		},
		{
			re:         regexp.MustCompile(`\b[A-Z]{2}\d{2}[A-Z0-9]{11,30}\b`),
			entityType: pii.EntityIBANCode,
			score:      0.8,
		},
		{
			re:         regexp.MustCompile(`\b(?:[0-9]{1,3}\.){3}[0-9]{1,3}\b`),
			entityType: pii.EntityIPAddress,
			score:      0.75,
		},
		{
			re:         regexp.MustCompile(`\b\d{3}-\d{2}-\d{4}\b`),
			entityType: pii.EntityUSSSN,
			score:      0.85,
		},
		{
			re:         regexp.MustCompile(`\b9\d{2}-\d{2}-\d{4}\b`),
			entityType: pii.EntityUSITIN,
			score:      0.6,
		},
		{
			re:         regexp.MustCompile(`(\+?1[\-. ]?)?\(?[0-9]{3}\)?[\-. ][0-9]{3}[\-. ][0-9]{4}\b`),
			entityType: pii.EntityPhoneNumber,
			score:      0.75,
		},
		{
			re:         regexp.MustCompile(`\b(?:[13][a-km-zA-HJ-NP-Z1-9]{25,34}|bc1[a-z0-9]{25,62})\b`),
			entityType: pii.EntityCrypto,
			score:      0.7,
		},
		{
			re:         regexp.MustCompile(`\b\d{4}-\d{2}-\d{2}\b|\b\d{1,2}/\d{1,2}/\d{2,4}\b`),
			entityType: pii.EntityDateTime,
			score:      0.6,
		},
	}}
}

// Detect runs every pattern over the text and returns raw spans with rune
// offsets. Matches may overlap across patterns; the resolver dedupes.
func (d *RegexDetector) Detect(ctx context.Context, text string, params DetectParams) ([]pii.Span, error) {
	if text == "" {
		return nil, nil
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var allow map[string]struct{}
	if len(params.EntityTypes) > 0 {
		allow = make(map[string]struct{}, len(params.EntityTypes))
		for _, t := range params.EntityTypes {
			allow[t] = struct{}{}
		}
	}

	byteToRune := runeIndex(text)
	var spans []pii.Span
	for _, p := range d.patterns {
		if allow != nil {
			if _, ok := allow[p.entityType]; !ok {
				continue
			}
		}
		if p.score < params.ScoreThreshold {
			continue
		}
		for _, loc := range p.re.FindAllStringIndex(text, -1) {
			spans = append(spans, pii.Span{
				EntityType: p.entityType,
				Start:      byteToRune[loc[0]],
				End:        byteToRune[loc[1]],
				Score:      p.score,
				Text:       text[loc[0]:loc[1]],
			})
		}
	}
	return spans, nil
}

// SupportedEntities lists the entity types this detector can produce,
// independent of language.
func (d *RegexDetector) SupportedEntities(string) []string {
	seen := make(map[string]struct{}, len(d.patterns))
	var out []string
	for _, p := range d.patterns {
		if _, ok := seen[p.entityType]; ok {
			continue
		}
		seen[p.entityType] = struct{}{}
		out = append(out, p.entityType)
	}
	return out
}

// runeIndex maps every byte offset that starts a rune (plus len(text)) to
// its rune index, so regexp byte locations convert to code point offsets.
func runeIndex(text string) map[int]int {
	m := make(map[int]int, len(text)+1)
	r := 0
	for i := range text {
		m[i] = r
		r++
	}
	m[len(text)] = r
	return m
}
