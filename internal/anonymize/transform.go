package anonymize

import (
	"strings"

	"github.com/scrubly-ai/scrubly/internal/pii"
)

// Item is the audit record for one applied rewrite. Start and End are the
// span's offsets in the original text; they are never renumbered to reflect
// the anonymized output.
type Item struct {
	EntityType      string   `json:"entity_type"`
	Start           int      `json:"start"`
	End             int      `json:"end"`
	Strategy        Strategy `json:"operator"`
	OriginalText    string   `json:"original_text"`
	ReplacementText string   `json:"text"`
}

// Transform rewrites text according to the policy table, consuming a
// resolved (sorted, non-overlapping) span sequence.
//
// The splice proceeds strictly left to right in a single pass: text between
// spans is copied verbatim, each span's replacement is appended in input
// order, and the trailing remainder is copied verbatim. Because spans never
// overlap and are visited in ascending start order, no output offset
// bookkeeping is needed.
func Transform(text string, spans []pii.Span, table PolicyTable) (string, []Item, error) {
	if text == "" {
		return "", nil, nil
	}
	if len(spans) == 0 {
		return text, nil, nil
	}

	runes := []rune(text)
	var out strings.Builder
	out.Grow(len(text))
	items := make([]Item, 0, len(spans))

	prev := 0
	for _, span := range spans {
		if span.Start < prev || span.End > len(runes) {
			// Resolver output violating the non-overlap invariant is a
			// programming error upstream; skip rather than corrupt output.
			continue
		}

		op, err := table.ResolveOperator(span.EntityType)
		if err != nil {
			return "", nil, err
		}

		original := string(runes[span.Start:span.End])
		replacement, err := apply(op, original, span)
		if err != nil {
			return "", nil, err
		}

		out.WriteString(string(runes[prev:span.Start]))
		out.WriteString(replacement)
		items = append(items, Item{
			EntityType:      span.EntityType,
			Start:           span.Start,
			End:             span.End,
			Strategy:        op.Strategy,
			OriginalText:    original,
			ReplacementText: replacement,
		})
		prev = span.End
	}
	out.WriteString(string(runes[prev:]))

	return out.String(), items, nil
}
