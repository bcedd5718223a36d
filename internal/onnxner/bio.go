package onnxner

import (
	"strings"

	"github.com/scrubly-ai/scrubly/internal/pii"
)

// decodeEntities walks token-level BIO labels and merges B-/I- runs into
// rune-offset spans. Scores are averaged over the tokens in a run. Labels
// are mapped to canonical entity types through entityMap; unmapped labels
// pass through uppercased.
func decodeEntities(labels []string, scores []float64, offsets []TokenSpan, entityMap map[string]string) []pii.Span {
	var spans []pii.Span

	var cur *pii.Span
	var curSum float64
	var curN int

	flush := func() {
		if cur == nil {
			return
		}
		cur.Score = curSum / float64(curN)
		spans = append(spans, *cur)
		cur = nil
	}

	for i, label := range labels {
		off := offsets[i]
		if off.Start < 0 {
			// special or padding token
			continue
		}
		if label == "O" || label == "" {
			flush()
			continue
		}

		prefix, name, ok := splitBIO(label)
		if !ok {
			flush()
			continue
		}
		entity := name
		if mapped, ok := entityMap[name]; ok {
			entity = mapped
		} else {
			entity = strings.ToUpper(entity)
		}

		if prefix == "I" && cur != nil && cur.EntityType == entity {
			cur.End = off.End
			curSum += scores[i]
			curN++
			continue
		}

		flush()
		cur = &pii.Span{EntityType: entity, Start: off.Start, End: off.End}
		curSum = scores[i]
		curN = 1
	}
	flush()
	return spans
}

func splitBIO(label string) (prefix, name string, ok bool) {
	i := strings.IndexByte(label, '-')
	if i <= 0 || i == len(label)-1 {
		return "", "", false
	}
	prefix = label[:i]
	if prefix != "B" && prefix != "I" {
		return "", "", false
	}
	return prefix, label[i+1:], true
}
