package pii

import "sort"

// Resolve filters raw detections and reduces them to a clean, ordered,
// non-overlapping span sequence.
//
// Spans are dropped, never errored on, when they score below threshold, name
// an entity type outside a non-empty allow list, or carry offsets that do not
// fit the text. Overlaps are resolved greedily: candidates are considered
// longest first, then by score, then by start, then by entity type, and a
// candidate is accepted only if it overlaps no already-accepted span. The
// returned sequence is sorted by start and is stable for identical input.
func Resolve(textLen int, raw []Span, threshold float64, allowed []string) []Span {
	if len(raw) == 0 || textLen <= 0 {
		return nil
	}

	var allowSet map[string]struct{}
	if len(allowed) > 0 {
		allowSet = make(map[string]struct{}, len(allowed))
		for _, t := range allowed {
			allowSet[t] = struct{}{}
		}
	}

	candidates := make([]Span, 0, len(raw))
	for _, s := range raw {
		if s.Score < threshold {
			continue
		}
		if allowSet != nil {
			if _, ok := allowSet[s.EntityType]; !ok {
				continue
			}
		}
		if s.Start < 0 || s.End > textLen || s.Start >= s.End {
			continue
		}
		candidates = append(candidates, s)
	}
	if len(candidates) == 0 {
		return nil
	}

	// Acceptance priority: prefer the longer match, then the higher score.
	// Start and entity type only break remaining ties for determinism.
	sort.SliceStable(candidates, func(i, j int) bool {
		a, b := candidates[i], candidates[j]
		if a.Len() != b.Len() {
			return a.Len() > b.Len()
		}
		if a.Score != b.Score {
			return a.Score > b.Score
		}
		if a.Start != b.Start {
			return a.Start < b.Start
		}
		return a.EntityType < b.EntityType
	})

	accepted := make([]Span, 0, len(candidates))
	for _, c := range candidates {
		overlaps := false
		for _, a := range accepted {
			if c.Overlaps(a) {
				overlaps = true
				break
			}
		}
		if !overlaps {
			accepted = append(accepted, c)
		}
	}

	sort.SliceStable(accepted, func(i, j int) bool {
		return accepted[i].Start < accepted[j].Start
	})
	return accepted
}
