package pii

import "math"

// ConfidenceBuckets counts detections per reporting band. The band cutoffs
// are a reporting convention, not a detection parameter.
type ConfidenceBuckets struct {
	High   int `json:"high"`
	Medium int `json:"medium"`
	Low    int `json:"low"`
}

// Statistics summarizes a resolved span sequence.
type Statistics struct {
	TotalEntities       int               `json:"total_entities"`
	EntityCounts        map[string]int    `json:"entity_counts"`
	AverageConfidence   float64           `json:"average_confidence"`
	HighConfidenceCount int               `json:"high_confidence_count"`
	ConfidenceBuckets   ConfidenceBuckets `json:"confidence_buckets"`
}

// Summarize computes count and score summaries over resolved spans.
// Zero spans yields zero counts and a zero average, not an error.
func Summarize(spans []Span) Statistics {
	stats := Statistics{
		EntityCounts: make(map[string]int),
	}
	if len(spans) == 0 {
		return stats
	}

	var sum float64
	for _, s := range spans {
		stats.EntityCounts[s.EntityType]++
		sum += s.Score
		switch {
		case s.Score >= 0.8:
			stats.ConfidenceBuckets.High++
		case s.Score >= 0.5:
			stats.ConfidenceBuckets.Medium++
		default:
			stats.ConfidenceBuckets.Low++
		}
	}
	stats.TotalEntities = len(spans)
	stats.HighConfidenceCount = stats.ConfidenceBuckets.High
	stats.AverageConfidence = round3(sum / float64(len(spans)))
	return stats
}

func round3(f float64) float64 {
	return math.Round(f*1000) / 1000
}
