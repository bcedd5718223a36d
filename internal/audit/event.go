package audit

import (
	"crypto/rand"
	"encoding/hex"
	"strings"
	"time"

	"github.com/scrubly-ai/scrubly/internal/anonymize"
	"github.com/scrubly-ai/scrubly/internal/engine"
	"github.com/scrubly-ai/scrubly/internal/redact"
)

// Audit detail levels.
const (
	LevelOff      = "off"
	LevelMetadata = "metadata"
	LevelFull     = "full"
)

// Operations reported in audit events.
const (
	OpAnalyze       = "analyze"
	OpAnonymize     = "anonymize"
	OpBatchAnalyze  = "batch_analyze"
	OpAnalyzeFile   = "analyze_file"
	OpAnonymizeFile = "anonymize_file"
)

// Meta identifies the request context an event belongs to.
type Meta struct {
	Operation string `json:"operation"`
	Language  string `json:"language"`
	Source    string `json:"source"` // api | file
	Filename  string `json:"filename,omitempty"`
}

// Event is the canonical audit payload for one processed text.
type Event struct {
	Version       string         `json:"version"`
	Timestamp     time.Time      `json:"timestamp"`
	RequestID     string         `json:"request_id"`
	Meta          Meta           `json:"meta"`
	Outcome       string         `json:"outcome"` // ok | error
	ErrorKind     string         `json:"error_kind,omitempty"`
	TotalEntities int            `json:"total_entities"`
	EntityCounts  map[string]int `json:"entity_counts,omitempty"`
	Strategies    map[string]int `json:"strategies,omitempty"`
	TextPreview   string         `json:"text_preview,omitempty"` // full level only, redacted
	LatencyMs     float64        `json:"latency_ms"`
}

// BuildParams collects inputs needed to assemble an audit event.
type BuildParams struct {
	Level     string
	RequestID string
	Meta      Meta
	Text      string
	Analysis  *engine.AnalysisResult
	Items     []anonymize.Item
	ErrorKind string
	Latency   time.Duration
}

// BuildEvent creates an audit event honoring the configured level.
// Returns nil at level off.
func BuildEvent(params BuildParams) *Event {
	level := strings.ToLower(strings.TrimSpace(params.Level))
	if level == "" {
		level = LevelMetadata
	}
	if level == LevelOff {
		return nil
	}

	ev := &Event{
		Version:   "1",
		Timestamp: time.Now().UTC(),
		RequestID: ensureRequestID(params.RequestID),
		Meta:      params.Meta,
		Outcome:   "ok",
		LatencyMs: float64(params.Latency) / float64(time.Millisecond),
	}
	if params.ErrorKind != "" {
		ev.Outcome = "error"
		ev.ErrorKind = params.ErrorKind
	}

	if params.Analysis != nil {
		ev.TotalEntities = params.Analysis.Statistics.TotalEntities
		if len(params.Analysis.Statistics.EntityCounts) > 0 {
			ev.EntityCounts = make(map[string]int, len(params.Analysis.Statistics.EntityCounts))
			for k, v := range params.Analysis.Statistics.EntityCounts {
				ev.EntityCounts[k] = v
			}
		}
	}
	if len(params.Items) > 0 {
		ev.Strategies = make(map[string]int)
		for _, it := range params.Items {
			ev.Strategies[string(it.Strategy)]++
		}
	}

	if level == LevelFull {
		ev.TextPreview = redact.Preview(params.Text, 200)
	}
	return ev
}

func ensureRequestID(id string) string {
	if id != "" {
		return id
	}
	var buf [16]byte
	if _, err := rand.Read(buf[:]); err != nil {
		return hex.EncodeToString(buf[:])
	}
	return hex.EncodeToString(buf[:])
}
