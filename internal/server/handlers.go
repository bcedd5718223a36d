package server

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/scrubly-ai/scrubly/internal/anonymize"
	"github.com/scrubly-ai/scrubly/internal/audit"
	"github.com/scrubly-ai/scrubly/internal/engine"
	"github.com/scrubly-ai/scrubly/internal/pii"
	"github.com/scrubly-ai/scrubly/internal/redact"
)

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}
	writeJSON(w, http.StatusOK, struct {
		envelope
		Status            string   `json:"status"`
		Version           string   `json:"version"`
		SupportedEntities []string `json:"supported_entities"`
	}{
		envelope:          envelope{Success: true, Timestamp: now()},
		Status:            "healthy",
		Version:           Version,
		SupportedEntities: s.engine.SupportedEntities(),
	})
}

type analyzeRequest struct {
	Text           string   `json:"text"`
	Entities       []string `json:"entities"`
	Language       string   `json:"language"`
	ScoreThreshold *float64 `json:"score_threshold"`
}

func (s *Server) handleAnalyze(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	var req analyzeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "No JSON data provided")
		return
	}

	start := time.Now()
	result, err := s.engine.Analyze(r.Context(), req.Text, engine.Options{
		Language:       req.Language,
		EntityTypes:    req.Entities,
		ScoreThreshold: req.ScoreThreshold,
	})
	if err != nil {
		status, kind := statusForError(err)
		s.emitAudit(r, audit.OpAnalyze, req.Text, nil, nil, kind, time.Since(start))
		writeError(w, status, fmt.Sprintf("Analysis failed: %s", redact.String(err.Error())))
		return
	}
	s.emitAudit(r, audit.OpAnalyze, req.Text, result, nil, "", time.Since(start))

	writeJSON(w, http.StatusOK, struct {
		envelope
		Results    []pii.Span      `json:"results"`
		Statistics pii.Statistics  `json:"statistics"`
		Metadata   engine.Metadata `json:"metadata"`
		Warnings   []string        `json:"warnings,omitempty"`
	}{
		envelope:   envelope{Success: true, Timestamp: now()},
		Results:    spansOrEmpty(result.Spans),
		Statistics: result.Statistics,
		Metadata:   result.Metadata,
		Warnings:   result.Warnings,
	})
}

type anonymizeRequest struct {
	Text                string                `json:"text"`
	AnalyzerResults     []pii.Span            `json:"analyzer_results"`
	AnonymizationConfig anonymize.PolicyTable `json:"anonymization_config"`
	Entities            []string              `json:"entities"`
	Language            string                `json:"language"`
	ScoreThreshold      *float64              `json:"score_threshold"`
}

type anonymizeResponse struct {
	envelope
	OriginalText     string           `json:"original_text"`
	AnonymizedText   string           `json:"anonymized_text"`
	AnonymizedItems  []anonymize.Item `json:"anonymized_items"`
	DetectedEntities []pii.Span       `json:"detected_entities"`
	Statistics       pii.Statistics   `json:"statistics"`
	Warnings         []string         `json:"warnings,omitempty"`
}

func (s *Server) handleAnonymize(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	var req anonymizeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "No JSON data provided")
		return
	}

	opts := engine.AnonymizeOptions{
		Options: engine.Options{
			Language:       req.Language,
			EntityTypes:    req.Entities,
			ScoreThreshold: req.ScoreThreshold,
		},
		Spans:  req.AnalyzerResults,
		Policy: s.preparePolicy(req.AnonymizationConfig),
	}

	start := time.Now()
	result, err := s.engine.Anonymize(r.Context(), req.Text, opts)
	if err != nil {
		status, kind := statusForError(err)
		s.emitAudit(r, audit.OpAnonymize, req.Text, nil, nil, kind, time.Since(start))
		writeError(w, status, fmt.Sprintf("Anonymization failed: %s", redact.String(err.Error())))
		return
	}
	s.emitAudit(r, audit.OpAnonymize, req.Text, &engine.AnalysisResult{Statistics: result.Statistics}, result.Items, "", time.Since(start))

	writeJSON(w, http.StatusOK, anonymizeResponse{
		envelope:         envelope{Success: true, Timestamp: now()},
		OriginalText:     req.Text,
		AnonymizedText:   result.Text,
		AnonymizedItems:  itemsOrEmpty(result.Items),
		DetectedEntities: spansOrEmpty(result.Spans),
		Statistics:       result.Statistics,
		Warnings:         result.Warnings,
	})
}

func (s *Server) handleEntities(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	entities := s.engine.SupportedEntities()
	writeJSON(w, http.StatusOK, struct {
		envelope
		Entities        []string `json:"entities"`
		Count           int      `json:"count"`
		DefaultEntities []string `json:"default_entities"`
	}{
		envelope:        envelope{Success: true, Timestamp: now()},
		Entities:        entities,
		Count:           len(entities),
		DefaultEntities: s.engine.DefaultEntityTypes(),
	})
}

func (s *Server) handleConfig(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	threshold := 0.5
	if s.cfg.Engine.ScoreThreshold != nil {
		threshold = *s.cfg.Engine.ScoreThreshold
	}
	writeJSON(w, http.StatusOK, struct {
		envelope
		Config map[string]any `json:"config"`
	}{
		envelope: envelope{Success: true, Timestamp: now()},
		Config: map[string]any{
			"supported_file_types":         supportedFileTypes(),
			"max_file_size_mb":             s.cfg.Server.MaxUploadMB,
			"default_language":             s.cfg.Engine.Language,
			"default_confidence_threshold": threshold,
			"default_entities":             s.engine.DefaultEntityTypes(),
			"anonymization_strategies": []string{
				string(anonymize.StrategyReplace),
				string(anonymize.StrategyRedact),
				string(anonymize.StrategyMask),
				string(anonymize.StrategyHash),
				string(anonymize.StrategyEncrypt),
			},
			"default_anonymization_config": s.engine.DefaultPolicy(),
		},
	})
}

type batchRequest struct {
	Texts          []json.RawMessage `json:"texts"`
	Entities       []string          `json:"entities"`
	Language       string            `json:"language"`
	ScoreThreshold *float64          `json:"score_threshold"`
}

// batchItemPayload flattens the analysis result into the item, matching the
// per-text shape of the single analyze endpoint.
type batchItemPayload struct {
	Index       int            `json:"index"`
	TextPreview string         `json:"text_preview,omitempty"`
	Results     []pii.Span     `json:"results"`
	Statistics  pii.Statistics `json:"statistics"`
	Error       string         `json:"error,omitempty"`
}

func (s *Server) handleBatchAnalyze(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	var req batchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "No JSON data provided")
		return
	}
	if len(req.Texts) == 0 {
		writeError(w, http.StatusBadRequest, "Texts must be a non-empty list")
		return
	}

	// Non-string elements become pre-failed items so indexes stay stable.
	items := make([]engine.BatchItem, len(req.Texts))
	for i, raw := range req.Texts {
		var text string
		if err := json.Unmarshal(raw, &text); err != nil {
			items[i] = engine.BatchItem{Err: fmt.Errorf("text must be a string")}
			continue
		}
		items[i] = engine.BatchItem{Text: text}
	}

	opts := engine.Options{
		Language:       req.Language,
		EntityTypes:    req.Entities,
		ScoreThreshold: req.ScoreThreshold,
	}

	start := time.Now()
	batch := s.engine.AnalyzeBatch(r.Context(), items, opts, s.cfg.Engine.Concurrency)

	payload := make([]batchItemPayload, len(batch.Items))
	for i, item := range batch.Items {
		out := batchItemPayload{
			Index:       item.Index,
			TextPreview: item.TextPreview,
			Results:     []pii.Span{},
			Error:       item.Error,
		}
		if item.Result != nil {
			out.Results = spansOrEmpty(item.Result.Spans)
			out.Statistics = item.Result.Statistics
		}
		payload[i] = out
	}

	s.emitBatchAudit(r, batch, time.Since(start))

	language := req.Language
	if language == "" {
		language = s.cfg.Engine.Language
	}
	threshold := 0.5
	if s.cfg.Engine.ScoreThreshold != nil {
		threshold = *s.cfg.Engine.ScoreThreshold
	}
	if req.ScoreThreshold != nil {
		threshold = *req.ScoreThreshold
	}
	entities := req.Entities
	if len(entities) == 0 {
		entities = s.engine.DefaultEntityTypes()
	}

	writeJSON(w, http.StatusOK, struct {
		envelope
		BatchResults    []batchItemPayload  `json:"batch_results"`
		BatchStatistics engine.BatchSummary `json:"batch_statistics"`
		Metadata        map[string]any      `json:"metadata"`
	}{
		envelope:        envelope{Success: true, Timestamp: now()},
		BatchResults:    payload,
		BatchStatistics: batch.Summary,
		Metadata: map[string]any{
			"entities_requested": entities,
			"language":           language,
			"score_threshold":    threshold,
		},
	})
}

// preparePolicy attaches the configured encryption key to operators that
// need one before the request policy reaches the engine.
func (s *Server) preparePolicy(table anonymize.PolicyTable) anonymize.PolicyTable {
	if len(table) == 0 {
		return table
	}
	if len(s.encryptKey) == 0 {
		return table
	}
	return table.WithKey(s.encryptKey)
}

func (s *Server) emitAudit(r *http.Request, op, text string, analysis *engine.AnalysisResult, items []anonymize.Item, errorKind string, latency time.Duration) {
	ev := audit.BuildEvent(audit.BuildParams{
		Level:     s.auditLevel,
		RequestID: r.Header.Get("X-Request-ID"),
		Meta: audit.Meta{
			Operation: op,
			Language:  s.cfg.Engine.Language,
			Source:    "api",
		},
		Text:      text,
		Analysis:  analysis,
		Items:     items,
		ErrorKind: errorKind,
		Latency:   latency,
	})
	s.audit.Emit(r.Context(), ev)
}

func (s *Server) emitBatchAudit(r *http.Request, batch engine.BatchResult, latency time.Duration) {
	analysis := &engine.AnalysisResult{
		Statistics: pii.Statistics{TotalEntities: batch.Summary.TotalEntities},
	}
	ev := audit.BuildEvent(audit.BuildParams{
		Level:     s.auditLevel,
		RequestID: r.Header.Get("X-Request-ID"),
		Meta: audit.Meta{
			Operation: audit.OpBatchAnalyze,
			Language:  s.cfg.Engine.Language,
			Source:    "api",
		},
		Analysis: analysis,
		Latency:  latency,
	})
	s.audit.Emit(r.Context(), ev)
}

func spansOrEmpty(spans []pii.Span) []pii.Span {
	if spans == nil {
		return []pii.Span{}
	}
	return spans
}

func itemsOrEmpty(items []anonymize.Item) []anonymize.Item {
	if items == nil {
		return []anonymize.Item{}
	}
	return items
}
