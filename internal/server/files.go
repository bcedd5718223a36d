package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/scrubly-ai/scrubly/internal/anonymize"
	"github.com/scrubly-ai/scrubly/internal/audit"
	"github.com/scrubly-ai/scrubly/internal/engine"
	"github.com/scrubly-ai/scrubly/internal/extract"
	"github.com/scrubly-ai/scrubly/internal/pii"
	"github.com/scrubly-ai/scrubly/internal/redact"
)

const contentPreviewRunes = 500

func supportedFileTypes() []string {
	return extract.SupportedTypes()
}

// fileInfo echoes the extracted document back without its content.
type fileInfo struct {
	Filename string         `json:"filename"`
	FileType string         `json:"file_type"`
	Metadata map[string]any `json:"metadata"`
}

// fileForm is the parsed multipart request shared by both file endpoints.
type fileForm struct {
	doc      *extract.Document
	entities []string
	language string
	thresh   *float64
	policy   anonymize.PolicyTable
}

func (s *Server) parseFileForm(w http.ResponseWriter, r *http.Request) (*fileForm, bool) {
	maxBytes := int64(s.cfg.Server.MaxUploadMB) << 20
	r.Body = http.MaxBytesReader(w, r.Body, maxBytes)
	if err := r.ParseMultipartForm(maxBytes); err != nil {
		if strings.Contains(err.Error(), "request body too large") {
			writeError(w, http.StatusRequestEntityTooLarge, "File too large")
			return nil, false
		}
		writeError(w, http.StatusBadRequest, "No file uploaded")
		return nil, false
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "No file uploaded")
		return nil, false
	}
	defer file.Close()

	if header.Filename == "" {
		writeError(w, http.StatusBadRequest, "No file selected")
		return nil, false
	}

	doc, err := s.extractUpload(file, header, maxBytes)
	if err != nil {
		var unsupported *extract.ErrUnsupported
		if errors.As(err, &unsupported) {
			writeError(w, http.StatusBadRequest, fmt.Sprintf("Unsupported file type: %s", unsupported.FileType))
			return nil, false
		}
		writeError(w, http.StatusBadRequest, fmt.Sprintf("File processing failed: %s", redact.String(err.Error())))
		return nil, false
	}

	form := &fileForm{
		doc:      doc,
		language: r.FormValue("language"),
	}
	if raw := strings.TrimSpace(r.FormValue("entities")); raw != "" {
		for _, e := range strings.Split(raw, ",") {
			if t := strings.TrimSpace(e); t != "" {
				form.entities = append(form.entities, t)
			}
		}
	}
	if raw := strings.TrimSpace(r.FormValue("score_threshold")); raw != "" {
		v, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			writeError(w, http.StatusBadRequest, "score_threshold must be a number")
			return nil, false
		}
		form.thresh = &v
	}
	if raw := strings.TrimSpace(r.FormValue("anonymization_config")); raw != "" {
		var table anonymize.PolicyTable
		if err := json.Unmarshal([]byte(raw), &table); err != nil {
			// Invalid override falls back to the default policy.
			redact.Logf("invalid anonymization config in form, using defaults: %v", err)
		} else {
			form.policy = table
		}
	}
	return form, true
}

func (s *Server) extractUpload(file multipart.File, header *multipart.FileHeader, maxBytes int64) (*extract.Document, error) {
	return extract.Process(file, header.Filename, maxBytes)
}

func (s *Server) handleAnalyzeFile(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	form, ok := s.parseFileForm(w, r)
	if !ok {
		return
	}

	start := time.Now()
	result, err := s.engine.Analyze(r.Context(), form.doc.Content, engine.Options{
		Language:       form.language,
		EntityTypes:    form.entities,
		ScoreThreshold: form.thresh,
	})
	if err != nil {
		status, kind := statusForError(err)
		s.emitFileAudit(r, audit.OpAnalyzeFile, form.doc, nil, nil, kind, time.Since(start))
		writeError(w, status, fmt.Sprintf("File analysis failed: %s", redact.String(err.Error())))
		return
	}
	s.emitFileAudit(r, audit.OpAnalyzeFile, form.doc, result, nil, "", time.Since(start))

	writeJSON(w, http.StatusOK, struct {
		envelope
		FileInfo         fileInfo        `json:"file_info"`
		ContentPreview   string          `json:"content_preview"`
		Results          []pii.Span      `json:"results"`
		Statistics       pii.Statistics  `json:"statistics"`
		AnalysisMetadata engine.Metadata `json:"analysis_metadata"`
		Warnings         []string        `json:"warnings,omitempty"`
	}{
		envelope: envelope{Success: true, Timestamp: now()},
		FileInfo: fileInfo{
			Filename: form.doc.Filename,
			FileType: form.doc.FileType,
			Metadata: form.doc.Metadata,
		},
		ContentPreview:   truncateRunes(form.doc.Content, contentPreviewRunes),
		Results:          spansOrEmpty(result.Spans),
		Statistics:       result.Statistics,
		AnalysisMetadata: result.Metadata,
		Warnings:         result.Warnings,
	})
}

func (s *Server) handleAnonymizeFile(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	form, ok := s.parseFileForm(w, r)
	if !ok {
		return
	}

	start := time.Now()
	result, err := s.engine.Anonymize(r.Context(), form.doc.Content, engine.AnonymizeOptions{
		Options: engine.Options{
			Language:       form.language,
			EntityTypes:    form.entities,
			ScoreThreshold: form.thresh,
		},
		Policy: s.preparePolicy(form.policy),
	})
	if err != nil {
		status, kind := statusForError(err)
		s.emitFileAudit(r, audit.OpAnonymizeFile, form.doc, nil, nil, kind, time.Since(start))
		writeError(w, status, fmt.Sprintf("File anonymization failed: %s", redact.String(err.Error())))
		return
	}
	s.emitFileAudit(r, audit.OpAnonymizeFile, form.doc, &engine.AnalysisResult{Statistics: result.Statistics}, result.Items, "", time.Since(start))

	writeJSON(w, http.StatusOK, struct {
		envelope
		FileInfo          fileInfo         `json:"file_info"`
		OriginalContent   string           `json:"original_content"`
		AnonymizedContent string           `json:"anonymized_content"`
		AnonymizedItems   []anonymize.Item `json:"anonymized_items"`
		DetectedEntities  []pii.Span       `json:"detected_entities"`
		Statistics        pii.Statistics   `json:"statistics"`
		Warnings          []string         `json:"warnings,omitempty"`
	}{
		envelope: envelope{Success: true, Timestamp: now()},
		FileInfo: fileInfo{
			Filename: form.doc.Filename,
			FileType: form.doc.FileType,
			Metadata: form.doc.Metadata,
		},
		OriginalContent:   form.doc.Content,
		AnonymizedContent: result.Text,
		AnonymizedItems:   itemsOrEmpty(result.Items),
		DetectedEntities:  spansOrEmpty(result.Spans),
		Statistics:        result.Statistics,
		Warnings:          result.Warnings,
	})
}

func (s *Server) emitFileAudit(r *http.Request, op string, doc *extract.Document, analysis *engine.AnalysisResult, items []anonymize.Item, errorKind string, latency time.Duration) {
	ev := audit.BuildEvent(audit.BuildParams{
		Level:     s.auditLevel,
		RequestID: r.Header.Get("X-Request-ID"),
		Meta: audit.Meta{
			Operation: op,
			Language:  s.cfg.Engine.Language,
			Source:    "file",
			Filename:  doc.Filename,
		},
		Text:      doc.Content,
		Analysis:  analysis,
		Items:     items,
		ErrorKind: errorKind,
		Latency:   latency,
	})
	s.audit.Emit(r.Context(), ev)
}

func truncateRunes(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n]) + "..."
}
