package server

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"time"

	"github.com/scrubly-ai/scrubly/internal/anonymize"
	"github.com/scrubly-ai/scrubly/internal/audit"
	"github.com/scrubly-ai/scrubly/internal/auth"
	"github.com/scrubly-ai/scrubly/internal/config"
	"github.com/scrubly-ai/scrubly/internal/console"
	"github.com/scrubly-ai/scrubly/internal/engine"
	"github.com/scrubly-ai/scrubly/internal/telemetry"
)

// Version is reported by the health endpoint.
const Version = "1.0.0"

// Server wraps the HTTP surface of the Scrubly service.
type Server struct {
	mux        *http.ServeMux
	cfg        *config.Config
	auth       *auth.Auth
	engine     *engine.Engine
	audit      *audit.Emitter
	auditLevel string
	tel        *telemetry.Provider
	encryptKey []byte
}

// Options carries the collaborators the HTTP layer delegates to.
type Options struct {
	Config     *config.Config
	Auth       *auth.Auth
	Engine     *engine.Engine
	Audit      *audit.Emitter
	Telemetry  *telemetry.Provider
	EncryptKey []byte
}

// New creates a server with all routes registered.
func New(opts Options) *Server {
	s := &Server{
		mux:        http.NewServeMux(),
		cfg:        opts.Config,
		auth:       opts.Auth,
		engine:     opts.Engine,
		audit:      opts.Audit,
		auditLevel: opts.Config.Audit.Level,
		tel:        opts.Telemetry,
		encryptKey: opts.EncryptKey,
	}

	s.mux.HandleFunc("/api/health", s.instrument("/api/health", s.handleHealth))
	s.mux.HandleFunc("/api/analyze", s.protected("/api/analyze", s.handleAnalyze))
	s.mux.HandleFunc("/api/anonymize", s.protected("/api/anonymize", s.handleAnonymize))
	s.mux.HandleFunc("/api/batch-analyze", s.protected("/api/batch-analyze", s.handleBatchAnalyze))
	s.mux.HandleFunc("/api/entities", s.protected("/api/entities", s.handleEntities))
	s.mux.HandleFunc("/api/config", s.protected("/api/config", s.handleConfig))
	s.mux.HandleFunc("/api/analyze-file", s.protected("/api/analyze-file", s.handleAnalyzeFile))
	s.mux.HandleFunc("/api/anonymize-file", s.protected("/api/anonymize-file", s.handleAnonymizeFile))
	s.mux.Handle("/console", console.Handler())

	return s
}

// Handler exposes the routed mux, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.mux
}

// Start runs the HTTP server on the given address.
func (s *Server) Start(addr string) error {
	log.Printf("Scrubly running on %s", addr)
	return http.ListenAndServe(addr, s.mux)
}

// protected wraps a handler with API key auth and request metrics.
func (s *Server) protected(route string, h http.HandlerFunc) http.HandlerFunc {
	return s.instrument(route, func(w http.ResponseWriter, r *http.Request) {
		key := auth.KeyFromHeaders(r.Header.Get("X-API-Key"), r.Header.Get("Authorization"))
		if !s.auth.Allow(key) {
			writeError(w, http.StatusUnauthorized, "Invalid or missing API key")
			return
		}
		h(w, r)
	})
}

func (s *Server) instrument(route string, h http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		h(rec, r)
		s.tel.RecordRequest(r.Context(), route, rec.status, time.Since(start))
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// envelope is the common response wrapper; success responses splice extra
// fields in alongside it.
type envelope struct {
	Success   bool   `json:"success"`
	Error     string `json:"error,omitempty"`
	Timestamp string `json:"timestamp"`
}

func now() string {
	return time.Now().Format(time.RFC3339Nano)
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		log.Printf("failed to write response: %v", err)
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, envelope{
		Success:   false,
		Error:     message,
		Timestamp: now(),
	})
}

// statusForError maps pipeline error kinds onto HTTP statuses.
func statusForError(err error) (int, string) {
	var validation *engine.ValidationError
	if errors.As(err, &validation) {
		return http.StatusBadRequest, "validation_error"
	}
	var cfgErr *anonymize.ConfigError
	if errors.As(err, &cfgErr) {
		return http.StatusBadRequest, "config_error"
	}
	var upstream *engine.UpstreamError
	if errors.As(err, &upstream) {
		return http.StatusBadGateway, "upstream_error"
	}
	return http.StatusInternalServerError, "internal_error"
}
