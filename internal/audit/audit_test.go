package audit

import (
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/scrubly-ai/scrubly/internal/anonymize"
	"github.com/scrubly-ai/scrubly/internal/engine"
	"github.com/scrubly-ai/scrubly/internal/pii"
)

func sampleAnalysis() *engine.AnalysisResult {
	return &engine.AnalysisResult{
		Spans: []pii.Span{
			{EntityType: "PERSON", Start: 8, End: 18, Score: 0.85},
			{EntityType: "PHONE_NUMBER", Start: 22, End: 34, Score: 0.75},
		},
		Statistics: pii.Summarize([]pii.Span{
			{EntityType: "PERSON", Start: 8, End: 18, Score: 0.85},
			{EntityType: "PHONE_NUMBER", Start: 22, End: 34, Score: 0.75},
		}),
	}
}

func TestBuildEventLevels(t *testing.T) {
	params := BuildParams{
		RequestID: "req-1",
		Meta:      Meta{Operation: OpAnonymize, Language: "en", Source: "api"},
		Text:      "Contact John Smith at 555-123-4567.",
		Analysis:  sampleAnalysis(),
		Items: []anonymize.Item{
			{EntityType: "PERSON", Strategy: anonymize.StrategyReplace},
			{EntityType: "PHONE_NUMBER", Strategy: anonymize.StrategyMask},
		},
		Latency: 12 * time.Millisecond,
	}

	t.Run("off produces no event", func(t *testing.T) {
		p := params
		p.Level = LevelOff
		if ev := BuildEvent(p); ev != nil {
			t.Fatalf("expected nil event at level off, got %+v", ev)
		}
	})

	t.Run("metadata has counts but no preview", func(t *testing.T) {
		p := params
		p.Level = LevelMetadata
		ev := BuildEvent(p)
		if ev == nil {
			t.Fatal("expected event")
		}
		if ev.TotalEntities != 2 {
			t.Errorf("TotalEntities = %d, want 2", ev.TotalEntities)
		}
		if ev.EntityCounts["PERSON"] != 1 || ev.EntityCounts["PHONE_NUMBER"] != 1 {
			t.Errorf("EntityCounts = %v", ev.EntityCounts)
		}
		if ev.Strategies["replace"] != 1 || ev.Strategies["mask"] != 1 {
			t.Errorf("Strategies = %v", ev.Strategies)
		}
		if ev.TextPreview != "" {
			t.Errorf("metadata level must not carry a preview, got %q", ev.TextPreview)
		}
		if ev.Outcome != "ok" {
			t.Errorf("Outcome = %q, want ok", ev.Outcome)
		}
	})

	t.Run("full carries redacted preview", func(t *testing.T) {
		p := params
		p.Level = LevelFull
		ev := BuildEvent(p)
		if ev == nil {
			t.Fatal("expected event")
		}
		if ev.TextPreview == "" {
			t.Fatal("full level should carry a preview")
		}
		if strings.Contains(ev.TextPreview, "555-123-4567") {
			t.Errorf("preview leaked PII: %q", ev.TextPreview)
		}
	})

	t.Run("error outcome", func(t *testing.T) {
		p := params
		p.Level = LevelMetadata
		p.Analysis = nil
		p.ErrorKind = "upstream_error"
		ev := BuildEvent(p)
		if ev.Outcome != "error" || ev.ErrorKind != "upstream_error" {
			t.Errorf("event = %+v", ev)
		}
	})

	t.Run("generates request id when missing", func(t *testing.T) {
		p := params
		p.Level = LevelMetadata
		p.RequestID = ""
		ev := BuildEvent(p)
		if len(ev.RequestID) != 32 {
			t.Errorf("RequestID = %q, want 32 hex chars", ev.RequestID)
		}
	})
}

func TestFileSinkWritesJSONL(t *testing.T) {
	tmp := t.TempDir()
	path := filepath.Join(tmp, "nested", "events.jsonl")

	sink, err := NewFileSink(path)
	if err != nil {
		t.Fatalf("file sink: %v", err)
	}

	ev1 := &Event{Version: "1", Timestamp: time.Now(), RequestID: "req-1", Meta: Meta{Operation: OpAnalyze}}
	ev2 := &Event{Version: "1", Timestamp: time.Now(), RequestID: "req-2", Meta: Meta{Operation: OpAnalyze}}

	if err := sink.Deliver(context.Background(), ev1); err != nil {
		t.Fatalf("deliver 1: %v", err)
	}
	if err := sink.Deliver(context.Background(), ev2); err != nil {
		t.Fatalf("deliver 2: %v", err)
	}
	if err := sink.Close(context.Background()); err != nil {
		t.Fatalf("close sink: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read file: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	if len(lines) != 2 {
		t.Fatalf("expected 2 lines, got %d", len(lines))
	}

	var decoded Event
	if err := json.Unmarshal([]byte(lines[0]), &decoded); err != nil {
		t.Fatalf("unmarshal jsonl line: %v", err)
	}
	if decoded.RequestID != "req-1" {
		t.Fatalf("expected request_id req-1, got %s", decoded.RequestID)
	}
}

func TestFileSinkRotation(t *testing.T) {
	tmp := t.TempDir()
	path := filepath.Join(tmp, "events.jsonl")

	sink, err := NewFileSink(path)
	if err != nil {
		t.Fatalf("file sink: %v", err)
	}
	sink.maxBytes = 64

	ev1 := &Event{Version: "1", Timestamp: time.Now(), RequestID: "req-1", Meta: Meta{Operation: OpAnalyze}}
	ev2 := &Event{Version: "1", Timestamp: time.Now(), RequestID: "req-2", Meta: Meta{Operation: OpAnalyze}}

	if err := sink.Deliver(context.Background(), ev1); err != nil {
		t.Fatalf("deliver 1: %v", err)
	}
	if err := sink.Deliver(context.Background(), ev2); err != nil {
		t.Fatalf("deliver 2: %v", err)
	}
	if err := sink.Close(context.Background()); err != nil {
		t.Fatalf("close sink: %v", err)
	}

	rotated, err := os.ReadFile(path + ".1")
	if err != nil {
		t.Fatalf("read rotated file: %v", err)
	}
	if !strings.Contains(string(rotated), "req-1") {
		t.Fatalf("rotated file should hold the first event, got %q", rotated)
	}

	current, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read current file: %v", err)
	}
	if !strings.Contains(string(current), "req-2") || strings.Contains(string(current), "req-1") {
		t.Fatalf("current file should hold only the second event, got %q", current)
	}
}

func TestWebhookSinkHandlesNon2xx(t *testing.T) {
	srv := newTestServer(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
		_, _ = w.Write([]byte("fail"))
	}))

	sink, err := NewWebhookSink(srv.URL, nil, map[string]string{"X-Test": "1"}, 200*time.Millisecond)
	if err != nil {
		t.Fatalf("webhook sink: %v", err)
	}
	ev := &Event{Version: "1", Timestamp: time.Now(), RequestID: "req-1"}
	if err := sink.Deliver(context.Background(), ev); err == nil {
		t.Fatalf("expected non-2xx to return error")
	} else if !strings.Contains(err.Error(), "status") {
		t.Fatalf("error should mention status, got %v", err)
	}
}

func TestWebhookSinkSignsPayload(t *testing.T) {
	secret := []byte("webhook-shared-secret")
	var (
		mu        sync.Mutex
		gotBody   []byte
		gotSig    string
		gotEvent  string
		delivered bool
	)
	srv := newTestServer(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer r.Body.Close()
		body, _ := io.ReadAll(r.Body)
		mu.Lock()
		gotBody = body
		gotSig = r.Header.Get(SignatureHeader)
		gotEvent = r.Header.Get(EventHeader)
		delivered = true
		mu.Unlock()
		w.WriteHeader(http.StatusOK)
	}))

	sink, err := NewWebhookSink(srv.URL, secret, nil, time.Second)
	if err != nil {
		t.Fatalf("webhook sink: %v", err)
	}
	ev := &Event{Version: "1", Timestamp: time.Now(), RequestID: "req-1", Meta: Meta{Operation: OpAnonymize}}
	if err := sink.Deliver(context.Background(), ev); err != nil {
		t.Fatalf("deliver: %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if !delivered {
		t.Fatal("webhook was never called")
	}
	if gotEvent != OpAnonymize {
		t.Errorf("%s = %q, want %q", EventHeader, gotEvent, OpAnonymize)
	}
	if want := Sign(gotBody, secret); gotSig != want {
		t.Errorf("%s = %q, want %q", SignatureHeader, gotSig, want)
	}
}

func TestWebhookSinkUnsignedWithoutSecret(t *testing.T) {
	var (
		mu     sync.Mutex
		gotSig string
		seen   bool
	)
	srv := newTestServer(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		gotSig = r.Header.Get(SignatureHeader)
		seen = true
		mu.Unlock()
		w.WriteHeader(http.StatusOK)
	}))

	sink, err := NewWebhookSink(srv.URL, nil, nil, time.Second)
	if err != nil {
		t.Fatalf("webhook sink: %v", err)
	}
	ev := &Event{Version: "1", Timestamp: time.Now(), RequestID: "req-1"}
	if err := sink.Deliver(context.Background(), ev); err != nil {
		t.Fatalf("deliver: %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if !seen {
		t.Fatal("webhook was never called")
	}
	if gotSig != "" {
		t.Errorf("expected no signature header without a secret, got %q", gotSig)
	}
}

func TestEmitterDropsWhenQueueFull(t *testing.T) {
	wait := make(chan struct{})
	sink := &blockingSink{wait: wait}
	em := NewEmitter(EmitterConfig{QueueSize: 1, Workers: 1, ShutdownTimeout: time.Second}, []Sink{sink})

	ev := &Event{Version: "1", Timestamp: time.Now(), RequestID: "r1"}
	em.Emit(context.Background(), ev)
	em.Emit(context.Background(), ev)
	em.Emit(context.Background(), ev)

	metrics := em.MetricsSnapshot()
	if metrics.Dropped() == 0 {
		t.Fatalf("expected dropped events when queue is full")
	}

	close(wait)
	em.Close(context.Background())
}

func TestEmitterEnforcesLevel(t *testing.T) {
	t.Run("off drops every event", func(t *testing.T) {
		sink := &captureSink{}
		em := NewEmitter(EmitterConfig{QueueSize: 4, Workers: 1, Level: LevelOff, ShutdownTimeout: time.Second}, []Sink{sink})

		ev := &Event{Version: "1", Timestamp: time.Now(), RequestID: "r1", TextPreview: "Contact [PERSON]"}
		em.Emit(context.Background(), ev)
		em.Close(context.Background())

		if got := sink.snapshot(); len(got) != 0 {
			t.Fatalf("level off delivered %d events", len(got))
		}
		if metrics := em.MetricsSnapshot(); metrics.Dropped() != 1 {
			t.Fatalf("expected the event to count as dropped")
		}
	})

	t.Run("metadata strips the preview", func(t *testing.T) {
		sink := &captureSink{}
		em := NewEmitter(EmitterConfig{QueueSize: 4, Workers: 1, Level: LevelMetadata, ShutdownTimeout: time.Second}, []Sink{sink})

		ev := &Event{Version: "1", Timestamp: time.Now(), RequestID: "r1", TextPreview: "Contact [PERSON]"}
		em.Emit(context.Background(), ev)
		em.Close(context.Background())

		got := sink.snapshot()
		if len(got) != 1 {
			t.Fatalf("expected 1 event, got %d", len(got))
		}
		if got[0].TextPreview != "" {
			t.Errorf("metadata level must not deliver a preview, got %q", got[0].TextPreview)
		}
		if ev.TextPreview != "Contact [PERSON]" {
			t.Errorf("caller's event was mutated: %q", ev.TextPreview)
		}
	})
}

func TestEmitterScrubsPreviewBeforeSinks(t *testing.T) {
	sink := &captureSink{}
	em := NewEmitter(EmitterConfig{QueueSize: 4, Workers: 1, Level: LevelFull, ShutdownTimeout: time.Second}, []Sink{sink})

	// A preview that skipped BuildEvent's redaction must still be scrubbed
	// before it reaches a sink.
	ev := &Event{
		Version:     "1",
		Timestamp:   time.Now(),
		RequestID:   "r1",
		TextPreview: "call 555-123-4567 or mail john@example.com",
	}
	em.Emit(context.Background(), ev)
	em.Close(context.Background())

	got := sink.snapshot()
	if len(got) != 1 {
		t.Fatalf("expected 1 event, got %d", len(got))
	}
	preview := got[0].TextPreview
	if strings.Contains(preview, "555-123-4567") || strings.Contains(preview, "john@example.com") {
		t.Fatalf("sink received an unredacted preview: %q", preview)
	}
	if !strings.Contains(preview, "[DIGITS]") || !strings.Contains(preview, "[EMAIL]") {
		t.Errorf("preview = %q, want digit and email placeholders", preview)
	}
}

func TestEmitterWebhookIntegration(t *testing.T) {
	var (
		mu       sync.Mutex
		received []Event
	)
	srv := newTestServer(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer r.Body.Close()
		var ev Event
		if err := json.NewDecoder(r.Body).Decode(&ev); err == nil {
			mu.Lock()
			received = append(received, ev)
			mu.Unlock()
		}
		w.WriteHeader(http.StatusOK)
	}))

	sink, err := NewWebhookSink(srv.URL, nil, nil, time.Second)
	if err != nil {
		t.Fatalf("webhook sink: %v", err)
	}
	em := NewEmitter(EmitterConfig{QueueSize: 8, Workers: 1, ShutdownTimeout: time.Second}, []Sink{sink})
	defer em.Close(context.Background())

	ev := &Event{Version: "1", Timestamp: time.Now(), RequestID: "integration", Meta: Meta{Operation: OpAnalyze}}
	for i := 0; i < 5; i++ {
		em.Emit(context.Background(), ev)
	}

	deadline := time.Now().Add(2 * time.Second)
	for {
		mu.Lock()
		if len(received) >= 5 {
			mu.Unlock()
			break
		}
		mu.Unlock()
		if time.Now().After(deadline) {
			t.Fatalf("timeout waiting for webhook events, got %d", len(received))
		}
		time.Sleep(20 * time.Millisecond)
	}

	metrics := em.MetricsSnapshot()
	if metrics.SinkSuccess(sink.Name()) == 0 {
		t.Fatalf("expected sink success counter to increase")
	}
	if metrics.Dropped() != 0 {
		t.Fatalf("did not expect dropped events, got %d", metrics.Dropped())
	}
}

type captureSink struct {
	mu     sync.Mutex
	events []Event
}

func (s *captureSink) Name() string { return "capture" }

func (s *captureSink) Deliver(_ context.Context, ev *Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, *ev)
	return nil
}

func (s *captureSink) Close(context.Context) error { return nil }

func (s *captureSink) snapshot() []Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Event, len(s.events))
	copy(out, s.events)
	return out
}

type blockingSink struct {
	wait chan struct{}
}

func (s *blockingSink) Name() string { return "blocking" }

func (s *blockingSink) Deliver(context.Context, *Event) error {
	<-s.wait
	return nil
}

func (s *blockingSink) Close(context.Context) error {
	if s.wait != nil {
		select {
		case <-s.wait:
		default:
			close(s.wait)
		}
	}
	return nil
}

func newTestServer(t *testing.T, h http.Handler) *httptest.Server {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Skipf("skipping: cannot open listener: %v", err)
	}
	srv := httptest.NewUnstartedServer(h)
	srv.Listener = ln
	srv.Start()
	t.Cleanup(srv.Close)
	return srv
}
