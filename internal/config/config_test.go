package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/scrubly-ai/scrubly/internal/anonymize"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "scrubly.yaml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.Addr != ":8080" {
		t.Errorf("Server.Addr = %q, want :8080", cfg.Server.Addr)
	}
	if cfg.Engine.Language != "en" {
		t.Errorf("Engine.Language = %q, want en", cfg.Engine.Language)
	}
	if cfg.Engine.ScoreThreshold == nil || *cfg.Engine.ScoreThreshold != 0.5 {
		t.Errorf("Engine.ScoreThreshold = %v, want 0.5", cfg.Engine.ScoreThreshold)
	}
	if cfg.Recognizer.Kind != "regex" {
		t.Errorf("Recognizer.Kind = %q, want regex", cfg.Recognizer.Kind)
	}
	if cfg.Audit.Level != "metadata" {
		t.Errorf("Audit.Level = %q, want metadata", cfg.Audit.Level)
	}
	if len(cfg.Anonymization) == 0 {
		t.Error("Anonymization policy is empty, want defaults")
	}
	if err := Validate(cfg); err != nil {
		t.Errorf("default config should validate, got %v", err)
	}
}

func TestLoadParsesPolicyTable(t *testing.T) {
	path := writeConfig(t, `
server:
  addr: ":9090"
  api_keys: ["k1"]
engine:
  language: en
  score_threshold: 0.7
  entity_types: [EMAIL_ADDRESS, PHONE_NUMBER]
anonymization:
  EMAIL_ADDRESS:
    type: mask
    masking_char: "#"
    chars_to_mask: 4
    from_end: true
  DEFAULT:
    type: replace
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.Addr != ":9090" {
		t.Errorf("Server.Addr = %q, want :9090", cfg.Server.Addr)
	}
	if *cfg.Engine.ScoreThreshold != 0.7 {
		t.Errorf("ScoreThreshold = %v, want 0.7", *cfg.Engine.ScoreThreshold)
	}

	op, ok := cfg.Anonymization["EMAIL_ADDRESS"]
	if !ok {
		t.Fatal("missing EMAIL_ADDRESS operator")
	}
	if op.Strategy != anonymize.StrategyMask || op.MaskingChar != "#" || !op.FromEnd {
		t.Errorf("EMAIL_ADDRESS operator = %+v", op)
	}
	if op.CharsToMask == nil || *op.CharsToMask != 4 {
		t.Errorf("CharsToMask = %v, want 4", op.CharsToMask)
	}
	if err := Validate(cfg); err != nil {
		t.Errorf("Validate: %v", err)
	}
}

func TestLoadZeroThresholdSurvivesDefaults(t *testing.T) {
	path := writeConfig(t, "engine:\n  score_threshold: 0\n")
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Engine.ScoreThreshold == nil || *cfg.Engine.ScoreThreshold != 0 {
		t.Errorf("ScoreThreshold = %v, want explicit 0", cfg.Engine.ScoreThreshold)
	}
}

func TestValidateFailures(t *testing.T) {
	base := func() *Config {
		cfg := &Config{}
		applyDefaults(cfg)
		return cfg
	}

	cases := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{
			name:   "missing server addr",
			mutate: func(c *Config) { c.Server.Addr = " " },
			want:   "server.addr",
		},
		{
			name: "threshold out of range",
			mutate: func(c *Config) {
				th := 1.5
				c.Engine.ScoreThreshold = &th
			},
			want: "score_threshold",
		},
		{
			name:   "blank entity type",
			mutate: func(c *Config) { c.Engine.EntityTypes = []string{"EMAIL_ADDRESS", " "} },
			want:   "entity_types",
		},
		{
			name:   "unknown recognizer kind",
			mutate: func(c *Config) { c.Recognizer.Kind = "spacy" },
			want:   "recognizer.kind",
		},
		{
			name:   "onnx without bundle",
			mutate: func(c *Config) { c.Recognizer.Kind = "onnx" },
			want:   "bundle_dir",
		},
		{
			name: "unknown strategy",
			mutate: func(c *Config) {
				c.Anonymization["EMAIL_ADDRESS"] = anonymize.OperatorConfig{Strategy: "rot13"}
			},
			want: "unknown strategy",
		},
		{
			name: "multichar masking char",
			mutate: func(c *Config) {
				c.Anonymization["PHONE_NUMBER"] = anonymize.OperatorConfig{
					Strategy:    anonymize.StrategyMask,
					MaskingChar: "ab",
				}
			},
			want: "masking_char",
		},
		{
			name:   "bad audit level",
			mutate: func(c *Config) { c.Audit.Level = "verbose" },
			want:   "audit.level",
		},
		{
			name: "file sink without path",
			mutate: func(c *Config) {
				c.Audit.Sinks = []AuditSinkSpec{{Type: "file_jsonl"}}
			},
			want: "missing path",
		},
		{
			name: "webhook sink with bad scheme",
			mutate: func(c *Config) {
				c.Audit.Sinks = []AuditSinkSpec{{Type: "webhook", URL: "ftp://example.com"}}
			},
			want: "http or https",
		},
		{
			name: "telemetry enabled without endpoint",
			mutate: func(c *Config) {
				c.Telemetry.Enabled = true
			},
			want: "endpoint",
		},
		{
			name: "telemetry bad protocol",
			mutate: func(c *Config) {
				c.Telemetry = TelemetryConfig{Enabled: true, Endpoint: "localhost:4317", Protocol: "udp"}
			},
			want: "protocol",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := base()
			tc.mutate(cfg)
			err := Validate(cfg)
			if err == nil {
				t.Fatal("expected error, got nil")
			}
			if !strings.Contains(err.Error(), tc.want) {
				t.Errorf("error %q does not mention %q", err.Error(), tc.want)
			}
		})
	}
}

func TestValidateNilConfig(t *testing.T) {
	if err := Validate(nil); err == nil {
		t.Fatal("expected error for nil config")
	}
}
