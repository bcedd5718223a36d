package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/scrubly-ai/scrubly/internal/anonymize"
)

// Validate checks the loaded config for required fields and safe values.
func Validate(cfg *Config) error {
	if cfg == nil {
		return errors.New("config is nil")
	}

	if strings.TrimSpace(cfg.Server.Addr) == "" {
		return errors.New("server.addr must be set")
	}

	if th := cfg.Engine.ScoreThreshold; th != nil && (*th < 0 || *th > 1) {
		return fmt.Errorf("engine.score_threshold must be in [0, 1], got %v", *th)
	}
	for i, e := range cfg.Engine.EntityTypes {
		if strings.TrimSpace(e) == "" {
			return fmt.Errorf("engine.entity_types[%d] is empty", i)
		}
	}

	if err := validateRecognizerConfig(cfg.Recognizer); err != nil {
		return err
	}

	for entity, op := range cfg.Anonymization {
		if err := validateOperator(entity, op); err != nil {
			return err
		}
	}

	if err := validateAuditConfig(cfg.Audit); err != nil {
		return err
	}

	if err := validateTelemetryConfig(cfg.Telemetry); err != nil {
		return err
	}

	return nil
}

func validateRecognizerConfig(r RecognizerConfig) error {
	switch strings.ToLower(strings.TrimSpace(r.Kind)) {
	case "regex":
		return nil
	case "onnx":
		if strings.TrimSpace(r.BundleDir) == "" {
			return errors.New("recognizer.bundle_dir must be set for kind onnx")
		}
		return nil
	default:
		return fmt.Errorf("recognizer.kind must be regex or onnx, got %q", r.Kind)
	}
}

func validateOperator(entity string, op anonymize.OperatorConfig) error {
	switch op.Strategy {
	case anonymize.StrategyReplace, anonymize.StrategyRedact, anonymize.StrategyMask,
		anonymize.StrategyHash, anonymize.StrategyEncrypt:
	case anonymize.StrategyCustom:
		return fmt.Errorf("anonymization.%s: custom operators cannot be configured from YAML", entity)
	default:
		return fmt.Errorf("anonymization.%s has unknown strategy %q", entity, op.Strategy)
	}
	if op.Strategy == anonymize.StrategyMask {
		if n := len([]rune(op.MaskingChar)); n > 1 {
			return fmt.Errorf("anonymization.%s masking_char must be a single character, got %q", entity, op.MaskingChar)
		}
	}
	return nil
}

func validateAuditConfig(a AuditConfig) error {
	switch strings.ToLower(strings.TrimSpace(a.Level)) {
	case "off", "metadata", "full":
	default:
		return fmt.Errorf("audit.level must be off, metadata, or full, got %q", a.Level)
	}
	for i, s := range a.Sinks {
		switch strings.ToLower(strings.TrimSpace(s.Type)) {
		case "file_jsonl":
			if strings.TrimSpace(s.Path) == "" {
				return fmt.Errorf("audit sink %d (file_jsonl) missing path", i)
			}
		case "webhook":
			if strings.TrimSpace(s.URL) == "" {
				return fmt.Errorf("audit sink %d (webhook) missing url", i)
			}
			u, err := url.Parse(s.URL)
			if err != nil || u.Scheme == "" || u.Host == "" {
				return fmt.Errorf("audit sink %d (webhook) has invalid url", i)
			}
			if u.Scheme != "http" && u.Scheme != "https" {
				return fmt.Errorf("audit sink %d (webhook) url must be http or https", i)
			}
		default:
			return fmt.Errorf("audit sink %d has unknown type %q", i, s.Type)
		}
	}
	return nil
}

func validateTelemetryConfig(t TelemetryConfig) error {
	if !t.Enabled {
		return nil
	}
	if strings.TrimSpace(t.Endpoint) == "" {
		return errors.New("telemetry enabled but endpoint is empty")
	}
	if t.Protocol != "" {
		switch strings.ToLower(strings.TrimSpace(t.Protocol)) {
		case "grpc", "http":
		default:
			return fmt.Errorf("telemetry.protocol must be grpc or http, got %q", t.Protocol)
		}
	}
	return nil
}
