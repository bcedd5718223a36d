package main

import (
	"context"
	"encoding/base64"
	"flag"
	"log"
	"os"
	"time"

	"github.com/scrubly-ai/scrubly/internal/audit"
	"github.com/scrubly-ai/scrubly/internal/auth"
	"github.com/scrubly-ai/scrubly/internal/config"
	"github.com/scrubly-ai/scrubly/internal/engine"
	"github.com/scrubly-ai/scrubly/internal/onnxner"
	"github.com/scrubly-ai/scrubly/internal/recognizer"
	"github.com/scrubly-ai/scrubly/internal/redact"
	"github.com/scrubly-ai/scrubly/internal/server"
	"github.com/scrubly-ai/scrubly/internal/telemetry"
)

func main() {
	addrFlag := flag.String("addr", "", "HTTP listen address (overrides config)")
	configPath := flag.String("config", "scrubly.yaml", "Path to Scrubly config file")
	flag.Parse()

	// Load config
	cfg, err := config.Load(*configPath)
	if err != nil {
		redact.Fatalf("failed to load config: %v", err)
	}
	if err := config.Validate(cfg); err != nil {
		redact.Fatalf("invalid config: %v", err)
	}

	addr := cfg.Server.Addr
	if *addrFlag != "" {
		addr = *addrFlag
	}

	detector, cleanup, err := buildDetector(cfg)
	if err != nil {
		log.Fatalf("failed to build detector: %v", err)
	}
	defer cleanup()

	encryptKey := loadEncryptKey(cfg)

	ctx := context.Background()
	tel, err := telemetry.NewProvider(ctx, telemetry.Config{
		Enabled:  cfg.Telemetry.Enabled,
		Endpoint: cfg.Telemetry.Endpoint,
		Protocol: cfg.Telemetry.Protocol,
		Service:  cfg.Telemetry.Service,
		Version:  cfg.Telemetry.Version,
	})
	if err != nil {
		log.Fatalf("failed to init telemetry: %v", err)
	}
	defer tel.Shutdown(ctx)

	emitter := audit.NewEmitter(audit.EmitterConfig{
		Level:     cfg.Audit.Level,
		Telemetry: tel,
	}, buildSinks(cfg))
	defer emitter.Close(ctx)

	policy := cfg.Anonymization
	if len(encryptKey) > 0 {
		policy = policy.WithKey(encryptKey)
	}

	eng := engine.New(engine.Config{
		Detector:       detector,
		Language:       cfg.Engine.Language,
		EntityTypes:    cfg.Engine.EntityTypes,
		ScoreThreshold: *cfg.Engine.ScoreThreshold,
		Policy:         policy,
		Telemetry:      tel,
	})

	srv := server.New(server.Options{
		Config:     cfg,
		Auth:       auth.New(cfg.Server.APIKeys),
		Engine:     eng,
		Audit:      emitter,
		Telemetry:  tel,
		EncryptKey: encryptKey,
	})

	if err := srv.Start(addr); err != nil {
		log.Fatalf("server error: %v", err)
	}
}

// buildDetector constructs the configured recognizer, wrapping it in the
// bbolt detection cache when one is configured.
func buildDetector(cfg *config.Config) (recognizer.Detector, func(), error) {
	cleanup := func() {}

	var detector recognizer.Detector
	switch cfg.Recognizer.Kind {
	case "onnx":
		ner, err := onnxner.Load(onnxner.Config{
			BundleDir: cfg.Recognizer.BundleDir,
			SeqLen:    cfg.Recognizer.SeqLen,
			PoolSize:  cfg.Recognizer.PoolSize,
		})
		if err != nil {
			return nil, nil, err
		}
		detector = ner
		cleanup = ner.Close
		log.Printf("recognizer: onnx bundle %s (seq_len=%d pool=%d)", cfg.Recognizer.BundleDir, cfg.Recognizer.SeqLen, cfg.Recognizer.PoolSize)
	default:
		detector = recognizer.NewRegexDetector()
		log.Printf("recognizer: regex")
	}

	if cfg.Recognizer.CachePath != "" {
		cache, err := recognizer.OpenCache(cfg.Recognizer.CachePath)
		if err != nil {
			return nil, nil, err
		}
		inner := cleanup
		cleanup = func() {
			_ = cache.Close()
			inner()
		}
		detector = recognizer.NewCachedDetector(detector, cache)
		log.Printf("detection cache: %s", cfg.Recognizer.CachePath)
	}

	return detector, cleanup, nil
}

// loadEncryptKey reads and decodes the base64 key named by encrypt_key_env.
// A missing variable just disables the encrypt strategy.
func loadEncryptKey(cfg *config.Config) []byte {
	if cfg.EncryptKeyEnv == "" {
		return nil
	}
	raw := os.Getenv(cfg.EncryptKeyEnv)
	if raw == "" {
		log.Printf("warning: %s not set, encrypt strategy unavailable", cfg.EncryptKeyEnv)
		return nil
	}
	key, err := base64.StdEncoding.DecodeString(raw)
	if err != nil {
		log.Fatalf("invalid base64 in %s: %v", cfg.EncryptKeyEnv, err)
	}
	return key
}

func buildSinks(cfg *config.Config) []audit.Sink {
	var sinks []audit.Sink
	for _, spec := range cfg.Audit.Sinks {
		switch spec.Type {
		case "file_jsonl":
			sink, err := audit.NewFileSink(spec.Path)
			if err != nil {
				log.Fatalf("failed to open audit file sink %s: %v", spec.Path, err)
			}
			sinks = append(sinks, sink)
		case "webhook":
			var secret []byte
			if spec.SecretEnv != "" {
				secret = []byte(os.Getenv(spec.SecretEnv))
			}
			sink, err := audit.NewWebhookSink(spec.URL, secret, nil, 5*time.Second)
			if err != nil {
				log.Fatalf("failed to build audit webhook sink: %v", err)
			}
			sinks = append(sinks, sink)
		}
	}
	return sinks
}
