package config

import (
	"os"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/scrubly-ai/scrubly/internal/anonymize"
)

// Config holds Scrubly configuration.
type Config struct {
	Server        ServerConfig          `yaml:"server"`
	Engine        EngineConfig          `yaml:"engine"`
	Recognizer    RecognizerConfig      `yaml:"recognizer"`
	Anonymization anonymize.PolicyTable `yaml:"anonymization"`
	EncryptKeyEnv string                `yaml:"encrypt_key_env"` // env var holding the base64 encryption key
	Audit         AuditConfig           `yaml:"audit"`
	Telemetry     TelemetryConfig       `yaml:"telemetry"`
}

type ServerConfig struct {
	Addr        string   `yaml:"addr"`          // HTTP listen address, e.g. ":8080"
	APIKeys     []string `yaml:"api_keys"`      // empty disables auth
	MaxUploadMB int      `yaml:"max_upload_mb"` // file endpoint size cap
}

type EngineConfig struct {
	Language       string   `yaml:"language"`
	ScoreThreshold *float64 `yaml:"score_threshold"`
	EntityTypes    []string `yaml:"entity_types"` // empty means all supported
	Concurrency    int      `yaml:"concurrency"`  // batch worker count
}

type RecognizerConfig struct {
	Kind      string `yaml:"kind"`       // regex | onnx
	BundleDir string `yaml:"bundle_dir"` // onnx model bundle
	SeqLen    int    `yaml:"seq_len"`
	PoolSize  int    `yaml:"pool_size"`
	CachePath string `yaml:"cache_path"` // bbolt detection cache, empty disables
}

type AuditConfig struct {
	Level string          `yaml:"level"` // off | metadata | full
	Sinks []AuditSinkSpec `yaml:"sinks"`
}

type AuditSinkSpec struct {
	Type      string `yaml:"type"` // file_jsonl | webhook
	Path      string `yaml:"path"`
	URL       string `yaml:"url"`
	SecretEnv string `yaml:"secret_env"` // env var holding the webhook signing secret
}

type TelemetryConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Endpoint string `yaml:"endpoint"`
	Protocol string `yaml:"protocol"` // grpc | http
	Service  string `yaml:"service"`
	Version  string `yaml:"version"`
}

// Load reads configuration from a YAML file.
// If the file doesn't exist, it returns a default config and no error.
func Load(path string) (*Config, error) {
	// Best-effort: load .env from current directory
	_ = godotenv.Load()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			cfg := &Config{}
			applyDefaults(cfg)
			return cfg, nil
		}
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}

	applyDefaults(&cfg)

	return &cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.Server.Addr == "" {
		cfg.Server.Addr = ":8080"
	}
	if cfg.Server.MaxUploadMB <= 0 {
		cfg.Server.MaxUploadMB = 16
	}

	if cfg.Engine.Language == "" {
		cfg.Engine.Language = "en"
	}
	if cfg.Engine.ScoreThreshold == nil {
		th := 0.5
		cfg.Engine.ScoreThreshold = &th
	}
	if cfg.Engine.Concurrency <= 0 {
		cfg.Engine.Concurrency = 4
	}

	if cfg.Recognizer.Kind == "" {
		cfg.Recognizer.Kind = "regex"
	}
	if cfg.Recognizer.SeqLen <= 0 {
		cfg.Recognizer.SeqLen = 256
	}
	if cfg.Recognizer.PoolSize <= 0 {
		cfg.Recognizer.PoolSize = 2
	}

	if cfg.Anonymization == nil {
		cfg.Anonymization = anonymize.DefaultPolicy()
	}

	if cfg.Audit.Level == "" {
		cfg.Audit.Level = "metadata"
	}
}
