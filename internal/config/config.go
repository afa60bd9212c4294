package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/dustin/go-humanize"
	"gopkg.in/yaml.v3"
)

// Backend types.
const (
	BackendLocal = "local"
	BackendS3    = "s3"
	BackendBolt  = "bolt"
)

// Concurrency modes.
const (
	ModeSequential = "sequential"
	ModeParallel   = "parallel"
	ModeNetwork    = "network"
)

// Config holds the complete application configuration.
type Config struct {
	LogLevel    string            `yaml:"log_level" env:"LOG_LEVEL"`
	LogFormat   string            `yaml:"log_format" env:"LOG_FORMAT"` // text or json
	Backend     BackendConfig     `yaml:"backend"`
	Encryption  EncryptionConfig  `yaml:"encryption"`
	Concurrency ConcurrencyConfig `yaml:"concurrency"`
	Metrics     MetricsConfig     `yaml:"metrics"`
	Audit       AuditConfig       `yaml:"audit"`
	Tracing     TracingConfig     `yaml:"tracing"`
}

// BackendConfig holds storage backend configuration.
type BackendConfig struct {
	Type         string `yaml:"type" env:"BACKEND_TYPE"`         // local, s3, bolt
	BaseDir      string `yaml:"base_dir" env:"BACKEND_BASE_DIR"` // local backend root
	BoltPath     string `yaml:"bolt_path" env:"BACKEND_BOLT_PATH"`
	Bucket       string `yaml:"bucket" env:"BACKEND_BUCKET"`
	Endpoint     string `yaml:"endpoint" env:"BACKEND_ENDPOINT"` // empty for AWS default
	Region       string `yaml:"region" env:"BACKEND_REGION"`
	AccessKey    string `yaml:"access_key" env:"BACKEND_ACCESS_KEY"`
	SecretKey    string `yaml:"secret_key" env:"BACKEND_SECRET_KEY"`
	UsePathStyle bool   `yaml:"use_path_style" env:"BACKEND_USE_PATH_STYLE"`
}

// EncryptionConfig holds encryption-related configuration.
type EncryptionConfig struct {
	Algorithm   string `yaml:"algorithm" env:"ENCRYPTION_ALGORITHM"`
	ChunkSize   string `yaml:"chunk_size" env:"ENCRYPTION_CHUNK_SIZE"` // bytes, or a size like "64KiB"
	NoncePolicy string `yaml:"nonce_policy" env:"ENCRYPTION_NONCE_POLICY"`
}

// ConcurrencyConfig selects how chunk work is fanned out.
type ConcurrencyConfig struct {
	Mode               string `yaml:"mode" env:"CONCURRENCY_MODE"`
	Workers            int    `yaml:"workers" env:"CONCURRENCY_WORKERS"` // 0 means one per CPU
	MaxInFlightUploads int    `yaml:"max_in_flight_uploads" env:"CONCURRENCY_MAX_IN_FLIGHT_UPLOADS"`
}

// MetricsConfig holds metrics export configuration.
type MetricsConfig struct {
	Enabled  bool   `yaml:"enabled" env:"METRICS_ENABLED"`
	Textfile string `yaml:"textfile" env:"METRICS_TEXTFILE"` // node-exporter textfile target
}

// AuditConfig holds audit logging configuration.
type AuditConfig struct {
	Enabled   bool   `yaml:"enabled" env:"AUDIT_ENABLED"`
	Path      string `yaml:"path" env:"AUDIT_PATH"`             // empty writes to stdout
	MaxEvents int    `yaml:"max_events" env:"AUDIT_MAX_EVENTS"` // Max events to keep in memory
}

// TracingConfig holds OpenTelemetry tracing configuration.
type TracingConfig struct {
	Enabled        bool    `yaml:"enabled" env:"TRACING_ENABLED"`
	ServiceName    string  `yaml:"service_name" env:"TRACING_SERVICE_NAME"`
	ServiceVersion string  `yaml:"service_version" env:"TRACING_SERVICE_VERSION"`
	Exporter       string  `yaml:"exporter" env:"TRACING_EXPORTER"` // stdout, otlp
	OtlpEndpoint   string  `yaml:"otlp_endpoint" env:"TRACING_OTLP_ENDPOINT"`
	SamplingRatio  float64 `yaml:"sampling_ratio" env:"TRACING_SAMPLING_RATIO"`
}

// Default returns the configuration used before any file or environment
// override is applied.
func Default() *Config {
	return &Config{
		LogLevel:  "info",
		LogFormat: "text",
		Backend: BackendConfig{
			Type:     BackendLocal,
			BaseDir:  ".",
			BoltPath: "chunkvault.db",
			Region:   "us-east-1",
		},
		Encryption: EncryptionConfig{
			Algorithm:   "ChaCha20-Poly1305",
			ChunkSize:   "64KiB",
			NoncePolicy: "random",
		},
		Concurrency: ConcurrencyConfig{
			Mode:               ModeParallel,
			MaxInFlightUploads: 4,
		},
		Audit: AuditConfig{
			MaxEvents: 1000,
		},
		Tracing: TracingConfig{
			ServiceName:    "chunkvault",
			ServiceVersion: "dev",
			Exporter:       "stdout",
			SamplingRatio:  1.0,
		},
	}
}

// LoadConfig loads configuration from a file and environment variables.
func LoadConfig(path string) (*Config, error) {
	config := Default()

	// Load from file if provided
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil && !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if len(data) > 0 {
			if err := yaml.Unmarshal(data, config); err != nil {
				return nil, fmt.Errorf("failed to parse config file: %w", err)
			}
		}
	}

	// Override with environment variables
	loadFromEnv(config)

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return config, nil
}

// loadFromEnv loads configuration values from environment variables.
func loadFromEnv(config *Config) {
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		config.LogLevel = v
	}
	if v := os.Getenv("LOG_FORMAT"); v != "" {
		config.LogFormat = v
	}
	if v := os.Getenv("BACKEND_TYPE"); v != "" {
		config.Backend.Type = v
	}
	if v := os.Getenv("BACKEND_BASE_DIR"); v != "" {
		config.Backend.BaseDir = v
	}
	if v := os.Getenv("BACKEND_BOLT_PATH"); v != "" {
		config.Backend.BoltPath = v
	}
	if v := os.Getenv("BACKEND_BUCKET"); v != "" {
		config.Backend.Bucket = v
	}
	if v := os.Getenv("BACKEND_ENDPOINT"); v != "" {
		config.Backend.Endpoint = v
	}
	if v := os.Getenv("BACKEND_REGION"); v != "" {
		config.Backend.Region = v
	}
	// ACCESS_KEY and SECRET_KEY are the names earlier releases read.
	if v := firstEnv("BACKEND_ACCESS_KEY", "ACCESS_KEY"); v != "" {
		config.Backend.AccessKey = v
	}
	if v := firstEnv("BACKEND_SECRET_KEY", "SECRET_KEY"); v != "" {
		config.Backend.SecretKey = v
	}
	if v := os.Getenv("BACKEND_USE_PATH_STYLE"); v != "" {
		config.Backend.UsePathStyle = v == "true" || v == "1"
	}
	if v := os.Getenv("ENCRYPTION_ALGORITHM"); v != "" {
		config.Encryption.Algorithm = v
	}
	if v := os.Getenv("ENCRYPTION_CHUNK_SIZE"); v != "" {
		config.Encryption.ChunkSize = v
	}
	if v := os.Getenv("ENCRYPTION_NONCE_POLICY"); v != "" {
		config.Encryption.NoncePolicy = v
	}
	if v := os.Getenv("CONCURRENCY_MODE"); v != "" {
		config.Concurrency.Mode = v
	}
	if v := os.Getenv("CONCURRENCY_WORKERS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			config.Concurrency.Workers = n
		}
	}
	if v := os.Getenv("CONCURRENCY_MAX_IN_FLIGHT_UPLOADS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			config.Concurrency.MaxInFlightUploads = n
		}
	}
	if v := os.Getenv("METRICS_ENABLED"); v != "" {
		config.Metrics.Enabled = v == "true" || v == "1"
	}
	if v := os.Getenv("METRICS_TEXTFILE"); v != "" {
		config.Metrics.Textfile = v
	}
	if v := os.Getenv("AUDIT_ENABLED"); v != "" {
		config.Audit.Enabled = v == "true" || v == "1"
	}
	if v := os.Getenv("AUDIT_PATH"); v != "" {
		config.Audit.Path = v
	}
	if v := os.Getenv("AUDIT_MAX_EVENTS"); v != "" {
		var maxEvents int
		if _, err := fmt.Sscanf(v, "%d", &maxEvents); err == nil && maxEvents > 0 {
			config.Audit.MaxEvents = maxEvents
		}
	}
	if v := os.Getenv("TRACING_ENABLED"); v != "" {
		config.Tracing.Enabled = v == "true" || v == "1"
	}
	if v := os.Getenv("TRACING_SERVICE_NAME"); v != "" {
		config.Tracing.ServiceName = v
	}
	if v := os.Getenv("TRACING_SERVICE_VERSION"); v != "" {
		config.Tracing.ServiceVersion = v
	}
	if v := os.Getenv("TRACING_EXPORTER"); v != "" {
		config.Tracing.Exporter = v
	}
	if v := os.Getenv("TRACING_OTLP_ENDPOINT"); v != "" {
		config.Tracing.OtlpEndpoint = v
	}
	if v := os.Getenv("TRACING_SAMPLING_RATIO"); v != "" {
		if ratio, err := strconv.ParseFloat(v, 64); err == nil && ratio >= 0.0 && ratio <= 1.0 {
			config.Tracing.SamplingRatio = ratio
		}
	}
}

func firstEnv(names ...string) string {
	for _, name := range names {
		if v := os.Getenv(name); v != "" {
			return v
		}
	}
	return ""
}

// ChunkSizeBytes parses the configured chunk size.
func (e EncryptionConfig) ChunkSizeBytes() (int, error) {
	return ParseChunkSize(e.ChunkSize)
}

// ParseChunkSize accepts plain byte counts ("500") and human sizes
// ("64KiB", "1MB").
func ParseChunkSize(s string) (int, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, fmt.Errorf("chunk size is empty")
	}
	n, err := humanize.ParseBytes(s)
	if err != nil {
		return 0, fmt.Errorf("invalid chunk size %q: %w", s, err)
	}
	if n < 1 {
		return 0, fmt.Errorf("chunk size must be at least 1 byte, got %q", s)
	}
	if n > uint64(int(^uint(0)>>1)) {
		return 0, fmt.Errorf("chunk size %q is too large", s)
	}
	return int(n), nil
}

// Validate validates the configuration and returns an error if invalid.
func (c *Config) Validate() error {
	if c.LogLevel != "" {
		validLevels := map[string]bool{
			"debug": true,
			"info":  true,
			"warn":  true,
			"error": true,
		}
		if !validLevels[c.LogLevel] {
			return fmt.Errorf("invalid log_level: %s (must be debug, info, warn, or error)", c.LogLevel)
		}
	}
	if c.LogFormat != "" && c.LogFormat != "text" && c.LogFormat != "json" {
		return fmt.Errorf("invalid log_format: %s (must be text or json)", c.LogFormat)
	}

	switch c.Backend.Type {
	case BackendLocal:
		if c.Backend.BaseDir == "" {
			return fmt.Errorf("backend.base_dir is required for the local backend")
		}
	case BackendBolt:
		if c.Backend.BoltPath == "" {
			return fmt.Errorf("backend.bolt_path is required for the bolt backend")
		}
	case BackendS3:
		if c.Backend.Bucket == "" {
			return fmt.Errorf("backend.bucket is required for the s3 backend")
		}
		if c.Backend.Region == "" {
			return fmt.Errorf("backend.region is required for the s3 backend")
		}
		if (c.Backend.AccessKey == "") != (c.Backend.SecretKey == "") {
			return fmt.Errorf("backend.access_key and backend.secret_key must be set together")
		}
	default:
		return fmt.Errorf("invalid backend.type: %s (must be local, s3, or bolt)", c.Backend.Type)
	}

	allowedAlgorithms := map[string]bool{
		"ChaCha20-Poly1305":  true,
		"XChaCha20-Poly1305": true,
		"AES256-GCM":         true,
	}
	if !allowedAlgorithms[c.Encryption.Algorithm] {
		return fmt.Errorf("invalid encryption.algorithm: %s", c.Encryption.Algorithm)
	}
	if _, err := c.Encryption.ChunkSizeBytes(); err != nil {
		return fmt.Errorf("invalid encryption.chunk_size: %w", err)
	}
	if p := c.Encryption.NoncePolicy; p != "random" && p != "counter" {
		return fmt.Errorf("invalid encryption.nonce_policy: %s (must be random or counter)", p)
	}

	switch c.Concurrency.Mode {
	case ModeSequential, ModeParallel, ModeNetwork:
	default:
		return fmt.Errorf("invalid concurrency.mode: %s (must be sequential, parallel, or network)", c.Concurrency.Mode)
	}
	if c.Concurrency.Workers < 0 {
		return fmt.Errorf("concurrency.workers must not be negative")
	}
	if c.Concurrency.MaxInFlightUploads < 0 {
		return fmt.Errorf("concurrency.max_in_flight_uploads must not be negative")
	}

	if c.Audit.Enabled && c.Audit.MaxEvents < 1 {
		return fmt.Errorf("audit.max_events must be positive when audit is enabled")
	}

	if c.Tracing.Enabled {
		if c.Tracing.ServiceName == "" {
			return fmt.Errorf("tracing.service_name is required when tracing is enabled")
		}
		validExporters := map[string]bool{
			"stdout": true,
			"otlp":   true,
		}
		if !validExporters[c.Tracing.Exporter] {
			return fmt.Errorf("invalid tracing.exporter: %s (must be stdout or otlp)", c.Tracing.Exporter)
		}
		if c.Tracing.SamplingRatio < 0.0 || c.Tracing.SamplingRatio > 1.0 {
			return fmt.Errorf("tracing.sampling_ratio must be between 0.0 and 1.0")
		}
		if c.Tracing.Exporter == "otlp" && c.Tracing.OtlpEndpoint == "" {
			return fmt.Errorf("tracing.otlp_endpoint is required when exporter is otlp")
		}
	}

	return nil
}
