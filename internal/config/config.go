// Package config provides configuration loading and structs for the setsumei server.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the application.
type Config struct {
	Debug     bool            `yaml:"debug"`
	Server    ServerConfig    `yaml:"server"`
	Storage   StorageConfig   `yaml:"storage"`
	Model     ModelConfig     `yaml:"model"`
	Dataset   DatasetConfig   `yaml:"dataset"`
	Explain   ExplainConfig   `yaml:"explain"`
	Cache     CacheConfig     `yaml:"cache"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host           string        `yaml:"host"`
	Port           int           `yaml:"port"`
	RequestTimeout time.Duration `yaml:"request_timeout"`
	// RateLimit is the sustained explanation rate in requests per second; 0 disables limiting.
	RateLimit   float64  `yaml:"rate_limit"`
	Burst       int      `yaml:"burst"`
	CORSOrigins []string `yaml:"cors_origins"`
}

// StorageConfig holds paths for the instance database and the text index.
type StorageConfig struct {
	DatabasePath   string `yaml:"database_path"`
	BleveIndexPath string `yaml:"bleve_index_path"`
}

// ModelConfig locates the fitted classifier and scaler.
// ArtifactPath is a JSON export of a logistic regression and its standard scaler.
// When ONNXPath is set the classifier runs through ONNX Runtime instead and only
// the scaler is read from the artifact.
type ModelConfig struct {
	ArtifactPath string   `yaml:"artifact_path"`
	ONNXPath     string   `yaml:"onnx_path"`
	ONNXInput    string   `yaml:"onnx_input"`
	ONNXOutput   string   `yaml:"onnx_output"`
	ORTLibrary   string   `yaml:"ort_library"`
	Classes      []string `yaml:"classes"`
}

// DatasetConfig lists the dataset files loaded at startup.
type DatasetConfig struct {
	Paths            []string `yaml:"paths"`
	SegmentDelimiter string   `yaml:"segment_delimiter"`
	IDColumn         string   `yaml:"id_column"`
	TextColumn       string   `yaml:"text_column"`
	EmbeddingColumn  string   `yaml:"embedding_column"`
	Watch            bool     `yaml:"watch"`
}

// ExplainConfig holds the explanation engine parameters.
type ExplainConfig struct {
	NumSamples  int `yaml:"num_samples"`
	MaxSamples  int `yaml:"max_samples"`
	NumFeatures int `yaml:"num_features"`
	TopK        int `yaml:"top_k"`
	// KernelWidth <= 0 means sqrt(dimensions) * 0.75.
	KernelWidth          float64 `yaml:"kernel_width"`
	RidgeAlpha           float64 `yaml:"ridge_alpha"`
	RidgeRetryFactor     float64 `yaml:"ridge_retry_factor"`
	Discretize           *bool   `yaml:"discretize"`
	LabelPrecision       int     `yaml:"label_precision"`
	SampleAroundInstance bool    `yaml:"sample_around_instance"`
	ScaleBackground      bool    `yaml:"scale_background"`
	// Seed fixes the sampler when set; unset means a fresh seed per request.
	Seed *int64 `yaml:"seed"`
}

// DiscretizeOrDefault returns whether continuous features are binned; defaults to true when unset.
func (e *ExplainConfig) DiscretizeOrDefault() bool {
	if e.Discretize != nil {
		return *e.Discretize
	}
	return true
}

// CacheConfig configures the explanation cache.
// Backend is one of "memory", "redis" or "none".
type CacheConfig struct {
	Backend   string        `yaml:"backend"`
	Size      int           `yaml:"size"`
	TTL       time.Duration `yaml:"ttl"`
	RedisAddr string        `yaml:"redis_addr"`
	RedisDB   int           `yaml:"redis_db"`
}

// TelemetryConfig configures OpenTelemetry tracing. An empty endpoint disables export.
type TelemetryConfig struct {
	OTLPEndpoint string  `yaml:"otlp_endpoint"`
	Insecure     bool    `yaml:"insecure"`
	ServiceName  string  `yaml:"service_name"`
	SamplingRate float64 `yaml:"sampling_rate"`
}

// Load reads and parses the config file at path, expands paths, and applies defaults.
// Returns an error if the file cannot be read or parsed.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	ApplyDefaults(&cfg)
	if err := Validate(&cfg); err != nil {
		return nil, err
	}

	configDir := filepath.Dir(path)
	cfg.Storage.DatabasePath = expandPath(cfg.Storage.DatabasePath, configDir)
	cfg.Storage.BleveIndexPath = expandPath(cfg.Storage.BleveIndexPath, configDir)
	cfg.Model.ArtifactPath = expandPath(cfg.Model.ArtifactPath, configDir)
	cfg.Model.ONNXPath = expandPath(cfg.Model.ONNXPath, configDir)
	cfg.Model.ORTLibrary = expandPath(cfg.Model.ORTLibrary, configDir)
	for i := range cfg.Dataset.Paths {
		cfg.Dataset.Paths[i] = expandPath(cfg.Dataset.Paths[i], configDir)
	}

	return &cfg, nil
}

// Validate rejects settings the engine cannot run with.
func Validate(cfg *Config) error {
	e := &cfg.Explain
	if e.NumSamples < 1 {
		return fmt.Errorf("explain.num_samples must be positive, got %d", e.NumSamples)
	}
	if e.MaxSamples < e.NumSamples {
		return fmt.Errorf("explain.max_samples (%d) is below explain.num_samples (%d)", e.MaxSamples, e.NumSamples)
	}
	if e.RidgeAlpha < 0 {
		return fmt.Errorf("explain.ridge_alpha must not be negative")
	}
	switch cfg.Cache.Backend {
	case "memory", "redis", "none":
	default:
		return fmt.Errorf("unknown cache backend %q (supported: memory, redis, none)", cfg.Cache.Backend)
	}
	return nil
}

// Save writes the config to path.
func Save(path string, cfg *Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}

// expandPath converts a path to absolute. Paths starting with "./" are relative to configDir;
// other relative paths are relative to the home directory. Empty paths stay empty.
func expandPath(path string, configDir string) string {
	if path == "" || filepath.IsAbs(path) {
		return path
	}
	if strings.HasPrefix(path, "./") || path == "." {
		return filepath.Join(configDir, path)
	}
	if home, err := os.UserHomeDir(); err == nil {
		return filepath.Join(home, path)
	}
	return path
}
