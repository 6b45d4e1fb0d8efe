package config

import "time"

// ApplyDefaults sets default values for any zero values in cfg.
func ApplyDefaults(cfg *Config) {
	if cfg.Server.Host == "" {
		cfg.Server.Host = "localhost"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Server.RequestTimeout == 0 {
		cfg.Server.RequestTimeout = 60 * time.Second
	}
	if cfg.Server.RateLimit > 0 && cfg.Server.Burst == 0 {
		cfg.Server.Burst = 1
	}
	if cfg.Storage.DatabasePath == "" {
		cfg.Storage.DatabasePath = "/usr/local/var/setsumei/data/db/instances.db"
	}
	if cfg.Storage.BleveIndexPath == "" {
		cfg.Storage.BleveIndexPath = "/usr/local/var/setsumei/data/indices/bleve"
	}
	if cfg.Model.ArtifactPath == "" {
		cfg.Model.ArtifactPath = "/usr/local/var/setsumei/data/models/classifier.json"
	}
	if cfg.Model.ONNXInput == "" {
		cfg.Model.ONNXInput = "float_input"
	}
	if cfg.Model.ONNXOutput == "" {
		cfg.Model.ONNXOutput = "probabilities"
	}
	if cfg.Dataset.SegmentDelimiter == "" {
		cfg.Dataset.SegmentDelimiter = "\n"
	}
	if cfg.Dataset.IDColumn == "" {
		cfg.Dataset.IDColumn = "id"
	}
	if cfg.Dataset.TextColumn == "" {
		cfg.Dataset.TextColumn = "text"
	}
	if cfg.Dataset.EmbeddingColumn == "" {
		cfg.Dataset.EmbeddingColumn = "embedding"
	}
	if cfg.Explain.NumSamples == 0 {
		cfg.Explain.NumSamples = 5000
	}
	if cfg.Explain.MaxSamples == 0 {
		cfg.Explain.MaxSamples = 20000
		if cfg.Explain.MaxSamples < cfg.Explain.NumSamples {
			cfg.Explain.MaxSamples = cfg.Explain.NumSamples
		}
	}
	if cfg.Explain.NumFeatures == 0 {
		cfg.Explain.NumFeatures = 10
	}
	if cfg.Explain.TopK == 0 {
		cfg.Explain.TopK = 10
	}
	if cfg.Explain.RidgeAlpha == 0 {
		cfg.Explain.RidgeAlpha = 1.0
	}
	if cfg.Explain.RidgeRetryFactor == 0 {
		cfg.Explain.RidgeRetryFactor = 10.0
	}
	if cfg.Explain.LabelPrecision == 0 {
		cfg.Explain.LabelPrecision = 2
	}
	if cfg.Cache.Backend == "" {
		cfg.Cache.Backend = "memory"
	}
	if cfg.Cache.Size == 0 {
		cfg.Cache.Size = 1024
	}
	if cfg.Cache.TTL == 0 {
		cfg.Cache.TTL = 24 * time.Hour
	}
	if cfg.Cache.RedisAddr == "" {
		cfg.Cache.RedisAddr = "localhost:6379"
	}
	if cfg.Telemetry.ServiceName == "" {
		cfg.Telemetry.ServiceName = "setsumei"
	}
	if cfg.Telemetry.SamplingRate == 0 {
		cfg.Telemetry.SamplingRate = 1.0
	}
}
