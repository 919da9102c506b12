// Package config holds the pipeline configuration: a YAML file merged over
// defaults, validated before use.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Config holds the full pipeline configuration.
type Config struct {
	// RateLimitPerSecond is the token bucket refill rate.
	RateLimitPerSecond float64 `yaml:"rate_limit_per_second"`
	// MaxConcurrentDownloads gates the Coordinator's queue pump.
	MaxConcurrentDownloads int `yaml:"max_concurrent_downloads"`
	// MaxRetries is the per-document retry ceiling.
	MaxRetries int `yaml:"max_retries"`
	// CheckpointInterval is the number of downloads between checkpoints.
	CheckpointInterval int `yaml:"checkpoint_interval"`
	// MaxPages caps paginated discovery.
	MaxPages int `yaml:"max_pages"`

	HTTPTimeoutSeconds int   `yaml:"http_timeout_seconds"`
	PDFMaxBytes        int64 `yaml:"pdf_max_bytes"`
	UserAgent          string `yaml:"user_agent"`
	// UseBrowser selects the headless-browser fetch path for search pages.
	UseBrowser bool `yaml:"use_browser"`

	ChunkMaxTokens     int  `yaml:"chunk_max_tokens"`
	ChunkOverlapTokens int  `yaml:"chunk_overlap_tokens"`
	ChunkMinTokens     int  `yaml:"chunk_min_tokens"`
	RespectBoundaries  bool `yaml:"respect_boundaries"`

	EmbeddingEndpoint  string `yaml:"embedding_endpoint"`
	EmbeddingModel     string `yaml:"embedding_model"`
	EmbeddingDimension int    `yaml:"embedding_dimension"`

	// StorageMode is one of local, remote, dual.
	StorageMode string `yaml:"storage_mode"`
	StorageDir  string `yaml:"storage_dir"`
	// RemoteDBPath is the sqlite file for remote and dual modes.
	RemoteDBPath  string `yaml:"remote_db_path"`
	CheckpointDir string `yaml:"checkpoint_dir"`

	// ListenAddr enables the status HTTP server when set.
	ListenAddr string `yaml:"listen_addr"`
}

// Default returns the production defaults.
func Default() *Config {
	return &Config{
		RateLimitPerSecond:     0.5,
		MaxConcurrentDownloads: 3,
		MaxRetries:             3,
		CheckpointInterval:     10,
		MaxPages:               100,
		HTTPTimeoutSeconds:     30,
		PDFMaxBytes:            50 << 20,
		ChunkMaxTokens:         512,
		ChunkOverlapTokens:     50,
		ChunkMinTokens:         100,
		RespectBoundaries:      true,
		EmbeddingDimension:     384,
		StorageMode:            "local",
		StorageDir:             "data",
		CheckpointDir:          "checkpoints",
	}
}

// Load reads a YAML file merged over Default. An empty path returns the
// defaults unchanged.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}
	return cfg, cfg.Validate()
}

// Validate checks ranges and enum fields.
func (c *Config) Validate() error {
	if c.RateLimitPerSecond <= 0 {
		return fmt.Errorf("config: rate_limit_per_second must be > 0")
	}
	if c.MaxConcurrentDownloads <= 0 {
		return fmt.Errorf("config: max_concurrent_downloads must be > 0")
	}
	if c.ChunkOverlapTokens >= c.ChunkMaxTokens {
		return fmt.Errorf("config: chunk_overlap_tokens must be below chunk_max_tokens")
	}
	switch c.StorageMode {
	case "local", "remote", "dual":
	default:
		return fmt.Errorf("config: unsupported storage_mode %q (use local, remote or dual)", c.StorageMode)
	}
	if c.StorageMode != "local" && c.RemoteDBPath == "" {
		return fmt.Errorf("config: remote_db_path is required for storage_mode %q", c.StorageMode)
	}
	return nil
}
