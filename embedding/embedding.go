// Package embedding converts chunk text to float32 vectors via any
// OpenAI-compatible embedding server.
//
// When no server is configured the package substitutes a deterministic
// hash-based encoder of the same dimension, so the rest of the pipeline
// (vector store, persistence, search) stays exercisable without a model.
package embedding

import (
	"context"
	"log/slog"
	"time"
)

// DefaultDimension matches the multilingual sentence-transformer models the
// pipeline is normally paired with.
const DefaultDimension = 384

// Encoder converts text to vectors.
type Encoder interface {
	// Encode returns the embedding vector for a single text.
	Encode(ctx context.Context, text string) ([]float32, error)

	// EncodeBatch returns embeddings for multiple texts, one HTTP call per
	// configured batch. Output order matches input order.
	EncodeBatch(ctx context.Context, texts []string) ([][]float32, error)

	// Dimension returns the vector dimension, or 0 before auto-detection.
	Dimension() int

	// Model returns the model name.
	Model() string
}

// Config configures the encoder.
type Config struct {
	// Endpoint is the base URL of the embedding server. Empty selects the
	// deterministic hash encoder.
	Endpoint string `json:"endpoint" yaml:"endpoint"`

	// Model is the model name sent in the request.
	Model string `json:"model" yaml:"model"`

	// Dimension is the expected vector dimension. 0 means auto-detect on the
	// first call (hash encoder falls back to DefaultDimension).
	Dimension int `json:"dimension" yaml:"dimension"`

	// BatchSize is the maximum number of texts per HTTP request. Default: 32.
	BatchSize int `json:"batch_size" yaml:"batch_size"`

	// Timeout per HTTP request. Default: 30s.
	Timeout time.Duration `json:"timeout" yaml:"timeout"`

	// Logger for debug/error messages. Defaults to slog.Default().
	Logger *slog.Logger `json:"-" yaml:"-"`
}

func (c *Config) defaults() {
	if c.BatchSize <= 0 {
		c.BatchSize = 32
	}
	if c.Timeout <= 0 {
		c.Timeout = 30 * time.Second
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// New creates an Encoder from config.
func New(cfg Config) Encoder {
	cfg.defaults()
	if cfg.Endpoint == "" {
		dim := cfg.Dimension
		if dim <= 0 {
			dim = DefaultDimension
		}
		cfg.Logger.Info("no embedding endpoint configured, using hash encoder",
			"dimension", dim)
		return &hashEncoder{dim: dim, model: cfg.Model}
	}
	return newRemoteEncoder(cfg)
}
