package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestLoad_EmptyPathUsesDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatal(err)
	}
	if cfg.RateLimitPerSecond != 0.5 || cfg.MaxConcurrentDownloads != 3 {
		t.Fatalf("defaults: %+v", cfg)
	}
	if !cfg.RespectBoundaries || cfg.ChunkMaxTokens != 512 {
		t.Fatalf("chunk defaults: %+v", cfg)
	}
}

func TestLoad_FileOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "scjnpipe.yaml")
	data := `
rate_limit_per_second: 2
max_concurrent_downloads: 5
storage_mode: dual
remote_db_path: /tmp/scjn.db
chunk_overlap_tokens: 25
`
	if err := os.WriteFile(path, []byte(data), 0o644); err != nil {
		t.Fatal(err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.RateLimitPerSecond != 2 || cfg.MaxConcurrentDownloads != 5 {
		t.Fatalf("overrides: %+v", cfg)
	}
	if cfg.StorageMode != "dual" || cfg.ChunkOverlapTokens != 25 {
		t.Fatalf("overrides: %+v", cfg)
	}
	// Untouched keys keep defaults.
	if cfg.MaxRetries != 3 || cfg.CheckpointInterval != 10 {
		t.Fatalf("defaults lost: %+v", cfg)
	}
}

func TestValidate(t *testing.T) {
	for _, tc := range []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"bad mode", func(c *Config) { c.StorageMode = "s3" }, "storage_mode"},
		{"remote without db", func(c *Config) { c.StorageMode = "remote" }, "remote_db_path"},
		{"overlap too big", func(c *Config) { c.ChunkOverlapTokens = 512 }, "chunk_overlap_tokens"},
		{"zero rate", func(c *Config) { c.RateLimitPerSecond = 0 }, "rate_limit_per_second"},
	} {
		t.Run(tc.name, func(t *testing.T) {
			cfg := Default()
			tc.mutate(cfg)
			err := cfg.Validate()
			if err == nil || !strings.Contains(err.Error(), tc.want) {
				t.Fatalf("error %v, want mention of %s", err, tc.want)
			}
		})
	}
}

func TestLoad_MalformedYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	os.WriteFile(path, []byte("{not yaml"), 0o644)
	if _, err := Load(path); err == nil {
		t.Fatal("expected parse error")
	}
}
