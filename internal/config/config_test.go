// Feedloom - Personalized Content Feed Engine
// Copyright 2026 Feedloom Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/feedloom/feedloom

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaultsValidate(t *testing.T) {
	cfg := defaultConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
	if cfg.Personalize.Alpha != 0.3 {
		t.Errorf("default alpha = %v, want 0.3", cfg.Personalize.Alpha)
	}
	if cfg.FeedCache.TTL != 30*time.Minute {
		t.Errorf("default feed cache TTL = %v, want 30m", cfg.FeedCache.TTL)
	}
	if cfg.Trending.HalfLife != 24*time.Hour {
		t.Errorf("default trending half-life = %v, want 24h", cfg.Trending.HalfLife)
	}
}

func TestValidateRejections(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"bad port", func(c *Config) { c.Server.Port = 0 }},
		{"alpha zero", func(c *Config) { c.Personalize.Alpha = 0 }},
		{"alpha over one", func(c *Config) { c.Personalize.Alpha = 1.5 }},
		{"no merge retries", func(c *Config) { c.Personalize.MergeRetries = 0 }},
		{"negative weight", func(c *Config) { c.Ranking.TrendingWeight = -1 }},
		{"all weights zero", func(c *Config) {
			c.Ranking.SimilarityWeight = 0
			c.Ranking.TrendingWeight = 0
			c.Ranking.AffinityWeight = 0
		}},
		{"default_k over max_k", func(c *Config) { c.Retrieval.DefaultK = 500 }},
		{"bad min similarity", func(c *Config) { c.Retrieval.MinSimilarity = 2 }},
		{"zero deadline", func(c *Config) { c.Retrieval.Deadline = 0 }},
		{"zero cache ttl", func(c *Config) { c.FeedCache.TTL = 0 }},
		{"zero retention", func(c *Config) { c.Ingest.Retention = 0 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := defaultConfig()
			tt.mutate(cfg)
			if err := cfg.Validate(); err == nil {
				t.Error("Validate() = nil, want error")
			}
		})
	}
}

func TestEnvTransform(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"FEEDLOOM_SERVER_PORT", "server.port"},
		{"FEEDLOOM_LOGGING_LEVEL", "logging.level"},
		{"FEEDLOOM_PROFILE_STORE_PATH", "profile_store.path"},
		{"FEEDLOOM_FEED_CACHE_MAX_ENTRIES", "feed_cache.max_entries"},
		{"FEEDLOOM_RETRIEVAL_MIN_SIMILARITY", "retrieval.min_similarity"},
	}
	for _, tt := range tests {
		if got := envTransform(tt.in); got != tt.want {
			t.Errorf("envTransform(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestLoadLayering(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	yaml := "server:\n  port: 9999\npersonalize:\n  alpha: 0.5\n"
	if err := os.WriteFile(path, []byte(yaml), 0o600); err != nil {
		t.Fatal(err)
	}

	t.Setenv(ConfigPathEnvVar, path)
	t.Setenv("FEEDLOOM_PERSONALIZE_ALPHA", "0.7")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	// File overrides default.
	if cfg.Server.Port != 9999 {
		t.Errorf("port = %d, want 9999 (file layer)", cfg.Server.Port)
	}
	// Env overrides file.
	if cfg.Personalize.Alpha != 0.7 {
		t.Errorf("alpha = %v, want 0.7 (env layer)", cfg.Personalize.Alpha)
	}
	// Untouched values keep defaults.
	if cfg.Ranking.SimilarityWeight != 0.6 {
		t.Errorf("similarity weight = %v, want default 0.6", cfg.Ranking.SimilarityWeight)
	}
}
