// Feedloom - Personalized Content Feed Engine
// Copyright 2026 Feedloom Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/feedloom/feedloom

// Package config defines the application configuration and its layered
// loading (defaults, optional YAML file, environment variables).
package config

import (
	"fmt"
	"time"
)

// Config is the root configuration for the Feedloom server.
type Config struct {
	Server        ServerConfig        `koanf:"server"`
	Logging       LoggingConfig       `koanf:"logging"`
	Database      DatabaseConfig      `koanf:"database"`
	ProfileStore  ProfileStoreConfig  `koanf:"profile_store"`
	Personalize   PersonalizeConfig   `koanf:"personalize"`
	Ranking       RankingConfig       `koanf:"ranking"`
	Retrieval     RetrievalConfig     `koanf:"retrieval"`
	FeedCache     FeedCacheConfig     `koanf:"feed_cache"`
	Trending      TrendingConfig      `koanf:"trending"`
	Ingest        IngestConfig        `koanf:"ingest"`
}

// ServerConfig configures the HTTP listener.
type ServerConfig struct {
	Host    string        `koanf:"host"`
	Port    int           `koanf:"port"`
	Timeout time.Duration `koanf:"timeout"`

	// RateLimitReqs/RateLimitWindow bound per-client request rates.
	RateLimitReqs   int           `koanf:"rate_limit_reqs"`
	RateLimitWindow time.Duration `koanf:"rate_limit_window"`

	CORSOrigins []string `koanf:"cors_origins"`
}

// LoggingConfig configures the global logger.
type LoggingConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
	Caller bool   `koanf:"caller"`
}

// DatabaseConfig configures the DuckDB-backed content catalog.
type DatabaseConfig struct {
	// Path is the DuckDB database file. ":memory:" runs fully in-memory.
	Path      string `koanf:"path"`
	MaxMemory string `koanf:"max_memory"`
	Threads   int    `koanf:"threads"`

	// Breaker settings for catalog queries.
	BreakerMaxFailures uint32        `koanf:"breaker_max_failures"`
	BreakerOpenFor     time.Duration `koanf:"breaker_open_for"`
}

// ProfileStoreConfig configures the Badger store holding interest profiles
// and embedding update records.
type ProfileStoreConfig struct {
	Path string `koanf:"path"`

	// InMemory runs Badger without disk persistence. Used by tests and
	// throwaway deployments.
	InMemory bool `koanf:"in_memory"`

	// GCInterval is how often the value-log garbage collector runs.
	GCInterval time.Duration `koanf:"gc_interval"`
}

// PersonalizeConfig tunes the interest-vector merge.
type PersonalizeConfig struct {
	// Alpha is the EMA weight given to an incoming session vector.
	Alpha float64 `koanf:"alpha"`

	// MergeRetries bounds optimistic-concurrency retries before the merge
	// is reported as a conflict.
	MergeRetries int `koanf:"merge_retries"`

	// SyncThreshold is the number of locally processed articles after which
	// a client should submit a fresh embedding update.
	SyncThreshold int `koanf:"sync_threshold"`
}

// RankingConfig tunes scoring and diversification.
type RankingConfig struct {
	SimilarityWeight float64 `koanf:"similarity_weight"`
	TrendingWeight   float64 `koanf:"trending_weight"`
	AffinityWeight   float64 `koanf:"affinity_weight"`

	// CategoryDivisor sets maxPerCategory = ceil(K / CategoryDivisor).
	CategoryDivisor int `koanf:"category_divisor"`
}

// RetrievalConfig tunes candidate retrieval and the feed request path.
type RetrievalConfig struct {
	DefaultK      int     `koanf:"default_k"`
	MaxK          int     `koanf:"max_k"`
	Oversample    int     `koanf:"oversample"`
	MinSimilarity float64 `koanf:"min_similarity"`

	// ExcludeWindow bounds the number of recently seen ids honored per
	// request.
	ExcludeWindow int `koanf:"exclude_window"`

	// Deadline is the feed-generation budget; past it the request degrades
	// to the trending-only fallback.
	Deadline time.Duration `koanf:"deadline"`

	// RefreshInterval is how often the similarity index is rebuilt from
	// the catalog.
	RefreshInterval time.Duration `koanf:"refresh_interval"`

	// CatalogWindow bounds how far back the index rebuild scans.
	CatalogWindow time.Duration `koanf:"catalog_window"`
}

// FeedCacheConfig configures the per-user feed cache.
type FeedCacheConfig struct {
	TTL        time.Duration `koanf:"ttl"`
	MaxEntries int           `koanf:"max_entries"`
}

// TrendingConfig configures the background trending aggregator.
type TrendingConfig struct {
	Interval time.Duration `koanf:"interval"`
	Lookback time.Duration `koanf:"lookback"`
	HalfLife time.Duration `koanf:"half_life"`
}

// IngestConfig configures update ingestion.
type IngestConfig struct {
	// Retention bounds how long embedding update records are kept for
	// idempotent replay before expiry.
	Retention time.Duration `koanf:"retention"`

	// RatePerSecond/RateBurst bound how fast updates are accepted overall.
	// Zero disables the limiter.
	RatePerSecond float64 `koanf:"rate_per_second"`
	RateBurst     int     `koanf:"rate_burst"`
}

// defaultConfig returns a Config with all default values. Defaults are
// applied first, then overridden by config file and env vars.
func defaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:            "0.0.0.0",
			Port:            8460,
			Timeout:         30 * time.Second,
			RateLimitReqs:   300,
			RateLimitWindow: time.Minute,
			CORSOrigins:     []string{"*"},
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Caller: false,
		},
		Database: DatabaseConfig{
			Path:               "/data/feedloom.duckdb",
			MaxMemory:          "1GB",
			Threads:            0, // 0 = runtime.NumCPU()
			BreakerMaxFailures: 5,
			BreakerOpenFor:     30 * time.Second,
		},
		ProfileStore: ProfileStoreConfig{
			Path:       "/data/profiles",
			InMemory:   false,
			GCInterval: 10 * time.Minute,
		},
		Personalize: PersonalizeConfig{
			Alpha:         0.3,
			MergeRetries:  3,
			SyncThreshold: 10,
		},
		Ranking: RankingConfig{
			SimilarityWeight: 0.6,
			TrendingWeight:   0.2,
			AffinityWeight:   0.2,
			CategoryDivisor:  4,
		},
		Retrieval: RetrievalConfig{
			DefaultK:        20,
			MaxK:            100,
			Oversample:      4,
			MinSimilarity:   0.1,
			ExcludeWindow:   500,
			Deadline:        200 * time.Millisecond,
			RefreshInterval: 5 * time.Minute,
			CatalogWindow:   90 * 24 * time.Hour,
		},
		FeedCache: FeedCacheConfig{
			TTL:        30 * time.Minute,
			MaxEntries: 10000,
		},
		Trending: TrendingConfig{
			Interval: 5 * time.Minute,
			Lookback: 7 * 24 * time.Hour,
			HalfLife: 24 * time.Hour,
		},
		Ingest: IngestConfig{
			Retention:     30 * 24 * time.Hour,
			RatePerSecond: 200,
			RateBurst:     400,
		},
	}
}

// Validate checks configuration invariants that would otherwise surface as
// confusing runtime behavior.
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port %d out of range", c.Server.Port)
	}
	if c.Personalize.Alpha <= 0 || c.Personalize.Alpha > 1 {
		return fmt.Errorf("personalize.alpha %g must be in (0, 1]", c.Personalize.Alpha)
	}
	if c.Personalize.MergeRetries < 1 {
		return fmt.Errorf("personalize.merge_retries must be >= 1")
	}
	if c.Ranking.SimilarityWeight < 0 || c.Ranking.TrendingWeight < 0 || c.Ranking.AffinityWeight < 0 {
		return fmt.Errorf("ranking weights must be non-negative")
	}
	if c.Ranking.SimilarityWeight+c.Ranking.TrendingWeight+c.Ranking.AffinityWeight == 0 {
		return fmt.Errorf("ranking weights must not all be zero")
	}
	if c.Ranking.CategoryDivisor < 1 {
		return fmt.Errorf("ranking.category_divisor must be >= 1")
	}
	if c.Retrieval.DefaultK < 1 || c.Retrieval.DefaultK > c.Retrieval.MaxK {
		return fmt.Errorf("retrieval.default_k %d must be in [1, max_k=%d]", c.Retrieval.DefaultK, c.Retrieval.MaxK)
	}
	if c.Retrieval.Oversample < 1 {
		return fmt.Errorf("retrieval.oversample must be >= 1")
	}
	if c.Retrieval.MinSimilarity < -1 || c.Retrieval.MinSimilarity > 1 {
		return fmt.Errorf("retrieval.min_similarity %g must be in [-1, 1]", c.Retrieval.MinSimilarity)
	}
	if c.Retrieval.Deadline <= 0 {
		return fmt.Errorf("retrieval.deadline must be positive")
	}
	if c.FeedCache.TTL <= 0 {
		return fmt.Errorf("feed_cache.ttl must be positive")
	}
	if c.Trending.Interval <= 0 || c.Trending.Lookback <= 0 || c.Trending.HalfLife <= 0 {
		return fmt.Errorf("trending interval, lookback and half_life must be positive")
	}
	if c.Ingest.Retention <= 0 {
		return fmt.Errorf("ingest.retention must be positive")
	}
	return nil
}
