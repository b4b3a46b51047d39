// Feedloom - Personalized Content Feed Engine
// Copyright 2026 Feedloom Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/feedloom/feedloom

package catalog

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	_ "github.com/duckdb/duckdb-go/v2"
	"github.com/sony/gobreaker/v2"

	"github.com/feedloom/feedloom/internal/config"
	"github.com/feedloom/feedloom/internal/logging"
	"github.com/feedloom/feedloom/internal/metrics"
	"github.com/feedloom/feedloom/internal/vector"
)

// DuckDB is the production catalog store. Embeddings are stored as
// little-endian float32 blobs alongside item metadata and engagement
// counters. Every read goes through a circuit breaker so a wedged database
// degrades feed generation instead of hanging it.
type DuckDB struct {
	conn    *sql.DB
	breaker *gobreaker.CircuitBreaker[any]
}

var _ Provider = (*DuckDB)(nil)
var _ Writer = (*DuckDB)(nil)

const schema = `
CREATE TABLE IF NOT EXISTS content_items (
	id           VARCHAR PRIMARY KEY,
	embedding    BLOB NOT NULL,
	category     VARCHAR NOT NULL,
	published_at TIMESTAMP NOT NULL,
	views        BIGINT NOT NULL DEFAULT 0,
	likes        BIGINT NOT NULL DEFAULT 0,
	shares       BIGINT NOT NULL DEFAULT 0,
	bookmarks    BIGINT NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS idx_content_published ON content_items (published_at);
`

// OpenDuckDB opens (or creates) the catalog database and initializes the
// schema.
func OpenDuckDB(cfg *config.DatabaseConfig) (*DuckDB, error) {
	threads := cfg.Threads
	if threads <= 0 {
		threads = runtime.NumCPU()
	}

	connStr := cfg.Path
	if cfg.Path != ":memory:" {
		if dir := filepath.Dir(cfg.Path); dir != "" && dir != "." {
			if err := os.MkdirAll(dir, 0o750); err != nil {
				return nil, fmt.Errorf("create database directory %s: %w", dir, err)
			}
		}
		connStr = fmt.Sprintf("%s?access_mode=read_write&threads=%d&max_memory=%s",
			cfg.Path, threads, cfg.MaxMemory)
	}

	conn, err := sql.Open("duckdb", connStr)
	if err != nil {
		return nil, fmt.Errorf("open catalog database: %w", err)
	}
	if _, err := conn.Exec(schema); err != nil {
		conn.Close()
		return nil, fmt.Errorf("initialize catalog schema: %w", err)
	}

	maxFailures := cfg.BreakerMaxFailures
	if maxFailures == 0 {
		maxFailures = 5
	}
	openFor := cfg.BreakerOpenFor
	if openFor <= 0 {
		openFor = 30 * time.Second
	}

	breaker := gobreaker.NewCircuitBreaker[any](gobreaker.Settings{
		Name:    "catalog",
		Timeout: openFor,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= maxFailures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			metrics.CatalogBreakerState.Set(float64(to))
			logging.Warn().
				Str("breaker", name).
				Str("from", from.String()).
				Str("to", to.String()).
				Msg("catalog breaker state change")
		},
	})

	return &DuckDB{conn: conn, breaker: breaker}, nil
}

// Close closes the underlying connection pool.
func (d *DuckDB) Close() error {
	return d.conn.Close()
}

// execute runs fn through the circuit breaker, mapping breaker and driver
// failures to ErrUnavailable so callers see a single retryable error.
func (d *DuckDB) execute(op string, fn func() (any, error)) (any, error) {
	out, err := d.breaker.Execute(fn)
	if err == nil {
		return out, nil
	}
	metrics.CatalogQueryErrors.WithLabelValues(op).Inc()
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return nil, fmt.Errorf("%w: breaker open", ErrUnavailable)
	}
	return nil, fmt.Errorf("%w: %s: %v", ErrUnavailable, op, err)
}

// Upsert inserts or replaces items.
func (d *DuckDB) Upsert(ctx context.Context, items ...Item) error {
	_, err := d.execute("upsert", func() (any, error) {
		tx, err := d.conn.BeginTx(ctx, nil)
		if err != nil {
			return nil, err
		}
		defer tx.Rollback() //nolint:errcheck // rollback after commit is a no-op

		stmt, err := tx.PrepareContext(ctx, `
			INSERT OR REPLACE INTO content_items
			(id, embedding, category, published_at, views, likes, shares, bookmarks)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)`)
		if err != nil {
			return nil, err
		}
		defer stmt.Close()

		for _, it := range items {
			if len(it.Embedding) != vector.Dim {
				return nil, fmt.Errorf("item %s: embedding has %d dimensions, want %d",
					it.ID, len(it.Embedding), vector.Dim)
			}
			if _, err := stmt.ExecContext(ctx,
				it.ID, vector.Marshal(it.Embedding), it.Category, it.PublishedAt.UTC(),
				it.Views, it.Likes, it.Shares, it.Bookmarks); err != nil {
				return nil, fmt.Errorf("upsert item %s: %w", it.ID, err)
			}
		}
		return nil, tx.Commit()
	})
	return err
}

const itemColumns = "id, embedding, category, published_at, views, likes, shares, bookmarks"

// Item returns a single item by id.
func (d *DuckDB) Item(ctx context.Context, id string) (*Item, error) {
	out, err := d.execute("item", func() (any, error) {
		row := d.conn.QueryRowContext(ctx,
			"SELECT "+itemColumns+" FROM content_items WHERE id = ?", id)
		it, err := scanItem(row)
		if errors.Is(err, sql.ErrNoRows) {
			// A miss is an answer, not a failure; it must not count
			// against the breaker.
			return (*Item)(nil), nil
		}
		return it, err
	})
	if err != nil {
		return nil, err
	}
	it := out.(*Item)
	if it == nil {
		return nil, ErrNotFound
	}
	return it, nil
}

// Items returns metadata for the given ids, skipping unknown ones.
func (d *DuckDB) Items(ctx context.Context, ids []string) ([]Item, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	out, err := d.execute("items", func() (any, error) {
		placeholders := strings.TrimSuffix(strings.Repeat("?,", len(ids)), ",")
		args := make([]any, len(ids))
		for i, id := range ids {
			args[i] = id
		}
		rows, err := d.conn.QueryContext(ctx,
			"SELECT "+itemColumns+" FROM content_items WHERE id IN ("+placeholders+")", args...)
		if err != nil {
			return nil, err
		}
		defer rows.Close()
		return collectItems(rows)
	})
	if err != nil {
		return nil, err
	}
	return out.([]Item), nil
}

// ListPublishedSince returns items published at or after the cutoff.
func (d *DuckDB) ListPublishedSince(ctx context.Context, cutoff time.Time) ([]Item, error) {
	out, err := d.execute("list_published_since", func() (any, error) {
		rows, err := d.conn.QueryContext(ctx,
			"SELECT "+itemColumns+" FROM content_items WHERE published_at >= ? ORDER BY published_at",
			cutoff.UTC())
		if err != nil {
			return nil, err
		}
		defer rows.Close()
		return collectItems(rows)
	})
	if err != nil {
		return nil, err
	}
	return out.([]Item), nil
}

// Count returns the total number of items.
func (d *DuckDB) Count(ctx context.Context) (int64, error) {
	out, err := d.execute("count", func() (any, error) {
		var n int64
		err := d.conn.QueryRowContext(ctx, "SELECT COUNT(*) FROM content_items").Scan(&n)
		return n, err
	})
	if err != nil {
		return 0, err
	}
	return out.(int64), nil
}

// rowScanner is satisfied by both *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanItem(row rowScanner) (*Item, error) {
	var it Item
	var blob []byte
	if err := row.Scan(&it.ID, &blob, &it.Category, &it.PublishedAt,
		&it.Views, &it.Likes, &it.Shares, &it.Bookmarks); err != nil {
		return nil, err
	}
	emb, err := vector.Unmarshal(blob)
	if err != nil {
		return nil, fmt.Errorf("item %s: %w", it.ID, err)
	}
	it.Embedding = emb
	it.PublishedAt = it.PublishedAt.UTC()
	return &it, nil
}

func collectItems(rows *sql.Rows) ([]Item, error) {
	var items []Item
	for rows.Next() {
		it, err := scanItem(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, *it)
	}
	return items, rows.Err()
}
