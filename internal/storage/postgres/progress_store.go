package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/JakeFAU/sitecrawler/internal/store"
)

// ProgressStore implements store.ProgressRepository over the crawl_runs and
// host_stats tables.
type ProgressStore struct {
	pool pool
}

// NewProgressStore connects a pool using cfg.
func NewProgressStore(ctx context.Context, cfg Config) (*ProgressStore, error) {
	if cfg.DSN == "" {
		return nil, errors.New("storage.postgres.dsn is required")
	}
	p, err := connect(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return &ProgressStore{pool: p}, nil
}

// NewProgressStoreWithPool wraps an existing pool (primarily for testing).
func NewProgressStoreWithPool(p pool) (*ProgressStore, error) {
	if p == nil {
		return nil, errors.New("pool is required")
	}
	return &ProgressStore{pool: p}, nil
}

// Close closes the underlying connection pool.
func (s *ProgressStore) Close() {
	s.pool.Close()
}

// EnsureSchema creates the progress tables when they do not exist.
func (s *ProgressStore) EnsureSchema(ctx context.Context) error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS crawl_runs (
			crawl_id      UUID PRIMARY KEY,
			started_at    TIMESTAMPTZ NOT NULL,
			finished_at   TIMESTAMPTZ,
			status        TEXT NOT NULL,
			error_message TEXT
		)`,
		`CREATE TABLE IF NOT EXISTS host_stats (
			crawl_id    UUID        NOT NULL,
			host        TEXT        NOT NULL,
			last_update TIMESTAMPTZ NOT NULL,
			fetches     BIGINT      NOT NULL DEFAULT 0,
			bytes_total BIGINT      NOT NULL DEFAULT 0,
			fetch_2xx   BIGINT      NOT NULL DEFAULT 0,
			fetch_3xx   BIGINT      NOT NULL DEFAULT 0,
			fetch_4xx   BIGINT      NOT NULL DEFAULT 0,
			fetch_5xx   BIGINT      NOT NULL DEFAULT 0,
			failures    BIGINT      NOT NULL DEFAULT 0,
			PRIMARY KEY (crawl_id, host)
		)`,
	}
	for _, stmt := range statements {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("create progress tables: %w", err)
		}
	}
	return nil
}

// UpsertCrawlStart inserts a running crawl; an existing row is left alone.
func (s *ProgressStore) UpsertCrawlStart(ctx context.Context, crawlID uuid.UUID, startedAt time.Time) error {
	query := `
		INSERT INTO crawl_runs (crawl_id, started_at, status)
		VALUES ($1, $2, $3)
		ON CONFLICT (crawl_id) DO NOTHING`
	if _, err := s.pool.Exec(ctx, query, crawlID, startedAt, store.RunRunning); err != nil {
		return fmt.Errorf("upsert crawl start: %w", err)
	}
	return nil
}

// CompleteCrawl marks a crawl finished with a status and optional error message.
func (s *ProgressStore) CompleteCrawl(
	ctx context.Context,
	crawlID uuid.UUID,
	finishedAt time.Time,
	status store.CrawlStatus,
	errMsg *string,
) error {
	query := `
		INSERT INTO crawl_runs (crawl_id, started_at, finished_at, status, error_message)
		VALUES ($1, $2, $2, $3, $4)
		ON CONFLICT (crawl_id) DO UPDATE
		SET finished_at = EXCLUDED.finished_at,
			status = EXCLUDED.status,
			error_message = EXCLUDED.error_message`
	if _, err := s.pool.Exec(ctx, query, crawlID, finishedAt, status, errMsg); err != nil {
		return fmt.Errorf("complete crawl: %w", err)
	}
	return nil
}

// UpsertHostStats adds delta to the (crawl, host) row.
func (s *ProgressStore) UpsertHostStats(ctx context.Context, delta store.HostStats) error {
	query := `
		INSERT INTO host_stats (crawl_id, host, last_update, fetches, bytes_total,
			fetch_2xx, fetch_3xx, fetch_4xx, fetch_5xx, failures)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (crawl_id, host) DO UPDATE
		SET last_update = GREATEST(host_stats.last_update, EXCLUDED.last_update),
			fetches = host_stats.fetches + EXCLUDED.fetches,
			bytes_total = host_stats.bytes_total + EXCLUDED.bytes_total,
			fetch_2xx = host_stats.fetch_2xx + EXCLUDED.fetch_2xx,
			fetch_3xx = host_stats.fetch_3xx + EXCLUDED.fetch_3xx,
			fetch_4xx = host_stats.fetch_4xx + EXCLUDED.fetch_4xx,
			fetch_5xx = host_stats.fetch_5xx + EXCLUDED.fetch_5xx,
			failures = host_stats.failures + EXCLUDED.failures`
	_, err := s.pool.Exec(ctx, query,
		delta.CrawlID,
		delta.Host,
		delta.LastUpdate,
		delta.Fetches,
		delta.BytesTotal,
		delta.Fetch2xx,
		delta.Fetch3xx,
		delta.Fetch4xx,
		delta.Fetch5xx,
		delta.Failures,
	)
	if err != nil {
		return fmt.Errorf("upsert host stats: %w", err)
	}
	return nil
}

// GetCrawl retrieves a single crawl run by its ID.
func (s *ProgressStore) GetCrawl(ctx context.Context, crawlID uuid.UUID) (store.CrawlRun, error) {
	query := `
		SELECT crawl_id, started_at, finished_at, status, error_message
		FROM crawl_runs
		WHERE crawl_id = $1`
	var run store.CrawlRun
	err := s.pool.QueryRow(ctx, query, crawlID).Scan(
		&run.CrawlID,
		&run.StartedAt,
		&run.FinishedAt,
		&run.Status,
		&run.ErrorMessage,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return store.CrawlRun{}, store.ErrNotFound
		}
		return store.CrawlRun{}, fmt.Errorf("get crawl: %w", err)
	}
	return run, nil
}

// ListCrawls retrieves crawl runs, newest first, with optional status filtering.
func (s *ProgressStore) ListCrawls(
	ctx context.Context,
	status *store.CrawlStatus,
	limit,
	offset int,
) ([]store.CrawlRun, error) {
	query := `
		SELECT crawl_id, started_at, finished_at, status, error_message
		FROM crawl_runs
		WHERE ($1::text IS NULL OR status = $1)
		ORDER BY started_at DESC
		LIMIT $2 OFFSET $3`
	var filter *string
	if status != nil {
		v := string(*status)
		filter = &v
	}
	rows, err := s.pool.Query(ctx, query, filter, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list crawls: %w", err)
	}
	defer rows.Close()

	runs := []store.CrawlRun{}
	for rows.Next() {
		var run store.CrawlRun
		if err := rows.Scan(&run.CrawlID, &run.StartedAt, &run.FinishedAt, &run.Status, &run.ErrorMessage); err != nil {
			return nil, fmt.Errorf("scan crawl row: %w", err)
		}
		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate crawl rows: %w", err)
	}
	return runs, nil
}

// ListCrawlHosts retrieves the host aggregates for one crawl.
func (s *ProgressStore) ListCrawlHosts(
	ctx context.Context,
	crawlID uuid.UUID,
	limit,
	offset int,
) ([]store.HostStats, error) {
	query := `
		SELECT crawl_id, host, last_update, fetches, bytes_total,
			fetch_2xx, fetch_3xx, fetch_4xx, fetch_5xx, failures
		FROM host_stats
		WHERE crawl_id = $1
		ORDER BY last_update DESC, host
		LIMIT $2 OFFSET $3`
	rows, err := s.pool.Query(ctx, query, crawlID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list crawl hosts: %w", err)
	}
	defer rows.Close()

	stats := []store.HostStats{}
	for rows.Next() {
		var stat store.HostStats
		err := rows.Scan(
			&stat.CrawlID,
			&stat.Host,
			&stat.LastUpdate,
			&stat.Fetches,
			&stat.BytesTotal,
			&stat.Fetch2xx,
			&stat.Fetch3xx,
			&stat.Fetch4xx,
			&stat.Fetch5xx,
			&stat.Failures,
		)
		if err != nil {
			return nil, fmt.Errorf("scan host stats row: %w", err)
		}
		stats = append(stats, stat)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate host stats rows: %w", err)
	}
	return stats, nil
}
