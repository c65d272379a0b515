// Package postgres persists site records in Postgres.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/JakeFAU/sitecrawler/internal/crawler"
)

const defaultTable = "sites"

var validTableName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// Config controls the Postgres connection pool.
type Config struct {
	DSN             string
	Table           string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

type pool interface {
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
	Query(context.Context, string, ...any) (pgx.Rows, error)
	QueryRow(context.Context, string, ...any) pgx.Row
	Ping(context.Context) error
	Close()
}

// SiteStore reads and upserts site rows keyed by their unique url column.
type SiteStore struct {
	pool  pool
	table string
}

// NewSiteStore connects a pool using cfg.
func NewSiteStore(ctx context.Context, cfg Config) (*SiteStore, error) {
	if cfg.DSN == "" {
		return nil, errors.New("storage.postgres.dsn is required")
	}
	table, err := tableName(cfg.Table)
	if err != nil {
		return nil, err
	}
	p, err := connect(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return &SiteStore{pool: p, table: table}, nil
}

func connect(ctx context.Context, cfg Config) (*pgxpool.Pool, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	p, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return p, nil
}

// NewSiteStoreWithPool wraps an existing pool (primarily for testing).
func NewSiteStoreWithPool(p pool, table string) (*SiteStore, error) {
	if p == nil {
		return nil, errors.New("pool is required")
	}
	name, err := tableName(table)
	if err != nil {
		return nil, err
	}
	return &SiteStore{pool: p, table: name}, nil
}

func tableName(table string) (string, error) {
	if table == "" {
		table = defaultTable
	}
	if !validTableName.MatchString(table) {
		return "", fmt.Errorf("invalid table name %q", table)
	}
	return table, nil
}

// Close releases the pool.
func (s *SiteStore) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// Ping checks that the database is reachable.
func (s *SiteStore) Ping(ctx context.Context) error {
	if err := s.pool.Ping(ctx); err != nil {
		return fmt.Errorf("ping postgres: %w", err)
	}
	return nil
}

// EnsureSchema creates the sites table when it does not exist.
func (s *SiteStore) EnsureSchema(ctx context.Context) error {
	query := fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %s (
	id             BIGSERIAL PRIMARY KEY,
	url            TEXT        NOT NULL UNIQUE,
	title          TEXT        NOT NULL,
	owner_id       BIGINT      NOT NULL,
	owner_username TEXT        NOT NULL DEFAULT '',
	scrapping_time BIGINT      NOT NULL,
	created_at     TIMESTAMPTZ NOT NULL,
	content_hash   TEXT        NOT NULL DEFAULT ''
)`, s.table)
	if _, err := s.pool.Exec(ctx, query); err != nil {
		return fmt.Errorf("create %s table: %w", s.table, err)
	}
	return nil
}

// ExistsByURL reports whether a row for url exists.
func (s *SiteStore) ExistsByURL(ctx context.Context, url string) (bool, error) {
	query := fmt.Sprintf(`SELECT EXISTS (SELECT 1 FROM %s WHERE url = $1)`, s.table)
	var exists bool
	if err := s.pool.QueryRow(ctx, query, url).Scan(&exists); err != nil {
		return false, fmt.Errorf("lookup site %s: %w", url, err)
	}
	return exists, nil
}

// UpsertByURL inserts record or refreshes owner, elapsed time, fetch time,
// and content hash of the existing row. The stored title is kept.
func (s *SiteStore) UpsertByURL(ctx context.Context, record crawler.SiteRecord) error {
	if record.URL == "" {
		return errors.New("site record url is required")
	}
	query := fmt.Sprintf(`
INSERT INTO %s (
	url,
	title,
	owner_id,
	owner_username,
	scrapping_time,
	created_at,
	content_hash
) VALUES (
	$1,$2,$3,$4,$5,$6,$7
)
ON CONFLICT (url) DO UPDATE SET
	owner_id = EXCLUDED.owner_id,
	owner_username = EXCLUDED.owner_username,
	scrapping_time = EXCLUDED.scrapping_time,
	created_at = EXCLUDED.created_at,
	content_hash = EXCLUDED.content_hash`, s.table)

	args := []any{
		record.URL,
		record.Title,
		record.Owner.ID,
		record.Owner.Username,
		record.ElapsedMillis,
		record.FetchedAt.UTC(),
		record.ContentHash,
	}
	if _, err := s.pool.Exec(ctx, query, args...); err != nil {
		return fmt.Errorf("upsert site %s: %w", record.URL, err)
	}
	return nil
}
