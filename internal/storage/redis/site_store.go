// Package redis persists site records as Redis hashes, one per URL.
package redis

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/JakeFAU/sitecrawler/internal/crawler"
)

const defaultKeyPrefix = "site:"

// Config describes the Redis connection.
type Config struct {
	Addr      string
	Password  string
	DB        int
	KeyPrefix string
}

// SiteStore reads and upserts site hashes.
type SiteStore struct {
	client redis.UniversalClient
	prefix string
}

// NewSiteStore dials Redis and verifies the connection with PING.
func NewSiteStore(ctx context.Context, cfg Config) (*SiteStore, error) {
	if cfg.Addr == "" {
		return nil, errors.New("storage.redis.addr is required")
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return NewSiteStoreWithClient(client, cfg.KeyPrefix), nil
}

// NewSiteStoreWithClient wraps an existing client.
func NewSiteStoreWithClient(client redis.UniversalClient, prefix string) *SiteStore {
	if prefix == "" {
		prefix = defaultKeyPrefix
	}
	return &SiteStore{client: client, prefix: prefix}
}

// Close releases the client.
func (s *SiteStore) Close() error {
	return s.client.Close()
}

// Ping checks the connection.
func (s *SiteStore) Ping(ctx context.Context) error {
	if err := s.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("ping redis: %w", err)
	}
	return nil
}

// Key returns the hash key holding url's record.
func (s *SiteStore) Key(url string) string {
	sum := sha256.Sum256([]byte(url))
	return s.prefix + hex.EncodeToString(sum[:])
}

// ExistsByURL reports whether a hash for url exists.
func (s *SiteStore) ExistsByURL(ctx context.Context, url string) (bool, error) {
	n, err := s.client.Exists(ctx, s.Key(url)).Result()
	if err != nil {
		return false, fmt.Errorf("lookup site %s: %w", url, err)
	}
	return n == 1, nil
}

// UpsertByURL writes record in a MULTI/EXEC transaction. The title is only
// set when the hash is new; the remaining fields are always refreshed.
func (s *SiteStore) UpsertByURL(ctx context.Context, record crawler.SiteRecord) error {
	if record.URL == "" {
		return errors.New("site record url is required")
	}
	key := s.Key(record.URL)
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSetNX(ctx, key, "title", record.Title)
		pipe.HSet(ctx, key,
			"url", record.URL,
			"owner_id", record.Owner.ID,
			"owner_username", record.Owner.Username,
			"scrapping_time", record.ElapsedMillis,
			"created_at", record.FetchedAt.UTC().Format(time.RFC3339Nano),
			"content_hash", record.ContentHash,
		)
		return nil
	})
	if err != nil {
		return fmt.Errorf("upsert site %s: %w", record.URL, err)
	}
	return nil
}

// Get loads the record stored for url.
func (s *SiteStore) Get(ctx context.Context, url string) (crawler.SiteRecord, bool, error) {
	fields, err := s.client.HGetAll(ctx, s.Key(url)).Result()
	if err != nil {
		return crawler.SiteRecord{}, false, fmt.Errorf("load site %s: %w", url, err)
	}
	if len(fields) == 0 {
		return crawler.SiteRecord{}, false, nil
	}
	rec, err := decodeRecord(fields)
	if err != nil {
		return crawler.SiteRecord{}, false, fmt.Errorf("decode site %s: %w", url, err)
	}
	return rec, true, nil
}

func decodeRecord(fields map[string]string) (crawler.SiteRecord, error) {
	rec := crawler.SiteRecord{
		URL:         fields["url"],
		Title:       fields["title"],
		ContentHash: fields["content_hash"],
	}
	rec.Owner.Username = fields["owner_username"]
	var err error
	if v := fields["owner_id"]; v != "" {
		if rec.Owner.ID, err = strconv.ParseInt(v, 10, 64); err != nil {
			return rec, fmt.Errorf("owner_id: %w", err)
		}
	}
	if v := fields["scrapping_time"]; v != "" {
		if rec.ElapsedMillis, err = strconv.ParseInt(v, 10, 64); err != nil {
			return rec, fmt.Errorf("scrapping_time: %w", err)
		}
	}
	if v := fields["created_at"]; v != "" {
		if rec.FetchedAt, err = time.Parse(time.RFC3339Nano, v); err != nil {
			return rec, fmt.Errorf("created_at: %w", err)
		}
	}
	return rec, nil
}
