package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

// ErrNotFound signals that the requested record does not exist.
var ErrNotFound = errors.New("progress record not found")

// CrawlStatus mirrors the crawl_runs status column.
type CrawlStatus string

// Crawl run statuses.
const (
	RunRunning CrawlStatus = "running"
	RunSuccess CrawlStatus = "success"
	RunError   CrawlStatus = "error"
)

// CrawlRun is one crawl batch as seen by the progress pipeline.
type CrawlRun struct {
	CrawlID    uuid.UUID
	StartedAt  time.Time
	FinishedAt *time.Time
	Status     CrawlStatus
	// ErrorMessage is set when the batch was interrupted.
	ErrorMessage *string
}

// HostStats aggregates fetch outcomes for one host within a crawl. When
// passed to UpsertHostStats the counters are deltas.
type HostStats struct {
	CrawlID    uuid.UUID
	Host       string
	LastUpdate time.Time
	Fetches    int64
	BytesTotal int64
	Fetch2xx   int64
	Fetch3xx   int64
	Fetch4xx   int64
	Fetch5xx   int64
	// Failures counts targets that never produced a response.
	Failures int64
}

// ProgressRepository persists incremental crawl progress.
type ProgressRepository interface {
	// UpsertCrawlStart records a running crawl; repeating it is harmless.
	UpsertCrawlStart(ctx context.Context, crawlID uuid.UUID, startedAt time.Time) error
	// CompleteCrawl marks the run finished with status and an optional error.
	CompleteCrawl(ctx context.Context, crawlID uuid.UUID, finishedAt time.Time, status CrawlStatus, errMsg *string) error
	// UpsertHostStats adds delta to the (crawl, host) aggregate.
	UpsertHostStats(ctx context.Context, delta HostStats) error

	// GetCrawl loads a single run or returns ErrNotFound.
	GetCrawl(ctx context.Context, crawlID uuid.UUID) (CrawlRun, error)
	// ListCrawls returns runs, newest first, filtered by an optional status.
	ListCrawls(ctx context.Context, status *CrawlStatus, limit, offset int) ([]CrawlRun, error)
	// ListCrawlHosts returns the host aggregates of one crawl.
	ListCrawlHosts(ctx context.Context, crawlID uuid.UUID, limit, offset int) ([]HostStats, error)
}
