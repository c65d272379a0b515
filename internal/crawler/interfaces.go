package crawler

import (
	"context"
	"io"
	"time"
)

// Fetcher performs a single fetch attempt for a URL.
type Fetcher interface {
	Fetch(ctx context.Context, request FetchRequest) (FetchResponse, error)
}

// FetcherFunc adapts a function to the Fetcher interface.
type FetcherFunc func(ctx context.Context, request FetchRequest) (FetchResponse, error)

// Fetch calls f.
func (f FetcherFunc) Fetch(ctx context.Context, request FetchRequest) (FetchResponse, error) {
	return f(ctx, request)
}

// SiteStore persists normalized site records keyed by URL.
type SiteStore interface {
	ExistsByURL(ctx context.Context, url string) (bool, error)
	UpsertByURL(ctx context.Context, record SiteRecord) error
}

// BlobStore writes raw page bodies and returns a URI.
type BlobStore interface {
	PutObject(ctx context.Context, path string, contentType string, body io.Reader) (string, error)
}

// Publisher pushes crawl summaries to Pub/Sub (or similar).
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// Notifier delivers the per-batch user-facing notice.
type Notifier interface {
	Notify(ctx context.Context, notice Notice)
}

// RetryPolicy decides whether and when a failed attempt is retried.
type RetryPolicy interface {
	// ShouldRetry reports whether another attempt should follow the given
	// 1-based attempt that failed with err after elapsed total time.
	ShouldRetry(err error, attempt int, elapsed time.Duration) bool
	Backoff(attempt int) time.Duration
	MaxAttempts() int
}

// Pauser blocks for a delay or until ctx is done.
type Pauser interface {
	Pause(ctx context.Context, delay time.Duration)
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces crawl IDs.
type IDGenerator interface {
	NewID() (string, error)
}
