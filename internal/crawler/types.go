package crawler

import (
	"net/http"
	"time"
)

// UnknownTitle is stored when a page has no usable <title> element.
const UnknownTitle = "Unknown title"

// Owner identifies the user a crawl runs on behalf of.
type Owner struct {
	ID       int64  `json:"id"`
	Username string `json:"username"`
}

// FetchRequest captures everything needed to fetch a URL once.
type FetchRequest struct {
	URL     string
	Headers http.Header
	Timeout time.Duration
}

// FetchResponse is the result returned by a Fetcher implementation.
type FetchResponse struct {
	URL        string
	StatusCode int
	Headers    http.Header
	Body       []byte
	// Elapsed spans request start to body-read completion.
	Elapsed time.Duration
}

// FetchSuccess is the successful arm of a FetchOutcome.
type FetchSuccess struct {
	URL        string
	StatusCode int
	Body       []byte
	Elapsed    time.Duration
	Attempts   int
}

// FetchFailure is the failed arm of a FetchOutcome.
type FetchFailure struct {
	URL        string
	Kind       FailureKind
	StatusCode int
	Err        error
	Attempts   int
}

// FetchOutcome is the result of fetching one target. Exactly one of Success
// or Failure is set.
type FetchOutcome struct {
	Success *FetchSuccess
	Failure *FetchFailure
}

// URL returns the target URL regardless of which arm is set.
func (o FetchOutcome) URL() string {
	switch {
	case o.Success != nil:
		return o.Success.URL
	case o.Failure != nil:
		return o.Failure.URL
	default:
		return ""
	}
}

// Succeeded reports whether the outcome carries a Success.
func (o FetchOutcome) Succeeded() bool {
	return o.Success != nil
}

// SiteRecord is the normalized, storable representation of a fetched page.
type SiteRecord struct {
	URL           string    `json:"url"`
	Title         string    `json:"title"`
	ElapsedMillis int64     `json:"scrapping_time"`
	FetchedAt     time.Time `json:"created_at"`
	Owner         Owner     `json:"owner"`
	ContentHash   string    `json:"content_hash,omitempty"`
}

// CrawlSummary is surfaced to callers once a batch completes.
type CrawlSummary struct {
	CrawlID        string              `json:"crawl_id"`
	Owner          Owner               `json:"owner"`
	Targets        int                 `json:"targets"`
	SuccessCount   int                 `json:"success_count"`
	TotalFailures  int                 `json:"total_failures"`
	FailuresByKind map[FailureKind]int `json:"failures_by_kind"`
	Inserted       int                 `json:"inserted"`
	Updated        int                 `json:"updated"`
	CommitFailures int                 `json:"commit_failures"`
	StartedAt      time.Time           `json:"started_at"`
	FinishedAt     time.Time           `json:"finished_at"`
}

// RecordFailure tallies one failed target.
func (s *CrawlSummary) RecordFailure(kind FailureKind) {
	if s.FailuresByKind == nil {
		s.FailuresByKind = make(map[FailureKind]int)
	}
	s.FailuresByKind[kind]++
	s.TotalFailures++
}

// Notice is a single user-facing message emitted per crawl batch.
type Notice struct {
	Category string `json:"category"`
	Message  string `json:"message"`
}
