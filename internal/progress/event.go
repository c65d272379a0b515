package progress

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Stage denotes the milestone represented by an Event.
type Stage string

// Supported progress stages.
const (
	StageCrawlStart Stage = "CRAWL_START"
	StageCrawlDone  Stage = "CRAWL_DONE"
	StageCrawlError Stage = "CRAWL_ERROR"
	StageFetchRetry Stage = "FETCH_RETRY"
	StageFetchDone  Stage = "FETCH_DONE"
)

// StatusClass is a coarse HTTP response grouping.
type StatusClass string

// Status classes tracked for fetch completions. StatusNone marks fetches that
// never produced a response.
const (
	Status2xx   StatusClass = "2xx"
	Status3xx   StatusClass = "3xx"
	Status4xx   StatusClass = "4xx"
	Status5xx   StatusClass = "5xx"
	StatusNone  StatusClass = "none"
	StatusOther StatusClass = "other"
)

// Event captures a single crawl milestone.
type Event struct {
	// CrawlID identifies the batch using the 16-byte UUID form.
	CrawlID [16]byte
	TS      time.Time
	Stage   Stage
	// Host scopes fetch events to a site label.
	Host        string
	URL         string
	Bytes       int64
	StatusClass StatusClass
	// Kind is the failure kind for failed fetches, empty on success.
	Kind     string
	Attempts int
	Dur      time.Duration
	Note     string
}

// Validate performs coarse validation on Event payloads.
func (e Event) Validate() error {
	if e.CrawlID == [16]byte{} {
		return errors.New("crawl id is required")
	}
	if e.TS.IsZero() {
		return errors.New("timestamp is required")
	}
	switch e.Stage {
	case StageCrawlStart, StageCrawlDone, StageCrawlError:
	case StageFetchRetry:
		if e.URL == "" {
			return errors.New("fetch retry requires url")
		}
	case StageFetchDone:
		if e.URL == "" {
			return errors.New("fetch done requires url")
		}
		if e.StatusClass == "" {
			return errors.New("fetch done requires status class")
		}
	default:
		return fmt.Errorf("unknown stage %q", e.Stage)
	}
	if e.Dur < 0 {
		return errors.New("duration must be >= 0")
	}
	return nil
}

// CrawlUUID converts the binary crawl ID to uuid.UUID.
func (e Event) CrawlUUID() uuid.UUID {
	return uuid.UUID(e.CrawlID)
}

// ParseCrawlID decodes a textual crawl ID into the Event form. Unparseable
// IDs yield the zero value, which Validate rejects.
func ParseCrawlID(id string) [16]byte {
	parsed, err := uuid.Parse(id)
	if err != nil {
		return [16]byte{}
	}
	return [16]byte(parsed)
}

// ClassifyStatus groups HTTP status codes for fetch events.
func ClassifyStatus(code int) StatusClass {
	switch {
	case code == 0:
		return StatusNone
	case code >= 200 && code < 300:
		return Status2xx
	case code >= 300 && code < 400:
		return Status3xx
	case code >= 400 && code < 500:
		return Status4xx
	case code >= 500 && code < 600:
		return Status5xx
	default:
		return StatusOther
	}
}

type crawlIDKey struct{}

// WithCrawlID scopes ctx to a crawl so components deep in the call chain can
// label their events.
func WithCrawlID(ctx context.Context, id [16]byte) context.Context {
	return context.WithValue(ctx, crawlIDKey{}, id)
}

// CrawlIDFrom returns the crawl ID carried by ctx, or the zero value.
func CrawlIDFrom(ctx context.Context) [16]byte {
	id, _ := ctx.Value(crawlIDKey{}).([16]byte)
	return id
}
