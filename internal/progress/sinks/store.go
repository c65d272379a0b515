package sinks

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/JakeFAU/sitecrawler/internal/progress"
	"github.com/JakeFAU/sitecrawler/internal/store"
)

// StoreSink persists crawl lifecycle and per-host fetch aggregates via a
// store.ProgressRepository. Fetch events are collapsed per (crawl, host)
// before each write.
type StoreSink struct {
	repo   store.ProgressRepository
	logger *zap.Logger
}

// NewStoreSink constructs a StoreSink for the provided repository.
func NewStoreSink(repo store.ProgressRepository, logger *zap.Logger) *StoreSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &StoreSink{repo: repo, logger: logger}
}

// Consume applies the batch to the repository and returns the first error.
func (s *StoreSink) Consume(ctx context.Context, batch []progress.Event) error {
	if s == nil || s.repo == nil {
		return nil
	}
	deltas := make(map[hostKey]*store.HostStats)
	var order []hostKey

	for _, evt := range batch {
		crawlID := evt.CrawlUUID()
		switch evt.Stage {
		case progress.StageCrawlStart:
			if err := s.repo.UpsertCrawlStart(ctx, crawlID, evt.TS); err != nil {
				return fmt.Errorf("upsert crawl start: %w", err)
			}
		case progress.StageCrawlDone:
			if err := s.repo.CompleteCrawl(ctx, crawlID, evt.TS, store.RunSuccess, nil); err != nil {
				return fmt.Errorf("complete crawl: %w", err)
			}
		case progress.StageCrawlError:
			var note *string
			if evt.Note != "" {
				note = &evt.Note
			}
			if err := s.repo.CompleteCrawl(ctx, crawlID, evt.TS, store.RunError, note); err != nil {
				return fmt.Errorf("complete crawl: %w", err)
			}
		case progress.StageFetchDone:
			if evt.Host == "" {
				continue
			}
			key := hostKey{crawlID: crawlID, host: evt.Host}
			delta, ok := deltas[key]
			if !ok {
				delta = &store.HostStats{CrawlID: crawlID, Host: evt.Host}
				deltas[key] = delta
				order = append(order, key)
			}
			addFetch(delta, evt)
		}
	}

	for _, key := range order {
		if err := s.repo.UpsertHostStats(ctx, *deltas[key]); err != nil {
			return fmt.Errorf("upsert host stats: %w", err)
		}
	}
	return nil
}

func addFetch(delta *store.HostStats, evt progress.Event) {
	delta.Fetches++
	delta.BytesTotal += evt.Bytes
	switch evt.StatusClass {
	case progress.Status2xx:
		delta.Fetch2xx++
	case progress.Status3xx:
		delta.Fetch3xx++
	case progress.Status4xx:
		delta.Fetch4xx++
	case progress.Status5xx:
		delta.Fetch5xx++
	default:
		delta.Failures++
	}
	if evt.TS.After(delta.LastUpdate) {
		delta.LastUpdate = evt.TS
	}
}

// Close implements the Sink interface; it performs no action.
func (s *StoreSink) Close(context.Context) error {
	return nil
}

type hostKey struct {
	crawlID uuid.UUID
	host    string
}
