package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/JakeFAU/sitecrawler/internal/store"
)

// ProgressRepo keeps crawl runs and host aggregates in memory.
type ProgressRepo struct {
	mu    sync.RWMutex
	runs  map[uuid.UUID]store.CrawlRun
	hosts map[uuid.UUID]map[string]store.HostStats
}

// NewProgressRepo creates an empty ProgressRepo.
func NewProgressRepo() *ProgressRepo {
	return &ProgressRepo{
		runs:  make(map[uuid.UUID]store.CrawlRun),
		hosts: make(map[uuid.UUID]map[string]store.HostStats),
	}
}

// UpsertCrawlStart records a running crawl unless it is already known.
func (r *ProgressRepo) UpsertCrawlStart(_ context.Context, crawlID uuid.UUID, startedAt time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.runs[crawlID]; ok {
		return nil
	}
	r.runs[crawlID] = store.CrawlRun{CrawlID: crawlID, StartedAt: startedAt, Status: store.RunRunning}
	return nil
}

// CompleteCrawl marks a crawl finished, creating it if the start was missed.
func (r *ProgressRepo) CompleteCrawl(
	_ context.Context,
	crawlID uuid.UUID,
	finishedAt time.Time,
	status store.CrawlStatus,
	errMsg *string,
) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	run, ok := r.runs[crawlID]
	if !ok {
		run = store.CrawlRun{CrawlID: crawlID, StartedAt: finishedAt}
	}
	run.FinishedAt = &finishedAt
	run.Status = status
	if errMsg != nil {
		msg := *errMsg
		run.ErrorMessage = &msg
	}
	r.runs[crawlID] = run
	return nil
}

// UpsertHostStats adds delta to the stored aggregate.
func (r *ProgressRepo) UpsertHostStats(_ context.Context, delta store.HostStats) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	byHost, ok := r.hosts[delta.CrawlID]
	if !ok {
		byHost = make(map[string]store.HostStats)
		r.hosts[delta.CrawlID] = byHost
	}
	cur := byHost[delta.Host]
	cur.CrawlID = delta.CrawlID
	cur.Host = delta.Host
	cur.Fetches += delta.Fetches
	cur.BytesTotal += delta.BytesTotal
	cur.Fetch2xx += delta.Fetch2xx
	cur.Fetch3xx += delta.Fetch3xx
	cur.Fetch4xx += delta.Fetch4xx
	cur.Fetch5xx += delta.Fetch5xx
	cur.Failures += delta.Failures
	if delta.LastUpdate.After(cur.LastUpdate) {
		cur.LastUpdate = delta.LastUpdate
	}
	byHost[delta.Host] = cur
	return nil
}

// GetCrawl returns the run or store.ErrNotFound.
func (r *ProgressRepo) GetCrawl(_ context.Context, crawlID uuid.UUID) (store.CrawlRun, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	run, ok := r.runs[crawlID]
	if !ok {
		return store.CrawlRun{}, store.ErrNotFound
	}
	return run, nil
}

// ListCrawls returns runs newest first.
func (r *ProgressRepo) ListCrawls(_ context.Context, status *store.CrawlStatus, limit, offset int) ([]store.CrawlRun, error) {
	r.mu.RLock()
	runs := make([]store.CrawlRun, 0, len(r.runs))
	for _, run := range r.runs {
		if status != nil && run.Status != *status {
			continue
		}
		runs = append(runs, run)
	}
	r.mu.RUnlock()

	sort.Slice(runs, func(i, j int) bool {
		return runs[i].StartedAt.After(runs[j].StartedAt)
	})
	return page(runs, limit, offset), nil
}

// ListCrawlHosts returns host aggregates, most recently updated first.
func (r *ProgressRepo) ListCrawlHosts(_ context.Context, crawlID uuid.UUID, limit, offset int) ([]store.HostStats, error) {
	r.mu.RLock()
	stats := make([]store.HostStats, 0, len(r.hosts[crawlID]))
	for _, s := range r.hosts[crawlID] {
		stats = append(stats, s)
	}
	r.mu.RUnlock()

	sort.Slice(stats, func(i, j int) bool {
		if stats[i].LastUpdate.Equal(stats[j].LastUpdate) {
			return stats[i].Host < stats[j].Host
		}
		return stats[i].LastUpdate.After(stats[j].LastUpdate)
	})
	return page(stats, limit, offset), nil
}

func page[T any](items []T, limit, offset int) []T {
	if offset >= len(items) {
		return []T{}
	}
	items = items[offset:]
	if limit > 0 && limit < len(items) {
		items = items[:limit]
	}
	return items
}
