package memory

import (
	"context"
	"errors"
	"sort"
	"sync"

	"github.com/JakeFAU/sitecrawler/internal/crawler"
)

// SiteStore is a mutex-guarded map of site records keyed by URL.
type SiteStore struct {
	mu    sync.RWMutex
	sites map[string]crawler.SiteRecord
}

// NewSiteStore constructs an empty SiteStore.
func NewSiteStore() *SiteStore {
	return &SiteStore{sites: make(map[string]crawler.SiteRecord)}
}

// ExistsByURL reports whether url has a stored record.
func (s *SiteStore) ExistsByURL(_ context.Context, url string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.sites[url]
	return ok, nil
}

// UpsertByURL inserts record or, when its URL exists, refreshes the owner,
// elapsed time, and fetch time while keeping the stored title.
func (s *SiteStore) UpsertByURL(_ context.Context, record crawler.SiteRecord) error {
	if record.URL == "" {
		return errors.New("site record url is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	existing, ok := s.sites[record.URL]
	if !ok {
		s.sites[record.URL] = record
		return nil
	}
	existing.Owner = record.Owner
	existing.ElapsedMillis = record.ElapsedMillis
	existing.FetchedAt = record.FetchedAt
	existing.ContentHash = record.ContentHash
	s.sites[record.URL] = existing
	return nil
}

// Get returns the record stored for url.
func (s *SiteStore) Get(url string) (crawler.SiteRecord, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	record, ok := s.sites[url]
	return record, ok
}

// List returns every record ordered by URL.
func (s *SiteStore) List() []crawler.SiteRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]crawler.SiteRecord, 0, len(s.sites))
	for _, record := range s.sites {
		out = append(out, record)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].URL < out[j].URL })
	return out
}
