package sinks

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/sitecrawler/internal/progress"
	"github.com/JakeFAU/sitecrawler/internal/storage/memory"
	"github.com/JakeFAU/sitecrawler/internal/store"
)

// TestStoreSinkPersistsEvents ensures fetches are collapsed per host before persisting.
func TestStoreSinkPersistsEvents(t *testing.T) {
	t.Parallel()

	repo := memory.NewProgressRepo()
	sink := NewStoreSink(repo, nil)
	crawlUUID := uuid.New()
	crawlID := [16]byte(crawlUUID)
	now := time.Unix(1700000000, 0).UTC()

	batch := []progress.Event{
		{CrawlID: crawlID, Stage: progress.StageCrawlStart, TS: now},
		{CrawlID: crawlID, Stage: progress.StageFetchDone, Host: "a.test", Bytes: 100, StatusClass: progress.Status2xx, TS: now.Add(time.Second)},
		{CrawlID: crawlID, Stage: progress.StageFetchDone, Host: "a.test", Bytes: 50, StatusClass: progress.Status4xx, TS: now.Add(2 * time.Second)},
		{CrawlID: crawlID, Stage: progress.StageFetchDone, Host: "b.test", StatusClass: progress.StatusNone, Kind: "timeout_error", TS: now.Add(time.Second)},
		{CrawlID: crawlID, Stage: progress.StageCrawlDone, TS: now.Add(3 * time.Second), Dur: 3 * time.Second},
	}

	require.NoError(t, sink.Consume(context.Background(), batch))

	run, err := repo.GetCrawl(context.Background(), crawlUUID)
	require.NoError(t, err)
	require.Equal(t, store.RunSuccess, run.Status)
	require.Equal(t, now, run.StartedAt)

	hosts, err := repo.ListCrawlHosts(context.Background(), crawlUUID, 10, 0)
	require.NoError(t, err)
	require.Len(t, hosts, 2)
	require.Equal(t, "a.test", hosts[0].Host)
	require.EqualValues(t, 2, hosts[0].Fetches)
	require.EqualValues(t, 150, hosts[0].BytesTotal)
	require.EqualValues(t, 1, hosts[0].Fetch2xx)
	require.EqualValues(t, 1, hosts[0].Fetch4xx)
	require.EqualValues(t, 1, hosts[1].Failures)
}

func TestStoreSinkRecordsErrors(t *testing.T) {
	t.Parallel()

	repo := memory.NewProgressRepo()
	sink := NewStoreSink(repo, nil)
	crawlUUID := uuid.New()

	require.NoError(t, sink.Consume(context.Background(), []progress.Event{
		{CrawlID: crawlUUID, Stage: progress.StageCrawlError, TS: time.Now(), Note: "context canceled"},
	}))
	run, err := repo.GetCrawl(context.Background(), crawlUUID)
	require.NoError(t, err)
	require.Equal(t, store.RunError, run.Status)
	require.Equal(t, "context canceled", *run.ErrorMessage)
}

// TestStoreSinkHandlesErrors surfaces repository failures back to the caller.
func TestStoreSinkHandlesErrors(t *testing.T) {
	t.Parallel()

	sink := NewStoreSink(failingRepo{}, nil)
	err := sink.Consume(context.Background(), []progress.Event{
		{CrawlID: uuid.New(), Stage: progress.StageCrawlStart, TS: time.Now()},
	})
	require.ErrorContains(t, err, "upsert crawl start")

	err = sink.Consume(context.Background(), []progress.Event{
		{CrawlID: uuid.New(), Stage: progress.StageFetchDone, Host: "a.test", TS: time.Now()},
	})
	require.ErrorContains(t, err, "upsert host stats")

	require.NoError(t, NewStoreSink(nil, nil).Consume(context.Background(), nil))
}

type failingRepo struct {
	store.ProgressRepository
}

func (failingRepo) UpsertCrawlStart(context.Context, uuid.UUID, time.Time) error {
	return errors.New("db down")
}

func (failingRepo) UpsertHostStats(context.Context, store.HostStats) error {
	return errors.New("db down")
}
