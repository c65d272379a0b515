package postgres

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/sitecrawler/internal/store"
)

func newProgressMock(t *testing.T) (*ProgressStore, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)
	s, err := NewProgressStoreWithPool(mock)
	require.NoError(t, err)
	return s, mock
}

func TestProgressStoreCrawlLifecycle(t *testing.T) {
	t.Parallel()

	s, mock := newProgressMock(t)
	ctx := context.Background()
	id := uuid.New()
	start := time.Unix(1700000000, 0).UTC()
	msg := "crawl interrupted"

	mock.ExpectExec(`INSERT INTO crawl_runs \(crawl_id, started_at, status\)`).
		WithArgs(id, start, store.RunRunning).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec(`ON CONFLICT \(crawl_id\) DO UPDATE SET finished_at = EXCLUDED.finished_at`).
		WithArgs(id, start.Add(time.Minute), store.RunError, &msg).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	require.NoError(t, s.UpsertCrawlStart(ctx, id, start))
	require.NoError(t, s.CompleteCrawl(ctx, id, start.Add(time.Minute), store.RunError, &msg))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestProgressStoreUpsertHostStats(t *testing.T) {
	t.Parallel()

	s, mock := newProgressMock(t)
	delta := store.HostStats{
		CrawlID:    uuid.New(),
		Host:       "a.test",
		LastUpdate: time.Unix(1700000000, 0).UTC(),
		Fetches:    2,
		BytesTotal: 300,
		Fetch2xx:   1,
		Fetch5xx:   1,
	}
	mock.ExpectExec(`INSERT INTO host_stats .* ON CONFLICT \(crawl_id, host\) DO UPDATE`).
		WithArgs(delta.CrawlID, "a.test", delta.LastUpdate, int64(2), int64(300), int64(1), int64(0), int64(0), int64(1), int64(0)).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	require.NoError(t, s.UpsertHostStats(context.Background(), delta))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestProgressStoreGetCrawl(t *testing.T) {
	t.Parallel()

	s, mock := newProgressMock(t)
	id := uuid.New()
	start := time.Unix(1700000000, 0).UTC()
	finished := start.Add(time.Minute)

	mock.ExpectQuery(`SELECT crawl_id, started_at, finished_at, status, error_message FROM crawl_runs WHERE crawl_id = \$1`).
		WithArgs(id).
		WillReturnRows(pgxmock.NewRows([]string{"crawl_id", "started_at", "finished_at", "status", "error_message"}).
			AddRow(id, start, &finished, store.RunSuccess, nil))
	mock.ExpectQuery(`FROM crawl_runs`).
		WithArgs(pgxmock.AnyArg()).
		WillReturnRows(pgxmock.NewRows([]string{"crawl_id", "started_at", "finished_at", "status", "error_message"}))

	run, err := s.GetCrawl(context.Background(), id)
	require.NoError(t, err)
	require.Equal(t, store.RunSuccess, run.Status)
	require.Equal(t, finished, *run.FinishedAt)
	require.Nil(t, run.ErrorMessage)

	_, err = s.GetCrawl(context.Background(), uuid.New())
	require.ErrorIs(t, err, store.ErrNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestProgressStoreListCrawls(t *testing.T) {
	t.Parallel()

	s, mock := newProgressMock(t)
	start := time.Unix(1700000000, 0).UTC()
	status := store.RunRunning
	filter := "running"

	mock.ExpectQuery(`ORDER BY started_at DESC LIMIT \$2 OFFSET \$3`).
		WithArgs(&filter, 10, 0).
		WillReturnRows(pgxmock.NewRows([]string{"crawl_id", "started_at", "finished_at", "status", "error_message"}).
			AddRow(uuid.New(), start, nil, store.RunRunning, nil).
			AddRow(uuid.New(), start.Add(-time.Hour), nil, store.RunRunning, nil))

	runs, err := s.ListCrawls(context.Background(), &status, 10, 0)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	require.Nil(t, runs[0].FinishedAt)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestProgressStoreListCrawlHosts(t *testing.T) {
	t.Parallel()

	s, mock := newProgressMock(t)
	id := uuid.New()
	now := time.Unix(1700000000, 0).UTC()

	mock.ExpectQuery(`FROM host_stats WHERE crawl_id = \$1`).
		WithArgs(id, 5, 0).
		WillReturnRows(pgxmock.NewRows([]string{
			"crawl_id", "host", "last_update", "fetches", "bytes_total",
			"fetch_2xx", "fetch_3xx", "fetch_4xx", "fetch_5xx", "failures",
		}).AddRow(id, "a.test", now, int64(3), int64(900), int64(3), int64(0), int64(0), int64(0), int64(1)))

	hosts, err := s.ListCrawlHosts(context.Background(), id, 5, 0)
	require.NoError(t, err)
	require.Len(t, hosts, 1)
	require.EqualValues(t, 900, hosts[0].BytesTotal)
	require.EqualValues(t, 1, hosts[0].Failures)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestProgressStoreWrapsErrors(t *testing.T) {
	t.Parallel()

	s, mock := newProgressMock(t)
	mock.ExpectExec(`INSERT INTO crawl_runs`).
		WithArgs(pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnError(errors.New("boom"))
	mock.ExpectQuery(`FROM host_stats`).
		WithArgs(pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnError(errors.New("boom"))

	err := s.UpsertCrawlStart(context.Background(), uuid.New(), time.Now())
	require.ErrorContains(t, err, "upsert crawl start")
	_, err = s.ListCrawlHosts(context.Background(), uuid.New(), 1, 0)
	require.ErrorContains(t, err, "list crawl hosts")
	require.NoError(t, mock.ExpectationsWereMet())

	_, err = NewProgressStoreWithPool(nil)
	require.Error(t, err)
}

func TestProgressStoreEnsureSchema(t *testing.T) {
	t.Parallel()

	s, mock := newProgressMock(t)
	mock.ExpectExec(`CREATE TABLE IF NOT EXISTS crawl_runs`).WillReturnResult(pgxmock.NewResult("CREATE TABLE", 0))
	mock.ExpectExec(`CREATE TABLE IF NOT EXISTS host_stats`).WillReturnResult(pgxmock.NewResult("CREATE TABLE", 0))
	require.NoError(t, s.EnsureSchema(context.Background()))
	require.NoError(t, mock.ExpectationsWereMet())
}
