package normalize

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/sitecrawler/internal/crawler"
)

type fixedClock struct {
	now time.Time
}

func (c fixedClock) Now() time.Time {
	return c.now
}

func TestNormalize(t *testing.T) {
	t.Parallel()

	loc := time.FixedZone("UTC+3", 3*60*60)
	now := time.Date(2024, 5, 1, 15, 0, 0, 0, loc)
	n := New(fixedClock{now: now})
	owner := crawler.Owner{ID: 7, Username: "alice"}

	record := n.Normalize(owner, &crawler.FetchSuccess{
		URL:     "https://a.test\n",
		Body:    []byte("<html><head><title>  Hello A \n</title></head><body><title>second</title></body></html>"),
		Elapsed: 1234567 * time.Microsecond,
	})

	require.Equal(t, "https://a.test", record.URL)
	require.Equal(t, "Hello A", record.Title)
	require.EqualValues(t, 1234, record.ElapsedMillis)
	require.Equal(t, owner, record.Owner)
	require.Equal(t, time.UTC, record.FetchedAt.Location())
	require.True(t, record.FetchedAt.Equal(now))
	require.Len(t, record.ContentHash, 64)
}

func TestExtractTitleSentinel(t *testing.T) {
	t.Parallel()

	cases := map[string]string{
		"missing title": "<html><head></head><body>hi</body></html>",
		"empty title":   "<html><head><title>   </title></head></html>",
		"empty body":    "",
		"not html":      "\x00\x01binary",
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			require.Equal(t, crawler.UnknownTitle, ExtractTitle([]byte(body)))
		})
	}
}

func TestElapsedMillis(t *testing.T) {
	t.Parallel()

	require.EqualValues(t, 0, ElapsedMillis(-time.Second))
	require.EqualValues(t, 0, ElapsedMillis(999*time.Microsecond))
	require.EqualValues(t, 1, ElapsedMillis(1999*time.Microsecond))
	require.EqualValues(t, 2500, ElapsedMillis(2500*time.Millisecond))
}

func TestNormalizeNilSuccess(t *testing.T) {
	t.Parallel()

	record := New(nil).Normalize(crawler.Owner{ID: 1}, nil)
	require.Equal(t, crawler.UnknownTitle, record.Title)
	require.False(t, record.FetchedAt.IsZero())
}
