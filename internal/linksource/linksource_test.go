package linksource

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/sitecrawler/internal/crawler"
)

func TestAppendThenReadRoundTrip(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "links.txt")
	require.NoError(t, AppendLinks(path, []string{"https://a.test", "https://b.test"}))
	require.NoError(t, AppendLinks(path, []string{"https://a.test"}))

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Equal(t, "https://a.test\nhttps://b.test\nhttps://a.test\n", string(raw))

	lines, err := ReadFile(path)
	require.NoError(t, err)
	require.Len(t, lines, 3)
	require.Equal(t, []string{"https://a.test", "https://b.test"}, crawler.NormalizeTargets(lines))
}

func TestReadFileMissing(t *testing.T) {
	t.Parallel()

	_, err := ReadFile(filepath.Join(t.TempDir(), "nope.txt"))
	require.ErrorContains(t, err, "open links file")
}

func TestScraperCollectsLinks(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		_, _ = w.Write([]byte(`<html><body>
			<a href="https://a.test/">A</a>
			<a href="  /relative  ">rel</a>
			<a>no href</a>
			<div class="menu"><a href="https://b.test/">B</a></div>
		</body></html>`))
	}))
	t.Cleanup(srv.Close)

	s := NewScraper("sitecrawler-test", nil)
	links, err := s.Scrape(context.Background(), srv.URL, "")
	require.NoError(t, err)
	require.Equal(t, []string{"https://a.test/", srv.URL + "/relative", "https://b.test/"}, links)

	links, err = s.Scrape(context.Background(), srv.URL, ".menu a")
	require.NoError(t, err)
	require.Equal(t, []string{"https://b.test/"}, links)
}

func TestScraperSendsHeadersAndDropsDuplicates(t *testing.T) {
	t.Parallel()

	seen := make(chan http.Header, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen <- r.Header.Clone()
		w.Header().Set("Content-Type", "text/html")
		_, _ = w.Write([]byte(`<html><body>
			<a href="https://a.test/">A</a>
			<a href="/b">B</a>
			<a href="https://a.test/">A again</a>
			<a href="http://` + r.Host + `/b">B again</a>
		</body></html>`))
	}))
	t.Cleanup(srv.Close)

	headers := http.Header{}
	headers.Set("Accept-Language", "en-US,en;q=0.9")
	headers.Set("Referer", "https://www.google.com/")
	s := NewScraper("sitecrawler-test", nil, WithHeaders(headers))

	links, err := s.Scrape(context.Background(), srv.URL, "a")
	require.NoError(t, err)
	require.Equal(t, []string{"https://a.test/", srv.URL + "/b"}, links)
	got := <-seen
	require.Equal(t, "en-US,en;q=0.9", got.Get("Accept-Language"))
	require.Equal(t, "https://www.google.com/", got.Get("Referer"))
	require.Equal(t, "sitecrawler-test", got.Get("User-Agent"))
}

func TestScraperReportsHTTPErrors(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.NotFoundHandler())
	t.Cleanup(srv.Close)

	_, err := NewScraper("", nil).Scrape(context.Background(), srv.URL, "a")
	require.Error(t, err)

	_, err = NewScraper("", nil).Scrape(context.Background(), " ", "a")
	require.Error(t, err)
}
