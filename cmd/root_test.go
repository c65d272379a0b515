package cmd

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/sitecrawler/internal/api"
	"github.com/JakeFAU/sitecrawler/internal/config"
	"github.com/JakeFAU/sitecrawler/internal/crawler"
	"github.com/JakeFAU/sitecrawler/internal/linksource"
	"github.com/JakeFAU/sitecrawler/internal/orchestrator"
)

// titleCoordinator answers every target with a page titled after its URL,
// except hosts listed in down.
type titleCoordinator struct {
	down map[string]bool
}

func (c titleCoordinator) Crawl(_ context.Context, targets []string) ([]crawler.FetchOutcome, error) {
	out := make([]crawler.FetchOutcome, 0, len(targets))
	for _, t := range targets {
		if c.down[t] {
			out = append(out, crawler.FetchOutcome{Failure: &crawler.FetchFailure{URL: t, Kind: crawler.KindConnection}})
			continue
		}
		out = append(out, crawler.FetchOutcome{Success: &crawler.FetchSuccess{
			URL: t, StatusCode: http.StatusOK, Body: []byte(fmt.Sprintf("<title>%s</title>", t)),
		}})
	}
	return out, nil
}

type fakeApp struct {
	cfg    config.Config
	orch   *orchestrator.Orchestrator
	closed bool
}

func newFakeApp(t *testing.T, down ...string) *fakeApp {
	t.Helper()
	set := make(map[string]bool, len(down))
	for _, d := range down {
		set[d] = true
	}
	o, err := orchestrator.New(titleCoordinator{down: set}, nil)
	require.NoError(t, err)
	return &fakeApp{
		cfg: config.Config{Crawler: config.CrawlerConfig{
			LinksFile:    filepath.Join(t.TempDir(), "links.txt"),
			SeedSelector: "a",
		}},
		orch: o,
	}
}

func (f *fakeApp) Close(context.Context) error { f.closed = true; return nil }
func (f *fakeApp) Config() config.Config { return f.cfg }
func (f *fakeApp) Logger() *zap.Logger { return zap.NewNop() }
func (f *fakeApp) Orchestrator() *orchestrator.Orchestrator { return f.orch }
func (f *fakeApp) Scraper() *linksource.Scraper { return linksource.NewScraper("test", nil) }
func (f *fakeApp) NewServer() *api.Server {
	return api.NewServer(f.orch, zap.NewNop(), api.Options{})
}

func useApp(t *testing.T, a App, err error) {
	t.Helper()
	prev := newApp
	newApp = func(context.Context, string) (App, error) { return a, err }
	t.Cleanup(func() { newApp = prev })
}

func runRoot(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := newRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(io.Discard)
	root.SetArgs(args)
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

func TestCrawlCommandPrintsRecordsAndSummary(t *testing.T) {
	fake := newFakeApp(t, "https://down.test")
	useApp(t, fake, nil)

	links := filepath.Join(t.TempDir(), "links.txt")
	require.NoError(t, os.WriteFile(links, []byte("https://a.test\nhttps://down.test\n\nhttps://a.test\n"), 0o600))

	out, err := runRoot(t, "crawl", "--links", links, "--owner", "alice", "--owner-id", "7")
	require.NoError(t, err)

	var got crawlOutput
	require.NoError(t, json.Unmarshal([]byte(out), &got))
	require.Len(t, got.Records, 1)
	require.Equal(t, "https://a.test", got.Records[0].Title)
	require.Equal(t, crawler.Owner{ID: 7, Username: "alice"}, got.Records[0].Owner)
	require.Equal(t, 2, got.Summary.Targets)
	require.Equal(t, []crawler.Notice{orchestrator.FailureNotice(1)}, got.Notices)
	require.True(t, fake.closed)
}

func TestCrawlCommandUsesConfiguredLinksFile(t *testing.T) {
	fake := newFakeApp(t)
	useApp(t, fake, nil)
	require.NoError(t, os.WriteFile(fake.cfg.Crawler.LinksFile, []byte("https://b.test\n"), 0o600))

	out, err := runRoot(t, "crawl", "--owner", "bob")
	require.NoError(t, err)
	require.Contains(t, out, `"url": "https://b.test"`)
}

func TestCrawlCommandErrors(t *testing.T) {
	useApp(t, newFakeApp(t), nil)

	_, err := runRoot(t, "crawl", "--links", "links.txt")
	require.ErrorContains(t, err, "--owner is required")

	_, err = runRoot(t, "crawl", "--owner", "alice", "--links", filepath.Join(t.TempDir(), "missing.txt"))
	require.ErrorContains(t, err, "open links file")
}

func TestLinksCommandAppendsScrapedLinks(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		_, _ = w.Write([]byte(`<ul class="sites"><li><a href="https://a.test">A</a></li><li><a href="https://b.test">B</a></li></ul><a href="https://nav.test">nav</a>`))
	}))
	t.Cleanup(srv.Close)

	fake := newFakeApp(t)
	useApp(t, fake, nil)

	out, err := runRoot(t, "links", "--seed", srv.URL, "--selector", ".sites a")
	require.NoError(t, err)
	require.Contains(t, out, "appended 2 links")

	raw, err := os.ReadFile(fake.cfg.Crawler.LinksFile)
	require.NoError(t, err)
	require.Equal(t, "https://a.test\nhttps://b.test\n", string(raw))

	_, err = runRoot(t, "links")
	require.ErrorContains(t, err, "--seed or crawler.seed_url is required")
}

func TestAppInitFailureIsReported(t *testing.T) {
	useApp(t, nil, errors.New("redis unreachable"))

	_, err := runRoot(t, "crawl", "--owner", "alice")
	require.ErrorContains(t, err, "failed to initialize application services: redis unreachable")
}

func TestServeShutsDownOnCancel(t *testing.T) {
	lis, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- serve(ctx, lis, newFakeApp(t), time.Second) }()

	url := "http://" + lis.Addr().String() + "/healthz"
	require.Eventually(t, func() bool {
		resp, err := http.Get(url)
		if err != nil {
			return false
		}
		_ = resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(3 * time.Second):
		t.Fatal("serve did not return after cancel")
	}
}
