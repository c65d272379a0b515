package collyfetcher

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gocolly/colly/v2"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/sitecrawler/internal/crawler"
)

func fetchRequest(u string) crawler.FetchRequest {
	return crawler.FetchRequest{
		URL:     u,
		Headers: http.Header{"X-Trace": {"yes"}, "Cache-Control": {"no-cache"}},
		Timeout: 2 * time.Second,
	}
}

func TestFetcherSuccess(t *testing.T) {
	t.Parallel()

	seen := make(chan http.Header, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen <- r.Header.Clone()
		w.Header().Set("Content-Type", "text/html")
		_, _ = w.Write([]byte("<html><head><title>A</title></head></html>"))
	}))
	t.Cleanup(srv.Close)

	f := New(Config{UserAgent: "sitecrawler-test"})
	resp, err := f.Fetch(context.Background(), fetchRequest(srv.URL))
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Contains(t, string(resp.Body), "<title>A</title>")
	require.Positive(t, resp.Elapsed)
	headers := <-seen
	require.Equal(t, "sitecrawler-test", headers.Get("User-Agent"))
	require.Equal(t, "yes", headers.Get("X-Trace"))
}

func TestFetcherDecodesLatin1Body(t *testing.T) {
	t.Parallel()

	para := "<p>Le caf\xe9 cr\xe8me est pr\xe9par\xe9 \xe0 la fran\xe7aise, tr\xe8s appr\xe9ci\xe9 des habitu\xe9s du quartier.</p>"
	page := "<html><head><title>Caf\xe9 cr\xe8me</title></head><body>"
	for i := 0; i < 8; i++ {
		page += para
	}
	page += "</body></html>"

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		_, _ = w.Write([]byte(page))
	}))
	t.Cleanup(srv.Close)

	resp, err := New(Config{}).Fetch(context.Background(), fetchRequest(srv.URL))
	require.NoError(t, err)
	require.Contains(t, string(resp.Body), "<title>Café crème</title>")
}

func TestFetcherAllowsRepeatVisits(t *testing.T) {
	t.Parallel()

	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		hits.Add(1)
		_, _ = w.Write([]byte("ok"))
	}))
	t.Cleanup(srv.Close)

	f := New(Config{})
	for i := 0; i < 3; i++ {
		_, err := f.Fetch(context.Background(), fetchRequest(srv.URL))
		require.NoError(t, err)
	}
	require.EqualValues(t, 3, hits.Load())
}

func TestFetcherNon2xxIsProtocolError(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "missing", http.StatusNotFound)
	}))
	t.Cleanup(srv.Close)

	_, err := New(Config{}).Fetch(context.Background(), fetchRequest(srv.URL))
	require.Error(t, err)

	var fe *crawler.FetchError
	require.ErrorAs(t, err, &fe)
	require.Equal(t, crawler.KindProtocol, fe.Kind)
	require.Equal(t, http.StatusNotFound, fe.StatusCode)
}

func TestFetcherTimeout(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	t.Cleanup(srv.Close)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := New(Config{}).Fetch(ctx, fetchRequest(srv.URL))
	require.Error(t, err)
	require.Equal(t, crawler.KindTimeout, crawler.KindOf(err))
}

func TestFetcherConnectionRefused(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.NotFoundHandler())
	target := srv.URL
	srv.Close()

	_, err := New(Config{}).Fetch(context.Background(), fetchRequest(target))
	require.Error(t, err)
	require.Equal(t, crawler.KindConnection, crawler.KindOf(err))
}

func TestFetcherValidatesRequest(t *testing.T) {
	t.Parallel()

	f := New(Config{})
	_, err := f.Fetch(context.Background(), crawler.FetchRequest{Timeout: time.Second})
	require.Equal(t, crawler.KindUnknown, crawler.KindOf(err))

	_, err = f.Fetch(context.Background(), crawler.FetchRequest{URL: "https://a.test"})
	require.Equal(t, crawler.KindUnknown, crawler.KindOf(err))
}

func TestConfigureCollectorHooks(t *testing.T) {
	t.Parallel()

	f := New(Config{})
	req := fetchRequest("https://example.com")
	var result crawler.FetchResponse
	var fetchErr error

	hooks := &stubHooks{}
	f.configureCollectorHooks(hooks, req, &result, &fetchErr)
	require.NotNil(t, hooks.onRequest)
	require.NotNil(t, hooks.onResponse)
	require.NotNil(t, hooks.onError)

	collyReq := &colly.Request{Headers: &http.Header{"Cache-Control": {"max-age=0"}}}
	hooks.onRequest(collyReq)
	require.Equal(t, "yes", collyReq.Headers.Get("X-Trace"))
	require.Equal(t, []string{"no-cache"}, collyReq.Headers.Values("Cache-Control"), "configured headers replace defaults")

	hooks.onResponse(&colly.Response{
		StatusCode: http.StatusCreated,
		Body:       []byte("body"),
		Headers:    &http.Header{"X-Resp": {"ok"}},
		Request: &colly.Request{
			URL: mustParseURL(t, "https://example.com"),
		},
	})
	require.Equal(t, http.StatusCreated, result.StatusCode)
	require.Equal(t, "body", string(result.Body))
	require.Equal(t, "ok", result.Headers.Get("X-Resp"))

	hooks.onError(nil, errors.New("boom"))
	require.EqualError(t, fetchErr, "boom")
}

func TestCopyHeadersHandlesNil(t *testing.T) {
	t.Parallel()

	f := New(Config{})
	collyReq := &colly.Request{Headers: &http.Header{}}
	f.copyHeaders(crawler.FetchRequest{}, collyReq)
	require.Empty(t, *collyReq.Headers)
}

func mustParseURL(t *testing.T, raw string) *url.URL {
	t.Helper()
	u, err := url.Parse(raw)
	require.NoError(t, err)
	return u
}

type stubHooks struct {
	onRequest  colly.RequestCallback
	onResponse colly.ResponseCallback
	onError    colly.ErrorCallback
}

func (s *stubHooks) OnRequest(cb colly.RequestCallback) {
	s.onRequest = cb
}

func (s *stubHooks) OnResponse(cb colly.ResponseCallback) {
	s.onResponse = cb
}

func (s *stubHooks) OnError(cb colly.ErrorCallback) {
	s.onError = cb
}
