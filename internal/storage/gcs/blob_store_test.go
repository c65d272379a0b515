package gcs

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"cloud.google.com/go/storage"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/option"
)

func newTestStore(t *testing.T, handler http.Handler) *BlobStore {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	client, err := storage.NewClient(context.Background(), option.WithEndpoint(srv.URL), option.WithoutAuthentication())
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })

	store, err := New(client, Config{Bucket: "bodies"})
	require.NoError(t, err)
	return store
}

func TestPutObjectUploads(t *testing.T) {
	t.Parallel()

	var (
		mu   sync.Mutex
		name string
		path string
		body string
	)
	store := newTestStore(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw, _ := io.ReadAll(r.Body)
		mu.Lock()
		name = r.URL.Query().Get("name")
		path = r.URL.Path
		body = string(raw)
		mu.Unlock()
		_, _ = fmt.Fprintf(w, `{"bucket":"bodies","name":%q}`, r.URL.Query().Get("name"))
	}))

	uri, err := store.PutObject(context.Background(), "2024-05-01/abc.html", "text/html", strings.NewReader("<title>A</title>"))
	require.NoError(t, err)
	require.Equal(t, "gs://bodies/2024-05-01/abc.html", uri)

	mu.Lock()
	defer mu.Unlock()
	require.Contains(t, path, "/upload/storage/v1/b/bodies/o")
	require.Equal(t, "2024-05-01/abc.html", name)
	require.Contains(t, body, "<title>A</title>")
	require.Contains(t, body, "text/html")
}

func TestPutObjectServerError(t *testing.T) {
	t.Parallel()

	store := newTestStore(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	_, err := store.PutObject(context.Background(), "x.html", "text/html", strings.NewReader("x"))
	require.ErrorContains(t, err, "x.html")
}

func TestValidation(t *testing.T) {
	t.Parallel()

	_, err := New(nil, Config{Bucket: "b"})
	require.Error(t, err)

	_, err = Dial(context.Background(), Config{})
	require.ErrorContains(t, err, "gcs_bucket is required")

	store := newTestStore(t, http.NotFoundHandler())
	_, err = store.PutObject(context.Background(), " ", "", strings.NewReader(""))
	require.ErrorContains(t, err, "path is required")
	require.NoError(t, store.Close())
}
