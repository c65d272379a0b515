package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/JakeFAU/sitecrawler/internal/storage/memory"
)

// ExampleProgressHandler_ListCrawls shows how to serve the /v1/crawls endpoint.
func ExampleProgressHandler_ListCrawls() {
	repo := memory.NewProgressRepo()
	crawlID := uuid.MustParse("00000000-0000-0000-0000-0000000000aa")
	if err := repo.UpsertCrawlStart(context.Background(), crawlID, time.Unix(0, 0)); err != nil {
		panic(err)
	}
	handler := NewProgressHandler(repo, zap.NewNop())

	req := httptest.NewRequest(http.MethodGet, "/v1/crawls?limit=1", nil)
	rec := httptest.NewRecorder()
	handler.ListCrawls(rec, req)

	var payload struct {
		Crawls []map[string]any `json:"crawls"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &payload); err != nil {
		panic(err)
	}
	fmt.Printf("returned crawls: %d, status: %s\n", len(payload.Crawls), payload.Crawls[0]["status"])
	// Output:
	// returned crawls: 1, status: running
}
