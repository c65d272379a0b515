// Package api hosts the HTTP server, middleware, and REST handlers. Notable
// routes:
//   - GET /healthz and /readyz for Kubernetes health checks.
//   - GET /metrics for Prometheus scraping.
//   - POST /v1/crawls to run a crawl batch synchronously.
//   - GET /v1/crawls, /v1/crawls/{crawl_id} and /v1/crawls/{crawl_id}/hosts
//     for crawl history via the ProgressRepository interface.
package api
