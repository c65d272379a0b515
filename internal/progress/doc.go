// Package progress carries crawl progress events from the coordinator and
// orchestrator to pluggable sinks. Emit never blocks: events are buffered,
// batched on a background goroutine, and fanned out to sinks such as
// Prometheus collectors or a structured log.
package progress
