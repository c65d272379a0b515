// Package coordinator fans crawl targets out to concurrent fetches behind a
// weighted semaphore and gathers exactly one outcome per target.
package coordinator

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/JakeFAU/sitecrawler/internal/crawler"
	"github.com/JakeFAU/sitecrawler/internal/progress"
)

// DefaultMaxConcurrency caps in-flight fetches when no ceiling is configured.
const DefaultMaxConcurrency = 500

// TargetFetcher resolves one target into an outcome. crawler.RetryingFetcher
// satisfies it.
type TargetFetcher interface {
	FetchTarget(ctx context.Context, url string) crawler.FetchOutcome
}

// Config controls the admission gate.
type Config struct {
	MaxConcurrency int64
}

// Coordinator runs batches of fetches with bounded parallelism. The gate is
// shared by every batch run through the same Coordinator.
type Coordinator struct {
	fetcher TargetFetcher
	gate    *semaphore.Weighted
	limit   int64
	emitter progress.Emitter
	logger  *zap.Logger
}

// New builds a Coordinator.
func New(cfg Config, fetcher TargetFetcher, emitter progress.Emitter, logger *zap.Logger) (*Coordinator, error) {
	if fetcher == nil {
		return nil, errors.New("coordinator requires a fetcher")
	}
	limit := cfg.MaxConcurrency
	if limit <= 0 {
		limit = DefaultMaxConcurrency
	}
	if emitter == nil {
		emitter = progress.Discard
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Coordinator{
		fetcher: fetcher,
		gate:    semaphore.NewWeighted(limit),
		limit:   limit,
		emitter: emitter,
		logger:  logger,
	}, nil
}

// MaxConcurrency reports the admission ceiling.
func (c *Coordinator) MaxConcurrency() int64 {
	return c.limit
}

// Crawl fetches every target and returns one outcome per target in
// completion order. It never stops early on failures. When ctx ends first,
// targets that had not finished resolve to canceled failures and the context
// error is returned alongside the full outcome list.
func (c *Coordinator) Crawl(ctx context.Context, targets []string) ([]crawler.FetchOutcome, error) {
	results := make(chan crawler.FetchOutcome, len(targets))

	var wg sync.WaitGroup
	for _, target := range targets {
		wg.Add(1)
		go func(target string) {
			defer wg.Done()
			results <- c.fetchOne(ctx, target)
		}(target)
	}
	wg.Wait()
	close(results)

	outcomes := make([]crawler.FetchOutcome, 0, len(targets))
	for outcome := range results {
		outcomes = append(outcomes, outcome)
	}
	if err := ctx.Err(); err != nil {
		return outcomes, fmt.Errorf("crawl interrupted: %w", err)
	}
	return outcomes, nil
}

func (c *Coordinator) fetchOne(ctx context.Context, target string) crawler.FetchOutcome {
	if err := c.gate.Acquire(ctx, 1); err != nil {
		return crawler.FetchOutcome{Failure: &crawler.FetchFailure{
			URL:  target,
			Kind: crawler.KindCanceled,
			Err:  crawler.NewFetchError(target, crawler.KindCanceled, 0, err),
		}}
	}
	defer c.gate.Release(1)

	start := time.Now()
	outcome := c.fetcher.FetchTarget(ctx, target)
	c.emit(ctx, target, outcome, time.Since(start))
	return outcome
}

func (c *Coordinator) emit(ctx context.Context, target string, outcome crawler.FetchOutcome, dur time.Duration) {
	evt := progress.Event{
		CrawlID: progress.CrawlIDFrom(ctx),
		TS:      time.Now().UTC(),
		Stage:   progress.StageFetchDone,
		Host:    hostOf(target),
		URL:     target,
		Dur:     dur,
	}
	switch {
	case outcome.Success != nil:
		evt.StatusClass = progress.ClassifyStatus(outcome.Success.StatusCode)
		evt.Bytes = int64(len(outcome.Success.Body))
		evt.Attempts = outcome.Success.Attempts
	case outcome.Failure != nil:
		evt.StatusClass = progress.ClassifyStatus(outcome.Failure.StatusCode)
		evt.Kind = string(outcome.Failure.Kind)
		evt.Attempts = outcome.Failure.Attempts
	}
	c.emitter.Emit(evt)
}

func hostOf(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return ""
	}
	return u.Hostname()
}
