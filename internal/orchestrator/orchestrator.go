// Package orchestrator runs a crawl batch end to end: it deduplicates the
// targets, drives the coordinator, normalizes successes, tallies failures,
// sends the batch notice, and commits the records.
package orchestrator

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"path"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/sitecrawler/internal/crawler"
	iduuid "github.com/JakeFAU/sitecrawler/internal/id/uuid"
	"github.com/JakeFAU/sitecrawler/internal/logging"
	"github.com/JakeFAU/sitecrawler/internal/normalize"
	"github.com/JakeFAU/sitecrawler/internal/progress"
)

const archiveContentType = "text/html; charset=utf-8"

// Coordinator fetches a batch of targets. coordinator.Coordinator satisfies it.
type Coordinator interface {
	Crawl(ctx context.Context, targets []string) ([]crawler.FetchOutcome, error)
}

// Orchestrator wires the crawl pipeline to its optional collaborators.
type Orchestrator struct {
	coordinator   Coordinator
	normalizer    *normalize.Normalizer
	clock         crawler.Clock
	ids           crawler.IDGenerator
	store         crawler.SiteStore
	archive       crawler.BlobStore
	archivePrefix string
	publisher     crawler.Publisher
	topic         string
	notifiers     []crawler.Notifier
	emitter       progress.Emitter
	logger        *zap.Logger
}

// Option customizes an Orchestrator.
type Option func(*Orchestrator)

// WithStore commits records through store.
func WithStore(store crawler.SiteStore) Option {
	return func(o *Orchestrator) { o.store = store }
}

// WithArchive writes successful bodies under prefix.
func WithArchive(archive crawler.BlobStore, prefix string) Option {
	return func(o *Orchestrator) {
		o.archive = archive
		o.archivePrefix = prefix
	}
}

// WithPublisher publishes each batch summary to topic.
func WithPublisher(publisher crawler.Publisher, topic string) Option {
	return func(o *Orchestrator) {
		o.publisher = publisher
		o.topic = topic
	}
}

// WithNotifier adds a notifier that receives every batch notice.
func WithNotifier(n crawler.Notifier) Option {
	return func(o *Orchestrator) {
		if n != nil {
			o.notifiers = append(o.notifiers, n)
		}
	}
}

// WithEmitter reports crawl lifecycle events.
func WithEmitter(e progress.Emitter) Option {
	return func(o *Orchestrator) {
		if e != nil {
			o.emitter = e
		}
	}
}

// WithClock overrides the wall clock.
func WithClock(c crawler.Clock) Option {
	return func(o *Orchestrator) {
		if c != nil {
			o.clock = c
		}
	}
}

// WithIDGenerator overrides crawl ID generation.
func WithIDGenerator(ids crawler.IDGenerator) Option {
	return func(o *Orchestrator) {
		if ids != nil {
			o.ids = ids
		}
	}
}

// New builds an Orchestrator around coordinator.
func New(coordinator Coordinator, logger *zap.Logger, opts ...Option) (*Orchestrator, error) {
	if coordinator == nil {
		return nil, errors.New("orchestrator requires a coordinator")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	o := &Orchestrator{
		coordinator: coordinator,
		clock:       utcClock{},
		ids:         iduuid.NewGenerator(),
		emitter:     progress.Discard,
		logger:      logger,
	}
	for _, opt := range opts {
		opt(o)
	}
	o.normalizer = normalize.New(o.clock)
	return o, nil
}

type runOptions struct {
	notifiers []crawler.Notifier
}

// RunOption customizes a single RunCrawl call.
type RunOption func(*runOptions)

// NotifyTo sends this run's notice to n in addition to the configured
// notifiers.
func NotifyTo(n crawler.Notifier) RunOption {
	return func(r *runOptions) {
		if n != nil {
			r.notifiers = append(r.notifiers, n)
		}
	}
}

// RunCrawl crawls targets on behalf of owner. Per-target failures are
// tallied in the summary, never returned. If ctx ends before every target
// resolves nothing is committed and the context error is returned.
func (o *Orchestrator) RunCrawl(
	ctx context.Context,
	owner crawler.Owner,
	targets []string,
	opts ...RunOption,
) ([]crawler.SiteRecord, crawler.CrawlSummary, error) {
	var run runOptions
	for _, opt := range opts {
		opt(&run)
	}

	crawlID, err := o.ids.NewID()
	if err != nil {
		return nil, crawler.CrawlSummary{}, fmt.Errorf("run crawl: %w", err)
	}
	rawID := progress.ParseCrawlID(crawlID)
	ctx = progress.WithCrawlID(ctx, rawID)

	deduped := crawler.NormalizeTargets(targets)
	summary := crawler.CrawlSummary{
		CrawlID:        crawlID,
		Owner:          owner,
		Targets:        len(deduped),
		FailuresByKind: make(map[crawler.FailureKind]int),
		StartedAt:      o.clock.Now().UTC(),
	}
	logger := logging.ForCrawl(o.logger, crawlID, owner.Username)
	logger.Info("crawl started", zap.Int("targets", len(deduped)), zap.Int("raw_targets", len(targets)))
	o.emitLifecycle(rawID, progress.StageCrawlStart, 0, "")

	outcomes, err := o.coordinator.Crawl(ctx, deduped)
	if err == nil {
		err = ctx.Err()
	}
	if err != nil {
		return nil, summary, o.abort(logger, rawID, &summary, err)
	}

	records, bodies := o.collect(owner, deduped, outcomes, &summary)
	o.archiveBodies(ctx, logger, records, bodies)
	if err := ctx.Err(); err != nil {
		return nil, summary, o.abort(logger, rawID, &summary, err)
	}
	// Once committing starts the whole batch is written and its summary
	// published, even if ctx is canceled midway.
	durable := context.WithoutCancel(ctx)
	o.commit(durable, logger, records, &summary)

	summary.FinishedAt = o.clock.Now().UTC()
	if summary.TotalFailures > 0 {
		notice := FailureNotice(summary.TotalFailures)
		for _, n := range append(append([]crawler.Notifier(nil), o.notifiers...), run.notifiers...) {
			n.Notify(ctx, notice)
		}
	}
	o.publishSummary(durable, logger, summary)
	o.emitLifecycle(rawID, progress.StageCrawlDone, summary.FinishedAt.Sub(summary.StartedAt), "")

	logger.Info("crawl finished",
		zap.Int("succeeded", summary.SuccessCount),
		zap.Int("failed", summary.TotalFailures),
		zap.Int("inserted", summary.Inserted),
		zap.Int("updated", summary.Updated),
	)
	return records, summary, nil
}

func (o *Orchestrator) abort(logger *zap.Logger, rawID [16]byte, summary *crawler.CrawlSummary, err error) error {
	summary.FinishedAt = o.clock.Now().UTC()
	o.emitLifecycle(rawID, progress.StageCrawlError, summary.FinishedAt.Sub(summary.StartedAt), err.Error())
	logger.Warn("crawl aborted; nothing committed", zap.Error(err))
	return fmt.Errorf("run crawl %s: %w", summary.CrawlID, err)
}

// collect normalizes successes in target order and tallies failures.
func (o *Orchestrator) collect(
	owner crawler.Owner,
	targets []string,
	outcomes []crawler.FetchOutcome,
	summary *crawler.CrawlSummary,
) ([]crawler.SiteRecord, map[string][]byte) {
	byURL := make(map[string]crawler.FetchOutcome, len(outcomes))
	for _, outcome := range outcomes {
		byURL[outcome.URL()] = outcome
	}

	records := make([]crawler.SiteRecord, 0, len(outcomes))
	bodies := make(map[string][]byte)
	for _, target := range targets {
		outcome, ok := byURL[target]
		switch {
		case ok && outcome.Success != nil:
			record := o.normalizer.Normalize(owner, outcome.Success)
			records = append(records, record)
			bodies[record.URL] = outcome.Success.Body
			summary.SuccessCount++
		case ok && outcome.Failure != nil:
			summary.RecordFailure(outcome.Failure.Kind)
		default:
			summary.RecordFailure(crawler.KindUnknown)
		}
	}
	return records, bodies
}

func (o *Orchestrator) archiveBodies(ctx context.Context, logger *zap.Logger, records []crawler.SiteRecord, bodies map[string][]byte) {
	if o.archive == nil {
		return
	}
	for _, record := range records {
		key := ArchivePath(o.archivePrefix, record)
		uri, err := o.archive.PutObject(ctx, key, archiveContentType, bytes.NewReader(bodies[record.URL]))
		if err != nil {
			logger.Warn("archive body failed", zap.String("url", record.URL), zap.Error(err))
			continue
		}
		logger.Debug("archived body", zap.String("url", record.URL), zap.String("uri", uri))
	}
}

func (o *Orchestrator) commit(ctx context.Context, logger *zap.Logger, records []crawler.SiteRecord, summary *crawler.CrawlSummary) {
	if o.store == nil {
		return
	}
	for _, record := range records {
		logger.Info("Working...", zap.String("url", record.URL))
		exists, err := o.store.ExistsByURL(ctx, record.URL)
		if err != nil {
			summary.CommitFailures++
			logger.Error("site lookup failed", zap.String("url", record.URL), zap.Error(err))
			continue
		}
		if err := o.store.UpsertByURL(ctx, record); err != nil {
			summary.CommitFailures++
			logger.Error("site upsert failed", zap.String("url", record.URL), zap.Error(err))
			continue
		}
		if exists {
			summary.Updated++
		} else {
			summary.Inserted++
		}
	}
}

func (o *Orchestrator) publishSummary(ctx context.Context, logger *zap.Logger, summary crawler.CrawlSummary) {
	if o.publisher == nil || o.topic == "" {
		return
	}
	msgID, err := o.publisher.Publish(ctx, o.topic, summary)
	if err != nil {
		logger.Warn("publish summary failed", zap.String("topic", o.topic), zap.Error(err))
		return
	}
	logger.Debug("summary published", zap.String("topic", o.topic), zap.String("message_id", msgID))
}

func (o *Orchestrator) emitLifecycle(crawlID [16]byte, stage progress.Stage, dur time.Duration, note string) {
	o.emitter.Emit(progress.Event{
		CrawlID: crawlID,
		TS:      o.clock.Now().UTC(),
		Stage:   stage,
		Dur:     dur,
		Note:    note,
	})
}

// ArchivePath is the blob key for a record's body:
// <prefix>/<yyyy-mm-dd>/<sha256>.html.
func ArchivePath(prefix string, record crawler.SiteRecord) string {
	hash := record.ContentHash
	if hash == "" {
		hash = normalize.ContentHash(nil)
	}
	return path.Join(prefix, record.FetchedAt.UTC().Format(time.DateOnly), hash+".html")
}

type utcClock struct{}

func (utcClock) Now() time.Time {
	return time.Now().UTC()
}
