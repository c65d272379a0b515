package sinks

import (
	"context"
	"fmt"
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/JakeFAU/sitecrawler/internal/progress"
)

const outcomeOK = "ok"

// PrometheusSink exports crawl and fetch metrics.
type PrometheusSink struct {
	crawlsStarted   prometheus.Counter
	crawlsCompleted *prometheus.CounterVec
	crawlsRunning   prometheus.Gauge
	crawlDuration   *prometheus.HistogramVec

	fetches       *prometheus.CounterVec
	fetchBytes    prometheus.Counter
	fetchDuration *prometheus.HistogramVec
	fetchRetries  *prometheus.CounterVec

	mu      sync.Mutex
	running map[[16]byte]struct{}
}

// NewPrometheusSink registers the collectors against reg.
func NewPrometheusSink(reg prometheus.Registerer) (*PrometheusSink, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	s := &PrometheusSink{
		crawlsStarted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "sitecrawler_crawls_started_total",
			Help: "Crawl batches started.",
		}),
		crawlsCompleted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sitecrawler_crawls_completed_total",
			Help: "Crawl batches completed partitioned by result.",
		}, []string{"result"}),
		crawlsRunning: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "sitecrawler_crawls_running",
			Help: "Crawl batches currently in flight.",
		}),
		crawlDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "sitecrawler_crawl_duration_seconds",
			Help:    "Wall time per crawl batch.",
			Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600},
		}, []string{"result"}),
		fetches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sitecrawler_fetches_total",
			Help: "Fetch outcomes partitioned by status class and failure kind.",
		}, []string{"status_class", "outcome"}),
		fetchBytes: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "sitecrawler_fetch_bytes_total",
			Help: "Response bytes downloaded.",
		}),
		fetchDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "sitecrawler_fetch_duration_seconds",
			Help:    "Successful fetch latency partitioned by status class.",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
		}, []string{"status_class"}),
		fetchRetries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sitecrawler_fetch_retries_total",
			Help: "Fetch retries partitioned by the failure kind that triggered them.",
		}, []string{"kind"}),
		running: make(map[[16]byte]struct{}),
	}
	for _, collector := range []prometheus.Collector{
		s.crawlsStarted,
		s.crawlsCompleted,
		s.crawlsRunning,
		s.crawlDuration,
		s.fetches,
		s.fetchBytes,
		s.fetchDuration,
		s.fetchRetries,
	} {
		if err := reg.Register(collector); err != nil {
			return nil, fmt.Errorf("register progress collector: %w", err)
		}
	}
	return s, nil
}

// Consume updates the collectors from batch.
func (s *PrometheusSink) Consume(_ context.Context, batch []progress.Event) error {
	for _, evt := range batch {
		switch evt.Stage {
		case progress.StageCrawlStart:
			s.crawlsStarted.Inc()
			if s.track(evt.CrawlID, true) {
				s.crawlsRunning.Inc()
			}
		case progress.StageCrawlDone:
			s.finishCrawl(evt, "success")
		case progress.StageCrawlError:
			s.finishCrawl(evt, "error")
		case progress.StageFetchRetry:
			s.fetchRetries.WithLabelValues(evt.Kind).Inc()
		case progress.StageFetchDone:
			s.recordFetch(evt)
		}
	}
	return nil
}

func (s *PrometheusSink) finishCrawl(evt progress.Event, result string) {
	s.crawlsCompleted.WithLabelValues(result).Inc()
	if evt.Dur > 0 {
		s.crawlDuration.WithLabelValues(result).Observe(evt.Dur.Seconds())
	}
	if s.track(evt.CrawlID, false) {
		s.crawlsRunning.Dec()
	}
}

func (s *PrometheusSink) recordFetch(evt progress.Event) {
	outcome := evt.Kind
	if outcome == "" {
		outcome = outcomeOK
	}
	s.fetches.WithLabelValues(string(evt.StatusClass), outcome).Inc()
	if evt.Bytes > 0 {
		s.fetchBytes.Add(float64(evt.Bytes))
	}
	if outcome == outcomeOK && evt.Dur > 0 {
		s.fetchDuration.WithLabelValues(string(evt.StatusClass)).Observe(evt.Dur.Seconds())
	}
}

// track marks a crawl running (start=true) or finished and reports whether
// the running set changed.
func (s *PrometheusSink) track(id [16]byte, start bool) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.running[id]
	if start {
		if ok {
			return false
		}
		s.running[id] = struct{}{}
		return true
	}
	if !ok {
		return false
	}
	delete(s.running, id)
	return true
}

// Close is a no-op.
func (s *PrometheusSink) Close(context.Context) error {
	return nil
}
