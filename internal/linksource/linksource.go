// Package linksource produces crawl targets: it reads line-delimited link
// files and scrapes seed pages for links to append to them.
package linksource

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"

	"github.com/gocolly/colly/v2"
	"go.uber.org/zap"
)

// DefaultSelector matches every anchor on a seed page.
const DefaultSelector = "a"

// ReadFile returns the raw lines of a links file. Blank lines are kept;
// crawler.NormalizeTargets drops them.
func ReadFile(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open links file: %w", err)
	}
	defer func() { _ = f.Close() }()

	var lines []string
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		lines = append(lines, scanner.Text())
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read links file: %w", err)
	}
	return lines, nil
}

// AppendLinks appends each link to path followed by a newline, creating the
// file when needed.
func AppendLinks(path string, links []string) error {
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open links file: %w", err)
	}
	w := bufio.NewWriter(f)
	for _, link := range links {
		if _, err := w.WriteString(link + "\n"); err != nil {
			_ = f.Close()
			return fmt.Errorf("write links file: %w", err)
		}
	}
	if err := w.Flush(); err != nil {
		_ = f.Close()
		return fmt.Errorf("flush links file: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("close links file: %w", err)
	}
	return nil
}

// Scraper collects links from a seed page.
type Scraper struct {
	userAgent string
	headers   http.Header
	logger    *zap.Logger
}

// ScraperOption customizes a Scraper.
type ScraperOption func(*Scraper)

// WithHeaders sends headers with the seed page request.
func WithHeaders(h http.Header) ScraperOption {
	return func(s *Scraper) {
		s.headers = h.Clone()
	}
}

// NewScraper builds a Scraper.
func NewScraper(userAgent string, logger *zap.Logger, opts ...ScraperOption) *Scraper {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Scraper{userAgent: userAgent, logger: logger}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Scrape fetches seedURL and returns the distinct hrefs of elements matching
// selector, resolved against the page URL, in first-seen document order.
func (s *Scraper) Scrape(ctx context.Context, seedURL, selector string) ([]string, error) {
	if strings.TrimSpace(seedURL) == "" {
		return nil, errors.New("seed url is required")
	}
	if selector == "" {
		selector = DefaultSelector
	}

	collector := colly.NewCollector(colly.StdlibContext(ctx), colly.MaxDepth(1))
	if s.userAgent != "" {
		collector.UserAgent = s.userAgent
	}

	collector.OnRequest(func(r *colly.Request) {
		for key, values := range s.headers {
			r.Headers.Del(key)
			for _, v := range values {
				r.Headers.Add(key, v)
			}
		}
	})

	var (
		links    []string
		seen     = make(map[string]struct{})
		visitErr error
	)
	collector.OnHTML(selector, func(e *colly.HTMLElement) {
		href := strings.TrimSpace(e.Attr("href"))
		if href == "" {
			return
		}
		if abs := e.Request.AbsoluteURL(href); abs != "" {
			href = abs
		}
		if _, dup := seen[href]; dup {
			return
		}
		seen[href] = struct{}{}
		links = append(links, href)
	})
	collector.OnError(func(r *colly.Response, err error) {
		visitErr = err
		s.logger.Warn("seed page fetch failed",
			zap.String("url", seedURL),
			zap.Int("status_code", r.StatusCode),
			zap.Error(err),
		)
	})

	if err := collector.Visit(seedURL); err != nil {
		return nil, fmt.Errorf("scrape %s: %w", seedURL, err)
	}
	if visitErr != nil {
		return nil, fmt.Errorf("scrape %s: %w", seedURL, visitErr)
	}
	s.logger.Info("seed page scraped", zap.String("url", seedURL), zap.Int("links", len(links)))
	return links, nil
}
