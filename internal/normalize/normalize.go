// Package normalize turns successful fetches into site records.
package normalize

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"github.com/JakeFAU/sitecrawler/internal/crawler"
)

// Normalizer extracts a SiteRecord from a FetchSuccess.
type Normalizer struct {
	clock crawler.Clock
}

// New returns a Normalizer stamping records with clock. A nil clock uses the
// wall clock.
func New(clock crawler.Clock) *Normalizer {
	if clock == nil {
		clock = wallClock{}
	}
	return &Normalizer{clock: clock}
}

// Normalize builds the record for success on behalf of owner. It never fails:
// pages without a usable title get crawler.UnknownTitle.
func (n *Normalizer) Normalize(owner crawler.Owner, success *crawler.FetchSuccess) crawler.SiteRecord {
	record := crawler.SiteRecord{
		Title:     crawler.UnknownTitle,
		FetchedAt: n.clock.Now().UTC(),
		Owner:     owner,
	}
	if success == nil {
		return record
	}
	record.URL = crawler.TrimLineTerminator(success.URL)
	record.Title = ExtractTitle(success.Body)
	record.ElapsedMillis = ElapsedMillis(success.Elapsed)
	record.ContentHash = ContentHash(success.Body)
	return record
}

// ExtractTitle returns the trimmed text of the first <title> element.
func ExtractTitle(body []byte) string {
	if len(body) == 0 {
		return crawler.UnknownTitle
	}
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return crawler.UnknownTitle
	}
	title := strings.TrimSpace(doc.Find("title").First().Text())
	if title == "" {
		return crawler.UnknownTitle
	}
	return title
}

// ElapsedMillis floors d to whole milliseconds, clamping negatives to zero.
func ElapsedMillis(d time.Duration) int64 {
	if d <= 0 {
		return 0
	}
	return d.Milliseconds()
}

// ContentHash is the hex sha256 of body.
func ContentHash(body []byte) string {
	sum := sha256.Sum256(body)
	return hex.EncodeToString(sum[:])
}

type wallClock struct{}

func (wallClock) Now() time.Time {
	return time.Now()
}
