package orchestrator

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/JakeFAU/sitecrawler/internal/crawler"
)

// NoticeCategoryWarning tags notices about partially failed batches.
const NoticeCategoryWarning = "warning"

// FailureNotice builds the aggregated notice for a batch with failures
// unparsed sites.
func FailureNotice(failures int) crawler.Notice {
	if failures == 1 {
		return crawler.Notice{Category: NoticeCategoryWarning, Message: "1 site hasn't been parsed due to connection errors"}
	}
	return crawler.Notice{
		Category: NoticeCategoryWarning,
		Message:  fmt.Sprintf("%d sites haven't been parsed due to connection errors", failures),
	}
}

// LogNotifier writes notices as warnings.
type LogNotifier struct {
	logger *zap.Logger
}

// NewLogNotifier builds a LogNotifier.
func NewLogNotifier(logger *zap.Logger) *LogNotifier {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogNotifier{logger: logger}
}

// Notify logs notice.
func (n *LogNotifier) Notify(_ context.Context, notice crawler.Notice) {
	n.logger.Warn(notice.Message, zap.String("category", notice.Category))
}

// CollectingNotifier keeps notices in memory for callers that render them
// later, such as the HTTP API.
type CollectingNotifier struct {
	mu      sync.Mutex
	notices []crawler.Notice
}

// Notify records notice.
func (n *CollectingNotifier) Notify(_ context.Context, notice crawler.Notice) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.notices = append(n.notices, notice)
}

// Notices returns a copy of the recorded notices.
func (n *CollectingNotifier) Notices() []crawler.Notice {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]crawler.Notice(nil), n.notices...)
}
