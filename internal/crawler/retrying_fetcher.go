package crawler

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
)

// DefaultRequestTimeout bounds a single attempt when no timeout is configured.
const DefaultRequestTimeout = 15 * time.Second

// RetryHook observes each retry decision.
type RetryHook func(ctx context.Context, url string, attempt int, kind FailureKind)

// RetryingFetcher turns single fetch attempts into a FetchOutcome, retrying
// transient failures under a RetryPolicy.
type RetryingFetcher struct {
	fetcher Fetcher
	policy  RetryPolicy
	pauser  Pauser
	logger  *zap.Logger
	headers http.Header
	timeout time.Duration
	onRetry RetryHook
}

// RetryingFetcherOption customizes a RetryingFetcher.
type RetryingFetcherOption func(*RetryingFetcher)

// WithHeaders sets the headers sent on every attempt.
func WithHeaders(headers http.Header) RetryingFetcherOption {
	return func(r *RetryingFetcher) {
		r.headers = headers.Clone()
	}
}

// WithRequestTimeout sets the per-attempt timeout. A non-positive timeout
// makes every fetch fail validation.
func WithRequestTimeout(timeout time.Duration) RetryingFetcherOption {
	return func(r *RetryingFetcher) {
		r.timeout = timeout
	}
}

// WithPauser swaps the backoff sleeper.
func WithPauser(p Pauser) RetryingFetcherOption {
	return func(r *RetryingFetcher) {
		if p != nil {
			r.pauser = p
		}
	}
}

// WithRetryHook registers a callback invoked before each retry.
func WithRetryHook(hook RetryHook) RetryingFetcherOption {
	return func(r *RetryingFetcher) {
		r.onRetry = hook
	}
}

// NewRetryingFetcher wraps fetcher with retry handling.
func NewRetryingFetcher(fetcher Fetcher, policy RetryPolicy, logger *zap.Logger, opts ...RetryingFetcherOption) *RetryingFetcher {
	if policy == nil {
		policy = NewExponentialRetryPolicy(0, 0, 0, 0)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	r := &RetryingFetcher{
		fetcher: fetcher,
		policy:  policy,
		pauser:  TimerPauser{},
		logger:  logger,
		timeout: DefaultRequestTimeout,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// FetchTarget fetches url until it succeeds, fails permanently, or exhausts
// the retry policy. It never returns without an outcome.
func (r *RetryingFetcher) FetchTarget(ctx context.Context, url string) FetchOutcome {
	url = TrimLineTerminator(url)
	if strings.TrimSpace(url) == "" {
		return r.fail(url, NewFetchError(url, KindUnknown, 0, errors.New("empty url")), 0)
	}
	if r.timeout <= 0 {
		return r.fail(url, NewFetchError(url, KindUnknown, 0, errors.New("request timeout must be > 0")), 0)
	}
	if r.fetcher == nil {
		return r.fail(url, NewFetchError(url, KindUnknown, 0, errors.New("no fetcher configured")), 0)
	}

	start := time.Now()
	attempt := 0
	for {
		if err := ctx.Err(); err != nil {
			return r.fail(url, NewFetchError(url, KindCanceled, 0, err), attempt)
		}
		attempt++

		resp, err := r.attempt(ctx, url)
		if err == nil {
			return FetchOutcome{Success: &FetchSuccess{
				URL:        url,
				StatusCode: resp.StatusCode,
				Body:       resp.Body,
				Elapsed:    resp.Elapsed,
				Attempts:   attempt,
			}}
		}

		if ctxErr := ctx.Err(); ctxErr != nil {
			return r.fail(url, NewFetchError(url, KindCanceled, 0, ctxErr), attempt)
		}
		fetchErr := asFetchError(url, err)
		// The pause counts against the elapsed ceiling.
		delay := r.policy.Backoff(attempt)
		if !r.policy.ShouldRetry(fetchErr, attempt, time.Since(start)+delay) {
			return r.fail(url, fetchErr, attempt)
		}

		r.logger.Debug("retrying fetch",
			zap.String("url", url),
			zap.String("kind", string(fetchErr.Kind)),
			zap.Int("attempt", attempt),
			zap.Duration("backoff", delay),
			zap.Error(fetchErr.Err),
		)
		if r.onRetry != nil {
			r.onRetry(ctx, url, attempt, fetchErr.Kind)
		}
		r.pauser.Pause(ctx, delay)
	}
}

func (r *RetryingFetcher) attempt(ctx context.Context, url string) (FetchResponse, error) {
	attemptCtx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()
	return r.fetcher.Fetch(attemptCtx, FetchRequest{
		URL:     url,
		Headers: r.headers.Clone(),
		Timeout: r.timeout,
	})
}

func (r *RetryingFetcher) fail(url string, err *FetchError, attempts int) FetchOutcome {
	if err.Kind == KindCanceled {
		r.logger.Debug("fetch canceled", zap.String("url", url), zap.Int("attempts", attempts))
	} else {
		r.logger.Error("fetch failed",
			zap.String("url", url),
			zap.String("kind", string(err.Kind)),
			zap.Int("attempts", attempts),
			zap.Int("status_code", err.StatusCode),
			zap.Error(err.Err),
		)
	}
	return FetchOutcome{Failure: &FetchFailure{
		URL:        url,
		Kind:       err.Kind,
		StatusCode: err.StatusCode,
		Err:        err,
		Attempts:   attempts,
	}}
}

func asFetchError(url string, err error) *FetchError {
	var fe *FetchError
	if errors.As(err, &fe) {
		return fe
	}
	return NewFetchError(url, Classify(err), 0, err)
}
