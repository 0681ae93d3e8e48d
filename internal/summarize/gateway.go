package summarize

import (
	"context"
	"dailybrief/internal/core"
	"dailybrief/internal/llm"
	"dailybrief/internal/logger"
	"errors"
	"fmt"
	"sync"
	"time"
)

// TextSummarizer is the external summarization capability. llm.Client is
// the production implementation.
type TextSummarizer interface {
	Summarize(ctx context.Context, text string) (string, error)
	ModelVersion() string
}

// SummaryCache is the durable, fingerprint-keyed summary store. Inserts
// must be idempotent. store.Store is the production implementation.
type SummaryCache interface {
	GetSummary(fingerprint, modelVersion string) (*core.Summary, error)
	InsertSummary(summary core.Summary) error
}

// Options configures the gateway's retry behavior.
type Options struct {
	MaxAttempts   int           // Attempts per item for transient failures
	BaseBackoff   time.Duration // First backoff delay, doubled per attempt
	TruncateRunes int           // Input size for the one clean-input retry
}

// DefaultOptions returns the production retry policy.
func DefaultOptions() Options {
	return Options{
		MaxAttempts:   3,
		BaseBackoff:   500 * time.Millisecond,
		TruncateRunes: 4000,
	}
}

// ErrExhausted signals that every item in a batch failed transiently: the
// external service is effectively down and the run cannot proceed.
var ErrExhausted = errors.New("summarization exhausted: all items failed transiently")

// Gateway wraps the summarization capability with a fingerprint-keyed
// cache, bounded retries, and in-flight request de-duplication so that at
// most one external call is made per fingerprint at a time.
type Gateway struct {
	client TextSummarizer
	cache  SummaryCache
	opts   Options

	mu       sync.Mutex
	inflight map[string]*call
}

// call tracks one in-flight summarization; later requesters for the same
// fingerprint wait on done instead of issuing a duplicate external call.
type call struct {
	done    chan struct{}
	summary *core.Summary
	err     error
}

// NewGateway builds a gateway around the given capability and cache.
func NewGateway(client TextSummarizer, cache SummaryCache, opts Options) *Gateway {
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = DefaultOptions().MaxAttempts
	}
	if opts.BaseBackoff <= 0 {
		opts.BaseBackoff = DefaultOptions().BaseBackoff
	}
	if opts.TruncateRunes <= 0 {
		opts.TruncateRunes = DefaultOptions().TruncateRunes
	}
	return &Gateway{
		client:   client,
		cache:    cache,
		opts:     opts,
		inflight: make(map[string]*call),
	}
}

// Summarize returns the summary for an item, from cache when possible.
// On a miss it calls the external capability, persists the result with an
// idempotent insert, and returns the stored row. Re-entry after a crash is
// a no-op for already cached items.
func (g *Gateway) Summarize(ctx context.Context, item core.Item) (*core.Summary, error) {
	cached, err := g.cache.GetSummary(item.Fingerprint, g.client.ModelVersion())
	if err != nil {
		return nil, fmt.Errorf("summary cache read: %w", err)
	}
	if cached != nil {
		return cached, nil
	}

	g.mu.Lock()
	if c, ok := g.inflight[item.Fingerprint]; ok {
		g.mu.Unlock()
		select {
		case <-c.done:
			return c.summary, c.err
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	c := &call{done: make(chan struct{})}
	g.inflight[item.Fingerprint] = c
	g.mu.Unlock()

	c.summary, c.err = g.summarizeAndStore(ctx, item)
	close(c.done)

	g.mu.Lock()
	delete(g.inflight, item.Fingerprint)
	g.mu.Unlock()

	return c.summary, c.err
}

func (g *Gateway) summarizeAndStore(ctx context.Context, item core.Item) (*core.Summary, error) {
	text, err := g.summarizeWithRetry(ctx, item)
	if err != nil {
		return nil, err
	}

	summary := core.Summary{
		ItemFingerprint: item.Fingerprint,
		Text:            text,
		ModelVersion:    g.client.ModelVersion(),
		GeneratedAt:     time.Now().UTC(),
	}
	if err := g.cache.InsertSummary(summary); err != nil {
		return nil, fmt.Errorf("summary cache write: %w", err)
	}

	// Read back so a lost race against a concurrent writer still returns
	// the row every other reader observes.
	stored, err := g.cache.GetSummary(item.Fingerprint, g.client.ModelVersion())
	if err != nil {
		return nil, fmt.Errorf("summary cache read: %w", err)
	}
	if stored == nil {
		return nil, fmt.Errorf("summary for %s missing after insert", item.Fingerprint)
	}
	return stored, nil
}

// summarizeWithRetry applies the retry policy: transient failures get
// exponential backoff up to MaxAttempts; an invalid response gets exactly
// one extra attempt with truncated input before becoming permanent.
func (g *Gateway) summarizeWithRetry(ctx context.Context, item core.Item) (string, error) {
	var lastErr error
	backoff := g.opts.BaseBackoff

	for attempt := 1; attempt <= g.opts.MaxAttempts; attempt++ {
		text, err := g.client.Summarize(ctx, item.RawText)
		if err == nil {
			return text, nil
		}
		lastErr = err

		if errors.Is(err, llm.ErrInvalidResponse) {
			return g.retryTruncated(ctx, item, err)
		}
		if !llm.Transient(err) {
			return "", err
		}

		if attempt < g.opts.MaxAttempts {
			logger.Warn("summarization retry",
				"fingerprint", item.Fingerprint, "attempt", attempt, "error", err.Error())
			if err := sleepCtx(ctx, backoff); err != nil {
				return "", err
			}
			backoff *= 2
		}
	}

	return "", fmt.Errorf("summarize %s after %d attempts: %w", item.Fingerprint, g.opts.MaxAttempts, lastErr)
}

// retryTruncated makes the single clean-input retry for an invalid
// response, then surfaces the failure as permanent for this item.
func (g *Gateway) retryTruncated(ctx context.Context, item core.Item, cause error) (string, error) {
	truncated := truncateText(item.RawText, g.opts.TruncateRunes)
	if truncated == item.RawText {
		return "", fmt.Errorf("summarize %s: %w", item.Fingerprint, cause)
	}

	logger.Warn("retrying with truncated input", "fingerprint", item.Fingerprint)
	text, err := g.client.Summarize(ctx, truncated)
	if err != nil {
		return "", fmt.Errorf("summarize %s after truncation: %w", item.Fingerprint, err)
	}
	return text, nil
}

// Pair couples an item with its summary for assembly.
type Pair struct {
	Item    core.Item
	Summary core.Summary
}

// ItemFailure records an item dropped from a batch and why.
type ItemFailure struct {
	Fingerprint string
	Err         error
}

// SummarizeBatch summarizes the selection, tolerating item-level failures:
// failed items are dropped and reported, not fatal. When every item fails
// and at least one failure is transient the service is considered down and
// ErrExhausted is returned so the run can fail as a whole.
func (g *Gateway) SummarizeBatch(ctx context.Context, items []core.Item) ([]Pair, []ItemFailure, error) {
	var pairs []Pair
	var failures []ItemFailure
	transientFailure := false

	for _, item := range items {
		if err := ctx.Err(); err != nil {
			return nil, nil, err
		}

		summary, err := g.Summarize(ctx, item)
		if err != nil {
			if llm.Transient(err) {
				transientFailure = true
			}
			logger.Warn("dropping item from digest",
				"fingerprint", item.Fingerprint, "error", err.Error())
			failures = append(failures, ItemFailure{Fingerprint: item.Fingerprint, Err: err})
			continue
		}
		pairs = append(pairs, Pair{Item: item, Summary: *summary})
	}

	if len(items) > 0 && len(pairs) == 0 && transientFailure {
		return nil, failures, ErrExhausted
	}
	return pairs, failures, nil
}

// sleepCtx sleeps for d unless the context is cancelled first.
func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// truncateText cuts text to at most n runes on a best-effort word
// boundary, used for the clean-input retry.
func truncateText(text string, n int) string {
	runes := []rune(text)
	if len(runes) <= n {
		return text
	}
	cut := string(runes[:n])
	if idx := lastSpace(cut); idx > n/2 {
		cut = cut[:idx]
	}
	return cut
}

func lastSpace(s string) int {
	for i := len(s) - 1; i >= 0; i-- {
		if s[i] == ' ' || s[i] == '\n' {
			return i
		}
	}
	return -1
}
