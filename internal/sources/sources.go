package sources

import (
	"context"
	"dailybrief/internal/core"
	"dailybrief/internal/logger"
	"fmt"
	"time"
)

// RawItem is what a source returns before ingestion fingerprints it.
type RawItem struct {
	Title       string
	URL         string // Canonical URL, stable across fetches
	PublishedAt time.Time
	Text        string
}

// ItemSource pulls fresh items from one upstream provider. An empty result
// for a quiet window is valid, not an error.
type ItemSource interface {
	Name() string
	Type() core.SourceType
	FetchItems(ctx context.Context, since time.Time) ([]RawItem, error)
}

// ItemStore is the slice of the store the ingestor writes to.
type ItemStore interface {
	InsertItem(item core.Item) (bool, error)
}

// Ingestor pulls every configured source and stores new items. Storage is
// idempotent on the content fingerprint, so re-running an ingestion pass
// over the same upstream data is a no-op.
type Ingestor struct {
	store   ItemStore
	sources []ItemSource
	window  time.Duration // How far back to ask sources for items
}

// NewIngestor wires sources to the item store. window bounds the fetch
// lookback (the original aggregation window; 24h by default).
func NewIngestor(store ItemStore, sources []ItemSource, window time.Duration) *Ingestor {
	if window <= 0 {
		window = 24 * time.Hour
	}
	return &Ingestor{store: store, sources: sources, window: window}
}

// Report summarizes one ingestion pass.
type Report struct {
	Fetched int // Items returned by sources
	Stored  int // Items that were actually new
	Errors  int // Sources that failed
}

// Run performs one ingestion pass across all sources. A failing source is
// logged and skipped; the pass continues so one broken upstream cannot
// starve the rest.
func (in *Ingestor) Run(ctx context.Context, now time.Time) (Report, error) {
	var report Report
	since := now.Add(-in.window)

	for _, source := range in.sources {
		if err := ctx.Err(); err != nil {
			return report, err
		}

		raw, err := source.FetchItems(ctx, since)
		if err != nil {
			logger.Error("source fetch failed", err, "source", source.Name())
			report.Errors++
			continue
		}
		report.Fetched += len(raw)

		for _, r := range raw {
			item := core.Item{
				Fingerprint:  core.Fingerprint(r.URL, r.Title),
				SourceType:   source.Type(),
				SourceName:   source.Name(),
				Title:        r.Title,
				URL:          r.URL,
				PublishedAt:  r.PublishedAt.UTC(),
				RawText:      r.Text,
				DiscoveredAt: now.UTC(),
			}
			if item.PublishedAt.IsZero() {
				item.PublishedAt = now.UTC()
			}

			created, err := in.store.InsertItem(item)
			if err != nil {
				return report, fmt.Errorf("store item from %s: %w", source.Name(), err)
			}
			if created {
				report.Stored++
			}
		}
	}

	logger.Info("ingestion pass complete",
		"fetched", report.Fetched, "stored", report.Stored, "source_errors", report.Errors)
	return report, nil
}
