package assemble

import (
	"dailybrief/internal/core"
	"dailybrief/internal/summarize"
	"time"
)

// Placeholder texts for degraded-but-successful digests. A digest is never
// dispatched structurally empty.
const (
	noItemsTitle     = "No new items today"
	noItemsText      = "Nothing new was published by your sources since your last digest. See you tomorrow."
	unavailableTitle = "Items found but unavailable today"
	unavailableText  = "New items matched your interests, but their summaries could not be generated today. They will not be lost; check back tomorrow."
)

// Assemble turns the ranked, summarized selection into a digest document.
// Grouping puts video items before blog items while preserving rank order
// within each group. An empty selection yields a placeholder section; a
// selection that lost every summary yields the unavailable notice when
// hadCandidates is true.
func Assemble(userID string, pairs []summarize.Pair, hadCandidates bool, now time.Time) core.DigestDocument {
	doc := core.DigestDocument{
		UserID:      userID,
		GeneratedAt: now.UTC(),
	}

	if len(pairs) == 0 {
		section := core.DigestSection{Title: noItemsTitle, SummaryText: noItemsText}
		if hadCandidates {
			section = core.DigestSection{Title: unavailableTitle, SummaryText: unavailableText}
		}
		doc.Sections = []core.DigestSection{section}
		doc.Placeholder = true
		return doc
	}

	doc.Sections = make([]core.DigestSection, 0, len(pairs))
	for _, group := range []core.SourceType{core.SourceVideo, core.SourceBlog} {
		for _, pair := range pairs {
			if pair.Item.SourceType != group {
				continue
			}
			doc.Sections = append(doc.Sections, core.DigestSection{
				Title:       pair.Item.Title,
				URL:         pair.Item.URL,
				SummaryText: pair.Summary.Text,
				SourceType:  pair.Item.SourceType,
			})
		}
	}

	// Anything with an unknown source type still gets delivered, after the
	// known groups.
	for _, pair := range pairs {
		if pair.Item.SourceType != core.SourceVideo && pair.Item.SourceType != core.SourceBlog {
			doc.Sections = append(doc.Sections, core.DigestSection{
				Title:       pair.Item.Title,
				URL:         pair.Item.URL,
				SummaryText: pair.Summary.Text,
				SourceType:  pair.Item.SourceType,
			})
		}
	}

	return doc
}
