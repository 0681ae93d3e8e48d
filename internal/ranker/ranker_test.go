package ranker

import (
	"fmt"
	"testing"
	"time"

	"dailybrief/internal/core"
)

func testProfile() core.UserProfile {
	return core.UserProfile{
		UserID: "alice",
		Email:  "alice@example.com",
		Interests: map[string]float64{
			"ai":     0.8,
			"sports": 0.2,
		},
		TopicKeywords: map[string][]string{
			"ai":     {"llm"},
			"sports": {"football"},
		},
		DigestMaxItems: 10,
	}
}

func rankedItem(fingerprint, title, text string, published time.Time) core.Item {
	return core.Item{
		Fingerprint: fingerprint,
		SourceType:  core.SourceBlog,
		SourceName:  "tech-blog",
		Title:       title,
		URL:         "https://example.com/" + fingerprint,
		PublishedAt: published,
		RawText:     text,
	}
}

func TestRank_InterestOrdering(t *testing.T) {
	now := time.Now().UTC()
	profile := testProfile()

	itemA := rankedItem("fp-a", "Weekend football roundup", "Match reports", now)
	itemB := rankedItem("fp-b", "Gardening tips", "Compost and mulch", now)
	itemC := rankedItem("fp-c", "Shipping an LLM product", "llm serving notes", now)

	ranked := New(nil).Rank([]core.Item{itemA, itemB, itemC}, profile, nil, 2)
	if len(ranked) != 2 {
		t.Fatalf("Expected 2 ranked items, got %d", len(ranked))
	}
	if ranked[0].Fingerprint != "fp-c" {
		t.Errorf("Expected ai item first, got %s", ranked[0].Fingerprint)
	}
	if ranked[1].Fingerprint != "fp-a" {
		t.Errorf("Expected sports item second, got %s", ranked[1].Fingerprint)
	}
}

func TestRank_Deterministic(t *testing.T) {
	now := time.Now().UTC()
	profile := testProfile()

	items := make([]core.Item, 0, 6)
	for n := 0; n < 6; n++ {
		items = append(items, rankedItem(fmt.Sprintf("fp-%d", n),
			fmt.Sprintf("LLM update %d", n), "llm notes", now))
	}

	ranker := New(nil)
	first := ranker.Rank(items, profile, nil, 6)

	// Reversed input must yield the same output.
	reversed := make([]core.Item, len(items))
	for i, item := range items {
		reversed[len(items)-1-i] = item
	}
	second := ranker.Rank(reversed, profile, nil, 6)

	if len(first) != len(second) {
		t.Fatalf("Ranked lengths differ: %d vs %d", len(first), len(second))
	}
	for i := range first {
		if first[i].Fingerprint != second[i].Fingerprint {
			t.Errorf("Position %d differs: %s vs %s", i, first[i].Fingerprint, second[i].Fingerprint)
		}
	}
}

func TestRank_TieBreaksByRecencyThenFingerprint(t *testing.T) {
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	profile := testProfile()

	older := rankedItem("fp-a", "LLM digest", "llm", base.Add(-time.Hour))
	newer := rankedItem("fp-z", "LLM weekly", "llm", base)
	sameTimeA := rankedItem("fp-m", "LLM news", "llm", base)

	ranked := New(nil).Rank([]core.Item{older, newer, sameTimeA}, profile, nil, 3)
	if len(ranked) != 3 {
		t.Fatalf("Expected 3 items, got %d", len(ranked))
	}
	// Equal scores: newest first, then fingerprint ascending.
	if ranked[0].Fingerprint != "fp-m" || ranked[1].Fingerprint != "fp-z" {
		t.Errorf("Expected fp-m then fp-z, got %s then %s", ranked[0].Fingerprint, ranked[1].Fingerprint)
	}
	if ranked[2].Fingerprint != "fp-a" {
		t.Errorf("Expected oldest item last, got %s", ranked[2].Fingerprint)
	}
}

func TestRank_ExcludesRecentlySent(t *testing.T) {
	now := time.Now().UTC()
	profile := testProfile()

	items := []core.Item{
		rankedItem("fp-a", "LLM report", "llm", now),
		rankedItem("fp-b", "LLM review", "llm", now),
	}
	exclude := map[string]bool{"fp-a": true}

	ranked := New(nil).Rank(items, profile, exclude, 10)
	if len(ranked) != 1 {
		t.Fatalf("Expected 1 item after exclusion, got %d", len(ranked))
	}
	if ranked[0].Fingerprint != "fp-b" {
		t.Errorf("Expected fp-b, got %s", ranked[0].Fingerprint)
	}
}

func TestRank_FiltersUnsubscribedSources(t *testing.T) {
	now := time.Now().UTC()
	profile := testProfile()
	profile.Sources = []string{"other-blog"}

	items := []core.Item{rankedItem("fp-a", "LLM report", "llm", now)}
	ranked := New(nil).Rank(items, profile, nil, 10)
	if len(ranked) != 0 {
		t.Errorf("Expected unsubscribed source to be filtered, got %d items", len(ranked))
	}
}

func TestRank_CapAndEmptyInput(t *testing.T) {
	now := time.Now().UTC()
	profile := testProfile()

	var items []core.Item
	for n := 0; n < 20; n++ {
		items = append(items, rankedItem(fmt.Sprintf("fp-%02d", n), "LLM notes", "llm", now))
	}

	ranked := New(nil).Rank(items, profile, nil, 5)
	if len(ranked) != 5 {
		t.Errorf("Expected cap of 5, got %d", len(ranked))
	}

	if got := New(nil).Rank(nil, profile, nil, 5); got != nil {
		t.Errorf("Expected nil for empty candidates, got %v", got)
	}
	if got := New(nil).Rank(items, profile, nil, 0); got != nil {
		t.Errorf("Expected nil for zero max items, got %v", got)
	}
}

func TestScore_DotProduct(t *testing.T) {
	profile := testProfile()
	ranker := New(nil)

	// Matches the full ai vocabulary: score = 1.0 * 0.8.
	ai := rankedItem("fp-a", "An llm deep dive", "", time.Now().UTC())
	if score := ranker.Score(ai, profile); score != 0.8 {
		t.Errorf("Expected score 0.8, got %v", score)
	}

	// No vocabulary overlap scores zero.
	none := rankedItem("fp-b", "Sourdough basics", "flour water salt", time.Now().UTC())
	if score := ranker.Score(none, profile); score != 0 {
		t.Errorf("Expected score 0, got %v", score)
	}
}

func TestKeywordScorer_PartialVocabulary(t *testing.T) {
	scorer := NewKeywordScorer()
	item := core.Item{
		Title:   "Transformers in production",
		RawText: "Deploying neural networks at scale",
	}
	vocabulary := map[string][]string{
		"ai":      {"transformers", "neural", "llm", "agents"},
		"cooking": {"sourdough"},
	}

	weights := scorer.TopicWeights(item, vocabulary)
	if weights["ai"] != 0.5 {
		t.Errorf("Expected ai weight 0.5 (2 of 4 keywords), got %v", weights["ai"])
	}
	if _, ok := weights["cooking"]; ok {
		t.Error("Topics with no matches should be omitted")
	}
}

func TestKeywordScorer_CaseInsensitive(t *testing.T) {
	scorer := NewKeywordScorer()
	item := core.Item{Title: "LLM Roundup"}
	weights := scorer.TopicWeights(item, map[string][]string{"ai": {"llm"}})
	if weights["ai"] != 1.0 {
		t.Errorf("Keyword matching should be case insensitive, got %v", weights["ai"])
	}
}
