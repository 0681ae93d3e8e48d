package ranker

import (
	"dailybrief/internal/core"
	"regexp"
	"sort"
	"strings"
)

// TopicScorer infers a topic-weight mapping for an item against a known
// topic vocabulary. Implementations must be deterministic and free of I/O.
type TopicScorer interface {
	TopicWeights(item core.Item, vocabulary map[string][]string) map[string]float64
}

// Ranker orders candidate items by interest overlap with a user profile.
type Ranker struct {
	scorer TopicScorer
}

// New returns a ranker using the given topic scorer, defaulting to the
// keyword scorer when nil.
func New(scorer TopicScorer) *Ranker {
	if scorer == nil {
		scorer = NewKeywordScorer()
	}
	return &Ranker{scorer: scorer}
}

// Rank scores candidates against the profile and returns at most maxItems
// of them, best first. Items whose fingerprint appears in exclude (the
// user's recently sent selections) are filtered out before scoring. The
// result is fully deterministic: ties on score break by recency, then by
// fingerprint.
func (r *Ranker) Rank(candidates []core.Item, profile core.UserProfile, exclude map[string]bool, maxItems int) []core.Item {
	if maxItems <= 0 || len(candidates) == 0 {
		return nil
	}

	type scored struct {
		item  core.Item
		score float64
	}

	eligible := make([]scored, 0, len(candidates))
	for _, item := range candidates {
		if exclude[item.Fingerprint] {
			continue
		}
		if !profile.SubscribedTo(item.SourceName) {
			continue
		}
		eligible = append(eligible, scored{item: item, score: r.Score(item, profile)})
	}

	sort.Slice(eligible, func(i, j int) bool {
		a, b := eligible[i], eligible[j]
		if a.score != b.score {
			return a.score > b.score
		}
		if !a.item.PublishedAt.Equal(b.item.PublishedAt) {
			return a.item.PublishedAt.After(b.item.PublishedAt)
		}
		return a.item.Fingerprint < b.item.Fingerprint
	})

	if len(eligible) > maxItems {
		eligible = eligible[:maxItems]
	}

	ranked := make([]core.Item, len(eligible))
	for i, e := range eligible {
		ranked[i] = e.item
	}
	return ranked
}

// Score computes the topic-overlap score of one item against the profile:
// the dot product of the item's inferred topic weights and the profile's
// interest weights.
func (r *Ranker) Score(item core.Item, profile core.UserProfile) float64 {
	weights := r.scorer.TopicWeights(item, profile.TopicKeywords)

	var score float64
	for topic, weight := range weights {
		score += weight * profile.Interests[topic]
	}
	return score
}

// KeywordScorer infers topic weights by matching an item's title and text
// against each topic's keyword vocabulary.
type KeywordScorer struct {
	stopWords map[string]bool
}

// NewKeywordScorer returns the default keyword-based topic scorer.
func NewKeywordScorer() *KeywordScorer {
	return &KeywordScorer{stopWords: commonStopWords()}
}

var wordPattern = regexp.MustCompile(`[^\pL\pN]+`)

// TopicWeights returns, per topic, the fraction of the topic's vocabulary
// that appears in the item's title or raw text. Topics with no matching
// keyword are omitted.
func (ks *KeywordScorer) TopicWeights(item core.Item, vocabulary map[string][]string) map[string]float64 {
	words := ks.tokenize(item.Title + " " + item.RawText)

	weights := make(map[string]float64, len(vocabulary))
	for topic, keywords := range vocabulary {
		if len(keywords) == 0 {
			continue
		}
		matched := 0
		for _, keyword := range keywords {
			if words[strings.ToLower(strings.TrimSpace(keyword))] {
				matched++
			}
		}
		if matched > 0 {
			weights[topic] = float64(matched) / float64(len(keywords))
		}
	}
	return weights
}

// tokenize lowercases the text and returns its set of non-stop words.
func (ks *KeywordScorer) tokenize(text string) map[string]bool {
	words := make(map[string]bool)
	for _, word := range wordPattern.Split(strings.ToLower(text), -1) {
		if len(word) < 2 || ks.stopWords[word] {
			continue
		}
		words[word] = true
	}
	return words
}

func commonStopWords() map[string]bool {
	list := []string{
		"a", "an", "and", "are", "as", "at", "be", "by", "for", "from",
		"has", "he", "in", "is", "it", "its", "of", "on", "that", "the",
		"to", "was", "were", "will", "with", "this", "but", "they",
		"have", "had", "what", "which", "she", "do", "how", "their",
		"if", "up", "out", "then", "them", "these", "so", "some",
	}
	stop := make(map[string]bool, len(list))
	for _, word := range list {
		stop[word] = true
	}
	return stop
}
