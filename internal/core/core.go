package core

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"time"
)

// SourceType identifies the kind of upstream a piece of content came from.
type SourceType string

const (
	SourceVideo SourceType = "video"
	SourceBlog  SourceType = "blog"
)

// Item is a single piece of ingested content. Items are immutable once
// stored; Fingerprint is the global uniqueness and dedup key.
type Item struct {
	Fingerprint  string     `json:"fingerprint"`   // Content hash of canonical URL + title
	SourceType   SourceType `json:"source_type"`   // video or blog
	SourceName   string     `json:"source_name"`   // Configured source identifier (e.g. channel handle)
	Title        string     `json:"title"`         // Item title
	URL          string     `json:"url"`           // Canonical URL
	PublishedAt  time.Time  `json:"published_at"`  // Upstream publication time
	RawText      string     `json:"raw_text"`      // Full text (article body or transcript)
	DiscoveredAt time.Time  `json:"discovered_at"` // When ingestion first saw the item
}

// Summary is the cached summarization of one Item. Summaries are shared
// across users and never mutated; a new model version produces a new row.
type Summary struct {
	ItemFingerprint string    `json:"item_fingerprint"` // Fingerprint of the summarized Item
	Text            string    `json:"text"`             // Generated summary text
	ModelVersion    string    `json:"model_version"`    // Model that produced the text
	GeneratedAt     time.Time `json:"generated_at"`     // When the summary was generated
}

// UserProfile holds one user's interests, subscriptions, and digest state.
type UserProfile struct {
	UserID           string              `json:"user_id"`
	Email            string              `json:"email"`
	Interests        map[string]float64  `json:"interests"`          // topic → weight, positive reals
	TopicKeywords    map[string][]string `json:"topic_keywords"`     // topic → vocabulary used for inference
	Sources          []string            `json:"sources"`            // Subscribed source names
	ScheduleTime     string              `json:"schedule_time"`      // "HH:MM" in the scheduler's location
	LastRunWatermark time.Time           `json:"last_run_watermark"` // Advances only on a SENT run
	DigestMaxItems   int                 `json:"digest_max_items"`
}

// SubscribedTo reports whether the profile includes the named source.
// An empty subscription list means all sources.
func (p UserProfile) SubscribedTo(source string) bool {
	if len(p.Sources) == 0 {
		return true
	}
	for _, s := range p.Sources {
		if s == source {
			return true
		}
	}
	return false
}

// RunStatus is a stage of the daily digest state machine.
type RunStatus string

const (
	StatusPending     RunStatus = "PENDING"
	StatusCollecting  RunStatus = "COLLECTING"
	StatusRanking     RunStatus = "RANKING"
	StatusSummarizing RunStatus = "SUMMARIZING"
	StatusAssembling  RunStatus = "ASSEMBLING"
	StatusSending     RunStatus = "SENDING"
	StatusSent        RunStatus = "SENT"
	StatusFailed      RunStatus = "FAILED"
)

// stageOrder gives the forward ordering of the non-failure stages.
var stageOrder = map[RunStatus]int{
	StatusPending:     0,
	StatusCollecting:  1,
	StatusRanking:     2,
	StatusSummarizing: 3,
	StatusAssembling:  4,
	StatusSending:     5,
	StatusSent:        6,
}

// CanTransition reports whether a run may move from one status to another.
// Runs only move forward one stage at a time; FAILED is reachable from any
// non-terminal stage and both FAILED and SENT are terminal.
func CanTransition(from, to RunStatus) bool {
	if from == StatusSent || from == StatusFailed {
		return false
	}
	if to == StatusFailed {
		return true
	}
	fi, ok := stageOrder[from]
	if !ok {
		return false
	}
	ti, ok := stageOrder[to]
	if !ok {
		return false
	}
	return ti == fi+1
}

// Terminal reports whether a status ends the run.
func (s RunStatus) Terminal() bool {
	return s == StatusSent || s == StatusFailed
}

// DigestRun is the persisted record of one user's digest for one day.
// There is at most one non-FAILED run per (user_id, run_date).
type DigestRun struct {
	ID            string    `json:"id"`
	UserID        string    `json:"user_id"`
	RunDate       string    `json:"run_date"` // "2006-01-02" in the scheduler's location
	Status        RunStatus `json:"status"`
	Selected      []string  `json:"selected"`  // Ordered item fingerprints chosen by the ranker
	Watermark     time.Time `json:"watermark"` // Collection snapshot; the profile watermark advances to this on SENT
	FailureReason string    `json:"failure_reason"`
	StartedAt     time.Time `json:"started_at"`
	CompletedAt   time.Time `json:"completed_at"`
}

// DigestSection is one entry of an assembled digest document.
type DigestSection struct {
	Title       string     `json:"title"`
	URL         string     `json:"url"`
	SummaryText string     `json:"summary_text"`
	SourceType  SourceType `json:"source_type"`
}

// DigestDocument is the assembled, ready-to-dispatch digest for one user.
type DigestDocument struct {
	UserID      string          `json:"user_id"`
	Sections    []DigestSection `json:"sections"`
	Placeholder bool            `json:"placeholder"` // True when Sections carries only the no-items notice
	GeneratedAt time.Time       `json:"generated_at"`
}

// Fingerprint derives the content fingerprint for an item from its
// canonical URL and title. Re-ingesting the same URL/title pair always
// produces the same key.
func Fingerprint(url, title string) string {
	h := sha256.New()
	h.Write([]byte(strings.TrimSpace(url)))
	h.Write([]byte{0})
	h.Write([]byte(strings.TrimSpace(title)))
	return hex.EncodeToString(h.Sum(nil))
}
