package sources

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"dailybrief/internal/core"
)

const rssSample = `<?xml version="1.0" encoding="UTF-8"?>
<rss version="2.0">
  <channel>
    <title>Example Blog</title>
    <item>
      <title>First Post</title>
      <link>https://example.com/first</link>
      <pubDate>Mon, 02 Jun 2025 09:00:00 +0000</pubDate>
      <description>Body of the first post</description>
    </item>
    <item>
      <title>Second Post</title>
      <link>https://example.com/second</link>
      <pubDate>Sun, 01 Jun 2025 09:00:00 +0000</pubDate>
      <description>Body of the second post</description>
    </item>
  </channel>
</rss>`

const atomSample = `<?xml version="1.0" encoding="UTF-8"?>
<feed xmlns="http://www.w3.org/2005/Atom" xmlns:media="http://search.yahoo.com/mrss/">
  <title>Example Channel</title>
  <entry>
    <title>New Video</title>
    <published>2025-06-02T10:00:00+00:00</published>
    <link rel="alternate" href="https://www.youtube.com/watch?v=abc123"/>
    <media:group>
      <media:description>What the video is about</media:description>
    </media:group>
  </entry>
</feed>`

func TestParseFeed_RSS(t *testing.T) {
	items, err := ParseFeed([]byte(rssSample))
	if err != nil {
		t.Fatalf("ParseFeed failed: %v", err)
	}
	if len(items) != 2 {
		t.Fatalf("Expected 2 items, got %d", len(items))
	}

	first := items[0]
	if first.Title != "First Post" {
		t.Errorf("Expected title, got %q", first.Title)
	}
	if first.URL != "https://example.com/first" {
		t.Errorf("Expected link, got %q", first.URL)
	}
	if first.Text != "Body of the first post" {
		t.Errorf("Expected description, got %q", first.Text)
	}
	want := time.Date(2025, 6, 2, 9, 0, 0, 0, time.UTC)
	if !first.PublishedAt.Equal(want) {
		t.Errorf("Expected %v, got %v", want, first.PublishedAt)
	}
}

func TestParseFeed_Atom(t *testing.T) {
	items, err := ParseFeed([]byte(atomSample))
	if err != nil {
		t.Fatalf("ParseFeed failed: %v", err)
	}
	if len(items) != 1 {
		t.Fatalf("Expected 1 entry, got %d", len(items))
	}

	entry := items[0]
	if entry.Title != "New Video" {
		t.Errorf("Expected title, got %q", entry.Title)
	}
	if entry.URL != "https://www.youtube.com/watch?v=abc123" {
		t.Errorf("Expected alternate link, got %q", entry.URL)
	}
	if entry.Text != "What the video is about" {
		t.Errorf("Expected media description, got %q", entry.Text)
	}
	want := time.Date(2025, 6, 2, 10, 0, 0, 0, time.UTC)
	if !entry.PublishedAt.Equal(want) {
		t.Errorf("Expected %v, got %v", want, entry.PublishedAt)
	}
}

func TestParseFeed_Invalid(t *testing.T) {
	if _, err := ParseFeed([]byte("not xml at all")); err == nil {
		t.Error("Expected error for non-feed bytes")
	}
	if _, err := ParseFeed([]byte("   ")); err == nil {
		t.Error("Expected error for empty body")
	}
}

func TestParseFeedTime_Layouts(t *testing.T) {
	cases := []string{
		"Mon, 02 Jun 2025 09:00:00 +0000",
		"Mon, 2 Jun 2025 09:00:00 +0000",
		"2025-06-02T09:00:00Z",
	}
	for _, value := range cases {
		if parseFeedTime(value).IsZero() {
			t.Errorf("Expected %q to parse", value)
		}
	}
	if !parseFeedTime("not a date").IsZero() {
		t.Error("Expected zero time for unparseable value")
	}
}

func TestFeedSource_FetchItems(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(rssSample))
	}))
	defer server.Close()

	source := NewFeedSource("example-blog", core.SourceBlog, server.URL)
	since := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	items, err := source.FetchItems(context.Background(), since)
	if err != nil {
		t.Fatalf("FetchItems failed: %v", err)
	}
	// Only the post published after the cutoff survives.
	if len(items) != 1 {
		t.Fatalf("Expected 1 recent item, got %d", len(items))
	}
	if items[0].Title != "First Post" {
		t.Errorf("Expected the newer post, got %q", items[0].Title)
	}
}

func TestFeedSource_FetchItemsHTTPError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusForbidden)
	}))
	defer server.Close()

	source := NewFeedSource("example-blog", core.SourceBlog, server.URL)
	if _, err := source.FetchItems(context.Background(), time.Time{}); err == nil {
		t.Error("Expected error for non-200 response")
	}
}

func TestBlogSource_FetchItems(t *testing.T) {
	page := `<html><body>
	<div class="post"><h2 class="title">Relative Post</h2><a href="/posts/relative">read</a></div>
	<div class="post"><h2 class="title">Absolute Post</h2><a href="https://other.example.com/abs">read</a></div>
	<div class="post"><h2 class="title"></h2><a href="/posts/untitled">Untitled Anchor Text</a></div>
	</body></html>`

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(page))
	}))
	defer server.Close()

	source := NewBlogSource("example-index", server.URL, "div.post", "h2.title", "")
	items, err := source.FetchItems(context.Background(), time.Time{})
	if err != nil {
		t.Fatalf("FetchItems failed: %v", err)
	}
	if len(items) != 3 {
		t.Fatalf("Expected 3 items, got %d", len(items))
	}

	if items[0].URL != server.URL+"/posts/relative" {
		t.Errorf("Relative links should resolve against the page, got %q", items[0].URL)
	}
	if items[1].URL != "https://other.example.com/abs" {
		t.Errorf("Absolute links should pass through, got %q", items[1].URL)
	}
	// Missing title falls back to the link text.
	if items[2].Title != "Untitled Anchor Text" {
		t.Errorf("Expected anchor-text fallback, got %q", items[2].Title)
	}
}

// memItemStore records inserts, deduplicating on fingerprint.
type memItemStore struct {
	mu    sync.Mutex
	items map[string]core.Item
}

func newMemItemStore() *memItemStore {
	return &memItemStore{items: make(map[string]core.Item)}
}

func (m *memItemStore) InsertItem(item core.Item) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.items[item.Fingerprint]; ok {
		return false, nil
	}
	m.items[item.Fingerprint] = item
	return true, nil
}

// scriptedSource returns canned items or an error.
type scriptedSource struct {
	name  string
	items []RawItem
	err   error
}

func (s *scriptedSource) Name() string          { return s.name }
func (s *scriptedSource) Type() core.SourceType { return core.SourceBlog }
func (s *scriptedSource) FetchItems(ctx context.Context, since time.Time) ([]RawItem, error) {
	return s.items, s.err
}

func TestIngestor_Run(t *testing.T) {
	store := newMemItemStore()
	now := time.Date(2025, 6, 2, 12, 0, 0, 0, time.UTC)
	source := &scriptedSource{name: "scripted", items: []RawItem{
		{Title: "Dated Post", URL: "https://example.com/dated", PublishedAt: now.Add(-time.Hour), Text: "body"},
		{Title: "Undated Post", URL: "https://example.com/undated", Text: "body"},
	}}

	ingestor := NewIngestor(store, []ItemSource{source}, 24*time.Hour)
	report, err := ingestor.Run(context.Background(), now)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if report.Fetched != 2 || report.Stored != 2 || report.Errors != 0 {
		t.Errorf("Unexpected report %+v", report)
	}

	undated := store.items[core.Fingerprint("https://example.com/undated", "Undated Post")]
	if !undated.PublishedAt.Equal(now) {
		t.Errorf("Undated items should be stamped with ingestion time, got %v", undated.PublishedAt)
	}
	if !undated.DiscoveredAt.Equal(now) {
		t.Errorf("Expected discovered_at stamped, got %v", undated.DiscoveredAt)
	}
}

func TestIngestor_RunIdempotent(t *testing.T) {
	store := newMemItemStore()
	now := time.Now().UTC()
	source := &scriptedSource{name: "scripted", items: []RawItem{
		{Title: "Same Post", URL: "https://example.com/same", Text: "body"},
	}}

	ingestor := NewIngestor(store, []ItemSource{source}, 24*time.Hour)
	if _, err := ingestor.Run(context.Background(), now); err != nil {
		t.Fatalf("First run failed: %v", err)
	}
	report, err := ingestor.Run(context.Background(), now.Add(time.Hour))
	if err != nil {
		t.Fatalf("Second run failed: %v", err)
	}
	if report.Stored != 0 {
		t.Errorf("Re-ingesting the same items should store nothing, got %d", report.Stored)
	}
	if len(store.items) != 1 {
		t.Errorf("Expected 1 stored item, got %d", len(store.items))
	}
}

func TestIngestor_FailingSourceSkipped(t *testing.T) {
	store := newMemItemStore()
	broken := &scriptedSource{name: "broken", err: errors.New("upstream down")}
	healthy := &scriptedSource{name: "healthy", items: []RawItem{
		{Title: "Still Works", URL: "https://example.com/works", Text: "body"},
	}}

	ingestor := NewIngestor(store, []ItemSource{broken, healthy}, 24*time.Hour)
	report, err := ingestor.Run(context.Background(), time.Now().UTC())
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if report.Errors != 1 {
		t.Errorf("Expected 1 source error, got %d", report.Errors)
	}
	if report.Stored != 1 {
		t.Errorf("Healthy source should still be ingested, got %d stored", report.Stored)
	}
}
