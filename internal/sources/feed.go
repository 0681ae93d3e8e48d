package sources

import (
	"context"
	"dailybrief/internal/core"
	"encoding/xml"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const userAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36"

// FeedSource reads an RSS 2.0 or Atom feed (blog feeds, YouTube channel
// feeds) and returns entries published after the requested cutoff.
type FeedSource struct {
	name       string
	sourceType core.SourceType
	url        string
	client     *http.Client
}

// NewFeedSource builds a feed source. YouTube channel feeds live at
// https://www.youtube.com/feeds/videos.xml?channel_id=UC...
func NewFeedSource(name string, sourceType core.SourceType, url string) *FeedSource {
	return &FeedSource{
		name:       name,
		sourceType: sourceType,
		url:        url,
		client:     &http.Client{Timeout: 15 * time.Second},
	}
}

// Name returns the configured source identifier.
func (f *FeedSource) Name() string { return f.name }

// Type returns the kind of content this feed carries.
func (f *FeedSource) Type() core.SourceType { return f.sourceType }

// rssDocument covers RSS 2.0 feeds.
type rssDocument struct {
	XMLName xml.Name `xml:"rss"`
	Channel struct {
		Items []rssItem `xml:"item"`
	} `xml:"channel"`
}

type rssItem struct {
	Title       string `xml:"title"`
	Link        string `xml:"link"`
	PubDate     string `xml:"pubDate"`
	Description string `xml:"description"`
}

// atomDocument covers Atom feeds, including YouTube's channel feeds.
type atomDocument struct {
	XMLName xml.Name    `xml:"feed"`
	Entries []atomEntry `xml:"entry"`
}

type atomEntry struct {
	Title     string `xml:"title"`
	Published string `xml:"published"`
	Updated   string `xml:"updated"`
	Links     []struct {
		Rel  string `xml:"rel,attr"`
		Href string `xml:"href,attr"`
	} `xml:"link"`
	MediaGroup struct {
		Description string `xml:"description"`
	} `xml:"group"`
	Summary string `xml:"summary"`
}

// FetchItems downloads and parses the feed, keeping entries published
// after since. A quiet feed yields an empty slice.
func (f *FeedSource) FetchItems(ctx context.Context, since time.Time) ([]RawItem, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, f.url, nil)
	if err != nil {
		return nil, fmt.Errorf("new request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch feed %s: %w", f.name, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("feed %s returned %s", f.name, resp.Status)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
	if err != nil {
		return nil, fmt.Errorf("read feed %s: %w", f.name, err)
	}

	items, err := ParseFeed(body)
	if err != nil {
		return nil, fmt.Errorf("parse feed %s: %w", f.name, err)
	}

	var recent []RawItem
	for _, item := range items {
		if item.PublishedAt.IsZero() || item.PublishedAt.After(since) {
			recent = append(recent, item)
		}
	}
	return recent, nil
}

// ParseFeed decodes RSS 2.0 or Atom bytes into raw items.
func ParseFeed(data []byte) ([]RawItem, error) {
	trimmed := strings.TrimSpace(string(data))
	if trimmed == "" {
		return nil, fmt.Errorf("empty feed body")
	}

	var rss rssDocument
	if err := xml.Unmarshal(data, &rss); err == nil && len(rss.Channel.Items) > 0 {
		items := make([]RawItem, 0, len(rss.Channel.Items))
		for _, entry := range rss.Channel.Items {
			items = append(items, RawItem{
				Title:       strings.TrimSpace(entry.Title),
				URL:         strings.TrimSpace(entry.Link),
				PublishedAt: parseFeedTime(entry.PubDate),
				Text:        strings.TrimSpace(entry.Description),
			})
		}
		return items, nil
	}

	var atom atomDocument
	if err := xml.Unmarshal(data, &atom); err != nil {
		return nil, fmt.Errorf("not a recognizable rss or atom feed: %w", err)
	}

	items := make([]RawItem, 0, len(atom.Entries))
	for _, entry := range atom.Entries {
		published := entry.Published
		if published == "" {
			published = entry.Updated
		}
		text := entry.MediaGroup.Description
		if text == "" {
			text = entry.Summary
		}
		items = append(items, RawItem{
			Title:       strings.TrimSpace(entry.Title),
			URL:         atomLink(entry),
			PublishedAt: parseFeedTime(published),
			Text:        strings.TrimSpace(text),
		})
	}
	return items, nil
}

func atomLink(entry atomEntry) string {
	for _, link := range entry.Links {
		if link.Rel == "" || link.Rel == "alternate" {
			return strings.TrimSpace(link.Href)
		}
	}
	if len(entry.Links) > 0 {
		return strings.TrimSpace(entry.Links[0].Href)
	}
	return ""
}

// feedTimeLayouts covers the date formats seen across RSS and Atom feeds.
var feedTimeLayouts = []string{
	time.RFC1123Z,
	time.RFC1123,
	time.RFC3339,
	"Mon, 2 Jan 2006 15:04:05 -0700",
	"2006-01-02T15:04:05Z",
}

func parseFeedTime(value string) time.Time {
	value = strings.TrimSpace(value)
	for _, layout := range feedTimeLayouts {
		if ts, err := time.Parse(layout, value); err == nil {
			return ts.UTC()
		}
	}
	return time.Time{}
}
