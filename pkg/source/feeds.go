package source

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/mmcdole/gofeed"
)

// CategoryFeeds is the mention category served by Feeds.
const CategoryFeeds = "feeds"

// RSSFeed is a named RSS/Atom feed URL.
type RSSFeed struct {
	Name string
	URL  string
}

// Feeds counts mentions of a title across a fixed set of RSS/Atom feeds.
// Feeds are fetched at most once per refresh interval and shared by all
// keywords of a run.
type Feeds struct {
	client  *http.Client
	parser  *gofeed.Parser
	feeds   []RSSFeed
	refresh time.Duration

	mu        sync.Mutex
	texts     []string
	fetchedAt time.Time
}

// NewFeeds creates a new feed-backed mention counter.
func NewFeeds(feeds []RSSFeed, timeout time.Duration) *Feeds {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Feeds{
		client:  &http.Client{Timeout: timeout},
		parser:  gofeed.NewParser(),
		feeds:   feeds,
		refresh: 30 * time.Minute,
	}
}

func (f *Feeds) CountMentions(ctx context.Context, category, query string) (int64, error) {
	if category != CategoryFeeds {
		return 0, fmt.Errorf("feeds: unsupported category %q", category)
	}
	texts, err := f.load(ctx)
	if err != nil {
		return 0, err
	}

	needle := strings.ToLower(strings.TrimSpace(query))
	if needle == "" {
		return 0, nil
	}
	var n int64
	for _, text := range texts {
		if strings.Contains(text, needle) {
			n++
		}
	}
	return n, nil
}

func (f *Feeds) load(ctx context.Context) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.texts != nil && time.Since(f.fetchedAt) < f.refresh {
		return f.texts, nil
	}

	var texts []string
	var failed int
	for _, feed := range f.feeds {
		entries, err := f.collectFeed(ctx, feed)
		if err != nil {
			failed++
			continue
		}
		texts = append(texts, entries...)
	}
	if failed == len(f.feeds) && failed > 0 {
		return nil, fmt.Errorf("feeds: all %d feeds failed", failed)
	}

	if texts == nil {
		texts = []string{}
	}
	f.texts = texts
	f.fetchedAt = time.Now()
	return texts, nil
}

func (f *Feeds) collectFeed(ctx context.Context, feed RSSFeed) ([]string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, feed.URL, nil)
	if err != nil {
		return nil, fmt.Errorf("create rss request %s: %w", feed.Name, err)
	}
	req.Header.Set("User-Agent", "filmradar/1.0")

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch rss %s: %w", feed.Name, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("rss %s status %d", feed.Name, resp.StatusCode)
	}

	parsed, err := f.parser.Parse(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("parse rss %s: %w", feed.Name, err)
	}

	texts := make([]string, 0, len(parsed.Items))
	for _, entry := range parsed.Items {
		texts = append(texts, strings.ToLower(entry.Title+" "+entry.Description))
	}
	return texts, nil
}

// CategoryRouter dispatches each mention category to the counter serving it.
type CategoryRouter map[string]MentionCounter

func (r CategoryRouter) CountMentions(ctx context.Context, category, query string) (int64, error) {
	c, ok := r[category]
	if !ok || c == nil {
		return 0, fmt.Errorf("no mention counter for category %q", category)
	}
	return c.CountMentions(ctx, category, query)
}
