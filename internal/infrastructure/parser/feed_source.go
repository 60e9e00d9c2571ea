package parser

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/mmcdole/gofeed"

	"AIFlash/internal/config"
	"AIFlash/internal/domain"
	"AIFlash/internal/ports"
)

// Entries whose content is shorter than this fall back to the description.
const minContentLength = 100

// FeedSource pulls RSS and Atom feeds listed in config.
type FeedSource struct {
	feeds  []config.FeedConfig
	client *http.Client
	parser *gofeed.Parser
	logger *slog.Logger
	now    func() time.Time
}

var _ ports.RawSource = (*FeedSource)(nil)

// NewFeedSource wires the configured feeds with an HTTP client.
func NewFeedSource(feeds []config.FeedConfig, client *http.Client, logger *slog.Logger) *FeedSource {
	if client == nil {
		client = &http.Client{Timeout: 20 * time.Second}
	}
	return &FeedSource{
		feeds:  feeds,
		client: client,
		parser: gofeed.NewParser(),
		logger: logger,
		now:    time.Now,
	}
}

// Fetch reads every feed. A broken feed is logged and skipped so the others still land.
func (f *FeedSource) Fetch(ctx context.Context, since time.Time) ([]domain.RawItem, error) {
	var (
		items  []domain.RawItem
		failed int
	)

	for _, feed := range f.feeds {
		fetched, err := f.fetchFeed(ctx, feed, since)
		if err != nil {
			failed++
			f.warn("feed fetch failed", "feed", feed.Name, "url", feed.URL, "error", err)
			continue
		}
		f.debug("feed fetched", "feed", feed.Name, "items", len(fetched))
		items = append(items, fetched...)
	}

	if failed > 0 && failed == len(f.feeds) {
		return nil, fmt.Errorf("all %d feeds failed", failed)
	}
	return items, nil
}

func (f *FeedSource) fetchFeed(ctx context.Context, feed config.FeedConfig, since time.Time) ([]domain.RawItem, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, feed.URL, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request feed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("feed returned %s", resp.Status)
	}

	parsed, err := f.parser.Parse(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("parse feed: %w", err)
	}

	source := feed.Name
	if source == "" {
		source = strings.TrimSpace(parsed.Title)
	}

	items := make([]domain.RawItem, 0, len(parsed.Items))
	for i, entry := range parsed.Items {
		if feed.Limit > 0 && i >= feed.Limit {
			break
		}

		item, ok := f.toRawItem(entry, parsed, source)
		if !ok {
			continue
		}
		if !since.IsZero() && item.PublishedAt.Before(since) {
			continue
		}
		items = append(items, item)
	}
	return items, nil
}

func (f *FeedSource) toRawItem(entry *gofeed.Item, feed *gofeed.Feed, source string) (domain.RawItem, bool) {
	title := collapseSpaces(entry.Title)
	link := extractLink(entry)
	if title == "" || link == "" {
		return domain.RawItem{}, false
	}

	description := HTMLToText(entry.Description)
	body := HTMLToText(entry.Content)
	if len(body) < minContentLength {
		body = description
	}

	return domain.RawItem{
		Title:       title,
		Summary:     description,
		Body:        body,
		Link:        link,
		Source:      source,
		PublishedAt: f.publishedAt(entry, feed),
	}, true
}

// publishedAt prefers the entry dates, then the feed date, then the current UTC day so
// undated entries keep a stable id for the whole day.
func (f *FeedSource) publishedAt(entry *gofeed.Item, feed *gofeed.Feed) time.Time {
	switch {
	case entry.PublishedParsed != nil:
		return entry.PublishedParsed.UTC()
	case entry.UpdatedParsed != nil:
		return entry.UpdatedParsed.UTC()
	case feed.PublishedParsed != nil:
		return feed.PublishedParsed.UTC()
	default:
		return f.now().UTC().Truncate(24 * time.Hour)
	}
}

func extractLink(entry *gofeed.Item) string {
	if link := strings.TrimSpace(entry.Link); link != "" {
		return link
	}
	if strings.HasPrefix(entry.GUID, "http") {
		return entry.GUID
	}
	return ""
}

func (f *FeedSource) debug(msg string, args ...any) {
	if f.logger != nil {
		f.logger.Debug(msg, args...)
	}
}

func (f *FeedSource) warn(msg string, args ...any) {
	if f.logger != nil {
		f.logger.Warn(msg, args...)
	}
}
