package datasource

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"slices"
	"strings"
	"time"

	"github.com/mmcdole/gofeed"
	"github.com/rs/zerolog/log"

	"github.com/moexbonds/moexbonds/internal/infra"
	"github.com/moexbonds/moexbonds/pkg/models"
)

// DefaultNewsFeeds are the Russian market RSS feeds read when none are configured.
var DefaultNewsFeeds = []string{
	"https://www.moex.com/export/news.aspx?cat=100",
	"https://www.cbr.ru/rss/RssPress",
}

// News reads market headlines from RSS feeds.
type News struct {
	feeds   []string
	client  *http.Client
	cache   *infra.Cache[[]models.NewsItem]
	limiter *infra.RateLimiter
	parser  *gofeed.Parser
}

// NewNews creates a news source over feeds (DefaultNewsFeeds when empty).
func NewNews(feeds []string, client *http.Client) *News {
	if len(feeds) == 0 {
		feeds = DefaultNewsFeeds
	}
	if client == nil {
		client = NewHTTPClient(15 * time.Second)
	}
	return &News{
		feeds:   feeds,
		client:  client,
		cache:   infra.NewCache[[]models.NewsItem](10 * time.Minute),
		limiter: infra.NewRateLimiter(2, time.Second), // conservative: 2 req/s
		parser:  gofeed.NewParser(),
	}
}

// Name returns the data source name.
func (n *News) Name() string { return "Market News" }

// Headlines returns up to limit recent items across all feeds, newest
// first. Failing feeds are skipped; an error is returned only when every
// feed fails.
func (n *News) Headlines(ctx context.Context, limit int) ([]models.NewsItem, error) {
	cacheKey := fmt.Sprintf("news:%d", limit)
	if cached, ok := n.cache.Get(cacheKey); ok {
		return cached, nil
	}

	var (
		all     []models.NewsItem
		lastErr error
		okFeeds int
	)
	for _, u := range n.feeds {
		items, err := n.fetchRSS(ctx, u)
		if err != nil {
			log.Debug().Err(err).Str("feed", u).Msg("news feed skipped")
			lastErr = err
			continue
		}
		okFeeds++
		all = append(all, items...)
	}
	if okFeeds == 0 && lastErr != nil {
		return nil, fmt.Errorf("news: all feeds failed: %w", lastErr)
	}

	slices.SortStableFunc(all, func(a, b models.NewsItem) int {
		return b.PublishedAt.Compare(a.PublishedAt)
	})
	if limit > 0 && len(all) > limit {
		all = all[:limit]
	}

	n.cache.Set(cacheKey, all)
	return all, nil
}

func (n *News) fetchRSS(ctx context.Context, u string) ([]models.NewsItem, error) {
	if err := n.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	body, err := doGet(ctx, n.client, u, map[string]string{"Accept": "application/rss+xml, application/xml, text/xml"})
	if err != nil {
		return nil, err
	}
	feed, err := n.parser.Parse(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("parse RSS %s: %w", u, err)
	}

	source := strings.TrimSpace(feed.Title)
	items := make([]models.NewsItem, 0, len(feed.Items))
	for _, it := range feed.Items {
		title := strings.TrimSpace(it.Title)
		if title == "" {
			continue
		}
		item := models.NewsItem{Title: title, Link: it.Link, Source: source}
		if it.PublishedParsed != nil {
			item.PublishedAt = *it.PublishedParsed
		} else if it.UpdatedParsed != nil {
			item.PublishedAt = *it.UpdatedParsed
		}
		items = append(items, item)
	}
	return items, nil
}
