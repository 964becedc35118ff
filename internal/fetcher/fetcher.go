// Package fetcher handles feed downloading, parsing, and item normalization.
package fetcher

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/mmcdole/gofeed"
)

const maxBodyBytes = 5 * 1024 * 1024

// HTTPClient is the interface for performing HTTP requests.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// Item is a normalized feed entry.
type Item struct {
	Title       string
	Description string
	URL         string
	ImageURL    string
	Metadata    map[string]string
}

// Fetcher downloads and parses content feeds.
type Fetcher struct {
	client    HTTPClient
	timeout   time.Duration
	userAgent string
}

// New creates a Fetcher with the given HTTP client.
func New(client HTTPClient, userAgent string) *Fetcher {
	if userAgent == "" {
		userAgent = "DealPipe/1.0"
	}
	return &Fetcher{
		client:    client,
		timeout:   30 * time.Second,
		userAgent: userAgent,
	}
}

// Fetch downloads and parses a feed, returning its normalized items.
func (f *Fetcher) Fetch(ctx context.Context, url string) ([]Item, error) {
	ctx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("User-Agent", f.userAgent)

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http get: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}

	parser := gofeed.NewParser()
	feed, err := parser.ParseString(string(body))
	if err != nil {
		return nil, fmt.Errorf("parse feed: %w", err)
	}

	items := make([]Item, 0, len(feed.Items))
	for _, it := range feed.Items {
		items = append(items, normalizeItem(it))
	}
	return items, nil
}

func normalizeItem(it *gofeed.Item) Item {
	desc := it.Description
	if desc == "" {
		desc = it.Content
	}

	meta := map[string]string{}
	if len(it.Authors) > 0 && it.Authors[0] != nil {
		meta["author"] = it.Authors[0].Name
	}
	if it.GUID != "" {
		meta["guid"] = it.GUID
	}
	if len(it.Categories) > 0 {
		meta["categories"] = strings.Join(it.Categories, ",")
	}

	return Item{
		Title:       it.Title,
		Description: desc,
		URL:         it.Link,
		ImageURL:    itemImageURL(it),
		Metadata:    meta,
	}
}

// itemImageURL prefers an image enclosure, falling back to the item image.
func itemImageURL(it *gofeed.Item) string {
	for _, enc := range it.Enclosures {
		if enc == nil {
			continue
		}
		if enc.URL != "" && strings.HasPrefix(enc.Type, "image/") {
			return enc.URL
		}
	}
	if it.Image != nil {
		return it.Image.URL
	}
	return ""
}
