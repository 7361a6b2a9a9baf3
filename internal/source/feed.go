package source

import (
	"bytes"
	"context"
	"path"
	"strings"
	"time"

	"github.com/mmcdole/gofeed"
)

// feedFetcher reads an RSS or Atom feed whose items carry cover images.
type feedFetcher struct {
	desc   Descriptor
	client *Client
}

func newFeedFetcher(d Descriptor, c *Client) (Fetcher, error) {
	if d.URL == "" {
		return nil, invalid(d, "url is required")
	}
	return &feedFetcher{desc: d, client: c}, nil
}

func (f *feedFetcher) Descriptor() Descriptor { return f.desc }

func (f *feedFetcher) Fetch(ctx context.Context, date time.Time) (*Image, error) {
	feedURL := Expand(f.desc.URL, date, f.desc.vars())

	body, err := f.client.get(ctx, f.desc, feedURL, acceptFeed, "")
	if err != nil {
		return nil, err
	}

	parsed, err := gofeed.NewParser().Parse(bytes.NewReader(body))
	if err != nil {
		return nil, unavailable(f.desc, feedURL, "parsing feed", err)
	}

	limit := civil(date)
	var (
		bestURL string
		bestDay time.Time
	)
	for _, item := range parsed.Items {
		published := item.PublishedParsed
		if published == nil {
			published = item.UpdatedParsed
		}
		if published == nil {
			continue
		}
		day := onDay(published.In(date.Location()), date.Location())
		if day.After(limit) || !day.After(bestDay) {
			continue
		}
		if u := itemImage(item); u != "" {
			bestURL, bestDay = u, day
		}
	}
	if bestURL == "" {
		return nil, unavailable(f.desc, feedURL, "no cover item on or before "+date.Format(time.DateOnly), nil)
	}

	assetURL, err := resolveAgainst(feedURL, bestURL)
	if err != nil {
		return nil, unavailable(f.desc, feedURL, "resolving item image", err)
	}

	img, err := f.client.image(ctx, f.desc, assetURL, "")
	if err != nil {
		return nil, err
	}
	img.EditionDate = bestDay
	return img, nil
}

func itemImage(item *gofeed.Item) string {
	for _, enc := range item.Enclosures {
		if enc == nil || enc.URL == "" {
			continue
		}
		if strings.HasPrefix(enc.Type, "image/") || looksLikeImage(enc.URL) {
			return enc.URL
		}
	}
	if item.Image != nil {
		return item.Image.URL
	}
	return ""
}

func looksLikeImage(rawURL string) bool {
	if i := strings.IndexAny(rawURL, "?#"); i >= 0 {
		rawURL = rawURL[:i]
	}
	switch strings.ToLower(path.Ext(rawURL)) {
	case ".jpg", ".jpeg", ".png", ".gif", ".webp":
		return true
	}
	return false
}
