package source

import (
	"context"
	"fmt"
	"regexp"
	"time"
)

// scrapeFetcher discovers the latest published date on an index page and
// builds the asset URL from it.
type scrapeFetcher struct {
	desc    Descriptor
	client  *Client
	pattern *regexp.Regexp
}

func newScrapeFetcher(d Descriptor, c *Client) (Fetcher, error) {
	if d.Page == "" || d.URL == "" {
		return nil, invalid(d, "page and url are required")
	}
	if d.DateLayout == "" {
		return nil, invalid(d, "date_layout is required")
	}
	pattern, err := compilePattern(d)
	if err != nil {
		return nil, err
	}
	return &scrapeFetcher{desc: d, client: c, pattern: pattern}, nil
}

func (f *scrapeFetcher) Descriptor() Descriptor { return f.desc }

func (f *scrapeFetcher) Fetch(ctx context.Context, date time.Time) (*Image, error) {
	pageURL := Expand(f.desc.Page, date, f.desc.vars())

	body, err := f.client.get(ctx, f.desc, pageURL, acceptPage, "")
	if err != nil {
		return nil, err
	}

	edition, ok := latestDate(string(body), f.pattern, f.desc.DateLayout, date)
	if !ok {
		return nil, unavailable(f.desc, pageURL,
			fmt.Sprintf("no edition on or before %s", date.Format(time.DateOnly)), nil)
	}

	img, err := f.client.image(ctx, f.desc, Expand(f.desc.URL, edition, f.desc.vars()), pageURL)
	if err != nil {
		return nil, err
	}
	img.EditionDate = edition
	return img, nil
}

// latestDate returns the most recent date captured by pattern that is not
// after requested.
func latestDate(body string, pattern *regexp.Regexp, layout string, requested time.Time) (time.Time, bool) {
	limit := civil(requested)
	var best time.Time
	for _, m := range pattern.FindAllStringSubmatch(body, -1) {
		t, err := time.ParseInLocation(layout, m[1], requested.Location())
		if err != nil {
			continue
		}
		t = civil(t)
		if t.After(limit) {
			continue
		}
		if t.After(best) {
			best = t
		}
	}
	return best, !best.IsZero()
}
