package source

import (
	"context"
	"time"
)

// templateFetcher serves direct, freedomforum and kiosko: the asset URL is a
// pure function of the requested date.
type templateFetcher struct {
	desc   Descriptor
	client *Client
}

func newTemplateFetcher(d Descriptor, c *Client) (Fetcher, error) {
	if d.URL == "" {
		return nil, invalid(d, "url template is required")
	}
	switch d.Kind {
	case KindFreedomForum:
		if d.Code == "" {
			return nil, invalid(d, "code is required")
		}
	case KindKiosko:
		if d.Slug == "" || d.Country == "" {
			return nil, invalid(d, "slug and country are required")
		}
	}
	return &templateFetcher{desc: d, client: c}, nil
}

func (f *templateFetcher) Descriptor() Descriptor { return f.desc }

func (f *templateFetcher) Fetch(ctx context.Context, date time.Time) (*Image, error) {
	rawURL := Expand(f.desc.URL, date, f.desc.vars())

	img, err := f.client.image(ctx, f.desc, rawURL, "")
	if err != nil {
		return nil, err
	}
	img.EditionDate = civil(date)
	return img, nil
}
