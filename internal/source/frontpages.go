package source

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
)

var modifiedMetaSelectors = []string{
	"meta[property='article:modified_time']",
	"meta[property='og:updated_time']",
	"meta[itemprop='dateModified']",
}

var metaTimeLayouts = []string{
	time.RFC3339,
	"2006-01-02T15:04:05-0700",
	"2006-01-02T15:04:05",
	time.DateOnly,
}

// frontpagesFetcher scrapes a paper page for an encoded asset path hidden in
// an inline script.
type frontpagesFetcher struct {
	desc    Descriptor
	client  *Client
	pattern *regexp.Regexp
}

func newFrontpagesFetcher(d Descriptor, c *Client) (Fetcher, error) {
	if d.Page == "" {
		return nil, invalid(d, "page is required")
	}
	if strings.Contains(d.Page, "{slug}") && d.Slug == "" {
		return nil, invalid(d, "slug is required")
	}
	pattern, err := compilePattern(d)
	if err != nil {
		return nil, err
	}
	switch d.Encoding {
	case "", "none", "reverse", "base64":
	default:
		return nil, invalid(d, fmt.Sprintf("unknown encoding %q", d.Encoding))
	}
	return &frontpagesFetcher{desc: d, client: c, pattern: pattern}, nil
}

func (f *frontpagesFetcher) Descriptor() Descriptor { return f.desc }

func (f *frontpagesFetcher) Fetch(ctx context.Context, date time.Time) (*Image, error) {
	pageURL := Expand(f.desc.Page, date, f.desc.vars())

	body, err := f.client.get(ctx, f.desc, pageURL, acceptPage, "")
	if err != nil {
		return nil, err
	}

	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil, unavailable(f.desc, pageURL, "parsing page", err)
	}

	encoded := f.findEncoded(doc)
	if encoded == "" {
		return nil, unavailable(f.desc, pageURL, "asset pattern not found", nil)
	}

	decoded, err := decodeAsset(encoded, f.desc.Encoding)
	if err != nil {
		return nil, unavailable(f.desc, pageURL, "decoding asset path", err)
	}

	assetURL, err := resolveAgainst(pageURL, decoded)
	if err != nil {
		return nil, unavailable(f.desc, pageURL, "resolving asset path", err)
	}

	img, err := f.client.image(ctx, f.desc, assetURL, pageURL)
	if err != nil {
		return nil, err
	}

	img.EditionDate = civil(date)
	if modified, ok := modifiedDate(doc); ok {
		img.EditionDate = onDay(modified.In(date.Location()), date.Location())
	}
	return img, nil
}

func (f *frontpagesFetcher) findEncoded(doc *goquery.Document) string {
	var found string
	doc.Find("script").EachWithBreak(func(_ int, s *goquery.Selection) bool {
		if m := f.pattern.FindStringSubmatch(s.Text()); len(m) > 1 && m[1] != "" {
			found = m[1]
			return false
		}
		return true
	})
	return found
}

func decodeAsset(encoded, encoding string) (string, error) {
	switch encoding {
	case "reverse":
		runes := []rune(encoded)
		for i, j := 0, len(runes)-1; i < j; i, j = i+1, j-1 {
			runes[i], runes[j] = runes[j], runes[i]
		}
		return string(runes), nil
	case "base64":
		for _, enc := range []*base64.Encoding{base64.StdEncoding, base64.RawStdEncoding, base64.URLEncoding, base64.RawURLEncoding} {
			if b, err := enc.DecodeString(encoded); err == nil {
				return string(b), nil
			}
		}
		return "", fmt.Errorf("invalid base64 %q", encoded)
	default:
		return encoded, nil
	}
}

func resolveAgainst(base, ref string) (string, error) {
	b, err := url.Parse(base)
	if err != nil {
		return "", err
	}
	r, err := url.Parse(strings.TrimSpace(ref))
	if err != nil {
		return "", err
	}
	return b.ResolveReference(r).String(), nil
}

// modifiedDate reads the page's last-modified timestamp from meta tags or
// JSON-LD.
func modifiedDate(doc *goquery.Document) (time.Time, bool) {
	for _, sel := range modifiedMetaSelectors {
		if content, ok := doc.Find(sel).First().Attr("content"); ok {
			if t, ok := parseMetaTime(content); ok {
				return t, true
			}
		}
	}

	var found time.Time
	doc.Find("script[type='application/ld+json']").EachWithBreak(func(_ int, s *goquery.Selection) bool {
		var raw any
		if err := json.Unmarshal([]byte(s.Text()), &raw); err != nil {
			return true
		}
		if v, ok := findJSONKey(raw, "dateModified"); ok {
			if t, ok := parseMetaTime(v); ok {
				found = t
				return false
			}
		}
		return true
	})
	return found, !found.IsZero()
}

func findJSONKey(v any, key string) (string, bool) {
	switch node := v.(type) {
	case map[string]any:
		if s, ok := node[key].(string); ok {
			return s, true
		}
		for _, child := range node {
			if s, ok := findJSONKey(child, key); ok {
				return s, true
			}
		}
	case []any:
		for _, child := range node {
			if s, ok := findJSONKey(child, key); ok {
				return s, true
			}
		}
	}
	return "", false
}

func parseMetaTime(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	for _, layout := range metaTimeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

func compilePattern(d Descriptor) (*regexp.Regexp, error) {
	if d.Pattern == "" {
		return nil, invalid(d, "pattern is required")
	}
	re, err := regexp.Compile(d.Pattern)
	if err != nil {
		return nil, invalid(d, fmt.Sprintf("pattern: %v", err))
	}
	if re.NumSubexp() < 1 {
		return nil, invalid(d, "pattern needs a capture group")
	}
	return re, nil
}
