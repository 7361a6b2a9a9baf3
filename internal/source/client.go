package source

import (
	"bytes"
	"context"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/gabriel-vasile/mimetype"
	_ "golang.org/x/image/webp"
)

const (
	maxBodyBytes = 32 << 20

	acceptImage = "image/webp,image/jpeg,image/png,image/*;q=0.8,*/*;q=0.5"
	acceptPage  = "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8"
	acceptFeed  = "application/rss+xml, application/atom+xml, application/xml, text/xml"
)

// Client is the HTTP client shared by all fetchers of a run. It sends
// browser-like headers, applies the per-request timeout and waits on the
// host limiter before each request.
type Client struct {
	http      *http.Client
	userAgent string
	limiter   *HostLimiter
}

func NewClient(timeout time.Duration, userAgent string, limiter *HostLimiter) *Client {
	return &Client{
		http: &http.Client{
			Timeout: timeout,
		},
		userAgent: userAgent,
		limiter:   limiter,
	}
}

// get performs a GET and returns the body of a 2xx response. Every failure
// is reported as *UnavailableError for d.
func (c *Client) get(ctx context.Context, d Descriptor, rawURL, accept, referer string) ([]byte, error) {
	if err := c.limiter.Wait(ctx, rawURL); err != nil {
		return nil, unavailable(d, rawURL, "rate limiter", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, unavailable(d, rawURL, "creating request", err)
	}

	req.Header.Set("User-Agent", c.userAgent)
	req.Header.Set("Accept", accept)
	req.Header.Set("Accept-Language", "en-US,en;q=0.9")
	if referer != "" {
		req.Header.Set("Referer", referer)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, unavailable(d, rawURL, "request failed", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
		return nil, &UnavailableError{Source: d.String(), URL: rawURL, StatusCode: resp.StatusCode}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes+1))
	if err != nil {
		return nil, unavailable(d, rawURL, "reading body", err)
	}
	if len(body) > maxBodyBytes {
		return nil, unavailable(d, rawURL, fmt.Sprintf("body exceeds %d bytes", maxBodyBytes), nil)
	}
	return body, nil
}

// image downloads rawURL and checks that the payload really is an image
// that decodes completely. A truncated transfer sniffs as an image but
// fails here, so the caller moves on to the next source.
func (c *Client) image(ctx context.Context, d Descriptor, rawURL, referer string) (*Image, error) {
	body, err := c.get(ctx, d, rawURL, acceptImage, referer)
	if err != nil {
		return nil, err
	}

	mtype := mimetype.Detect(body)
	if !strings.HasPrefix(mtype.String(), "image/") {
		return nil, unavailable(d, rawURL, "corrupt payload: "+mtype.String(), nil)
	}
	if _, _, err := image.Decode(bytes.NewReader(body)); err != nil {
		return nil, unavailable(d, rawURL, "corrupt payload", err)
	}

	return &Image{
		Data: body,
		Ext:  mtype.Extension(),
		URL:  rawURL,
	}, nil
}
