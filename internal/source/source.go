// Package source fetches a single front-page image from one upstream.
//
// Each upstream strategy is a Kind. A Descriptor from the paper catalog is
// compiled by the Registry into a Fetcher for its kind; fetchers never fall
// back to each other, ordering and fallback belong to the resolver.
package source

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"
)

// Kind names one upstream strategy.
type Kind string

const (
	KindFrontpages   Kind = "frontpages"
	KindFreedomForum Kind = "freedomforum"
	KindKiosko       Kind = "kiosko"
	KindDirect       Kind = "direct"
	KindScrape       Kind = "scrape"
	KindFeed         Kind = "feed"
)

// Descriptor configures one way of obtaining a paper's cover. Which fields
// are meaningful depends on Kind.
type Descriptor struct {
	Kind Kind `yaml:"type"`

	Slug    string `yaml:"slug,omitempty"`
	Code    string `yaml:"code,omitempty"`
	Country string `yaml:"country,omitempty"`

	// URL is the asset template for direct, kiosko, freedomforum and scrape,
	// and the feed address for feed.
	URL string `yaml:"url,omitempty"`
	// Page is the HTML page scraped by frontpages and scrape.
	Page string `yaml:"page,omitempty"`
	// Pattern is a regexp with one capture group.
	Pattern    string `yaml:"pattern,omitempty"`
	Encoding   string `yaml:"encoding,omitempty"`
	DateLayout string `yaml:"date_layout,omitempty"`

	// MaxAgeDays admits editions older than the requested date, for papers
	// that do not publish daily.
	MaxAgeDays int `yaml:"max_age_days,omitempty"`
}

// String identifies the descriptor in logs and aggregated errors.
func (d Descriptor) String() string {
	switch {
	case d.Slug != "":
		return fmt.Sprintf("%s:%s", d.Kind, d.Slug)
	case d.Code != "":
		return fmt.Sprintf("%s:%s", d.Kind, d.Code)
	case d.URL != "":
		return fmt.Sprintf("%s:%s", d.Kind, d.URL)
	case d.Page != "":
		return fmt.Sprintf("%s:%s", d.Kind, d.Page)
	default:
		return string(d.Kind)
	}
}

// Admits reports whether an edition dated edition satisfies a request for
// requested under this descriptor's age allowance.
func (d Descriptor) Admits(requested, edition time.Time) bool {
	req := civil(requested)
	ed := civil(edition)
	if ed.After(req) {
		return false
	}
	days := int(math.Round(req.Sub(ed).Hours() / 24))
	return days <= d.MaxAgeDays
}

// Image is one fetched cover.
type Image struct {
	Data []byte
	// Ext is the detected file extension including the dot.
	Ext string
	// EditionDate is the date the publisher associates with the cover,
	// which may differ from the requested date.
	EditionDate time.Time
	URL         string
}

// Fetcher retrieves one image from one upstream for a requested date.
type Fetcher interface {
	Descriptor() Descriptor
	Fetch(ctx context.Context, date time.Time) (*Image, error)
}

// ErrUnavailable matches every *UnavailableError.
var ErrUnavailable = errors.New("source unavailable")

// UnavailableError reports that a single source could not produce an image:
// a network failure, a non-2xx status, a failed extraction or a payload
// that is not an image.
type UnavailableError struct {
	Source     string
	URL        string
	StatusCode int
	Reason     string
	Err        error
}

func (e *UnavailableError) Error() string {
	var b strings.Builder
	b.WriteString(e.Source)
	b.WriteString(": ")
	switch {
	case e.StatusCode != 0:
		fmt.Fprintf(&b, "HTTP %d", e.StatusCode)
	case e.Reason != "":
		b.WriteString(e.Reason)
	default:
		b.WriteString("unavailable")
	}
	if e.URL != "" {
		fmt.Fprintf(&b, " (%s)", e.URL)
	}
	if e.Err != nil {
		fmt.Fprintf(&b, ": %v", e.Err)
	}
	return b.String()
}

func (e *UnavailableError) Unwrap() error { return e.Err }

func (e *UnavailableError) Is(target error) bool { return target == ErrUnavailable }

func unavailable(d Descriptor, rawURL, reason string, err error) *UnavailableError {
	return &UnavailableError{Source: d.String(), URL: rawURL, Reason: reason, Err: err}
}

// civil truncates t to midnight of its calendar day, keeping its location.
func civil(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}

// onDay returns the calendar day of t expressed in loc, so that dates from
// page metadata compare cleanly against a requested date.
func onDay(t time.Time, loc *time.Location) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, loc)
}
