package report

import (
	"bytes"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pders01/covers/internal/catalog"
	"github.com/pders01/covers/internal/delivery"
	"github.com/pders01/covers/internal/resolver"
	"github.com/pders01/covers/internal/search"
	"github.com/pders01/covers/internal/storage"
)

var day = time.Date(2026, time.February, 27, 0, 0, 0, 0, time.UTC)

func TestDelivery(t *testing.T) {
	rep := &delivery.Report{
		Date: day,
		Mode: delivery.Tolerant,
		Took: 1500 * time.Millisecond,
		Outcomes: []delivery.Outcome{
			{SubscriptionID: 1, Label: "nyc", Destination: "https://discord.com/api/webhooks/1/***", Status: delivery.StatusDelivered},
			{SubscriptionID: 2, Label: "mix", Status: delivery.StatusPartial, Missing: []string{"newsday"}},
			{SubscriptionID: 3, Status: delivery.StatusFailed, Err: errors.New("HTTP 404 | unknown"), Deactivated: true},
		},
	}

	md := Delivery(rep)
	assert.Contains(t, md, "# Delivery 2026-02-27 (tolerant)")
	assert.Contains(t, md, "1 sent, 1 partial, 0 skipped, 1 failed, 0 abandoned in 1.5s.")
	assert.Contains(t, md, "| 2 | mix |  | partial | newsday |  |")
	assert.Contains(t, md, `HTTP 404 \| unknown`)
	assert.Contains(t, md, "failed (deactivated)")
	assert.Contains(t, md, "consecutive failures:** #3")
}

func TestDeliveryEmpty(t *testing.T) {
	md := Delivery(&delivery.Report{Date: day})
	assert.Contains(t, md, "No active subscriptions")
}

func TestPrefetch(t *testing.T) {
	md := Prefetch(day, resolver.PrefetchSummary{
		Cached:  []string{"nypost"},
		Fetched: []string{"dailynews", "wsj"},
		Failed:  []resolver.Failure{{Key: "newsday", Name: "Newsday", Err: errors.New("all sources failed")}},
	})
	assert.Contains(t, md, "2 fetched, 1 already cached, 1 failed.")
	assert.Contains(t, md, "**Fetched:** dailynews, wsj")
	assert.Contains(t, md, "**newsday** (Newsday): all sources failed")
}

func TestSubscriptions(t *testing.T) {
	posted := day.Add(7 * time.Hour)
	subs := []*storage.Subscription{
		{ID: 1, Kind: storage.KindWebhook, Destination: "https://discord.com/api/webhooks/1/secret-token", Papers: []string{"nypost", "wsj"}, Active: true, LastPostedAt: &posted},
		{ID: 2, Kind: storage.KindEmail, Destination: "reader@example.com", Papers: []string{"wsj"}, ConsecutiveErrors: 7, LastError: "smtp: 550"},
	}

	md := Subscriptions(subs, time.UTC)
	assert.NotContains(t, md, "secret-token")
	assert.Contains(t, md, "webhooks/1/***")
	assert.Contains(t, md, "reader@example.com")
	assert.Contains(t, md, "2026-02-27 07:00")
	assert.Contains(t, md, "| no | never | 7 | smtp: 550 |")

	assert.Contains(t, Subscriptions(nil, time.UTC), "None yet")
}

func TestAttempts(t *testing.T) {
	md := Attempts(4, []*storage.Attempt{
		{Date: "2026-02-27", Status: "partial", Missing: []string{"newsday"}, At: day.Add(11 * time.Hour)},
	}, time.UTC)
	assert.Contains(t, md, "subscription 4")
	assert.Contains(t, md, "| 2026-02-27 | 11:00:00 | partial | newsday |  |")
}

func TestPapersAndSearch(t *testing.T) {
	cat, err := catalog.Parse([]byte(`
papers:
  nypost:
    name: New York Post
    format: tabloid
    sources:
      - type: direct
        url: "https://nypost.com/{ISO}.jpg"
      - type: freedomforum
        code: NY_NYP
  wsj:
    name: The Wall Street Journal
    sources:
      - type: kiosko
        slug: wsj
        country: us
configs:
  nyc: [nypost]
default: [nypost, wsj]
`))
	require.NoError(t, err)

	md := Papers(cat)
	assert.Contains(t, md, "| nypost | New York Post | tabloid | direct → freedomforum |")
	assert.Contains(t, md, "- **nyc:** nypost")
	assert.Contains(t, md, "Default: nypost, wsj")
	assert.Less(t, strings.Index(md, "| nypost"), strings.Index(md, "| wsj"))

	p, _ := cat.Paper("wsj")
	md = SearchResults("wall", []*search.Result{{Paper: p, Score: 2.5}})
	assert.Contains(t, md, `"wall"`)
	assert.Contains(t, md, "| wsj | The Wall Street Journal |  | 2.50 |")
	assert.Contains(t, SearchResults("zzz", nil), "No matches")
}

func TestRenderer(t *testing.T) {
	plain, err := NewRenderer(80, "", true)
	require.NoError(t, err)
	out, err := plain.Render("# Title\n")
	require.NoError(t, err)
	assert.Equal(t, "# Title\n", out)

	styled, err := NewRenderer(80, "notty", false)
	require.NoError(t, err)
	out, err = styled.Render("# Delivery\n\nall **sent**\n")
	require.NoError(t, err)
	assert.Contains(t, out, "Delivery")
	assert.Contains(t, out, "sent")
}

func TestShowBanner(t *testing.T) {
	var buf bytes.Buffer
	ShowBanner(&buf, "1.0.0-test")
	out := buf.String()

	assert.Contains(t, out, "Daily Front Pages")
	assert.Contains(t, out, "v1.0.0-test")
	assert.Contains(t, out, "╔")
	assert.Contains(t, out, "╝")
	assert.Contains(t, out, "◆")
}

func TestStatus(t *testing.T) {
	assert.Contains(t, Status(StatusSuccess, "delivered %d", 3), "✓ delivered 3")
	assert.Contains(t, Status(StatusError, "failed"), "✗ failed")
}
