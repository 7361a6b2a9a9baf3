package delivery

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pders01/covers/internal/catalog"
	"github.com/pders01/covers/internal/storage"
)

func TestTestDeliveryCreatesSubscription(t *testing.T) {
	h := newHarness(t)

	sub, err := h.orch.TestDelivery(context.Background(), "  "+hookB+" ", []string{"alpha", "bravo"}, "morning", testDate)
	require.NoError(t, err)

	assert.Equal(t, hookB, sub.Destination)
	assert.Equal(t, storage.KindWebhook, sub.Kind)
	assert.Equal(t, []string{"alpha", "bravo"}, sub.Papers)
	assert.Equal(t, "morning", sub.Label)
	assert.True(t, sub.Active)

	msgs := h.dispatcher.To(hookB)
	require.Len(t, msgs, 1)
	assert.Equal(t, "morning", msgs[0].Label)
	assert.Zero(t, msgs[0].SubscriptionID)
	assert.NoFileExists(t, msgs[0].ImagePath, "transient composite is removed")
}

func TestTestDeliveryFailureCreatesNothing(t *testing.T) {
	tests := []struct {
		name        string
		destination string
		papers      []string
		setup       func(h *harness)
	}{
		{name: "not a destination", destination: "ftp://example.com", papers: []string{"alpha"}},
		{name: "non discord webhook", destination: "https://example.com/hook", papers: []string{"alpha"}},
		{name: "no papers", destination: hookA},
		{name: "unknown paper", destination: hookA, papers: []string{"zulu"}},
		{
			name: "paper unavailable", destination: hookA, papers: []string{"alpha", "bravo"},
			setup: func(h *harness) { h.resolver.fail["bravo"] = true },
		},
		{
			name: "rejected", destination: hookA, papers: []string{"alpha"},
			setup: func(h *harness) { h.dispatcher.fail[hookA] = rejected(hookA) },
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t)
			if tt.setup != nil {
				tt.setup(h)
			}

			_, err := h.orch.TestDelivery(context.Background(), tt.destination, tt.papers, "", testDate)
			require.Error(t, err)

			subs, err := h.store.ListSubscriptions()
			require.NoError(t, err)
			assert.Empty(t, subs)

			leftovers, _ := filepath.Glob(filepath.Join(h.layout.Generated, "*-test-*.jpg"))
			assert.Empty(t, leftovers)
		})
	}
}

func TestTestDeliveryUnknownPaperIsConfigError(t *testing.T) {
	h := newHarness(t)
	_, err := h.orch.TestDelivery(context.Background(), hookA, []string{"zulu"}, "", testDate)
	assert.True(t, catalog.IsConfigError(err))
}

func TestPreview(t *testing.T) {
	h := newHarness(t)
	sub := h.subscribe(t, hookA, "alpha", "charlie")

	assert.ErrorIs(t, h.orch.Preview(context.Background(), sub.ID, hookB, testDate), ErrForbidden)
	assert.ErrorIs(t, h.orch.Preview(context.Background(), 999, hookA, testDate), ErrForbidden)
	assert.Empty(t, h.dispatcher.Messages())

	require.NoError(t, h.orch.Preview(context.Background(), sub.ID, hookA, testDate))

	msgs := h.dispatcher.Messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, h.layout.CompositePath(testDate, "preview-1"), msgs[0].ImagePath)
	assert.Equal(t, sub.ID, msgs[0].SubscriptionID)
	assert.True(t, h.subscription(t, sub.ID).DeliveredOn(testDate))
}

func TestPreviewFailureRecordsError(t *testing.T) {
	h := newHarness(t)
	sub := h.subscribe(t, hookA, "alpha")
	h.dispatcher.fail[hookA] = rejected(hookA)

	err := h.orch.Preview(context.Background(), sub.ID, hookA, testDate)
	require.Error(t, err)
	assert.Equal(t, 1, h.subscription(t, sub.ID).ConsecutiveErrors)
}

func TestPreviewFailureCountsLikeDeliverAll(t *testing.T) {
	t.Run("compose failure is not counted", func(t *testing.T) {
		h := newHarness(t)
		sub := h.subscribe(t, hookA, "alpha")
		h.compositor.err = errors.New("disk full")

		err := h.orch.Preview(context.Background(), sub.ID, hookA, testDate)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "disk full")
		assert.Empty(t, h.dispatcher.Messages())

		got := h.subscription(t, sub.ID)
		assert.Zero(t, got.ConsecutiveErrors)
		assert.Empty(t, got.LastError)

		report, err := h.orch.DeliverAll(context.Background(), testDate, Strict)
		require.NoError(t, err)
		out, ok := report.Outcome(sub.ID)
		require.True(t, ok)
		assert.Equal(t, StatusFailed, out.Status)
		assert.Zero(t, h.subscription(t, sub.ID).ConsecutiveErrors, "both paths agree")
	})

	t.Run("missing paper is counted", func(t *testing.T) {
		h := newHarness(t)
		sub := h.subscribe(t, hookA, "alpha")
		h.resolver.fail["alpha"] = true

		err := h.orch.Preview(context.Background(), sub.ID, hookA, testDate)
		var missing *MissingPapersError
		require.ErrorAs(t, err, &missing)
		assert.Equal(t, 1, h.subscription(t, sub.ID).ConsecutiveErrors)
	})
}

func TestPreviewRefusesInactive(t *testing.T) {
	h := newHarness(t)
	sub := h.subscribe(t, hookA, "alpha")
	require.NoError(t, h.store.DeactivateSubscription(sub.ID))

	assert.ErrorIs(t, h.orch.Preview(context.Background(), sub.ID, hookA, testDate), ErrInactive)
	assert.Empty(t, h.dispatcher.Messages())
}

func TestPostSelection(t *testing.T) {
	tests := []struct {
		name      string
		req       PostRequest
		wantLabel string
		wantPaths []string
	}{
		{
			name:      "explicit keys",
			req:       PostRequest{Keys: []string{"charlie", "alpha"}},
			wantLabel: "alpha-charlie",
			wantPaths: []string{"charlie", "alpha"},
		},
		{
			name:      "named group",
			req:       PostRequest{Group: "trio"},
			wantLabel: "trio",
			wantPaths: []string{"alpha", "bravo", "charlie"},
		},
		{
			name:      "catalog default",
			req:       PostRequest{},
			wantLabel: DefaultLabel,
			wantPaths: []string{"alpha", "charlie"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t)
			tt.req.Date = testDate

			res, err := h.orch.Post(context.Background(), tt.req)
			require.NoError(t, err)
			assert.Equal(t, tt.wantLabel, res.Label)
			assert.True(t, res.Sent)
			assert.Equal(t, h.layout.CompositePath(testDate, tt.wantLabel), res.ImagePath)

			calls := h.compositor.Calls()
			require.Len(t, calls, 1)
			want := make([]string, len(tt.wantPaths))
			for i, k := range tt.wantPaths {
				want[i] = h.resolver.paths[k]
			}
			assert.Equal(t, want, calls[0].paths)

			msgs := h.dispatcher.To(hookA)
			require.Len(t, msgs, 1, "default destination is used")
			assert.Empty(t, msgs[0].Note)
		})
	}
}

func TestPostReusesComposite(t *testing.T) {
	h := newHarness(t)
	req := PostRequest{Date: testDate, Group: "trio"}

	first, err := h.orch.Post(context.Background(), req)
	require.NoError(t, err)
	second, err := h.orch.Post(context.Background(), req)
	require.NoError(t, err)

	assert.Equal(t, first.ImagePath, second.ImagePath)
	assert.Len(t, h.compositor.Calls(), 1, "an up-to-date composite is sent as is")
	assert.Len(t, h.dispatcher.To(hookA), 2)

	// A newer cover invalidates the composite.
	later := time.Now().Add(time.Hour)
	require.NoError(t, os.Chtimes(h.resolver.paths["bravo"], later, later))
	_, err = h.orch.Post(context.Background(), req)
	require.NoError(t, err)
	assert.Len(t, h.compositor.Calls(), 2)
}

func TestPostErrors(t *testing.T) {
	h := newHarness(t)

	_, err := h.orch.Post(context.Background(), PostRequest{Date: testDate, Group: "nope"})
	assert.True(t, catalog.IsConfigError(err))

	h.resolver.fail["bravo"] = true
	_, err = h.orch.Post(context.Background(), PostRequest{Date: testDate, Group: "trio"})
	var missing *MissingPapersError
	assert.ErrorAs(t, err, &missing)

	h.orch.defaultDestination = ""
	_, err = h.orch.Post(context.Background(), PostRequest{Date: testDate})
	assert.ErrorIs(t, err, ErrNoDestination)

	res, err := h.orch.Post(context.Background(), PostRequest{Date: testDate, ComposeOnly: true})
	require.NoError(t, err)
	assert.False(t, res.Sent)
	assert.FileExists(t, res.ImagePath)
	assert.Empty(t, h.dispatcher.Messages())
}

func TestFlashback(t *testing.T) {
	h := newHarness(t)

	err := h.orch.Flashback(context.Background(), testDate, "", "")
	require.Error(t, err, "no composite yet")
	assert.Empty(t, h.dispatcher.Messages())

	path := h.layout.CompositePath(testDate, DefaultLabel)
	require.NoError(t, os.WriteFile(path, []byte("composite"), 0o644))

	require.NoError(t, h.orch.Flashback(context.Background(), testDate, "", "reader@example.com"))

	msgs := h.dispatcher.Messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, FlashbackPrefix, msgs[0].Note)
	assert.Equal(t, path, msgs[0].ImagePath)
	assert.Equal(t, storage.KindEmail, msgs[0].Kind)
}

func TestFlashbackRejectsPathLabels(t *testing.T) {
	h := newHarness(t)
	err := h.orch.Flashback(context.Background(), testDate, "../secrets", "")
	require.Error(t, err)
}

func TestFlashbackLabel(t *testing.T) {
	assert.Equal(t, "alpha-bravo", FlashbackLabel([]string{"bravo", "alpha"}, "trio"))
	assert.Equal(t, "trio", FlashbackLabel(nil, "trio"))
	assert.Equal(t, DefaultLabel, FlashbackLabel(nil, ""))
}

func TestParseDate(t *testing.T) {
	h := newHarness(t)
	d, err := h.orch.ParseDate("2026-02-27")
	require.NoError(t, err)
	assert.True(t, d.Equal(testDate))

	_, err = h.orch.ParseDate("27/02/2026")
	assert.Error(t, err)
}
