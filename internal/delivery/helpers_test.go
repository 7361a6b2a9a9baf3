package delivery

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/pders01/covers/internal/cache"
	"github.com/pders01/covers/internal/catalog"
	"github.com/pders01/covers/internal/dispatch"
	"github.com/pders01/covers/internal/resolver"
	"github.com/pders01/covers/internal/storage"
)

const testCatalog = `
papers:
  alpha:
    name: Alpha Times
    trim_whitespace: true
    sources:
      - type: direct
        url: "https://alpha.example/{ISO}.jpg"
  bravo:
    name: Bravo Daily
    sources:
      - type: direct
        url: "https://bravo.example/{ISO}.jpg"
  charlie:
    name: Charlie Herald
    sources:
      - type: direct
        url: "https://charlie.example/{ISO}.jpg"
configs:
  trio: [alpha, bravo, charlie]
default: [alpha, charlie]
`

const (
	hookA = "https://discord.com/api/webhooks/1/aaa"
	hookB = "https://discord.com/api/webhooks/2/bbb"
)

var testDate = time.Date(2026, time.February, 27, 0, 0, 0, 0, time.UTC)

// fakeResolver serves papers from files it wrote up front; keys in fail
// resolve to an error.
type fakeResolver struct {
	mu    sync.Mutex
	paths map[string]string
	fail  map[string]bool
	calls int
	// block makes ResolveMany wait for ctx to end.
	block bool
}

func newFakeResolver(t *testing.T, keys ...string) *fakeResolver {
	t.Helper()
	dir := t.TempDir()
	r := &fakeResolver{paths: map[string]string{}, fail: map[string]bool{}}
	for _, k := range keys {
		p := filepath.Join(dir, k+".jpg")
		require.NoError(t, os.WriteFile(p, []byte("img-"+k), 0o644))
		r.paths[k] = p
	}
	return r
}

func (r *fakeResolver) ResolveMany(ctx context.Context, papers []*catalog.Paper, _ time.Time) resolver.Batch {
	r.mu.Lock()
	r.calls++
	block := r.block
	r.mu.Unlock()
	if block {
		<-ctx.Done()
	}

	var b resolver.Batch
	for _, p := range papers {
		if r.fail[p.Key] || ctx.Err() != nil {
			err := &resolver.AllSourcesFailedError{Key: p.Key, Errors: []error{errors.New("upstream 404")}}
			b.Failed = append(b.Failed, resolver.Failure{Key: p.Key, Name: p.Name, Err: err})
			continue
		}
		b.Resolved = append(b.Resolved, resolver.Resolved{Key: p.Key, Name: p.Name, Path: r.paths[p.Key], Trim: p.TrimWhitespace})
	}
	return b
}

func (r *fakeResolver) Calls() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.calls
}

type combineCall struct {
	paths []string
	trims []bool
	out   string
}

type fakeCompositor struct {
	mu    sync.Mutex
	calls []combineCall
	err   error
}

func (c *fakeCompositor) Combine(paths []string, trims []bool, outPath string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls = append(c.calls, combineCall{paths: paths, trims: trims, out: outPath})
	if c.err != nil {
		return "", c.err
	}
	if err := os.WriteFile(outPath, []byte("composite"), 0o644); err != nil {
		return "", err
	}
	return outPath, nil
}

func (c *fakeCompositor) Calls() []combineCall {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]combineCall(nil), c.calls...)
}

// fakeDispatcher records messages; destinations in fail are rejected.
type fakeDispatcher struct {
	mu       sync.Mutex
	messages []dispatch.Message
	fail     map[string]error
}

func (d *fakeDispatcher) Dispatch(ctx context.Context, msg dispatch.Message) error {
	if err := ctx.Err(); err != nil {
		return &dispatch.DispatchError{Kind: msg.Kind, Destination: msg.Destination, Err: err}
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if err, ok := d.fail[msg.Destination]; ok {
		return err
	}
	d.messages = append(d.messages, msg)
	return nil
}

func (d *fakeDispatcher) Messages() []dispatch.Message {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]dispatch.Message(nil), d.messages...)
}

func (d *fakeDispatcher) To(destination string) []dispatch.Message {
	var out []dispatch.Message
	for _, m := range d.Messages() {
		if m.Destination == destination {
			out = append(out, m)
		}
	}
	return out
}

type harness struct {
	orch       *Orchestrator
	store      *storage.Store
	catalog    *catalog.Catalog
	resolver   *fakeResolver
	compositor *fakeCompositor
	dispatcher *fakeDispatcher
	layout     *cache.Layout
}

func newHarness(t *testing.T) *harness {
	t.Helper()

	store, err := storage.NewStore(filepath.Join(t.TempDir(), "covers.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	cat, err := catalog.Parse([]byte(testCatalog))
	require.NoError(t, err)

	root := t.TempDir()
	layout, err := cache.NewLayout(filepath.Join(root, "downloads"), filepath.Join(root, "generated"))
	require.NoError(t, err)

	h := &harness{
		store:      store,
		catalog:    cat,
		resolver:   newFakeResolver(t, "alpha", "bravo", "charlie"),
		compositor: &fakeCompositor{},
		dispatcher: &fakeDispatcher{fail: map[string]error{}},
		layout:     layout,
	}
	h.orch = New(store, cat, h.resolver, h.compositor, h.dispatcher, layout, Options{
		Concurrency:        3,
		Location:           time.UTC,
		DefaultDestination: hookA,
		Now:                func() time.Time { return testDate.Add(9 * time.Hour) },
	})
	return h
}

func (h *harness) subscribe(t *testing.T, destination string, papers ...string) *storage.Subscription {
	t.Helper()
	kind := storage.KindWebhook
	if !strings.HasPrefix(destination, "https://") {
		kind = storage.KindEmail
	}
	sub, err := h.store.CreateSubscription(destination, kind, papers, "")
	require.NoError(t, err)
	return sub
}

func (h *harness) subscription(t *testing.T, id uint64) *storage.Subscription {
	t.Helper()
	sub, err := h.store.GetSubscription(id)
	require.NoError(t, err)
	return sub
}

func rejected(destination string) error {
	return &dispatch.DispatchError{Kind: storage.KindWebhook, Destination: destination, StatusCode: 404, Body: "Unknown Webhook"}
}
