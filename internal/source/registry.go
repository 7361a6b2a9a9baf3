package source

import (
	"errors"
	"fmt"
	"sort"
	"sync"
)

// ErrInvalidDescriptor matches descriptors that cannot be compiled.
var ErrInvalidDescriptor = errors.New("invalid source descriptor")

func invalid(d Descriptor, reason string) error {
	return fmt.Errorf("%w: %s: %s", ErrInvalidDescriptor, d.String(), reason)
}

// Constructor compiles a descriptor of one kind into a Fetcher.
type Constructor func(d Descriptor, c *Client) (Fetcher, error)

// Registry maps kinds to constructors. Adding a kind means registering one
// more constructor.
type Registry struct {
	mu           sync.RWMutex
	constructors map[Kind]Constructor
	defaults     map[Kind]KindDefaults
	client       *Client
}

// NewRegistry returns a registry with every built-in kind registered. All
// fetchers it builds share client.
func NewRegistry(client *Client) (*Registry, error) {
	defaults, err := loadKindDefaults(kindsTOML)
	if err != nil {
		return nil, err
	}

	r := &Registry{
		constructors: make(map[Kind]Constructor),
		defaults:     defaults,
		client:       client,
	}
	r.Register(KindDirect, newTemplateFetcher)
	r.Register(KindFreedomForum, newTemplateFetcher)
	r.Register(KindKiosko, newTemplateFetcher)
	r.Register(KindFrontpages, newFrontpagesFetcher)
	r.Register(KindScrape, newScrapeFetcher)
	r.Register(KindFeed, newFeedFetcher)
	return r, nil
}

// Register adds or replaces the constructor for kind.
func (r *Registry) Register(kind Kind, ctor Constructor) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.constructors[kind] = ctor
}

// Build applies kind defaults to d and compiles it.
func (r *Registry) Build(d Descriptor) (Fetcher, error) {
	r.mu.RLock()
	ctor, ok := r.constructors[d.Kind]
	def := r.defaults[d.Kind]
	r.mu.RUnlock()

	if !ok {
		return nil, invalid(d, fmt.Sprintf("unknown kind %q", d.Kind))
	}
	return ctor(d.withDefaults(def), r.client)
}

// Kinds lists the registered kinds in sorted order.
func (r *Registry) Kinds() []Kind {
	r.mu.RLock()
	defer r.mu.RUnlock()

	kinds := make([]Kind, 0, len(r.constructors))
	for k := range r.constructors {
		kinds = append(kinds, k)
	}
	sort.Slice(kinds, func(i, j int) bool { return kinds[i] < kinds[j] })
	return kinds
}
