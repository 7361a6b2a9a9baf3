// Package resolver turns a paper and a date into a local image path, using
// the cache first and then each configured source in order.
package resolver

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/pders01/covers/internal/cache"
	"github.com/pders01/covers/internal/catalog"
	"github.com/pders01/covers/internal/logger"
	"github.com/pders01/covers/internal/metrics"
	"github.com/pders01/covers/internal/source"
)

// Builder compiles descriptors into fetchers. *source.Registry implements it.
type Builder interface {
	Build(d source.Descriptor) (source.Fetcher, error)
}

type Options struct {
	// Concurrency bounds parallel paper resolutions in ResolveMany.
	Concurrency int
	Logger      logger.Logger
	Metrics     *metrics.Metrics
}

type Resolver struct {
	cache       cache.Cache
	builder     Builder
	concurrency int
	log         logger.Logger
	metrics     *metrics.Metrics
	flight      singleflight.Group
}

func New(c cache.Cache, b Builder, opts Options) *Resolver {
	if opts.Concurrency < 1 {
		opts.Concurrency = 1
	}
	if opts.Logger == nil {
		opts.Logger = logger.NewNop()
	}
	return &Resolver{
		cache:       c,
		builder:     b,
		concurrency: opts.Concurrency,
		log:         opts.Logger,
		metrics:     opts.Metrics,
	}
}

// Resolve returns the cached path of paper's front page for date, fetching
// it if needed. Each source is tried at most once. When every source fails
// the error is an *AllSourcesFailedError; cache write failures are returned
// as plain errors.
func (r *Resolver) Resolve(ctx context.Context, paper *catalog.Paper, date time.Time) (string, error) {
	if path, ok := r.cache.Lookup(paper.Key, date); ok {
		r.metrics.ObserveCache(true)
		return path, nil
	}
	r.metrics.ObserveCache(false)

	log := r.log.With(logger.String("paper", paper.Key), logger.Date("date", date))

	var errs []error
	for _, d := range paper.Sources {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}

		fetcher, err := r.builder.Build(d)
		if err != nil {
			errs = append(errs, err)
			continue
		}

		img, err := fetcher.Fetch(ctx, date)
		r.metrics.ObserveFetch(string(d.Kind), err)
		if err != nil {
			log.Debug("source failed", logger.String("source", d.String()), logger.Error(err))
			errs = append(errs, err)
			continue
		}

		edition := img.EditionDate
		if edition.IsZero() {
			edition = date
		}

		if sameDay(edition, date) {
			path, err := r.cache.Store(paper.Key, date, img.Ext, img.Data)
			if err != nil {
				return "", fmt.Errorf("caching %s: %w", paper.Key, err)
			}
			log.Info("fetched front page", logger.String("source", d.String()), logger.String("path", path))
			return path, nil
		}

		// Keep the edition under its own date; it must never fill the
		// requested date's slot.
		path, ok := r.cache.Lookup(paper.Key, edition)
		if !ok {
			if path, err = r.cache.Store(paper.Key, edition, img.Ext, img.Data); err != nil {
				return "", fmt.Errorf("caching %s: %w", paper.Key, err)
			}
		}

		if d.Admits(date, edition) {
			log.Info("using earlier edition",
				logger.String("source", d.String()), logger.Date("edition", edition), logger.String("path", path))
			return path, nil
		}

		stale := &StaleEditionError{Source: d.String(), Requested: date, Edition: edition}
		log.Debug("stale edition", logger.Error(stale))
		errs = append(errs, stale)
	}

	return "", &AllSourcesFailedError{Key: paper.Key, Errors: errs}
}

// Resolved is one successfully resolved paper.
type Resolved struct {
	Key  string
	Name string
	Path string
	Trim bool
}

// Failure is one paper that could not be resolved.
type Failure struct {
	Key  string
	Name string
	Err  error
}

// Batch holds the outcome of ResolveMany, both lists in input order.
type Batch struct {
	Resolved []Resolved
	Failed   []Failure
}

func (b Batch) Paths() []string {
	paths := make([]string, len(b.Resolved))
	for i, r := range b.Resolved {
		paths[i] = r.Path
	}
	return paths
}

func (b Batch) Trims() []bool {
	trims := make([]bool, len(b.Resolved))
	for i, r := range b.Resolved {
		trims[i] = r.Trim
	}
	return trims
}

func (b Batch) FailedKeys() []string {
	keys := make([]string, len(b.Failed))
	for i, f := range b.Failed {
		keys[i] = f.Key
	}
	return keys
}

func (b Batch) FailedNames() []string {
	names := make([]string, len(b.Failed))
	for i, f := range b.Failed {
		names[i] = f.Name
	}
	return names
}

// ResolveMany resolves papers concurrently. It never fails as a whole:
// per-paper errors land in Batch.Failed.
func (r *Resolver) ResolveMany(ctx context.Context, papers []*catalog.Paper, date time.Time) Batch {
	paths := make([]string, len(papers))
	errs := make([]error, len(papers))

	var g errgroup.Group
	g.SetLimit(r.concurrency)
	for i, p := range papers {
		i, p := i, p
		g.Go(func() error {
			paths[i], errs[i] = r.resolveShared(ctx, p, date)
			return nil
		})
	}
	_ = g.Wait()

	var batch Batch
	for i, p := range papers {
		r.metrics.ObserveResolve(errs[i])
		if errs[i] != nil {
			batch.Failed = append(batch.Failed, Failure{Key: p.Key, Name: p.Name, Err: errs[i]})
			continue
		}
		batch.Resolved = append(batch.Resolved, Resolved{Key: p.Key, Name: p.Name, Path: paths[i], Trim: p.TrimWhitespace})
	}
	return batch
}

// resolveShared collapses concurrent resolutions of the same paper and date.
func (r *Resolver) resolveShared(ctx context.Context, p *catalog.Paper, date time.Time) (string, error) {
	key := p.Key + "|" + date.Format(time.DateOnly)
	v, err, _ := r.flight.Do(key, func() (any, error) {
		return r.Resolve(ctx, p, date)
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

// PrefetchSummary reports what a prefetch run did per paper key.
type PrefetchSummary struct {
	Cached  []string
	Fetched []string
	Failed  []Failure
}

// Prefetch warms the cache for every paper in cat.
func (r *Resolver) Prefetch(ctx context.Context, cat *catalog.Catalog, date time.Time) PrefetchSummary {
	var (
		summary PrefetchSummary
		pending []*catalog.Paper
	)
	for _, key := range cat.Keys() {
		if _, ok := r.cache.Lookup(key, date); ok {
			summary.Cached = append(summary.Cached, key)
			continue
		}
		p, _ := cat.Paper(key)
		pending = append(pending, p)
	}

	batch := r.ResolveMany(ctx, pending, date)
	for _, res := range batch.Resolved {
		summary.Fetched = append(summary.Fetched, res.Key)
	}
	summary.Failed = batch.Failed

	r.log.Info("prefetch finished",
		logger.Date("date", date),
		logger.Int("cached", len(summary.Cached)),
		logger.Int("fetched", len(summary.Fetched)),
		logger.Int("failed", len(summary.Failed)))
	return summary
}

func sameDay(a, b time.Time) bool {
	return a.Format(time.DateOnly) == b.Format(time.DateOnly)
}
