// Package delivery runs the daily fan-out of composites to subscriptions,
// plus the one-off sends around it: test deliveries, previews, ad-hoc posts
// and flashbacks.
package delivery

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/pders01/covers/internal/cache"
	"github.com/pders01/covers/internal/catalog"
	"github.com/pders01/covers/internal/dispatch"
	"github.com/pders01/covers/internal/logger"
	"github.com/pders01/covers/internal/metrics"
	"github.com/pders01/covers/internal/resolver"
	"github.com/pders01/covers/internal/storage"
	"github.com/pders01/covers/internal/validation"
)

// Store is the subscription state the orchestrator reads and updates.
// *storage.Store implements it.
type Store interface {
	GetActiveSubscriptions() ([]*storage.Subscription, error)
	GetSubscription(id uint64) (*storage.Subscription, error)
	CreateSubscription(destination string, kind storage.DestinationKind, papers []string, label string) (*storage.Subscription, error)
	RecordSuccess(id uint64, at time.Time) error
	RecordError(id uint64, msg string) (bool, error)
	RecordAttempt(a *storage.Attempt) error
}

// PaperResolver is implemented by *resolver.Resolver.
type PaperResolver interface {
	ResolveMany(ctx context.Context, papers []*catalog.Paper, date time.Time) resolver.Batch
}

// Compositor is implemented by *compose.Compositor.
type Compositor interface {
	Combine(paths []string, trims []bool, outPath string) (string, error)
}

type Options struct {
	// Concurrency bounds subscriptions processed in parallel.
	Concurrency int
	// Location decides which calendar day a timestamp belongs to.
	Location *time.Location
	// DefaultDestination receives posts and flashbacks without a destination.
	DefaultDestination string
	Logger             logger.Logger
	Metrics            *metrics.Metrics
	Now                func() time.Time
}

type Orchestrator struct {
	store      Store
	catalog    *catalog.Catalog
	resolver   PaperResolver
	compositor Compositor
	dispatcher dispatch.Dispatcher
	layout     *cache.Layout

	concurrency        int
	location           *time.Location
	defaultDestination string
	log                logger.Logger
	metrics            *metrics.Metrics
	now                func() time.Time

	mu        sync.RWMutex
	validator *validation.DestinationValidator
}

func New(store Store, cat *catalog.Catalog, res PaperResolver, comp Compositor, disp dispatch.Dispatcher, layout *cache.Layout, opts Options) *Orchestrator {
	if opts.Concurrency < 1 {
		opts.Concurrency = 1
	}
	if opts.Location == nil {
		opts.Location = time.Local
	}
	if opts.Logger == nil {
		opts.Logger = logger.NewNop()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Orchestrator{
		store:              store,
		catalog:            cat,
		resolver:           res,
		compositor:         comp,
		dispatcher:         disp,
		layout:             layout,
		concurrency:        opts.Concurrency,
		location:           opts.Location,
		defaultDestination: opts.DefaultDestination,
		log:                opts.Logger,
		metrics:            opts.Metrics,
		now:                opts.Now,
		validator:          validation.NewDestinationValidator(),
	}
}

// SetPermissiveValidation accepts any webhook host, including local ones.
func (o *Orchestrator) SetPermissiveValidation(permissive bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if permissive {
		o.validator = validation.NewPermissiveDestinationValidator()
	} else {
		o.validator = validation.NewDestinationValidator()
	}
}

func (o *Orchestrator) validate(destination string) (storage.DestinationKind, string, error) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.validator.Validate(destination)
}

// Today is the current calendar day in the delivery location.
func (o *Orchestrator) Today() time.Time {
	return o.day(o.now())
}

// ParseDate reads a YYYY-MM-DD day in the delivery location.
func (o *Orchestrator) ParseDate(s string) (time.Time, error) {
	d, err := time.ParseInLocation(time.DateOnly, s, o.location)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date %q: %w", s, err)
	}
	return d, nil
}

func (o *Orchestrator) day(t time.Time) time.Time {
	t = t.In(o.location)
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, o.location)
}

// stamp is the LastPostedAt recorded for a delivery of date: the current
// time for today, the day itself for backfills.
func (o *Orchestrator) stamp(date time.Time) time.Time {
	now := o.now().In(o.location)
	if o.day(now).Equal(date) {
		return now
	}
	return date
}

// DeliverAll sends date's composite to every active subscription. Per
// subscription failures are reported in the Report; the error is non-nil
// only when the subscriptions cannot be listed.
func (o *Orchestrator) DeliverAll(ctx context.Context, date time.Time, mode Mode) (*Report, error) {
	subs, err := o.store.GetActiveSubscriptions()
	if err != nil {
		return nil, fmt.Errorf("listing subscriptions: %w", err)
	}

	date = o.day(date)
	report := &Report{
		Date:     date,
		Mode:     mode,
		Started:  o.now(),
		Outcomes: make([]Outcome, len(subs)),
	}
	o.log.Info("delivery run starting",
		logger.Date("date", date), logger.String("mode", mode.String()), logger.Int("subscriptions", len(subs)))

	var g errgroup.Group
	g.SetLimit(o.concurrency)
	for i, sub := range subs {
		i, sub := i, sub
		g.Go(func() error {
			report.Outcomes[i] = o.deliverSubscription(ctx, sub, date, mode)
			return nil
		})
	}
	_ = g.Wait()

	report.Took = o.now().Sub(report.Started)
	o.log.Info("delivery run finished",
		logger.Date("date", date),
		logger.Int("sent", report.Sent()),
		logger.Int("skipped", report.Count(StatusSkipped)),
		logger.Int("failed", report.Count(StatusFailed)),
		logger.Int("abandoned", report.Count(StatusAbandoned)),
		logger.Duration("took", report.Took))
	return report, nil
}

func (o *Orchestrator) deliverSubscription(ctx context.Context, sub *storage.Subscription, date time.Time, mode Mode) Outcome {
	out := Outcome{
		SubscriptionID: sub.ID,
		Label:          subscriptionLabel(sub),
		Destination:    dispatch.Redact(sub.Destination),
	}
	log := o.log.With(logger.Uint64("subscription", sub.ID), logger.String("destination", out.Destination))

	out = o.attempt(ctx, log, sub, date, mode, out)

	o.metrics.ObserveDelivery(string(out.Status), out.Deactivated)
	if out.Status != StatusAbandoned {
		o.recordAttempt(log, sub.ID, date, out)
	}
	return out
}

func (o *Orchestrator) attempt(ctx context.Context, log logger.Logger, sub *storage.Subscription, date time.Time, mode Mode, out Outcome) Outcome {
	if !sub.Active || sub.DeliveredOn(date) {
		out.Status = StatusSkipped
		log.Debug("already delivered or inactive")
		return out
	}
	if ctx.Err() != nil {
		out.Status, out.Err = StatusAbandoned, ctx.Err()
		return out
	}

	papers, err := o.catalog.Lookup(sub.Papers)
	if err != nil {
		return o.fail(log, sub, out, err)
	}

	batch := o.resolver.ResolveMany(ctx, papers, date)
	if ctx.Err() != nil {
		out.Status, out.Err = StatusAbandoned, ctx.Err()
		log.Warn("run deadline reached during resolve; subscription left untouched")
		return out
	}

	var note string
	if len(batch.Failed) > 0 {
		out.Missing = batch.FailedKeys()
		missing := &MissingPapersError{Failures: batch.Failed}
		if mode == Strict || len(batch.Resolved) == 0 {
			return o.fail(log, sub, out, missing)
		}
		note = apology(batch.FailedNames())
		log.Warn("sending partial composite", logger.Strings("missing", out.Missing))
	}

	path := o.layout.CompositePath(date, cache.SubscriptionLabel(sub.ID))
	if len(batch.Failed) > 0 || !fresh(path, batch.Paths()) {
		if _, err := o.compositor.Combine(batch.Paths(), batch.Trims(), path); err != nil {
			out.Status, out.Err = StatusFailed, fmt.Errorf("composing: %w", err)
			log.Error("compose failed", logger.Error(err))
			return out
		}
	}
	out.ImagePath = path

	err = o.dispatcher.Dispatch(ctx, dispatch.Message{
		Kind:           sub.Kind,
		Destination:    sub.Destination,
		ImagePath:      path,
		Date:           date,
		Note:           note,
		Label:          sub.Label,
		SubscriptionID: sub.ID,
	})
	if err != nil {
		if ctx.Err() != nil {
			out.Status, out.Err = StatusAbandoned, ctx.Err()
			log.Warn("run deadline reached during dispatch; subscription left untouched")
			return out
		}
		return o.fail(log, sub, out, err)
	}

	if err := o.store.RecordSuccess(sub.ID, o.stamp(date)); err != nil {
		out.Status, out.Err = StatusFailed, fmt.Errorf("recording success: %w", err)
		log.Error("delivered but could not record success", logger.Error(err))
		return out
	}

	out.Status = StatusDelivered
	if note != "" {
		out.Status = StatusPartial
	}
	log.Info("delivered", logger.String("status", string(out.Status)))
	return out
}

// fail counts cause against the subscription, deactivating it at the
// threshold.
func (o *Orchestrator) fail(log logger.Logger, sub *storage.Subscription, out Outcome, cause error) Outcome {
	out.Status, out.Err = StatusFailed, cause

	deactivated, err := o.store.RecordError(sub.ID, cause.Error())
	if err != nil {
		log.Error("could not record delivery error", logger.Error(err), logger.String("cause", cause.Error()))
		out.Err = errors.Join(cause, fmt.Errorf("recording error: %w", err))
		return out
	}
	out.Deactivated = deactivated

	log.Warn("delivery failed", logger.Error(cause), logger.Bool("deactivated", deactivated))
	return out
}

func (o *Orchestrator) recordAttempt(log logger.Logger, id uint64, date time.Time, out Outcome) {
	a := &storage.Attempt{
		SubscriptionID: id,
		Date:           date.Format(time.DateOnly),
		Status:         string(out.Status),
		Missing:        out.Missing,
		Deactivated:    out.Deactivated,
		At:             o.now(),
	}
	if out.Err != nil {
		a.Error = out.Err.Error()
	}
	if err := o.store.RecordAttempt(a); err != nil {
		log.Error("could not record attempt", logger.Error(err))
	}
}

// fresh reports whether the composite at path exists and is at least as
// new as every input.
func fresh(path string, inputs []string) bool {
	info, err := os.Stat(path)
	if err != nil || info.Size() == 0 {
		return false
	}
	for _, in := range inputs {
		src, err := os.Stat(in)
		if err != nil || src.ModTime().After(info.ModTime()) {
			return false
		}
	}
	return true
}

func subscriptionLabel(sub *storage.Subscription) string {
	if sub.Label != "" {
		return sub.Label
	}
	return cache.KeysLabel(sub.Papers)
}
