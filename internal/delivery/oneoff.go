package delivery

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/pders01/covers/internal/cache"
	"github.com/pders01/covers/internal/dispatch"
	"github.com/pders01/covers/internal/logger"
	"github.com/pders01/covers/internal/storage"
	"github.com/pders01/covers/internal/validation"
)

// FlashbackPrefix marks a re-sent composite from an earlier day.
const FlashbackPrefix = "FLASHBACK: "

// DefaultLabel names composites of the catalog's default grouping.
const DefaultLabel = "combined"

// ErrNoDestination is returned when neither the request nor the
// configuration names somewhere to send to.
var ErrNoDestination = errors.New("no destination given and no default webhook configured")

// errCompose marks a failure to write the composite locally. It says nothing
// about the subscription, so it never counts toward deactivation.
var errCompose = errors.New("composing")

// composeAll resolves every key for date and writes the composite to path.
// Any unresolved paper fails the whole call. With reuse, a composite at path
// that is newer than every input is kept as is.
func (o *Orchestrator) composeAll(ctx context.Context, keys []string, date time.Time, path string, reuse bool) error {
	papers, err := o.catalog.Lookup(keys)
	if err != nil {
		return err
	}
	batch := o.resolver.ResolveMany(ctx, papers, date)
	if err := ctx.Err(); err != nil {
		return err
	}
	if len(batch.Failed) > 0 {
		return &MissingPapersError{Failures: batch.Failed}
	}
	if reuse && fresh(path, batch.Paths()) {
		return nil
	}
	if _, err := o.compositor.Combine(batch.Paths(), batch.Trims(), path); err != nil {
		return fmt.Errorf("%w: %w", errCompose, err)
	}
	return nil
}

// TestDelivery sends one composite of papers to destination and, when that
// succeeds, creates the subscription. The transient composite is removed
// either way.
func (o *Orchestrator) TestDelivery(ctx context.Context, destination string, papers []string, label string, date time.Time) (*storage.Subscription, error) {
	kind, destination, err := o.validate(destination)
	if err != nil {
		return nil, fmt.Errorf("invalid destination: %w", err)
	}
	if len(papers) == 0 {
		return nil, errors.New("at least one paper is required")
	}
	label = strings.TrimSpace(label)
	date = o.day(date)

	path := o.layout.CompositePath(date, cache.TestLabel())
	defer os.Remove(path)

	if err := o.composeAll(ctx, papers, date, path, false); err != nil {
		return nil, fmt.Errorf("test delivery: %w", err)
	}
	err = o.dispatcher.Dispatch(ctx, dispatch.Message{
		Kind:        kind,
		Destination: destination,
		ImagePath:   path,
		Date:        date,
		Label:       label,
	})
	if err != nil {
		return nil, fmt.Errorf("test delivery: %w", err)
	}

	sub, err := o.store.CreateSubscription(destination, kind, papers, label)
	if err != nil {
		return nil, err
	}
	o.log.Info("subscription created",
		logger.Uint64("subscription", sub.ID),
		logger.String("kind", string(kind)),
		logger.String("destination", dispatch.Redact(destination)),
		logger.Strings("papers", papers))
	return sub, nil
}

// Preview sends today's composite to a subscription on demand. destination
// must match the stored one. Like a scheduled delivery, missing papers and a
// rejected send count toward the subscription's health; a local compose
// failure does not.
func (o *Orchestrator) Preview(ctx context.Context, id uint64, destination string, date time.Time) error {
	sub, err := o.store.GetSubscription(id)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return ErrForbidden
		}
		return err
	}
	if sub.Destination != strings.TrimSpace(destination) {
		return ErrForbidden
	}
	if !sub.Active {
		return ErrInactive
	}

	date = o.day(date)
	log := o.log.With(logger.Uint64("subscription", id), logger.String("destination", dispatch.Redact(sub.Destination)))
	path := o.layout.CompositePath(date, cache.PreviewLabel(id))

	err = o.composeAll(ctx, sub.Papers, date, path, false)
	if errors.Is(err, errCompose) {
		log.Error("compose failed", logger.Error(err))
		return fmt.Errorf("preview: %w", err)
	}
	if err == nil {
		err = o.dispatcher.Dispatch(ctx, dispatch.Message{
			Kind:           sub.Kind,
			Destination:    sub.Destination,
			ImagePath:      path,
			Date:           date,
			Label:          sub.Label,
			SubscriptionID: sub.ID,
		})
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}
	if err != nil {
		out := o.fail(log, sub, Outcome{SubscriptionID: id}, err)
		if out.Deactivated {
			return fmt.Errorf("preview: %w (subscription deactivated)", err)
		}
		return fmt.Errorf("preview: %w", err)
	}

	if err := o.store.RecordSuccess(id, o.stamp(date)); err != nil {
		return fmt.Errorf("recording success: %w", err)
	}
	log.Info("preview delivered")
	return nil
}

// PostRequest selects the papers of an ad-hoc post: Keys, else the named
// Group, else the catalog default.
type PostRequest struct {
	Date        time.Time
	Keys        []string
	Group       string
	Destination string
	// ComposeOnly writes the composite without sending it.
	ComposeOnly bool
}

type PostResult struct {
	Label     string
	ImagePath string
	Sent      bool
}

// Post composes the requested papers for a day and sends the result to the
// request's destination or the configured default. A composite already
// built from the same cached covers is sent again without recomposing.
func (o *Orchestrator) Post(ctx context.Context, req PostRequest) (*PostResult, error) {
	keys, label, err := o.selection(req.Keys, req.Group)
	if err != nil {
		return nil, err
	}

	date := o.day(req.Date)
	res := &PostResult{Label: label, ImagePath: o.layout.CompositePath(date, label)}

	var kind storage.DestinationKind
	destination := req.Destination
	if !req.ComposeOnly {
		if destination == "" {
			destination = o.defaultDestination
		}
		if destination == "" {
			return nil, ErrNoDestination
		}
		if kind, destination, err = o.validate(destination); err != nil {
			return nil, fmt.Errorf("invalid destination: %w", err)
		}
	}

	if err := o.composeAll(ctx, keys, date, res.ImagePath, true); err != nil {
		return nil, err
	}
	if req.ComposeOnly {
		return res, nil
	}

	err = o.dispatcher.Dispatch(ctx, dispatch.Message{
		Kind:        kind,
		Destination: destination,
		ImagePath:   res.ImagePath,
		Date:        date,
	})
	if err != nil {
		return res, err
	}
	res.Sent = true
	o.log.Info("posted", logger.String("label", label), logger.Date("date", date))
	return res, nil
}

func (o *Orchestrator) selection(keys []string, group string) ([]string, string, error) {
	switch {
	case len(keys) > 0:
		return keys, cache.KeysLabel(keys), nil
	case group != "":
		keys, err := o.catalog.Group(group)
		if err != nil {
			return nil, "", err
		}
		return keys, group, nil
	default:
		return append([]string(nil), o.catalog.Default...), DefaultLabel, nil
	}
}

// FlashbackLabel picks the composite label a flashback re-sends, the same
// way Post names what it writes.
func FlashbackLabel(keys []string, group string) string {
	switch {
	case len(keys) > 0:
		return cache.KeysLabel(keys)
	case group != "":
		return group
	default:
		return DefaultLabel
	}
}

// Flashback re-sends an existing composite from date, marked as such.
func (o *Orchestrator) Flashback(ctx context.Context, date time.Time, label, destination string) error {
	if label == "" {
		label = DefaultLabel
	}
	if err := validation.ValidateLabel(label); err != nil {
		return err
	}

	date = o.day(date)
	path := o.layout.CompositePath(date, label)
	if _, err := os.Stat(path); err != nil {
		return fmt.Errorf("no composite %q for %s: %w", label, date.Format(time.DateOnly), err)
	}

	if destination == "" {
		destination = o.defaultDestination
	}
	if destination == "" {
		return ErrNoDestination
	}
	kind, destination, err := o.validate(destination)
	if err != nil {
		return fmt.Errorf("invalid destination: %w", err)
	}

	return o.dispatcher.Dispatch(ctx, dispatch.Message{
		Kind:        kind,
		Destination: destination,
		ImagePath:   path,
		Date:        date,
		Note:        FlashbackPrefix,
	})
}
