package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"golang.org/x/term"

	"github.com/pders01/covers/internal/cache"
	"github.com/pders01/covers/internal/catalog"
	"github.com/pders01/covers/internal/compose"
	"github.com/pders01/covers/internal/config"
	"github.com/pders01/covers/internal/delivery"
	"github.com/pders01/covers/internal/dispatch"
	"github.com/pders01/covers/internal/logger"
	"github.com/pders01/covers/internal/metrics"
	"github.com/pders01/covers/internal/report"
	"github.com/pders01/covers/internal/resolver"
	"github.com/pders01/covers/internal/source"
	"github.com/pders01/covers/internal/storage"
)

// app holds the components shared by every command of one invocation.
type app struct {
	cfg      *config.Config
	opts     *rootOptions
	log      logger.Logger
	metrics  *metrics.Metrics
	location *time.Location
	catalog  *catalog.Catalog
	resolver *resolver.Resolver
	layout   *cache.Layout
	renderer *report.Renderer
	out      io.Writer

	store        *storage.Store
	orchestrator *delivery.Orchestrator
}

// newApp loads configuration and the paper catalog and builds the fetch
// pipeline. The subscription store is opened on first use.
func newApp(opts *rootOptions, out io.Writer) (*app, error) {
	cfg, err := config.Load(opts.configPath)
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	if opts.dbPath != "" {
		cfg.Paths.Database = opts.dbPath
	}
	if opts.catalogPath != "" {
		cfg.Paths.Catalog = opts.catalogPath
	}

	log, err := logger.New(logger.Config{Level: cfg.Log.Level, File: cfg.Log.File})
	if err != nil {
		return nil, err
	}
	loc, err := cfg.Delivery.TimeLocation()
	if err != nil {
		return nil, err
	}

	a := &app{
		cfg:      cfg,
		opts:     opts,
		log:      log,
		metrics:  metrics.New(),
		location: loc,
		out:      out,
	}

	client := source.NewClient(cfg.Fetch.HTTPTimeout, cfg.Fetch.UserAgent,
		source.NewHostLimiter(cfg.Fetch.RequestsPerSecond, cfg.Fetch.Burst))
	registry, err := source.NewRegistry(client)
	if err != nil {
		return nil, err
	}

	cat, err := catalog.Load(cfg.Paths.Catalog)
	if err != nil {
		return nil, err
	}
	if err := cat.Validate(registry.Build); err != nil {
		return nil, err
	}
	a.catalog = cat

	downloads, err := cache.NewDirCache(cfg.Paths.Downloads)
	if err != nil {
		return nil, err
	}
	if a.layout, err = cache.NewLayout(cfg.Paths.Downloads, cfg.Paths.Generated); err != nil {
		return nil, err
	}
	a.resolver = resolver.New(downloads, registry, resolver.Options{
		Concurrency: cfg.Fetch.Concurrency,
		Logger:      log.With(logger.String("component", "resolver")),
		Metrics:     a.metrics,
	})

	if a.renderer, err = newRenderer(out, opts.plain); err != nil {
		return nil, err
	}
	return a, nil
}

func newRenderer(out io.Writer, plain bool) (*report.Renderer, error) {
	width := 80
	if f, ok := out.(*os.File); ok {
		fd := int(f.Fd())
		if !term.IsTerminal(fd) {
			plain = true
		} else if w, _, err := term.GetSize(fd); err == nil {
			width = w
		}
	} else {
		plain = true
	}
	return report.NewRenderer(width, "", plain)
}

// delivery opens the store and builds the orchestrator.
func (a *app) delivery() (*delivery.Orchestrator, error) {
	if a.orchestrator != nil {
		return a.orchestrator, nil
	}

	store, err := storage.NewStore(a.cfg.Paths.Database)
	if err != nil {
		return nil, fmt.Errorf("opening subscription store: %w", err)
	}
	a.store = store

	smtp := a.cfg.SMTP
	router := dispatch.NewRouter().
		Handle(storage.KindWebhook, dispatch.NewWebhook(a.cfg.Webhook.Timeout, a.cfg.Webhook.DefaultUsername)).
		Handle(storage.KindEmail, dispatch.NewEmail(dispatch.SMTPSettings{
			Host:      smtp.Host,
			Port:      smtp.Port,
			User:      smtp.User,
			Password:  smtp.Password,
			FromEmail: smtp.FromEmail,
			FromName:  smtp.FromName,
			ReplyTo:   smtp.ReplyTo,
			BaseURL:   smtp.BaseURL,
		}))

	a.orchestrator = delivery.New(store, a.catalog, a.resolver, compose.New(a.cfg.Compose.JPEGQuality), router, a.layout,
		delivery.Options{
			Concurrency:        a.cfg.Delivery.Concurrency,
			Location:           a.location,
			DefaultDestination: a.cfg.Webhook.DefaultURL,
			Logger:             a.log.With(logger.String("component", "delivery")),
			Metrics:            a.metrics,
		})
	a.orchestrator.SetPermissiveValidation(a.opts.permissive)
	return a.orchestrator, nil
}

// day is the current calendar day in the delivery location, or the day
// given as YYYY-MM-DD.
func (a *app) day(s string) (time.Time, error) {
	if s == "" {
		now := time.Now().In(a.location)
		return time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, a.location), nil
	}
	d, err := time.ParseInLocation(time.DateOnly, s, a.location)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date %q, want YYYY-MM-DD", s)
	}
	return d, nil
}

func (a *app) print(md string) error {
	out, err := a.renderer.Render(md)
	if err != nil {
		return err
	}
	_, err = fmt.Fprint(a.out, out)
	return err
}

func (a *app) status(kind report.StatusKind, format string, args ...any) {
	fmt.Fprintln(a.out, report.Status(kind, format, args...))
}

// runDeliver performs one delivery run bounded by the configured deadline.
func (a *app) runDeliver(ctx context.Context, date time.Time, mode delivery.Mode) (*delivery.Report, error) {
	orch, err := a.delivery()
	if err != nil {
		return nil, err
	}
	if a.cfg.Delivery.Deadline > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, a.cfg.Delivery.Deadline)
		defer cancel()
	}
	return orch.DeliverAll(ctx, date, mode)
}

func (a *app) runPrefetch(ctx context.Context, date time.Time) resolver.PrefetchSummary {
	return a.resolver.Prefetch(ctx, a.catalog, date)
}

// pushMetrics sends collected metrics when a Pushgateway is configured.
func (a *app) pushMetrics() {
	if a.cfg.Metrics.Pushgateway == "" {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := a.metrics.Push(ctx, a.cfg.Metrics.Pushgateway, a.cfg.Metrics.Job); err != nil {
		a.log.Warn("metrics push failed", logger.Error(err))
	}
}

func (a *app) Close() error {
	a.pushMetrics()
	var err error
	if a.store != nil {
		err = a.store.Close()
	}
	_ = a.log.Sync()
	return err
}
