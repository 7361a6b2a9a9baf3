package main

import (
	"context"
	"time"

	"github.com/spf13/cobra"

	"github.com/pders01/covers/internal/delivery"
	"github.com/pders01/covers/internal/logger"
	"github.com/pders01/covers/internal/report"
	"github.com/pders01/covers/internal/schedule"
)

func newServeCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run prefetch and delivery on the configured schedule until interrupted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(opts, cmd, func(a *app) error {
				if !opts.quiet {
					report.ShowBanner(a.out, Version)
				}
				sched, err := newScheduler(a)
				if err != nil {
					return err
				}

				for _, e := range sched.Entries() {
					a.status(report.StatusInfo, "%-8s %-14s next %s", e.Name, e.Spec, e.Next.Format("Mon 15:04 MST"))
				}
				sched.Start()
				a.log.Info("scheduler started", logger.String("location", a.location.String()))

				<-cmd.Context().Done()
				a.status(report.StatusWarn, "Shutting down, waiting for running jobs")

				ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
				defer cancel()
				return sched.Stop(ctx)
			})
		},
	}
}

// newScheduler registers the daily prefetch, the hourly strict deliveries
// and the final tolerant delivery.
func newScheduler(a *app) (*schedule.Scheduler, error) {
	// Open the store before jobs can run concurrently.
	if _, err := a.delivery(); err != nil {
		return nil, err
	}

	sched := schedule.New(a.location, a.log.With(logger.String("component", "schedule")), a.metrics)
	deliver := func(mode delivery.Mode) func(context.Context) error {
		return func(ctx context.Context) error {
			defer a.pushMetrics()
			rep, err := a.runDeliver(ctx, a.orchestrator.Today(), mode)
			if err != nil {
				return err
			}
			a.log.Info("delivery run finished",
				logger.String("mode", mode.String()),
				logger.Int("sent", rep.Sent()),
				logger.Int("failed", rep.Count(delivery.StatusFailed)),
				logger.Int("skipped", rep.Count(delivery.StatusSkipped)))
			return nil
		}
	}

	jobs := []schedule.Job{
		{
			Name:    "prefetch",
			Spec:    a.cfg.Schedule.Prefetch,
			Timeout: a.cfg.Delivery.Deadline,
			Run: func(ctx context.Context) error {
				defer a.pushMetrics()
				a.runPrefetch(ctx, a.orchestrator.Today())
				return ctx.Err()
			},
		},
		{Name: "deliver", Spec: a.cfg.Schedule.Deliver, Timeout: a.cfg.Delivery.Deadline, Run: deliver(delivery.Strict)},
		{Name: "final", Spec: a.cfg.Schedule.Final, Timeout: a.cfg.Delivery.Deadline, Run: deliver(delivery.Tolerant)},
	}
	for _, job := range jobs {
		if job.Spec == "" {
			continue
		}
		if err := sched.Add(job); err != nil {
			return nil, err
		}
	}
	return sched, nil
}
