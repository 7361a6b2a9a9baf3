package main

import (
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/pders01/covers/internal/delivery"
	"github.com/pders01/covers/internal/logger"
	"github.com/pders01/covers/internal/report"
	"github.com/pders01/covers/internal/search"
	"github.com/pders01/covers/internal/viewer"
)

// withApp builds the app for one command run and closes it afterwards.
func withApp(opts *rootOptions, cmd *cobra.Command, fn func(a *app) error) (err error) {
	a, err := newApp(opts, cmd.OutOrStdout())
	if err != nil {
		return err
	}
	defer func() {
		if cerr := a.Close(); err == nil {
			err = cerr
		}
	}()
	return fn(a)
}

func newDeliverCmd(opts *rootOptions) *cobra.Command {
	var (
		date  string
		final bool
	)
	cmd := &cobra.Command{
		Use:   "deliver",
		Short: "Deliver today's composite to every active subscription",
		Long: "Deliver runs once for every active subscription not yet served today.\n" +
			"Without --final a subscription with any missing paper is left for a later run;\n" +
			"with --final the available papers are sent with a note naming the missing ones.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(opts, cmd, func(a *app) error {
				day, err := a.day(date)
				if err != nil {
					return err
				}
				mode, job := delivery.Strict, "deliver"
				if final {
					mode, job = delivery.Tolerant, "final"
				}

				start := time.Now()
				rep, err := a.runDeliver(cmd.Context(), day, mode)
				a.metrics.ObserveRun(job, time.Since(start))
				if err != nil {
					return err
				}
				return a.print(report.Delivery(rep))
			})
		},
	}
	cmd.Flags().StringVar(&date, "date", "", "Day to deliver as YYYY-MM-DD (default today)")
	cmd.Flags().BoolVar(&final, "final", false, "Send partial composites for missing papers")
	return cmd
}

func newPrefetchCmd(opts *rootOptions) *cobra.Command {
	var date string
	cmd := &cobra.Command{
		Use:   "prefetch",
		Short: "Download every catalog paper for a day into the cache",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(opts, cmd, func(a *app) error {
				day, err := a.day(date)
				if err != nil {
					return err
				}
				start := time.Now()
				summary := a.runPrefetch(cmd.Context(), day)
				a.metrics.ObserveRun("prefetch", time.Since(start))
				return a.print(report.Prefetch(day, summary))
			})
		},
	}
	cmd.Flags().StringVar(&date, "date", "", "Day to prefetch as YYYY-MM-DD (default today)")
	return cmd
}

func newPostCmd(opts *rootOptions) *cobra.Command {
	var (
		papers []string
		group  string
		to     string
		open   bool
		dryRun bool
	)
	cmd := &cobra.Command{
		Use:   "post [date]",
		Short: "Compose and send one composite outside of subscriptions",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(opts, cmd, func(a *app) error {
				var date string
				if len(args) == 1 {
					date = args[0]
				}
				day, err := a.day(date)
				if err != nil {
					return err
				}
				orch, err := a.delivery()
				if err != nil {
					return err
				}

				res, err := orch.Post(cmd.Context(), delivery.PostRequest{
					Date:        day,
					Keys:        papers,
					Group:       group,
					Destination: to,
					ComposeOnly: dryRun,
				})
				if err != nil {
					return err
				}
				if res.Sent {
					a.status(report.StatusSuccess, "Posted %s for %s", res.Label, day.Format(time.DateOnly))
				} else {
					a.status(report.StatusInfo, "Composed %s", res.ImagePath)
				}

				if open {
					return openComposite(a, res.ImagePath)
				}
				return nil
			})
		},
	}
	cmd.Flags().StringSliceVar(&papers, "papers", nil, "Paper keys in display order")
	cmd.Flags().StringVar(&group, "group", "", "Named paper group from the catalog")
	cmd.Flags().StringVar(&to, "to", "", "Destination webhook or email (default webhook.default_url)")
	cmd.Flags().BoolVar(&open, "open", false, "Open the composite in an image viewer")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "Compose without sending")
	cmd.MarkFlagsMutuallyExclusive("papers", "group")
	return cmd
}

func openComposite(a *app, path string) error {
	l := viewer.NewLauncher(a.cfg.Viewer)
	if err := l.Open(path); err != nil {
		return err
	}
	a.log.Debug("opened composite", logger.String("viewer", l.Viewer()), logger.String("path", path))
	return nil
}

func newFlashbackCmd(opts *rootOptions) *cobra.Command {
	var (
		papers []string
		group  string
		label  string
		to     string
	)
	cmd := &cobra.Command{
		Use:   "flashback date",
		Short: "Re-send a composite from an earlier day",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(opts, cmd, func(a *app) error {
				day, err := a.day(args[0])
				if err != nil {
					return err
				}
				orch, err := a.delivery()
				if err != nil {
					return err
				}
				if label == "" {
					label = delivery.FlashbackLabel(papers, group)
				}
				if err := orch.Flashback(cmd.Context(), day, label, to); err != nil {
					return err
				}
				a.status(report.StatusSuccess, "Sent flashback %s from %s", label, day.Format(time.DateOnly))
				return nil
			})
		},
	}
	cmd.Flags().StringSliceVar(&papers, "papers", nil, "Paper keys the composite was made of")
	cmd.Flags().StringVar(&group, "group", "", "Paper group the composite was made of")
	cmd.Flags().StringVar(&label, "label", "", "Composite label (default derived from --papers or --group)")
	cmd.Flags().StringVar(&to, "to", "", "Destination webhook or email (default webhook.default_url)")
	cmd.MarkFlagsMutuallyExclusive("papers", "group", "label")
	return cmd
}

func newSubscribeCmd(opts *rootOptions) *cobra.Command {
	var (
		to     string
		papers []string
		label  string
	)
	cmd := &cobra.Command{
		Use:   "subscribe",
		Short: "Send a test delivery and subscribe the destination",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(opts, cmd, func(a *app) error {
				orch, err := a.delivery()
				if err != nil {
					return err
				}
				sub, err := orch.TestDelivery(cmd.Context(), to, papers, label, orch.Today())
				if err != nil {
					return fmt.Errorf("test delivery failed, not subscribed: %w", err)
				}
				a.status(report.StatusSuccess, "Subscribed #%d (%s)", sub.ID, sub.Kind)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&to, "to", "", "Destination webhook URL or email address")
	cmd.Flags().StringSliceVar(&papers, "papers", nil, "Paper keys in display order")
	cmd.Flags().StringVar(&label, "label", "", "Name shown in email subjects")
	_ = cmd.MarkFlagRequired("to")
	_ = cmd.MarkFlagRequired("papers")
	return cmd
}

func newUnsubscribeCmd(opts *rootOptions) *cobra.Command {
	var (
		id uint64
		to string
	)
	cmd := &cobra.Command{
		Use:   "unsubscribe",
		Short: "Deactivate a subscription by id or every subscription of a destination",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(opts, cmd, func(a *app) error {
				if _, err := a.delivery(); err != nil {
					return err
				}
				if to != "" {
					n, err := a.store.DeactivateByDestination(to)
					if err != nil {
						return err
					}
					a.status(report.StatusSuccess, "Deactivated %d subscription(s)", n)
					return nil
				}
				if err := a.store.DeactivateSubscription(id); err != nil {
					return err
				}
				a.status(report.StatusSuccess, "Deactivated #%d", id)
				return nil
			})
		},
	}
	cmd.Flags().Uint64Var(&id, "id", 0, "Subscription id")
	cmd.Flags().StringVar(&to, "to", "", "Destination whose subscriptions are all deactivated")
	cmd.MarkFlagsOneRequired("id", "to")
	cmd.MarkFlagsMutuallyExclusive("id", "to")
	return cmd
}

func newPreviewCmd(opts *rootOptions) *cobra.Command {
	var (
		id uint64
		to string
	)
	cmd := &cobra.Command{
		Use:   "preview",
		Short: "Send today's composite of one subscription to its destination now",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(opts, cmd, func(a *app) error {
				orch, err := a.delivery()
				if err != nil {
					return err
				}
				err = orch.Preview(cmd.Context(), id, to, orch.Today())
				switch {
				case errors.Is(err, delivery.ErrForbidden):
					return fmt.Errorf("subscription #%d does not belong to that destination", id)
				case err != nil:
					return err
				}
				a.status(report.StatusSuccess, "Preview of #%d sent", id)
				return nil
			})
		},
	}
	cmd.Flags().Uint64Var(&id, "id", 0, "Subscription id")
	cmd.Flags().StringVar(&to, "to", "", "Destination the subscription was created for")
	_ = cmd.MarkFlagRequired("id")
	_ = cmd.MarkFlagRequired("to")
	return cmd
}

func newSubscriptionsCmd(opts *rootOptions) *cobra.Command {
	var (
		history uint64
		limit   int
	)
	cmd := &cobra.Command{
		Use:   "subscriptions",
		Short: "List subscriptions and their delivery health",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(opts, cmd, func(a *app) error {
				if _, err := a.delivery(); err != nil {
					return err
				}
				if history != 0 {
					attempts, err := a.store.ListAttempts(history, limit)
					if err != nil {
						return err
					}
					return a.print(report.Attempts(history, attempts, a.location))
				}
				subs, err := a.store.ListSubscriptions()
				if err != nil {
					return err
				}
				return a.print(report.Subscriptions(subs, a.location))
			})
		},
	}
	cmd.Flags().Uint64Var(&history, "history", 0, "Show delivery attempts of this subscription id")
	cmd.Flags().IntVar(&limit, "limit", 30, "Maximum attempts shown with --history")
	return cmd
}

func newPapersCmd(opts *rootOptions) *cobra.Command {
	var (
		query string
		limit int
	)
	cmd := &cobra.Command{
		Use:   "papers",
		Short: "List catalog papers, or search them by name and key",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(opts, cmd, func(a *app) error {
				if query == "" {
					return a.print(report.Papers(a.catalog))
				}
				s := search.New(a.catalog, a.cfg.Paths.SearchIndex, a.log)
				if c, ok := s.(io.Closer); ok {
					defer c.Close()
				}
				results, err := s.Search(query, limit)
				if err != nil {
					return err
				}
				return a.print(report.SearchResults(query, results))
			})
		},
	}
	cmd.Flags().StringVar(&query, "search", "", "Search query over names, keys and formats")
	cmd.Flags().IntVar(&limit, "limit", 10, "Maximum search results")
	return cmd
}
