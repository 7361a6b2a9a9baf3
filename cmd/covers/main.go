package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/pders01/covers/internal/config"
	"github.com/pders01/covers/internal/report"
)

// Version is the version of the application, set at build time
var Version = "dev"

type rootOptions struct {
	configPath  string
	dbPath      string
	catalogPath string
	permissive  bool
	plain       bool
	quiet       bool
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}

	root := &cobra.Command{
		Use:           report.AppName,
		Short:         "Fetch, compose and deliver daily newspaper front pages",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	flags := root.PersistentFlags()
	flags.StringVar(&opts.configPath, "config", "", "Path to configuration file")
	flags.StringVar(&opts.dbPath, "db", "", "Path to subscription database (overrides config)")
	flags.StringVar(&opts.catalogPath, "catalog", "", "Path to papers.yaml (overrides config)")
	flags.BoolVar(&opts.permissive, "permissive", false, "Accept webhooks on any host, including local ones")
	flags.BoolVar(&opts.plain, "plain", false, "Print plain markdown instead of styled output")
	flags.BoolVarP(&opts.quiet, "quiet", "q", false, "Skip the banner")

	root.AddCommand(
		newVersionCmd(opts),
		newConfigGenCmd(opts),
		newDeliverCmd(opts),
		newPrefetchCmd(opts),
		newPostCmd(opts),
		newFlashbackCmd(opts),
		newSubscribeCmd(opts),
		newUnsubscribeCmd(opts),
		newPreviewCmd(opts),
		newSubscriptionsCmd(opts),
		newPapersCmd(opts),
		newServeCmd(opts),
	)
	return root
}

func newVersionCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			out := cmd.OutOrStdout()
			if !opts.quiet {
				report.ShowBanner(out, Version)
			}
			fmt.Fprintf(out, "%s %s\n", report.AppName, Version)
			fmt.Fprintln(out, "Daily newspaper front pages")
			fmt.Fprintln(out, "github.com/pders01/covers")
		},
	}
}

func newConfigGenCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "generate-config",
		Short: "Write the default configuration file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			path := opts.configPath
			if path == "" {
				home, err := os.UserHomeDir()
				if err != nil {
					return err
				}
				path = filepath.Join(home, ".config", "covers", "config.toml")
			}
			if err := config.GenerateDefaultConfig(path); err != nil {
				return fmt.Errorf("generating config: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Generated default configuration at: %s\n", path)
			return nil
		},
	}
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := newRootCmd().ExecuteContext(ctx)
	stop()
	if err != nil {
		fmt.Fprintln(os.Stderr, report.Status(report.StatusError, "%v", err))
		os.Exit(1)
	}
}
