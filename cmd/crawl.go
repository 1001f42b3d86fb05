// Package cmd defines and implements the CLI commands for the deepharvest executable.
package cmd

import (
	"context"
	"errors"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// newCrawlCmd creates and configures the 'crawl' subcommand. It resolves the
// App from the command context (built in PersistentPreRunE) and runs a crawl
// to completion or until canceled.
func newCrawlCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "crawl",
		Short: "Starts a crawl",
		Long: `Initiates a concurrent crawl based on the seed URLs and settings
provided in the configuration file, using an HTTP-first fetch pipeline with
optional headless-browser fallback for JS-heavy pages.`,

		RunE: runCrawlCommand,
	}
	return cmd
}

func runCrawlCommand(cmd *cobra.Command, _ []string) error {
	appInstance, err := resolveApp(cmd.Context())
	if err != nil {
		return err
	}

	stats, err := appInstance.RunCrawl(cmd.Context())
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}

	appInstance.GetLogger().Info("crawl finished",
		zap.Int64("processed", stats.Processed),
		zap.Int64("success", stats.Success),
		zap.Int64("errors", stats.Errors),
		zap.Int64("duplicates", stats.Duplicates),
		zap.Int64("soft_404s", stats.Soft404s),
		zap.Int64("traps", stats.Traps),
		zap.Int64("bytes_fetched", stats.BytesFetched),
	)
	return nil
}

func resolveApp(ctx context.Context) (App, error) {
	appInstance, ok := ctx.Value(appKey).(App)
	if !ok || appInstance == nil {
		return nil, errors.New("application services not initialized")
	}
	return appInstance, nil
}
