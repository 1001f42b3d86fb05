package cmd

import (
	"context"
	"errors"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// newResumeCmd creates and configures the 'resume' subcommand. It restores
// the frontier from the checkpoint at crawler.state_file and continues the
// crawl, falling back to the configured seed URLs if no frontier section was
// found in the checkpoint.
func newResumeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "resume",
		Short: "Resumes a crawl from its last checkpoint",
		Long: `Loads the checkpoint file configured under crawler.state_file and
continues the crawl from where it left off, respecting the same config digest
that produced the checkpoint.`,

		RunE: runResumeCommand,
	}
	return cmd
}

func runResumeCommand(cmd *cobra.Command, _ []string) error {
	appInstance, err := resolveApp(cmd.Context())
	if err != nil {
		return err
	}

	stats, err := appInstance.ResumeCrawl(cmd.Context())
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}

	appInstance.GetLogger().Info("resumed crawl finished",
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
