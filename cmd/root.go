package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/deepharvest/deepharvest/internal/app"
	"github.com/deepharvest/deepharvest/internal/crawlcore"
	"github.com/deepharvest/deepharvest/internal/logging"
	"github.com/deepharvest/deepharvest/pkg/config"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

var cfgFile string

// configError marks a failure in loading or validating configuration,
// distinguishing exit code 1 (configuration error) from exit code 2
// (unrecoverable runtime error) at the process boundary in Execute.
type configError struct{ err error }

func (e *configError) Error() string { return e.err.Error() }
func (e *configError) Unwrap() error { return e.err }

// appKeyType is the key for storing the App in the context.
type appKeyType string

const appKey appKeyType = "app"

// App defines the application interface that commands use, allowing a mock
// app to be injected during tests.
type App interface {
	Close()
	GetLogger() *zap.Logger
	RunCrawl(ctx context.Context) (crawlcore.CrawlStats, error)
	ResumeCrawl(ctx context.Context) (crawlcore.CrawlStats, error)
}

// newApp is the application factory. It's a variable so tests can replace it
// with a mock factory.
var newApp func(ctx context.Context) (App, error) = func(ctx context.Context) (App, error) {
	return app.NewApp(ctx)
}

// newRootCmd creates and configures the root command.
func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "deepharvest",
		Short: "A resilient, distributed web crawler.",
		Long: `deepharvest crawls the web at scale with a frontier/scheduler
core, an HTTP-first fetch pipeline that falls back to a headless browser for
JS-heavy pages, URL and content deduplication, trap detection, and
checkpoint/resume support for both local and distributed (Redis-backed)
operation.`,

		// This hook runs AFTER config is loaded but BEFORE the subcommand's RunE.
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			appInstance, err := newApp(cmd.Context())
			if err != nil {
				return &configError{fmt.Errorf("failed to initialize application services: %w", err)}
			}

			ctx := context.WithValue(cmd.Context(), appKey, appInstance)
			cmd.SetContext(ctx)
			return nil
		},

		// This hook ensures services are shut down gracefully.
		PersistentPostRun: func(cmd *cobra.Command, _ []string) {
			if appInstance, ok := cmd.Context().Value(appKey).(App); ok && appInstance != nil {
				appInstance.Close()
			}
		},
	}

	cobra.OnInitialize(func() {
		if cfgFile != "" {
			viper.SetConfigFile(cfgFile)
		}
		config.InitConfig()
	})

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: config.* searched in ., /etc/deepharvest/ and $XDG_CONFIG_HOME/deepharvest/)")

	cmd.AddCommand(newCrawlCmd())
	cmd.AddCommand(newResumeCmd())
	cmd.AddCommand(newOSINTCmd())

	return cmd
}

// Execute is the main entry point. Exit codes follow the CLI contract: 0 on
// success, 1 on configuration error, 2 on unrecoverable runtime error.
func Execute() {
	logging.InitLogger()

	err := newRootCmd().Execute()
	if err == nil {
		return
	}

	var cfgErr *configError
	if errors.As(err, &cfgErr) {
		logging.L.Error("configuration error", zap.Error(err))
		_ = logging.L.Sync()
		os.Exit(1)
	}

	logging.L.Error("command execution failed", zap.Error(err))
	_ = logging.L.Sync()
	os.Exit(2)
}
