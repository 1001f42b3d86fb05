package cmd

import (
	"encoding/json"
	"fmt"

	"github.com/deepharvest/deepharvest/internal/osint"
	"github.com/spf13/cobra"
)

var (
	osintJSON       bool
	osintGraph      bool
	osintScreenshot bool
	osintOutputDir  string
)

// newOSINTCmd creates and configures the 'osint' subcommand. It delegates to
// an osint.Collector; only osint.StubCollector ships today, so this command
// reports that enrichment is unavailable rather than crawling anything.
func newOSINTCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "osint <url>",
		Short: "Collects open-source intelligence about a target URL",
		Long: `Enriches a single URL with information beyond the core crawl
pipeline: social profile links, contact emails, and technology fingerprints.
No backing collector ships yet; this command exercises the CLI surface and
capability interface a future collector would implement.`,
		Args: cobra.ExactArgs(1),
		RunE: runOSINTCommand,
	}
	cmd.Flags().BoolVar(&osintJSON, "json", false, "emit the result as JSON")
	cmd.Flags().BoolVar(&osintGraph, "graph", false, "emit a relationship graph (unimplemented)")
	cmd.Flags().BoolVar(&osintScreenshot, "screenshot", false, "capture a screenshot of the target (unimplemented)")
	cmd.Flags().StringVar(&osintOutputDir, "output", "", "directory to write artifacts to")
	return cmd
}

func runOSINTCommand(cmd *cobra.Command, args []string) error {
	var collector osint.Collector = osint.StubCollector{}

	result, err := collector.Collect(cmd.Context(), args[0])
	if err != nil {
		if osintJSON {
			data, marshalErr := json.Marshal(map[string]string{"url": args[0], "error": err.Error()})
			if marshalErr == nil {
				fmt.Println(string(data))
			}
		}
		return err
	}

	data, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(data))
	return nil
}
