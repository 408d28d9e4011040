package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/eventscope/extractor/internal/runner"
)

// newRunCmd creates the 'run' subcommand, which executes one extraction and
// prints the summary as JSON.
func newRunCmd() *cobra.Command {
	var (
		eventID  string
		startURL string
	)
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Runs one extraction and exits",
		Long: `Executes a single extraction against a conference website start URL and
writes the run summary to stdout as JSON. Useful for backfills and local
debugging without standing up the HTTP service.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			a, _, err := bootstrap(ctx)
			if err != nil {
				return err
			}
			defer a.Close()

			summary, runErr := a.Engine().Run(ctx, runner.Request{
				EventID:  eventID,
				StartURL: startURL,
			})
			if summary.JobID != "" {
				enc := json.NewEncoder(os.Stdout)
				enc.SetIndent("", "  ")
				if err := enc.Encode(summary); err != nil {
					return fmt.Errorf("encode summary: %w", err)
				}
			}
			if runErr != nil {
				return fmt.Errorf("extraction failed: %w", runErr)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&eventID, "event-id", "", "event identifier to attribute extracted entities to")
	cmd.Flags().StringVar(&startURL, "url", "", "absolute http(s) start URL of the conference website")
	_ = cmd.MarkFlagRequired("event-id")
	_ = cmd.MarkFlagRequired("url")
	return cmd
}
