// Package cmd defines and implements the CLI commands for the extractor
// executable.
package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/eventscope/extractor/internal/app"
	"github.com/eventscope/extractor/internal/config"
	"github.com/eventscope/extractor/internal/logging"
)

var cfgFile string

// newRootCmd creates and configures the root command.
func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "extractor",
		Short: "Extracts speakers and sessions from conference websites.",
		Long: `extractor discovers speaker and session pages on a conference website,
scrapes them with layered strategies, resolves speaker identities, and
persists the canonical entities. It runs either as an HTTP service (serve)
or as a one-off extraction (run).`,
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file path (env vars use the EXTRACTOR_ prefix)")

	cmd.AddCommand(newServeCmd())
	cmd.AddCommand(newRunCmd())

	return cmd
}

// bootstrap loads config, builds the logger, and wires the application.
// The caller owns the returned App and must Close it.
func bootstrap(ctx context.Context) (*app.App, config.Config, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, config.Config{}, fmt.Errorf("load config: %w", err)
	}
	logger, err := logging.New(cfg.Logging.Development)
	if err != nil {
		return nil, config.Config{}, fmt.Errorf("init logger: %w", err)
	}
	zap.ReplaceGlobals(logger)

	a, err := app.New(ctx, cfg, logger)
	if err != nil {
		return nil, config.Config{}, fmt.Errorf("initialize application services: %w", err)
	}
	return a, cfg, nil
}

// Execute is the main entry point.
func Execute() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
