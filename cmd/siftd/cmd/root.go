// Package cmd provides the CLI commands for siftd.
package cmd

import (
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/siftengine/sift/internal/logging"
	"github.com/siftengine/sift/pkg/version"
)

var (
	debugMode      bool
	loggingCleanup func()
)

// NewRootCmd creates the root command for the siftd CLI.
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "siftd",
		Short: "Task scheduler and search runtime for sift",
		Long: `siftd runs the sift task scheduler, index storage, and search runtime
behind a small HTTP seam.

Run 'siftd serve' to start the server against a data directory.`,
		Version: version.Version,
	}

	cmd.SetVersionTemplate("siftd version {{.Version}}\n")
	cmd.PersistentFlags().BoolVar(&debugMode, "debug", false, "enable debug logging")
	cmd.PersistentPreRunE = setupLogging
	cmd.PersistentPostRunE = teardownLogging

	cmd.AddCommand(newServeCmd())
	cmd.AddCommand(newConfigCmd())
	cmd.AddCommand(newVersionCmd())

	return cmd
}

func setupLogging(_ *cobra.Command, _ []string) error {
	cfg := logging.DefaultConfig()
	if debugMode {
		cfg = logging.DebugConfig()
	}
	logger, cleanup, err := logging.Setup(cfg)
	if err != nil {
		return err
	}
	loggingCleanup = cleanup
	slog.SetDefault(logger)
	return nil
}

func teardownLogging(_ *cobra.Command, _ []string) error {
	if loggingCleanup != nil {
		loggingCleanup()
		loggingCleanup = nil
	}
	return nil
}

// Execute runs the root command.
func Execute() error {
	return NewRootCmd().Execute()
}
