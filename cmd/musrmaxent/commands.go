package main

import (
	"fmt"
	"io"
	"log/slog"

	"github.com/spf13/cobra"

	"musrmaxent/pkg/config"
	"musrmaxent/pkg/logging"
)

const defaultConfigPath = "config.yaml"

// newRootCmd builds the command tree. Each call returns fresh flag state.
func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "musrmaxent",
		Short: "Maximum-entropy frequency spectra from muon spin rotation histograms",
		Long: `musrmaxent reconstructs the frequency spectrum of grouped muon
spin rotation time histograms with the Skilling-Bryan maximum-entropy method.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.AddCommand(newRunCmd(), newBatchCmd(), newConfigCmd())
	return rootCmd
}

// loadConfig reads the config file named by the --config flag.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	path, err := cmd.Flags().GetString("config")
	if err != nil {
		return nil, err
	}
	cfg, err := config.LoadConfig(path)
	if err != nil {
		return nil, fmt.Errorf("failed to load config %s: %w", path, err)
	}
	return cfg, nil
}

// newLogger builds the structured logger described by the output section.
// Records go to stderr so they never mix with the report on stdout.
func newLogger(cmd *cobra.Command, cfg *config.Config) (*slog.Logger, error) {
	level, err := logging.ParseLevel(cfg.Output.LogLevel)
	if err != nil {
		return nil, err
	}
	return logging.New(logging.Config{
		Level:   level,
		JSON:    cfg.Output.LogJSON,
		Output:  cmd.ErrOrStderr(),
		Service: "musrmaxent",
	}), nil
}

func banner(out io.Writer, title string) {
	fmt.Fprintln(out, "================================")
	fmt.Fprintln(out, title)
	fmt.Fprintln(out, "Skilling-Bryan maximum entropy, muon spin rotation")
	fmt.Fprintln(out, "================================")
}
