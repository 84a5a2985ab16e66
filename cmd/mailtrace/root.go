package main

import (
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"mailtrace/internal/aggregator"
	"mailtrace/internal/config"
	"mailtrace/internal/logging"

	"github.com/sirupsen/logrus"
)

var configFile string

var rootCmd = &cobra.Command{
	Use:           "mailtrace",
	Short:         "Reconstruct email flow across SMTP relays from mail daemon logs",
	SilenceUsage:  true,
	SilenceErrors: false,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "", "path to YAML configuration file")

	rootCmd.AddCommand(newRunCmd())
	rootCmd.AddCommand(newGraphCmd())
	rootCmd.AddCommand(newTracingCmd())
}

// hostFlag registers --host/-h on cmd, repurposing -h from cobra's
// default --help shorthand per spec §6's flag table. Must be called
// before cobra lazily adds its own --help, so each command adds a
// shorthand-less --help first.
func hostFlag(flags *pflag.FlagSet, host *string) {
	flags.StringVarP(host, "host", "h", "", "host to start the trace from (or a configured cluster alias)")
}

func disableDefaultHelpShorthand(cmd *cobra.Command) {
	cmd.Flags().Bool("help", false, "help for "+cmd.Name())
}

func buildLogger(cfg *config.Config) *logrus.Logger {
	return logging.New(cfg.LogLevel, false)
}

// buildAggregator constructs the configured backend. The returned
// closer releases backend resources (e.g. the OpenSearch client's idle
// connections) and is always non-nil.
func buildAggregator(cfg *config.Config, logger *logrus.Logger) (aggregator.Aggregator, func() error, error) {
	switch cfg.Method {
	case "opensearch":
		idx, err := aggregator.NewIndexAggregator(cfg.OpenSearch, logger)
		if err != nil {
			return nil, nil, err
		}
		return idx, func() error { idx.Close(); return nil }, nil
	default:
		shell := aggregator.NewShellAggregator(cfg.SSH, cfg.ResolveHost, logger)
		return shell, func() error { return nil }, nil
	}
}
