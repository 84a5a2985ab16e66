package main

import (
	"github.com/spf13/cobra"

	"mailtrace/internal/config"
	"mailtrace/internal/otelspan"
	"mailtrace/internal/pipeline"
	"mailtrace/pkg/workerpool"
)

func newTracingCmd() *cobra.Command {
	var host, otelEndpoint string

	cmd := &cobra.Command{
		Use:   "tracing",
		Short: "Run the continuous tracing pipeline, exporting completed traces as OTLP spans",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTracing(host, otelEndpoint)
		},
	}
	disableDefaultHelpShorthand(cmd)
	hostFlag(cmd.Flags(), &host)
	cmd.Flags().StringVar(&otelEndpoint, "otel-endpoint", "localhost:4317", "OTLP/gRPC collector endpoint (host:port)")
	return cmd
}

func runTracing(host, otelEndpoint string) error {
	cfg, err := config.Load(configFile)
	if err != nil {
		return err
	}
	logger := buildLogger(cfg)

	agg, closeAgg, err := buildAggregator(cfg, logger)
	if err != nil {
		return err
	}
	defer closeAgg()

	ctx := cmdContext()

	exporter := otelspan.NewManager(otelEndpoint, true, logger)
	defer exporter.Shutdown(ctx)

	pool := workerpool.New(workerpool.DefaultConfig(), logger)
	p := pipeline.New(agg, cfg, exporter, pool, host, cfg.Tracing, logger)

	return p.Run(ctx)
}
