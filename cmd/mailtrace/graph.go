package main

import (
	"os"

	"github.com/spf13/cobra"

	"mailtrace/internal/config"
	"mailtrace/internal/graph"
	"mailtrace/internal/tracer"
	"mailtrace/pkg/workerpool"
)

func newGraphCmd() *cobra.Command {
	var host string
	var keywords []string
	var timeFlag, rangeFlag, output string

	cmd := &cobra.Command{
		Use:   "graph",
		Short: "Trace a mail's hops and emit the result as Graphviz DOT",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runGraph(host, keywords, timeFlag, rangeFlag, output)
		},
	}
	disableDefaultHelpShorthand(cmd)
	hostFlag(cmd.Flags(), &host)
	cmd.Flags().StringArrayVarP(&keywords, "keyword", "k", nil, "keyword identifying the trace (message-id, queue id, or recipient address)")
	cmd.Flags().StringVar(&timeFlag, "time", "", "anchor time \"YYYY-MM-DD HH:MM:SS\" (default: now)")
	cmd.Flags().StringVar(&rangeFlag, "time-range", "", "window half-width before and after --time, e.g. 1h, 30m, 2d (default: 1h)")
	cmd.Flags().StringVarP(&output, "output", "o", "", "write DOT to this file instead of stdout")
	return cmd
}

func runGraph(host string, keywords []string, timeFlag, rangeFlag, output string) error {
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

	windowStart, windowEnd, err := resolveWindow(timeFlag, rangeFlag)
	if err != nil {
		return err
	}

	seed := ""
	if len(keywords) > 0 {
		seed = keywords[0]
	}

	pool := workerpool.New(workerpool.DefaultConfig(), logger)
	tr := tracer.New(agg, cfg, pool, logger)
	g, err := tr.Trace(cmdContext(), seed, host, windowStart, windowEnd)
	if err != nil {
		return err
	}

	if output == "" {
		return graph.WriteDOT(os.Stdout, g)
	}

	f, err := os.Create(output)
	if err != nil {
		return err
	}
	defer f.Close()
	return graph.WriteDOT(f, g)
}
