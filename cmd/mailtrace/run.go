package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"mailtrace/internal/config"
	"mailtrace/internal/model"
	"mailtrace/internal/tracer"
	"mailtrace/pkg/workerpool"
)

func newRunCmd() *cobra.Command {
	var host string
	var keywords []string
	var timeFlag, rangeFlag string

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Trace a mail's hops from a host and print the discovered path",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRun(host, keywords, timeFlag, rangeFlag)
		},
	}
	disableDefaultHelpShorthand(cmd)
	hostFlag(cmd.Flags(), &host)
	cmd.Flags().StringArrayVarP(&keywords, "keyword", "k", nil, "keyword identifying the trace (message-id, queue id, or recipient address)")
	cmd.Flags().StringVar(&timeFlag, "time", "", "anchor time \"YYYY-MM-DD HH:MM:SS\" (default: now)")
	cmd.Flags().StringVar(&rangeFlag, "time-range", "", "window half-width before and after --time, e.g. 1h, 30m, 2d (default: 1h)")
	return cmd
}

func runRun(host string, keywords []string, timeFlag, rangeFlag string) error {
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

	printGraph(g)
	return nil
}

func printGraph(g *model.MailGraph) {
	if len(g.Edges()) == 0 {
		fmt.Println("no hops found")
		return
	}
	for _, edge := range g.Edges() {
		fmt.Printf("%s -> %s  (queue_id=%s)\n", edge.FromHost, edge.ToHost, edge.QueueID)
	}
}
