// Command mailtrace reconstructs email flow across SMTP relays from
// mail daemon logs: a one-shot hop-following tracer (run, graph) and a
// continuous OTLP tracing pipeline (tracing).
package main

import "os"

func main() {
	os.Exit(run())
}

func run() int {
	if err := rootCmd.Execute(); err != nil {
		return 1
	}
	return 0
}
