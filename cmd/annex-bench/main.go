// Command annex-bench builds indexes per a YAML config, measures recall and
// throughput against brute force, and writes CSV + JSON results with a
// resumable checkpoint.
//
// Usage:
//
//	annex-bench --config bench.yaml --output results/run1
//
// Exit codes: 0 success; 1 missing required argument; 2 I/O or run failure.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
)

func main() {
	configPath := flag.String("config", "", "path to the YAML benchmark config (required)")
	outputPath := flag.String("output", "", "path prefix for CSV/JSON results (required)")
	flag.Parse()

	if *configPath == "" || *outputPath == "" {
		fmt.Fprintln(os.Stderr, "annex-bench: --config and --output are required")
		flag.Usage()
		os.Exit(1)
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))
	if err := run(context.Background(), *configPath, *outputPath, logger); err != nil {
		logger.Error("bench failed", "error", err)
		os.Exit(2)
	}
}
