package main

import (
	"errors"
	"fmt"
	"strings"

	"github.com/davidahmann/harness/core/metrics"
	schemasession "github.com/davidahmann/harness/core/schema/v1/session"
	"github.com/davidahmann/harness/core/session"
)

type statsOutput struct {
	OK       bool                `json:"ok"`
	Stats    schemasession.Stats `json:"stats"`
	Textfile string              `json:"textfile,omitempty"`
	Error    string              `json:"error,omitempty"`
}

func runStats(arguments []string) int {
	if hasExplainFlag(arguments) {
		return explainCommand("stats")
	}
	var common commonFlags
	flagSet := newFlagSet("stats", &common)
	var textfile string
	flagSet.StringVar(&textfile, "textfile", "", "write Prometheus gauges to this .prom file")
	if err := parseFlags(flagSet, arguments); err != nil {
		return writeError(common.jsonOutput, flagSet.Name(), err)
	}
	if common.helpFlag {
		fmt.Println("Usage:")
		fmt.Println("  harness stats [--textfile <path.prom>] [--workdir <path>] [--json] [--explain]")
		return exitOK
	}
	runtime, err := openRuntime(common)
	if err != nil {
		return writeError(common.jsonOutput, "stats", err)
	}
	defer runtime.close()
	ctx, cancel := commandContext()
	defer cancel()

	stats, err := runtime.store.Stats(ctx)
	if err != nil {
		return writeError(common.jsonOutput, "stats", err)
	}
	output := statsOutput{OK: true, Stats: stats}
	if strings.TrimSpace(textfile) != "" {
		collector := metrics.NewCollector()
		collector.ObserveStats(stats)
		current, err := runtime.store.Load(ctx)
		switch {
		case err == nil:
			collector.ObserveActive(current)
		case errors.Is(err, session.ErrNoSession):
			collector.ObserveActive(nil)
		default:
			return writeError(common.jsonOutput, "stats", err)
		}
		path := runtime.workspace.Resolve(textfile)
		if err := collector.WriteTextfile(path); err != nil {
			return writeError(common.jsonOutput, "stats", err)
		}
		output.Textfile = path
	}
	return writeStatsOutput(common.jsonOutput, output, exitOK)
}

func writeStatsOutput(jsonOutput bool, output statsOutput, exitCode int) int {
	if jsonOutput {
		return writeJSONOutput(output, exitCode)
	}
	if output.Error != "" {
		fmt.Printf("stats error: %s\n", output.Error)
		return exitCode
	}
	stats := output.Stats
	fmt.Printf("sessions: %d (completed %d, failed %d, cancelled %d)\n", stats.Total, stats.Completed, stats.Failed, stats.Cancelled)
	fmt.Printf("averages: duration %.0fs, steps %.1f, iterations %.1f, retries %.1f\n", stats.AvgDurationSeconds, stats.AvgSteps, stats.AvgIterations, stats.AvgRetries)
	fmt.Printf("regressions: %d, tokens saved: %d, cost saved: %.2f\n", stats.TotalRegressions, stats.TokensSaved, stats.CostSaved)
	if output.Textfile != "" {
		fmt.Printf("textfile: %s\n", output.Textfile)
	}
	return exitCode
}
