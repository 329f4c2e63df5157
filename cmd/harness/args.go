package main

import (
	"flag"
	"io"
	"strconv"
	"strings"

	coreerrors "github.com/davidahmann/harness/core/errors"
)

// commonFlags are accepted by every command that touches the workspace.
type commonFlags struct {
	workDir    string
	configPath string
	jsonOutput bool
	helpFlag   bool
}

func newFlagSet(name string, common *commonFlags) *flag.FlagSet {
	flagSet := flag.NewFlagSet(name, flag.ContinueOnError)
	flagSet.SetOutput(io.Discard)
	flagSet.StringVar(&common.workDir, "workdir", ".", "project directory or any directory below it")
	flagSet.StringVar(&common.configPath, "config", "", "project config path (default .harness/config.yaml)")
	flagSet.BoolVar(&common.jsonOutput, "json", false, "emit JSON output")
	flagSet.BoolVar(&common.helpFlag, "help", false, "show help")
	// Consumed before parsing; registered so it is not an unknown flag.
	flagSet.Bool("explain", false, "explain the command")
	return flagSet
}

// parseFlags lets flags follow positional arguments, as in
// "harness skip step-002 --reason obsolete". Parse errors are classified as
// invalid input, and --json still takes effect when parsing stopped before it.
func parseFlags(flagSet *flag.FlagSet, arguments []string) error {
	valueFlags := map[string]bool{}
	flagSet.VisitAll(func(defined *flag.Flag) {
		if boolFlag, ok := defined.Value.(interface{ IsBoolFlag() bool }); ok && boolFlag.IsBoolFlag() {
			return
		}
		valueFlags[defined.Name] = true
	})
	if err := flagSet.Parse(reorderInterspersedFlags(arguments, valueFlags)); err != nil {
		if hasJSONFlag(arguments) && flagSet.Lookup("json") != nil {
			_ = flagSet.Set("json", "true")
		}
		return coreerrors.Wrap(err, coreerrors.CategoryInvalidInput, string(coreerrors.CategoryInvalidInput), "", false)
	}
	return nil
}

// hasJSONFlag scans raw arguments for --json the way hasExplainFlag does.
func hasJSONFlag(arguments []string) bool {
	for _, argument := range arguments {
		if argument == "--" {
			return false
		}
		if !isFlagToken(argument) {
			continue
		}
		name, value, hasValue := strings.Cut(strings.TrimLeft(argument, "-"), "=")
		if name != "json" {
			continue
		}
		if !hasValue {
			return true
		}
		enabled, err := strconv.ParseBool(value)
		return err == nil && enabled
	}
	return false
}

func reorderInterspersedFlags(arguments []string, valueFlags map[string]bool) []string {
	if len(arguments) == 0 {
		return arguments
	}

	flags := make([]string, 0, len(arguments))
	positionals := make([]string, 0, len(arguments))

	for index := 0; index < len(arguments); index++ {
		argument := arguments[index]
		if argument == "--" {
			positionals = append(positionals, arguments[index+1:]...)
			break
		}
		if !isFlagToken(argument) {
			positionals = append(positionals, argument)
			continue
		}

		flags = append(flags, argument)
		if strings.Contains(argument, "=") || !valueFlags[strings.TrimLeft(argument, "-")] {
			continue
		}
		if index+1 >= len(arguments) {
			continue
		}
		index++
		flags = append(flags, arguments[index])
	}

	return append(flags, positionals...)
}

func isFlagToken(argument string) bool {
	return len(argument) > 1 && strings.HasPrefix(argument, "-")
}

// splitList accepts comma separated or repeated values.
func splitList(raw string) []string {
	var values []string
	for _, part := range strings.Split(raw, ",") {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			values = append(values, trimmed)
		}
	}
	return values
}
