package main

import (
	"fmt"
	"path/filepath"

	"github.com/davidahmann/harness/core/doctor"
	"github.com/davidahmann/harness/core/projectconfig"
	"github.com/davidahmann/harness/core/workspace"
)

type doctorOutput struct {
	OK              bool           `json:"ok"`
	SchemaID        string         `json:"schema_id,omitempty"`
	SchemaVersion   string         `json:"schema_version,omitempty"`
	CreatedAt       string         `json:"created_at,omitempty"`
	ProducerVersion string         `json:"producer_version,omitempty"`
	Status          string         `json:"status,omitempty"`
	NonFixable      bool           `json:"non_fixable,omitempty"`
	Summary         string         `json:"summary,omitempty"`
	FixCommands     []string       `json:"fix_commands,omitempty"`
	Checks          []doctor.Check `json:"checks,omitempty"`
	Error           string         `json:"error,omitempty"`
}

func runDoctor(arguments []string) int {
	if hasExplainFlag(arguments) {
		return explainCommand("doctor")
	}
	var common commonFlags
	flagSet := newFlagSet("doctor", &common)
	var summaryMode bool
	flagSet.BoolVar(&summaryMode, "summary", false, "list only checks that did not pass")

	if err := parseFlags(flagSet, arguments); err != nil {
		return writeError(common.jsonOutput, flagSet.Name(), err)
	}
	if common.helpFlag {
		printDoctorUsage()
		return exitOK
	}
	if len(flagSet.Args()) > 0 {
		return writeDoctorOutput(common.jsonOutput, false, doctorOutput{OK: false, Error: "unexpected positional arguments"}, exitError)
	}

	// An invalid config must not stop the diagnosis; the config check
	// reports it.
	ws, err := workspace.Resolve(common.workDir, common.configPath)
	if err != nil {
		root, absErr := filepath.Abs(common.workDir)
		if absErr != nil {
			return writeError(common.jsonOutput, "doctor", absErr)
		}
		ws = workspace.New(root, common.configPath, projectconfig.Config{})
	}

	result := doctor.Run(doctor.Options{
		Workspace:       ws,
		ProducerVersion: version,
	})
	exitCode := exitOK
	if result.Failed() {
		exitCode = exitError
	}
	return writeDoctorOutput(common.jsonOutput, summaryMode, doctorOutput{
		OK:              !result.Failed(),
		SchemaID:        result.SchemaID,
		SchemaVersion:   result.SchemaVersion,
		CreatedAt:       result.CreatedAt,
		ProducerVersion: result.ProducerVersion,
		Status:          result.Status,
		NonFixable:      result.NonFixable,
		Summary:         result.Summary,
		FixCommands:     result.FixCommands,
		Checks:          result.Checks,
	}, exitCode)
}

func writeDoctorOutput(jsonOutput, summaryMode bool, output doctorOutput, exitCode int) int {
	if jsonOutput {
		return writeJSONOutput(output, exitCode)
	}
	if output.Error != "" {
		fmt.Printf("doctor error: %s\n", output.Error)
		return exitCode
	}
	fmt.Println(output.Summary)
	for _, check := range output.Checks {
		if summaryMode && check.Status == "pass" {
			continue
		}
		fmt.Printf("- %s: %s (%s)\n", check.Name, check.Status, check.Message)
		if check.FixCommand != "" {
			fmt.Printf("  fix: %s\n", check.FixCommand)
		}
	}
	return exitCode
}

func printDoctorUsage() {
	fmt.Println("Usage:")
	fmt.Println("  harness doctor [--workdir <path>] [--config <path>] [--summary] [--json] [--explain]")
}
