package main

import (
	"fmt"

	coreerrors "github.com/davidahmann/harness/core/errors"
	"github.com/davidahmann/harness/core/fsx"
	"github.com/davidahmann/harness/core/schema/validate"
)

type validateOutput struct {
	OK      bool   `json:"ok"`
	Schema  string `json:"schema,omitempty"`
	Path    string `json:"path,omitempty"`
	Valid   bool   `json:"valid"`
	Problem string `json:"problem,omitempty"`
	Error   string `json:"error,omitempty"`
}

// runValidate exits 2 when the document does not match its schema.
func runValidate(arguments []string) int {
	if hasExplainFlag(arguments) {
		return explainCommand("validate")
	}
	var common commonFlags
	flagSet := newFlagSet("validate", &common)
	var stepsFile string
	flagSet.StringVar(&stepsFile, "steps-file", "", "validate a steps file instead of a session")
	if err := parseFlags(flagSet, arguments); err != nil {
		return writeError(common.jsonOutput, flagSet.Name(), err)
	}
	if common.helpFlag {
		fmt.Println("Usage:")
		fmt.Println("  harness validate [<session.json>] [--workdir <path>] [--json] [--explain]")
		fmt.Println("  harness validate --steps-file <path> [--json] [--explain]")
		return exitOK
	}
	positionals := flagSet.Args()
	if len(positionals) > 1 || (len(positionals) == 1 && stepsFile != "") {
		return writeValidateOutput(common.jsonOutput, validateOutput{Error: "validate takes one document"}, exitError)
	}

	output := validateOutput{Schema: validate.SessionSchema}
	switch {
	case stepsFile != "":
		output.Schema = validate.StepsSchema
		output.Path = stepsFile
	case len(positionals) == 1:
		output.Path = positionals[0]
	default:
		runtime, err := openRuntime(common)
		if err != nil {
			return writeError(common.jsonOutput, "validate", err)
		}
		defer runtime.close()
		output.Path = runtime.store.Path()
	}

	payload, found, err := fsx.ReadFileIfExists(output.Path)
	if err == nil && !found {
		err = fmt.Errorf("%s does not exist", output.Path)
	}
	if err != nil {
		return writeError(common.jsonOutput, "validate", coreerrors.Wrap(err, coreerrors.CategoryNotFound, "document_unreadable", "", false))
	}
	output.OK = true
	if err := validate.ValidateJSON(output.Schema, payload); err != nil {
		output.Problem = err.Error()
		return writeValidateOutput(common.jsonOutput, output, exitNo)
	}
	output.Valid = true
	return writeValidateOutput(common.jsonOutput, output, exitOK)
}

func writeValidateOutput(jsonOutput bool, output validateOutput, exitCode int) int {
	if jsonOutput {
		return writeJSONOutput(output, exitCode)
	}
	switch {
	case output.Error != "":
		fmt.Printf("validate error: %s\n", output.Error)
	case output.Valid:
		fmt.Printf("valid %s: %s\n", output.Schema, output.Path)
	default:
		fmt.Printf("invalid %s: %s\n%s\n", output.Schema, output.Path, output.Problem)
	}
	return exitCode
}
