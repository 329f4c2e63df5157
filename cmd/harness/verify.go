package main

import (
	"errors"
	"fmt"
	"strings"

	"github.com/davidahmann/harness/core/oracle"
	"github.com/davidahmann/harness/core/session"
)

type verifyOutput struct {
	OK          bool           `json:"ok"`
	StepID      string         `json:"step_id,omitempty"`
	Description string         `json:"description,omitempty"`
	Result      *oracle.Result `json:"result,omitempty"`
	Error       string         `json:"error,omitempty"`
}

// runVerify runs the oracle without touching the session. A single argument
// that names a step of the active session verifies that step's description.
func runVerify(arguments []string) int {
	if hasExplainFlag(arguments) {
		return explainCommand("verify")
	}
	var common commonFlags
	flagSet := newFlagSet("verify", &common)
	if err := parseFlags(flagSet, arguments); err != nil {
		return writeError(common.jsonOutput, flagSet.Name(), err)
	}
	if common.helpFlag {
		fmt.Println("Usage:")
		fmt.Println("  harness verify <step> [--workdir <path>] [--json] [--explain]")
		fmt.Println("  harness verify <description>... [--workdir <path>] [--json] [--explain]")
		return exitOK
	}
	text := strings.TrimSpace(strings.Join(flagSet.Args(), " "))
	if text == "" {
		return writeVerifyOutput(common.jsonOutput, verifyOutput{Error: "provide a step reference or a description"}, exitError)
	}
	runtime, err := openRuntime(common)
	if err != nil {
		return writeError(common.jsonOutput, "verify", err)
	}
	defer runtime.close()
	ctx, cancel := commandContext()
	defer cancel()

	output := verifyOutput{OK: true, Description: text}
	if len(flagSet.Args()) == 1 {
		current, loadErr := runtime.store.Load(ctx)
		switch {
		case loadErr == nil:
			if index, resolveErr := session.ResolveStep(current, text); resolveErr == nil {
				output.StepID = current.Steps[index].ID
				output.Description = current.Steps[index].Description
			}
		case !errors.Is(loadErr, session.ErrNoSession):
			return writeError(common.jsonOutput, "verify", loadErr)
		}
	}

	result := runtime.oracle().Verify(ctx, output.Description)
	output.Result = &result
	exitCode := exitOK
	switch result.Verdict {
	case oracle.VerdictFail:
		exitCode = exitNo
	case oracle.VerdictIndeterminate:
		exitCode = exitIndeterminate
	}
	return writeVerifyOutput(common.jsonOutput, output, exitCode)
}

func writeVerifyOutput(jsonOutput bool, output verifyOutput, exitCode int) int {
	if jsonOutput {
		return writeJSONOutput(output, exitCode)
	}
	if output.Error != "" {
		fmt.Printf("verify error: %s\n", output.Error)
		return exitCode
	}
	result := output.Result
	subject := output.Description
	if output.StepID != "" {
		subject = output.StepID + " " + subject
	}
	fmt.Printf("%s: %s\n", result.Verdict, subject)
	fmt.Printf("detector: %s\n", result.Detector)
	if result.Message != "" {
		fmt.Printf("message: %s\n", result.Message)
	}
	if result.Suggestion != "" {
		fmt.Printf("suggestion: %s\n", result.Suggestion)
	}
	return exitCode
}
