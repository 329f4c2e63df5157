package main

import (
	"fmt"
	"strings"

	"github.com/davidahmann/harness/core/oracle"
	"github.com/davidahmann/harness/core/projectconfig"
	"github.com/davidahmann/harness/core/queue"
	"github.com/davidahmann/harness/core/regress"
	schemasession "github.com/davidahmann/harness/core/schema/v1/session"
	"github.com/davidahmann/harness/core/session"
	"github.com/davidahmann/harness/core/tracker"
)

type stepOutput struct {
	OK      bool                 `json:"ok"`
	Command string               `json:"command"`
	Step    *tracker.StepRef     `json:"step,omitempty"`
	Started *bool                `json:"started,omitempty"`
	Added   []schemasession.Step `json:"added,omitempty"`
	Error   string               `json:"error,omitempty"`
}

func writeStepOutput(jsonOutput bool, output stepOutput, exitCode int) int {
	if jsonOutput {
		return writeJSONOutput(output, exitCode)
	}
	if output.Error != "" {
		fmt.Printf("%s error: %s\n", output.Command, output.Error)
		return exitCode
	}
	for _, step := range output.Added {
		fmt.Printf("added %s\n", describeStep(step))
	}
	if output.Step == nil {
		return exitCode
	}
	if output.Started != nil && !*output.Started {
		fmt.Printf("already in progress: %s\n", describeStep(output.Step.Step))
		return exitCode
	}
	fmt.Println(describeStep(output.Step.Step))
	return exitCode
}

func describeStep(step schemasession.Step) string {
	return fmt.Sprintf("%s [%s] %s", step.ID, step.Status, step.Description)
}

// singleRef returns the optional step reference of start, complete and fail.
func singleRef(positionals []string) (string, error) {
	switch len(positionals) {
	case 0:
		return "", nil
	case 1:
		return strings.TrimSpace(positionals[0]), nil
	default:
		return "", fmt.Errorf("expected at most one step reference, got %d", len(positionals))
	}
}

func runAdd(arguments []string) int {
	if hasExplainFlag(arguments) {
		return explainCommand("add")
	}
	var common commonFlags
	flagSet := newFlagSet("add", &common)
	var stepsJSON string
	var stepsFile string
	flagSet.StringVar(&stepsJSON, "steps", "", "JSON array of step descriptions or step objects")
	flagSet.StringVar(&stepsFile, "steps-file", "", "path to a JSON steps file")
	if err := parseFlags(flagSet, arguments); err != nil {
		return writeError(common.jsonOutput, flagSet.Name(), err)
	}
	if common.helpFlag {
		fmt.Println("Usage:")
		fmt.Println("  harness add <description>... [--steps <json>] [--steps-file <path>] [--workdir <path>] [--json] [--explain]")
		return exitOK
	}
	inputs, err := readStepInputs(stepsJSON, stepsFile, flagSet.Args())
	if err != nil {
		return writeError(common.jsonOutput, "add", err)
	}
	if len(inputs) == 0 {
		return writeStepOutput(common.jsonOutput, stepOutput{Command: "add", Error: "provide at least one step description"}, exitError)
	}
	runtime, err := openRuntime(common)
	if err != nil {
		return writeError(common.jsonOutput, "add", err)
	}
	defer runtime.close()
	ctx, cancel := commandContext()
	defer cancel()

	added, err := runtime.tracker().Add(ctx, inputs)
	if err != nil {
		return writeError(common.jsonOutput, "add", err)
	}
	return writeStepOutput(common.jsonOutput, stepOutput{OK: true, Command: "add", Added: added}, exitOK)
}

type nextOutput struct {
	OK         bool               `json:"ok"`
	Step       *tracker.StepRef   `json:"step,omitempty"`
	InProgress bool               `json:"in_progress"`
	Completion session.Completion `json:"completion"`
	Error      string             `json:"error,omitempty"`
}

func runNext(arguments []string) int {
	if hasExplainFlag(arguments) {
		return explainCommand("next")
	}
	var common commonFlags
	flagSet := newFlagSet("next", &common)
	if err := parseFlags(flagSet, arguments); err != nil {
		return writeError(common.jsonOutput, flagSet.Name(), err)
	}
	if common.helpFlag {
		fmt.Println("Usage:")
		fmt.Println("  harness next [--workdir <path>] [--json] [--explain]")
		return exitOK
	}
	runtime, err := openRuntime(common)
	if err != nil {
		return writeError(common.jsonOutput, "next", err)
	}
	defer runtime.close()
	ctx, cancel := commandContext()
	defer cancel()

	result, err := runtime.tracker().Next(ctx)
	if err != nil {
		return writeError(common.jsonOutput, "next", err)
	}
	return writeNextOutput(common.jsonOutput, nextOutput{
		OK:         true,
		Step:       result.Step,
		InProgress: result.InProgress,
		Completion: result.Completion,
	}, exitOK)
}

func writeNextOutput(jsonOutput bool, output nextOutput, exitCode int) int {
	if jsonOutput {
		return writeJSONOutput(output, exitCode)
	}
	switch {
	case output.Error != "":
		fmt.Printf("next error: %s\n", output.Error)
	case output.Step == nil:
		fmt.Printf("no actionable step (%s)\n", output.Completion.Reason)
	case output.InProgress:
		fmt.Printf("in progress: %s\n", describeStep(output.Step.Step))
	default:
		fmt.Printf("next: %s\n", describeStep(output.Step.Step))
	}
	return exitCode
}

func runStart(arguments []string) int {
	if hasExplainFlag(arguments) {
		return explainCommand("start")
	}
	var common commonFlags
	flagSet := newFlagSet("start", &common)
	if err := parseFlags(flagSet, arguments); err != nil {
		return writeError(common.jsonOutput, flagSet.Name(), err)
	}
	if common.helpFlag {
		fmt.Println("Usage:")
		fmt.Println("  harness start [<step>] [--workdir <path>] [--json] [--explain]")
		return exitOK
	}
	ref, err := singleRef(flagSet.Args())
	if err != nil {
		return writeStepOutput(common.jsonOutput, stepOutput{Command: "start", Error: err.Error()}, exitError)
	}
	runtime, err := openRuntime(common)
	if err != nil {
		return writeError(common.jsonOutput, "start", err)
	}
	defer runtime.close()
	ctx, cancel := commandContext()
	defer cancel()

	result, err := runtime.tracker().Start(ctx, ref)
	if err != nil {
		return writeError(common.jsonOutput, "start", err)
	}
	started := result.Started
	return writeStepOutput(common.jsonOutput, stepOutput{OK: true, Command: "start", Step: &result.StepRef, Started: &started}, exitOK)
}

type completeOutput struct {
	OK           bool               `json:"ok"`
	Step         *tracker.StepRef   `json:"step,omitempty"`
	Completed    bool               `json:"completed"`
	Verification *oracle.Result     `json:"verification,omitempty"`
	Regression   *regress.Report    `json:"regression,omitempty"`
	Completion   session.Completion `json:"completion"`
	Error        string             `json:"error,omitempty"`
}

func runComplete(arguments []string) int {
	if hasExplainFlag(arguments) {
		return explainCommand("complete")
	}
	var common commonFlags
	flagSet := newFlagSet("complete", &common)
	var proof string
	var verify bool
	var tokensSaved int64
	var costSaved float64
	flagSet.StringVar(&proof, "proof", "", "free-text proof of completion")
	flagSet.BoolVar(&verify, "verify", false, "verify the step against the workspace before completing it")
	flagSet.Int64Var(&tokensSaved, "tokens-saved", 0, "tokens saved by this step")
	flagSet.Float64Var(&costSaved, "cost-saved", 0, "cost saved by this step")
	if err := parseFlags(flagSet, arguments); err != nil {
		return writeError(common.jsonOutput, flagSet.Name(), err)
	}
	if common.helpFlag {
		fmt.Println("Usage:")
		fmt.Println("  harness complete [<step>] [--proof <text>] [--verify] [--tokens-saved <n>] [--cost-saved <n>] [--workdir <path>] [--json] [--explain]")
		return exitOK
	}
	ref, err := singleRef(flagSet.Args())
	if err != nil {
		return writeCompleteOutput(common.jsonOutput, completeOutput{Error: err.Error()}, exitError)
	}
	if tokensSaved < 0 || costSaved < 0 {
		return writeCompleteOutput(common.jsonOutput, completeOutput{Error: "savings must not be negative"}, exitError)
	}
	runtime, err := openRuntime(common)
	if err != nil {
		return writeError(common.jsonOutput, "complete", err)
	}
	defer runtime.close()
	ctx, cancel := commandContext()
	defer cancel()

	result, err := runtime.tracker().Complete(ctx, ref, tracker.CompleteOptions{
		Proof:       proof,
		Verify:      verify,
		TokensSaved: tokensSaved,
		CostSaved:   costSaved,
	})
	if err != nil {
		return writeError(common.jsonOutput, "complete", err)
	}
	output := completeOutput{
		OK:           true,
		Step:         &result.StepRef,
		Completed:    result.Completed,
		Verification: result.Verification,
		Regression:   result.Regression,
		Completion:   result.Completion,
	}
	exitCode := exitOK
	if !result.Completed {
		exitCode = exitNo
	}
	return writeCompleteOutput(common.jsonOutput, output, exitCode)
}

func writeCompleteOutput(jsonOutput bool, output completeOutput, exitCode int) int {
	if jsonOutput {
		return writeJSONOutput(output, exitCode)
	}
	if output.Error != "" {
		fmt.Printf("complete error: %s\n", output.Error)
		return exitCode
	}
	if output.Step != nil {
		if output.Completed {
			fmt.Printf("completed %s\n", describeStep(output.Step.Step))
		} else {
			fmt.Printf("verification failed, %s\n", describeStep(output.Step.Step))
			if output.Step.Step.Error != nil {
				fmt.Printf("  %s\n", output.Step.Step.Error.Message)
			}
		}
	}
	if output.Regression != nil {
		for _, finding := range output.Regression.Regressed {
			fmt.Printf("regression (%s): %s %s\n", output.Regression.Policy, finding.StepID, finding.Message)
		}
	}
	if output.Completion.Complete {
		fmt.Printf("session complete (%s)\n", output.Completion.Reason)
	}
	return exitCode
}

func runFail(arguments []string) int {
	if hasExplainFlag(arguments) {
		return explainCommand("fail")
	}
	var common commonFlags
	flagSet := newFlagSet("fail", &common)
	var message string
	flagSet.StringVar(&message, "error", "", "failure message")
	if err := parseFlags(flagSet, arguments); err != nil {
		return writeError(common.jsonOutput, flagSet.Name(), err)
	}
	if common.helpFlag {
		fmt.Println("Usage:")
		fmt.Println("  harness fail [<step>] --error <message> [--workdir <path>] [--json] [--explain]")
		return exitOK
	}
	ref, err := singleRef(flagSet.Args())
	if err != nil {
		return writeStepOutput(common.jsonOutput, stepOutput{Command: "fail", Error: err.Error()}, exitError)
	}
	if strings.TrimSpace(message) == "" {
		return writeStepOutput(common.jsonOutput, stepOutput{Command: "fail", Error: "missing required --error <message>"}, exitError)
	}
	runtime, err := openRuntime(common)
	if err != nil {
		return writeError(common.jsonOutput, "fail", err)
	}
	defer runtime.close()
	ctx, cancel := commandContext()
	defer cancel()

	result, err := runtime.tracker().Fail(ctx, ref, message)
	if err != nil {
		return writeError(common.jsonOutput, "fail", err)
	}
	return writeStepOutput(common.jsonOutput, stepOutput{OK: true, Command: "fail", Step: &result}, exitOK)
}

func runSkip(arguments []string) int {
	if hasExplainFlag(arguments) {
		return explainCommand("skip")
	}
	var common commonFlags
	flagSet := newFlagSet("skip", &common)
	var reason string
	flagSet.StringVar(&reason, "reason", "", "why the step is skipped")
	if err := parseFlags(flagSet, arguments); err != nil {
		return writeError(common.jsonOutput, flagSet.Name(), err)
	}
	if common.helpFlag {
		fmt.Println("Usage:")
		fmt.Println("  harness skip <step> [--reason <text>] [--workdir <path>] [--json] [--explain]")
		return exitOK
	}
	ref, err := singleRef(flagSet.Args())
	if err == nil && ref == "" {
		err = fmt.Errorf("missing step reference")
	}
	if err != nil {
		return writeStepOutput(common.jsonOutput, stepOutput{Command: "skip", Error: err.Error()}, exitError)
	}
	runtime, err := openRuntime(common)
	if err != nil {
		return writeError(common.jsonOutput, "skip", err)
	}
	defer runtime.close()
	ctx, cancel := commandContext()
	defer cancel()

	result, err := runtime.tracker().Skip(ctx, ref, reason)
	if err != nil {
		return writeError(common.jsonOutput, "skip", err)
	}
	return writeStepOutput(common.jsonOutput, stepOutput{OK: true, Command: "skip", Step: &result}, exitOK)
}

type checkOutput struct {
	OK           bool                `json:"ok"`
	Complete     bool                `json:"complete"`
	Completion   session.Completion  `json:"completion"`
	Continuation *queue.Continuation `json:"continuation,omitempty"`
	Error        string              `json:"error,omitempty"`
}

// runCheck answers "is the session complete?" through its exit code.
func runCheck(arguments []string) int {
	if hasExplainFlag(arguments) {
		return explainCommand("check")
	}
	var common commonFlags
	flagSet := newFlagSet("check", &common)
	if err := parseFlags(flagSet, arguments); err != nil {
		return writeError(common.jsonOutput, flagSet.Name(), err)
	}
	if common.helpFlag {
		fmt.Println("Usage:")
		fmt.Println("  harness check [--workdir <path>] [--json] [--explain]")
		return exitOK
	}
	runtime, err := openRuntime(common)
	if err != nil {
		return writeError(common.jsonOutput, "check", err)
	}
	defer runtime.close()
	ctx, cancel := commandContext()
	defer cancel()

	current, err := runtime.store.Load(ctx)
	if err != nil {
		return writeError(common.jsonOutput, "check", err)
	}
	completion := session.CheckCompletion(current, runtime.store.Now())
	output := checkOutput{OK: true, Complete: completion.Complete, Completion: completion}
	if completion.Complete && current.TaskQueue != nil {
		continuation := queue.CheckContinuation(current, queueSettings(runtime))
		output.Continuation = &continuation
	}
	exitCode := exitOK
	if !completion.Complete {
		exitCode = exitNo
	}
	return writeCheckOutput(common.jsonOutput, output, exitCode)
}

func writeCheckOutput(jsonOutput bool, output checkOutput, exitCode int) int {
	if jsonOutput {
		return writeJSONOutput(output, exitCode)
	}
	if output.Error != "" {
		fmt.Printf("check error: %s\n", output.Error)
		return exitCode
	}
	counts := output.Completion.Counts
	state := "incomplete"
	if output.Complete {
		state = "complete"
		if output.Completion.Forced {
			state = "complete (forced)"
		}
	}
	fmt.Printf("%s: %s completed=%d skipped=%d failed=%d pending=%d total=%d\n",
		state, output.Completion.Reason, counts.Completed, counts.Skipped, counts.Failed, counts.Pending, counts.Total)
	if output.Continuation != nil && output.Continuation.NextTask != "" {
		fmt.Printf("next task: %s (%s)\n", output.Continuation.NextTask, output.Continuation.Reason)
	}
	return exitCode
}

type recheckOutput struct {
	OK         bool            `json:"ok"`
	Regression *regress.Report `json:"regression,omitempty"`
	Downgraded int             `json:"downgraded"`
	JUnitPath  string          `json:"junit_path,omitempty"`
	Error      string          `json:"error,omitempty"`
}

// runRecheck re-verifies every completed step. The oracle runs on a
// snapshot; downgrades are applied afterwards under the session lock.
func runRecheck(arguments []string) int {
	if hasExplainFlag(arguments) {
		return explainCommand("recheck")
	}
	var common commonFlags
	flagSet := newFlagSet("recheck", &common)
	var junitPath string
	flagSet.StringVar(&junitPath, "junit", "", "write a JUnit XML report to this path")
	if err := parseFlags(flagSet, arguments); err != nil {
		return writeError(common.jsonOutput, flagSet.Name(), err)
	}
	if common.helpFlag {
		fmt.Println("Usage:")
		fmt.Println("  harness recheck [--junit <path>] [--workdir <path>] [--json] [--explain]")
		return exitOK
	}
	runtime, err := openRuntime(common)
	if err != nil {
		return writeError(common.jsonOutput, "recheck", err)
	}
	defer runtime.close()
	ctx, cancel := commandContext()
	defer cancel()

	snapshot, err := runtime.store.Load(ctx)
	if err != nil {
		return writeError(common.jsonOutput, "recheck", err)
	}
	rechecker := runtime.rechecker(runtime.oracle())
	report := rechecker.Recheck(ctx, snapshot, -1)
	output := recheckOutput{OK: true, Regression: &report}
	switch {
	case !report.HasRegressions():
	case rechecker.Policy() == projectconfig.RegressionBlock:
		_, err := runtime.store.Update(ctx, func(current *schemasession.Session) error {
			output.Downgraded = rechecker.Apply(current, &report, runtime.store.Now())
			return nil
		})
		if err != nil {
			return writeError(common.jsonOutput, "recheck", err)
		}
	default:
		rechecker.Apply(snapshot, &report, runtime.store.Now())
	}
	if strings.TrimSpace(junitPath) != "" {
		if err := regress.WriteJUnit(junitPath, report); err != nil {
			return writeError(common.jsonOutput, "recheck", err)
		}
		output.JUnitPath = junitPath
	}
	exitCode := exitOK
	if report.HasRegressions() {
		exitCode = exitNo
	}
	return writeRecheckOutput(common.jsonOutput, output, exitCode)
}

func writeRecheckOutput(jsonOutput bool, output recheckOutput, exitCode int) int {
	if jsonOutput {
		return writeJSONOutput(output, exitCode)
	}
	if output.Error != "" {
		fmt.Printf("recheck error: %s\n", output.Error)
		return exitCode
	}
	report := output.Regression
	fmt.Printf("recheck: policy=%s checked=%d passed=%d skipped=%d regressed=%d downgraded=%d\n",
		report.Policy, len(report.Checked), len(report.Passed), len(report.Skipped), len(report.Regressed), output.Downgraded)
	for _, finding := range report.Regressed {
		fmt.Printf("- %s (%s): %s\n", finding.StepID, finding.Detector, finding.Message)
	}
	if output.JUnitPath != "" {
		fmt.Printf("junit: %s\n", output.JUnitPath)
	}
	return exitCode
}
