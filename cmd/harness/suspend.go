package main

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	schemasession "github.com/davidahmann/harness/core/schema/v1/session"
	"github.com/davidahmann/harness/core/suspend"
)

type suspendOutput struct {
	OK         bool                      `json:"ok"`
	Suspension *schemasession.Suspension `json:"suspension,omitempty"`
	Error      string                    `json:"error,omitempty"`
}

func runSuspend(arguments []string) int {
	if hasExplainFlag(arguments) {
		return explainCommand("suspend")
	}
	var common commonFlags
	flagSet := newFlagSet("suspend", &common)

	var suspensionType string
	var reason string
	var until string
	var duration time.Duration
	var pollCommand string
	var expected string
	var pollTimeout time.Duration
	var manual bool
	var filePath string
	var jsonPath string
	var expectedContent string
	var notifyChannels string
	var notifyMessage string
	var notifyOnResume bool

	flagSet.StringVar(&suspensionType, "type", "", "ci-cd, scheduled, rate-limit, human-review, external-event or long-running")
	flagSet.StringVar(&reason, "reason", "", "why the session is paused")
	flagSet.StringVar(&until, "until", "", "resume after this RFC3339 time")
	flagSet.DurationVar(&duration, "for", 0, "resume after this duration")
	flagSet.StringVar(&pollCommand, "poll", "", "resume when this command succeeds or prints --expect")
	flagSet.StringVar(&expected, "expect", "", "expected trimmed output of the poll command")
	flagSet.DurationVar(&pollTimeout, "timeout", 0, "poll command timeout")
	flagSet.BoolVar(&manual, "manual", false, "resume after harness approve")
	flagSet.StringVar(&filePath, "file", "", "resume when this file exists")
	flagSet.StringVar(&jsonPath, "json-path", "", "gjson path selecting the value to compare in --file")
	flagSet.StringVar(&expectedContent, "expect-content", "", "expected JSON value (or text) of --file")
	flagSet.StringVar(&notifyChannels, "notify", "", "comma separated notification channels")
	flagSet.StringVar(&notifyMessage, "notify-message", "", "notification message")
	flagSet.BoolVar(&notifyOnResume, "notify-on-resume", false, "notify when the session resumes")

	if err := parseFlags(flagSet, arguments); err != nil {
		return writeError(common.jsonOutput, flagSet.Name(), err)
	}
	if common.helpFlag {
		printSuspendUsage()
		return exitOK
	}
	if len(flagSet.Args()) > 0 {
		return writeSuspendOutput(common.jsonOutput, suspendOutput{Error: "unexpected positional arguments"}, exitError)
	}

	config := suspend.Config{
		Type:     schemasession.SuspensionType(strings.TrimSpace(suspensionType)),
		Reason:   reason,
		Duration: duration,
		Notify: schemasession.Notification{
			Channels: splitList(notifyChannels),
			OnResume: notifyOnResume,
			Message:  notifyMessage,
		},
	}
	selected := 0
	if until != "" || duration != 0 {
		selected++
		config.Condition.Type = schemasession.ConditionTime
		if until != "" {
			resumeAfter, err := time.Parse(time.RFC3339, until)
			if err != nil {
				return writeSuspendOutput(common.jsonOutput, suspendOutput{Error: fmt.Sprintf("parse --until: %v", err)}, exitError)
			}
			resumeAfter = resumeAfter.UTC()
			config.Condition.ResumeAfter = &resumeAfter
		}
	}
	if pollCommand != "" {
		selected++
		config.Condition.Type = schemasession.ConditionPoll
		config.Condition.Command = pollCommand
		config.Condition.Expected = expected
		config.Condition.TimeoutSeconds = int(pollTimeout / time.Second)
	}
	if manual {
		selected++
		config.Condition.Type = schemasession.ConditionManual
	}
	if filePath != "" {
		selected++
		config.Condition.Type = schemasession.ConditionFile
		config.Condition.Path = filePath
		config.Condition.JSONPath = strings.TrimSpace(jsonPath)
		if expectedContent != "" {
			config.Condition.ExpectedContent = jsonLiteral(expectedContent)
		}
	}
	if selected != 1 {
		return writeSuspendOutput(common.jsonOutput, suspendOutput{Error: "choose exactly one of --until/--for, --poll, --manual or --file"}, exitError)
	}

	runtime, err := openRuntime(common)
	if err != nil {
		return writeError(common.jsonOutput, "suspend", err)
	}
	defer runtime.close()
	ctx, cancel := commandContext()
	defer cancel()

	suspension, err := runtime.controller().Suspend(ctx, config)
	if err != nil {
		return writeError(common.jsonOutput, "suspend", err)
	}
	return writeSuspendOutput(common.jsonOutput, suspendOutput{OK: true, Suspension: &suspension}, exitOK)
}

// jsonLiteral keeps valid JSON as is and quotes anything else as a string.
func jsonLiteral(raw string) json.RawMessage {
	if json.Valid([]byte(raw)) {
		return json.RawMessage(raw)
	}
	encoded, _ := json.Marshal(raw)
	return encoded
}

func writeSuspendOutput(jsonOutput bool, output suspendOutput, exitCode int) int {
	if jsonOutput {
		return writeJSONOutput(output, exitCode)
	}
	if output.Error != "" {
		fmt.Printf("suspend error: %s\n", output.Error)
		return exitCode
	}
	suspension := output.Suspension
	fmt.Printf("suspended (%s): %s\n", suspension.Type, suspension.Reason)
	fmt.Printf("resume condition: %s\n", describeCondition(suspension.ResumeCondition))
	if suspension.StepID != "" {
		fmt.Printf("parked step: %s\n", suspension.StepID)
	}
	return exitCode
}

func describeCondition(condition schemasession.ResumeCondition) string {
	switch condition.Type {
	case schemasession.ConditionTime:
		if condition.ResumeAfter != nil {
			return "time after " + condition.ResumeAfter.UTC().Format(time.RFC3339)
		}
	case schemasession.ConditionPoll:
		if condition.Expected != "" {
			return fmt.Sprintf("poll %q expecting %q", condition.Command, condition.Expected)
		}
		return fmt.Sprintf("poll %q exiting 0", condition.Command)
	case schemasession.ConditionManual:
		if condition.ApprovedBy != "" {
			return "manual, approved by " + condition.ApprovedBy
		}
		return "manual approval (harness approve)"
	case schemasession.ConditionFile:
		if condition.JSONPath != "" {
			return fmt.Sprintf("file %s with %s = %s", condition.Path, condition.JSONPath, string(condition.ExpectedContent))
		}
		return "file " + condition.Path
	}
	return string(condition.Type)
}

func printSuspendUsage() {
	fmt.Println("Usage:")
	fmt.Println("  harness suspend --until <rfc3339>|--for <duration> [--type <type>] [--reason <text>] [--json] [--explain]")
	fmt.Println("  harness suspend --poll <command> [--expect <output>] [--timeout <duration>] [--type <type>] [--reason <text>] [--json] [--explain]")
	fmt.Println("  harness suspend --manual [--type <type>] [--reason <text>] [--json] [--explain]")
	fmt.Println("  harness suspend --file <path> [--json-path <path> --expect-content <json>] [--type <type>] [--reason <text>] [--json] [--explain]")
	fmt.Println("  notification flags: --notify <channel,...> --notify-message <text> --notify-on-resume")
}

func runApprove(arguments []string) int {
	if hasExplainFlag(arguments) {
		return explainCommand("approve")
	}
	var common commonFlags
	flagSet := newFlagSet("approve", &common)
	var actor string
	var note string
	flagSet.StringVar(&actor, "actor", "", "who approves (default operator)")
	flagSet.StringVar(&note, "note", "", "approval note")
	if err := parseFlags(flagSet, arguments); err != nil {
		return writeError(common.jsonOutput, flagSet.Name(), err)
	}
	if common.helpFlag {
		fmt.Println("Usage:")
		fmt.Println("  harness approve [--actor <name>] [--note <text>] [--workdir <path>] [--json] [--explain]")
		return exitOK
	}
	runtime, err := openRuntime(common)
	if err != nil {
		return writeError(common.jsonOutput, "approve", err)
	}
	defer runtime.close()
	ctx, cancel := commandContext()
	defer cancel()

	approved, err := runtime.controller().Approve(ctx, actor, note)
	if err != nil {
		return writeError(common.jsonOutput, "approve", err)
	}
	if common.jsonOutput {
		return writeJSONOutput(suspendOutput{OK: true, Suspension: &approved}, exitOK)
	}
	fmt.Printf("approved by %s; run harness resume\n", approved.ResumeCondition.ApprovedBy)
	return exitOK
}

type canResumeOutput struct {
	OK    bool                 `json:"ok"`
	Check *suspend.CheckResult `json:"check,omitempty"`
	Error string               `json:"error,omitempty"`
}

// runCanResume exits 0 when the condition holds and 2 when it does not.
func runCanResume(arguments []string) int {
	if hasExplainFlag(arguments) {
		return explainCommand("can-resume")
	}
	var common commonFlags
	flagSet := newFlagSet("can-resume", &common)
	if err := parseFlags(flagSet, arguments); err != nil {
		return writeError(common.jsonOutput, flagSet.Name(), err)
	}
	if common.helpFlag {
		fmt.Println("Usage:")
		fmt.Println("  harness can-resume [--workdir <path>] [--json] [--explain]")
		return exitOK
	}
	runtime, err := openRuntime(common)
	if err != nil {
		return writeError(common.jsonOutput, "can-resume", err)
	}
	defer runtime.close()
	ctx, cancel := commandContext()
	defer cancel()

	check, err := runtime.controller().Check(ctx)
	if err != nil {
		return writeError(common.jsonOutput, "can-resume", err)
	}
	exitCode := exitOK
	if !check.CanResume {
		exitCode = exitNo
	}
	return writeCanResumeOutput(common.jsonOutput, canResumeOutput{OK: true, Check: &check}, exitCode)
}

func writeCanResumeOutput(jsonOutput bool, output canResumeOutput, exitCode int) int {
	if jsonOutput {
		return writeJSONOutput(output, exitCode)
	}
	if output.Error != "" {
		fmt.Printf("can-resume error: %s\n", output.Error)
		return exitCode
	}
	printCheck(*output.Check)
	return exitCode
}

func printCheck(check suspend.CheckResult) {
	answer := "no"
	if check.CanResume {
		answer = "yes"
	}
	fmt.Printf("can resume: %s (%s) %s\n", answer, check.Condition, check.Reason)
	if check.RemainingSeconds > 0 {
		fmt.Printf("remaining: %s\n", time.Duration(check.RemainingSeconds)*time.Second)
	}
	for _, warning := range check.Warnings {
		fmt.Printf("warning: %s\n", warning)
	}
}

type resumeOutput struct {
	OK     bool                  `json:"ok"`
	Resume *suspend.ResumeResult `json:"resume,omitempty"`
	Error  string                `json:"error,omitempty"`
}

func runResume(arguments []string) int {
	if hasExplainFlag(arguments) {
		return explainCommand("resume")
	}
	var common commonFlags
	flagSet := newFlagSet("resume", &common)
	var force bool
	var actor string
	flagSet.BoolVar(&force, "force", false, "resume without evaluating the condition")
	flagSet.StringVar(&actor, "actor", "", "who resumes (default operator)")
	if err := parseFlags(flagSet, arguments); err != nil {
		return writeError(common.jsonOutput, flagSet.Name(), err)
	}
	if common.helpFlag {
		fmt.Println("Usage:")
		fmt.Println("  harness resume [--force] [--actor <name>] [--workdir <path>] [--json] [--explain]")
		return exitOK
	}
	runtime, err := openRuntime(common)
	if err != nil {
		return writeError(common.jsonOutput, "resume", err)
	}
	defer runtime.close()
	ctx, cancel := commandContext()
	defer cancel()

	result, err := runtime.controller().Resume(ctx, suspend.ResumeOptions{Force: force, Actor: actor})
	if err != nil {
		return writeError(common.jsonOutput, "resume", err)
	}
	exitCode := exitOK
	if !result.Resumed {
		exitCode = exitNo
	}
	return writeResumeOutput(common.jsonOutput, resumeOutput{OK: true, Resume: &result}, exitCode)
}

func writeResumeOutput(jsonOutput bool, output resumeOutput, exitCode int) int {
	if jsonOutput {
		return writeJSONOutput(output, exitCode)
	}
	if output.Error != "" {
		fmt.Printf("resume error: %s\n", output.Error)
		return exitCode
	}
	result := output.Resume
	if !result.Resumed {
		fmt.Println("not resumed")
		if result.Check != nil {
			printCheck(*result.Check)
		}
		return exitCode
	}
	if result.Forced {
		fmt.Println("resumed (forced)")
	} else {
		fmt.Println("resumed")
	}
	if result.StepID != "" {
		fmt.Printf("step %s is pending again\n", result.StepID)
	}
	return exitCode
}
