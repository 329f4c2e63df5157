package main

import (
	"fmt"
	"strings"
)

var commandExplanations = map[string]string{
	"init":       "Create the active session for a task, optionally with an initial step list and a task queue. Re-running init for the same task returns the existing session unchanged.",
	"add":        "Append steps to the active session. Ids continue the step-NNN sequence.",
	"status":     "Show the active session: step statuses, the step in progress, the next actionable step and whether the session is complete or suspended.",
	"next":       "Report the step to work on: the one already in progress, or the first pending or failed step.",
	"start":      "Mark a step in_progress. Starting the step already in progress is a no-op; restarting a failed step counts a retry.",
	"complete":   "Mark a step completed with a verification proof. With --verify the step is checked against the workspace first and earlier completed steps are re-checked for regressions.",
	"fail":       "Mark a step failed with an error message. The step can be started again.",
	"skip":       "Mark a step skipped with a reason. Skipped steps count as done for completion.",
	"check":      "Exit 0 when the session is complete (all steps done or a limit reached) and 2 otherwise. A suspended session is never complete.",
	"recheck":    "Re-verify every completed step against the workspace and apply the regression policy. Optionally write a JUnit report.",
	"suspend":    "Pause the session until a resume condition holds: a time, a polled command, a manual approval or a file.",
	"approve":    "Approve a manual resume condition so the session can resume.",
	"can-resume": "Evaluate the resume condition without changing the session. Exit 0 when it holds and 2 when it does not.",
	"resume":     "Clear the suspension when its condition holds, or unconditionally with --force. Exit 2 when the condition does not hold yet.",
	"queue":      "Manage the task queue that sequences several tasks through successive sessions.",
	"verify":     "Run the verification oracle on a step or a free-text description. Exit 0 pass, 2 fail, 3 indeterminate.",
	"archive":    "Move the active session into the bounded history with a final status.",
	"stats":      "Aggregate the archived history. --textfile writes the figures in Prometheus textfile format.",
	"clear":      "Delete the active session without archiving it.",
	"validate":   "Validate a session document or a steps file against its JSON schema.",
	"doctor":     "Diagnose the workspace: state directory, config, session file, history, lock and shell.",
}

func hasExplainFlag(arguments []string) bool {
	for _, argument := range arguments {
		if strings.TrimSpace(argument) == "--explain" {
			return true
		}
	}
	return false
}

func writeExplain(text string) int {
	fmt.Println(text)
	return exitOK
}

func explainCommand(command string) int {
	return writeExplain(commandExplanations[command])
}
