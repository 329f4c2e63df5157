package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/davidahmann/harness/core/queue"
	schemasession "github.com/davidahmann/harness/core/schema/v1/session"
	"github.com/davidahmann/harness/core/tracker"
)

var (
	titleStyle   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("69"))
	mutedStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("244"))
	warningStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("214"))

	statusStyles = map[schemasession.StepStatus]lipgloss.Style{
		schemasession.StatusPending:    lipgloss.NewStyle().Foreground(lipgloss.Color("252")),
		schemasession.StatusInProgress: lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("39")),
		schemasession.StatusCompleted:  lipgloss.NewStyle().Foreground(lipgloss.Color("42")),
		schemasession.StatusFailed:     lipgloss.NewStyle().Foreground(lipgloss.Color("196")),
		schemasession.StatusSkipped:    lipgloss.NewStyle().Foreground(lipgloss.Color("244")),
		schemasession.StatusSuspended:  lipgloss.NewStyle().Foreground(lipgloss.Color("214")),
	}
)

type statusOutput struct {
	OK     bool                  `json:"ok"`
	Status *tracker.StatusReport `json:"status,omitempty"`
	Queue  *queue.Summary        `json:"queue,omitempty"`
	Error  string                `json:"error,omitempty"`
}

func runStatus(arguments []string) int {
	if hasExplainFlag(arguments) {
		return explainCommand("status")
	}
	var common commonFlags
	flagSet := newFlagSet("status", &common)
	if err := parseFlags(flagSet, arguments); err != nil {
		return writeError(common.jsonOutput, flagSet.Name(), err)
	}
	if common.helpFlag {
		fmt.Println("Usage:")
		fmt.Println("  harness status [--workdir <path>] [--json] [--explain]")
		return exitOK
	}
	runtime, err := openRuntime(common)
	if err != nil {
		return writeError(common.jsonOutput, "status", err)
	}
	defer runtime.close()
	ctx, cancel := commandContext()
	defer cancel()

	report, err := runtime.tracker().Status(ctx)
	if err != nil {
		return writeError(common.jsonOutput, "status", err)
	}
	output := statusOutput{OK: true, Status: &report}
	if summary, ok := queue.Summarize(report.Session); ok {
		output.Queue = &summary
	}
	return writeStatusOutput(common.jsonOutput, output, exitOK)
}

func writeStatusOutput(jsonOutput bool, output statusOutput, exitCode int) int {
	if jsonOutput {
		return writeJSONOutput(output, exitCode)
	}
	if output.Error != "" {
		fmt.Printf("status error: %s\n", output.Error)
		return exitCode
	}
	fmt.Print(renderStatus(*output.Status, output.Queue))
	return exitCode
}

func renderStatus(report tracker.StatusReport, summary *queue.Summary) string {
	current := report.Session
	var builder strings.Builder
	builder.WriteString(titleStyle.Render(fmt.Sprintf("%s (%s)", current.TaskID, current.TaskType)))
	builder.WriteString(" ")
	builder.WriteString(mutedStyle.Render("session " + current.ID))
	builder.WriteString("\n")

	for _, step := range current.Steps {
		style, ok := statusStyles[step.Status]
		if !ok {
			style = mutedStyle
		}
		marker := " "
		if report.Active != nil && report.Active.Step.ID == step.ID {
			marker = ">"
		}
		fmt.Fprintf(&builder, "%s %s %s %s\n", marker, step.ID, style.Render(fmt.Sprintf("%-11s", step.Status)), step.Description)
		if step.Error != nil && step.Status == schemasession.StatusFailed {
			builder.WriteString(mutedStyle.Render("      " + step.Error.Message))
			builder.WriteString("\n")
		}
	}

	counts := report.Counts
	fmt.Fprintf(&builder, "completed %d/%d, skipped %d, failed %d, iteration %d, retries %d\n",
		counts.Completed, counts.Total, counts.Skipped, counts.Failed, current.Execution.Iteration, current.Execution.TotalRetries)

	if suspension := current.Suspension; suspension != nil {
		line := fmt.Sprintf("suspended (%s, %s): %s", suspension.Type, suspension.ResumeCondition.Type, suspension.Reason)
		if after := suspension.ResumeCondition.ResumeAfter; after != nil {
			line += " until " + after.UTC().Format(time.RFC3339)
		}
		builder.WriteString(warningStyle.Render(line))
		builder.WriteString("\n")
	}
	if summary != nil {
		fmt.Fprintf(&builder, "queue: %d/%d done, current %s\n", len(summary.CompletedTasks), len(summary.Tasks), summary.CurrentTask)
	}
	switch {
	case report.Completion.Complete:
		fmt.Fprintf(&builder, "complete: %s\n", report.Completion.Reason)
	case report.Next != nil && report.Active == nil:
		fmt.Fprintf(&builder, "next: %s\n", report.Next.Step.ID)
	}
	return builder.String()
}
