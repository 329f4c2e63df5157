package main

import (
	"fmt"
	"os"
	"strings"

	coreerrors "github.com/davidahmann/harness/core/errors"
	"github.com/davidahmann/harness/core/queue"
	"github.com/davidahmann/harness/core/schema/validate"
	schemasession "github.com/davidahmann/harness/core/schema/v1/session"
	"github.com/davidahmann/harness/core/session"
)

type initOutput struct {
	OK        bool           `json:"ok"`
	Created   bool           `json:"created"`
	SessionID string         `json:"session_id,omitempty"`
	TaskID    string         `json:"task_id,omitempty"`
	TaskType  string         `json:"task_type,omitempty"`
	Steps     int            `json:"steps"`
	Path      string         `json:"path,omitempty"`
	Queue     *queue.Summary `json:"queue,omitempty"`
	Error     string         `json:"error,omitempty"`
}

func runInit(arguments []string) int {
	if hasExplainFlag(arguments) {
		return explainCommand("init")
	}
	var common commonFlags
	flagSet := newFlagSet("init", &common)

	var taskID string
	var taskType string
	var stepsJSON string
	var stepsFile string
	var queueIDs string
	var continueQueue bool

	flagSet.StringVar(&taskID, "task", "", "task id")
	flagSet.StringVar(&taskType, "type", "", "task type (default feature)")
	flagSet.StringVar(&stepsJSON, "steps", "", "JSON array of step descriptions or step objects")
	flagSet.StringVar(&stepsFile, "steps-file", "", "path to a JSON steps file")
	flagSet.StringVar(&queueIDs, "queue", "", "comma separated task ids to queue after this one")
	flagSet.BoolVar(&continueQueue, "continue-queue", false, "inherit the unfinished queue of the last archived session")

	if err := parseFlags(flagSet, arguments); err != nil {
		return writeError(common.jsonOutput, flagSet.Name(), err)
	}
	if common.helpFlag {
		printInitUsage()
		return exitOK
	}
	if len(flagSet.Args()) > 0 {
		return writeInitOutput(common.jsonOutput, initOutput{OK: false, Error: "unexpected positional arguments"}, exitError)
	}
	if queueIDs != "" && continueQueue {
		return writeInitOutput(common.jsonOutput, initOutput{OK: false, Error: "--queue and --continue-queue are mutually exclusive"}, exitError)
	}
	inputs, err := readStepInputs(stepsJSON, stepsFile, nil)
	if err != nil {
		return writeError(common.jsonOutput, "init", err)
	}

	runtime, err := openRuntime(common)
	if err != nil {
		return writeError(common.jsonOutput, "init", err)
	}
	defer runtime.close()
	ctx, cancel := commandContext()
	defer cancel()

	options := session.CreateOptions{
		TaskID:   taskID,
		TaskType: taskType,
		Steps:    inputs,
	}
	if queueIDs != "" {
		options.Queue = splitList(queueIDs)
		options.QueueSource = "cli"
		if strings.TrimSpace(taskID) == "" && len(options.Queue) > 0 {
			options.TaskID = options.Queue[0]
		}
	}
	if continueQueue {
		inherited, found, err := runtime.store.LastQueue(ctx)
		if err != nil {
			return writeError(common.jsonOutput, "init", err)
		}
		if !found {
			return writeInitOutput(common.jsonOutput, initOutput{OK: false, Error: "no unfinished queue in the session history"}, exitError)
		}
		options.InheritQueue = inherited
		if strings.TrimSpace(taskID) == "" {
			options.TaskID = inherited.Tasks[inherited.CurrentIndex]
		}
	}

	created, isNew, err := runtime.store.CreateLocked(ctx, options)
	if err != nil {
		return writeError(common.jsonOutput, "init", err)
	}
	output := initOutput{
		OK:        true,
		Created:   isNew,
		SessionID: created.ID,
		TaskID:    created.TaskID,
		TaskType:  created.TaskType,
		Steps:     len(created.Steps),
		Path:      runtime.store.Path(),
	}
	if summary, ok := queue.Summarize(created); ok {
		output.Queue = &summary
	}
	return writeInitOutput(common.jsonOutput, output, exitOK)
}

// readStepInputs merges --steps, --steps-file and positional descriptions.
func readStepInputs(stepsJSON, stepsFile string, descriptions []string) ([]session.StepInput, error) {
	var inputs []session.StepInput
	if strings.TrimSpace(stepsFile) != "" {
		// #nosec G304 -- operator-selected steps file.
		payload, err := os.ReadFile(stepsFile)
		if err != nil {
			return nil, coreerrors.Wrap(fmt.Errorf("read steps file: %w", err), coreerrors.CategoryInvalidInput, "steps_file_unreadable", "", false)
		}
		if err := validate.ValidateStepsFile(payload); err != nil {
			return nil, coreerrors.Wrap(fmt.Errorf("%s: %w", stepsFile, err), coreerrors.CategoryInvalidInput, "steps_invalid", "run harness validate --steps-file "+stepsFile, false)
		}
		parsed, err := session.ParseStepInputs(payload)
		if err != nil {
			return nil, err
		}
		inputs = append(inputs, parsed...)
	}
	if strings.TrimSpace(stepsJSON) != "" {
		parsed, err := session.ParseStepInputs([]byte(stepsJSON))
		if err != nil {
			return nil, err
		}
		inputs = append(inputs, parsed...)
	}
	for _, description := range descriptions {
		inputs = append(inputs, session.RawStep(description))
	}
	return inputs, nil
}

func writeInitOutput(jsonOutput bool, output initOutput, exitCode int) int {
	if jsonOutput {
		return writeJSONOutput(output, exitCode)
	}
	if output.Error != "" {
		fmt.Printf("init error: %s\n", output.Error)
		return exitCode
	}
	verb := "created"
	if !output.Created {
		verb = "already active"
	}
	fmt.Printf("session %s: task=%s type=%s steps=%d\n", verb, output.TaskID, output.TaskType, output.Steps)
	if output.Queue != nil {
		fmt.Printf("queue: %d task(s), current=%s\n", len(output.Queue.Tasks), output.Queue.CurrentTask)
	}
	return exitCode
}

func printInitUsage() {
	fmt.Println("Usage:")
	fmt.Println("  harness init --task <id> [--type <type>] [--steps <json>] [--steps-file <path>] [--queue <id,id>] [--continue-queue] [--workdir <path>] [--json] [--explain]")
}

type clearOutput struct {
	OK      bool   `json:"ok"`
	Removed bool   `json:"removed"`
	Path    string `json:"path,omitempty"`
	Error   string `json:"error,omitempty"`
}

func runClear(arguments []string) int {
	if hasExplainFlag(arguments) {
		return explainCommand("clear")
	}
	var common commonFlags
	flagSet := newFlagSet("clear", &common)
	if err := parseFlags(flagSet, arguments); err != nil {
		return writeError(common.jsonOutput, flagSet.Name(), err)
	}
	if common.helpFlag {
		fmt.Println("Usage:")
		fmt.Println("  harness clear [--workdir <path>] [--json] [--explain]")
		return exitOK
	}
	runtime, err := openRuntime(common)
	if err != nil {
		return writeError(common.jsonOutput, "clear", err)
	}
	defer runtime.close()
	ctx, cancel := commandContext()
	defer cancel()

	removed, err := runtime.store.Clear(ctx)
	if err != nil {
		return writeError(common.jsonOutput, "clear", err)
	}
	return writeClearOutput(common.jsonOutput, clearOutput{OK: true, Removed: removed, Path: runtime.store.Path()}, exitOK)
}

func writeClearOutput(jsonOutput bool, output clearOutput, exitCode int) int {
	if jsonOutput {
		return writeJSONOutput(output, exitCode)
	}
	switch {
	case output.Error != "":
		fmt.Printf("clear error: %s\n", output.Error)
	case output.Removed:
		fmt.Printf("session cleared: %s\n", output.Path)
	default:
		fmt.Println("no active session")
	}
	return exitCode
}

type archiveOutput struct {
	OK              bool   `json:"ok"`
	TaskID          string `json:"task_id,omitempty"`
	SessionID       string `json:"session_id,omitempty"`
	FinalStatus     string `json:"final_status,omitempty"`
	DurationSeconds int64  `json:"duration_seconds"`
	Digest          string `json:"digest,omitempty"`
	Error           string `json:"error,omitempty"`
}

func runArchive(arguments []string) int {
	if hasExplainFlag(arguments) {
		return explainCommand("archive")
	}
	var common commonFlags
	flagSet := newFlagSet("archive", &common)
	var finalStatus string
	flagSet.StringVar(&finalStatus, "status", schemasession.FinalCompleted, "final status: completed, failed or cancelled")
	if err := parseFlags(flagSet, arguments); err != nil {
		return writeError(common.jsonOutput, flagSet.Name(), err)
	}
	if common.helpFlag {
		fmt.Println("Usage:")
		fmt.Println("  harness archive [--status completed|failed|cancelled] [--workdir <path>] [--json] [--explain]")
		return exitOK
	}
	runtime, err := openRuntime(common)
	if err != nil {
		return writeError(common.jsonOutput, "archive", err)
	}
	defer runtime.close()
	ctx, cancel := commandContext()
	defer cancel()

	entry, err := runtime.store.Archive(ctx, strings.ToLower(strings.TrimSpace(finalStatus)))
	if err != nil {
		return writeError(common.jsonOutput, "archive", err)
	}
	return writeArchiveOutput(common.jsonOutput, archiveOutput{
		OK:              true,
		TaskID:          entry.Session.TaskID,
		SessionID:       entry.Session.ID,
		FinalStatus:     entry.FinalStatus,
		DurationSeconds: entry.DurationSeconds,
		Digest:          entry.Digest,
	}, exitOK)
}

func writeArchiveOutput(jsonOutput bool, output archiveOutput, exitCode int) int {
	if jsonOutput {
		return writeJSONOutput(output, exitCode)
	}
	if output.Error != "" {
		fmt.Printf("archive error: %s\n", output.Error)
		return exitCode
	}
	fmt.Printf("archived %s as %s (%ds) digest=%s\n", output.TaskID, output.FinalStatus, output.DurationSeconds, output.Digest)
	return exitCode
}
