package main

import (
	"fmt"
	"strings"

	"github.com/davidahmann/harness/core/queue"
	schemasession "github.com/davidahmann/harness/core/schema/v1/session"
)

type queueOutput struct {
	OK           bool                 `json:"ok"`
	Operation    string               `json:"operation"`
	Queue        *queue.Summary       `json:"queue,omitempty"`
	Advance      *queue.AdvanceResult `json:"advance,omitempty"`
	Continuation *queue.Continuation  `json:"continuation,omitempty"`
	Error        string               `json:"error,omitempty"`
}

func queueSettings(runtime *commandRuntime) queue.Settings {
	cfg := runtime.workspace.Config
	return queue.Settings{
		AutoContinue:      cfg.AutoContinue(),
		PauseBetweenTasks: cfg.Queue.PauseBetweenTasks,
	}
}

func runQueue(arguments []string) int {
	if hasExplainFlag(arguments) {
		return explainCommand("queue")
	}
	if len(arguments) == 0 {
		printQueueUsage()
		return exitError
	}
	switch arguments[0] {
	case "init", "advance", "status", "continue":
		return runQueueOperation(arguments[0], arguments[1:])
	case "--help", "-h", "help":
		printQueueUsage()
		return exitOK
	default:
		printQueueUsage()
		return exitError
	}
}

func runQueueOperation(operation string, arguments []string) int {
	var common commonFlags
	flagSet := newFlagSet("queue "+operation, &common)
	var source string
	flagSet.StringVar(&source, "source", "cli", "where the task ids came from")
	if err := parseFlags(flagSet, arguments); err != nil {
		return writeError(common.jsonOutput, flagSet.Name(), err)
	}
	if common.helpFlag {
		printQueueUsage()
		return exitOK
	}
	var ids []string
	for _, argument := range flagSet.Args() {
		ids = append(ids, splitList(argument)...)
	}
	if operation == "init" && len(ids) == 0 {
		return writeQueueOutput(common.jsonOutput, queueOutput{Operation: operation, Error: "provide at least one task id"}, exitError)
	}
	if operation != "init" && len(ids) > 0 {
		return writeQueueOutput(common.jsonOutput, queueOutput{Operation: operation, Error: "unexpected positional arguments"}, exitError)
	}

	runtime, err := openRuntime(common)
	if err != nil {
		return writeError(common.jsonOutput, "queue "+operation, err)
	}
	defer runtime.close()
	ctx, cancel := commandContext()
	defer cancel()

	output := queueOutput{OK: true, Operation: operation}
	exitCode := exitOK
	var current *schemasession.Session
	switch operation {
	case "init":
		current, err = runtime.store.Update(ctx, func(s *schemasession.Session) error {
			return queue.Init(s, ids, strings.TrimSpace(source), runtime.store.Now(), runtime.logger)
		})
	case "advance":
		var advanced queue.AdvanceResult
		current, err = runtime.store.Update(ctx, func(s *schemasession.Session) error {
			var advanceErr error
			advanced, advanceErr = queue.Advance(s)
			return advanceErr
		})
		output.Advance = &advanced
	case "status":
		current, err = runtime.store.Load(ctx)
	case "continue":
		current, err = runtime.store.Load(ctx)
		if err == nil {
			continuation := queue.CheckContinuation(current, queueSettings(runtime))
			output.Continuation = &continuation
			if !continuation.Continue {
				exitCode = exitNo
			}
		}
	}
	if err != nil {
		return writeError(common.jsonOutput, "queue "+operation, err)
	}
	if summary, ok := queue.Summarize(current); ok {
		output.Queue = &summary
	}
	return writeQueueOutput(common.jsonOutput, output, exitCode)
}

func writeQueueOutput(jsonOutput bool, output queueOutput, exitCode int) int {
	if jsonOutput {
		return writeJSONOutput(output, exitCode)
	}
	if output.Error != "" {
		fmt.Printf("queue %s error: %s\n", output.Operation, output.Error)
		return exitCode
	}
	if advanced := output.Advance; advanced != nil {
		switch {
		case advanced.QueueComplete && advanced.CompletedTask == "":
			fmt.Println("queue already complete")
		case advanced.QueueComplete:
			fmt.Printf("completed %s; queue complete\n", advanced.CompletedTask)
		default:
			fmt.Printf("completed %s; next %s (%d remaining)\n", advanced.CompletedTask, advanced.NextTask, advanced.Remaining)
		}
	}
	if continuation := output.Continuation; continuation != nil {
		fmt.Printf("continue=%t reason=%s", continuation.Continue, continuation.Reason)
		if continuation.NextTask != "" {
			fmt.Printf(" next=%s", continuation.NextTask)
		}
		fmt.Println()
	}
	if output.Operation == "init" || output.Operation == "status" {
		if output.Queue == nil {
			fmt.Println("no task queue")
			return exitCode
		}
		fmt.Printf("queue: %s\n", strings.Join(output.Queue.Tasks, ", "))
		fmt.Printf("current: %s (%d remaining)\n", output.Queue.CurrentTask, output.Queue.Remaining)
	}
	return exitCode
}

func printQueueUsage() {
	fmt.Println("Usage:")
	fmt.Println("  harness queue init <id>[,<id>...] [--source <text>] [--workdir <path>] [--json] [--explain]")
	fmt.Println("  harness queue advance [--workdir <path>] [--json] [--explain]")
	fmt.Println("  harness queue status [--workdir <path>] [--json] [--explain]")
	fmt.Println("  harness queue continue [--workdir <path>] [--json] [--explain]")
}
