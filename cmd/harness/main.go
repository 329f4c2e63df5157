package main

import (
	"fmt"
	"os"
)

// version is stamped at release time via ldflags; default stays dev for local builds.
var version = "0.0.0-dev"

const (
	exitOK            = 0
	exitError         = 1
	exitNo            = 2
	exitIndeterminate = 3
)

func main() {
	os.Exit(run(os.Args))
}

func run(arguments []string) int {
	if len(arguments) < 2 {
		fmt.Println("harness", version)
		return exitOK
	}
	if arguments[1] == "--explain" {
		return writeExplain("Harness tracks a task as an ordered list of steps, verifies completed steps against the workspace, and pauses the session until an external condition holds.")
	}

	switch arguments[1] {
	case "init":
		return runInit(arguments[2:])
	case "add":
		return runAdd(arguments[2:])
	case "status":
		return runStatus(arguments[2:])
	case "next":
		return runNext(arguments[2:])
	case "start":
		return runStart(arguments[2:])
	case "complete":
		return runComplete(arguments[2:])
	case "fail":
		return runFail(arguments[2:])
	case "skip":
		return runSkip(arguments[2:])
	case "check":
		return runCheck(arguments[2:])
	case "recheck":
		return runRecheck(arguments[2:])
	case "suspend":
		return runSuspend(arguments[2:])
	case "approve":
		return runApprove(arguments[2:])
	case "can-resume":
		return runCanResume(arguments[2:])
	case "resume":
		return runResume(arguments[2:])
	case "queue":
		return runQueue(arguments[2:])
	case "verify":
		return runVerify(arguments[2:])
	case "archive":
		return runArchive(arguments[2:])
	case "stats":
		return runStats(arguments[2:])
	case "clear":
		return runClear(arguments[2:])
	case "validate":
		return runValidate(arguments[2:])
	case "doctor":
		return runDoctor(arguments[2:])
	case "version", "--version", "-v":
		fmt.Println("harness", version)
		return exitOK
	default:
		printUsage()
		return exitError
	}
}

func printUsage() {
	fmt.Println("Usage:")
	fmt.Println("  harness init --task <id> [--type <type>] [--steps <json>|--steps-file <path>] [--queue <ids>] [--continue-queue] [--json] [--explain]")
	fmt.Println("  harness add <description>... [--steps <json>] [--json] [--explain]")
	fmt.Println("  harness status [--json] [--explain]")
	fmt.Println("  harness next [--json] [--explain]")
	fmt.Println("  harness start [<step>] [--json] [--explain]")
	fmt.Println("  harness complete [<step>] [--proof <text>] [--verify] [--tokens-saved <n>] [--cost-saved <n>] [--json] [--explain]")
	fmt.Println("  harness fail [<step>] --error <message> [--json] [--explain]")
	fmt.Println("  harness skip <step> [--reason <text>] [--json] [--explain]")
	fmt.Println("  harness check [--json] [--explain]")
	fmt.Println("  harness recheck [--junit <path>] [--json] [--explain]")
	fmt.Println("  harness suspend [--type <type>] [--reason <text>] (--until <rfc3339>|--for <duration>|--poll <command>|--manual|--file <path>) [--json] [--explain]")
	fmt.Println("  harness approve [--actor <name>] [--note <text>] [--json] [--explain]")
	fmt.Println("  harness can-resume [--json] [--explain]")
	fmt.Println("  harness resume [--force] [--actor <name>] [--json] [--explain]")
	fmt.Println("  harness queue init|advance|status|continue [--json] [--explain]")
	fmt.Println("  harness verify (<step>|<description>) [--json] [--explain]")
	fmt.Println("  harness archive [--status completed|failed|cancelled] [--json] [--explain]")
	fmt.Println("  harness stats [--textfile <path>] [--json] [--explain]")
	fmt.Println("  harness clear [--json] [--explain]")
	fmt.Println("  harness validate [<session.json>] [--steps-file <path>] [--json] [--explain]")
	fmt.Println("  harness doctor [--json] [--explain]")
	fmt.Println("  harness version")
	fmt.Println("Common flags: --workdir <path> --config <path>")
}
