// Package shell runs operator-supplied commands with a timeout and captured
// stdio, and screens them against an injection blocklist first.
package shell

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"
)

const (
	DefaultTimeout = 30 * time.Second
	maxOutputBytes = 64 * 1024
)

type Command struct {
	Line    string
	Dir     string
	Timeout time.Duration
}

type Result struct {
	ExitCode int
	Stdout   string
	Stderr   string
	TimedOut bool
	Duration time.Duration
}

// Runner executes one command line. A non-zero exit is reported in Result,
// not as an error; errors mean the command could not be run at all.
type Runner interface {
	Run(ctx context.Context, command Command) (Result, error)
}

// RunnerFunc adapts a function to Runner.
type RunnerFunc func(ctx context.Context, command Command) (Result, error)

func (f RunnerFunc) Run(ctx context.Context, command Command) (Result, error) {
	return f(ctx, command)
}

// ExecRunner runs commands through sh -c.
type ExecRunner struct {
	Shell string
}

func (r ExecRunner) Run(ctx context.Context, command Command) (Result, error) {
	line := strings.TrimSpace(command.Line)
	if line == "" {
		return Result{}, fmt.Errorf("missing command")
	}
	shell := r.Shell
	if shell == "" {
		shell = "sh"
	}
	timeout := command.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(runCtx, shell, "-c", line) // #nosec G204 -- command is screened by Validate before it reaches the runner.
	cmd.Dir = strings.TrimSpace(command.Dir)
	cmd.WaitDelay = time.Second
	var stdoutBuf bytes.Buffer
	var stderrBuf bytes.Buffer
	cmd.Stdout = &stdoutBuf
	cmd.Stderr = &stderrBuf

	started := time.Now()
	err := cmd.Run()
	result := Result{
		Stdout:   truncate(stdoutBuf.String()),
		Stderr:   truncate(stderrBuf.String()),
		Duration: time.Since(started),
	}
	if errors.Is(runCtx.Err(), context.DeadlineExceeded) {
		result.TimedOut = true
		result.ExitCode = -1
		return result, nil
	}
	if err != nil {
		exitErr := &exec.ExitError{}
		if errors.As(err, &exitErr) {
			result.ExitCode = exitErr.ExitCode()
			return result, nil
		}
		return result, fmt.Errorf("run command: %w", err)
	}
	return result, nil
}

func truncate(output string) string {
	if len(output) > maxOutputBytes {
		return output[:maxOutputBytes]
	}
	return output
}
