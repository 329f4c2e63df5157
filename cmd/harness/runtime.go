package main

import (
	"context"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/davidahmann/harness/core/learn"
	"github.com/davidahmann/harness/core/logging"
	"github.com/davidahmann/harness/core/oracle"
	"github.com/davidahmann/harness/core/regress"
	"github.com/davidahmann/harness/core/session"
	"github.com/davidahmann/harness/core/shell"
	"github.com/davidahmann/harness/core/suspend"
	"github.com/davidahmann/harness/core/tracker"
	"github.com/davidahmann/harness/core/workspace"
)

// commandRuntime is the per-invocation wiring: one workspace, one logger and
// one store shared by the components a command needs.
type commandRuntime struct {
	workspace workspace.Workspace
	logger    *zap.Logger
	store     *session.Store
	runner    shell.Runner
}

func openRuntime(common commonFlags) (*commandRuntime, error) {
	ws, err := workspace.Resolve(common.workDir, common.configPath)
	if err != nil {
		return nil, err
	}
	logger := logging.New(logging.Options{
		Level:  ws.Config.Logging.Level,
		Format: ws.Config.Logging.Format,
	})
	var hook learn.Hook
	if ws.Config.LearningEnabled() {
		hook = learn.JournalHook{Path: ws.LearningJournalPath()}
	}
	return &commandRuntime{
		workspace: ws,
		logger:    logger,
		store:     session.NewStore(ws, session.StoreOptions{Logger: logger, Hook: hook}),
		runner:    shell.ExecRunner{},
	}, nil
}

func (r *commandRuntime) oracle() *oracle.Oracle {
	cfg := r.workspace.Config
	return oracle.New(oracle.Env{
		Root:        r.workspace.Root,
		Runner:      r.runner,
		Timeout:     cfg.OracleCommandTimeout(),
		TestCommand: cfg.Oracle.TestCommand,
		LintCommand: cfg.Oracle.LintCommand,
		Logger:      r.logger.Named("oracle"),
	})
}

func (r *commandRuntime) rechecker(verifier regress.Verifier) *regress.Rechecker {
	return regress.New(verifier, regress.Options{
		Policy: r.workspace.Config.RegressionPolicy(),
		Logger: r.logger.Named("regress"),
	})
}

func (r *commandRuntime) tracker() *tracker.Tracker {
	verifier := r.oracle()
	return tracker.New(r.store, tracker.Options{
		Verifier:  verifier,
		Rechecker: r.rechecker(verifier),
		Logger:    r.logger.Named("tracker"),
	})
}

func (r *commandRuntime) controller() *suspend.Controller {
	return suspend.New(r.store, suspend.Options{
		Runner: r.runner,
		Logger: r.logger.Named("suspend"),
	})
}

func (r *commandRuntime) close() {
	_ = r.logger.Sync()
}

// commandContext is cancelled on SIGINT or SIGTERM so lock waits and polled
// commands stop promptly.
func commandContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
}
