// Package workspace resolves the project root, state directory and loaded
// configuration that every store operation receives explicitly.
package workspace

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"

	coreerrors "github.com/davidahmann/harness/core/errors"
	"github.com/davidahmann/harness/core/lock"
	"github.com/davidahmann/harness/core/projectconfig"
)

const StateDirName = ".harness"

const (
	sessionFileName  = "session.json"
	historyFileName  = "history.json"
	legacyFileName   = "loop-state.json"
	learningFileName = "learnings.jsonl"
)

type Workspace struct {
	Root       string
	StateDir   string
	ConfigPath string
	Config     projectconfig.Config
}

// Resolve walks up from start to the nearest directory holding a state
// directory or a .git entry. When neither is found start itself is the root.
// An empty configPath selects <root>/.harness/config.yaml, which may be absent.
func Resolve(start, configPath string) (Workspace, error) {
	if strings.TrimSpace(start) == "" {
		wd, err := os.Getwd()
		if err != nil {
			return Workspace{}, fmt.Errorf("resolve working directory: %w", err)
		}
		start = wd
	}
	absolute, err := filepath.Abs(start)
	if err != nil {
		return Workspace{}, fmt.Errorf("resolve workspace root: %w", err)
	}
	root := findRoot(absolute)

	allowMissing := strings.TrimSpace(configPath) == ""
	if allowMissing {
		configPath = filepath.Join(root, filepath.FromSlash(projectconfig.DefaultPath))
	}
	configuration, err := projectconfig.Load(configPath, allowMissing)
	if err != nil {
		return Workspace{}, coreerrors.Wrap(err, coreerrors.CategoryInvalidInput, "config_invalid", "fix "+configPath+" or run harness doctor", false)
	}
	return New(root, configPath, configuration), nil
}

// New builds a workspace from already-resolved parts. An empty configPath
// selects the default location under root.
func New(root, configPath string, configuration projectconfig.Config) Workspace {
	if strings.TrimSpace(configPath) == "" {
		configPath = filepath.Join(root, filepath.FromSlash(projectconfig.DefaultPath))
	}
	return Workspace{
		Root:       root,
		StateDir:   filepath.Join(root, StateDirName),
		ConfigPath: configPath,
		Config:     configuration,
	}
}

func (w Workspace) SessionPath() string {
	return filepath.Join(w.StateDir, sessionFileName)
}

func (w Workspace) HistoryPath() string {
	return filepath.Join(w.StateDir, historyFileName)
}

// LegacyStatePath is the predecessor single-purpose state file.
func (w Workspace) LegacyStatePath() string {
	return filepath.Join(w.StateDir, legacyFileName)
}

func (w Workspace) LearningJournalPath() string {
	if custom := w.Config.Learning.JournalPath; custom != "" {
		return w.Resolve(custom)
	}
	return filepath.Join(w.StateDir, learningFileName)
}

// Resolve maps a project-relative path onto the root; absolute paths pass through.
func (w Workspace) Resolve(path string) string {
	if filepath.IsAbs(path) {
		return filepath.Clean(path)
	}
	return filepath.Join(w.Root, filepath.FromSlash(path))
}

// LockOptions derives lock tuning from the project configuration.
func (w Workspace) LockOptions(logger *zap.Logger) lock.Options {
	return lock.Options{
		RetryLimit:         w.Config.LockRetryLimit(),
		InitialBackoff:     w.Config.LockInitialBackoff(),
		MaxBackoff:         w.Config.LockMaxBackoff(),
		StaleAfter:         w.Config.LockStaleAfter(),
		MaxReclaimAttempts: w.Config.LockMaxReclaimAttempts(),
		Logger:             logger,
	}
}

func findRoot(start string) string {
	current := start
	for {
		for _, marker := range []string{StateDirName, ".git"} {
			if _, err := os.Stat(filepath.Join(current, marker)); err == nil {
				return current
			}
		}
		parent := filepath.Dir(current)
		if parent == current {
			return start
		}
		current = parent
	}
}
