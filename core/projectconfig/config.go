package projectconfig

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/goccy/go-yaml"
)

const DefaultPath = ".harness/config.yaml"

const (
	RegressionBlock = "block"
	RegressionWarn  = "warn"
	RegressionOff   = "off"

	SuspiciousWarn   = "warn"
	SuspiciousRefuse = "refuse"
)

type Config struct {
	Limits     LimitsDefaults     `yaml:"limits"`
	Lock       LockDefaults       `yaml:"lock"`
	Regression RegressionDefaults `yaml:"regression"`
	Suspend    SuspendDefaults    `yaml:"suspend"`
	Oracle     OracleDefaults     `yaml:"oracle"`
	Queue      QueueDefaults      `yaml:"queue"`
	Learning   LearningDefaults   `yaml:"learning"`
	Logging    LoggingDefaults    `yaml:"logging"`
}

type LimitsDefaults struct {
	// MaxIterations and MaxRetries are pointers so an explicit 0 disables
	// the ceiling instead of selecting the default.
	MaxIterations *int   `yaml:"max_iterations"`
	MaxRetries    *int   `yaml:"max_retries"`
	MaxDuration   string `yaml:"max_duration"`
	HistorySize   int    `yaml:"history_size"`
}

type LockDefaults struct {
	RetryLimit         int    `yaml:"retry_limit"`
	InitialBackoff     string `yaml:"initial_backoff"`
	MaxBackoff         string `yaml:"max_backoff"`
	StaleAfter         string `yaml:"stale_after"`
	MaxReclaimAttempts *int   `yaml:"max_reclaim_attempts"`
}

type RegressionDefaults struct {
	Policy string `yaml:"policy"`
}

type SuspendDefaults struct {
	PollTimeout        string `yaml:"poll_timeout"`
	SuspiciousCommands string `yaml:"suspicious_commands"`
}

type OracleDefaults struct {
	TestCommand    string `yaml:"test_command"`
	LintCommand    string `yaml:"lint_command"`
	CommandTimeout string `yaml:"command_timeout"`
}

type QueueDefaults struct {
	AutoContinue      *bool `yaml:"auto_continue"`
	PauseBetweenTasks bool  `yaml:"pause_between_tasks"`
}

type LearningDefaults struct {
	Enabled     *bool  `yaml:"enabled"`
	JournalPath string `yaml:"journal_path"`
}

type LoggingDefaults struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

func Load(path string, allowMissing bool) (Config, error) {
	trimmedPath := strings.TrimSpace(path)
	if trimmedPath == "" {
		return Config{}, fmt.Errorf("project config path is required")
	}

	// #nosec G304 -- project config path is explicit local user input.
	content, err := os.ReadFile(trimmedPath)
	if err != nil {
		if os.IsNotExist(err) && allowMissing {
			return Config{}, nil
		}
		return Config{}, fmt.Errorf("read project config: %w", err)
	}
	if len(strings.TrimSpace(string(content))) == 0 {
		return Config{}, nil
	}

	var configuration Config
	if err := yaml.Unmarshal(content, &configuration); err != nil {
		return Config{}, fmt.Errorf("parse project config: %w", err)
	}
	configuration.normalize()
	if err := configuration.validate(); err != nil {
		return Config{}, err
	}
	return configuration, nil
}

func (configuration *Config) normalize() {
	configuration.Limits.MaxDuration = strings.TrimSpace(configuration.Limits.MaxDuration)
	configuration.Lock.InitialBackoff = strings.TrimSpace(configuration.Lock.InitialBackoff)
	configuration.Lock.MaxBackoff = strings.TrimSpace(configuration.Lock.MaxBackoff)
	configuration.Lock.StaleAfter = strings.TrimSpace(configuration.Lock.StaleAfter)
	configuration.Regression.Policy = strings.ToLower(strings.TrimSpace(configuration.Regression.Policy))
	configuration.Suspend.PollTimeout = strings.TrimSpace(configuration.Suspend.PollTimeout)
	configuration.Suspend.SuspiciousCommands = strings.ToLower(strings.TrimSpace(configuration.Suspend.SuspiciousCommands))
	configuration.Oracle.TestCommand = strings.TrimSpace(configuration.Oracle.TestCommand)
	configuration.Oracle.LintCommand = strings.TrimSpace(configuration.Oracle.LintCommand)
	configuration.Oracle.CommandTimeout = strings.TrimSpace(configuration.Oracle.CommandTimeout)
	configuration.Learning.JournalPath = strings.TrimSpace(configuration.Learning.JournalPath)
	configuration.Logging.Level = strings.ToLower(strings.TrimSpace(configuration.Logging.Level))
	configuration.Logging.Format = strings.ToLower(strings.TrimSpace(configuration.Logging.Format))
}

func (configuration Config) validate() error {
	switch configuration.Regression.Policy {
	case "", RegressionBlock, RegressionWarn, RegressionOff:
	default:
		return fmt.Errorf("regression.policy must be block, warn or off: %q", configuration.Regression.Policy)
	}
	switch configuration.Suspend.SuspiciousCommands {
	case "", SuspiciousWarn, SuspiciousRefuse:
	default:
		return fmt.Errorf("suspend.suspicious_commands must be warn or refuse: %q", configuration.Suspend.SuspiciousCommands)
	}
	durations := map[string]string{
		"limits.max_duration":    configuration.Limits.MaxDuration,
		"lock.initial_backoff":   configuration.Lock.InitialBackoff,
		"lock.max_backoff":       configuration.Lock.MaxBackoff,
		"lock.stale_after":       configuration.Lock.StaleAfter,
		"suspend.poll_timeout":   configuration.Suspend.PollTimeout,
		"oracle.command_timeout": configuration.Oracle.CommandTimeout,
	}
	for key, raw := range durations {
		if raw == "" {
			continue
		}
		if _, err := time.ParseDuration(raw); err != nil {
			return fmt.Errorf("%s: %w", key, err)
		}
	}
	if negative(configuration.Limits.MaxIterations) || negative(configuration.Limits.MaxRetries) || configuration.Limits.HistorySize < 0 {
		return fmt.Errorf("limits must not be negative")
	}
	return nil
}

// MaxIterations returns the iteration ceiling; 0 disables it.
func (configuration Config) MaxIterations() int {
	if configuration.Limits.MaxIterations != nil {
		return *configuration.Limits.MaxIterations
	}
	return 100
}

// MaxRetries returns the retry ceiling; 0 disables it.
func (configuration Config) MaxRetries() int {
	if configuration.Limits.MaxRetries != nil {
		return *configuration.Limits.MaxRetries
	}
	return 20
}

func (configuration Config) MaxDuration() time.Duration {
	return durationOr(configuration.Limits.MaxDuration, 8*time.Hour)
}

func (configuration Config) HistorySize() int {
	if configuration.Limits.HistorySize > 0 {
		return configuration.Limits.HistorySize
	}
	return 50
}

func (configuration Config) LockRetryLimit() int {
	if configuration.Lock.RetryLimit > 0 {
		return configuration.Lock.RetryLimit
	}
	return 40
}

func (configuration Config) LockInitialBackoff() time.Duration {
	return durationOr(configuration.Lock.InitialBackoff, 25*time.Millisecond)
}

func (configuration Config) LockMaxBackoff() time.Duration {
	return durationOr(configuration.Lock.MaxBackoff, time.Second)
}

func (configuration Config) LockStaleAfter() time.Duration {
	return durationOr(configuration.Lock.StaleAfter, 30*time.Second)
}

func (configuration Config) LockMaxReclaimAttempts() int {
	if configuration.Lock.MaxReclaimAttempts != nil {
		return *configuration.Lock.MaxReclaimAttempts
	}
	return 3
}

func (configuration Config) RegressionPolicy() string {
	if configuration.Regression.Policy == "" {
		return RegressionBlock
	}
	return configuration.Regression.Policy
}

func (configuration Config) PollTimeout() time.Duration {
	return durationOr(configuration.Suspend.PollTimeout, 30*time.Second)
}

func (configuration Config) SuspiciousCommandPolicy() string {
	if configuration.Suspend.SuspiciousCommands == "" {
		return SuspiciousWarn
	}
	return configuration.Suspend.SuspiciousCommands
}

func (configuration Config) OracleCommandTimeout() time.Duration {
	return durationOr(configuration.Oracle.CommandTimeout, 2*time.Minute)
}

func (configuration Config) AutoContinue() bool {
	if configuration.Queue.AutoContinue != nil {
		return *configuration.Queue.AutoContinue
	}
	return true
}

func (configuration Config) LearningEnabled() bool {
	if configuration.Learning.Enabled != nil {
		return *configuration.Learning.Enabled
	}
	return true
}

func negative(value *int) bool {
	return value != nil && *value < 0
}

func durationOr(raw string, fallback time.Duration) time.Duration {
	if raw == "" {
		return fallback
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil || parsed < 0 {
		return fallback
	}
	return parsed
}
