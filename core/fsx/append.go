package fsx

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/davidahmann/harness/core/lock"
)

var appendLockOptions = lock.Options{
	RetryLimit:         200,
	InitialBackoff:     2 * time.Millisecond,
	MaxBackoff:         50 * time.Millisecond,
	StaleAfter:         2 * time.Minute,
	MaxReclaimAttempts: 1,
}

// AppendLineLocked appends exactly one newline-terminated record to path while
// holding the directory lock for path, then fsyncs the file.
func AppendLineLocked(ctx context.Context, path string, line []byte, mode os.FileMode) error {
	cleanPath, err := validateLocalOrAbsolutePath(path)
	if err != nil {
		return err
	}
	if strings.ContainsRune(string(line), '\n') {
		return fmt.Errorf("append record must be a single line")
	}
	parent := filepath.Dir(cleanPath)
	if err := os.MkdirAll(parent, stateDirMode); err != nil {
		return fmt.Errorf("create append directory: %w", err)
	}
	payload := make([]byte, 0, len(line)+1)
	payload = append(payload, line...)
	payload = append(payload, '\n')

	return lock.With(ctx, cleanPath, appendLockOptions, func() error {
		// #nosec G304 -- append path is validated local relative or absolute.
		file, openErr := os.OpenFile(cleanPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, mode)
		if openErr != nil {
			return fmt.Errorf("open append file: %w", openErr)
		}
		defer func() {
			_ = file.Close()
		}()
		if _, writeErr := file.Write(payload); writeErr != nil {
			return fmt.Errorf("append file line: %w", writeErr)
		}
		if syncErr := file.Sync(); syncErr != nil {
			return fmt.Errorf("sync append file: %w", syncErr)
		}
		return nil
	})
}

// AppendJSONLine encodes value compactly and appends it as one JSONL record.
func AppendJSONLine(ctx context.Context, path string, value any) error {
	payload, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("encode jsonl record: %w", err)
	}
	return AppendLineLocked(ctx, path, payload, stateFileMode)
}

func validateLocalOrAbsolutePath(path string) (string, error) {
	cleanPath := filepath.Clean(path)
	if filepath.IsLocal(cleanPath) || filepath.IsAbs(cleanPath) {
		return cleanPath, nil
	}
	return "", fmt.Errorf("path must be local relative or absolute: %s", path)
}
