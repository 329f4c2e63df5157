package fsx

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
)

const (
	stateDirMode  = 0o750
	stateFileMode = 0o600
)

// WriteFileAtomic replaces path with content through a sibling temp file and a
// rename, so a crash mid-write leaves either the old or the new document.
func WriteFileAtomic(path string, content []byte, mode os.FileMode) error {
	parent := filepath.Dir(path)
	if err := os.MkdirAll(parent, stateDirMode); err != nil {
		return fmt.Errorf("create parent directory: %w", err)
	}

	tempFile, err := os.CreateTemp(parent, "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tempPath := tempFile.Name()
	committed := false
	defer func() {
		if !committed {
			_ = os.Remove(tempPath)
		}
	}()

	if err := writeAndSync(tempFile, content, mode); err != nil {
		return err
	}
	if err := replaceFile(tempPath, path); err != nil {
		return err
	}
	committed = true
	syncDirectory(parent)
	return nil
}

// WriteJSONAtomic encodes value as indented JSON with a trailing newline and
// writes it with WriteFileAtomic using owner-only permissions.
func WriteJSONAtomic(path string, value any) error {
	payload, err := json.MarshalIndent(value, "", "  ")
	if err != nil {
		return fmt.Errorf("encode json: %w", err)
	}
	payload = append(payload, '\n')
	if err := WriteFileAtomic(path, payload, stateFileMode); err != nil {
		return fmt.Errorf("write json: %w", err)
	}
	return nil
}

// ReadFileIfExists reports found=false instead of an error when path is absent.
func ReadFileIfExists(path string) (content []byte, found bool, err error) {
	// #nosec G304 -- callers pass paths under the resolved project state directory.
	content, err = os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("read %s: %w", filepath.Base(path), err)
	}
	return content, true, nil
}

// RemoveIfExists deletes path and reports whether anything was removed.
func RemoveIfExists(path string) (bool, error) {
	if err := os.Remove(path); err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, fmt.Errorf("remove %s: %w", filepath.Base(path), err)
	}
	return true, nil
}

func writeAndSync(file *os.File, content []byte, mode os.FileMode) error {
	if _, err := file.Write(content); err != nil {
		_ = file.Close()
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := file.Sync(); err != nil {
		_ = file.Close()
		return fmt.Errorf("sync temp file: %w", err)
	}
	if err := file.Chmod(mode); err != nil {
		_ = file.Close()
		return fmt.Errorf("chmod temp file: %w", err)
	}
	if err := file.Close(); err != nil {
		return fmt.Errorf("close temp file: %w", err)
	}
	return nil
}

func replaceFile(tempPath string, path string) error {
	err := os.Rename(tempPath, path)
	if err == nil {
		return nil
	}
	if runtime.GOOS != "windows" {
		return fmt.Errorf("rename temp file: %w", err)
	}
	if removeErr := os.Remove(path); removeErr != nil && !os.IsNotExist(removeErr) {
		return fmt.Errorf("remove destination before rename: %w", removeErr)
	}
	if renameErr := os.Rename(tempPath, path); renameErr != nil {
		return fmt.Errorf("rename temp file after remove: %w", renameErr)
	}
	return nil
}

func syncDirectory(dir string) {
	// #nosec G304 -- directory path is derived from the caller-provided destination path.
	if handle, err := os.Open(dir); err == nil {
		_ = handle.Sync()
		_ = handle.Close()
	}
}
