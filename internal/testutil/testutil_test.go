package testutil

import (
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/davidahmann/harness/core/projectconfig"
)

func TestRepoRootContainsGoMod(t *testing.T) {
	root := RepoRoot(t)
	if _, err := os.Stat(filepath.Join(root, "go.mod")); err != nil {
		t.Fatalf("expected go.mod at repo root: %v", err)
	}
}

func TestNewWorkspaceCreatesStateDir(t *testing.T) {
	ws := NewWorkspace(t, projectconfig.Config{})
	info, err := os.Stat(ws.StateDir)
	if err != nil || !info.IsDir() {
		t.Fatalf("expected state dir: %v", err)
	}
	if filepath.Dir(ws.SessionPath()) != ws.StateDir {
		t.Fatalf("session path outside state dir: %s", ws.SessionPath())
	}
}

func TestClockAdvancesConcurrently(t *testing.T) {
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	clock := NewClock(start)
	var wg sync.WaitGroup
	for range 10 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			clock.Advance(time.Second)
		}()
	}
	wg.Wait()
	if got := clock.Now().Sub(start); got != 10*time.Second {
		t.Fatalf("unexpected clock offset %s", got)
	}
}

func TestWriteAndReadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "file.json")
	WriteFile(t, path, []byte(`{"ok":true}`))
	if got := FormatJSON(MustReadFile(t, path)); !strings.Contains(got, "\"ok\": true") {
		t.Fatalf("unexpected formatted json %q", got)
	}
	if DecodeJSON(t, MustReadFile(t, path))["ok"] != true {
		t.Fatal("expected decoded ok=true")
	}
	if FormatJSON([]byte("not json")) != "not json" {
		t.Fatal("non-json input should pass through")
	}
}
