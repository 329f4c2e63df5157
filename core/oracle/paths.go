package oracle

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"strings"
)

const (
	maxScannedFiles = 5000
	maxScannedBytes = 1 << 20
)

var (
	quotedTokenPattern = regexp.MustCompile("[`\"']([^`\"']+)[`\"']")
	pathTokenPattern   = regexp.MustCompile(`(?:\.{0,2}/)?[\w@~-][\w@.~-]*(?:/[\w@.~-]+)*/?`)
	extensionPattern   = regexp.MustCompile(`\.[A-Za-z][A-Za-z0-9]{0,7}$`)
	skippedDirectories = map[string]bool{
		".git": true, ".harness": true, "node_modules": true, "vendor": true,
		"dist": true, "build": true, ".next": true, "target": true, "__pycache__": true,
	}
	sourceExtensions = map[string]bool{
		".go": true, ".ts": true, ".tsx": true, ".js": true, ".jsx": true, ".mjs": true,
		".cjs": true, ".py": true, ".rs": true, ".java": true, ".kt": true, ".rb": true,
		".vue": true, ".svelte": true, ".swift": true, ".cs": true,
	}
)

// extractPaths returns path-like tokens from text, quoted ones first.
func extractPaths(text string) []string {
	paths := []string{}
	seen := map[string]bool{}
	add := func(candidate string) {
		candidate = strings.TrimRight(candidate, ".,;:)")
		if candidate == "" || seen[candidate] || !looksLikePath(candidate) {
			return
		}
		seen[candidate] = true
		paths = append(paths, candidate)
	}
	for _, match := range quotedTokenPattern.FindAllStringSubmatch(text, -1) {
		add(strings.TrimSpace(match[1]))
	}
	for _, token := range pathTokenPattern.FindAllString(text, -1) {
		add(token)
	}
	return paths
}

func looksLikePath(token string) bool {
	if strings.ContainsAny(token, " \t") {
		return false
	}
	if strings.Contains(strings.Trim(token, "/"), "/") {
		return true
	}
	return extensionPattern.MatchString(token)
}

// resolveInRoot maps path onto root and refuses to leave it.
func resolveInRoot(root, path string) (string, bool) {
	clean := filepath.Clean(filepath.FromSlash(strings.TrimPrefix(path, "~/")))
	if filepath.IsAbs(clean) {
		rel, err := filepath.Rel(root, clean)
		if err != nil || !filepath.IsLocal(rel) {
			return "", false
		}
		return clean, true
	}
	if !filepath.IsLocal(clean) {
		return "", false
	}
	return filepath.Join(root, clean), true
}

func exists(path string) (os.FileInfo, bool) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, false
	}
	return info, true
}

func readLimited(path string) ([]byte, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, err
	}
	if info.Size() > maxScannedBytes {
		return nil, errors.New("file too large to scan")
	}
	// #nosec G304 -- path is resolved inside the project root.
	return os.ReadFile(path)
}

var errStopWalk = errors.New("stop walk")

// walkSources visits source files under root until visit returns true.
func walkSources(root string, extensions map[string]bool, visit func(path string, content []byte) bool) {
	if extensions == nil {
		extensions = sourceExtensions
	}
	visited := 0
	_ = filepath.WalkDir(root, func(path string, entry fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if entry.IsDir() {
			if path != root && skippedDirectories[entry.Name()] {
				return filepath.SkipDir
			}
			return nil
		}
		if !extensions[strings.ToLower(filepath.Ext(path))] {
			return nil
		}
		visited++
		if visited > maxScannedFiles {
			return errStopWalk
		}
		content, readErr := readLimited(path)
		if readErr != nil {
			return nil
		}
		if visit(path, content) {
			return errStopWalk
		}
		return nil
	})
}

func relative(root, path string) string {
	rel, err := filepath.Rel(root, path)
	if err != nil {
		return path
	}
	return filepath.ToSlash(rel)
}
