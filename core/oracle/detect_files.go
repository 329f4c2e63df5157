package oracle

import (
	"context"
	"fmt"
	"path/filepath"
	"regexp"
	"strings"
)

var (
	fileWordPattern     = regexp.MustCompile(`(?i)\b(file|directory|folder|dir)\b`)
	existWordPattern    = regexp.MustCompile(`(?i)\b(exists?|present|created|is there)\b`)
	createFilePattern   = regexp.MustCompile(`(?i)\b(create|add)\s+(?:an?\s+|the\s+)?(?:new\s+)?(file|directory|folder)\b`)
	pathExistsPattern   = regexp.MustCompile("(?i)[`\"']?[\\w@.~/-]+[`\"']?\\s+(?:exists|is present|is created)\\b")
	codeSymbolPattern   = regexp.MustCompile(`(?i)\b(function|func|method|export(?:s|ed)?|component|class|key|setting|wired|imports?|registered)\b`)
	functionNamePattern = regexp.MustCompile("(?i)\\b(?:function|func|method|class|exports?|exported)\\s+(?:(?:an?|the|default|async|function|named|called|const|public)\\s+)*`?([A-Za-z_$][\\w$]*)`?")
	calledSymbolPattern = regexp.MustCompile("`?([A-Za-z_$][\\w$]*)\\(\\)`?\\s+(?:is\\s+)?(?:exported|defined|exists|implemented)")
	componentPattern    = regexp.MustCompile("(?:\\b(?:[Cc]omponent|[Ww]idget)\\s+`?<?([A-Z][\\w]*)>?`?|`?<?([A-Z][\\w]*)>?`?\\s+(?:[Cc]omponent|[Ww]idget)\\b)")
	wiringPattern       = regexp.MustCompile("(?i)`?([\\w@./-]+)`?\\s+(?:is\\s+)?(?:wired|imported|registered|connected|hooked up|mounted)\\s+(?:in|into|to|from)\\s+`?([\\w@./-]+\\.[A-Za-z0-9]+)`?")
	importsPattern      = regexp.MustCompile("(?i)`?([\\w@./-]+\\.[A-Za-z0-9]+)`?\\s+(?:imports|uses|requires|registers|mounts)\\s+`?([\\w@./-]+)`?")
	functionStopWords   = map[string]bool{"that": true, "which": true, "to": true, "from": true, "in": true, "for": true, "is": true, "should": true, "must": true, "and": true, "with": true, "exists": true, "works": true}
	componentExtensions = map[string]bool{".tsx": true, ".jsx": true, ".vue": true, ".svelte": true, ".ts": true, ".js": true}
)

type fileExistsDetector struct{}

func (fileExistsDetector) Name() string { return DetectorFileExists }

func (fileExistsDetector) Detect(_ context.Context, env Env, description string) (Result, bool) {
	shaped := (fileWordPattern.MatchString(description) && existWordPattern.MatchString(description)) ||
		createFilePattern.MatchString(description) ||
		pathExistsPattern.MatchString(description)
	if !shaped || codeSymbolPattern.MatchString(description) {
		return Result{}, false
	}
	paths := extractPaths(description)
	if len(paths) == 0 {
		return Result{}, false
	}
	for _, path := range paths {
		resolved, ok := resolveInRoot(env.Root, path)
		if !ok {
			return fail(fmt.Sprintf("%s is outside the project root", path), nil), true
		}
		if _, found := exists(resolved); !found {
			return fail(fmt.Sprintf("%s does not exist", path), map[string]string{"path": path}), true
		}
	}
	return pass(fmt.Sprintf("%s exists", strings.Join(paths, ", ")), map[string]string{"path": paths[0]}), true
}

type functionDetector struct{}

func (functionDetector) Name() string { return DetectorFunction }

func (functionDetector) Detect(_ context.Context, env Env, description string) (Result, bool) {
	name := ""
	if match := calledSymbolPattern.FindStringSubmatch(description); match != nil {
		name = match[1]
	} else if match := functionNamePattern.FindStringSubmatch(description); match != nil && !functionStopWords[strings.ToLower(match[1])] {
		name = match[1]
	}
	if name == "" {
		return Result{}, false
	}
	definition := definitionPattern(name)
	for _, path := range extractPaths(description) {
		resolved, ok := resolveInRoot(env.Root, path)
		if !ok {
			continue
		}
		info, found := exists(resolved)
		if !found {
			return fail(fmt.Sprintf("%s not found: %s does not exist", name, path), map[string]string{"symbol": name}), true
		}
		if info.IsDir() {
			return searchSymbol(env.Root, resolved, name, definition, nil), true
		}
		content, err := readLimited(resolved)
		if err != nil {
			return indeterminate(fmt.Sprintf("cannot read %s: %v", path, err), "check "+path+" manually"), true
		}
		if definition.Match(content) {
			return pass(fmt.Sprintf("%s is defined in %s", name, path), map[string]string{"symbol": name, "path": path}), true
		}
		return fail(fmt.Sprintf("%s is not defined in %s", name, path), map[string]string{"symbol": name, "path": path}), true
	}
	return searchSymbol(env.Root, env.Root, name, definition, nil), true
}

func definitionPattern(name string) *regexp.Regexp {
	quoted := regexp.QuoteMeta(name)
	return regexp.MustCompile(`(?m)(?:\bfunc\s+(?:\([^)]*\)\s*)?` + quoted + `\s*[\[(]` +
		`|\bfunction\*?\s+` + quoted + `\b` +
		`|\bexport\s+(?:default\s+)?(?:async\s+)?(?:function\*?|const|let|var|class|interface|type|enum)\s+` + quoted + `\b` +
		`|\bexport\s*\{[^}]*\b` + quoted + `\b[^}]*\}` +
		`|\b(?:const|let|var)\s+` + quoted + `\s*[:=]` +
		`|\bdef\s+` + quoted + `\s*\(` +
		`|\bclass\s+` + quoted + `\b` +
		`|\bfn\s+` + quoted + `\s*[<(]` +
		`|^\s*(?:type|var|const)\s+` + quoted + `\b)`)
}

func searchSymbol(root, dir, name string, definition *regexp.Regexp, extensions map[string]bool) Result {
	foundIn := ""
	walkSources(dir, extensions, func(path string, content []byte) bool {
		if definition.Match(content) {
			foundIn = relative(root, path)
			return true
		}
		return false
	})
	if foundIn != "" {
		return pass(fmt.Sprintf("%s is defined in %s", name, foundIn), map[string]string{"symbol": name, "path": foundIn})
	}
	return fail(fmt.Sprintf("no definition of %s found in %s", name, relative(root, dir)), map[string]string{"symbol": name})
}

type componentDetector struct{}

func (componentDetector) Name() string { return DetectorUIComponent }

func (componentDetector) Detect(_ context.Context, env Env, description string) (Result, bool) {
	match := componentPattern.FindStringSubmatch(description)
	if match == nil {
		return Result{}, false
	}
	name := match[1]
	if name == "" {
		name = match[2]
	}
	foundIn := ""
	definition := definitionPattern(name)
	walkSources(env.Root, componentExtensions, func(path string, content []byte) bool {
		base := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
		if base == name || definition.Match(content) {
			foundIn = relative(env.Root, path)
			return true
		}
		return false
	})
	if foundIn == "" {
		return fail(fmt.Sprintf("component %s not found", name), map[string]string{"component": name}), true
	}
	return pass(fmt.Sprintf("component %s found in %s", name, foundIn), map[string]string{"component": name, "path": foundIn}), true
}

type wiringDetector struct{}

func (wiringDetector) Name() string { return DetectorWiring }

func (wiringDetector) Detect(_ context.Context, env Env, description string) (Result, bool) {
	var module, host string
	if match := wiringPattern.FindStringSubmatch(description); match != nil {
		module, host = match[1], match[2]
	} else if match := importsPattern.FindStringSubmatch(description); match != nil {
		host, module = match[1], match[2]
	} else {
		return Result{}, false
	}
	resolved, ok := resolveInRoot(env.Root, host)
	if !ok {
		return fail(fmt.Sprintf("%s is outside the project root", host), nil), true
	}
	content, err := readLimited(resolved)
	if err != nil {
		return fail(fmt.Sprintf("cannot read %s: %v", host, err), map[string]string{"path": host}), true
	}
	reference := strings.TrimSuffix(filepath.Base(module), filepath.Ext(module))
	if reference == "" || !strings.Contains(string(content), reference) {
		return fail(fmt.Sprintf("%s does not reference %s", host, reference), map[string]string{"path": host, "module": module}), true
	}
	return pass(fmt.Sprintf("%s references %s", host, reference), map[string]string{"path": host, "module": module}), true
}
