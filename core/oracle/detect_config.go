package oracle

import (
	"context"
	"fmt"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/goccy/go-yaml"
	"github.com/tidwall/gjson"
)

var (
	keyInFilePattern = regexp.MustCompile("(?i)\\b(?:key|setting|field|option|entry|property)\\s+`?[\"']?([\\w.-]+)[\"']?`?\\s+(?:\\w+\\s+){0,3}?(?:in|to|of)\\s+`?([\\w@./-]+\\.(?:json|ya?ml|toml))`?")
	fileHasKeyPattern = regexp.MustCompile("(?i)`?([\\w@./-]+\\.(?:json|ya?ml|toml))`?\\s+(?:has|contains|defines|includes|sets)\\s+(?:an?\\s+|the\\s+)?(?:key|setting|field|option|entry|property)?\\s*`?[\"']?([\\w.-]+)[\"']?`?")
)

type configKeyDetector struct{}

func (configKeyDetector) Name() string { return DetectorConfigKey }

func (configKeyDetector) Detect(_ context.Context, env Env, description string) (Result, bool) {
	var key, file string
	if match := keyInFilePattern.FindStringSubmatch(description); match != nil {
		key, file = match[1], match[2]
	} else if match := fileHasKeyPattern.FindStringSubmatch(description); match != nil {
		file, key = match[1], match[2]
	} else {
		return Result{}, false
	}
	evidence := map[string]string{"path": file, "key": key}
	resolved, ok := resolveInRoot(env.Root, file)
	if !ok {
		return fail(fmt.Sprintf("%s is outside the project root", file), evidence), true
	}
	content, err := readLimited(resolved)
	if err != nil {
		return fail(fmt.Sprintf("cannot read %s: %v", file, err), evidence), true
	}
	found, err := hasConfigKey(filepath.Ext(file), content, key)
	if err != nil {
		return fail(fmt.Sprintf("cannot parse %s: %v", file, err), evidence), true
	}
	if !found {
		return fail(fmt.Sprintf("%s has no key %s", file, key), evidence), true
	}
	return pass(fmt.Sprintf("%s defines %s", file, key), evidence), true
}

func hasConfigKey(extension string, content []byte, key string) (bool, error) {
	switch strings.ToLower(extension) {
	case ".json":
		if !gjson.ValidBytes(content) {
			return false, fmt.Errorf("invalid json")
		}
		return gjson.GetBytes(content, key).Exists(), nil
	case ".yaml", ".yml":
		var document map[string]any
		if err := yaml.Unmarshal(content, &document); err != nil {
			return false, err
		}
		return lookupDotted(document, key), nil
	case ".toml":
		var document map[string]any
		if err := toml.Unmarshal(content, &document); err != nil {
			return false, err
		}
		return lookupDotted(document, key), nil
	default:
		return false, fmt.Errorf("unsupported config format %q", extension)
	}
}

func lookupDotted(document map[string]any, key string) bool {
	if _, ok := document[key]; ok {
		return true
	}
	current := any(document)
	for _, part := range strings.Split(key, ".") {
		table, ok := current.(map[string]any)
		if !ok {
			return false
		}
		current, ok = table[part]
		if !ok {
			return false
		}
	}
	return true
}
