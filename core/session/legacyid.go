package session

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	schemasession "github.com/davidahmann/harness/core/schema/v1/session"
)

var legacyIDPattern = regexp.MustCompile(`(?i)^(?:ac|step)?[-_]?(\d+)$`)

func CanonicalID(position int) string {
	return fmt.Sprintf("step-%03d", position)
}

// TranslateLegacyID maps AC-N, step-N and bare N onto step-NNN.
func TranslateLegacyID(ref string) (string, bool) {
	match := legacyIDPattern.FindStringSubmatch(strings.TrimSpace(ref))
	if match == nil {
		return "", false
	}
	position, err := strconv.Atoi(match[1])
	if err != nil || position < 1 {
		return "", false
	}
	return CanonicalID(position), true
}

// ResolveStep finds a step by canonical id, by the caller's original id kept
// in metadata, or by a legacy identifier.
func ResolveStep(s *schemasession.Session, ref string) (int, error) {
	trimmed := strings.TrimSpace(ref)
	if trimmed == "" {
		return -1, stepNotFound(ref)
	}
	for index := range s.Steps {
		if s.Steps[index].ID == trimmed {
			return index, nil
		}
	}
	for index := range s.Steps {
		if source, ok := s.Steps[index].Metadata[metadataSourceID].(string); ok && source == trimmed {
			return index, nil
		}
	}
	if canonical, ok := TranslateLegacyID(trimmed); ok {
		for index := range s.Steps {
			if s.Steps[index].ID == canonical {
				return index, nil
			}
		}
	}
	return -1, stepNotFound(ref)
}
