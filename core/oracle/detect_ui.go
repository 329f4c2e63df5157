package oracle

import (
	"context"
	"fmt"
	"regexp"
	"strings"
)

var (
	interactionPattern = regexp.MustCompile(`(?i)\b(click(s|ing|ed)?|tap(s|ped)?|hover(s|ing)?|scroll(s|ing)?|navigat(e|es|ing)|drag(s|ging)?|drop(s|ped)?|submit(s|ting)?|redirect(s|ed)?|user\s+(can|sees|should|is able)|shows?\s+(a|an|the)\s+(toast|modal|dialog|message))\b`)
	uiTargetPattern    = regexp.MustCompile(`(?i)\b(?:on|to|in|from)\s+(?:the\s+)?([\w-]+(?:\s+[\w-]+)?)\s+(page|screen|modal|dialog|view|form|tab)\b`)
)

// uiInteractionDetector never passes: behavior that needs a browser or a
// person is always indeterminate, with a suggested place to look.
type uiInteractionDetector struct{}

func (uiInteractionDetector) Name() string { return DetectorUIInteraction }

func (uiInteractionDetector) Detect(_ context.Context, _ Env, description string) (Result, bool) {
	if !interactionPattern.MatchString(description) {
		return Result{}, false
	}
	target := "the affected screen"
	if match := uiTargetPattern.FindStringSubmatch(description); match != nil {
		target = fmt.Sprintf("the %s %s", strings.ToLower(match[1]), strings.ToLower(match[2]))
	}
	result := indeterminate(
		"interaction behavior cannot be verified from the filesystem",
		fmt.Sprintf("check %s in a browser or with an end-to-end test", target),
	)
	result.Evidence = map[string]string{"target": target}
	return result, true
}
