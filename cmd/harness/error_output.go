package main

import (
	"encoding/json"
	stderrors "errors"
	"fmt"
	"strings"

	coreerrors "github.com/davidahmann/harness/core/errors"
	"github.com/davidahmann/harness/core/lock"
)

type errorOutput struct {
	OK            bool   `json:"ok"`
	Command       string `json:"command,omitempty"`
	Error         string `json:"error"`
	ErrorCode     string `json:"error_code"`
	ErrorCategory string `json:"error_category"`
	Retryable     bool   `json:"retryable"`
	Hint          string `json:"hint,omitempty"`
}

func writeJSONOutput(output any, exitCode int) int {
	encoded, err := marshalOutputWithErrorEnvelope(output)
	if err != nil {
		fmt.Println(`{"ok":false,"error":"failed to encode output","error_code":"encode_failed","error_category":"internal_failure","retryable":false}`)
		return exitError
	}
	fmt.Println(string(encoded))
	return exitCode
}

// writeError reports err and returns exit code 1. Classified errors carry
// their own code, category and hint into the envelope.
func writeError(jsonOutput bool, command string, err error) int {
	output := errorOutputFor(command, err)
	if jsonOutput {
		return writeJSONOutput(output, exitError)
	}
	fmt.Printf("%s error: %s\n", command, output.Error)
	if output.Hint != "" {
		fmt.Printf("hint: %s\n", output.Hint)
	}
	return exitError
}

func errorOutputFor(command string, err error) errorOutput {
	category := coreerrors.CategoryOf(err)
	if category == "" {
		category = defaultErrorCategory(err)
	}
	code := coreerrors.CodeOf(err)
	if code == "" {
		code = string(category)
	}
	hint := coreerrors.HintOf(err)
	if hint == "" {
		hint = defaultHint(category)
	}
	retryable := coreerrors.RetryableOf(err) || defaultRetryable(category)
	return errorOutput{
		OK:            false,
		Command:       command,
		Error:         err.Error(),
		ErrorCode:     code,
		ErrorCategory: string(category),
		Retryable:     retryable,
		Hint:          hint,
	}
}

// marshalOutputWithErrorEnvelope fills the error envelope for outputs that
// carry only an error string, such as flag parse failures.
func marshalOutputWithErrorEnvelope(output any) ([]byte, error) {
	encoded, err := marshalJSON(output)
	if err != nil {
		return nil, err
	}
	result, err := unmarshalJSONToMap(encoded)
	if err != nil {
		return nil, err
	}
	errorText := strings.TrimSpace(asString(result["error"]))
	if errorText == "" {
		return encoded, nil
	}
	if strings.TrimSpace(asString(result["error_category"])) == "" {
		result["error_category"] = string(coreerrors.CategoryInvalidInput)
	}
	if strings.TrimSpace(asString(result["error_code"])) == "" {
		result["error_code"] = asString(result["error_category"])
	}
	if _, exists := result["retryable"]; !exists {
		result["retryable"] = defaultRetryable(coreerrors.Category(asString(result["error_category"])))
	}
	if strings.TrimSpace(asString(result["hint"])) == "" {
		result["hint"] = defaultHint(coreerrors.Category(asString(result["error_category"])))
	}
	return marshalJSON(result)
}

func defaultErrorCategory(err error) coreerrors.Category {
	if stderrors.Is(err, lock.ErrAcquireTimeout) {
		return coreerrors.CategoryStateContention
	}
	return coreerrors.CategoryInternalFailure
}

func defaultHint(category coreerrors.Category) string {
	switch category {
	case coreerrors.CategoryInvalidInput:
		return "check command usage with --help"
	case coreerrors.CategoryNotFound:
		return "run harness status to see the session and its step ids"
	case coreerrors.CategoryInvalidTransition:
		return "run harness status to see the current step statuses"
	case coreerrors.CategorySuspended:
		return "run harness can-resume, then harness resume"
	case coreerrors.CategoryUnsafeCommand:
		return "use a single command without shell metacharacters"
	case coreerrors.CategoryStateContention:
		return "another harness process holds the session lock; retry shortly"
	default:
		return "retry after checking the workspace and logs"
	}
}

func defaultRetryable(category coreerrors.Category) bool {
	return category == coreerrors.CategoryStateContention
}

func marshalJSON(value any) ([]byte, error) {
	return json.Marshal(value)
}

func unmarshalJSONToMap(payload []byte) (map[string]any, error) {
	output := map[string]any{}
	if err := json.Unmarshal(payload, &output); err != nil {
		return nil, err
	}
	return output, nil
}

func asString(value any) string {
	text, _ := value.(string)
	return text
}
