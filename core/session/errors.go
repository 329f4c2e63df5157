package session

import (
	"errors"
	"fmt"

	coreerrors "github.com/davidahmann/harness/core/errors"
)

var (
	ErrNoSession         = errors.New("no active session")
	ErrSessionActive     = errors.New("another task owns the active session")
	ErrStepNotFound      = errors.New("step not found")
	ErrInvalidTransition = errors.New("invalid step transition")
	ErrSuspended         = errors.New("session is suspended")
	ErrCorruptSession    = errors.New("session file is not a JSON object")
)

func noSession() error {
	return coreerrors.Wrap(ErrNoSession, coreerrors.CategoryNotFound, "no_session", "run harness init --task <id> first", false)
}

func stepNotFound(ref string) error {
	return coreerrors.Wrap(fmt.Errorf("%w: %q", ErrStepNotFound, ref), coreerrors.CategoryNotFound, "step_not_found", "use a step id such as step-001, AC-1 or 1", false)
}

func invalidTransition(format string, args ...any) error {
	return coreerrors.Wrap(fmt.Errorf("%w: "+format, append([]any{ErrInvalidTransition}, args...)...), coreerrors.CategoryInvalidTransition, "invalid_transition", "", false)
}

func suspendedError(stepID string) error {
	return coreerrors.Wrap(fmt.Errorf("%w (step %s)", ErrSuspended, stepID), coreerrors.CategorySuspended, "session_suspended", "run harness can-resume, then harness resume", false)
}

func invalidInput(err error, code string) error {
	return coreerrors.Wrap(err, coreerrors.CategoryInvalidInput, code, "", false)
}
