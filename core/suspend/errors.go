package suspend

import (
	"errors"
	"fmt"

	coreerrors "github.com/davidahmann/harness/core/errors"
)

var (
	ErrAlreadySuspended = errors.New("session is already suspended")
	ErrNotSuspended     = errors.New("session is not suspended")
	ErrInvalidCondition = errors.New("invalid resume condition")
	ErrNotManual        = errors.New("suspension does not wait for manual approval")
	ErrUnsafeCommand    = errors.New("poll command rejected")
)

func alreadySuspended(stepID string) error {
	return coreerrors.Wrap(fmt.Errorf("%w (step %s)", ErrAlreadySuspended, stepID), coreerrors.CategorySuspended, "already_suspended", "run harness can-resume or harness resume --force", false)
}

func notSuspended() error {
	return coreerrors.Wrap(ErrNotSuspended, coreerrors.CategoryInvalidTransition, "not_suspended", "", false)
}

func invalidCondition(format string, args ...any) error {
	return coreerrors.Wrap(fmt.Errorf("%w: "+format, append([]any{ErrInvalidCondition}, args...)...), coreerrors.CategoryInvalidInput, "invalid_condition", "see harness suspend --help", false)
}

func unsafeCommand(reasons string) error {
	return coreerrors.Wrap(fmt.Errorf("%w: %s", ErrUnsafeCommand, reasons), coreerrors.CategoryUnsafeCommand, "unsafe_poll_command", "use a single plain command without substitutions", false)
}

func notManual(condition any) error {
	return coreerrors.Wrap(fmt.Errorf("%w (condition is %v)", ErrNotManual, condition), coreerrors.CategoryInvalidInput, "not_manual", "use harness resume once the condition holds", false)
}
