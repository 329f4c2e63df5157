package errors

import "errors"

// Category groups failures by how a caller (usually the CLI) should react to them.
type Category string

const (
	CategoryInvalidInput      Category = "invalid_input"
	CategoryNotFound          Category = "not_found"
	CategoryInvalidTransition Category = "invalid_transition"
	CategorySuspended         Category = "suspended"
	CategoryUnsafeCommand     Category = "unsafe_command"
	CategoryIOFailure         Category = "io_failure"
	CategoryStateContention   Category = "state_contention"
	CategoryInternalFailure   Category = "internal_failure"
)

type classifiedError struct {
	category  Category
	code      string
	hint      string
	retryable bool
	cause     error
}

func (e *classifiedError) Error() string {
	if e.cause == nil {
		return "unknown error"
	}
	return e.cause.Error()
}

func (e *classifiedError) Unwrap() error {
	return e.cause
}

// Wrap attaches a category, a stable machine code, an operator hint and a
// retry flag to cause. A nil cause stays nil.
func Wrap(cause error, category Category, code, hint string, retryable bool) error {
	if cause == nil {
		return nil
	}
	return &classifiedError{
		category:  category,
		code:      code,
		hint:      hint,
		retryable: retryable,
		cause:     cause,
	}
}

func CategoryOf(err error) Category {
	if classified, ok := classify(err); ok {
		return classified.category
	}
	return ""
}

func CodeOf(err error) string {
	if classified, ok := classify(err); ok {
		return classified.code
	}
	return ""
}

func HintOf(err error) string {
	if classified, ok := classify(err); ok {
		return classified.hint
	}
	return ""
}

func RetryableOf(err error) bool {
	if classified, ok := classify(err); ok {
		return classified.retryable
	}
	return false
}

func classify(err error) (*classifiedError, bool) {
	var classified *classifiedError
	if errors.As(err, &classified) {
		return classified, true
	}
	return nil, false
}
