// Package apperror classifies failures so the step dispatcher can decide
// between failing fast, retrying and giving up.
package apperror

import (
	"errors"
	"fmt"
)

type Kind int

const (
	// KindValidation marks malformed or missing input. Never retried.
	KindValidation Kind = iota + 1
	// KindTransient marks rate limiting or a temporary outage of a collaborator.
	KindTransient
	// KindFatal marks a non-retryable collaborator response or exhausted retries.
	KindFatal
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindTransient:
		return "transient"
	case KindFatal:
		return "fatal"
	default:
		return "unknown"
	}
}

type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Op == "" {
		return fmt.Sprintf("%s: %v", e.Kind, e.Err)
	}
	return fmt.Sprintf("%s: %s: %v", e.Kind, e.Op, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

func Validation(op string, err error) error {
	return &Error{Kind: KindValidation, Op: op, Err: err}
}

func Validationf(format string, args ...any) error {
	return &Error{Kind: KindValidation, Err: fmt.Errorf(format, args...)}
}

func Transient(op string, err error) error {
	return &Error{Kind: KindTransient, Op: op, Err: err}
}

func Fatal(op string, err error) error {
	return &Error{Kind: KindFatal, Op: op, Err: err}
}

// KindOf returns the outermost classification in err's chain. Unclassified
// errors are reported as fatal.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindFatal
}

func IsValidation(err error) bool { return err != nil && KindOf(err) == KindValidation }

func IsTransient(err error) bool { return err != nil && KindOf(err) == KindTransient }
