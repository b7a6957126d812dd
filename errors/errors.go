// Package errors wraps pkg/errors and adds the error codes surfaced by the
// engine to its callers.
package errors

import (
	"fmt"

	"github.com/pkg/errors"
)

// Code classifies an error; see Is.
type Code string

const (
	ErrBadRequest             Code = "BadRequest"
	ErrNotFound               Code = "NotFound"
	ErrConcurrentModification Code = "ConcurrentModification"
	ErrPermissionDenied       Code = "PermissionDenied"
	ErrInternal               Code = "Internal"
	ErrNeedIndex              Code = "NeedIndex"
)

func New(code Code, message string) error {
	return errors.WithStack(codedError{
		Code:    code,
		Message: message,
	})
}

func Newf(code Code, format string, args ...interface{}) error {
	return New(code, fmt.Sprintf(format, args...))
}

// Check returns a coded error with message when cond is false.
func Check(cond bool, code Code, message string) error {
	if cond {
		return nil
	}
	return New(code, message)
}

// Is reports whether any error in err's chain carries the target code.
func Is(err error, target Code) bool {
	return errors.Is(err, codedError{Code: target})
}

// CodeOf returns the code of the first coded error in err's chain, or the
// empty code.
func CodeOf(err error) Code {
	var ce codedError
	if errors.As(err, &ce) {
		return ce.Code
	}
	return ""
}

func WithMessage(err error, message string) error {
	return errors.WithMessage(err, message)
}

func Wrap(err error, message string) error {
	return errors.Wrap(err, message)
}

func Wrapf(err error, format string, args ...interface{}) error {
	return errors.Wrapf(err, format, args...)
}

type codedError struct {
	Code    Code
	Message string
}

func (ce codedError) Error() string {
	return fmt.Sprintf("%s: %s", ce.Code, ce.Message)
}

func (ce codedError) Is(err error) bool {
	if e, ok := err.(codedError); ok && ce.Code == e.Code {
		return true
	}
	return false
}
