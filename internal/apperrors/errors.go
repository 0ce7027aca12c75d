// Package apperrors defines the error taxonomy shared by the jobbridge services.
package apperrors

import (
	"errors"
	"fmt"

	"github.com/MarcoPoloResearchLab/jobbridge/internal/docstore"
)

// Kind classifies a failure for propagation and HTTP mapping.
type Kind string

const (
	KindValidation       Kind = "validation"
	KindNotFound         Kind = "not_found"
	KindConflict         Kind = "conflict"
	KindForbidden        Kind = "forbidden"
	KindTableUnavailable Kind = "table_unavailable"
	KindTransientStore   Kind = "transient_store"
)

// Error carries a kind, an "operation.reason" code, and the underlying cause.
type Error struct {
	kind    Kind
	code    string
	message string
	err     error
}

// New builds an Error for the given operation and reason.
func New(kind Kind, operation, reason, message string, cause error) *Error {
	return &Error{
		kind:    kind,
		code:    fmt.Sprintf("%s.%s", operation, reason),
		message: message,
		err:     cause,
	}
}

func (e *Error) Error() string {
	switch {
	case e.err == nil && e.message == "":
		return e.code
	case e.err == nil:
		return fmt.Sprintf("%s: %s", e.code, e.message)
	case e.message == "":
		return fmt.Sprintf("%s: %v", e.code, e.err)
	default:
		return fmt.Sprintf("%s: %s: %v", e.code, e.message, e.err)
	}
}

func (e *Error) Unwrap() error {
	return e.err
}

// Kind returns the classification.
func (e *Error) Kind() Kind {
	return e.kind
}

// Code returns the "operation.reason" code.
func (e *Error) Code() string {
	return e.code
}

// Message returns the user-facing message, falling back to the code.
func (e *Error) Message() string {
	if e.message == "" {
		return e.code
	}
	return e.message
}

func Validation(operation, reason, message string) *Error {
	return New(KindValidation, operation, reason, message, nil)
}

func NotFound(operation, reason, message string) *Error {
	return New(KindNotFound, operation, reason, message, nil)
}

func Conflict(operation, reason, message string) *Error {
	return New(KindConflict, operation, reason, message, nil)
}

func Forbidden(operation, reason, message string) *Error {
	return New(KindForbidden, operation, reason, message, nil)
}

func TableUnavailable(operation, reason string, cause error) *Error {
	return New(KindTableUnavailable, operation, reason, "table not available", cause)
}

func TransientStore(operation, reason string, cause error) *Error {
	return New(KindTransientStore, operation, reason, "", cause)
}

// KindOf reports the kind of the first *Error in the chain, or "" when none is present.
func KindOf(err error) Kind {
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr.kind
	}
	return ""
}

// Is reports whether err carries the given kind.
func Is(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}

// FromStore maps a document store error onto the taxonomy.
func FromStore(operation string, err error) error {
	if err == nil {
		return nil
	}
	if KindOf(err) != "" {
		return err
	}
	switch {
	case errors.Is(err, docstore.ErrItemNotFound):
		return New(KindNotFound, operation, "not_found", "", err)
	case errors.Is(err, docstore.ErrConditionFailed):
		return New(KindConflict, operation, "condition_failed", "", err)
	case docstore.IsTableNotFound(err):
		return TableUnavailable(operation, "table_missing", err)
	default:
		return TransientStore(operation, "store_error", err)
	}
}
