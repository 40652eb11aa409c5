package domain

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// ErrorKind classifies failures reported to callers.
type ErrorKind string

const (
	KindNotFound   ErrorKind = "not_found"
	KindConflict   ErrorKind = "conflict"
	KindForbidden  ErrorKind = "forbidden"
	KindValidation ErrorKind = "validation"
)

// Error is a structured failure carrying its kind and the ids involved.
type Error struct {
	Kind    ErrorKind
	Message string
	IDs     map[string]int64
}

// Sentinels usable with errors.Is to test only the kind.
var (
	ErrNotFound   = &Error{Kind: KindNotFound}
	ErrConflict   = &Error{Kind: KindConflict}
	ErrForbidden  = &Error{Kind: KindForbidden}
	ErrValidation = &Error{Kind: KindValidation}
)

func (e *Error) Error() string {
	if len(e.IDs) == 0 {
		return e.Message
	}
	keys := make([]string, 0, len(e.IDs))
	for k := range e.IDs {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s=%d", k, e.IDs[k]))
	}
	return e.Message + " (" + strings.Join(parts, " ") + ")"
}

// Is matches kind-only sentinels.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Message == "" && t.Kind == e.Kind
}

// WithID attaches an id to the error and returns it.
func (e *Error) WithID(name string, id int64) *Error {
	if e.IDs == nil {
		e.IDs = make(map[string]int64)
	}
	e.IDs[name] = id
	return e
}

func newError(kind ErrorKind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

func NotFoundf(format string, args ...any) *Error {
	return newError(KindNotFound, format, args...)
}

func Conflictf(format string, args ...any) *Error {
	return newError(KindConflict, format, args...)
}

func Forbiddenf(format string, args ...any) *Error {
	return newError(KindForbidden, format, args...)
}

func Validationf(format string, args ...any) *Error {
	return newError(KindValidation, format, args...)
}

// KindOf returns the kind of a domain error anywhere in the chain, or "".
func KindOf(err error) ErrorKind {
	var de *Error
	if errors.As(err, &de) {
		return de.Kind
	}
	return ""
}

// MessageOf returns the bare message of a domain error without its ids.
func MessageOf(err error) string {
	var de *Error
	if errors.As(err, &de) {
		return de.Message
	}
	if err == nil {
		return ""
	}
	return err.Error()
}
