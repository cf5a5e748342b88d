// Copyright 2024 The HAL authors. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

// Package haltypes holds the fixed-width index types, the base encoding, and
// the error taxonomy shared by every HAL package. Nothing here depends on a
// concrete storage backend.
package haltypes

import (
	"fmt"

	"github.com/pkg/errors"
)

// Kind classifies an Error the way callers are expected to branch on it.
// Library code never invents a new kind outside this set; an unrecognized
// failure is PreconditionViolated.
type Kind int

const (
	// BadFormat means the file's magic or version could not be recognized.
	BadFormat Kind = iota
	// NotWritable means a mutation was attempted on a read-only open.
	NotWritable
	// OutOfRange means an index or coordinate fell outside a valid domain.
	OutOfRange
	// CorruptAlignment means a structural invariant (reciprocal link, parse
	// link, coverage) was violated. Never swallowed.
	CorruptAlignment
	// OutOfSpace means growth exceeded a configured maximum.
	OutOfSpace
	// NotFound means a named genome, sequence, or file did not exist.
	NotFound
	// IoFailure wraps an underlying I/O error from disk or network.
	IoFailure
	// PreconditionViolated is the catch-all for conditions the library
	// considers a bug in the caller or the file.
	PreconditionViolated
)

func (k Kind) String() string {
	switch k {
	case BadFormat:
		return "BadFormat"
	case NotWritable:
		return "NotWritable"
	case OutOfRange:
		return "OutOfRange"
	case CorruptAlignment:
		return "CorruptAlignment"
	case OutOfSpace:
		return "OutOfSpace"
	case NotFound:
		return "NotFound"
	case IoFailure:
		return "IoFailure"
	case PreconditionViolated:
		return "PreconditionViolated"
	default:
		return fmt.Sprintf("Kind(%d)", int(k))
	}
}

// Error is the concrete error type returned by every HAL package. It carries
// a Kind for caller dispatch and free-form context (genome name, segment
// index, file offset) useful in a traversal failure.
type Error struct {
	kind    Kind
	context string
	cause   error
}

// New creates an Error of the given kind with a formatted context message.
func New(kind Kind, format string, args ...interface{}) *Error {
	return &Error{kind: kind, context: fmt.Sprintf(format, args...)}
}

// Wrap attaches a Kind and context to an existing error, preserving it as the
// cause wrapped by github.com/pkg/errors.WithStack: printing Unwrap() with %+v
// yields the stack trace, while Error() prints only the cause's message.
func Wrap(cause error, kind Kind, format string, args ...interface{}) *Error {
	return &Error{kind: kind, context: fmt.Sprintf(format, args...), cause: errors.WithStack(cause)}
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.kind, e.context, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.kind, e.context)
}

// Unwrap lets errors.Is / errors.As see through to the cause.
func (e *Error) Unwrap() error { return e.cause }

// Kind reports the error's classification.
func (e *Error) Kind() Kind { return e.kind }

// KindOf extracts the Kind of err, or PreconditionViolated if err is not (or
// does not wrap) a *Error.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.kind
	}
	return PreconditionViolated
}

// Is reports whether err is a HAL Error of the given kind. It lets callers
// write `haltypes.Is(err, haltypes.NotFound)` instead of comparing strings.
func Is(err error, kind Kind) bool {
	return KindOf(err) == kind
}
