// Copyright 2024 The Fossil-core Authors
// This file is part of fossil-core.
//
// fossil-core is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// fossil-core is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.

// Package ferrors classifies every error the core distinguishes (§7 of
// the specification) behind sentinel values so callers can branch with
// errors.Is while call sites still carry a wrapped, stack-tracing cause
// via github.com/pkg/errors.
package ferrors

import (
	"errors"
	"fmt"

	pkgerrors "github.com/pkg/errors"
)

// Kind is one of the error classes the core distinguishes.
type Kind int

const (
	KindNotFound Kind = iota
	KindAmbiguous
	KindPhantomContent
	KindChecksumMismatch
	KindGrammarError
	KindPolicyRejected
	KindDependencyViolation
	KindWorkingTreeDirty
	KindMergeConflict
	KindIoError
	KindDbError
	KindCancelled
)

func (k Kind) String() string {
	switch k {
	case KindNotFound:
		return "NotFound"
	case KindAmbiguous:
		return "Ambiguous"
	case KindPhantomContent:
		return "PhantomContent"
	case KindChecksumMismatch:
		return "ChecksumMismatch"
	case KindGrammarError:
		return "GrammarError"
	case KindPolicyRejected:
		return "PolicyRejected"
	case KindDependencyViolation:
		return "DependencyViolation"
	case KindWorkingTreeDirty:
		return "WorkingTreeDirty"
	case KindMergeConflict:
		return "MergeConflict"
	case KindIoError:
		return "IoError"
	case KindDbError:
		return "DbError"
	case KindCancelled:
		return "Cancelled"
	default:
		return "Unknown"
	}
}

// Error is a human message tagged with a Kind; it unwraps to the
// wrapped cause so pkg/errors stack traces and errors.Is both work.
type Error struct {
	Kind  Kind
	Msg   string
	cause error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Msg, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Msg)
}

func (e *Error) Unwrap() error { return e.cause }

// Is lets errors.Is(err, ferrors.New(KindNotFound, "")) match on Kind
// alone, ignoring message/cause.
func (e *Error) Is(target error) bool {
	var t *Error
	if errors.As(target, &t) {
		return e.Kind == t.Kind
	}
	return false
}

// New builds a bare classified error.
func New(kind Kind, msg string) *Error {
	return &Error{Kind: kind, Msg: msg}
}

// Wrap classifies cause under kind, keeping a pkg/errors stack trace.
func Wrap(kind Kind, cause error, msg string) *Error {
	if cause == nil {
		return New(kind, msg)
	}
	return &Error{Kind: kind, Msg: msg, cause: pkgerrors.WithStack(cause)}
}

// Wrapf is Wrap with a formatted message.
func Wrapf(kind Kind, cause error, format string, args ...any) *Error {
	return Wrap(kind, cause, fmt.Sprintf(format, args...))
}

// Is reports whether err is classified as kind.
func Is(err error, kind Kind) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind == kind
	}
	return false
}

// Sentinels for the common not-found / ambiguous cases so callers can
// errors.Is against a single shared value when no extra message is
// needed.
var (
	ErrNotFound            = New(KindNotFound, "not found")
	ErrAmbiguous           = New(KindAmbiguous, "ambiguous reference")
	ErrPhantomContent      = New(KindPhantomContent, "artifact content is phantom")
	ErrChecksumMismatch    = New(KindChecksumMismatch, "checksum mismatch")
	ErrGrammarError        = New(KindGrammarError, "malformed card grammar")
	ErrPolicyRejected      = New(KindPolicyRejected, "rejected by policy")
	ErrDependencyViolation = New(KindDependencyViolation, "dependency violation")
	ErrWorkingTreeDirty    = New(KindWorkingTreeDirty, "working tree is dirty")
	ErrCancelled           = New(KindCancelled, "operation cancelled")
)
