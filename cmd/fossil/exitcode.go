// Copyright 2024 The Fossil-core Authors
// This file is part of fossil-core.

package main

import (
	"errors"
	"fmt"
)

// usageError marks a command-line misuse (wrong argument count, bad
// flag combination) as distinct from a failure during execution, so
// exitCodeFor can report the §6 usage-error code.
type usageError struct{ err error }

func (u *usageError) Error() string { return u.err.Error() }
func (u *usageError) Unwrap() error { return u.err }

func usageErrorf(format string, args ...any) error {
	return &usageError{err: fmt.Errorf(format, args...)}
}

func exitCodeFor(err error) int {
	if err == nil {
		return 0
	}
	var u *usageError
	if errors.As(err, &u) {
		return 2
	}
	return 1
}
