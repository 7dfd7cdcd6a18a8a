// Copyright 2024 The Fossil-core Authors
// This file is part of fossil-core.

// Command fossil is a thin CLI host over the core packages. It does
// not re-implement any component's logic; it parses arguments, opens
// a repo.Repo, and reports the exit-code contract of §6: 0 success,
// 1 fatal error, 2 usage error.
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "fossil:", err)
		os.Exit(exitCodeFor(err))
	}
}
