// Copyright 2024 The Fossil-core Authors
// This file is part of fossil-core.

// Package hookrun implements C11: execution of configured external
// commands in response to repository events (after-receive,
// before-commit, ...), capturing a digest list of what the hook saw.
package hookrun

import (
	"bytes"
	"context"
	"os/exec"
	"strings"

	"github.com/pkg/errors"

	"github.com/fossil-scm/fossil-core/fossilhash"
	"github.com/fossil-scm/fossil-core/internal/fossillog"
)

// Event names the repository occurrences a Hook may be bound to.
type Event string

const (
	EventAfterReceive Event = "after-receive"
	EventBeforeCommit Event = "before-commit"
)

// Hook is one configured external command, bound to an Event.
type Hook struct {
	Event   Event
	Command string
	Args    []string
}

// Digest is one artifact observed by a hook run, recorded so callers
// can confirm exactly which hashes a hook was told about.
type Digest struct {
	Hash fossilhash.Hash
	Rids []int64
}

// Runner executes configured hooks, feeding each run the digest list
// it was invoked with.
type Runner struct {
	hooks map[Event][]Hook
	log   fossillog.Logger
}

func New(hooks []Hook) *Runner {
	byEvent := make(map[Event][]Hook)
	for _, h := range hooks {
		byEvent[h.Event] = append(byEvent[h.Event], h)
	}
	return &Runner{hooks: byEvent, log: fossillog.Root().With("component", "hookrun")}
}

// Run invokes every hook bound to ev, passing the digest list on
// stdin as one hex hash per line. It stops at the first hook that
// fails and returns that failure, wrapped with the hook's stderr.
func (r *Runner) Run(ctx context.Context, ev Event, digests []Digest) error {
	hooks := r.hooks[ev]
	if len(hooks) == 0 {
		return nil
	}
	var stdin strings.Builder
	for _, d := range digests {
		stdin.WriteString(d.Hash.Hex())
		stdin.WriteByte('\n')
	}

	for _, h := range hooks {
		cmd := exec.CommandContext(ctx, h.Command, h.Args...)
		cmd.Stdin = strings.NewReader(stdin.String())
		var stderr bytes.Buffer
		cmd.Stderr = &stderr
		if err := cmd.Run(); err != nil {
			return errors.Wrapf(err, "hookrun: %s hook %q failed: %s", ev, h.Command, stderr.String())
		}
		r.log.Info("hook ran", "event", string(ev), "command", h.Command, "digests", len(digests))
	}
	return nil
}

// Hooks returns every hook bound to ev, for introspection.
func (r *Runner) Hooks(ev Event) []Hook {
	return r.hooks[ev]
}
