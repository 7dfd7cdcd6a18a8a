// Copyright 2024 The Fossil-core Authors
// This file is part of fossil-core.

package hookrun

import (
	"context"
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/fossil-scm/fossil-core/fossilhash"
)

func writeCaptureScript(t *testing.T, outPath string) string {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("capture script targets a POSIX shell")
	}
	script := filepath.Join(t.TempDir(), "capture.sh")
	body := "#!/bin/sh\ncat > " + outPath + "\n"
	require.NoError(t, os.WriteFile(script, []byte(body), 0o755))
	return script
}

func TestRunInvokesBoundHookWithDigestsOnStdin(t *testing.T) {
	ctx := context.Background()
	outPath := filepath.Join(t.TempDir(), "captured.txt")
	script := writeCaptureScript(t, outPath)

	r := New([]Hook{{Event: EventAfterReceive, Command: script}})
	h := fossilhash.Sha1Of([]byte("hello"))
	err := r.Run(ctx, EventAfterReceive, []Digest{{Hash: h, Rids: []int64{1}}})
	require.NoError(t, err)

	got, err := os.ReadFile(outPath)
	require.NoError(t, err)
	require.Equal(t, h.Hex()+"\n", string(got))
}

func TestRunSkipsUnboundEvent(t *testing.T) {
	ctx := context.Background()
	r := New([]Hook{{Event: EventAfterReceive, Command: "/nonexistent-binary-should-never-run"}})
	err := r.Run(ctx, EventBeforeCommit, nil)
	require.NoError(t, err)
}

func TestRunPropagatesCommandFailure(t *testing.T) {
	ctx := context.Background()
	r := New([]Hook{{Event: EventBeforeCommit, Command: "/bin/false"}})
	if _, err := os.Stat("/bin/false"); err != nil {
		t.Skip("/bin/false not present")
	}
	err := r.Run(ctx, EventBeforeCommit, nil)
	require.Error(t, err)
}

func TestHooksReturnsBoundCommands(t *testing.T) {
	r := New([]Hook{
		{Event: EventAfterReceive, Command: "a"},
		{Event: EventAfterReceive, Command: "b"},
		{Event: EventBeforeCommit, Command: "c"},
	})
	require.Len(t, r.Hooks(EventAfterReceive), 2)
	require.Len(t, r.Hooks(EventBeforeCommit), 1)
}
