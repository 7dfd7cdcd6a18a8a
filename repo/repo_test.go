// Copyright 2024 The Fossil-core Authors
// This file is part of fossil-core.

package repo

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/fossil-scm/fossil-core/artifact"
	"github.com/fossil-scm/fossil-core/blobstore"
	"github.com/fossil-scm/fossil-core/fossilhash"
)

func openTestRepo(t *testing.T) *Repo {
	t.Helper()
	r, err := Open(context.Background(), t.TempDir()+"/repo.fossil", Options{Policy: fossilhash.PolicyAcceptBoth})
	require.NoError(t, err)
	t.Cleanup(func() { r.Close() })
	return r
}

func TestRecordCheckinCrosslinksAndResolves(t *testing.T) {
	ctx := context.Background()
	r := openTestRepo(t)

	date := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	raw := artifact.NewCheckin("initial commit", date, "alice").Build()

	rid, h, err := r.Record(ctx, raw, fossilhash.AlgoSha1, blobstore.PutOptions{})
	require.NoError(t, err)
	require.NotZero(t, rid)

	var user string
	require.NoError(t, r.Blobs.DB().QueryRow(`SELECT user FROM event WHERE rid=?`, rid).Scan(&user))
	require.Equal(t, "alice", user)

	got, err := r.Resolve.Resolve(ctx, h.Hex(), "")
	require.NoError(t, err)
	require.Equal(t, rid, got)
}

func TestRecordPlainFileBlobSkipsCrosslink(t *testing.T) {
	ctx := context.Background()
	r := openTestRepo(t)

	rid, _, err := r.Record(ctx, []byte("not a structured artifact"), fossilhash.AlgoSha1, blobstore.PutOptions{})
	require.NoError(t, err)
	require.NotZero(t, rid)

	var count int
	require.NoError(t, r.Blobs.DB().QueryRow(`SELECT COUNT(*) FROM event WHERE rid=?`, rid).Scan(&count))
	require.Zero(t, count)
}

func TestOpenCheckoutRoundTrips(t *testing.T) {
	ctx := context.Background()
	r := openTestRepo(t)

	rid, h, err := r.Blobs.Put(ctx, []byte("file contents"), fossilhash.AlgoSha1, blobstore.PutOptions{})
	require.NoError(t, err)
	_ = h

	dir := t.TempDir()
	tree, err := r.OpenCheckout(ctx, dir)
	require.NoError(t, err)
	defer tree.Close()

	_, err = tree.All(ctx)
	require.NoError(t, err)
	require.NotZero(t, rid)
}
