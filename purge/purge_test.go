// Copyright 2024 The Fossil-core Authors
// This file is part of fossil-core.

package purge

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/fossil-scm/fossil-core/blobstore"
	"github.com/fossil-scm/fossil-core/fossilhash"
)

func openTestStore(t *testing.T) *blobstore.Store {
	t.Helper()
	s, err := blobstore.Open(t.TempDir()+"/repo.fossil", fossilhash.PolicyAcceptBoth)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestPurgeRejectsDanglingDeltaSource(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	pRid, _, err := s.Put(ctx, []byte("whole parent content"), fossilhash.AlgoSha1, blobstore.PutOptions{})
	require.NoError(t, err)
	cRid, _, err := s.Put(ctx, []byte("whole parent content plus a bit more"), fossilhash.AlgoSha1, blobstore.PutOptions{DeltaBasis: pRid})
	require.NoError(t, err)
	_ = cRid

	e, err := Open(ctx, s)
	require.NoError(t, err)

	_, err = e.Purge(ctx, []int64{pRid}, 1000)
	require.Error(t, err)
}

func TestPurgeSucceedsWhenBothDeltaEndsIncluded(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	pRid, _, err := s.Put(ctx, []byte("whole parent content"), fossilhash.AlgoSha1, blobstore.PutOptions{})
	require.NoError(t, err)
	cRid, _, err := s.Put(ctx, []byte("whole parent content plus a bit more"), fossilhash.AlgoSha1, blobstore.PutOptions{DeltaBasis: pRid})
	require.NoError(t, err)

	e, err := Open(ctx, s)
	require.NoError(t, err)

	peid, err := e.Purge(ctx, []int64{pRid, cRid}, 1000)
	require.NoError(t, err)
	require.NotZero(t, peid)

	_, err = s.Get(ctx, pRid)
	require.Error(t, err)
}

func TestUndoReinstatesPurgedBlob(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	rid, h, err := s.Put(ctx, []byte("some content"), fossilhash.AlgoSha1, blobstore.PutOptions{})
	require.NoError(t, err)

	e, err := Open(ctx, s)
	require.NoError(t, err)

	peid, err := e.Purge(ctx, []int64{rid}, 1000)
	require.NoError(t, err)

	reinstated, err := e.Undo(ctx, peid)
	require.NoError(t, err)
	require.Equal(t, []int64{rid}, reinstated)

	got, err := s.Get(ctx, rid)
	require.NoError(t, err)
	require.Equal(t, "some content", string(got))

	gotHash, err := s.HashOf(ctx, rid)
	require.NoError(t, err)
	require.True(t, gotHash.Equal(h))
}
