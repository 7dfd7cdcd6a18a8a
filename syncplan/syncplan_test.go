// Copyright 2024 The Fossil-core Authors
// This file is part of fossil-core.

package syncplan

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/fossil-scm/fossil-core/artifact"
	"github.com/fossil-scm/fossil-core/blobstore"
	"github.com/fossil-scm/fossil-core/crosslink"
	"github.com/fossil-scm/fossil-core/fossilhash"
)

func openTestStore(t *testing.T) *blobstore.Store {
	t.Helper()
	s, err := blobstore.Open(t.TempDir()+"/repo.fossil", fossilhash.PolicyAcceptBoth)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestPendingPushExcludesPrivate(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)
	ix, err := crosslink.Open(ctx, s.DB())
	require.NoError(t, err)
	p := New(s, ix)

	pubRid, _, err := s.Put(ctx, []byte("public"), fossilhash.AlgoSha1, blobstore.PutOptions{})
	require.NoError(t, err)
	_, _, err = s.Put(ctx, []byte("private"), fossilhash.AlgoSha1, blobstore.PutOptions{Private: true})
	require.NoError(t, err)

	pending, err := p.PendingPush(ctx)
	require.NoError(t, err)
	require.Equal(t, []int64{pubRid}, pending)
}

func TestAcceptsPullRejectsShunned(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)
	ix, err := crosslink.Open(ctx, s.DB())
	require.NoError(t, err)
	p := New(s, ix)

	h := fossilhash.Sha1Of([]byte("banned content"))
	require.NoError(t, s.Shun(ctx, h, 1000, "test"))

	ok, err := p.AcceptsPull(ctx, h)
	require.NoError(t, err)
	require.False(t, ok)

	other := fossilhash.Sha1Of([]byte("fine content"))
	ok, err = p.AcceptsPull(ctx, other)
	require.NoError(t, err)
	require.True(t, ok)
}

func TestClusterBatchGroupsUnclusteredRids(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)
	ix, err := crosslink.Open(ctx, s.DB())
	require.NoError(t, err)
	p := New(s, ix)

	rid1, _, err := s.Put(ctx, []byte("one"), fossilhash.AlgoSha1, blobstore.PutOptions{})
	require.NoError(t, err)
	rid2, _, err := s.Put(ctx, []byte("two"), fossilhash.AlgoSha1, blobstore.PutOptions{})
	require.NoError(t, err)

	cluster, rids, err := p.ClusterBatch(ctx, 10)
	require.NoError(t, err)
	require.ElementsMatch(t, []int64{rid1, rid2}, rids)
	require.NotEmpty(t, cluster)

	require.NoError(t, p.MarkClustered(ctx, rids))
	_, rids2, err := p.ClusterBatch(ctx, 10)
	require.NoError(t, err)
	require.Empty(t, rids2)
}

func TestApplyBatchStoresAndCrosslinksCheckin(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)
	ix, err := crosslink.Open(ctx, s.DB())
	require.NoError(t, err)
	p := New(s, ix)

	date := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	b := artifact.NewCheckin("commit", date, "alice").Build()
	h := fossilhash.Sha1Of(b)

	stored, err := p.ApplyBatch(ctx, []ReceivedArtifact{{Hash: h, Content: b}})
	require.NoError(t, err)
	require.Len(t, stored, 1)

	var user string
	require.NoError(t, s.DB().QueryRow(`SELECT user FROM event WHERE rid=?`, stored[0]).Scan(&user))
	require.Equal(t, "alice", user)
}
