// Copyright 2024 The Fossil-core Authors
// This file is part of fossil-core.

package resolve

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/fossil-scm/fossil-core/blobstore"
	"github.com/fossil-scm/fossil-core/crosslink"
	"github.com/fossil-scm/fossil-core/fossilhash"
	"github.com/fossil-scm/fossil-core/internal/ferrors"
)

func openTestRepo(t *testing.T) (*blobstore.Store, *crosslink.Indexer) {
	t.Helper()
	s, err := blobstore.Open(t.TempDir()+"/repo.fossil", fossilhash.PolicyAcceptBoth)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	ix, err := crosslink.Open(context.Background(), s.DB())
	require.NoError(t, err)
	return s, ix
}

func seedCheckin(t *testing.T, s *blobstore.Store, mtime int64, branch string) int64 {
	t.Helper()
	ctx := context.Background()
	body := []byte(fmt.Sprintf("checkin at %s @%d", branch, mtime))
	rid, _, err := s.Put(ctx, body, fossilhash.AlgoSha1, blobstore.PutOptions{})
	require.NoError(t, err)

	_, err = s.DB().ExecContext(ctx, `INSERT INTO event(rid, etype, mtime, user) VALUES (?, 'ci', ?, 'alice')`, rid, mtime)
	require.NoError(t, err)

	if branch != "" {
		_, err = s.DB().ExecContext(ctx, `INSERT OR IGNORE INTO tag(tagname) VALUES ('branch')`)
		require.NoError(t, err)
		var tagid int64
		require.NoError(t, s.DB().QueryRowContext(ctx, `SELECT tagid FROM tag WHERE tagname='branch'`).Scan(&tagid))
		_, err = s.DB().ExecContext(ctx,
			`INSERT INTO tagxref(tagid, rid, tagtype, origid, value, mtime) VALUES (?, ?, 2, ?, ?, ?)`,
			tagid, rid, rid, branch, mtime)
		require.NoError(t, err)
	}
	return rid
}

func seedSymbolicTag(t *testing.T, s *blobstore.Store, name string, rid int64, mtime int64) {
	t.Helper()
	ctx := context.Background()
	_, err := s.DB().ExecContext(ctx, `INSERT OR IGNORE INTO tag(tagname) VALUES (?)`, name)
	require.NoError(t, err)
	var tagid int64
	require.NoError(t, s.DB().QueryRowContext(ctx, `SELECT tagid FROM tag WHERE tagname=?`, name).Scan(&tagid))
	_, err = s.DB().ExecContext(ctx,
		`INSERT INTO tagxref(tagid, rid, tagtype, origid, value, mtime) VALUES (?, ?, 1, ?, '', ?)`,
		tagid, rid, rid, mtime)
	require.NoError(t, err)
}

func TestResolveFullHash(t *testing.T) {
	s, _ := openTestRepo(t)
	r, err := New(s.DB(), s, 16)
	require.NoError(t, err)

	rid, h, err := s.Put(context.Background(), []byte("hello"), fossilhash.AlgoSha1, blobstore.PutOptions{})
	require.NoError(t, err)

	got, err := r.Resolve(context.Background(), h.Hex(), TypeAny)
	require.NoError(t, err)
	require.Equal(t, rid, got)
}

func TestResolveUnmatchedPrefixIsNotFound(t *testing.T) {
	s, _ := openTestRepo(t)
	r, err := New(s.DB(), s, 16)
	require.NoError(t, err)

	_, _, err = s.Put(context.Background(), []byte("content one"), fossilhash.AlgoSha1, blobstore.PutOptions{})
	require.NoError(t, err)

	_, err = r.Resolve(context.Background(), "0000", TypeAny)
	require.Error(t, err)
	require.True(t, ferrors.Is(err, ferrors.KindNotFound))
}

func TestResolveBranchNameReturnsNewestCheckin(t *testing.T) {
	s, _ := openTestRepo(t)
	r, err := New(s.DB(), s, 16)
	require.NoError(t, err)

	seedCheckin(t, s, 1000, "feat")
	newest := seedCheckin(t, s, 2000, "feat")

	got, err := r.Resolve(context.Background(), "feat", TypeAny)
	require.NoError(t, err)
	require.Equal(t, newest, got)
}

func TestResolveTrunkKeyword(t *testing.T) {
	s, _ := openTestRepo(t)
	r, err := New(s.DB(), s, 16)
	require.NoError(t, err)

	seedCheckin(t, s, 1000, "trunk")
	newest := seedCheckin(t, s, 3000, "trunk")

	got, err := r.Resolve(context.Background(), "trunk", TypeAny)
	require.NoError(t, err)
	require.Equal(t, newest, got)
}

func TestResolveTipKeywordIgnoresBranch(t *testing.T) {
	s, _ := openTestRepo(t)
	r, err := New(s.DB(), s, 16)
	require.NoError(t, err)

	seedCheckin(t, s, 1000, "trunk")
	newest := seedCheckin(t, s, 5000, "feat")

	got, err := r.Resolve(context.Background(), "tip", TypeAny)
	require.NoError(t, err)
	require.Equal(t, newest, got)
}

func TestResolveSymbolicTagAndTagPrefix(t *testing.T) {
	s, _ := openTestRepo(t)
	r, err := New(s.DB(), s, 16)
	require.NoError(t, err)

	rid := seedCheckin(t, s, 1000, "")
	seedSymbolicTag(t, s, "release-1.0", rid, 1000)

	got, err := r.Resolve(context.Background(), "release-1.0", TypeAny)
	require.NoError(t, err)
	require.Equal(t, rid, got)

	got2, err := r.Resolve(context.Background(), "tag:release-1.0", TypeAny)
	require.NoError(t, err)
	require.Equal(t, rid, got2)
}

func TestResolveUnknownNameIsNotFound(t *testing.T) {
	s, _ := openTestRepo(t)
	r, err := New(s.DB(), s, 16)
	require.NoError(t, err)

	_, err = r.Resolve(context.Background(), "no-such-thing-anywhere", TypeAny)
	require.Error(t, err)
	require.True(t, ferrors.Is(err, ferrors.KindNotFound))
}

func TestResolveCachesAndInvalidate(t *testing.T) {
	s, _ := openTestRepo(t)
	r, err := New(s.DB(), s, 16)
	require.NoError(t, err)

	rid := seedCheckin(t, s, 1000, "stable")
	got, err := r.Resolve(context.Background(), "stable", TypeAny)
	require.NoError(t, err)
	require.Equal(t, rid, got)

	newer := seedCheckin(t, s, 2000, "stable")
	cached, err := r.Resolve(context.Background(), "stable", TypeAny)
	require.NoError(t, err)
	require.Equal(t, rid, cached, "cache should still return the old answer before invalidation")

	r.Invalidate("stable")
	fresh, err := r.Resolve(context.Background(), "stable", TypeAny)
	require.NoError(t, err)
	require.Equal(t, newer, fresh)
}

func TestResolveByISODate(t *testing.T) {
	s, _ := openTestRepo(t)
	r, err := New(s.DB(), s, 16)
	require.NoError(t, err)

	early := seedCheckin(t, s, 1000, "")
	seedCheckin(t, s, 4000, "")

	got, err := r.Resolve(context.Background(), "1970-01-01T00:16:50", TypeAny)
	require.NoError(t, err)
	require.Equal(t, early, got)
}
