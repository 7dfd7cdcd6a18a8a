// Copyright 2024 The Fossil-core Authors
// This file is part of fossil-core.

package tagengine

import (
	"context"
	"database/sql"
	"testing"

	"github.com/stretchr/testify/require"
	_ "modernc.org/sqlite"

	"github.com/fossil-scm/fossil-core/artifact"
)

func openTestDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite", ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	_, err = db.Exec(`
		CREATE TABLE plink (cid INTEGER, pid INTEGER, isprim INTEGER, baseid INTEGER DEFAULT 0, mtime INTEGER DEFAULT 0, PRIMARY KEY(cid,pid));
		CREATE TABLE tag (tagid INTEGER PRIMARY KEY AUTOINCREMENT, tagname TEXT UNIQUE NOT NULL);
		CREATE TABLE tagxref (tagid INTEGER, rid INTEGER, tagtype INTEGER, srcid INTEGER DEFAULT 0, origid INTEGER DEFAULT 0, value TEXT, mtime INTEGER, PRIMARY KEY(tagid,rid));
	`)
	require.NoError(t, err)
	return db
}

// seedLinearChain builds a linear history over rids (each the sole
// child of its predecessor) by inserting primary plink rows.
func seedLinearChain(t *testing.T, db *sql.DB, rids ...int64) {
	t.Helper()
	for i := 1; i < len(rids); i++ {
		_, err := db.Exec(`INSERT INTO plink(cid, pid, isprim, mtime) VALUES (?, ?, 1, ?)`, rids[i], rids[i-1], int64(i))
		require.NoError(t, err)
	}
}

func declareOrigin(t *testing.T, db *sql.DB, tagName string, rid int64, kind artifact.TagKind, value string, mtime int64) int64 {
	t.Helper()
	_, err := db.Exec(`INSERT OR IGNORE INTO tag(tagname) VALUES (?)`, tagName)
	require.NoError(t, err)
	var tagid int64
	require.NoError(t, db.QueryRow(`SELECT tagid FROM tag WHERE tagname=?`, tagName).Scan(&tagid))
	_, err = db.Exec(`INSERT INTO tagxref(tagid, rid, tagtype, srcid, origid, value, mtime) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		tagid, rid, int(kind), rid, rid, value, mtime)
	require.NoError(t, err)
	return tagid
}

func TestPropagateSimpleChain(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)
	seedLinearChain(t, db, 1, 2, 3)
	declareOrigin(t, db, "release", 1, artifact.TagPropagating, "1.0", 100)

	e := New(db)
	require.NoError(t, e.Propagate(ctx, "release"))

	for _, rid := range []int64{1, 2, 3} {
		tags, err := e.EffectiveTags(ctx, rid)
		require.NoError(t, err)
		require.Equal(t, "1.0", tags["release"], "rid %d should carry the propagated tag", rid)
	}
}

func TestPropagateStopsAtCancel(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)
	seedLinearChain(t, db, 1, 2, 3)
	declareOrigin(t, db, "release", 1, artifact.TagPropagating, "1.0", 100)
	declareOrigin(t, db, "release", 2, artifact.TagCancel, "", 200)

	e := New(db)
	require.NoError(t, e.Propagate(ctx, "release"))

	tags1, err := e.EffectiveTags(ctx, 1)
	require.NoError(t, err)
	require.Equal(t, "1.0", tags1["release"])

	tags3, err := e.EffectiveTags(ctx, 3)
	require.NoError(t, err)
	_, has := tags3["release"]
	require.False(t, has, "propagation must not cross a cancel tag")
}

func TestPropagateIsIdempotent(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)
	seedLinearChain(t, db, 1, 2, 3)
	declareOrigin(t, db, "release", 1, artifact.TagPropagating, "1.0", 100)

	e := New(db)
	require.NoError(t, e.Propagate(ctx, "release"))
	require.NoError(t, e.Propagate(ctx, "release"))

	var count int
	require.NoError(t, db.QueryRow(`SELECT count(*) FROM tagxref WHERE rid=3`).Scan(&count))
	require.Equal(t, 1, count)
}

func TestIsLeaf(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)
	seedLinearChain(t, db, 1, 2, 3)

	e := New(db)
	leaf3, err := e.IsLeaf(ctx, 3)
	require.NoError(t, err)
	require.True(t, leaf3)

	leaf1, err := e.IsLeaf(ctx, 1)
	require.NoError(t, err)
	require.False(t, leaf1)
}
