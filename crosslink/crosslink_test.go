// Copyright 2024 The Fossil-core Authors
// This file is part of fossil-core.

package crosslink

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	_ "modernc.org/sqlite"

	"github.com/fossil-scm/fossil-core/artifact"
	"github.com/fossil-scm/fossil-core/fossilhash"
)

func openTestDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite", ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	_, err = db.Exec(`CREATE TABLE blob (
		rid INTEGER PRIMARY KEY AUTOINCREMENT,
		rcvid INTEGER, size INTEGER NOT NULL, uuid TEXT UNIQUE NOT NULL,
		algo INTEGER NOT NULL, content BLOB)`)
	require.NoError(t, err)
	return db
}

func mustInsertBlob(t *testing.T, db *sql.DB, hash fossilhash.Hash, content []byte) int64 {
	t.Helper()
	res, err := db.Exec(`INSERT INTO blob(uuid, algo, size, content) VALUES (?, ?, ?, ?)`,
		hash.Hex(), int(hash.Algo), len(content), content)
	require.NoError(t, err)
	rid, err := res.LastInsertId()
	require.NoError(t, err)
	return rid
}

func TestCrosslinkOneCheckin(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)
	ix, err := Open(ctx, db)
	require.NoError(t, err)

	fileBytes := []byte("hello\n")
	fileHash := fossilhash.Sha1Of(fileBytes)
	mustInsertBlob(t, db, fileHash, fileBytes)

	date := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	b := artifact.NewCheckin("initial commit", date, "alice").
		AddFile(artifact.FileEntry{Path: "a.txt", Hash: fileHash.Hex()}).
		Build()
	ciHash := fossilhash.Sha1Of(b)
	rid := mustInsertBlob(t, db, ciHash, b)

	require.NoError(t, ix.CrosslinkOne(ctx, rid, ciHash, b))

	var user, comment string
	require.NoError(t, db.QueryRow(`SELECT user, comment FROM event WHERE rid=?`, rid).Scan(&user, &comment))
	require.Equal(t, "alice", user)
	require.Equal(t, "initial commit", comment)

	var fnid int64
	require.NoError(t, db.QueryRow(`SELECT fnid FROM filename WHERE name='a.txt'`).Scan(&fnid))

	var mlinkCount int
	require.NoError(t, db.QueryRow(`SELECT count(*) FROM mlink WHERE mid=? AND fnid=?`, rid, fnid).Scan(&mlinkCount))
	require.Equal(t, 1, mlinkCount)
}

func TestCrosslinkOneIsIdempotent(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)
	ix, err := Open(ctx, db)
	require.NoError(t, err)

	date := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	b := artifact.NewCheckin("commit", date, "alice").
		AddFile(artifact.FileEntry{Path: "a.txt", Hash: ""}).
		Build()
	hash := fossilhash.Sha1Of(b)
	rid := mustInsertBlob(t, db, hash, b)

	require.NoError(t, ix.CrosslinkOne(ctx, rid, hash, b))
	require.NoError(t, ix.CrosslinkOne(ctx, rid, hash, b))

	var count int
	require.NoError(t, db.QueryRow(`SELECT count(*) FROM event WHERE rid=?`, rid).Scan(&count))
	require.Equal(t, 1, count, "re-crosslinking the same rid must not duplicate its event row")
}

func TestCrosslinkControlTagCreatesTagxref(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)
	ix, err := Open(ctx, db)
	require.NoError(t, err)

	target := fossilhash.Sha1Of([]byte("target content"))
	mustInsertBlob(t, db, target, []byte("target content"))

	date := time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC)
	b := artifact.NewControlArtifact([]artifact.TagSpec{
		{Kind: artifact.TagPropagating, Name: "release", Target: target.Hex(), Value: "1.0"},
	}, date, "bob")
	hash := fossilhash.Sha1Of(b)
	rid := mustInsertBlob(t, db, hash, b)

	require.NoError(t, ix.CrosslinkOne(ctx, rid, hash, b))

	var value string
	var tagtype int
	err = db.QueryRow(`
		SELECT tagxref.value, tagxref.tagtype FROM tagxref
		JOIN tag ON tag.tagid = tagxref.tagid
		WHERE tag.tagname = 'release'`).Scan(&value, &tagtype)
	require.NoError(t, err)
	require.Equal(t, "1.0", value)
	require.Equal(t, int(artifact.TagPropagating), tagtype)
}
