// Copyright 2024 The Fossil-core Authors
// This file is part of fossil-core.

package purge

import (
	"context"
	"database/sql"

	"github.com/pkg/errors"

	"github.com/fossil-scm/fossil-core/internal/ferrors"
	"github.com/fossil-scm/fossil-core/internal/fossillog"
)

// Store is the subset of blobstore.Store purge needs: content access,
// delta-chain un-deltification, and the underlying database handle it
// shares with crosslink's derived tables.
type Store interface {
	DB() *sql.DB
	Get(ctx context.Context, rid int64) ([]byte, error)
	Undelta(ctx context.Context, rid int64) error
}

// Engine runs purge and undo against a repository's blob/delta tables
// and its graveyard (§4.8).
type Engine struct {
	store Store
	db    *sql.DB
	log   fossillog.Logger
}

// Open creates the graveyard schema (if absent) and returns an Engine
// bound to store.
func Open(ctx context.Context, store Store) (*Engine, error) {
	db := store.DB()
	if _, err := db.ExecContext(ctx, graveyardSchema); err != nil {
		return nil, errors.Wrap(err, "purge: create graveyard schema")
	}
	return &Engine{store: store, db: db, log: fossillog.Root().With("component", "purge")}, nil
}

// FindCheckinAssociates expands S so it also contains every file blob
// exclusively referenced by check-ins in S, and every tag artifact
// whose referents are all in S (§4.8 find_checkin_associates).
func (e *Engine) FindCheckinAssociates(ctx context.Context, s []int64) ([]int64, error) {
	set := toSet(s)

	rows, err := e.db.QueryContext(ctx, `SELECT DISTINCT fid, mid FROM mlink WHERE fid != 0`)
	if err != nil {
		return nil, errors.Wrap(err, "purge: query mlink for associates")
	}
	fileUsers := make(map[int64]map[int64]bool) // fid -> set of referencing mid
	for rows.Next() {
		var fid, mid int64
		if err := rows.Scan(&fid, &mid); err != nil {
			rows.Close()
			return nil, errors.Wrap(err, "purge: scan mlink row")
		}
		if fileUsers[fid] == nil {
			fileUsers[fid] = map[int64]bool{}
		}
		fileUsers[fid][mid] = true
	}
	rows.Close()

	for fid, users := range fileUsers {
		allInSet := true
		for mid := range users {
			if !set[mid] {
				allInSet = false
				break
			}
		}
		if allInSet {
			set[fid] = true
		}
	}

	tagRows, err := e.db.QueryContext(ctx, `SELECT DISTINCT srcid FROM tagxref WHERE srcid != 0 AND srcid != origid`)
	if err != nil {
		return nil, errors.Wrap(err, "purge: query tagxref for associates")
	}
	var tagOrigins []int64
	for tagRows.Next() {
		var srcid int64
		if err := tagRows.Scan(&srcid); err != nil {
			tagRows.Close()
			return nil, errors.Wrap(err, "purge: scan tagxref row")
		}
		tagOrigins = append(tagOrigins, srcid)
	}
	tagRows.Close()

	for _, srcid := range tagOrigins {
		referents, err := e.referentsOf(ctx, srcid)
		if err != nil {
			return nil, err
		}
		allInSet := len(referents) > 0
		for _, r := range referents {
			if !set[r] {
				allInSet = false
				break
			}
		}
		if allInSet {
			set[srcid] = true
		}
	}

	return fromSet(set), nil
}

func (e *Engine) referentsOf(ctx context.Context, srcid int64) ([]int64, error) {
	rows, err := e.db.QueryContext(ctx, `SELECT DISTINCT rid FROM tagxref WHERE srcid=?`, srcid)
	if err != nil {
		return nil, errors.Wrap(err, "purge: query tag referents")
	}
	defer rows.Close()
	var out []int64
	for rows.Next() {
		var rid int64
		if err := rows.Scan(&rid); err != nil {
			return nil, errors.Wrap(err, "purge: scan referent")
		}
		out = append(out, rid)
	}
	return out, nil
}

func toSet(s []int64) map[int64]bool {
	m := make(map[int64]bool, len(s))
	for _, v := range s {
		m[v] = true
	}
	return m
}

func fromSet(m map[int64]bool) []int64 {
	out := make([]int64, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	return out
}

// Purge moves every RID in s to the graveyard, rejecting the operation
// if doing so would orphan a delta outside s (§4.8 steps 1-4).
func (e *Engine) Purge(ctx context.Context, s []int64, mtime int64) (peid int64, err error) {
	set := toSet(s)

	rows, err := e.db.QueryContext(ctx, `SELECT rid, srcid FROM delta`)
	if err != nil {
		return 0, errors.Wrap(err, "purge: query delta table")
	}
	var offenders []int64
	for rows.Next() {
		var rid, srcid int64
		if err := rows.Scan(&rid, &srcid); err != nil {
			rows.Close()
			return 0, errors.Wrap(err, "purge: scan delta row")
		}
		if !set[rid] && set[srcid] {
			offenders = append(offenders, rid)
		}
	}
	rows.Close()
	if len(offenders) > 0 {
		return 0, ferrors.Wrapf(ferrors.KindDependencyViolation, nil,
			"purge: %d RID(s) outside the purge set depend on a delta source inside it", len(offenders))
	}

	// Step 3: any RID in s whose delta source lies outside s must be
	// stored fully before it is evicted, so later undo can stand alone.
	for _, rid := range s {
		var srcid sql.NullInt64
		err := e.db.QueryRowContext(ctx, `SELECT srcid FROM delta WHERE rid=?`, rid).Scan(&srcid)
		if err != nil && err != sql.ErrNoRows {
			return 0, errors.Wrap(err, "purge: query delta source")
		}
		if err == nil && srcid.Valid && !set[srcid.Int64] {
			if err := e.store.Undelta(ctx, rid); err != nil {
				return 0, errors.Wrapf(err, "purge: undeltify rid %d before purge", rid)
			}
		}
	}

	tx, err := e.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, errors.Wrap(err, "purge: begin tx")
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `INSERT INTO purgeevent(mtime) VALUES (?)`, mtime)
	if err != nil {
		return 0, errors.Wrap(err, "purge: insert purgeevent")
	}
	peid, err = res.LastInsertId()
	if err != nil {
		return 0, errors.Wrap(err, "purge: read purgeevent id")
	}

	for _, rid := range s {
		var uuid string
		var algo int
		var size int64
		var content []byte
		var private int
		row := tx.QueryRowContext(ctx, `SELECT uuid, algo, size, content FROM blob WHERE rid=?`, rid)
		if err := row.Scan(&uuid, &algo, &size, &content); err != nil {
			if err == sql.ErrNoRows {
				continue
			}
			return 0, errors.Wrapf(err, "purge: read blob %d", rid)
		}
		_ = tx.QueryRowContext(ctx, `SELECT 1 FROM private WHERE rid=?`, rid).Scan(&private)

		if _, err := tx.ExecContext(ctx,
			`INSERT INTO purgeitem(peid, uuid, origrid, algo, size, content, isprivate) VALUES (?, ?, ?, ?, ?, ?, ?)`,
			peid, uuid, rid, algo, size, content, private); err != nil {
			return 0, errors.Wrapf(err, "purge: insert purgeitem for rid %d", rid)
		}

		if err := deleteRidEverywhere(ctx, tx, rid); err != nil {
			return 0, err
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, errors.Wrap(err, "purge: commit")
	}
	return peid, nil
}

// deleteRidEverywhere removes rid from blob, delta, and every derived
// table that references it by rid, srcid or origid (§4.8 step 4).
func deleteRidEverywhere(ctx context.Context, tx *sql.Tx, rid int64) error {
	stmts := []struct {
		sql  string
		args []any
	}{
		{"DELETE FROM event WHERE rid=?", []any{rid}},
		{"DELETE FROM private WHERE rid=?", []any{rid}},
		{"DELETE FROM mlink WHERE mid=? OR fid=?", []any{rid, rid}},
		{"DELETE FROM plink WHERE cid=? OR pid=?", []any{rid, rid}},
		{"DELETE FROM leaf WHERE rid=?", []any{rid}},
		{"DELETE FROM unclustered WHERE rid=?", []any{rid}},
		{"DELETE FROM unsent WHERE rid=?", []any{rid}},
		{"DELETE FROM tagxref WHERE rid=? OR srcid=? OR origid=?", []any{rid, rid, rid}},
		{"DELETE FROM backlink WHERE rid=?", []any{rid}},
		{"DELETE FROM ticketchng WHERE rid=?", []any{rid}},
		{"DELETE FROM delta WHERE rid=?", []any{rid}},
		{"DELETE FROM blob WHERE rid=?", []any{rid}},
	}
	for _, s := range stmts {
		if _, err := tx.ExecContext(ctx, s.sql, s.args...); err != nil {
			return errors.Wrapf(err, "purge: %s", s.sql)
		}
	}
	return nil
}

// Undo reinstates every purgeitem of peid back into blob, reversing
// the move to the graveyard (§4.8 Undo). Derived-table state is not
// reconstructed; callers must re-run crosslink on the reinstated RIDs.
func (e *Engine) Undo(ctx context.Context, peid int64) (reinstated []int64, err error) {
	tx, err := e.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, errors.Wrap(err, "purge: begin tx")
	}
	defer tx.Rollback()

	rows, err := tx.QueryContext(ctx, `SELECT piid, uuid, origrid, algo, size, content, isprivate FROM purgeitem WHERE peid=?`, peid)
	if err != nil {
		return nil, errors.Wrap(err, "purge: query purgeitem")
	}
	type item struct {
		piid      int64
		uuid      string
		origrid   int64
		algo      int
		size      int64
		content   []byte
		isprivate int
	}
	var items []item
	for rows.Next() {
		var it item
		if err := rows.Scan(&it.piid, &it.uuid, &it.origrid, &it.algo, &it.size, &it.content, &it.isprivate); err != nil {
			rows.Close()
			return nil, errors.Wrap(err, "purge: scan purgeitem")
		}
		items = append(items, it)
	}
	rows.Close()

	for _, it := range items {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO blob(rid, uuid, algo, size, content) VALUES (?, ?, ?, ?, ?)`,
			it.origrid, it.uuid, it.algo, it.size, it.content)
		if err != nil {
			return nil, errors.Wrapf(err, "purge: reinstate blob %d", it.origrid)
		}
		if it.isprivate != 0 {
			if _, err := tx.ExecContext(ctx, `INSERT INTO private(rid) VALUES (?)`, it.origrid); err != nil {
				return nil, errors.Wrapf(err, "purge: reinstate private flag for %d", it.origrid)
			}
		}
		reinstated = append(reinstated, it.origrid)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM purgeitem WHERE peid=?`, peid); err != nil {
		return nil, errors.Wrap(err, "purge: clear purgeitem")
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM purgeevent WHERE peid=?`, peid); err != nil {
		return nil, errors.Wrap(err, "purge: clear purgeevent")
	}

	if err := tx.Commit(); err != nil {
		return nil, errors.Wrap(err, "purge: commit undo")
	}
	return reinstated, nil
}
