// Copyright 2024 The Fossil-core Authors
// This file is part of fossil-core.

// Package tagengine implements C6: propagation of propagating tags
// (branch names, background colors, ...) forward across the check-in
// DAG, and singleton/cancel tag bookkeeping (§4.5).
package tagengine

import (
	"context"
	"database/sql"

	"github.com/google/btree"
	"github.com/pkg/errors"

	"github.com/fossil-scm/fossil-core/artifact"
	"github.com/fossil-scm/fossil-core/internal/fossillog"
)

// Engine recomputes the transitive closure of a tag's propagation over
// plink edges already laid down by crosslink.
type Engine struct {
	db  *sql.DB
	log fossillog.Logger
}

func New(db *sql.DB) *Engine {
	return &Engine{db: db, log: fossillog.Root().With("component", "tagengine")}
}

// pqItem is one pending propagation step: tag value carried by
// originRid, now arriving at rid at time mtime. seq breaks ties
// between items with identical (mtime, rid) so the btree ordering
// stays total.
type pqItem struct {
	mtime     int64
	rid       int64
	seq       int64
	originRid int64
	value     string
}

func (a pqItem) Less(than btree.Item) bool {
	b := than.(pqItem)
	if a.mtime != b.mtime {
		return a.mtime < b.mtime
	}
	if a.rid != b.rid {
		return a.rid < b.rid
	}
	return a.seq < b.seq
}

// Propagate recomputes every propagated tagxref row for tagName,
// starting over from the direct declarations (rows with origid=rid)
// and walking forward over plink. It is idempotent: calling it twice
// in a row leaves the same state (§4.5 rebuild).
func (e *Engine) Propagate(ctx context.Context, tagName string) error {
	var tagid int64
	err := e.db.QueryRowContext(ctx, `SELECT tagid FROM tag WHERE tagname=?`, tagName).Scan(&tagid)
	if err == sql.ErrNoRows {
		return nil // tag never used, nothing to propagate
	}
	if err != nil {
		return errors.Wrap(err, "tagengine: lookup tag")
	}

	tx, err := e.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "tagengine: begin tx")
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM tagxref WHERE tagid=? AND origid != rid`, tagid); err != nil {
		return errors.Wrap(err, "tagengine: clear propagated rows")
	}

	type origin struct {
		rid     int64
		tagtype int
		value   string
		mtime   int64
	}
	rows, err := tx.QueryContext(ctx,
		`SELECT rid, tagtype, value, mtime FROM tagxref WHERE tagid=? AND origid=rid`, tagid)
	if err != nil {
		return errors.Wrap(err, "tagengine: query origins")
	}
	var origins []origin
	for rows.Next() {
		var o origin
		var value sql.NullString
		if err := rows.Scan(&o.rid, &o.tagtype, &value, &o.mtime); err != nil {
			rows.Close()
			return errors.Wrap(err, "tagengine: scan origin")
		}
		o.value = value.String
		origins = append(origins, o)
	}
	rows.Close()

	pq := btree.New(32)
	var seq int64
	push := func(item pqItem) {
		item.seq = seq
		seq++
		pq.ReplaceOrInsert(item)
	}

	// settled tracks, per rid, whether a propagated value has already
	// been written in this run so the earliest-arriving wins and later
	// arrivals along slower paths are discarded.
	settled := make(map[int64]bool)
	// blocked marks ancestors at which propagation must not continue
	// past: either an explicit cancel, or a competing origin of the
	// same tag (which governs its own subtree instead).
	blocked := make(map[int64]bool)
	for _, o := range origins {
		if o.tagtype == int(artifact.TagCancel) {
			blocked[o.rid] = true
			continue
		}
		if o.tagtype != int(artifact.TagPropagating) {
			continue // singleton tags never propagate
		}
		settled[o.rid] = true // the origin itself keeps its own declared row
		for _, child := range childrenOf(ctx, tx, o.rid) {
			push(pqItem{mtime: o.mtime, rid: child.rid, originRid: o.rid, value: o.value})
		}
	}

	for pq.Len() > 0 {
		item := pq.DeleteMin().(pqItem)
		if settled[item.rid] || blocked[item.rid] {
			continue
		}
		// A node with its own origin declaration for this tag (cancel
		// or propagating) governs itself; skip writing over it.
		var hasOwn bool
		if err := tx.QueryRowContext(ctx,
			`SELECT 1 FROM tagxref WHERE tagid=? AND rid=? AND origid=rid`, tagid, item.rid).Scan(new(int)); err == nil {
			hasOwn = true
		} else if err != sql.ErrNoRows {
			return errors.Wrap(err, "tagengine: check own declaration")
		}
		if hasOwn {
			blocked[item.rid] = true
			continue
		}

		if _, err := tx.ExecContext(ctx,
			`INSERT OR REPLACE INTO tagxref(tagid, rid, tagtype, srcid, origid, value, mtime) VALUES (?, ?, ?, ?, ?, ?, ?)`,
			tagid, item.rid, int(artifact.TagPropagating), item.originRid, item.originRid, item.value, item.mtime); err != nil {
			return errors.Wrap(err, "tagengine: write propagated tagxref")
		}
		settled[item.rid] = true

		for _, child := range childrenOf(ctx, tx, item.rid) {
			push(pqItem{mtime: item.mtime, rid: child.rid, originRid: item.originRid, value: item.value})
		}
	}

	return tx.Commit()
}

type childRef struct{ rid int64 }

func childrenOf(ctx context.Context, tx *sql.Tx, pid int64) []childRef {
	rows, err := tx.QueryContext(ctx, `SELECT cid FROM plink WHERE pid=?`, pid)
	if err != nil {
		return nil
	}
	defer rows.Close()
	var out []childRef
	for rows.Next() {
		var c childRef
		if err := rows.Scan(&c.rid); err == nil {
			out = append(out, c)
		}
	}
	return out
}

// EffectiveTags returns every tag currently in effect at rid (direct
// or propagated), keyed by tag name.
func (e *Engine) EffectiveTags(ctx context.Context, rid int64) (map[string]string, error) {
	rows, err := e.db.QueryContext(ctx, `
		SELECT tag.tagname, tagxref.value FROM tagxref
		JOIN tag ON tag.tagid = tagxref.tagid
		WHERE tagxref.rid = ? AND tagxref.tagtype != 0`, rid)
	if err != nil {
		return nil, errors.Wrap(err, "tagengine: query effective tags")
	}
	defer rows.Close()
	out := make(map[string]string)
	for rows.Next() {
		var name string
		var value sql.NullString
		if err := rows.Scan(&name, &value); err != nil {
			return nil, errors.Wrap(err, "tagengine: scan effective tag")
		}
		out[name] = value.String
	}
	return out, nil
}

// IsLeaf reports whether rid has no children in plink, i.e. it is not
// the primary or secondary parent of any other check-in (§4.5 branch
// leaf computation feeds checkout's "current leaf" resolution).
func (e *Engine) IsLeaf(ctx context.Context, rid int64) (bool, error) {
	var one int
	err := e.db.QueryRowContext(ctx, `SELECT 1 FROM plink WHERE pid=? LIMIT 1`, rid).Scan(&one)
	if err == sql.ErrNoRows {
		return true, nil
	}
	if err != nil {
		return false, errors.Wrap(err, "tagengine: query leaf")
	}
	return false, nil
}
