// Copyright 2024 The Fossil-core Authors
// This file is part of fossil-core.

package blobstore

import (
	"context"

	"github.com/fossil-scm/fossil-core/delta"
	"github.com/fossil-scm/fossil-core/internal/ferrors"
)

// Undelta rewrites rid as a literal, with no delta source. Callers use
// this before removing rid's current source (§4.2).
func (s *Store) Undelta(ctx context.Context, rid int64) error {
	return s.withWriteLock(ctx, func() error { return s.undeltaLocked(ctx, rid) })
}

// undeltaLocked assumes the caller already holds the write lock.
func (s *Store) undeltaLocked(ctx context.Context, rid int64) error {
	raw, err := s.Get(ctx, rid)
	if err != nil {
		return err
	}
	packed, err := compress(raw)
	if err != nil {
		return ferrors.Wrap(ferrors.KindIoError, err, "compress undeltified content")
	}
	if _, err := s.db.ExecContext(ctx, `UPDATE blob SET content = ? WHERE rid = ?`, packed, rid); err != nil {
		return ferrors.Wrap(ferrors.KindDbError, err, "rewrite blob as literal")
	}
	if _, err := s.db.ExecContext(ctx, `DELETE FROM delta WHERE rid = ?`, rid); err != nil {
		return ferrors.Wrap(ferrors.KindDbError, err, "drop delta relation")
	}
	return nil
}

// Deltify stores rid as a delta against sourceRid, if doing so shrinks
// it and creates no cycle. It is a no-op (returns nil, changed=false)
// if the delta would not be smaller.
func (s *Store) Deltify(ctx context.Context, rid, sourceRid int64) (changed bool, err error) {
	err = s.withWriteLock(ctx, func() error {
		if rid == sourceRid {
			return ferrors.Wrapf(ferrors.KindDependencyViolation, nil, "rid %d cannot be a delta of itself", rid)
		}
		if s.wouldCycleLocked(ctx, rid, sourceRid) {
			return ferrors.Wrapf(ferrors.KindDependencyViolation, nil, "delta from rid %d to source %d would create a cycle", rid, sourceRid)
		}
		depth, derr := s.chainDepth(ctx, sourceRid)
		if derr != nil {
			return derr
		}
		if depth+1 >= s.maxDeltaDepth {
			return nil // depth exceeded; leave rid as-is rather than force a cycle-prone chain
		}

		raw, gerr := s.Get(ctx, rid)
		if gerr != nil {
			return gerr
		}
		basis, gerr := s.Get(ctx, sourceRid)
		if gerr != nil {
			return gerr
		}
		d := delta.Create(basis, raw)
		if len(d) >= len(raw) {
			return nil
		}
		packed, cerr := compress(d)
		if cerr != nil {
			return ferrors.Wrap(ferrors.KindIoError, cerr, "compress delta")
		}
		if _, err := s.db.ExecContext(ctx, `UPDATE blob SET content = ? WHERE rid = ?`, packed, rid); err != nil {
			return ferrors.Wrap(ferrors.KindDbError, err, "store deltified content")
		}
		if _, err := s.db.ExecContext(ctx, `INSERT INTO delta(rid, srcid) VALUES (?, ?)
			ON CONFLICT(rid) DO UPDATE SET srcid = excluded.srcid`, rid, sourceRid); err != nil {
			return ferrors.Wrap(ferrors.KindDbError, err, "upsert delta relation")
		}
		changed = true
		return nil
	})
	return changed, err
}

// wouldCycleLocked reports whether making rid a delta of sourceRid
// would create a cycle, i.e. sourceRid's own chain eventually reaches
// rid.
func (s *Store) wouldCycleLocked(ctx context.Context, rid, sourceRid int64) bool {
	cur := sourceRid
	seen := map[int64]bool{}
	for {
		if cur == rid {
			return true
		}
		if seen[cur] {
			return false
		}
		seen[cur] = true
		src, isDelta, err := s.deltaSource(ctx, cur)
		if err != nil || !isDelta {
			return false
		}
		cur = src
	}
}
