// Copyright 2024 The Fossil-core Authors
// This file is part of fossil-core.

package blobstore

import (
	"context"
	"database/sql"

	"github.com/fossil-scm/fossil-core/fossilhash"
	"github.com/fossil-scm/fossil-core/internal/ferrors"
)

// Shun permanently bans hash. Bytes and delta records for any
// matching artifact are removed on the next Rebuild call; derived
// tables (event, attachment, ticket projections) are the crosslink
// package's responsibility to clean up (§4.8).
func (s *Store) Shun(ctx context.Context, h fossilhash.Hash, mtime int64, comment string) error {
	return s.withWriteLock(ctx, func() error {
		_, err := s.db.ExecContext(ctx, `INSERT OR REPLACE INTO shun(uuid, mtime, scom) VALUES (?, ?, ?)`, h.Hex(), mtime, comment)
		if err != nil {
			return ferrors.Wrap(ferrors.KindDbError, err, "insert shun record")
		}
		return nil
	})
}

// IsShunned reports whether h is permanently banned.
func (s *Store) IsShunned(ctx context.Context, h fossilhash.Hash) (bool, error) {
	return s.isShunnedTx(ctx, h)
}

func (s *Store) isShunnedTx(ctx context.Context, h fossilhash.Hash) (bool, error) {
	var one int
	row := s.db.QueryRowContext(ctx, `SELECT 1 FROM shun WHERE uuid = ?`, h.Hex())
	err := row.Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, ferrors.Wrap(ferrors.KindDbError, err, "query shun table")
	}
	return true, nil
}

// Rebuild removes the bytes and delta records of every shunned
// artifact still present. Any RID whose delta source is shunned is
// first un-deltified, preserving the invariant that no RID transitively
// depends on a removed RID via delta (§4.2).
func (s *Store) Rebuild(ctx context.Context) (removed int, err error) {
	err = s.withWriteLock(ctx, func() error {
		rows, qerr := s.db.QueryContext(ctx, `SELECT b.rid FROM blob b JOIN shun s ON s.uuid = b.uuid`)
		if qerr != nil {
			return ferrors.Wrap(ferrors.KindDbError, qerr, "find shunned blobs")
		}
		var shunnedRids []int64
		for rows.Next() {
			var rid int64
			if err := rows.Scan(&rid); err != nil {
				rows.Close()
				return ferrors.Wrap(ferrors.KindDbError, err, "scan shunned blob")
			}
			shunnedRids = append(shunnedRids, rid)
		}
		rows.Close()

		shunnedSet := make(map[int64]bool, len(shunnedRids))
		for _, r := range shunnedRids {
			shunnedSet[r] = true
		}

		// Any RID whose source is about to be removed must be stored
		// literal first, or it would become unreconstructable.
		depRows, qerr := s.db.QueryContext(ctx, `SELECT rid, srcid FROM delta`)
		if qerr != nil {
			return ferrors.Wrap(ferrors.KindDbError, qerr, "scan delta table")
		}
		type pair struct{ rid, src int64 }
		var pairs []pair
		for depRows.Next() {
			var p pair
			if err := depRows.Scan(&p.rid, &p.src); err != nil {
				depRows.Close()
				return ferrors.Wrap(ferrors.KindDbError, err, "scan delta pair")
			}
			pairs = append(pairs, p)
		}
		depRows.Close()

		for _, p := range pairs {
			if shunnedSet[p.src] && !shunnedSet[p.rid] {
				if err := s.undeltaLocked(ctx, p.rid); err != nil {
					return err
				}
			}
		}

		for _, rid := range shunnedRids {
			if _, err := s.db.ExecContext(ctx, `DELETE FROM blob WHERE rid = ?`, rid); err != nil {
				return ferrors.Wrap(ferrors.KindDbError, err, "delete shunned blob")
			}
			if _, err := s.db.ExecContext(ctx, `DELETE FROM delta WHERE rid = ? OR srcid = ?`, rid, rid); err != nil {
				return ferrors.Wrap(ferrors.KindDbError, err, "delete shunned delta records")
			}
			s.hashCache.Remove(rid)
			removed++
		}
		return nil
	})
	return removed, err
}
