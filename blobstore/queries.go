// Copyright 2024 The Fossil-core Authors
// This file is part of fossil-core.

package blobstore

import (
	"context"
	"database/sql"

	"github.com/fossil-scm/fossil-core/internal/ferrors"
)

// ReceiptOf returns the provenance recorded when rid was first stored.
// The receipt is found through rid's blob row, so once a shun rebuild
// has removed that row ReceiptOf returns NotFound for rid.
func (s *Store) ReceiptOf(ctx context.Context, rid int64) (*Receipt, error) {
	var rcvid sql.NullInt64
	row := s.db.QueryRowContext(ctx, `SELECT rcvid FROM blob WHERE rid = ?`, rid)
	if err := row.Scan(&rcvid); err != nil {
		if err == sql.ErrNoRows {
			return nil, ferrors.Wrapf(ferrors.KindNotFound, nil, "no blob with rid %d", rid)
		}
		return nil, ferrors.Wrap(ferrors.KindDbError, err, "read blob receipt id")
	}
	if !rcvid.Valid {
		return nil, nil
	}
	var r Receipt
	row = s.db.QueryRowContext(ctx, `SELECT uid, mtime, nonce, ipaddr FROM rcvfrom WHERE rcvid = ?`, rcvid.Int64)
	if err := row.Scan(&r.UID, &r.MTime, &r.Nonce, &r.IPAddr); err != nil {
		return nil, ferrors.Wrap(ferrors.KindDbError, err, "read receipt")
	}
	return &r, nil
}

// IsPrivate reports whether rid is marked private (never offered to peers).
func (s *Store) IsPrivate(ctx context.Context, rid int64) (bool, error) {
	var one int
	row := s.db.QueryRowContext(ctx, `SELECT 1 FROM private WHERE rid = ?`, rid)
	err := row.Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, ferrors.Wrap(ferrors.KindDbError, err, "query private table")
	}
	return true, nil
}

// IsPhantom reports whether rid's hash is known but its bytes are absent.
func (s *Store) IsPhantom(ctx context.Context, rid int64) (bool, error) {
	var content []byte
	row := s.db.QueryRowContext(ctx, `SELECT content FROM blob WHERE rid = ?`, rid)
	if err := row.Scan(&content); err != nil {
		if err == sql.ErrNoRows {
			return false, ferrors.Wrapf(ferrors.KindNotFound, nil, "no blob with rid %d", rid)
		}
		return false, ferrors.Wrap(ferrors.KindDbError, err, "query blob content presence")
	}
	return content == nil, nil
}

// PutPhantom records a hash with no bytes yet, so crosslink can track
// a dependency until it arrives (§4.4 phantom table).
func (s *Store) PutPhantom(ctx context.Context, hexHash string, algo int) (rid int64, err error) {
	err = s.withWriteLock(ctx, func() error {
		row := s.db.QueryRowContext(ctx, `SELECT rid FROM blob WHERE uuid = ?`, hexHash)
		if serr := row.Scan(&rid); serr == nil {
			return nil
		} else if serr != sql.ErrNoRows {
			return ferrors.Wrap(ferrors.KindDbError, serr, "lookup phantom blob")
		}
		res, ierr := s.db.ExecContext(ctx, `INSERT INTO blob(size, uuid, algo, content) VALUES (0, ?, ?, NULL)`, hexHash, algo)
		if ierr != nil {
			return ferrors.Wrap(ferrors.KindDbError, ierr, "insert phantom blob")
		}
		rid, _ = res.LastInsertId()
		return nil
	})
	return rid, err
}

// Phantoms lists every RID whose bytes are still missing.
func (s *Store) Phantoms(ctx context.Context) ([]int64, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT rid FROM blob WHERE content IS NULL`)
	if err != nil {
		return nil, ferrors.Wrap(ferrors.KindDbError, err, "list phantoms")
	}
	defer rows.Close()
	var out []int64
	for rows.Next() {
		var rid int64
		if err := rows.Scan(&rid); err != nil {
			return nil, ferrors.Wrap(ferrors.KindDbError, err, "scan phantom rid")
		}
		out = append(out, rid)
	}
	return out, nil
}

// DB exposes the underlying *sql.DB so the crosslink package can
// create its derived tables in the same repository file, and so
// higher layers can run their own read-only queries and transactions.
func (s *Store) DB() *sql.DB { return s.db }
