// Copyright 2024 The Fossil-core Authors
// This file is part of fossil-core.
//
// fossil-core is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

package blobstore

import (
	"context"
	"database/sql"
	"sync"
	"time"

	"github.com/gofrs/flock"
	lru "github.com/hashicorp/golang-lru/v2"
	_ "modernc.org/sqlite"

	"github.com/fossil-scm/fossil-core/delta"
	"github.com/fossil-scm/fossil-core/fossilhash"
	"github.com/fossil-scm/fossil-core/internal/ferrors"
	"github.com/fossil-scm/fossil-core/internal/fossillog"
)

// defaultMaxDeltaDepth bounds how many indirections a delta chain may
// have before a concrete blob must be stored (§4.2).
const defaultMaxDeltaDepth = 32

// Receipt is the provenance recorded for an artifact's first storage
// (rcvfrom, §3): who introduced it, when, and from where. It is read
// through the artifact's blob row (see ReceiptOf).
type Receipt struct {
	UID    string
	MTime  int64
	Nonce  string
	IPAddr string
}

// PutOptions controls how Put stores a new artifact.
type PutOptions struct {
	Private    bool
	Receipt    *Receipt
	DeltaBasis int64 // RID to try delta-encoding against; 0 means store literal
}

// Store is the blob store (C2): a content-addressed, append-only
// repository file opened over modernc.org/sqlite, matching the schema
// of §6. Writers are serialized with an advisory file lock; readers
// run through the database's own snapshot isolation (§5).
type Store struct {
	db   *sql.DB
	lock *flock.Flock
	mu   sync.Mutex // serializes writers within this process

	policy        fossilhash.Policy
	maxDeltaDepth int
	hashCache     *lru.Cache[int64, fossilhash.Hash]
	log           fossillog.Logger
}

// Open opens (creating if absent) a repository file at path under the
// given hash policy.
func Open(path string, policy fossilhash.Policy) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, ferrors.Wrap(ferrors.KindDbError, err, "open repository database")
	}
	db.SetMaxOpenConns(1) // modernc sqlite: one writer connection is simplest and matches §5
	if _, err := db.Exec(coreSchema); err != nil {
		db.Close()
		return nil, ferrors.Wrap(ferrors.KindDbError, err, "create repository schema")
	}
	cache, _ := lru.New[int64, fossilhash.Hash](4096)
	return &Store{
		db:            db,
		lock:          flock.New(path + ".lock"),
		policy:        policy,
		maxDeltaDepth: defaultMaxDeltaDepth,
		hashCache:     cache,
		log:           fossillog.Root().With("component", "blobstore"),
	}, nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// Policy returns the repository's active hash policy.
func (s *Store) Policy() fossilhash.Policy { return s.policy }

// withWriteLock serializes Put/Undelta/Deltify/Shun both within this
// process (mutex) and across processes (advisory flock on the
// repository file), matching the single-writer model of §5.
func (s *Store) withWriteLock(ctx context.Context, fn func() error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	locked, err := s.lock.TryLockContext(ctx, writeLockRetry)
	if err != nil {
		return ferrors.Wrap(ferrors.KindIoError, err, "acquire repository write lock")
	}
	if !locked {
		return ferrors.New(ferrors.KindIoError, "repository is locked by another writer")
	}
	defer s.lock.Unlock()
	return fn()
}

// Put stores a new artifact, returning its RID and hash. It is
// idempotent: storing bytes that hash to an existing artifact returns
// the existing RID without a second store (§4.2). A shunned hash is
// silently discarded: rid is 0 and err is nil.
func (s *Store) Put(ctx context.Context, raw []byte, algo fossilhash.Algo, opts PutOptions) (rid int64, h fossilhash.Hash, err error) {
	h = fossilhash.Of(algo, raw)

	err = s.withWriteLock(ctx, func() error {
		shunned, serr := s.isShunnedTx(ctx, h)
		if serr != nil {
			return serr
		}
		if shunned {
			rid = 0
			return nil
		}

		existingRid, hasContent, serr := s.lookupByHash(ctx, h)
		if serr != nil {
			return serr
		}
		if existingRid != 0 {
			if hasContent {
				rid = existingRid
				return nil
			}
			// Phantom upgrade: bytes now known for a previously-recorded hash.
			return s.upgradePhantom(ctx, existingRid, raw, &rid)
		}

		if !s.policy.Allows(algo) {
			return ferrors.Wrapf(ferrors.KindPolicyRejected, nil, "hash algorithm %s rejected by repository policy", algo)
		}

		return s.insertNew(ctx, raw, h, opts, &rid)
	})
	return rid, h, err
}

func (s *Store) lookupByHash(ctx context.Context, h fossilhash.Hash) (rid int64, hasContent bool, err error) {
	var content sql.NullString
	row := s.db.QueryRowContext(ctx, `SELECT rid, content IS NOT NULL FROM blob WHERE uuid = ?`, h.Hex())
	var has int
	err = row.Scan(&rid, &has)
	if err == sql.ErrNoRows {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, ferrors.Wrap(ferrors.KindDbError, err, "lookup blob by hash")
	}
	_ = content
	return rid, has == 1, nil
}

func (s *Store) upgradePhantom(ctx context.Context, rid int64, raw []byte, out *int64) error {
	packed, err := compress(raw)
	if err != nil {
		return ferrors.Wrap(ferrors.KindIoError, err, "compress artifact content")
	}
	_, err = s.db.ExecContext(ctx, `UPDATE blob SET content = ?, size = ? WHERE rid = ?`, packed, len(raw), rid)
	if err != nil {
		return ferrors.Wrap(ferrors.KindDbError, err, "upgrade phantom blob")
	}
	*out = rid
	return nil
}

func (s *Store) insertNew(ctx context.Context, raw []byte, h fossilhash.Hash, opts PutOptions, out *int64) error {
	payload := raw
	isDelta := false
	basisRid := int64(0)

	if opts.DeltaBasis != 0 {
		depth, derr := s.chainDepth(ctx, opts.DeltaBasis)
		if derr != nil {
			return derr
		}
		if depth+1 < s.maxDeltaDepth {
			basis, berr := s.Get(ctx, opts.DeltaBasis)
			if berr == nil {
				d := delta.Create(basis, raw)
				if len(d) <= len(raw) {
					payload, isDelta, basisRid = d, true, opts.DeltaBasis
				}
			}
		}
	}

	packed, err := compress(payload)
	if err != nil {
		return ferrors.Wrap(ferrors.KindIoError, err, "compress artifact content")
	}

	var rcvid sql.NullInt64
	if opts.Receipt != nil {
		res, rerr := s.db.ExecContext(ctx, `INSERT INTO rcvfrom(uid, mtime, nonce, ipaddr) VALUES (?, ?, ?, ?)`,
			opts.Receipt.UID, opts.Receipt.MTime, opts.Receipt.Nonce, opts.Receipt.IPAddr)
		if rerr != nil {
			return ferrors.Wrap(ferrors.KindDbError, rerr, "insert receipt")
		}
		id, _ := res.LastInsertId()
		rcvid = sql.NullInt64{Int64: id, Valid: true}
	}

	res, err := s.db.ExecContext(ctx, `INSERT INTO blob(rcvid, size, uuid, algo, content) VALUES (?, ?, ?, ?, ?)`,
		rcvid, len(raw), h.Hex(), int(h.Algo), packed)
	if err != nil {
		return ferrors.Wrap(ferrors.KindDbError, err, "insert blob")
	}
	rid, _ := res.LastInsertId()

	if isDelta {
		if _, err := s.db.ExecContext(ctx, `INSERT INTO delta(rid, srcid) VALUES (?, ?)`, rid, basisRid); err != nil {
			return ferrors.Wrap(ferrors.KindDbError, err, "insert delta relation")
		}
	}
	if _, err := s.db.ExecContext(ctx, `INSERT INTO unsent(rid) VALUES (?)`, rid); err != nil {
		return ferrors.Wrap(ferrors.KindDbError, err, "insert unsent")
	}
	if _, err := s.db.ExecContext(ctx, `INSERT INTO unclustered(rid) VALUES (?)`, rid); err != nil {
		return ferrors.Wrap(ferrors.KindDbError, err, "insert unclustered")
	}
	if opts.Private {
		if _, err := s.db.ExecContext(ctx, `INSERT INTO private(rid) VALUES (?)`, rid); err != nil {
			return ferrors.Wrap(ferrors.KindDbError, err, "insert private")
		}
	}

	s.hashCache.Add(rid, h)
	*out = rid
	return nil
}

// Get materializes an artifact by walking its delta chain.
func (s *Store) Get(ctx context.Context, rid int64) ([]byte, error) {
	var packed []byte
	row := s.db.QueryRowContext(ctx, `SELECT content FROM blob WHERE rid = ?`, rid)
	if err := row.Scan(&packed); err != nil {
		if err == sql.ErrNoRows {
			return nil, ferrors.Wrapf(ferrors.KindNotFound, nil, "no blob with rid %d", rid)
		}
		return nil, ferrors.Wrap(ferrors.KindDbError, err, "read blob")
	}
	if packed == nil {
		return nil, ferrors.Wrapf(ferrors.KindPhantomContent, nil, "rid %d is phantom", rid)
	}
	payload, err := decompress(packed)
	if err != nil {
		return nil, ferrors.Wrap(ferrors.KindIoError, err, "decompress blob")
	}

	srcid, isDelta, err := s.deltaSource(ctx, rid)
	if err != nil {
		return nil, err
	}
	if !isDelta {
		return payload, nil
	}
	source, err := s.Get(ctx, srcid)
	if err != nil {
		return nil, err
	}
	out, err := delta.Apply(source, payload)
	if err != nil {
		return nil, ferrors.Wrap(ferrors.KindChecksumMismatch, err, "apply delta")
	}
	return out, nil
}

func (s *Store) deltaSource(ctx context.Context, rid int64) (srcid int64, isDelta bool, err error) {
	row := s.db.QueryRowContext(ctx, `SELECT srcid FROM delta WHERE rid = ?`, rid)
	err = row.Scan(&srcid)
	if err == sql.ErrNoRows {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, ferrors.Wrap(ferrors.KindDbError, err, "read delta relation")
	}
	return srcid, true, nil
}

// chainDepth counts how many delta indirections separate rid from a
// concrete (literal) blob.
func (s *Store) chainDepth(ctx context.Context, rid int64) (int, error) {
	depth := 0
	cur := rid
	seen := map[int64]bool{}
	for {
		if seen[cur] {
			return 0, ferrors.Wrapf(ferrors.KindDependencyViolation, nil, "delta cycle detected at rid %d", cur)
		}
		seen[cur] = true
		src, isDelta, err := s.deltaSource(ctx, cur)
		if err != nil {
			return 0, err
		}
		if !isDelta {
			return depth, nil
		}
		depth++
		cur = src
		if depth > s.maxDeltaDepth*4 {
			return 0, ferrors.Wrapf(ferrors.KindDependencyViolation, nil, "delta chain exceeds sane bound at rid %d", rid)
		}
	}
}

// Size returns the uncompressed size of the artifact's raw bytes.
func (s *Store) Size(ctx context.Context, rid int64) (uint64, error) {
	var size int64
	row := s.db.QueryRowContext(ctx, `SELECT size FROM blob WHERE rid = ?`, rid)
	if err := row.Scan(&size); err != nil {
		if err == sql.ErrNoRows {
			return 0, ferrors.Wrapf(ferrors.KindNotFound, nil, "no blob with rid %d", rid)
		}
		return 0, ferrors.Wrap(ferrors.KindDbError, err, "read blob size")
	}
	return uint64(size), nil
}

// HashOf returns the hash of the artifact identified by rid, using an
// LRU cache since callers (crosslink, tag propagation, resolver) ask
// for this constantly.
func (s *Store) HashOf(ctx context.Context, rid int64) (fossilhash.Hash, error) {
	if h, ok := s.hashCache.Get(rid); ok {
		return h, nil
	}
	var uuid string
	var algo int
	row := s.db.QueryRowContext(ctx, `SELECT uuid, algo FROM blob WHERE rid = ?`, rid)
	if err := row.Scan(&uuid, &algo); err != nil {
		if err == sql.ErrNoRows {
			return fossilhash.Hash{}, ferrors.Wrapf(ferrors.KindNotFound, nil, "no blob with rid %d", rid)
		}
		return fossilhash.Hash{}, ferrors.Wrap(ferrors.KindDbError, err, "read blob hash")
	}
	h, err := fossilhash.ParseHex(uuid)
	if err != nil {
		return fossilhash.Hash{}, ferrors.Wrap(ferrors.KindDbError, err, "parse stored hash")
	}
	s.hashCache.Add(rid, h)
	return h, nil
}

// RidOfPrefix resolves a hash or hash-prefix (>=4 hex chars) to its
// RID, failing with Ambiguous if more than one artifact matches.
func (s *Store) RidOfPrefix(ctx context.Context, prefix string) (int64, error) {
	if len(prefix) < 4 {
		return 0, ferrors.Wrapf(ferrors.KindNotFound, nil, "hash prefix %q is too short", prefix)
	}
	rows, err := s.db.QueryContext(ctx, `SELECT rid FROM blob WHERE uuid LIKE ? || '%'`, prefix)
	if err != nil {
		return 0, ferrors.Wrap(ferrors.KindDbError, err, "lookup by hash prefix")
	}
	defer rows.Close()
	var matches []int64
	for rows.Next() {
		var rid int64
		if err := rows.Scan(&rid); err != nil {
			return 0, ferrors.Wrap(ferrors.KindDbError, err, "scan hash prefix match")
		}
		matches = append(matches, rid)
	}
	switch len(matches) {
	case 0:
		return 0, ferrors.Wrapf(ferrors.KindNotFound, nil, "no artifact matches prefix %q", prefix)
	case 1:
		return matches[0], nil
	default:
		return 0, ferrors.Wrapf(ferrors.KindAmbiguous, nil, "prefix %q matches %d artifacts", prefix, len(matches))
	}
}

// writeLockRetry is the poll interval TryLockContext uses while
// waiting for another process to release the repository write lock.
const writeLockRetry = 10 * time.Millisecond
