// Copyright 2024 The Fossil-core Authors
// This file is part of fossil-core.

// Package syncplan implements C10: deciding which artifacts to push or
// pull and batching them into cluster artifacts, without driving the
// wire exchange itself (§4.9, which is explicitly surface-level).
package syncplan

import (
	"context"
	"database/sql"

	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"

	"github.com/fossil-scm/fossil-core/artifact"
	"github.com/fossil-scm/fossil-core/blobstore"
	"github.com/fossil-scm/fossil-core/crosslink"
	"github.com/fossil-scm/fossil-core/fossilhash"
	"github.com/fossil-scm/fossil-core/internal/fossillog"
)

// Store is the subset of blobstore.Store syncplan needs.
type Store interface {
	DB() *sql.DB
	Get(ctx context.Context, rid int64) ([]byte, error)
	Put(ctx context.Context, raw []byte, algo fossilhash.Algo, opts blobstore.PutOptions) (int64, fossilhash.Hash, error)
	IsShunned(ctx context.Context, h fossilhash.Hash) (bool, error)
	IsPrivate(ctx context.Context, rid int64) (bool, error)
	Policy() fossilhash.Policy
}

// Planner tracks unsent/unclustered RIDs and decides push/pull
// eligibility under the active hash policy.
type Planner struct {
	store Store
	index *crosslink.Indexer
	log   fossillog.Logger
}

func New(store Store, index *crosslink.Indexer) *Planner {
	return &Planner{store: store, index: index, log: fossillog.Root().With("component", "syncplan")}
}

// PendingPush returns every RID eligible to offer to a peer: locally
// new (unsent) and not private (§4.9 push policy).
func (p *Planner) PendingPush(ctx context.Context) ([]int64, error) {
	rows, err := p.store.DB().QueryContext(ctx, `
		SELECT unsent.rid FROM unsent
		LEFT JOIN private ON private.rid = unsent.rid
		WHERE private.rid IS NULL`)
	if err != nil {
		return nil, errors.Wrap(err, "syncplan: query pending push")
	}
	defer rows.Close()
	var out []int64
	for rows.Next() {
		var rid int64
		if err := rows.Scan(&rid); err != nil {
			return nil, errors.Wrap(err, "syncplan: scan pending push row")
		}
		out = append(out, rid)
	}
	return out, nil
}

// AcceptsPull reports whether an incoming hash may be accepted: not
// shunned, and its algorithm matches the active policy (§4.9 pull
// policy).
func (p *Planner) AcceptsPull(ctx context.Context, h fossilhash.Hash) (bool, error) {
	if !p.store.Policy().Allows(h.Algo) {
		return false, nil
	}
	shunned, err := p.store.IsShunned(ctx, h)
	if err != nil {
		return false, err
	}
	return !shunned, nil
}

// ClusterBatch groups up to batchSize unclustered RIDs into one
// cluster artifact (M-cards), to avoid quadratic peer handshakes
// (§4.9 "When offering").
func (p *Planner) ClusterBatch(ctx context.Context, batchSize int) ([]byte, []int64, error) {
	rows, err := p.store.DB().QueryContext(ctx, `
		SELECT unclustered.rid, blob.uuid FROM unclustered
		JOIN blob ON blob.rid = unclustered.rid
		LIMIT ?`, batchSize)
	if err != nil {
		return nil, nil, errors.Wrap(err, "syncplan: query unclustered")
	}
	defer rows.Close()
	var rids []int64
	var hashes []string
	for rows.Next() {
		var rid int64
		var uuid string
		if err := rows.Scan(&rid, &uuid); err != nil {
			return nil, nil, errors.Wrap(err, "syncplan: scan unclustered row")
		}
		rids = append(rids, rid)
		hashes = append(hashes, uuid)
	}
	if len(rids) == 0 {
		return nil, nil, nil
	}
	return artifact.NewClusterArtifact(hashes), rids, nil
}

// MarkClustered removes rids from the unclustered set after a cluster
// artifact referencing them has been stored.
func (p *Planner) MarkClustered(ctx context.Context, rids []int64) error {
	tx, err := p.store.DB().BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "syncplan: begin tx")
	}
	defer tx.Rollback()
	for _, rid := range rids {
		if _, err := tx.ExecContext(ctx, `DELETE FROM unclustered WHERE rid=?`, rid); err != nil {
			return errors.Wrap(err, "syncplan: clear unclustered")
		}
	}
	return tx.Commit()
}

// MarkSent removes rids from the unsent set once offered to a peer.
func (p *Planner) MarkSent(ctx context.Context, rids []int64) error {
	tx, err := p.store.DB().BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "syncplan: begin tx")
	}
	defer tx.Rollback()
	for _, rid := range rids {
		if _, err := tx.ExecContext(ctx, `DELETE FROM unsent WHERE rid=?`, rid); err != nil {
			return errors.Wrap(err, "syncplan: clear unsent")
		}
	}
	return tx.Commit()
}

// ReceivedArtifact is one item pulled from a peer in a sync round.
type ReceivedArtifact struct {
	Hash    fossilhash.Hash
	Content []byte
}

// ApplyBatch stores every accepted artifact of a round and runs
// crosslink on each structured one (its first card a capital grammar
// letter), resolving phantoms by matching hash (§4.9 "After a batch
// arrives"). It fans the per-artifact policy check and Put out with a
// bounded errgroup, matching the teacher's use of golang.org/x/sync
// for bounded concurrent fan-out, then crosslinks the stored artifacts
// one by one; it is cancellable via ctx between items (§4.9
// "Cancellation").
func (p *Planner) ApplyBatch(ctx context.Context, batch []ReceivedArtifact) (stored []int64, err error) {
	type putResult struct {
		rid  int64
		hash fossilhash.Hash
		body []byte
	}
	results := make([]putResult, len(batch))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(8)
	for i, item := range batch {
		i, item := i, item
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			ok, aerr := p.AcceptsPull(gctx, item.Hash)
			if aerr != nil {
				return aerr
			}
			if !ok {
				return nil
			}
			rid, h, perr := p.store.Put(gctx, item.Content, item.Hash.Algo, blobstore.PutOptions{})
			if perr != nil {
				return perr
			}
			results[i] = putResult{rid: rid, hash: h, body: item.Content}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, errors.Wrap(err, "syncplan: apply batch")
	}

	for _, r := range results {
		if r.rid == 0 {
			continue
		}
		stored = append(stored, r.rid)
		if looksLikeArtifact(r.body) {
			if err := p.index.CrosslinkOne(ctx, r.rid, r.hash, r.body); err != nil {
				return stored, errors.Wrapf(err, "syncplan: crosslink received rid %d", r.rid)
			}
		}
	}
	return stored, nil
}

// looksLikeArtifact reports whether the first card's letter is a
// capital letter from the grammar, the detection rule §4.9 specifies
// for distinguishing structured artifacts from plain file blobs.
func looksLikeArtifact(content []byte) bool {
	if len(content) == 0 {
		return false
	}
	return content[0] >= 'A' && content[0] <= 'Z'
}
