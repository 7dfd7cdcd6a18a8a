// Copyright 2024 The Fossil-core Authors
// This file is part of fossil-core.

// Package repo wires the component packages (blobstore, crosslink,
// tagengine, checkout, merge, purge, syncplan, hookrun, resolve) into
// one repository handle, replacing the global mutable state of the
// original program with an explicit, per-call context carrying a
// cancellation token and transaction scope (§9 "Global mutable
// state").
package repo

import (
	"context"

	"github.com/pkg/errors"

	"github.com/fossil-scm/fossil-core/blobstore"
	"github.com/fossil-scm/fossil-core/checkout"
	"github.com/fossil-scm/fossil-core/crosslink"
	"github.com/fossil-scm/fossil-core/fossilhash"
	"github.com/fossil-scm/fossil-core/hookrun"
	"github.com/fossil-scm/fossil-core/internal/fossillog"
	"github.com/fossil-scm/fossil-core/merge"
	"github.com/fossil-scm/fossil-core/purge"
	"github.com/fossil-scm/fossil-core/resolve"
	"github.com/fossil-scm/fossil-core/syncplan"
	"github.com/fossil-scm/fossil-core/tagengine"
)

// Repo is the constructed-at-open, dropped-at-close handle a command
// is given; it owns every subsystem's lifetime.
type Repo struct {
	Blobs            *blobstore.Store
	Index            *crosslink.Indexer
	Tags             *tagengine.Engine
	Purge            *purge.Engine
	Sync             *syncplan.Planner
	Resolve          *resolve.Resolver
	Hooks            *hookrun.Runner
	ResolveCacheSize int

	log fossillog.Logger
}

// Options configures Open; all fields have workable zero values.
type Options struct {
	Policy           fossilhash.Policy
	Hooks            []hookrun.Hook
	ResolveCacheSize int
}

// Open creates or attaches to a repository file at path and returns a
// fully wired handle. Every subsystem shares the same underlying
// *sql.DB so readers see one consistent snapshot per transaction and
// the blob store's file lock serializes writers (§5 "Scheduling
// model").
func Open(ctx context.Context, path string, opts Options) (*Repo, error) {
	blobs, err := blobstore.Open(path, opts.Policy)
	if err != nil {
		return nil, errors.Wrap(err, "repo: open blob store")
	}

	index, err := crosslink.Open(ctx, blobs.DB())
	if err != nil {
		blobs.Close()
		return nil, errors.Wrap(err, "repo: open crosslink indexer")
	}

	tags := tagengine.New(blobs.DB())

	purgeEngine, err := purge.Open(ctx, blobs)
	if err != nil {
		blobs.Close()
		return nil, errors.Wrap(err, "repo: open purge engine")
	}

	sync := syncplan.New(blobs, index)

	cacheSize := opts.ResolveCacheSize
	if cacheSize <= 0 {
		cacheSize = 512
	}
	resolver, err := resolve.New(blobs.DB(), blobs, cacheSize)
	if err != nil {
		blobs.Close()
		return nil, errors.Wrap(err, "repo: open name resolver")
	}

	return &Repo{
		Blobs:            blobs,
		Index:            index,
		Tags:             tags,
		Purge:            purgeEngine,
		Sync:             sync,
		Resolve:          resolver,
		Hooks:            hookrun.New(opts.Hooks),
		ResolveCacheSize: cacheSize,
		log:              fossillog.Root().With("component", "repo"),
	}, nil
}

// Close releases the underlying database file.
func (r *Repo) Close() error {
	return r.Blobs.Close()
}

// checkoutContentSource adapts *blobstore.Store to checkout.ContentSource:
// the working-tree engine resolves unmodified content by full hex hash,
// while the blob store's public lookup takes a prefix — a full hash is
// itself a valid (unambiguous) prefix, so the adapter is a direct pass-through.
type checkoutContentSource struct {
	blobs *blobstore.Store
}

func (c checkoutContentSource) Get(ctx context.Context, rid int64) ([]byte, error) {
	return c.blobs.Get(ctx, rid)
}

func (c checkoutContentSource) RidOfHash(ctx context.Context, hash string) (int64, error) {
	return c.blobs.RidOfPrefix(ctx, hash)
}

// OpenCheckout opens the working tree rooted at dir against this
// repository's content.
func (r *Repo) OpenCheckout(ctx context.Context, dir string) (*checkout.Tree, error) {
	tree, err := checkout.Open(ctx, dir, checkoutContentSource{blobs: r.Blobs})
	if err != nil {
		return nil, errors.Wrap(err, "repo: open checkout")
	}
	return tree, nil
}

// Record is one artifact to add, in priority order: ingest (C4 parse →
// C2 put), crosslink (C5), tag propagation of any tags it declares
// (C6), then an after-receive hook run (C11) — the pipeline the
// overview's control-flow line (b) names.
func (r *Repo) Record(ctx context.Context, raw []byte, algo fossilhash.Algo, opts blobstore.PutOptions) (rid int64, h fossilhash.Hash, err error) {
	rid, h, err = r.Blobs.Put(ctx, raw, algo, opts)
	if err != nil {
		return 0, fossilhash.Hash{}, errors.Wrap(err, "repo: put artifact")
	}
	if rid == 0 {
		// Shunned: silently discarded by policy (§4.2).
		return 0, h, nil
	}

	if !looksLikeArtifact(raw) {
		return rid, h, nil
	}

	if err := r.Index.CrosslinkOne(ctx, rid, h, raw); err != nil {
		return rid, h, errors.Wrap(err, "repo: crosslink new artifact")
	}

	tagNames, err := r.declaredTagNames(ctx, rid)
	if err != nil {
		return rid, h, err
	}
	for _, name := range tagNames {
		if err := r.Tags.Propagate(ctx, name); err != nil {
			return rid, h, errors.Wrapf(err, "repo: propagate tag %q", name)
		}
		r.Resolve.Invalidate(name)
	}

	if err := r.Hooks.Run(ctx, hookrun.EventAfterReceive, []hookrun.Digest{{Hash: h, Rids: []int64{rid}}}); err != nil {
		return rid, h, errors.Wrap(err, "repo: after-receive hook")
	}

	return rid, h, nil
}

func (r *Repo) declaredTagNames(ctx context.Context, rid int64) ([]string, error) {
	rows, err := r.Blobs.DB().QueryContext(ctx, `
		SELECT tag.tagname FROM tagxref
		JOIN tag ON tag.tagid = tagxref.tagid
		WHERE tagxref.srcid = ?`, rid)
	if err != nil {
		return nil, errors.Wrap(err, "repo: query declared tags")
	}
	defer rows.Close()
	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, errors.Wrap(err, "repo: scan tag name")
		}
		names = append(names, name)
	}
	return names, nil
}

// UpdateTo resolves name to a check-in and merges tree's working copy
// into it, folding in any local edits (update.c's update_cmd, §4.6).
// It does not touch the tree's "current check-in" bookkeeping beyond
// what checkout.Tree.UpdateTo records in VFILE; callers that track a
// separate "checked out version" pointer update it themselves.
func (r *Repo) UpdateTo(ctx context.Context, tree *checkout.Tree, name string) (checkout.UpdateResult, int64, error) {
	targetRid, err := r.Resolve.Resolve(ctx, name, resolve.TypeCheckin)
	if err != nil {
		return checkout.UpdateResult{}, 0, errors.Wrapf(err, "repo: resolve update target %q", name)
	}
	targetRaw, err := r.Blobs.Get(ctx, targetRid)
	if err != nil {
		return checkout.UpdateResult{}, 0, errors.Wrap(err, "repo: load target check-in content")
	}
	result, err := tree.UpdateTo(ctx, targetRid, targetRaw, threeWayMerge)
	if err != nil {
		return checkout.UpdateResult{}, 0, errors.Wrap(err, "repo: update checkout")
	}
	return result, targetRid, nil
}

func threeWayMerge(pivot, mine, theirs []byte) ([]byte, bool, error) {
	res, err := merge.Merge(pivot, mine, theirs)
	if err != nil {
		return nil, false, err
	}
	if res.Conflicts < 0 {
		// Binary content: update.c keeps "mine" and reports a conflict
		// rather than attempting a textual merge.
		return mine, true, nil
	}
	return res.Output, res.Conflicts > 0, nil
}

func looksLikeArtifact(content []byte) bool {
	if len(content) == 0 {
		return false
	}
	return content[0] >= 'A' && content[0] <= 'Z'
}
