// Copyright 2024 The Fossil-core Authors
// This file is part of fossil-core.

// Package resolve implements C12: mapping a user-supplied name — a
// full hash, a hash prefix, a tag, a branch name, a relative keyword,
// an ISO date, or a "tag:NAME" form — to exactly one RID (§4.10).
package resolve

import (
	"context"
	"database/sql"
	"regexp"
	"strings"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/pkg/errors"

	"github.com/fossil-scm/fossil-core/internal/ferrors"
)

// Type is an optional hint narrowing which kind of artifact a name
// must resolve to.
type Type string

const (
	TypeAny    Type = ""
	TypeCheckin Type = "ci"
	TypeWiki    Type = "w"
	TypeEvent   Type = "e"
)

// PrefixSource resolves a hash or hash prefix to an RID, ambiguous on
// multiple matches; blobstore.Store satisfies this directly.
type PrefixSource interface {
	RidOfPrefix(ctx context.Context, prefix string) (int64, error)
}

// Resolver maps names to RIDs against a repository's derived tables,
// caching recent lookups since the same symbolic name (e.g. "trunk")
// is typically re-resolved many times per command.
type Resolver struct {
	db    *sql.DB
	blobs PrefixSource
	cache *lru.Cache[string, int64]
}

// New returns a Resolver backed by db (for symbolic lookups) and
// blobs (for hash/prefix lookups), with an LRU cache of cacheSize
// recent resolutions.
func New(db *sql.DB, blobs PrefixSource, cacheSize int) (*Resolver, error) {
	if cacheSize <= 0 {
		cacheSize = 256
	}
	c, err := lru.New[string, int64](cacheSize)
	if err != nil {
		return nil, errors.Wrap(err, "resolve: create lru cache")
	}
	return &Resolver{db: db, blobs: blobs, cache: c}, nil
}

var hexPattern = regexp.MustCompile(`^[0-9a-fA-F]{4,64}$`)
var isoDatePattern = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}([T ]\d{2}:\d{2}(:\d{2}(\.\d+)?)?)?$`)

// Resolve maps name to exactly one RID, consulting (in priority
// order): full hash/prefix, "tag:NAME", the keywords tip/trunk/
// current/latest, a branch name (its most recent check-in), a
// symbolic tag name, then an ISO date/timestamp (the check-in nearest
// at or before it). hint narrows symbolic lookups to one artifact
// kind; it has no effect on hash/prefix lookups. Returns
// ferrors.KindAmbiguous when two sources at equal priority both
// match, and ferrors.KindNotFound when none do.
func (r *Resolver) Resolve(ctx context.Context, name string, hint Type) (int64, error) {
	cacheKey := string(hint) + "\x00" + name
	if rid, ok := r.cache.Get(cacheKey); ok {
		return rid, nil
	}
	rid, err := r.resolveUncached(ctx, name, hint)
	if err != nil {
		return 0, err
	}
	r.cache.Add(cacheKey, rid)
	return rid, nil
}

func (r *Resolver) resolveUncached(ctx context.Context, name string, hint Type) (int64, error) {
	if hexPattern.MatchString(name) {
		return r.blobs.RidOfPrefix(ctx, name)
	}

	if tagName, ok := strings.CutPrefix(name, "tag:"); ok {
		return r.resolveTagName(ctx, tagName, hint)
	}

	switch name {
	case "tip", "latest", "current":
		return r.mostRecentCheckin(ctx, "")
	case "trunk":
		return r.mostRecentCheckin(ctx, "trunk")
	}

	if rid, err := r.resolveBranch(ctx, name); err == nil {
		return rid, nil
	} else if !ferrors.Is(err, ferrors.KindNotFound) {
		return 0, err
	}

	if rid, err := r.resolveTagName(ctx, name, hint); err == nil {
		return rid, nil
	} else if !ferrors.Is(err, ferrors.KindNotFound) {
		return 0, err
	}

	if isoDatePattern.MatchString(name) {
		return r.resolveDate(ctx, name)
	}

	return 0, ferrors.Wrapf(ferrors.KindNotFound, nil, "resolve: no artifact matches %q", name)
}

// mostRecentCheckin returns the RID of the newest check-in, optionally
// restricted to branch (empty string means any branch).
func (r *Resolver) mostRecentCheckin(ctx context.Context, branch string) (int64, error) {
	var rows *sql.Rows
	var err error
	if branch == "" {
		rows, err = r.db.QueryContext(ctx, `
			SELECT event.rid FROM event
			WHERE event.etype='ci'
			ORDER BY event.mtime DESC LIMIT 2`)
	} else {
		rows, err = r.db.QueryContext(ctx, `
			SELECT event.rid FROM event
			JOIN tagxref ON tagxref.rid = event.rid
			JOIN tag ON tag.tagid = tagxref.tagid
			WHERE event.etype='ci' AND tag.tagname='branch' AND tagxref.value=? AND tagxref.tagtype!=0
			ORDER BY event.mtime DESC LIMIT 2`, branch)
	}
	if err != nil {
		return 0, errors.Wrap(err, "resolve: query most recent check-in")
	}
	defer rows.Close()
	var rids []int64
	for rows.Next() {
		var rid int64
		if err := rows.Scan(&rid); err != nil {
			return 0, errors.Wrap(err, "resolve: scan check-in row")
		}
		rids = append(rids, rid)
	}
	if len(rids) == 0 {
		return 0, ferrors.Wrapf(ferrors.KindNotFound, nil, "resolve: no check-in found for branch %q", branch)
	}
	return rids[0], nil
}

// resolveBranch treats name as a branch name: the most recent check-in
// whose effective "branch" tag equals name.
func (r *Resolver) resolveBranch(ctx context.Context, name string) (int64, error) {
	return r.mostRecentCheckin(ctx, name)
}

// resolveTagName finds the artifact(s) a symbolic (non-propagating or
// propagating) tag currently marks, honoring hint when given.
func (r *Resolver) resolveTagName(ctx context.Context, tagName string, hint Type) (int64, error) {
	query := `
		SELECT tagxref.rid, event.etype FROM tagxref
		JOIN tag ON tag.tagid = tagxref.tagid
		LEFT JOIN event ON event.rid = tagxref.rid
		WHERE tag.tagname=? AND tagxref.tagtype!=0`
	args := []any{tagName}
	if hint != TypeAny {
		query += ` AND event.etype=?`
		args = append(args, string(hint))
	}
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return 0, errors.Wrap(err, "resolve: query tagxref by name")
	}
	defer rows.Close()
	var rids []int64
	for rows.Next() {
		var rid int64
		var etype sql.NullString
		if err := rows.Scan(&rid, &etype); err != nil {
			return 0, errors.Wrap(err, "resolve: scan tagxref row")
		}
		rids = append(rids, rid)
	}
	switch len(rids) {
	case 0:
		return 0, ferrors.Wrapf(ferrors.KindNotFound, nil, "resolve: no artifact tagged %q", tagName)
	case 1:
		return rids[0], nil
	default:
		return 0, ferrors.Wrapf(ferrors.KindAmbiguous, nil, "resolve: %d artifacts tagged %q", len(rids), tagName)
	}
}

// resolveDate finds the check-in with the greatest mtime at or before
// the given ISO date/timestamp.
func (r *Resolver) resolveDate(ctx context.Context, iso string) (int64, error) {
	mtime, err := parseISOTime(iso)
	if err != nil {
		return 0, ferrors.Wrapf(ferrors.KindNotFound, err, "resolve: invalid date %q", iso)
	}
	rows, err := r.db.QueryContext(ctx, `
		SELECT rid FROM event
		WHERE etype='ci' AND mtime <= ?
		ORDER BY mtime DESC LIMIT 2`, mtime)
	if err != nil {
		return 0, errors.Wrap(err, "resolve: query event by date")
	}
	defer rows.Close()
	var rids []int64
	for rows.Next() {
		var rid int64
		if err := rows.Scan(&rid); err != nil {
			return 0, errors.Wrap(err, "resolve: scan event row")
		}
		rids = append(rids, rid)
	}
	if len(rids) == 0 {
		return 0, ferrors.Wrapf(ferrors.KindNotFound, nil, "resolve: no check-in at or before %q", iso)
	}
	return rids[0], nil
}

func parseISOTime(s string) (int64, error) {
	layouts := []string{
		"2006-01-02T15:04:05.999999",
		"2006-01-02 15:04:05.999999",
		"2006-01-02T15:04:05",
		"2006-01-02 15:04:05",
		"2006-01-02T15:04",
		"2006-01-02 15:04",
		"2006-01-02",
	}
	var lastErr error
	for _, layout := range layouts {
		t, err := time.Parse(layout, s)
		if err == nil {
			return t.Unix(), nil
		}
		lastErr = err
	}
	return 0, lastErr
}

// Invalidate drops name from the resolution cache; callers invoke it
// after a tag/branch change that could alter what name resolves to.
func (r *Resolver) Invalidate(name string) {
	for _, hint := range []Type{TypeAny, TypeCheckin, TypeWiki, TypeEvent} {
		r.cache.Remove(string(hint) + "\x00" + name)
	}
}

// Purge clears the entire resolution cache, used after a bulk
// operation (purge, rebuild) that can invalidate many names at once.
func (r *Resolver) Purge() {
	r.cache.Purge()
}
