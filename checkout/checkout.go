// Copyright 2024 The Fossil-core Authors
// This file is part of fossil-core.

// Package checkout implements C7: the VFILE working-tree model —
// load, signature-check, materialize, revert and uncheckout (§4.6).
package checkout

import (
	"bytes"
	"context"
	"crypto/sha1"
	"database/sql"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/gofrs/flock"
	"github.com/pkg/errors"

	"github.com/fossil-scm/fossil-core/artifact"
	"github.com/fossil-scm/fossil-core/internal/ferrors"
	"github.com/fossil-scm/fossil-core/internal/fossillog"
)

// VFileRow is one row of the working-tree state table: the recorded
// check-in content for one path, and the last signature-checked
// on-disk state (§3 glossary: VFILE).
type VFileRow struct {
	CheckinRID int64
	Path       string
	OrigPath   string // non-empty if this path is a pending rename
	IsExe      bool
	IsLink     bool
	ContentRID int64
	ContentSha string
	DiskMtime  int64
	DiskSize   int64
	Changed    bool
	Deleted    bool
}

// ContentSource resolves a stored RID to its bytes, bridging to
// blobstore without checkout importing it directly (so checkout stays
// testable against a bare VFILE store).
type ContentSource interface {
	Get(ctx context.Context, rid int64) ([]byte, error)
	RidOfHash(ctx context.Context, hash string) (int64, error)
}

// Tree owns one working tree's VFILE state, backed by a local sqlite
// database file beside the tree root, and an advisory lock on it so
// only one process manipulates the tree at a time (§5).
type Tree struct {
	root    string
	db      *sql.DB
	content ContentSource
	lock    *flock.Flock
	log     fossillog.Logger
}

const vfileSchema = `
CREATE TABLE IF NOT EXISTS vfile (
	checkin_rid INTEGER NOT NULL,
	path        TEXT NOT NULL,
	orig_path   TEXT,
	is_exe      INTEGER NOT NULL DEFAULT 0,
	is_link     INTEGER NOT NULL DEFAULT 0,
	content_rid INTEGER NOT NULL DEFAULT 0,
	disk_mtime  INTEGER NOT NULL DEFAULT 0,
	disk_size   INTEGER NOT NULL DEFAULT 0,
	changed     INTEGER NOT NULL DEFAULT 0,
	deleted     INTEGER NOT NULL DEFAULT 0,
	PRIMARY KEY (path)
);
`

// Open opens (creating if needed) the working-tree state database at
// root/.fossil-checkout.db and takes its advisory lock.
func Open(ctx context.Context, root string, content ContentSource) (*Tree, error) {
	stateFile := filepath.Join(root, ".fossil-checkout.db")
	db, err := sql.Open("sqlite", stateFile)
	if err != nil {
		return nil, errors.Wrap(err, "checkout: open state db")
	}
	if _, err := db.ExecContext(ctx, vfileSchema); err != nil {
		db.Close()
		return nil, errors.Wrap(err, "checkout: create vfile schema")
	}
	l := flock.New(stateFile + ".lock")
	locked, err := l.TryLockContext(ctx, 0)
	if err != nil || !locked {
		db.Close()
		return nil, errors.Wrap(ferrors.New(ferrors.KindIoError, "working tree is locked by another process"), "checkout: open")
	}
	return &Tree{root: root, db: db, content: content, lock: l, log: fossillog.Root().With("component", "checkout")}, nil
}

// Close releases the working-tree lock and closes its state database.
func (t *Tree) Close() error {
	t.lock.Unlock()
	return t.db.Close()
}

// LoadFrom populates VFILE from checkinRID's F-cards, replacing any
// previous content (§4.6 load_from).
func (t *Tree) LoadFrom(ctx context.Context, checkinRID int64, content []byte) error {
	a, err := artifact.Parse(content)
	if err != nil {
		return errors.Wrap(err, "checkout: parse check-in artifact")
	}
	files, err := a.FileEntries()
	if err != nil {
		return err
	}

	tx, err := t.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "checkout: begin tx")
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM vfile`); err != nil {
		return errors.Wrap(err, "checkout: clear vfile")
	}
	for _, f := range files {
		if f.Hash == "" {
			continue // file deleted as of this check-in: no VFILE row
		}
		rid, err := t.content.RidOfHash(ctx, f.Hash)
		if err != nil {
			return errors.Wrapf(err, "checkout: resolve file hash %q", f.Hash)
		}
		_, err = tx.ExecContext(ctx,
			`INSERT INTO vfile(checkin_rid, path, orig_path, is_exe, is_link, content_rid) VALUES (?, ?, ?, ?, ?, ?)`,
			checkinRID, f.Path, nullIfEmpty(f.OldPath), boolInt(f.Perm == "x"), boolInt(f.Perm == "l"), rid)
		if err != nil {
			return errors.Wrap(err, "checkout: insert vfile row")
		}
	}
	return tx.Commit()
}

func nullIfEmpty(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// All returns every VFILE row, for display or iteration by callers.
func (t *Tree) All(ctx context.Context) ([]VFileRow, error) {
	rows, err := t.db.QueryContext(ctx, `SELECT checkin_rid, path, orig_path, is_exe, is_link, content_rid, disk_mtime, disk_size, changed, deleted FROM vfile`)
	if err != nil {
		return nil, errors.Wrap(err, "checkout: query vfile")
	}
	defer rows.Close()
	var out []VFileRow
	for rows.Next() {
		var r VFileRow
		var orig sql.NullString
		var isExe, isLink, changed, deleted int
		if err := rows.Scan(&r.CheckinRID, &r.Path, &orig, &isExe, &isLink, &r.ContentRID, &r.DiskMtime, &r.DiskSize, &changed, &deleted); err != nil {
			return nil, errors.Wrap(err, "checkout: scan vfile row")
		}
		r.OrigPath = orig.String
		r.IsExe = isExe != 0
		r.IsLink = isLink != 0
		r.Changed = changed != 0
		r.Deleted = deleted != 0
		out = append(out, r)
	}
	return out, nil
}

// SignatureCheck recomputes chnged for every VFILE row by comparing
// on-disk state against the recorded blob (§4.6 signature_check).
// When checkHash is true, a size match is confirmed against the
// blob's sha1 rather than trusted from mtime alone.
func (t *Tree) SignatureCheck(ctx context.Context, checkHash bool) error {
	rows, err := t.All(ctx)
	if err != nil {
		return err
	}
	for _, r := range rows {
		fullPath := filepath.Join(t.root, r.Path)
		fi, err := os.Lstat(fullPath)
		changed := false
		deleted := false
		var mtime, size int64
		if err != nil {
			if os.IsNotExist(err) {
				deleted = true
			} else {
				return errors.Wrapf(err, "checkout: stat %s", r.Path)
			}
		} else {
			mtime = fi.ModTime().Unix()
			size = fi.Size()
			sizeDiffers := size != r.DiskSize
			mtimeDiffers := mtime != r.DiskMtime
			if sizeDiffers {
				changed = true
			} else if mtimeDiffers {
				if checkHash {
					onDisk, rerr := os.ReadFile(fullPath)
					if rerr != nil {
						return errors.Wrapf(rerr, "checkout: read %s", r.Path)
					}
					want, gerr := t.content.Get(ctx, r.ContentRID)
					if gerr != nil {
						return errors.Wrapf(gerr, "checkout: load blob for %s", r.Path)
					}
					if sha1.Sum(onDisk) != sha1.Sum(want) {
						changed = true
					}
				} else {
					changed = true
				}
			}
		}
		_, err = t.db.ExecContext(ctx,
			`UPDATE vfile SET changed=?, deleted=?, disk_mtime=?, disk_size=? WHERE path=?`,
			boolInt(changed), boolInt(deleted), mtime, size, r.Path)
		if err != nil {
			return errors.Wrapf(err, "checkout: update signature for %s", r.Path)
		}
	}
	return nil
}

// MaterializeToDisk writes every managed file honoring exe/symlink
// bits. Unless force is set, it refuses to overwrite an existing file
// whose bytes differ from the content it would write there
// (§4.6 materialize_to_disk).
func (t *Tree) MaterializeToDisk(ctx context.Context, force bool) error {
	rows, err := t.All(ctx)
	if err != nil {
		return err
	}
	for _, r := range rows {
		fullPath := filepath.Join(t.root, r.Path)
		data, err := t.content.Get(ctx, r.ContentRID)
		if err != nil {
			return errors.Wrapf(err, "checkout: load content for %s", r.Path)
		}
		if !force {
			if existing, rerr := os.ReadFile(fullPath); rerr == nil && !bytes.Equal(existing, data) {
				return ferrors.Wrapf(ferrors.KindWorkingTreeDirty, nil, "refusing to overwrite unmanaged file %s", r.Path)
			}
		}
		if err := os.MkdirAll(filepath.Dir(fullPath), 0o777); err != nil {
			return errors.Wrapf(err, "checkout: mkdir for %s", r.Path)
		}
		if r.IsLink {
			if err := os.Symlink(string(data), fullPath); err != nil {
				return errors.Wrapf(err, "checkout: symlink %s", r.Path)
			}
			continue
		}
		perm := fs.FileMode(0o666)
		if r.IsExe {
			perm = 0o777
		}
		if err := os.WriteFile(fullPath, data, perm); err != nil {
			return errors.Wrapf(err, "checkout: write %s", r.Path)
		}
	}
	return nil
}

// UpdateAction classifies what UpdateTo did to one path.
type UpdateAction int

const (
	UpdateUnchanged UpdateAction = iota
	UpdateFastForward
	UpdateMerged
	UpdateAdded
	UpdateDeleted
	UpdateConflict
)

// UpdateFileResult reports the outcome for one path.
type UpdateFileResult struct {
	Path   string
	Action UpdateAction
}

// UpdateResult summarizes an UpdateTo run (update.c's nUpdate/nConflict
// counters).
type UpdateResult struct {
	Files     []UpdateFileResult
	Conflicts int
}

// UpdateTo merges the current checkout into targetRID (§4.6's sibling
// to load_from/materialize, grounded on update.c's update_to: "merge
// the changes in the current checkout into a different version and
// switch to that version"). For each path, the pivot is the blob this
// tree last loaded for it (vfile.content_rid), mine is the file as it
// sits on disk, and theirs is the target check-in's version; unlike a
// plain two-commit merge, update folds in whatever local edits are
// still sitting in the working tree. Conflicted files are written with
// conflict markers and left for the caller to resolve, matching
// update_cmd's nConflict accounting.
func (t *Tree) UpdateTo(ctx context.Context, targetRID int64, targetRaw []byte, merge func(pivot, mine, theirs []byte) ([]byte, bool, error)) (UpdateResult, error) {
	a, err := artifact.Parse(targetRaw)
	if err != nil {
		return UpdateResult{}, errors.Wrap(err, "checkout: parse target check-in")
	}
	targetFiles, err := a.FileEntries()
	if err != nil {
		return UpdateResult{}, err
	}
	targetByPath := make(map[string]artifact.FileEntry, len(targetFiles))
	for _, f := range targetFiles {
		if f.Hash == "" {
			continue // removed as of the target check-in
		}
		targetByPath[f.Path] = f
	}

	current, err := t.All(ctx)
	if err != nil {
		return UpdateResult{}, err
	}
	currentByPath := make(map[string]VFileRow, len(current))
	for _, r := range current {
		currentByPath[r.Path] = r
	}

	tx, err := t.db.BeginTx(ctx, nil)
	if err != nil {
		return UpdateResult{}, errors.Wrap(err, "checkout: begin tx")
	}
	defer tx.Rollback()

	var result UpdateResult
	for path, tf := range targetByPath {
		fullPath := filepath.Join(t.root, path)
		targetContentRID, err := t.content.RidOfHash(ctx, tf.Hash)
		if err != nil {
			return UpdateResult{}, errors.Wrapf(err, "checkout: resolve target hash for %s", path)
		}

		cur, existed := currentByPath[path]
		if !existed {
			theirs, err := t.content.Get(ctx, targetContentRID)
			if err != nil {
				return UpdateResult{}, errors.Wrapf(err, "checkout: load target content for %s", path)
			}
			if err := writeManaged(fullPath, theirs, tf.Perm); err != nil {
				return UpdateResult{}, err
			}
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO vfile(checkin_rid, path, is_exe, is_link, content_rid) VALUES (?, ?, ?, ?, ?)`,
				targetRID, path, boolInt(tf.Perm == "x"), boolInt(tf.Perm == "l"), targetContentRID); err != nil {
				return UpdateResult{}, errors.Wrapf(err, "checkout: insert vfile row for %s", path)
			}
			result.Files = append(result.Files, UpdateFileResult{Path: path, Action: UpdateAdded})
			continue
		}

		if targetContentRID == cur.ContentRID {
			if _, err := tx.ExecContext(ctx, `UPDATE vfile SET checkin_rid=? WHERE path=?`, targetRID, path); err != nil {
				return UpdateResult{}, errors.Wrapf(err, "checkout: retarget vfile row for %s", path)
			}
			result.Files = append(result.Files, UpdateFileResult{Path: path, Action: UpdateUnchanged})
			continue
		}

		onDisk, rerr := os.ReadFile(fullPath)
		if rerr != nil {
			return UpdateResult{}, errors.Wrapf(rerr, "checkout: read %s", path)
		}
		pivot, err := t.content.Get(ctx, cur.ContentRID)
		if err != nil {
			return UpdateResult{}, errors.Wrapf(err, "checkout: load pivot content for %s", path)
		}
		theirs, err := t.content.Get(ctx, targetContentRID)
		if err != nil {
			return UpdateResult{}, errors.Wrapf(err, "checkout: load target content for %s", path)
		}

		action := UpdateFastForward
		out := theirs
		if !bytes.Equal(onDisk, pivot) {
			if bytes.Equal(onDisk, theirs) {
				action = UpdateUnchanged
				out = onDisk
			} else {
				merged, conflicted, merr := merge(pivot, onDisk, theirs)
				if merr != nil {
					return UpdateResult{}, errors.Wrapf(merr, "checkout: merge %s", path)
				}
				out = merged
				if conflicted {
					action = UpdateConflict
					result.Conflicts++
				} else {
					action = UpdateMerged
				}
			}
		}

		if err := writeManaged(fullPath, out, tf.Perm); err != nil {
			return UpdateResult{}, err
		}
		changed := boolInt(action == UpdateConflict || action == UpdateMerged)
		if _, err := tx.ExecContext(ctx,
			`UPDATE vfile SET checkin_rid=?, content_rid=?, is_exe=?, is_link=?, changed=? WHERE path=?`,
			targetRID, targetContentRID, boolInt(tf.Perm == "x"), boolInt(tf.Perm == "l"), changed, path); err != nil {
			return UpdateResult{}, errors.Wrapf(err, "checkout: update vfile row for %s", path)
		}
		result.Files = append(result.Files, UpdateFileResult{Path: path, Action: action})
	}

	for path, cur := range currentByPath {
		if _, stillWanted := targetByPath[path]; stillWanted {
			continue
		}
		fullPath := filepath.Join(t.root, path)
		onDisk, rerr := os.ReadFile(fullPath)
		locallyEdited := rerr == nil
		if locallyEdited {
			pivot, err := t.content.Get(ctx, cur.ContentRID)
			if err != nil {
				return UpdateResult{}, errors.Wrapf(err, "checkout: load pivot content for %s", path)
			}
			locallyEdited = !bytes.Equal(onDisk, pivot)
		}
		if locallyEdited {
			result.Conflicts++
			result.Files = append(result.Files, UpdateFileResult{Path: path, Action: UpdateConflict})
			continue
		}
		if err := os.Remove(fullPath); err != nil && !os.IsNotExist(err) {
			return UpdateResult{}, errors.Wrapf(err, "checkout: remove %s", path)
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM vfile WHERE path=?`, path); err != nil {
			return UpdateResult{}, errors.Wrapf(err, "checkout: delete vfile row for %s", path)
		}
		result.Files = append(result.Files, UpdateFileResult{Path: path, Action: UpdateDeleted})
	}

	if err := tx.Commit(); err != nil {
		return UpdateResult{}, errors.Wrap(err, "checkout: commit update")
	}
	return result, nil
}

func writeManaged(fullPath string, data []byte, perm string) error {
	if err := os.MkdirAll(filepath.Dir(fullPath), 0o777); err != nil {
		return errors.Wrapf(err, "checkout: mkdir for %s", fullPath)
	}
	if perm == "l" {
		if err := os.Remove(fullPath); err != nil && !os.IsNotExist(err) {
			return errors.Wrapf(err, "checkout: remove old symlink %s", fullPath)
		}
		if err := os.Symlink(string(data), fullPath); err != nil {
			return errors.Wrapf(err, "checkout: symlink %s", fullPath)
		}
		return nil
	}
	mode := fs.FileMode(0o666)
	if perm == "x" {
		mode = 0o777
	}
	if err := os.WriteFile(fullPath, data, mode); err != nil {
		return errors.Wrapf(err, "checkout: write %s", fullPath)
	}
	return nil
}

func (t *Tree) isTracked(ctx context.Context, path string) (bool, error) {
	var one int
	err := t.db.QueryRowContext(ctx, `SELECT 1 FROM vfile WHERE path=?`, path).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, errors.Wrap(err, "checkout: query tracked path")
	}
	return true, nil
}

// Revert overwrites the on-disk files named in paths with their
// recorded blob contents and clears chnged (§4.6 revert). An empty
// paths list reverts every tracked file.
func (t *Tree) Revert(ctx context.Context, paths ...string) error {
	rows, err := t.All(ctx)
	if err != nil {
		return err
	}
	want := make(map[string]bool, len(paths))
	for _, p := range paths {
		want[p] = true
	}
	for _, r := range rows {
		if len(want) > 0 && !want[r.Path] {
			continue
		}
		fullPath := filepath.Join(t.root, r.Path)
		data, err := t.content.Get(ctx, r.ContentRID)
		if err != nil {
			return errors.Wrapf(err, "checkout: load content for %s", r.Path)
		}
		perm := fs.FileMode(0o666)
		if r.IsExe {
			perm = 0o777
		}
		if err := os.WriteFile(fullPath, data, perm); err != nil {
			return errors.Wrapf(err, "checkout: write %s", r.Path)
		}
		if _, err := t.db.ExecContext(ctx, `UPDATE vfile SET changed=0 WHERE path=?`, r.Path); err != nil {
			return errors.Wrapf(err, "checkout: clear changed for %s", r.Path)
		}
	}
	return nil
}

// Uncheckout deletes every file named in VFILE from disk, removes
// resulting empty directories (except root and any name in
// preserveDirs), and clears VFILE (§4.6 uncheckout).
func (t *Tree) Uncheckout(ctx context.Context, preserveDirs map[string]bool) error {
	rows, err := t.All(ctx)
	if err != nil {
		return err
	}
	dirs := make(map[string]bool)
	for _, r := range rows {
		fullPath := filepath.Join(t.root, r.Path)
		if err := os.Remove(fullPath); err != nil && !os.IsNotExist(err) {
			return errors.Wrapf(err, "checkout: remove %s", r.Path)
		}
		dirs[filepath.Dir(fullPath)] = true
	}
	for dir := range dirs {
		t.removeEmptyDirUpward(dir, preserveDirs)
	}
	if _, err := t.db.ExecContext(ctx, `DELETE FROM vfile`); err != nil {
		return errors.Wrap(err, "checkout: clear vfile")
	}
	return nil
}

func (t *Tree) removeEmptyDirUpward(dir string, preserveDirs map[string]bool) {
	for dir != t.root && dir != "." && dir != string(filepath.Separator) {
		if preserveDirs[filepath.Base(dir)] {
			return
		}
		entries, err := os.ReadDir(dir)
		if err != nil || len(entries) > 0 {
			return
		}
		if os.Remove(dir) != nil {
			return
		}
		dir = filepath.Dir(dir)
	}
}
