// Copyright 2024 The Fossil-core Authors
// This file is part of fossil-core.

package crosslink

import (
	"context"
	"database/sql"
	"time"

	"github.com/pkg/errors"

	"github.com/fossil-scm/fossil-core/artifact"
	"github.com/fossil-scm/fossil-core/fossilhash"
	"github.com/fossil-scm/fossil-core/internal/ferrors"
	"github.com/fossil-scm/fossil-core/internal/fossillog"
)

// Indexer populates the derived tables from parsed artifacts. It shares
// the blob store's *sql.DB so crosslink and inserts participate in the
// same transactions as the blob that triggered them.
type Indexer struct {
	db  *sql.DB
	log fossillog.Logger
}

// Open creates the derived schema (if absent) and returns an Indexer
// bound to db.
func Open(ctx context.Context, db *sql.DB) (*Indexer, error) {
	if _, err := db.ExecContext(ctx, derivedSchema); err != nil {
		return nil, errors.Wrap(err, "crosslink: create derived schema")
	}
	return &Indexer{db: db, log: fossillog.Root().With("component", "crosslink")}, nil
}

// CrosslinkOne parses rid's content as a structured artifact and
// updates every derived table it feeds, in a single transaction. It is
// safe to call more than once for the same rid: existing rows for rid
// are cleared first, so a rebuild is idempotent (§4.4).
func (ix *Indexer) CrosslinkOne(ctx context.Context, rid int64, hash fossilhash.Hash, content []byte) error {
	a, err := artifact.Parse(content)
	if err != nil {
		// Not every blob is a structured artifact; plain file blobs are
		// not crosslinked and that is not an error.
		return nil
	}

	tx, err := ix.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "crosslink: begin tx")
	}
	defer tx.Rollback()

	if err := clearRid(ctx, tx, rid); err != nil {
		return err
	}

	switch a.Classify() {
	case artifact.TypeCheckin:
		if err := ix.indexCheckin(ctx, tx, rid, hash, a); err != nil {
			return err
		}
	case artifact.TypeControl:
		if err := ix.indexControl(ctx, tx, rid, hash, a); err != nil {
			return err
		}
	case artifact.TypeWiki:
		if err := ix.indexWiki(ctx, tx, rid, hash, a); err != nil {
			return err
		}
	case artifact.TypeEvent:
		if err := ix.indexEvent(ctx, tx, rid, hash, a); err != nil {
			return err
		}
	case artifact.TypeAttachment:
		if err := ix.indexAttachment(ctx, tx, rid, hash, a); err != nil {
			return err
		}
	case artifact.TypeTicket:
		if err := ix.indexTicketChange(ctx, tx, rid, hash, a); err != nil {
			return err
		}
	case artifact.TypeCluster:
		// Clusters only ever affect sync bookkeeping (§8), handled by
		// the syncplan package; nothing to crosslink here.
	default:
		ix.log.Debug("unclassified artifact, skipping crosslink", "rid", rid)
	}

	return tx.Commit()
}

func clearRid(ctx context.Context, tx *sql.Tx, rid int64) error {
	stmts := []string{
		"DELETE FROM event WHERE rid=?",
		"DELETE FROM mlink WHERE mid=?",
		"DELETE FROM plink WHERE cid=?",
		"DELETE FROM tagxref WHERE rid=?",
		"DELETE FROM attachment WHERE rid=?",
		"DELETE FROM ticketchng WHERE rid=?",
		"DELETE FROM backlink WHERE rid=?",
	}
	for _, s := range stmts {
		if _, err := tx.ExecContext(ctx, s, rid); err != nil {
			return errors.Wrapf(err, "crosslink: clear rid %d", rid)
		}
	}
	return nil
}

func (ix *Indexer) fnidOf(ctx context.Context, tx *sql.Tx, name string) (int64, error) {
	var fnid int64
	err := tx.QueryRowContext(ctx, `SELECT fnid FROM filename WHERE name=?`, name).Scan(&fnid)
	if err == nil {
		return fnid, nil
	}
	if err != sql.ErrNoRows {
		return 0, errors.Wrap(err, "crosslink: lookup filename")
	}
	res, err := tx.ExecContext(ctx, `INSERT INTO filename(name) VALUES (?)`, name)
	if err != nil {
		return 0, errors.Wrap(err, "crosslink: insert filename")
	}
	return res.LastInsertId()
}

func (ix *Indexer) indexCheckin(ctx context.Context, tx *sql.Tx, rid int64, hash fossilhash.Hash, a *artifact.Artifact) error {
	date, err := a.Date()
	if err != nil {
		return err
	}
	user, _ := a.User()
	comment, _ := a.Comment()

	_, err = tx.ExecContext(ctx,
		`INSERT INTO event(rid, etype, mtime, user, comment, objid) VALUES (?, 'ci', ?, ?, ?, ?)`,
		rid, date.Unix(), user, comment, hash.Hex())
	if err != nil {
		return errors.Wrap(err, "crosslink: insert checkin event")
	}

	parents := a.ParentHashes()
	for i, p := range parents {
		ph, err := fossilhash.ParseHex(p)
		if err != nil {
			return errors.Wrapf(err, "crosslink: bad parent hash %q", p)
		}
		pid, err := ix.ridOfHash(ctx, tx, ph)
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT OR REPLACE INTO plink(cid, pid, isprim, mtime) VALUES (?, ?, ?, ?)`,
			rid, pid, boolInt(i == 0), date.Unix()); err != nil {
			return errors.Wrap(err, "crosslink: insert plink")
		}
	}

	files, err := a.FileEntries()
	if err != nil {
		return err
	}
	for _, f := range files {
		fnid, err := ix.fnidOf(ctx, tx, f.Path)
		if err != nil {
			return err
		}
		var fid int64
		if f.Hash != "" {
			h, err := fossilhash.ParseHex(f.Hash)
			if err != nil {
				return errors.Wrapf(err, "crosslink: bad file hash %q", f.Hash)
			}
			fid, err = ix.ridOfHash(ctx, tx, h)
			if err != nil {
				return err
			}
		}
		var pfnid int64
		if f.OldPath != "" {
			pfnid, err = ix.fnidOf(ctx, tx, f.OldPath)
			if err != nil {
				return err
			}
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO mlink(mid, fnid, fid, perm, pfnid) VALUES (?, ?, ?, ?, ?)`,
			rid, fnid, fid, f.Perm, pfnid); err != nil {
			return errors.Wrap(err, "crosslink: insert mlink")
		}
	}

	tags, err := a.Tags()
	if err != nil {
		return err
	}
	for _, t := range tags {
		if err := ix.applyTagXref(ctx, tx, rid, t, date); err != nil {
			return err
		}
	}

	return nil
}

func (ix *Indexer) indexControl(ctx context.Context, tx *sql.Tx, rid int64, hash fossilhash.Hash, a *artifact.Artifact) error {
	date, err := a.Date()
	if err != nil {
		return err
	}
	tags, err := a.Tags()
	if err != nil {
		return err
	}
	for _, t := range tags {
		if err := ix.applyTagXref(ctx, tx, rid, t, date); err != nil {
			return err
		}
	}
	return nil
}

// applyTagXref records the immediate (non-propagated) effect of a tag
// operation at its origin artifact. Full propagation over the DAG is
// tagengine's job (C6); crosslink only lays down the origin row.
func (ix *Indexer) applyTagXref(ctx context.Context, tx *sql.Tx, srcid int64, t artifact.TagSpec, date time.Time) error {
	mtime := date.Unix()
	tagid, err := ix.tagidOf(ctx, tx, t.Name)
	if err != nil {
		return err
	}
	target, err := fossilhash.ParseHex(t.Target)
	if err != nil {
		return errors.Wrapf(err, "crosslink: bad tag target %q", t.Target)
	}
	targetRid, err := ix.ridOfHash(ctx, tx, target)
	if err != nil {
		return err
	}
	_, err = tx.ExecContext(ctx,
		`INSERT OR REPLACE INTO tagxref(tagid, rid, tagtype, srcid, origid, value, mtime) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		tagid, targetRid, int(t.Kind), srcid, targetRid, t.Value, mtime)
	return errors.Wrap(err, "crosslink: insert tagxref")
}

func (ix *Indexer) tagidOf(ctx context.Context, tx *sql.Tx, name string) (int64, error) {
	var id int64
	err := tx.QueryRowContext(ctx, `SELECT tagid FROM tag WHERE tagname=?`, name).Scan(&id)
	if err == nil {
		return id, nil
	}
	if err != sql.ErrNoRows {
		return 0, errors.Wrap(err, "crosslink: lookup tag")
	}
	res, err := tx.ExecContext(ctx, `INSERT INTO tag(tagname) VALUES (?)`, name)
	if err != nil {
		return 0, errors.Wrap(err, "crosslink: insert tag")
	}
	return res.LastInsertId()
}

func (ix *Indexer) ridOfHash(ctx context.Context, tx *sql.Tx, h fossilhash.Hash) (int64, error) {
	var rid int64
	err := tx.QueryRowContext(ctx, `SELECT rid FROM blob WHERE uuid=?`, h.Hex()).Scan(&rid)
	if err == sql.ErrNoRows {
		// Referenced content not yet received: register a phantom rid
		// so the cross-reference has something stable to point at.
		res, err := tx.ExecContext(ctx, `INSERT INTO blob(uuid, algo, size, content) VALUES (?, ?, 0, NULL)`, h.Hex(), int(h.Algo))
		if err != nil {
			return 0, errors.Wrap(err, "crosslink: insert phantom rid")
		}
		return res.LastInsertId()
	}
	if err != nil {
		return 0, errors.Wrap(err, "crosslink: lookup rid")
	}
	return rid, nil
}

func (ix *Indexer) indexWiki(ctx context.Context, tx *sql.Tx, rid int64, hash fossilhash.Hash, a *artifact.Artifact) error {
	date, err := a.Date()
	if err != nil {
		return err
	}
	title, _ := a.WikiTitle()
	user, _ := a.User()
	_, err = tx.ExecContext(ctx, `INSERT OR REPLACE INTO wiki_page(name, mtime) VALUES (?, ?)`, title, date.Unix())
	if err != nil {
		return errors.Wrap(err, "crosslink: insert wiki_page")
	}
	_, err = tx.ExecContext(ctx,
		`INSERT INTO event(rid, etype, mtime, user, comment, objid) VALUES (?, 'w', ?, ?, ?, ?)`,
		rid, date.Unix(), user, title, hash.Hex())
	return errors.Wrap(err, "crosslink: insert wiki event")
}

func (ix *Indexer) indexEvent(ctx context.Context, tx *sql.Tx, rid int64, hash fossilhash.Hash, a *artifact.Artifact) error {
	date, err := a.Date()
	if err != nil {
		return err
	}
	_, techNoteID, err := a.EventInfo()
	if err != nil {
		return err
	}
	user, _ := a.User()
	_, err = tx.ExecContext(ctx,
		`INSERT INTO event(rid, etype, mtime, user, objid) VALUES (?, 'e', ?, ?, ?)`,
		rid, date.Unix(), user, techNoteID)
	return errors.Wrap(err, "crosslink: insert tech-note event")
}

func (ix *Indexer) indexAttachment(ctx context.Context, tx *sql.Tx, rid int64, hash fossilhash.Hash, a *artifact.Artifact) error {
	date, err := a.Date()
	if err != nil {
		return err
	}
	filename, target, ahash, err := a.AttachmentInfo()
	if err != nil {
		return err
	}
	_, err = tx.ExecContext(ctx,
		`INSERT INTO attachment(rid, filename, target, hash, mtime) VALUES (?, ?, ?, ?, ?)`,
		rid, filename, target, ahash, date.Unix())
	if err != nil {
		return errors.Wrap(err, "crosslink: insert attachment")
	}
	// The A-card's target names the ticket, wiki page or check-in this
	// attachment belongs to (attach.c attach_commit); record it as a
	// backlink so a lookup on the target can find everything attached to it.
	_, err = tx.ExecContext(ctx,
		`INSERT OR IGNORE INTO backlink(rid, target) VALUES (?, ?)`,
		rid, target)
	return errors.Wrap(err, "crosslink: insert backlink")
}

func (ix *Indexer) indexTicketChange(ctx context.Context, tx *sql.Tx, rid int64, hash fossilhash.Hash, a *artifact.Artifact) error {
	date, err := a.Date()
	if err != nil {
		return err
	}
	uuid, ok := a.TicketUUID()
	if !ok {
		return ferrors.New(ferrors.KindGrammarError, "ticket-change artifact has no K-card")
	}
	_, err = tx.ExecContext(ctx,
		`INSERT INTO ticketchng(rid, tkt_uuid, tkt_mtime) VALUES (?, ?, ?)`,
		rid, uuid, date.Unix())
	if err != nil {
		return errors.Wrap(err, "crosslink: insert ticketchng")
	}
	_, err = tx.ExecContext(ctx,
		`INSERT INTO ticket(tkt_uuid, tkt_mtime) VALUES (?, ?)
		 ON CONFLICT(tkt_uuid) DO UPDATE SET tkt_mtime=excluded.tkt_mtime WHERE excluded.tkt_mtime > ticket.tkt_mtime`,
		uuid, date.Unix())
	return errors.Wrap(err, "crosslink: upsert ticket")
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
