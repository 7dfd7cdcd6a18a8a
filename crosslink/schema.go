// Copyright 2024 The Fossil-core Authors
// This file is part of fossil-core.
//
// fossil-core is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

// Package crosslink implements C5: populating the derived relational
// tables (event, mlink, plink, tag, tagxref, ticket, ...) from parsed
// structured artifacts (§4.4). Crosslink is idempotent — rebuilding
// from scratch produces the same derived state.
package crosslink

// derivedSchema creates every table crosslink owns. None of these are
// part of the externally-visible schema of §6 (blob/delta/rcvfrom/...);
// they are a rebuildable cache over the artifact store.
const derivedSchema = `
CREATE TABLE IF NOT EXISTS filename (
	fnid      INTEGER PRIMARY KEY AUTOINCREMENT,
	name      TEXT UNIQUE NOT NULL,
	prior_fnid INTEGER
);

CREATE TABLE IF NOT EXISTS event (
	rid       INTEGER PRIMARY KEY,
	etype     TEXT NOT NULL,
	mtime     INTEGER NOT NULL,
	user      TEXT,
	comment   TEXT,
	bgcolor   TEXT,
	objid     TEXT,
	private   INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS mlink (
	mlinkid   INTEGER PRIMARY KEY AUTOINCREMENT,
	mid       INTEGER NOT NULL,
	fnid      INTEGER NOT NULL,
	pid       INTEGER NOT NULL DEFAULT 0,
	fid       INTEGER NOT NULL DEFAULT 0,
	perm      TEXT,
	pfnid     INTEGER NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS idx_mlink_mid ON mlink(mid);
CREATE INDEX IF NOT EXISTS idx_mlink_fnid ON mlink(fnid);

CREATE TABLE IF NOT EXISTS plink (
	cid        INTEGER NOT NULL,
	pid        INTEGER NOT NULL,
	isprim     INTEGER NOT NULL,
	baseid     INTEGER NOT NULL DEFAULT 0,
	mtime      INTEGER NOT NULL DEFAULT 0,
	PRIMARY KEY (cid, pid)
);
CREATE INDEX IF NOT EXISTS idx_plink_pid ON plink(pid);

CREATE TABLE IF NOT EXISTS tag (
	tagid  INTEGER PRIMARY KEY AUTOINCREMENT,
	tagname TEXT UNIQUE NOT NULL
);

CREATE TABLE IF NOT EXISTS tagxref (
	tagid   INTEGER NOT NULL,
	rid     INTEGER NOT NULL,
	tagtype INTEGER NOT NULL,
	srcid   INTEGER NOT NULL DEFAULT 0,
	origid  INTEGER NOT NULL DEFAULT 0,
	value   TEXT,
	mtime   INTEGER NOT NULL,
	PRIMARY KEY (tagid, rid)
);
CREATE INDEX IF NOT EXISTS idx_tagxref_rid ON tagxref(rid);

CREATE TABLE IF NOT EXISTS ticket (
	tkt_uuid TEXT PRIMARY KEY,
	tkt_mtime INTEGER,
	fields    TEXT -- JSON-encoded current field map, replayed from ticketchng
);

CREATE TABLE IF NOT EXISTS ticketchng (
	rid       INTEGER PRIMARY KEY,
	tkt_uuid  TEXT NOT NULL,
	tkt_mtime INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_ticketchng_uuid ON ticketchng(tkt_uuid);

CREATE TABLE IF NOT EXISTS wiki_page (
	name  TEXT PRIMARY KEY,
	mtime INTEGER
);

CREATE TABLE IF NOT EXISTS attachment (
	rid       INTEGER PRIMARY KEY,
	filename  TEXT NOT NULL,
	target    TEXT NOT NULL,
	hash      TEXT,
	mtime     INTEGER
);

CREATE TABLE IF NOT EXISTS backlink (
	rid    INTEGER NOT NULL,
	target TEXT NOT NULL,
	PRIMARY KEY (rid, target)
);

CREATE TABLE IF NOT EXISTS leaf (
	rid INTEGER PRIMARY KEY
);
`
