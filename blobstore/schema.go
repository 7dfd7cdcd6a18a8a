// Copyright 2024 The Fossil-core Authors
// This file is part of fossil-core.
//
// fossil-core is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

// Package blobstore implements C2: the append-only, content-addressed
// artifact store, with delta compression, phantom/shun handling and
// receipt provenance, backed by the externally-visible schema of §6.
package blobstore

// coreSchema creates the externally-visible repository schema (§6).
// Every other table in the repository (event, mlink, plink, tag, ...)
// is derived and owned by the crosslink package; this is only the
// primitive object-store layer.
const coreSchema = `
CREATE TABLE IF NOT EXISTS blob (
	rid     INTEGER PRIMARY KEY AUTOINCREMENT,
	rcvid   INTEGER,
	size    INTEGER NOT NULL,
	uuid    TEXT UNIQUE NOT NULL,
	algo    INTEGER NOT NULL,
	content BLOB
);

CREATE TABLE IF NOT EXISTS delta (
	rid   INTEGER PRIMARY KEY,
	srcid INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS rcvfrom (
	rcvid  INTEGER PRIMARY KEY AUTOINCREMENT,
	uid    TEXT,
	mtime  INTEGER,
	nonce  TEXT,
	ipaddr TEXT
);

CREATE TABLE IF NOT EXISTS private (
	rid INTEGER PRIMARY KEY
);

CREATE TABLE IF NOT EXISTS unsent (
	rid INTEGER PRIMARY KEY
);

CREATE TABLE IF NOT EXISTS unclustered (
	rid INTEGER PRIMARY KEY
);

CREATE TABLE IF NOT EXISTS shun (
	uuid  TEXT PRIMARY KEY,
	mtime INTEGER,
	scom  TEXT
);

CREATE INDEX IF NOT EXISTS idx_delta_srcid ON delta(srcid);
`
