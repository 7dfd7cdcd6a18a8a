// Copyright 2024 The Fossil-core Authors
// This file is part of fossil-core.

// Package purge implements C9's purge/graveyard mechanism for safely
// removing artifacts while honoring delta dependencies (§4.8). Shunning
// itself is handled by blobstore.
package purge

const graveyardSchema = `
CREATE TABLE IF NOT EXISTS purgeevent (
	peid  INTEGER PRIMARY KEY AUTOINCREMENT,
	mtime INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS purgeitem (
	piid     INTEGER PRIMARY KEY AUTOINCREMENT,
	peid     INTEGER NOT NULL,
	uuid     TEXT NOT NULL,
	origrid  INTEGER NOT NULL,
	algo     INTEGER NOT NULL DEFAULT 0,
	size     INTEGER NOT NULL DEFAULT 0,
	content  BLOB,
	srcpiid  INTEGER NOT NULL DEFAULT 0,
	isdelta  INTEGER NOT NULL DEFAULT 0,
	isprivate INTEGER NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS idx_purgeitem_peid ON purgeitem(peid);
`
