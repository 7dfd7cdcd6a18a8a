// Copyright 2024 The Fossil-core Authors
// This file is part of fossil-core.
//
// fossil-core is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// fossil-core is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.

// Package fossilhash implements C1: digests, hex/base64 codecs, UTF-8
// validation and the fossilize escaping used by the card grammar (§4.1).
package fossilhash

import (
	"crypto/sha1"
	"encoding/hex"
	"fmt"

	"golang.org/x/crypto/sha3"
)

// Algo identifies which digest a Hash carries.
type Algo int

const (
	AlgoSha1 Algo = iota
	AlgoSha3_256
)

func (a Algo) String() string {
	if a == AlgoSha3_256 {
		return "sha3-256"
	}
	return "sha1"
}

// Hash is the sum type of Sha1 (20 bytes) or Sha3_256 (32 bytes),
// compared and ordered over the hex representation.
type Hash struct {
	Algo Algo
	Raw  [32]byte // only the first Len() bytes are meaningful
}

// Len returns the digest length in bytes for the hash's algorithm.
func (h Hash) Len() int {
	if h.Algo == AlgoSha3_256 {
		return 32
	}
	return 20
}

// Hex is the canonical lower-case hex representation: 40 chars for
// SHA-1, 64 for SHA-3-256.
func (h Hash) Hex() string {
	return hex.EncodeToString(h.Raw[:h.Len()])
}

func (h Hash) String() string { return h.Hex() }

// Equal compares by algorithm and digest bytes.
func (h Hash) Equal(o Hash) bool {
	return h.Algo == o.Algo && h.Hex() == o.Hex()
}

// Less orders by hex representation, the ordering the spec requires
// for equality/ordering purposes (§4.1).
func (h Hash) Less(o Hash) bool { return h.Hex() < o.Hex() }

// IsZero reports whether h is the zero value (no hash computed).
func (h Hash) IsZero() bool { return h.Raw == [32]byte{} && h.Algo == AlgoSha1 }

// Sha1Of computes the SHA-1 hash of bytes.
func Sha1Of(b []byte) Hash {
	sum := sha1.Sum(b)
	var h Hash
	h.Algo = AlgoSha1
	copy(h.Raw[:], sum[:])
	return h
}

// Sha3_256Of computes the SHA-3-256 hash of bytes.
func Sha3_256Of(b []byte) Hash {
	sum := sha3.Sum256(b)
	var h Hash
	h.Algo = AlgoSha3_256
	copy(h.Raw[:], sum[:])
	return h
}

// Of hashes b under the given algorithm.
func Of(algo Algo, b []byte) Hash {
	if algo == AlgoSha3_256 {
		return Sha3_256Of(b)
	}
	return Sha1Of(b)
}

// ParseHex decodes a full hash from its hex string, inferring the
// algorithm from its length (40 => SHA-1, 64 => SHA-3-256).
func ParseHex(s string) (Hash, error) {
	var h Hash
	switch len(s) {
	case 40:
		h.Algo = AlgoSha1
	case 64:
		h.Algo = AlgoSha3_256
	default:
		return Hash{}, fmt.Errorf("fossilhash: hash %q has unsupported length %d", s, len(s))
	}
	raw, err := hex.DecodeString(s)
	if err != nil {
		return Hash{}, fmt.Errorf("fossilhash: %w", err)
	}
	copy(h.Raw[:], raw)
	return h, nil
}

// Policy is the repository-wide setting controlling which hash
// algorithms new artifacts may use and which old ones are shunned.
type Policy int

const (
	PolicyAcceptBoth Policy = iota
	PolicySha1Only
	PolicyShunSha1
)

// Allows reports whether policy accepts new artifacts hashed with algo.
func (p Policy) Allows(algo Algo) bool {
	switch p {
	case PolicySha1Only:
		return algo == AlgoSha1
	case PolicyShunSha1:
		return algo == AlgoSha3_256
	default:
		return true
	}
}

// ShunnedByPolicy reports whether an existing hash's algorithm is
// banned outright under policy (distinct from Allows, which governs
// acceptance of *new* artifacts — ShunSha1 also retroactively bans
// existing SHA-1 content).
func (p Policy) ShunnedByPolicy(algo Algo) bool {
	return p == PolicyShunSha1 && algo == AlgoSha1
}
