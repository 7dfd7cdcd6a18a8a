// Copyright 2024 The Fossil-core Authors
// This file is part of fossil-core.
//
// fossil-core is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

// Package artifact implements C4: the card-based textual grammar for
// structured artifacts (§4.4) — parsing, Z-card checksum verification,
// and canonical serialization.
package artifact

import (
	"bytes"
	"crypto/md5"
	"encoding/hex"
	"fmt"

	"github.com/fossil-scm/fossil-core/fossilhash"
	"github.com/fossil-scm/fossil-core/internal/ferrors"
)

// Card is one line of a structured artifact, tagged by a single
// upper-case letter. For most card kinds Tokens holds the
// space-separated, fossilize-decoded arguments; the W card instead
// carries its body verbatim in Blob (§4.4).
type Card struct {
	Letter byte
	Tokens []string
	Blob   []byte // only meaningful for the W card
}

// Artifact is a parsed, checksum-verified structured artifact: an
// ordered sequence of cards terminated by its Z-card.
type Artifact struct {
	Cards []Card
	// Raw is the exact byte sequence that was parsed, preserved so a
	// stored artifact can always be re-emitted bit-exact (§6).
	Raw []byte
}

// Find returns the first card with the given letter, or ok=false.
func (a *Artifact) Find(letter byte) (Card, bool) {
	for _, c := range a.Cards {
		if c.Letter == letter {
			return c, true
		}
	}
	return Card{}, false
}

// FindAll returns every card with the given letter, in artifact order.
func (a *Artifact) FindAll(letter byte) []Card {
	var out []Card
	for _, c := range a.Cards {
		if c.Letter == letter {
			out = append(out, c)
		}
	}
	return out
}

// Has reports whether the artifact contains at least one card of the
// given letter.
func (a *Artifact) Has(letter byte) bool {
	_, ok := a.Find(letter)
	return ok
}

// Parse reads a structured artifact from raw bytes: each card is one
// line, the final card must be Z, and the Z-card's argument must equal
// the md5 of every byte preceding it (§4.4). Parsing fails with
// GrammarError on malformed cards and ChecksumMismatch on a bad Z-card.
func Parse(raw []byte) (*Artifact, error) {
	var cards []Card
	i := 0
	zSeen := false

	for i < len(raw) {
		if zSeen {
			return nil, ferrors.Wrapf(ferrors.KindGrammarError, nil, "content follows the Z-card at offset %d", i)
		}
		if raw[i] < 'A' || raw[i] > 'Z' {
			return nil, ferrors.Wrapf(ferrors.KindGrammarError, nil, "expected card letter at offset %d, found %q", i, raw[i])
		}
		letter := raw[i]
		lineStart := i
		nl := bytes.IndexByte(raw[i:], '\n')
		if nl < 0 {
			return nil, ferrors.Wrapf(ferrors.KindGrammarError, nil, "card %q at offset %d is not newline-terminated", letter, i)
		}
		line := raw[i : i+nl]
		i += nl + 1

		rest := line[1:]
		if len(rest) > 0 && rest[0] == ' ' {
			rest = rest[1:]
		} else if len(rest) > 0 {
			return nil, ferrors.Wrapf(ferrors.KindGrammarError, nil, "card %q at offset %d has no space before its arguments", letter, lineStart)
		}

		if letter == 'W' {
			// "W <byte-count>\n<bytes>\n"
			count, err := parseNonNegativeInt(string(rest))
			if err != nil {
				return nil, ferrors.Wrapf(ferrors.KindGrammarError, err, "W-card has invalid byte count")
			}
			if i+count > len(raw) {
				return nil, ferrors.Wrapf(ferrors.KindGrammarError, nil, "W-card body runs past end of artifact")
			}
			body := raw[i : i+count]
			i += count
			if i >= len(raw) || raw[i] != '\n' {
				return nil, ferrors.Wrapf(ferrors.KindGrammarError, nil, "W-card body must be followed by a newline")
			}
			i++
			cards = append(cards, Card{Letter: letter, Blob: body})
			continue
		}

		tokens := splitFossilizedTokens(rest)
		cards = append(cards, Card{Letter: letter, Tokens: tokens})

		if letter == 'Z' {
			zSeen = true
		}
	}

	if !zSeen {
		return nil, ferrors.New(ferrors.KindGrammarError, "artifact is missing its trailing Z-card")
	}
	z := cards[len(cards)-1]
	if len(z.Tokens) != 1 {
		return nil, ferrors.New(ferrors.KindGrammarError, "Z-card must carry exactly one md5-hex token")
	}
	zBytes, err := findZCardBytes(raw)
	if err != nil {
		return nil, err
	}
	want := md5.Sum(zBytes)
	got, err := hex.DecodeString(z.Tokens[0])
	if err != nil || len(got) != md5.Size {
		return nil, ferrors.New(ferrors.KindGrammarError, "Z-card argument is not 32 hex digits")
	}
	if !bytes.Equal(want[:], got) {
		return nil, ferrors.Wrapf(ferrors.KindChecksumMismatch, nil, "Z-card checksum mismatch: want %x got %x", want, got)
	}

	return &Artifact{Cards: cards, Raw: raw}, nil
}

// findZCardBytes returns every byte preceding the "Z " that starts the
// final line, which is exactly what the Z-card's md5 covers.
func findZCardBytes(raw []byte) ([]byte, error) {
	idx := bytes.LastIndex(raw, []byte("\nZ "))
	if idx >= 0 {
		return raw[:idx+1], nil
	}
	if bytes.HasPrefix(raw, []byte("Z ")) {
		return raw[:0], nil
	}
	return nil, ferrors.New(ferrors.KindGrammarError, "cannot locate Z-card boundary")
}

func parseNonNegativeInt(s string) (int, error) {
	if s == "" {
		return 0, fmt.Errorf("empty integer")
	}
	n := 0
	for _, c := range s {
		if c < '0' || c > '9' {
			return 0, fmt.Errorf("not a decimal integer: %q", s)
		}
		n = n*10 + int(c-'0')
	}
	return n, nil
}

// splitFossilizedTokens splits a card's argument string on raw spaces
// (fossilized tokens never contain a raw space) and defossilizes each.
func splitFossilizedTokens(rest []byte) []string {
	if len(rest) == 0 {
		return nil
	}
	parts := bytes.Split(rest, []byte(" "))
	out := make([]string, len(parts))
	for i, p := range parts {
		out[i] = string(fossilhash.Defossilize(p))
	}
	return out
}
