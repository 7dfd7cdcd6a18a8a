// Copyright 2024 The Fossil-core Authors
// This file is part of fossil-core.

package artifact

import (
	"bytes"
	"crypto/md5"
	"fmt"

	"github.com/fossil-scm/fossil-core/fossilhash"
)

// Emit canonically serializes cards (which must not include a Z-card)
// and appends the computed Z-card, producing the wire bytes of a
// structured artifact (§4.4, §6). Parsing the result and re-Emitting
// its cards yields the same bytes: canonicalization is the identity on
// well-formed input (§8 invariant 6).
func Emit(cards []Card) []byte {
	var buf bytes.Buffer
	for _, c := range cards {
		writeCard(&buf, c)
	}
	sum := md5.Sum(buf.Bytes())
	fmt.Fprintf(&buf, "Z %x\n", sum)
	return buf.Bytes()
}

func writeCard(buf *bytes.Buffer, c Card) {
	buf.WriteByte(c.Letter)
	if c.Letter == 'W' {
		fmt.Fprintf(buf, " %d\n", len(c.Blob))
		buf.Write(c.Blob)
		buf.WriteByte('\n')
		return
	}
	for _, tok := range c.Tokens {
		buf.WriteByte(' ')
		buf.Write(fossilhash.Fossilize([]byte(tok)))
	}
	buf.WriteByte('\n')
}

// Serialize re-emits a, letter-for-letter, in its original card order
// excluding Z, and appends a freshly computed Z-card. It is the
// canonical form the rest of the core stores and compares against.
func (a *Artifact) Serialize() []byte {
	var cards []Card
	for _, c := range a.Cards {
		if c.Letter == 'Z' {
			continue
		}
		cards = append(cards, c)
	}
	return Emit(cards)
}
