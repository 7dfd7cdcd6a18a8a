// Copyright 2024 The Fossil-core Authors
// This file is part of fossil-core.

package artifact

import "time"

// NewControlArtifact builds a tag-control artifact (T+D+U+Z): one or
// more tag operations applied outside of a check-in.
func NewControlArtifact(tags []TagSpec, date time.Time, user string) []byte {
	var cards []Card
	for _, t := range tags {
		var prefix string
		switch t.Kind {
		case TagSingleton:
			prefix = "+"
		case TagPropagating:
			prefix = "*"
		case TagCancel:
			prefix = "-"
		}
		toks := []string{prefix + t.Name, t.Target}
		if t.Value != "" {
			toks = append(toks, t.Value)
		}
		cards = append(cards, Card{Letter: 'T', Tokens: toks})
	}
	cards = append(cards, Card{Letter: 'D', Tokens: []string{date.UTC().Format(dateLayout)}})
	cards = append(cards, Card{Letter: 'U', Tokens: []string{user}})
	return Emit(cards)
}

// NewWikiArtifact builds a wiki-page artifact (L+W+D+U+Z).
func NewWikiArtifact(title string, body []byte, mimetype string, date time.Time, user string) []byte {
	cards := []Card{
		{Letter: 'L', Tokens: []string{title}},
	}
	if mimetype != "" {
		cards = append(cards, Card{Letter: 'N', Tokens: []string{mimetype}})
	}
	cards = append(cards,
		Card{Letter: 'W', Blob: body},
		Card{Letter: 'D', Tokens: []string{date.UTC().Format(dateLayout)}},
		Card{Letter: 'U', Tokens: []string{user}},
	)
	return Emit(cards)
}

// NewEventArtifact builds a tech-note artifact (E+W+D+U+Z).
func NewEventArtifact(timestamp, techNoteID string, body []byte, mimetype string, date time.Time, user string) []byte {
	cards := []Card{
		{Letter: 'E', Tokens: []string{timestamp, techNoteID}},
	}
	if mimetype != "" {
		cards = append(cards, Card{Letter: 'N', Tokens: []string{mimetype}})
	}
	cards = append(cards,
		Card{Letter: 'W', Blob: body},
		Card{Letter: 'D', Tokens: []string{date.UTC().Format(dateLayout)}},
		Card{Letter: 'U', Tokens: []string{user}},
	)
	return Emit(cards)
}

// NewAttachmentArtifact builds an attachment artifact (A+D+U+Z).
func NewAttachmentArtifact(filename, target, hash string, date time.Time, user string) []byte {
	cards := []Card{
		{Letter: 'A', Tokens: []string{filename, target, hash}},
		{Letter: 'D', Tokens: []string{date.UTC().Format(dateLayout)}},
		{Letter: 'U', Tokens: []string{user}},
	}
	return Emit(cards)
}

// NewTicketChangeArtifact builds a ticket-change artifact (K+J+D+U+Z).
func NewTicketChangeArtifact(ticketUUID string, fields []TicketField, date time.Time, user string) []byte {
	cards := []Card{
		{Letter: 'K', Tokens: []string{ticketUUID}},
	}
	for _, f := range fields {
		name := f.Name
		if f.Append {
			name = "+" + name
		}
		cards = append(cards, Card{Letter: 'J', Tokens: []string{name, f.Value}})
	}
	cards = append(cards,
		Card{Letter: 'D', Tokens: []string{date.UTC().Format(dateLayout)}},
		Card{Letter: 'U', Tokens: []string{user}},
	)
	return Emit(cards)
}

// NewClusterArtifact builds a cluster artifact (M+Z) batching member hashes.
func NewClusterArtifact(memberHashes []string) []byte {
	var cards []Card
	for _, h := range memberHashes {
		cards = append(cards, Card{Letter: 'M', Tokens: []string{h}})
	}
	return Emit(cards)
}
