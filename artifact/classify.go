// Copyright 2024 The Fossil-core Authors
// This file is part of fossil-core.

package artifact

// Type is the class of structured artifact, determined by which cards
// are present (§4.4).
type Type int

const (
	TypeUnknown Type = iota
	TypeCheckin
	TypeCluster
	TypeControl
	TypeWiki
	TypeEvent
	TypeTicket
	TypeAttachment
	TypeForumPost
)

func (t Type) String() string {
	switch t {
	case TypeCheckin:
		return "checkin"
	case TypeCluster:
		return "cluster"
	case TypeControl:
		return "control"
	case TypeWiki:
		return "wiki"
	case TypeEvent:
		return "event"
	case TypeTicket:
		return "ticket"
	case TypeAttachment:
		return "attachment"
	case TypeForumPost:
		return "forumpost"
	default:
		return "unknown"
	}
}

// Classify determines an artifact's type from the cards it carries.
// Every recognized type requires D+U+Z at minimum, save cluster
// (which is a bare list of member hashes).
func (a *Artifact) Classify() Type {
	has := func(l byte) bool { return a.Has(l) }

	switch {
	case has('M'):
		return TypeCluster
	case has('F') && has('D') && has('U'):
		return TypeCheckin
	case has('T') && has('D') && has('U') && !has('F'):
		return TypeControl
	case has('L') && has('W') && has('D') && has('U'):
		return TypeWiki
	case has('E') && has('W') && has('D') && has('U'):
		return TypeEvent
	case has('K') && has('J') && has('D') && has('U'):
		return TypeTicket
	case has('A') && has('D') && has('U') && !has('W'):
		return TypeAttachment
	case (has('G') || has('H') || has('I')) && has('N') && has('W') && has('D') && has('U'):
		return TypeForumPost
	default:
		return TypeUnknown
	}
}
