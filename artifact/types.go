// Copyright 2024 The Fossil-core Authors
// This file is part of fossil-core.

package artifact

import (
	"strings"
	"time"

	"github.com/fossil-scm/fossil-core/internal/ferrors"
)

// dateLayout is the ISO-8601 basic form with a T separator, UTC,
// millisecond precision, that the D-card carries (§4.4).
const dateLayout = "2006-01-02T15:04:05.000"

// FileEntry is the decoded form of one F-card: path, new file-blob
// hash, optional permission, optional prior path when it is a rename
// (§4.4, §4.4 rename detection).
type FileEntry struct {
	Path    string
	Hash    string // empty string for a file removed in this check-in
	Perm    string // "x" executable, "l" symlink, "" regular
	OldPath string
}

// FileEntries decodes every F-card into a FileEntry, in card order.
func (a *Artifact) FileEntries() ([]FileEntry, error) {
	var out []FileEntry
	for _, c := range a.FindAll('F') {
		if len(c.Tokens) < 1 || len(c.Tokens) > 4 {
			return nil, ferrors.Wrapf(ferrors.KindGrammarError, nil, "F-card has %d tokens, want 1-4", len(c.Tokens))
		}
		fe := FileEntry{Path: c.Tokens[0]}
		if len(c.Tokens) >= 2 {
			fe.Hash = c.Tokens[1]
		}
		if len(c.Tokens) >= 3 {
			fe.Perm = c.Tokens[2]
		}
		if len(c.Tokens) >= 4 {
			fe.OldPath = c.Tokens[3]
		}
		out = append(out, fe)
	}
	return out, nil
}

// ParentHashes decodes the single P-card into its space-separated
// parent hashes; the first is the primary parent (§3). A root
// check-in has no P-card and returns an empty slice.
func (a *Artifact) ParentHashes() []string {
	c, ok := a.Find('P')
	if !ok {
		return nil
	}
	return c.Tokens
}

// Comment decodes the C-card (fossilized check-in comment text).
func (a *Artifact) Comment() (string, bool) {
	c, ok := a.Find('C')
	if !ok || len(c.Tokens) == 0 {
		return "", false
	}
	return c.Tokens[0], true
}

// Date decodes the D-card as UTC.
func (a *Artifact) Date() (time.Time, error) {
	c, ok := a.Find('D')
	if !ok || len(c.Tokens) != 1 {
		return time.Time{}, ferrors.New(ferrors.KindGrammarError, "artifact has no D-card")
	}
	t, err := time.Parse(dateLayout, c.Tokens[0])
	if err != nil {
		return time.Time{}, ferrors.Wrapf(ferrors.KindGrammarError, err, "invalid D-card date %q", c.Tokens[0])
	}
	return t.UTC(), nil
}

// User decodes the U-card login.
func (a *Artifact) User() (string, bool) {
	c, ok := a.Find('U')
	if !ok || len(c.Tokens) == 0 {
		return "", false
	}
	return c.Tokens[0], true
}

// Mimetype decodes the optional N-card.
func (a *Artifact) Mimetype() (string, bool) {
	c, ok := a.Find('N')
	if !ok || len(c.Tokens) == 0 {
		return "", false
	}
	return c.Tokens[0], true
}

// TagKind is one of the three effects a T-card (or tagxref row) can have.
type TagKind int

const (
	TagCancel      TagKind = 0
	TagSingleton   TagKind = 1
	TagPropagating TagKind = 2
)

// TagSpec is a decoded T-card: a named effect applied to a target check-in.
type TagSpec struct {
	Kind   TagKind
	Name   string
	Target string
	Value  string
}

// Tags decodes every T-card (§4.4: "+name target ?value" add-singleton,
// "*name target ?value" add-propagating, "-name target" cancel).
func (a *Artifact) Tags() ([]TagSpec, error) {
	var out []TagSpec
	for _, c := range a.FindAll('T') {
		if len(c.Tokens) < 2 {
			return nil, ferrors.Wrapf(ferrors.KindGrammarError, nil, "T-card has %d tokens, want >=2", len(c.Tokens))
		}
		raw := c.Tokens[0]
		if len(raw) == 0 {
			return nil, ferrors.New(ferrors.KindGrammarError, "T-card tag name is empty")
		}
		spec := TagSpec{Target: c.Tokens[1]}
		switch raw[0] {
		case '+':
			spec.Kind = TagSingleton
		case '*':
			spec.Kind = TagPropagating
		case '-':
			spec.Kind = TagCancel
		default:
			return nil, ferrors.Wrapf(ferrors.KindGrammarError, nil, "T-card tag name %q must start with +, * or -", raw)
		}
		spec.Name = raw[1:]
		if len(c.Tokens) >= 3 {
			spec.Value = c.Tokens[2]
		}
		out = append(out, spec)
	}
	return out, nil
}

// AttachmentInfo decodes the A-card: "filename target artifact-hash".
func (a *Artifact) AttachmentInfo() (filename, target, hash string, err error) {
	c, ok := a.Find('A')
	if !ok {
		return "", "", "", ferrors.New(ferrors.KindGrammarError, "artifact has no A-card")
	}
	if len(c.Tokens) < 2 {
		return "", "", "", ferrors.Wrapf(ferrors.KindGrammarError, nil, "A-card has %d tokens, want >=2", len(c.Tokens))
	}
	filename = c.Tokens[0]
	target = c.Tokens[1]
	if len(c.Tokens) >= 3 {
		hash = c.Tokens[2]
	}
	return filename, target, hash, nil
}

// WikiTitle decodes the L-card (wiki page title).
func (a *Artifact) WikiTitle() (string, bool) {
	c, ok := a.Find('L')
	if !ok || len(c.Tokens) == 0 {
		return "", false
	}
	return c.Tokens[0], true
}

// EventInfo decodes the E-card: "timestamp tech-note-id".
func (a *Artifact) EventInfo() (timestamp, techNoteID string, err error) {
	c, ok := a.Find('E')
	if !ok || len(c.Tokens) != 2 {
		return "", "", ferrors.New(ferrors.KindGrammarError, "artifact has no valid E-card")
	}
	return c.Tokens[0], c.Tokens[1], nil
}

// WikiBody returns the W-card's raw body bytes.
func (a *Artifact) WikiBody() ([]byte, bool) {
	c, ok := a.Find('W')
	if !ok {
		return nil, false
	}
	return c.Blob, true
}

// TicketUUID decodes the K-card.
func (a *Artifact) TicketUUID() (string, bool) {
	c, ok := a.Find('K')
	if !ok || len(c.Tokens) == 0 {
		return "", false
	}
	return c.Tokens[0], true
}

// TicketField is one decoded J-card: a field assignment, optionally
// an append (+) rather than a replace.
type TicketField struct {
	Name   string
	Value  string
	Append bool
}

// TicketFields decodes every J-card.
func (a *Artifact) TicketFields() ([]TicketField, error) {
	var out []TicketField
	for _, c := range a.FindAll('J') {
		if len(c.Tokens) < 1 {
			return nil, ferrors.New(ferrors.KindGrammarError, "J-card has no field name")
		}
		name := c.Tokens[0]
		tf := TicketField{}
		if strings.HasPrefix(name, "+") {
			tf.Append = true
			name = name[1:]
		}
		tf.Name = name
		if len(c.Tokens) >= 2 {
			tf.Value = c.Tokens[1]
		}
		out = append(out, tf)
	}
	return out, nil
}

// ContentChecksum decodes the R-card (aggregate md5 of all file
// contents, §4.7).
func (a *Artifact) ContentChecksum() (string, bool) {
	c, ok := a.Find('R')
	if !ok || len(c.Tokens) == 0 {
		return "", false
	}
	return c.Tokens[0], true
}

// --- Builders -------------------------------------------------------

// CheckinBuilder assembles the cards of a new check-in artifact. The
// U-card is held separately and appended last on Build, matching the
// card ordering Fossil itself emits (identity metadata trails content).
type CheckinBuilder struct {
	cards    []Card
	userCard Card
}

// NewCheckin starts a check-in builder. comment, date and user are
// required by every check-in (§4.4 type signature F+P+D+U+Z).
func NewCheckin(comment string, date time.Time, user string) *CheckinBuilder {
	b := &CheckinBuilder{
		userCard: Card{Letter: 'U', Tokens: []string{user}},
	}
	b.cards = append(b.cards, Card{Letter: 'C', Tokens: []string{comment}})
	b.cards = append(b.cards, Card{Letter: 'D', Tokens: []string{date.UTC().Format(dateLayout)}})
	return b
}

// AddFile appends an F-card.
func (b *CheckinBuilder) AddFile(fe FileEntry) *CheckinBuilder {
	toks := []string{fe.Path}
	if fe.Hash != "" || fe.Perm != "" || fe.OldPath != "" {
		toks = append(toks, fe.Hash)
	}
	if fe.Perm != "" || fe.OldPath != "" {
		toks = append(toks, fe.Perm)
	}
	if fe.OldPath != "" {
		toks = append(toks, fe.OldPath)
	}
	b.cards = append(b.cards, Card{Letter: 'F', Tokens: toks})
	return b
}

// AddParents appends the single P-card naming every parent hash, the
// first being primary.
func (b *CheckinBuilder) AddParents(parents ...string) *CheckinBuilder {
	if len(parents) == 0 {
		return b
	}
	b.cards = append(b.cards, Card{Letter: 'P', Tokens: parents})
	return b
}

// AddContentChecksum appends the R-card.
func (b *CheckinBuilder) AddContentChecksum(md5hex string) *CheckinBuilder {
	b.cards = append(b.cards, Card{Letter: 'R', Tokens: []string{md5hex}})
	return b
}

// AddTag appends a T-card local to this check-in (a tag applied at
// commit time rather than via a separate control artifact).
func (b *CheckinBuilder) AddTag(spec TagSpec) *CheckinBuilder {
	var prefix string
	switch spec.Kind {
	case TagSingleton:
		prefix = "+"
	case TagPropagating:
		prefix = "*"
	case TagCancel:
		prefix = "-"
	}
	toks := []string{prefix + spec.Name, spec.Target}
	if spec.Value != "" {
		toks = append(toks, spec.Value)
	}
	b.cards = append(b.cards, Card{Letter: 'T', Tokens: toks})
	return b
}

// Build finalizes the artifact, appending U last, and emits canonical bytes.
func (b *CheckinBuilder) Build() []byte {
	cards := append(append([]Card{}, b.cards...), b.userCard)
	return Emit(cards)
}
