// Copyright 2024 The Fossil-core Authors
// This file is part of fossil-core.

// Package merge implements C8: the three-way line-granular textual
// merge with conflict markers (§4.7). It is a pure function plus,
// optionally, side-file writing for an external graphical tool; it
// makes no database changes.
package merge

import (
	"bytes"
	"fmt"
	"os"
	"os/exec"
	"strings"

	"github.com/fossil-scm/fossil-core/fossilhash"
)

// The four conflict-marker lines, emitted verbatim and in this order
// (mine, pivot, theirs) around a conflicting block (§4.7, §6).
const (
	MarkerBegin   = "<<<<<<< BEGIN MERGE CONFLICT: local copy shown first <<<<<<<<<<<<<<<"
	MarkerPivot   = "======= COMMON ANCESTOR content follows ============================"
	MarkerTheirs  = "======= MERGED IN content follows =================================="
	MarkerEnd     = ">>>>>>> END MERGE CONFLICT >>>>>>>>>>>>>>>>>>>>>>>>>>>>>>>>>>>>>>>>>"
)

// Result is the outcome of a three-way merge.
type Result struct {
	Output    []byte
	Conflicts int
}

// Merge runs the three-way merge of pivot/mine/theirs. A negative
// Conflicts with nil Output signals "binary; cannot merge" (§4.7 step 4).
func Merge(pivot, mine, theirs []byte) (Result, error) {
	if fossilhash.LooksBinary(pivot) || fossilhash.LooksBinary(mine) || fossilhash.LooksBinary(theirs) {
		return Result{Conflicts: -1}, nil
	}

	pivotLines := splitLines(pivot)
	mineLines := splitLines(mine)
	theirsLines := splitLines(theirs)

	mineOps := diff(pivotLines, mineLines)
	theirsOps := diff(pivotLines, theirsLines)

	out, conflicts := merge3(pivotLines, mineOps, theirsOps)
	return Result{Output: []byte(strings.Join(out, "")), Conflicts: conflicts}, nil
}

func splitLines(b []byte) []string {
	if len(b) == 0 {
		return nil
	}
	var out []string
	start := 0
	for i, c := range b {
		if c == '\n' {
			out = append(out, string(b[start:i+1]))
			start = i + 1
		}
	}
	if start < len(b) {
		out = append(out, string(b[start:]))
	}
	return out
}

// opKind distinguishes a copy-from-pivot run from an edit (replace
// span, which may be pure insert or pure delete).
type opKind int

const (
	opCopy opKind = iota
	opEdit
)

// op is one element of an edit script over pivot: either "copy
// pivot[pStart:pEnd] verbatim" or "replace pivot[pStart:pEnd] with
// lines".
type op struct {
	kind   opKind
	pStart int
	pEnd   int
	lines  []string
}

// diff computes a line-granular LCS-based edit script from a to b,
// expressed as a sequence of ops over a's index space (§4.7 step 2).
func diff(a, b []string) []op {
	n, m := len(a), len(b)
	// lcs[i][j] = length of LCS of a[i:], b[j:]
	lcs := make([][]int, n+1)
	for i := range lcs {
		lcs[i] = make([]int, m+1)
	}
	for i := n - 1; i >= 0; i-- {
		for j := m - 1; j >= 0; j-- {
			if a[i] == b[j] {
				lcs[i][j] = lcs[i+1][j+1] + 1
			} else if lcs[i+1][j] >= lcs[i][j+1] {
				lcs[i][j] = lcs[i+1][j]
			} else {
				lcs[i][j] = lcs[i][j+1]
			}
		}
	}

	var ops []op
	i, j := 0, 0
	pendingEditStart := -1
	var pendingLines []string
	flushEdit := func(pEnd int) {
		if pendingEditStart >= 0 {
			ops = append(ops, op{kind: opEdit, pStart: pendingEditStart, pEnd: pEnd, lines: pendingLines})
			pendingEditStart = -1
			pendingLines = nil
		}
	}
	for i < n || j < m {
		if i < n && j < m && a[i] == b[j] {
			flushEdit(i)
			ops = append(ops, op{kind: opCopy, pStart: i, pEnd: i + 1, lines: []string{a[i]}})
			i++
			j++
			continue
		}
		if pendingEditStart < 0 {
			pendingEditStart = i
		}
		switch {
		case j < m && (i >= n || lcs[i][j+1] >= lcs[i+1][j]):
			pendingLines = append(pendingLines, b[j])
			j++
		default:
			i++
		}
	}
	flushEdit(i)
	return coalesceCopies(ops)
}

// coalesceCopies merges adjacent opCopy entries into single runs so
// merge3 can reason about "common copy regions" rather than
// line-at-a-time copies.
func coalesceCopies(ops []op) []op {
	var out []op
	for _, o := range ops {
		if o.kind == opCopy && len(out) > 0 && out[len(out)-1].kind == opCopy && out[len(out)-1].pEnd == o.pStart {
			out[len(out)-1].pEnd = o.pEnd
			out[len(out)-1].lines = append(out[len(out)-1].lines, o.lines...)
			continue
		}
		out = append(out, o)
	}
	return out
}

// merge3 walks both edit scripts in lock-step over the shared pivot
// index space (§4.7 step 3).
func merge3(pivot []string, mineOps, theirsOps []op) ([]string, int) {
	mi, ti := 0, 0
	pos := 0
	conflicts := 0
	var out []string

	// pendingSpan accumulates the pivot range [pos, nextSyncPoint)
	// while mine/theirs diverge, so a conflict block covers the
	// smallest region returning both sides to a copy boundary.
	for mi < len(mineOps) || ti < len(theirsOps) {
		mOp := peek(mineOps, mi)
		tOp := peek(theirsOps, ti)

		if mOp != nil && tOp != nil && mOp.kind == opCopy && tOp.kind == opCopy && mOp.pStart <= pos && tOp.pStart <= pos {
			span := minInt(mOp.pEnd, tOp.pEnd) - pos
			out = append(out, pivot[pos:pos+span]...)
			pos += span
			if mOp.pEnd == pos {
				mi++
			}
			if tOp.pEnd == pos {
				ti++
			}
			continue
		}

		// One or both sides edit here. Gather the full contiguous
		// edit region on each side starting at pos, then compare.
		mLines, mEnd, mAdvance := collectEdit(mineOps, &mi, pos)
		tLines, tEnd, tAdvance := collectEdit(theirsOps, &ti, pos)
		end := maxInt(mEnd, tEnd)
		_ = mAdvance
		_ = tAdvance

		mineOnly := mAdvance && !tAdvance && (tOp == nil || tOp.pEnd >= mEnd)
		theirsOnly := tAdvance && !mAdvance && (mOp == nil || mOp.pEnd >= tEnd)
		bothSame := mAdvance && tAdvance && linesEqual(mLines, tLines) && mEnd == tEnd

		switch {
		case mineOnly:
			out = append(out, mLines...)
		case theirsOnly:
			out = append(out, tLines...)
		case bothSame:
			out = append(out, mLines...)
		case !mAdvance && !tAdvance:
			// Neither side edits but they disagree on boundaries;
			// defensive no-op advance to avoid an infinite loop.
			end = pos + 1
			out = append(out, pivot[pos:end]...)
		default:
			conflicts++
			out = append(out, MarkerBegin+"\n")
			out = append(out, mLines...)
			out = append(out, MarkerPivot+"\n")
			out = append(out, pivot[pos:end]...)
			out = append(out, MarkerTheirs+"\n")
			out = append(out, tLines...)
			out = append(out, MarkerEnd+"\n")
		}
		pos = end
		for mi < len(mineOps) && mineOps[mi].kind == opCopy && mineOps[mi].pEnd <= pos {
			mi++
		}
		for ti < len(theirsOps) && theirsOps[ti].kind == opCopy && theirsOps[ti].pEnd <= pos {
			ti++
		}
	}
	return out, conflicts
}

// collectEdit gathers every op in ops starting at *idx whose pStart
// equals from, returning their concatenated replacement lines and the
// pivot offset they collectively span. If the op at *idx is a copy or
// starts past from, nothing is collected and end==from.
func collectEdit(ops []op, idx *int, from int) (lines []string, end int, advanced bool) {
	end = from
	for *idx < len(ops) {
		o := ops[*idx]
		if o.kind != opEdit || o.pStart != from {
			break
		}
		lines = append(lines, o.lines...)
		end = o.pEnd
		*idx++
		advanced = true
		from = end
	}
	return lines, end, advanced
}

func peek(ops []op, i int) *op {
	if i >= len(ops) {
		return nil
	}
	return &ops[i]
}

func linesEqual(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}

// HasConflictMarkers reports whether data contains any of the four
// verbatim conflict marker lines, for scanning a merged file for
// unresolved conflicts.
func HasConflictMarkers(data []byte) bool {
	for _, m := range []string{MarkerBegin, MarkerPivot, MarkerTheirs, MarkerEnd} {
		if bytes.Contains(data, []byte(m)) {
			return true
		}
	}
	return false
}

// ExternalTool describes a configured graphical merge tool invocation
// (§4.7 "external graphical-merge tool").
type ExternalTool struct {
	Command       string
	ArgsTemplate  []string // tokens %baseline%, %original%, %merge% substituted
}

// InvokeExternal writes baseline (pivot)/original (mine)/merge
// (current merge output) side-files beside workPath and runs the
// configured tool, substituting its argument template.
func InvokeExternal(tool ExternalTool, workPath string, pivot, mine, merged []byte) error {
	baseline := workPath + ".baseline"
	original := workPath + ".original"
	mergeFile := workPath + ".merge"
	if err := os.WriteFile(baseline, pivot, 0o644); err != nil {
		return fmt.Errorf("merge: write baseline side-file: %w", err)
	}
	if err := os.WriteFile(original, mine, 0o644); err != nil {
		return fmt.Errorf("merge: write original side-file: %w", err)
	}
	if err := os.WriteFile(mergeFile, merged, 0o644); err != nil {
		return fmt.Errorf("merge: write merge side-file: %w", err)
	}
	args := make([]string, len(tool.ArgsTemplate))
	for i, a := range tool.ArgsTemplate {
		a = strings.ReplaceAll(a, "%baseline%", baseline)
		a = strings.ReplaceAll(a, "%original%", original)
		a = strings.ReplaceAll(a, "%merge%", mergeFile)
		args[i] = a
	}
	cmd := exec.Command(tool.Command, args...)
	return cmd.Run()
}
