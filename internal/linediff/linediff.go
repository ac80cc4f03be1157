// Package linediff computes line-granularity diffs and coalesces them into changed and
// unchanged blocks.
package linediff

import (
	"strings"

	"znkr.io/diff"
	"znkr.io/diff/textdiff"
)

// Op tags a diff segment.
type Op int

const (
	Unchanged Op = iota // Text shared by both sides
	Added               // Text present only in the candidate
	Removed             // Text present only in the original
)

func (op Op) String() string {
	switch op {
	case Unchanged:
		return "unchanged"
	case Added:
		return "added"
	case Removed:
		return "removed"
	default:
		return "unknown"
	}
}

// Segment is a run of whole lines with the same tag.
type Segment struct {
	Op   Op
	Text string
}

// Block is either an unchanged passthrough span or a changed unit carrying both sides.
type Block struct {
	Changed  bool
	Text     string // Unchanged text, empty for changed units
	Incoming string // Candidate side of a changed unit
	Original string // Original side of a changed unit
}

// Options tunes the underlying line diff.
type Options struct {
	IndentHeuristic bool
}

// Segments diffs original against candidate line by line. Whitespace is significant.
// Within every maximal run of non-matching lines the removed lines come first, then the
// added lines.
func Segments(original, candidate string, opts Options) []Segment {
	var dopts []diff.Option
	if opts.IndentHeuristic {
		dopts = append(dopts, textdiff.IndentHeuristic())
	}
	edits := textdiff.Edits(original, candidate, dopts...)

	var segs []Segment
	var same, del, ins strings.Builder
	flushChanges := func() {
		if del.Len() > 0 {
			segs = append(segs, Segment{Removed, del.String()})
			del.Reset()
		}
		if ins.Len() > 0 {
			segs = append(segs, Segment{Added, ins.String()})
			ins.Reset()
		}
	}
	flushUnchanged := func() {
		if same.Len() > 0 {
			segs = append(segs, Segment{Unchanged, same.String()})
			same.Reset()
		}
	}
	for _, edit := range edits {
		switch edit.Op {
		case diff.Match:
			flushChanges()
			same.WriteString(edit.Line)
		case diff.Delete:
			flushUnchanged()
			del.WriteString(edit.Line)
		case diff.Insert:
			flushUnchanged()
			ins.WriteString(edit.Line)
		}
	}
	flushChanges()
	flushUnchanged()
	return segs
}

// Coalesce pairs adjacent added/removed segments into changed units with a one segment
// lookahead. The added text is always the incoming side and the removed text the original
// side, whichever came first.
func Coalesce(segs []Segment) []Block {
	blocks := make([]Block, 0, len(segs))
	for i := 0; i < len(segs); i++ {
		cur := segs[i]
		var next *Segment
		if i+1 < len(segs) {
			next = &segs[i+1]
		}
		switch cur.Op {
		case Added:
			if next != nil && next.Op == Removed {
				blocks = append(blocks, Block{Changed: true, Incoming: cur.Text, Original: next.Text})
				i++
			} else {
				blocks = append(blocks, Block{Changed: true, Incoming: cur.Text})
			}
		case Removed:
			if next != nil && next.Op == Added {
				blocks = append(blocks, Block{Changed: true, Incoming: next.Text, Original: cur.Text})
				i++
			} else {
				blocks = append(blocks, Block{Changed: true, Original: cur.Text})
			}
		default:
			blocks = append(blocks, Block{Text: cur.Text})
		}
	}
	return blocks
}

// Diff returns the coalesced blocks turning original into candidate.
func Diff(original, candidate string, opts Options) []Block {
	return Coalesce(Segments(original, candidate, opts))
}

// Incoming reassembles the candidate text from blocks.
func Incoming(blocks []Block) string {
	var b strings.Builder
	for _, blk := range blocks {
		if blk.Changed {
			b.WriteString(blk.Incoming)
		} else {
			b.WriteString(blk.Text)
		}
	}
	return b.String()
}

// Original reassembles the original text from blocks.
func Original(blocks []Block) string {
	var b strings.Builder
	for _, blk := range blocks {
		if blk.Changed {
			b.WriteString(blk.Original)
		} else {
			b.WriteString(blk.Text)
		}
	}
	return b.String()
}

// Changes counts the changed units in blocks.
func Changes(blocks []Block) int {
	n := 0
	for _, blk := range blocks {
		if blk.Changed {
			n++
		}
	}
	return n
}
