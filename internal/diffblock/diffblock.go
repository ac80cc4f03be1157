// Package diffblock binds decoded block ranges to live tracked positions.
package diffblock

import (
	"github.com/kobzarvs/fuzzypaste/internal/markers"
	"github.com/kobzarvs/fuzzypaste/internal/tracker"
)

// Span is a range whose endpoints follow edits.
type Span struct {
	Start tracker.Handle
	End   tracker.Handle
}

// Block is a decoded changed unit whose three ranges are tracked.
type Block struct {
	Full     Span
	Incoming Span
	Original Span
}

// Materialize clears reg and tracks the six endpoints of every range, returning blocks in
// input order. Handles from any earlier call become stale.
func Materialize(reg *tracker.Registry, ranges []markers.Block) []Block {
	reg.Clear()
	blocks := make([]Block, 0, len(ranges))
	for _, r := range ranges {
		blocks = append(blocks, Block{
			Full:     track(reg, r.Full),
			Incoming: track(reg, r.Incoming),
			Original: track(reg, r.Original),
		})
	}
	return blocks
}

func track(reg *tracker.Registry, r markers.Range) Span {
	return Span{Start: reg.Track(r.Start), End: reg.Track(r.End)}
}

// Resolve reads the current offsets of b.
func (b Block) Resolve(reg *tracker.Registry) (markers.Block, error) {
	full, err := b.Full.resolve(reg)
	if err != nil {
		return markers.Block{}, err
	}
	incoming, err := b.Incoming.resolve(reg)
	if err != nil {
		return markers.Block{}, err
	}
	original, err := b.Original.resolve(reg)
	if err != nil {
		return markers.Block{}, err
	}
	return markers.Block{Full: full, Incoming: incoming, Original: original}, nil
}

func (s Span) resolve(reg *tracker.Registry) (markers.Range, error) {
	start, err := reg.Offset(s.Start)
	if err != nil {
		return markers.Range{}, err
	}
	end, err := reg.Offset(s.End)
	if err != nil {
		return markers.Range{}, err
	}
	return markers.Range{Start: start, End: end}, nil
}

// ResolveAll reads the current offsets of every block.
func ResolveAll(reg *tracker.Registry, blocks []Block) ([]markers.Block, error) {
	out := make([]markers.Block, 0, len(blocks))
	for _, b := range blocks {
		r, err := b.Resolve(reg)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, nil
}
