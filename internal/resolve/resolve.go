// Package resolve turns accept/reject decisions into text replacements and applies them.
//
// Every replacement is read from the text before anything is mutated. Apply then writes
// them from the highest offset to the lowest so pending lower ranges never move.
package resolve

import (
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/kobzarvs/fuzzypaste/internal/markers"
)

var (
	ErrOutOfRange = errors.New("range outside text")
	ErrOverlap    = errors.New("replacements overlap")
)

// Choice selects which side of a changed unit survives.
type Choice int

const (
	Incoming Choice = iota // Keep the candidate text
	Original               // Keep the original text
)

func (c Choice) String() string {
	switch c {
	case Incoming:
		return "incoming"
	case Original:
		return "original"
	default:
		return fmt.Sprintf("Choice(%d)", int(c))
	}
}

// ParseChoice accepts "incoming", "accept" or "theirs" for Incoming and "original", "reject"
// or "ours" for Original, in any case.
func ParseChoice(s string) (Choice, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "incoming", "accept", "theirs":
		return Incoming, nil
	case "original", "reject", "ours":
		return Original, nil
	default:
		return 0, fmt.Errorf("unknown choice %q (want incoming or original)", s)
	}
}

// Replacement swaps Range for Text.
type Replacement struct {
	Range markers.Range
	Text  string
}

// Side returns the sub-range of b selected by c.
func Side(b markers.Block, c Choice) markers.Range {
	if c == Original {
		return b.Original
	}
	return b.Incoming
}

// Plan computes one replacement per block: the full marked span becomes the chosen side's
// current text. Nothing is mutated.
func Plan(text string, blocks []markers.Block, c Choice) ([]Replacement, error) {
	reps := make([]Replacement, 0, len(blocks))
	for i, b := range blocks {
		side := Side(b, c)
		if err := check(text, b.Full); err != nil {
			return nil, fmt.Errorf("block %d: %w", i, err)
		}
		if side.Start < b.Full.Start || side.End > b.Full.End || side.Start > side.End {
			return nil, fmt.Errorf("block %d: %w: %s side %v not inside %v", i, ErrOutOfRange, c, side, b.Full)
		}
		reps = append(reps, Replacement{Range: b.Full, Text: text[side.Start:side.End]})
	}
	return reps, nil
}

func check(text string, r markers.Range) error {
	if r.Start < 0 || r.End < r.Start || r.End > len(text) {
		return fmt.Errorf("%w: %v (len %d)", ErrOutOfRange, r, len(text))
	}
	return nil
}

// Descending returns reps ordered from the highest start offset to the lowest, or
// ErrOverlap when two ranges intersect.
func Descending(reps []Replacement) ([]Replacement, error) {
	out := slices.Clone(reps)
	slices.SortStableFunc(out, func(a, b Replacement) int {
		return b.Range.Start - a.Range.Start
	})
	for i := 1; i < len(out); i++ {
		if out[i].Range.End > out[i-1].Range.Start {
			return nil, fmt.Errorf("%w: %v and %v", ErrOverlap, out[i].Range, out[i-1].Range)
		}
	}
	return out, nil
}

// Apply writes reps into text from the highest offset to the lowest.
func Apply(text string, reps []Replacement) (string, error) {
	ordered, err := Descending(reps)
	if err != nil {
		return "", err
	}
	for _, r := range ordered {
		if err := check(text, r.Range); err != nil {
			return "", err
		}
		text = text[:r.Range.Start] + r.Text + text[r.Range.End:]
	}
	return text, nil
}

// ApplyAscending writes precomputed reps from the lowest offset to the highest, shifting
// each range by the growth of the replacements already written. It yields the same text as
// Apply.
func ApplyAscending(text string, reps []Replacement) (string, error) {
	ordered, err := Descending(reps)
	if err != nil {
		return "", err
	}
	slices.Reverse(ordered)
	shift := 0
	for _, r := range ordered {
		rng := markers.Range{Start: r.Range.Start + shift, End: r.Range.End + shift}
		if err := check(text, rng); err != nil {
			return "", err
		}
		text = text[:rng.Start] + r.Text + text[rng.End:]
		shift += len(r.Text) - r.Range.Len()
	}
	return text, nil
}
