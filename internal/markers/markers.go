// Package markers serializes changed diff blocks into marker-delimited text and scans such
// text back into block ranges.
//
// A changed unit is written as
//
//	>>>>>>>>>>>> incoming
//	<incoming lines>
//	============
//	<original lines>
//	<<<<<<<<<<<<
//
// Every marker occupies its own line and uses a run of at least MinRun identical characters.
// When a side does not end with a newline (only possible at the end of a document) the codec
// writes one anyway and flags the marker that closes that side with NoNewline, so decoding
// can give back the exact bytes.
package markers

import (
	"errors"
	"fmt"
	"strings"

	"github.com/kobzarvs/fuzzypaste/internal/linediff"
)

const (
	// MinRun is the shortest marker run that is recognized.
	MinRun = 10
	// DefaultLength is the marker run written by the encoder.
	DefaultLength = 72
	// DefaultLabel annotates the incoming-start marker.
	DefaultLabel = "incoming"
	// NoNewline flags a boundary or end marker whose preceding body has no final newline.
	NoNewline = `\ no newline`
)

// ErrCollision reports input lines that read as markers, so the encoded text would not
// decode back into the blocks it was written from.
var ErrCollision = errors.New("text contains marker lines")

const (
	startChar    = '>'
	boundaryChar = '='
	endChar      = '<'
)

// Range is a half-open byte range.
type Range struct {
	Start int
	End   int
}

// Len returns the number of bytes in r.
func (r Range) Len() int {
	return r.End - r.Start
}

// Empty reports whether r covers no bytes.
func (r Range) Empty() bool {
	return r.End <= r.Start
}

// Block locates one well-formed changed unit inside marked text.
//
// Full covers the markers too. Incoming and Original cover the bodies between the first two
// and the last two markers.
type Block struct {
	Full     Range
	Incoming Range
	Original Range
}

// Codec writes marker text.
type Codec struct {
	length int
	label  string
}

// NewCodec returns a codec writing markers of the given run length and start label.
// Lengths below MinRun are raised to MinRun.
func NewCodec(length int, label string) *Codec {
	if length < MinRun {
		length = MinRun
	}
	return &Codec{length: length, label: strings.TrimSpace(label)}
}

// StartMarker returns the incoming-start marker line, newline included.
func (c *Codec) StartMarker() string {
	line := strings.Repeat(string(startChar), c.length)
	if c.label != "" {
		line += " " + c.label
	}
	return line + "\n"
}

// BoundaryMarker returns the boundary marker line.
func (c *Codec) BoundaryMarker(noNewline bool) string {
	return c.closer(boundaryChar, noNewline)
}

// EndMarker returns the end marker line.
func (c *Codec) EndMarker(noNewline bool) string {
	return c.closer(endChar, noNewline)
}

func (c *Codec) closer(ch byte, noNewline bool) string {
	line := strings.Repeat(string(ch), c.length)
	if noNewline {
		line += " " + NoNewline
	}
	return line + "\n"
}

// Encode writes blocks as one document. Unchanged text is copied verbatim.
//
// The result is scanned before it is returned. If any line of the inputs reads as a marker
// and the scan would not give back exactly the changed blocks, Encode fails with
// ErrCollision.
func (c *Codec) Encode(blocks []linediff.Block) (string, error) {
	var (
		b      strings.Builder
		starts []int
	)
	for _, blk := range blocks {
		if !blk.Changed {
			b.WriteString(blk.Text)
			continue
		}
		starts = append(starts, b.Len())
		b.WriteString(c.StartMarker())
		incomingNL := writeBody(&b, blk.Incoming)
		b.WriteString(c.BoundaryMarker(incomingNL))
		originalNL := writeBody(&b, blk.Original)
		b.WriteString(c.EndMarker(originalNL))
	}
	text := b.String()
	if err := verify(text, blocks, starts); err != nil {
		return "", err
	}
	return text, nil
}

func verify(text string, blocks []linediff.Block, starts []int) error {
	got, malformed := Scan(text)
	if len(malformed) > 0 {
		m := malformed[0]
		return fmt.Errorf("%w: %s at offset %d", ErrCollision, m.Reason, m.Offset)
	}
	if len(got) != len(starts) {
		return fmt.Errorf("%w: %d blocks decoded, want %d", ErrCollision, len(got), len(starts))
	}
	i := 0
	for _, blk := range blocks {
		if !blk.Changed {
			continue
		}
		g := got[i]
		if g.Full.Start != starts[i] ||
			text[g.Incoming.Start:g.Incoming.End] != blk.Incoming ||
			text[g.Original.Start:g.Original.End] != blk.Original {
			return fmt.Errorf("%w: block at offset %d does not decode to its own sides", ErrCollision, starts[i])
		}
		i++
	}
	return nil
}

// writeBody writes body and terminates it with a newline if needed. It reports whether the
// newline was synthesized.
func writeBody(b *strings.Builder, body string) bool {
	b.WriteString(body)
	if body != "" && !strings.HasSuffix(body, "\n") {
		b.WriteByte('\n')
		return true
	}
	return false
}
