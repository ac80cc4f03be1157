// Package tracker keeps byte offsets into a text buffer valid while the buffer is edited.
//
// A Registry is an arena of offsets addressed by Handle. Callers register offsets, feed every
// edit to Apply in notification order, and Clear the whole arena when the tracked ranges are
// recomputed. Handles from a cleared generation fail with ErrStale instead of returning an
// offset that no longer means anything.
package tracker

import (
	"errors"
	"fmt"
)

// ErrStale is returned when a handle is read after its registry was cleared.
var ErrStale = errors.New("stale tracker handle")

// Change describes one edit: oldLen bytes at Offset were replaced by newLen bytes.
type Change struct {
	Offset int
	OldLen int
	NewLen int
}

// Delta returns how much the buffer grew (negative when it shrank).
func (c Change) Delta() int {
	return c.NewLen - c.OldLen
}

// Handle identifies a tracked offset within one registry generation.
type Handle struct {
	gen uint64
	idx int
}

// Registry owns all tracked offsets of one document.
type Registry struct {
	gen     uint64
	offsets []int
}

func NewRegistry() *Registry {
	return &Registry{gen: 1}
}

// Track registers offset and returns its handle.
func (r *Registry) Track(offset int) Handle {
	r.offsets = append(r.offsets, offset)
	return Handle{gen: r.gen, idx: len(r.offsets) - 1}
}

// Offset returns the current offset for h.
func (r *Registry) Offset(h Handle) (int, error) {
	if h.gen != r.gen || h.idx < 0 || h.idx >= len(r.offsets) {
		return 0, fmt.Errorf("%w: generation %d, current %d", ErrStale, h.gen, r.gen)
	}
	return r.offsets[h.idx], nil
}

// Apply moves every tracked offset across the given changes, in order. Each change is
// relative to the buffer as left by the previous one.
//
// Offsets at or before a change's start stay put. Offsets at or after the end of the
// replaced span shift by the change's delta. Offsets strictly inside a replaced span are
// clamped into the replacement.
func (r *Registry) Apply(changes ...Change) {
	for _, c := range changes {
		end := c.Offset + c.OldLen
		delta := c.Delta()
		for i, off := range r.offsets {
			switch {
			case off <= c.Offset:
			case off >= end:
				r.offsets[i] = off + delta
			default:
				r.offsets[i] = c.Offset + min(off-c.Offset, c.NewLen)
			}
		}
	}
}

// Clear drops every tracked offset and invalidates all outstanding handles.
func (r *Registry) Clear() {
	r.offsets = r.offsets[:0]
	r.gen++
}

// Len reports how many offsets are tracked.
func (r *Registry) Len() int {
	return len(r.offsets)
}

// Generation identifies the current set of handles.
func (r *Registry) Generation() uint64 {
	return r.gen
}
