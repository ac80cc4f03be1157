// Package buffer is an in-memory text document with grouped undo/redo and ordered change
// notifications.
package buffer

import (
	"errors"
	"fmt"
	"os"
	"slices"
	"sync"
)

var (
	ErrOutOfRange = errors.New("edit outside buffer")
	ErrOverlap    = errors.New("edits overlap")
	ErrStaleTick  = errors.New("buffer changed since snapshot")
)

// Edit replaces the bytes in [Start, End) with Text. Offsets refer to the buffer before any
// edit of the same Apply call.
type Edit struct {
	Start int
	End   int
	Text  string
}

// Change records one replacement as it was applied: OldLen bytes at Offset became NewLen
// bytes. Offsets refer to the buffer as left by the previous change of the same event.
type Change struct {
	Offset int
	OldLen int
	NewLen int
}

// ChangeKind says where a change event came from.
type ChangeKind int

const (
	KindEdit  ChangeKind = iota // Apply
	KindUndo                    // Undo
	KindRedo                    // Redo
	KindReset                   // Reset replaced the whole text
)

func (k ChangeKind) String() string {
	switch k {
	case KindEdit:
		return "edit"
	case KindUndo:
		return "undo"
	case KindRedo:
		return "redo"
	case KindReset:
		return "reset"
	default:
		return "unknown"
	}
}

// ChangeEvent is delivered to subscribers after every mutation.
type ChangeEvent struct {
	Kind    ChangeKind
	Changes []Change
	Tick    uint64
}

// HistoryJump reports whether the event moved through undo history or replaced the text,
// which position trackers cannot follow incrementally.
func (ev ChangeEvent) HistoryJump() bool {
	return ev.Kind != KindEdit
}

// step is one applied replacement, kept for undo.
type step struct {
	offset int
	before string
	after  string
}

type group struct {
	id    uint64
	steps []step
}

type listener struct {
	id int
	fn func(ChangeEvent)
}

// Buffer holds the document text. It is safe for concurrent use; subscribers are called
// after the buffer lock is released, in subscription order.
type Buffer struct {
	mu         sync.Mutex
	text       string
	undo       []group
	redo       []group
	undoGroup  uint64
	savePoint  int
	changeTick uint64
	listeners  []listener
	nextID     int
}

func New(text string) *Buffer {
	return &Buffer{text: text}
}

// Load reads path into a new buffer.
func Load(path string) (*Buffer, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return New(string(data)), nil
}

// Save writes the text to path and marks the buffer clean.
func (b *Buffer) Save(path string) error {
	b.mu.Lock()
	text := b.text
	b.mu.Unlock()
	if err := os.WriteFile(path, []byte(text), 0o644); err != nil {
		return err
	}
	b.MarkSaved()
	return nil
}

func (b *Buffer) Text() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.text
}

func (b *Buffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.text)
}

// Slice returns the text in [start, end).
func (b *Buffer) Slice(start, end int) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if start < 0 || end < start || end > len(b.text) {
		return "", fmt.Errorf("%w: [%d,%d) len %d", ErrOutOfRange, start, end, len(b.text))
	}
	return b.text[start:end], nil
}

// Snapshot returns the text together with the change tick it belongs to.
func (b *Buffer) Snapshot() (string, uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.text, b.changeTick
}

func (b *Buffer) ChangeTick() uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.changeTick
}

// Dirty reports whether the text differs from the last save point.
func (b *Buffer) Dirty() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.undo) != b.savePoint
}

func (b *Buffer) MarkSaved() {
	b.mu.Lock()
	b.savePoint = len(b.undo)
	b.mu.Unlock()
}

func (b *Buffer) CanUndo() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.undo) > 0
}

func (b *Buffer) CanRedo() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.redo) > 0
}

// Subscribe registers fn for every change event and returns a function removing it.
func (b *Buffer) Subscribe(fn func(ChangeEvent)) func() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nextID++
	id := b.nextID
	b.listeners = append(b.listeners, listener{id: id, fn: fn})
	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		b.listeners = slices.DeleteFunc(b.listeners, func(l listener) bool { return l.id == id })
	}
}

// Apply performs all edits as one undoable step. Edits must not overlap; they are written
// from the highest offset to the lowest. Nothing is changed when any edit is invalid.
func (b *Buffer) Apply(edits ...Edit) error {
	b.mu.Lock()
	return b.apply(edits)
}

// ApplyAt is Apply that fails with ErrStaleTick unless the buffer is still at tick.
func (b *Buffer) ApplyAt(tick uint64, edits ...Edit) error {
	b.mu.Lock()
	if b.changeTick != tick {
		current := b.changeTick
		b.mu.Unlock()
		return fmt.Errorf("%w: tick %d, now %d", ErrStaleTick, tick, current)
	}
	return b.apply(edits)
}

// apply is called with b.mu held and releases it.
func (b *Buffer) apply(edits []Edit) error {
	ordered, err := validate(b.text, edits)
	if err != nil {
		b.mu.Unlock()
		return err
	}
	if len(ordered) == 0 {
		b.mu.Unlock()
		return nil
	}
	g := group{}
	changes := make([]Change, 0, len(ordered))
	for _, e := range ordered {
		s := step{offset: e.Start, before: b.text[e.Start:e.End], after: e.Text}
		b.text = b.text[:e.Start] + e.Text + b.text[e.End:]
		g.steps = append(g.steps, s)
		changes = append(changes, Change{Offset: s.offset, OldLen: len(s.before), NewLen: len(s.after)})
	}
	b.undoGroup++
	g.id = b.undoGroup
	if b.savePoint > len(b.undo) {
		b.savePoint = -1
	}
	b.undo = append(b.undo, g)
	b.redo = b.redo[:0]
	ev := b.finish(KindEdit, changes)
	b.mu.Unlock()

	b.emit(ev)
	return nil
}

func validate(text string, edits []Edit) ([]Edit, error) {
	ordered := make([]Edit, 0, len(edits))
	for _, e := range edits {
		if e.Start < 0 || e.End < e.Start || e.End > len(text) {
			return nil, fmt.Errorf("%w: [%d,%d) len %d", ErrOutOfRange, e.Start, e.End, len(text))
		}
		if e.Start == e.End && e.Text == "" {
			continue
		}
		ordered = append(ordered, e)
	}
	slices.SortStableFunc(ordered, func(x, y Edit) int { return y.Start - x.Start })
	for i := 1; i < len(ordered); i++ {
		if ordered[i].End > ordered[i-1].Start {
			return nil, fmt.Errorf("%w: [%d,%d) and [%d,%d)", ErrOverlap,
				ordered[i].Start, ordered[i].End, ordered[i-1].Start, ordered[i-1].End)
		}
	}
	return ordered, nil
}

// Insert is Apply with a single insertion.
func (b *Buffer) Insert(offset int, text string) error {
	return b.Apply(Edit{Start: offset, End: offset, Text: text})
}

// Delete is Apply with a single deletion.
func (b *Buffer) Delete(start, end int) error {
	return b.Apply(Edit{Start: start, End: end})
}

// Reset replaces the whole text and drops the undo history.
func (b *Buffer) Reset(text string) {
	b.mu.Lock()
	old := b.text
	b.text = text
	b.undo = nil
	b.redo = nil
	b.savePoint = -1
	ev := b.finish(KindReset, []Change{{Offset: 0, OldLen: len(old), NewLen: len(text)}})
	b.mu.Unlock()

	b.emit(ev)
}

// Undo reverts the most recent Apply. It reports false when there is nothing to undo.
func (b *Buffer) Undo() bool {
	b.mu.Lock()
	if len(b.undo) == 0 {
		b.mu.Unlock()
		return false
	}
	g := b.undo[len(b.undo)-1]
	b.undo = b.undo[:len(b.undo)-1]
	changes := make([]Change, 0, len(g.steps))
	for i := len(g.steps) - 1; i >= 0; i-- {
		s := g.steps[i]
		b.text = b.text[:s.offset] + s.before + b.text[s.offset+len(s.after):]
		changes = append(changes, Change{Offset: s.offset, OldLen: len(s.after), NewLen: len(s.before)})
	}
	b.redo = append(b.redo, g)
	ev := b.finish(KindUndo, changes)
	b.mu.Unlock()

	b.emit(ev)
	return true
}

// Redo re-applies the most recently undone Apply.
func (b *Buffer) Redo() bool {
	b.mu.Lock()
	if len(b.redo) == 0 {
		b.mu.Unlock()
		return false
	}
	g := b.redo[len(b.redo)-1]
	b.redo = b.redo[:len(b.redo)-1]
	changes := make([]Change, 0, len(g.steps))
	for _, s := range g.steps {
		b.text = b.text[:s.offset] + s.after + b.text[s.offset+len(s.before):]
		changes = append(changes, Change{Offset: s.offset, OldLen: len(s.before), NewLen: len(s.after)})
	}
	b.undo = append(b.undo, g)
	ev := b.finish(KindRedo, changes)
	b.mu.Unlock()

	b.emit(ev)
	return true
}

// finish bumps the change tick and snapshots listeners. Callers hold b.mu.
func (b *Buffer) finish(kind ChangeKind, changes []Change) pendingEvent {
	b.changeTick++
	return pendingEvent{
		ev:        ChangeEvent{Kind: kind, Changes: changes, Tick: b.changeTick},
		listeners: slices.Clone(b.listeners),
	}
}

type pendingEvent struct {
	ev        ChangeEvent
	listeners []listener
}

func (b *Buffer) emit(p pendingEvent) {
	for _, l := range p.listeners {
		l.fn(p.ev)
	}
}
