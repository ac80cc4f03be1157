// Package session drives merge and resolution over one document.
//
// A Session owns the tracker registry and the materialized blocks of its document. Every
// operation that mutates the document re-decodes the markers afterwards and notifies
// subscribers with the fresh block set. Merges and resolutions pass through a single-slot
// gate: a merge waits for the slot, a resolution is refused while it is taken.
package session

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/kobzarvs/fuzzypaste/internal/buffer"
	"github.com/kobzarvs/fuzzypaste/internal/diffblock"
	"github.com/kobzarvs/fuzzypaste/internal/linediff"
	"github.com/kobzarvs/fuzzypaste/internal/logger"
	"github.com/kobzarvs/fuzzypaste/internal/markers"
	"github.com/kobzarvs/fuzzypaste/internal/proposal"
	"github.com/kobzarvs/fuzzypaste/internal/resolve"
	"github.com/kobzarvs/fuzzypaste/internal/tracker"
)

var (
	ErrConcurrentResolution = errors.New("another merge or resolution is in progress")
	ErrProposalFailed       = errors.New("merge proposal failed")
	ErrNoSuchBlock          = errors.New("no such block")
	ErrDocumentChanged      = errors.New("document changed during the operation")
)

// Document is the text a session works on. *buffer.Buffer implements it.
type Document interface {
	Snapshot() (string, uint64)
	ApplyAt(tick uint64, edits ...buffer.Edit) error
	Subscribe(fn func(buffer.ChangeEvent)) func()
}

// Options configure marker output and diffing.
type Options struct {
	Codec *markers.Codec
	Diff  linediff.Options
}

// Session tracks the diff blocks of one document.
type Session struct {
	doc   Document
	codec *markers.Codec
	diff  linediff.Options

	gate chan struct{}

	mu        sync.Mutex
	reg       *tracker.Registry
	blocks    []diffblock.Block
	malformed []markers.Malformed
	tick      uint64
	pending   uint64
	subs      []func([]markers.Block)

	unsubscribe func()
}

// New decodes doc and starts following its change notifications.
func New(doc Document, opts Options) *Session {
	codec := opts.Codec
	if codec == nil {
		codec = markers.NewCodec(markers.DefaultLength, markers.DefaultLabel)
	}
	s := &Session{
		doc:   doc,
		codec: codec,
		diff:  opts.Diff,
		gate:  make(chan struct{}, 1),
		reg:   tracker.NewRegistry(),
	}
	s.unsubscribe = doc.Subscribe(s.Absorb)
	s.Refresh()
	return s
}

// Close stops following the document.
func (s *Session) Close() {
	if s.unsubscribe != nil {
		s.unsubscribe()
		s.unsubscribe = nil
	}
}

// OnBlocks registers fn to receive the block set after every recompute and edit.
func (s *Session) OnBlocks(fn func([]markers.Block)) {
	s.mu.Lock()
	s.subs = append(s.subs, fn)
	s.mu.Unlock()
}

// Merge asks p for a candidate of the current text and replaces the document with the marked
// merge of the two. It waits for any merge or resolution in progress. When the proposal
// fails or ctx ends the document is left untouched. It returns the number of blocks written.
func (s *Session) Merge(ctx context.Context, p proposal.Proposer) (int, error) {
	select {
	case s.gate <- struct{}{}:
	case <-ctx.Done():
		return 0, fmt.Errorf("%w: %w", ErrProposalFailed, ctx.Err())
	}
	defer s.release()

	original, tick := s.doc.Snapshot()
	logger.Info("merge started", "bytes", len(original))
	candidate, err := p.Propose(ctx, original)
	if err == nil {
		err = ctx.Err()
	}
	if err != nil {
		logger.Warn("merge proposal failed", "error", err)
		return 0, fmt.Errorf("%w: %w", ErrProposalFailed, err)
	}
	return s.insert(tick, original, candidate)
}

// Insert replaces the document with the marked merge of original and candidate.
func (s *Session) Insert(original, candidate string) (int, error) {
	if !s.acquire() {
		return 0, ErrConcurrentResolution
	}
	defer s.release()

	current, tick := s.doc.Snapshot()
	if current != original {
		return 0, fmt.Errorf("%w: document is not the merge base", ErrDocumentChanged)
	}
	return s.insert(tick, original, candidate)
}

func (s *Session) insert(tick uint64, original, candidate string) (int, error) {
	diff := linediff.Diff(original, candidate, s.diff)
	changed := linediff.Changes(diff)
	if changed == 0 {
		logger.Info("merge found no differences")
		s.Refresh()
		return 0, nil
	}
	marked, err := s.codec.Encode(diff)
	if err != nil {
		logger.Warn("merge not written", "error", err)
		return 0, err
	}
	if err := s.write(tick, buffer.Edit{Start: 0, End: len(original), Text: marked}); err != nil {
		return 0, err
	}
	logger.Info("merge inserted", "blocks", changed)
	return changed, nil
}

// Resolve keeps the chosen side of block index and drops the rest of the block.
func (s *Session) Resolve(index int, c resolve.Choice) error {
	if !s.acquire() {
		return ErrConcurrentResolution
	}
	defer s.release()

	text, tick, live := s.live()
	if index < 0 || index >= len(live) {
		return fmt.Errorf("%w: %d of %d", ErrNoSuchBlock, index, len(live))
	}
	reps, err := resolve.Plan(text, live[index:index+1], c)
	if err != nil {
		return err
	}
	if err := s.apply(tick, reps); err != nil {
		return err
	}
	logger.Info("block resolved", "index", index, "choice", c)
	return nil
}

// ResolveAll keeps the chosen side of every block in one undoable edit.
func (s *Session) ResolveAll(c resolve.Choice) (int, error) {
	if !s.acquire() {
		return 0, ErrConcurrentResolution
	}
	defer s.release()

	text, tick, live := s.live()
	if len(live) == 0 {
		return 0, nil
	}
	reps, err := resolve.Plan(text, live, c)
	if err != nil {
		return 0, err
	}
	if err := s.apply(tick, reps); err != nil {
		return 0, err
	}
	logger.Info("all blocks resolved", "count", len(live), "choice", c)
	return len(live), nil
}

// Absorb follows one document change. Plain edits move the trackers, and the moved blocks are
// checked against the markers in the new text. Undo, redo, reset and out-of-order
// notifications re-decode the whole document.
func (s *Session) Absorb(ev buffer.ChangeEvent) {
	if ev.HistoryJump() {
		logger.Debug("history jump, recomputing blocks", "kind", ev.Kind, "tick", ev.Tick)
		s.Refresh()
		return
	}

	s.mu.Lock()
	if ev.Tick <= s.tick || ev.Tick == s.pending {
		s.mu.Unlock()
		return
	}
	if ev.Tick != s.tick+1 {
		s.mu.Unlock()
		logger.Debug("missed change notification, recomputing blocks", "tick", ev.Tick)
		s.Refresh()
		return
	}
	changes := make([]tracker.Change, 0, len(ev.Changes))
	for _, c := range ev.Changes {
		changes = append(changes, tracker.Change{Offset: c.Offset, OldLen: c.OldLen, NewLen: c.NewLen})
	}
	s.reg.Apply(changes...)
	s.tick = ev.Tick
	text, tick := s.doc.Snapshot()
	live := s.current(text, tick)
	subs := slices.Clone(s.subs)
	s.mu.Unlock()

	notify(subs, live)
}

// Refresh re-decodes the document, replaces every tracked block and notifies subscribers.
func (s *Session) Refresh() []markers.Block {
	s.mu.Lock()
	text, tick := s.doc.Snapshot()
	ranges := s.materialize(text, tick)
	subs := slices.Clone(s.subs)
	s.mu.Unlock()

	notify(subs, ranges)
	return slices.Clone(ranges)
}

// materialize is called with s.mu held.
func (s *Session) materialize(text string, tick uint64) []markers.Block {
	ranges, malformed := markers.Scan(text)
	return s.install(ranges, malformed, tick)
}

func (s *Session) install(ranges []markers.Block, malformed []markers.Malformed, tick uint64) []markers.Block {
	s.blocks = diffblock.Materialize(s.reg, ranges)
	s.malformed = malformed
	s.tick = tick
	for _, m := range malformed {
		logger.Debug("malformed marker sequence", "offset", m.Offset, "reason", m.Reason)
	}
	logger.Debug("blocks decoded", "count", len(ranges), "generation", s.reg.Generation())
	return ranges
}

// Blocks returns the current offsets of every block.
func (s *Session) Blocks() ([]markers.Block, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	text, tick := s.doc.Snapshot()
	return s.current(text, tick), nil
}

// Malformed returns the marker sequences the last decode skipped.
func (s *Session) Malformed() []markers.Malformed {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.malformed)
}

// live returns the text, its tick and the block offsets for that text.
func (s *Session) live() (string, uint64, []markers.Block) {
	s.mu.Lock()
	defer s.mu.Unlock()
	text, tick := s.doc.Snapshot()
	return text, tick, s.current(text, tick)
}

// current decodes text and keeps the tracked blocks when they still sit exactly on its
// markers. Otherwise the trackers are replaced by the decode. Called with s.mu held.
func (s *Session) current(text string, tick uint64) []markers.Block {
	ranges, malformed := markers.Scan(text)
	if tick == s.tick {
		tracked, err := diffblock.ResolveAll(s.reg, s.blocks)
		if err == nil && slices.Equal(tracked, ranges) {
			s.malformed = malformed
			return tracked
		}
		logger.Debug("tracked blocks drifted from markers, recomputing", "tick", tick, "error", err)
	}
	return slices.Clone(s.install(ranges, malformed, tick))
}

func (s *Session) apply(tick uint64, reps []resolve.Replacement) error {
	ordered, err := resolve.Descending(reps)
	if err != nil {
		return err
	}
	edits := make([]buffer.Edit, 0, len(ordered))
	for _, r := range ordered {
		edits = append(edits, buffer.Edit{Start: r.Range.Start, End: r.Range.End, Text: r.Text})
	}
	return s.write(tick, edits...)
}

// write applies edits at tick and re-decodes. The notification for its own edit is skipped
// since the re-decode supersedes it.
func (s *Session) write(tick uint64, edits ...buffer.Edit) error {
	s.mu.Lock()
	s.pending = tick + 1
	s.mu.Unlock()
	err := s.doc.ApplyAt(tick, edits...)
	s.mu.Lock()
	s.pending = 0
	s.mu.Unlock()
	if err != nil {
		if errors.Is(err, buffer.ErrStaleTick) {
			return fmt.Errorf("%w: %w", ErrDocumentChanged, err)
		}
		return err
	}
	s.Refresh()
	return nil
}

func (s *Session) acquire() bool {
	select {
	case s.gate <- struct{}{}:
		return true
	default:
		return false
	}
}

func (s *Session) release() {
	<-s.gate
}

func notify(subs []func([]markers.Block), blocks []markers.Block) {
	for _, fn := range subs {
		fn(slices.Clone(blocks))
	}
}
