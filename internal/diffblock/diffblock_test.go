package diffblock

import (
	"errors"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/kobzarvs/fuzzypaste/internal/linediff"
	"github.com/kobzarvs/fuzzypaste/internal/markers"
	"github.com/kobzarvs/fuzzypaste/internal/tracker"
)

func markedDoc(t *testing.T) string {
	t.Helper()
	blocks := linediff.Diff("a\nb\nc\nd\ne\n", "a\nB\nc\nD\ne\n", linediff.Options{})
	doc, err := markers.NewCodec(10, "").Encode(blocks)
	if err != nil {
		t.Fatalf("Encode error: %v", err)
	}
	return doc
}

func TestMaterializeMatchesDecode(t *testing.T) {
	doc := markedDoc(t)
	ranges := markers.Decode(doc)
	reg := tracker.NewRegistry()
	blocks := Materialize(reg, ranges)
	if len(blocks) != 2 {
		t.Fatalf("blocks = %d, want 2", len(blocks))
	}
	if reg.Len() != 12 {
		t.Fatalf("tracked = %d, want 12", reg.Len())
	}
	got, err := ResolveAll(reg, blocks)
	if err != nil {
		t.Fatalf("ResolveAll error: %v", err)
	}
	if diff := cmp.Diff(ranges, got); diff != "" {
		t.Fatalf("resolved mismatch (-want +got):\n%s", diff)
	}
}

func TestMaterializeResetsRegistry(t *testing.T) {
	doc := markedDoc(t)
	reg := tracker.NewRegistry()
	old := Materialize(reg, markers.Decode(doc))
	fresh := Materialize(reg, markers.Decode(doc))

	if reg.Len() != 12 {
		t.Fatalf("tracked = %d, want 12", reg.Len())
	}
	if _, err := old[0].Resolve(reg); !errors.Is(err, tracker.ErrStale) {
		t.Fatalf("old block error = %v, want ErrStale", err)
	}
	if _, err := fresh[0].Resolve(reg); err != nil {
		t.Fatalf("fresh block error: %v", err)
	}
}

// Edits outside and inside the bodies keep every range on the same marker-bounded content.
func TestTrackedRangesFollowEdits(t *testing.T) {
	doc := markedDoc(t)
	reg := tracker.NewRegistry()
	blocks := Materialize(reg, markers.Decode(doc))

	edit := func(offset, oldLen int, text string) {
		doc = doc[:offset] + text + doc[offset+oldLen:]
		reg.Apply(tracker.Change{Offset: offset, OldLen: oldLen, NewLen: len(text)})
	}

	// Prepend a line, type inside the first incoming body, drop the unchanged "c" line.
	edit(0, 0, "header\n")
	r0, _ := blocks[0].Resolve(reg)
	edit(r0.Incoming.Start+1, 0, "more")
	c := strings.Index(doc, "c\n")
	edit(c, 2, "")

	got, err := ResolveAll(reg, blocks)
	if err != nil {
		t.Fatalf("ResolveAll error: %v", err)
	}
	want := markers.Decode(doc)
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("tracked ranges drifted (-decoded +tracked):\n%s", diff)
	}
	if text := doc[got[0].Incoming.Start:got[0].Incoming.End]; text != "Bmore\n" {
		t.Fatalf("incoming body = %q, want %q", text, "Bmore\n")
	}
}
