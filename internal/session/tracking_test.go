package session

import (
	"errors"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/kobzarvs/fuzzypaste/internal/buffer"
	"github.com/kobzarvs/fuzzypaste/internal/markers"
	"github.com/kobzarvs/fuzzypaste/internal/resolve"
)

const (
	baseA = "a\nb\nc\nd\ne\n"
	baseB = "a\nB\nc\nD\ne\nF\n"
)

func insertBase(t *testing.T) (*buffer.Buffer, *Session) {
	t.Helper()
	buf, s := newSession(t, baseA)
	n, err := s.Insert(baseA, baseB)
	if err != nil {
		t.Fatalf("Insert error: %v", err)
	}
	if n != 3 {
		t.Fatalf("Insert blocks = %d, want 3", n)
	}
	return buf, s
}

func TestDeletedBoundaryMakesBlockPlainText(t *testing.T) {
	buf, s := insertBase(t)
	b := mustBlocks(t, s)[1]

	// The boundary line sits between the two bodies.
	if err := buf.Delete(b.Incoming.End, b.Original.Start); err != nil {
		t.Fatalf("Delete error: %v", err)
	}
	if got := len(mustBlocks(t, s)); got != 2 {
		t.Fatalf("blocks = %d, want 2", got)
	}
	if bad := s.Malformed(); len(bad) != 1 || bad[0].Offset != b.Full.Start {
		t.Fatalf("Malformed = %v, want one at offset %d", bad, b.Full.Start)
	}

	n, err := s.ResolveAll(resolve.Incoming)
	if err != nil {
		t.Fatalf("ResolveAll error: %v", err)
	}
	if n != 2 {
		t.Fatalf("resolved = %d, want 2", n)
	}
	codec := markers.NewCodec(markers.DefaultLength, markers.DefaultLabel)
	want := "a\nB\nc\n" + codec.StartMarker() + "D\nd\n" + codec.EndMarker(false) + "e\nF\n"
	if got := buf.Text(); got != want {
		t.Fatalf("text = %q, want %q", got, want)
	}
}

func TestInsertBeforeBlockStaysOutside(t *testing.T) {
	buf, s := insertBase(t)
	start := mustBlocks(t, s)[0].Full.Start

	if err := buf.Insert(start, "pre\n"); err != nil {
		t.Fatalf("buffer Insert error: %v", err)
	}
	if got := mustBlocks(t, s)[0].Full.Start; got != start+len("pre\n") {
		t.Fatalf("block 0 start = %d, want %d", got, start+len("pre\n"))
	}
	if err := s.Resolve(0, resolve.Original); err != nil {
		t.Fatalf("Resolve error: %v", err)
	}
	if got := buf.Text(); !strings.HasPrefix(got, "a\npre\nb\nc\n") {
		t.Fatalf("text = %q, want the inserted line kept", got)
	}
}

// edit computes the edits of one step from the current text and blocks.
type edit func(text string, blocks []markers.Block) []buffer.Edit

func insertAt(pos func(text string, blocks []markers.Block) int, s string) edit {
	return func(text string, blocks []markers.Block) []buffer.Edit {
		p := pos(text, blocks)
		return []buffer.Edit{{Start: p, End: p, Text: s}}
	}
}

func TestTrackedBlocksFollowEdits(t *testing.T) {
	tests := []struct {
		name  string
		steps []edit
		want  string // text after accepting every incoming side
	}{
		{
			name: "inside incoming body",
			steps: []edit{insertAt(func(_ string, b []markers.Block) int {
				return b[0].Incoming.Start + 1
			}, "x")},
			want: "a\nBx\nc\nD\ne\nF\n",
		},
		{
			name: "inside original body",
			steps: []edit{insertAt(func(_ string, b []markers.Block) int {
				return b[1].Original.Start + 1
			}, "y")},
			want: baseB,
		},
		{
			name: "replace original body",
			steps: []edit{func(_ string, b []markers.Block) []buffer.Edit {
				return []buffer.Edit{{Start: b[1].Original.Start, End: b[1].Original.End, Text: "dd\n"}}
			}},
			want: baseB,
		},
		{
			name: "fill empty original side",
			steps: []edit{insertAt(func(_ string, b []markers.Block) int {
				return b[2].Original.Start
			}, "g\n")},
			want: baseB,
		},
		{
			name: "between blocks",
			steps: []edit{insertAt(func(_ string, b []markers.Block) int {
				return b[0].Full.End
			}, "between\n")},
			want: "a\nB\nbetween\nc\nD\ne\nF\n",
		},
		{
			name: "delete text between blocks",
			steps: []edit{func(_ string, b []markers.Block) []buffer.Edit {
				return []buffer.Edit{{Start: b[0].Full.End, End: b[1].Full.Start}}
			}},
			want: "a\nB\nD\ne\nF\n",
		},
		{
			name: "before first block",
			steps: []edit{insertAt(func(_ string, b []markers.Block) int {
				return b[0].Full.Start
			}, "pre\n")},
			want: "a\npre\nB\nc\nD\ne\nF\n",
		},
		{
			name:  "document end",
			steps: []edit{insertAt(func(text string, _ []markers.Block) int { return len(text) }, "tail\n")},
			want:  baseB + "tail\n",
		},
		{
			name: "several edits in sequence",
			steps: []edit{
				insertAt(func(_ string, b []markers.Block) int { return b[0].Incoming.Start + 1 }, "x"),
				insertAt(func(_ string, b []markers.Block) int { return b[0].Full.End }, "between\n"),
				insertAt(func(text string, _ []markers.Block) int { return len(text) }, "tail\n"),
				insertAt(func(_ string, b []markers.Block) int { return 0 }, "head\n"),
			},
			want: "head\na\nBx\nbetween\nc\nD\ne\nF\ntail\n",
		},
		{
			name: "multi-span edit",
			steps: []edit{func(_ string, b []markers.Block) []buffer.Edit {
				return []buffer.Edit{
					{Start: b[0].Full.Start, End: b[0].Full.Start, Text: "pre\n"},
					{Start: b[1].Incoming.Start, End: b[1].Incoming.Start, Text: "y"},
				}
			}},
			want: "a\npre\nB\nc\nyD\ne\nF\n",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			buf, s := insertBase(t)
			for i, step := range tt.steps {
				if err := buf.Apply(step(buf.Text(), mustBlocks(t, s))...); err != nil {
					t.Fatalf("step %d: Apply error: %v", i, err)
				}
				want := markers.Decode(buf.Text())
				if diff := cmp.Diff(want, mustBlocks(t, s)); diff != "" {
					t.Fatalf("step %d: blocks mismatch (-decoded +tracked):\n%s", i, diff)
				}
			}
			n, err := s.ResolveAll(resolve.Incoming)
			if err != nil {
				t.Fatalf("ResolveAll error: %v", err)
			}
			if n != 3 {
				t.Fatalf("resolved = %d, want 3", n)
			}
			if got := buf.Text(); got != tt.want {
				t.Fatalf("text = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestInsertRejectsMarkerLikeText(t *testing.T) {
	tests := []struct {
		name           string
		original, cand string
	}{
		{"boundary underline", "x\n", "x\n==========\ny\n"},
		{"end marker line", "a\n", "a\n<<<<<<<<<<\n"},
		{"labelled start line", "a\n", "a\n>>>>>>>>>> note\n"},
		{"start line in original side", "a\n>>>>>>>>>>>>\n", "a\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			buf, s := newSession(t, tt.original)
			_, err := s.Insert(tt.original, tt.cand)
			if !errors.Is(err, markers.ErrCollision) {
				t.Fatalf("Insert error = %v, want ErrCollision", err)
			}
			if got := buf.Text(); got != tt.original {
				t.Fatalf("text = %q, want untouched", got)
			}
			if buf.CanUndo() {
				t.Fatalf("rejected insert left an undo step")
			}
		})
	}
}

var roundTripPairs = []struct{ a, b string }{
	{"", ""},
	{"", "new\n"},
	{"old\n", ""},
	{"a\nb", "a\nc"},
	{"a\nb\n", "a\nb"},
	{"a\nb", "a\nb\n"},
	{"a\r\nb\r\n", "a\r\nB\r\n"},
	{"a\r\nb", "a\r\nB\r\nc\r\n"},
	{"x\n", "x\ny\n"},
	{"x\ny\n", "y\n"},
	{"one\ntwo\nthree\n", "zero\ntwo\nfour\n"},
	{"Title\n==========\n\nbody\n", "Title\n==========\n\nnew body\n"},
}

// checkRoundTrip inserts the merge of a and b, then accepts every incoming side, undoes,
// and accepts every original side.
func checkRoundTrip(t *testing.T, a, b string) {
	t.Helper()
	buf := buffer.New(a)
	s := New(buf, Options{Codec: markers.NewCodec(10, "incoming")})
	defer s.Close()

	n, err := s.Insert(a, b)
	if err != nil {
		if !errors.Is(err, markers.ErrCollision) {
			t.Fatalf("(%q,%q) Insert error: %v", a, b, err)
		}
		if got := buf.Text(); got != a {
			t.Fatalf("(%q,%q) text after rejected insert = %q", a, b, got)
		}
		return
	}
	if n == 0 {
		if got := buf.Text(); got != a {
			t.Fatalf("(%q,%q) text = %q, want untouched", a, b, got)
		}
		return
	}
	if got := len(mustBlocks(t, s)); got != n {
		t.Fatalf("(%q,%q) blocks = %d, want %d", a, b, got, n)
	}
	if _, err := s.ResolveAll(resolve.Incoming); err != nil {
		t.Fatalf("(%q,%q) ResolveAll error: %v", a, b, err)
	}
	if got := buf.Text(); got != b {
		t.Fatalf("(%q,%q) accept incoming = %q", a, b, got)
	}
	if !buf.Undo() {
		t.Fatalf("(%q,%q) Undo returned false", a, b)
	}
	if _, err := s.ResolveAll(resolve.Original); err != nil {
		t.Fatalf("(%q,%q) ResolveAll error: %v", a, b, err)
	}
	if got := buf.Text(); got != a {
		t.Fatalf("(%q,%q) accept original = %q", a, b, got)
	}
}

func TestInsertRoundTrip(t *testing.T) {
	for _, p := range roundTripPairs {
		checkRoundTrip(t, p.a, p.b)
	}
}

func FuzzInsertRoundTrip(f *testing.F) {
	for _, p := range roundTripPairs {
		f.Add(p.a, p.b)
	}
	f.Add("x\n", "x\n==========\ny\n")
	f.Fuzz(checkRoundTrip)
}
