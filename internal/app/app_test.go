package app

import (
	"bytes"
	"encoding/json"
	"errors"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"

	"github.com/gdamore/tcell/v2"

	"github.com/kobzarvs/fuzzypaste/internal/session"
)

const (
	original  = "func main() {\n\tfmt.Println(\"hi\")\n}\n"
	candidate = "func main() {\n\tfmt.Println(\"hello\")\n\tos.Exit(0)\n}\n"
)

type fixture struct {
	dir  string
	doc  string
	out  bytes.Buffer
	errb bytes.Buffer
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{dir: t.TempDir()}
	t.Setenv("FUZZYPASTE_CONFIG_HOME", filepath.Join(f.dir, "config"))
	t.Setenv("FUZZYPASTE_LOG_FILE", filepath.Join(f.dir, "fuzzypaste.log"))
	f.doc = f.write(t, "main.go", original)
	return f
}

func (f *fixture) write(t *testing.T, name, contents string) string {
	t.Helper()
	path := filepath.Join(f.dir, name)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(path, []byte(contents), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	return path
}

func (f *fixture) read(t *testing.T) string {
	t.Helper()
	data, err := os.ReadFile(f.doc)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	return string(data)
}

func (f *fixture) app(args ...string) *App {
	f.out.Reset()
	f.errb.Reset()
	a := New(args)
	a.stdout = &f.out
	a.stderr = &f.errb
	return a
}

func (f *fixture) run(t *testing.T, args ...string) {
	t.Helper()
	if err := f.app(args...).Run(); err != nil {
		t.Fatalf("%s: %v", strings.Join(args, " "), err)
	}
}

func TestMergeListAcceptAll(t *testing.T) {
	f := newFixture(t)
	with := f.write(t, "snippet.go", candidate)

	f.run(t, "merge", f.doc, "--with", with)
	if got := f.out.String(); got != "1 blocks\n" {
		t.Fatalf("merge output = %q, want %q", got, "1 blocks\n")
	}
	marked := f.read(t)
	if !strings.Contains(marked, strings.Repeat(">", 72)+" incoming\n") {
		t.Fatalf("file = %q, want markers", marked)
	}

	f.run(t, "blocks", f.doc, "--json")
	var listed blocksJSON
	if err := json.Unmarshal(f.out.Bytes(), &listed); err != nil {
		t.Fatalf("blocks --json: %v\n%s", err, f.out.String())
	}
	if len(listed.Blocks) != 1 {
		t.Fatalf("blocks = %d, want 1", len(listed.Blocks))
	}
	b := listed.Blocks[0]
	if b.Line != 2 {
		t.Fatalf("block line = %d, want 2", b.Line)
	}
	if b.Incoming.Text != "\tfmt.Println(\"hello\")\n\tos.Exit(0)\n" || b.Original.Text != "\tfmt.Println(\"hi\")\n" {
		t.Fatalf("block sides = %q / %q", b.Incoming.Text, b.Original.Text)
	}

	f.run(t, "blocks", f.doc)
	if got := f.out.String(); got != "0\tline 2\t+2 -1\n" {
		t.Fatalf("blocks output = %q", got)
	}

	f.run(t, "accept-all", f.doc)
	if got := f.read(t); got != candidate {
		t.Fatalf("file = %q, want %q", got, candidate)
	}
}

func TestResolveTakeOriginal(t *testing.T) {
	f := newFixture(t)
	f.run(t, "merge", f.doc, "--with", f.write(t, "snippet.go", candidate))
	f.run(t, "resolve", f.doc, "0", "--take", "original")
	if got := f.read(t); got != original {
		t.Fatalf("file = %q, want %q", got, original)
	}

	err := f.app("resolve", f.doc, "0").Run()
	if !errors.Is(err, session.ErrNoSuchBlock) {
		t.Fatalf("resolve error = %v, want ErrNoSuchBlock", err)
	}
	if err := f.app("resolve", f.doc, "0", "--take", "both").Run(); err == nil {
		t.Fatalf("resolve --take both error = nil, want error")
	}
}

func TestRejectAllWithoutBlocks(t *testing.T) {
	f := newFixture(t)
	f.run(t, "reject-all", f.doc)
	if got := f.out.String(); got != "0 blocks resolved\n" {
		t.Fatalf("reject-all output = %q", got)
	}
	if got := f.read(t); got != original {
		t.Fatalf("file = %q, want untouched", got)
	}
}

func TestMergeFromClipboard(t *testing.T) {
	f := newFixture(t)
	a := f.app("merge", f.doc, "--clipboard")
	a.clipboard = func() (string, error) { return candidate, nil }
	if err := a.Run(); err != nil {
		t.Fatalf("merge --clipboard: %v", err)
	}

	a = f.app("merge", f.doc, "--clipboard")
	a.clipboard = func() (string, error) { return "", errors.New("no display") }
	err := a.Run()
	if !errors.Is(err, session.ErrProposalFailed) {
		t.Fatalf("merge error = %v, want ErrProposalFailed", err)
	}
}

func TestMergeFromRevision(t *testing.T) {
	if _, err := exec.LookPath("git"); err != nil {
		t.Skip("git not available")
	}
	f := newFixture(t)
	git := func(args ...string) {
		t.Helper()
		cmd := exec.Command("git", args...)
		cmd.Dir = f.dir
		if out, err := cmd.CombinedOutput(); err != nil {
			t.Fatalf("git %s: %v\n%s", strings.Join(args, " "), err, out)
		}
	}
	git("init")
	git("config", "user.email", "test@example.com")
	git("config", "user.name", "Test")
	git("config", "commit.gpgsign", "false")
	git("add", "main.go")
	git("commit", "-m", "init")
	f.write(t, "main.go", candidate)

	f.run(t, "merge", f.doc, "--rev", "HEAD")
	if got := f.out.String(); got != "1 blocks\n" {
		t.Fatalf("merge output = %q, want %q", got, "1 blocks\n")
	}
	f.run(t, "accept-all", f.doc)
	if got := f.read(t); got != original {
		t.Fatalf("file = %q, want committed text %q", got, original)
	}
}

func TestMergeNeedsSource(t *testing.T) {
	f := newFixture(t)
	if err := f.app("merge", f.doc).Run(); err == nil {
		t.Fatalf("merge without source error = nil, want error")
	}
	if got := f.read(t); got != original {
		t.Fatalf("file = %q, want untouched", got)
	}
}

func TestMergeThroughCommand(t *testing.T) {
	if _, err := exec.LookPath("sh"); err != nil {
		t.Skip("sh not available")
	}
	f := newFixture(t)
	f.write(t, "config/config.toml", `
[markers]
length = 12
label = "model"

[proposal]
command = "sh"
args = ["-c", "cat"]
prompt = "{{.Clipboard}}"
`)
	// The snippet lacks the final newline; the command output gets one.
	snippet := f.write(t, "snippet.go", strings.TrimSuffix(candidate, "\n"))

	f.run(t, "merge", f.doc, "--with", snippet, "--command")
	if !strings.Contains(f.read(t), strings.Repeat(">", 12)+" model\n") {
		t.Fatalf("file = %q, want configured start marker", f.read(t))
	}
	f.run(t, "accept-all", f.doc)
	if got := f.read(t); got != candidate {
		t.Fatalf("file = %q, want %q", got, candidate)
	}
}

func TestMergeCommandNotConfigured(t *testing.T) {
	f := newFixture(t)
	err := f.app("merge", f.doc, "--with", f.write(t, "s.go", candidate), "--command").Run()
	if err == nil || !strings.Contains(err.Error(), "[proposal] command") {
		t.Fatalf("merge --command error = %v, want configuration hint", err)
	}
}

// scriptedScreen feeds keys into a simulation screen once it is initialised.
type scriptedScreen struct {
	tcell.SimulationScreen
	keys []rune
}

func (s *scriptedScreen) Init() error {
	if err := s.SimulationScreen.Init(); err != nil {
		return err
	}
	s.SetSize(60, 20)
	for _, r := range s.keys {
		s.InjectKey(tcell.KeyRune, r, tcell.ModNone)
	}
	return nil
}

func TestReviewAcceptSaveQuit(t *testing.T) {
	f := newFixture(t)
	f.run(t, "merge", f.doc, "--with", f.write(t, "snippet.go", candidate))

	a := f.app("review", f.doc)
	a.newScreen = func() (tcell.Screen, error) {
		return &scriptedScreen{SimulationScreen: tcell.NewSimulationScreen("UTF-8"), keys: []rune{'A', 's', 'q'}}, nil
	}
	if err := a.Run(); err != nil {
		t.Fatalf("review: %v", err)
	}
	if got := f.read(t); got != candidate {
		t.Fatalf("file = %q, want %q", got, candidate)
	}
}
