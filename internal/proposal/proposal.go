// Package proposal produces the candidate document that a merge diffs against the original.
package proposal

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"text/template"
	"time"

	"github.com/atotto/clipboard"

	"github.com/kobzarvs/fuzzypaste/internal/gitinfo"
)

// ErrEmpty is returned when a source yields no text at all.
var ErrEmpty = errors.New("proposal is empty")

// waitDelay bounds how long a killed command's children may hold its output pipes.
const waitDelay = time.Second

// DefaultPrompt asks a model to fold a pasted snippet into the full document.
const DefaultPrompt = `Please merge the following two texts appropriately.
The first document is a complete document.
Insert the differences written in the second document into the first document
while keeping the first document as intact as possible.
Don't insert any additional newline.
If there is no difference, return the first document as it is.
Return only the merged document.

1st document:
{{.Original}}
2nd document:
{{.Clipboard}}
`

// Proposer returns a full candidate document for original.
type Proposer interface {
	Propose(ctx context.Context, original string) (string, error)
}

// Func adapts a function to Proposer.
type Func func(ctx context.Context, original string) (string, error)

func (f Func) Propose(ctx context.Context, original string) (string, error) {
	return f(ctx, original)
}

// Static always proposes the same text.
type Static string

func (s Static) Propose(ctx context.Context, _ string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	return string(s), nil
}

// File proposes the contents of Path.
type File struct {
	Path string
}

func (f File) Propose(ctx context.Context, _ string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	data, err := os.ReadFile(f.Path)
	if err != nil {
		return "", fmt.Errorf("read candidate: %w", err)
	}
	return string(data), nil
}

// Revision proposes Path as committed at Rev in its git repository.
// An empty Rev means HEAD.
type Revision struct {
	Path string
	Rev  string
}

func (r Revision) Propose(ctx context.Context, _ string) (string, error) {
	text, err := gitinfo.Show(ctx, r.Path, r.Rev)
	if err != nil {
		return "", fmt.Errorf("read %s at %q: %w", r.Path, r.Rev, err)
	}
	return text, nil
}

// Clipboard proposes the system clipboard text.
type Clipboard struct {
	// Read overrides the clipboard reader; nil uses the system clipboard.
	Read func() (string, error)
}

func (c Clipboard) Propose(ctx context.Context, _ string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	read := c.Read
	if read == nil {
		if clipboard.Unsupported {
			return "", errors.New("clipboard is not supported on this system")
		}
		read = clipboard.ReadAll
	}
	text, err := read()
	if err != nil {
		return "", fmt.Errorf("read clipboard: %w", err)
	}
	if text == "" {
		return "", ErrEmpty
	}
	return text, nil
}

// PromptData is what the prompt template sees.
type PromptData struct {
	Original  string
	Clipboard string
}

// ParsePrompt parses a prompt template; an empty text selects DefaultPrompt.
func ParsePrompt(text string) (*template.Template, error) {
	if strings.TrimSpace(text) == "" {
		text = DefaultPrompt
	}
	tmpl, err := template.New("prompt").Option("missingkey=error").Parse(text)
	if err != nil {
		return nil, fmt.Errorf("parse prompt: %w", err)
	}
	return tmpl, nil
}

// Command runs an external program that writes the merged document to stdout. Its stdin is
// Prompt rendered with the original document and the snippet produced by Snippet.
type Command struct {
	Name    string
	Args    []string
	Prompt  *template.Template
	Snippet Proposer
	Timeout time.Duration

	// EnsureTrailingNewline appends a newline to output that lacks one.
	EnsureTrailingNewline bool
}

func (c *Command) Propose(ctx context.Context, original string) (string, error) {
	if c.Name == "" {
		return "", errors.New("no proposal command configured")
	}
	if c.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.Timeout)
		defer cancel()
	}

	data := PromptData{Original: original}
	if c.Snippet != nil {
		snippet, err := c.Snippet.Propose(ctx, original)
		if err != nil {
			return "", err
		}
		data.Clipboard = snippet
	}
	tmpl := c.Prompt
	if tmpl == nil {
		var err error
		if tmpl, err = ParsePrompt(""); err != nil {
			return "", err
		}
	}
	var stdin bytes.Buffer
	if err := tmpl.Execute(&stdin, data); err != nil {
		return "", fmt.Errorf("render prompt: %w", err)
	}

	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, c.Name, c.Args...)
	cmd.Stdin = &stdin
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	cmd.WaitDelay = waitDelay
	if err := cmd.Run(); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return "", fmt.Errorf("%s: %w", c.Name, ctxErr)
		}
		if msg := strings.TrimSpace(stderr.String()); msg != "" {
			return "", fmt.Errorf("%s: %w: %s", c.Name, err, msg)
		}
		return "", fmt.Errorf("%s: %w", c.Name, err)
	}

	out := stdout.String()
	if out == "" {
		return "", ErrEmpty
	}
	if c.EnsureTrailingNewline && !strings.HasSuffix(out, "\n") {
		out += "\n"
	}
	return out, nil
}
