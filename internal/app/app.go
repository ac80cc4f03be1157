package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"time"

	"github.com/gdamore/tcell/v2"
	"github.com/spf13/cobra"

	"github.com/kobzarvs/fuzzypaste/internal/buffer"
	"github.com/kobzarvs/fuzzypaste/internal/config"
	"github.com/kobzarvs/fuzzypaste/internal/linediff"
	"github.com/kobzarvs/fuzzypaste/internal/logger"
	"github.com/kobzarvs/fuzzypaste/internal/markers"
	"github.com/kobzarvs/fuzzypaste/internal/proposal"
	"github.com/kobzarvs/fuzzypaste/internal/resolve"
	"github.com/kobzarvs/fuzzypaste/internal/review"
	"github.com/kobzarvs/fuzzypaste/internal/session"
)

// App is the top-level runtime for fuzzypaste.
type App struct {
	args   []string
	stdout io.Writer
	stderr io.Writer

	cfg   config.Config
	debug bool

	// clipboard overrides the system clipboard reader.
	clipboard func() (string, error)
	// newScreen overrides the terminal used by review.
	newScreen func() (tcell.Screen, error)
}

func New(args []string) *App {
	return &App{
		args:      args,
		stdout:    os.Stdout,
		stderr:    os.Stderr,
		newScreen: tcell.NewScreen,
	}
}

func (a *App) Run() error {
	root := a.rootCmd()
	root.SetArgs(a.args)
	root.SetOut(a.stdout)
	root.SetErr(a.stderr)
	return root.Execute()
}

func (a *App) rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "fuzzypaste [command]",
		Short:         "Merge pasted text into a document as reviewable diff blocks",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return fmt.Errorf("loading config: %w", err)
			}
			a.cfg = cfg
			if err := logger.Init(cfg.Log.Debug || a.debug); err != nil {
				fmt.Fprintln(cmd.ErrOrStderr(), "fuzzypaste: logging disabled:", err)
			}
			return nil
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			logger.Close()
		},
	}
	root.PersistentFlags().BoolVar(&a.debug, "debug", false, "write debug entries to the log file")

	root.AddCommand(a.mergeCmd())
	root.AddCommand(a.blocksCmd())
	root.AddCommand(a.resolveCmd())
	root.AddCommand(a.resolveAllCmd("accept-all", "Keep the incoming side of every block", resolve.Incoming))
	root.AddCommand(a.resolveAllCmd("reject-all", "Keep the original side of every block", resolve.Original))
	root.AddCommand(a.reviewCmd())
	return root
}

// document is one file opened for a session.
type document struct {
	path string
	buf  *buffer.Buffer
	sess *session.Session
}

func (a *App) open(path string) (*document, error) {
	buf, err := buffer.Load(path)
	if err != nil {
		return nil, err
	}
	sess := session.New(buf, session.Options{
		Codec: markers.NewCodec(a.cfg.Markers.Length, a.cfg.Markers.Label),
		Diff:  linediff.Options{IndentHeuristic: a.cfg.Diff.IndentHeuristic},
	})
	return &document{path: path, buf: buf, sess: sess}, nil
}

func (d *document) close() {
	d.sess.Close()
}

func (d *document) save() error {
	if !d.buf.Dirty() {
		return nil
	}
	if err := d.buf.Save(d.path); err != nil {
		return fmt.Errorf("writing %s: %w", d.path, err)
	}
	logger.Info("document written", "path", d.path)
	return nil
}

func (a *App) mergeCmd() *cobra.Command {
	var (
		with       string
		rev        string
		fromClip   bool
		useCommand bool
		timeout    time.Duration
	)
	cmd := &cobra.Command{
		Use:   "merge FILE",
		Short: "Insert diff blocks between FILE and a candidate text",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var snippet proposal.Proposer
			switch {
			case with != "":
				snippet = proposal.File{Path: with}
			case fromClip:
				snippet = proposal.Clipboard{Read: a.clipboard}
			case cmd.Flags().Changed("rev"):
				snippet = proposal.Revision{Path: args[0], Rev: rev}
			default:
				return errors.New("need --with, --clipboard or --rev")
			}
			p, err := a.proposer(snippet, useCommand, timeout)
			if err != nil {
				return err
			}
			d, err := a.open(args[0])
			if err != nil {
				return err
			}
			defer d.close()

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
			defer stop()
			n, err := d.sess.Merge(ctx, p)
			if err != nil {
				return err
			}
			if err := d.save(); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%d blocks\n", n)
			return nil
		},
	}
	cmd.Flags().StringVar(&with, "with", "", "read the candidate text from `PATH`")
	cmd.Flags().BoolVar(&fromClip, "clipboard", false, "read the candidate text from the clipboard")
	cmd.Flags().StringVar(&rev, "rev", "HEAD", "read the candidate text from FILE at git `REVISION`")
	cmd.Flags().BoolVar(&useCommand, "command", false, "send the document and candidate through the [proposal] command")
	cmd.Flags().DurationVar(&timeout, "timeout", 0, "proposal command timeout (default from config)")
	cmd.MarkFlagsMutuallyExclusive("with", "clipboard", "rev")
	cmd.MarkFlagsOneRequired("with", "clipboard", "rev")
	return cmd
}

// proposer wraps snippet in the configured proposal command when asked.
func (a *App) proposer(snippet proposal.Proposer, useCommand bool, timeout time.Duration) (proposal.Proposer, error) {
	if !useCommand {
		return snippet, nil
	}

	pc := a.cfg.Proposal
	if pc.Command == "" {
		return nil, errors.New("--command needs [proposal] command in config.toml")
	}
	prompt, err := proposal.ParsePrompt(pc.Prompt)
	if err != nil {
		return nil, err
	}
	if timeout <= 0 {
		timeout = pc.Timeout.Duration
	}
	return &proposal.Command{
		Name:                  pc.Command,
		Args:                  pc.Args,
		Prompt:                prompt,
		Snippet:               snippet,
		Timeout:               timeout,
		EnsureTrailingNewline: pc.EnsureTrailingNewline,
	}, nil
}

type rangeJSON struct {
	Start int    `json:"start"`
	End   int    `json:"end"`
	Text  string `json:"text,omitempty"`
}

type blockJSON struct {
	Index    int       `json:"index"`
	Line     int       `json:"line"`
	Full     rangeJSON `json:"full"`
	Incoming rangeJSON `json:"incoming"`
	Original rangeJSON `json:"original"`
}

type malformedJSON struct {
	Offset int    `json:"offset"`
	Line   int    `json:"line"`
	Reason string `json:"reason"`
}

type blocksJSON struct {
	Blocks    []blockJSON     `json:"blocks"`
	Malformed []malformedJSON `json:"malformed,omitempty"`
}

func (a *App) blocksCmd() *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "blocks FILE",
		Short: "List the diff blocks in FILE",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			d, err := a.open(args[0])
			if err != nil {
				return err
			}
			defer d.close()

			blocks, err := d.sess.Blocks()
			if err != nil {
				return err
			}
			text := d.buf.Text()
			out := blocksJSON{Blocks: make([]blockJSON, 0, len(blocks))}
			for i, b := range blocks {
				out.Blocks = append(out.Blocks, blockJSON{
					Index:    i,
					Line:     lineOf(text, b.Full.Start),
					Full:     rangeJSON{Start: b.Full.Start, End: b.Full.End},
					Incoming: rangeJSON{Start: b.Incoming.Start, End: b.Incoming.End, Text: text[b.Incoming.Start:b.Incoming.End]},
					Original: rangeJSON{Start: b.Original.Start, End: b.Original.End, Text: text[b.Original.Start:b.Original.End]},
				})
			}
			for _, m := range d.sess.Malformed() {
				out.Malformed = append(out.Malformed, malformedJSON{Offset: m.Offset, Line: lineOf(text, m.Offset), Reason: m.Reason})
			}

			w := cmd.OutOrStdout()
			if asJSON {
				enc := json.NewEncoder(w)
				enc.SetIndent("", "  ")
				return enc.Encode(out)
			}
			for _, b := range out.Blocks {
				fmt.Fprintf(w, "%d\tline %d\t+%d -%d\n", b.Index, b.Line, countLines(b.Incoming.Text), countLines(b.Original.Text))
			}
			for _, m := range out.Malformed {
				fmt.Fprintf(w, "malformed\tline %d\t%s\n", m.Line, m.Reason)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print blocks as JSON")
	return cmd
}

func (a *App) resolveCmd() *cobra.Command {
	var take string
	cmd := &cobra.Command{
		Use:   "resolve FILE INDEX",
		Short: "Resolve one block, keeping the chosen side",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			choice, err := resolve.ParseChoice(take)
			if err != nil {
				return err
			}
			index, err := strconv.Atoi(args[1])
			if err != nil {
				return fmt.Errorf("invalid block index %q", args[1])
			}
			d, err := a.open(args[0])
			if err != nil {
				return err
			}
			defer d.close()

			if err := d.sess.Resolve(index, choice); err != nil {
				return err
			}
			return d.save()
		},
	}
	cmd.Flags().StringVar(&take, "take", "incoming", "side to keep: incoming or original")
	return cmd
}

func (a *App) resolveAllCmd(use, short string, choice resolve.Choice) *cobra.Command {
	return &cobra.Command{
		Use:   use + " FILE",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			d, err := a.open(args[0])
			if err != nil {
				return err
			}
			defer d.close()

			n, err := d.sess.ResolveAll(choice)
			if err != nil {
				return err
			}
			if err := d.save(); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%d blocks resolved\n", n)
			return nil
		},
	}
}

func (a *App) reviewCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "review FILE",
		Short: "Resolve blocks interactively",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			d, err := a.open(args[0])
			if err != nil {
				return err
			}
			defer d.close()
			return a.review(cmd.Context(), d)
		},
	}
}

func (a *App) review(ctx context.Context, d *document) error {
	s, err := a.newScreen()
	if err != nil {
		return err
	}
	if err := s.Init(); err != nil {
		return err
	}
	defer s.Fini()

	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			_ = s.PostEvent(tcell.NewEventInterrupt(nil))
		case <-done:
		}
	}()

	v := review.New(a.cfg.Review.Theme, d.buf, d.sess, d.path)
	v.Render(s)
	for {
		switch ev := s.PollEvent().(type) {
		case nil:
			return nil
		case *tcell.EventKey:
			if v.HandleKey(ev) {
				return nil
			}
		case *tcell.EventResize:
			s.Sync()
		case *tcell.EventInterrupt:
			if ctx.Err() != nil {
				return ctx.Err()
			}
		}
		v.Render(s)
	}
}

func lineOf(text string, offset int) int {
	return strings.Count(text[:offset], "\n") + 1
}

func countLines(s string) int {
	if s == "" {
		return 0
	}
	n := strings.Count(s, "\n")
	if !strings.HasSuffix(s, "\n") {
		n++
	}
	return n
}
