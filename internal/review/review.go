// Package review is an interactive terminal resolver for marked documents.
package review

import (
	"errors"
	"fmt"
	"path/filepath"
	"slices"
	"strconv"
	"strings"

	"github.com/gdamore/tcell/v2"

	"github.com/kobzarvs/fuzzypaste/internal/buffer"
	"github.com/kobzarvs/fuzzypaste/internal/config"
	"github.com/kobzarvs/fuzzypaste/internal/gitinfo"
	"github.com/kobzarvs/fuzzypaste/internal/logger"
	"github.com/kobzarvs/fuzzypaste/internal/markers"
	"github.com/kobzarvs/fuzzypaste/internal/resolve"
	"github.com/kobzarvs/fuzzypaste/internal/session"
)

const tabWidth = 4

// Zone classifies a rendered line.
type Zone int

const (
	ZoneText Zone = iota
	ZoneStartMarker
	ZoneIncoming
	ZoneBoundary
	ZoneOriginal
	ZoneEndMarker
)

// Viewer renders the buffer with its blocks and turns keys into session commands.
type Viewer struct {
	buf    *buffer.Buffer
	sess   *session.Session
	path   string
	branch string

	text      string
	lineStart []int
	blocks    []markers.Block
	current   int

	scroll     int
	viewHeight int
	status     string
	quitArmed  bool

	styleMain     tcell.Style
	styleIncoming tcell.Style
	styleOriginal tcell.Style
	styleMarker   tcell.Style
	styleActive   tcell.Style
	styleStatus   tcell.Style
}

func New(theme config.Theme, buf *buffer.Buffer, sess *session.Session, path string) *Viewer {
	v := &Viewer{buf: buf, sess: sess, path: path}
	if path != "" {
		v.branch = gitinfo.Branch(path)
	}
	v.applyTheme(theme)
	sess.OnBlocks(v.setBlocks)
	v.refetch()
	return v
}

func (v *Viewer) applyTheme(t config.Theme) {
	fg := parseColor(t.Foreground, tcell.ColorDefault)
	bg := parseColor(t.Background, tcell.ColorDefault)
	v.styleMain = tcell.StyleDefault.Foreground(fg).Background(bg)
	v.styleIncoming = tcell.StyleDefault.
		Foreground(parseColor(t.IncomingForeground, fg)).
		Background(parseColor(t.IncomingBackground, bg))
	v.styleOriginal = tcell.StyleDefault.
		Foreground(parseColor(t.OriginalForeground, fg)).
		Background(parseColor(t.OriginalBackground, bg))
	markerBg := parseColor(t.MarkerBackground, bg)
	v.styleMarker = tcell.StyleDefault.
		Foreground(parseColor(t.MarkerForeground, fg)).
		Background(markerBg)
	v.styleActive = tcell.StyleDefault.
		Foreground(parseColor(t.ActiveMarker, fg)).
		Background(markerBg).
		Bold(true)
	v.styleStatus = tcell.StyleDefault.
		Foreground(parseColor(t.StatuslineForeground, fg)).
		Background(parseColor(t.StatuslineBackground, bg))
}

// setBlocks receives the session's block set after every change.
func (v *Viewer) setBlocks(blocks []markers.Block) {
	v.blocks = blocks
	if v.current >= len(v.blocks) {
		v.current = max(len(v.blocks)-1, 0)
	}
}

// refetch reloads the text and the live block offsets.
func (v *Viewer) refetch() {
	v.text = v.buf.Text()
	v.lineStart = v.lineStart[:0]
	v.lineStart = append(v.lineStart, 0)
	for i := 0; i < len(v.text); i++ {
		if v.text[i] == '\n' && i+1 < len(v.text) {
			v.lineStart = append(v.lineStart, i+1)
		}
	}
	blocks, err := v.sess.Blocks()
	if err != nil {
		logger.Error("reading blocks", "error", err)
		v.setStatus(err.Error())
		blocks = v.sess.Refresh()
	}
	v.setBlocks(blocks)
}

// Blocks returns the block set the viewer currently shows.
func (v *Viewer) Blocks() []markers.Block {
	return slices.Clone(v.blocks)
}

// Current returns the index of the selected block.
func (v *Viewer) Current() int {
	return v.current
}

func (v *Viewer) setStatus(msg string) {
	v.status = msg
}

// HandleKey runs the command bound to ev and reports whether the viewer should quit.
func (v *Viewer) HandleKey(ev *tcell.EventKey) bool {
	v.status = ""
	quit := v.handle(ev)
	v.refetch()
	return quit
}

func (v *Viewer) handle(ev *tcell.EventKey) bool {
	switch ev.Key() {
	case tcell.KeyCtrlC:
		return true
	case tcell.KeyCtrlR:
		v.redo()
		return false
	case tcell.KeyDown:
		v.scrollBy(1)
		return false
	case tcell.KeyUp:
		v.scrollBy(-1)
		return false
	case tcell.KeyPgDn:
		v.scrollBy(max(v.viewHeight-1, 1))
		return false
	case tcell.KeyPgUp:
		v.scrollBy(-max(v.viewHeight-1, 1))
		return false
	case tcell.KeyRune:
	default:
		return false
	}

	if ev.Rune() != 'q' {
		v.quitArmed = false
	}
	switch ev.Rune() {
	case 'j':
		v.scrollBy(1)
	case 'k':
		v.scrollBy(-1)
	case 'n':
		v.selectBlock(v.current + 1)
	case 'N':
		v.selectBlock(v.current - 1)
	case 'a':
		v.resolveCurrent(resolve.Incoming)
	case 'r':
		v.resolveCurrent(resolve.Original)
	case 'A':
		v.resolveAll(resolve.Incoming)
	case 'R':
		v.resolveAll(resolve.Original)
	case 'u':
		if !v.buf.Undo() {
			v.setStatus("nothing to undo")
		}
	case 'U':
		v.redo()
	case 's':
		v.save()
	case 'q':
		if v.buf.Dirty() && !v.quitArmed {
			v.quitArmed = true
			v.setStatus("unsaved changes, press q again to quit")
			return false
		}
		return true
	}
	return false
}

func (v *Viewer) redo() {
	if !v.buf.Redo() {
		v.setStatus("nothing to redo")
	}
}

func (v *Viewer) save() {
	if v.path == "" {
		v.setStatus("no file name")
		return
	}
	if err := v.buf.Save(v.path); err != nil {
		logger.Error("save failed", "path", v.path, "error", err)
		v.setStatus(err.Error())
		return
	}
	v.setStatus("written " + filepath.Base(v.path))
}

func (v *Viewer) resolveCurrent(c resolve.Choice) {
	if len(v.blocks) == 0 {
		v.setStatus("no blocks")
		return
	}
	if err := v.sess.Resolve(v.current, c); err != nil {
		v.reportError(err)
		return
	}
	v.setStatus(fmt.Sprintf("kept %s", c))
}

func (v *Viewer) resolveAll(c resolve.Choice) {
	n, err := v.sess.ResolveAll(c)
	if err != nil {
		v.reportError(err)
		return
	}
	v.setStatus(fmt.Sprintf("kept %s in %d blocks", c, n))
}

func (v *Viewer) reportError(err error) {
	switch {
	case errors.Is(err, session.ErrConcurrentResolution):
		v.setStatus("busy, try again")
	default:
		logger.Warn("resolution failed", "error", err)
		v.setStatus(err.Error())
	}
}

func (v *Viewer) selectBlock(i int) {
	if len(v.blocks) == 0 {
		v.setStatus("no blocks")
		return
	}
	n := len(v.blocks)
	v.current = ((i % n) + n) % n
	line := v.lineAt(v.blocks[v.current].Full.Start)
	if line < v.scroll || line >= v.scroll+v.viewHeight {
		v.scroll = max(line-2, 0)
	}
}

func (v *Viewer) scrollBy(n int) {
	maxScroll := max(len(v.lineStart)-v.viewHeight+5, 0)
	v.scroll = min(max(v.scroll+n, 0), maxScroll)
}

// lineAt returns the line containing offset.
func (v *Viewer) lineAt(offset int) int {
	i, found := slices.BinarySearch(v.lineStart, offset)
	if found {
		return i
	}
	return max(i-1, 0)
}

// zoneAt classifies the line starting at offset, returning the block it belongs to or -1.
func (v *Viewer) zoneAt(offset int) (Zone, int) {
	for i, b := range v.blocks {
		if offset < b.Full.Start || offset >= b.Full.End {
			continue
		}
		switch {
		case offset < b.Incoming.Start:
			return ZoneStartMarker, i
		case offset < b.Incoming.End:
			return ZoneIncoming, i
		case offset < b.Original.Start:
			return ZoneBoundary, i
		case offset < b.Original.End:
			return ZoneOriginal, i
		default:
			return ZoneEndMarker, i
		}
	}
	return ZoneText, -1
}

func (v *Viewer) styleFor(z Zone, block int) tcell.Style {
	switch z {
	case ZoneIncoming:
		return v.styleIncoming
	case ZoneOriginal:
		return v.styleOriginal
	case ZoneStartMarker, ZoneBoundary, ZoneEndMarker:
		if block == v.current {
			return v.styleActive
		}
		return v.styleMarker
	default:
		return v.styleMain
	}
}

func (v *Viewer) Render(s tcell.Screen) {
	w, h := s.Size()
	if w <= 0 || h <= 0 {
		return
	}
	statusY := h - 2
	msgY := h - 1
	viewHeight := max(h-2, 0)
	v.viewHeight = viewHeight

	s.SetStyle(v.styleMain)
	s.Clear()
	for y := 0; y < viewHeight; y++ {
		idx := v.scroll + y
		if idx >= len(v.lineStart) || (idx == len(v.lineStart)-1 && v.lineStart[idx] == len(v.text)) {
			clearLine(s, y, w, v.styleMain)
			continue
		}
		start := v.lineStart[idx]
		end := len(v.text)
		if idx+1 < len(v.lineStart) {
			end = v.lineStart[idx+1]
		}
		line := strings.TrimRight(v.text[start:end], "\r\n")
		zone, block := v.zoneAt(start)
		drawLine(s, y, w, []rune(line), v.styleFor(zone, block))
	}
	if statusY >= 0 {
		v.renderStatusline(s, w, statusY)
	}
	if msgY > statusY {
		drawLine(s, msgY, w, []rune(v.message()), v.styleMain)
	}
	s.HideCursor()
	s.Show()
}

func (v *Viewer) message() string {
	if v.status != "" {
		return v.status
	}
	return "a accept  r reject  A/R all  n/N next/prev  u/U undo/redo  s save  q quit"
}

func (v *Viewer) renderStatusline(s tcell.Screen, w, y int) {
	name := "[No Name]"
	if v.path != "" {
		name = filepath.Base(v.path)
	}
	dirty := ""
	if v.buf.Dirty() {
		dirty = "*"
	}
	left := fmt.Sprintf(" REVIEW | %s%s ", name, dirty)
	if v.branch != "" {
		left += "| " + v.branch + " "
	}
	right := " no blocks "
	if len(v.blocks) > 0 {
		right = " block " + strconv.Itoa(v.current+1) + "/" + strconv.Itoa(len(v.blocks)) + " "
	}
	line := composeStatusLine(left, right, w)
	for x, r := range line {
		if x >= w {
			break
		}
		s.SetContent(x, y, r, nil, v.styleStatus)
	}
}

func drawLine(s tcell.Screen, y, w int, line []rune, style tcell.Style) {
	x := 0
	for _, r := range line {
		if x >= w {
			break
		}
		if r == '\t' {
			spaces := tabWidth - (x % tabWidth)
			for i := 0; i < spaces && x < w; i++ {
				s.SetContent(x, y, ' ', nil, style)
				x++
			}
			continue
		}
		s.SetContent(x, y, r, nil, style)
		x++
	}
	for x < w {
		s.SetContent(x, y, ' ', nil, style)
		x++
	}
}

func clearLine(s tcell.Screen, y, w int, style tcell.Style) {
	for x := 0; x < w; x++ {
		s.SetContent(x, y, ' ', nil, style)
	}
}

func composeStatusLine(left, right string, width int) []rune {
	if width <= 0 {
		return nil
	}
	leftRunes := []rune(left)
	rightRunes := []rune(right)
	if len(leftRunes)+len(rightRunes) > width {
		if len(rightRunes) >= width {
			rightRunes = rightRunes[len(rightRunes)-width:]
			leftRunes = nil
		} else {
			leftRunes = leftRunes[:width-len(rightRunes)]
		}
	}
	line := make([]rune, 0, width)
	line = append(line, leftRunes...)
	for i := len(leftRunes) + len(rightRunes); i < width; i++ {
		line = append(line, ' ')
	}
	return append(line, rightRunes...)
}

func parseColor(name string, fallback tcell.Color) tcell.Color {
	name = strings.TrimSpace(name)
	if name == "" {
		return fallback
	}
	if strings.HasPrefix(name, "#") && len(name) == 7 {
		rgb, err := strconv.ParseUint(name[1:], 16, 32)
		if err != nil {
			return fallback
		}
		return tcell.NewHexColor(int32(rgb))
	}
	name = strings.ToLower(name)
	if name == "default" {
		return tcell.ColorDefault
	}
	c := tcell.GetColor(name)
	if c == tcell.ColorDefault {
		return fallback
	}
	return c
}
