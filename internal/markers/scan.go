package markers

import "strings"

type role int

const (
	roleNone role = iota
	roleStart
	roleBoundary
	roleEnd
)

type state int

const (
	seekingStart state = iota
	inIncoming
	inOriginal
)

// Malformed records a marker sequence that was abandoned during a scan. Its text is
// ordinary document content from then on.
type Malformed struct {
	Offset int // Offset of the abandoned incoming-start marker
	Reason string
}

type line struct {
	start, end int // end includes the newline, if any
	role       role
	noNewline  bool
}

// classify decides whether the text of one line (without its newline) is a marker.
func classify(text string) (role, bool) {
	text = strings.TrimSuffix(text, "\r")
	if text == "" {
		return roleNone, false
	}
	var r role
	switch text[0] {
	case startChar:
		r = roleStart
	case boundaryChar:
		r = roleBoundary
	case endChar:
		r = roleEnd
	default:
		return roleNone, false
	}
	run := 0
	for run < len(text) && text[run] == text[0] {
		run++
	}
	if run < MinRun {
		return roleNone, false
	}
	rest := text[run:]
	if r == roleStart {
		if rest == "" || rest[0] == ' ' || rest[0] == '\t' {
			return r, false
		}
		return roleNone, false
	}
	switch strings.TrimSpace(rest) {
	case "":
		return r, false
	case NoNewline:
		return r, true
	default:
		return roleNone, false
	}
}

// Scan finds every well-formed changed unit in text, in document order, together with the
// marker sequences it had to give up on.
func Scan(text string) ([]Block, []Malformed) {
	var (
		blocks    []Block
		malformed []Malformed
		st        = seekingStart
		start     line
		boundary  line
	)
	abandon := func(reason string) {
		malformed = append(malformed, Malformed{Offset: start.start, Reason: reason})
		st = seekingStart
	}

	for off := 0; off < len(text); {
		end := strings.IndexByte(text[off:], '\n')
		var body string
		if end < 0 {
			body = text[off:]
			end = len(text)
		} else {
			body = text[off : off+end]
			end = off + end + 1
		}
		r, noNL := classify(body)
		ln := line{start: off, end: end, role: r, noNewline: noNL}
		off = end

		if r == roleNone {
			continue
		}
		switch st {
		case seekingStart:
			if r == roleStart {
				start, st = ln, inIncoming
			}
		case inIncoming:
			switch r {
			case roleStart:
				abandon("incoming-start marker without boundary")
				start, st = ln, inIncoming
			case roleBoundary:
				boundary, st = ln, inOriginal
			case roleEnd:
				abandon("end marker before boundary")
			}
		case inOriginal:
			switch r {
			case roleStart:
				abandon("incoming-start marker without end")
				start, st = ln, inIncoming
			case roleBoundary:
				abandon("second boundary marker")
			case roleEnd:
				blocks = append(blocks, Block{
					Full:     Range{start.start, ln.end},
					Incoming: bodyRange(text, start.end, boundary.start, boundary.noNewline),
					Original: bodyRange(text, boundary.end, ln.start, ln.noNewline),
				})
				st = seekingStart
			}
		}
	}
	switch st {
	case inIncoming:
		abandon("missing boundary and end markers")
	case inOriginal:
		abandon("missing end marker")
	}
	return blocks, malformed
}

// Decode returns the well-formed changed units of text in document order.
func Decode(text string) []Block {
	blocks, _ := Scan(text)
	return blocks
}

func bodyRange(text string, start, end int, noNewline bool) Range {
	if noNewline && end > start && text[end-1] == '\n' {
		end--
	}
	return Range{start, end}
}
