package ui

import (
	"io"

	"golang.org/x/term"
)

const defaultWidth = 80

// Terminal describes the stream the mirror writes diffs or progress to.
type Terminal struct {
	TTY   bool
	Width int
}

// Detect reports whether w is attached to a terminal and how wide it is.
// Writers without a file descriptor, and terminals whose size cannot be
// read, get the default width.
func Detect(w io.Writer) Terminal {
	f, ok := w.(interface{ Fd() uintptr })
	if !ok {
		return Terminal{Width: defaultWidth}
	}
	fd := int(f.Fd())
	if !term.IsTerminal(fd) {
		return Terminal{Width: defaultWidth}
	}
	width, _, err := term.GetSize(fd)
	if err != nil || width <= 0 {
		width = defaultWidth
	}
	return Terminal{TTY: true, Width: width}
}

// NewProgressLine returns a progress line sized for t.
func (t Terminal) NewProgressLine(w io.Writer) *ProgressLine {
	return NewProgressLine(w, t.TTY, t.Width)
}
