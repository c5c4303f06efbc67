package ui

import (
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/bamsammich/mirror/internal/mirror"
)

const progressBarWidth = 10

// ProgressLine renders monitor snapshots to w. On a terminal the line is
// redrawn in place; otherwise every snapshot is written as its own line.
type ProgressLine struct {
	mu      sync.Mutex
	w       io.Writer
	inPlace bool
	width   int
	shown   string
}

// NewProgressLine creates a progress line on w. width bounds in-place
// lines and is ignored otherwise.
func NewProgressLine(w io.Writer, inPlace bool, width int) *ProgressLine {
	return &ProgressLine{w: w, inPlace: inPlace, width: width}
}

// Run draws every snapshot received until updates closes, then ends the
// in-place line so later output starts on a fresh one.
func (p *ProgressLine) Run(updates <-chan mirror.Snapshot) {
	for s := range updates {
		p.Draw(s)
	}
	p.Finish()
}

// Draw renders a single snapshot.
func (p *ProgressLine) Draw(s mirror.Snapshot) {
	line := FormatSnapshot(s)

	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.inPlace {
		fmt.Fprintf(p.w, "progress: %s\n", line)
		return
	}
	line = truncate(line, p.width-1)
	fmt.Fprint(p.w, "\r\033[K"+line)
	p.shown = line
}

// Interrupt clears the in-place line, runs fn, and redraws the line.
// Output sharing the terminal goes through here so it never lands on the
// tail of the progress line.
func (p *ProgressLine) Interrupt(fn func()) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.inPlace && p.shown != "" {
		fmt.Fprint(p.w, "\r\033[K")
	}
	fn()
	if p.inPlace && p.shown != "" {
		fmt.Fprint(p.w, p.shown)
	}
}

// Finish terminates an in-place line.
func (p *ProgressLine) Finish() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.inPlace && p.shown != "" {
		fmt.Fprintln(p.w)
	}
	p.shown = ""
}

// FormatSnapshot formats a monitor snapshot on one line.
// Format: download ▪▪▪▪▪□□□□□ 50%  1.2 MiB (34 blocks) 1.00 MB/s  upload 0 B 0 B/s  peers 1
func FormatSnapshot(s mirror.Snapshot) string {
	var b strings.Builder
	b.WriteString("download ")
	if s.Download.Progress > 0 {
		fmt.Fprintf(&b, "%s %.0f%%  ", ProgressBar(s.Download.Progress, progressBarWidth), s.Download.Progress*100)
	}
	fmt.Fprintf(&b, "%s (%s blocks) %s",
		formatSize(s.Download.Bytes),
		formatUint(s.Download.Blocks),
		FormatRate(s.Download.Speed),
	)
	fmt.Fprintf(&b, "  upload %s %s",
		formatSize(s.Upload.Bytes),
		FormatRate(s.Upload.Speed),
	)
	fmt.Fprintf(&b, "  peers %d", s.Peers)
	return b.String()
}

func truncate(s string, width int) string {
	if width <= 0 {
		return s
	}
	r := []rune(s)
	if len(r) <= width {
		return s
	}
	return string(r[:width])
}
