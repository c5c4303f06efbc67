package ui

import (
	"fmt"
	"io"
	"iter"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/bamsammich/mirror/internal/event"
	"github.com/bamsammich/mirror/internal/stats"
)

// plainPresenter writes one line per diff to stdout.
//
//	+ /docs/new.txt  1.2 KiB
//	~ /docs/edited.txt  300 B → 1.1 KiB
//	- /docs/gone.txt  40 B
//	= /docs/same.txt
type plainPresenter struct {
	w        io.Writer
	color    bool
	dryRun   bool
	progress *ProgressLine
	start    time.Time
}

func newPlainPresenter(cfg Config) *plainPresenter {
	return &plainPresenter{
		w:        cfg.Writer,
		color:    cfg.Color,
		dryRun:   cfg.DryRun,
		progress: cfg.Progress,
		start:    time.Now(),
	}
}

func (p *plainPresenter) Run(diffs iter.Seq2[event.Diff, error]) error {
	for d, err := range diffs {
		if err != nil {
			return err
		}
		line := p.line(d)
		if p.progress == nil {
			fmt.Fprintln(p.w, line)
			continue
		}
		p.progress.Interrupt(func() { fmt.Fprintln(p.w, line) })
	}
	return nil
}

func (p *plainPresenter) line(d event.Diff) string {
	marker, style := opMarker(d.Op)
	if p.color {
		marker = style.Render(marker)
	}
	key := d.Key
	if p.color {
		key = styleKey.Render(key)
	}

	var size string
	switch d.Op {
	case event.Add:
		size = formatSize(d.BytesAdded)
	case event.Remove:
		size = formatSize(d.BytesRemoved)
	case event.Change:
		size = formatSize(d.BytesRemoved) + " → " + formatSize(d.BytesAdded)
	case event.Equal:
		return marker + " " + key
	}
	if p.color {
		size = styleSize.Render(size)
	}
	return marker + " " + key + "  " + size
}

func (p *plainPresenter) Summary(snap stats.Snapshot) string {
	s := CompletionSummary(snap, time.Since(p.start))
	if p.dryRun {
		s += "  (dry run)"
	}
	return s
}

func opMarker(op event.Op) (string, lipgloss.Style) {
	switch op {
	case event.Add:
		return "+", styleAdd
	case event.Change:
		return "~", styleChange
	case event.Remove:
		return "-", styleRemove
	default:
		return "=", styleEqual
	}
}
