package ui

import (
	"io"
	"iter"

	"github.com/bamsammich/mirror/internal/event"
	"github.com/bamsammich/mirror/internal/stats"
)

// Presenter consumes a pass's diff stream and displays it.
type Presenter interface {
	// Run consumes diffs until the sequence ends. It returns the first
	// error the sequence yields.
	Run(diffs iter.Seq2[event.Diff, error]) error
	// Summary returns the final summary line.
	Summary(snap stats.Snapshot) string
}

// Config configures a Presenter.
type Config struct {
	Writer io.Writer
	Color  bool
	Quiet  bool
	DryRun bool
	// Progress, if set, shares the terminal with Writer.
	Progress *ProgressLine
}

// NewPresenter creates the appropriate presenter based on configuration.
//
//nolint:ireturn // factory function returns interface by design
func NewPresenter(cfg Config) Presenter {
	if cfg.Quiet {
		return &quietPresenter{}
	}
	return newPlainPresenter(cfg)
}
