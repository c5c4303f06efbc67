package ui

import (
	"iter"

	"github.com/bamsammich/mirror/internal/event"
	"github.com/bamsammich/mirror/internal/stats"
)

// quietPresenter drains diffs but produces no output.
type quietPresenter struct{}

func (*quietPresenter) Run(diffs iter.Seq2[event.Diff, error]) error {
	for _, err := range diffs {
		if err != nil {
			return err
		}
	}
	return nil
}

func (*quietPresenter) Summary(stats.Snapshot) string {
	return ""
}
