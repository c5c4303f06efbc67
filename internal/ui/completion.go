package ui

import (
	"fmt"
	"time"

	"github.com/bamsammich/mirror/internal/stats"
)

// CompletionSummary builds a final summary line from a snapshot.
// Format: done ✓  files 48,917  add 12  change 3  remove 1  +2.1 GiB  -14.0 MiB  time 3m 17s
func CompletionSummary(snap stats.Snapshot, elapsed time.Duration) string {
	return fmt.Sprintf("done ✓  files %s  add %s  change %s  remove %s  +%s  -%s  time %s",
		formatUint(snap.Files),
		formatUint(snap.Added),
		formatUint(snap.Changed),
		formatUint(snap.Removed),
		formatSize(snap.BytesAdded),
		formatSize(snap.BytesRemoved),
		FormatDuration(elapsed),
	)
}

func formatUint(n uint64) string {
	return FormatCount(int64(n)) //nolint:gosec // G115: counters never approach 2^63
}

func formatSize(n uint64) string {
	return FormatBytes(int64(n)) //nolint:gosec // G115: blob lengths never approach 2^63
}
