package stats

import (
	"fmt"
	"sync/atomic"
)

// Counters tracks mirror pass progress using lock-free atomic counters.
// Only the pass itself writes; monitors read snapshots concurrently.
type Counters struct {
	files        atomic.Uint64
	added        atomic.Uint64
	removed      atomic.Uint64
	changed      atomic.Uint64
	bytesRemoved atomic.Uint64
	bytesAdded   atomic.Uint64
}

// Snapshot is a point-in-time read of all counters.
type Snapshot struct {
	Files        uint64
	Added        uint64
	Removed      uint64
	Changed      uint64
	BytesRemoved uint64
	BytesAdded   uint64
}

func (c *Counters) AddFiles(n uint64)        { c.files.Add(n) }
func (c *Counters) AddAdded(n uint64)        { c.added.Add(n) }
func (c *Counters) AddRemoved(n uint64)      { c.removed.Add(n) }
func (c *Counters) AddChanged(n uint64)      { c.changed.Add(n) }
func (c *Counters) AddBytesRemoved(n uint64) { c.bytesRemoved.Add(n) }
func (c *Counters) AddBytesAdded(n uint64)   { c.bytesAdded.Add(n) }

// Snapshot returns a point-in-time read of all counters.
func (c *Counters) Snapshot() Snapshot {
	return Snapshot{
		Files:        c.files.Load(),
		Added:        c.added.Load(),
		Removed:      c.removed.Load(),
		Changed:      c.changed.Load(),
		BytesRemoved: c.bytesRemoved.Load(),
		BytesAdded:   c.bytesAdded.Load(),
	}
}

func (s Snapshot) String() string {
	return fmt.Sprintf(
		"files=%d add=%d remove=%d change=%d bytes_removed=%d bytes_added=%d",
		s.Files, s.Added, s.Removed, s.Changed, s.BytesRemoved, s.BytesAdded,
	)
}

// Transfer accumulates blocks and bytes moved in one direction and feeds a
// Meter for the current rate.
type Transfer struct {
	blocks atomic.Uint64
	bytes  atomic.Uint64
	meter  *Meter
}

// NewTransfer creates a Transfer whose rate is averaged over DefaultWindow.
func NewTransfer() *Transfer {
	return &Transfer{meter: NewMeter(DefaultWindow)}
}

// Record counts one block of n bytes.
func (t *Transfer) Record(n int) {
	t.blocks.Add(1)
	t.bytes.Add(uint64(n)) //nolint:gosec // G115: block sizes are non-negative
	t.meter.Add(n)
}

func (t *Transfer) Blocks() uint64 { return t.blocks.Load() }
func (t *Transfer) Bytes() uint64  { return t.bytes.Load() }

// Speed returns bytes/sec over the meter window.
func (t *Transfer) Speed() float64 { return t.meter.Rate() }

// FormatBytes returns a human-readable byte count.
func FormatBytes(b int64) string {
	const unit = 1024
	if b < unit {
		return fmt.Sprintf("%d B", b)
	}
	div, exp := int64(unit), 0
	for n := b / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(b)/float64(div), "KMGTPE"[exp])
}
