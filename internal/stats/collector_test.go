package stats

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCountersConcurrent(t *testing.T) {
	var c Counters
	const goroutines = 100
	const opsPerGoroutine = 1000

	var wg sync.WaitGroup
	wg.Add(goroutines)
	for range goroutines {
		go func() {
			defer wg.Done()
			for range opsPerGoroutine {
				c.AddFiles(1)
				c.AddAdded(1)
				c.AddRemoved(1)
				c.AddChanged(1)
				c.AddBytesAdded(256)
				c.AddBytesRemoved(128)
			}
		}()
	}
	wg.Wait()

	s := c.Snapshot()
	expected := uint64(goroutines * opsPerGoroutine)
	assert.Equal(t, expected, s.Files)
	assert.Equal(t, expected, s.Added)
	assert.Equal(t, expected, s.Removed)
	assert.Equal(t, expected, s.Changed)
	assert.Equal(t, expected*256, s.BytesAdded)
	assert.Equal(t, expected*128, s.BytesRemoved)
}

func TestSnapshotString(t *testing.T) {
	s := Snapshot{Files: 7, Added: 1, Removed: 2, Changed: 3, BytesRemoved: 4, BytesAdded: 5}
	assert.Equal(t, "files=7 add=1 remove=2 change=3 bytes_removed=4 bytes_added=5", s.String())
}

func TestTransferRecord(t *testing.T) {
	tr := NewTransfer()
	tr.Record(100)
	tr.Record(50)

	assert.Equal(t, uint64(2), tr.Blocks())
	assert.Equal(t, uint64(150), tr.Bytes())
	assert.Greater(t, tr.Speed(), 0.0)
}

func TestFormatBytes(t *testing.T) {
	tests := []struct {
		want string
		in   int64
	}{
		{"0 B", 0},
		{"1023 B", 1023},
		{"1.0 KiB", 1024},
		{"1.5 MiB", 1024 * 1024 * 3 / 2},
		{"2.0 GiB", 2 * 1024 * 1024 * 1024},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, FormatBytes(tt.in))
	}
}
