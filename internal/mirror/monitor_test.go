package mirror

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/ipfs/go-datastore"
	dssync "github.com/ipfs/go-datastore/sync"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bamsammich/mirror/internal/drive"
	"github.com/bamsammich/mirror/internal/drive/dsdrive"
)

// newOrigin returns a writable drive with 4-byte blocks holding three
// files spread over six blocks, and a read-only replica of it.
func newOrigin(t *testing.T) (origin, replica *dsdrive.Drive) {
	t.Helper()
	origin = newDS(t, dsdrive.WithBlockSize(4))
	put(t, origin, "/a.txt", "hello world") // 3 blocks
	put(t, origin, "/b.txt", "abcd")        // 1 block
	put(t, origin, "/c.txt", "xyz12345")    // 2 blocks

	replica = dsdrive.NewReplica(dssync.MutexWrap(datastore.NewMapDatastore()), origin)
	require.NoError(t, replica.Ready(context.Background()))
	return origin, replica
}

func TestRegistry_SwapRemove(t *testing.T) {
	m := newMirror(t, newDS(t), newDS(t), Options{})

	a := m.Monitor(time.Hour)
	b := m.Monitor(time.Hour)
	c := m.Monitor(time.Hour)
	require.Equal(t, 3, m.monitors.len())
	assert.Equal(t, []int{0, 1, 2}, []int{a.index, b.index, c.index})

	a.Close()
	assert.True(t, a.Detached())
	assert.Equal(t, 2, m.monitors.len())
	assert.Equal(t, 0, c.index)
	assert.Same(t, c, m.monitors.slots[0])
	assert.Same(t, b, m.monitors.slots[1])

	a.Close() // no-op
	assert.Equal(t, 2, m.monitors.len())

	b.Close()
	assert.Equal(t, 1, m.monitors.len())
	assert.Equal(t, 0, c.index)
	assert.False(t, c.Detached())

	c.Close()
	assert.Equal(t, 0, m.monitors.len())
}

func TestMonitor_FirstSnapshotImmediately(t *testing.T) {
	m := newMirror(t, newDS(t), newDS(t), Options{})
	mon := m.Monitor(time.Hour)
	defer mon.Close()

	select {
	case s := <-mon.Updates():
		assert.Equal(t, Snapshot{}, s)
	default:
		t.Fatal("no snapshot on attach")
	}
	assert.Equal(t, Snapshot{}, mon.Snapshot())
}

func TestMonitor_Ticks(t *testing.T) {
	m := newMirror(t, newDS(t), newDS(t), Options{})
	mon := m.Monitor(5 * time.Millisecond)
	defer mon.Close()

	<-mon.Updates()
	select {
	case <-mon.Updates():
	case <-time.After(5 * time.Second):
		t.Fatal("monitor did not tick")
	}
}

func TestMonitor_DetachedWhenPassEnds(t *testing.T) {
	_, replica := newOrigin(t)
	dst := newDS(t)

	m := newMirror(t, replica, dst, Options{NoPreload: true})
	mons := []*Monitor{m.Monitor(time.Hour), m.Monitor(time.Hour)}

	require.NoError(t, m.Done(context.Background()))

	for i, mon := range mons {
		assert.True(t, mon.Detached(), "monitor %d", i)
		var last Snapshot
		for s := range mon.Updates() {
			last = s
		}
		assert.Equal(t, 1, last.Peers)
		assert.Equal(t, uint64(6), last.Download.Blocks)
		assert.Equal(t, uint64(len("hello world")+len("abcd")+len("xyz12345")), last.Download.Bytes)
		assert.Equal(t, 1.0, last.Download.Progress)
		assert.Equal(t, last, mon.Snapshot())
	}
	assert.Equal(t, 0, m.monitors.len())
}

func TestMonitor_AttachAfterPass(t *testing.T) {
	m := newMirror(t, newDS(t), newDS(t), Options{})
	require.NoError(t, m.Done(context.Background()))

	mon := m.Monitor(time.Hour)
	assert.True(t, mon.Detached())
	s, ok := <-mon.Updates()
	require.True(t, ok)
	assert.Equal(t, 1.0, s.Download.Progress)
	_, ok = <-mon.Updates()
	assert.False(t, ok)
	mon.Close()
}

func TestMonitor_ProgressWithoutFinish(t *testing.T) {
	m := newMirror(t, newDS(t), newDS(t), Options{})
	mon := m.Monitor(time.Hour)
	require.NoError(t, m.Close())

	var last Snapshot
	for s := range mon.Updates() {
		last = s
	}
	assert.Equal(t, 0.0, last.Download.Progress)
}

func TestDownloadProgress(t *testing.T) {
	m := newMirror(t, newDS(t), newDS(t), Options{})
	assert.Equal(t, 0.0, m.downloadProgress())

	m.estimate.Store(10)
	for range 5 {
		m.onTransfer(drive.Transfer{Direction: drive.Downloaded, Bytes: 4})
	}
	assert.InDelta(t, 0.5, m.downloadProgress(), 1e-9)

	for range 20 {
		m.onTransfer(drive.Transfer{Direction: drive.Downloaded, Bytes: 4})
	}
	assert.Equal(t, 0.99, m.downloadProgress())

	m.finished.Store(true)
	assert.Equal(t, 1.0, m.downloadProgress())
}

func TestUploadsCounted(t *testing.T) {
	origin, replica := newOrigin(t)
	ctx := context.Background()

	m := newMirror(t, origin, newDS(t), Options{})
	require.NoError(t, m.init(ctx))

	// Another peer reading from the origin makes it upload.
	assert.Equal(t, "hello world", content(t, replica, "/a.txt"))

	s := m.snapshot()
	assert.Equal(t, uint64(3), s.Upload.Blocks)
	assert.Equal(t, uint64(11), s.Upload.Bytes)
	assert.Equal(t, 1, s.Peers)
	assert.Greater(t, s.Upload.Speed, 0.0)
}

func TestMonitor_ConcurrentAttachDetach(t *testing.T) {
	m := newMirror(t, newDS(t), newDS(t), Options{})
	done := make(chan struct{})
	for i := range 8 {
		go func() {
			defer func() { done <- struct{}{} }()
			for range 20 {
				mon := m.Monitor(time.Millisecond)
				if i%2 == 0 {
					mon.Close()
				}
			}
		}()
	}
	for range 8 {
		<-done
	}
	require.NoError(t, m.Close())
	assert.Equal(t, 0, m.monitors.len(), fmt.Sprintf("%d monitors left", m.monitors.len()))
}
