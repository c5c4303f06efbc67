package mirror

import (
	"sync"
	"sync/atomic"
	"time"
)

// DefaultMonitorInterval is used when Monitor is given a non-positive
// interval.
const DefaultMonitorInterval = 250 * time.Millisecond

// Snapshot is a point-in-time view of transfer progress. Each update
// replaces the previous one.
type Snapshot struct {
	Download DownloadStats
	Upload   UploadStats
	Peers    int
}

type DownloadStats struct {
	Bytes  uint64
	Blocks uint64
	Speed  float64 // bytes/sec
	// Progress is 0 until an estimate exists, at most 0.99 while the pass
	// runs, and 1 once it finished.
	Progress float64
}

type UploadStats struct {
	Bytes  uint64
	Blocks uint64
	Speed  float64 // bytes/sec
}

func (m *Mirror) snapshot() Snapshot {
	return Snapshot{
		Peers: m.peers(),
		Download: DownloadStats{
			Bytes:    m.download.Bytes(),
			Blocks:   m.download.Blocks(),
			Speed:    m.download.Speed(),
			Progress: m.downloadProgress(),
		},
		Upload: UploadStats{
			Bytes:  m.upload.Bytes(),
			Blocks: m.upload.Blocks(),
			Speed:  m.upload.Speed(),
		},
	}
}

// Monitor samples a Mirror on a fixed interval until it is closed or the
// pass ends.
type Monitor struct {
	m       *Mirror
	index   int // slot in the registry, -1 once detached; guarded by registry.mu
	updates chan Snapshot
	latest  atomic.Pointer[Snapshot]
	final   atomic.Bool
	stop    chan struct{}
	done    chan struct{}
	once    sync.Once
}

// Monitor attaches a new monitor sampling every interval. It takes its
// first snapshot before returning. A monitor attached after the pass
// ended holds that one snapshot and is already detached.
func (m *Mirror) Monitor(interval time.Duration) *Monitor {
	if interval <= 0 {
		interval = DefaultMonitorInterval
	}
	mon := &Monitor{
		m:       m,
		index:   -1,
		updates: make(chan Snapshot, 1),
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
	}
	mon.update()

	if !m.monitors.add(mon) {
		mon.once.Do(func() {
			close(mon.stop)
			close(mon.updates)
			close(mon.done)
		})
		return mon
	}
	go mon.loop(interval)
	return mon
}

func (mon *Monitor) loop(interval time.Duration) {
	defer close(mon.done)
	defer close(mon.updates)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			mon.update()
		case <-mon.stop:
			if mon.final.Load() {
				mon.update()
			}
			return
		}
	}
}

// update replaces the latest snapshot. A reader that fell behind only sees
// the newest one.
func (mon *Monitor) update() {
	s := mon.m.snapshot()
	mon.latest.Store(&s)
	select {
	case <-mon.updates:
	default:
	}
	select {
	case mon.updates <- s:
	default:
	}
}

// Updates delivers snapshots as they are taken. It is closed once the
// monitor is detached.
func (mon *Monitor) Updates() <-chan Snapshot { return mon.updates }

// Snapshot returns the most recent snapshot.
func (mon *Monitor) Snapshot() Snapshot { return *mon.latest.Load() }

// Detached reports whether the monitor has stopped sampling.
func (mon *Monitor) Detached() bool {
	mon.m.monitors.mu.Lock()
	defer mon.m.monitors.mu.Unlock()
	return mon.index == -1
}

// Close detaches the monitor. Other monitors are unaffected; closing twice
// is a no-op.
func (mon *Monitor) Close() {
	mon.detach(false)
}

// detach stops the monitor, taking one last snapshot first when final is
// set.
func (mon *Monitor) detach(final bool) {
	mon.once.Do(func() {
		mon.m.monitors.remove(mon)
		mon.final.Store(final)
		close(mon.stop)
	})
	<-mon.done
}

// registry holds the attached monitors. Removal swaps the last monitor into
// the freed slot so the others keep valid indices.
type registry struct {
	mu     sync.Mutex
	slots  []*Monitor
	closed bool
}

func (r *registry) add(mon *Monitor) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return false
	}
	mon.index = len(r.slots)
	r.slots = append(r.slots, mon)
	return true
}

func (r *registry) remove(mon *Monitor) {
	r.mu.Lock()
	defer r.mu.Unlock()
	i := mon.index
	if i < 0 {
		return
	}
	last := len(r.slots) - 1
	if i != last {
		r.slots[i] = r.slots[last]
		r.slots[i].index = i
	}
	r.slots[last] = nil
	r.slots = r.slots[:last]
	mon.index = -1
}

func (r *registry) len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.slots)
}

// closeAll refuses further monitors and detaches the current ones, last
// first, each after a final snapshot.
func (r *registry) closeAll() {
	r.mu.Lock()
	r.closed = true
	slots := append([]*Monitor(nil), r.slots...)
	r.mu.Unlock()

	for i := len(slots) - 1; i >= 0; i-- {
		slots[i].detach(true)
	}
}
