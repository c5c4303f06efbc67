package stats

import (
	"sync"
	"time"
)

// DefaultWindow is the span a Meter averages over unless told otherwise.
const DefaultWindow = 5 * time.Second

// Meter is a sliding-window rate estimator. Samples land in one-second
// buckets of a ring; Rate averages the buckets inside the window.
type Meter struct {
	mu      sync.Mutex
	buckets []int64
	seconds []int64 // unix second each bucket holds
	now     func() time.Time
}

// NewMeter creates a Meter averaging over window (rounded up to whole
// seconds, minimum one).
func NewMeter(window time.Duration) *Meter {
	n := int((window + time.Second - 1) / time.Second)
	if n < 1 {
		n = 1
	}
	return &Meter{
		buckets: make([]int64, n),
		seconds: make([]int64, n),
		now:     time.Now,
	}
}

// Add records n units at the current time.
func (m *Meter) Add(n int) {
	sec := m.now().Unix()
	m.mu.Lock()
	defer m.mu.Unlock()

	idx := int(sec % int64(len(m.buckets)))
	if m.seconds[idx] != sec {
		m.seconds[idx] = sec
		m.buckets[idx] = 0
	}
	m.buckets[idx] += int64(n)
}

// Rate returns units per second over the window.
func (m *Meter) Rate() float64 {
	sec := m.now().Unix()
	m.mu.Lock()
	defer m.mu.Unlock()

	n := int64(len(m.buckets))
	var sum int64
	for i, s := range m.seconds {
		if s > sec-n && s <= sec {
			sum += m.buckets[i]
		}
	}
	return float64(sum) / float64(n)
}
