// Package mirror computes and applies the streamed diff that brings a
// destination drive into the state of a source drive.
//
// A Mirror is a single-pass, pull-based sequence of diff events. Nothing
// happens until the first call to Next; each call runs the pass up to the
// next event. The pass first prunes destination keys missing from the
// source, then adds or changes destination keys that differ, and finally
// flushes the destination batch when one is in use.
package mirror

import (
	"context"
	"errors"
	"fmt"
	"io"
	"iter"
	"log/slog"
	"sync"
	"sync/atomic"

	"golang.org/x/time/rate"

	"github.com/bamsammich/mirror/internal/drive"
	"github.com/bamsammich/mirror/internal/event"
	"github.com/bamsammich/mirror/internal/stats"
	"github.com/bamsammich/mirror/internal/transform"
)

// Rebase mirrors the source tree under From onto the destination tree
// under To.
type Rebase struct {
	From string
	To   string
}

// TransformPolicy decides how keys with filters are compared.
type TransformPolicy int

const (
	// CompareOutput streams the filtered source against the destination
	// content and only writes when they differ.
	CompareOutput TransformPolicy = iota
	// AlwaysWrite treats every key with filters as changed.
	AlwaysWrite
)

func (p TransformPolicy) String() string {
	switch p {
	case CompareOutput:
		return "compare-output"
	case AlwaysWrite:
		return "always-write"
	default:
		return "unknown"
	}
}

// Options configures a Mirror. The zero value mirrors everything and
// prunes.
type Options struct {
	// Prefixes limits the pass to these subtrees, visited in order.
	// Defaults to "/". Mutually exclusive with Rebase.
	Prefixes []string
	Rebase   *Rebase

	DryRun        bool
	NoPrune       bool
	NoPreload     bool
	IncludeEquals bool
	Batch         bool

	// Filter keeps a key when it returns true. It sees source keys in
	// both passes.
	Filter func(key string) bool

	// Ignore is handed to the drives' List. It sees source keys.
	Ignore drive.IgnoreFunc

	// MetadataEquals replaces the default byte comparison of metadata.
	MetadataEquals func(src, dst []byte) (bool, error)

	// Entries replaces enumeration with an explicit list of source keys.
	Entries []string

	Transforms      *transform.Pipeline
	TransformPolicy TransformPolicy

	// Limiter caps the bytes per second copied to the destination.
	Limiter *rate.Limiter

	Logger *slog.Logger
}

// State is a stage of the pass.
type State int32

const (
	StateInit State = iota
	StatePrune
	StateSync
	StateFlush
	StateDone
	StateError
)

var stateNames = [...]string{
	StateInit:  "init",
	StatePrune: "prune",
	StateSync:  "sync",
	StateFlush: "flush",
	StateDone:  "done",
	StateError: "error",
}

func (s State) String() string {
	if s >= 0 && int(s) < len(stateNames) {
		return stateNames[s]
	}
	return fmt.Sprintf("State(%d)", int32(s))
}

// Mirror is one pass over a source and destination drive.
type Mirror struct {
	src     drive.Drive
	dst     drive.Drive
	opts    Options
	log     *slog.Logger
	scopes  []scope
	entries []string

	counters stats.Counters
	upload   *stats.Transfer
	download *stats.Transfer
	estimate atomic.Uint64
	finished atomic.Bool
	state    atomic.Int32
	monitors registry

	// Set by init, used only by the pass.
	target      drive.Drive
	batch       drive.Batch
	metadata    bool
	blobs       drive.BlobStore
	unsubscribe func()
	stopPreload context.CancelFunc

	mu     sync.Mutex // serialises Next and Close
	next   func() (event.Diff, error, bool)
	stop   func()
	closed bool

	cancelMu sync.Mutex
	cancel   context.CancelFunc

	finishOnce sync.Once
}

// New validates opts and returns a Mirror from src to dst. No drive is
// touched until the first call to Next.
func New(src, dst drive.Drive, opts Options) (*Mirror, error) {
	if src == nil || dst == nil {
		return nil, &ConfigError{Option: "drives", Reason: "source and destination are required"}
	}
	scopes, err := buildScopes(opts)
	if err != nil {
		return nil, err
	}
	if err := checkLimiter(opts.Limiter); err != nil {
		return nil, err
	}

	m := &Mirror{
		src:      src,
		dst:      dst,
		opts:     opts,
		log:      opts.Logger,
		scopes:   scopes,
		upload:   stats.NewTransfer(),
		download: stats.NewTransfer(),
	}
	if m.log == nil {
		m.log = slog.Default()
	}
	if opts.Entries != nil {
		m.entries = make([]string, len(opts.Entries))
		for i, key := range opts.Entries {
			m.entries[i] = drive.Clean(key)
		}
	}
	return m, nil
}

func buildScopes(opts Options) ([]scope, error) {
	if opts.Rebase != nil {
		if len(opts.Prefixes) > 0 {
			return nil, &ConfigError{Option: "rebase", Reason: "cannot be combined with prefixes"}
		}
		if opts.Rebase.From == "" || opts.Rebase.To == "" {
			return nil, &ConfigError{Option: "rebase", Reason: "from and to are both required"}
		}
		return []scope{{src: drive.Clean(opts.Rebase.From), dst: drive.Clean(opts.Rebase.To)}}, nil
	}
	if len(opts.Prefixes) == 0 {
		return []scope{{src: "/", dst: "/"}}, nil
	}
	scopes := make([]scope, len(opts.Prefixes))
	for i, p := range opts.Prefixes {
		p = drive.Clean(p)
		scopes[i] = scope{src: p, dst: p}
	}
	return scopes, nil
}

// Next runs the pass up to the next diff event. It returns io.EOF once the
// pass is over, whether it finished, failed or was closed. The context
// passed to the first call governs the whole pass, including background
// preloading.
func (m *Mirror) Next(ctx context.Context) (event.Diff, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return event.Diff{}, io.EOF
	}
	if err := ctx.Err(); err != nil {
		return event.Diff{}, err
	}
	if m.next == nil {
		passCtx, cancel := context.WithCancel(ctx)
		m.cancelMu.Lock()
		m.cancel = cancel
		m.cancelMu.Unlock()
		m.next, m.stop = iter.Pull2(m.run(passCtx))
	}

	d, err, ok := m.next()
	if !ok {
		return event.Diff{}, io.EOF
	}
	return d, err
}

// Diffs returns the remaining events as a sequence. The Mirror is closed
// when the sequence ends or the caller stops early.
func (m *Mirror) Diffs(ctx context.Context) iter.Seq2[event.Diff, error] {
	return func(yield func(event.Diff, error) bool) {
		defer m.Close()
		for {
			d, err := m.Next(ctx)
			if errors.Is(err, io.EOF) {
				return
			}
			if !yield(d, err) || err != nil {
				return
			}
		}
	}
}

// Done drains the pass and returns its error, if any.
func (m *Mirror) Done(ctx context.Context) error {
	defer m.Close()
	for {
		if _, err := m.Next(ctx); err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return err
		}
	}
}

// Close abandons the pass. Monitors are detached and the preloader is
// stopped. Close is safe to call more than once.
func (m *Mirror) Close() error {
	m.cancelMu.Lock()
	if m.cancel != nil {
		m.cancel()
	}
	m.cancelMu.Unlock()

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil
	}
	m.closed = true
	if m.stop != nil {
		m.stop()
	}
	m.finish()
	return nil
}

// Count returns the counters accumulated so far.
func (m *Mirror) Count() stats.Snapshot {
	return m.counters.Snapshot()
}

// State returns the stage the pass is in.
func (m *Mirror) State() State {
	return State(m.state.Load())
}

func (m *Mirror) setState(s State) {
	m.state.Store(int32(s))
	m.log.Debug("mirror state", "state", s)
}

func (m *Mirror) run(ctx context.Context) iter.Seq2[event.Diff, error] {
	return func(yield func(event.Diff, error) bool) {
		defer m.finish()

		fail := func(err error) {
			m.setState(StateError)
			m.log.Debug("mirror failed", "error", err)
			yield(event.Diff{}, err)
		}

		m.setState(StateInit)
		if err := m.init(ctx); err != nil {
			fail(err)
			return
		}

		if !m.opts.NoPrune {
			m.setState(StatePrune)
			for d, err := range m.prune(ctx) {
				if err != nil {
					fail(err)
					return
				}
				if !yield(d, nil) {
					return
				}
			}
		}

		if !m.opts.NoPreload && m.blobs != nil {
			m.startPreload(ctx)
		}

		m.setState(StateSync)
		for d, err := range m.sync(ctx) {
			if err != nil {
				fail(err)
				return
			}
			if !yield(d, nil) {
				return
			}
		}

		if m.batch != nil {
			m.setState(StateFlush)
			if err := m.batch.Flush(ctx); err != nil {
				fail(ioError("flush", "", err))
				return
			}
		}

		m.finished.Store(true)
		m.setState(StateDone)
		m.log.Debug("mirror finished", "count", m.counters.Snapshot())
	}
}

func (m *Mirror) init(ctx context.Context) error {
	if err := m.src.Ready(ctx); err != nil {
		return ioError("ready", "", fmt.Errorf("source: %w", err))
	}
	if err := m.dst.Ready(ctx); err != nil {
		return ioError("ready", "", fmt.Errorf("destination: %w", err))
	}
	if r, ok := m.dst.(drive.Replicated); ok && !r.Writable() {
		return &WritabilityError{Peers: r.Peers()}
	}

	m.metadata = supportsMetadata(m.src) && supportsMetadata(m.dst)

	if bp, ok := m.src.(drive.BlobProvider); ok {
		blobs, err := bp.Blobs(ctx)
		if err != nil {
			return ioError("blobs", "", err)
		}
		m.blobs = blobs
		m.unsubscribe = blobs.Subscribe(m.onTransfer)
	}

	m.target = m.dst
	if m.opts.Batch && !m.opts.DryRun {
		b, ok := m.dst.(drive.Batcher)
		if !ok {
			return &ConfigError{Option: "batch", Reason: "destination cannot stage mutations"}
		}
		batch, err := b.Batch(ctx)
		if err != nil {
			return ioError("batch", "", err)
		}
		m.batch, m.target = batch, batch
	}

	m.log.Debug("mirror started",
		"scopes", len(m.scopes),
		"dry_run", m.opts.DryRun,
		"prune", !m.opts.NoPrune,
		"batch", m.batch != nil,
		"metadata", m.metadata,
	)
	return nil
}

// finish releases everything the pass holds. It runs once, when the pass
// ends or is closed.
func (m *Mirror) finish() {
	m.finishOnce.Do(func() {
		if m.stopPreload != nil {
			m.stopPreload()
		}
		if m.unsubscribe != nil {
			m.unsubscribe()
		}
		m.monitors.closeAll()
	})
}

func (m *Mirror) onTransfer(t drive.Transfer) {
	switch t.Direction {
	case drive.Uploaded:
		m.upload.Record(t.Bytes)
	case drive.Downloaded:
		m.download.Record(t.Bytes)
	}
}

func (m *Mirror) peers() int {
	if r, ok := m.src.(drive.Replicated); ok {
		return r.Peers()
	}
	return 0
}

// downloadProgress is 0 until the preloader has an estimate, then the
// downloaded share of it capped at 0.99, and 1 once the pass finished.
func (m *Mirror) downloadProgress() float64 {
	if m.finished.Load() {
		return 1
	}
	est := m.estimate.Load()
	if est == 0 {
		return 0
	}
	return min(0.99, float64(m.download.Blocks())/float64(est))
}

func (m *Mirror) prune(ctx context.Context) iter.Seq2[event.Diff, error] {
	return func(yield func(event.Diff, error) bool) {
		for p, err := range m.pairs(ctx, fromDestination) {
			if err != nil {
				yield(event.Diff{}, err)
				return
			}
			if p.src != nil || p.dst == nil {
				continue
			}

			d := event.Diff{Key: p.dstKey, Op: event.Remove, BytesRemoved: p.dst.BlobLength()}
			if !m.opts.DryRun {
				if err := m.target.Delete(ctx, p.dstKey); err != nil {
					yield(event.Diff{}, ioError("delete", p.dstKey, err))
					return
				}
			}
			m.counters.AddRemoved(1)
			m.counters.AddBytesRemoved(d.BytesRemoved)
			m.log.Debug("mirror diff", "diff", d, "dry_run", m.opts.DryRun)

			if !yield(d, nil) {
				return
			}
		}
	}
}

func (m *Mirror) sync(ctx context.Context) iter.Seq2[event.Diff, error] {
	return func(yield func(event.Diff, error) bool) {
		for p, err := range m.pairs(ctx, fromSource) {
			if err != nil {
				yield(event.Diff{}, err)
				return
			}
			// Entries may name keys the source no longer has.
			if p.src == nil {
				continue
			}
			m.counters.AddFiles(1)

			d, err := m.apply(ctx, p)
			if err != nil {
				yield(event.Diff{}, err)
				return
			}
			if d.Op == event.Equal && !m.opts.IncludeEquals {
				continue
			}
			if !yield(d, nil) {
				return
			}
		}
	}
}

// apply decides what p needs and, unless this is a dry run, does it.
func (m *Mirror) apply(ctx context.Context, p pair) (event.Diff, error) {
	filters, err := m.opts.Transforms.Resolve(p.src)
	if err != nil {
		return event.Diff{}, &ConfigError{Option: "transforms", Reason: "cannot build filters", Err: err}
	}

	same, err := m.same(ctx, p, filters)
	if err != nil {
		return event.Diff{}, err
	}
	if same {
		m.log.Debug("mirror equal", "key", p.dstKey)
		return event.Diff{Key: p.dstKey, Op: event.Equal}, nil
	}

	d := event.Diff{Key: p.dstKey, Op: event.Add, BytesAdded: p.src.BlobLength()}
	if p.dst != nil {
		d.Op = event.Change
		d.BytesRemoved = p.dst.BlobLength()
	}

	if !m.opts.DryRun {
		if err := m.copy(ctx, p, filters); err != nil {
			return event.Diff{}, err
		}
	}

	if d.Op == event.Add {
		m.counters.AddAdded(1)
	} else {
		m.counters.AddChanged(1)
		m.counters.AddBytesRemoved(d.BytesRemoved)
	}
	m.counters.AddBytesAdded(d.BytesAdded)
	m.log.Debug("mirror diff", "diff", d, "filters", len(filters), "dry_run", m.opts.DryRun)
	return d, nil
}

func supportsMetadata(d drive.Drive) bool {
	ms, ok := d.(drive.MetadataSupporter)
	return ok && ms.SupportsMetadata()
}
