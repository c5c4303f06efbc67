// Package dsdrive implements a block-addressed drive on top of a
// go-datastore. Content is appended as numbered blocks and entries point at
// block ranges, so a read-only replica can fetch blocks lazily from an
// origin and report every transfer.
package dsdrive

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"iter"
	"path"
	"strings"
	"sync"

	"github.com/ipfs/go-datastore"
	"github.com/ipfs/go-datastore/query"
	"github.com/klauspost/compress/zstd"

	"github.com/bamsammich/mirror/internal/drive"
)

// Compile-time interface checks.
var (
	_ drive.Drive             = (*Drive)(nil)
	_ drive.Batcher           = (*Drive)(nil)
	_ drive.MetadataSupporter = (*Drive)(nil)
	_ drive.Replicated        = (*Drive)(nil)
	_ drive.Hasher            = (*Drive)(nil)
	_ drive.BlobProvider      = (*Drive)(nil)
)

// ErrReadOnly is returned by mutations on a replica.
var ErrReadOnly = errors.New("dsdrive: drive is read-only")

// DefaultBlockSize is the content block size used unless overridden.
const DefaultBlockSize = 64 * 1024

var (
	entriesRoot  = datastore.NewKey("/entries")
	blocksRoot   = datastore.NewKey("/blocks")
	nextBlockKey = datastore.NewKey("/meta/next-block")
)

// Option configures a Drive.
type Option func(*Drive) error

// WithBlockSize sets the content block size in bytes.
func WithBlockSize(n int) Option {
	return func(d *Drive) error {
		if n <= 0 {
			return fmt.Errorf("block size must be positive, got %d", n)
		}
		d.blockSize = n
		return nil
	}
}

// WithCompression stores blocks zstd-compressed.
func WithCompression() Option {
	return func(d *Drive) error {
		enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedFastest))
		if err != nil {
			return fmt.Errorf("zstd encoder: %w", err)
		}
		dec, err := zstd.NewReader(nil)
		if err != nil {
			return fmt.Errorf("zstd decoder: %w", err)
		}
		d.enc, d.dec = enc, dec
		return nil
	}
}

// Drive stores entries and blocks in a datastore.
type Drive struct {
	ds        datastore.Batching
	origin    *Drive // set on replicas
	blockSize int
	enc       *zstd.Encoder
	dec       *zstd.Decoder
	core      *Core

	// writeSem admits one Writer at a time so a blob's blocks are contiguous.
	writeSem chan struct{}

	mu        sync.Mutex
	nextBlock uint64
	replicas  int
}

// New creates a writable drive over ds.
func New(ds datastore.Batching, opts ...Option) (*Drive, error) {
	d := &Drive{
		ds:        ds,
		blockSize: DefaultBlockSize,
		writeSem:  make(chan struct{}, 1),
	}
	for _, opt := range opts {
		if err := opt(d); err != nil {
			return nil, err
		}
	}
	d.core = newCore(d)
	return d, nil
}

// NewReplica creates a read-only drive over ds that serves origin's entries
// and downloads origin's blocks into ds on first use.
func NewReplica(ds datastore.Batching, origin *Drive) *Drive {
	d := &Drive{
		ds:        ds,
		origin:    origin,
		blockSize: origin.blockSize,
		enc:       origin.enc,
		dec:       origin.dec,
		writeSem:  make(chan struct{}, 1),
	}
	d.core = newCore(d)

	origin.mu.Lock()
	origin.replicas++
	origin.mu.Unlock()
	return d
}

// Ready loads the block counter.
func (d *Drive) Ready(ctx context.Context) error {
	if d.origin != nil {
		return d.origin.Ready(ctx)
	}
	v, err := d.ds.Get(ctx, nextBlockKey)
	if errors.Is(err, datastore.ErrNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("load block counter: %w", err)
	}
	if len(v) != 8 {
		return fmt.Errorf("load block counter: corrupt value of %d bytes", len(v))
	}
	d.mu.Lock()
	d.nextBlock = binary.BigEndian.Uint64(v)
	d.mu.Unlock()
	return nil
}

// SupportsMetadata reports true.
func (*Drive) SupportsMetadata() bool { return true }

// Writable reports false for replicas.
func (d *Drive) Writable() bool { return d.origin == nil }

// Peers returns the number of drives this one exchanges blocks with.
func (d *Drive) Peers() int {
	if d.origin != nil {
		return 1
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.replicas
}

//nolint:ireturn // implements drive.BlobProvider
func (d *Drive) Blobs(context.Context) (drive.BlobStore, error) {
	return d.core, nil
}

// Core returns the block store, for callers that want the concrete type.
func (d *Drive) Core() *Core { return d.core }

// index is the datastore holding entry records.
func (d *Drive) index() datastore.Batching {
	if d.origin != nil {
		return d.origin.index()
	}
	return d.ds
}

func (d *Drive) Entry(ctx context.Context, key string) (*drive.Entry, error) {
	key = drive.Clean(key)
	r, err := d.record(ctx, key)
	if err != nil || r == nil {
		return nil, err
	}
	return r.entry(key), nil
}

func (d *Drive) record(ctx context.Context, key string) (*record, error) {
	if key == "/" {
		return nil, nil
	}
	v, err := d.index().Get(ctx, entryKey(key))
	if errors.Is(err, datastore.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get entry %s: %w", key, err)
	}
	return unmarshalRecord(v)
}

func (d *Drive) List(ctx context.Context, prefix string, ignore drive.IgnoreFunc) iter.Seq2[*drive.Entry, error] {
	return func(yield func(*drive.Entry, error) bool) {
		prefix = drive.Clean(prefix)
		results, err := d.index().Query(ctx, query.Query{
			Prefix: entriesRoot.Child(datastore.NewKey(prefix)).String(),
			Orders: []query.Order{query.OrderByKey{}},
		})
		if err != nil {
			yield(nil, fmt.Errorf("query %s: %w", prefix, err))
			return
		}
		defer results.Close()

		// Keys arrive sorted, so everything under an ignored directory is
		// contiguous.
		var skipped string
		for result := range results.Next() {
			if result.Error != nil {
				yield(nil, fmt.Errorf("read query result: %w", result.Error))
				return
			}
			key := keyFromEntry(result.Key)
			if key == prefix {
				continue
			}
			if skipped != "" && drive.IsUnder(key, skipped) {
				continue
			}
			if dir, ok := ignoredAncestor(key, prefix, ignore); ok {
				skipped = dir
				continue
			}
			r, err := unmarshalRecord(result.Value)
			if err != nil {
				yield(nil, fmt.Errorf("entry %s: %w", key, err))
				return
			}
			if !yield(r.entry(key), nil) {
				return
			}
		}
	}
}

// ignoredAncestor returns the outermost path between prefix (exclusive) and
// key (inclusive) that ignore matches. Datastore keys have no directory
// records, so nesting is checked path by path.
func ignoredAncestor(key, prefix string, ignore drive.IgnoreFunc) (string, bool) {
	if ignore == nil {
		return "", false
	}
	var hit string
	for dir := key; dir != prefix && dir != "/"; dir = path.Dir(dir) {
		if ignore(dir) {
			hit = dir
		}
	}
	return hit, hit != ""
}

func (d *Drive) OpenRead(ctx context.Context, e *drive.Entry) (io.ReadCloser, error) {
	if e == nil || e.Blob == nil {
		return nil, fmt.Errorf("open %v: %w", e, drive.ErrNotFound)
	}
	return &blockReader{ctx: ctx, d: d, next: e.Blob.BlockOffset, end: e.Blob.BlockOffset + e.Blob.BlockLength}, nil
}

//nolint:ireturn // implements drive.Drive
func (d *Drive) Create(ctx context.Context, key string, opts drive.WriteOptions) (drive.Writer, error) {
	return d.create(ctx, d.ds, key, opts)
}

func (d *Drive) create(ctx context.Context, target writeTarget, key string, opts drive.WriteOptions) (drive.Writer, error) {
	if d.origin != nil {
		return nil, ErrReadOnly
	}
	select {
	case d.writeSem <- struct{}{}:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	return newBlobWriter(ctx, d, target, drive.Clean(key), opts), nil
}

func (d *Drive) Delete(ctx context.Context, key string) error {
	return d.delete(ctx, d.ds, key)
}

func (d *Drive) delete(ctx context.Context, target writeTarget, key string) error {
	if d.origin != nil {
		return ErrReadOnly
	}
	key = drive.Clean(key)
	r, err := d.record(ctx, key)
	if err != nil {
		return err
	}
	if r == nil {
		return fmt.Errorf("delete %s: %w", key, drive.ErrNotFound)
	}
	if err := target.Delete(ctx, entryKey(key)); err != nil {
		return fmt.Errorf("delete %s: %w", key, err)
	}
	return nil
}

func (d *Drive) Symlink(ctx context.Context, key, linkname string) error {
	return d.symlink(ctx, d.ds, key, linkname)
}

func (d *Drive) symlink(ctx context.Context, target writeTarget, key, linkname string) error {
	if d.origin != nil {
		return ErrReadOnly
	}
	key = drive.Clean(key)
	r := record{Linkname: linkname}
	if err := target.Put(ctx, entryKey(key), r.marshal()); err != nil {
		return fmt.Errorf("symlink %s: %w", key, err)
	}
	return nil
}

// Digest returns the BLAKE3 digest recorded when the blob was written.
func (d *Drive) Digest(ctx context.Context, e *drive.Entry) ([]byte, error) {
	if e == nil || e.Blob == nil {
		return nil, nil
	}
	r, err := d.record(ctx, e.Key)
	if err != nil || r == nil {
		return nil, err
	}
	if r.Blob == nil || *r.Blob != *e.Blob {
		return nil, nil // entry changed since it was looked up
	}
	return r.Digest, nil
}

//nolint:ireturn // implements drive.Batcher
func (d *Drive) Batch(ctx context.Context) (drive.Batch, error) {
	if d.origin != nil {
		return nil, ErrReadOnly
	}
	b, err := d.ds.Batch(ctx)
	if err != nil {
		return nil, fmt.Errorf("create batch: %w", err)
	}
	return &batch{Drive: d, b: b}, nil
}

// allocBlock reserves the next block index.
func (d *Drive) allocBlock() uint64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	i := d.nextBlock
	d.nextBlock++
	return i
}

func (d *Drive) blockCounter() []byte {
	d.mu.Lock()
	defer d.mu.Unlock()
	return binary.BigEndian.AppendUint64(nil, d.nextBlock)
}

func (d *Drive) encodeBlock(p []byte) []byte {
	if d.enc == nil {
		return append([]byte(nil), p...)
	}
	return d.enc.EncodeAll(p, nil)
}

func (d *Drive) decodeBlock(p []byte) ([]byte, error) {
	if d.dec == nil {
		return p, nil
	}
	out, err := d.dec.DecodeAll(p, nil)
	if err != nil {
		return nil, fmt.Errorf("decompress block: %w", err)
	}
	return out, nil
}

// block returns the decoded content of block i, downloading it first on
// replicas.
func (d *Drive) block(ctx context.Context, i uint64) ([]byte, error) {
	raw, err := d.core.fetch(ctx, i)
	if err != nil {
		return nil, err
	}
	return d.decodeBlock(raw)
}

// writeTarget is the mutating half of datastore.Batching and datastore.Batch.
type writeTarget interface {
	Put(ctx context.Context, key datastore.Key, value []byte) error
	Delete(ctx context.Context, key datastore.Key) error
}

func entryKey(key string) datastore.Key {
	return entriesRoot.Child(datastore.NewKey(key))
}

func keyFromEntry(dsKey string) string {
	return drive.Clean(strings.TrimPrefix(dsKey, entriesRoot.String()))
}

func blockKey(i uint64) datastore.Key {
	return blocksRoot.ChildString(fmt.Sprintf("%020d", i))
}

// batch stages mutations in a datastore batch. Reads see committed state.
type batch struct {
	*Drive
	b datastore.Batch
}

//nolint:ireturn // implements drive.Drive
func (b *batch) Create(ctx context.Context, key string, opts drive.WriteOptions) (drive.Writer, error) {
	return b.create(ctx, b.b, key, opts)
}

func (b *batch) Delete(ctx context.Context, key string) error {
	return b.delete(ctx, b.b, key)
}

func (b *batch) Symlink(ctx context.Context, key, linkname string) error {
	return b.symlink(ctx, b.b, key, linkname)
}

// Flush commits everything staged so far.
func (b *batch) Flush(ctx context.Context) error {
	if err := b.b.Commit(ctx); err != nil {
		return fmt.Errorf("commit batch: %w", err)
	}
	return nil
}
