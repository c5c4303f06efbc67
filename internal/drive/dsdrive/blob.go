package dsdrive

import (
	"context"
	"fmt"
	"io"

	"github.com/zeebo/blake3"

	"github.com/bamsammich/mirror/internal/drive"
)

// blobWriter appends content as blocks and stores the entry record on
// Close. It holds the drive's write slot until Close or Abort.
type blobWriter struct {
	ctx    context.Context
	d      *Drive
	target writeTarget
	key    string
	opts   drive.WriteOptions
	hash   *blake3.Hasher
	buf    []byte
	first  uint64
	blocks uint64
	size   uint64
	done   bool
}

func newBlobWriter(ctx context.Context, d *Drive, target writeTarget, key string, opts drive.WriteOptions) *blobWriter {
	return &blobWriter{
		ctx:    ctx,
		d:      d,
		target: target,
		key:    key,
		opts:   opts,
		hash:   blake3.New(),
		buf:    make([]byte, 0, d.blockSize),
	}
}

func (w *blobWriter) Write(p []byte) (int, error) {
	if w.done {
		return 0, fmt.Errorf("write %s: writer closed", w.key)
	}
	written := 0
	for len(p) > 0 {
		n := copy(w.buf[len(w.buf):cap(w.buf)], p)
		w.buf = w.buf[:len(w.buf)+n]
		p = p[n:]
		written += n
		if len(w.buf) == cap(w.buf) {
			if err := w.flushBlock(); err != nil {
				return written, err
			}
		}
	}
	return written, nil
}

func (w *blobWriter) flushBlock() error {
	i := w.d.allocBlock()
	if w.blocks == 0 {
		w.first = i
	} else if i != w.first+w.blocks {
		return fmt.Errorf("write %s: block %d is not contiguous with %d", w.key, i, w.first+w.blocks-1)
	}
	if err := w.target.Put(w.ctx, blockKey(i), w.d.encodeBlock(w.buf)); err != nil {
		return fmt.Errorf("put block %d: %w", i, err)
	}
	w.hash.Write(w.buf)
	w.size += uint64(len(w.buf))
	w.blocks++
	w.buf = w.buf[:0]
	return nil
}

func (w *blobWriter) Close() error {
	if w.done {
		return nil
	}
	defer w.release()

	if len(w.buf) > 0 {
		if err := w.flushBlock(); err != nil {
			return err
		}
	}
	r := record{
		Blob: &drive.Blob{
			ByteLength:  w.size,
			BlockOffset: w.first,
			BlockLength: w.blocks,
		},
		Metadata:   w.opts.Metadata,
		Digest:     w.hash.Sum(nil),
		Executable: w.opts.Executable,
	}
	if err := w.target.Put(w.ctx, nextBlockKey, w.d.blockCounter()); err != nil {
		return fmt.Errorf("store block counter: %w", err)
	}
	if err := w.target.Put(w.ctx, entryKey(w.key), r.marshal()); err != nil {
		return fmt.Errorf("store entry %s: %w", w.key, err)
	}
	return nil
}

// Abort releases the write slot. Blocks already appended stay orphaned.
func (w *blobWriter) Abort() error {
	if w.done {
		return nil
	}
	w.release()
	return nil
}

func (w *blobWriter) release() {
	w.done = true
	<-w.d.writeSem
}

// blockReader streams a blob's blocks in order.
type blockReader struct {
	ctx  context.Context
	d    *Drive
	next uint64
	end  uint64
	buf  []byte
}

func (r *blockReader) Read(p []byte) (int, error) {
	for len(r.buf) == 0 {
		if r.next >= r.end {
			return 0, io.EOF
		}
		b, err := r.d.block(r.ctx, r.next)
		if err != nil {
			return 0, err
		}
		r.next++
		r.buf = b
	}
	n := copy(p, r.buf)
	r.buf = r.buf[n:]
	return n, nil
}

func (*blockReader) Close() error { return nil }
