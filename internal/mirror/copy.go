package mirror

import (
	"context"
	"errors"
	"io"

	"github.com/bamsammich/mirror/internal/drive"
	"github.com/bamsammich/mirror/internal/transform"
)

// copy writes the source side of p to the destination through filters.
// A failed copy aborts the destination write, leaving the old content.
func (m *Mirror) copy(ctx context.Context, p pair, filters []transform.Filter) error {
	if p.src.IsSymlink() {
		return ioError("symlink", p.dstKey, m.target.Symlink(ctx, p.dstKey, p.src.Linkname))
	}

	r, err := m.openSource(ctx, p)
	if err != nil {
		return err
	}
	defer r.Close()

	w, err := m.target.Create(ctx, p.dstKey, drive.WriteOptions{
		Metadata:   p.src.Metadata,
		Executable: p.src.Executable,
	})
	if err != nil {
		return ioError("create", p.dstKey, err)
	}

	limited := newRateLimitedReader(ctx, r, m.opts.Limiter)
	in := transform.Apply(&taggedReader{r: limited, op: "read", key: p.srcKey}, filters)
	_, err = io.Copy(&taggedWriter{w: w, key: p.dstKey}, in)
	closeErr := in.Close()
	if err == nil {
		err = closeErr
	}
	if err != nil {
		_ = w.Abort()
		return streamError(p.dstKey, filters, err)
	}
	if err := w.Close(); err != nil {
		return ioError("write", p.dstKey, err)
	}
	return nil
}

// openSource opens the source content of p. Entries without a blob read as
// empty.
func (m *Mirror) openSource(ctx context.Context, p pair) (io.ReadCloser, error) {
	if p.src.Blob == nil {
		return io.NopCloser(eofReader{}), nil
	}
	r, err := m.src.OpenRead(ctx, p.src)
	if err != nil {
		return nil, ioError("read", p.srcKey, err)
	}
	return r, nil
}

type eofReader struct{}

func (eofReader) Read([]byte) (int, error) { return 0, io.EOF }

// streamError classifies an error from a stream that may have passed
// through filters. Drive errors were tagged on the way; whatever else
// surfaced came from a filter.
func streamError(key string, filters []transform.Filter, err error) error {
	var ioErr *IOError
	if errors.As(err, &ioErr) {
		return ioErr
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	if len(filters) == 0 {
		return ioError("read", key, err)
	}
	return &TransformError{Key: key, Err: err}
}

// taggedReader turns read failures into IOErrors so they stay
// recognisable after passing through filters.
type taggedReader struct {
	r   io.Reader
	op  string
	key string
}

func (t *taggedReader) Read(p []byte) (int, error) {
	n, err := t.r.Read(p)
	if err != nil && !errors.Is(err, io.EOF) {
		err = &IOError{Op: t.op, Key: t.key, Err: err}
	}
	return n, err
}

type taggedWriter struct {
	w   io.Writer
	key string
}

func (t *taggedWriter) Write(p []byte) (int, error) {
	n, err := t.w.Write(p)
	if err != nil {
		err = &IOError{Op: "write", Key: t.key, Err: err}
	}
	return n, err
}
