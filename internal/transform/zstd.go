package transform

import (
	"fmt"
	"io"
	"sort"

	"github.com/klauspost/compress/zstd"

	"github.com/bamsammich/mirror/internal/drive"
)

var builtins = map[string]Factory{
	"zstd":   always(Compress),
	"unzstd": always(Decompress),
}

// Builtin returns the named built-in factory.
func Builtin(name string) (Factory, bool) {
	f, ok := builtins[name]
	return f, ok
}

// Builtins lists the built-in filter names.
func Builtins() []string {
	names := make([]string, 0, len(builtins))
	for name := range builtins {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func always(f Filter) Factory {
	return func(*drive.Entry) (Filter, error) { return f, nil }
}

// Compress zstd-compresses src. Encoding runs in its own goroutine feeding
// a pipe; Close stops it and waits for it to exit.
func Compress(src io.Reader) io.ReadCloser {
	pr, pw := io.Pipe()
	c := &pipeReader{PipeReader: pr, done: make(chan struct{})}

	go func() {
		defer close(c.done)
		enc, err := zstd.NewWriter(pw,
			zstd.WithEncoderLevel(zstd.SpeedFastest),
			zstd.WithEncoderConcurrency(1),
		)
		if err != nil {
			pw.CloseWithError(fmt.Errorf("zstd encoder: %w", err))
			return
		}
		if _, err := io.Copy(enc, src); err != nil {
			enc.Close()
			pw.CloseWithError(err)
			return
		}
		pw.CloseWithError(enc.Close())
	}()
	return c
}

type pipeReader struct {
	*io.PipeReader
	done chan struct{}
}

func (c *pipeReader) Close() error {
	err := c.PipeReader.Close()
	<-c.done
	return err
}

// Decompress zstd-decompresses src.
func Decompress(src io.Reader) io.ReadCloser {
	dec, err := zstd.NewReader(src, zstd.WithDecoderConcurrency(1))
	if err != nil {
		return &errReader{err: fmt.Errorf("zstd decoder: %w", err)}
	}
	return dec.IOReadCloser()
}

type errReader struct{ err error }

func (r *errReader) Read([]byte) (int, error) { return 0, r.err }
func (*errReader) Close() error               { return nil }
