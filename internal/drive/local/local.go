// Package local implements a drive over a directory on the local filesystem.
package local

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"iter"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"golang.org/x/sys/unix"

	"github.com/bamsammich/mirror/internal/drive"
)

// Compile-time interface checks.
var (
	_ drive.Drive             = (*Drive)(nil)
	_ drive.MetadataSupporter = (*Drive)(nil)
	_ io.Closer               = (*Drive)(nil)
)

const tmpSuffix = ".mirror-tmp"

// Drive exposes the tree under root as a drive. Directories are implicit:
// only regular files and symlinks are entries.
type Drive struct {
	root string
	tmp  tmpRegistry
}

// New creates a drive rooted at root.
func New(root string) *Drive {
	return &Drive{root: root}
}

// Root returns the directory backing the drive.
func (d *Drive) Root() string { return d.root }

// Close removes temporary files left by writers that were neither closed
// nor aborted.
func (d *Drive) Close() error {
	d.tmp.cleanup()
	return nil
}

// Ready creates the root directory if needed and checks that it is one.
func (d *Drive) Ready(context.Context) error {
	if err := os.MkdirAll(d.root, 0o755); err != nil {
		return fmt.Errorf("create root %s: %w", d.root, err)
	}
	info, err := os.Stat(d.root)
	if err != nil {
		return fmt.Errorf("stat root %s: %w", d.root, err)
	}
	if !info.IsDir() {
		return fmt.Errorf("root %s is not a directory", d.root)
	}
	return nil
}

// SupportsMetadata reports false: the filesystem has nowhere to keep it.
func (*Drive) SupportsMetadata() bool { return false }

func (d *Drive) Entry(_ context.Context, key string) (*drive.Entry, error) {
	key = drive.Clean(key)
	absPath := d.absPath(key)
	info, err := os.Lstat(absPath)
	if errors.Is(err, fs.ErrNotExist) || errors.Is(err, unix.ENOTDIR) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("lstat %s: %w", absPath, err)
	}
	return infoToEntry(info, key, absPath)
}

//nolint:revive // cognitive-complexity: directory walk with ignore and skip rules
func (d *Drive) List(ctx context.Context, prefix string, ignore drive.IgnoreFunc) iter.Seq2[*drive.Entry, error] {
	return func(yield func(*drive.Entry, error) bool) {
		prefix = drive.Clean(prefix)
		start := d.absPath(prefix)
		if _, err := os.Lstat(start); err != nil {
			if !errors.Is(err, fs.ErrNotExist) && !errors.Is(err, unix.ENOTDIR) {
				yield(nil, fmt.Errorf("lstat %s: %w", start, err))
			}
			return
		}

		stopped := false
		err := filepath.WalkDir(start, func(path string, de fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if ctxErr := ctx.Err(); ctxErr != nil {
				return ctxErr
			}
			key := d.keyFor(path)
			if key == prefix {
				return nil
			}
			if ignore != nil && ignore(key) {
				if de.IsDir() {
					return filepath.SkipDir
				}
				return nil
			}
			if de.IsDir() || strings.HasSuffix(de.Name(), tmpSuffix) {
				return nil
			}
			info, err := de.Info()
			if err != nil {
				return err
			}
			entry, err := infoToEntry(info, key, path)
			if err != nil {
				return err
			}
			if entry == nil {
				return nil
			}
			if !yield(entry, nil) {
				stopped = true
				return filepath.SkipAll
			}
			return nil
		})
		if err != nil && !stopped {
			yield(nil, fmt.Errorf("walk %s: %w", start, err))
		}
	}
}

func (d *Drive) OpenRead(_ context.Context, e *drive.Entry) (io.ReadCloser, error) {
	f, err := os.Open(d.absPath(e.Key))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("open %s: %w", e.Key, drive.ErrNotFound)
	}
	return f, err
}

// Create writes to a uniquely named temp file next to the target and
// renames it into place on Close.
//
//nolint:ireturn // implements drive.Drive
func (d *Drive) Create(_ context.Context, key string, opts drive.WriteOptions) (drive.Writer, error) {
	key = drive.Clean(key)
	absPath := d.absPath(key)
	dir := filepath.Dir(absPath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create parent %s: %w", dir, err)
	}

	tmpName := fmt.Sprintf(".%s.%s%s", filepath.Base(absPath), uuid.New().String()[:8], tmpSuffix)
	tmpPath := filepath.Join(dir, tmpName)
	f, err := os.OpenFile(tmpPath, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return nil, fmt.Errorf("create temp %s: %w", tmpPath, err)
	}
	d.tmp.register(tmpPath)
	return &fileWriter{d: d, f: f, tmpPath: tmpPath, dstPath: absPath, executable: opts.Executable}, nil
}

// Delete removes key and then any parent directories it leaves empty.
func (d *Drive) Delete(_ context.Context, key string) error {
	key = drive.Clean(key)
	absPath := d.absPath(key)
	info, err := os.Lstat(absPath)
	if errors.Is(err, fs.ErrNotExist) || (err == nil && info.IsDir()) {
		return fmt.Errorf("delete %s: %w", key, drive.ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("lstat %s: %w", absPath, err)
	}
	if err := os.Remove(absPath); err != nil {
		return fmt.Errorf("remove %s: %w", absPath, err)
	}
	d.pruneEmptyParents(filepath.Dir(absPath))
	return nil
}

func (d *Drive) Symlink(_ context.Context, key, linkname string) error {
	absPath := d.absPath(drive.Clean(key))
	if err := os.MkdirAll(filepath.Dir(absPath), 0o755); err != nil {
		return fmt.Errorf("create parent for %s: %w", key, err)
	}
	_ = os.Remove(absPath)
	if err := os.Symlink(linkname, absPath); err != nil {
		return fmt.Errorf("symlink %s: %w", key, err)
	}
	return nil
}

func (d *Drive) absPath(key string) string {
	return filepath.Join(d.root, filepath.FromSlash(key))
}

func (d *Drive) keyFor(absPath string) string {
	rel, err := filepath.Rel(d.root, absPath)
	if err != nil {
		return drive.Clean(filepath.ToSlash(absPath))
	}
	return drive.Clean(filepath.ToSlash(rel))
}

func (d *Drive) pruneEmptyParents(dir string) {
	root := filepath.Clean(d.root)
	for dir != root && strings.HasPrefix(dir, root) {
		if err := os.Remove(dir); err != nil {
			return // not empty, or gone
		}
		dir = filepath.Dir(dir)
	}
}

// infoToEntry converts a Lstat result to an entry. Directories and special
// files yield nil.
func infoToEntry(info os.FileInfo, key, absPath string) (*drive.Entry, error) {
	mode := info.Mode()
	switch {
	case mode&os.ModeSymlink != 0:
		target, err := os.Readlink(absPath)
		if err != nil {
			return nil, fmt.Errorf("readlink %s: %w", absPath, err)
		}
		return &drive.Entry{Key: key, Linkname: target}, nil
	case mode.IsRegular():
		return &drive.Entry{
			Key:        key,
			Blob:       &drive.Blob{ByteLength: uint64(info.Size())}, //nolint:gosec // G115: sizes are non-negative
			Executable: mode.Perm()&0o111 != 0,
		}, nil
	default:
		return nil, nil
	}
}

// fileWriter is a temp file that becomes the destination on Close.
type fileWriter struct {
	d          *Drive
	f          *os.File
	tmpPath    string
	dstPath    string
	executable bool
	done       bool
}

func (w *fileWriter) Write(p []byte) (int, error) {
	return w.f.Write(p)
}

func (w *fileWriter) Close() error {
	if w.done {
		return nil
	}
	w.done = true
	defer w.d.tmp.deregister(w.tmpPath)

	perm := uint32(0o644)
	if w.executable {
		perm = 0o755
	}
	if err := unix.Fchmod(int(w.f.Fd()), perm); err != nil {
		w.f.Close()
		os.Remove(w.tmpPath)
		return fmt.Errorf("chmod %s: %w", w.tmpPath, err)
	}
	if err := w.f.Close(); err != nil {
		os.Remove(w.tmpPath)
		return fmt.Errorf("close %s: %w", w.tmpPath, err)
	}
	if err := os.Rename(w.tmpPath, w.dstPath); err != nil {
		os.Remove(w.tmpPath)
		return fmt.Errorf("rename %s: %w", w.dstPath, err)
	}
	return nil
}

func (w *fileWriter) Abort() error {
	if w.done {
		return nil
	}
	w.done = true
	defer w.d.tmp.deregister(w.tmpPath)
	w.f.Close()
	return os.Remove(w.tmpPath)
}
