// Package drive defines the capability contract every mirror source and
// destination satisfies, plus the optional extensions the engine queries at
// setup time.
package drive

import (
	"context"
	"errors"
	"io"
	"iter"
)

// ErrNotFound is returned by Delete and OpenRead when the key is absent.
var ErrNotFound = errors.New("drive: not found")

// Blob describes stored content. BlockOffset and BlockLength are only
// meaningful for block-addressed drives.
type Blob struct {
	ByteLength  uint64
	BlockOffset uint64
	BlockLength uint64
}

// Entry is a drive's record for a single key. A regular file has a Blob, a
// symlink has a Linkname, and an entry with neither is a directory marker.
type Entry struct {
	Key        string
	Blob       *Blob
	Linkname   string
	Metadata   []byte // nil means no metadata
	Executable bool
}

// IsSymlink reports whether the entry is a symbolic link.
func (e *Entry) IsSymlink() bool { return e != nil && e.Linkname != "" }

// BlobLength returns the content length, or 0 for symlinks and directories.
func (e *Entry) BlobLength() uint64 {
	if e == nil || e.Blob == nil {
		return 0
	}
	return e.Blob.ByteLength
}

// IgnoreFunc reports whether key must be skipped during enumeration.
type IgnoreFunc func(key string) bool

// WriteOptions carries the per-entry attributes passed through on writes.
type WriteOptions struct {
	Metadata   []byte
	Executable bool
}

// Writer receives new content for a key. Nothing is visible on the drive
// until Close succeeds; Abort discards everything written so far.
type Writer interface {
	io.WriteCloser
	Abort() error
}

// Drive is the capability contract required of both sides of a mirror.
type Drive interface {
	// Ready opens the backing storage.
	Ready(ctx context.Context) error

	// Entry returns the entry stored at key, or nil if there is none.
	Entry(ctx context.Context, key string) (*Entry, error)

	// List lazily enumerates entries at or below prefix, skipping keys for
	// which ignore returns true (and everything nested under them).
	List(ctx context.Context, prefix string, ignore IgnoreFunc) iter.Seq2[*Entry, error]

	// OpenRead opens the content of a blob entry.
	OpenRead(ctx context.Context, e *Entry) (io.ReadCloser, error)

	// Create starts a write that replaces whatever is stored at key.
	Create(ctx context.Context, key string, opts WriteOptions) (Writer, error)

	// Delete removes key. It fails with ErrNotFound if key is absent.
	Delete(ctx context.Context, key string) error

	// Symlink stores a symbolic link at key pointing to linkname.
	Symlink(ctx context.Context, key, linkname string) error
}

// Batch is a staging view over a drive. Mutations made through it become
// visible only after Flush.
type Batch interface {
	Drive
	Flush(ctx context.Context) error
}

// Batcher is implemented by drives that can stage mutations.
type Batcher interface {
	Batch(ctx context.Context) (Batch, error)
}

// MetadataSupporter is implemented by drives that persist entry metadata.
// Drives that do not implement it are assumed not to.
type MetadataSupporter interface {
	SupportsMetadata() bool
}

// Replicated is implemented by drives that replicate over a network.
type Replicated interface {
	Writable() bool
	Peers() int
}

// Hasher is implemented by drives that can produce a content digest for an
// entry without handing the bytes to the caller. A nil digest means unknown.
type Hasher interface {
	Digest(ctx context.Context, e *Entry) ([]byte, error)
}

// BlobProvider is implemented by drives whose content lives in a block store
// that can be warmed ahead of reads.
type BlobProvider interface {
	Blobs(ctx context.Context) (BlobStore, error)
}

// BlobStore is the block store behind a BlobProvider.
type BlobStore interface {
	// Download requests blocks [start, start+length) without waiting for
	// them to arrive.
	Download(ctx context.Context, start, length uint64) (Download, error)

	// Subscribe registers fn for every block uploaded or downloaded. The
	// returned function removes the subscription.
	Subscribe(fn func(Transfer)) (cancel func())
}

// Download is an in-flight block range request.
type Download interface {
	// Pending returns how many blocks the request had to fetch. ok is false
	// when that is unknown, e.g. because nothing needed fetching.
	Pending() (blocks uint64, ok bool)

	// Wait blocks until the range is local or the request fails.
	Wait(ctx context.Context) error
}

// Direction tells which way a block moved.
type Direction int

const (
	Uploaded Direction = iota + 1
	Downloaded
)

func (d Direction) String() string {
	switch d {
	case Uploaded:
		return "upload"
	case Downloaded:
		return "download"
	default:
		return "unknown"
	}
}

// Transfer reports a single block moving between peers.
type Transfer struct {
	Direction Direction
	Index     uint64
	Bytes     int
}
