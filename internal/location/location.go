// Package location parses CLI location arguments and opens the drives they name.
package location

import (
	"fmt"
	"io"
	"path/filepath"
	"strings"

	leveldb "github.com/ipfs/go-ds-leveldb"

	"github.com/bamsammich/mirror/internal/drive"
	"github.com/bamsammich/mirror/internal/drive/dsdrive"
	"github.com/bamsammich/mirror/internal/drive/local"
)

// Supported schemes. A location without a scheme is a local directory.
const (
	SchemeDatastore           = "ds"
	SchemeCompressedDatastore = "dsz"
)

// Location represents a parsed source or destination argument.
type Location struct {
	Scheme string
	Path   string
}

// IsDatastore returns true if the location names a leveldb-backed drive.
func (l Location) IsDatastore() bool {
	return l.Scheme == SchemeDatastore || l.Scheme == SchemeCompressedDatastore
}

// String returns a human-readable representation.
func (l Location) String() string {
	if l.Scheme == "" {
		return l.Path
	}
	return l.Scheme + ":" + l.Path
}

// Parse parses a CLI argument into a Location.
//
// Supported formats:
//   - /absolute/path   → local directory
//   - relative/path    → local directory
//   - ds:PATH          → block drive stored in a leveldb directory at PATH
//   - dsz:PATH         → same, with zstd-compressed blocks
//
// Anything else containing a colon is treated as a local path, so
// "./a:b" and "/x/ds:y" stay local.
func Parse(arg string) Location {
	scheme, rest, ok := strings.Cut(arg, ":")
	if !ok || rest == "" {
		return Location{Path: arg}
	}
	switch scheme {
	case SchemeDatastore, SchemeCompressedDatastore:
		return Location{Scheme: scheme, Path: rest}
	default:
		return Location{Path: arg}
	}
}

// Open creates the drive for l. The returned closer releases any backing
// store and must be called once the drive is no longer used.
//
//nolint:ireturn // factory returns interface by design
func Open(l Location, opts ...dsdrive.Option) (drive.Drive, io.Closer, error) {
	if !l.IsDatastore() {
		abs, err := filepath.Abs(l.Path)
		if err != nil {
			return nil, nil, fmt.Errorf("resolve %s: %w", l.Path, err)
		}
		d := local.New(abs)
		return d, d, nil
	}

	ds, err := leveldb.NewDatastore(l.Path, nil)
	if err != nil {
		return nil, nil, fmt.Errorf("open datastore %s: %w", l.Path, err)
	}
	if l.Scheme == SchemeCompressedDatastore {
		opts = append([]dsdrive.Option{dsdrive.WithCompression()}, opts...)
	}
	d, err := dsdrive.New(ds, opts...)
	if err != nil {
		_ = ds.Close() //nolint:errcheck // already failing
		return nil, nil, fmt.Errorf("datastore drive %s: %w", l.Path, err)
	}
	return d, ds, nil
}
