package mirror

import (
	"bytes"
	"context"
	"fmt"

	"github.com/bamsammich/mirror/internal/drive"
	"github.com/bamsammich/mirror/internal/streams"
	"github.com/bamsammich/mirror/internal/transform"
)

// same reports whether the destination already holds what the source
// would write. Cheap checks run first; content is only read when they
// cannot decide.
func (m *Mirror) same(ctx context.Context, p pair, filters []transform.Filter) (bool, error) {
	src, dst := p.src, p.dst
	if dst == nil {
		return false, nil
	}
	if src.IsSymlink() || dst.IsSymlink() {
		return src.Linkname == dst.Linkname, nil
	}
	if src.Executable != dst.Executable {
		return false, nil
	}
	if ok, err := m.metadataEqual(p); err != nil || !ok {
		return false, err
	}

	if len(filters) > 0 {
		if m.opts.TransformPolicy == AlwaysWrite {
			return false, nil
		}
		if dst.Blob == nil {
			return false, nil
		}
		return m.contentEqual(ctx, p, filters)
	}

	if (src.Blob == nil) != (dst.Blob == nil) {
		return false, nil
	}
	if src.Blob == nil {
		return true, nil
	}
	if src.Blob.ByteLength != dst.Blob.ByteLength {
		return false, nil
	}
	if eq, ok, err := m.digestEqual(ctx, p); err != nil || ok {
		return eq, err
	}
	return m.contentEqual(ctx, p, nil)
}

// metadataEqual compares metadata when both drives keep it. Nil and
// non-nil metadata never match.
func (m *Mirror) metadataEqual(p pair) (bool, error) {
	if !m.metadata {
		return true, nil
	}
	if m.opts.MetadataEquals != nil {
		ok, err := m.opts.MetadataEquals(p.src.Metadata, p.dst.Metadata)
		if err != nil {
			return false, fmt.Errorf("compare metadata of %s: %w", p.dstKey, err)
		}
		return ok, nil
	}
	if (p.src.Metadata == nil) != (p.dst.Metadata == nil) {
		return false, nil
	}
	return bytes.Equal(p.src.Metadata, p.dst.Metadata), nil
}

// digestEqual compares digests when both drives can produce one. ok is
// false when either digest is unknown.
func (m *Mirror) digestEqual(ctx context.Context, p pair) (eq, ok bool, err error) {
	sh, sok := m.src.(drive.Hasher)
	dh, dok := m.dst.(drive.Hasher)
	if !sok || !dok {
		return false, false, nil
	}
	sd, err := sh.Digest(ctx, p.src)
	if err != nil {
		return false, false, ioError("digest", p.srcKey, err)
	}
	dd, err := dh.Digest(ctx, p.dst)
	if err != nil {
		return false, false, ioError("digest", p.dstKey, err)
	}
	if sd == nil || dd == nil {
		return false, false, nil
	}
	return bytes.Equal(sd, dd), true, nil
}

// contentEqual streams the filtered source content against the destination
// content.
func (m *Mirror) contentEqual(ctx context.Context, p pair, filters []transform.Filter) (bool, error) {
	sr, err := m.openSource(ctx, p)
	if err != nil {
		return false, err
	}
	defer sr.Close()

	dr, err := m.dst.OpenRead(ctx, p.dst)
	if err != nil {
		return false, ioError("read", p.dstKey, err)
	}
	defer dr.Close()

	in := transform.Apply(&taggedReader{r: sr, op: "read", key: p.srcKey}, filters)
	eq, err := streams.Equal(in, &taggedReader{r: dr, op: "read", key: p.dstKey})
	closeErr := in.Close()
	if err == nil {
		err = closeErr
	}
	if err != nil {
		return false, streamError(p.dstKey, filters, err)
	}
	return eq, nil
}
