package dsdrive

import (
	"fmt"

	"github.com/tinylib/msgp/msgp"

	"github.com/bamsammich/mirror/internal/drive"
)

// record is the stored form of an entry. The key is not stored: it is the
// datastore key.
type record struct {
	Blob       *drive.Blob
	Linkname   string
	Metadata   []byte
	Digest     []byte
	Executable bool
}

func (r *record) entry(key string) *drive.Entry {
	e := &drive.Entry{
		Key:        key,
		Linkname:   r.Linkname,
		Metadata:   r.Metadata,
		Executable: r.Executable,
	}
	if r.Blob != nil {
		b := *r.Blob
		e.Blob = &b
	}
	return e
}

// marshal encodes r as a msgpack map. Unknown keys are skipped on decode so
// fields can be added later.
func (r *record) marshal() []byte {
	b := make([]byte, 0, 64+len(r.Metadata)+len(r.Digest)+len(r.Linkname))
	b = msgp.AppendMapHeader(b, 5)

	b = msgp.AppendString(b, "blob")
	if r.Blob == nil {
		b = msgp.AppendNil(b)
	} else {
		b = msgp.AppendArrayHeader(b, 3)
		b = msgp.AppendUint64(b, r.Blob.ByteLength)
		b = msgp.AppendUint64(b, r.Blob.BlockOffset)
		b = msgp.AppendUint64(b, r.Blob.BlockLength)
	}

	b = msgp.AppendString(b, "link")
	b = msgp.AppendString(b, r.Linkname)

	b = msgp.AppendString(b, "meta")
	if r.Metadata == nil {
		b = msgp.AppendNil(b)
	} else {
		b = msgp.AppendBytes(b, r.Metadata)
	}

	b = msgp.AppendString(b, "digest")
	b = msgp.AppendBytes(b, r.Digest)

	b = msgp.AppendString(b, "exec")
	b = msgp.AppendBool(b, r.Executable)
	return b
}

//nolint:gocyclo,revive // cognitive-complexity: one case per field
func unmarshalRecord(b []byte) (*record, error) {
	n, b, err := msgp.ReadMapHeaderBytes(b)
	if err != nil {
		return nil, fmt.Errorf("decode record header: %w", err)
	}

	var r record
	for range n {
		var field string
		field, b, err = msgp.ReadStringBytes(b)
		if err != nil {
			return nil, fmt.Errorf("decode record field: %w", err)
		}
		switch field {
		case "blob":
			if msgp.IsNil(b) {
				b, err = msgp.ReadNilBytes(b)
				break
			}
			var sz uint32
			sz, b, err = msgp.ReadArrayHeaderBytes(b)
			if err != nil {
				break
			}
			if sz != 3 {
				return nil, fmt.Errorf("decode record blob: want 3 fields, got %d", sz)
			}
			var blob drive.Blob
			if blob.ByteLength, b, err = msgp.ReadUint64Bytes(b); err != nil {
				break
			}
			if blob.BlockOffset, b, err = msgp.ReadUint64Bytes(b); err != nil {
				break
			}
			if blob.BlockLength, b, err = msgp.ReadUint64Bytes(b); err != nil {
				break
			}
			r.Blob = &blob
		case "link":
			r.Linkname, b, err = msgp.ReadStringBytes(b)
		case "meta":
			if msgp.IsNil(b) {
				b, err = msgp.ReadNilBytes(b)
				break
			}
			var meta []byte
			meta, b, err = msgp.ReadBytesBytes(b, nil)
			if err == nil {
				r.Metadata = append([]byte{}, meta...)
			}
		case "digest":
			var digest []byte
			digest, b, err = msgp.ReadBytesBytes(b, nil)
			if err == nil && len(digest) > 0 {
				r.Digest = append([]byte(nil), digest...)
			}
		case "exec":
			r.Executable, b, err = msgp.ReadBoolBytes(b)
		default:
			b, err = msgp.Skip(b)
		}
		if err != nil {
			return nil, fmt.Errorf("decode record field %q: %w", field, err)
		}
	}
	return &r, nil
}
