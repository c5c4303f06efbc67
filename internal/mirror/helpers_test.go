package mirror

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/ipfs/go-datastore"
	dssync "github.com/ipfs/go-datastore/sync"
	"github.com/stretchr/testify/require"

	"github.com/bamsammich/mirror/internal/drive"
	"github.com/bamsammich/mirror/internal/drive/dsdrive"
	"github.com/bamsammich/mirror/internal/drive/local"
	"github.com/bamsammich/mirror/internal/event"
)

func newDS(t *testing.T, opts ...dsdrive.Option) *dsdrive.Drive {
	t.Helper()
	d, err := dsdrive.New(dssync.MutexWrap(datastore.NewMapDatastore()), opts...)
	require.NoError(t, err)
	require.NoError(t, d.Ready(context.Background()))
	return d
}

func newLocal(t *testing.T) *local.Drive {
	t.Helper()
	d := local.New(t.TempDir())
	require.NoError(t, d.Ready(context.Background()))
	return d
}

func put(t *testing.T, d drive.Drive, key, content string, opts ...func(*drive.WriteOptions)) {
	t.Helper()
	var wo drive.WriteOptions
	for _, o := range opts {
		o(&wo)
	}
	w, err := d.Create(context.Background(), key, wo)
	require.NoError(t, err)
	_, err = io.WriteString(w, content)
	require.NoError(t, err)
	require.NoError(t, w.Close())
}

func withMeta(meta string) func(*drive.WriteOptions) {
	return func(o *drive.WriteOptions) { o.Metadata = []byte(meta) }
}

func executable(o *drive.WriteOptions) { o.Executable = true }

func del(t *testing.T, d drive.Drive, key string) {
	t.Helper()
	require.NoError(t, d.Delete(context.Background(), key))
}

func entry(t *testing.T, d drive.Drive, key string) *drive.Entry {
	t.Helper()
	e, err := d.Entry(context.Background(), key)
	require.NoError(t, err)
	return e
}

func content(t *testing.T, d drive.Drive, key string) string {
	t.Helper()
	ctx := context.Background()
	e := entry(t, d, key)
	require.NotNil(t, e, "missing %s", key)
	r, err := d.OpenRead(ctx, e)
	require.NoError(t, err)
	defer r.Close()
	b, err := io.ReadAll(r)
	require.NoError(t, err)
	return string(b)
}

// tree returns every key on d mapped to its content and metadata.
func tree(t *testing.T, d drive.Drive) map[string]string {
	t.Helper()
	out := map[string]string{}
	for e, err := range d.List(context.Background(), "/", nil) {
		require.NoError(t, err)
		if e.IsSymlink() {
			out[e.Key] = "-> " + e.Linkname
			continue
		}
		out[e.Key] = content(t, d, e.Key) + "|" + string(e.Metadata)
	}
	return out
}

// setupDrive writes the baseline tree both sides start from.
func setupDrive(t *testing.T, d drive.Drive) {
	t.Helper()
	put(t, d, "/equal.txt", "same")
	put(t, d, "/equal-meta.txt", "same", withMeta("same"))
	put(t, d, "/buffer.txt", "same")
	put(t, d, "/meta.txt", "same", withMeta("same"))
	put(t, d, "/add-meta.txt", "same")
	put(t, d, "/tmp.txt", "same")
}

// changeDrive edits d away from the baseline and returns the diffs a full
// mirror onto a baseline drive produces with equals included.
func changeDrive(t *testing.T, d drive.Drive) []event.Diff {
	t.Helper()
	put(t, d, "/new.txt", "add")
	put(t, d, "/buffer.txt", "edit")
	put(t, d, "/meta.txt", "same", withMeta("edit"))
	put(t, d, "/add-meta.txt", "same", withMeta("add"))
	del(t, d, "/tmp.txt")

	return []event.Diff{
		{Op: event.Remove, Key: "/tmp.txt", BytesRemoved: 4},
		{Op: event.Change, Key: "/add-meta.txt", BytesRemoved: 4, BytesAdded: 4},
		{Op: event.Change, Key: "/buffer.txt", BytesRemoved: 4, BytesAdded: 4},
		{Op: event.Equal, Key: "/equal-meta.txt"},
		{Op: event.Equal, Key: "/equal.txt"},
		{Op: event.Change, Key: "/meta.txt", BytesRemoved: 4, BytesAdded: 4},
		{Op: event.Add, Key: "/new.txt", BytesAdded: 3},
	}
}

// withoutEquals drops Equal diffs.
func withoutEquals(diffs []event.Diff) []event.Diff {
	var out []event.Diff
	for _, d := range diffs {
		if d.Op != event.Equal {
			out = append(out, d)
		}
	}
	return out
}

func newMirror(t *testing.T, src, dst drive.Drive, opts Options) *Mirror {
	t.Helper()
	m, err := New(src, dst, opts)
	require.NoError(t, err)
	t.Cleanup(func() { m.Close() })
	return m
}

func collect(t *testing.T, m *Mirror) []event.Diff {
	t.Helper()
	var diffs []event.Diff
	for d, err := range m.Diffs(context.Background()) {
		require.NoError(t, err)
		diffs = append(diffs, d)
	}
	return diffs
}

func requireDiffs(t *testing.T, want, got []event.Diff) {
	t.Helper()
	if diff := cmp.Diff(want, got, cmpopts.EquateEmpty()); diff != "" {
		t.Fatalf("diffs mismatch (-want +got):\n%s", diff)
	}
}

func writeFile(t *testing.T, d *local.Drive, key, content string, perm os.FileMode) {
	t.Helper()
	path := filepath.Join(d.Root(), filepath.FromSlash(key))
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), perm))
}
