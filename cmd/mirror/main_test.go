package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bamsammich/mirror/internal/config"
	"github.com/bamsammich/mirror/internal/mirror"
)

func writeTree(t *testing.T, root string, files map[string]string) {
	t.Helper()
	for name, content := range files {
		p := filepath.Join(root, filepath.FromSlash(name))
		require.NoError(t, os.MkdirAll(filepath.Dir(p), 0o755))
		require.NoError(t, os.WriteFile(p, []byte(content), 0o644))
	}
}

func readTree(t *testing.T, root string) map[string]string {
	t.Helper()
	out := map[string]string{}
	err := filepath.WalkDir(root, func(p string, d os.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return err
		}
		b, err := os.ReadFile(p)
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(root, p)
		if err != nil {
			return err
		}
		out[filepath.ToSlash(rel)] = string(b)
		return nil
	})
	require.NoError(t, err)
	return out
}

// runCLI runs the command with an empty config directory.
func runCLI(t *testing.T, args ...string) (code int, stdout, stderr string) {
	t.Helper()
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	var out, errOut bytes.Buffer
	code = run(args, &out, &errOut)
	return code, out.String(), errOut.String()
}

func outputLines(s string) []string {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	return strings.Split(s, "\n")
}

func TestRun_MirrorsLocalTree(t *testing.T) {
	src, dst := t.TempDir(), t.TempDir()
	writeTree(t, src, map[string]string{"a.txt": "hello", "dir/b.txt": "world!"})
	writeTree(t, dst, map[string]string{"a.txt": "hell", "stale.txt": "x"})

	code, stdout, stderr := runCLI(t, src, dst)
	require.Equal(t, 0, code, stderr)

	assert.ElementsMatch(t, []string{
		"- /stale.txt  1 B",
		"~ /a.txt  4 B → 5 B",
		"+ /dir/b.txt  6 B",
	}, outputLines(stdout))
	assert.Contains(t, stderr, "done ✓  files 2  add 1  change 1  remove 1")
	assert.Equal(t, map[string]string{"a.txt": "hello", "dir/b.txt": "world!"}, readTree(t, dst))

	// A second run finds nothing to do.
	code, stdout, _ = runCLI(t, src, dst)
	require.Equal(t, 0, code)
	assert.Empty(t, stdout)

	code, stdout, _ = runCLI(t, "--include-equals", src, dst)
	require.Equal(t, 0, code)
	assert.ElementsMatch(t, []string{"= /a.txt", "= /dir/b.txt"}, outputLines(stdout))
}

func TestRun_DryRun(t *testing.T) {
	src, dst := t.TempDir(), t.TempDir()
	writeTree(t, src, map[string]string{"a.txt": "hello"})

	code, stdout, stderr := runCLI(t, "--dry-run", src, dst)
	require.Equal(t, 0, code, stderr)
	assert.Equal(t, []string{"+ /a.txt  5 B"}, outputLines(stdout))
	assert.Contains(t, stderr, "(dry run)")
	assert.Empty(t, readTree(t, dst))
}

func TestRun_NoPruneAndFilters(t *testing.T) {
	src, dst := t.TempDir(), t.TempDir()
	writeTree(t, src, map[string]string{"keep.txt": "k", "debug.log": "l", "cache/x": "c"})
	writeTree(t, dst, map[string]string{"extra.txt": "e"})

	code, _, stderr := runCLI(t, "--no-prune", "--exclude", "*.log", "--ignore", "/cache", src, dst)
	require.Equal(t, 0, code, stderr)
	assert.Equal(t, map[string]string{"keep.txt": "k", "extra.txt": "e"}, readTree(t, dst))
}

func TestRun_Quiet(t *testing.T) {
	src, dst := t.TempDir(), t.TempDir()
	writeTree(t, src, map[string]string{"a.txt": "hello"})

	code, stdout, stderr := runCLI(t, "-q", src, dst)
	require.Equal(t, 0, code)
	assert.Empty(t, stdout)
	assert.Empty(t, stderr)
	assert.Equal(t, map[string]string{"a.txt": "hello"}, readTree(t, dst))
}

func TestRun_Datastore(t *testing.T) {
	src, out := t.TempDir(), t.TempDir()
	store := "ds:" + filepath.Join(t.TempDir(), "store")
	writeTree(t, src, map[string]string{"a.txt": "hello", "dir/b.txt": "world!"})

	code, _, stderr := runCLI(t, src, store)
	require.Equal(t, 0, code, stderr)

	code, stdout, stderr := runCLI(t, store, out)
	require.Equal(t, 0, code, stderr)
	assert.Len(t, outputLines(stdout), 2)
	assert.Equal(t, readTree(t, src), readTree(t, out))
}

func TestRun_TransformRerunIsEqual(t *testing.T) {
	src, dst := t.TempDir(), t.TempDir()
	writeTree(t, src, map[string]string{"a.txt": strings.Repeat("compress me ", 100)})

	code, stdout, stderr := runCLI(t, "--transform", "*.txt=zstd", src, dst)
	require.Equal(t, 0, code, stderr)
	require.Len(t, outputLines(stdout), 1)
	assert.Less(t, len(readTree(t, dst)["a.txt"]), 1200)

	code, stdout, _ = runCLI(t, "--transform", "*.txt=zstd", src, dst)
	require.Equal(t, 0, code)
	assert.Empty(t, stdout)

	code, stdout, _ = runCLI(t, "--transform", "*.txt=zstd", "--always-write", src, dst)
	require.Equal(t, 0, code)
	assert.Len(t, outputLines(stdout), 1)
}

func TestRun_Progress(t *testing.T) {
	src, dst := t.TempDir(), t.TempDir()
	writeTree(t, src, map[string]string{"a.txt": "hello"})

	code, _, stderr := runCLI(t, "--progress", "10ms", src, dst)
	require.Equal(t, 0, code, stderr)
	assert.Contains(t, stderr, "progress: download")
}

func TestRun_Errors(t *testing.T) {
	src, dst := t.TempDir(), t.TempDir()
	badRules := filepath.Join(t.TempDir(), "bad.rules")
	require.NoError(t, os.WriteFile(badRules, []byte("- *.tmp\n+\n"), 0o644))

	tests := []struct {
		name    string
		args    []string
		wantErr string
	}{
		{name: "missing destination", args: []string{src}, wantErr: "accepts 2 arg(s)"},
		{name: "bad bwlimit", args: []string{"--bwlimit", "fast", src, dst}, wantErr: "invalid --bwlimit"},
		{name: "zero bwlimit", args: []string{"--bwlimit", "0", src, dst}, wantErr: "invalid --bwlimit: must be positive"},
		{name: "negative bwlimit", args: []string{"--bwlimit=-1M", src, dst}, wantErr: "invalid --bwlimit: must be positive"},
		{name: "empty rule", args: []string{"--filter", badRules, src, dst}, wantErr: "line 2"},
		{name: "bad progress", args: []string{"--progress", "0s", src, dst}, wantErr: "invalid --progress"},
		{name: "bad rebase", args: []string{"--rebase", "/a", src, dst}, wantErr: "want FROM:TO"},
		{name: "unknown transform", args: []string{"--transform", "*=gzip", src, dst}, wantErr: "unknown transform"},
		{
			name:    "rebase with prefix",
			args:    []string{"--rebase", "/a:/b", "--prefix", "/c", src, dst},
			wantErr: "invalid rebase",
		},
		{name: "batch unsupported", args: []string{"--batch", src, dst}, wantErr: "mirror failed"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			code, _, stderr := runCLI(t, tt.args...)
			assert.Equal(t, 1, code)
			assert.Contains(t, stderr, tt.wantErr)
		})
	}
}

func TestRun_Version(t *testing.T) {
	code, stdout, _ := runCLI(t, "--version")
	assert.Equal(t, 0, code)
	assert.Equal(t, "mirror dev\n", stdout)
}

func TestRun_ConfigDefaults(t *testing.T) {
	src, dst := t.TempDir(), t.TempDir()
	writeTree(t, src, map[string]string{"a.txt": "a", "skip/b.txt": "b"})
	writeTree(t, dst, map[string]string{"extra.txt": "e"})

	cfgPath := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(cfgPath, []byte(`
[defaults]
prune = false
ignore = ["/skip"]
`), 0o644))

	code, _, stderr := runCLI(t, "--config", cfgPath, src, dst)
	require.Equal(t, 0, code, stderr)
	assert.Equal(t, map[string]string{"a.txt": "a", "extra.txt": "e"}, readTree(t, dst))
}

func TestParseRebase(t *testing.T) {
	t.Parallel()

	r, err := parseRebase("/photos:/backup/photos")
	require.NoError(t, err)
	assert.Equal(t, &mirror.Rebase{From: "/photos", To: "/backup/photos"}, r)

	for _, bad := range []string{"", "/a", ":/b", "/a:"} {
		_, err := parseRebase(bad)
		assert.Error(t, err, bad)
	}
}

func TestBuildPipeline(t *testing.T) {
	t.Parallel()

	p, err := buildPipeline(nil, nil)
	require.NoError(t, err)
	assert.True(t, p.Empty())

	p, err = buildPipeline([]string{"*.log=zstd"}, []config.TransformConfig{{Pattern: "*.zst", Name: "unzstd"}})
	require.NoError(t, err)
	assert.False(t, p.Empty())

	_, err = buildPipeline([]string{"nope"}, nil)
	assert.ErrorContains(t, err, "want GLOB=NAME")

	_, err = buildPipeline(nil, []config.TransformConfig{{Pattern: "*", Name: "rot13"}})
	assert.ErrorContains(t, err, "unknown transform \"rot13\" (use one of unzstd, zstd)")
}

func TestReadEntries(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "entries")
	require.NoError(t, os.WriteFile(path, []byte("# keys\n/a.txt\n\n  /dir/b.txt  \n"), 0o644))

	keys, err := readEntries(path)
	require.NoError(t, err)
	assert.Equal(t, []string{"/a.txt", "/dir/b.txt"}, keys)

	empty := filepath.Join(t.TempDir(), "empty")
	require.NoError(t, os.WriteFile(empty, nil, 0o644))
	keys, err = readEntries(empty)
	require.NoError(t, err)
	assert.NotNil(t, keys)
	assert.Empty(t, keys)

	_, err = readEntries(filepath.Join(t.TempDir(), "missing"))
	assert.Error(t, err)
}

func TestApplyConfigDefaults(t *testing.T) {
	t.Parallel()

	yes, no := true, false
	limit := "1M"
	defaults := config.DefaultsConfig{
		Prune:         &no,
		IncludeEquals: &yes,
		Batch:         &yes,
		BWLimit:       &limit,
		Ignore:        []string{"/tmp"},
	}

	cmd := &cobra.Command{}
	var f flags
	cmd.Flags().BoolVar(&f.noPrune, "no-prune", false, "")
	cmd.Flags().BoolVar(&f.includeEquals, "include-equals", false, "")
	cmd.Flags().BoolVar(&f.batch, "batch", false, "")
	cmd.Flags().BoolVar(&f.alwaysWrite, "always-write", false, "")
	cmd.Flags().StringVar(&f.bwLimit, "bwlimit", "", "")
	cmd.Flags().StringVar(&f.progress, "progress", "", "")
	require.NoError(t, cmd.Flags().Parse([]string{"--batch=false"}))
	f.ignore = []string{"/cli"}

	applyConfigDefaults(cmd, defaults, &f)

	assert.True(t, f.noPrune)
	assert.True(t, f.includeEquals)
	assert.False(t, f.batch, "explicit flag wins")
	assert.False(t, f.alwaysWrite)
	assert.Equal(t, "1M", f.bwLimit)
	assert.Empty(t, f.progress)
	assert.Equal(t, []string{"/cli", "/tmp"}, f.ignore)
}
