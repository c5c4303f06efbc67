package filter

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadRules(t *testing.T) {
	rules := `# keep sources, drop build output
+ *.go
include /docs/keep.md
- *.log
exclude /docs/*.md

/build/
`
	c := NewChain()
	require.NoError(t, c.LoadRules(strings.NewReader(rules), "rules"))

	require.Len(t, c.rules, 5)
	want := []bool{true, true, false, false, false}
	for i, rule := range c.rules {
		assert.Equal(t, want[i], rule.Include, "rule %d (%s)", i, rule.Pattern)
	}

	assert.True(t, c.MatchKey("/cmd/main.go"))
	assert.False(t, c.MatchKey("/var/app.log"))
	assert.True(t, c.MatchKey("/docs/keep.md"))
	assert.False(t, c.MatchKey("/docs/other.md"))
	assert.False(t, c.MatchKey("/build/out.bin"))
	assert.True(t, c.MatchKey("/src/build"))
}

func TestLoadRulesEmptyPattern(t *testing.T) {
	for _, text := range []string{"+", "-", "+   "} {
		c := NewChain()
		err := c.LoadRules(strings.NewReader("*.tmp\n"+text+"\n"), "inline")
		require.ErrorIs(t, err, errEmptyPattern, text)
		assert.Contains(t, err.Error(), "rules inline line 2")
	}
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "mirror.rules")
	require.NoError(t, os.WriteFile(path, []byte("- *.tmp\n+ keep.tmp\n"), 0o644))

	c := NewChain()
	require.NoError(t, c.LoadFile(path))
	assert.Len(t, c.rules, 2)
	assert.False(t, c.MatchKey("/a/x.tmp"))
}

func TestLoadFileOnlyComments(t *testing.T) {
	path := filepath.Join(t.TempDir(), "empty.rules")
	require.NoError(t, os.WriteFile(path, []byte("# only comments\n\n"), 0o644))

	c := NewChain()
	require.NoError(t, c.LoadFile(path))
	assert.True(t, c.Empty())
}

func TestLoadFileNotExists(t *testing.T) {
	err := NewChain().LoadFile(filepath.Join(t.TempDir(), "absent.rules"))
	require.ErrorIs(t, err, os.ErrNotExist)
}
