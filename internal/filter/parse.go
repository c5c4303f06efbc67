package filter

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
)

var errEmptyPattern = errors.New("rule has no pattern")

// LoadFile adds the rules in the file at path to the chain. See LoadRules
// for the format.
func (c *Chain) LoadFile(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open rules: %w", err)
	}
	defer f.Close()
	return c.LoadRules(f, path)
}

// LoadRules reads one rule per line from r, in order. A line is a key
// pattern optionally preceded by "+ " or "include " to keep matching keys,
// or "- " or "exclude " to drop them. A bare pattern excludes. Blank lines
// and lines starting with # are skipped. name labels errors.
func (c *Chain) LoadRules(r io.Reader, name string) error {
	scanner := bufio.NewScanner(r)
	for line := 1; scanner.Scan(); line++ {
		text := strings.TrimSpace(scanner.Text())
		if text == "" || strings.HasPrefix(text, "#") {
			continue
		}
		include, pattern := splitRule(text)
		if err := c.addRule(include, pattern); err != nil {
			return fmt.Errorf("rules %s line %d: %q: %w", name, line, text, err)
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("read rules %s: %w", name, err)
	}
	return nil
}

func splitRule(text string) (include bool, pattern string) {
	for _, p := range []struct {
		prefix  string
		include bool
	}{
		{"+ ", true},
		{"include ", true},
		{"- ", false},
		{"exclude ", false},
	} {
		if rest, ok := strings.CutPrefix(text, p.prefix); ok {
			return p.include, strings.TrimSpace(rest)
		}
	}
	if text == "+" || text == "-" {
		return text == "+", ""
	}
	return false, text
}

func (c *Chain) addRule(include bool, pattern string) error {
	if pattern == "" {
		return errEmptyPattern
	}
	if include {
		return c.AddInclude(pattern)
	}
	return c.AddExclude(pattern)
}
