// Package filter implements rsync-style include/exclude rules over drive
// keys.
package filter

import "strings"

// Rule represents a single include or exclude filter rule.
type Rule struct {
	Pattern *Pattern
	Include bool // true=include, false=exclude
}

// Chain holds an ordered list of filter rules.
type Chain struct {
	rules []Rule
}

// NewChain creates an empty filter chain.
func NewChain() *Chain {
	return &Chain{}
}

// AddExclude adds an exclude rule for the given pattern.
func (c *Chain) AddExclude(pattern string) error {
	p, err := Compile(pattern)
	if err != nil {
		return err
	}
	c.rules = append(c.rules, Rule{Pattern: p, Include: false})
	return nil
}

// AddInclude adds an include rule for the given pattern.
func (c *Chain) AddInclude(pattern string) error {
	p, err := Compile(pattern)
	if err != nil {
		return err
	}
	c.rules = append(c.rules, Rule{Pattern: p, Include: true})
	return nil
}

// Empty reports whether the chain has no rules.
func (c *Chain) Empty() bool {
	return len(c.rules) == 0
}

// Match returns true if the path should be INCLUDED (not filtered out).
// relPath is relative to the mirror root and isDir indicates directories.
func (c *Chain) Match(relPath string, isDir bool) bool {
	// Walk rules in order, first match wins.
	for _, rule := range c.rules {
		if rule.Pattern.match(relPath, isDir) {
			return rule.Include
		}
	}

	// No match → include (default).
	return true
}

// MatchKey reports whether an absolute drive key passes the chain. Drives
// have no directory entries, so a key is also excluded when one of its
// parent directories is.
func (c *Chain) MatchKey(key string) bool {
	rel := strings.TrimPrefix(key, "/")
	if rel == "" {
		return true
	}
	for i := 0; i < len(rel); i++ {
		if rel[i] == '/' && !c.Match(rel[:i], true) {
			return false
		}
	}
	return c.Match(rel, false)
}
