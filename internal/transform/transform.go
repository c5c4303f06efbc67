// Package transform implements the byte-stream filter chain applied between
// reading source content and writing it to the destination.
package transform

import (
	"errors"
	"fmt"
	"io"

	"github.com/bamsammich/mirror/internal/drive"
	"github.com/bamsammich/mirror/internal/filter"
)

// ErrInvalidRule is returned for rules that cannot produce filters.
var ErrInvalidRule = errors.New("transform: invalid rule")

// Filter wraps src and returns the transformed stream. Closing the result
// releases the filter but does not close src.
type Filter func(src io.Reader) io.ReadCloser

// Factory builds the filter for one entry. A nil Filter with a nil error
// means the rule does not apply to that entry.
type Factory func(e *drive.Entry) (Filter, error)

// Rule selects a factory for matching keys. A nil Match applies the rule to
// every key.
type Rule struct {
	Name    string
	Match   func(key string) bool
	Factory Factory
}

// Glob returns a key matcher for an rsync-style pattern.
func Glob(pattern string) (func(key string) bool, error) {
	p, err := filter.Compile(pattern)
	if err != nil {
		return nil, fmt.Errorf("compile %q: %w", pattern, err)
	}
	return p.MatchKey, nil
}

// Exact returns a key matcher for a single key.
func Exact(key string) func(string) bool {
	key = drive.Clean(key)
	return func(k string) bool { return k == key }
}

// Pipeline is an ordered list of rules.
type Pipeline struct {
	rules []Rule
}

// NewPipeline validates rules and returns a pipeline applying them in
// order.
func NewPipeline(rules ...Rule) (*Pipeline, error) {
	for i, r := range rules {
		if r.Factory == nil {
			return nil, fmt.Errorf("rule %d (%s): %w: factory is nil", i, r.Name, ErrInvalidRule)
		}
	}
	return &Pipeline{rules: rules}, nil
}

// Empty reports whether the pipeline has no rules. A nil pipeline is empty.
func (p *Pipeline) Empty() bool {
	return p == nil || len(p.rules) == 0
}

// Resolve returns the filters that apply to e, in rule order. Symlinks
// never have filters.
func (p *Pipeline) Resolve(e *drive.Entry) ([]Filter, error) {
	if p.Empty() || e == nil || e.IsSymlink() {
		return nil, nil
	}
	var filters []Filter
	for _, r := range p.rules {
		if r.Match != nil && !r.Match(e.Key) {
			continue
		}
		f, err := r.Factory(e)
		if err != nil {
			return nil, fmt.Errorf("rule %s for %s: %w", r.Name, e.Key, err)
		}
		if f != nil {
			filters = append(filters, f)
		}
	}
	return filters, nil
}

// Apply chains filters over src. The returned reader closes every filter
// stage, starting nearest src.
func Apply(src io.Reader, filters []Filter) io.ReadCloser {
	if len(filters) == 0 {
		return io.NopCloser(src)
	}
	stages := make([]io.ReadCloser, 0, len(filters))
	r := src
	for _, f := range filters {
		rc := f(r)
		stages = append(stages, rc)
		r = rc
	}
	return &chain{Reader: r, stages: stages}
}

type chain struct {
	io.Reader
	stages []io.ReadCloser
}

func (c *chain) Close() error {
	var errs []error
	for _, s := range c.stages {
		if err := s.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
