package mirror

import (
	"context"
	"iter"
	"slices"

	"github.com/bamsammich/mirror/internal/drive"
)

// scope maps a source subtree onto a destination subtree. Without a rebase
// both sides are the same prefix.
type scope struct {
	src string
	dst string
}

func (s scope) toDst(srcKey string) string { return drive.Join(s.dst, drive.Rel(srcKey, s.src)) }
func (s scope) toSrc(dstKey string) string { return drive.Join(s.src, drive.Rel(dstKey, s.dst)) }

// side names the drive whose enumeration drives a pass.
type side int

const (
	fromSource side = iota
	fromDestination
)

// pair is one key seen from both drives. Either entry may be nil.
type pair struct {
	src    *drive.Entry
	dst    *drive.Entry
	srcKey string
	dstKey string
}

// listed is an enumerated key with the entry it had on its own drive.
type listed struct {
	entry *drive.Entry
	key   string
}

// keep applies the caller's filter to a source key.
func (m *Mirror) keep(srcKey string) bool {
	return m.opts.Filter == nil || m.opts.Filter(srcKey)
}

// pairs enumerates the authoritative drive scope by scope and looks up
// every key on the other drive.
func (m *Mirror) pairs(ctx context.Context, from side) iter.Seq2[pair, error] {
	return func(yield func(pair, error) bool) {
		for _, sc := range m.scopes {
			if !m.pairScope(ctx, sc, from, yield) {
				return
			}
		}
	}
}

func (m *Mirror) pairScope(ctx context.Context, sc scope, from side, yield func(pair, error) bool) bool {
	d, prefix, ignore := m.src, sc.src, m.opts.Ignore
	if from == fromDestination {
		d, prefix = m.dst, sc.dst
		if m.opts.Ignore != nil {
			ignore = func(key string) bool { return m.opts.Ignore(sc.toSrc(key)) }
		}
	}

	for l, err := range m.enumerate(ctx, d, sc, from, prefix, ignore) {
		if err != nil {
			yield(pair{}, err)
			return false
		}
		p := m.newPair(sc, from, l)
		if !m.keep(p.srcKey) {
			continue
		}
		if err := m.lookup(ctx, &p, from); err != nil {
			yield(pair{}, err)
			return false
		}
		if !yield(p, nil) {
			return false
		}
	}

	// A prefix may itself name an entry. An entries list naming the prefix
	// already yielded it.
	if prefix == "/" || !m.keep(sc.src) || slices.Contains(m.entries, sc.src) {
		return true
	}
	if m.opts.Ignore != nil && m.opts.Ignore(sc.src) {
		return true
	}
	e, err := d.Entry(ctx, prefix)
	if err != nil {
		yield(pair{}, ioError("entry", prefix, err))
		return false
	}
	p := m.newPair(sc, from, listed{key: prefix, entry: e})
	if err := m.lookup(ctx, &p, from); err != nil {
		yield(pair{}, err)
		return false
	}
	if p.src == nil && p.dst == nil {
		return true
	}
	return yield(p, nil)
}

// enumerate lists prefix on d, or walks the explicit entries list when one
// was given. Entries are source keys; keys outside the scope are skipped.
func (m *Mirror) enumerate(ctx context.Context, d drive.Drive, sc scope, from side, prefix string, ignore drive.IgnoreFunc) iter.Seq2[listed, error] {
	if m.entries == nil {
		return func(yield func(listed, error) bool) {
			for e, err := range d.List(ctx, prefix, ignore) {
				if err != nil {
					yield(listed{}, ioError("list", prefix, err))
					return
				}
				if !yield(listed{key: e.Key, entry: e}, nil) {
					return
				}
			}
		}
	}
	return func(yield func(listed, error) bool) {
		for _, srcKey := range m.entries {
			if !drive.IsUnder(srcKey, sc.src) {
				continue
			}
			key := srcKey
			if from == fromDestination {
				key = sc.toDst(srcKey)
			}
			e, err := d.Entry(ctx, key)
			if err != nil {
				yield(listed{}, ioError("entry", key, err))
				return
			}
			if !yield(listed{key: key, entry: e}, nil) {
				return
			}
		}
	}
}

func (*Mirror) newPair(sc scope, from side, l listed) pair {
	if from == fromSource {
		return pair{srcKey: l.key, dstKey: sc.toDst(l.key), src: l.entry}
	}
	return pair{srcKey: sc.toSrc(l.key), dstKey: l.key, dst: l.entry}
}

// lookup fills in the entry from the drive that was not enumerated.
func (m *Mirror) lookup(ctx context.Context, p *pair, from side) error {
	var err error
	if from == fromSource {
		p.dst, err = m.dst.Entry(ctx, p.dstKey)
		return ioError("entry", p.dstKey, err)
	}
	p.src, err = m.src.Entry(ctx, p.srcKey)
	return ioError("entry", p.srcKey, err)
}
