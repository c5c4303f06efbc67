// Package event defines the diff records produced by a mirror pass.
package event

import "fmt"

// Op identifies the kind of difference found for a key.
type Op int

const (
	Add Op = iota + 1
	Change
	Remove
	Equal
)

var opNames = [...]string{
	Add:    "add",
	Change: "change",
	Remove: "remove",
	Equal:  "equal",
}

func (o Op) String() string {
	if o > 0 && int(o) < len(opNames) {
		return opNames[o]
	}
	return "unknown"
}

// Diff describes one key's difference between source and destination.
// BytesRemoved is the destination's prior blob length and BytesAdded the
// source's blob length; both are 0 for symlinks.
type Diff struct {
	Key          string
	Op           Op
	BytesRemoved uint64
	BytesAdded   uint64
}

func (d Diff) String() string {
	return fmt.Sprintf("%s %s -%d +%d", d.Op, d.Key, d.BytesRemoved, d.BytesAdded)
}
