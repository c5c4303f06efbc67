package mirror

import (
	"errors"
	"fmt"
)

// ErrNotWritable is wrapped by WritabilityError.
var ErrNotWritable = errors.New("destination must be writable")

// ConfigError reports an invalid option, found either by New or when the
// option is first used.
type ConfigError struct {
	Err    error
	Option string
	Reason string
}

func (e *ConfigError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("invalid %s: %s: %v", e.Option, e.Reason, e.Err)
	}
	return fmt.Sprintf("invalid %s: %s", e.Option, e.Reason)
}

func (e *ConfigError) Unwrap() error { return e.Err }

// WritabilityError is returned before any pass when the destination is a
// replicated drive this process cannot write to.
type WritabilityError struct {
	Peers int
}

func (e *WritabilityError) Error() string {
	return fmt.Sprintf("%v (read-only replica of %d peer(s))", ErrNotWritable, e.Peers)
}

func (*WritabilityError) Unwrap() error { return ErrNotWritable }

// TransformError reports a filter failing while content for Key streamed
// through it.
type TransformError struct {
	Err error
	Key string
}

func (e *TransformError) Error() string {
	return fmt.Sprintf("transform %s: %v", e.Key, e.Err)
}

func (e *TransformError) Unwrap() error { return e.Err }

// IOError wraps a failing drive call. Op names the call: ready, list,
// entry, read, create, write, delete, symlink, batch, blobs or flush.
type IOError struct {
	Err error
	Op  string
	Key string
}

func (e *IOError) Error() string {
	if e.Key == "" {
		return fmt.Sprintf("%s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("%s %s: %v", e.Op, e.Key, e.Err)
}

func (e *IOError) Unwrap() error { return e.Err }

func ioError(op, key string, err error) error {
	if err == nil {
		return nil
	}
	return &IOError{Op: op, Key: key, Err: err}
}
