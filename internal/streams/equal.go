// Package streams compares byte streams without buffering them whole.
package streams

import (
	"bytes"
	"errors"
	"io"
)

const chunkSize = 32 * 1024

// Equal reports whether a and b yield identical bytes. It stops reading at
// the first difference.
func Equal(a, b io.Reader) (bool, error) {
	bufA := make([]byte, chunkSize)
	bufB := make([]byte, chunkSize)
	for {
		na, errA := io.ReadFull(a, bufA)
		if errA != nil && !isEOF(errA) {
			return false, errA
		}
		nb, errB := io.ReadFull(b, bufB)
		if errB != nil && !isEOF(errB) {
			return false, errB
		}
		if na != nb || !bytes.Equal(bufA[:na], bufB[:nb]) {
			return false, nil
		}
		if isEOF(errA) || isEOF(errB) {
			// Both short reads of the same length: both ended.
			return isEOF(errA) == isEOF(errB), nil
		}
	}
}

func isEOF(err error) bool {
	return errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF)
}
