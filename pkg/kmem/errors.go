package kmem

import (
	"errors"
	"fmt"
)

// LookupError is returned when a type, field, symbol or enumerator is not
// known. It signals a mismatch between the layouts and the inspected kernel
// and is never retried.
type LookupError struct {
	What string // "type", "field", "integer field", "symbol" or "constant"
	Name string
}

func (e *LookupError) Error() string {
	return fmt.Sprintf("could not find %s %q", e.What, e.Name)
}

// IsLookupFailure returns true if err is, or wraps, a *LookupError.
func IsLookupFailure(err error) bool {
	var lerr *LookupError
	return errors.As(err, &lerr)
}

// UnmappedError is returned when a read touches memory that is not part of
// the image.
type UnmappedError struct {
	Addr Addr
	Size int
}

func (e *UnmappedError) Error() string {
	return fmt.Sprintf("could not read %d bytes at %s: address not mapped", e.Size, e.Addr)
}

// ErrNotArray is returned by ReadIndex when the value is not an array field.
var ErrNotArray = errors.New("value is not an array")
