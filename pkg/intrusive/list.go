package intrusive

import (
	"fmt"
	"iter"

	"github.com/kview-dev/kview/pkg/kmem"
)

const (
	listNodeType = "list_node"
	listNext     = "next"
)

// MaxListLen is the maximum number of nodes visited by a list walk. A
// corrupted image can contain lists that never return to their sentinel.
var MaxListLen = 1 << 16

// ListTooLongError is returned when a walk visits more than MaxListLen
// nodes without getting back to the sentinel.
type ListTooLongError struct {
	Sentinel kmem.Addr
	Max      int
}

func (e *ListTooLongError) Error() string {
	return fmt.Sprintf("list at %s did not terminate after %d nodes", e.Sentinel, e.Max)
}

// List walks the circular doubly linked list whose sentinel node is at
// sentinel and returns, in link order, the addresses of the structures of
// type typ that embed the list nodes in their member field.
// An empty list (a self-linked sentinel) returns an empty slice.
func List(t kmem.Target, sentinel kmem.Addr, typ, member string) ([]kmem.Addr, error) {
	var r []kmem.Addr
	for addr, err := range ListSeq(t, sentinel, typ, member) {
		if err != nil {
			return nil, err
		}
		r = append(r, addr)
	}
	return r, nil
}

// ListSeq is like List but yields the containers one at a time. The walk
// stops at the first error, which is yielded with a zero address.
func ListSeq(t kmem.Target, sentinel kmem.Addr, typ, member string) iter.Seq2[kmem.Addr, error] {
	return func(yield func(kmem.Addr, error) bool) {
		off, err := OffsetOf(t, typ, member)
		if err != nil {
			yield(0, err)
			return
		}
		cur, err := next(t, sentinel)
		if err != nil {
			yield(0, err)
			return
		}
		for n := 0; cur != sentinel; n++ {
			if n >= MaxListLen {
				yield(0, &ListTooLongError{Sentinel: sentinel, Max: MaxListLen})
				return
			}
			if cur == 0 {
				yield(0, fmt.Errorf("list at %s: NULL link after %d nodes", sentinel, n))
				return
			}
			if !yield(cur.Sub(off), nil) {
				return
			}
			cur, err = next(t, cur)
			if err != nil {
				yield(0, err)
				return
			}
		}
	}
}

func next(t kmem.Target, node kmem.Addr) (kmem.Addr, error) {
	v, err := kmem.ReadInteger(t, node, listNodeType, listNext)
	if err != nil {
		return 0, err
	}
	return v.Pointer(), nil
}
