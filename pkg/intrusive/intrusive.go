// Package intrusive walks containers whose link nodes are embedded inside
// the objects they link, as kernels usually do: a list_node or a
// bintree_node is a field of the containing structure and the container is
// recovered by subtracting the field's offset from the node's address.
package intrusive

import (
	"github.com/kview-dev/kview/pkg/kmem"
)

// OffsetOf returns the byte offset of field inside structure typ. Field may
// be a dotted path through inline structures.
func OffsetOf(t kmem.LayoutSource, typ, field string) (uint64, error) {
	off, _, err := kmem.ResolveField(t, typ, field)
	return off, err
}

// ContainerOf returns the address of the structure of type typ whose field
// is located at member.
func ContainerOf(t kmem.LayoutSource, member kmem.Addr, typ, field string) (kmem.Addr, error) {
	off, err := OffsetOf(t, typ, field)
	if err != nil {
		return 0, err
	}
	return member.Sub(off), nil
}
