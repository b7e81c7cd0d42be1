package intrusive

import (
	"github.com/kview-dev/kview/pkg/kmem"
)

// TreeSpec describes a binary tree embedded in objects of type Type. The
// node field Node is a NodeType structure whose Left and Right fields point
// directly to the child objects (not to their nodes). An empty NodeType
// accepts any inline structure.
type TreeSpec struct {
	Type     string
	Node     string
	NodeType string
	Left     string
	Right    string
}

// BintreeSpec returns the TreeSpec of a kernel bintree_node embedded in
// field node of typ.
func BintreeSpec(typ, node string) TreeSpec {
	return TreeSpec{
		Type:     typ,
		Node:     node,
		NodeType: "bintree_node",
		Left:     "left_obj",
		Right:    "right_obj",
	}
}

// Tree returns the addresses of every object reachable from root, in
// pre-order. A NULL root returns an empty slice. The walk does not detect
// cycles and imposes no ordering on the result.
func Tree(t kmem.Target, root kmem.Addr, spec TreeSpec) ([]kmem.Addr, error) {
	if root == 0 {
		return nil, nil
	}
	_, node, err := kmem.ResolveField(t, spec.Type, spec.Node)
	if err != nil {
		return nil, err
	}
	if node.Kind != kmem.KindStruct || (spec.NodeType != "" && node.Type != spec.NodeType) {
		return nil, &kmem.LookupError{What: spec.NodeType + " field", Name: spec.Type + "." + spec.Node}
	}
	leftOff, err := OffsetOf(t, spec.Type, spec.Node+"."+spec.Left)
	if err != nil {
		return nil, err
	}
	rightOff, err := OffsetOf(t, spec.Type, spec.Node+"."+spec.Right)
	if err != nil {
		return nil, err
	}

	var r []kmem.Addr
	stack := []kmem.Addr{root}
	for len(stack) > 0 {
		obj := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		r = append(r, obj)

		left, err := kmem.ReadPointer(t, obj.Add(leftOff))
		if err != nil {
			return nil, err
		}
		right, err := kmem.ReadPointer(t, obj.Add(rightOff))
		if err != nil {
			return nil, err
		}
		// right first, so that the left subtree is visited first
		if right != 0 {
			stack = append(stack, right)
		}
		if left != 0 {
			stack = append(stack, left)
		}
	}
	return r, nil
}
