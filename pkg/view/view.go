// Package view renders kernel objects as identities and nested field
// lists. Renderers are registered per Kind; a field refers to another
// object through a Ref and the Registry renders it recursively.
package view

import (
	"fmt"

	"github.com/kview-dev/kview/pkg/kmem"
	"github.com/kview-dev/kview/pkg/logflags"
)

// Kind identifies the renderer of an object.
type Kind string

const (
	KindTask       Kind = "task"
	KindProcess    Kind = "process"
	KindHandle     Kind = "handle"
	KindWaitObj    Kind = "wait_obj"
	KindWaiter     Kind = "multi_obj_waiter"
	KindWaiterElem Kind = "mwobj_elem"
	KindRegs       Kind = "regs"
)

// DefaultMaxDepth is the default nesting limit of Render.
const DefaultMaxDepth = 4

// Ref is a reference to a renderable object.
type Ref struct {
	Kind Kind
	Addr kmem.Addr
	// Level is the nesting level of a wait object inside multi object
	// waiters, zero for objects outside of a wait graph. It is not part of
	// the identity.
	Level int
}

func (r Ref) String() string {
	return fmt.Sprintf("%s@%s", r.Kind, r.Addr)
}

// Field is a labeled value. Exactly one of Value and Ref is meaningful
// when returned by a Renderer; after rendering Node holds the rendered
// Ref, unless the depth limit was reached.
type Field struct {
	Name  string
	Value string
	Ref   *Ref
	Node  *Node
}

// Node is a rendered object.
type Node struct {
	Ref      Ref
	Identity string
	Fields   []Field
}

// Renderer renders objects of one Kind.
type Renderer interface {
	// Identity returns the one line identity of the object.
	Identity(ref Ref) string
	// Fields returns the fields of the object. Nested objects are
	// returned as references.
	Fields(ref Ref) ([]Field, error)
}

// UnknownKindError is returned when no renderer is registered for a Kind.
type UnknownKindError struct {
	Kind Kind
}

func (e *UnknownKindError) Error() string {
	return fmt.Sprintf("no renderer for %q", string(e.Kind))
}

// Registry dispatches rendering requests by Kind.
type Registry struct {
	renderers map[Kind]Renderer
	// MaxDepth limits nesting: objects deeper than MaxDepth are shown by
	// identity only.
	MaxDepth int

	log logflags.Logger
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		renderers: make(map[Kind]Renderer),
		MaxDepth:  DefaultMaxDepth,
		log:       logflags.ViewLogger(),
	}
}

// Register sets the renderer for kind, replacing any previous one.
func (reg *Registry) Register(kind Kind, r Renderer) {
	reg.renderers[kind] = r
}

// Kinds returns the number of registered kinds.
func (reg *Registry) Kinds() int {
	return len(reg.renderers)
}

func (reg *Registry) renderer(kind Kind) (Renderer, error) {
	r, ok := reg.renderers[kind]
	if !ok {
		return nil, &UnknownKindError{Kind: kind}
	}
	return r, nil
}

// Identity returns the identity of ref.
func (reg *Registry) Identity(ref Ref) (string, error) {
	r, err := reg.renderer(ref.Kind)
	if err != nil {
		return "", err
	}
	return r.Identity(ref), nil
}

// Render renders ref and, recursively, the objects it refers to.
func (reg *Registry) Render(ref Ref) (*Node, error) {
	return reg.render(ref, 1)
}

func (reg *Registry) render(ref Ref, depth int) (*Node, error) {
	r, err := reg.renderer(ref.Kind)
	if err != nil {
		return nil, err
	}
	fields, err := r.Fields(ref)
	if err != nil {
		return nil, fmt.Errorf("rendering %s: %w", ref, err)
	}
	n := &Node{Ref: ref, Identity: r.Identity(ref), Fields: fields}
	maxDepth := reg.MaxDepth
	if maxDepth <= 0 {
		maxDepth = DefaultMaxDepth
	}
	for i := range n.Fields {
		f := &n.Fields[i]
		if f.Ref == nil {
			continue
		}
		if depth >= maxDepth {
			reg.log.Debugf("%s: depth limit reached at %s", ref, *f.Ref)
			f.Value, err = reg.Identity(*f.Ref)
			if err != nil {
				return nil, err
			}
			continue
		}
		f.Node, err = reg.render(*f.Ref, depth+1)
		if err != nil {
			return nil, err
		}
	}
	return n, nil
}
