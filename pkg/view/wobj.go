package view

import (
	"strconv"

	"github.com/kview-dev/kview/pkg/kmem"
	"github.com/kview-dev/kview/pkg/wobj"
)

// payload returns the fields describing the payload of obj, a wait object
// at nesting level depth. Waiters past the decoder's depth limit are shown
// by address only.
func payload(obj *wobj.Object, depth int) []Field {
	switch obj.Tag {
	case wobj.TagTask:
		return []Field{literal("tid", obj.Task.String())}
	case wobj.TagMultiWaiter:
		if obj.Ptr != 0 && !obj.Truncated {
			return []Field{waitNested("ptr", KindWaiter, obj.Ptr, depth)}
		}
	}
	return []Field{literal("ptr", obj.Ptr.String())}
}

func waitNested(name string, kind Kind, addr kmem.Addr, level int) Field {
	return Field{Name: name, Ref: &Ref{Kind: kind, Addr: addr, Level: level}}
}

type waitObjRenderer struct {
	identity
	*Env
}

func (r waitObjRenderer) Fields(ref Ref) ([]Field, error) {
	obj, err := r.Wobj.Decode(ref.Addr)
	if err != nil {
		return nil, err
	}
	if obj.Tag == wobj.TagNone {
		return []Field{}, nil
	}
	return append([]Field{literal("type", obj.RawName)}, payload(obj, 1)...), nil
}

type waiterRenderer struct {
	identity
	*Env
}

func (r waiterRenderer) Fields(ref Ref) ([]Field, error) {
	depth := max(ref.Level, 1)
	w, err := r.Wobj.DecodeWaiterAt(ref.Addr, depth)
	if err != nil {
		return nil, err
	}
	fields := make([]Field, len(w.Elems))
	for i, e := range w.Elems {
		fields[i] = waitNested(strconv.Itoa(i), KindWaiterElem, e.Addr, depth+1)
	}
	return fields, nil
}

type waiterElemRenderer struct {
	identity
	*Env
}

func (r waiterElemRenderer) Fields(ref Ref) ([]Field, error) {
	depth := max(ref.Level, 1)
	e, err := r.Wobj.DecodeElemAt(ref.Addr, depth)
	if err != nil {
		return nil, err
	}
	fields := []Field{
		literal("type", e.Obj.RawName),
		literal("ti", Ref{Kind: KindTask, Addr: e.Owner}.String()),
	}
	if e.Obj.Tag == wobj.TagNone {
		return fields, nil
	}
	return append(fields, payload(e.Obj, depth)...), nil
}
