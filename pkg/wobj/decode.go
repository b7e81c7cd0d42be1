package wobj

import (
	"fmt"
	"strconv"

	"github.com/kview-dev/kview/pkg/kmem"
)

const (
	// DefaultMaxDepth is the default nesting limit: a top level wait
	// object and the elements of its multi object waiter.
	DefaultMaxDepth = 2
	// DefaultMaxElems bounds the element count of a multi object waiter.
	DefaultMaxElems = 64
)

// Decoder decodes wait objects read from a target.
type Decoder struct {
	T kmem.Target
	// MaxDepth limits the nesting of multi object waiters. Elements
	// beyond the limit are reported with their tag only.
	MaxDepth int
	// MaxElems is the maximum acceptable element count of a multi object
	// waiter; larger counts are treated as corruption.
	MaxElems int
}

// NewDecoder returns a decoder with the default limits.
func NewDecoder(t kmem.Target) *Decoder {
	return &Decoder{T: t, MaxDepth: DefaultMaxDepth, MaxElems: DefaultMaxElems}
}

// tags holds the values of the enumerators with a specific payload.
type tags struct {
	none, task, waiter int64
}

func (d *Decoder) tags() (tags, error) {
	var r tags
	var err error
	if r.none, err = d.T.Constant(noneConst); err != nil {
		return r, err
	}
	if r.task, err = d.T.Constant(taskConst); err != nil {
		return r, err
	}
	if r.waiter, err = d.T.Constant(waiterConst); err != nil {
		return r, err
	}
	return r, nil
}

func (tg tags) classify(raw int64) Tag {
	switch raw {
	case tg.none:
		return TagNone
	case tg.task:
		return TagTask
	case tg.waiter:
		return TagMultiWaiter
	}
	return TagGeneric
}

func (d *Decoder) maxDepth() int {
	if d.MaxDepth <= 0 {
		return DefaultMaxDepth
	}
	return d.MaxDepth
}

// Decode decodes the wait_obj at addr.
func (d *Decoder) Decode(addr kmem.Addr) (*Object, error) {
	tg, err := d.tags()
	if err != nil {
		return nil, err
	}
	tag, err := kmem.ReadInteger(d.T, addr, WaitObjType, "type")
	if err != nil {
		return nil, err
	}
	return d.decode(tg, addr, tag, 1)
}

// DecodeWaiter decodes the multi_obj_waiter at addr.
func (d *Decoder) DecodeWaiter(addr kmem.Addr) (*Waiter, error) {
	return d.DecodeWaiterAt(addr, 1)
}

// DecodeWaiterAt decodes the multi_obj_waiter at addr, referenced by a
// wait object at nesting level depth. Its elements are at depth+1.
func (d *Decoder) DecodeWaiterAt(addr kmem.Addr, depth int) (*Waiter, error) {
	tg, err := d.tags()
	if err != nil {
		return nil, err
	}
	return d.decodeWaiter(tg, addr, max(depth, 1))
}

// DecodeElem decodes the mwobj_elem at addr.
func (d *Decoder) DecodeElem(addr kmem.Addr) (*Elem, error) {
	return d.DecodeElemAt(addr, 1)
}

// DecodeElemAt decodes the mwobj_elem at addr whose wait object is at
// nesting level depth.
func (d *Decoder) DecodeElemAt(addr kmem.Addr, depth int) (*Elem, error) {
	tg, err := d.tags()
	if err != nil {
		return nil, err
	}
	return d.decodeElem(tg, addr, max(depth, 1))
}

// decode decodes the payload of the wait_obj at addr according to tag,
// which is not necessarily the one stored in the wait_obj itself: the
// elements of a multi object waiter keep their real tag outside of it.
func (d *Decoder) decode(tg tags, addr kmem.Addr, tag kmem.Value, depth int) (*Object, error) {
	obj := &Object{
		Addr: addr,
		Raw:  tag.Int64(),
		Tag:  tg.classify(tag.Int64()),
	}
	if name, ok := d.T.EnumName(tag.Type, obj.Raw); ok {
		obj.RawName = name
	} else {
		obj.RawName = strconv.FormatInt(obj.Raw, 10)
	}

	switch obj.Tag {
	case TagNone:
	case TagTask:
		v, err := kmem.ReadInteger(d.T, addr, WaitObjType, "__data")
		if err != nil {
			return nil, err
		}
		obj.Task = TaskTarget(v.Int64())
	case TagMultiWaiter, TagGeneric:
		v, err := kmem.ReadInteger(d.T, addr, WaitObjType, "__ptr")
		if err != nil {
			return nil, err
		}
		obj.Ptr = v.Pointer()
		if obj.Tag != TagMultiWaiter || obj.Ptr == 0 {
			break
		}
		if depth >= d.maxDepth() {
			obj.Truncated = true
			break
		}
		w, err := d.decodeWaiter(tg, obj.Ptr, depth)
		if err != nil {
			return nil, err
		}
		obj.Waiter = w
	}
	return obj, nil
}

func (d *Decoder) decodeWaiter(tg tags, addr kmem.Addr, depth int) (*Waiter, error) {
	cv, err := kmem.ReadInteger(d.T, addr, WaiterType, "count")
	if err != nil {
		return nil, err
	}
	count := cv.Uint64()
	maxElems := d.MaxElems
	if maxElems <= 0 {
		maxElems = DefaultMaxElems
	}
	if count > uint64(maxElems) {
		return nil, fmt.Errorf("multi object waiter at %s: element count %d exceeds %d", addr, count, maxElems)
	}
	elems, err := d.T.ReadField(addr, WaiterType, "elems")
	if err != nil {
		return nil, err
	}
	w := &Waiter{Addr: addr, Elems: make([]Elem, 0, count)}
	for i := 0; i < int(count); i++ {
		ev, err := d.T.ReadIndex(elems, i)
		if err != nil {
			return nil, err
		}
		e, err := d.decodeElem(tg, ev.Addr, depth+1)
		if err != nil {
			return nil, err
		}
		w.Elems = append(w.Elems, *e)
	}
	return w, nil
}

func (d *Decoder) decodeElem(tg tags, addr kmem.Addr, depth int) (*Elem, error) {
	owner, err := kmem.ReadInteger(d.T, addr, ElemType, "ti")
	if err != nil {
		return nil, err
	}
	tag, err := kmem.ReadInteger(d.T, addr, ElemType, "type")
	if err != nil {
		return nil, err
	}
	wobj, err := d.T.ReadField(addr, ElemType, "wobj")
	if err != nil {
		return nil, err
	}
	obj, err := d.decode(tg, wobj.Addr, tag, depth)
	if err != nil {
		return nil, err
	}
	return &Elem{Addr: addr, Owner: owner.Pointer(), Obj: obj}, nil
}
