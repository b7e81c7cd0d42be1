// Package wobj decodes kernel wait objects: the tagged unions describing
// what a blocked task is waiting for.
package wobj

import (
	"fmt"
	"strconv"

	"github.com/kview-dev/kview/pkg/kmem"
)

// Structure names.
const (
	WaitObjType = "wait_obj"
	WaiterType  = "multi_obj_waiter"
	ElemType    = "mwobj_elem"
)

// Enumerators identifying the tags with a specific payload. Every other
// tag is generic.
const (
	noneConst   = "WOBJ_NONE"
	taskConst   = "WOBJ_TASK"
	waiterConst = "WOBJ_MWO_WAITER"
)

// Tag classifies a wait object.
type Tag uint8

const (
	TagNone Tag = iota
	TagTask
	TagMultiWaiter
	TagGeneric
)

func (tag Tag) String() string {
	switch tag {
	case TagNone:
		return "none"
	case TagTask:
		return "task"
	case TagMultiWaiter:
		return "multi-waiter"
	case TagGeneric:
		return "generic"
	}
	return "Tag(" + strconv.Itoa(int(tag)) + ")"
}

// TaskTarget is the payload of a TASK wait object, with waitpid semantics.
type TaskTarget int64

func (tt TaskTarget) String() string {
	switch {
	case tt == -1:
		return "any child"
	case tt == 0:
		return "any child, same process group"
	case tt < -1:
		return fmt.Sprintf("any child in process group %d", -tt)
	}
	return strconv.FormatInt(int64(tt), 10)
}

// Object is a decoded wait object.
type Object struct {
	// Addr is the address of the wait_obj.
	Addr kmem.Addr
	Tag  Tag
	// Raw is the value of the tag in memory and RawName its enumerator
	// name.
	Raw     int64
	RawName string

	// Task is set for TagTask.
	Task TaskTarget
	// Ptr is the payload pointer for TagMultiWaiter and TagGeneric.
	Ptr kmem.Addr
	// Waiter is the decoded multi object waiter, for TagMultiWaiter.
	Waiter *Waiter

	// Truncated is set when the payload was not decoded because the
	// maximum depth was reached.
	Truncated bool
}

// Waiter is a decoded multi_obj_waiter.
type Waiter struct {
	Addr  kmem.Addr
	Elems []Elem
}

// Elem is one element of a multi object waiter.
type Elem struct {
	Addr kmem.Addr
	// Owner is the task waiting on the element.
	Owner kmem.Addr
	Obj   *Object
}
