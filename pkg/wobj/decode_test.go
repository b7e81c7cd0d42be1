package wobj_test

import (
	"strings"
	"testing"

	"github.com/kview-dev/kview/pkg/kmem"
	"github.com/kview-dev/kview/pkg/kmem/kmemtest"
	"github.com/kview-dev/kview/pkg/wobj"
)

func TestTaskTargetLiterals(t *testing.T) {
	for _, tc := range []struct {
		payload int64
		out     string
	}{
		{-1, "any child"},
		{0, "any child, same process group"},
		{-5, "any child in process group 5"},
		{-2, "any child in process group 2"},
		{42, "42"},
	} {
		k := kmemtest.NewKernel()
		task, _ := k.NewProcess(1, 0, "init")
		k.SetWait(task, "WOBJ_TASK", kmemtest.Payload(tc.payload))
		obj, err := wobj.NewDecoder(k.Image()).Decode(k.FieldAddr(task, "task", "wobj"))
		if err != nil {
			t.Fatal(err)
		}
		if obj.Tag != wobj.TagTask || obj.RawName != "WOBJ_TASK" {
			t.Fatalf("wrong tag %v %q", obj.Tag, obj.RawName)
		}
		if got := obj.Task.String(); got != tc.out {
			t.Errorf("payload %d: got %q expected %q", tc.payload, got, tc.out)
		}
	}
}

func TestDecodeNone(t *testing.T) {
	k := kmemtest.NewKernel()
	task, _ := k.NewProcess(1, 0, "init")
	obj, err := wobj.NewDecoder(k.Image()).Decode(k.FieldAddr(task, "task", "wobj"))
	if err != nil {
		t.Fatal(err)
	}
	if obj.Tag != wobj.TagNone || obj.Ptr != 0 || obj.Waiter != nil {
		t.Fatalf("unexpected object %#v", obj)
	}
}

func TestDecodeGeneric(t *testing.T) {
	k := kmemtest.NewKernel()
	task, _ := k.NewProcess(1, 0, "init")
	k.SetWait(task, "WOBJ_KMUTEX", 0xc0123450)
	obj, err := wobj.NewDecoder(k.Image()).Decode(k.FieldAddr(task, "task", "wobj"))
	if err != nil {
		t.Fatal(err)
	}
	if obj.Tag != wobj.TagGeneric || obj.RawName != "WOBJ_KMUTEX" || obj.Ptr != 0xc0123450 {
		t.Fatalf("unexpected object %#v", obj)
	}
}

func TestDecodeMultiWaiter(t *testing.T) {
	k := kmemtest.NewKernel()
	task, _ := k.NewProcess(1, 0, "init")
	w := k.NewWaiter(task,
		kmemtest.WaitElem{Tag: "WOBJ_TASK", Payload: kmemtest.Payload(-1)},
		kmemtest.WaitElem{Tag: "WOBJ_SEM", Payload: 0xc0200000})
	k.SetWait(task, "WOBJ_MWO_WAITER", uint64(w))

	obj, err := wobj.NewDecoder(k.Image()).Decode(k.FieldAddr(task, "task", "wobj"))
	if err != nil {
		t.Fatal(err)
	}
	if obj.Tag != wobj.TagMultiWaiter || obj.Ptr != kmem.Addr(w) || obj.Waiter == nil {
		t.Fatalf("unexpected object %#v", obj)
	}
	elems := obj.Waiter.Elems
	if len(elems) != 2 {
		t.Fatalf("expected 2 elements, got %d", len(elems))
	}
	if elems[0].Owner != task || elems[0].Obj.Tag != wobj.TagTask || elems[0].Obj.Task.String() != "any child" {
		t.Errorf("wrong first element %#v %#v", elems[0], elems[0].Obj)
	}
	if elems[1].Obj.Tag != wobj.TagGeneric || elems[1].Obj.RawName != "WOBJ_SEM" || elems[1].Obj.Ptr != 0xc0200000 {
		t.Errorf("wrong second element %#v", elems[1].Obj)
	}
	if elems[1].Addr-elems[0].Addr != 24 {
		t.Errorf("elements not contiguous: %s %s", elems[0].Addr, elems[1].Addr)
	}
}

func TestDecodeDepthLimit(t *testing.T) {
	k := kmemtest.NewKernel()
	task, _ := k.NewProcess(1, 0, "init")
	inner := k.NewWaiter(task, kmemtest.WaitElem{Tag: "WOBJ_TASK", Payload: 3})
	outer := k.NewWaiter(task, kmemtest.WaitElem{Tag: "WOBJ_MWO_WAITER", Payload: uint64(inner)})
	k.SetWait(task, "WOBJ_MWO_WAITER", uint64(outer))

	d := wobj.NewDecoder(k.Image())
	obj, err := d.Decode(k.FieldAddr(task, "task", "wobj"))
	if err != nil {
		t.Fatal(err)
	}
	nested := obj.Waiter.Elems[0].Obj
	if nested.Tag != wobj.TagMultiWaiter || !nested.Truncated || nested.Waiter != nil || nested.Ptr != inner {
		t.Fatalf("expected a truncated nested waiter, got %#v", nested)
	}

	d.MaxDepth = 3
	obj, err = d.Decode(k.FieldAddr(task, "task", "wobj"))
	if err != nil {
		t.Fatal(err)
	}
	nested = obj.Waiter.Elems[0].Obj
	if nested.Truncated || nested.Waiter == nil || nested.Waiter.Elems[0].Obj.Task != 3 {
		t.Fatalf("expected a decoded nested waiter, got %#v", nested)
	}
}

func TestDecodeWaiterTooLarge(t *testing.T) {
	k := kmemtest.NewKernel()
	task, _ := k.NewProcess(1, 0, "init")
	w := k.NewWaiter(task)
	k.Set(w, "multi_obj_waiter", "count", 1000)
	_, err := wobj.NewDecoder(k.Image()).DecodeWaiter(w)
	if err == nil || !strings.Contains(err.Error(), "exceeds") {
		t.Fatalf("expected element count error, got %v", err)
	}
}

func TestDecodeMissingEnumerator(t *testing.T) {
	l := kmem.NewLayouts(4)
	img := kmem.NewImage(&kmem.Memory{}, l, nil)
	_, err := wobj.NewDecoder(img).Decode(0x1000)
	if !kmem.IsLookupFailure(err) {
		t.Fatalf("expected lookup failure, got %v", err)
	}
}

func TestDecodeWaiterSignedCount(t *testing.T) {
	k := kmemtest.NewKernel()
	task, _ := k.NewProcess(1, 0, "init")
	w := k.NewWaiter(task,
		kmemtest.WaitElem{Tag: "WOBJ_TASK", Payload: 5},
		kmemtest.WaitElem{Tag: "WOBJ_SEM", Payload: 0xc0200000})
	k.Redeclare("multi_obj_waiter", "count", kmem.KindInt)

	waiter, err := wobj.NewDecoder(k.Image()).DecodeWaiter(w)
	if err != nil {
		t.Fatal(err)
	}
	if len(waiter.Elems) != 2 {
		t.Fatalf("expected 2 elements, got %d", len(waiter.Elems))
	}
	if waiter.Elems[0].Obj.Task.String() != "5" {
		t.Errorf("wrong first element %#v", waiter.Elems[0].Obj)
	}

	k.Redeclare("multi_obj_waiter", "count", kmem.KindStruct)
	if _, err := wobj.NewDecoder(k.Image()).DecodeWaiter(w); !kmem.IsLookupFailure(err) {
		t.Errorf("expected a lookup failure, got %v", err)
	}
}

func TestDecodeElemAtDepth(t *testing.T) {
	k := kmemtest.NewKernel()
	task, _ := k.NewProcess(1, 0, "init")
	inner := k.NewWaiter(task, kmemtest.WaitElem{Tag: "WOBJ_TASK", Payload: 3})
	outer := k.NewWaiter(task, kmemtest.WaitElem{Tag: "WOBJ_MWO_WAITER", Payload: uint64(inner)})
	elem := k.FieldAddr(outer, "multi_obj_waiter", "elems")
	d := wobj.NewDecoder(k.Image())

	e, err := d.DecodeElemAt(elem, 1)
	if err != nil {
		t.Fatal(err)
	}
	if e.Obj.Truncated || e.Obj.Waiter == nil {
		t.Fatalf("element at depth 1 not decoded: %#v", e.Obj)
	}
	e, err = d.DecodeElemAt(elem, 2)
	if err != nil {
		t.Fatal(err)
	}
	if !e.Obj.Truncated || e.Obj.Waiter != nil || e.Obj.Ptr != inner {
		t.Fatalf("element at depth 2 not truncated: %#v", e.Obj)
	}

	w, err := d.DecodeWaiterAt(outer, 1)
	if err != nil {
		t.Fatal(err)
	}
	if !w.Elems[0].Obj.Truncated {
		t.Errorf("elements of a waiter at depth 1 should be at the depth limit")
	}
}
