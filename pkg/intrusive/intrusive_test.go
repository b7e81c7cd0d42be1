package intrusive_test

import (
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/kview-dev/kview/pkg/intrusive"
	"github.com/kview-dev/kview/pkg/kmem"
	"github.com/kview-dev/kview/pkg/kmem/kmemtest"
)

func TestOffsetOf(t *testing.T) {
	l := kmemtest.Layouts()
	for _, tc := range []struct {
		typ, field string
		off        uint64
	}{
		{"task", "tid", 0},
		{"task", "siblings_node", 24},
		{"task", "wobj.wait_list_node", 40},
		{"mwobj_elem", "ti", 16},
	} {
		off, err := intrusive.OffsetOf(l, tc.typ, tc.field)
		if err != nil {
			t.Fatalf("OffsetOf(%s, %s): %v", tc.typ, tc.field, err)
		}
		if off != tc.off {
			t.Errorf("OffsetOf(%s, %s) = %d, expected %d", tc.typ, tc.field, off, tc.off)
		}
	}

	if _, err := intrusive.OffsetOf(l, "task", "nosuchfield"); !kmem.IsLookupFailure(err) {
		t.Errorf("expected lookup failure for unknown field, got %v", err)
	}
	if _, err := intrusive.OffsetOf(l, "nosuchtype", "tid"); !kmem.IsLookupFailure(err) {
		t.Errorf("expected lookup failure for unknown type, got %v", err)
	}
}

func TestContainerOfRoundTrip(t *testing.T) {
	k := kmemtest.NewKernel()
	task, _ := k.NewProcess(1, 0, "init")
	for _, field := range []string{"tid", "siblings_node", "wobj.wait_list_node", "state_regs"} {
		member := k.FieldAddr(task, "task", field)
		got, err := intrusive.ContainerOf(k.Layouts, member, "task", field)
		if err != nil {
			t.Fatal(err)
		}
		if got != task {
			t.Errorf("ContainerOf(%s) = %s, expected %s", field, got, task)
		}
	}
}

func TestListEmpty(t *testing.T) {
	k := kmemtest.NewKernel()
	_, proc := k.NewProcess(1, 0, "init")
	img := k.Image()
	r, err := intrusive.List(img, k.FieldAddr(proc, "process", "children"), "task", "siblings_node")
	if err != nil {
		t.Fatal(err)
	}
	if len(r) != 0 {
		t.Fatalf("expected empty list, got %v", r)
	}
}

func TestListOrder(t *testing.T) {
	k := kmemtest.NewKernel()
	_, initProc := k.NewProcess(1, 0, "init")
	var want []kmem.Addr
	for _, pid := range []int{9, 3, 5} {
		task, _ := k.NewProcess(pid, 1, "")
		want = append(want, task)
	}
	img := k.Image()
	sentinel := k.FieldAddr(initProc, "process", "children")

	r1, err := intrusive.List(img, sentinel, "task", "siblings_node")
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff(want, r1); diff != "" {
		t.Fatalf("list mismatch (-want +got):\n%s", diff)
	}
	// restartable
	r2, err := intrusive.List(img, sentinel, "task", "siblings_node")
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff(r1, r2); diff != "" {
		t.Fatalf("second walk differs (-first +second):\n%s", diff)
	}

	var first []kmem.Addr
	for addr, err := range intrusive.ListSeq(img, sentinel, "task", "siblings_node") {
		if err != nil {
			t.Fatal(err)
		}
		first = append(first, addr)
		if len(first) == 2 {
			break
		}
	}
	if diff := cmp.Diff(want[:2], first); diff != "" {
		t.Fatalf("early stop mismatch (-want +got):\n%s", diff)
	}
}

func TestListTooLong(t *testing.T) {
	k := kmemtest.NewKernel()
	a := k.AllocBytes(8)
	b := k.AllocBytes(8)
	sentinel := k.AllocBytes(8)
	// sentinel -> a -> b -> a ... never returns to the sentinel
	k.Set(sentinel, "list_node", "next", uint64(a))
	k.Set(a, "list_node", "next", uint64(b))
	k.Set(b, "list_node", "next", uint64(a))

	old := intrusive.MaxListLen
	intrusive.MaxListLen = 100
	defer func() { intrusive.MaxListLen = old }()

	_, err := intrusive.List(k.Image(), sentinel, "list_node", "next")
	var lerr *intrusive.ListTooLongError
	if !errors.As(err, &lerr) {
		t.Fatalf("expected ListTooLongError, got %v", err)
	}
}

func TestTreePreOrder(t *testing.T) {
	k := kmemtest.NewKernel()
	// insertion order determines the shape of the unbalanced tree:
	//        4
	//      2   6
	//     1 3 5 7
	for _, pid := range []int{4, 2, 6, 1, 3, 5, 7} {
		k.NewProcess(pid, 0, "")
	}
	img := k.Image()
	root, err := kmem.ReadPointer(img, k.Root)
	if err != nil {
		t.Fatal(err)
	}
	r, err := intrusive.Tree(img, root, intrusive.BintreeSpec("task", "tree_by_tid_node"))
	if err != nil {
		t.Fatal(err)
	}
	var want []kmem.Addr
	for _, tid := range []int{4, 2, 1, 3, 6, 5, 7} {
		want = append(want, k.Task(tid))
	}
	if diff := cmp.Diff(want, r); diff != "" {
		t.Fatalf("pre-order mismatch (-want +got):\n%s", diff)
	}
}

func TestTreeNullRoot(t *testing.T) {
	k := kmemtest.NewKernel()
	r, err := intrusive.Tree(k.Image(), 0, intrusive.BintreeSpec("task", "tree_by_tid_node"))
	if err != nil || len(r) != 0 {
		t.Fatalf("expected empty result, got %v %v", r, err)
	}
}

func TestTreeNodeType(t *testing.T) {
	k := kmemtest.NewKernel()
	task, _ := k.NewProcess(1, 0, "init")
	img := k.Image()

	// wobj is an inline structure, but not a tree node
	spec := intrusive.BintreeSpec("task", "wobj")
	if _, err := intrusive.Tree(img, task, spec); !kmem.IsLookupFailure(err) {
		t.Fatalf("expected a lookup failure, got %v", err)
	}
	spec = intrusive.BintreeSpec("task", "tid")
	spec.NodeType = ""
	if _, err := intrusive.Tree(img, task, spec); !kmem.IsLookupFailure(err) {
		t.Fatalf("expected a lookup failure for a non structure node, got %v", err)
	}
}
