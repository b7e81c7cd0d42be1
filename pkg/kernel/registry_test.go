package kernel_test

import (
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/kview-dev/kview/pkg/kernel"
	"github.com/kview-dev/kview/pkg/kmem"
	"github.com/kview-dev/kview/pkg/kmem/kmemtest"
)

// buildKernel creates this process tree:
//
//	0 (kernel, threads 0 and 10)
//	1 init
//	├── 4 sh (threads 4 and 7)
//	│   └── 9 ls
//	└── 2 getty
func buildKernel(t *testing.T) (*kmemtest.Kernel, *kernel.Registry) {
	k := kmemtest.NewKernel()
	k.NewProcess(0, 0, "")
	k.NewThread(0, 10)
	k.NewProcess(1, 0, "/initrd/bin/init  ")
	k.NewProcess(4, 1, "/bin/sh")
	k.NewThread(4, 7)
	k.NewProcess(9, 4, "/bin/ls -l")
	k.NewProcess(2, 1, "/bin/getty")
	reg, err := kernel.NewRegistry(k.Image(), k.Root, 0)
	if err != nil {
		t.Fatal(err)
	}
	return k, reg
}

func tids(tasks []*kernel.Task) []int {
	r := make([]int, len(tasks))
	for i, task := range tasks {
		r[i] = task.Tid
	}
	return r
}

func TestAllTasks(t *testing.T) {
	k, reg := buildKernel(t)
	tasks, err := reg.AllTasks()
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff([]int{0, 1, 2, 4, 7, 9, 10}, tids(tasks)); diff != "" {
		t.Fatalf("tids mismatch (-want +got):\n%s", diff)
	}
	for _, task := range tasks {
		if task.Addr != k.Task(task.Tid) {
			t.Errorf("task %d at %s, expected %s", task.Tid, task.Addr, k.Task(task.Tid))
		}
		if task.StateName != "TASK_STATE_RUNNABLE" {
			t.Errorf("task %d: wrong state %q", task.Tid, task.StateName)
		}
	}
	if tasks[4].Pid != 4 || tasks[4].IsMainThread() {
		t.Errorf("tid 7 should be a secondary thread of pid 4: %#v", tasks[4])
	}
	if !tasks[6].IsKernelThread() {
		t.Errorf("tid 10 should be a kernel thread: %#v", tasks[6])
	}
}

func TestAllTasksEmpty(t *testing.T) {
	k := kmemtest.NewKernel()
	reg, err := kernel.NewRegistry(k.Image(), k.Root, 0)
	if err != nil {
		t.Fatal(err)
	}
	tasks, err := reg.AllTasks()
	if err != nil || len(tasks) != 0 {
		t.Fatalf("expected no tasks, got %v %v", tasks, err)
	}
}

func TestTaskLookup(t *testing.T) {
	_, reg := buildKernel(t)
	tasks, _ := reg.AllTasks()
	for _, want := range tasks {
		got, found, err := reg.Task(want.Tid)
		if err != nil || !found {
			t.Fatalf("Task(%d): %v %v", want.Tid, found, err)
		}
		if diff := cmp.Diff(want, got); diff != "" {
			t.Errorf("Task(%d) mismatch (-want +got):\n%s", want.Tid, diff)
		}
	}
	for _, tid := range []int{-1, 3, 11, 1000} {
		task, found, err := reg.Task(tid)
		if err != nil || found || task != nil {
			t.Errorf("Task(%d) = %v, %v, %v; expected not found", tid, task, found, err)
		}
	}
}

func TestProcessLookup(t *testing.T) {
	k, reg := buildKernel(t)
	p, found, err := reg.Process(1)
	if err != nil || !found {
		t.Fatalf("Process(1): %v %v", found, err)
	}
	want := &kernel.Process{
		Addr:    k.Proc(1),
		Pid:     1,
		Pgid:    1,
		Sid:     1,
		Cmdline: "/initrd/bin/init",
		Cwd:     "/",
	}
	if diff := cmp.Diff(want, p); diff != "" {
		t.Errorf("Process(1) mismatch (-want +got):\n%s", diff)
	}
	if _, found, _ := reg.Process(7); found {
		t.Error("Process(7) should not be found, 7 is a thread id")
	}

	procs, err := reg.Processes()
	if err != nil {
		t.Fatal(err)
	}
	var pids []int
	for _, p := range procs {
		pids = append(pids, p.Pid)
	}
	if diff := cmp.Diff([]int{0, 1, 2, 4, 9}, pids); diff != "" {
		t.Errorf("Processes mismatch (-want +got):\n%s", diff)
	}
}

func TestChildren(t *testing.T) {
	_, reg := buildKernel(t)
	for _, tc := range []struct {
		pid      int
		children []int
	}{
		{1, []int{4, 2}},
		{4, []int{9}},
		{9, []int{}},
	} {
		p, _, err := reg.Process(tc.pid)
		if err != nil {
			t.Fatal(err)
		}
		children, err := reg.Children(p)
		if err != nil {
			t.Fatal(err)
		}
		for _, c := range children {
			if !c.IsMainThread() {
				t.Errorf("child %d of %d is not a main thread", c.Tid, tc.pid)
			}
		}
		if diff := cmp.Diff(tc.children, tids(children)); diff != "" {
			t.Errorf("Children(%d) mismatch (-want +got):\n%s", tc.pid, diff)
		}
	}
}

func TestHandles(t *testing.T) {
	k, reg := buildKernel(t)
	h0 := k.NewHandle(4, 0, 0)
	h3 := k.NewHandle(4, 3, 1234)
	p, _, err := reg.Process(4)
	if err != nil {
		t.Fatal(err)
	}

	slots, err := reg.Handles(p)
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff([]int{0, 3}, slots); diff != "" {
		t.Errorf("Handles mismatch (-want +got):\n%s", diff)
	}

	h, found, err := reg.Handle(p, 3)
	if err != nil || !found {
		t.Fatalf("Handle(3): %v %v", found, err)
	}
	if h.Addr != h3 || h.Pos != 1234 || h.Proc != p.Addr {
		t.Errorf("wrong handle %#v", h)
	}
	for _, n := range []int{-1, 1, 16, 100} {
		if _, found, err := reg.Handle(p, n); found || err != nil {
			t.Errorf("Handle(%d) = %v, %v; expected not found", n, found, err)
		}
	}

	for _, tc := range []struct {
		h     kmem.Addr
		n     int
		found bool
	}{
		{h0, 0, true},
		{h3, 3, true},
		{0, 0, false},
		{0xdeadbeef, 0, false},
	} {
		n, found, err := reg.HandleIndex(p, tc.h)
		if err != nil || found != tc.found || n != tc.n {
			t.Errorf("HandleIndex(%s) = %d, %v, %v", tc.h, n, found, err)
		}
	}
}

func TestMaxHandlesClamped(t *testing.T) {
	k := kmemtest.NewKernel()
	reg, err := kernel.NewRegistry(k.Image(), k.Root, 4)
	if err != nil {
		t.Fatal(err)
	}
	if reg.MaxHandles() != 4 {
		t.Fatalf("expected 4, got %d", reg.MaxHandles())
	}
	reg, err = kernel.NewRegistry(k.Image(), k.Root, 1000)
	if err != nil {
		t.Fatal(err)
	}
	if reg.MaxHandles() != 16 {
		t.Fatalf("expected 16, got %d", reg.MaxHandles())
	}

	k.NewProcess(1, 0, "")
	k.NewHandle(1, 5, 0)
	reg, _ = kernel.NewRegistry(k.Image(), k.Root, 4)
	p, _, _ := reg.Process(1)
	if _, found, _ := reg.Handle(p, 5); found {
		t.Error("slot 5 is outside of the configured table")
	}
}

func TestTidDeclaredUnsigned(t *testing.T) {
	k, _ := buildKernel(t)
	k.Redeclare("task", "tid", kmem.KindUint)
	k.Redeclare("process", "pid", kmem.KindUint)
	reg, err := kernel.NewRegistry(k.Image(), k.Root, 0)
	if err != nil {
		t.Fatal(err)
	}
	task, found, err := reg.Task(7)
	if err != nil || !found {
		t.Fatalf("Task(7): found %v err %v", found, err)
	}
	if task.Tid != 7 || task.Pid != 4 {
		t.Errorf("wrong task %#v", task)
	}
}

func TestTidDeclaredAsString(t *testing.T) {
	k, _ := buildKernel(t)
	k.Redeclare("task", "tid", kmem.KindChars)
	reg, err := kernel.NewRegistry(k.Image(), k.Root, 0)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := reg.AllTasks(); !kmem.IsLookupFailure(err) {
		t.Errorf("expected a lookup failure, got %v", err)
	}
}
