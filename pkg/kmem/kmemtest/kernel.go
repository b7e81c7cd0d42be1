package kmemtest

import (
	"fmt"

	"github.com/kview-dev/kview/pkg/kmem"
)

// TidTreeRoot is the name of the symbol holding the root of the tid tree.
const TidTreeRoot = "tree_by_tid_root"

// Kernel builds a synthetic task registry: processes, threads, the tid
// tree and the children lists.
type Kernel struct {
	*Builder

	// Root is the address of the tid tree root variable.
	Root kmem.Addr

	tasks map[int]kmem.Addr
	procs map[int]kmem.Addr
}

// NewKernel returns an empty kernel: the tid tree root is NULL.
func NewKernel() *Kernel {
	b := NewBuilder()
	root := b.AllocBytes(b.Layouts.PointerSize)
	b.Symbol(TidTreeRoot, root, uint64(b.Layouts.PointerSize))
	return &Kernel{
		Builder: b,
		Root:    root,
		tasks:   make(map[int]kmem.Addr),
		procs:   make(map[int]kmem.Addr),
	}
}

// NewProcess creates a process with pid and its main thread, links the
// main thread into the children list of the parent process (if it exists)
// and inserts it in the tid tree.
func (k *Kernel) NewProcess(pid, parentPid int, cmdline string) (task, proc kmem.Addr) {
	proc = k.Alloc("process")
	k.Set(proc, "process", "pid", uint64(pid))
	k.Set(proc, "process", "parent_pid", uint64(parentPid))
	k.Set(proc, "process", "pgid", uint64(pid))
	k.Set(proc, "process", "sid", uint64(pid))
	k.ListInit(k.FieldAddr(proc, "process", "children"))
	if cmdline != "" {
		k.SetString(proc, "process", "debug_cmdline", cmdline)
	}
	k.SetString(proc, "process", "str_cwd", "/")
	k.procs[pid] = proc

	task = k.newTask(pid, proc)
	if parent, ok := k.procs[parentPid]; ok && parentPid != pid {
		k.ListAddTail(k.FieldAddr(parent, "process", "children"), k.FieldAddr(task, "task", "siblings_node"))
	}
	return task, proc
}

// NewThread creates an additional thread of process pid.
func (k *Kernel) NewThread(pid, tid int) kmem.Addr {
	proc, ok := k.procs[pid]
	if !ok {
		panic(fmt.Sprintf("kmemtest: no process %d", pid))
	}
	return k.newTask(tid, proc)
}

func (k *Kernel) newTask(tid int, proc kmem.Addr) kmem.Addr {
	if _, dup := k.tasks[tid]; dup {
		panic(fmt.Sprintf("kmemtest: duplicate tid %d", tid))
	}
	task := k.Alloc("task")
	k.Set(task, "task", "tid", uint64(tid))
	k.Set(task, "task", "pi", uint64(proc))
	k.Set(task, "task", "state", 1)
	k.ListInit(k.FieldAddr(task, "task", "siblings_node"))
	k.ListInit(k.FieldAddr(task, "task", "wobj.wait_list_node"))
	k.tasks[tid] = task
	k.insert(task, tid)
	return task
}

// insert adds task to the tid tree, as an unbalanced binary search tree.
func (k *Kernel) insert(task kmem.Addr, tid int) {
	link := k.Root
	cur := kmem.Addr(k.get(link, k.Layouts.PointerSize))
	for cur != 0 {
		node := k.FieldAddr(cur, "task", "tree_by_tid_node")
		if tid < int(int32(k.Get(cur, "task", "tid"))) {
			link = k.FieldAddr(node, "bintree_node", "left_obj")
		} else {
			link = k.FieldAddr(node, "bintree_node", "right_obj")
		}
		cur = kmem.Addr(k.get(link, k.Layouts.PointerSize))
	}
	k.PutPointer(link, task)
}

// Task returns the address of the task with the given tid.
func (k *Kernel) Task(tid int) kmem.Addr {
	return k.tasks[tid]
}

// Proc returns the address of the process with the given pid.
func (k *Kernel) Proc(pid int) kmem.Addr {
	return k.procs[pid]
}

// NewHandle installs a new handle in slot n of process pid.
func (k *Kernel) NewHandle(pid, n int, pos int64) kmem.Addr {
	proc := k.procs[pid]
	h := k.Alloc("fs_handle_base")
	k.Set(h, "fs_handle_base", "pi", uint64(proc))
	k.Set(h, "fs_handle_base", "fs", uint64(0xc0900000))
	k.Set(h, "fs_handle_base", "pos", uint64(pos))
	k.SetIndex(proc, "process", "handles", n, uint64(h))
	return h
}

// SetWait sets the wait object of a task.
func (k *Kernel) SetWait(task kmem.Addr, tag string, payload uint64) {
	v, err := k.Layouts.Constant(tag)
	if err != nil {
		panic(err)
	}
	k.Set(task, "task", "wobj.type", uint64(v))
	k.Set(task, "task", "wobj.__ptr", payload)
}

// WaitElem is one element of a multi object waiter.
type WaitElem struct {
	Tag     string
	Payload uint64
}

// NewWaiter allocates a multi_obj_waiter holding elems.
func (k *Kernel) NewWaiter(owner kmem.Addr, elems ...WaitElem) kmem.Addr {
	hdr, _ := k.Layouts.Struct("multi_obj_waiter")
	el, _ := k.Layouts.Struct("mwobj_elem")
	w := k.AllocBytes(int(hdr.Size + uint64(len(elems))*el.Size))
	k.Set(w, "multi_obj_waiter", "count", uint64(len(elems)))
	mwoElem, _ := k.Layouts.Constant("WOBJ_MWO_ELEM")
	base := k.FieldAddr(w, "multi_obj_waiter", "elems")
	for i, e := range elems {
		addr := base.Add(uint64(i) * el.Size)
		tag, err := k.Layouts.Constant(e.Tag)
		if err != nil {
			panic(err)
		}
		k.Set(addr, "mwobj_elem", "type", uint64(tag))
		k.Set(addr, "mwobj_elem", "ti", uint64(owner))
		k.Set(addr, "mwobj_elem", "wobj.type", uint64(mwoElem))
		k.Set(addr, "mwobj_elem", "wobj.__ptr", e.Payload)
	}
	return w
}

// NewRegs allocates a register frame for task and returns its address.
func (k *Kernel) NewRegs(task kmem.Addr) kmem.Addr {
	r := k.Alloc("x86_regs")
	k.Set(task, "task", "state_regs", uint64(r))
	return r
}

// Payload converts a signed wait object payload to the raw value stored in
// memory.
func Payload(v int64) uint64 {
	return uint64(v)
}
