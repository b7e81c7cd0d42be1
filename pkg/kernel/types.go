// Package kernel reconstructs the task and process registry of the
// inspected kernel: tasks reachable from the tid tree, their processes,
// the children lists and the per process handle tables.
package kernel

import (
	"github.com/kview-dev/kview/pkg/kmem"
)

// Structure names used by the registry.
const (
	TaskType    = "task"
	ProcessType = "process"
	HandleType  = "fs_handle_base"
)

// KernelProcessLiteral is how the process of kernel threads (pid 0) is
// shown in place of its address.
const KernelProcessLiteral = "<kernel_process_pi>"

// Task is a snapshot of a struct task.
type Task struct {
	Addr  kmem.Addr
	Tid   int
	State int64
	// StateName is the task_state enumerator name, or the decimal value if
	// the enumeration does not know it.
	StateName string
	// Proc is the address of the owning process and Pid its pid.
	Proc kmem.Addr
	Pid  int
	// Wobj is the address of the wait object embedded in the task.
	Wobj kmem.Addr
	// Regs is the address of the saved register frame, 0 if none.
	Regs kmem.Addr
}

// IsMainThread returns true if t is the main thread of its process.
func (t *Task) IsMainThread() bool {
	return t.Tid == t.Pid
}

// IsKernelThread returns true if t belongs to the kernel process.
func (t *Task) IsKernelThread() bool {
	return t.Pid == 0
}

// Process is a snapshot of a struct process.
type Process struct {
	Addr      kmem.Addr
	Pid       int
	ParentPid int
	Pgid      int
	Sid       int

	Brk        kmem.Addr
	InitialBrk kmem.Addr

	Cmdline string
	Cwd     string

	DidCallExecve     bool
	Vforked           bool
	InheritedMmapHeap bool
}

// Handle is a snapshot of the common part of an open handle.
type Handle struct {
	Addr kmem.Addr
	// Proc is the owning process.
	Proc kmem.Addr
	// Fs is the filesystem providing the resource.
	Fs        kmem.Addr
	FdFlags   int
	FlFlags   int
	SpecFlags int
	Pos       int64
}
