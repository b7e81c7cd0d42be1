package kernel

import (
	"fmt"
	"sort"

	"github.com/kview-dev/kview/pkg/intrusive"
	"github.com/kview-dev/kview/pkg/kmem"
	"github.com/kview-dev/kview/pkg/logflags"
)

// DefaultTidTreeRoot is the name of the kernel variable pointing to the
// root of the tid tree.
const DefaultTidTreeRoot = "tree_by_tid_root"

// Registry answers queries about the tasks and processes of the inspected
// kernel. Nothing is cached: every call reads the snapshot again.
//
// Lookups return a found flag. A missing tid, pid or handle is reported
// with found == false and a nil error; errors are reserved for layout
// mismatches and unreadable memory.
type Registry struct {
	t          kmem.Target
	root       kmem.Addr
	maxHandles int
	log        logflags.Logger
}

// NewRegistry returns a registry for t. Root is the address of the
// variable holding the tid tree root. MaxHandles is the size of the
// handle table; it is clamped to the length of process.handles and, if
// zero, defaults to it.
func NewRegistry(t kmem.Target, root kmem.Addr, maxHandles int) (*Registry, error) {
	r := &Registry{t: t, root: root, log: logflags.KernelLogger()}
	s, err := t.Layout(ProcessType)
	if err != nil {
		return nil, err
	}
	f, ok := s.Field("handles")
	if !ok {
		return nil, &kmem.LookupError{What: "field", Name: ProcessType + ".handles"}
	}
	if f.Kind != kmem.KindArray {
		return nil, fmt.Errorf("%s.handles: %w", ProcessType, kmem.ErrNotArray)
	}
	switch {
	case maxHandles <= 0:
		maxHandles = f.Count
	case f.Count > 0 && maxHandles > f.Count:
		r.log.Warnf("max handles %d larger than the handle table, using %d", maxHandles, f.Count)
		maxHandles = f.Count
	}
	r.maxHandles = maxHandles
	return r, nil
}

// Target returns the target the registry reads from.
func (r *Registry) Target() kmem.Target {
	return r.t
}

// MaxHandles returns the size of the handle table.
func (r *Registry) MaxHandles() int {
	return r.maxHandles
}

// AllTasks returns every task reachable from the tid tree, sorted by tid.
func (r *Registry) AllTasks() ([]*Task, error) {
	root, err := kmem.ReadPointer(r.t, r.root)
	if err != nil {
		return nil, fmt.Errorf("reading tid tree root: %w", err)
	}
	addrs, err := intrusive.Tree(r.t, root, intrusive.BintreeSpec(TaskType, "tree_by_tid_node"))
	if err != nil {
		return nil, err
	}
	tasks := make([]*Task, 0, len(addrs))
	for _, addr := range addrs {
		task, err := ReadTask(r.t, addr)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, task)
	}
	sort.Slice(tasks, func(i, j int) bool {
		return tasks[i].Tid < tasks[j].Tid
	})
	r.log.Debugf("%d tasks in the tid tree", len(tasks))
	return tasks, nil
}

// Task returns the task with the given tid.
func (r *Registry) Task(tid int) (*Task, bool, error) {
	tasks, err := r.AllTasks()
	if err != nil {
		return nil, false, err
	}
	for _, task := range tasks {
		if task.Tid == tid {
			return task, true, nil
		}
	}
	return nil, false, nil
}

// Process returns the process with the given pid, found through any of its
// tasks.
func (r *Registry) Process(pid int) (*Process, bool, error) {
	tasks, err := r.AllTasks()
	if err != nil {
		return nil, false, err
	}
	for _, task := range tasks {
		if task.Proc != 0 && task.Pid == pid {
			p, err := ReadProcess(r.t, task.Proc)
			if err != nil {
				return nil, false, err
			}
			return p, true, nil
		}
	}
	return nil, false, nil
}

// Processes returns one process per main thread, sorted by pid.
func (r *Registry) Processes() ([]*Process, error) {
	tasks, err := r.AllTasks()
	if err != nil {
		return nil, err
	}
	var procs []*Process
	for _, task := range tasks {
		if task.Proc == 0 || !task.IsMainThread() {
			continue
		}
		p, err := ReadProcess(r.t, task.Proc)
		if err != nil {
			return nil, err
		}
		procs = append(procs, p)
	}
	return procs, nil
}

// Children returns the main threads of the immediate children of p, in
// the order they appear in its children list.
func (r *Registry) Children(p *Process) ([]*Task, error) {
	head, err := r.t.ReadField(p.Addr, ProcessType, "children")
	if err != nil {
		return nil, err
	}
	addrs, err := intrusive.List(r.t, head.Addr, TaskType, "siblings_node")
	if err != nil {
		return nil, err
	}
	children := make([]*Task, 0, len(addrs))
	for _, addr := range addrs {
		task, err := ReadTask(r.t, addr)
		if err != nil {
			return nil, err
		}
		children = append(children, task)
	}
	return children, nil
}

func (r *Registry) handleTable(p *Process) (kmem.Value, error) {
	return r.t.ReadField(p.Addr, ProcessType, "handles")
}

// Handles returns the indices of the occupied slots of p's handle table.
func (r *Registry) Handles(p *Process) ([]int, error) {
	table, err := r.handleTable(p)
	if err != nil {
		return nil, err
	}
	var slots []int
	for i := 0; i < r.maxHandles; i++ {
		v, err := r.t.ReadIndex(table, i)
		if err != nil {
			return nil, err
		}
		if v.Pointer() != 0 {
			slots = append(slots, i)
		}
	}
	return slots, nil
}

// Handle returns the handle in slot n of p's handle table.
func (r *Registry) Handle(p *Process, n int) (*Handle, bool, error) {
	if n < 0 || n >= r.maxHandles {
		return nil, false, nil
	}
	table, err := r.handleTable(p)
	if err != nil {
		return nil, false, err
	}
	v, err := r.t.ReadIndex(table, n)
	if err != nil {
		return nil, false, err
	}
	if v.Pointer() == 0 {
		return nil, false, nil
	}
	h, err := ReadHandle(r.t, v.Pointer())
	if err != nil {
		return nil, false, err
	}
	return h, true, nil
}

// HandleIndex returns the slot of p's handle table holding handle.
func (r *Registry) HandleIndex(p *Process, handle kmem.Addr) (int, bool, error) {
	if handle == 0 {
		return 0, false, nil
	}
	table, err := r.handleTable(p)
	if err != nil {
		return 0, false, err
	}
	for i := r.maxHandles - 1; i >= 0; i-- {
		v, err := r.t.ReadIndex(table, i)
		if err != nil {
			return 0, false, err
		}
		if v.Pointer() == handle {
			return i, true, nil
		}
	}
	return 0, false, nil
}
