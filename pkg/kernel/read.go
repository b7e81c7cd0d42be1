package kernel

import (
	"strconv"
	"strings"

	"github.com/kview-dev/kview/pkg/kmem"
)

// fieldReader reads several fields of the same object, keeping the first
// error.
type fieldReader struct {
	t    kmem.Target
	addr kmem.Addr
	typ  string
	err  error
}

func (r *fieldReader) read(field string) kmem.Value {
	if r.err != nil {
		return kmem.Value{}
	}
	v, err := r.t.ReadField(r.addr, r.typ, field)
	if err != nil {
		r.err = err
	}
	return v
}

// integer reads a field that must be an integer of either signedness.
func (r *fieldReader) integer(field string) kmem.Value {
	if r.err != nil {
		return kmem.Value{}
	}
	v, err := kmem.ReadInteger(r.t, r.addr, r.typ, field)
	if err != nil {
		r.err = err
	}
	return v
}

func (r *fieldReader) int(field string) int {
	return int(r.integer(field).Int64())
}

func (r *fieldReader) ptr(field string) kmem.Addr {
	return r.integer(field).Pointer()
}

func (r *fieldReader) bool(field string) bool {
	return r.integer(field).Bool()
}

func (r *fieldReader) str(field string) string {
	return r.read(field).Str
}

// ReadTask reads the task at addr.
func ReadTask(t kmem.Target, addr kmem.Addr) (*Task, error) {
	r := &fieldReader{t: t, addr: addr, typ: TaskType}
	task := &Task{
		Addr: addr,
		Tid:  r.int("tid"),
		Proc: r.ptr("pi"),
		Regs: r.ptr("state_regs"),
	}
	state := r.integer("state")
	wobj := r.read("wobj")
	if r.err != nil {
		return nil, r.err
	}
	task.State = state.Int64()
	task.StateName = enumName(t, state)
	task.Wobj = wobj.Addr

	if task.Proc != 0 {
		pid, err := kmem.ReadInteger(t, task.Proc, ProcessType, "pid")
		if err != nil {
			return nil, err
		}
		task.Pid = int(pid.Int64())
	}
	return task, nil
}

// ReadProcess reads the process at addr.
func ReadProcess(t kmem.Target, addr kmem.Addr) (*Process, error) {
	r := &fieldReader{t: t, addr: addr, typ: ProcessType}
	p := &Process{
		Addr:              addr,
		Pid:               r.int("pid"),
		ParentPid:         r.int("parent_pid"),
		Pgid:              r.int("pgid"),
		Sid:               r.int("sid"),
		Brk:               r.ptr("brk"),
		InitialBrk:        r.ptr("initial_brk"),
		Cmdline:           strings.TrimRight(r.str("debug_cmdline"), " \t\n"),
		Cwd:               r.str("str_cwd"),
		DidCallExecve:     r.bool("did_call_execve"),
		Vforked:           r.bool("vforked"),
		InheritedMmapHeap: r.bool("inherited_mmap_heap"),
	}
	if r.err != nil {
		return nil, r.err
	}
	return p, nil
}

// ReadHandle reads the handle at addr.
func ReadHandle(t kmem.Target, addr kmem.Addr) (*Handle, error) {
	r := &fieldReader{t: t, addr: addr, typ: HandleType}
	h := &Handle{
		Addr:      addr,
		Proc:      r.ptr("pi"),
		Fs:        r.ptr("fs"),
		FdFlags:   r.int("fd_flags"),
		FlFlags:   r.int("fl_flags"),
		SpecFlags: r.int("spec_flags"),
		Pos:       r.integer("pos").Int64(),
	}
	if r.err != nil {
		return nil, r.err
	}
	return h, nil
}

func enumName(t kmem.Target, v kmem.Value) string {
	if name, ok := t.EnumName(v.Type, v.Int64()); ok {
		return name
	}
	return strconv.FormatInt(v.Int64(), 10)
}
