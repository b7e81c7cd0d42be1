package view

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/kview-dev/kview/pkg/kernel"
	"github.com/kview-dev/kview/pkg/kmem"
	"github.com/kview-dev/kview/pkg/regs"
	"github.com/kview-dev/kview/pkg/wobj"
)

// Env holds what the kernel object renderers read from.
type Env struct {
	Kernel *kernel.Registry
	Wobj   *wobj.Decoder
	Regs   *regs.Decoder
}

// NewKernelRegistry returns a registry with renderers for every kernel
// object kind.
func NewKernelRegistry(env *Env) *Registry {
	reg := NewRegistry()
	reg.Register(KindTask, taskRenderer{Env: env})
	reg.Register(KindProcess, processRenderer{Env: env})
	reg.Register(KindHandle, handleRenderer{Env: env})
	reg.Register(KindWaitObj, waitObjRenderer{Env: env})
	reg.Register(KindWaiter, waiterRenderer{Env: env})
	reg.Register(KindWaiterElem, waiterElemRenderer{Env: env})
	reg.Register(KindRegs, regsRenderer{Env: env})
	return reg
}

// identity is the Identity method shared by all kernel renderers.
type identity struct{}

func (identity) Identity(ref Ref) string {
	return ref.String()
}

func literal(name, value string) Field {
	return Field{Name: name, Value: value}
}

func nested(name string, kind Kind, addr kmem.Addr) Field {
	return Field{Name: name, Ref: &Ref{Kind: kind, Addr: addr}}
}

func quote(s string) string {
	return "'" + s + "'"
}

func list(v []int) string {
	if len(v) == 0 {
		return "{ }"
	}
	s := make([]string, len(v))
	for i := range v {
		s[i] = strconv.Itoa(v[i])
	}
	return "{ " + strings.Join(s, ", ") + " }"
}

// ProcessLiteral returns how a task's process is shown: its identity or,
// for kernel threads, KernelProcessLiteral.
func ProcessLiteral(task *kernel.Task) string {
	if task.IsKernelThread() {
		return kernel.KernelProcessLiteral
	}
	return Ref{Kind: KindProcess, Addr: task.Proc}.String()
}

type taskRenderer struct {
	identity
	*Env
}

func (r taskRenderer) Fields(ref Ref) ([]Field, error) {
	task, err := kernel.ReadTask(r.Kernel.Target(), ref.Addr)
	if err != nil {
		return nil, err
	}
	fields := []Field{
		literal("tid", strconv.Itoa(task.Tid)),
		literal("pid", strconv.Itoa(task.Pid)),
		literal("state", task.StateName),
		literal("pi", ProcessLiteral(task)),
		nested("wobj", KindWaitObj, task.Wobj),
	}
	if task.Regs != 0 {
		fields = append(fields, nested("state_regs", KindRegs, task.Regs))
	}
	return fields, nil
}

type processRenderer struct {
	identity
	*Env
}

func (r processRenderer) Fields(ref Ref) ([]Field, error) {
	p, err := kernel.ReadProcess(r.Kernel.Target(), ref.Addr)
	if err != nil {
		return nil, err
	}
	children, err := r.Kernel.Children(p)
	if err != nil {
		return nil, err
	}
	// children are main threads: their tid is the child's pid
	pids := make([]int, len(children))
	for i, c := range children {
		pids[i] = c.Tid
	}
	handles, err := r.Kernel.Handles(p)
	if err != nil {
		return nil, err
	}
	return []Field{
		literal("pid", strconv.Itoa(p.Pid)),
		literal("cmdline", quote(p.Cmdline)),
		literal("parent_pid", strconv.Itoa(p.ParentPid)),
		literal("pgid", strconv.Itoa(p.Pgid)),
		literal("sid", strconv.Itoa(p.Sid)),
		literal("brk", p.Brk.String()),
		literal("initial_brk", p.InitialBrk.String()),
		literal("children", list(pids)),
		literal("did_call_execve", strconv.FormatBool(p.DidCallExecve)),
		literal("vforked", strconv.FormatBool(p.Vforked)),
		literal("inherited_mmap_heap", strconv.FormatBool(p.InheritedMmapHeap)),
		literal("str_cwd", quote(p.Cwd)),
		literal("handles", list(handles)),
	}, nil
}

type handleRenderer struct {
	identity
	*Env
}

func (r handleRenderer) Fields(ref Ref) ([]Field, error) {
	h, err := kernel.ReadHandle(r.Kernel.Target(), ref.Addr)
	if err != nil {
		return nil, err
	}
	return []Field{
		literal("pi", Ref{Kind: KindProcess, Addr: h.Proc}.String()),
		literal("fs", h.Fs.String()),
		literal("fd_flags", fmt.Sprintf("%#x", h.FdFlags)),
		literal("fl_flags", fmt.Sprintf("%#x", h.FlFlags)),
		literal("spec_flags", fmt.Sprintf("%#x", h.SpecFlags)),
		literal("pos", strconv.FormatInt(h.Pos, 10)),
	}, nil
}

type regsRenderer struct {
	identity
	*Env
}

func (r regsRenderer) Fields(ref Ref) ([]Field, error) {
	rf, err := r.Regs.Decode(ref.Addr)
	if err != nil {
		return nil, err
	}
	fields := make([]Field, len(rf))
	for i := range rf {
		fields[i] = literal(rf[i].Name, rf[i].Value)
	}
	return fields, nil
}
