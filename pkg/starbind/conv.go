package starbind

import (
	"fmt"

	"go.starlark.net/starlark"
	"go.starlark.net/starlarkstruct"

	"github.com/kview-dev/kview/pkg/kernel"
	"github.com/kview-dev/kview/pkg/view"
)

func intArg(args starlark.Tuple, name string) (int, error) {
	if len(args) != 1 {
		return 0, fmt.Errorf("wrong number of arguments")
	}
	var n int
	if err := starlark.AsInt(args[0], &n); err != nil {
		return 0, fmt.Errorf("%s: %v", name, err)
	}
	return n, nil
}

func taskValue(t *kernel.Task) starlark.Value {
	return starlarkstruct.FromStringDict(starlark.String("task"), starlark.StringDict{
		"addr":  starlark.MakeUint64(uint64(t.Addr)),
		"tid":   starlark.MakeInt(t.Tid),
		"pid":   starlark.MakeInt(t.Pid),
		"state": starlark.String(t.StateName),
		"proc":  starlark.MakeUint64(uint64(t.Proc)),
		"regs":  starlark.MakeUint64(uint64(t.Regs)),
	})
}

func processValue(p *kernel.Process) starlark.Value {
	return starlarkstruct.FromStringDict(starlark.String("process"), starlark.StringDict{
		"addr":       starlark.MakeUint64(uint64(p.Addr)),
		"pid":        starlark.MakeInt(p.Pid),
		"parent_pid": starlark.MakeInt(p.ParentPid),
		"pgid":       starlark.MakeInt(p.Pgid),
		"sid":        starlark.MakeInt(p.Sid),
		"cmdline":    starlark.String(p.Cmdline),
		"cwd":        starlark.String(p.Cwd),
	})
}

// nodeValue converts a rendered node to a struct with an identity and an
// ordered dictionary of fields. Nested nodes are converted recursively.
func nodeValue(n *view.Node) (starlark.Value, error) {
	fields := starlark.NewDict(len(n.Fields))
	for _, f := range n.Fields {
		var v starlark.Value = starlark.String(f.Value)
		if f.Node != nil {
			var err error
			v, err = nodeValue(f.Node)
			if err != nil {
				return nil, err
			}
		}
		if err := fields.SetKey(starlark.String(f.Name), v); err != nil {
			return nil, err
		}
	}
	return starlarkstruct.FromStringDict(starlark.String("node"), starlark.StringDict{
		"identity": starlark.String(n.Identity),
		"fields":   fields,
	}), nil
}

func stringList(s []string) *starlark.List {
	elems := make([]starlark.Value, len(s))
	for i := range s {
		elems[i] = starlark.String(s[i])
	}
	return starlark.NewList(elems)
}

func queryBuiltin(env *Env, thread *starlark.Thread, args starlark.Tuple) (starlark.Value, error) {
	if len(args) != 1 {
		return nil, fmt.Errorf("wrong number of arguments")
	}
	cmd, ok := args[0].(starlark.String)
	if !ok {
		return nil, fmt.Errorf("argument of query is not a string")
	}
	r, err := env.s.Execute(string(cmd))
	if err != nil {
		return nil, err
	}
	switch {
	case r.NotFound:
		return starlark.None, nil
	case r.Node != nil:
		return nodeValue(r.Node)
	}
	return stringList(r.Summaries), nil
}

func tasksBuiltin(env *Env, thread *starlark.Thread, args starlark.Tuple) (starlark.Value, error) {
	if len(args) != 0 {
		return nil, fmt.Errorf("wrong number of arguments")
	}
	tasks, err := env.s.Kernel().AllTasks()
	if err != nil {
		return nil, err
	}
	elems := make([]starlark.Value, len(tasks))
	for i := range tasks {
		elems[i] = taskValue(tasks[i])
	}
	return starlark.NewList(elems), nil
}

func taskBuiltin(env *Env, thread *starlark.Thread, args starlark.Tuple) (starlark.Value, error) {
	tid, err := intArg(args, "tid")
	if err != nil {
		return nil, err
	}
	t, found, err := env.s.Kernel().Task(tid)
	if err != nil || !found {
		return starlark.None, err
	}
	return taskValue(t), nil
}

func procsBuiltin(env *Env, thread *starlark.Thread, args starlark.Tuple) (starlark.Value, error) {
	if len(args) != 0 {
		return nil, fmt.Errorf("wrong number of arguments")
	}
	procs, err := env.s.Kernel().Processes()
	if err != nil {
		return nil, err
	}
	elems := make([]starlark.Value, len(procs))
	for i := range procs {
		elems[i] = processValue(procs[i])
	}
	return starlark.NewList(elems), nil
}

func procBuiltin(env *Env, thread *starlark.Thread, args starlark.Tuple) (starlark.Value, error) {
	pid, err := intArg(args, "pid")
	if err != nil {
		return nil, err
	}
	p, found, err := env.s.Kernel().Process(pid)
	if err != nil || !found {
		return starlark.None, err
	}
	return processValue(p), nil
}
