// Package starbind runs Starlark scripts against a query session.
package starbind

import (
	"context"
	"fmt"
	"io"
	"os"
	"runtime"
	"sort"
	"strings"
	"sync"

	"go.starlark.net/resolve"
	"go.starlark.net/starlark"

	"github.com/kview-dev/kview/pkg/logflags"
	"github.com/kview-dev/kview/pkg/query"
)

const (
	queryBuiltinName     = "query"
	tasksBuiltinName     = "tasks"
	taskBuiltinName      = "task"
	procBuiltinName      = "proc"
	procsBuiltinName     = "procs"
	readFileBuiltinName  = "read_file"
	writeFileBuiltinName = "write_file"
	helpBuiltinName      = "help"
	kviewContextName     = "kview_context"
)

func init() {
	resolve.AllowSet = true
	resolve.AllowRecursion = true
	resolve.AllowGlobalReassign = true
}

// Env is the environment used to evaluate starlark scripts.
type Env struct {
	env       starlark.StringDict
	doc       map[string]string
	contextMu sync.Mutex
	thread    *starlark.Thread
	cancelfn  context.CancelFunc

	s   *query.Session
	out io.Writer
	log logflags.Logger
}

type builtinFn func(env *Env, thread *starlark.Thread, args starlark.Tuple) (starlark.Value, error)

// New creates a new starlark binding environment.
func New(s *query.Session, out io.Writer) *Env {
	env := &Env{
		env: starlark.StringDict{},
		doc: map[string]string{},
		s:   s,
		out: out,
		log: logflags.StarlarkLogger(),
	}

	env.builtin(queryBuiltinName, "(Command)", "executes a command and returns its result: a list of summary lines, a node or None if the object does not exist.", queryBuiltin)
	env.builtin(tasksBuiltinName, "()", "returns all tasks, sorted by tid.", tasksBuiltin)
	env.builtin(taskBuiltinName, "(Tid)", "returns the task with the given tid or None.", taskBuiltin)
	env.builtin(procsBuiltinName, "()", "returns all processes, sorted by pid.", procsBuiltin)
	env.builtin(procBuiltinName, "(Pid)", "returns the process with the given pid or None.", procBuiltin)
	env.builtin(readFileBuiltinName, "(Path)", "reads a file.", readFileBuiltin)
	env.builtin(writeFileBuiltinName, "(Path, Text)", "writes text to the specified file.", writeFileBuiltin)
	env.builtin(helpBuiltinName, "(Object)", "prints help for Object.", helpBuiltin)
	return env
}

func (env *Env) builtin(name, args, descr string, fn builtinFn) {
	env.env[name] = starlark.NewBuiltin(name, func(thread *starlark.Thread, _ *starlark.Builtin, targs starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
		if err := isCancelled(thread); err != nil {
			return starlark.None, err
		}
		if len(kwargs) > 0 {
			return nil, decorateError(thread, fmt.Errorf("%s does not accept keyword arguments", name))
		}
		v, err := fn(env, thread, targs)
		if err != nil {
			return nil, decorateError(thread, err)
		}
		return v, nil
	})
	env.doc[name] = name + args + "\n\n" + name + " " + descr
}

// Redirect redirects starlark output to out.
func (env *Env) Redirect(out io.Writer) {
	env.out = out
	if env.thread != nil {
		env.thread.Print = env.printFunc()
	}
}

func (env *Env) printFunc() func(_ *starlark.Thread, msg string) {
	return func(_ *starlark.Thread, msg string) { fmt.Fprintln(env.out, msg) }
}

// Execute executes a script. Path is the name of the file to execute and
// source is the source code to execute.
// Source can be either a []byte, a string or a io.Reader. If source is nil
// Execute will execute the file specified by 'path'.
// After the file is executed if a function named mainFnName exists it will be called, passing args to it.
func (env *Env) Execute(path string, source interface{}, mainFnName string, args []string) (_ starlark.Value, _err error) {
	defer func() {
		err := recover()
		if err == nil {
			return
		}
		_err = fmt.Errorf("panic executing starlark script: %v", err)
		fmt.Fprintf(env.out, "panic executing starlark script: %v\n", err)
		for i := 0; ; i++ {
			pc, file, line, ok := runtime.Caller(i)
			if !ok {
				break
			}
			fname := "<unknown>"
			fn := runtime.FuncForPC(pc)
			if fn != nil {
				fname = fn.Name()
			}
			fmt.Fprintf(env.out, "%s\n\tin %s:%d\n", fname, file, line)
		}
	}()

	env.log.Debugf("executing %s", path)
	thread := env.newThread()
	globals, err := starlark.ExecFile(thread, path, source, env.env)
	if err != nil {
		return starlark.None, err
	}

	// globals starting with a capital letter are visible to later scripts
	for name, val := range globals {
		if name[0] >= 'A' && name[0] <= 'Z' {
			env.env[name] = val
		}
	}

	return env.callMain(thread, globals, mainFnName, args)
}

// Cancel cancels the execution of a currently running script or function.
func (env *Env) Cancel() {
	if env == nil {
		return
	}
	env.contextMu.Lock()
	if env.cancelfn != nil {
		env.cancelfn()
		env.cancelfn = nil
	}
	if env.thread != nil {
		env.thread.Cancel("user interrupt")
	}
	env.contextMu.Unlock()
}

func (env *Env) newThread() *starlark.Thread {
	thread := &starlark.Thread{
		Print: env.printFunc(),
	}
	env.contextMu.Lock()
	var ctx context.Context
	ctx, env.cancelfn = context.WithCancel(context.Background())
	env.thread = thread
	env.contextMu.Unlock()
	thread.SetLocal(kviewContextName, ctx)
	return thread
}

// callMain calls the main function in globals, if one was defined.
func (env *Env) callMain(thread *starlark.Thread, globals starlark.StringDict, mainFnName string, args []string) (starlark.Value, error) {
	if mainFnName == "" {
		return starlark.None, nil
	}
	mainval := globals[mainFnName]
	if mainval == nil {
		return starlark.None, nil
	}
	mainfn, ok := mainval.(*starlark.Function)
	if !ok {
		return starlark.None, fmt.Errorf("%s is not a function", mainFnName)
	}
	if mainfn.NumParams() != len(args) {
		return starlark.None, fmt.Errorf("wrong number of arguments for %s", mainFnName)
	}
	argtuple := make(starlark.Tuple, len(args))
	for i := range args {
		argtuple[i] = starlark.String(args[i])
	}
	return starlark.Call(thread, mainfn, argtuple, nil)
}

func isCancelled(thread *starlark.Thread) error {
	if ctx, ok := thread.Local(kviewContextName).(context.Context); ok {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
	}
	return nil
}

func decorateError(thread *starlark.Thread, err error) error {
	if err == nil {
		return nil
	}
	pos := thread.CallFrame(1).Pos
	if pos.Col > 0 {
		return fmt.Errorf("%s:%d:%d: %v", pos.Filename(), pos.Line, pos.Col, err)
	}
	return fmt.Errorf("%s:%d: %v", pos.Filename(), pos.Line, err)
}

func readFileBuiltin(env *Env, thread *starlark.Thread, args starlark.Tuple) (starlark.Value, error) {
	if len(args) != 1 {
		return nil, fmt.Errorf("wrong number of arguments")
	}
	path, ok := args[0].(starlark.String)
	if !ok {
		return nil, fmt.Errorf("argument of read_file was not a string")
	}
	buf, err := os.ReadFile(string(path))
	if err != nil {
		return nil, err
	}
	return starlark.String(string(buf)), nil
}

func writeFileBuiltin(env *Env, thread *starlark.Thread, args starlark.Tuple) (starlark.Value, error) {
	if len(args) != 2 {
		return nil, fmt.Errorf("wrong number of arguments")
	}
	path, ok := args[0].(starlark.String)
	if !ok {
		return nil, fmt.Errorf("first argument of write_file was not a string")
	}
	text := args[1].String()
	if s, ok := args[1].(starlark.String); ok {
		text = string(s)
	}
	return starlark.None, os.WriteFile(string(path), []byte(text), 0640)
}

func helpBuiltin(env *Env, thread *starlark.Thread, args starlark.Tuple) (starlark.Value, error) {
	switch len(args) {
	case 0:
		fmt.Fprintln(env.out, "Available builtins:")
		bins := make([]string, 0, len(env.env))
		for name, value := range env.env {
			if _, ok := value.(*starlark.Builtin); ok {
				bins = append(bins, name)
			}
		}
		sort.Strings(bins)
		fmt.Fprintf(env.out, "\t%s\n", strings.Join(bins, "\n\t"))
	case 1:
		switch x := args[0].(type) {
		case *starlark.Builtin:
			if env.doc[x.Name()] != "" {
				fmt.Fprintf(env.out, "%s\n", env.doc[x.Name()])
			} else {
				fmt.Fprintf(env.out, "no help for builtin %s\n", x.Name())
			}
		case *starlark.Function:
			fmt.Fprintf(env.out, "user defined function %s\n", x.Name())
			if doc := x.Doc(); doc != "" {
				fmt.Fprintln(env.out, doc)
			}
		default:
			fmt.Fprintf(env.out, "no help for object of type %T\n", args[0])
		}
	default:
		fmt.Fprintln(env.out, "wrong number of arguments ", len(args))
	}
	return starlark.None, nil
}
