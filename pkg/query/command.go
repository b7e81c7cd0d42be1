package query

import (
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/cosiner/argv"
	"github.com/derekparker/trie"

	"github.com/kview-dev/kview/pkg/kernel"
	"github.com/kview-dev/kview/pkg/view"
)

type cmdfunc func(s *Session, args []string) (*Result, error)

type command struct {
	aliases        []string
	builtinAliases []string
	usage          string
	helpMsg        string
	cmdFn          cmdfunc
}

func (c *command) name() string {
	return c.aliases[0]
}

// Returns true if the command string matches one of the aliases for this command
func (c *command) match(cmdstr string) bool {
	for _, v := range c.aliases {
		if v == cmdstr {
			return true
		}
	}
	return false
}

// Commands represents the commands a Session can execute.
type Commands struct {
	cmds  []*command
	names *trie.Trie
}

// DebugCommands returns the builtin command table.
func DebugCommands() *Commands {
	c := &Commands{}
	c.cmds = []*command{
		{aliases: []string{"list-tasks"}, usage: "list-tasks", cmdFn: listTasks, helpMsg: "Lists all tasks, sorted by tid."},
		{aliases: []string{"list-procs"}, usage: "list-procs", cmdFn: listProcs, helpMsg: "Lists all processes, sorted by pid."},
		{aliases: []string{"get-task"}, usage: "get-task <tid>", cmdFn: getTask, helpMsg: "Shows a task."},
		{aliases: []string{"get-proc"}, usage: "get-proc <pid>", cmdFn: getProc, helpMsg: "Shows a process."},
		{aliases: []string{"list-children"}, usage: "list-children <pid>", cmdFn: listChildren, helpMsg: "Lists the main threads of the children of a process."},
		{aliases: []string{"list-handles"}, usage: "list-handles <pid>", cmdFn: listHandles, helpMsg: "Lists the open handles of a process."},
		{aliases: []string{"get-handle"}, usage: "get-handle <pid> <n>", cmdFn: getHandle, helpMsg: "Shows handle n of a process."},
		{aliases: []string{"get-wobj"}, usage: "get-wobj <tid>", cmdFn: getWobj, helpMsg: "Shows what a task is waiting for."},
		{aliases: []string{"get-regs"}, usage: "get-regs <tid>", cmdFn: getRegs, helpMsg: "Shows the register frame saved for a task."},
		{aliases: []string{"list-cmds"}, usage: "list-cmds", cmdFn: listCmds, helpMsg: "Lists the available commands."},
	}
	c.index()
	return c
}

func (c *Commands) index() {
	c.names = trie.New()
	for _, cmd := range c.cmds {
		for _, alias := range cmd.aliases {
			c.names.Add(alias, cmd)
		}
	}
}

// Merge takes aliases defined in the config struct and merges them with
// the default aliases.
func (c *Commands) Merge(allAliases map[string][]string) error {
	for _, cmd := range c.cmds {
		if cmd.builtinAliases != nil {
			cmd.aliases = append(cmd.aliases[:0], cmd.builtinAliases...)
		}
	}
	for _, cmd := range c.cmds {
		aliases, ok := allAliases[cmd.name()]
		if !ok {
			continue
		}
		for _, alias := range aliases {
			for _, other := range c.cmds {
				if other != cmd && other.match(alias) {
					return fmt.Errorf("alias %q of %s conflicts with %s", alias, cmd.name(), other.name())
				}
			}
		}
		if cmd.builtinAliases == nil {
			cmd.builtinAliases = make([]string, len(cmd.aliases))
			copy(cmd.builtinAliases, cmd.aliases)
		}
		cmd.aliases = append(cmd.aliases, aliases...)
	}
	c.index()
	return nil
}

// Find returns the command named cmdstr, or the only command having a name
// or alias starting with cmdstr.
func (c *Commands) Find(cmdstr string) (*command, error) {
	if n, ok := c.names.Find(cmdstr); ok {
		return n.Meta().(*command), nil
	}
	var found []*command
	for _, key := range c.names.PrefixSearch(cmdstr) {
		n, ok := c.names.Find(key)
		if !ok {
			continue
		}
		cmd := n.Meta().(*command)
		dup := false
		for _, f := range found {
			if f == cmd {
				dup = true
				break
			}
		}
		if !dup {
			found = append(found, cmd)
		}
	}
	switch len(found) {
	case 0:
		return nil, &UnknownCommandError{Name: cmdstr}
	case 1:
		return found[0], nil
	}
	names := make([]string, len(found))
	for i := range found {
		names[i] = found[i].name()
	}
	sort.Strings(names)
	return nil, &UnknownCommandError{Name: cmdstr, Candidates: names}
}

// Names returns the names of all commands.
func (c *Commands) Names() []string {
	r := make([]string, len(c.cmds))
	for i := range c.cmds {
		r[i] = c.cmds[i].name()
	}
	return r
}

var (
	errPipe          = errors.New("pipes are not supported")
	errWrongArgCount = errors.New("wrong number of arguments")
)

// splitCommand splits a command line into the command name and its
// arguments, with shell quoting rules.
func splitCommand(line string) (string, []string, error) {
	v, err := argv.Argv(line,
		func(s string) (string, error) {
			return "", fmt.Errorf("backtick not supported in '%s'", s)
		},
		nil)
	if err != nil {
		return "", nil, err
	}
	if len(v) > 1 {
		return "", nil, errPipe
	}
	if len(v) == 0 || len(v[0]) == 0 {
		return "", nil, nil
	}
	return v[0][0], v[0][1:], nil
}

func (c *command) malformed(err error) error {
	return &MalformedInputError{Usage: c.usage, Err: err}
}

// intArgs parses exactly len(names) integer arguments.
func intArgs(s *Session, cmdname string, args []string, names ...string) ([]int, error) {
	cmd, err := s.cmds.Find(cmdname)
	if err != nil {
		return nil, err
	}
	if len(args) != len(names) {
		return nil, cmd.malformed(errWrongArgCount)
	}
	r := make([]int, len(args))
	for i, arg := range args {
		n, err := strconv.Atoi(arg)
		if err != nil {
			return nil, cmd.malformed(fmt.Errorf("%s must be an integer, got %q", names[i], arg))
		}
		r[i] = n
	}
	return r, nil
}

func noArgs(s *Session, cmdname string, args []string) error {
	_, err := intArgs(s, cmdname, args)
	return err
}

func notFound() (*Result, error) {
	return &Result{NotFound: true}, nil
}

func (s *Session) render(kind view.Kind, task *kernel.Task) (*Result, error) {
	addr := task.Addr
	switch kind {
	case view.KindWaitObj:
		addr = task.Wobj
	case view.KindRegs:
		if task.Regs == 0 {
			return notFound()
		}
		addr = task.Regs
	}
	n, err := s.view.Render(view.Ref{Kind: kind, Addr: addr})
	if err != nil {
		return nil, err
	}
	return &Result{Node: n}, nil
}

func listTasks(s *Session, args []string) (*Result, error) {
	if err := noArgs(s, "list-tasks", args); err != nil {
		return nil, err
	}
	tasks, err := s.kernel.AllTasks()
	if err != nil {
		return nil, err
	}
	r := &Result{Summaries: make([]string, 0, len(tasks))}
	for _, task := range tasks {
		r.Summaries = append(r.Summaries, view.TaskSummary(task))
	}
	return r, nil
}

func listProcs(s *Session, args []string) (*Result, error) {
	if err := noArgs(s, "list-procs", args); err != nil {
		return nil, err
	}
	procs, err := s.kernel.Processes()
	if err != nil {
		return nil, err
	}
	r := &Result{Summaries: make([]string, 0, len(procs))}
	for _, p := range procs {
		r.Summaries = append(r.Summaries, view.ProcessSummary(p))
	}
	return r, nil
}

func (s *Session) taskArg(cmdname string, args []string) (*kernel.Task, bool, error) {
	n, err := intArgs(s, cmdname, args, "tid")
	if err != nil {
		return nil, false, err
	}
	return s.kernel.Task(n[0])
}

func (s *Session) procArg(cmdname string, args []string, names ...string) (*kernel.Process, []int, bool, error) {
	n, err := intArgs(s, cmdname, args, append([]string{"pid"}, names...)...)
	if err != nil {
		return nil, nil, false, err
	}
	p, found, err := s.kernel.Process(n[0])
	return p, n[1:], found, err
}

func getTask(s *Session, args []string) (*Result, error) {
	task, found, err := s.taskArg("get-task", args)
	if err != nil || !found {
		return maybeNotFound(err)
	}
	return s.render(view.KindTask, task)
}

func getWobj(s *Session, args []string) (*Result, error) {
	task, found, err := s.taskArg("get-wobj", args)
	if err != nil || !found {
		return maybeNotFound(err)
	}
	return s.render(view.KindWaitObj, task)
}

func getRegs(s *Session, args []string) (*Result, error) {
	task, found, err := s.taskArg("get-regs", args)
	if err != nil || !found {
		return maybeNotFound(err)
	}
	return s.render(view.KindRegs, task)
}

func getProc(s *Session, args []string) (*Result, error) {
	p, _, found, err := s.procArg("get-proc", args)
	if err != nil || !found {
		return maybeNotFound(err)
	}
	n, err := s.view.Render(view.Ref{Kind: view.KindProcess, Addr: p.Addr})
	if err != nil {
		return nil, err
	}
	return &Result{Node: n}, nil
}

func listChildren(s *Session, args []string) (*Result, error) {
	p, _, found, err := s.procArg("list-children", args)
	if err != nil || !found {
		return maybeNotFound(err)
	}
	children, err := s.kernel.Children(p)
	if err != nil {
		return nil, err
	}
	r := &Result{Summaries: make([]string, 0, len(children))}
	for _, task := range children {
		r.Summaries = append(r.Summaries, view.TaskSummary(task))
	}
	return r, nil
}

func listHandles(s *Session, args []string) (*Result, error) {
	p, _, found, err := s.procArg("list-handles", args)
	if err != nil || !found {
		return maybeNotFound(err)
	}
	slots, err := s.kernel.Handles(p)
	if err != nil {
		return nil, err
	}
	r := &Result{Summaries: make([]string, 0, len(slots))}
	for _, n := range slots {
		h, found, err := s.kernel.Handle(p, n)
		if err != nil {
			return nil, err
		}
		if found {
			r.Summaries = append(r.Summaries, view.HandleSummary(n, h))
		}
	}
	return r, nil
}

func getHandle(s *Session, args []string) (*Result, error) {
	p, rest, found, err := s.procArg("get-handle", args, "n")
	if err != nil || !found {
		return maybeNotFound(err)
	}
	h, found, err := s.kernel.Handle(p, rest[0])
	if err != nil || !found {
		return maybeNotFound(err)
	}
	n, err := s.view.Render(view.Ref{Kind: view.KindHandle, Addr: h.Addr})
	if err != nil {
		return nil, err
	}
	return &Result{Node: n}, nil
}

func listCmds(s *Session, args []string) (*Result, error) {
	if err := noArgs(s, "list-cmds", args); err != nil {
		return nil, err
	}
	r := &Result{}
	for _, cmd := range s.cmds.cmds {
		line := fmt.Sprintf("%-22s %s", cmd.usage, cmd.helpMsg)
		if len(cmd.aliases) > 1 {
			line += " (alias: " + strings.Join(cmd.aliases[1:], " | ") + ")"
		}
		r.Summaries = append(r.Summaries, line)
	}
	return r, nil
}

func maybeNotFound(err error) (*Result, error) {
	if err != nil {
		return nil, err
	}
	return notFound()
}
