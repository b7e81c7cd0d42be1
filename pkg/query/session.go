// Package query executes kview commands against a kernel image. Each call
// to Session.Execute runs one command to completion and returns either a
// list of summaries or one rendered object.
package query

import (
	"errors"
	"fmt"

	"github.com/kview-dev/kview/pkg/kernel"
	"github.com/kview-dev/kview/pkg/kmem"
	"github.com/kview-dev/kview/pkg/logflags"
	"github.com/kview-dev/kview/pkg/regs"
	"github.com/kview-dev/kview/pkg/view"
	"github.com/kview-dev/kview/pkg/wobj"
)

// Options configures a Session. Zero values select the defaults.
type Options struct {
	// TidTreeRoot is the name of the tid tree root variable.
	TidTreeRoot string
	// MaxHandles is the size of the handle table.
	MaxHandles int
	// BaseVA is the lowest kernel virtual address. Register frames cannot
	// be decoded without it.
	BaseVA kmem.Addr
	// ReentryRoutine overrides regs.DefaultReentryRoutine.
	ReentryRoutine string
	// Disassemble adds the instruction at eip to kernel frames.
	Disassemble bool
	// MaxRenderDepth and MaxWaitDepth bound nested rendering and nested
	// multi object waiters.
	MaxRenderDepth int
	MaxWaitDepth   int
	// Aliases maps command names to additional names.
	Aliases map[string][]string
}

// Result is the outcome of a command.
type Result struct {
	// Summaries is set by list commands, one line per object.
	Summaries []string
	// Node is set by commands showing a single object.
	Node *view.Node
	// NotFound is set when the requested object does not exist. It is
	// distinct from an empty list.
	NotFound bool
}

// Session executes commands against one image.
type Session struct {
	t      kmem.Target
	kernel *kernel.Registry
	view   *view.Registry
	cmds   *Commands
	log    logflags.Logger
}

// NewSession returns a session over t.
func NewSession(t kmem.Target, opts Options) (*Session, error) {
	if opts.TidTreeRoot == "" {
		opts.TidTreeRoot = kernel.DefaultTidTreeRoot
	}
	root, err := t.ResolveSymbol(opts.TidTreeRoot)
	if err != nil {
		return nil, err
	}
	kreg, err := kernel.NewRegistry(t, root, opts.MaxHandles)
	if err != nil {
		return nil, err
	}
	dec := wobj.NewDecoder(t)
	if opts.MaxWaitDepth > 0 {
		dec.MaxDepth = opts.MaxWaitDepth
	}
	vreg := view.NewKernelRegistry(&view.Env{
		Kernel: kreg,
		Wobj:   dec,
		Regs: &regs.Decoder{
			T:              t,
			BaseVA:         opts.BaseVA,
			ReentryRoutine: opts.ReentryRoutine,
			Disassemble:    opts.Disassemble,
		},
	})
	if opts.MaxRenderDepth > 0 {
		vreg.MaxDepth = opts.MaxRenderDepth
	}
	s := &Session{
		t:      t,
		kernel: kreg,
		view:   vreg,
		cmds:   DebugCommands(),
		log:    logflags.QueryLogger(),
	}
	if err := s.cmds.Merge(opts.Aliases); err != nil {
		return nil, err
	}
	s.log.Debugf("session ready: tid tree root %s at %s", opts.TidTreeRoot, root)
	return s, nil
}

// Kernel returns the session's task registry.
func (s *Session) Kernel() *kernel.Registry {
	return s.kernel
}

// View returns the session's renderer registry.
func (s *Session) View() *view.Registry {
	return s.view
}

// Commands returns the session's command table.
func (s *Session) Commands() *Commands {
	return s.cmds
}

// Execute parses and runs one command line.
func (s *Session) Execute(line string) (*Result, error) {
	name, args, err := splitCommand(line)
	if err != nil {
		return nil, err
	}
	if name == "" {
		return &Result{}, nil
	}
	cmd, err := s.cmds.Find(name)
	if err != nil {
		return nil, err
	}
	s.log.WithField("cmd", cmd.name()).Debugf("args %q", args)
	r, err := cmd.cmdFn(s, args)
	if err != nil {
		var merr *MalformedInputError
		if !errors.As(err, &merr) {
			err = fmt.Errorf("%s: %w", cmd.name(), err)
		}
		return nil, err
	}
	return r, nil
}
