// Package cmds implements the kview command line.
package cmds

import (
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/kview-dev/kview/pkg/config"
	"github.com/kview-dev/kview/pkg/kmem"
	"github.com/kview-dev/kview/pkg/logflags"
	"github.com/kview-dev/kview/pkg/query"
	"github.com/kview-dev/kview/pkg/starbind"
	"github.com/kview-dev/kview/pkg/terminal"
	"github.com/kview-dev/kview/pkg/version"
)

var (
	// log is whether to log debug statements.
	log bool
	// logOutput is a comma separated list of components that should produce debug output.
	logOutput string
	// logDest is the file path or file descriptor where logs should go.
	logDest string

	// corePath is the ELF core file of the kernel.
	corePath string
	// rawPath is a flat memory dump, loaded at loadAddr.
	rawPath  string
	loadAddr addrValue
	// symbolsPath is the unstripped kernel image.
	symbolsPath string
	// layoutPath is the structure layout file.
	layoutPath string

	baseVA      addrValue
	maxHandles  int
	disassemble bool
	transcript  string
	configPath  string

	// rootCommand is the root of the command tree.
	rootCommand *cobra.Command

	conf *config.Config
)

const kviewCommandLongDesc = `kview inspects the task registry of a halted kernel.

kview reads a memory image of the kernel (an ELF core file or a raw dump)
together with the kernel's symbols and a description of its structure
layouts, and shows tasks, processes, open handles, what each task is
waiting for and the register frames saved on kernel entry.

Nothing is ever written to the inspected memory.`

// New returns an initialized command tree.
func New() *cobra.Command {
	rootCommand = &cobra.Command{
		Use:   "kview",
		Short: "kview is a kernel memory inspector.",
		Long:  kviewCommandLongDesc,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if configPath != "" {
				c, err := config.LoadConfigFrom(configPath)
				if err != nil {
					return err
				}
				conf = c
			} else {
				conf = config.LoadConfig()
			}
			return logflags.Setup(log, logOutput, logDest)
		},
		SilenceUsage: true,
	}

	flags := rootCommand.PersistentFlags()
	flags.BoolVarP(&log, "log", "", false, "Enable logging.")
	flags.StringVarP(&logOutput, "log-output", "", "", `Comma separated list of components that should produce debug output (see 'kview help log')`)
	flags.StringVarP(&logDest, "log-dest", "", "", "Writes logs to the specified file or file descriptor (see 'kview help log').")
	flags.StringVarP(&corePath, "core", "c", "", "ELF core file of the kernel.")
	flags.StringVar(&rawPath, "raw", "", "Raw memory dump, see --load-addr.")
	flags.Var(&loadAddr, "load-addr", "Address of the first byte of the raw memory dump.")
	flags.StringVarP(&symbolsPath, "symbols", "s", "", "Unstripped kernel image used to resolve symbols.")
	flags.StringVar(&layoutPath, "layout", "", "Structure layout file (defaults to layout-file in the configuration).")
	flags.Var(&baseVA, "base-va", "Lowest kernel virtual address (defaults to base-va in the configuration).")
	flags.IntVar(&maxHandles, "max-handles", 0, "Size of the per process handle table.")
	flags.BoolVar(&disassemble, "disassemble", false, "Show the instruction at eip in kernel register frames.")
	flags.StringVar(&transcript, "transcript", "", "Also write all output to the specified file.")
	flags.StringVar(&configPath, "config", "", "Configuration file (defaults to $HOME/.kview/config.yml).")

	// 'query' subcommand.
	queryCommand := &cobra.Command{
		Use:   "query [command [args...]]...",
		Short: "Run one or more commands against a kernel image.",
		Long: `Run one or more commands against a kernel image.

Each argument is a command line, for example:

	kview query -c vmcore -s kernel --layout i386.yml 'list-tasks' 'get-task 1'

With no arguments commands are read from standard input, one per line.
Use 'list-cmds' to list the available commands.`,
		RunE: queryCmd,
	}
	rootCommand.AddCommand(queryCommand)

	// 'script' subcommand.
	scriptCommand := &cobra.Command{
		Use:   "script <file.star> [args...]",
		Short: "Run a Starlark script against a kernel image.",
		Long: `Run a Starlark script against a kernel image.

If the script defines a function called main it is called with the remaining
arguments. Scripts have access to the following builtins:

	query(cmd)     runs a command and returns its result
	tasks()        returns all tasks
	task(tid)      returns the task with the given tid or None
	procs()        returns all processes
	proc(pid)      returns the process with the given pid or None
	read_file(p)   returns the contents of a file
	write_file(p, s)
	help()`,
		Args: func(cmd *cobra.Command, args []string) error {
			if len(args) == 0 {
				return errors.New("you must provide a script file")
			}
			return nil
		},
		RunE: scriptCmd,
	}
	rootCommand.AddCommand(scriptCommand)

	// 'config' subcommand.
	configCommand := &cobra.Command{
		Use:   "config",
		Short: "Prints the location of the configuration file.",
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := config.GetConfigFilePath("config.yml")
			if err != nil {
				return err
			}
			fmt.Println(p)
			return nil
		},
	}
	rootCommand.AddCommand(configCommand)

	// 'version' subcommand.
	versionCommand := &cobra.Command{
		Use:   "version",
		Short: "Prints version.",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("kview\n%s\n", version.KviewVersion)
			if verbose {
				fmt.Printf("%s\n", version.BuildInfo())
			}
		},
	}
	versionCommand.Flags().BoolVarP(&verbose, "verbose", "v", false, "print verbose version info")
	rootCommand.AddCommand(versionCommand)

	rootCommand.AddCommand(&cobra.Command{
		Use:   "log",
		Short: "Help about logging flags.",
		Long: `Logging can be enabled by specifying the --log flag and using the
--log-output flag to select which components should produce logs.

The argument of --log-output must be a comma separated list of component
names selected from this list:

	kmem	Log reads of the memory image and symbol lookups
	kernel	Log walks of the task registry
	view	Log rendering of objects
	query	Log executed commands (default)
	starlark	Log script execution

Additionally --log-dest can be used to specify where the logs should be
written. If the argument is a number it will be interpreted as a file
descriptor, otherwise as a file path.`,
	})

	rootCommand.DisableAutoGenTag = true

	return rootCommand
}

var verbose bool

// addrValue is a pflag.Value accepting decimal or 0x prefixed addresses.
type addrValue struct {
	addr kmem.Addr
	set  bool
}

var _ pflag.Value = (*addrValue)(nil)

func (v *addrValue) String() string {
	if !v.set {
		return ""
	}
	return v.addr.String()
}

func (v *addrValue) Set(s string) error {
	n, err := strconv.ParseUint(s, 0, 64)
	if err != nil {
		return fmt.Errorf("invalid address %q", s)
	}
	v.addr = kmem.Addr(n)
	v.set = true
	return nil
}

func (v *addrValue) Type() string {
	return "address"
}

// sessionOptions merges the configuration file with the command line.
// Command line flags take precedence.
func sessionOptions(conf *config.Config, flags *pflag.FlagSet) query.Options {
	opts := query.Options{
		TidTreeRoot:    conf.TidTreeRoot,
		ReentryRoutine: conf.ReentryRoutine,
		Disassemble:    conf.Disassemble,
		Aliases:        conf.Aliases,
	}
	if flags.Changed("disassemble") {
		opts.Disassemble = disassemble
	}
	if conf.BaseVA != nil {
		opts.BaseVA = kmem.Addr(*conf.BaseVA)
	}
	if baseVA.set {
		opts.BaseVA = baseVA.addr
	}
	if conf.MaxHandles != nil {
		opts.MaxHandles = *conf.MaxHandles
	}
	if maxHandles > 0 {
		opts.MaxHandles = maxHandles
	}
	if conf.MaxRenderDepth != nil {
		opts.MaxRenderDepth = *conf.MaxRenderDepth
	}
	if conf.MaxWaitDepth != nil {
		opts.MaxWaitDepth = *conf.MaxWaitDepth
	}
	return opts
}

func imageOptions(conf *config.Config) kmem.Options {
	opts := kmem.Options{
		CorePath:    corePath,
		RawPath:     rawPath,
		LoadAddr:    loadAddr.addr,
		SymbolsPath: symbolsPath,
		LayoutPath:  layoutPath,
	}
	if opts.LayoutPath == "" {
		opts.LayoutPath = conf.LayoutFile
	}
	return opts
}

// openSession opens the image and returns a session over it. The caller
// must close the image.
func openSession(flags *pflag.FlagSet) (*kmem.Image, *query.Session, error) {
	img, err := kmem.Open(imageOptions(conf))
	if err != nil {
		return nil, nil, err
	}
	if conf.MaxStringLen != nil {
		img.MaxStringLen = *conf.MaxStringLen
	}
	s, err := query.NewSession(img, sessionOptions(conf, flags))
	if err != nil {
		img.Close()
		return nil, nil, err
	}
	return img, s, nil
}

func newPrinter() (*terminal.Printer, error) {
	p := terminal.NewPrinter(os.Stdout, conf.IdentityColor)
	if transcript != "" {
		if err := p.TranscribeTo(transcript); err != nil {
			return nil, err
		}
	}
	return p, nil
}

func queryCmd(cmd *cobra.Command, args []string) error {
	defer logflags.Close()
	img, s, err := openSession(cmd.Flags())
	if err != nil {
		return err
	}
	defer img.Close()
	p, err := newPrinter()
	if err != nil {
		return err
	}
	defer p.Close()

	lines := args
	if len(lines) == 0 {
		lines, err = readLines(cmd.InOrStdin())
		if err != nil {
			return err
		}
	}
	failed := false
	for _, line := range lines {
		if strings.TrimSpace(line) == "" {
			continue
		}
		r, err := s.Execute(line)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Command failed: %v\n", err)
			failed = true
			continue
		}
		if err := p.Print(r); err != nil {
			return err
		}
	}
	if failed {
		return errors.New("some commands failed")
	}
	return nil
}

func scriptCmd(cmd *cobra.Command, args []string) error {
	defer logflags.Close()
	img, s, err := openSession(cmd.Flags())
	if err != nil {
		return err
	}
	defer img.Close()
	p, err := newPrinter()
	if err != nil {
		return err
	}
	defer p.Close()

	env := starbind.New(s, p)
	defer cancelOnInterrupt(env.Cancel)()

	_, err = env.Execute(args[0], nil, "main", args[1:])
	return err
}

// cancelOnInterrupt calls cancel on every SIGINT until the returned
// function is called.
func cancelOnInterrupt(cancel func()) (stop func()) {
	ch := make(chan os.Signal, 1)
	done := make(chan struct{})
	signal.Notify(ch, syscall.SIGINT)
	go func() {
		defer close(done)
		for range ch {
			cancel()
		}
	}()
	return func() {
		signal.Stop(ch)
		close(ch)
		<-done
	}
}
