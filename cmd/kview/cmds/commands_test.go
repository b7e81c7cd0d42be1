package cmds

import (
	"strings"
	"testing"
	"time"

	"github.com/spf13/pflag"

	"github.com/kview-dev/kview/pkg/config"
	"github.com/kview-dev/kview/pkg/kmem"
)

func TestAddrValue(t *testing.T) {
	var v addrValue
	if v.String() != "" {
		t.Errorf("unset address printed as %q", v.String())
	}
	for _, tc := range []struct {
		in   string
		want kmem.Addr
	}{
		{"0xc0000000", 0xc0000000},
		{"4096", 4096},
	} {
		if err := v.Set(tc.in); err != nil {
			t.Fatalf("Set(%q): %v", tc.in, err)
		}
		if v.addr != tc.want || !v.set {
			t.Errorf("Set(%q) = %#x", tc.in, v.addr)
		}
	}
	if err := v.Set("zz"); err == nil {
		t.Error("invalid address accepted")
	}
}

func testFlags(t *testing.T, args ...string) *pflag.FlagSet {
	t.Helper()
	flags := pflag.NewFlagSet("kview", pflag.ContinueOnError)
	flags.BoolVar(&disassemble, "disassemble", false, "")
	if err := flags.Parse(args); err != nil {
		t.Fatal(err)
	}
	return flags
}

func TestSessionOptions(t *testing.T) {
	defer func() {
		baseVA = addrValue{}
		maxHandles = 0
		disassemble = false
	}()
	va := uint64(0xc0000000)
	mh := 16
	depth := 3
	conf := &config.Config{
		BaseVA:         &va,
		MaxHandles:     &mh,
		MaxWaitDepth:   &depth,
		TidTreeRoot:    "tids",
		ReentryRoutine: "resume",
	}
	opts := sessionOptions(conf, testFlags(t))
	if opts.BaseVA != 0xc0000000 || opts.MaxHandles != 16 || opts.MaxWaitDepth != 3 {
		t.Errorf("configuration not applied: %#v", opts)
	}
	if opts.TidTreeRoot != "tids" || opts.ReentryRoutine != "resume" || opts.Disassemble {
		t.Errorf("configuration not applied: %#v", opts)
	}

	baseVA.Set("0x80000000")
	maxHandles = 8
	opts = sessionOptions(conf, testFlags(t, "--disassemble"))
	if opts.BaseVA != 0x80000000 || opts.MaxHandles != 8 || !opts.Disassemble {
		t.Errorf("flags do not override the configuration: %#v", opts)
	}
}

func TestDisassembleFlagOverridesConfig(t *testing.T) {
	defer func() { disassemble = false }()
	conf := &config.Config{Disassemble: true}
	if opts := sessionOptions(conf, testFlags(t)); !opts.Disassemble {
		t.Error("disassemble from the configuration not applied")
	}
	if opts := sessionOptions(conf, testFlags(t, "--disassemble=false")); opts.Disassemble {
		t.Error("--disassemble=false does not override the configuration")
	}
}

func TestImageOptionsLayoutDefault(t *testing.T) {
	defer func() { layoutPath = "" }()
	conf := &config.Config{LayoutFile: "/etc/kview/i386.yml"}
	if got := imageOptions(conf).LayoutPath; got != conf.LayoutFile {
		t.Errorf("got layout %q", got)
	}
	layoutPath = "local.yml"
	if got := imageOptions(conf).LayoutPath; got != "local.yml" {
		t.Errorf("got layout %q", got)
	}
}

func TestReadLines(t *testing.T) {
	lines, err := readLines(strings.NewReader("list-tasks\nget-task 1\n"))
	if err != nil {
		t.Fatal(err)
	}
	if len(lines) != 2 || lines[1] != "get-task 1" {
		t.Errorf("got %q", lines)
	}
}

func TestCommandTree(t *testing.T) {
	root := New()
	for _, name := range []string{"query", "script", "version", "config", "log"} {
		c, _, err := root.Find([]string{name})
		if err != nil || c.Name() != name {
			t.Errorf("subcommand %s not found: %v", name, err)
		}
	}
}

func TestCancelOnInterruptStop(t *testing.T) {
	called := make(chan struct{}, 1)
	stop := cancelOnInterrupt(func() { called <- struct{}{} })
	finished := make(chan struct{})
	go func() {
		stop()
		close(finished)
	}()
	select {
	case <-finished:
	case <-time.After(5 * time.Second):
		t.Fatal("signal goroutine did not exit")
	}
	select {
	case <-called:
		t.Error("cancel called without an interrupt")
	default:
	}
}
