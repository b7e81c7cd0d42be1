package starbind_test

import (
	"bytes"
	"strings"
	"testing"

	"go.starlark.net/starlark"

	"github.com/kview-dev/kview/pkg/kmem/kmemtest"
	"github.com/kview-dev/kview/pkg/query"
	"github.com/kview-dev/kview/pkg/starbind"
)

func newEnv(t *testing.T) (*starbind.Env, *bytes.Buffer) {
	t.Helper()
	k := kmemtest.NewKernel()
	task, _ := k.NewProcess(1, 0, "/initrd/bin/init")
	k.SetWait(task, "WOBJ_TASK", kmemtest.Payload(0))
	k.NewProcess(7, 1, "/bin/sh")
	k.NewThread(7, 8)
	s, err := query.NewSession(k.Image(), query.Options{BaseVA: 0xc0000000})
	if err != nil {
		t.Fatal(err)
	}
	out := new(bytes.Buffer)
	return starbind.New(s, out), out
}

func TestTasksBuiltins(t *testing.T) {
	env, out := newEnv(t)
	v, err := env.Execute("test.star", `
def main():
	print(len(tasks()))
	t = task(8)
	p = proc(t.pid)
	return [t.tid, t.pid, p.cmdline, task(100) == None, proc(8) == None, [p.pid for p in procs()]]
`, "main", nil)
	if err != nil {
		t.Fatal(err)
	}
	want := `[8, 7, "/bin/sh", True, True, [1, 7]]`
	if v.String() != want {
		t.Errorf("got %s expected %s", v, want)
	}
	if strings.TrimSpace(out.String()) != "3" {
		t.Errorf("wrong output %q", out.String())
	}
}

func TestQueryBuiltin(t *testing.T) {
	env, _ := newEnv(t)
	v, err := env.Execute("test.star", `
def main(tid):
	w = query("get-wobj " + tid)
	return [len(query("list-tasks")), w.fields["tid"], query("get-task 99")]
`, "main", []string{"1"})
	if err != nil {
		t.Fatal(err)
	}
	want := `[3, "any child, same process group", None]`
	if v.String() != want {
		t.Errorf("got %s expected %s", v, want)
	}

	_, err = env.Execute("bad.star", `query("get-task x")`, "", nil)
	if err == nil || !strings.Contains(err.Error(), "usage: get-task <tid>") {
		t.Errorf("expected usage error, got %v", err)
	}
}

func TestExportedGlobals(t *testing.T) {
	env, _ := newEnv(t)
	_, err := env.Execute("lib.star", `
def Mains():
	return [t.tid for t in tasks() if t.tid == t.pid]
`, "", nil)
	if err != nil {
		t.Fatal(err)
	}
	v, err := env.Execute("use.star", `
def main():
	return Mains()
`, "main", nil)
	if err != nil {
		t.Fatal(err)
	}
	if list, ok := v.(*starlark.List); !ok || list.Len() != 2 {
		t.Errorf("unexpected result %v", v)
	}
}

func TestMainArguments(t *testing.T) {
	env, _ := newEnv(t)
	_, err := env.Execute("wrong.star", `x = 1`, "main", []string{"extra"})
	if err != nil {
		t.Fatalf("scripts without main should not fail: %v", err)
	}
	_, err = env.Execute("wrong.star", `def main(): pass`, "main", []string{"extra"})
	if err == nil {
		t.Fatal("expected wrong number of arguments error")
	}
}
