package terminal

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/kview-dev/kview/pkg/kmem"
	"github.com/kview-dev/kview/pkg/query"
	"github.com/kview-dev/kview/pkg/view"
)

func TestPrintSummaries(t *testing.T) {
	var buf bytes.Buffer
	p := newPlainPrinter(&buf)
	err := p.Print(&query.Result{Summaries: []string{"task@0xc0400000 {tid =     1}", "plain line"}})
	if err != nil {
		t.Fatal(err)
	}
	if buf.String() != "task@0xc0400000 {tid =     1}\nplain line\n" {
		t.Errorf("wrong output %q", buf.String())
	}

	buf.Reset()
	p.color = "\x1b[36m"
	p.Print(&query.Result{Summaries: []string{"task@0xc0400000 {tid =     1}"}})
	if buf.String() != "\x1b[36mtask@0xc0400000\x1b[0m {tid =     1}\n" {
		t.Errorf("wrong colored output %q", buf.String())
	}
}

func TestPrintNodeAndNotFound(t *testing.T) {
	var buf bytes.Buffer
	p := newPlainPrinter(&buf)
	n := &view.Node{
		Ref:      view.Ref{Kind: view.KindHandle, Addr: kmem.Addr(0xc0400100)},
		Identity: "handle@0xc0400100",
		Fields:   []view.Field{{Name: "pos", Value: "0"}},
	}
	if err := p.Print(&query.Result{Node: n}); err != nil {
		t.Fatal(err)
	}
	if buf.String() != "handle@0xc0400100 {\n   pos = 0\n}\n" {
		t.Errorf("wrong output %q", buf.String())
	}
	buf.Reset()
	p.Print(&query.Result{NotFound: true})
	if buf.String() != NotFoundMessage+"\n" {
		t.Errorf("wrong output %q", buf.String())
	}
}

func TestTranscript(t *testing.T) {
	var buf bytes.Buffer
	p := newPlainPrinter(&buf)
	path := filepath.Join(t.TempDir(), "transcript.txt")
	if err := p.TranscribeTo(path); err != nil {
		t.Fatal(err)
	}
	p.Print(&query.Result{Summaries: []string{"one"}})
	if err := p.Close(); err != nil {
		t.Fatal(err)
	}
	if buf.String() != "one\n" {
		t.Errorf("wrong terminal output %q", buf.String())
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != "one\n" {
		t.Errorf("wrong transcript %q", data)
	}
}
