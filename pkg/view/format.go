package view

import (
	"bufio"
	"io"
	"strings"
)

const indent = "   "

// Decorator transforms text before it is printed, for example to color
// it.
type Decorator func(string) string

// Format writes n as indented text:
//
//	task@0xc0400010 {
//	   tid = 1
//	   wobj = wait_obj@0xc0400030 {}
//	}
//
// If decorate is not nil identities are passed through it.
func Format(w io.Writer, n *Node, decorate Decorator) error {
	if decorate == nil {
		decorate = func(s string) string { return s }
	}
	bw := bufio.NewWriter(w)
	format(bw, n, decorate, 0)
	bw.WriteByte('\n')
	return bw.Flush()
}

func format(w *bufio.Writer, n *Node, decorate Decorator, depth int) {
	w.WriteString(decorate(n.Identity))
	if len(n.Fields) == 0 {
		w.WriteString(" {}")
		return
	}
	w.WriteString(" {\n")
	pad := strings.Repeat(indent, depth+1)
	for _, f := range n.Fields {
		w.WriteString(pad)
		w.WriteString(f.Name)
		w.WriteString(" = ")
		switch {
		case f.Node != nil:
			format(w, f.Node, decorate, depth+1)
		case f.Ref != nil:
			w.WriteString(decorate(f.Value))
		default:
			w.WriteString(f.Value)
		}
		w.WriteByte('\n')
	}
	w.WriteString(strings.Repeat(indent, depth))
	w.WriteByte('}')
}
