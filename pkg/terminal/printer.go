// Package terminal prints query results, coloring object identities when
// the output is a terminal.
package terminal

import (
	"fmt"
	"io"
	"os"
	"regexp"

	"github.com/mattn/go-colorable"
	"github.com/mattn/go-isatty"

	"github.com/kview-dev/kview/pkg/query"
	"github.com/kview-dev/kview/pkg/view"
)

const (
	ansiReset            = "\x1b[0m"
	defaultIdentityColor = 36
)

// NotFoundMessage is printed for results that did not find the requested
// object.
const NotFoundMessage = "not found"

var identityRe = regexp.MustCompile(`^[a-z_]+@0x[0-9a-f]+`)

// Printer writes query results.
type Printer struct {
	out   *transcriptWriter
	color string
}

// NewPrinter returns a printer writing to f. Colors are used when f is a
// terminal and identityColor is not negative; zero selects the default
// color.
func NewPrinter(f *os.File, identityColor int) *Printer {
	p := &Printer{}
	var w io.Writer = f
	if identityColor >= 0 && (isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())) {
		if identityColor == 0 {
			identityColor = defaultIdentityColor
		}
		p.color = fmt.Sprintf("\x1b[%dm", identityColor)
		w = colorable.NewColorable(f)
	}
	p.out = &transcriptWriter{pw: &pagingWriter{w: w}}
	return p
}

// newPlainPrinter returns a printer writing to w without colors.
func newPlainPrinter(w io.Writer) *Printer {
	return &Printer{out: &transcriptWriter{pw: &pagingWriter{w: w}}}
}

// TranscribeTo copies all output to path.
func (p *Printer) TranscribeTo(path string) error {
	fh, err := os.Create(path)
	if err != nil {
		return err
	}
	p.out.TranscribeTo(fh)
	return nil
}

// Close flushes and closes the transcript file, if any.
func (p *Printer) Close() error {
	p.out.pw.Reset()
	return p.out.CloseTranscript()
}

func (p *Printer) decorate(s string) string {
	if p.color == "" {
		return s
	}
	return p.color + s + ansiReset
}

// Write implements io.Writer.
func (p *Printer) Write(b []byte) (int, error) {
	return p.out.Write(b)
}

// Print writes the result of a query. Long output is sent to a pager when
// writing to a terminal.
func (p *Printer) Print(r *query.Result) error {
	p.out.pw.PageMaybe()
	defer p.out.pw.Reset()
	defer p.out.Flush()
	switch {
	case r.NotFound:
		_, err := fmt.Fprintln(p.out, NotFoundMessage)
		return err
	case r.Node != nil:
		return view.Format(p.out, r.Node, p.decorate)
	}
	for _, s := range r.Summaries {
		if loc := identityRe.FindStringIndex(s); loc != nil {
			s = p.decorate(s[:loc[1]]) + s[loc[1]:]
		}
		if _, err := fmt.Fprintln(p.out, s); err != nil {
			return err
		}
	}
	return nil
}
