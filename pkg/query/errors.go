package query

import (
	"fmt"
)

// MalformedInputError is returned when the arguments of a command cannot
// be parsed. The command is not executed.
type MalformedInputError struct {
	Usage string
	Err   error
}

func (e *MalformedInputError) Error() string {
	if e.Err == nil {
		return "usage: " + e.Usage
	}
	return fmt.Sprintf("%v\nusage: %s", e.Err, e.Usage)
}

func (e *MalformedInputError) Unwrap() error {
	return e.Err
}

// UnknownCommandError is returned for names matching no command or, as a
// prefix, more than one.
type UnknownCommandError struct {
	Name       string
	Candidates []string
}

func (e *UnknownCommandError) Error() string {
	if len(e.Candidates) > 0 {
		return fmt.Sprintf("ambiguous command %q: could be %v", e.Name, e.Candidates)
	}
	return fmt.Sprintf("unknown command %q", e.Name)
}
