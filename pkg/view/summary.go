package view

import (
	"fmt"

	"github.com/kview-dev/kview/pkg/kernel"
)

// TaskSummary returns the one line summary of a task.
func TaskSummary(task *kernel.Task) string {
	return fmt.Sprintf("%s {tid = %5d, pid = %5d, state = %s}",
		Ref{Kind: KindTask, Addr: task.Addr}, task.Tid, task.Pid, task.StateName)
}

// ProcessSummary returns the one line summary of a process.
func ProcessSummary(p *kernel.Process) string {
	return fmt.Sprintf("%s { pid = %5d, cmdline = '%s' }",
		Ref{Kind: KindProcess, Addr: p.Addr}, p.Pid, p.Cmdline)
}

// HandleSummary returns the one line summary of handle n.
func HandleSummary(n int, h *kernel.Handle) string {
	return fmt.Sprintf("%s { fd = %3d, fs = %s, pos = %d }",
		Ref{Kind: KindHandle, Addr: h.Addr}, n, h.Fs, h.Pos)
}
