// Package regs decodes the register frames saved by the kernel on entry
// (struct x86_regs).
package regs

import (
	"errors"

	"github.com/kview-dev/kview/pkg/kmem"
)

// FrameType is the name of the register frame structure.
const FrameType = "x86_regs"

// DefaultReentryRoutine is the kernel routine that saves a frame without
// pushing the stack segment: the slot normally holding ss contains the
// caller's return address instead.
const DefaultReentryRoutine = "asm_save_regs_and_schedule"

// ErrUnclassifiableFrame is returned when frames are decoded before the
// kernel base virtual address is known: without it user and kernel
// addresses cannot be told apart.
var ErrUnclassifiableFrame = errors.New("cannot classify register frame: kernel base virtual address not configured")

// Frame is a raw struct x86_regs.
type Frame struct {
	Addr kmem.Addr

	ResumeEIP   uint32
	CustomFlags uint32
	GS          uint32
	ES          uint32
	DS          uint32
	FS          uint32
	EDI         uint32
	ESI         uint32
	EBP         uint32
	ESP         uint32
	EBX         uint32
	EDX         uint32
	ECX         uint32
	EAX         uint32
	IntNum      int32
	ErrCode     uint32
	EIP         uint32
	CS          uint32
	EFlags      uint32
	UserESP     uint32
	SS          uint32
}

func (f *Frame) fields() []struct {
	name string
	p    *uint32
} {
	return []struct {
		name string
		p    *uint32
	}{
		{"kernel_resume_eip", &f.ResumeEIP},
		{"custom_flags", &f.CustomFlags},
		{"gs", &f.GS},
		{"es", &f.ES},
		{"ds", &f.DS},
		{"fs", &f.FS},
		{"edi", &f.EDI},
		{"esi", &f.ESI},
		{"ebp", &f.EBP},
		{"esp", &f.ESP},
		{"ebx", &f.EBX},
		{"edx", &f.EDX},
		{"ecx", &f.ECX},
		{"eax", &f.EAX},
		{"err_code", &f.ErrCode},
		{"eip", &f.EIP},
		{"cs", &f.CS},
		{"eflags", &f.EFlags},
		{"useresp", &f.UserESP},
		{"ss", &f.SS},
	}
}

// Field is one labeled value of a decoded frame.
type Field struct {
	Name  string
	Value string
}
