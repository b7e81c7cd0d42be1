package regs

import (
	"strconv"

	"golang.org/x/arch/x86/x86asm"

	"github.com/kview-dev/kview/pkg/kmem"
)

const maxInstLen = 15

// Decoder turns register frames into labeled field lists.
type Decoder struct {
	T kmem.Target
	// BaseVA is the lowest kernel virtual address. Zero means not
	// configured and makes every decode fail with ErrUnclassifiableFrame.
	BaseVA kmem.Addr
	// ReentryRoutine is the name of the routine whose frames carry the
	// caller's return address in the ss slot.
	ReentryRoutine string
	// Disassemble adds the instruction at eip to kernel frames.
	Disassemble bool
}

// ReadFrame reads the frame at addr.
func (d *Decoder) ReadFrame(addr kmem.Addr) (*Frame, error) {
	f := &Frame{Addr: addr}
	for _, fld := range f.fields() {
		v, err := kmem.ReadInteger(d.T, addr, FrameType, fld.name)
		if err != nil {
			return nil, err
		}
		*fld.p = uint32(v.Uint64())
	}
	v, err := kmem.ReadInteger(d.T, addr, FrameType, "int_num")
	if err != nil {
		return nil, err
	}
	f.IntNum = int32(v.Int64())
	return f, nil
}

// Decode reads and decodes the frame at addr.
func (d *Decoder) Decode(addr kmem.Addr) ([]Field, error) {
	if d.BaseVA == 0 {
		return nil, ErrUnclassifiableFrame
	}
	f, err := d.ReadFrame(addr)
	if err != nil {
		return nil, err
	}
	return d.DecodeFrame(f)
}

// IsReentry returns true if f was saved by the re-entry routine.
func (d *Decoder) IsReentry(f *Frame) bool {
	name := d.ReentryRoutine
	if name == "" {
		name = DefaultReentryRoutine
	}
	sym, ok := d.T.SymbolAt(kmem.Addr(f.ResumeEIP))
	return ok && sym.Name == name
}

// DecodeFrame returns the labeled fields of f in frame order.
func (d *Decoder) DecodeFrame(f *Frame) ([]Field, error) {
	if d.BaseVA == 0 {
		return nil, ErrUnclassifiableFrame
	}
	hex32 := func(v uint32) string { return kmem.Hex32(uint64(v)) }
	hex16 := func(v uint32) string { return kmem.Hex16(uint64(v)) }

	eip := hex32(f.EIP)
	kernelEIP := kmem.Addr(f.EIP) >= d.BaseVA
	if kernelEIP {
		eip = d.location(f.EIP)
	}

	r := []Field{
		{"resume_eip", d.location(f.ResumeEIP)},
		{"custom_flags", hex32(f.CustomFlags)},
		{"gs", hex16(f.GS)},
		{"es", hex16(f.ES)},
		{"ds", hex16(f.DS)},
		{"fs", hex16(f.FS)},
		{"edi", hex32(f.EDI)},
		{"esi", hex32(f.ESI)},
		{"ebp", hex32(f.EBP)},
		{"esp", hex32(f.ESP)},
		{"ebx", hex32(f.EBX)},
		{"edx", hex32(f.EDX)},
		{"ecx", hex32(f.ECX)},
		{"eax", hex32(f.EAX)},
		{"int_num", strconv.Itoa(int(f.IntNum))},
		{"err_code", hex32(f.ErrCode)},
		{"eip", eip},
	}
	if d.Disassemble && kernelEIP {
		r = append(r, Field{"insn", d.disassemble(kmem.Addr(f.EIP))})
	}
	r = append(r,
		Field{"cs", hex16(f.CS)},
		Field{"eflags", hex32(f.EFlags)})

	if d.IsReentry(f) {
		r = append(r, Field{"true_eip", d.location(f.SS)})
	} else {
		r = append(r,
			Field{"useresp", hex32(f.UserESP)},
			Field{"ss", hex16(f.SS)})
	}
	return r, nil
}

// location formats a code address symbolically, if a symbol contains it.
func (d *Decoder) location(pc uint32) string {
	addr := kmem.Addr(pc)
	if sym, ok := d.T.SymbolAt(addr); ok {
		return sym.Location(addr)
	}
	return addr.String()
}

func (d *Decoder) disassemble(pc kmem.Addr) string {
	mem := make([]byte, maxInstLen)
	// a short read is fine, the instruction may end right before
	// unmapped memory
	n, _ := d.T.ReadMemory(mem, pc)
	if n == 0 {
		return "?"
	}
	inst, err := x86asm.Decode(mem[:n], 32)
	if err != nil {
		return "?"
	}
	return x86asm.IntelSyntax(inst, uint64(pc), d.symLookup)
}

func (d *Decoder) symLookup(addr uint64) (string, uint64) {
	sym, ok := d.T.SymbolAt(kmem.Addr(addr))
	if !ok {
		return "", 0
	}
	return sym.Name, uint64(sym.Addr)
}
