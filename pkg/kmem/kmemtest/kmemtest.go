// Package kmemtest builds synthetic kernel memory images for tests.
package kmemtest

import (
	_ "embed"
	"encoding/binary"
	"fmt"

	"github.com/kview-dev/kview/pkg/kmem"
)

//go:embed i386.yml
var i386Layout []byte

const (
	// ArenaBase is the address of the first byte of a Builder's arena.
	ArenaBase kmem.Addr = 0xc0400000
	arenaSize           = 1 << 20
)

// Layouts returns the 32-bit x86 kernel layouts used by the tests.
func Layouts() *kmem.Layouts {
	l, err := kmem.ParseLayouts(i386Layout)
	if err != nil {
		panic(fmt.Sprintf("bad test layout: %v", err))
	}
	return l
}

// Builder lays out kernel objects in an in-memory arena. All methods panic
// on misuse, since they are only meant to be used while preparing tests.
type Builder struct {
	Layouts *kmem.Layouts
	Syms    *kmem.Symbols

	mem   *kmem.Memory
	arena []byte
	next  kmem.Addr
}

// NewBuilder returns a Builder using the test layouts.
func NewBuilder() *Builder {
	b := &Builder{
		Layouts: Layouts(),
		Syms:    kmem.NewSymbols(),
		mem:     &kmem.Memory{},
		arena:   make([]byte, arenaSize),
		next:    ArenaBase,
	}
	if err := b.mem.Add(ArenaBase, b.arena); err != nil {
		panic(err)
	}
	return b
}

// Image returns an image over the builder's memory. Objects written after
// the call are visible through the image.
func (b *Builder) Image() *kmem.Image {
	return kmem.NewImage(b.mem, b.Layouts, b.Syms)
}

// Map adds a separate memory segment, for example to hold code at a fixed
// address.
func (b *Builder) Map(addr kmem.Addr, data []byte) {
	if err := b.mem.Add(addr, data); err != nil {
		panic(err)
	}
}

// AllocBytes reserves n zeroed bytes, aligned to 8 bytes.
func (b *Builder) AllocBytes(n int) kmem.Addr {
	addr := b.next
	b.next += kmem.Addr((n + 7) &^ 7)
	if b.next > ArenaBase+arenaSize {
		panic("kmemtest: arena exhausted")
	}
	return addr
}

// Alloc reserves a zeroed object of type typ.
func (b *Builder) Alloc(typ string) kmem.Addr {
	s, err := b.Layouts.Struct(typ)
	if err != nil {
		panic(err)
	}
	return b.AllocBytes(int(s.Size))
}

// String stores s followed by a NUL byte and returns its address.
func (b *Builder) String(s string) kmem.Addr {
	addr := b.AllocBytes(len(s) + 1)
	copy(b.bytes(addr, len(s)), s)
	return addr
}

// Symbol adds a symbol to the image's symbol table.
func (b *Builder) Symbol(name string, addr kmem.Addr, size uint64) {
	b.Syms.Add(kmem.Symbol{Name: name, Addr: addr, Size: size})
}

func (b *Builder) bytes(addr kmem.Addr, n int) []byte {
	if addr < ArenaBase || addr+kmem.Addr(n) > ArenaBase+arenaSize {
		panic(fmt.Sprintf("kmemtest: %d bytes at %s outside of the arena", n, addr))
	}
	off := int(addr - ArenaBase)
	return b.arena[off : off+n]
}

func (b *Builder) field(addr kmem.Addr, typ, field string) (kmem.Addr, *kmem.Field) {
	off, f, err := kmem.ResolveField(b, typ, field)
	if err != nil {
		panic(err)
	}
	return addr.Add(off), f
}

// Layout implements kmem.LayoutSource.
func (b *Builder) Layout(typ string) (*kmem.StructLayout, error) {
	return b.Layouts.Struct(typ)
}

// Set writes an integer, boolean or pointer field.
func (b *Builder) Set(addr kmem.Addr, typ, field string, v uint64) {
	faddr, f := b.field(addr, typ, field)
	b.put(faddr, int(f.Size), v)
}

// Get reads back an integer or pointer field.
func (b *Builder) Get(addr kmem.Addr, typ, field string) uint64 {
	faddr, f := b.field(addr, typ, field)
	return b.get(faddr, int(f.Size))
}

// SetIndex writes the i-th element of an array field.
func (b *Builder) SetIndex(addr kmem.Addr, typ, field string, i int, v uint64) {
	faddr, f := b.field(addr, typ, field)
	if f.Kind != kmem.KindArray {
		panic(fmt.Sprintf("kmemtest: %s.%s is not an array", typ, field))
	}
	b.put(faddr.Add(uint64(i)*f.Elem.Size), int(f.Elem.Size), v)
}

// SetString writes a character buffer field or, for a string pointer
// field, stores s in the arena and points the field to it.
func (b *Builder) SetString(addr kmem.Addr, typ, field, s string) {
	faddr, f := b.field(addr, typ, field)
	switch f.Kind {
	case kmem.KindChars:
		buf := b.bytes(faddr, int(f.Size))
		for i := range buf {
			buf[i] = 0
		}
		copy(buf[:len(buf)-1], s)
	case kmem.KindCString:
		b.put(faddr, int(f.Size), uint64(b.String(s)))
	default:
		panic(fmt.Sprintf("kmemtest: %s.%s is not a string", typ, field))
	}
}

// FieldAddr returns the address of a field.
func (b *Builder) FieldAddr(addr kmem.Addr, typ, field string) kmem.Addr {
	faddr, _ := b.field(addr, typ, field)
	return faddr
}

// PutPointer writes a pointer sized value at addr.
func (b *Builder) PutPointer(addr kmem.Addr, v kmem.Addr) {
	b.put(addr, b.Layouts.PointerSize, uint64(v))
}

func (b *Builder) put(addr kmem.Addr, size int, v uint64) {
	buf := b.bytes(addr, size)
	switch size {
	case 1:
		buf[0] = byte(v)
	case 2:
		binary.LittleEndian.PutUint16(buf, uint16(v))
	case 4:
		binary.LittleEndian.PutUint32(buf, uint32(v))
	case 8:
		binary.LittleEndian.PutUint64(buf, v)
	default:
		panic(fmt.Sprintf("kmemtest: bad size %d", size))
	}
}

func (b *Builder) get(addr kmem.Addr, size int) uint64 {
	buf := b.bytes(addr, size)
	switch size {
	case 1:
		return uint64(buf[0])
	case 2:
		return uint64(binary.LittleEndian.Uint16(buf))
	case 4:
		return uint64(binary.LittleEndian.Uint32(buf))
	case 8:
		return binary.LittleEndian.Uint64(buf)
	}
	panic(fmt.Sprintf("kmemtest: bad size %d", size))
}

// ListInit makes the list_node (or list) at addr self-linked.
func (b *Builder) ListInit(addr kmem.Addr) {
	b.Set(addr, "list_node", "next", uint64(addr))
	b.Set(addr, "list_node", "prev", uint64(addr))
}

// ListAddTail links node at the end of the list whose sentinel is head.
func (b *Builder) ListAddTail(head, node kmem.Addr) {
	last := kmem.Addr(b.Get(head, "list_node", "prev"))
	b.Set(node, "list_node", "next", uint64(head))
	b.Set(node, "list_node", "prev", uint64(last))
	b.Set(last, "list_node", "next", uint64(node))
	b.Set(head, "list_node", "prev", uint64(node))
}

// Redeclare changes the kind of a field in the builder's layouts, as a
// layout file disagreeing with the kernel about it would.
func (b *Builder) Redeclare(typ, field string, kind kmem.Kind) {
	s, err := b.Layouts.Struct(typ)
	if err != nil {
		panic(err)
	}
	f, ok := s.Field(field)
	if !ok {
		panic(fmt.Sprintf("kmemtest: no field %s.%s", typ, field))
	}
	f.Kind = kind
}
