package kmem

import (
	"encoding/binary"
	"fmt"
	"io"

	"github.com/kview-dev/kview/pkg/logflags"
)

// DefaultMaxStringLen is the maximum number of bytes read by ReadCString.
const DefaultMaxStringLen = 256

// Target is the memory and type access layer used by every other package:
// typed field reads, symbol resolution, string reads and layout lookups
// over a halted kernel's memory.
type Target interface {
	MemoryReader

	// PointerSize returns the size of a pointer on the target.
	PointerSize() int
	// ReadField reads field (possibly a dotted path through inline
	// structures) of the structure of type typ located at addr.
	ReadField(addr Addr, typ, field string) (Value, error)
	// ReadIndex reads the i-th element of an array value.
	ReadIndex(arr Value, i int) (Value, error)
	// ReadCString reads a NUL terminated string.
	ReadCString(addr Addr) (string, error)
	// ResolveSymbol returns the address of a named symbol.
	ResolveSymbol(name string) (Addr, error)
	// SymbolAt returns the symbol containing addr.
	SymbolAt(addr Addr) (Symbol, bool)
	// Layout returns the layout of the named structure.
	Layout(typ string) (*StructLayout, error)
	// Constant returns the value of a named enumerator.
	Constant(name string) (int64, error)
	// EnumName returns the enumerator name of value in enum.
	EnumName(enum string, value int64) (string, bool)
}

// Value is the result of a typed read.
type Value struct {
	// Addr is the address the value was read from (address_of).
	Addr Addr
	Kind Kind
	// Type is the structure, pointee or enumeration name, if any.
	Type string
	Size uint64

	Int  int64  // KindInt, KindEnum, KindBool
	Uint uint64 // KindUint, KindPointer
	Str  string // KindChars, KindCString

	Count int    // KindArray
	elem  *Field // KindArray
}

// Pointer returns the value of a pointer field.
func (v Value) Pointer() Addr {
	return Addr(v.Uint64())
}

// Bool returns the value of a boolean field.
func (v Value) Bool() bool {
	return v.Int != 0 || v.Uint != 0
}

// Int64 returns the value of an integer field whatever the signedness
// declared by its layout. Unsigned values are zero extended.
func (v Value) Int64() int64 {
	switch v.Kind {
	case KindUint, KindPointer, KindCString:
		return int64(v.Uint)
	}
	return v.Int
}

// Uint64 returns the value of an integer field whatever the signedness
// declared by its layout. Signed values are truncated to the size of the
// field.
func (v Value) Uint64() uint64 {
	switch v.Kind {
	case KindInt, KindEnum, KindBool:
		if v.Size > 0 && v.Size < 8 {
			return uint64(v.Int) & (1<<(8*v.Size) - 1)
		}
		return uint64(v.Int)
	}
	return v.Uint
}

// ReadInteger reads a field that must hold an integer, enumerator, boolean
// or pointer. Any other kind is a layout mismatch, reported as a
// *LookupError.
func ReadInteger(t Target, addr Addr, typ, field string) (Value, error) {
	v, err := t.ReadField(addr, typ, field)
	if err != nil {
		return Value{}, err
	}
	if !v.Kind.IsInteger() {
		return Value{}, &LookupError{What: "integer field", Name: typ + "." + field}
	}
	return v, nil
}

// Image implements Target over a MemoryReader, a symbol table and a set of
// layouts.
type Image struct {
	mem     MemoryReader
	layouts *Layouts
	syms    *Symbols
	closer  io.Closer

	MaxStringLen int

	log logflags.Logger
}

// NewImage returns a new Image. If syms is nil an empty symbol table is
// used.
func NewImage(mem MemoryReader, layouts *Layouts, syms *Symbols) *Image {
	if syms == nil {
		syms = NewSymbols()
	}
	return &Image{
		mem:          mem,
		layouts:      layouts,
		syms:         syms,
		MaxStringLen: DefaultMaxStringLen,
		log:          logflags.KmemLogger(),
	}
}

// Close releases the resources associated with the image, if any.
func (img *Image) Close() error {
	if img.closer == nil {
		return nil
	}
	err := img.closer.Close()
	img.closer = nil
	return err
}

// Symbols returns the image's symbol table.
func (img *Image) Symbols() *Symbols {
	return img.syms
}

func (img *Image) ReadMemory(buf []byte, addr Addr) (int, error) {
	return img.mem.ReadMemory(buf, addr)
}

func (img *Image) PointerSize() int {
	return img.layouts.PointerSize
}

func (img *Image) Layout(typ string) (*StructLayout, error) {
	return img.layouts.Struct(typ)
}

func (img *Image) Constant(name string) (int64, error) {
	return img.layouts.Constant(name)
}

func (img *Image) EnumName(enum string, value int64) (string, bool) {
	return img.layouts.EnumName(enum, value)
}

func (img *Image) ResolveSymbol(name string) (Addr, error) {
	return img.syms.Lookup(name)
}

func (img *Image) SymbolAt(addr Addr) (Symbol, bool) {
	return img.syms.At(addr)
}

func (img *Image) ReadField(addr Addr, typ, field string) (Value, error) {
	off, f, err := ResolveField(img, typ, field)
	if err != nil {
		return Value{}, err
	}
	v, err := img.readValue(addr.Add(off), f)
	if err != nil {
		return Value{}, fmt.Errorf("reading %s.%s at %s: %w", typ, field, addr, err)
	}
	return v, nil
}

func (img *Image) ReadIndex(arr Value, i int) (Value, error) {
	if arr.Kind != KindArray || arr.elem == nil {
		return Value{}, ErrNotArray
	}
	if i < 0 || (arr.Count > 0 && i >= arr.Count) {
		return Value{}, fmt.Errorf("index %d out of range [0, %d)", i, arr.Count)
	}
	return img.readValue(arr.Addr.Add(uint64(i)*arr.elem.Size), arr.elem)
}

func (img *Image) readValue(addr Addr, f *Field) (Value, error) {
	v := Value{Addr: addr, Kind: f.Kind, Type: f.Type, Size: f.Size}
	switch f.Kind {
	case KindInt, KindEnum:
		u, err := img.readUint(addr, int(f.Size))
		if err != nil {
			return Value{}, err
		}
		v.Int = signExtend(u, int(f.Size))
	case KindBool:
		u, err := img.readUint(addr, int(f.Size))
		if err != nil {
			return Value{}, err
		}
		if u != 0 {
			v.Int = 1
		}
	case KindUint, KindPointer:
		u, err := img.readUint(addr, int(f.Size))
		if err != nil {
			return Value{}, err
		}
		v.Uint = u
	case KindCString:
		u, err := img.readUint(addr, int(f.Size))
		if err != nil {
			return Value{}, err
		}
		v.Uint = u
		if u != 0 {
			v.Str, err = img.ReadCString(Addr(u))
			if err != nil {
				return Value{}, err
			}
		}
	case KindChars:
		buf := make([]byte, f.Size)
		if _, err := img.mem.ReadMemory(buf, addr); err != nil {
			return Value{}, err
		}
		v.Str = cstring(buf)
	case KindStruct:
		// inline structures only carry their address
	case KindArray:
		v.Count = f.Count
		v.elem = f.Elem
		v.Type = f.Elem.Type
	default:
		return Value{}, fmt.Errorf("cannot read field %s of kind %v", f.Name, f.Kind)
	}
	return v, nil
}

func (img *Image) readUint(addr Addr, size int) (uint64, error) {
	var buf [8]byte
	if _, err := img.mem.ReadMemory(buf[:size], addr); err != nil {
		return 0, err
	}
	switch size {
	case 1:
		return uint64(buf[0]), nil
	case 2:
		return uint64(binary.LittleEndian.Uint16(buf[:])), nil
	case 4:
		return uint64(binary.LittleEndian.Uint32(buf[:])), nil
	case 8:
		return binary.LittleEndian.Uint64(buf[:]), nil
	}
	return 0, fmt.Errorf("unsupported integer size %d", size)
}

func (img *Image) ReadCString(addr Addr) (string, error) {
	maxLen := img.MaxStringLen
	if maxLen <= 0 {
		maxLen = DefaultMaxStringLen
	}
	buf := make([]byte, 0, 64)
	var b [1]byte
	for len(buf) < maxLen {
		if _, err := img.mem.ReadMemory(b[:], addr.Add(uint64(len(buf)))); err != nil {
			if len(buf) > 0 {
				img.log.Debugf("string at %s truncated by unmapped memory after %d bytes", addr, len(buf))
				break
			}
			return "", err
		}
		if b[0] == 0 {
			break
		}
		buf = append(buf, b[0])
	}
	return string(buf), nil
}

// ReadPointer reads a pointer sized value at addr, for global pointer
// variables that are not part of a structure.
func ReadPointer(t Target, addr Addr) (Addr, error) {
	size := t.PointerSize()
	buf := make([]byte, 8)
	if _, err := t.ReadMemory(buf[:size], addr); err != nil {
		return 0, err
	}
	switch size {
	case 4:
		return Addr(binary.LittleEndian.Uint32(buf)), nil
	case 8:
		return Addr(binary.LittleEndian.Uint64(buf)), nil
	}
	return 0, fmt.Errorf("unsupported pointer size %d", size)
}

func signExtend(u uint64, size int) int64 {
	shift := uint(64 - 8*size)
	return int64(u<<shift) >> shift
}

func cstring(buf []byte) string {
	for i, c := range buf {
		if c == 0 {
			return string(buf[:i])
		}
	}
	return string(buf)
}
