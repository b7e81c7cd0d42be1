package kmem

import "fmt"

// Addr is an address in the inspected kernel's virtual address space.
type Addr uint64

func (a Addr) String() string {
	return Hex32(uint64(a))
}

// Add returns a+off.
func (a Addr) Add(off uint64) Addr {
	return a + Addr(off)
}

// Sub returns a-off.
func (a Addr) Sub(off uint64) Addr {
	return a - Addr(off)
}

// Hex16 formats v as a 16 bit hexadecimal value, zero padded.
func Hex16(v uint64) string {
	return fmt.Sprintf("0x%04x", v&0xffff)
}

// Hex32 formats v as a 32 bit hexadecimal value, zero padded. Values that
// do not fit in 32 bits are printed in full.
func Hex32(v uint64) string {
	return fmt.Sprintf("0x%08x", v)
}
