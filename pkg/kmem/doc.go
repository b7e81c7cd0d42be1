// Package kmem provides read-only typed access to a kernel memory image.
//
// A Target combines three things: the memory of a halted kernel (an ELF
// core file, a raw dump or an in-memory snapshot), the kernel's symbol
// table and a set of named structure layouts describing the kernel objects
// that will be inspected. Layouts are supplied externally, usually through a
// YAML layout file; kmem never interprets debug information on its own.
//
// All reads are pure: reading the same field of the same snapshot twice
// returns the same value and reads can be issued in any order.
package kmem
