package kmem

import (
	"fmt"
	"sort"
)

// MemoryReader is like io.ReaderAt, but the offset is an Addr so that it
// can address all of the target's memory.
type MemoryReader interface {
	// ReadMemory is just like io.ReaderAt.ReadAt.
	ReadMemory(buf []byte, addr Addr) (n int, err error)
}

// segment is a contiguous range of the image's memory.
type segment struct {
	addr Addr
	data []byte
}

func (s segment) String() string {
	return fmt.Sprintf("segment{addr:%s, size:%#x}", s.addr, len(s.data))
}

func (s segment) end() Addr {
	return s.addr + Addr(len(s.data))
}

func (s segment) contains(addr Addr) bool {
	return s.addr <= addr && addr < s.end()
}

// Memory is a read-only snapshot of a set of memory segments. It implements
// MemoryReader.
type Memory struct {
	segs []segment
}

// Add adds data as the contents of memory starting at addr. Segments must
// not overlap.
func (m *Memory) Add(addr Addr, data []byte) error {
	if len(data) == 0 {
		return nil
	}
	ns := segment{addr, data}
	for _, s := range m.segs {
		if ns.addr < s.end() && s.addr < ns.end() {
			return fmt.Errorf("%v overlaps %v", ns, s)
		}
	}
	m.segs = append(m.segs, ns)
	sort.Slice(m.segs, func(i, j int) bool { return m.segs[i].addr < m.segs[j].addr })
	return nil
}

// Segments returns the number of segments in m.
func (m *Memory) Segments() int {
	return len(m.segs)
}

// find returns the segment containing addr.
func (m *Memory) find(addr Addr) (segment, bool) {
	// Binary search for an upper-bound segment, then check
	// if the previous segment contains addr.
	k := sort.Search(len(m.segs), func(k int) bool {
		return addr < m.segs[k].addr
	})
	if k == 0 {
		return segment{}, false
	}
	s := m.segs[k-1]
	return s, s.contains(addr)
}

// ReadMemory reads len(buf) bytes at addr. Reads may span adjacent
// segments but not holes between them.
func (m *Memory) ReadMemory(buf []byte, addr Addr) (int, error) {
	n := 0
	for n < len(buf) {
		s, ok := m.find(addr + Addr(n))
		if !ok {
			return n, &UnmappedError{Addr: addr, Size: len(buf)}
		}
		n += copy(buf[n:], s.data[addr+Addr(n)-s.addr:])
	}
	return n, nil
}
