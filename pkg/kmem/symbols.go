package kmem

import (
	"debug/elf"
	"fmt"
	"sort"

	lru "github.com/hashicorp/golang-lru"
)

const symbolCacheSize = 1024

// Symbol is a named address in the kernel image.
type Symbol struct {
	Name string
	Addr Addr
	Size uint64
}

// Location formats addr as a symbolic code location relative to sym, in
// the same form gdb prints code pointers: "0xc010f2a0 <schedule+16>".
func (sym Symbol) Location(addr Addr) string {
	off := uint64(addr - sym.Addr)
	if off == 0 {
		return fmt.Sprintf("%s <%s>", addr, sym.Name)
	}
	return fmt.Sprintf("%s <%s+%d>", addr, sym.Name, off)
}

// Symbols is the symbol table of the inspected kernel.
type Symbols struct {
	byName map[string]Symbol
	sorted []Symbol
	dirty  bool

	// reverse lookups are repeated for every frame and wait object that
	// gets rendered.
	cache *lru.Cache
}

// NewSymbols returns an empty symbol table.
func NewSymbols() *Symbols {
	cache, err := lru.New(symbolCacheSize)
	if err != nil {
		panic(err)
	}
	return &Symbols{byName: make(map[string]Symbol), cache: cache}
}

// LoadELFSymbols reads the function and object symbols of an ELF file,
// normally the unstripped kernel image.
func LoadELFSymbols(path string) (*Symbols, error) {
	f, err := elf.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	elfSyms, err := f.Symbols()
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	syms := NewSymbols()
	for _, s := range elfSyms {
		if s.Name == "" || s.Value == 0 {
			continue
		}
		switch elf.ST_TYPE(s.Info) {
		case elf.STT_FUNC, elf.STT_OBJECT, elf.STT_NOTYPE:
			syms.Add(Symbol{Name: s.Name, Addr: Addr(s.Value), Size: s.Size})
		}
	}
	return syms, nil
}

// Add adds a symbol to the table. If a symbol with the same name already
// exists it is replaced.
func (s *Symbols) Add(sym Symbol) {
	s.byName[sym.Name] = sym
	s.dirty = true
	s.cache.Purge()
}

// Len returns the number of symbols in the table.
func (s *Symbols) Len() int {
	return len(s.byName)
}

// Lookup returns the address of the named symbol.
func (s *Symbols) Lookup(name string) (Addr, error) {
	sym, ok := s.byName[name]
	if !ok {
		return 0, &LookupError{What: "symbol", Name: name}
	}
	return sym.Addr, nil
}

// At returns the symbol containing addr. Symbols without a size are
// assumed to extend up to the next symbol.
func (s *Symbols) At(addr Addr) (Symbol, bool) {
	if v, ok := s.cache.Get(addr); ok {
		sym, found := v.(*Symbol)
		if !found || sym == nil {
			return Symbol{}, false
		}
		return *sym, true
	}
	sym, ok := s.lookupAddr(addr)
	if ok {
		s.cache.Add(addr, &sym)
	} else {
		s.cache.Add(addr, (*Symbol)(nil))
	}
	return sym, ok
}

func (s *Symbols) lookupAddr(addr Addr) (Symbol, bool) {
	if s.dirty {
		s.sorted = s.sorted[:0]
		for _, sym := range s.byName {
			s.sorted = append(s.sorted, sym)
		}
		sort.Slice(s.sorted, func(i, j int) bool {
			if s.sorted[i].Addr == s.sorted[j].Addr {
				return s.sorted[i].Name < s.sorted[j].Name
			}
			return s.sorted[i].Addr < s.sorted[j].Addr
		})
		s.dirty = false
	}
	k := sort.Search(len(s.sorted), func(k int) bool {
		return addr < s.sorted[k].Addr
	})
	if k == 0 {
		return Symbol{}, false
	}
	sym := s.sorted[k-1]
	if sym.Size != 0 && addr >= sym.Addr+Addr(sym.Size) {
		return Symbol{}, false
	}
	return sym, true
}
