package kmem

import (
	"bytes"
	"debug/elf"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/kview-dev/kview/pkg/logflags"
)

// Options describes where the pieces of an image come from.
type Options struct {
	// CorePath is an ELF core file of the kernel (for example produced by
	// the hypervisor's guest memory dump).
	CorePath string
	// RawPath is a flat memory dump loaded at LoadAddr. Exactly one of
	// CorePath and RawPath must be set.
	RawPath  string
	LoadAddr Addr
	// SymbolsPath is the unstripped kernel ELF image.
	SymbolsPath string
	// LayoutPath is the YAML layout file.
	LayoutPath string
}

var errNoMemory = errors.New("either a core file or a raw memory dump must be specified")

// Open loads the memory, symbols and layouts described by opts.
func Open(opts Options) (*Image, error) {
	if opts.LayoutPath == "" {
		return nil, errors.New("no layout file specified")
	}
	layouts, err := LoadLayouts(opts.LayoutPath)
	if err != nil {
		return nil, err
	}

	var syms *Symbols
	if opts.SymbolsPath != "" {
		syms, err = LoadELFSymbols(opts.SymbolsPath)
		if err != nil {
			return nil, err
		}
	}

	var (
		mem    *Memory
		closer io.Closer
	)
	switch {
	case opts.CorePath != "" && opts.RawPath != "":
		return nil, errors.New("a core file and a raw memory dump cannot be used together")
	case opts.CorePath != "":
		mem, closer, err = OpenCore(opts.CorePath)
	case opts.RawPath != "":
		mem, closer, err = OpenRaw(opts.RawPath, opts.LoadAddr)
	default:
		return nil, errNoMemory
	}
	if err != nil {
		return nil, err
	}

	img := NewImage(mem, layouts, syms)
	img.closer = closer
	img.log.WithFields(logflags.Fields{
		"segments": mem.Segments(),
		"symbols":  img.syms.Len(),
	}).Debug("image opened")
	return img, nil
}

// OpenCore maps an ELF core file and returns its loadable segments,
// addressed by virtual address.
func OpenCore(path string) (*Memory, io.Closer, error) {
	data, closer, err := mapFile(path)
	if err != nil {
		return nil, nil, err
	}
	f, err := elf.NewFile(bytes.NewReader(data))
	if err != nil {
		closer.Close()
		return nil, nil, fmt.Errorf("%s: %w", path, err)
	}
	if f.Type != elf.ET_CORE {
		closer.Close()
		return nil, nil, fmt.Errorf("%s: not a core file (type %v)", path, f.Type)
	}
	mem := &Memory{}
	for _, p := range f.Progs {
		if p.Type != elf.PT_LOAD || p.Filesz == 0 {
			continue
		}
		if p.Off+p.Filesz > uint64(len(data)) {
			closer.Close()
			return nil, nil, fmt.Errorf("%s: segment at %#x extends past the end of the file", path, p.Vaddr)
		}
		if err := mem.Add(Addr(p.Vaddr), data[p.Off:p.Off+p.Filesz:p.Off+p.Filesz]); err != nil {
			closer.Close()
			return nil, nil, fmt.Errorf("%s: %w", path, err)
		}
	}
	return mem, closer, nil
}

// OpenRaw maps a flat memory dump whose first byte is at loadAddr.
func OpenRaw(path string, loadAddr Addr) (*Memory, io.Closer, error) {
	data, closer, err := mapFile(path)
	if err != nil {
		return nil, nil, err
	}
	mem := &Memory{}
	if err := mem.Add(loadAddr, data); err != nil {
		closer.Close()
		return nil, nil, err
	}
	return mem, closer, nil
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

func readWholeFile(path string) ([]byte, io.Closer, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, nil, err
	}
	return data, nopCloser{}, nil
}
