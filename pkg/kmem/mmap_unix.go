//go:build unix

package kmem

import (
	"io"
	"os"

	"golang.org/x/sys/unix"
)

type mmapping []byte

func (m mmapping) Close() error {
	return unix.Munmap(m)
}

// mapFile maps path read-only in memory. Empty files are read normally
// since they cannot be mapped.
func mapFile(path string) ([]byte, io.Closer, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, err
	}
	defer f.Close()
	fi, err := f.Stat()
	if err != nil {
		return nil, nil, err
	}
	if fi.Size() == 0 {
		return readWholeFile(path)
	}
	data, err := unix.Mmap(int(f.Fd()), 0, int(fi.Size()), unix.PROT_READ, unix.MAP_PRIVATE)
	if err != nil {
		return nil, nil, err
	}
	return data, mmapping(data), nil
}
