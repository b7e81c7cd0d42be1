//go:build !unix

package kmem

import "io"

func mapFile(path string) ([]byte, io.Closer, error) {
	return readWholeFile(path)
}
