//go:build !unix

package terminal

func (w *pagingWriter) getWindowSize() {
	w.mode = pagingWriterNormal
}
