package file

import (
	"io"

	"github.com/meigma/unzip/internal/ziptype"
)

// CountingReader wraps a reader and counts bytes read.
type CountingReader struct {
	R io.Reader
	N uint64
}

// Read implements io.Reader.
func (cr *CountingReader) Read(p []byte) (int, error) {
	n, err := cr.R.Read(p)
	if n > 0 {
		//nolint:gosec // n is guaranteed non-negative by io.Reader contract
		if cr.N > ^uint64(0)-uint64(n) {
			return n, ziptype.ErrSizeOverflow
		}
		cr.N += uint64(n) //nolint:gosec // overflow checked above
	}
	return n, err
}

// ReadByte implements io.ByteReader when the wrapped reader does, so a
// deflate decoder reading through the counter does not buffer past the
// end of its stream.
func (cr *CountingReader) ReadByte() (byte, error) {
	br, ok := cr.R.(io.ByteReader)
	if !ok {
		var b [1]byte
		if _, err := io.ReadFull(cr.R, b[:]); err != nil {
			return 0, err
		}
		cr.N++
		return b[0], nil
	}
	b, err := br.ReadByte()
	if err == nil {
		cr.N++
	}
	return b, err
}

// CountingWriter wraps a writer and counts bytes written.
type CountingWriter struct {
	W io.Writer
	N uint64
}

// Write implements io.Writer.
func (cw *CountingWriter) Write(p []byte) (int, error) {
	n, err := cw.W.Write(p)
	if n > 0 {
		//nolint:gosec // n is guaranteed non-negative by io.Writer contract
		if cw.N > ^uint64(0)-uint64(n) {
			return n, ziptype.ErrSizeOverflow
		}
		cw.N += uint64(n) //nolint:gosec // overflow checked above
	}
	return n, err
}
