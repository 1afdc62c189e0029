package file

import (
	"io"
	"sync"

	"github.com/klauspost/compress/flate"
)

// DecompressPool manages reusable raw deflate decoders to reduce allocation
// overhead across entries.
type DecompressPool struct {
	pool *sync.Pool
}

// NewDecompressPool creates a new pool for deflate decoders.
func NewDecompressPool() *DecompressPool {
	return &DecompressPool{
		pool: &sync.Pool{
			New: func() any {
				return flate.NewReader(nil)
			},
		},
	}
}

// Get returns a decoder configured to read from r.
// The caller must call the returned release function when done.
//
// If r implements io.ByteReader the decoder reads exactly the deflate stream
// and nothing past its final block.
func (p *DecompressPool) Get(r io.Reader) (io.ReadCloser, func(), error) {
	if p == nil || p.pool == nil {
		dec := flate.NewReader(r)
		return dec, func() { _ = dec.Close() }, nil
	}

	dec, ok := p.pool.Get().(io.ReadCloser)
	if !ok {
		dec = flate.NewReader(r)
		return dec, func() { _ = dec.Close() }, nil
	}
	resetter, ok := dec.(flate.Resetter)
	if !ok {
		dec = flate.NewReader(r)
		return dec, func() { _ = dec.Close() }, nil
	}
	if err := resetter.Reset(r, nil); err != nil {
		return nil, nil, err
	}

	return dec, func() {
		_ = resetter.Reset(eofReader{}, nil) //nolint:errcheck // clearing state before pool return
		p.pool.Put(dec)
	}, nil
}

// eofReader detaches a pooled decoder from its last source.
type eofReader struct{}

func (eofReader) Read([]byte) (int, error) { return 0, io.EOF }
