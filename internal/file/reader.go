// Package file decompresses and verifies the data of a single archive entry.
package file

import (
	"bufio"
	"errors"
	"fmt"
	"hash"
	"hash/crc32"
	"io"

	"github.com/klauspost/compress/flate"

	"github.com/meigma/unzip/internal/ziptype"
)

// DefaultMaxFileSize is the default limit on the decompressed size of one entry (4 GiB).
const DefaultMaxFileSize = 4 << 30

// State is the verification state of a Reader.
type State uint8

const (
	// StatePending means the content has not been checked yet.
	StatePending State = iota
	// StateVerified means the CRC-32 and size matched.
	StateVerified
	// StateFailed means reading or verification failed.
	StateFailed
)

func (s State) String() string {
	switch s {
	case StatePending:
		return "pending"
	case StateVerified:
		return "verified"
	case StateFailed:
		return "failed"
	default:
		return fmt.Sprintf("State(%d)", uint8(s))
	}
}

// Reader is a single-use stream of an entry's decompressed content.
//
// It computes a running CRC-32 and, at end of input, compares it and the byte
// count with the expected values. A mismatch is returned only after every
// decompressed byte has been delivered.
type Reader struct {
	entry    ziptype.Entry
	src      *CountingReader
	r        io.Reader
	release  func()
	pool     *DecompressPool
	crc      hash.Hash32
	n        uint64
	limit    uint64
	deferred bool
	eof      bool
	state    State
	err      error
}

// Option configures a Reader.
type Option func(*Reader)

// Deferred leaves the reader pending at end of input. The caller supplies
// the expected values with Verify, typically after reading a data descriptor.
func Deferred() Option {
	return func(r *Reader) {
		r.deferred = true
	}
}

// WithMaxFileSize sets the maximum decompressed size. Set to 0 to disable the limit.
func WithMaxFileSize(limit uint64) Option {
	return func(r *Reader) {
		r.limit = limit
	}
}

// WithPool takes deflate decoders from pool instead of allocating them.
func WithPool(pool *DecompressPool) Option {
	return func(r *Reader) {
		r.pool = pool
	}
}

// Open returns a Reader producing the decompressed content of entry from
// its compressed bytes. Methods other than Stored and Deflated fail with
// *ziptype.UnsupportedMethodError.
//
// For a Deflated entry whose compressed size is unknown, compressed should
// implement io.ByteReader so that no bytes past the deflate stream are consumed.
func Open(entry *ziptype.Entry, compressed io.Reader, opts ...Option) (*Reader, error) {
	if entry.Encrypted() {
		return nil, ziptype.ErrEncrypted
	}
	if _, ok := compressed.(io.ByteReader); !ok && entry.Method == ziptype.MethodDeflated {
		compressed = bufio.NewReader(compressed)
	}
	r := &Reader{
		entry: *entry,
		src:   &CountingReader{R: compressed},
		crc:   crc32.NewIEEE(),
		limit: DefaultMaxFileSize,
	}
	for _, opt := range opts {
		opt(r)
	}

	if r.limit > 0 && !r.deferred && entry.UncompressedSize > r.limit {
		return nil, fmt.Errorf("%w: %d bytes exceeds limit %d", ziptype.ErrSizeOverflow, entry.UncompressedSize, r.limit)
	}

	switch entry.Method {
	case ziptype.MethodStored:
		r.r = r.src
	case ziptype.MethodDeflated:
		dec, release, err := r.pool.Get(r.src)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ziptype.ErrCodec, err)
		}
		r.r, r.release = dec, release
	default:
		return nil, &ziptype.UnsupportedMethodError{Method: entry.Method}
	}
	return r, nil
}

// Read implements io.Reader.
func (r *Reader) Read(p []byte) (int, error) {
	if r.state == StateFailed {
		return 0, r.err
	}
	if r.eof {
		return 0, io.EOF
	}
	if len(p) == 0 {
		return 0, nil
	}

	n, err := r.r.Read(p)
	if n > 0 {
		_, _ = r.crc.Write(p[:n]) //nolint:errcheck // hash writes never fail
		r.n += uint64(n)          //nolint:gosec // n is non-negative
		if r.limit > 0 && r.n > r.limit {
			return n, r.fail(fmt.Errorf("%w: decompressed data exceeds %d bytes", ziptype.ErrSizeOverflow, r.limit))
		}
	}

	switch {
	case err == nil:
		return n, nil
	case errors.Is(err, io.EOF):
		r.eof = true
		if r.deferred {
			return n, io.EOF
		}
		if verr := r.Verify(r.entry.CRC32, r.entry.UncompressedSize); verr != nil {
			return n, verr
		}
		return n, io.EOF
	default:
		return n, r.fail(r.classify(err))
	}
}

// Verify compares the content read so far with the expected CRC-32 and size.
// It may be called once the Reader has reached end of input; later calls
// return the first result.
func (r *Reader) Verify(crc uint32, size uint64) error {
	switch r.state {
	case StateVerified:
		return nil
	case StateFailed:
		return r.err
	}
	if !r.eof {
		return r.fail(fmt.Errorf("%w: verified before end of data", ziptype.ErrSizeMismatch))
	}
	if r.n != size {
		return r.fail(fmt.Errorf("%w: got %d bytes, want %d", ziptype.ErrSizeMismatch, r.n, size))
	}
	if sum := r.crc.Sum32(); sum != crc {
		return r.fail(fmt.Errorf("%w: got %08x, want %08x", ziptype.ErrChecksum, sum, crc))
	}
	if r.entry.Method == ziptype.MethodStored && !r.deferred && r.src.N != r.entry.CompressedSize {
		return r.fail(fmt.Errorf("%w: stored entry has %d compressed bytes for %d", ziptype.ErrSizeMismatch,
			r.entry.CompressedSize, r.n))
	}
	r.state = StateVerified
	return nil
}

// State returns the verification state.
func (r *Reader) State() State {
	return r.state
}

// CRC32 returns the CRC-32 of the content read so far.
func (r *Reader) CRC32() uint32 {
	return r.crc.Sum32()
}

// Size returns the number of decompressed bytes read so far.
func (r *Reader) Size() uint64 {
	return r.n
}

// CompressedRead returns the number of compressed bytes consumed so far.
func (r *Reader) CompressedRead() uint64 {
	return r.src.N
}

// Close releases the decoder. It does not verify content.
func (r *Reader) Close() error {
	if r.release != nil {
		r.release()
		r.release = nil
	}
	return nil
}

func (r *Reader) fail(err error) error {
	r.state = StateFailed
	r.err = err
	return err
}

func (r *Reader) classify(err error) error {
	var corrupt flate.CorruptInputError
	switch {
	case errors.As(err, &corrupt):
		return fmt.Errorf("%w: %w", ziptype.ErrCodec, err)
	case errors.Is(err, io.ErrUnexpectedEOF):
		return fmt.Errorf("%w: entry data ends early after %d compressed bytes", ziptype.ErrTruncated, r.src.N)
	case errors.Is(err, ziptype.ErrSizeOverflow):
		return err
	case r.entry.Method == ziptype.MethodDeflated:
		var internal flate.InternalError
		if errors.As(err, &internal) {
			return fmt.Errorf("%w: %w", ziptype.ErrCodec, err)
		}
	}
	return err
}
