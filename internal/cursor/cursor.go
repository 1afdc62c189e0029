// Package cursor provides positioned little-endian reads over archive bytes.
package cursor

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/meigma/unzip/internal/ziptype"
)

// Cursor reads fixed-width little-endian integers and bounded byte slices
// from an io.ReaderAt, advancing an internal position.
//
// A Cursor is not safe for concurrent use; concurrent readers each create
// their own Cursor over the shared io.ReaderAt.
type Cursor struct {
	src  io.ReaderAt
	size int64
	pos  int64
	buf  [8]byte
}

// New returns a Cursor positioned at offset 0.
func New(src io.ReaderAt, size int64) *Cursor {
	if size < 0 {
		size = 0
	}
	return &Cursor{src: src, size: size}
}

// Size returns the total number of addressable bytes.
func (c *Cursor) Size() int64 {
	return c.size
}

// Pos returns the current position.
func (c *Cursor) Pos() int64 {
	return c.pos
}

// Remaining returns the number of bytes between the position and the end.
func (c *Cursor) Remaining() int64 {
	return c.size - c.pos
}

// Seek moves the position to off.
func (c *Cursor) Seek(off int64) error {
	if off < 0 || off > c.size {
		return fmt.Errorf("%w: seek to %d beyond %d bytes", ziptype.ErrTruncated, off, c.size)
	}
	c.pos = off
	return nil
}

// Skip advances the position by n bytes.
func (c *Cursor) Skip(n int64) error {
	if n < 0 || n > c.Remaining() {
		return c.truncated(c.pos, n)
	}
	c.pos += n
	return nil
}

// Uint16 reads a little-endian uint16 and advances.
func (c *Cursor) Uint16() (uint16, error) {
	if err := c.fill(c.pos, 2); err != nil {
		return 0, err
	}
	c.pos += 2
	return binary.LittleEndian.Uint16(c.buf[:2]), nil
}

// Uint32 reads a little-endian uint32 and advances.
func (c *Cursor) Uint32() (uint32, error) {
	if err := c.fill(c.pos, 4); err != nil {
		return 0, err
	}
	c.pos += 4
	return binary.LittleEndian.Uint32(c.buf[:4]), nil
}

// Uint64 reads a little-endian uint64 and advances.
func (c *Cursor) Uint64() (uint64, error) {
	if err := c.fill(c.pos, 8); err != nil {
		return 0, err
	}
	c.pos += 8
	return binary.LittleEndian.Uint64(c.buf[:8]), nil
}

// Uint16At reads a little-endian uint16 at off without moving the position.
func (c *Cursor) Uint16At(off int64) (uint16, error) {
	if err := c.fill(off, 2); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint16(c.buf[:2]), nil
}

// Uint32At reads a little-endian uint32 at off without moving the position.
func (c *Cursor) Uint32At(off int64) (uint32, error) {
	if err := c.fill(off, 4); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(c.buf[:4]), nil
}

// Bytes reads the next n bytes into a new slice and advances.
func (c *Cursor) Bytes(n int) ([]byte, error) {
	b, err := c.BytesAt(c.pos, n)
	if err != nil {
		return nil, err
	}
	c.pos += int64(n)
	return b, nil
}

// BytesAt reads n bytes at off into a new slice without moving the position.
func (c *Cursor) BytesAt(off int64, n int) ([]byte, error) {
	if n < 0 || off < 0 || off > c.size || int64(n) > c.size-off {
		return nil, c.truncated(off, int64(n))
	}
	b := make([]byte, n)
	if err := c.readFull(b, off); err != nil {
		return nil, err
	}
	return b, nil
}

func (c *Cursor) fill(off int64, n int) error {
	if off < 0 || off > c.size || int64(n) > c.size-off {
		return c.truncated(off, int64(n))
	}
	return c.readFull(c.buf[:n], off)
}

func (c *Cursor) readFull(p []byte, off int64) error {
	n, err := c.src.ReadAt(p, off)
	if n == len(p) {
		return nil
	}
	if err == nil || errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return fmt.Errorf("%w: short read at offset %d (%d of %d bytes)", ziptype.ErrTruncated, off, n, len(p))
	}
	return fmt.Errorf("read at %d: %w", off, err)
}

func (c *Cursor) truncated(off, want int64) error {
	have := c.size - off
	if have < 0 {
		have = 0
	}
	return fmt.Errorf("%w: need %d bytes at offset %d, have %d", ziptype.ErrTruncated, want, off, have)
}
