// Package local reads local file headers and data descriptors, the records
// that surround each entry's data.
package local

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/meigma/unzip/internal/cursor"
	"github.com/meigma/unzip/internal/directory"
	"github.com/meigma/unzip/internal/ziptype"
)

// HeaderLen is the fixed length of a local file header.
const HeaderLen = 30

// Header is a parsed local file header.
type Header struct {
	// Entry holds the values recorded in the local header. Sizes and CRC are
	// zero when the entry uses a data descriptor.
	Entry ziptype.Entry

	// Len is the header length including name and extra field.
	Len int64

	// DataOffset is the archive offset of the entry data. Set by HeaderAt only.
	DataOffset int64

	// Zip64Descriptor is true when a Zip64 extra field is present, which makes
	// the sizes in a trailing data descriptor 8 bytes wide.
	Zip64Descriptor bool

	// Zip64Err is set by HeaderAt when the sizes could not be resolved from
	// the Zip64 extra field. The sizes are then left as recorded.
	Zip64Err error
}

// ReadHeader reads a local file header, including its signature, from r.
func ReadHeader(r io.Reader, decode directory.NameDecoder) (Header, error) {
	var fixed [HeaderLen]byte
	if _, err := io.ReadFull(r, fixed[:]); err != nil {
		return Header{}, readErr("local header", err)
	}
	h, nameLen, extraLen, err := parseFixed(fixed[:])
	if err != nil {
		return h, err
	}
	tail := make([]byte, nameLen+extraLen)
	if _, err := io.ReadFull(r, tail); err != nil {
		return h, readErr("local header name", err)
	}
	if err := h.finish(tail[:nameLen], tail[nameLen:], decode, true); err != nil {
		return h, err
	}
	return h, nil
}

// HeaderAt reads the local file header at off and computes where its data begins.
// The sizes it reports are informational: a Zip64 inconsistency is recorded in
// Zip64Err rather than returned.
func HeaderAt(c *cursor.Cursor, off int64, decode directory.NameDecoder) (Header, error) {
	fixed, err := c.BytesAt(off, HeaderLen)
	if err != nil {
		return Header{}, err
	}
	h, nameLen, extraLen, err := parseFixed(fixed)
	if err != nil {
		return h, err
	}
	tail, err := c.BytesAt(off+HeaderLen, nameLen+extraLen)
	if err != nil {
		return h, err
	}
	if err := h.finish(tail[:nameLen], tail[nameLen:], decode, false); err != nil {
		return h, err
	}
	h.Entry.LocalHeaderOffset = uint64(off) //nolint:gosec // BytesAt rejects negative offsets
	h.DataOffset = off + h.Len
	return h, nil
}

func parseFixed(fixed []byte) (Header, int, int, error) {
	var h Header
	b := cursor.Buf(fixed)
	if sig := b.Uint32(); sig != directory.LocalHeaderSignature {
		return h, 0, 0, fmt.Errorf("%w: bad local header signature 0x%08x", ziptype.ErrMalformed, sig)
	}
	e := &h.Entry
	e.ReaderVersion = b.Uint16()
	e.Flags = b.Uint16()
	e.Method = ziptype.Method(b.Uint16())
	modTime := b.Uint16()
	modDate := b.Uint16()
	e.CRC32 = b.Uint32()
	e.CompressedSize = uint64(b.Uint32())
	e.UncompressedSize = uint64(b.Uint32())
	nameLen := int(b.Uint16())
	extraLen := int(b.Uint16())
	e.Modified = ziptype.MSDOSTime(modDate, modTime)
	e.NameUTF8 = e.Flags&ziptype.FlagUTF8 != 0
	h.Len = int64(HeaderLen + nameLen + extraLen)
	return h, nameLen, extraLen, nil
}

func (h *Header) finish(name, extra []byte, decode directory.NameDecoder, strict bool) error {
	e := &h.Entry
	e.Name = string(name)
	if decode != nil && !e.NameUTF8 {
		var err error
		if e.Name, err = decode(name); err != nil {
			return fmt.Errorf("decode name: %w", err)
		}
	}
	e.Extra = extra

	fields := directory.ParseExtra(extra)
	for _, f := range fields {
		if f.Tag == directory.Zip64ExtraTag {
			h.Zip64Descriptor = true
		}
	}
	v := directory.Zip64Values{
		UncompressedSize: e.UncompressedSize,
		CompressedSize:   e.CompressedSize,
	}
	need := directory.Zip64Need{
		UncompressedSize: e.UncompressedSize == 0xffffffff,
		CompressedSize:   e.CompressedSize == 0xffffffff,
	}
	ok, err := directory.ApplyZip64(fields, need, &v)
	switch {
	case err == nil:
		e.Zip64 = ok
		e.UncompressedSize, e.CompressedSize = v.UncompressedSize, v.CompressedSize
	case strict:
		return err
	default:
		h.Zip64Err = err
	}
	if t, ok := directory.ModTime(fields); ok {
		e.Modified = t
	}
	e.IsDir = ziptype.DetectDir(e.Name, 0, 0)
	return nil
}

// readErr maps short reads to ErrTruncated.
func readErr(what string, err error) error {
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return fmt.Errorf("%w: %s", ziptype.ErrTruncated, what)
	}
	return fmt.Errorf("read %s: %w", what, err)
}

// Signature interprets the first four bytes of p as a record signature.
func Signature(p []byte) uint32 {
	if len(p) < 4 {
		return 0
	}
	return binary.LittleEndian.Uint32(p)
}
