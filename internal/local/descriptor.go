package local

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"fmt"
	"hash/crc32"
	"io"

	"github.com/meigma/unzip/internal/cursor"
	"github.com/meigma/unzip/internal/directory"
	"github.com/meigma/unzip/internal/ziptype"
)

// Descriptor holds the values from a data descriptor.
type Descriptor struct {
	CRC32            uint32
	CompressedSize   uint64
	UncompressedSize uint64
}

func descriptorLen(zip64 bool) int {
	if zip64 {
		return 4 + 8 + 8
	}
	return 4 + 4 + 4
}

// ReadDescriptor reads the data descriptor following entry data. The
// descriptor signature is optional and detected by peeking.
func ReadDescriptor(br *bufio.Reader, zip64 bool) (Descriptor, error) {
	head, err := br.Peek(4)
	if err != nil {
		return Descriptor{}, readErr("data descriptor", err)
	}
	if Signature(head) == directory.DescriptorSignature {
		if _, err := br.Discard(4); err != nil {
			return Descriptor{}, readErr("data descriptor", err)
		}
	}
	raw := make([]byte, descriptorLen(zip64))
	if _, err := io.ReadFull(br, raw); err != nil {
		return Descriptor{}, readErr("data descriptor", err)
	}
	return parseDescriptor(raw, zip64), nil
}

func parseDescriptor(raw []byte, zip64 bool) Descriptor {
	b := cursor.Buf(raw)
	d := Descriptor{CRC32: b.Uint32()}
	if zip64 {
		d.CompressedSize = b.Uint64()
		d.UncompressedSize = b.Uint64()
	} else {
		d.CompressedSize = uint64(b.Uint32())
		d.UncompressedSize = uint64(b.Uint32())
	}
	return d
}

var descriptorMagic = []byte{0x50, 0x4b, 0x07, 0x08}

// ScanStored copies the data of a Stored entry whose size is not recorded
// up front. It scans for a signed data descriptor whose sizes equal the bytes
// copied so far and whose CRC matches them, then consumes the descriptor.
// Data is only written to w once it is known not to be part of the descriptor.
//
// More than limit bytes of data fails with ErrSizeOverflow.
func ScanStored(br *bufio.Reader, w io.Writer, zip64 bool, limit int64) (Descriptor, error) {
	need := 4 + descriptorLen(zip64)
	crc := crc32.NewIEEE()
	var n int64

	for {
		if _, err := br.Peek(need); err != nil {
			return Descriptor{}, readErr("stored entry data", err)
		}
		window, _ := br.Peek(br.Buffered())

		i := bytes.Index(window, descriptorMagic)
		switch {
		case i == 0:
			d := parseDescriptor(window[4:need], zip64)
			if d.CompressedSize == uint64(n) && d.UncompressedSize == uint64(n) && d.CRC32 == crc.Sum32() { //nolint:gosec // n is non-negative
				_, _ = br.Discard(need)
				return d, nil
			}
			i = 1
		case i < 0:
			// Keep a possible partial signature at the end of the window.
			i = len(window) - (len(descriptorMagic) - 1)
		}

		if n+int64(i) > limit {
			return Descriptor{}, fmt.Errorf("%w: stored entry exceeds %d bytes", ziptype.ErrSizeOverflow, limit)
		}
		chunk := window[:i]
		crc.Write(chunk)
		if _, err := w.Write(chunk); err != nil {
			return Descriptor{}, err
		}
		n += int64(i)
		if _, err := br.Discard(i); err != nil {
			return Descriptor{}, readErr("stored entry data", err)
		}
	}
}

// RecordSignature reports whether sig begins a record that may follow entry
// data in a well-formed stream.
func RecordSignature(sig uint32) bool {
	switch sig {
	case directory.LocalHeaderSignature, directory.CentralHeaderSignature,
		directory.EndSignature, directory.Zip64EndSignature:
		return true
	}
	return false
}

// Resync discards bytes until the next local header, central directory
// header, or end record signature and returns the number discarded.
func Resync(br *bufio.Reader) (int64, error) {
	var skipped int64
	for {
		if _, err := br.Peek(4); err != nil {
			return skipped, readErr("resync", err)
		}
		window, _ := br.Peek(br.Buffered())
		for i := 0; i+4 <= len(window); i++ {
			if window[i] == 'P' && RecordSignature(binary.LittleEndian.Uint32(window[i:])) {
				_, _ = br.Discard(i)
				return skipped + int64(i), nil
			}
		}
		i := len(window) - 3
		_, _ = br.Discard(i)
		skipped += int64(i)
	}
}
