package directory

import (
	"context"
	"encoding/binary"
	"fmt"

	"github.com/meigma/unzip/internal/cursor"
	"github.com/meigma/unzip/internal/ziptype"
)

// End describes the central directory as recorded by the end of central
// directory record and, when present, its Zip64 counterpart.
type End struct {
	// Offset is the archive offset of the end of central directory record.
	Offset int64

	// DirOffset is the offset of the first central directory header,
	// already adjusted by BaseOffset.
	DirOffset uint64

	// DirSize is the size of the central directory in bytes.
	DirSize uint64

	// Count is the total number of central directory headers.
	Count uint64

	// Zip64 is true when values came from a Zip64 end of central directory record.
	Zip64 bool

	// Comment is the archive comment.
	Comment []byte

	// BaseOffset is the number of bytes prepended to the archive
	// (for example a self-extractor stub). Local header offsets are relative
	// to it.
	BaseOffset int64
}

// Locate finds the end of central directory record by scanning backward from
// the end of the input, then resolves Zip64 values and prepended data.
//
// The record is not at a fixed offset because a comment of up to 65535 bytes
// may follow it, so the scan covers at most that many bytes plus the record.
func Locate(ctx context.Context, c *cursor.Cursor) (End, error) {
	var end End

	recordOffset, err := findEnd(ctx, c)
	if err != nil {
		return end, err
	}
	raw, err := c.BytesAt(recordOffset, EndLen)
	if err != nil {
		return end, err
	}

	b := cursor.Buf(raw[4:])
	disk := b.Uint16()
	dirDisk := b.Uint16()
	countOnDisk := b.Uint16()
	count := b.Uint16()
	dirSize := b.Uint32()
	dirOffset := b.Uint32()
	commentLen := int(b.Uint16())

	comment, err := c.BytesAt(recordOffset+EndLen, commentLen)
	if err != nil {
		return end, err
	}

	end = End{
		Offset:    recordOffset,
		DirOffset: uint64(dirOffset),
		DirSize:   uint64(dirSize),
		Count:     uint64(count),
		Comment:   comment,
	}

	dirEnd := recordOffset
	if count == sentinel16 || countOnDisk == sentinel16 || dirSize == sentinel32 || dirOffset == sentinel32 {
		zip64Offset, found, err := readZip64(c, recordOffset, &end)
		if err != nil {
			return end, err
		}
		if found {
			dirEnd = zip64Offset
		}
	}
	if !end.Zip64 && (disk != 0 || dirDisk != 0 || countOnDisk != count) {
		return end, fmt.Errorf("%w: multi-volume archives are not supported (disk %d, directory disk %d)",
			ziptype.ErrMalformed, disk, dirDisk)
	}

	if err := resolveBase(c, dirEnd, &end); err != nil {
		return end, err
	}
	return end, nil
}

// findEnd scans backward for the end of central directory signature using a
// sliding window. Windows overlap by three bytes so a signature straddling a
// window boundary is still seen.
func findEnd(ctx context.Context, c *cursor.Cursor) (int64, error) {
	size := c.Size()
	if size < EndLen {
		return 0, fmt.Errorf("%w: end of central directory not found (input is %d bytes)", ziptype.ErrMalformed, size)
	}

	searchLimit := min(int64(maxCommentLen+EndLen), size)
	lowest := size - searchLimit
	windowEnd := size

	for windowEnd-lowest >= 4 {
		if err := ctx.Err(); err != nil {
			return 0, err
		}
		windowStart := max(windowEnd-scanWindow, lowest)
		chunk, err := c.BytesAt(windowStart, int(windowEnd-windowStart))
		if err != nil {
			return 0, err
		}
		for p := len(chunk) - 4; p >= 0; p-- {
			if binary.LittleEndian.Uint32(chunk[p:]) != EndSignature {
				continue
			}
			offset := windowStart + int64(p)
			if offset+EndLen > size {
				continue
			}
			commentLen, err := c.BytesAt(offset+EndLen-2, 2)
			if err != nil {
				return 0, err
			}
			if offset+EndLen+int64(binary.LittleEndian.Uint16(commentLen)) > size {
				continue
			}
			return offset, nil
		}
		if windowStart == lowest {
			break
		}
		windowEnd = windowStart + 3
	}

	return 0, fmt.Errorf("%w: end of central directory not found", ziptype.ErrMalformed)
}

// readZip64 reads the Zip64 locator immediately preceding the end record and
// the Zip64 end record it points to. A missing locator is not an error: the
// 32-bit fields may legitimately hold their maximum values.
func readZip64(c *cursor.Cursor, recordOffset int64, end *End) (int64, bool, error) {
	locatorOffset := recordOffset - Zip64LocatorLen
	if locatorOffset < 0 {
		return 0, false, nil
	}
	raw, err := c.BytesAt(locatorOffset, Zip64LocatorLen)
	if err != nil {
		return 0, false, err
	}
	b := cursor.Buf(raw)
	if b.Uint32() != Zip64LocatorSignature {
		return 0, false, nil
	}
	b.Uint32() // disk with the zip64 end record
	zip64Offset := b.Uint64()
	if disks := b.Uint32(); disks > 1 {
		return 0, false, fmt.Errorf("%w: multi-volume archives are not supported (%d disks)", ziptype.ErrMalformed, disks)
	}

	offset := int64(zip64Offset) //nolint:gosec // range checked below
	if zip64Offset > uint64(locatorOffset) {
		return 0, false, fmt.Errorf("%w: zip64 end record offset %d beyond locator at %d",
			ziptype.ErrMalformed, zip64Offset, locatorOffset)
	}
	if sig, err := c.Uint32At(offset); err != nil || sig != Zip64EndSignature {
		// Prepended data shifts every recorded offset; the record normally
		// sits directly before its locator.
		offset = locatorOffset - Zip64EndLen
		if offset < 0 {
			return 0, false, fmt.Errorf("%w: zip64 end record not found at %d", ziptype.ErrMalformed, zip64Offset)
		}
		if sig, err := c.Uint32At(offset); err != nil || sig != Zip64EndSignature {
			return 0, false, fmt.Errorf("%w: zip64 end record not found at %d", ziptype.ErrMalformed, zip64Offset)
		}
	}

	raw, err = c.BytesAt(offset, Zip64EndLen)
	if err != nil {
		return 0, false, err
	}
	b = cursor.Buf(raw[4:])
	b.Uint64() // size of remaining record
	b.Uint16() // version made by
	b.Uint16() // version needed
	disk := b.Uint32()
	dirDisk := b.Uint32()
	countOnDisk := b.Uint64()
	count := b.Uint64()
	if disk != 0 || dirDisk != 0 || countOnDisk != count {
		return 0, false, fmt.Errorf("%w: multi-volume archives are not supported (disk %d, directory disk %d)",
			ziptype.ErrMalformed, disk, dirDisk)
	}
	end.Count = count
	end.DirSize = b.Uint64()
	end.DirOffset = b.Uint64()
	end.Zip64 = true
	return offset, true, nil
}

// resolveBase detects data prepended to the archive. Writers record offsets
// relative to the start of the archive proper, so when the directory is not
// where the end record says, but is found immediately before the end record,
// every offset is shifted by the difference.
func resolveBase(c *cursor.Cursor, dirEnd int64, end *End) error {
	if end.DirSize > uint64(dirEnd) || end.DirOffset > uint64(dirEnd) {
		return fmt.Errorf("%w: central directory (offset %d, size %d) overlaps end record at %d",
			ziptype.ErrMalformed, end.DirOffset, end.DirSize, dirEnd)
	}
	if end.Count == 0 {
		return nil
	}
	base := dirEnd - int64(end.DirSize) - int64(end.DirOffset) //nolint:gosec // both bounded by dirEnd
	if base <= 0 {
		return nil
	}
	if sig, err := c.Uint32At(int64(end.DirOffset)); err == nil && sig == CentralHeaderSignature { //nolint:gosec // bounded by dirEnd
		return nil
	}
	if sig, err := c.Uint32At(int64(end.DirOffset) + base); err == nil && sig == CentralHeaderSignature { //nolint:gosec // bounded by dirEnd
		end.BaseOffset = base
		end.DirOffset += uint64(base)
	}
	return nil
}
