package directory

import (
	"fmt"
	"time"

	"github.com/meigma/unzip/internal/cursor"
	"github.com/meigma/unzip/internal/ziptype"
)

// ExtraField is one (tag, data) tuple from an extra field block.
type ExtraField struct {
	Tag  uint16
	Data []byte
}

// ParseExtra splits an extra field block into its tuples.
//
// A trailing fragment too short to hold a tuple header, or a tuple whose
// declared length runs past the block, ends parsing; the tuples before it are
// still returned.
func ParseExtra(extra []byte) []ExtraField {
	var fields []ExtraField
	b := cursor.Buf(extra)
	for b.Len() >= 4 {
		tag := b.Uint16()
		size := int(b.Uint16())
		if size > b.Len() {
			break
		}
		fields = append(fields, ExtraField{Tag: tag, Data: b.Sub(size)})
	}
	return fields
}

// Zip64Values holds the header fields that may be redirected to a Zip64 extra field.
type Zip64Values struct {
	UncompressedSize uint64
	CompressedSize   uint64
	Offset           uint64
}

// Zip64Need records which fields were sentinel-valued in a fixed header.
type Zip64Need struct {
	UncompressedSize bool
	CompressedSize   bool
	Offset           bool
}

// Any reports whether any field needs a 64-bit value.
func (n Zip64Need) Any() bool {
	return n.UncompressedSize || n.CompressedSize || n.Offset
}

// ApplyZip64 overrides the fields marked in need with 64-bit values from the
// Zip64 extended information field. The field stores only the values that were
// sentinel in the fixed header, in the order uncompressed size, compressed
// size, local header offset.
func ApplyZip64(fields []ExtraField, need Zip64Need, v *Zip64Values) (bool, error) {
	if !need.Any() {
		return false, nil
	}
	for _, f := range fields {
		if f.Tag != Zip64ExtraTag {
			continue
		}
		b := cursor.Buf(f.Data)
		if need.UncompressedSize {
			if b.Len() < 8 {
				return false, fmt.Errorf("%w: zip64 extra field missing uncompressed size", ziptype.ErrMalformed)
			}
			v.UncompressedSize = b.Uint64()
		}
		if need.CompressedSize {
			if b.Len() < 8 {
				return false, fmt.Errorf("%w: zip64 extra field missing compressed size", ziptype.ErrMalformed)
			}
			v.CompressedSize = b.Uint64()
		}
		if need.Offset {
			if b.Len() < 8 {
				return false, fmt.Errorf("%w: zip64 extra field missing header offset", ziptype.ErrMalformed)
			}
			v.Offset = b.Uint64()
		}
		return true, nil
	}
	return false, fmt.Errorf("%w: sentinel size without zip64 extra field", ziptype.ErrMalformed)
}

// ModTime returns the modification time from an extended timestamp field, if any.
func ModTime(fields []ExtraField) (time.Time, bool) {
	for _, f := range fields {
		if f.Tag != ExtTimestampTag {
			continue
		}
		b := cursor.Buf(f.Data)
		if b.Len() < 5 {
			continue
		}
		if b.Uint8()&extTimeModTimeBit == 0 {
			continue
		}
		// The field is a signed 32-bit count of seconds.
		return time.Unix(int64(int32(b.Uint32())), 0).UTC(), true //nolint:gosec // reinterpreted as signed on purpose
	}
	return time.Time{}, false
}
