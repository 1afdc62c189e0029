package testutil

import (
	"bytes"
	"encoding/binary"
	"hash/crc32"
	"io/fs"
	"strings"
	"testing"
	"time"

	"github.com/klauspost/compress/flate"
)

// Compression method codes written by the builder.
const (
	Stored   uint16 = 0
	Deflated uint16 = 8
)

// ZipEntry describes one member written by BuildZip.
type ZipEntry struct {
	Name string
	Data []byte

	// Method is the recorded compression method. Values other than Stored
	// and Deflated store Data as-is under that method code.
	Method uint16

	// Descriptor sets flag bit 3, zeroes the local CRC and sizes, and writes
	// a data descriptor after the data.
	Descriptor bool

	// NoDescriptorSignature omits the optional descriptor signature.
	NoDescriptorSignature bool

	// Zip64 forces Zip64 extra fields and sentinel sizes and offsets.
	Zip64 bool

	// Mode, if non-zero, is recorded as a Unix mode in the external attributes.
	Mode fs.FileMode

	// DOSAttrs are recorded as MS-DOS attributes when Mode is zero.
	DOSAttrs uint8

	// Flags are OR-ed into the general purpose flags.
	Flags uint16

	// Modified is recorded as an MS-DOS time; ExtTime also records it in an
	// extended timestamp field.
	Modified time.Time
	ExtTime  bool

	// BadCRC records a CRC-32 that does not match Data.
	BadCRC bool
}

// ZipLayout locates an entry inside a built archive.
type ZipLayout struct {
	HeaderOffset int64
	DataOffset   int64
	DataLen      int64
}

// Zip is a built archive and the offsets of its parts.
type Zip struct {
	Data          []byte
	Entries       []ZipLayout
	CentralOffset int64
	EndOffset     int64
}

type zipConfig struct {
	comment  string
	prefix   []byte
	zip64End bool
	level    int
}

// ZipOption configures BuildZip.
type ZipOption func(*zipConfig)

// WithZipComment sets the archive comment.
func WithZipComment(comment string) ZipOption {
	return func(c *zipConfig) {
		c.comment = comment
	}
}

// WithPrefix prepends data to the archive without adjusting recorded offsets,
// as a self-extracting stub would.
func WithPrefix(prefix []byte) ZipOption {
	return func(c *zipConfig) {
		c.prefix = prefix
	}
}

// WithZip64End writes a Zip64 end of central directory record and locator
// and stores sentinels in the classic end record.
func WithZip64End() ZipOption {
	return func(c *zipConfig) {
		c.zip64End = true
	}
}

// WithDeflateLevel sets the flate compression level.
func WithDeflateLevel(level int) ZipOption {
	return func(c *zipConfig) {
		c.level = level
	}
}

// BuildZip writes entries into an in-memory ZIP archive.
func BuildZip(tb testing.TB, entries []ZipEntry, opts ...ZipOption) *Zip {
	tb.Helper()

	cfg := zipConfig{level: flate.DefaultCompression}
	for _, opt := range opts {
		opt(&cfg)
	}

	var (
		out     bytes.Buffer
		central bytes.Buffer
		z       = &Zip{}
	)

	for _, e := range entries {
		compressed := e.Data
		if e.Method == Deflated {
			compressed = deflate(tb, e.Data, cfg.level)
		}
		crc := crc32.ChecksumIEEE(e.Data)
		if e.BadCRC {
			crc ^= 0xffffffff
		}
		flags := e.Flags
		if e.Descriptor {
			flags |= 1 << 3
		}
		version := uint16(20)
		if e.Zip64 {
			version = 45
		}
		dosDate, dosTime := msdosTime(e.Modified)
		headerOffset := int64(out.Len())

		// Local header.
		var localExtra []byte
		localCRC, localC, localU := crc, uint32(len(compressed)), uint32(len(e.Data)) //nolint:gosec // test data
		if e.Zip64 {
			localC, localU = 0xffffffff, 0xffffffff
			localExtra = zip64Extra(uint64(len(e.Data)), uint64(len(compressed)))
		}
		if e.Descriptor {
			localCRC = 0
			if !e.Zip64 {
				localC, localU = 0, 0
			} else {
				localExtra = zip64Extra(0, 0)
			}
		}
		if e.ExtTime {
			localExtra = append(localExtra, extTime(e.Modified)...)
		}
		le(&out, uint32(0x04034b50), version, flags, e.Method, dosTime, dosDate,
			localCRC, localC, localU, uint16(len(e.Name)), uint16(len(localExtra))) //nolint:gosec // test data
		out.WriteString(e.Name)
		out.Write(localExtra)
		dataOffset := int64(out.Len())
		out.Write(compressed)

		if e.Descriptor {
			if !e.NoDescriptorSignature {
				le(&out, uint32(0x08074b50))
			}
			le(&out, crc)
			if e.Zip64 {
				le(&out, uint64(len(compressed)), uint64(len(e.Data)))
			} else {
				le(&out, uint32(len(compressed)), uint32(len(e.Data))) //nolint:gosec // test data
			}
		}

		z.Entries = append(z.Entries, ZipLayout{
			HeaderOffset: headerOffset + int64(len(cfg.prefix)),
			DataOffset:   dataOffset + int64(len(cfg.prefix)),
			DataLen:      int64(len(compressed)),
		})

		// Central header.
		creator := version
		var external uint32
		if e.Mode != 0 {
			creator |= 3 << 8
			external = unixMode(e.Mode) << 16
		} else {
			external = uint32(e.DOSAttrs)
			if strings.HasSuffix(e.Name, "/") {
				external |= 0x10
			}
		}
		centralC, centralU, centralOff := uint32(len(compressed)), uint32(len(e.Data)), uint32(headerOffset) //nolint:gosec // test data
		var centralExtra []byte
		if e.Zip64 {
			centralC, centralU, centralOff = 0xffffffff, 0xffffffff, 0xffffffff
			centralExtra = zip64Extra(uint64(len(e.Data)), uint64(len(compressed)), uint64(headerOffset)) //nolint:gosec // test data
		}
		if e.ExtTime {
			centralExtra = append(centralExtra, extTime(e.Modified)...)
		}
		le(&central, uint32(0x02014b50), creator, version, flags, e.Method, dosTime, dosDate,
			crc, centralC, centralU, uint16(len(e.Name)), uint16(len(centralExtra)), uint16(0), //nolint:gosec // test data
			uint16(0), uint16(0), external, centralOff)
		central.WriteString(e.Name)
		central.Write(centralExtra)
	}

	centralOffset := int64(out.Len())
	out.Write(central.Bytes())
	centralSize := central.Len()

	count16, size32, offset32 := uint16(len(entries)), uint32(centralSize), uint32(centralOffset) //nolint:gosec // test data
	if cfg.zip64End {
		zip64EndOffset := out.Len()
		le(&out, uint32(0x06064b50), uint64(44), uint16(45), uint16(45), uint32(0), uint32(0),
			uint64(len(entries)), uint64(len(entries)), uint64(centralSize), uint64(centralOffset)) //nolint:gosec // test data
		le(&out, uint32(0x07064b50), uint32(0), uint64(zip64EndOffset), uint32(1)) //nolint:gosec // test data
		count16, size32, offset32 = 0xffff, 0xffffffff, 0xffffffff
	}
	endOffset := int64(out.Len())
	le(&out, uint32(0x06054b50), uint16(0), uint16(0), count16, count16, size32, offset32,
		uint16(len(cfg.comment))) //nolint:gosec // test data
	out.WriteString(cfg.comment)

	z.CentralOffset = centralOffset + int64(len(cfg.prefix))
	z.EndOffset = endOffset + int64(len(cfg.prefix))
	z.Data = append(append([]byte{}, cfg.prefix...), out.Bytes()...)
	return z
}

func deflate(tb testing.TB, data []byte, level int) []byte {
	tb.Helper()
	var buf bytes.Buffer
	w, err := flate.NewWriter(&buf, level)
	if err != nil {
		tb.Fatalf("flate writer: %v", err)
	}
	if _, err := w.Write(data); err != nil {
		tb.Fatalf("deflate: %v", err)
	}
	if err := w.Close(); err != nil {
		tb.Fatalf("deflate close: %v", err)
	}
	return buf.Bytes()
}

// Deflate compresses data with the default level. Tests use it to build
// streams by hand.
func Deflate(tb testing.TB, data []byte) []byte {
	tb.Helper()
	return deflate(tb, data, flate.DefaultCompression)
}

func zip64Extra(values ...uint64) []byte {
	var b bytes.Buffer
	le(&b, uint16(0x0001), uint16(8*len(values))) //nolint:gosec // at most three values
	for _, v := range values {
		le(&b, v)
	}
	return b.Bytes()
}

func extTime(t time.Time) []byte {
	var b bytes.Buffer
	le(&b, uint16(0x5455), uint16(5), uint8(1), uint32(t.Unix())) //nolint:gosec // test data
	return b.Bytes()
}

func unixMode(m fs.FileMode) uint32 {
	mode := uint32(m.Perm())
	switch {
	case m&fs.ModeDir != 0:
		mode |= 0o040000
	case m&fs.ModeSymlink != 0:
		mode |= 0o120000
	default:
		mode |= 0o100000
	}
	return mode
}

func msdosTime(t time.Time) (date, clock uint16) {
	if t.IsZero() || t.Year() < 1980 {
		return 0, 0
	}
	date = uint16(t.Day() + int(t.Month())<<5 + (t.Year()-1980)<<9) //nolint:gosec // range checked
	clock = uint16(t.Second()/2 + t.Minute()<<5 + t.Hour()<<11)     //nolint:gosec // range checked
	return date, clock
}

func le(b *bytes.Buffer, values ...any) {
	for _, v := range values {
		_ = binary.Write(b, binary.LittleEndian, v)
	}
}
