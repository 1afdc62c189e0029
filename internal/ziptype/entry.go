// Package ziptype defines shared types used across the unzip package and its
// internal packages. This avoids circular imports between unzip and the
// record readers.
package ziptype

import (
	"io/fs"
	"strings"
	"time"
)

// General purpose bit flags.
const (
	FlagEncrypted      uint16 = 1 << 0
	FlagDataDescriptor uint16 = 1 << 3
	FlagUTF8           uint16 = 1 << 11
)

// Host systems recorded in the upper byte of the creator version.
const (
	hostFAT  = 0
	hostUnix = 3
	hostNTFS = 10
	hostVFAT = 14
	hostOSX  = 19
)

// Unix file type bits stored in the upper half of the external attributes.
const (
	unixTypeMask = 0o170000
	unixDir      = 0o040000
	unixSymlink  = 0o120000
	unixFIFO     = 0o010000
	unixChar     = 0o020000
	unixBlock    = 0o060000
	unixSocket   = 0o140000

	msdosDir      = 0x10
	msdosReadOnly = 0x01
)

// Entry describes a single archive member.
//
// Entries are value data: they are built once by the directory or local
// header readers and never modified afterwards.
type Entry struct {
	// Index is the position of the entry in directory or stream order.
	Index int

	// Name is the stored name exactly as recorded, possibly not UTF-8.
	// It has not been validated as a filesystem path.
	Name string

	// NameUTF8 is true when the UTF-8 flag bit is set.
	NameUTF8 bool

	// Method is the compression method code.
	Method Method

	// Flags holds the general purpose bit flags.
	Flags uint16

	// CompressedSize is the size of the stored data in bytes.
	CompressedSize uint64

	// UncompressedSize is the size of the decompressed data in bytes.
	UncompressedSize uint64

	// CRC32 is the IEEE CRC-32 of the decompressed data.
	CRC32 uint32

	// LocalHeaderOffset is the offset of the local file header, already
	// adjusted for any data prepended to the archive.
	LocalHeaderOffset uint64

	// ExternalAttrs holds host-dependent attributes (Unix mode in the upper 16 bits).
	ExternalAttrs uint32

	// CreatorVersion is the "version made by" field; its upper byte is the host system.
	CreatorVersion uint16

	// ReaderVersion is the "version needed to extract" field.
	ReaderVersion uint16

	// Modified is the modification time.
	Modified time.Time

	// Comment is the per-entry comment.
	Comment string

	// Extra holds the raw extra field bytes.
	Extra []byte

	// Zip64 is true when a Zip64 extra field supplied 64-bit values.
	Zip64 bool

	// IsDir is true for directory entries.
	IsDir bool
}

// HasDataDescriptor reports whether sizes and CRC follow the entry data.
func (e *Entry) HasDataDescriptor() bool {
	return e.Flags&FlagDataDescriptor != 0
}

// Encrypted reports whether the entry data is encrypted.
func (e *Entry) Encrypted() bool {
	return e.Flags&FlagEncrypted != 0
}

// Host returns the host system that created the entry.
func (e *Entry) Host() uint8 {
	return uint8(e.CreatorVersion >> 8)
}

// IsSymlink reports whether the Unix mode marks the entry as a symbolic link.
func (e *Entry) IsSymlink() bool {
	return e.unixMode()&unixTypeMask == unixSymlink && e.hasUnixMode()
}

// Mode derives file mode bits from the external attributes.
//
// Unix hosts contribute permission and type bits; MS-DOS style hosts only
// contribute the directory and read-only attributes.
func (e *Entry) Mode() fs.FileMode {
	if e.hasUnixMode() {
		unix := e.unixMode()
		mode := fs.FileMode(unix & 0o777)
		switch unix & unixTypeMask {
		case unixDir:
			mode |= fs.ModeDir
		case unixSymlink:
			mode |= fs.ModeSymlink
		case unixFIFO:
			mode |= fs.ModeNamedPipe
		case unixChar:
			mode |= fs.ModeDevice | fs.ModeCharDevice
		case unixBlock:
			mode |= fs.ModeDevice
		case unixSocket:
			mode |= fs.ModeSocket
		}
		if e.IsDir {
			mode |= fs.ModeDir
		}
		return mode
	}

	var mode fs.FileMode = 0o644
	if e.IsDir {
		mode = fs.ModeDir | 0o755
	}
	if e.ExternalAttrs&msdosReadOnly != 0 {
		mode &^= 0o222
	}
	return mode
}

func (e *Entry) hasUnixMode() bool {
	switch e.Host() {
	case hostUnix, hostOSX:
		return e.unixMode() != 0
	default:
		return false
	}
}

func (e *Entry) unixMode() uint32 {
	return e.ExternalAttrs >> 16
}

// DetectDir reports whether an entry with the given name and attributes is a
// directory: a trailing slash, the MS-DOS directory attribute, or a Unix
// directory mode.
func DetectDir(name string, creatorVersion uint16, externalAttrs uint32) bool {
	if strings.HasSuffix(name, "/") || strings.HasSuffix(name, `\`) {
		return true
	}
	switch creatorVersion >> 8 {
	case hostUnix, hostOSX:
		return (externalAttrs>>16)&unixTypeMask == unixDir
	case hostFAT, hostNTFS, hostVFAT:
		return externalAttrs&msdosDir != 0
	}
	return false
}

// MSDOSTime converts an MS-DOS date and time into a time.Time.
// The resolution is 2s and the result is in UTC.
func MSDOSTime(dosDate, dosTime uint16) time.Time {
	if dosDate == 0 && dosTime == 0 {
		return time.Time{}
	}
	return time.Date(
		int(dosDate>>9+1980),
		time.Month(dosDate>>5&0xf),
		int(dosDate&0x1f),
		int(dosTime>>11),
		int(dosTime>>5&0x3f),
		int(dosTime&0x1f*2),
		0,
		time.UTC,
	)
}
