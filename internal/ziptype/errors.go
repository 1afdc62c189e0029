package ziptype

import (
	"errors"
	"fmt"
)

// Sentinel errors for archive and entry processing.
var (
	// ErrTruncated is returned when the input ends before a record or entry is complete.
	ErrTruncated = errors.New("unzip: truncated input")

	// ErrMalformed is returned when a signature, count, or length field is inconsistent.
	ErrMalformed = errors.New("unzip: malformed archive")

	// ErrUnsupportedMethod is returned for compression methods other than Stored and Deflated.
	ErrUnsupportedMethod = errors.New("unzip: unsupported compression method")

	// ErrChecksum is returned when decompressed content does not match its CRC-32.
	ErrChecksum = errors.New("unzip: checksum mismatch")

	// ErrSizeMismatch is returned when decompressed content does not match its recorded size.
	ErrSizeMismatch = errors.New("unzip: size mismatch")

	// ErrPathTraversal is returned when an entry name would resolve outside the destination.
	ErrPathTraversal = errors.New("unzip: path traversal")

	// ErrStreamSync is returned when a streamed entry does not end at a known record boundary.
	ErrStreamSync = errors.New("unzip: stream out of sync")

	// ErrCodec is returned when the deflate decoder rejects its input.
	ErrCodec = errors.New("unzip: codec error")

	// ErrEncrypted is returned for encrypted entries.
	ErrEncrypted = errors.New("unzip: encrypted entry")

	// ErrSizeOverflow is returned when byte counts exceed supported limits.
	ErrSizeOverflow = errors.New("unzip: size overflow")
)

// UnsupportedMethodError reports the compression method code of an entry
// that cannot be extracted.
type UnsupportedMethodError struct {
	Method Method
}

func (e *UnsupportedMethodError) Error() string {
	return fmt.Sprintf("%v: %d (%s)", ErrUnsupportedMethod, uint16(e.Method), e.Method)
}

// Is reports whether target is ErrUnsupportedMethod.
func (e *UnsupportedMethodError) Is(target error) bool {
	return target == ErrUnsupportedMethod
}

// EntryError describes a failure confined to a single entry.
type EntryError struct {
	// Index is the position of the entry in directory (or stream) order.
	Index int

	// Name is the stored entry name, unvalidated.
	Name string

	// Offset is the archive offset of the entry's local header, or -1 if unknown.
	Offset int64

	Err error
}

func (e *EntryError) Error() string {
	if e.Offset >= 0 {
		return fmt.Sprintf("entry %d %q at offset %d: %v", e.Index, e.Name, e.Offset, e.Err)
	}
	return fmt.Sprintf("entry %d %q: %v", e.Index, e.Name, e.Err)
}

func (e *EntryError) Unwrap() error {
	return e.Err
}

// Fatal reports whether err aborts a whole archive rather than a single entry.
func Fatal(err error) bool {
	var entryErr *EntryError
	if errors.As(err, &entryErr) {
		return false
	}
	return errors.Is(err, ErrMalformed) || errors.Is(err, ErrTruncated)
}
