package unzip

import (
	"github.com/meigma/unzip/internal/batch"
	"github.com/meigma/unzip/internal/ziptype"
)

// Sentinel errors re-exported from internal/ziptype.
var (
	// ErrTruncated is returned when the input ends before a record or entry is complete.
	ErrTruncated = ziptype.ErrTruncated

	// ErrMalformed is returned when a signature, count, or length field is inconsistent.
	ErrMalformed = ziptype.ErrMalformed

	// ErrUnsupportedMethod is returned for compression methods other than Stored and Deflated.
	ErrUnsupportedMethod = ziptype.ErrUnsupportedMethod

	// ErrChecksum is returned when decompressed content does not match its CRC-32.
	ErrChecksum = ziptype.ErrChecksum

	// ErrSizeMismatch is returned when decompressed content does not match its recorded size.
	ErrSizeMismatch = ziptype.ErrSizeMismatch

	// ErrPathTraversal is returned when an entry name would resolve outside the destination.
	ErrPathTraversal = ziptype.ErrPathTraversal

	// ErrStreamSync is returned when a streamed entry does not end at a known record boundary.
	ErrStreamSync = ziptype.ErrStreamSync

	// ErrCodec is returned when the deflate decoder rejects its input.
	ErrCodec = ziptype.ErrCodec

	// ErrEncrypted is returned for encrypted entries.
	ErrEncrypted = ziptype.ErrEncrypted

	// ErrSizeOverflow is returned when byte counts exceed supported limits.
	ErrSizeOverflow = ziptype.ErrSizeOverflow

	// ErrExists is returned by a Target when the destination file already exists.
	ErrExists = batch.ErrExists
)

type (
	// EntryError describes a failure confined to a single entry.
	EntryError = ziptype.EntryError

	// UnsupportedMethodError reports the compression method of an entry that
	// cannot be extracted. It matches ErrUnsupportedMethod.
	UnsupportedMethodError = ziptype.UnsupportedMethodError
)

// IsFatal reports whether err makes a whole archive unreadable, as opposed to
// a failure confined to one entry.
func IsFatal(err error) bool {
	return ziptype.Fatal(err)
}
