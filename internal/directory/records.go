// Package directory locates and parses the central directory of a ZIP archive.
package directory

// Record signatures. Each begins with the "PK" marker 0x4b50.
const (
	CentralHeaderSignature = 0x02014b50
	LocalHeaderSignature   = 0x04034b50
	EndSignature           = 0x06054b50
	Zip64LocatorSignature  = 0x07064b50
	Zip64EndSignature      = 0x06064b50
	DescriptorSignature    = 0x08074b50
)

// Fixed record lengths, excluding variable-length trailers.
const (
	CentralHeaderLen = 46
	EndLen           = 22
	Zip64LocatorLen  = 20
	Zip64EndLen      = 56

	maxCommentLen = 0xffff
	scanWindow    = 1024
)

// Sentinel values that redirect a field to its Zip64 counterpart.
const (
	sentinel16 = 0xffff
	sentinel32 = 0xffffffff
)

// Extra field tags.
const (
	Zip64ExtraTag     = 0x0001
	ExtTimestampTag   = 0x5455
	extTimeModTimeBit = 0x01
)
