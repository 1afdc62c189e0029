package cursor

import "encoding/binary"

// Buf decodes little-endian fields from a record that has already been read
// in full. Callers check the length once, up front; the accessors do not.
type Buf []byte

// Uint8 consumes one byte.
func (b *Buf) Uint8() uint8 {
	v := (*b)[0]
	*b = (*b)[1:]
	return v
}

// Uint16 consumes a little-endian uint16.
func (b *Buf) Uint16() uint16 {
	v := binary.LittleEndian.Uint16(*b)
	*b = (*b)[2:]
	return v
}

// Uint32 consumes a little-endian uint32.
func (b *Buf) Uint32() uint32 {
	v := binary.LittleEndian.Uint32(*b)
	*b = (*b)[4:]
	return v
}

// Uint64 consumes a little-endian uint64.
func (b *Buf) Uint64() uint64 {
	v := binary.LittleEndian.Uint64(*b)
	*b = (*b)[8:]
	return v
}

// Sub consumes and returns the next n bytes.
func (b *Buf) Sub(n int) Buf {
	b2 := (*b)[:n]
	*b = (*b)[n:]
	return b2
}

// Len returns the number of unconsumed bytes.
func (b Buf) Len() int {
	return len(b)
}
