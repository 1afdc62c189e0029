package directory

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/meigma/unzip/internal/cursor"
	"github.com/meigma/unzip/internal/ziptype"
)

// maxPrealloc bounds the initial capacity of the entry slice. Larger
// directories still load; they just grow the slice as they go.
const maxPrealloc = 1 << 16

// NameDecoder transcodes a stored name that does not carry the UTF-8 flag.
type NameDecoder func(raw []byte) (string, error)

// Options configures ReadEntries.
type Options struct {
	// NameDecoder, if set, is applied to names and comments stored without
	// the UTF-8 flag. Nil passes the raw bytes through.
	NameDecoder NameDecoder

	// Logger receives debug output. Nil discards it.
	Logger *slog.Logger
}

func (o Options) log() *slog.Logger {
	if o.Logger != nil {
		return o.Logger
	}
	return slog.New(slog.DiscardHandler)
}

// ReadEntries reads exactly end.Count central directory headers starting at
// end.DirOffset. Any inconsistency is archive-fatal.
func ReadEntries(ctx context.Context, c *cursor.Cursor, end End, opts Options) ([]ziptype.Entry, error) {
	if end.Count > uint64(c.Size()/CentralHeaderLen) { //nolint:gosec // size is non-negative
		return nil, fmt.Errorf("%w: %d entries cannot fit in %d bytes", ziptype.ErrMalformed, end.Count, c.Size())
	}
	if end.DirOffset > uint64(c.Size()) { //nolint:gosec // size is non-negative
		return nil, fmt.Errorf("%w: central directory offset %d beyond %d bytes", ziptype.ErrMalformed, end.DirOffset, c.Size())
	}
	if err := c.Seek(int64(end.DirOffset)); err != nil { //nolint:gosec // bounded above
		return nil, err
	}

	count := int(end.Count) //nolint:gosec // bounded by input size above
	entries := make([]ziptype.Entry, 0, min(count, maxPrealloc))
	log := opts.log()

	for i := range count {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		offset := c.Pos()
		e, err := readCentral(c, opts.NameDecoder)
		if err != nil {
			return nil, fmt.Errorf("central directory entry %d at offset %d: %w", i, offset, err)
		}
		e.Index = i
		e.LocalHeaderOffset += uint64(end.BaseOffset) //nolint:gosec // base offset is non-negative
		log.Debug("central directory entry",
			slog.Int("index", i),
			slog.String("name", e.Name),
			slog.String("method", e.Method.String()),
			slog.Uint64("compressed", e.CompressedSize),
			slog.Uint64("size", e.UncompressedSize),
		)
		entries = append(entries, e)
	}
	return entries, nil
}

func readCentral(c *cursor.Cursor, decode NameDecoder) (ziptype.Entry, error) {
	var e ziptype.Entry

	raw, err := c.Bytes(CentralHeaderLen)
	if err != nil {
		return e, err
	}
	b := cursor.Buf(raw)
	if sig := b.Uint32(); sig != CentralHeaderSignature {
		return e, fmt.Errorf("%w: bad central header signature 0x%08x", ziptype.ErrMalformed, sig)
	}
	e.CreatorVersion = b.Uint16()
	e.ReaderVersion = b.Uint16()
	e.Flags = b.Uint16()
	e.Method = ziptype.Method(b.Uint16())
	modTime := b.Uint16()
	modDate := b.Uint16()
	e.CRC32 = b.Uint32()
	compressed := b.Uint32()
	uncompressed := b.Uint32()
	nameLen := int(b.Uint16())
	extraLen := int(b.Uint16())
	commentLen := int(b.Uint16())
	b.Uint16() // disk number start
	b.Uint16() // internal attributes
	e.ExternalAttrs = b.Uint32()
	offset := b.Uint32()

	name, err := c.Bytes(nameLen)
	if err != nil {
		return e, err
	}
	e.Extra, err = c.Bytes(extraLen)
	if err != nil {
		return e, err
	}
	comment, err := c.Bytes(commentLen)
	if err != nil {
		return e, err
	}

	e.NameUTF8 = e.Flags&ziptype.FlagUTF8 != 0
	e.Name, e.Comment = string(name), string(comment)
	if decode != nil && !e.NameUTF8 {
		if e.Name, err = decode(name); err != nil {
			return e, fmt.Errorf("decode name: %w", err)
		}
		if e.Comment, err = decode(comment); err != nil {
			return e, fmt.Errorf("decode comment: %w", err)
		}
	}

	v := Zip64Values{
		UncompressedSize: uint64(uncompressed),
		CompressedSize:   uint64(compressed),
		Offset:           uint64(offset),
	}
	need := Zip64Need{
		UncompressedSize: uncompressed == sentinel32,
		CompressedSize:   compressed == sentinel32,
		Offset:           offset == sentinel32,
	}
	fields := ParseExtra(e.Extra)
	if e.Zip64, err = ApplyZip64(fields, need, &v); err != nil {
		return e, err
	}
	e.UncompressedSize = v.UncompressedSize
	e.CompressedSize = v.CompressedSize
	e.LocalHeaderOffset = v.Offset

	e.Modified = ziptype.MSDOSTime(modDate, modTime)
	if t, ok := ModTime(fields); ok {
		e.Modified = t
	}
	e.IsDir = ziptype.DetectDir(e.Name, e.CreatorVersion, e.ExternalAttrs)
	return e, nil
}
