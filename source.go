package unzip

import (
	"bytes"
	"fmt"
	"io"
	"os"
)

// ByteSource provides random access to archive bytes.
//
// Implementations exist for local files (OpenFile), byte slices
// (NewBytesSource), and HTTP range requests (package http).
// ReadAt must be safe for concurrent use.
type ByteSource interface {
	io.ReaderAt
	Size() int64
}

// RangeReader is an optional ByteSource extension that streams one byte
// range, letting an entry be read with a single request.
type RangeReader interface {
	ReadRange(off, length int64) (io.ReadCloser, error)
}

// File is a ByteSource backed by an open file.
// Close must be called to release the file handle.
type File struct {
	file *os.File
	size int64
}

// OpenFile opens the archive at path for random access.
func OpenFile(path string) (*File, error) {
	f, err := os.Open(path) //nolint:gosec // user-provided path is intentional
	if err != nil {
		return nil, fmt.Errorf("open archive: %w", err)
	}
	info, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("stat archive: %w", err)
	}
	if !info.Mode().IsRegular() {
		_ = f.Close()
		return nil, fmt.Errorf("open archive %s: not a regular file", path)
	}
	return &File{file: f, size: info.Size()}, nil
}

// ReadAt implements io.ReaderAt.
func (f *File) ReadAt(p []byte, off int64) (int, error) {
	return f.file.ReadAt(p, off)
}

// Size returns the size of the file when it was opened.
func (f *File) Size() int64 {
	return f.size
}

// Name returns the file name.
func (f *File) Name() string {
	return f.file.Name()
}

// Close closes the underlying file.
func (f *File) Close() error {
	return f.file.Close()
}

// BytesSource is a ByteSource over an in-memory archive.
type BytesSource struct {
	*bytes.Reader
}

// NewBytesSource returns a ByteSource reading from data.
func NewBytesSource(data []byte) *BytesSource {
	return &BytesSource{Reader: bytes.NewReader(data)}
}
