// Package batch writes extracted entries to a destination and schedules
// entry extraction across workers.
package batch

import (
	"errors"
	"io"
	"io/fs"

	"github.com/meigma/unzip/internal/ziptype"
)

// ErrExists is returned by CreateFile when the destination already exists
// and overwriting is disabled.
var ErrExists = errors.New("unzip: destination exists")

// Target receives extracted entries.
//
// Paths are destination-relative, slash-separated, and already validated.
// Implementations must be safe for concurrent use.
type Target interface {
	// CreateDirectory creates rel and any missing parents. It is idempotent.
	CreateDirectory(rel string) error

	// CreateFile returns a Committer for the content of entry at rel,
	// creating parent directories as needed.
	//
	// The caller writes decompressed content, then calls Commit once the
	// content has been verified or Discard on any failure.
	CreateFile(entry *ziptype.Entry, rel string) (Committer, error)

	// SetPermissions applies mode to rel. It is best-effort and may be a
	// no-op on some platforms.
	SetPermissions(rel string, mode fs.FileMode) error
}

// Committer is a writer that can be committed or discarded.
//
// Implementations should buffer or stage writes until Commit is called.
// For example, a file-based implementation might write to a temp file
// and rename it on Commit, or delete it on Discard.
type Committer interface {
	io.Writer

	// Commit finalizes the write, making content available.
	// Must be called after successful CRC verification.
	Commit() error

	// Discard aborts the write and cleans up any temporary resources.
	// Must be called if verification fails or an error occurs.
	Discard() error
}

// Discard is a Target that accepts and drops all content. It backs
// verification runs that decompress every entry without writing.
type Discard struct{}

// CreateDirectory implements Target.
func (Discard) CreateDirectory(string) error { return nil }

// CreateFile implements Target.
func (Discard) CreateFile(*ziptype.Entry, string) (Committer, error) { return discardCommitter{}, nil }

// SetPermissions implements Target.
func (Discard) SetPermissions(string, fs.FileMode) error { return nil }

type discardCommitter struct{}

func (discardCommitter) Write(p []byte) (int, error) { return len(p), nil }
func (discardCommitter) Commit() error               { return nil }
func (discardCommitter) Discard() error              { return nil }
