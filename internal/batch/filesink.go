package batch

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path"

	"golang.org/x/sync/singleflight"

	"github.com/meigma/unzip/internal/platform"
	"github.com/meigma/unzip/internal/ziptype"
)

// FileSink writes entries below a destination directory.
//
// All access goes through an os.Root, so symbolic links inside the
// destination cannot redirect writes outside it.
//
// By default, files are written to a temporary file in the same directory
// and renamed to the final path on Commit. This ensures that partially
// written files are never visible at the final path.
type FileSink struct {
	destDir       string
	root          *os.Root
	overwrite     bool
	preserveTimes bool
	directWrite   bool
	logger        *slog.Logger

	dirs singleflight.Group
}

// Interface compliance.
var _ Target = (*FileSink)(nil)

// FileSinkOption configures a FileSink.
type FileSinkOption func(*FileSink)

// WithOverwrite allows overwriting existing files.
// By default, CreateFile returns ErrExists for existing files.
func WithOverwrite(overwrite bool) FileSinkOption {
	return func(s *FileSink) {
		s.overwrite = overwrite
	}
}

// WithPreserveTimes sets file modification times from the archive.
// Enabled by default.
func WithPreserveTimes(preserve bool) FileSinkOption {
	return func(s *FileSink) {
		s.preserveTimes = preserve
	}
}

// WithDirectWrites disables temp files and writes directly to the final path.
func WithDirectWrites(enabled bool) FileSinkOption {
	return func(s *FileSink) {
		s.directWrite = enabled
	}
}

// WithSinkLogger sets the logger for filesystem operations.
func WithSinkLogger(logger *slog.Logger) FileSinkOption {
	return func(s *FileSink) {
		s.logger = logger
	}
}

// NewFileSink creates destDir if needed and returns a FileSink writing below it.
// The caller must Close the sink.
func NewFileSink(destDir string, opts ...FileSinkOption) (*FileSink, error) {
	s := &FileSink{
		destDir:       destDir,
		preserveTimes: true,
	}
	for _, opt := range opts {
		opt(s)
	}
	if err := os.MkdirAll(destDir, 0o755); err != nil { //nolint:gosec // extracted trees are world-readable like unzip(1)
		return nil, fmt.Errorf("create destination %s: %w", destDir, err)
	}
	root, err := os.OpenRoot(destDir)
	if err != nil {
		return nil, fmt.Errorf("open destination root %s: %w", destDir, err)
	}
	s.root = root
	return s, nil
}

// Dir returns the destination directory.
func (s *FileSink) Dir() string {
	return s.destDir
}

// Close releases the destination root.
func (s *FileSink) Close() error {
	return s.root.Close()
}

func (s *FileSink) log() *slog.Logger {
	if s.logger == nil {
		return slog.New(slog.DiscardHandler)
	}
	return s.logger
}

// CreateDirectory creates rel and its parents. Concurrent requests for the
// same directory share one MkdirAll call.
func (s *FileSink) CreateDirectory(rel string) error {
	if rel == "" || rel == "." {
		return nil
	}
	_, err, _ := s.dirs.Do(rel, func() (any, error) {
		if err := s.root.MkdirAll(rel, 0o755); err != nil { //nolint:gosec // see NewFileSink
			return nil, fmt.Errorf("create directory %s: %w", rel, err)
		}
		return nil, nil
	})
	return err
}

// SetPermissions applies the permission bits of mode to rel.
func (s *FileSink) SetPermissions(rel string, mode fs.FileMode) error {
	if err := platform.SetPermissions(s.root, rel, mode); err != nil {
		return fmt.Errorf("chmod %s: %w", rel, err)
	}
	return nil
}

// CreateFile returns a Committer that writes the content of entry to rel.
func (s *FileSink) CreateFile(entry *ziptype.Entry, rel string) (Committer, error) {
	if !fs.ValidPath(rel) || rel == "." {
		return nil, &fs.PathError{Op: "create", Path: rel, Err: fs.ErrInvalid}
	}
	if info, err := s.root.Lstat(rel); err == nil {
		if !s.overwrite {
			return nil, fmt.Errorf("%w: %s", ErrExists, rel)
		}
		if info.IsDir() {
			return nil, &fs.PathError{Op: "create", Path: rel, Err: fs.ErrExist}
		}
	}
	if err := s.CreateDirectory(path.Dir(rel)); err != nil {
		return nil, err
	}

	if s.directWrite {
		flags := os.O_CREATE | os.O_TRUNC | os.O_WRONLY
		if !s.overwrite {
			flags |= os.O_EXCL
		}
		f, err := s.root.OpenFile(rel, flags, 0o644) //nolint:gosec // see NewFileSink
		if err != nil {
			if errors.Is(err, fs.ErrExist) {
				return nil, fmt.Errorf("%w: %s", ErrExists, rel)
			}
			return nil, fmt.Errorf("create file %s: %w", rel, err)
		}
		return &fileCommitter{sink: s, entry: entry, destRel: rel, file: f, fileRel: rel}, nil
	}

	f, tempRel, err := createTempFile(s.root, path.Dir(rel), ".unzip-")
	if err != nil {
		return nil, fmt.Errorf("create temp file: %w", err)
	}
	return &fileCommitter{sink: s, entry: entry, destRel: rel, file: f, fileRel: tempRel, rename: true}, nil
}

// fileCommitter writes to fileRel and, for temp files, renames it to destRel on Commit.
type fileCommitter struct {
	sink    *FileSink
	entry   *ziptype.Entry
	destRel string
	file    *os.File
	fileRel string
	rename  bool
}

// Write implements io.Writer.
func (c *fileCommitter) Write(p []byte) (int, error) {
	return c.file.Write(p)
}

// Commit closes the file, applies the modification time, and renames a
// temp file to its final path.
func (c *fileCommitter) Commit() error {
	root := c.sink.root
	if err := c.file.Close(); err != nil {
		_ = root.Remove(c.fileRel) //nolint:errcheck // best-effort cleanup
		return fmt.Errorf("close %s: %w", c.fileRel, err)
	}

	if c.sink.preserveTimes && !c.entry.Modified.IsZero() {
		if err := root.Chtimes(c.fileRel, c.entry.Modified, c.entry.Modified); err != nil {
			c.sink.log().Warn("set modification time", slog.String("path", c.destRel), slog.Any("error", err))
		}
	}

	if c.rename {
		if !c.sink.overwrite {
			if _, err := root.Lstat(c.destRel); err == nil {
				_ = root.Remove(c.fileRel) //nolint:errcheck // best-effort cleanup
				return fmt.Errorf("%w: %s", ErrExists, c.destRel)
			}
		}
		if err := root.Rename(c.fileRel, c.destRel); err != nil {
			_ = root.Remove(c.fileRel) //nolint:errcheck // best-effort cleanup
			return fmt.Errorf("rename to %s: %w", c.destRel, err)
		}
	}
	return nil
}

// Discard closes and removes the file.
func (c *fileCommitter) Discard() error {
	_ = c.file.Close() //nolint:errcheck // we're cleaning up
	if err := c.sink.root.Remove(c.fileRel); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return nil
}

func createTempFile(root *os.Root, dir, prefix string) (*os.File, string, error) {
	const attempts = 10
	for range attempts {
		name, err := randomSuffix()
		if err != nil {
			return nil, "", err
		}
		relPath := path.Join(dir, prefix+name)
		f, err := root.OpenFile(relPath, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644) //nolint:gosec // see NewFileSink
		if err == nil {
			return f, relPath, nil
		}
		if !errors.Is(err, os.ErrExist) {
			return nil, "", err
		}
	}
	return nil, "", errors.New("create temp file: exhausted retries")
}

func randomSuffix() (string, error) {
	var b [8]byte
	if _, err := rand.Read(b[:]); err != nil {
		return "", err
	}
	return hex.EncodeToString(b[:]), nil
}
