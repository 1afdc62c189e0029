package unzip

import (
	"log/slog"

	"github.com/meigma/unzip/internal/file"
)

// DefaultMaxFileSize is the default limit on the decompressed size of one entry (4 GiB).
const DefaultMaxFileSize = file.DefaultMaxFileSize

// Option configures an Extractor.
type Option func(*Extractor)

// WithLogger sets the logger. If not set, logging is disabled.
func WithLogger(logger *slog.Logger) Option {
	return func(x *Extractor) {
		x.logger = logger
	}
}

// WithWorkers sets the number of entries extracted concurrently in random
// access mode. Values < 0 force serial processing. Zero (the default) picks
// a count from GOMAXPROCS and the average entry size. Streaming is always serial.
func WithWorkers(n int) Option {
	return func(x *Extractor) {
		x.workers = n
	}
}

// WithOverwrite allows replacing existing files.
// By default, entries whose destination exists are skipped.
func WithOverwrite(overwrite bool) Option {
	return func(x *Extractor) {
		x.overwrite = overwrite
	}
}

// WithPreserveMode applies Unix permission bits recorded in the archive.
// It has no effect on platforms without POSIX permissions.
func WithPreserveMode(preserve bool) Option {
	return func(x *Extractor) {
		x.preserveMode = preserve
	}
}

// WithPreserveTimes sets file modification times from the archive (default: true).
func WithPreserveTimes(preserve bool) Option {
	return func(x *Extractor) {
		x.preserveTimes = preserve
	}
}

// WithDirectWrites writes files in place instead of through a temp file that
// is renamed on success. A failed entry is still removed.
func WithDirectWrites(enabled bool) Option {
	return func(x *Extractor) {
		x.directWrites = enabled
	}
}

// WithLegacyCharset decodes entry names that lack the UTF-8 flag from the
// named code page ("cp437", "cp850", "cp866", "cp1252" or "latin1").
// By default such names pass through as raw bytes.
func WithLegacyCharset(name string) Option {
	return func(x *Extractor) {
		x.charset = name
	}
}

// WithMaxFileSize limits the decompressed size of each entry.
// Set limit to 0 to disable the limit.
func WithMaxFileSize(limit uint64) Option {
	return func(x *Extractor) {
		x.maxFileSize = limit
	}
}

// WithProgress sets a callback for progress updates.
func WithProgress(fn ProgressFunc) Option {
	return func(x *Extractor) {
		x.progress = fn
	}
}

// WithVerifyFirst makes Extract decompress and check every entry before
// writing anything, and refuse to write when any entry fails.
// It has no effect on ExtractStream, which reads its input once.
func WithVerifyFirst(enabled bool) Option {
	return func(x *Extractor) {
		x.verifyFirst = enabled
	}
}

// WithTarget sends extracted entries to t instead of the filesystem.
// Names are still validated against the destination passed to Extract.
func WithTarget(t Target) Option {
	return func(x *Extractor) {
		x.target = t
	}
}
