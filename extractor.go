package unzip

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"

	"github.com/meigma/unzip/internal/batch"
	"github.com/meigma/unzip/internal/cursor"
	"github.com/meigma/unzip/internal/directory"
	"github.com/meigma/unzip/internal/file"
	"github.com/meigma/unzip/internal/textenc"
)

// Extractor extracts ZIP archives. It is safe for concurrent use; each call
// is an independent run.
type Extractor struct {
	logger        *slog.Logger
	workers       int
	overwrite     bool
	preserveMode  bool
	preserveTimes bool
	directWrites  bool
	charset       string
	maxFileSize   uint64
	progress      ProgressFunc
	verifyFirst   bool
	target        Target

	decode directory.NameDecoder
	optErr error
	pool   *file.DecompressPool
}

// New creates an Extractor.
func New(opts ...Option) *Extractor {
	x := &Extractor{
		maxFileSize:   DefaultMaxFileSize,
		preserveTimes: true,
	}
	for _, opt := range opts {
		opt(x)
	}
	if x.charset != "" {
		dec, err := textenc.Lookup(x.charset)
		if err != nil {
			x.optErr = fmt.Errorf("unzip: %w", err)
		} else {
			x.decode = dec.Decode
		}
	}
	x.pool = file.NewDecompressPool()
	return x
}

// log returns the logger, falling back to a discard logger if nil.
func (x *Extractor) log() *slog.Logger {
	if x.logger == nil {
		return slog.New(slog.DiscardHandler)
	}
	return x.logger
}

func (x *Extractor) emit(ev ProgressEvent) {
	if x.progress != nil {
		x.progress(ev)
	}
}

// Open locates and reads the central directory of src.
//
// Errors are archive-fatal: the end of central directory record is missing,
// or the directory is truncated or inconsistent.
func (x *Extractor) Open(ctx context.Context, src ByteSource) (*Archive, error) {
	r := &run{logger: x.log()}
	a, err := x.open(ctx, src, r)
	if err != nil {
		r.enter(StateFailed)
		return nil, err
	}
	return a, nil
}

func (x *Extractor) open(ctx context.Context, src ByteSource, r *run) (*Archive, error) {
	if x.optErr != nil {
		return nil, x.optErr
	}
	c := cursor.New(src, src.Size())

	r.enter(StateLocating)
	x.emit(ProgressEvent{Stage: StageLocating})
	end, err := directory.Locate(ctx, c)
	if err != nil {
		return nil, fmt.Errorf("locate central directory: %w", err)
	}
	if end.BaseOffset > 0 {
		x.log().Info("archive has prepended data", slog.Int64("bytes", end.BaseOffset))
	}

	r.enter(StateReadingEntries)
	x.emit(ProgressEvent{Stage: StageReadingDirectory})
	entries, err := directory.ReadEntries(ctx, c, end, directory.Options{
		NameDecoder: x.decode,
		Logger:      x.logger,
	})
	if err != nil {
		return nil, fmt.Errorf("read central directory: %w", err)
	}
	x.log().Debug("central directory read",
		slog.Int("entries", len(entries)),
		slog.Bool("zip64", end.Zip64),
		slog.Uint64("offset", end.DirOffset),
	)

	return &Archive{x: x, src: src, end: end, entries: entries}, nil
}

// Extract extracts every entry of src below dest.
//
// Per-entry failures are recorded in the Result and do not stop the run.
// The error is non-nil only when the archive cannot be read at all or ctx is
// canceled; in the latter case the partial Result is returned too.
func (x *Extractor) Extract(ctx context.Context, src ByteSource, dest string) (*Result, error) {
	r := &run{logger: x.log()}
	a, err := x.open(ctx, src, r)
	if err != nil {
		r.enter(StateFailed)
		return &Result{State: StateFailed}, err
	}

	if x.verifyFirst {
		res, err := a.process(ctx, dest, batch.Discard{}, StageVerifying, r)
		if err != nil {
			return res, err
		}
		if res.Failed > 0 {
			x.log().Warn("verification failed, nothing extracted", slog.Int("failed", res.Failed))
			return res, fmt.Errorf("unzip: verification failed for %d of %d entries: %w", res.Failed, res.Total, res.Err())
		}
	}
	return a.ExtractTo(ctx, dest)
}

// newTarget returns the configured Target or a FileSink for dest.
func (x *Extractor) newTarget(dest string) (Target, func() error, error) {
	if x.target != nil {
		return x.target, func() error { return nil }, nil
	}
	sink, err := batch.NewFileSink(dest,
		batch.WithOverwrite(x.overwrite),
		batch.WithDirectWrites(x.directWrites),
		batch.WithPreserveTimes(x.preserveTimes),
		batch.WithSinkLogger(x.logger),
	)
	if err != nil {
		return nil, nil, err
	}
	return sink, sink.Close, nil
}

func (x *Extractor) fileOptions(deferred bool) []file.Option {
	opts := []file.Option{file.WithPool(x.pool), file.WithMaxFileSize(x.maxFileSize)}
	if deferred {
		opts = append(opts, file.Deferred())
	}
	return opts
}

// failed records err against the entry, wrapping it in an EntryError.
func failed(o Outcome, e *Entry, offset int64, err error) Outcome {
	var entryErr *EntryError
	if !errors.As(err, &entryErr) {
		err = &EntryError{Index: e.Index, Name: e.Name, Offset: offset, Err: err}
	}
	o.Kind = OutcomeFailed
	o.Err = err
	return o
}

func skipped(o Outcome, reason string) Outcome {
	o.Kind = OutcomeSkipped
	o.Reason = reason
	return o
}

func newOutcome(e *Entry) Outcome {
	return Outcome{Index: e.Index, Name: e.Name, IsDir: e.IsDir}
}

// dirMode is a directory whose permissions are applied after all entries.
type dirMode struct {
	rel  string
	mode fs.FileMode
}

// applyDirModes sets directory permissions once their contents exist, deepest
// entries first, so a read-only directory does not block its own files.
func (x *Extractor) applyDirModes(t Target, dirs []dirMode) {
	for i := len(dirs) - 1; i >= 0; i-- {
		if err := t.SetPermissions(dirs[i].rel, dirs[i].mode.Perm()); err != nil {
			x.log().Warn("set directory permissions", slog.String("path", dirs[i].rel), slog.Any("error", err))
		}
	}
}
