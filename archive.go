package unzip

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"slices"

	"github.com/meigma/unzip/internal/batch"
	"github.com/meigma/unzip/internal/cursor"
	"github.com/meigma/unzip/internal/directory"
	"github.com/meigma/unzip/internal/file"
	"github.com/meigma/unzip/internal/local"
	"github.com/meigma/unzip/internal/pathutil"
	"github.com/meigma/unzip/internal/sizing"
)

// Archive is an opened archive whose central directory has been read.
// It is safe for concurrent use as long as its ByteSource is.
type Archive struct {
	x       *Extractor
	src     ByteSource
	end     directory.End
	entries []Entry
}

// Entries returns the entries in central directory order.
func (a *Archive) Entries() []Entry {
	return slices.Clone(a.entries)
}

// Len returns the number of entries.
func (a *Archive) Len() int {
	return len(a.entries)
}

// Comment returns the archive comment.
func (a *Archive) Comment() string {
	if a.x.decode != nil {
		if s, err := a.x.decode(a.end.Comment); err == nil {
			return s
		}
	}
	return string(a.end.Comment)
}

// Zip64 reports whether the archive uses Zip64 end records.
func (a *Archive) Zip64() bool {
	return a.end.Zip64
}

// BaseOffset returns the number of bytes prepended to the archive, such as a
// self-extractor stub.
func (a *Archive) BaseOffset() int64 {
	return a.end.BaseOffset
}

// OpenEntry returns a reader for the decompressed content of entry i.
//
// The reader checks the CRC-32 and size as it reaches end of data: a final
// Read returns io.EOF only when the content matches. Directories read as empty.
func (a *Archive) OpenEntry(i int) (io.ReadCloser, error) {
	if i < 0 || i >= len(a.entries) {
		return nil, fmt.Errorf("unzip: entry index %d out of range [0, %d)", i, len(a.entries))
	}
	e := &a.entries[i]
	offset := headerOffset(e)
	if e.Encrypted() {
		return nil, &EntryError{Index: e.Index, Name: e.Name, Offset: offset, Err: ErrEncrypted}
	}

	body, err := a.compressed(e)
	if err != nil {
		return nil, &EntryError{Index: e.Index, Name: e.Name, Offset: offset, Err: err}
	}
	fr, err := file.Open(e, body, a.x.fileOptions(false)...)
	if err != nil {
		_ = body.Close()
		return nil, &EntryError{Index: e.Index, Name: e.Name, Offset: offset, Err: err}
	}
	return &entryReader{Reader: fr, body: body}, nil
}

type entryReader struct {
	*file.Reader
	body io.Closer
}

func (r *entryReader) Close() error {
	_ = r.Reader.Close()
	return r.body.Close()
}

// Verify decompresses every entry and checks its CRC-32 and size without
// writing anything. Entry names are validated as if extracting.
func (a *Archive) Verify(ctx context.Context) (*Result, error) {
	r := &run{logger: a.x.log()}
	return a.process(ctx, ".", batch.Discard{}, StageVerifying, r)
}

// ExtractTo extracts every entry below dest.
func (a *Archive) ExtractTo(ctx context.Context, dest string) (*Result, error) {
	r := &run{logger: a.x.log()}
	t, closeTarget, err := a.x.newTarget(dest)
	if err != nil {
		r.enter(StateFailed)
		return &Result{State: StateFailed}, err
	}
	defer func() {
		if err := closeTarget(); err != nil {
			a.x.log().Warn("close destination", slog.Any("error", err))
		}
	}()
	return a.process(ctx, dest, t, StageExtracting, r)
}

// process hands every entry to t through a batch.Processor and collects the
// outcomes into a Result.
func (a *Archive) process(ctx context.Context, dest string, t Target, stage ProgressStage, r *run) (*Result, error) {
	x := a.x
	r.enter(StateExtracting)

	jobs := make([]batch.Job, len(a.entries))
	for i := range a.entries {
		jobs[i] = batch.Job{Index: i, Name: a.entries[i].Name, Size: a.entries[i].UncompressedSize}
	}

	var done int
	proc := batch.NewProcessor(
		batch.WithWorkers(x.workers),
		batch.WithProcessorLogger(x.logger),
		batch.WithNotify(func(o Outcome) {
			done++
			x.emit(ProgressEvent{
				Stage:      stage,
				Path:       o.Name,
				BytesDone:  o.Bytes,
				BytesTotal: a.entries[o.Index].UncompressedSize,
				FilesDone:  done,
				FilesTotal: len(a.entries),
			})
		}),
	)
	outcomes, err := proc.Process(ctx, jobs, func(ctx context.Context, job batch.Job) Outcome {
		return a.extractEntry(ctx, &a.entries[job.Index], dest, t)
	})

	if x.preserveMode {
		x.applyDirModes(t, a.dirModes(outcomes))
	}

	res := &Result{Outcomes: outcomes, State: StateDone, Canceled: err != nil}
	for i := range outcomes {
		res.count(outcomes[i])
	}
	r.enter(StateDone)
	x.emit(ProgressEvent{Stage: StageDone, FilesDone: done, FilesTotal: len(a.entries)})
	x.log().Info("archive processed",
		slog.String("stage", stage.String()),
		slog.Int("entries", res.Total),
		slog.Int("written", res.Written),
		slog.Int("skipped", res.Skipped),
		slog.Int("failed", res.Failed),
	)
	return res, err
}

func (a *Archive) dirModes(outcomes []Outcome) []dirMode {
	var dirs []dirMode
	for _, o := range outcomes {
		if o.IsDir && o.Kind == OutcomeWritten {
			dirs = append(dirs, dirMode{rel: o.Path, mode: a.entries[o.Index].Mode()})
		}
	}
	return dirs
}

// extractEntry handles one entry and returns exactly one outcome for it.
func (a *Archive) extractEntry(ctx context.Context, e *Entry, dest string, t Target) Outcome {
	x := a.x
	o := newOutcome(e)
	offset := headerOffset(e)

	if e.Encrypted() {
		x.log().Info("skipping encrypted entry", slog.String("name", e.Name))
		return skipped(o, ReasonEncrypted)
	}
	rel, _, err := pathutil.Resolve(e.Name, dest)
	if err != nil {
		x.log().Warn("rejecting entry name", slog.String("name", e.Name), slog.Any("error", err))
		return failed(o, e, offset, err)
	}
	o.Path = rel

	if e.IsDir {
		if err := t.CreateDirectory(rel); err != nil {
			return failed(o, e, offset, err)
		}
		o.Kind = OutcomeWritten
		return o
	}
	if !e.Method.Supported() {
		return failed(o, e, offset, &UnsupportedMethodError{Method: e.Method})
	}

	body, err := a.compressed(e)
	if err != nil {
		return failed(o, e, offset, err)
	}
	defer body.Close()

	fr, err := file.Open(e, body, x.fileOptions(false)...)
	if err != nil {
		return failed(o, e, offset, err)
	}
	defer fr.Close()

	w, err := t.CreateFile(e, rel)
	if err != nil {
		if errors.Is(err, ErrExists) {
			x.log().Info("destination exists", slog.String("path", rel))
			return skipped(o, ReasonExists)
		}
		return failed(o, e, offset, err)
	}

	n, err := file.CopyWithContext(ctx, w, fr, nil)
	if err == nil {
		err = fr.Verify(e.CRC32, e.UncompressedSize)
	}
	if err != nil {
		if derr := w.Discard(); derr != nil {
			x.log().Warn("discard partial file", slog.String("path", rel), slog.Any("error", derr))
		}
		if ctx.Err() != nil && errors.Is(err, ctx.Err()) {
			return skipped(o, ReasonCanceled)
		}
		return failed(o, e, offset, err)
	}
	if err := w.Commit(); err != nil {
		if errors.Is(err, ErrExists) {
			return skipped(o, ReasonExists)
		}
		return failed(o, e, offset, err)
	}

	if x.preserveMode && !e.IsSymlink() {
		if err := t.SetPermissions(rel, e.Mode().Perm()); err != nil {
			x.log().Warn("set permissions", slog.String("path", rel), slog.Any("error", err))
		}
	}
	o.Kind = OutcomeWritten
	o.Bytes = n
	x.log().Debug("entry written", slog.String("path", rel), slog.Uint64("bytes", n))
	return o
}

// compressed returns the stored bytes of e, after checking its local header.
func (a *Archive) compressed(e *Entry) (io.ReadCloser, error) {
	off, length, err := a.dataRange(e)
	if err != nil {
		return nil, err
	}
	if rr, ok := a.src.(RangeReader); ok && length > 0 {
		body, err := rr.ReadRange(off, length)
		if err != nil {
			return nil, fmt.Errorf("read entry data: %w", err)
		}
		return body, nil
	}
	return io.NopCloser(io.NewSectionReader(a.src, off, length)), nil
}

// dataRange reads the local header of e and returns the offset and length of
// its data. Mismatches between the local and central headers are logged; the
// central directory wins.
func (a *Archive) dataRange(e *Entry) (int64, int64, error) {
	hdrOff, err := sizing.ToInt64(e.LocalHeaderOffset, ErrMalformed)
	if err != nil {
		return 0, 0, err
	}
	h, err := local.HeaderAt(cursor.New(a.src, a.src.Size()), hdrOff, a.x.decode)
	if err != nil {
		return 0, 0, fmt.Errorf("local header: %w", err)
	}
	if h.Zip64Err != nil {
		a.x.log().Warn("local header sizes unreadable, using central directory",
			slog.String("name", e.Name),
			slog.Any("error", h.Zip64Err),
		)
	}
	if h.Entry.Name != e.Name || h.Entry.Method != e.Method {
		a.x.log().Warn("local header disagrees with central directory",
			slog.String("name", e.Name),
			slog.String("local_name", h.Entry.Name),
			slog.String("method", e.Method.String()),
			slog.String("local_method", h.Entry.Method.String()),
		)
	}
	end, err := sizing.Span(uint64(h.DataOffset), e.CompressedSize, a.src.Size(), //nolint:gosec // offset comes from a successful read
		fmt.Errorf("%w: entry data extends past end of archive", ErrTruncated))
	if err != nil {
		return 0, 0, err
	}
	return h.DataOffset, end - h.DataOffset, nil
}

func headerOffset(e *Entry) int64 {
	off, err := sizing.ToInt64(e.LocalHeaderOffset, ErrSizeOverflow)
	if err != nil {
		return -1
	}
	return off
}
