package unzip

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"

	"github.com/meigma/unzip/internal/directory"
	"github.com/meigma/unzip/internal/file"
	"github.com/meigma/unzip/internal/local"
	"github.com/meigma/unzip/internal/pathutil"
	"github.com/meigma/unzip/internal/sizing"
)

// streamBufferSize is the read-ahead used when extracting from a stream.
const streamBufferSize = 64 << 10

// ExtractStream extracts an archive read sequentially from in, using local
// headers and data descriptors instead of the central directory.
//
// Entries are processed one at a time in stream order. Extraction stops at
// the first central directory record. Bytes that do not start a known record
// are skipped until the next one; input that contains no record at all is
// rejected with ErrMalformed.
func (x *Extractor) ExtractStream(ctx context.Context, in io.Reader, dest string) (*Result, error) {
	r := &run{logger: x.log()}
	if x.optErr != nil {
		r.enter(StateFailed)
		return &Result{State: StateFailed}, x.optErr
	}
	if x.verifyFirst {
		x.log().Info("verify-first is not supported for streamed input, ignoring")
	}

	t, closeTarget, err := x.newTarget(dest)
	if err != nil {
		r.enter(StateFailed)
		return &Result{State: StateFailed}, err
	}
	defer func() {
		if err := closeTarget(); err != nil {
			x.log().Warn("close destination", slog.Any("error", err))
		}
	}()

	counter := &file.CountingReader{R: in}
	s := &streamer{
		x:       x,
		counter: counter,
		br:      bufio.NewReaderSize(counter, streamBufferSize),
		dest:    dest,
		t:       t,
		buf:     make([]byte, file.DefaultCopyBufferSize),
	}
	r.enter(StateExtracting)
	res, err := s.run(ctx)
	if err != nil && !errors.Is(err, ctx.Err()) {
		r.enter(StateFailed)
		res.State = StateFailed
		return res, err
	}

	if x.preserveMode {
		x.applyDirModes(t, s.dirs)
	}
	r.enter(StateDone)
	res.State = StateDone
	x.emit(ProgressEvent{Stage: StageDone, FilesDone: res.Total})
	x.log().Info("stream processed",
		slog.Int("entries", res.Total),
		slog.Int("written", res.Written),
		slog.Int("skipped", res.Skipped),
		slog.Int("failed", res.Failed),
	)
	return res, err
}

// streamer walks the records of a sequentially read archive.
type streamer struct {
	x       *Extractor
	counter *file.CountingReader
	br      *bufio.Reader
	dest    string
	t       Target
	buf     []byte
	dirs    []dirMode
}

// pos returns the stream offset of the next unread byte.
func (s *streamer) pos() int64 {
	return int64(s.counter.N) - int64(s.br.Buffered()) //nolint:gosec // stream offsets fit in int64
}

func (s *streamer) run(ctx context.Context) (*Result, error) {
	res := &Result{}
	for {
		if err := ctx.Err(); err != nil {
			res.Canceled = true
			return res, err
		}

		head, err := s.br.Peek(4)
		switch {
		case errors.Is(err, io.EOF) && res.Total == 0 && s.pos() == 0:
			return res, fmt.Errorf("%w: no zip records in input", ErrMalformed)
		case errors.Is(err, io.EOF):
			s.x.log().Warn("stream ended without a central directory", slog.Int64("offset", s.pos()+int64(len(head))))
			return res, nil
		case err != nil:
			return res, fmt.Errorf("read stream: %w", err)
		}

		switch sig := local.Signature(head); sig {
		case directory.LocalHeaderSignature:
			o, resync := s.entry(ctx, res.Total)
			res.add(o)
			s.x.emit(ProgressEvent{
				Stage:     StageExtracting,
				Path:      o.Name,
				BytesDone: o.Bytes,
				FilesDone: res.Total,
			})
			if o.Reason == ReasonCanceled {
				res.Canceled = true
				return res, ctx.Err()
			}
			if resync {
				s.resync(res)
			}
		case directory.CentralHeaderSignature, directory.EndSignature, directory.Zip64EndSignature:
			s.x.log().Debug("reached central directory", slog.Int64("offset", s.pos()))
			return res, nil
		default:
			start := s.pos()
			n, err := local.Resync(s.br)
			if err != nil {
				if res.Total == 0 {
					return res, fmt.Errorf("%w: no local file header found", ErrMalformed)
				}
				s.x.log().Warn("trailing bytes after last entry", slog.Int64("offset", start))
				return res, nil
			}
			s.x.log().Warn("skipped unrecognized bytes",
				slog.Int64("offset", start),
				slog.Int64("bytes", n),
				slog.String("signature", fmt.Sprintf("0x%08x", sig)),
			)
		}
	}
}

// resync moves to the next record after an entry whose end is unknown.
func (s *streamer) resync(res *Result) {
	start := s.pos()
	n, err := local.Resync(s.br)
	if err != nil {
		s.x.log().Warn("no record after failed entry", slog.Int64("offset", start))
		return
	}
	if n > 0 {
		s.x.log().Warn("resynchronized stream",
			slog.Int64("offset", start),
			slog.Int64("skipped", n),
			slog.Int("entries", res.Total),
		)
	}
}

// entry reads one local header and its data. It reports whether the stream
// position after the entry is uncertain and needs resynchronizing.
func (s *streamer) entry(ctx context.Context, index int) (Outcome, bool) {
	x := s.x
	offset := s.pos()
	h, err := local.ReadHeader(s.br, x.decode)
	e := &h.Entry
	e.Index = index
	e.LocalHeaderOffset = uint64(offset) //nolint:gosec // stream offsets are non-negative
	o := newOutcome(e)
	if err != nil {
		return failed(o, e, offset, err), true
	}
	known := sizeKnown(e)

	if e.Encrypted() {
		x.log().Info("skipping encrypted entry", slog.String("name", e.Name))
		return skipped(o, ReasonEncrypted), !s.skipData(&h, known)
	}
	rel, _, err := pathutil.Resolve(e.Name, s.dest)
	if err != nil {
		x.log().Warn("rejecting entry name", slog.String("name", e.Name), slog.Any("error", err))
		return failed(o, e, offset, err), !s.skipData(&h, known)
	}
	o.Path = rel
	if !e.Method.Supported() {
		return failed(o, e, offset, &UnsupportedMethodError{Method: e.Method}), !s.skipData(&h, known)
	}

	if e.IsDir {
		if _, err := s.readData(ctx, &h, io.Discard); err != nil {
			return s.dataFailed(ctx, o, e, offset, err), true
		}
		if err := s.t.CreateDirectory(rel); err != nil {
			return failed(o, e, offset, err), false
		}
		if x.preserveMode {
			s.dirs = append(s.dirs, dirMode{rel: rel, mode: e.Mode()})
		}
		o.Kind = OutcomeWritten
		return o, false
	}

	w, err := s.t.CreateFile(e, rel)
	if err != nil {
		if errors.Is(err, ErrExists) {
			x.log().Info("destination exists", slog.String("path", rel))
			return skipped(o, ReasonExists), !s.skipData(&h, known)
		}
		return failed(o, e, offset, err), !s.skipData(&h, known)
	}

	n, err := s.readData(ctx, &h, w)
	if err == nil && e.HasDataDescriptor() && !s.atRecord() {
		err = fmt.Errorf("%w: no record follows the data descriptor", ErrStreamSync)
	}
	if err != nil {
		if derr := w.Discard(); derr != nil {
			x.log().Warn("discard partial file", slog.String("path", rel), slog.Any("error", derr))
		}
		return s.dataFailed(ctx, o, e, offset, err), true
	}
	if err := w.Commit(); err != nil {
		if errors.Is(err, ErrExists) {
			return skipped(o, ReasonExists), false
		}
		return failed(o, e, offset, err), false
	}

	if x.preserveMode && !e.IsSymlink() {
		if err := s.t.SetPermissions(rel, e.Mode().Perm()); err != nil {
			x.log().Warn("set permissions", slog.String("path", rel), slog.Any("error", err))
		}
	}
	o.Kind = OutcomeWritten
	o.Bytes = n
	x.log().Debug("entry written", slog.String("path", rel), slog.Uint64("bytes", n))
	return o, false
}

func (s *streamer) dataFailed(ctx context.Context, o Outcome, e *Entry, offset int64, err error) Outcome {
	if ctx.Err() != nil && errors.Is(err, ctx.Err()) {
		return skipped(o, ReasonCanceled)
	}
	return failed(o, e, offset, err)
}

// sizeKnown reports whether the local header records the compressed size.
// Writers that use a data descriptor usually leave the sizes zero.
func sizeKnown(e *Entry) bool {
	return !e.HasDataDescriptor() || e.CompressedSize > 0
}

// readData decompresses the data of h into w and verifies it, consuming any
// data descriptor. It returns the number of bytes written.
func (s *streamer) readData(ctx context.Context, h *local.Header, w io.Writer) (uint64, error) {
	e := &h.Entry
	known := sizeKnown(e)

	var src io.Reader = s.br
	if known {
		n, err := sizing.ToInt64(e.CompressedSize, ErrSizeOverflow)
		if err != nil {
			return 0, err
		}
		src = &exactReader{r: s.br, n: n}
	} else if e.Method == MethodStored {
		d, err := local.ScanStored(s.br, w, h.Zip64Descriptor, s.scanLimit())
		if err != nil {
			return 0, err
		}
		return d.UncompressedSize, nil
	}

	fr, err := file.Open(e, src, s.x.fileOptions(e.HasDataDescriptor())...)
	if err != nil {
		return 0, err
	}
	defer fr.Close()

	n, err := file.CopyWithContext(ctx, w, fr, s.buf)
	if err != nil {
		return n, err
	}
	if rest, ok := src.(*exactReader); ok && rest.n > 0 {
		if _, err := io.Copy(io.Discard, rest); err != nil {
			return n, fmt.Errorf("%w: entry data", ErrTruncated)
		}
	}
	if !e.HasDataDescriptor() {
		return n, nil
	}

	d, err := local.ReadDescriptor(s.br, h.Zip64Descriptor)
	if err != nil {
		return n, err
	}
	if err := fr.Verify(d.CRC32, d.UncompressedSize); err != nil {
		return n, err
	}
	consumed := fr.CompressedRead()
	if known {
		consumed = e.CompressedSize
	}
	if d.CompressedSize != consumed {
		return n, fmt.Errorf("%w: data descriptor records %d compressed bytes, read %d",
			ErrSizeMismatch, d.CompressedSize, consumed)
	}
	return n, nil
}

// skipData consumes the data of an entry that is not extracted. It reports
// whether the stream is positioned at the next record afterwards.
func (s *streamer) skipData(h *local.Header, known bool) bool {
	e := &h.Entry
	if !known {
		return false
	}
	n, err := sizing.ToInt64(e.CompressedSize, ErrSizeOverflow)
	if err != nil {
		return false
	}
	if _, err := s.br.Discard(int(min(n, math.MaxInt))); err != nil {
		return false
	}
	if e.HasDataDescriptor() {
		if _, err := local.ReadDescriptor(s.br, h.Zip64Descriptor); err != nil {
			return false
		}
	}
	return s.atRecord()
}

// atRecord reports whether the next bytes start a record, or the input ended.
func (s *streamer) atRecord() bool {
	head, err := s.br.Peek(4)
	if err != nil {
		return errors.Is(err, io.EOF) && len(head) == 0
	}
	return local.RecordSignature(local.Signature(head))
}

func (s *streamer) scanLimit() int64 {
	limit := s.x.maxFileSize
	if limit == 0 || limit > math.MaxInt64 {
		return math.MaxInt64
	}
	return int64(limit)
}

// exactReader reads exactly n bytes from r, reporting io.ErrUnexpectedEOF if
// r ends early.
type exactReader struct {
	r io.Reader
	n int64
}

func (er *exactReader) Read(p []byte) (int, error) {
	if er.n <= 0 {
		return 0, io.EOF
	}
	if int64(len(p)) > er.n {
		p = p[:er.n]
	}
	n, err := er.r.Read(p)
	er.n -= int64(n)
	if errors.Is(err, io.EOF) {
		if er.n > 0 {
			return n, io.ErrUnexpectedEOF
		}
		err = nil
	}
	return n, err
}
