package unzip

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meigma/unzip/internal/batch"
	"github.com/meigma/unzip/internal/testutil"
)

func extract(t *testing.T, data []byte, opts ...Option) (*Result, string, error) {
	t.Helper()
	dest := filepath.Join(t.TempDir(), "out")
	res, err := New(opts...).Extract(context.Background(), NewBytesSource(data), dest)
	return res, dest, err
}

func readFile(t *testing.T, path string) string {
	t.Helper()
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	return string(data)
}

// memTarget collects extracted content in memory.
type memTarget struct {
	mu    sync.Mutex
	files map[string][]byte
	dirs  map[string]bool
}

func newMemTarget() *memTarget {
	return &memTarget{files: make(map[string][]byte), dirs: make(map[string]bool)}
}

func (m *memTarget) CreateDirectory(rel string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.dirs[rel] = true
	return nil
}

func (m *memTarget) CreateFile(_ *Entry, rel string) (Committer, error) {
	return &memCommitter{target: m, rel: rel}, nil
}

func (m *memTarget) SetPermissions(string, fs.FileMode) error { return nil }

type memCommitter struct {
	target *memTarget
	rel    string
	buf    bytes.Buffer
}

func (c *memCommitter) Write(p []byte) (int, error) { return c.buf.Write(p) }

func (c *memCommitter) Commit() error {
	c.target.mu.Lock()
	defer c.target.mu.Unlock()
	c.target.files[c.rel] = c.buf.Bytes()
	return nil
}

func (c *memCommitter) Discard() error { return nil }

func TestExtract_RoundTrip(t *testing.T) {
	t.Parallel()

	big := bytes.Repeat([]byte("compressible content "), 4096)
	z := testutil.BuildZip(t, []testutil.ZipEntry{
		{Name: "dir/", Method: testutil.Stored},
		{Name: "dir/stored.txt", Data: []byte("stored data"), Method: testutil.Stored},
		{Name: "dir/sub/deflated.txt", Data: big, Method: testutil.Deflated},
		{Name: "empty.txt", Method: testutil.Stored},
		{Name: "empty-deflated.txt", Method: testutil.Deflated},
		{Name: "descriptor.txt", Data: []byte("with descriptor"), Method: testutil.Deflated, Descriptor: true},
	})

	res, dest, err := extract(t, z.Data)
	require.NoError(t, err)
	require.NoError(t, res.Err())

	assert.Equal(t, StateDone, res.State)
	assert.Equal(t, 6, res.Total)
	assert.Equal(t, 6, res.Written)
	assert.Zero(t, res.Skipped)
	assert.Zero(t, res.Failed)
	assert.Equal(t, uint64(len("stored data")+len(big)+len("with descriptor")), res.BytesWritten)

	assert.Equal(t, "stored data", readFile(t, filepath.Join(dest, "dir", "stored.txt")))
	assert.Equal(t, string(big), readFile(t, filepath.Join(dest, "dir", "sub", "deflated.txt")))
	assert.Empty(t, readFile(t, filepath.Join(dest, "empty.txt")))
	assert.Empty(t, readFile(t, filepath.Join(dest, "empty-deflated.txt")))
	assert.Equal(t, "with descriptor", readFile(t, filepath.Join(dest, "descriptor.txt")))

	for i, o := range res.Outcomes {
		assert.Equal(t, i, o.Index)
		assert.Equal(t, OutcomeWritten, o.Kind, o.Name)
	}
	assert.True(t, res.Outcomes[0].IsDir)
	assert.Equal(t, "dir/sub/deflated.txt", res.Outcomes[2].Path)
}

func TestOpen_CommentLengths(t *testing.T) {
	t.Parallel()

	for _, n := range []int{0, 1, 21, 22, 1023, 1024, 1025, 4096, 65535} {
		t.Run(fmt.Sprintf("comment=%d", n), func(t *testing.T) {
			t.Parallel()
			comment := strings.Repeat("c", n)
			z := testutil.BuildZip(t, []testutil.ZipEntry{
				{Name: "a.txt", Data: []byte("a"), Method: testutil.Stored},
			}, testutil.WithZipComment(comment))

			a, err := New().Open(context.Background(), NewBytesSource(z.Data))
			require.NoError(t, err)
			assert.Equal(t, comment, a.Comment())
			require.Equal(t, 1, a.Len())
			assert.Equal(t, "a.txt", a.Entries()[0].Name)
		})
	}
}

func TestExtract_ChecksumFailureIsolated(t *testing.T) {
	t.Parallel()

	z := testutil.BuildZip(t, []testutil.ZipEntry{
		{Name: "one.txt", Data: []byte("one"), Method: testutil.Deflated},
		{Name: "two.txt", Data: []byte("two"), Method: testutil.Deflated, BadCRC: true},
		{Name: "three.txt", Data: []byte("three"), Method: testutil.Stored},
		{Name: "four.txt", Data: []byte("four"), Method: testutil.Stored, BadCRC: true},
	})

	res, dest, err := extract(t, z.Data)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Written)
	assert.Equal(t, 2, res.Failed)

	for _, i := range []int{1, 3} {
		o := res.Outcomes[i]
		assert.Equal(t, OutcomeFailed, o.Kind)
		assert.ErrorIs(t, o.Err, ErrChecksum)
		var entryErr *EntryError
		require.ErrorAs(t, o.Err, &entryErr)
		assert.Equal(t, i, entryErr.Index)
		assert.Equal(t, z.Entries[i].HeaderOffset, entryErr.Offset)
		assert.False(t, IsFatal(o.Err))
	}
	assert.ErrorIs(t, res.Err(), ErrChecksum)

	assert.Equal(t, "one", readFile(t, filepath.Join(dest, "one.txt")))
	assert.Equal(t, "three", readFile(t, filepath.Join(dest, "three.txt")))
	for _, name := range []string{"two.txt", "four.txt"} {
		_, err := os.Stat(filepath.Join(dest, name))
		assert.ErrorIs(t, err, os.ErrNotExist, name)
	}
	entries, err := os.ReadDir(dest)
	require.NoError(t, err)
	for _, e := range entries {
		assert.False(t, strings.HasPrefix(e.Name(), ".unzip-"), "temp file left behind: %s", e.Name())
	}
}

func TestExtract_CorruptDeflate(t *testing.T) {
	t.Parallel()

	data := bytes.Repeat([]byte("0123456789abcdef"), 1024)
	z := testutil.BuildZip(t, []testutil.ZipEntry{
		{Name: "corrupt.bin", Data: data, Method: testutil.Deflated},
	})
	layout := z.Entries[0]
	for i := layout.DataOffset + 2; i < layout.DataOffset+layout.DataLen; i++ {
		z.Data[i] ^= 0x5a
	}

	res, dest, err := extract(t, z.Data)
	require.NoError(t, err)
	require.Equal(t, 1, res.Failed)

	oerr := res.Outcomes[0].Err
	assert.True(t,
		errors.Is(oerr, ErrCodec) || errors.Is(oerr, ErrChecksum) ||
			errors.Is(oerr, ErrSizeMismatch) || errors.Is(oerr, ErrTruncated),
		"unexpected error: %v", oerr)
	_, err = os.Stat(filepath.Join(dest, "corrupt.bin"))
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestExtract_SingleByteCorruption(t *testing.T) {
	t.Parallel()

	var data bytes.Buffer
	for i := range 400 {
		fmt.Fprintf(&data, "line %d: %x\n", i, i*i*31)
	}
	original := data.Bytes()
	z := testutil.BuildZip(t, []testutil.ZipEntry{
		{Name: "lines.txt", Data: original, Method: testutil.Deflated},
	})
	layout := z.Entries[0]

	var failures, checksums int
	for i := layout.DataOffset; i < layout.DataOffset+layout.DataLen; i++ {
		corrupt := bytes.Clone(z.Data)
		corrupt[i] ^= 0x01

		target := newMemTarget()
		res, err := New(WithTarget(target)).Extract(context.Background(), NewBytesSource(corrupt), ".")
		require.NoError(t, err, "offset %d", i)
		require.Len(t, res.Outcomes, 1)

		o := res.Outcomes[0]
		switch o.Kind {
		case OutcomeWritten:
			// A flip in unused padding bits can leave the output intact.
			require.Equal(t, original, target.files["lines.txt"], "offset %d wrote altered content", i)
		case OutcomeFailed:
			failures++
			if errors.Is(o.Err, ErrChecksum) {
				checksums++
			}
			assert.NotContains(t, target.files, "lines.txt", "offset %d", i)
		default:
			t.Fatalf("offset %d: unexpected outcome %+v", i, o)
		}
	}
	assert.Greater(t, failures, int(layout.DataLen)/2)
	assert.Positive(t, checksums)
}

func TestExtract_LocalHeaderSentinelSizes(t *testing.T) {
	t.Parallel()

	z := testutil.BuildZip(t, []testutil.ZipEntry{
		{Name: "a.txt", Data: []byte("central sizes win"), Method: testutil.Stored},
		{Name: "b.txt", Data: []byte("untouched"), Method: testutil.Deflated},
	})
	hdr := z.Entries[0].HeaderOffset
	binary.LittleEndian.PutUint32(z.Data[hdr+18:], 0xffffffff)
	binary.LittleEndian.PutUint32(z.Data[hdr+22:], 0xffffffff)

	res, dest, err := extract(t, z.Data)
	require.NoError(t, err)
	require.Equal(t, 2, res.Written, "outcomes: %+v", res.Outcomes)
	assert.Equal(t, "central sizes win", readFile(t, filepath.Join(dest, "a.txt")))

	// The same damage in a stream leaves the entry unreadable.
	sres, err := New(WithTarget(Discard{})).ExtractStream(context.Background(), bytes.NewReader(z.Data), ".")
	require.NoError(t, err)
	require.NotEmpty(t, sres.Outcomes)
	require.Equal(t, OutcomeFailed, sres.Outcomes[0].Kind)
	assert.ErrorIs(t, sres.Outcomes[0].Err, ErrMalformed)
}

func TestExtract_PathTraversal(t *testing.T) {
	t.Parallel()

	z := testutil.BuildZip(t, []testutil.ZipEntry{
		{Name: "../evil.txt", Data: []byte("evil"), Method: testutil.Stored},
		{Name: "/abs.txt", Data: []byte("evil"), Method: testutil.Stored},
		{Name: `..\win.txt`, Data: []byte("evil"), Method: testutil.Stored},
		{Name: "a/../../b.txt", Data: []byte("evil"), Method: testutil.Stored},
		{Name: "C:/drive.txt", Data: []byte("evil"), Method: testutil.Stored},
		{Name: "./safe/./ok.txt", Data: []byte("ok"), Method: testutil.Stored},
	})

	base := t.TempDir()
	dest := filepath.Join(base, "out")
	res, err := New().Extract(context.Background(), NewBytesSource(z.Data), dest)
	require.NoError(t, err)

	assert.Equal(t, 5, res.Failed)
	assert.Equal(t, 1, res.Written)
	for _, o := range res.Outcomes[:5] {
		assert.ErrorIs(t, o.Err, ErrPathTraversal, o.Name)
	}
	assert.Equal(t, "safe/ok.txt", res.Outcomes[5].Path)
	assert.Equal(t, "ok", readFile(t, filepath.Join(dest, "safe", "ok.txt")))

	entries, err := os.ReadDir(base)
	require.NoError(t, err)
	require.Len(t, entries, 1, "nothing may be written outside the destination")
}

func TestExtract_MissingEnd(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		data []byte
	}{
		{name: "empty", data: nil},
		{name: "short", data: []byte("PK")},
		{name: "garbage", data: bytes.Repeat([]byte{0xa5}, 70000)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			var events []ProgressEvent
			res, dest, err := extract(t, tt.data, WithProgress(func(ev ProgressEvent) {
				events = append(events, ev)
			}))
			require.Error(t, err)
			assert.True(t, IsFatal(err))
			assert.True(t, errors.Is(err, ErrMalformed) || errors.Is(err, ErrTruncated), "got %v", err)
			assert.Equal(t, StateFailed, res.State)
			assert.Empty(t, res.Outcomes)
			for _, ev := range events {
				assert.NotEqual(t, StageExtracting, ev.Stage)
			}
			_, err = os.Stat(dest)
			assert.ErrorIs(t, err, os.ErrNotExist)
		})
	}
}

func TestExtract_Encrypted(t *testing.T) {
	t.Parallel()

	z := testutil.BuildZip(t, []testutil.ZipEntry{
		{Name: "secret.txt", Data: []byte("ciphertext"), Method: testutil.Stored, Flags: 1},
		{Name: "plain.txt", Data: []byte("plain"), Method: testutil.Stored},
	})

	res, dest, err := extract(t, z.Data)
	require.NoError(t, err)
	assert.Equal(t, OutcomeSkipped, res.Outcomes[0].Kind)
	assert.Equal(t, ReasonEncrypted, res.Outcomes[0].Reason)
	assert.Equal(t, OutcomeWritten, res.Outcomes[1].Kind)
	_, err = os.Stat(filepath.Join(dest, "secret.txt"))
	assert.ErrorIs(t, err, os.ErrNotExist)

	a, err := New().Open(context.Background(), NewBytesSource(z.Data))
	require.NoError(t, err)
	_, err = a.OpenEntry(0)
	assert.ErrorIs(t, err, ErrEncrypted)
}

func TestExtract_UnsupportedMethod(t *testing.T) {
	t.Parallel()

	z := testutil.BuildZip(t, []testutil.ZipEntry{
		{Name: "bzip2.bin", Data: []byte("BZh9"), Method: uint16(MethodBzip2)},
		{Name: "ok.txt", Data: []byte("ok"), Method: testutil.Deflated},
	})

	res, _, err := extract(t, z.Data)
	require.NoError(t, err)
	assert.Equal(t, OutcomeFailed, res.Outcomes[0].Kind)
	assert.ErrorIs(t, res.Outcomes[0].Err, ErrUnsupportedMethod)
	var methodErr *UnsupportedMethodError
	require.ErrorAs(t, res.Outcomes[0].Err, &methodErr)
	assert.Equal(t, MethodBzip2, methodErr.Method)
	assert.Equal(t, OutcomeWritten, res.Outcomes[1].Kind)
}

func TestExtract_Overwrite(t *testing.T) {
	t.Parallel()

	z := testutil.BuildZip(t, []testutil.ZipEntry{
		{Name: "file.txt", Data: []byte("new"), Method: testutil.Stored},
	})
	dest := t.TempDir()
	path := filepath.Join(dest, "file.txt")
	require.NoError(t, os.WriteFile(path, []byte("old"), 0o644))

	res, err := New().Extract(context.Background(), NewBytesSource(z.Data), dest)
	require.NoError(t, err)
	assert.Equal(t, OutcomeSkipped, res.Outcomes[0].Kind)
	assert.Equal(t, ReasonExists, res.Outcomes[0].Reason)
	assert.Equal(t, "old", readFile(t, path))

	res, err = New(WithOverwrite(true)).Extract(context.Background(), NewBytesSource(z.Data), dest)
	require.NoError(t, err)
	assert.Equal(t, OutcomeWritten, res.Outcomes[0].Kind)
	assert.Equal(t, "new", readFile(t, path))
}

func TestExtract_VerifyFirst(t *testing.T) {
	t.Parallel()

	t.Run("refuses bad archive", func(t *testing.T) {
		t.Parallel()
		z := testutil.BuildZip(t, []testutil.ZipEntry{
			{Name: "good.txt", Data: []byte("good"), Method: testutil.Stored},
			{Name: "bad.txt", Data: []byte("bad"), Method: testutil.Deflated, BadCRC: true},
		})
		res, dest, err := extract(t, z.Data, WithVerifyFirst(true))
		require.Error(t, err)
		assert.ErrorIs(t, err, ErrChecksum)
		assert.Equal(t, 1, res.Failed)

		entries, err := os.ReadDir(dest)
		if err == nil {
			assert.Empty(t, entries)
		}
	})

	t.Run("refuses traversal", func(t *testing.T) {
		t.Parallel()
		z := testutil.BuildZip(t, []testutil.ZipEntry{
			{Name: "good.txt", Data: []byte("good"), Method: testutil.Stored},
			{Name: "../bad.txt", Data: []byte("bad"), Method: testutil.Stored},
		})
		_, _, err := extract(t, z.Data, WithVerifyFirst(true))
		assert.ErrorIs(t, err, ErrPathTraversal)
	})

	t.Run("extracts good archive", func(t *testing.T) {
		t.Parallel()
		z := testutil.BuildZip(t, []testutil.ZipEntry{
			{Name: "good.txt", Data: []byte("good"), Method: testutil.Deflated},
		})
		res, dest, err := extract(t, z.Data, WithVerifyFirst(true))
		require.NoError(t, err)
		assert.Equal(t, 1, res.Written)
		assert.Equal(t, "good", readFile(t, filepath.Join(dest, "good.txt")))
	})
}

func TestArchive_Verify(t *testing.T) {
	t.Parallel()

	z := testutil.BuildZip(t, []testutil.ZipEntry{
		{Name: "a.txt", Data: []byte("aaaa"), Method: testutil.Deflated},
		{Name: "b.txt", Data: []byte("bbbb"), Method: testutil.Stored, BadCRC: true},
	})
	var mu sync.Mutex
	var stages []ProgressStage
	x := New(WithProgress(func(ev ProgressEvent) {
		mu.Lock()
		defer mu.Unlock()
		stages = append(stages, ev.Stage)
	}))
	a, err := x.Open(context.Background(), NewBytesSource(z.Data))
	require.NoError(t, err)

	res, err := a.Verify(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, res.Written)
	assert.Equal(t, 1, res.Failed)
	assert.Contains(t, stages, StageVerifying)
	assert.NotContains(t, stages, StageExtracting)
}

func TestExtract_ParallelWorkers(t *testing.T) {
	t.Parallel()

	const n = 24
	entries := make([]testutil.ZipEntry, n)
	for i := range entries {
		entries[i] = testutil.ZipEntry{
			Name:   fmt.Sprintf("files/%02d.bin", i),
			Data:   bytes.Repeat([]byte{byte(i)}, 100<<10),
			Method: testutil.Deflated,
		}
	}
	entries[7].BadCRC = true
	z := testutil.BuildZip(t, entries)

	res, dest, err := extract(t, z.Data, WithWorkers(4))
	require.NoError(t, err)
	require.Len(t, res.Outcomes, n)
	assert.Equal(t, n-1, res.Written)
	assert.Equal(t, 1, res.Failed)
	for i, o := range res.Outcomes {
		assert.Equal(t, i, o.Index)
		if i == 7 {
			continue
		}
		got, err := os.ReadFile(filepath.Join(dest, "files", fmt.Sprintf("%02d.bin", i)))
		require.NoError(t, err)
		assert.Equal(t, entries[i].Data, got)
	}
}

// cancelTarget cancels its context when the first file is created.
type cancelTarget struct {
	batch.Discard
	cancel context.CancelFunc
}

func (c *cancelTarget) CreateFile(e *Entry, rel string) (Committer, error) {
	c.cancel()
	return c.Discard.CreateFile(e, rel)
}

func TestExtract_Canceled(t *testing.T) {
	t.Parallel()

	entries := make([]testutil.ZipEntry, 5)
	for i := range entries {
		entries[i] = testutil.ZipEntry{Name: fmt.Sprintf("%d.txt", i), Data: []byte("data"), Method: testutil.Stored}
	}
	z := testutil.BuildZip(t, entries)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	x := New(WithWorkers(-1), WithTarget(&cancelTarget{cancel: cancel}))
	res, err := x.Extract(ctx, NewBytesSource(z.Data), "unused")

	require.ErrorIs(t, err, context.Canceled)
	assert.True(t, res.Canceled)
	require.Len(t, res.Outcomes, 5)
	assert.Equal(t, 5, res.Skipped)
	for _, o := range res.Outcomes {
		assert.Equal(t, ReasonCanceled, o.Reason)
	}
}

func TestExtract_PrependedData(t *testing.T) {
	t.Parallel()

	prefix := bytes.Repeat([]byte("#!stub\n"), 200)
	z := testutil.BuildZip(t, []testutil.ZipEntry{
		{Name: "a.txt", Data: []byte("after the stub"), Method: testutil.Deflated},
	}, testutil.WithPrefix(prefix))

	a, err := New().Open(context.Background(), NewBytesSource(z.Data))
	require.NoError(t, err)
	assert.Equal(t, int64(len(prefix)), a.BaseOffset())

	res, dest, err := extract(t, z.Data)
	require.NoError(t, err)
	require.Equal(t, 1, res.Written)
	assert.Equal(t, "after the stub", readFile(t, filepath.Join(dest, "a.txt")))
}

func TestExtract_Zip64(t *testing.T) {
	t.Parallel()

	z := testutil.BuildZip(t, []testutil.ZipEntry{
		{Name: "big.bin", Data: bytes.Repeat([]byte("z"), 5000), Method: testutil.Deflated, Zip64: true},
		{Name: "small.txt", Data: []byte("small"), Method: testutil.Stored, Zip64: true},
	}, testutil.WithZip64End())

	a, err := New().Open(context.Background(), NewBytesSource(z.Data))
	require.NoError(t, err)
	assert.True(t, a.Zip64())
	for _, e := range a.Entries() {
		assert.True(t, e.Zip64, e.Name)
	}

	res, dest, err := extract(t, z.Data)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Written)
	assert.Equal(t, "small", readFile(t, filepath.Join(dest, "small.txt")))
}

func TestExtract_LegacyCharset(t *testing.T) {
	t.Parallel()

	z := testutil.BuildZip(t, []testutil.ZipEntry{
		{Name: "f\x81r.txt", Data: []byte("cp437"), Method: testutil.Stored},
	})

	res, dest, err := extract(t, z.Data, WithLegacyCharset("cp437"))
	require.NoError(t, err)
	require.Equal(t, 1, res.Written)
	assert.Equal(t, "für.txt", res.Outcomes[0].Name)
	assert.Equal(t, "cp437", readFile(t, filepath.Join(dest, "für.txt")))

	_, _, err = extract(t, z.Data, WithLegacyCharset("ebcdic"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ebcdic")
}

func TestExtract_Progress(t *testing.T) {
	t.Parallel()

	z := testutil.BuildZip(t, []testutil.ZipEntry{
		{Name: "a.txt", Data: []byte("a"), Method: testutil.Stored},
		{Name: "b.txt", Data: []byte("bb"), Method: testutil.Stored},
		{Name: "c.txt", Data: []byte("ccc"), Method: testutil.Deflated},
	})

	var mu sync.Mutex
	var events []ProgressEvent
	_, _, err := extract(t, z.Data, WithProgress(func(ev ProgressEvent) {
		mu.Lock()
		defer mu.Unlock()
		events = append(events, ev)
	}))
	require.NoError(t, err)

	require.Len(t, events, 6)
	assert.Equal(t, StageLocating, events[0].Stage)
	assert.Equal(t, StageReadingDirectory, events[1].Stage)
	for i, ev := range events[2:5] {
		assert.Equal(t, StageExtracting, ev.Stage)
		assert.Equal(t, i+1, ev.FilesDone)
		assert.Equal(t, 3, ev.FilesTotal)
	}
	assert.Equal(t, StageDone, events[5].Stage)
	assert.Equal(t, 3, events[5].FilesDone)
}

func TestExtract_PreserveMode(t *testing.T) {
	t.Parallel()
	if runtime.GOOS == "windows" {
		t.Skip("permission bits are not supported on windows")
	}

	z := testutil.BuildZip(t, []testutil.ZipEntry{
		{Name: "locked/", Method: testutil.Stored, Mode: fs.ModeDir | 0o700},
		{Name: "locked/run.sh", Data: []byte("#!/bin/sh\n"), Method: testutil.Stored, Mode: 0o750},
		{Name: "link", Data: []byte("locked/run.sh"), Method: testutil.Stored, Mode: fs.ModeSymlink | 0o777},
	})

	res, dest, err := extract(t, z.Data, WithPreserveMode(true))
	require.NoError(t, err)
	require.Equal(t, 3, res.Written)

	info, err := os.Stat(filepath.Join(dest, "locked", "run.sh"))
	require.NoError(t, err)
	assert.Equal(t, fs.FileMode(0o750), info.Mode().Perm())

	info, err = os.Stat(filepath.Join(dest, "locked"))
	require.NoError(t, err)
	assert.Equal(t, fs.FileMode(0o700), info.Mode().Perm())

	info, err = os.Lstat(filepath.Join(dest, "link"))
	require.NoError(t, err)
	assert.True(t, info.Mode().IsRegular(), "symlinks are written as regular files")
	assert.Equal(t, "locked/run.sh", readFile(t, filepath.Join(dest, "link")))
}

func TestExtract_MaxFileSize(t *testing.T) {
	t.Parallel()

	z := testutil.BuildZip(t, []testutil.ZipEntry{
		{Name: "big.txt", Data: bytes.Repeat([]byte("x"), 1024), Method: testutil.Deflated},
		{Name: "small.txt", Data: []byte("x"), Method: testutil.Deflated},
	})

	res, _, err := extract(t, z.Data, WithMaxFileSize(100))
	require.NoError(t, err)
	assert.ErrorIs(t, res.Outcomes[0].Err, ErrSizeOverflow)
	assert.Equal(t, OutcomeWritten, res.Outcomes[1].Kind)
}

func TestExtract_TruncatedData(t *testing.T) {
	t.Parallel()

	z := testutil.BuildZip(t, []testutil.ZipEntry{
		{Name: "a.txt", Data: []byte("first"), Method: testutil.Stored},
		{Name: "b.txt", Data: []byte("second"), Method: testutil.Stored},
	})
	// Make the second entry's data run past the end of the archive.
	a, err := New().Open(context.Background(), NewBytesSource(z.Data))
	require.NoError(t, err)
	a.entries[1].CompressedSize = uint64(len(z.Data))

	res, err := a.ExtractTo(context.Background(), t.TempDir())
	require.NoError(t, err)
	assert.Equal(t, OutcomeWritten, res.Outcomes[0].Kind)
	assert.ErrorIs(t, res.Outcomes[1].Err, ErrTruncated)
}

func TestWithTarget(t *testing.T) {
	t.Parallel()

	z := testutil.BuildZip(t, []testutil.ZipEntry{
		{Name: "d/", Method: testutil.Stored},
		{Name: "d/a.txt", Data: []byte("alpha"), Method: testutil.Deflated},
	})
	mem := newMemTarget()
	res, err := New(WithTarget(mem)).Extract(context.Background(), NewBytesSource(z.Data), "virtual")
	require.NoError(t, err)
	assert.Equal(t, 2, res.Written)
	assert.True(t, mem.dirs["d"])
	assert.Equal(t, "alpha", string(mem.files["d/a.txt"]))
}

func TestArchive_OpenEntry(t *testing.T) {
	t.Parallel()

	z := testutil.BuildZip(t, []testutil.ZipEntry{
		{Name: "good.txt", Data: []byte("good content"), Method: testutil.Deflated},
		{Name: "bad.txt", Data: []byte("bad content"), Method: testutil.Deflated, BadCRC: true},
	})
	src := testutil.NewMockByteSource(z.Data)
	a, err := New().Open(context.Background(), src)
	require.NoError(t, err)

	rc, err := a.OpenEntry(0)
	require.NoError(t, err)
	got, err := io.ReadAll(rc)
	require.NoError(t, err)
	require.NoError(t, rc.Close())
	assert.Equal(t, "good content", string(got))

	rc, err = a.OpenEntry(1)
	require.NoError(t, err)
	got, err = io.ReadAll(rc)
	assert.ErrorIs(t, err, ErrChecksum)
	assert.Equal(t, "bad content", string(got), "content is delivered before the mismatch is reported")
	require.NoError(t, rc.Close())

	_, err = a.OpenEntry(2)
	assert.Error(t, err)
}

func TestOpenFile(t *testing.T) {
	t.Parallel()

	z := testutil.BuildZip(t, []testutil.ZipEntry{
		{Name: "a.txt", Data: []byte("from disk"), Method: testutil.Deflated},
	})
	path := filepath.Join(t.TempDir(), "archive.zip")
	require.NoError(t, os.WriteFile(path, z.Data, 0o644))

	f, err := OpenFile(path)
	require.NoError(t, err)
	defer f.Close()
	assert.Equal(t, int64(len(z.Data)), f.Size())

	dest := filepath.Join(t.TempDir(), "out")
	res, err := New().Extract(context.Background(), f, dest)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Written)
	assert.Equal(t, "from disk", readFile(t, filepath.Join(dest, "a.txt")))

	_, err = OpenFile(t.TempDir())
	assert.Error(t, err)
}
