package file

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"hash/crc32"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meigma/unzip/internal/testutil"
	"github.com/meigma/unzip/internal/ziptype"
)

func entryFor(method ziptype.Method, content, compressed []byte) *ziptype.Entry {
	return &ziptype.Entry{
		Name:             "test.txt",
		Method:           method,
		CRC32:            crc32.ChecksumIEEE(content),
		CompressedSize:   uint64(len(compressed)),
		UncompressedSize: uint64(len(content)),
	}
}

func TestReader_RoundTrip(t *testing.T) {
	t.Parallel()

	content := []byte(strings.Repeat("hello world, this is test content. ", 500))
	deflated := testutil.Deflate(t, content)
	pool := NewDecompressPool()

	tests := []struct {
		name       string
		method     ziptype.Method
		compressed []byte
		opts       []Option
	}{
		{name: "stored", method: ziptype.MethodStored, compressed: content},
		{name: "deflated", method: ziptype.MethodDeflated, compressed: deflated},
		{name: "deflated pooled", method: ziptype.MethodDeflated, compressed: deflated, opts: []Option{WithPool(pool)}},
		{name: "deflated pooled again", method: ziptype.MethodDeflated, compressed: deflated, opts: []Option{WithPool(pool)}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			r, err := Open(entryFor(tt.method, content, tt.compressed), bytes.NewReader(tt.compressed), tt.opts...)
			require.NoError(t, err)
			defer r.Close()

			got, err := io.ReadAll(&testutil.ChunkReader{R: r, N: 1000})
			require.NoError(t, err)
			assert.Equal(t, content, got)
			assert.Equal(t, StateVerified, r.State())
			assert.Equal(t, uint64(len(tt.compressed)), r.CompressedRead())
		})
	}
}

func TestReader_Empty(t *testing.T) {
	t.Parallel()

	r, err := Open(entryFor(ziptype.MethodStored, nil, nil), bytes.NewReader(nil))
	require.NoError(t, err)
	got, err := io.ReadAll(r)
	require.NoError(t, err)
	assert.Empty(t, got)
	assert.Equal(t, StateVerified, r.State())
}

func TestReader_ChecksumAfterAllBytes(t *testing.T) {
	t.Parallel()

	content := []byte("the quick brown fox")
	e := entryFor(ziptype.MethodStored, content, content)
	e.CRC32 ^= 1

	r, err := Open(e, bytes.NewReader(content))
	require.NoError(t, err)
	got, err := io.ReadAll(r)
	require.ErrorIs(t, err, ziptype.ErrChecksum)
	assert.Equal(t, content, got, "all content is delivered before the mismatch")
	assert.Equal(t, StateFailed, r.State())

	_, err = r.Read(make([]byte, 1))
	require.ErrorIs(t, err, ziptype.ErrChecksum, "failure is sticky")
}

func TestReader_SizeMismatch(t *testing.T) {
	t.Parallel()

	content := []byte("abcdef")
	e := entryFor(ziptype.MethodStored, content, content)
	e.UncompressedSize = 10
	e.CompressedSize = 10

	r, err := Open(e, bytes.NewReader(content))
	require.NoError(t, err)
	_, err = io.ReadAll(r)
	require.ErrorIs(t, err, ziptype.ErrSizeMismatch)
}

func TestReader_CorruptDeflate(t *testing.T) {
	t.Parallel()

	content := []byte(strings.Repeat("corruption should never go unnoticed ", 200))
	deflated := testutil.Deflate(t, content)

	// Flipping any single byte must yield a checksum, codec, truncation or
	// size error; never silently wrong output.
	for i := range deflated {
		corrupt := bytes.Clone(deflated)
		corrupt[i] ^= 0x55
		r, err := Open(entryFor(ziptype.MethodDeflated, content, corrupt), bytes.NewReader(corrupt))
		require.NoError(t, err)
		_, err = io.ReadAll(r)
		r.Close()
		require.Error(t, err, "byte %d", i)
		assert.True(t,
			errorsIsAny(err, ziptype.ErrChecksum, ziptype.ErrCodec, ziptype.ErrTruncated, ziptype.ErrSizeMismatch),
			"byte %d: %v", i, err)
	}
}

func TestReader_TruncatedDeflate(t *testing.T) {
	t.Parallel()

	content := []byte(strings.Repeat("truncate me ", 400))
	deflated := testutil.Deflate(t, content)
	short := deflated[:len(deflated)/2]

	r, err := Open(entryFor(ziptype.MethodDeflated, content, deflated), bytes.NewReader(short))
	require.NoError(t, err)
	_, err = io.ReadAll(r)
	require.ErrorIs(t, err, ziptype.ErrTruncated)
}

func TestReader_Unsupported(t *testing.T) {
	t.Parallel()

	for _, m := range []ziptype.Method{ziptype.MethodShrunk, ziptype.MethodImploded, ziptype.MethodBzip2, ziptype.MethodLZMA, ziptype.MethodZstd, 77} {
		_, err := Open(&ziptype.Entry{Method: m}, bytes.NewReader(nil))
		require.ErrorIs(t, err, ziptype.ErrUnsupportedMethod)
		var methodErr *ziptype.UnsupportedMethodError
		require.ErrorAs(t, err, &methodErr)
		assert.Equal(t, m, methodErr.Method)
	}

	_, err := Open(&ziptype.Entry{Flags: ziptype.FlagEncrypted}, bytes.NewReader(nil))
	require.ErrorIs(t, err, ziptype.ErrEncrypted)
}

func TestReader_MaxFileSize(t *testing.T) {
	t.Parallel()

	content := bytes.Repeat([]byte{0}, 1<<20)
	deflated := testutil.Deflate(t, content)

	_, err := Open(entryFor(ziptype.MethodDeflated, content, deflated), bytes.NewReader(deflated), WithMaxFileSize(1024))
	require.ErrorIs(t, err, ziptype.ErrSizeOverflow)

	// A lying directory cannot get past the limit either.
	e := entryFor(ziptype.MethodDeflated, content, deflated)
	e.UncompressedSize = 10
	r, err := Open(e, bytes.NewReader(deflated), WithMaxFileSize(1024))
	require.NoError(t, err)
	_, err = io.Copy(io.Discard, r)
	require.ErrorIs(t, err, ziptype.ErrSizeOverflow)
}

func TestReader_Deferred(t *testing.T) {
	t.Parallel()

	content := []byte(strings.Repeat("streamed ", 100))
	deflated := testutil.Deflate(t, content)
	trailer := []byte("PK\x07\x08trailing")
	br := bufio.NewReader(bytes.NewReader(append(bytes.Clone(deflated), trailer...)))

	e := &ziptype.Entry{Method: ziptype.MethodDeflated, Flags: ziptype.FlagDataDescriptor}
	r, err := Open(e, br, Deferred())
	require.NoError(t, err)
	defer r.Close()

	got, err := io.ReadAll(r)
	require.NoError(t, err)
	assert.Equal(t, content, got)
	assert.Equal(t, StatePending, r.State())
	assert.Equal(t, uint64(len(deflated)), r.CompressedRead())

	rest, err := io.ReadAll(br)
	require.NoError(t, err)
	assert.Equal(t, trailer, rest, "decoder must not read past the deflate stream")

	require.ErrorIs(t, r.Verify(crc32.ChecksumIEEE(content)^1, uint64(len(content))), ziptype.ErrChecksum)
	assert.Equal(t, StateFailed, r.State())
}

func TestReader_DeferredVerify(t *testing.T) {
	t.Parallel()

	content := []byte("descriptor")
	r, err := Open(&ziptype.Entry{Method: ziptype.MethodStored}, bytes.NewReader(content), Deferred())
	require.NoError(t, err)

	require.ErrorIs(t, r.Verify(0, 0), ziptype.ErrSizeMismatch, "verify before EOF fails")

	r, err = Open(&ziptype.Entry{Method: ziptype.MethodStored}, bytes.NewReader(content), Deferred())
	require.NoError(t, err)
	_, err = io.Copy(io.Discard, r)
	require.NoError(t, err)
	require.NoError(t, r.Verify(crc32.ChecksumIEEE(content), uint64(len(content))))
	assert.Equal(t, StateVerified, r.State())
	assert.Equal(t, crc32.ChecksumIEEE(content), r.CRC32())
	assert.Equal(t, uint64(len(content)), r.Size())
}

func TestCopyWithContext(t *testing.T) {
	t.Parallel()

	src := strings.Repeat("x", 100_000)
	var dst bytes.Buffer
	n, err := CopyWithContext(context.Background(), &dst, strings.NewReader(src), make([]byte, 1024))
	require.NoError(t, err)
	assert.Equal(t, uint64(len(src)), n)
	assert.Equal(t, src, dst.String())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	n, err = CopyWithContext(ctx, io.Discard, strings.NewReader(src), nil)
	require.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, n)
}

func TestCounting(t *testing.T) {
	t.Parallel()

	cr := &CountingReader{R: bufio.NewReader(strings.NewReader("abc"))}
	b, err := cr.ReadByte()
	require.NoError(t, err)
	assert.Equal(t, byte('a'), b)
	_, err = io.ReadAll(cr)
	require.NoError(t, err)
	assert.Equal(t, uint64(3), cr.N)

	var buf bytes.Buffer
	cw := &CountingWriter{W: &buf}
	_, err = cw.Write([]byte("hello"))
	require.NoError(t, err)
	assert.Equal(t, uint64(5), cw.N)
}

func errorsIsAny(err error, targets ...error) bool {
	for _, target := range targets {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}
