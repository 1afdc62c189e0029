// Package http reads archives over HTTP.
//
// Source provides random access through range requests and satisfies
// unzip.ByteSource and unzip.RangeReader. Servers without range support can
// still be read sequentially with Get and extracted as a stream.
package http

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	nethttp "net/http"
	"strconv"
	"strings"
	"sync/atomic"
)

// ErrRangeUnsupported is returned when the server ignores range requests.
var ErrRangeUnsupported = errors.New("http: range requests not supported")

// Source implements random access reads via HTTP range requests.
//
// After the size probe, every request carries If-Match (or
// If-Unmodified-Since) so a remote file that changes mid-extraction fails
// instead of mixing two versions.
type Source struct {
	url          string
	ctx          context.Context
	client       *nethttp.Client
	headers      nethttp.Header
	logger       *slog.Logger
	size         int64
	etag         string
	lastModified string
	requests     atomic.Int64
}

// Option configures a Source or a Get request.
type Option func(*Source)

// WithClient sets the HTTP client used for requests.
func WithClient(client *nethttp.Client) Option {
	return func(s *Source) {
		s.client = client
	}
}

// WithHeaders sets additional headers on each request.
func WithHeaders(headers nethttp.Header) Option {
	return func(s *Source) {
		if headers == nil {
			return
		}
		s.headers = headers.Clone()
	}
}

// WithHeader sets a single header on each request.
func WithHeader(key, value string) Option {
	return func(s *Source) {
		if s.headers == nil {
			s.headers = make(nethttp.Header)
		}
		s.headers.Set(key, value)
	}
}

// WithLogger sets the logger for request tracing. If not set, logging is disabled.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Source) {
		s.logger = logger
	}
}

// NewSource probes url for its size and range support.
// ctx bounds the probe and every later request made by the Source.
func NewSource(ctx context.Context, url string, opts ...Option) (*Source, error) {
	s := newSource(ctx, url, opts)
	if err := s.probe(); err != nil {
		return nil, err
	}
	s.log().Debug("http source ready",
		slog.String("url", s.url),
		slog.Int64("size", s.size),
		slog.String("etag", s.etag),
	)
	return s, nil
}

func newSource(ctx context.Context, url string, opts []Option) *Source {
	s := &Source{url: url, ctx: ctx, client: nethttp.DefaultClient}
	for _, opt := range opts {
		opt(s)
	}
	if s.client == nil {
		s.client = nethttp.DefaultClient
	}
	return s
}

// Get fetches url with a plain GET request for sequential reading.
// The caller must close the returned body.
func Get(ctx context.Context, url string, opts ...Option) (io.ReadCloser, error) {
	s := newSource(ctx, url, opts)
	req, err := s.newRequest(nethttp.MethodGet)
	if err != nil {
		return nil, err
	}
	resp, err := s.do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != nethttp.StatusOK {
		drain(resp.Body)
		return nil, fmt.Errorf("http: get %s: %s", url, resp.Status)
	}
	return resp.Body, nil
}

// Size returns the total size of the remote content.
func (s *Source) Size() int64 {
	return s.size
}

// Requests returns the number of HTTP requests made so far.
func (s *Source) Requests() int64 {
	return s.requests.Load()
}

// ReadRange returns a reader for length bytes starting at off, fetched with
// a single request.
func (s *Source) ReadRange(off, length int64) (io.ReadCloser, error) {
	if length < 0 {
		return nil, fmt.Errorf("read range length %d: negative length", length)
	}
	if off < 0 {
		return nil, fmt.Errorf("read range %d: negative offset", off)
	}
	if length == 0 {
		return io.NopCloser(bytes.NewReader(nil)), nil
	}
	if off >= s.size {
		return io.NopCloser(bytes.NewReader(nil)), io.EOF
	}
	length = min(length, s.size-off)

	body, err := s.get(off, off+length-1)
	if err != nil {
		return nil, err
	}
	return &rangeReadCloser{body: body, reader: io.LimitReader(body, length)}, nil
}

// ReadAt implements io.ReaderAt with one range request per call.
func (s *Source) ReadAt(p []byte, off int64) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	if off < 0 {
		return 0, fmt.Errorf("read at %d: negative offset", off)
	}
	if off >= s.size {
		return 0, io.EOF
	}

	expected := int(min(int64(len(p)), s.size-off))
	body, err := s.get(off, off+int64(expected)-1)
	if err != nil {
		return 0, err
	}
	defer drain(body)

	n, err := io.ReadFull(body, p[:expected])
	if err != nil {
		return n, err
	}
	if expected < len(p) {
		return n, io.EOF
	}
	return n, nil
}

// get issues a range request for the inclusive byte range [first, last].
func (s *Source) get(first, last int64) (io.ReadCloser, error) {
	req, err := s.newRequest(nethttp.MethodGet)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Range", fmt.Sprintf("bytes=%d-%d", first, last))

	resp, err := s.do(req)
	if err != nil {
		return nil, err
	}
	switch resp.StatusCode {
	case nethttp.StatusPartialContent:
		return resp.Body, nil
	case nethttp.StatusRequestedRangeNotSatisfiable:
		drain(resp.Body)
		return nil, io.EOF
	case nethttp.StatusOK:
		drain(resp.Body)
		return nil, ErrRangeUnsupported
	case nethttp.StatusPreconditionFailed:
		drain(resp.Body)
		return nil, fmt.Errorf("http: %s changed while reading", s.url)
	default:
		drain(resp.Body)
		return nil, fmt.Errorf("http: range request failed: %s", resp.Status)
	}
}

// probe determines the size with a HEAD request, confirmed by a one-byte
// range request that also proves range support.
func (s *Source) probe() error {
	headSize := int64(-1)
	if req, err := s.newRequest(nethttp.MethodHead); err == nil {
		if resp, err := s.do(req); err == nil {
			if resp.StatusCode == nethttp.StatusOK {
				headSize = resp.ContentLength
				s.etag = resp.Header.Get("ETag")
				s.lastModified = resp.Header.Get("Last-Modified")
			}
			drain(resp.Body)
		}
	}

	req, err := s.newRequest(nethttp.MethodGet)
	if err != nil {
		return err
	}
	req.Header.Set("Range", "bytes=0-0")
	resp, err := s.do(req)
	if err != nil {
		return err
	}
	defer drain(resp.Body)

	switch resp.StatusCode {
	case nethttp.StatusPartialContent:
	case nethttp.StatusOK:
		return ErrRangeUnsupported
	default:
		return fmt.Errorf("http: range probe failed: %s", resp.Status)
	}

	size, err := parseContentRange(resp.Header.Get("Content-Range"))
	if err != nil {
		return err
	}
	if headSize > 0 && headSize != size {
		return fmt.Errorf("http: content size mismatch: head=%d range=%d", headSize, size)
	}
	s.size = size
	if s.etag == "" {
		s.etag = resp.Header.Get("ETag")
	}
	if s.lastModified == "" {
		s.lastModified = resp.Header.Get("Last-Modified")
	}
	return nil
}

func (s *Source) newRequest(method string) (*nethttp.Request, error) {
	ctx := s.ctx
	if ctx == nil {
		ctx = context.Background()
	}
	req, err := nethttp.NewRequestWithContext(ctx, method, s.url, nil)
	if err != nil {
		return nil, err
	}
	for key, values := range s.headers {
		for _, value := range values {
			req.Header.Add(key, value)
		}
	}
	if req.Header.Get("Accept-Encoding") == "" {
		req.Header.Set("Accept-Encoding", "identity")
	}
	if method == nethttp.MethodGet {
		switch {
		case s.etag != "" && !strings.HasPrefix(s.etag, "W/"):
			if req.Header.Get("If-Match") == "" {
				req.Header.Set("If-Match", s.etag)
			}
		case s.lastModified != "":
			if req.Header.Get("If-Unmodified-Since") == "" {
				req.Header.Set("If-Unmodified-Since", s.lastModified)
			}
		}
	}
	return req, nil
}

func (s *Source) do(req *nethttp.Request) (*nethttp.Response, error) {
	s.requests.Add(1)
	s.log().Debug("http request",
		slog.String("method", req.Method),
		slog.String("url", s.url),
		slog.String("range", req.Header.Get("Range")),
	)
	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http: %s %s: %w", req.Method, s.url, err)
	}
	return resp, nil
}

func (s *Source) log() *slog.Logger {
	if s.logger == nil {
		return slog.New(slog.DiscardHandler)
	}
	return s.logger
}

type rangeReadCloser struct {
	body   io.ReadCloser
	reader io.Reader
}

func (r *rangeReadCloser) Read(p []byte) (int, error) {
	return r.reader.Read(p)
}

func (r *rangeReadCloser) Close() error {
	_, _ = io.Copy(io.Discard, r.body)
	return r.body.Close()
}

func drain(body io.ReadCloser) {
	_, _ = io.Copy(io.Discard, body)
	_ = body.Close()
}

// parseContentRange returns the complete length from a Content-Range value
// such as "bytes 0-0/1234".
func parseContentRange(value string) (int64, error) {
	value = strings.TrimSpace(value)
	rest, ok := strings.CutPrefix(value, "bytes ")
	if !ok {
		return 0, fmt.Errorf("http: invalid Content-Range %q", value)
	}
	_, total, ok := strings.Cut(rest, "/")
	if !ok || total == "*" {
		return 0, fmt.Errorf("http: invalid Content-Range %q", value)
	}
	size, err := strconv.ParseInt(total, 10, 64)
	if err != nil || size < 0 {
		return 0, fmt.Errorf("http: invalid Content-Range %q", value)
	}
	return size, nil
}
