// Command profiler builds a synthetic archive and runs one extraction path in
// a loop under pprof, for profiling and throughput comparisons.
package main

import (
	"archive/zip"
	"bytes"
	"context"
	"flag"
	"fmt"
	"io"
	"log"
	"math/rand" //nolint:gosec // intentional use for reproducible benchmarks
	"net/http"
	_ "net/http/pprof" //nolint:gosec // intentional profiling endpoint
	"os"
	"path/filepath"
	"runtime"
	"runtime/pprof"
	"runtime/trace"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/klauspost/compress/flate"

	"github.com/meigma/unzip"
	"github.com/meigma/unzip/internal/testutil"
)

type config struct {
	mode            string
	files           int
	fileSize        int
	dirCount        int
	method          string
	pattern         string
	dataURL         string
	dataHTTPLatency time.Duration
	dataHTTPBPS     int64
	duration        time.Duration
	iterations      int
	pprofAddr       string
	cpuProfile      string
	memProfile      string
	traceFile       string
	workers         int
	readRandom      bool
	tempDir         string
	keepTemp        bool
	randomSeed      int64
}

//nolint:unused // sink variables prevent compiler optimizations in profiling
var (
	sinkBytes int64
	sinkCount int
)

func main() {
	if err := run(parseFlags()); err != nil {
		log.Fatal(err)
	}
}

//nolint:gocritic // hugeParam acceptable for config struct in CLI tool
func run(cfg config) error {
	if cfg.pprofAddr != "" {
		go func() {
			log.Printf("pprof listening on %s", cfg.pprofAddr)
			//nolint:gosec // intentional pprof server without timeouts for profiling
			if err := http.ListenAndServe(cfg.pprofAddr, nil); err != nil {
				log.Printf("pprof server error: %v", err)
			}
		}()
	}

	dir, cleanup, err := setupTempDir(cfg)
	if err != nil {
		return err
	}
	if cleanup != nil {
		defer cleanup() //nolint:errcheck // cleanup errors are non-fatal in profiler
	}

	data, err := buildArchive(cfg)
	if err != nil {
		return err
	}
	log.Printf("archive: %d entries, %s", cfg.files, humanize.IBytes(uint64(len(data))))

	src, closeSource, err := newSource(cfg, data)
	if err != nil {
		return err
	}
	if closeSource != nil {
		defer closeSource()
	}

	stopProfiles, err := startProfiles(cfg)
	if err != nil {
		return err
	}
	stats, err := runProfile(cfg, src, data, dir)
	stopProfiles()
	if err != nil {
		return err
	}
	if err := writeHeapProfile(cfg.memProfile); err != nil {
		return err
	}

	perSecond := uint64(float64(stats.bytes) / stats.elapsed.Seconds())
	fmt.Printf("mode=%s ops=%d bytes=%s elapsed=%s throughput=%s/s\n",
		cfg.mode,
		stats.ops,
		humanize.IBytes(uint64(stats.bytes)), //nolint:gosec // byte counts are non-negative
		stats.elapsed,
		humanize.IBytes(perSecond),
	)
	return nil
}

// startProfiles starts the CPU profile and execution trace requested in cfg.
// The returned func stops whichever were started.
//
//nolint:gocritic // hugeParam acceptable for config struct in CLI tool
func startProfiles(cfg config) (func(), error) {
	var stops []func()
	stopAll := func() {
		for i := len(stops) - 1; i >= 0; i-- {
			stops[i]()
		}
	}

	if cfg.cpuProfile != "" {
		f, err := os.Create(cfg.cpuProfile)
		if err != nil {
			return nil, err
		}
		if err := pprof.StartCPUProfile(f); err != nil {
			_ = f.Close()
			return nil, err
		}
		stops = append(stops, func() {
			pprof.StopCPUProfile()
			_ = f.Close()
		})
	}

	if cfg.traceFile != "" {
		f, err := os.Create(cfg.traceFile)
		if err != nil {
			stopAll()
			return nil, err
		}
		if err := trace.Start(f); err != nil {
			_ = f.Close()
			stopAll()
			return nil, err
		}
		stops = append(stops, func() {
			trace.Stop()
			_ = f.Close()
		})
	}
	return stopAll, nil
}

func writeHeapProfile(path string) error {
	if path == "" {
		return nil
	}
	runtime.GC()
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()
	return pprof.WriteHeapProfile(f)
}

type profileStats struct {
	ops     int
	bytes   int64
	elapsed time.Duration
}

//nolint:gocognit,gocyclo,gocritic // multi-mode dispatch; hugeParam acceptable for profiler
func runProfile(cfg config, src unzip.ByteSource, data []byte, rootDir string) (profileStats, error) {
	ctx := context.Background()
	x := unzip.New(unzip.WithWorkers(cfg.workers), unzip.WithOverwrite(true))

	start := time.Now()
	ops := 0
	var byteCount int64

	shouldContinue := func() bool {
		if cfg.iterations > 0 {
			return ops < cfg.iterations
		}
		return time.Since(start) < cfg.duration
	}
	check := func(res *unzip.Result, err error) error {
		if err != nil {
			return err
		}
		if res.Failed > 0 {
			return res.Err()
		}
		byteCount += int64(res.BytesWritten) //nolint:gosec // bounded by the generated dataset
		sinkCount = res.Total
		return nil
	}

	switch cfg.mode {
	case "open":
		for shouldContinue() {
			a, err := x.Open(ctx, src)
			if err != nil {
				return profileStats{}, err
			}
			sinkCount = a.Len()
			ops++
		}

	case "verify":
		a, err := x.Open(ctx, src)
		if err != nil {
			return profileStats{}, err
		}
		for shouldContinue() {
			if err := check(a.Verify(ctx)); err != nil {
				return profileStats{}, err
			}
			ops++
		}

	case "extract":
		for shouldContinue() {
			dest := filepath.Join(rootDir, "out", fmt.Sprintf("iter-%d", ops))
			if err := check(x.Extract(ctx, src, dest)); err != nil {
				return profileStats{}, err
			}
			if err := os.RemoveAll(dest); err != nil {
				return profileStats{}, err
			}
			ops++
		}

	case "extract-stream":
		verify := unzip.New(unzip.WithTarget(unzip.Discard{}))
		for shouldContinue() {
			if err := check(verify.ExtractStream(ctx, bytes.NewReader(data), rootDir)); err != nil {
				return profileStats{}, err
			}
			ops++
		}

	case "read-entry":
		a, err := x.Open(ctx, src)
		if err != nil {
			return profileStats{}, err
		}
		rng := rand.New(rand.NewSource(cfg.randomSeed)) //nolint:gosec // intentional for reproducible benchmarks
		for shouldContinue() {
			i := ops % a.Len()
			if cfg.readRandom {
				i = rng.Intn(a.Len())
			}
			rc, err := a.OpenEntry(i)
			if err != nil {
				return profileStats{}, err
			}
			n, err := io.Copy(io.Discard, rc)
			_ = rc.Close()
			if err != nil {
				return profileStats{}, err
			}
			sinkBytes = n
			byteCount += n
			ops++
		}

	default:
		return profileStats{}, fmt.Errorf("unknown mode: %s", cfg.mode)
	}

	return profileStats{
		ops:     ops,
		bytes:   byteCount,
		elapsed: time.Since(start),
	}, nil
}

func parseFlags() config {
	var cfg config
	var dataHTTPBPS string
	flag.StringVar(&cfg.mode, "mode", "extract", "mode: open, verify, extract, extract-stream, read-entry")
	flag.IntVar(&cfg.files, "files", 512, "number of files")
	flag.IntVar(&cfg.fileSize, "file-size", 16<<10, "file size in bytes")
	flag.IntVar(&cfg.dirCount, "dir-count", 16, "number of directories")
	flag.StringVar(&cfg.method, "method", "deflate", "compression: store or deflate")
	flag.StringVar(&cfg.pattern, "pattern", "compressible", "pattern: compressible or random")
	flag.StringVar(&cfg.dataURL, "data-url", "", "HTTP archive URL (use \"local\" to serve the generated archive)")
	flag.DurationVar(&cfg.dataHTTPLatency, "data-http-latency", 0, "per-request latency for HTTP source")
	flag.StringVar(&dataHTTPBPS, "data-http-bps", "", "bytes/sec throttle for HTTP source (e.g. 10MB)")
	flag.DurationVar(&cfg.duration, "duration", 10*time.Second, "duration to run (ignored if iterations > 0)")
	flag.IntVar(&cfg.iterations, "iterations", 0, "number of iterations to run")
	flag.StringVar(&cfg.pprofAddr, "pprof-addr", "", "pprof listen address (e.g. :6060)")
	flag.StringVar(&cfg.cpuProfile, "cpuprofile", "", "write CPU profile to file")
	flag.StringVar(&cfg.memProfile, "memprofile", "", "write heap profile to file")
	flag.StringVar(&cfg.traceFile, "trace", "", "write trace to file")
	flag.IntVar(&cfg.workers, "workers", 0, "extraction workers: <0 serial, 0 auto, >0 fixed")
	flag.BoolVar(&cfg.readRandom, "read-random", true, "randomize read-entry selection")
	flag.StringVar(&cfg.tempDir, "temp-dir", "", "directory for extraction output")
	flag.BoolVar(&cfg.keepTemp, "keep-temp", false, "keep temp dir after run")
	flag.Int64Var(&cfg.randomSeed, "seed", 1, "random seed")
	flag.Parse()
	if dataHTTPBPS != "" {
		bps, err := humanize.ParseBytes(dataHTTPBPS)
		if err != nil || bps == 0 {
			log.Fatalf("data-http-bps: invalid value %q", dataHTTPBPS)
		}
		cfg.dataHTTPBPS = int64(bps) //nolint:gosec // user-provided throttle fits in int64
	}
	return cfg
}

//nolint:gocritic // hugeParam acceptable for config struct in CLI tool
func setupTempDir(cfg config) (string, func() error, error) {
	if cfg.tempDir != "" {
		return cfg.tempDir, nil, os.MkdirAll(cfg.tempDir, 0o755) //nolint:gosec // 0o755 is intentional for profiler temp dirs
	}
	dir, err := os.MkdirTemp("", "unzip-profiler-*")
	if err != nil {
		return "", nil, err
	}
	cleanup := func() error {
		if cfg.keepTemp {
			return nil
		}
		return os.RemoveAll(dir)
	}
	return dir, cleanup, nil
}

// buildArchive writes the dataset into an in-memory archive.
//
//nolint:gocritic // hugeParam acceptable for config struct in CLI tool
func buildArchive(cfg config) ([]byte, error) {
	method := zip.Deflate
	switch cfg.method {
	case "deflate":
	case "store":
		method = zip.Store
	default:
		return nil, fmt.Errorf("unknown method: %s", cfg.method)
	}
	dirCount := max(cfg.dirCount, 1)

	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	zw.RegisterCompressor(zip.Deflate, func(w io.Writer) (io.WriteCloser, error) {
		return flate.NewWriter(w, flate.DefaultCompression)
	})

	rng := rand.New(rand.NewSource(cfg.randomSeed)) //nolint:gosec // intentional use for reproducible benchmarks
	content := make([]byte, cfg.fileSize)
	for i := range cfg.files {
		switch cfg.pattern {
		case "random":
			if _, err := rng.Read(content); err != nil {
				return nil, err
			}
		default:
			fillByte := byte('a' + (i % 26))
			for j := range content {
				content[j] = fillByte
			}
			if len(content) > 0 {
				content[0] = byte(i)
			}
		}

		w, err := zw.CreateHeader(&zip.FileHeader{
			Name:     fmt.Sprintf("dir%02d/file%05d.dat", i%dirCount, i),
			Method:   method,
			Modified: time.Unix(1_700_000_000, 0),
		})
		if err != nil {
			return nil, err
		}
		if _, err := w.Write(content); err != nil {
			return nil, err
		}
	}
	if err := zw.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

//nolint:gocritic // hugeParam acceptable for config struct in CLI tool
func newSource(cfg config, data []byte) (unzip.ByteSource, func(), error) {
	if cfg.dataURL == "" {
		return testutil.NewMockByteSource(data), nil, nil
	}
	return newHTTPSource(cfg, data)
}
