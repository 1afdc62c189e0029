package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/meigma/unzip"
	unziphttp "github.com/meigma/unzip/http"
)

// errEntriesFailed reports that the run finished but some entries failed.
// Details have already been printed.
var errEntriesFailed = errors.New("one or more entries failed")

var (
	verbose       bool
	quiet         bool
	legacyCharset string
	workers       int
)

var rootCmd = &cobra.Command{
	Use:   "unzip",
	Short: "Extract, list, and test ZIP archives",
	Long: `unzip reads ZIP archives from local files, HTTP(S) URLs, or standard input.

Local files and URLs served with range support are read through the central
directory. Standard input ("-") and servers without range support are read
as a stream of local headers.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRun: func(cmd *cobra.Command, _ []string) {
		logger = newLogger(cmd.ErrOrStderr())
	},
}

var logger = slog.New(slog.DiscardHandler)

func init() {
	flags := rootCmd.PersistentFlags()
	flags.BoolVarP(&verbose, "verbose", "v", false, "log every entry and record")
	flags.BoolVarP(&quiet, "quiet", "q", false, "only report errors")
	flags.StringVar(&legacyCharset, "legacy-charset", "", "decode names without the UTF-8 flag from this code page (cp437, cp850, cp866, cp1252, latin1)")
	flags.IntVarP(&workers, "workers", "j", 0, "entries processed concurrently: <0 serial, 0 auto, >0 fixed")

	rootCmd.AddCommand(extractCmd, listCmd, testCmd)
}

func newLogger(w io.Writer) *slog.Logger {
	level := slog.LevelInfo
	switch {
	case verbose:
		level = slog.LevelDebug
	case quiet:
		level = slog.LevelError
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level}))
}

// signalContext cancels on the first SIGINT or SIGTERM.
func signalContext(parent context.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
}

// baseOptions returns the extractor options shared by every command.
func baseOptions() []unzip.Option {
	opts := []unzip.Option{
		unzip.WithLogger(logger),
		unzip.WithWorkers(workers),
	}
	if legacyCharset != "" {
		opts = append(opts, unzip.WithLegacyCharset(legacyCharset))
	}
	return opts
}

// input is an opened archive: random access when possible, a stream otherwise.
type input struct {
	source unzip.ByteSource
	stream io.Reader
	close  func() error
}

func isURL(arg string) bool {
	return strings.HasPrefix(arg, "http://") || strings.HasPrefix(arg, "https://")
}

// openInput opens arg as a file, URL, or "-" for standard input.
// With forceStream set, files and URLs are read sequentially too.
func openInput(ctx context.Context, arg string, forceStream bool) (*input, error) {
	switch {
	case arg == "-":
		return &input{stream: os.Stdin, close: func() error { return nil }}, nil

	case isURL(arg):
		if !forceStream {
			src, err := unziphttp.NewSource(ctx, arg, unziphttp.WithLogger(logger))
			if err == nil {
				return &input{source: src, close: func() error { return nil }}, nil
			}
			if !errors.Is(err, unziphttp.ErrRangeUnsupported) {
				return nil, err
			}
			logger.Info("server does not support range requests, streaming instead", slog.String("url", arg))
		}
		body, err := unziphttp.Get(ctx, arg, unziphttp.WithLogger(logger))
		if err != nil {
			return nil, err
		}
		return &input{stream: body, close: body.Close}, nil

	default:
		if forceStream {
			f, err := os.Open(arg) //nolint:gosec // user-provided path is intentional
			if err != nil {
				return nil, fmt.Errorf("open archive: %w", err)
			}
			return &input{stream: f, close: f.Close}, nil
		}
		f, err := unzip.OpenFile(arg)
		if err != nil {
			return nil, err
		}
		return &input{source: f, close: f.Close}, nil
	}
}
