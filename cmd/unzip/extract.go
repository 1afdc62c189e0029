package main

import (
	"fmt"
	"io"
	"log/slog"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/meigma/unzip"
)

var (
	extractDest         string
	extractStream       bool
	extractOverwrite    bool
	extractPreserveMode bool
	extractNoTimes      bool
	extractDirect       bool
	extractVerifyFirst  bool
	extractMaxSize      string
)

var extractCmd = &cobra.Command{
	Use:   "extract <archive|url|-> [flags]",
	Short: "Extract an archive into a directory",
	Long: `Extract every entry of an archive below the destination directory.

Entries whose names would escape the destination are rejected. Existing files
are left alone unless --overwrite is given. A damaged entry does not stop the
others; the command exits with status 1 if any entry failed.

Examples:
  unzip extract release.zip -d out
  curl -sL https://example.com/a.zip | unzip extract - -d out
  unzip extract https://example.com/a.zip --verify-first`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signalContext(cmd.Context())
		defer stop()

		opts := append(baseOptions(),
			unzip.WithOverwrite(extractOverwrite),
			unzip.WithPreserveMode(extractPreserveMode),
			unzip.WithPreserveTimes(!extractNoTimes),
			unzip.WithDirectWrites(extractDirect),
			unzip.WithVerifyFirst(extractVerifyFirst),
		)
		if extractMaxSize != "" {
			limit, err := humanize.ParseBytes(extractMaxSize)
			if err != nil {
				return fmt.Errorf("--max-size: %w", err)
			}
			opts = append(opts, unzip.WithMaxFileSize(limit))
		}
		x := unzip.New(opts...)

		in, err := openInput(ctx, args[0], extractStream)
		if err != nil {
			return err
		}
		defer func() {
			if err := in.close(); err != nil {
				logger.Warn("close input", slog.Any("error", err))
			}
		}()

		var res *unzip.Result
		if in.stream != nil {
			res, err = x.ExtractStream(ctx, in.stream, extractDest)
		} else {
			res, err = x.Extract(ctx, in.source, extractDest)
		}
		return report(cmd.OutOrStdout(), cmd.ErrOrStderr(), "extracted", res, err)
	},
}

func init() {
	flags := extractCmd.Flags()
	flags.StringVarP(&extractDest, "dest", "d", ".", "destination directory")
	flags.BoolVar(&extractStream, "stream", false, "read the input sequentially even when random access is possible")
	flags.BoolVarP(&extractOverwrite, "overwrite", "o", false, "replace existing files")
	flags.BoolVar(&extractPreserveMode, "preserve-mode", false, "apply Unix permission bits from the archive")
	flags.BoolVar(&extractNoTimes, "no-times", false, "do not restore modification times")
	flags.BoolVar(&extractDirect, "direct", false, "write files in place instead of through temp files")
	flags.BoolVar(&extractVerifyFirst, "verify-first", false, "check every entry before writing anything")
	flags.StringVar(&extractMaxSize, "max-size", "", "largest decompressed entry accepted, e.g. 512MiB (default 4GiB)")
}

// report prints failed entries and a summary line. It returns errEntriesFailed
// when any entry failed, or err if the run itself failed.
func report(stdout, stderr io.Writer, verb string, res *unzip.Result, err error) error {
	if res != nil {
		for _, o := range res.Outcomes {
			switch o.Kind {
			case unzip.OutcomeFailed:
				fmt.Fprintf(stderr, "  failed: %v\n", o.Err)
			case unzip.OutcomeSkipped:
				if !quiet {
					fmt.Fprintf(stderr, " skipped: %s (%s)\n", o.Name, o.Reason)
				}
			}
		}
	}
	if err != nil {
		return err
	}
	if !quiet {
		fmt.Fprintf(stdout, "%s %d of %d entries (%s), %d skipped, %d failed\n",
			verb, res.Written, res.Total, humanize.IBytes(res.BytesWritten), res.Skipped, res.Failed)
	}
	if res.Failed > 0 {
		return errEntriesFailed
	}
	return nil
}
