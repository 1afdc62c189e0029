package main

import (
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/meigma/unzip"
)

var testStream bool

var testCmd = &cobra.Command{
	Use:   "test <archive|url|->",
	Short: "Check the integrity of every entry without writing anything",
	Long: `Decompress every entry and compare it with its recorded CRC-32 and size.

The command exits with status 1 if any entry fails.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signalContext(cmd.Context())
		defer stop()

		in, err := openInput(ctx, args[0], testStream)
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
			x := unzip.New(append(baseOptions(), unzip.WithTarget(unzip.Discard{}))...)
			res, err = x.ExtractStream(ctx, in.stream, ".")
		} else {
			var a *unzip.Archive
			a, err = unzip.New(baseOptions()...).Open(ctx, in.source)
			if err == nil {
				res, err = a.Verify(ctx)
			}
		}
		return report(cmd.OutOrStdout(), cmd.ErrOrStderr(), "verified", res, err)
	},
}

func init() {
	testCmd.Flags().BoolVar(&testStream, "stream", false, "read the input sequentially even when random access is possible")
}
