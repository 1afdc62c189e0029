package main

import (
	"errors"
	"fmt"
	"log/slog"
	"text/tabwriter"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/meigma/unzip"
)

var listCmd = &cobra.Command{
	Use:   "list <archive|url>",
	Short: "List the entries of an archive",
	Long: `List the entries recorded in the central directory of an archive.

Listing needs random access, so standard input is not accepted.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signalContext(cmd.Context())
		defer stop()

		in, err := openInput(ctx, args[0], false)
		if err != nil {
			return err
		}
		defer func() {
			if err := in.close(); err != nil {
				logger.Warn("close input", slog.Any("error", err))
			}
		}()
		if in.source == nil {
			return errors.New("list needs a file or a URL with range support")
		}

		a, err := unzip.New(baseOptions()...).Open(ctx, in.source)
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', tabwriter.AlignRight)
		fmt.Fprintln(tw, "Size\tPacked\tMethod\tModified\t\tName")
		var total uint64
		for _, e := range a.Entries() {
			total += e.UncompressedSize
			modified := ""
			if !e.Modified.IsZero() {
				modified = e.Modified.Format("2006-01-02 15:04")
			}
			name := e.Name
			if e.Encrypted() {
				name += " (encrypted)"
			}
			fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t\t%s\n",
				humanize.IBytes(e.UncompressedSize), humanize.IBytes(e.CompressedSize), e.Method, modified, name)
		}
		if err := tw.Flush(); err != nil {
			return err
		}

		fmt.Fprintf(out, "%s entries, %s\n", humanize.Comma(int64(a.Len())), humanize.IBytes(total))
		if c := a.Comment(); c != "" {
			fmt.Fprintf(out, "comment: %s\n", c)
		}
		if a.BaseOffset() > 0 {
			fmt.Fprintf(out, "%s of data precede the archive\n", humanize.IBytes(uint64(a.BaseOffset())))
		}
		return nil
	},
}
