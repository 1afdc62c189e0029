// Package unzip extracts ZIP archives.
//
// It parses the archive format itself: the end of central directory record
// (including Zip64 and archives with prepended data), the central directory,
// local file headers, and data descriptors. Entry data is decompressed
// (Stored and Deflated), checked against its CRC-32, and written below a
// destination directory through an [os.Root], so no entry can be written
// outside it.
//
// # Random access
//
// Extract reads the central directory and extracts entries, optionally in
// parallel:
//
//	src, err := unzip.OpenFile("release.zip")
//	if err != nil {
//	    return err
//	}
//	defer src.Close()
//
//	res, err := unzip.New(unzip.WithWorkers(4)).Extract(ctx, src, "./out")
//	if err != nil {
//	    return err // archive unreadable or canceled
//	}
//	if res.Failed > 0 {
//	    return res.Err()
//	}
//
// # Streaming
//
// ExtractStream reads local headers in order from any io.Reader, recovering
// sizes and checksums from data descriptors:
//
//	res, err := unzip.New().ExtractStream(ctx, os.Stdin, "./out")
//
// # Partial failure
//
// A damaged entry does not stop extraction. Every entry ends in exactly one
// [Outcome]: written, skipped, or failed. Failures carry an [*EntryError]
// wrapping one of the sentinel errors, such as [ErrChecksum] or
// [ErrPathTraversal]. Only errors that make the whole archive unreadable
// (for example [ErrMalformed] while locating the central directory) and
// cancellation are returned as the error result.
package unzip
