package ziptype

// ProgressEvent represents a progress update during listing, verification,
// or extraction.
type ProgressEvent struct {
	// Stage identifies the current phase of the operation.
	Stage ProgressStage

	// Path is the entry currently being processed, if applicable.
	Path string

	// BytesDone is the number of bytes written for the current entry.
	BytesDone uint64

	// BytesTotal is the expected size of the current entry.
	// Zero indicates the total is unknown (streamed entries with descriptors).
	BytesTotal uint64

	// FilesDone is the number of entries completed.
	FilesDone int

	// FilesTotal is the total number of entries.
	// Zero indicates the total is unknown (streaming mode).
	FilesTotal int
}

// ProgressStage identifies the current phase of an operation.
type ProgressStage uint8

// Progress stages, in the order an extraction passes through them.
const (
	// StageLocating indicates the end of central directory is being located.
	StageLocating ProgressStage = iota

	// StageReadingDirectory indicates central directory headers are being parsed.
	StageReadingDirectory

	// StageExtracting indicates entries are being extracted.
	StageExtracting

	// StageVerifying indicates entries are being decompressed and checked without writing.
	StageVerifying

	// StageDone indicates the run has finished.
	StageDone
)

// String returns the string representation of the stage.
func (s ProgressStage) String() string {
	switch s {
	case StageLocating:
		return "locating"
	case StageReadingDirectory:
		return "reading directory"
	case StageExtracting:
		return "extracting"
	case StageVerifying:
		return "verifying"
	case StageDone:
		return "done"
	default:
		return "unknown"
	}
}

// ProgressFunc receives progress updates during operations.
// Implementations must be safe for concurrent calls.
type ProgressFunc func(ProgressEvent)
