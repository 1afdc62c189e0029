package ziptype

import "fmt"

// OutcomeKind classifies how an entry was handled.
type OutcomeKind uint8

const (
	// OutcomeWritten means the entry was extracted (or verified) successfully.
	OutcomeWritten OutcomeKind = iota + 1
	// OutcomeSkipped means the entry was deliberately not extracted.
	OutcomeSkipped
	// OutcomeFailed means the entry could not be extracted.
	OutcomeFailed
)

func (k OutcomeKind) String() string {
	switch k {
	case OutcomeWritten:
		return "written"
	case OutcomeSkipped:
		return "skipped"
	case OutcomeFailed:
		return "failed"
	default:
		return fmt.Sprintf("OutcomeKind(%d)", uint8(k))
	}
}

// Outcome is the result of handling one entry.
type Outcome struct {
	// Index is the entry position in directory or stream order.
	Index int

	// Name is the stored entry name.
	Name string

	// Kind classifies the outcome.
	Kind OutcomeKind

	// Path is the destination-relative path, set when the name was valid.
	Path string

	// Bytes is the number of decompressed bytes written.
	Bytes uint64

	// IsDir is true for directory entries.
	IsDir bool

	// Reason explains a skipped entry.
	Reason string

	// Err is the failure cause; always an *EntryError for failed entries.
	Err error
}

// Skip reasons.
const (
	ReasonEncrypted = "encrypted"
	ReasonExists    = "destination exists"
	ReasonCanceled  = "canceled"
)
