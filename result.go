package unzip

import (
	"errors"
	"fmt"
	"log/slog"
)

// State is a phase of an extraction run.
type State uint8

// Extraction states. A run moves forward through them and ends in StateDone,
// or in StateFailed when the archive as a whole cannot be read.
const (
	StateStart State = iota
	StateLocating
	StateReadingEntries
	StateExtracting
	StateDone
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateStart:
		return "start"
	case StateLocating:
		return "locating"
	case StateReadingEntries:
		return "reading entries"
	case StateExtracting:
		return "extracting"
	case StateDone:
		return "done"
	case StateFailed:
		return "failed"
	default:
		return fmt.Sprintf("State(%d)", uint8(s))
	}
}

// Result summarizes a run. It is produced once and not modified afterwards.
type Result struct {
	// Outcomes holds one outcome per entry, ordered by entry index.
	Outcomes []Outcome

	// Total is the number of entries discovered.
	Total int

	// Written, Skipped and Failed count outcomes by kind.
	Written int
	Skipped int
	Failed  int

	// BytesWritten is the total decompressed size of written entries.
	BytesWritten uint64

	// Canceled is true when the run stopped because its context was canceled.
	Canceled bool

	// State is the final state of the run.
	State State
}

// Err joins the errors of all failed entries, or returns nil.
func (r *Result) Err() error {
	var errs []error
	for i := range r.Outcomes {
		if r.Outcomes[i].Kind == OutcomeFailed {
			errs = append(errs, r.Outcomes[i].Err)
		}
	}
	return errors.Join(errs...)
}

func (r *Result) add(o Outcome) {
	r.Outcomes = append(r.Outcomes, o)
	r.count(o)
}

func (r *Result) count(o Outcome) {
	r.Total++
	switch o.Kind {
	case OutcomeWritten:
		r.Written++
		r.BytesWritten += o.Bytes
	case OutcomeSkipped:
		r.Skipped++
	case OutcomeFailed:
		r.Failed++
	}
}

// run tracks the state of one extraction.
type run struct {
	state  State
	logger *slog.Logger
}

func (r *run) enter(s State) {
	r.logger.Debug("state", slog.String("from", r.state.String()), slog.String("to", s.String()))
	r.state = s
}
