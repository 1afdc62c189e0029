package batch

import (
	"context"
	"log/slog"
	"runtime"

	"golang.org/x/sync/errgroup"

	"github.com/meigma/unzip/internal/sizing"
	"github.com/meigma/unzip/internal/ziptype"
)

// parallelMinAvgBytes is the minimum average entry size for automatic
// parallel processing. Below it, serial processing is faster.
const parallelMinAvgBytes = 64 << 10

// Job identifies one entry to process.
type Job struct {
	// Index is the entry position; outcomes are ordered by it.
	Index int

	// Name is the stored entry name.
	Name string

	// Size is the expected decompressed size, used for scheduling only.
	Size uint64
}

// WorkFunc processes one job and reports its outcome. It must not panic and
// must return exactly one outcome.
type WorkFunc func(ctx context.Context, job Job) ziptype.Outcome

// Processor runs jobs on a bounded pool of workers and collects their
// outcomes through a single aggregator.
type Processor struct {
	workers int // 0 = auto, <0 = serial, >0 = fixed count
	logger  *slog.Logger
	notify  func(ziptype.Outcome)
}

// ProcessorOption configures a Processor.
type ProcessorOption func(*Processor)

// WithWorkers sets the number of workers for parallel processing.
// Values < 0 force serial processing. Zero uses automatic heuristics.
// Values > 0 force a specific worker count.
func WithWorkers(n int) ProcessorOption {
	return func(p *Processor) {
		p.workers = n
	}
}

// WithProcessorLogger sets the logger for batch processing operations.
// If not set, logging is disabled.
func WithProcessorLogger(logger *slog.Logger) ProcessorOption {
	return func(p *Processor) {
		p.logger = logger
	}
}

// WithNotify registers fn to be called from the aggregator for every
// outcome, in completion order. Calls are never concurrent.
func WithNotify(fn func(ziptype.Outcome)) ProcessorOption {
	return func(p *Processor) {
		p.notify = fn
	}
}

// NewProcessor creates a new batch processor.
func NewProcessor(opts ...ProcessorOption) *Processor {
	p := &Processor{}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

func (p *Processor) log() *slog.Logger {
	if p.logger == nil {
		return slog.New(slog.DiscardHandler)
	}
	return p.logger
}

// Process runs work for every job and returns one outcome per job, ordered
// like jobs.
//
// A failing job does not stop the others. When ctx is canceled, jobs that
// have not started are reported as skipped and ctx.Err() is returned with
// the outcomes gathered so far.
func (p *Processor) Process(ctx context.Context, jobs []Job, work WorkFunc) ([]ziptype.Outcome, error) {
	outcomes := make([]ziptype.Outcome, len(jobs))
	if len(jobs) == 0 {
		return outcomes, ctx.Err()
	}

	workers := p.workerCount(jobs)
	p.log().Debug("batch processing", slog.Int("jobs", len(jobs)), slog.Int("workers", workers))

	results := make(chan indexed, workers)
	done := make(chan struct{})
	go func() {
		defer close(done)
		for r := range results {
			outcomes[r.pos] = r.outcome
			if p.notify != nil {
				p.notify(r.outcome)
			}
		}
	}()

	var g errgroup.Group
	g.SetLimit(workers)
	for pos, job := range jobs {
		if ctx.Err() != nil {
			results <- indexed{pos: pos, outcome: canceled(job)}
			continue
		}
		g.Go(func() error {
			if ctx.Err() != nil {
				results <- indexed{pos: pos, outcome: canceled(job)}
				return nil
			}
			results <- indexed{pos: pos, outcome: work(ctx, job)}
			return nil
		})
	}
	_ = g.Wait() //nolint:errcheck // workers report through outcomes
	close(results)
	<-done

	return outcomes, ctx.Err()
}

type indexed struct {
	pos     int
	outcome ziptype.Outcome
}

func canceled(job Job) ziptype.Outcome {
	return ziptype.Outcome{
		Index:  job.Index,
		Name:   job.Name,
		Kind:   ziptype.OutcomeSkipped,
		Reason: ziptype.ReasonCanceled,
	}
}

// workerCount determines the number of workers to use for processing.
func (p *Processor) workerCount(jobs []Job) int {
	if len(jobs) < 2 || p.workers < 0 {
		return 1
	}

	workers := p.workers
	if workers == 0 {
		workers = runtime.GOMAXPROCS(0)
		if workers < 2 {
			return 1
		}
		// Only parallelize when entries are large enough to amortize scheduling.
		var total uint64
		for _, job := range jobs {
			next, ok := sizing.AddUint64(total, job.Size)
			if !ok {
				total = ^uint64(0)
				break
			}
			total = next
		}
		if total/uint64(len(jobs)) < parallelMinAvgBytes {
			return 1
		}
	}

	return max(min(workers, len(jobs)), 1)
}
