package batch

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meigma/unzip/internal/ziptype"
)

func jobs(n int, size uint64) []Job {
	out := make([]Job, n)
	for i := range out {
		out[i] = Job{Index: i, Name: "f", Size: size}
	}
	return out
}

func TestProcessor_OrderedOutcomes(t *testing.T) {
	t.Parallel()

	for _, workers := range []int{-1, 0, 1, 4, 16} {
		var running, peak atomic.Int32
		p := NewProcessor(WithWorkers(workers))
		outcomes, err := p.Process(context.Background(), jobs(50, 1<<20), func(_ context.Context, job Job) ziptype.Outcome {
			cur := running.Add(1)
			for {
				old := peak.Load()
				if cur <= old || peak.CompareAndSwap(old, cur) {
					break
				}
			}
			time.Sleep(time.Millisecond)
			running.Add(-1)
			if job.Index%7 == 3 {
				return ziptype.Outcome{Index: job.Index, Kind: ziptype.OutcomeFailed, Err: errors.New("boom")}
			}
			return ziptype.Outcome{Index: job.Index, Kind: ziptype.OutcomeWritten}
		})
		require.NoError(t, err)
		require.Len(t, outcomes, 50)
		for i, o := range outcomes {
			assert.Equal(t, i, o.Index)
			if i%7 == 3 {
				assert.Equal(t, ziptype.OutcomeFailed, o.Kind)
			} else {
				assert.Equal(t, ziptype.OutcomeWritten, o.Kind)
			}
		}
		if workers > 0 {
			assert.LessOrEqual(t, int(peak.Load()), workers)
		}
		if workers < 0 {
			assert.Equal(t, int32(1), peak.Load())
		}
	}
}

func TestProcessor_Canceled(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	p := NewProcessor(WithWorkers(-1))
	outcomes, err := p.Process(ctx, jobs(10, 0), func(_ context.Context, job Job) ziptype.Outcome {
		if job.Index == 2 {
			cancel()
		}
		return ziptype.Outcome{Index: job.Index, Kind: ziptype.OutcomeWritten}
	})
	require.ErrorIs(t, err, context.Canceled)
	require.Len(t, outcomes, 10)
	for i, o := range outcomes {
		if i <= 2 {
			assert.Equal(t, ziptype.OutcomeWritten, o.Kind)
			continue
		}
		assert.Equal(t, ziptype.OutcomeSkipped, o.Kind, "entry %d", i)
		assert.Equal(t, ziptype.ReasonCanceled, o.Reason)
	}
}

func TestProcessor_Notify(t *testing.T) {
	t.Parallel()

	var (
		mu   sync.Mutex
		seen []int
	)
	p := NewProcessor(WithWorkers(4), WithNotify(func(o ziptype.Outcome) {
		mu.Lock()
		defer mu.Unlock()
		seen = append(seen, o.Index)
	}))
	_, err := p.Process(context.Background(), jobs(20, 1<<20), func(_ context.Context, job Job) ziptype.Outcome {
		return ziptype.Outcome{Index: job.Index, Kind: ziptype.OutcomeWritten}
	})
	require.NoError(t, err)
	assert.ElementsMatch(t, []int{0, 1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12, 13, 14, 15, 16, 17, 18, 19}, seen)
}

func TestProcessor_WorkerCount(t *testing.T) {
	t.Parallel()

	assert.Equal(t, 1, NewProcessor(WithWorkers(-1)).workerCount(jobs(10, 1<<20)))
	assert.Equal(t, 1, NewProcessor(WithWorkers(8)).workerCount(jobs(1, 1<<20)))
	assert.Equal(t, 3, NewProcessor(WithWorkers(8)).workerCount(jobs(3, 1<<20)))
	assert.Equal(t, 1, NewProcessor().workerCount(jobs(100, 10)), "small entries stay serial")
}
