package pool

import (
	"context"
	stderrors "errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"candle-scanner/internal/errors"
	"candle-scanner/internal/models"
)

func job(ticker string, run func(ctx context.Context) error) Job {
	return Job{
		Instrument: models.Instrument{Ticker: ticker},
		Interval:   models.Interval1d,
		Op:         "fill",
		Run:        run,
	}
}

func TestRunIsolatesFailures(t *testing.T) {
	var ran [5]atomic.Bool
	jobs := make([]Job, 5)
	for i := range jobs {
		i := i
		jobs[i] = job("T", func(ctx context.Context) error {
			ran[i].Store(true)
			if i == 2 {
				return errors.Transient(stderrors.New("upstream reset"))
			}
			return nil
		})
	}

	c := NewCoordinator(zerolog.Nop(), nil)
	results := c.Run(context.Background(), jobs, 2)

	require.Len(t, results, 5)
	sum := Summarize(results)
	assert.Equal(t, 4, sum.OK)
	assert.Equal(t, 1, sum.Failed)

	failures := Failures(results)
	require.Len(t, failures, 1)
	assert.Equal(t, 2, failures[0].Index)
	assert.Equal(t, errors.KindTransient, errors.KindOf(failures[0].Err))
	assert.True(t, ran[3].Load())
	assert.True(t, ran[4].Load())
	assert.Error(t, Err(results))
}

func TestRunCapturesPanics(t *testing.T) {
	jobs := []Job{
		job("A", func(context.Context) error { panic("nil map") }),
		job("B", func(context.Context) error { return nil }),
	}
	results := NewCoordinator(zerolog.Nop(), nil).Run(context.Background(), jobs, 4)

	assert.True(t, results[0].Panicked)
	assert.Equal(t, errors.KindFatal, errors.KindOf(results[0].Err))
	assert.True(t, results[1].OK())
}

func TestRunBoundsConcurrency(t *testing.T) {
	var inFlight, peak atomic.Int32
	jobs := make([]Job, 20)
	for i := range jobs {
		jobs[i] = job("T", func(context.Context) error {
			n := inFlight.Add(1)
			for {
				p := peak.Load()
				if n <= p || peak.CompareAndSwap(p, n) {
					break
				}
			}
			time.Sleep(5 * time.Millisecond)
			inFlight.Add(-1)
			return nil
		})
	}
	NewCoordinator(zerolog.Nop(), nil).Run(context.Background(), jobs, 3)
	assert.LessOrEqual(t, peak.Load(), int32(3))
}

func TestRunIsABarrier(t *testing.T) {
	var mu sync.Mutex
	var finished int
	jobs := make([]Job, 10)
	for i := range jobs {
		jobs[i] = job("T", func(context.Context) error {
			time.Sleep(time.Millisecond)
			mu.Lock()
			finished++
			mu.Unlock()
			return nil
		})
	}
	NewCoordinator(zerolog.Nop(), nil).Run(context.Background(), jobs, 4)
	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 10, finished)
}

func TestRunSkipsAfterCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	c := NewCoordinator(zerolog.Nop(), nil)
	results := c.Run(ctx, []Job{job("A", func(context.Context) error { return nil })}, 1)

	assert.True(t, results[0].Skipped)
	assert.Equal(t, Summary{Total: 1, Skipped: 1}, Summarize(results))
	assert.Equal(t, uint64(1), c.Stats().Submitted)
	assert.Equal(t, uint64(0), c.Stats().Completed)
}

func TestMostlySucceeded(t *testing.T) {
	assert.True(t, Summary{}.MostlySucceeded(0.5))
	assert.True(t, Summary{Total: 4, OK: 3, Failed: 1}.MostlySucceeded(0.75))
	assert.False(t, Summary{Total: 4, OK: 2, Failed: 2}.MostlySucceeded(0.75))
}
