package scheduler

import (
	"context"
	stderrors "errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"

	"candle-scanner/internal/clock"
)

var epoch = time.Date(2024, 5, 6, 9, 0, 0, 0, time.UTC)

func noCycle(t *testing.T, ch <-chan int) {
	t.Helper()
	select {
	case n := <-ch:
		t.Fatalf("cycle %d ran early", n)
	case <-time.After(20 * time.Millisecond):
	}
}

// A cycle that fails inside indicator recomputation does not stop the
// loop, and the next cycle runs exactly one interval later.
func TestLoopSurvivesFailingCycle(t *testing.T) {
	fake := clock.NewFake(epoch)
	ran := make(chan int, 4)
	var n atomic.Int32

	loop := &Loop{
		Name:       "refresh",
		FirstDelay: time.Minute,
		Interval:   time.Hour,
		Clock:      fake,
		Logger:     zerolog.Nop(),
		Cycle: func(ctx context.Context) error {
			i := int(n.Add(1))
			defer func() { ran <- i }()
			switch i {
			case 1:
				return stderrors.New("indicator recomputation failed")
			case 2:
				panic("bad series")
			}
			return nil
		},
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- loop.Run(ctx) }()

	fake.BlockUntil(1)
	fake.Advance(59 * time.Second)
	noCycle(t, ran)
	fake.Advance(time.Second)
	assert.Equal(t, 1, <-ran)

	fake.BlockUntil(1)
	fake.Advance(59 * time.Minute)
	noCycle(t, ran)
	fake.Advance(time.Minute)
	assert.Equal(t, 2, <-ran)

	fake.BlockUntil(1)
	fake.Advance(time.Hour)
	assert.Equal(t, 3, <-ran)

	fake.BlockUntil(1)
	st := loop.Status()
	assert.Equal(t, Idle, st.State)
	assert.Equal(t, 3, st.Cycles)
	assert.Equal(t, 2, st.Failures)
	assert.Contains(t, st.LastErr.Error(), "bad series")
	assert.False(t, st.LastSuccess.IsZero())

	assert.Equal(t, []State{
		Running, Failed, Idle,
		Running, Failed, Idle,
		Running, Success, Idle,
	}, loop.Transitions())

	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)
}

func TestLoopStopsDuringFirstDelay(t *testing.T) {
	loop := &Loop{Name: "x", FirstDelay: time.Hour, Interval: time.Hour, Clock: clock.NewFake(epoch), Logger: zerolog.Nop(),
		Cycle: func(context.Context) error { t.Fatal("cycle ran"); return nil }}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, loop.Run(ctx), context.Canceled)
	assert.Equal(t, 0, loop.Status().Cycles)
}

func TestLoopFinishesCycleBeforeExit(t *testing.T) {
	fake := clock.NewFake(epoch)
	ctx, cancel := context.WithCancel(context.Background())
	var finished atomic.Bool

	loop := &Loop{Name: "x", Interval: time.Hour, Clock: fake, Logger: zerolog.Nop(),
		Cycle: func(context.Context) error {
			cancel()
			time.Sleep(10 * time.Millisecond)
			finished.Store(true)
			return nil
		}}

	assert.ErrorIs(t, loop.Run(ctx), context.Canceled)
	assert.True(t, finished.Load())
	assert.Equal(t, 1, loop.Status().Cycles)
}

type artifact struct {
	mod       time.Time
	generated int
	records   int
	err       error
}

func (a *artifact) loop(fake *clock.Fake) *OverviewLoop {
	return &OverviewLoop{
		Name:   "overview",
		Clock:  fake,
		Logger: zerolog.Nop(),
		ModTime: func(context.Context) (time.Time, error) {
			return a.mod, nil
		},
		Generate: func(context.Context) (int, error) {
			a.generated++
			if a.err == nil && a.records > 0 {
				a.mod = fake.Now()
			}
			return a.records, a.err
		},
	}
}

func TestOverviewStep(t *testing.T) {
	fake := clock.NewFake(epoch)

	t.Run("fresh artifact sleeps for recheck", func(t *testing.T) {
		a := &artifact{mod: epoch.Add(-2 * time.Hour)}
		assert.Equal(t, DefaultRecheck, a.loop(fake).Step(context.Background()))
		assert.Equal(t, 0, a.generated)
	})

	t.Run("stale artifact is regenerated", func(t *testing.T) {
		a := &artifact{mod: epoch.Add(-25 * time.Hour), records: 40}
		l := a.loop(fake)
		assert.Equal(t, DefaultRecheck, l.Step(context.Background()))
		assert.Equal(t, 1, a.generated)
		assert.True(t, a.mod.Equal(epoch))
		assert.Equal(t, Idle, l.State())
	})

	t.Run("missing artifact is generated", func(t *testing.T) {
		a := &artifact{records: 3}
		assert.Equal(t, DefaultRecheck, a.loop(fake).Step(context.Background()))
		assert.Equal(t, 1, a.generated)
	})

	t.Run("empty result retries sooner", func(t *testing.T) {
		a := &artifact{}
		assert.Equal(t, DefaultRetryEmpty, a.loop(fake).Step(context.Background()))
	})

	t.Run("failure waits for recheck", func(t *testing.T) {
		a := &artifact{err: stderrors.New("blocked"), records: 5}
		l := a.loop(fake)
		assert.Equal(t, DefaultRecheck, l.Step(context.Background()))
		assert.Equal(t, 1, l.Status().Failures)
	})
}

func TestOverviewRunRegeneratesAfterFreshnessLapses(t *testing.T) {
	fake := clock.NewFake(epoch)
	a := &artifact{mod: epoch.Add(-23 * time.Hour), records: 10}
	l := a.loop(fake)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- l.Run(ctx) }()

	fake.BlockUntil(1)
	assert.Equal(t, 0, l.Status().Cycles)

	fake.Advance(DefaultRecheck)
	fake.BlockUntil(1)
	assert.Equal(t, 1, l.Status().Cycles)

	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)
	assert.Equal(t, 1, a.generated)
}
