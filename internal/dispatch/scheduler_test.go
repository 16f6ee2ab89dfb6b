package dispatch

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

type countingRunner struct {
	calls atomic.Int32
	limit atomic.Int32
	err   error
	panic bool
}

func (r *countingRunner) Run(ctx context.Context, req Request) (*Summary, error) {
	r.calls.Add(1)
	r.limit.Store(int32(req.Limit))
	if r.panic {
		panic("runner exploded")
	}
	if r.err != nil {
		return nil, r.err
	}
	return &Summary{}, nil
}

// waitForCalls polls until the runner has been called n times or two
// seconds pass.
func waitForCalls(r *countingRunner, n int32) {
	deadline := time.Now().Add(2 * time.Second)
	for r.calls.Load() < n && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
}

func TestSchedulerTicks(t *testing.T) {
	defer goleak.VerifyNone(t)

	runner := &countingRunner{}
	s := NewScheduler(runner, 5*time.Millisecond, 7, testLogger())
	s.Start()
	waitForCalls(runner, 2)
	s.Stop()

	require.GreaterOrEqual(t, runner.calls.Load(), int32(2))
	assert.Equal(t, int32(7), runner.limit.Load())
}

func TestSchedulerToleratesErrors(t *testing.T) {
	defer goleak.VerifyNone(t)

	for _, err := range []error{ErrBatchRunning, errors.New("db down")} {
		runner := &countingRunner{err: err}
		s := NewScheduler(runner, 5*time.Millisecond, 0, testLogger())
		s.Start()
		waitForCalls(runner, 2)
		s.Stop()

		assert.GreaterOrEqual(t, runner.calls.Load(), int32(2), "%v: scheduler stopped ticking after an error", err)
	}
}

func TestSchedulerSurvivesPanic(t *testing.T) {
	defer goleak.VerifyNone(t)

	runner := &countingRunner{panic: true}
	s := NewScheduler(runner, 5*time.Millisecond, 0, testLogger())
	s.Start()
	waitForCalls(runner, 3)
	s.Stop()

	assert.GreaterOrEqual(t, runner.calls.Load(), int32(3), "scheduler stopped ticking after a panic")
}

func TestSchedulerStopWithoutTick(t *testing.T) {
	defer goleak.VerifyNone(t)

	runner := &countingRunner{}
	s := NewScheduler(runner, time.Hour, 0, testLogger())
	s.Start()
	s.Stop()

	assert.Zero(t, runner.calls.Load())
}
