package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fixedRand float64

func (f fixedRand) Float64() float64 { return float64(f) }

type classified struct{ retry bool }

func (e classified) Error() string   { return "classified" }
func (e classified) Retryable() bool { return e.retry }

var errTransient = classified{retry: true}

type recorder struct {
	delays []time.Duration
}

func (r *recorder) sleep(_ context.Context, d time.Duration) error {
	r.delays = append(r.delays, d)
	return nil
}

func testPolicy() Policy {
	return Policy{
		InitialDelay: 100 * time.Millisecond,
		Multiplier:   2,
		MaxDelay:     time.Second,
		MaxAttempts:  5,
	}
}

func TestDelay(t *testing.T) {
	// 0.5 + 0.5 gives a jitter factor of exactly 1
	c := NewController(testPolicy(), WithRand(fixedRand(0.5)))
	assert.Equal(t, 100*time.Millisecond, c.Delay(1))
	assert.Equal(t, 200*time.Millisecond, c.Delay(2))
	assert.Equal(t, 400*time.Millisecond, c.Delay(3))
	assert.Equal(t, 800*time.Millisecond, c.Delay(4))
	assert.Equal(t, time.Second, c.Delay(5))

	low := NewController(testPolicy(), WithRand(fixedRand(0)))
	assert.Equal(t, 50*time.Millisecond, low.Delay(1))

	high := NewController(testPolicy(), WithRand(fixedRand(0.999)))
	assert.Less(t, high.Delay(1), 150*time.Millisecond)
	assert.Equal(t, time.Second, high.Delay(4))
}

func TestDoSucceedsAfterTransientFailures(t *testing.T) {
	rec := &recorder{}
	c := NewController(testPolicy(), WithRand(fixedRand(0.5)), WithSleep(rec.sleep))

	var attempts []int
	var notified []int
	err := c.Do(context.Background(), func(_ context.Context, attempt int) error {
		attempts = append(attempts, attempt)
		if attempt <= 3 {
			return errTransient
		}
		return nil
	}, func(next int, _ time.Duration, _ error) {
		notified = append(notified, next)
	})

	require.NoError(t, err)
	assert.Equal(t, []int{1, 2, 3, 4}, attempts)
	assert.Equal(t, []int{2, 3, 4}, notified)
	assert.Equal(t, []time.Duration{100 * time.Millisecond, 200 * time.Millisecond, 400 * time.Millisecond}, rec.delays)
}

func TestDoStopsAtMaxAttempts(t *testing.T) {
	rec := &recorder{}
	policy := testPolicy()
	policy.MaxAttempts = 3
	c := NewController(policy, WithSleep(rec.sleep))

	calls := 0
	err := c.Do(context.Background(), func(context.Context, int) error {
		calls++
		return errTransient
	}, nil)

	require.Error(t, err)
	assert.ErrorIs(t, err, errTransient)
	assert.Equal(t, 3, calls)
	assert.Len(t, rec.delays, 2)
}

func TestDoTerminalErrorIsNotRetried(t *testing.T) {
	rec := &recorder{}
	c := NewController(testPolicy(), WithSleep(rec.sleep))
	terminal := classified{retry: false}

	calls := 0
	err := c.Do(context.Background(), func(context.Context, int) error {
		calls++
		return terminal
	}, nil)

	assert.Equal(t, terminal, err)
	assert.Equal(t, 1, calls)
	assert.Empty(t, rec.delays)
}

func TestDoUnclassifiedErrorIsTerminal(t *testing.T) {
	c := NewController(testPolicy(), WithSleep((&recorder{}).sleep))
	plain := errors.New("plain")

	calls := 0
	err := c.Do(context.Background(), func(context.Context, int) error {
		calls++
		return plain
	}, nil)

	assert.Equal(t, plain, err)
	assert.Equal(t, 1, calls)
}

func TestDoRespectsElapsedCeiling(t *testing.T) {
	now := time.Unix(0, 0)
	clock := func() time.Time { return now }
	sleep := func(_ context.Context, d time.Duration) error {
		now = now.Add(d)
		return nil
	}
	policy := testPolicy()
	policy.MaxAttempts = 100
	policy.MaxElapsed = 500 * time.Millisecond
	c := NewController(policy, WithRand(fixedRand(0.5)), WithSleep(sleep), WithClock(clock))

	calls := 0
	err := c.Do(context.Background(), func(context.Context, int) error {
		calls++
		return errTransient
	}, nil)

	// waits of 100ms and 200ms fit, the 400ms one would end at 700ms
	require.Error(t, err)
	assert.Equal(t, 3, calls)
}

func TestDoStopsWhenContextIsCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	c := NewController(testPolicy())

	err := c.Do(ctx, func(context.Context, int) error { return errTransient }, nil)
	assert.ErrorIs(t, err, context.Canceled)
	assert.NotErrorIs(t, err, errTransient)
	assert.False(t, Retryable(err))
	assert.ErrorContains(t, err, "classified")
}

func TestPolicyValidate(t *testing.T) {
	assert.NoError(t, DefaultPolicy().Validate())

	bad := DefaultPolicy()
	bad.MaxAttempts = 0
	assert.Error(t, bad.Validate())

	bad = DefaultPolicy()
	bad.Multiplier = 0.5
	assert.Error(t, bad.Validate())

	bad = DefaultPolicy()
	bad.MaxDelay = time.Millisecond
	assert.Error(t, bad.Validate())
}
