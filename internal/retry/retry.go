// Package retry runs a unit of work under an exponential backoff policy with jitter.
package retry

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand/v2"
	"sync"
	"time"
)

// Policy describes how often and how long a failing unit of work is retried.
type Policy struct {
	// InitialDelay is the base delay before the second attempt.
	InitialDelay time.Duration
	// Multiplier scales the delay after every failed attempt.
	Multiplier float64
	// MaxDelay caps a single delay, jitter included.
	MaxDelay time.Duration
	// MaxAttempts is the total number of attempts, the first one included.
	MaxAttempts int
	// MaxElapsed stops retrying once the next wait would pass this much time
	// since the first attempt started. Zero disables the ceiling.
	MaxElapsed time.Duration
}

func DefaultPolicy() Policy {
	return Policy{
		InitialDelay: 500 * time.Millisecond,
		Multiplier:   1.5,
		MaxDelay:     5 * time.Second,
		MaxAttempts:  5,
		MaxElapsed:   120 * time.Second,
	}
}

func (p Policy) Validate() error {
	switch {
	case p.InitialDelay < 0:
		return errors.New("retry initial delay must not be negative")
	case p.Multiplier < 1:
		return fmt.Errorf("retry multiplier must be at least 1, got %v", p.Multiplier)
	case p.MaxDelay < p.InitialDelay:
		return errors.New("retry max delay must not be below the initial delay")
	case p.MaxAttempts < 1:
		return fmt.Errorf("retry attempts must be at least 1, got %d", p.MaxAttempts)
	case p.MaxElapsed < 0:
		return errors.New("retry max elapsed time must not be negative")
	}
	return nil
}

// Rand supplies jitter. Implementations need not be safe for concurrent use.
type Rand interface {
	Float64() float64
}

type globalRand struct{}

func (globalRand) Float64() float64 { return rand.Float64() }

// Func is one attempt. attempt starts at 1.
type Func func(ctx context.Context, attempt int) error

// NotifyFunc is called before waiting for the next attempt.
type NotifyFunc func(next int, delay time.Duration, err error)

// Controller applies a Policy. It is safe for concurrent use by many items.
type Controller struct {
	policy Policy

	mu   sync.Mutex
	rand Rand

	sleep func(ctx context.Context, d time.Duration) error
	now   func() time.Time
}

type Option func(*Controller)

// WithRand replaces the jitter source, typically with a deterministic one in tests.
func WithRand(r Rand) Option {
	return func(c *Controller) { c.rand = r }
}

// WithSleep replaces the wait between attempts.
func WithSleep(sleep func(ctx context.Context, d time.Duration) error) Option {
	return func(c *Controller) { c.sleep = sleep }
}

// WithClock replaces the clock used for the elapsed-time ceiling.
func WithClock(now func() time.Time) Option {
	return func(c *Controller) { c.now = now }
}

func NewController(policy Policy, opts ...Option) *Controller {
	c := &Controller{
		policy: policy,
		rand:   globalRand{},
		sleep:  sleepContext,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Controller) Policy() Policy {
	return c.policy
}

// Delay returns the wait after the given failed attempt:
// min(initial * multiplier^(attempt-1) * jitter, max) with jitter in [0.5, 1.5).
func (c *Controller) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	c.mu.Lock()
	jitter := 0.5 + c.rand.Float64()
	c.mu.Unlock()

	base := float64(c.policy.InitialDelay) * math.Pow(c.policy.Multiplier, float64(attempt-1))
	delay := base * jitter
	return time.Duration(min(delay, float64(c.policy.MaxDelay)))
}

// Retryable reports whether err asks to be retried. Errors that do not say are terminal.
func Retryable(err error) bool {
	var r interface{ Retryable() bool }
	if errors.As(err, &r) {
		return r.Retryable()
	}
	return false
}

// Do runs fn until it succeeds, returns a terminal error, or the policy is exhausted.
// The last error is returned when retries run out.
func (c *Controller) Do(ctx context.Context, fn Func, notify NotifyFunc) error {
	start := c.now()
	for attempt := 1; ; attempt++ {
		err := fn(ctx, attempt)
		if err == nil {
			return nil
		}
		if !Retryable(err) {
			return err
		}
		if attempt >= c.policy.MaxAttempts {
			return fmt.Errorf("giving up after %d attempts: %w", attempt, err)
		}
		delay := c.Delay(attempt)
		if c.policy.MaxElapsed > 0 && c.now().Sub(start)+delay > c.policy.MaxElapsed {
			return fmt.Errorf("giving up after %s: %w", c.policy.MaxElapsed, err)
		}
		if notify != nil {
			notify(attempt+1, delay, err)
		}
		if serr := c.sleep(ctx, delay); serr != nil {
			// the attempt error is kept as text only so the cancellation decides the kind
			return fmt.Errorf("%w while waiting to retry: %v", serr, err)
		}
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
