package retry

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"
)

// Config holds backoff configuration
type Config struct {
	// MaxAttempts is the retry budget. Retry calls fn up to MaxAttempts+1
	// times; a Backoff-driven link dials at most max(MaxAttempts, 1) times
	// between resets.
	MaxAttempts  int
	InitialDelay time.Duration // Delay before the first retry
	MaxDelay     time.Duration // Ceiling for any single delay
	Multiplier   float64       // Exponential backoff multiplier (typically 2.0)
}

// DefaultConfig returns the reconnect policy used by live links
func DefaultConfig() Config {
	return Config{
		MaxAttempts:  5,
		InitialDelay: time.Second,
		MaxDelay:     30 * time.Second,
		Multiplier:   2.0,
	}
}

// Validate checks that the policy is usable
func (c Config) Validate() error {
	if c.MaxAttempts < 0 {
		return fmt.Errorf("max_attempts must be >= 0")
	}
	if c.InitialDelay <= 0 {
		return fmt.Errorf("initial_delay must be > 0")
	}
	if c.MaxDelay < c.InitialDelay {
		return fmt.Errorf("max_delay must be >= initial_delay")
	}
	if c.Multiplier < 1 {
		return fmt.Errorf("multiplier must be >= 1")
	}
	return nil
}

// Delay returns the wait before retry n (1-indexed):
// min(InitialDelay * Multiplier^(n-1), MaxDelay).
func (c Config) Delay(n int) time.Duration {
	if n < 1 {
		n = 1
	}
	delay := float64(c.InitialDelay) * math.Pow(c.Multiplier, float64(n-1))
	if delay > float64(c.MaxDelay) {
		delay = float64(c.MaxDelay)
	}
	return time.Duration(delay)
}

// Backoff counts consecutive retries against a Config. Owners schedule a
// timer per Next and check Exhausted when it fires, so the last timer ends
// the link instead of dialing. It is not safe for concurrent use; owners
// guard it with their own lock.
type Backoff struct {
	cfg   Config
	count int
}

func NewBackoff(cfg Config) *Backoff {
	return &Backoff{cfg: cfg}
}

// Next advances the counter and returns the delay for the new retry. ok is
// false once the budget is spent; the counter is left unchanged then.
func (b *Backoff) Next() (delay time.Duration, ok bool) {
	if b.count >= b.cfg.MaxAttempts {
		return 0, false
	}
	b.count++
	return b.cfg.Delay(b.count), true
}

func (b *Backoff) Reset() {
	b.count = 0
}

func (b *Backoff) Count() int {
	return b.count
}

func (b *Backoff) Exhausted() bool {
	return b.count >= b.cfg.MaxAttempts
}

// ErrPermanent marks an error that must not be retried
var ErrPermanent = errors.New("permanent error")

// Permanent wraps err so Retry returns it immediately
func Permanent(err error) error {
	return fmt.Errorf("%w: %w", ErrPermanent, err)
}

// Retry executes a function with exponential backoff retry logic
func Retry(ctx context.Context, cfg Config, fn func() error) error {
	_, err := RetryWithResult(ctx, cfg, func() (struct{}, error) {
		return struct{}{}, fn()
	})
	return err
}

// RetryWithResult executes a function that returns a result with exponential backoff retry logic
func RetryWithResult[T any](ctx context.Context, cfg Config, fn func() (T, error)) (T, error) {
	var zero T
	b := NewBackoff(cfg)

	for {
		if err := ctx.Err(); err != nil {
			return zero, fmt.Errorf("retry cancelled: %w", err)
		}

		result, err := fn()
		if err == nil {
			return result, nil
		}
		if errors.Is(err, ErrPermanent) {
			return zero, err
		}

		delay, ok := b.Next()
		if !ok {
			return zero, fmt.Errorf("max attempts (%d) exceeded: %w", cfg.MaxAttempts, err)
		}

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return zero, fmt.Errorf("retry cancelled during wait: %w", ctx.Err())
		case <-timer.C:
		}
	}
}

// Timer is the part of *time.Timer a scheduled retry needs.
type Timer interface {
	Stop() bool
}

// AfterFunc schedules f after d. Link managers take one so tests can drive
// retries without waiting.
type AfterFunc func(d time.Duration, f func()) Timer

// RealAfterFunc is the AfterFunc backed by time.AfterFunc.
func RealAfterFunc(d time.Duration, f func()) Timer {
	return time.AfterFunc(d, f)
}
