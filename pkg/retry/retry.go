package retry

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"time"
)

var (
	randMu     sync.Mutex
	randSource = rand.New(rand.NewSource(time.Now().UnixNano()))
)

// NonRetryableError stops Do immediately.
type NonRetryableError struct {
	Err error
}

func (e *NonRetryableError) Error() string {
	return fmt.Sprintf("non-retryable: %v", e.Err)
}

func (e *NonRetryableError) Unwrap() error {
	return e.Err
}

// NonRetryable marks err so that Do returns it without further attempts.
func NonRetryable(err error) error {
	if err == nil {
		return nil
	}
	return &NonRetryableError{Err: err}
}

// IsNonRetryable reports whether err was marked with NonRetryable.
func IsNonRetryable(err error) bool {
	var nre *NonRetryableError
	return errors.As(err, &nre)
}

// Config controls attempt count and delay growth.
type Config struct {
	MaxAttempts  int           // 0 retries until the context is done
	InitialDelay time.Duration // Delay after the first failure
	MaxDelay     time.Duration // Cap for the growing delay
	Multiplier   float64       // Growth factor per failure
	AddJitter    bool          // Add up to 25% random delay
}

// Reconnect is the policy used by long-lived upstream feeds: unlimited attempts,
// one second growing to thirty.
func Reconnect() Config {
	return Config{
		MaxAttempts:  0,
		InitialDelay: time.Second,
		MaxDelay:     30 * time.Second,
		Multiplier:   2.0,
		AddJitter:    true,
	}
}

// Startup is the policy for the first connection attempt.
func Startup() Config {
	return Config{
		MaxAttempts:  3,
		InitialDelay: 500 * time.Millisecond,
		MaxDelay:     5 * time.Second,
		Multiplier:   2.0,
		AddJitter:    true,
	}
}

func (c Config) normalize() (Config, error) {
	if c.InitialDelay < 0 || c.MaxDelay < 0 || c.Multiplier < 0 {
		return c, errors.New("retry: delays and multiplier cannot be negative")
	}
	if c.InitialDelay == 0 {
		c.InitialDelay = 100 * time.Millisecond
	}
	if c.MaxDelay == 0 {
		c.MaxDelay = 5 * time.Second
	}
	if c.Multiplier == 0 {
		c.Multiplier = 2.0
	}
	if c.Multiplier > 1000 {
		c.Multiplier = 1000
	}
	if c.MaxDelay < c.InitialDelay {
		return c, errors.New("retry: MaxDelay must be >= InitialDelay")
	}
	return c, nil
}

// Backoff yields successive delays for a Config. It is not safe for
// concurrent use.
type Backoff struct {
	cfg   Config
	delay time.Duration
}

// NewBackoff returns a Backoff positioned at the initial delay.
func NewBackoff(cfg Config) (*Backoff, error) {
	cfg, err := cfg.normalize()
	if err != nil {
		return nil, err
	}
	return &Backoff{cfg: cfg, delay: cfg.InitialDelay}, nil
}

// Next returns the delay to wait now and advances the sequence.
func (b *Backoff) Next() time.Duration {
	current := b.delay

	next := float64(b.delay) * b.cfg.Multiplier
	if next > float64(b.cfg.MaxDelay) {
		b.delay = b.cfg.MaxDelay
	} else {
		b.delay = time.Duration(next)
	}

	if !b.cfg.AddJitter || current < 4 {
		return current
	}
	randMu.Lock()
	jitter := time.Duration(randSource.Int63n(int64(current / 4)))
	randMu.Unlock()
	return current + jitter
}

// Reset returns the sequence to the initial delay.
func (b *Backoff) Reset() {
	b.delay = b.cfg.InitialDelay
}

// Sleep waits for d or until ctx is done.
func Sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Do runs fn until it succeeds, returns a NonRetryable error, runs out of
// attempts, or ctx is done.
func Do(ctx context.Context, cfg Config, fn func() error) error {
	backoff, err := NewBackoff(cfg)
	if err != nil {
		return err
	}

	var lastErr error
	for attempt := 1; cfg.MaxAttempts <= 0 || attempt <= cfg.MaxAttempts; attempt++ {
		err := fn()
		if err == nil {
			return nil
		}
		lastErr = err

		if IsNonRetryable(err) {
			return err
		}
		if ctx.Err() != nil {
			return fmt.Errorf("retry cancelled before attempt %d: %w", attempt+1, ctx.Err())
		}
		if attempt == cfg.MaxAttempts {
			break
		}

		if err := Sleep(ctx, backoff.Next()); err != nil {
			return fmt.Errorf("retry cancelled during backoff for attempt %d: %w", attempt+1, err)
		}
	}

	return fmt.Errorf("retry failed after %d attempts: %w", cfg.MaxAttempts, lastErr)
}
