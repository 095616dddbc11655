package natsclient

import (
	"sync"
	"time"
)

const initialCooldown = time.Second

// breaker refuses connection attempts for a cooldown once threshold
// consecutive attempts have failed. Each time it reopens without an
// intervening success the cooldown doubles, up to maxCooldown.
type breaker struct {
	mu sync.Mutex

	threshold   int
	maxCooldown time.Duration
	now         func() time.Time

	consecutive int
	total       int
	cooldown    time.Duration
	openUntil   time.Time
	lastFailure time.Time
}

func newBreaker(threshold int, maxCooldown time.Duration) *breaker {
	return &breaker{
		threshold:   threshold,
		maxCooldown: maxCooldown,
		now:         time.Now,
		cooldown:    initialCooldown,
	}
}

// allow reports whether an attempt may run. Once the cooldown has passed the
// breaker is half-open and one more failure reopens it.
func (b *breaker) allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return !b.now().Before(b.openUntil)
}

// open reports whether the breaker is currently refusing attempts
func (b *breaker) open() bool {
	return !b.allow()
}

// failure records a failed attempt and returns true if it opened the breaker.
func (b *breaker) failure() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := b.now()
	b.total++
	b.consecutive++
	b.lastFailure = now

	if b.consecutive < b.threshold {
		return false
	}

	b.openUntil = now.Add(b.cooldown)
	b.consecutive = 0
	b.cooldown *= 2
	if b.cooldown > b.maxCooldown {
		b.cooldown = b.maxCooldown
	}
	return true
}

// success closes the breaker and forgets past failures
func (b *breaker) success() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.consecutive = 0
	b.total = 0
	b.cooldown = initialCooldown
	b.openUntil = time.Time{}
	b.lastFailure = time.Time{}
}

// stats returns the failure count since the last success, the time of the
// latest failure and the cooldown the next opening will use.
func (b *breaker) stats() (failures int, lastFailure time.Time, nextCooldown time.Duration) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.total, b.lastFailure, b.cooldown
}
