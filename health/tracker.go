package health

import (
	"fmt"
	"sort"
	"sync"
	"time"
)

// DefaultStaleAfter is how long a category may stay silent before it is
// reported as degraded. Assemblyline components heartbeat every few seconds.
const DefaultStaleAfter = 5 * time.Minute

// Tracker records upstream connection state and per-category traffic.
// It is safe for concurrent use.
type Tracker struct {
	mu         sync.RWMutex
	started    time.Time
	staleAfter time.Duration
	now        func() time.Time

	feed      string
	connected bool
	lastError string

	lastSeen  map[string]time.Time
	processed int64
	rejected  int64
}

// TrackerOption configures a Tracker
type TrackerOption func(*Tracker)

// WithStaleAfter sets the silence threshold for degraded categories
func WithStaleAfter(d time.Duration) TrackerOption {
	return func(t *Tracker) {
		if d > 0 {
			t.staleAfter = d
		}
	}
}

// WithNow replaces the tracker clock
func WithNow(now func() time.Time) TrackerOption {
	return func(t *Tracker) {
		if now != nil {
			t.now = now
		}
	}
}

// NewTracker creates a tracker with nothing connected and nothing seen
func NewTracker(opts ...TrackerOption) *Tracker {
	t := &Tracker{
		staleAfter: DefaultStaleAfter,
		now:        time.Now,
		lastSeen:   make(map[string]time.Time),
		lastError:  "not connected yet",
	}
	for _, opt := range opts {
		opt(t)
	}
	t.started = t.now()
	return t
}

// SetConnected marks the named feed as connected
func (t *Tracker) SetConnected(feed string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.feed = feed
	t.connected = true
	t.lastError = ""
}

// SetDisconnected marks the named feed as disconnected with the cause
func (t *Tracker) SetDisconnected(feed string, err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.feed = feed
	t.connected = false
	if err != nil {
		t.lastError = sanitizeErrorMessage(err.Error())
	} else {
		t.lastError = "disconnected"
	}
}

// ObserveMessage records a successfully mapped message for a category
func (t *Tracker) ObserveMessage(category string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.lastSeen[category] = t.now()
	t.processed++
}

// ObserveError records a rejected message
func (t *Tracker) ObserveError(_ string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.rejected++
}

// Status returns the aggregated health of the exporter
func (t *Tracker) Status() Status {
	t.mu.RLock()
	defer t.mu.RUnlock()

	now := t.now()
	subs := make([]Status, 0, len(t.lastSeen)+1)

	upstream := "upstream"
	if t.feed != "" {
		upstream = "upstream/" + t.feed
	}
	if t.connected {
		subs = append(subs, newStatus(upstream, StateHealthy, "connected", now))
	} else {
		subs = append(subs, newStatus(upstream, StateUnhealthy, t.lastError, now))
	}

	categories := make([]string, 0, len(t.lastSeen))
	for category := range t.lastSeen {
		categories = append(categories, category)
	}
	sort.Strings(categories)

	var lastMessage time.Time
	for _, category := range categories {
		seen := t.lastSeen[category]
		if seen.After(lastMessage) {
			lastMessage = seen
		}
		age := now.Sub(seen).Truncate(time.Second)
		if age > t.staleAfter {
			subs = append(subs, newStatus(category, StateDegraded,
				fmt.Sprintf("no message for %s", age), now))
			continue
		}
		subs = append(subs, newStatus(category, StateHealthy,
			fmt.Sprintf("last message %s ago", age), now))
	}

	status := aggregate("assemblyline-exporter", subs, now)
	status.Traffic = &Traffic{
		Uptime:            now.Sub(t.started),
		MessagesProcessed: t.processed,
		MessagesRejected:  t.rejected,
		LastMessage:       lastMessage,
	}
	return status
}
