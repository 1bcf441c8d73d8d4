// Package cooldown tracks per-user, per-target cooldown windows.
package cooldown

import (
	"log/slog"
	"sync"
	"time"

	"github.com/sglre6355/gatebot/internal/sweep"
)

// Default limits used when Options leaves them unset.
const (
	DefaultCapacity      = 10000
	DefaultSweepInterval = time.Minute
)

// Key identifies a cooldown window. Being a struct, distinct (user, target)
// pairs can never collide the way concatenated strings can.
type Key struct {
	UserID   string
	TargetID string
}

// Options configures a Tracker.
type Options struct {
	// Capacity is the entry count at which expired entries are swept before insertion.
	Capacity int
	// SweepInterval is the period of the background sweep. Negative disables it.
	SweepInterval time.Duration
	// Now overrides the clock, for tests.
	Now func() time.Time
}

// Tracker records the next time a user may invoke a target again.
// It is safe for concurrent use.
type Tracker struct {
	capacity int
	now      func() time.Time

	mu      sync.Mutex
	entries map[Key]time.Time

	sweeper *sweep.Job
}

// New creates a Tracker and starts its background sweep.
func New(opts Options) (*Tracker, error) {
	if opts.Capacity <= 0 {
		opts.Capacity = DefaultCapacity
	}
	if opts.SweepInterval == 0 {
		opts.SweepInterval = DefaultSweepInterval
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	t := &Tracker{
		capacity: opts.Capacity,
		now:      opts.Now,
		entries:  make(map[Key]time.Time),
	}

	if opts.SweepInterval > 0 {
		job, err := sweep.Every("cooldown-sweep", opts.SweepInterval, func() { t.Sweep() })
		if err != nil {
			return nil, err
		}
		t.sweeper = job
	}

	return t, nil
}

// Remaining returns how long userID must still wait before using targetID.
// It returns zero when no window is active.
func (t *Tracker) Remaining(userID, targetID string) time.Duration {
	key := Key{UserID: userID, TargetID: targetID}
	now := t.now()

	t.mu.Lock()
	defer t.mu.Unlock()

	return t.remainingLocked(key, now)
}

// IsActive reports whether userID is on cooldown for targetID.
func (t *Tracker) IsActive(userID, targetID string) bool {
	return t.Remaining(userID, targetID) > 0
}

// Set starts a cooldown window of length d for userID on targetID,
// replacing any existing window.
func (t *Tracker) Set(userID, targetID string, d time.Duration) {
	key := Key{UserID: userID, TargetID: targetID}
	now := t.now()

	t.mu.Lock()
	defer t.mu.Unlock()

	t.setLocked(key, now, d)
}

// Acquire starts a window of length d unless one is already active.
// It returns the remaining time of the active window and false when refused.
// Check and insertion happen under one lock, so concurrent invocations by the
// same user cannot both pass.
func (t *Tracker) Acquire(userID, targetID string, d time.Duration) (time.Duration, bool) {
	key := Key{UserID: userID, TargetID: targetID}
	now := t.now()

	t.mu.Lock()
	defer t.mu.Unlock()

	if remaining := t.remainingLocked(key, now); remaining > 0 {
		return remaining, false
	}
	t.setLocked(key, now, d)
	return 0, true
}

// Remove clears the window for userID on targetID.
func (t *Tracker) Remove(userID, targetID string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	delete(t.entries, Key{UserID: userID, TargetID: targetID})
}

// Len returns the number of tracked windows, including expired ones not yet swept.
func (t *Tracker) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.entries)
}

// Sweep removes every elapsed window and returns how many were removed.
func (t *Tracker) Sweep() int {
	now := t.now()

	t.mu.Lock()
	defer t.mu.Unlock()

	return t.sweepLocked(now)
}

// Close stops the background sweep and releases all windows.
func (t *Tracker) Close() {
	t.sweeper.Stop()

	t.mu.Lock()
	defer t.mu.Unlock()
	t.entries = make(map[Key]time.Time)
}

func (t *Tracker) remainingLocked(key Key, now time.Time) time.Duration {
	until, ok := t.entries[key]
	if !ok {
		return 0
	}
	if !now.Before(until) {
		delete(t.entries, key)
		return 0
	}
	return until.Sub(now)
}

func (t *Tracker) setLocked(key Key, now time.Time, d time.Duration) {
	if d <= 0 {
		delete(t.entries, key)
		return
	}
	if _, exists := t.entries[key]; !exists && len(t.entries) >= t.capacity {
		removed := t.sweepLocked(now)
		slog.Debug("swept cooldowns at capacity", "removed", removed, "remaining", len(t.entries))
	}
	t.entries[key] = now.Add(d)
}

func (t *Tracker) sweepLocked(now time.Time) int {
	removed := 0
	for key, until := range t.entries {
		if !now.Before(until) {
			delete(t.entries, key)
			removed++
		}
	}
	return removed
}
