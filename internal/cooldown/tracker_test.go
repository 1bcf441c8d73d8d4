package cooldown

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newTracker(t *testing.T, opts Options) (*Tracker, *fakeClock) {
	t.Helper()
	clock := &fakeClock{now: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
	if opts.Now == nil {
		opts.Now = clock.Now
	}
	if opts.SweepInterval == 0 {
		opts.SweepInterval = -1
	}
	tracker, err := New(opts)
	require.NoError(t, err)
	t.Cleanup(tracker.Close)
	return tracker, clock
}

func TestTracker_RemainingWithinWindow(t *testing.T) {
	tracker, clock := newTracker(t, Options{})

	tracker.Set("u", "ping", 5*time.Second)

	remaining := tracker.Remaining("u", "ping")
	assert.Greater(t, remaining, time.Duration(0))
	assert.LessOrEqual(t, remaining, 5*time.Second)
	assert.True(t, tracker.IsActive("u", "ping"))

	clock.Advance(5 * time.Second)
	assert.Zero(t, tracker.Remaining("u", "ping"))
	assert.False(t, tracker.IsActive("u", "ping"))
	assert.Zero(t, tracker.Len(), "elapsed window should be dropped lazily")
}

func TestTracker_RemainingWithRealClock(t *testing.T) {
	tracker, err := New(Options{SweepInterval: -1})
	require.NoError(t, err)
	t.Cleanup(tracker.Close)

	tracker.Set("u", "ping", 50*time.Millisecond)
	remaining := tracker.Remaining("u", "ping")
	assert.Greater(t, remaining, time.Duration(0))
	assert.LessOrEqual(t, remaining, 50*time.Millisecond)

	time.Sleep(60 * time.Millisecond)
	assert.Zero(t, tracker.Remaining("u", "ping"))
}

func TestTracker_KeysDoNotCollide(t *testing.T) {
	tracker, _ := newTracker(t, Options{})

	// "a:b"+"c" and "a"+"b:c" would collide as joined strings.
	tracker.Set("a:b", "c", time.Minute)

	assert.True(t, tracker.IsActive("a:b", "c"))
	assert.False(t, tracker.IsActive("a", "b:c"))
	assert.False(t, tracker.IsActive("a:b", "d"))
	assert.False(t, tracker.IsActive("x", "c"))
}

func TestTracker_Acquire(t *testing.T) {
	tracker, clock := newTracker(t, Options{})

	remaining, ok := tracker.Acquire("u", "ping", 3*time.Second)
	require.True(t, ok)
	assert.Zero(t, remaining)

	clock.Advance(time.Second)
	remaining, ok = tracker.Acquire("u", "ping", 3*time.Second)
	require.False(t, ok)
	assert.Equal(t, 2*time.Second, remaining)

	clock.Advance(2 * time.Second)
	_, ok = tracker.Acquire("u", "ping", 3*time.Second)
	assert.True(t, ok)
}

func TestTracker_AcquireIsExclusiveUnderConcurrency(t *testing.T) {
	tracker, _ := newTracker(t, Options{})

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		granted int
	)
	for range 50 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, ok := tracker.Acquire("u", "ping", time.Minute); ok {
				mu.Lock()
				granted++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, granted)
}

func TestTracker_SetWithNonPositiveDurationClears(t *testing.T) {
	tracker, _ := newTracker(t, Options{})

	tracker.Set("u", "ping", time.Minute)
	tracker.Set("u", "ping", 0)

	assert.False(t, tracker.IsActive("u", "ping"))
	assert.Zero(t, tracker.Len())
}

func TestTracker_Remove(t *testing.T) {
	tracker, _ := newTracker(t, Options{})

	tracker.Set("u", "ping", time.Minute)
	tracker.Remove("u", "ping")

	assert.False(t, tracker.IsActive("u", "ping"))
}

func TestTracker_CapacitySweepKeepsLiveEntries(t *testing.T) {
	tracker, clock := newTracker(t, Options{Capacity: 3})

	tracker.Set("u1", "ping", time.Second)
	tracker.Set("u2", "ping", time.Hour)
	tracker.Set("u3", "ping", time.Hour)
	clock.Advance(2 * time.Second)

	tracker.Set("u4", "ping", time.Hour)

	assert.Equal(t, 3, tracker.Len())
	assert.True(t, tracker.IsActive("u2", "ping"))
	assert.True(t, tracker.IsActive("u3", "ping"))
	assert.True(t, tracker.IsActive("u4", "ping"))
}

func TestTracker_CapacityNeverDropsLiveEntries(t *testing.T) {
	tracker, _ := newTracker(t, Options{Capacity: 2})

	tracker.Set("u1", "ping", time.Hour)
	tracker.Set("u2", "ping", time.Hour)
	tracker.Set("u3", "ping", time.Hour)

	assert.Equal(t, 3, tracker.Len())
	assert.True(t, tracker.IsActive("u1", "ping"))
}

func TestTracker_Sweep(t *testing.T) {
	tracker, clock := newTracker(t, Options{})

	tracker.Set("u1", "ping", time.Second)
	tracker.Set("u2", "ping", time.Minute)
	clock.Advance(10 * time.Second)

	assert.Equal(t, 1, tracker.Sweep())
	assert.Equal(t, 1, tracker.Len())
}

func TestTracker_BackgroundSweep(t *testing.T) {
	tracker, err := New(Options{SweepInterval: 10 * time.Millisecond})
	require.NoError(t, err)
	t.Cleanup(tracker.Close)

	tracker.Set("u", "ping", time.Millisecond)

	require.Eventually(t, func() bool { return tracker.Len() == 0 }, time.Second, 5*time.Millisecond)
}

func TestTracker_CloseReleasesEntries(t *testing.T) {
	tracker, err := New(Options{SweepInterval: time.Hour})
	require.NoError(t, err)

	tracker.Set("u", "ping", time.Hour)
	tracker.Close()
	tracker.Close()

	assert.Zero(t, tracker.Len())
}
