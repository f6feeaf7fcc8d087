package clock

import (
	"sort"
	"sync"
	"time"
)

// Fake is a manually advanced Clock. Callbacks run synchronously inside
// Advance, on the caller's goroutine, in deadline order.
type Fake struct {
	mu     sync.Mutex
	now    time.Time
	seq    uint64
	timers []*fakeTimer
}

type fakeTimer struct {
	clock   *Fake
	id      uint64
	when    time.Time
	fn      func()
	stopped bool
	fired   bool
}

// NewFake creates a fake clock starting at start.
func NewFake(start time.Time) *Fake {
	return &Fake{now: start}
}

// Now returns the fake current time.
func (f *Fake) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

// AfterFunc registers fn to run once the clock is advanced past d.
func (f *Fake) AfterFunc(d time.Duration, fn func()) Timer {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.seq++
	t := &fakeTimer{
		clock: f,
		id:    f.seq,
		when:  f.now.Add(d),
		fn:    fn,
	}
	f.timers = append(f.timers, t)
	return t
}

func (t *fakeTimer) Stop() bool {
	t.clock.mu.Lock()
	defer t.clock.mu.Unlock()

	if t.stopped || t.fired {
		return false
	}
	t.stopped = true
	return true
}

// Advance moves the clock forward by d, firing every timer that falls due,
// including timers scheduled by callbacks during the advance.
func (f *Fake) Advance(d time.Duration) {
	f.mu.Lock()
	target := f.now.Add(d)
	f.mu.Unlock()

	for {
		f.mu.Lock()
		next := f.nextDueLocked(target)
		if next == nil {
			f.now = target
			f.compactLocked()
			f.mu.Unlock()
			return
		}
		f.now = next.when
		next.fired = true
		f.mu.Unlock()

		next.fn()
	}
}

// Pending returns the delays, relative to now, of all timers that have
// neither fired nor been stopped, in deadline order.
func (f *Fake) Pending() []time.Duration {
	f.mu.Lock()
	defer f.mu.Unlock()

	active := f.activeLocked()
	delays := make([]time.Duration, 0, len(active))
	for _, t := range active {
		delays = append(delays, t.when.Sub(f.now))
	}
	return delays
}

func (f *Fake) nextDueLocked(target time.Time) *fakeTimer {
	active := f.activeLocked()
	if len(active) == 0 || active[0].when.After(target) {
		return nil
	}
	return active[0]
}

func (f *Fake) activeLocked() []*fakeTimer {
	active := make([]*fakeTimer, 0, len(f.timers))
	for _, t := range f.timers {
		if !t.stopped && !t.fired {
			active = append(active, t)
		}
	}
	sort.Slice(active, func(i, j int) bool {
		if active[i].when.Equal(active[j].when) {
			return active[i].id < active[j].id
		}
		return active[i].when.Before(active[j].when)
	})
	return active
}

func (f *Fake) compactLocked() {
	kept := f.timers[:0]
	for _, t := range f.timers {
		if !t.stopped && !t.fired {
			kept = append(kept, t)
		}
	}
	f.timers = kept
}
