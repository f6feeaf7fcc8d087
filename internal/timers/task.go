package timers

import (
	"log"
	"sync"
	"time"

	"github.com/focus-coach/companion/internal/clock"
)

// task is a restartable interval job. Restarting bumps the generation so
// timers from the previous schedule become inert, and a fire that lands
// while the previous invocation is still running is skipped.
type task struct {
	name     string
	interval time.Duration
	clock    clock.Clock
	run      func()

	mu      sync.Mutex
	gen     uint64
	timer   clock.Timer
	running bool
	active  bool
}

func newTask(name string, interval time.Duration, clk clock.Clock, run func()) *task {
	return &task{
		name:     name,
		interval: interval,
		clock:    clk,
		run:      run,
	}
}

func (t *task) restart() {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.cancelLocked()
	t.active = true
	t.scheduleLocked()
}

func (t *task) stop() {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.cancelLocked()
	t.active = false
}

func (t *task) cancelLocked() {
	t.gen++
	if t.timer != nil {
		t.timer.Stop()
		t.timer = nil
	}
}

func (t *task) scheduleLocked() {
	gen := t.gen
	t.timer = t.clock.AfterFunc(t.interval, func() { t.fire(gen) })
}

func (t *task) fire(gen uint64) {
	t.mu.Lock()
	if gen != t.gen || !t.active {
		t.mu.Unlock()
		return
	}
	t.scheduleLocked()
	if t.running {
		t.mu.Unlock()
		log.Printf("timers: %s still running, skipping tick", t.name)
		return
	}
	t.running = true
	t.mu.Unlock()

	defer func() {
		t.mu.Lock()
		t.running = false
		t.mu.Unlock()
	}()
	t.run()
}
