package ws

import (
	"fmt"
	"log"
	"time"

	"github.com/focus-coach/companion/internal/clock"
)

// pendingPing is the single outstanding liveness probe.
type pendingPing struct {
	seq    uint64
	sentAt time.Time
	timer  clock.Timer
}

// The prober is a small timer state machine owned by the Manager and guarded
// by its lock:
//
//	idle --interval--> probing --pong--> idle
//	                      |
//	                   timeout --> detach, close, reconnect
//
// probeGen is bumped whenever probing stops so that timers already in flight
// find themselves stale.

func (m *Manager) startProbeLocked() {
	m.stopProbeLocked()
	m.scheduleProbeLocked()
}

func (m *Manager) scheduleProbeLocked() {
	gen := m.probeGen
	m.probeTimer = m.clock.AfterFunc(m.cfg.PingInterval, func() { m.probeTick(gen) })
}

func (m *Manager) stopProbeLocked() {
	m.probeGen++
	if m.probeTimer != nil {
		m.probeTimer.Stop()
		m.probeTimer = nil
	}
	if m.pending != nil {
		m.pending.timer.Stop()
		m.pending = nil
	}
}

func (m *Manager) probeTick(gen uint64) {
	m.mu.Lock()
	if gen != m.probeGen || m.state != StateOpen || m.transport == nil {
		m.mu.Unlock()
		return
	}
	m.probeTimer = nil
	if m.pending != nil {
		m.mu.Unlock()
		return
	}

	data, err := Encode(PingMessage())
	if err == nil {
		err = m.transport.Send(data)
	}
	if err != nil {
		stale, _ := m.detachLocked()
		m.mu.Unlock()
		m.livenessFailed(stale, fmt.Sprintf("ping failed: %v", err))
		return
	}

	m.pingSeq++
	seq := m.pingSeq
	m.pending = &pendingPing{
		seq:    seq,
		sentAt: m.clock.Now(),
		timer:  m.clock.AfterFunc(m.cfg.PongTimeout, func() { m.probeExpired(gen, seq) }),
	}
	recorder := m.recorder
	m.mu.Unlock()

	m.recordOutput(recorder, data)
}

// handlePong resolves the outstanding probe. A pong with nothing pending is
// ignored.
func (m *Manager) handlePong(gen uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if gen != m.gen || m.pending == nil {
		return
	}

	p := m.pending
	m.pending = nil
	p.timer.Stop()

	now := m.clock.Now()
	m.lastPong = now
	m.lastRTT = now.Sub(p.sentAt)

	if m.state == StateOpen {
		m.scheduleProbeLocked()
	}
}

func (m *Manager) probeExpired(gen, seq uint64) {
	m.mu.Lock()
	if gen != m.probeGen || m.pending == nil || m.pending.seq != seq {
		m.mu.Unlock()
		return
	}
	m.pending = nil
	stale, _ := m.detachLocked()
	m.mu.Unlock()

	m.livenessFailed(stale, fmt.Sprintf("no pong within %v", m.cfg.PongTimeout))
}

// livenessFailed finishes a probe failure after the transport was detached.
// Probing only runs while open, so the disconnect is always reported.
func (m *Manager) livenessFailed(stale Transport, reason string) {
	log.Printf("ws: liveness check failed: %s", reason)
	if stale != nil {
		stale.Close()
	}
	m.notifyDisconnected()
	m.Reconnect(false)
}
