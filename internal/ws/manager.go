package ws

import (
	"fmt"
	"log"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/focus-coach/companion/internal/clock"
)

const (
	// DefaultBaseDelay is the delay before the first reconnect attempt.
	DefaultBaseDelay = 2 * time.Second

	// DefaultMaxDelay caps the exponential back-off.
	DefaultMaxDelay = 30 * time.Second

	// DefaultMaxAttempts is the reconnect budget before waiting for a forced reconnect.
	DefaultMaxAttempts = 10

	// DefaultPingInterval is the idle time between liveness probes.
	DefaultPingInterval = 30 * time.Second

	// DefaultPongTimeout is how long a probe waits for its pong.
	DefaultPongTimeout = 5 * time.Second

	connectPath = "/connect"
)

// ConnState is the lifecycle state of the managed connection.
type ConnState int

const (
	StateDisconnected ConnState = iota
	StateConnecting
	StateOpen
	StateClosing
)

// String returns the state name.
func (s ConnState) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	case StateClosing:
		return "closing"
	default:
		return "unknown"
	}
}

// MarshalText encodes the state by name.
func (s ConnState) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Config holds configuration for the connection manager.
type Config struct {
	// ServerURL is the coach server base URL; the manager connects to
	// ServerURL + "/connect". http and https schemes map to ws and wss.
	ServerURL string

	BaseDelay    time.Duration
	MaxDelay     time.Duration
	MaxAttempts  int
	PingInterval time.Duration
	PongTimeout  time.Duration
}

// Callbacks are the collaborator signals produced by the manager. They are
// invoked without the manager's lock held and may call back into it.
type Callbacks struct {
	OnConnected    func()
	OnDisconnected func()
	OnFocusMessage func(msg FocusingMessage)
	OnHookResult   func(msg HookResultMessage)
}

// FrameRecorder receives a copy of every frame sent and received.
type FrameRecorder interface {
	WriteInput(data []byte) error
	WriteOutput(data []byte) error
}

// Option configures a Manager.
type Option func(*Manager)

// WithClock replaces the wall clock, mainly for tests.
func WithClock(c clock.Clock) Option {
	return func(m *Manager) {
		m.clock = c
	}
}

// WithRecorder records every frame to r.
func WithRecorder(r FrameRecorder) Option {
	return func(m *Manager) {
		m.recorder = r
	}
}

// Status is a point-in-time view of the manager.
type Status struct {
	State              ConnState     `json:"state"`
	ConnectionID       string        `json:"connectionId,omitempty"`
	Attempts           int           `json:"attempts"`
	MaxAttempts        int           `json:"maxAttempts"`
	ReconnectScheduled bool          `json:"reconnectScheduled"`
	NextDelay          time.Duration `json:"nextDelay,omitempty"`
	RetryAt            time.Time     `json:"retryAt,omitempty"`
	Exhausted          bool          `json:"exhausted"`
	LastPong           time.Time     `json:"lastPong,omitempty"`
	LastRTT            time.Duration `json:"lastRtt,omitempty"`
}

// Manager keeps a single logical connection to the coach server alive.
// At most one transport is live at any instant: every connection attempt
// gets a new generation and events from older generations are ignored.
type Manager struct {
	url       string
	cfg       Config
	dialer    Dialer
	callbacks Callbacks
	clock     clock.Clock
	recorder  FrameRecorder

	mu        sync.Mutex
	state     ConnState
	gen       uint64
	transport Transport
	connID    string
	stopped   bool

	// reconnect state
	attempts       int
	scheduled      bool
	reconnectSeq   uint64
	reconnectTimer clock.Timer
	nextDelay      time.Duration
	retryAt        time.Time
	exhausted      bool

	// liveness prober state, see prober.go
	probeGen   uint64
	probeTimer clock.Timer
	pending    *pendingPing
	pingSeq    uint64
	lastPong   time.Time
	lastRTT    time.Duration
}

// NewManager creates a new connection manager. It does not connect until
// Connect is called.
func NewManager(cfg Config, dialer Dialer, callbacks Callbacks, opts ...Option) (*Manager, error) {
	endpoint, err := endpointURL(cfg.ServerURL)
	if err != nil {
		return nil, err
	}

	if cfg.BaseDelay <= 0 {
		cfg.BaseDelay = DefaultBaseDelay
	}
	if cfg.MaxDelay <= 0 {
		cfg.MaxDelay = DefaultMaxDelay
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = DefaultMaxAttempts
	}
	if cfg.PingInterval <= 0 {
		cfg.PingInterval = DefaultPingInterval
	}
	if cfg.PongTimeout <= 0 {
		cfg.PongTimeout = DefaultPongTimeout
	}

	m := &Manager{
		url:       endpoint,
		cfg:       cfg,
		dialer:    dialer,
		callbacks: callbacks,
		clock:     clock.Real{},
		state:     StateDisconnected,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m, nil
}

// endpointURL derives the WebSocket endpoint from the server base URL.
func endpointURL(server string) (string, error) {
	if server == "" {
		return "", fmt.Errorf("failed to build endpoint: server URL is required")
	}

	u, err := url.Parse(server)
	if err != nil {
		return "", fmt.Errorf("failed to parse server URL: %w", err)
	}

	switch u.Scheme {
	case "ws", "wss":
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	default:
		return "", fmt.Errorf("failed to build endpoint: unsupported scheme %q", u.Scheme)
	}

	u.Path = strings.TrimRight(u.Path, "/") + connectPath
	return u.String(), nil
}

// BackoffDelay returns min(base * 2^(attempt-1), max) for attempt >= 1.
func BackoffDelay(base, max time.Duration, attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	delay := base
	for i := 1; i < attempt; i++ {
		if delay >= max/2 {
			return max
		}
		delay *= 2
	}
	if delay > max {
		return max
	}
	return delay
}

// URL returns the endpoint the manager dials.
func (m *Manager) URL() string {
	return m.url
}

// Connect opens a new transport unless one is already connecting or open.
func (m *Manager) Connect() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.connectLocked()
}

func (m *Manager) connectLocked() {
	if m.stopped {
		return
	}
	if m.state == StateConnecting || m.state == StateOpen || m.state == StateClosing {
		return
	}

	m.gen++
	m.connID = uuid.New().String()
	m.state = StateConnecting

	log.Printf("ws: connecting to %s (connection %s)", m.url, m.connID)
	m.transport = m.dialer.Open(m.url, m.handlersFor(m.gen))
}

// handlersFor builds the dispatch table for one transport generation.
func (m *Manager) handlersFor(gen uint64) Handlers {
	return Handlers{
		OnOpen:    func() { m.handleOpen(gen) },
		OnError:   func(err error) { m.handleError(gen, err) },
		OnClose:   func(err error) { m.handleClose(gen, err) },
		OnMessage: func(data []byte) { m.handleMessage(gen, data) },
	}
}

func (m *Manager) handleOpen(gen uint64) {
	m.mu.Lock()
	if gen != m.gen || m.state != StateConnecting {
		m.mu.Unlock()
		return
	}
	m.attempts = 0
	m.exhausted = false
	m.cancelReconnectLocked()
	m.state = StateOpen
	m.startProbeLocked()
	connID := m.connID
	onConnected := m.callbacks.OnConnected
	m.mu.Unlock()

	log.Printf("ws: connected (connection %s)", connID)
	if onConnected != nil {
		onConnected()
	}
}

// handleError only logs; the close that follows drives recovery.
func (m *Manager) handleError(gen uint64, err error) {
	m.mu.Lock()
	current := gen == m.gen
	m.mu.Unlock()

	if current {
		log.Printf("ws: transport error: %v", err)
	}
}

func (m *Manager) handleClose(gen uint64, err error) {
	m.mu.Lock()
	if gen != m.gen || m.stopped {
		m.mu.Unlock()
		return
	}
	m.state = StateDisconnected
	m.transport = nil
	m.stopProbeLocked()
	connID := m.connID
	m.mu.Unlock()

	if err != nil {
		log.Printf("ws: connection %s closed: %v", connID, err)
	} else {
		log.Printf("ws: connection %s closed", connID)
	}

	m.notifyDisconnected()
	m.Reconnect(false)
}

func (m *Manager) handleMessage(gen uint64, data []byte) {
	m.mu.Lock()
	current := gen == m.gen
	recorder := m.recorder
	m.mu.Unlock()

	if !current {
		return
	}
	if recorder != nil {
		if err := recorder.WriteInput(data); err != nil {
			log.Printf("ws: failed to record frame: %v", err)
		}
	}

	event, err := Decode(data)
	if err != nil {
		log.Printf("ws: dropping frame: %v", err)
		return
	}

	switch e := event.(type) {
	case PongEvent:
		m.handlePong(gen)
	case FocusEvent:
		if cb := m.callbacks.OnFocusMessage; cb != nil {
			cb(e.Message)
		}
	case HookResultEvent:
		if cb := m.callbacks.OnHookResult; cb != nil {
			cb(e.Message)
		}
	}
}

// Send writes msg if the connection is open and silently drops it otherwise.
// Nothing is queued for later delivery.
func (m *Manager) Send(msg Message) {
	data, err := Encode(msg)
	if err != nil {
		log.Printf("ws: %v", err)
		return
	}

	m.mu.Lock()
	if m.state != StateOpen || m.transport == nil {
		m.mu.Unlock()
		return
	}
	err = m.transport.Send(data)
	recorder := m.recorder
	m.mu.Unlock()

	if err != nil {
		log.Printf("ws: failed to send %s: %v", msg.Type, err)
		return
	}
	m.recordOutput(recorder, data)
}

func (m *Manager) recordOutput(recorder FrameRecorder, data []byte) {
	if recorder == nil {
		return
	}
	if err := recorder.WriteOutput(data); err != nil {
		log.Printf("ws: failed to record frame: %v", err)
	}
}

// Reconnect schedules a connection attempt with exponential back-off.
//
// A non-forced call is a no-op while a reconnect is already scheduled, and
// gives up once the attempt budget is spent. A forced call resets the budget,
// replaces any pending reconnect and tears down a live transport first.
func (m *Manager) Reconnect(force bool) {
	m.mu.Lock()
	if m.stopped {
		m.mu.Unlock()
		return
	}
	if !force && m.scheduled {
		m.mu.Unlock()
		return
	}

	var stale Transport
	var wasOpen bool
	if force {
		m.attempts = 0
		m.exhausted = false
		m.cancelReconnectLocked()
		if m.state == StateConnecting || m.state == StateOpen {
			stale, wasOpen = m.detachLocked()
		}
	}

	if m.attempts >= m.cfg.MaxAttempts {
		m.exhausted = true
		m.mu.Unlock()
		log.Printf("ws: maximum reconnect attempts (%d) reached, waiting for a manual reconnect", m.cfg.MaxAttempts)
		return
	}

	m.attempts++
	delay := BackoffDelay(m.cfg.BaseDelay, m.cfg.MaxDelay, m.attempts)
	m.scheduled = true
	m.reconnectSeq++
	seq := m.reconnectSeq
	m.nextDelay = delay
	m.retryAt = m.clock.Now().Add(delay)
	m.reconnectTimer = m.clock.AfterFunc(delay, func() { m.fireReconnect(seq) })
	attempt := m.attempts
	m.mu.Unlock()

	if stale != nil {
		stale.Close()
	}
	if wasOpen {
		m.notifyDisconnected()
	}

	log.Printf("ws: reconnecting in %v (attempt %d/%d)", delay, attempt, m.cfg.MaxAttempts)
}

func (m *Manager) fireReconnect(seq uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if seq != m.reconnectSeq || !m.scheduled {
		return
	}
	m.scheduled = false
	m.reconnectTimer = nil
	m.nextDelay = 0
	m.retryAt = time.Time{}
	m.connectLocked()
}

func (m *Manager) cancelReconnectLocked() {
	if m.reconnectTimer != nil {
		m.reconnectTimer.Stop()
		m.reconnectTimer = nil
	}
	m.scheduled = false
	m.reconnectSeq++
	m.nextDelay = 0
	m.retryAt = time.Time{}
}

// detachLocked drops the current transport without waiting for its close
// event, which will be ignored. The caller closes the returned transport
// after releasing the lock.
func (m *Manager) detachLocked() (Transport, bool) {
	t := m.transport
	wasOpen := m.state == StateOpen

	m.gen++
	m.transport = nil
	m.state = StateDisconnected
	m.stopProbeLocked()

	return t, wasOpen
}

func (m *Manager) notifyDisconnected() {
	if cb := m.callbacks.OnDisconnected; cb != nil {
		cb()
	}
}

// IsOpen reports whether the connection is open.
func (m *Manager) IsOpen() bool {
	return m.State() == StateOpen
}

// State returns the current connection state.
func (m *Manager) State() ConnState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Status returns a snapshot of the connection, reconnect and probe state.
func (m *Manager) Status() Status {
	m.mu.Lock()
	defer m.mu.Unlock()

	return Status{
		State:              m.state,
		ConnectionID:       m.connID,
		Attempts:           m.attempts,
		MaxAttempts:        m.cfg.MaxAttempts,
		ReconnectScheduled: m.scheduled,
		NextDelay:          m.nextDelay,
		RetryAt:            m.retryAt,
		Exhausted:          m.exhausted,
		LastPong:           m.lastPong,
		LastRTT:            m.lastRTT,
	}
}

// Close tears the connection down and disables further reconnects.
func (m *Manager) Close() {
	m.mu.Lock()
	if m.stopped {
		m.mu.Unlock()
		return
	}
	m.stopped = true
	m.cancelReconnectLocked()
	stale, wasOpen := m.detachLocked()
	m.state = StateClosing
	m.mu.Unlock()

	if stale != nil {
		stale.Close()
	}

	m.mu.Lock()
	m.state = StateDisconnected
	m.mu.Unlock()

	if wasOpen {
		m.notifyDisconnected()
	}
}
