package ws

import (
	"context"
	"errors"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed for the opening handshake.
	handshakeTimeout = 15 * time.Second

	// Maximum message size allowed from peer.
	maxMessageSize = 64 * 1024

	// Outgoing frames queued per transport before Send starts failing.
	sendQueueSize = 64
)

var (
	// ErrTransportClosed is returned by Send once the transport is closed or not yet open.
	ErrTransportClosed = errors.New("transport closed")

	// ErrSendQueueFull is returned by Send when the write pump cannot keep up.
	ErrSendQueueFull = errors.New("send queue full")
)

// Handlers is the dispatch table a Dialer wires into one transport.
// OnError may be followed by OnClose; OnClose is invoked exactly once per
// transport, whether the dial failed, the peer closed, or Close was called.
type Handlers struct {
	OnOpen    func()
	OnError   func(err error)
	OnClose   func(err error)
	OnMessage func(data []byte)
}

// Transport is one duplex connection attempt.
type Transport interface {
	// Send queues a text frame. It never blocks on the network.
	Send(data []byte) error
	// Close tears the connection down. Safe to call more than once.
	Close() error
}

// Dialer opens transports. Open must return without invoking any handler;
// connection progress is reported asynchronously through h.
type Dialer interface {
	Open(url string, h Handlers) Transport
}

// WebSocketDialer opens gorilla/websocket connections.
type WebSocketDialer struct {
	Dialer *websocket.Dialer
	Header http.Header
}

// NewWebSocketDialer creates a dialer with the package defaults.
func NewWebSocketDialer() *WebSocketDialer {
	return &WebSocketDialer{
		Dialer: &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: handshakeTimeout,
			ReadBufferSize:   1024,
			WriteBufferSize:  1024,
		},
	}
}

// Open starts dialing url in the background.
func (d *WebSocketDialer) Open(url string, h Handlers) Transport {
	t := &wsTransport{
		send: make(chan []byte, sendQueueSize),
		done: make(chan struct{}),
	}
	go t.run(d, url, h)
	return t
}

type wsTransport struct {
	mu     sync.Mutex
	conn   *websocket.Conn
	send   chan []byte
	done   chan struct{}
	closed bool
}

func (t *wsTransport) run(d *WebSocketDialer, url string, h Handlers) {
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		select {
		case <-t.done:
			cancel()
		case <-ctx.Done():
		}
	}()

	dialer := d.Dialer
	if dialer == nil {
		dialer = websocket.DefaultDialer
	}

	conn, _, err := dialer.DialContext(ctx, url, d.Header)
	cancel()
	if err != nil {
		callError(h, err)
		callClose(h, err)
		return
	}

	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		conn.Close()
		callClose(h, ErrTransportClosed)
		return
	}
	t.conn = conn
	t.mu.Unlock()

	conn.SetReadLimit(maxMessageSize)

	if h.OnOpen != nil {
		h.OnOpen()
	}

	go t.writePump(conn)
	err = t.readPump(conn, h)

	t.Close()
	callClose(h, err)
}

// Send queues data for the write pump.
func (t *wsTransport) Send(data []byte) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed || t.conn == nil {
		return ErrTransportClosed
	}

	select {
	case t.send <- data:
		return nil
	default:
		return ErrSendQueueFull
	}
}

// Close closes the connection; the pumps exit and OnClose follows.
func (t *wsTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return nil
	}
	t.closed = true
	close(t.done)
	return nil
}

// readPump pumps frames from the connection to OnMessage until the
// connection fails.
func (t *wsTransport) readPump(conn *websocket.Conn, h Handlers) error {
	for {
		msgType, message, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				callError(h, err)
			}
			return err
		}
		if msgType != websocket.TextMessage {
			continue
		}
		if h.OnMessage != nil {
			h.OnMessage(message)
		}
	}
}

// writePump pumps queued frames to the connection and closes it once the
// transport is closed.
func (t *wsTransport) writePump(conn *websocket.Conn) {
	defer conn.Close()

	for {
		select {
		case message := <-t.send:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.TextMessage, message); err != nil {
				log.Printf("ws: write failed: %v", err)
				return
			}
		case <-t.done:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		}
	}
}

func callError(h Handlers, err error) {
	if h.OnError != nil {
		h.OnError(err)
	}
}

func callClose(h Handlers, err error) {
	if h.OnClose != nil {
		h.OnClose(err)
	}
}
