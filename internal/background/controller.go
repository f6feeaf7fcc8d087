// Package background wires the connection manager, the persisted state and
// the reconciler together, and dispatches control requests from the local UI.
package background

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/focus-coach/companion/internal/clock"
	"github.com/focus-coach/companion/internal/model"
	"github.com/focus-coach/companion/internal/notify"
	"github.com/focus-coach/companion/internal/repository"
	"github.com/focus-coach/companion/internal/ws"
)

const callbackTimeout = 5 * time.Second

// ControlType is the kind of a control request.
type ControlType string

const (
	ControlGetFocus         ControlType = "get_focus"
	ControlReconnect        ControlType = "reconnect"
	ControlShowNotification ControlType = "show_notification"
	ControlFocus            ControlType = "focus"
)

// ControlMessage is a request from the local UI.
type ControlMessage struct {
	Type ControlType `json:"type"`
	// Duration is the focus session length in seconds, for focus requests.
	Duration int64 `json:"duration,omitempty"`
	// Title and Body override the reminder text of show_notification.
	Title string `json:"title,omitempty"`
	Body  string `json:"body,omitempty"`
}

// Store is the persisted key-value state.
type Store interface {
	Get(ctx context.Context, keys ...repository.Key) (repository.Values, error)
	Set(ctx context.Context, values repository.Values) error
}

// Connection is the subset of ws.Manager the controller drives.
type Connection interface {
	Send(msg ws.Message)
	Reconnect(force bool)
	IsOpen() bool
	Status() ws.Status
}

// Restarter resets the reconciler intervals.
type Restarter interface {
	RestartTimeUpdate()
	RestartInteractionUpdate()
}

// Snapshot is the combined persisted and live state.
type Snapshot struct {
	Connected            bool                   `json:"connected"`
	Focus                model.FocusState       `json:"focus"`
	Interaction          model.InteractionState `json:"interaction"`
	LastNotificationSent int64                  `json:"lastNotificationSent"`
	Connection           *ws.Status             `json:"connection,omitempty"`
}

// Controller reacts to connection events and control requests.
type Controller struct {
	store    Store
	notifier notify.Notifier
	clock    clock.Clock

	mu        sync.RWMutex
	conn      Connection
	restarter Restarter
}

// NewController creates a controller. Attach must be called before control
// requests that need the connection are dispatched.
func NewController(store Store, notifier notify.Notifier, clk clock.Clock) *Controller {
	if notifier == nil {
		notifier = notify.LogNotifier{}
	}
	if clk == nil {
		clk = clock.Real{}
	}
	return &Controller{
		store:    store,
		notifier: notifier,
		clock:    clk,
	}
}

// Attach connects the controller to the manager and reconciler built from
// its callbacks.
func (c *Controller) Attach(conn Connection, restarter Restarter) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.conn = conn
	c.restarter = restarter
}

func (c *Controller) connection() Connection {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.conn
}

func (c *Controller) timers() Restarter {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.restarter
}

// Callbacks returns the connection manager callbacks.
func (c *Controller) Callbacks() ws.Callbacks {
	return ws.Callbacks{
		OnConnected:    c.handleConnected,
		OnDisconnected: c.handleDisconnected,
		OnFocusMessage: c.handleFocusMessage,
		OnHookResult:   c.handleHookResult,
	}
}

func (c *Controller) handleConnected() {
	ctx, cancel := context.WithTimeout(context.Background(), callbackTimeout)
	defer cancel()

	if err := c.store.Set(ctx, repository.Values{repository.KeyConnected: true}); err != nil {
		log.Printf("background: failed to persist connected flag: %v", err)
	}
	if conn := c.connection(); conn != nil {
		conn.Send(ws.GetFocusMessage())
	}
}

func (c *Controller) handleDisconnected() {
	ctx, cancel := context.WithTimeout(context.Background(), callbackTimeout)
	defer cancel()

	if err := c.store.Set(ctx, repository.Values{repository.KeyConnected: false}); err != nil {
		log.Printf("background: failed to persist connected flag: %v", err)
	}
}

func (c *Controller) handleFocusMessage(msg ws.FocusingMessage) {
	ctx, cancel := context.WithTimeout(context.Background(), callbackTimeout)
	defer cancel()

	stamp := msg.LastUpdateTimestamp
	if stamp == 0 {
		stamp = c.clock.Now().UnixMilli()
	}

	if err := c.store.Set(ctx, repository.Values{
		repository.KeyFocusing:            msg.Focusing,
		repository.KeySinceLastChange:     msg.SinceLastChange,
		repository.KeyFocusTimeLeft:       msg.FocusTimeLeft,
		repository.KeyLastUpdateTimestamp: stamp,
	}); err != nil {
		log.Printf("background: failed to persist focus state: %v", err)
		return
	}

	if r := c.timers(); r != nil {
		r.RestartTimeUpdate()
	}
}

func (c *Controller) handleHookResult(msg ws.HookResultMessage) {
	ctx, cancel := context.WithTimeout(context.Background(), callbackTimeout)
	defer cancel()

	n := notify.Notification{ID: msg.ID, Title: notify.DefaultTitle, Body: msg.Content}
	if err := c.notifier.Notify(ctx, n); err != nil {
		log.Printf("background: failed to show hook result %s: %v", msg.ID, err)
	}
}

// Dispatch handles one control request.
func (c *Controller) Dispatch(ctx context.Context, msg ControlMessage) error {
	switch msg.Type {
	case ControlGetFocus:
		conn, err := c.openConnection()
		if err != nil {
			return err
		}
		conn.Send(ws.GetFocusMessage())
		return nil

	case ControlReconnect:
		conn := c.connection()
		if conn == nil {
			return model.ErrNotConnected
		}
		conn.Reconnect(true)
		return nil

	case ControlShowNotification:
		n := notify.Reminder()
		if msg.Body != "" {
			n = notify.New(msg.Title, msg.Body)
		}
		return c.notifier.Notify(ctx, n)

	case ControlFocus:
		if msg.Duration <= 0 {
			return model.ErrInvalidDuration
		}
		conn, err := c.openConnection()
		if err != nil {
			return err
		}
		conn.Send(ws.FocusMessage(time.Duration(msg.Duration) * time.Second))
		return nil

	default:
		return fmt.Errorf("%w: %q", model.ErrUnknownControl, msg.Type)
	}
}

func (c *Controller) openConnection() (Connection, error) {
	conn := c.connection()
	if conn == nil || !conn.IsOpen() {
		return nil, model.ErrNotConnected
	}
	return conn, nil
}

// RecordInteraction resets the time since the user last navigated.
func (c *Controller) RecordInteraction(ctx context.Context) error {
	if err := c.store.Set(ctx, repository.Values{
		repository.KeyLastInteraction:          0,
		repository.KeyLastInteractionTimestamp: c.clock.Now().UnixMilli(),
	}); err != nil {
		return fmt.Errorf("failed to record interaction: %w", err)
	}

	if r := c.timers(); r != nil {
		r.RestartInteractionUpdate()
	}
	return nil
}

// ShowReminder shows a drift reminder. It is the reconciler's reminder hook.
func (c *Controller) ShowReminder(ctx context.Context) {
	if err := c.notifier.Notify(ctx, notify.Reminder()); err != nil {
		log.Printf("background: failed to show reminder: %v", err)
	}
}

// Snapshot reads the persisted state along with the live connection status.
func (c *Controller) Snapshot(ctx context.Context) (*Snapshot, error) {
	values, err := c.store.Get(ctx, repository.Keys()...)
	if err != nil {
		return nil, fmt.Errorf("failed to read state: %w", err)
	}

	snap := &Snapshot{
		Connected: values.Bool(repository.KeyConnected),
		Focus: model.FocusState{
			Focusing:            values.Bool(repository.KeyFocusing),
			SinceLastChange:     values.Number(repository.KeySinceLastChange),
			FocusTimeLeft:       values.Number(repository.KeyFocusTimeLeft),
			LastUpdateTimestamp: values.Millis(repository.KeyLastUpdateTimestamp),
		},
		Interaction: model.InteractionState{
			LastInteraction:          values.Number(repository.KeyLastInteraction),
			LastInteractionTimestamp: values.Millis(repository.KeyLastInteractionTimestamp),
		},
		LastNotificationSent: values.Millis(repository.KeyLastNotificationSent),
	}

	if conn := c.connection(); conn != nil {
		status := conn.Status()
		snap.Connection = &status
	}

	return snap, nil
}
