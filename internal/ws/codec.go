package ws

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"time"

	"github.com/focus-coach/companion/internal/model"
)

// MessageType represents the type of WebSocket message.
type MessageType string

const (
	// Client -> Server message types
	MessageTypePing     MessageType = "ping"
	MessageTypeGetFocus MessageType = "get_focus"
	MessageTypeFocus    MessageType = "focus"

	// Server -> Client message types
	MessageTypePong       MessageType = "pong"
	MessageTypeHookResult MessageType = "hook_result"
)

// Message is an outgoing frame. Duration is only set for focus requests.
type Message struct {
	Type     MessageType `json:"type"`
	Duration *int64      `json:"duration,omitempty"`
}

// PingMessage returns a heartbeat probe.
func PingMessage() Message {
	return Message{Type: MessageTypePing}
}

// GetFocusMessage asks the server for the current focus state.
func GetFocusMessage() Message {
	return Message{Type: MessageTypeGetFocus}
}

// FocusMessage asks the server to start a focus session lasting d,
// rounded down to whole seconds.
func FocusMessage(d time.Duration) Message {
	seconds := int64(d / time.Second)
	return Message{Type: MessageTypeFocus, Duration: &seconds}
}

// Encode serializes an outgoing message.
func Encode(msg Message) ([]byte, error) {
	if msg.Type == "" {
		return nil, fmt.Errorf("failed to encode message: missing type")
	}
	data, err := json.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("failed to encode message: %w", err)
	}
	return data, nil
}

// FocusingMessage is a focus state update pushed by the server.
type FocusingMessage struct {
	Type            string
	Focusing        bool
	SinceLastChange float64
	FocusTimeLeft   float64
	// LastUpdateTimestamp is the server's epoch-ms stamp, or 0 when the
	// frame did not carry one.
	LastUpdateTimestamp int64
}

// HookResultMessage carries the output of a server-side hook to show the user.
type HookResultMessage struct {
	ID      string
	Content string
}

// Event is a classified inbound frame: one of PongEvent, FocusEvent or
// HookResultEvent.
type Event interface {
	isEvent()
}

// PongEvent acknowledges the outstanding heartbeat probe.
type PongEvent struct{}

// FocusEvent wraps a validated focus update.
type FocusEvent struct {
	Message FocusingMessage
}

// HookResultEvent wraps a validated hook result.
type HookResultEvent struct {
	Message HookResultMessage
}

func (PongEvent) isEvent()       {}
func (FocusEvent) isEvent()      {}
func (HookResultEvent) isEvent() {}

// Decode classifies an inbound text frame. It returns a nil Event and a nil
// error for well-formed frames of a kind the agent does not handle.
// Frames that are not a JSON object, or that look like a known kind but fail
// its shape check, return an error wrapping one of the model sentinels.
func Decode(data []byte) (Event, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		return nil, fmt.Errorf("%w: %v", model.ErrMalformedFrame, err)
	}
	if fields == nil {
		return nil, fmt.Errorf("%w: not an object", model.ErrMalformedFrame)
	}

	var msgType string
	if raw, ok := fields["type"]; ok {
		if err := decodeStrict(raw, &msgType); err != nil {
			return nil, fmt.Errorf("%w: type: %v", model.ErrMalformedFrame, err)
		}
	}

	switch {
	case MessageType(msgType) == MessageTypePong:
		return PongEvent{}, nil
	case MessageType(msgType) == MessageTypeHookResult:
		return decodeHookResult(fields)
	case has(fields, "focusing"):
		return decodeFocus(msgType, fields)
	case has(fields, "id") && has(fields, "content"):
		return decodeHookResult(fields)
	default:
		return nil, nil
	}
}

func decodeFocus(msgType string, fields map[string]json.RawMessage) (Event, error) {
	msg := FocusingMessage{Type: msgType}

	if err := requireField(fields, "focusing", &msg.Focusing); err != nil {
		return nil, fmt.Errorf("%w: %v", model.ErrInvalidFocusMessage, err)
	}
	if err := requireNumber(fields, "since_last_change", &msg.SinceLastChange); err != nil {
		return nil, fmt.Errorf("%w: %v", model.ErrInvalidFocusMessage, err)
	}
	if err := requireNumber(fields, "focus_time_left", &msg.FocusTimeLeft); err != nil {
		return nil, fmt.Errorf("%w: %v", model.ErrInvalidFocusMessage, err)
	}

	if has(fields, "last_update_timestamp") {
		var ts float64
		if err := requireNumber(fields, "last_update_timestamp", &ts); err != nil {
			return nil, fmt.Errorf("%w: %v", model.ErrInvalidFocusMessage, err)
		}
		msg.LastUpdateTimestamp = int64(ts)
	}

	return FocusEvent{Message: msg}, nil
}

func decodeHookResult(fields map[string]json.RawMessage) (Event, error) {
	var msg HookResultMessage

	if err := requireField(fields, "id", &msg.ID); err != nil {
		return nil, fmt.Errorf("%w: %v", model.ErrInvalidHookResult, err)
	}
	if err := requireField(fields, "content", &msg.Content); err != nil {
		return nil, fmt.Errorf("%w: %v", model.ErrInvalidHookResult, err)
	}

	return HookResultEvent{Message: msg}, nil
}

func has(fields map[string]json.RawMessage, key string) bool {
	_, ok := fields[key]
	return ok
}

func requireField(fields map[string]json.RawMessage, key string, dst any) error {
	raw, ok := fields[key]
	if !ok {
		return fmt.Errorf("%s: missing", key)
	}
	if err := decodeStrict(raw, dst); err != nil {
		return fmt.Errorf("%s: %v", key, err)
	}
	return nil
}

func requireNumber(fields map[string]json.RawMessage, key string, dst *float64) error {
	if err := requireField(fields, key, dst); err != nil {
		return err
	}
	if math.IsNaN(*dst) || math.IsInf(*dst, 0) {
		return fmt.Errorf("%s: not a finite number", key)
	}
	return nil
}

// decodeStrict unmarshals raw into dst, rejecting JSON null which
// encoding/json would otherwise accept as the zero value.
func decodeStrict(raw json.RawMessage, dst any) error {
	if bytes.Equal(bytes.TrimSpace(raw), []byte("null")) {
		return fmt.Errorf("null value")
	}
	return json.Unmarshal(raw, dst)
}
