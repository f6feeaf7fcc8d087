package model

import "errors"

var (
	// ErrMalformedFrame is returned when an inbound frame is not a JSON object.
	ErrMalformedFrame = errors.New("malformed frame")

	// ErrInvalidFocusMessage is returned when a focus update is missing a field or has a mistyped one.
	ErrInvalidFocusMessage = errors.New("invalid focus message")

	// ErrInvalidHookResult is returned when a hook result frame is missing its id or content.
	ErrInvalidHookResult = errors.New("invalid hook result message")

	// ErrUnknownControl is returned when a control message has an unsupported type.
	ErrUnknownControl = errors.New("unknown control message type")

	// ErrInvalidDuration is returned when a focus request carries a non-positive duration.
	ErrInvalidDuration = errors.New("focus duration must be positive")

	// ErrNotConnected is returned when a control request needs an open connection.
	ErrNotConnected = errors.New("not connected to the coach server")
)
