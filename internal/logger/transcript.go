// Package logger records the frames exchanged with the coach server as a
// JSON-lines transcript.
package logger

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// Header is the first line of a transcript.
type Header struct {
	Version   int    `json:"version"`
	Timestamp int64  `json:"timestamp"`
	Endpoint  string `json:"endpoint,omitempty"`
}

// Event is one recorded frame.
// Format: [time_offset, direction, frame]
type Event struct {
	TimeOffset float64
	Direction  string // "i" for received, "o" for sent
	Frame      string
}

// MarshalJSON encodes the event as a three-element array.
func (e Event) MarshalJSON() ([]byte, error) {
	return json.Marshal([]any{e.TimeOffset, e.Direction, e.Frame})
}

// UnmarshalJSON decodes a three-element array.
func (e *Event) UnmarshalJSON(data []byte) error {
	var arr []any
	if err := json.Unmarshal(data, &arr); err != nil {
		return err
	}
	if len(arr) != 3 {
		return fmt.Errorf("invalid event format: expected 3 elements, got %d", len(arr))
	}

	offset, ok := arr[0].(float64)
	if !ok {
		return fmt.Errorf("invalid time offset type")
	}
	direction, ok := arr[1].(string)
	if !ok || (direction != "i" && direction != "o") {
		return fmt.Errorf("invalid direction")
	}
	frame, ok := arr[2].(string)
	if !ok {
		return fmt.Errorf("invalid frame type")
	}

	e.TimeOffset = offset
	e.Direction = direction
	e.Frame = frame
	return nil
}

// Transcript writes frames to a file or writer.
type Transcript struct {
	writer    io.Writer
	file      *os.File // only set if we own the file
	startTime time.Time
	now       func() time.Time
	mu        sync.Mutex
}

// NewTranscript creates Transcript appending to the file at filePath.
func NewTranscript(filePath string) (*Transcript, error) {
	if err := os.MkdirAll(filepath.Dir(filePath), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create transcript directory: %w", err)
	}
	file, err := os.OpenFile(filePath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("failed to open transcript: %w", err)
	}

	t := NewTranscriptWithWriter(file, time.Now)
	t.file = file
	return t, nil
}

// NewTranscriptWithWriter creates a Transcript on w. now supplies the
// timestamps; nil means time.Now.
func NewTranscriptWithWriter(w io.Writer, now func() time.Time) *Transcript {
	if now == nil {
		now = time.Now
	}
	return &Transcript{
		writer:    w,
		startTime: now(),
		now:       now,
	}
}

// WriteHeader writes the header line for a connection to endpoint.
func (t *Transcript) WriteHeader(endpoint string) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	data, err := json.Marshal(Header{
		Version:   1,
		Timestamp: t.startTime.Unix(),
		Endpoint:  endpoint,
	})
	if err != nil {
		return fmt.Errorf("failed to marshal header: %w", err)
	}

	if _, err := t.writer.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("failed to write header: %w", err)
	}
	return nil
}

// WriteInput records a frame received from the server.
func (t *Transcript) WriteInput(data []byte) error {
	return t.writeEvent("i", data)
}

// WriteOutput records a frame sent to the server.
func (t *Transcript) WriteOutput(data []byte) error {
	return t.writeEvent("o", data)
}

func (t *Transcript) writeEvent(direction string, data []byte) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	eventData, err := json.Marshal(Event{
		TimeOffset: t.now().Sub(t.startTime).Seconds(),
		Direction:  direction,
		Frame:      string(data),
	})
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	if _, err := t.writer.Write(append(eventData, '\n')); err != nil {
		return fmt.Errorf("failed to write event: %w", err)
	}
	return nil
}

// Close closes the transcript file.
func (t *Transcript) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.file != nil {
		return t.file.Close()
	}
	return nil
}
