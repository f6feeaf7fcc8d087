package logger

import (
	"bufio"
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestEventJSON(t *testing.T) {
	data, err := json.Marshal(Event{TimeOffset: 1.5, Direction: "o", Frame: `{"type":"ping"}`})
	if err != nil {
		t.Fatalf("marshal failed: %v", err)
	}
	if string(data) != `[1.5,"o","{\"type\":\"ping\"}"]` {
		t.Errorf("unexpected encoding %s", data)
	}

	var e Event
	if err := json.Unmarshal(data, &e); err != nil {
		t.Fatalf("unmarshal failed: %v", err)
	}
	if e.TimeOffset != 1.5 || e.Direction != "o" || e.Frame != `{"type":"ping"}` {
		t.Errorf("unexpected event %+v", e)
	}

	for _, bad := range []string{`[1,"o"]`, `["x","o","f"]`, `[1,"x","f"]`, `[1,"i",2]`, `{}`} {
		if err := json.Unmarshal([]byte(bad), &e); err == nil {
			t.Errorf("expected error for %s", bad)
		}
	}
}

func TestTranscriptWritesHeaderAndEvents(t *testing.T) {
	var buf bytes.Buffer
	start := time.Unix(1700000000, 0)
	now := start
	tr := NewTranscriptWithWriter(&buf, func() time.Time { return now })

	if err := tr.WriteHeader("ws://coach.local/connect"); err != nil {
		t.Fatalf("WriteHeader failed: %v", err)
	}
	now = start.Add(2 * time.Second)
	if err := tr.WriteOutput([]byte(`{"type":"ping"}`)); err != nil {
		t.Fatalf("WriteOutput failed: %v", err)
	}
	now = start.Add(2500 * time.Millisecond)
	if err := tr.WriteInput([]byte(`{"type":"pong"}`)); err != nil {
		t.Fatalf("WriteInput failed: %v", err)
	}

	scanner := bufio.NewScanner(&buf)
	var lines []string
	for scanner.Scan() {
		lines = append(lines, scanner.Text())
	}
	if len(lines) != 3 {
		t.Fatalf("expected 3 lines, got %d: %q", len(lines), lines)
	}

	var h Header
	if err := json.Unmarshal([]byte(lines[0]), &h); err != nil {
		t.Fatalf("bad header: %v", err)
	}
	if h.Version != 1 || h.Timestamp != start.Unix() || h.Endpoint != "ws://coach.local/connect" {
		t.Errorf("unexpected header %+v", h)
	}

	var out, in Event
	json.Unmarshal([]byte(lines[1]), &out)
	json.Unmarshal([]byte(lines[2]), &in)
	if out.Direction != "o" || out.TimeOffset != 2 {
		t.Errorf("unexpected outbound event %+v", out)
	}
	if in.Direction != "i" || in.TimeOffset != 2.5 || in.Frame != `{"type":"pong"}` {
		t.Errorf("unexpected inbound event %+v", in)
	}
}

func TestNewTranscriptAppends(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "frames.jsonl")

	for i := 0; i < 2; i++ {
		tr, err := NewTranscript(path)
		if err != nil {
			t.Fatalf("NewTranscript failed: %v", err)
		}
		if err := tr.WriteInput([]byte(`{"type":"pong"}`)); err != nil {
			t.Fatalf("WriteInput failed: %v", err)
		}
		if err := tr.Close(); err != nil {
			t.Fatalf("Close failed: %v", err)
		}
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read failed: %v", err)
	}
	if n := strings.Count(string(data), "\n"); n != 2 {
		t.Errorf("expected 2 appended lines, got %d", n)
	}
}
