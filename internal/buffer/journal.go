// Package buffer keeps the most recent log lines in memory.
package buffer

import (
	"bytes"
	"sync"
)

// Journal is a thread-safe ring of the last N complete lines written to it.
// It implements io.Writer so it can sit behind log.SetOutput.
type Journal struct {
	mu      sync.RWMutex
	lines   []string
	next    int
	full    bool
	partial []byte
}

// NewJournal creates a journal holding up to capacity lines. A capacity
// below 1 is raised to 1.
func NewJournal(capacity int) *Journal {
	if capacity <= 0 {
		capacity = 1
	}
	return &Journal{lines: make([]string, capacity)}
}

// Write splits p into lines. A trailing fragment without a newline is held
// until the rest of its line arrives.
func (j *Journal) Write(p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}

	j.mu.Lock()
	defer j.mu.Unlock()

	data := p
	for {
		i := bytes.IndexByte(data, '\n')
		if i < 0 {
			j.partial = append(j.partial, data...)
			break
		}
		line := append(j.partial, data[:i]...)
		j.partial = nil
		j.appendLocked(string(line))
		data = data[i+1:]
	}

	return len(p), nil
}

func (j *Journal) appendLocked(line string) {
	j.lines[j.next] = line
	j.next = (j.next + 1) % len(j.lines)
	if j.next == 0 {
		j.full = true
	}
}

// Lines returns up to n of the most recent lines, oldest first. n <= 0
// returns everything held.
func (j *Journal) Lines(n int) []string {
	j.mu.RLock()
	defer j.mu.RUnlock()

	var all []string
	if j.full {
		all = append(all, j.lines[j.next:]...)
		all = append(all, j.lines[:j.next]...)
	} else {
		all = append(all, j.lines[:j.next]...)
	}

	if n > 0 && n < len(all) {
		all = all[len(all)-n:]
	}
	return all
}

// Len returns the number of complete lines held.
func (j *Journal) Len() int {
	j.mu.RLock()
	defer j.mu.RUnlock()

	if j.full {
		return len(j.lines)
	}
	return j.next
}

// Cap returns the capacity of the journal.
func (j *Journal) Cap() int {
	return len(j.lines)
}

// Clear drops every line.
func (j *Journal) Clear() {
	j.mu.Lock()
	defer j.mu.Unlock()

	for i := range j.lines {
		j.lines[i] = ""
	}
	j.next = 0
	j.full = false
	j.partial = nil
}
