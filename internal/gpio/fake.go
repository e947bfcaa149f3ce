package gpio

import (
	"fmt"
	"sync"
)

// Write is a single recorded Set call.
type Write struct {
	Line int
	High bool
}

// FakeWriter is a test double that records line levels.
// It is safe for concurrent use so tests can read levels while the
// daemon loop is running.
type FakeWriter struct {
	mu sync.Mutex

	levels  map[int]bool
	history []Write
	closed  bool

	// SetError, if set, will be returned by Set and the level left unchanged.
	SetError error
}

// NewFakeWriter creates a FakeWriter with the given lines at their initial level.
func NewFakeWriter(outputs []Output) *FakeWriter {
	f := &FakeWriter{levels: make(map[int]bool, len(outputs))}
	for _, o := range outputs {
		f.levels[o.Line] = o.Initial
	}
	return f
}

// Set records the level of line. Lines that were not requested are an error.
func (f *FakeWriter) Set(line int, high bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.SetError != nil {
		return f.SetError
	}
	if f.closed {
		return fmt.Errorf("set line %d: writer closed", line)
	}
	if _, ok := f.levels[line]; !ok {
		return fmt.Errorf("set line %d: not requested", line)
	}
	f.levels[line] = high
	f.history = append(f.history, Write{Line: line, High: high})
	return nil
}

// Level returns the current level of line.
func (f *FakeWriter) Level(line int) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.levels[line]
}

// History returns a copy of every successful Set call in order.
func (f *FakeWriter) History() []Write {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]Write, len(f.history))
	copy(out, f.history)
	return out
}

// Closed reports whether Close was called.
func (f *FakeWriter) Closed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

// Close marks the writer as closed.
func (f *FakeWriter) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

// Reset clears the history and reopens the writer. Levels are kept.
func (f *FakeWriter) Reset() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.history = nil
	f.closed = false
	f.SetError = nil
}
