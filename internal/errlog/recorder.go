// Package errlog keeps the operator-visible log of faults recovered while
// handling peer events.
package errlog

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Entry is one recorded fault.
type Entry struct {
	ID      string    `json:"id"`
	Name    string    `json:"name"`
	Message string    `json:"message"`
	Stack   string    `json:"stack"`
	Date    time.Time `json:"date"`
}

// Recorder is the sink for faults. Record is best effort and never fails the
// caller.
type Recorder interface {
	Record(ctx context.Context, name string, err error)
	Entries(ctx context.Context) ([]Entry, error)
	Clear(ctx context.Context) error
}

type stackTracer interface {
	StackTrace() string
}

// PanicError wraps a recovered panic value together with the stack captured
// at the recover site.
type PanicError struct {
	Value any
	Stack []byte
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("panic: %v", e.Value)
}

func (e *PanicError) StackTrace() string {
	return string(e.Stack)
}

// FromPanic turns a value returned by recover into an error.
func FromPanic(v any, stack []byte) error {
	if err, ok := v.(error); ok && stack == nil {
		return err
	}
	return &PanicError{Value: v, Stack: stack}
}

func newEntry(name string, err error) Entry {
	var stack string
	if st, ok := err.(stackTracer); ok {
		stack = st.StackTrace()
	} else {
		stack = string(debug.Stack())
	}
	return Entry{
		ID:      uuid.NewString(),
		Name:    name,
		Message: err.Error(),
		Stack:   stack,
		Date:    time.Now().UTC(),
	}
}

// MemoryRecorder keeps the most recent entries in process memory.
type MemoryRecorder struct {
	mu      sync.Mutex
	entries []Entry
	limit   int
}

func NewMemoryRecorder(limit int) *MemoryRecorder {
	if limit <= 0 {
		limit = 500
	}
	return &MemoryRecorder{limit: limit}
}

func (m *MemoryRecorder) Record(_ context.Context, name string, err error) {
	if err == nil {
		return
	}
	entry := newEntry(name, err)

	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = append(m.entries, entry)
	if over := len(m.entries) - m.limit; over > 0 {
		m.entries = append([]Entry(nil), m.entries[over:]...)
	}
}

// Entries returns the retained entries, oldest first.
func (m *MemoryRecorder) Entries(context.Context) ([]Entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Entry(nil), m.entries...), nil
}

func (m *MemoryRecorder) Clear(context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = nil
	return nil
}

// Discard drops every entry.
type Discard struct{}

func (Discard) Record(context.Context, string, error) {}

func (Discard) Entries(context.Context) ([]Entry, error) { return nil, nil }

func (Discard) Clear(context.Context) error { return nil }
