package logger

import (
	"encoding/json"
	"sync"
)

const defaultBufferSize = 1000

// Broadcaster receives every streamed entry as a "logs:entry" message.
type Broadcaster interface {
	Broadcast(msgType string, payload any) error
}

// LogEntry is one structured log line as served to clients.
type LogEntry struct {
	Timestamp string         `json:"timestamp"`
	Level     string         `json:"level"`
	Component string         `json:"component,omitempty"`
	Message   string         `json:"message"`
	Fields    map[string]any `json:"fields,omitempty"`
}

// ring keeps the last cap(items) values.
type ring[T any] struct {
	mu    sync.Mutex
	items []T
	next  int
	full  bool
}

func newRing[T any](size int) *ring[T] {
	return &ring[T]{items: make([]T, size)}
}

func (r *ring[T]) add(v T) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.items[r.next] = v
	r.next++
	if r.next == len(r.items) {
		r.next = 0
		r.full = true
	}
}

// snapshot returns the values oldest first.
func (r *ring[T]) snapshot() []T {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.full {
		return append([]T{}, r.items[:r.next]...)
	}
	out := make([]T, 0, len(r.items))
	out = append(out, r.items[r.next:]...)
	return append(out, r.items[:r.next]...)
}

// stream is a zerolog output that buffers entries and forwards them to a
// Broadcaster once one is attached.
type stream struct {
	recent *ring[LogEntry]

	mu  sync.RWMutex
	hub Broadcaster
}

func newStream(size int) *stream {
	if size <= 0 {
		size = defaultBufferSize
	}
	return &stream{recent: newRing[LogEntry](size)}
}

func (s *stream) attach(hub Broadcaster) {
	s.mu.Lock()
	s.hub = hub
	s.mu.Unlock()
}

// Write decodes one zerolog JSON line. Lines that do not decode are
// dropped from the stream; they still reach the other outputs.
func (s *stream) Write(p []byte) (int, error) {
	entry, ok := decodeEntry(p)
	if !ok {
		return len(p), nil
	}
	s.recent.add(entry)

	s.mu.RLock()
	hub := s.hub
	s.mu.RUnlock()
	if hub != nil {
		// A slow hub drops the entry; it stays in the buffer.
		_ = hub.Broadcast("logs:entry", entry)
	}
	return len(p), nil
}

func decodeEntry(p []byte) (LogEntry, bool) {
	var fields map[string]any
	if err := json.Unmarshal(p, &fields); err != nil {
		return LogEntry{}, false
	}

	take := func(key string) string {
		v, _ := fields[key].(string)
		delete(fields, key)
		return v
	}
	entry := LogEntry{
		Timestamp: take("time"),
		Level:     take("level"),
		Component: take("component"),
		Message:   take("message"),
	}
	if len(fields) > 0 {
		entry.Fields = fields
	}
	return entry, true
}
