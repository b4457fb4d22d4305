// Package history keeps the speaker-tagged transcript of one call.
package history

import (
	"strings"
	"sync"
)

// Entry is one finalized utterance.
type Entry struct {
	Speaker string
	Text    string
}

// String renders the entry as "speaker: text".
func (e Entry) String() string {
	return e.Speaker + ": " + e.Text
}

// History is append-only. Entries are never reordered or removed.
type History struct {
	mu      sync.Mutex
	entries []Entry
}

// New returns an empty history.
func New() *History {
	return &History{}
}

// Append adds one entry at the end.
func (h *History) Append(speaker, text string) {
	h.mu.Lock()
	h.entries = append(h.entries, Entry{Speaker: speaker, Text: text})
	h.mu.Unlock()
}

// Len reports the number of entries.
func (h *History) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.entries)
}

// Entries returns a copy in insertion order.
func (h *History) Entries() []Entry {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]Entry(nil), h.entries...)
}

// Recent returns the last min(n, Len) entries in order.
func (h *History) Recent(n int) []Entry {
	h.mu.Lock()
	defer h.mu.Unlock()
	if n <= 0 || len(h.entries) == 0 {
		return nil
	}
	start := len(h.entries) - n
	if start < 0 {
		start = 0
	}
	return append([]Entry(nil), h.entries[start:]...)
}

// RecentWindow renders Recent(n) as "speaker: text" lines joined by newline.
// An empty history yields "".
func (h *History) RecentWindow(n int) string {
	recent := h.Recent(n)
	lines := make([]string, len(recent))
	for i, e := range recent {
		lines[i] = e.String()
	}
	return strings.Join(lines, "\n")
}
