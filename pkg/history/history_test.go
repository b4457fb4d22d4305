package history

import (
	"fmt"
	"sync"
	"testing"
)

func TestAppendKeepsOrder(t *testing.T) {
	h := New()
	for i := 0; i < 7; i++ {
		h.Append("agent", fmt.Sprintf("line %d", i))
	}
	entries := h.Entries()
	if len(entries) != 7 {
		t.Fatalf("expected 7 entries, got %d", len(entries))
	}
	for i, e := range entries {
		if e.Text != fmt.Sprintf("line %d", i) {
			t.Fatalf("entry %d out of order: %q", i, e.Text)
		}
	}
}

func TestRecentWindowBounds(t *testing.T) {
	h := New()
	if got := h.RecentWindow(5); got != "" {
		t.Fatalf("expected empty window, got %q", got)
	}
	h.Append("agent", "Hallo")
	h.Append("customer", "Guten Tag")
	if got, want := h.RecentWindow(5), "agent: Hallo\ncustomer: Guten Tag"; got != want {
		t.Fatalf("expected %q, got %q", want, got)
	}
	h.Append("agent", "Wie kann ich helfen?")
	if got, want := h.RecentWindow(2), "customer: Guten Tag\nagent: Wie kann ich helfen?"; got != want {
		t.Fatalf("expected %q, got %q", want, got)
	}
	if got := h.RecentWindow(0); got != "" {
		t.Fatalf("expected empty window for n=0, got %q", got)
	}
}

func TestRecentIsCopy(t *testing.T) {
	h := New()
	h.Append("agent", "a")
	r := h.Recent(1)
	r[0].Text = "mutated"
	if h.Entries()[0].Text != "a" {
		t.Fatalf("history mutated through Recent")
	}
}

func TestConcurrentAppend(t *testing.T) {
	h := New()
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			h.Append("customer", "x")
		}()
	}
	wg.Wait()
	if h.Len() != 50 {
		t.Fatalf("expected 50 entries, got %d", h.Len())
	}
}
