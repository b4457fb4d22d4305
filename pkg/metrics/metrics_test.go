package metrics

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestMemoryObserverNamed(t *testing.T) {
	m := NewMemoryObserver()
	Emit(m, EventCallStart, 1, nil, nil)
	Emit(m, EventSpeechFinal, 1, map[string]string{TagSpeaker: "agent"}, nil)
	Emit(m, EventSpeechFinal, 1, map[string]string{TagSpeaker: "customer"}, nil)
	if m.Count(EventSpeechFinal) != 2 {
		t.Fatalf("expected 2 finals, got %d", m.Count(EventSpeechFinal))
	}
	if got := m.Named(EventSpeechFinal)[1].Tags[TagSpeaker]; got != "customer" {
		t.Fatalf("unexpected order, got %q", got)
	}
	Emit(nil, EventCallEnd, 0, nil, nil)
}

func TestAsyncObserverCloseDrains(t *testing.T) {
	m := NewMemoryObserver()
	a := NewAsyncObserver(m, 16)
	for i := 0; i < 10; i++ {
		a.RecordEvent(MetricsEvent{Name: EventNotifySent})
	}
	a.Close()
	if got := m.Count(EventNotifySent) + int(a.Dropped()); got != 10 {
		t.Fatalf("expected all events delivered or counted as dropped, got %d", got)
	}
	a.RecordEvent(MetricsEvent{Name: EventNotifySent})
	a.Close()
}

func TestSamplingObserverKeepsLifecycleEvents(t *testing.T) {
	m := NewMemoryObserver()
	s := NewSamplingObserver(m, 0, EventCallStart, EventCallEnd)
	s.RecordEvent(MetricsEvent{Name: EventSpeechFinal})
	s.RecordEvent(MetricsEvent{Name: EventCallStart})
	s.RecordEvent(MetricsEvent{Name: EventCallEnd})
	if m.Count(EventSpeechFinal) != 0 {
		t.Fatalf("sampled event leaked through at rate 0")
	}
	if m.Count(EventCallStart) != 1 || m.Count(EventCallEnd) != 1 {
		t.Fatalf("lifecycle events must bypass sampling")
	}
}

func TestSamplingObserverEveryNth(t *testing.T) {
	m := NewMemoryObserver()
	s := NewSamplingObserver(m, 0.5)
	for i := 0; i < 10; i++ {
		s.RecordEvent(MetricsEvent{Name: EventAudioDropped})
	}
	if got := m.Count(EventAudioDropped); got != 5 {
		t.Fatalf("expected 5 sampled events, got %d", got)
	}
}

func TestPrometheusObserverExports(t *testing.T) {
	p := NewPrometheusObserver()
	Emit(p, EventCallStart, 1, nil, nil)
	Emit(p, EventSpeechFinal, 1, map[string]string{TagSpeaker: "agent"}, nil)
	Emit(p, EventNotifyDropped, 1, nil, nil)
	Emit(p, EventCallEnd, 12.5, map[string]string{TagReason: "stop"}, map[string]any{
		"frames_received":  int64(40),
		"frames_forwarded": int64(38),
	})

	srv := httptest.NewServer(p.Handler())
	defer srv.Close()
	res, err := srv.Client().Get(srv.URL)
	if err != nil {
		t.Fatalf("scrape: %v", err)
	}
	defer res.Body.Close()
	b, _ := io.ReadAll(res.Body)
	body := string(b)

	for _, want := range []string{
		"callscribe_calls_started_total 1",
		`callscribe_calls_ended_total{reason="stop"} 1`,
		"callscribe_active_calls 0",
		`callscribe_transcripts_total{speaker="agent"} 1`,
		`callscribe_notifications_total{result="dropped"} 1`,
		"callscribe_audio_frames_forwarded_total 38",
	} {
		if !strings.Contains(body, want) {
			t.Fatalf("expected %q in scrape output:\n%s", want, body)
		}
	}
}
