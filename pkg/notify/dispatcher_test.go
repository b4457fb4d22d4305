package notify

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/harunnryd/callscribe/pkg/metrics"
)

type blockingSender struct {
	mu      sync.Mutex
	release chan struct{}
	started chan Notification
	sent    []Notification
	err     error
}

func newBlockingSender() *blockingSender {
	return &blockingSender{release: make(chan struct{}), started: make(chan Notification, 16)}
}

func (s *blockingSender) Send(ctx context.Context, _ Target, n Notification) error {
	s.started <- n
	select {
	case <-s.release:
	case <-ctx.Done():
		return ctx.Err()
	}
	s.mu.Lock()
	s.sent = append(s.sent, n)
	s.mu.Unlock()
	return s.err
}

func (s *blockingSender) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sent)
}

func TestNotifyDoesNotBlockCaller(t *testing.T) {
	sender := newBlockingSender()
	d := NewDispatcher(sender, DispatcherConfig{})
	for i := 0; i < 3; i++ {
		if !d.Notify(Target{}, Notification{CallSID: "CA1"}) {
			t.Fatalf("dispatch %d rejected", i)
		}
	}
	for i := 0; i < 3; i++ {
		<-sender.started
	}
	if d.InFlight() != 3 {
		t.Fatalf("expected 3 in flight, got %d", d.InFlight())
	}
	close(sender.release)
	if err := d.Close(context.Background()); err != nil {
		t.Fatalf("close: %v", err)
	}
	if sender.count() != 3 || d.InFlight() != 0 {
		t.Fatalf("expected all delivered, got %d (in flight %d)", sender.count(), d.InFlight())
	}
}

func TestNotifyLimitDropsInsteadOfQueueing(t *testing.T) {
	sender := newBlockingSender()
	obs := metrics.NewMemoryObserver()
	d := NewDispatcher(sender, DispatcherConfig{MaxInFlight: 1, Observer: obs})

	if !d.Notify(Target{}, Notification{Transcript: "one"}) {
		t.Fatalf("first dispatch rejected")
	}
	<-sender.started
	if d.Notify(Target{}, Notification{Transcript: "two"}) {
		t.Fatalf("expected second dispatch dropped at limit")
	}
	close(sender.release)
	_ = d.Close(context.Background())

	st := d.Stats()
	if st.Dispatched != 1 || st.Dropped != 1 || st.Succeeded != 1 {
		t.Fatalf("unexpected stats %+v", st)
	}
	if obs.Count(metrics.EventNotifyDropped) != 1 || obs.Count(metrics.EventNotifySent) != 1 {
		t.Fatalf("unexpected events %+v", obs.Snapshot())
	}
}

func TestFailuresAreCountedNotPropagated(t *testing.T) {
	sender := newBlockingSender()
	sender.err = errors.New("boom")
	close(sender.release)
	d := NewDispatcher(sender, DispatcherConfig{})
	d.Notify(Target{}, Notification{})
	_ = d.Close(context.Background())
	if d.Stats().Failed != 1 {
		t.Fatalf("expected one failure, got %+v", d.Stats())
	}
}

func TestCloseTimeoutCancelsInFlight(t *testing.T) {
	sender := newBlockingSender()
	d := NewDispatcher(sender, DispatcherConfig{})
	d.Notify(Target{}, Notification{})
	<-sender.started

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := d.Close(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
	if d.InFlight() != 0 {
		t.Fatalf("expected in-flight request cancelled")
	}
	if d.Notify(Target{}, Notification{}) {
		t.Fatalf("closed dispatcher accepted a notification")
	}
}

type panicSender struct{}

func (panicSender) Send(context.Context, Target, Notification) error { panic("sink exploded") }

func TestPanickingSenderIsRecovered(t *testing.T) {
	d := NewDispatcher(panicSender{}, DispatcherConfig{})
	d.Notify(Target{}, Notification{})
	if err := d.Close(context.Background()); err != nil {
		t.Fatalf("close: %v", err)
	}
}
