package speech

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/harunnryd/callscribe/pkg/adapters/stt"
	"github.com/harunnryd/callscribe/pkg/errorsx"
	"github.com/harunnryd/callscribe/pkg/providers/mock"
)

func waitState(t *testing.T, s *Session, want State) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if s.State() == want {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("state %s not reached, have %s", want, s.State())
}

type fragmentSink struct {
	mu    sync.Mutex
	items []Fragment
	got   chan struct{}
}

func newFragmentSink() *fragmentSink {
	return &fragmentSink{got: make(chan struct{}, 16)}
}

func (f *fragmentSink) add(fr Fragment) {
	f.mu.Lock()
	f.items = append(f.items, fr)
	f.mu.Unlock()
	f.got <- struct{}{}
}

func (f *fragmentSink) all() []Fragment {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Fragment(nil), f.items...)
}

func TestSendAudioDroppedUntilOpen(t *testing.T) {
	adapter := mock.NewSTT(mock.STTConfig{StartDelay: 50 * time.Millisecond})
	s := Open(context.Background(), adapter, Options{Track: TrackCombined})
	defer s.Close()

	if s.State() != StateConnecting {
		t.Fatalf("expected connecting, got %s", s.State())
	}
	if s.SendAudio([]byte{1}) {
		t.Fatalf("expected frame dropped while connecting")
	}
	waitState(t, s, StateOpen)
	if !s.SendAudio([]byte{2}) {
		t.Fatalf("expected frame forwarded once open")
	}
	chunks := adapter.Audio()
	if len(chunks) != 1 || chunks[0][0] != 2 {
		t.Fatalf("dropped frame must not be buffered, got %v", chunks)
	}
}

func TestOnlyFinalNonEmptyFragmentsReachSink(t *testing.T) {
	adapter := mock.NewSTT(mock.STTConfig{Script: []stt.Result{
		mock.Interim("Hal"),
		mock.Final("   ", 0),
		mock.Final(" Hallo ", 0),
		mock.Final("Guten Tag", 1),
	}})
	sink := newFragmentSink()
	s := Open(context.Background(), adapter, Options{Track: TrackCombined, OnTranscript: sink.add})
	defer s.Close()
	waitState(t, s, StateOpen)
	s.SendAudio([]byte{0})

	for i := 0; i < 2; i++ {
		select {
		case <-sink.got:
		case <-time.After(2 * time.Second):
			t.Fatalf("timed out waiting for fragment %d", i)
		}
	}
	got := sink.all()
	if len(got) != 2 {
		t.Fatalf("expected 2 fragments, got %d", len(got))
	}
	if got[0].Text != "Hallo" || got[0].Speaker != SpeakerAgent || got[0].Label != 0 {
		t.Fatalf("unexpected first fragment %+v", got[0])
	}
	if got[1].Speaker != SpeakerCustomer || got[1].Label != 1 {
		t.Fatalf("unexpected second fragment %+v", got[1])
	}
}

func TestFixedAttribution(t *testing.T) {
	adapter := mock.NewSTT(mock.STTConfig{Script: []stt.Result{{IsFinal: true, Transcript: "ja"}}})
	sink := newFragmentSink()
	s := Open(context.Background(), adapter, Options{
		Track:        TrackInbound,
		Attribution:  Attribution{Fixed: SpeakerCustomer},
		OnTranscript: sink.add,
	})
	defer s.Close()
	waitState(t, s, StateOpen)
	s.SendAudio([]byte{0})
	select {
	case <-sink.got:
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out")
	}
	if f := sink.all()[0]; f.Speaker != SpeakerCustomer || f.Label != -1 || f.Track != TrackInbound {
		t.Fatalf("unexpected fragment %+v", f)
	}
}

func TestCloseTwiceIsNoop(t *testing.T) {
	adapter := mock.NewSTT(mock.STTConfig{})
	closed := make(chan error, 2)
	s := Open(context.Background(), adapter, Options{
		Track:   TrackOutbound,
		OnClose: func(_ Track, cause error) { closed <- cause },
	})
	waitState(t, s, StateOpen)
	if err := s.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("second close: %v", err)
	}
	select {
	case cause := <-closed:
		if cause != nil {
			t.Fatalf("local close should have nil cause, got %v", cause)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("OnClose not called")
	}
	<-s.Done()
	if !adapter.Closed() {
		t.Fatalf("adapter not released")
	}
	if s.SendAudio([]byte{1}) {
		t.Fatalf("closed session accepted audio")
	}
	select {
	case <-closed:
		t.Fatalf("OnClose called twice")
	default:
	}
}

func TestCloseWhileConnecting(t *testing.T) {
	adapter := mock.NewSTT(mock.STTConfig{StartDelay: time.Second})
	s := Open(context.Background(), adapter, Options{Track: TrackCombined})
	if err := s.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	select {
	case <-s.Done():
	case <-time.After(2 * time.Second):
		t.Fatalf("session did not finish")
	}
	if s.State() != StateClosed || s.Cause() != nil {
		t.Fatalf("unexpected end state %s cause %v", s.State(), s.Cause())
	}
}

func TestProviderCloseReportsCause(t *testing.T) {
	adapter := mock.NewSTT(mock.STTConfig{})
	s := Open(context.Background(), adapter, Options{Track: TrackInbound})
	waitState(t, s, StateOpen)
	adapter.CloseRemote()
	<-s.Done()
	if !errorsx.HasReason(s.Cause(), errorsx.ReasonSTTClosed) {
		t.Fatalf("expected stt_closed, got %v", s.Cause())
	}
	if s.State() != StateClosed {
		t.Fatalf("expected closed")
	}
}

func TestStartFailureClosesWithoutRetry(t *testing.T) {
	adapter := mock.NewSTT(mock.STTConfig{StartErr: errors.New("401")})
	s := Open(context.Background(), adapter, Options{Track: TrackCombined})
	<-s.Done()
	if !errorsx.HasReason(s.Cause(), errorsx.ReasonSTTConnect) {
		t.Fatalf("expected stt_connect, got %v", s.Cause())
	}
	if s.SendAudio([]byte{1}) {
		t.Fatalf("failed session accepted audio")
	}
}

func TestParseTrack(t *testing.T) {
	cases := map[string]Track{
		"inbound":        TrackInbound,
		"outbound_track": TrackOutbound,
		"both_tracks":    TrackCombined,
	}
	for in, want := range cases {
		got, ok := ParseTrack(in)
		if !ok || got != want {
			t.Fatalf("ParseTrack(%q) = %q,%v", in, got, ok)
		}
	}
	if _, ok := ParseTrack("sideways"); ok {
		t.Fatalf("expected unknown track")
	}
}
