package mock

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/harunnryd/callscribe/pkg/adapters/stt"
)

type STTConfig struct {
	StreamID string
	CallSID  string
	TraceID  string
	Track    string
	// Script is emitted once, on the first audio write.
	Script []stt.Result
	// StartErr makes Start fail, as a rejected handshake would.
	StartErr   error
	StartDelay time.Duration
}

type StreamingSTT struct {
	cfg     STTConfig
	out     chan stt.Result
	mu      sync.Mutex
	started bool
	closed  bool
	remote  bool
	emitted bool
	audio   [][]byte
}

func NewSTT(cfg STTConfig) *StreamingSTT {
	return &StreamingSTT{cfg: cfg, out: make(chan stt.Result, 64)}
}

func (s *StreamingSTT) Name() string { return "mock_stt" }

func (s *StreamingSTT) Start(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	if s.cfg.StartDelay > 0 {
		select {
		case <-time.After(s.cfg.StartDelay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	if s.cfg.StartErr != nil {
		return s.cfg.StartErr
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return errors.New("closed")
	}
	s.started = true
	return nil
}

func (s *StreamingSTT) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.finishLocked()
	return nil
}

// CloseRemote ends the connection as if the vendor hung up.
func (s *StreamingSTT) CloseRemote() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.remote = true
	}
	s.finishLocked()
}

func (s *StreamingSTT) finishLocked() {
	if s.closed {
		return
	}
	s.closed = true
	s.started = false
	close(s.out)
}

func (s *StreamingSTT) SendAudio(data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.started {
		return errors.New("not started")
	}
	s.audio = append(s.audio, append([]byte(nil), data...))
	if s.emitted {
		return nil
	}
	s.emitted = true
	for _, r := range s.cfg.Script {
		s.emitLocked(r)
	}
	return nil
}

// Emit pushes a result as if the vendor had sent it. Dropped once closed.
func (s *StreamingSTT) Emit(r stt.Result) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.emitLocked(r)
}

func (s *StreamingSTT) emitLocked(r stt.Result) {
	if s.closed {
		return
	}
	select {
	case s.out <- r:
	default:
	}
}

func (s *StreamingSTT) Results() <-chan stt.Result { return s.out }

// Audio returns copies of every chunk written so far.
func (s *StreamingSTT) Audio() [][]byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([][]byte, len(s.audio))
	copy(out, s.audio)
	return out
}

func (s *StreamingSTT) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func (s *StreamingSTT) ClosedRemotely() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.remote
}

func (s *StreamingSTT) Config() STTConfig { return s.cfg }

// Final builds a final transcript result carrying a speaker label.
func Final(text string, speaker int) stt.Result {
	sp := speaker
	return stt.Result{Type: "Results", IsFinal: true, Transcript: text, Speaker: &sp}
}

// Interim builds a non-final transcript result.
func Interim(text string) stt.Result {
	return stt.Result{Type: "Results", Transcript: text}
}

var _ stt.StreamingSTT = (*StreamingSTT)(nil)
