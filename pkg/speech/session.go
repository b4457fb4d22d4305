// Package speech runs one streaming recognition connection per audio track.
package speech

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/harunnryd/callscribe/pkg/adapters/stt"
	"github.com/harunnryd/callscribe/pkg/errorsx"
	"github.com/harunnryd/callscribe/pkg/logging"
	"github.com/harunnryd/callscribe/pkg/redact"
)

type Options struct {
	Track       Track
	Attribution Attribution
	Logger      *slog.Logger
	// OnTranscript receives final fragments. It may be replaced later with
	// Session.OnTranscript.
	OnTranscript func(Fragment)
	// OnOpen runs once the provider handshake succeeded.
	OnOpen func(track Track)
	// OnClose runs once when the session is fully closed. cause is nil for
	// a local Close and carries a reason code otherwise.
	OnClose func(track Track, cause error)
}

// Session owns one provider connection. States only move forward:
// Connecting, Open, Closed.
type Session struct {
	track   Track
	attr    Attribution
	adapter stt.StreamingSTT
	logger  *slog.Logger
	onOpen  func(Track)
	onClose func(Track, error)

	cancel context.CancelFunc
	done   chan struct{}

	mu    sync.Mutex
	state State
	local bool
	sink  func(Fragment)
	cause error
}

// Open starts connecting in the background and returns immediately in the
// Connecting state.
func Open(ctx context.Context, adapter stt.StreamingSTT, opts Options) *Session {
	if ctx == nil {
		ctx = context.Background()
	}
	logger := opts.Logger
	if logger == nil {
		logger = logging.NewComponentLogger(slog.Default(), "speech")
	}
	runCtx, cancel := context.WithCancel(ctx)
	s := &Session{
		track:   opts.Track,
		attr:    opts.Attribution,
		adapter: adapter,
		logger:  logger.With(slog.String("track", string(opts.Track)), slog.String("adapter", adapter.Name())),
		onOpen:  opts.OnOpen,
		onClose: opts.OnClose,
		cancel:  cancel,
		done:    make(chan struct{}),
		state:   StateConnecting,
		sink:    opts.OnTranscript,
	}
	go s.run(runCtx)
	return s
}

func (s *Session) Track() Track { return s.track }

func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Done is closed after the adapter has been released.
func (s *Session) Done() <-chan struct{} { return s.done }

// Cause returns why the session closed, nil while running or after a local Close.
func (s *Session) Cause() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cause
}

// OnTranscript registers the fragment sink.
func (s *Session) OnTranscript(fn func(Fragment)) {
	s.mu.Lock()
	s.sink = fn
	s.mu.Unlock()
}

// SendAudio forwards raw audio when Open and reports whether it did.
// Frames are never buffered.
func (s *Session) SendAudio(data []byte) bool {
	s.mu.Lock()
	open := s.state == StateOpen
	s.mu.Unlock()
	if !open {
		return false
	}
	if err := s.adapter.SendAudio(data); err != nil {
		s.logger.Debug("speech_send_failed", slog.String("reason", string(errorsx.Reason(err))), slog.String("error", err.Error()))
		return false
	}
	return true
}

// Close asks the provider connection to shut down. Closing twice is a no-op.
func (s *Session) Close() error {
	s.mu.Lock()
	if s.state == StateClosed {
		s.mu.Unlock()
		return nil
	}
	wasOpen := s.state == StateOpen
	s.state = StateClosed
	s.local = true
	s.mu.Unlock()

	s.cancel()
	if wasOpen {
		_ = s.adapter.Close()
	}
	return nil
}

func (s *Session) run(ctx context.Context) {
	defer close(s.done)

	err := s.adapter.Start(ctx)

	s.mu.Lock()
	if err != nil {
		local := s.local
		s.state = StateClosed
		s.mu.Unlock()
		_ = s.adapter.Close()
		if local {
			s.finish(nil)
			return
		}
		s.logger.Error("speech_open_failed", slog.String("error", err.Error()))
		s.finish(errorsx.Wrap(err, errorsx.ReasonSTTConnect))
		return
	}
	if s.state == StateClosed {
		s.mu.Unlock()
		_ = s.adapter.Close()
		s.finish(nil)
		return
	}
	s.state = StateOpen
	s.mu.Unlock()
	s.logger.Info("speech_open")
	if s.onOpen != nil {
		s.onOpen(s.track)
	}

	for r := range s.adapter.Results() {
		s.handle(r)
	}

	s.mu.Lock()
	local := s.local
	s.state = StateClosed
	s.mu.Unlock()
	_ = s.adapter.Close()

	if local {
		s.logger.Info("speech_closed")
		s.finish(nil)
		return
	}
	s.logger.Warn("speech_closed_by_provider")
	s.finish(errorsx.New(errorsx.ReasonSTTClosed, "speech connection for %s track closed by provider", s.track))
}

func (s *Session) finish(cause error) {
	s.cancel()
	s.mu.Lock()
	s.cause = cause
	s.mu.Unlock()
	if s.onClose != nil {
		s.onClose(s.track, cause)
	}
}

func (s *Session) handle(r stt.Result) {
	if !r.IsFinal {
		return
	}
	text := r.Text()
	if text == "" {
		return
	}
	frag := Fragment{
		Track:      s.track,
		Speaker:    s.attr.SpeakerFor(r),
		Label:      r.SpeakerOr(-1),
		Text:       text,
		IsFinal:    true,
		ReceivedAt: time.Now(),
	}
	s.logger.Debug("speech_final", slog.String("speaker", string(frag.Speaker)), slog.String("text", redact.Text(text)))

	s.mu.Lock()
	sink := s.sink
	s.mu.Unlock()
	if sink != nil {
		sink(frag)
	}
}
