package deepgram

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"github.com/harunnryd/callscribe/pkg/adapters/stt"
	"github.com/harunnryd/callscribe/pkg/errorsx"
	"github.com/harunnryd/callscribe/pkg/logging"

	msginterfaces "github.com/deepgram/deepgram-go-sdk/v3/pkg/api/listen/v1/websocket/interfaces"
	interfaces "github.com/deepgram/deepgram-go-sdk/v3/pkg/client/interfaces"
	client "github.com/deepgram/deepgram-go-sdk/v3/pkg/client/listen"
)

const (
	defaultModel      = "nova-3"
	defaultLanguage   = "de"
	defaultEncoding   = "mulaw"
	defaultSampleRate = 8000
)

type StreamingSTT struct {
	cfg        stt.TrackConfig
	dgClient   *client.WSCallback
	out        chan stt.Result
	ctx        context.Context
	cancel     context.CancelFunc
	pipeReader *io.PipeReader
	pipeWriter *io.PipeWriter
	logger     *slog.Logger

	mu         sync.Mutex
	finished   bool
	metaLogged bool
	stopOnce   sync.Once
}

// New builds a live transcription adapter for one track. Zero values in cfg
// fall back to telephony defaults (nova-3, de, mulaw, 8 kHz mono).
func New(cfg stt.TrackConfig) *StreamingSTT {
	if cfg.Model == "" {
		cfg.Model = defaultModel
	}
	if cfg.Language == "" {
		cfg.Language = defaultLanguage
	}
	if cfg.Encoding == "" {
		cfg.Encoding = defaultEncoding
	}
	if cfg.SampleRate == 0 {
		cfg.SampleRate = defaultSampleRate
	}
	if cfg.Channels == 0 {
		cfg.Channels = 1
	}

	logger := logging.NewComponentLogger(slog.Default(), "deepgram_stt").With(
		slog.String("stream_id", cfg.StreamID),
		slog.String("call_sid", cfg.CallSID),
		slog.String("track", cfg.Track),
	)

	return &StreamingSTT{
		cfg:    cfg,
		out:    make(chan stt.Result, 256),
		logger: logger,
	}
}

// NewFactory adapts New to the stt.Factory signature.
func NewFactory() stt.Factory {
	return func(cfg stt.TrackConfig) (stt.StreamingSTT, error) {
		if cfg.APIKey == "" {
			return nil, errorsx.New(errorsx.ReasonMissingSecret, "deepgram api key is empty")
		}
		return New(cfg), nil
	}
}

func (s *StreamingSTT) Name() string { return "deepgram_streaming" }

func (s *StreamingSTT) Start(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	s.ctx, s.cancel = context.WithCancel(ctx)

	s.pipeReader, s.pipeWriter = io.Pipe()

	clientOptions := &interfaces.ClientOptions{
		EnableKeepAlive: s.cfg.KeepAlive,
	}
	transcriptOptions := s.transcriptionOptions()

	s.logger.Info("initializing deepgram connection",
		slog.String("model", s.cfg.Model),
		slog.String("language", s.cfg.Language),
		slog.Int("channels", s.cfg.Channels),
		slog.Bool("diarize", s.cfg.Diarize),
		slog.Int("sample_rate", s.cfg.SampleRate))

	cb := &callback{parent: s}

	dgClient, err := client.NewWSUsingCallback(s.ctx, s.cfg.APIKey, clientOptions, transcriptOptions, cb)
	if err != nil {
		s.logger.Error("deepgram_client_create_error", slog.String("error", err.Error()))
		s.finish()
		return errorsx.Wrap(fmt.Errorf("deepgram client: %w", err), errorsx.ReasonSTTConnect)
	}
	s.dgClient = dgClient

	if connected := s.dgClient.Connect(); !connected {
		s.logger.Error("deepgram_connect_failed")
		s.finish()
		return errorsx.New(errorsx.ReasonSTTConnect, "deepgram connection failed")
	}

	s.logger.Info("deepgram_connected")

	go func() {
		err := s.dgClient.Stream(s.pipeReader)
		if err != nil && s.ctx.Err() == nil {
			s.logger.Error("deepgram_stream_error", slog.String("error", err.Error()))
		}
		s.finish()
	}()

	return nil
}

func (s *StreamingSTT) transcriptionOptions() *interfaces.LiveTranscriptionOptions {
	return &interfaces.LiveTranscriptionOptions{
		Model:          s.cfg.Model,
		Language:       s.cfg.Language,
		Encoding:       s.cfg.Encoding,
		SampleRate:     s.cfg.SampleRate,
		Channels:       s.cfg.Channels,
		Punctuate:      s.cfg.Punctuate,
		Diarize:        s.cfg.Diarize,
		InterimResults: s.cfg.Interim,
	}
}

func (s *StreamingSTT) Close() error {
	s.stopOnce.Do(func() {
		s.logger.Info("closing deepgram connection")
		if s.cancel != nil {
			s.cancel()
		}
		if s.pipeWriter != nil {
			_ = s.pipeWriter.Close()
		}
		if s.dgClient != nil {
			s.dgClient.Stop()
		}
	})
	s.finish()
	return nil
}

func (s *StreamingSTT) SendAudio(data []byte) error {
	s.mu.Lock()
	finished := s.finished
	s.mu.Unlock()
	if s.pipeWriter == nil || finished {
		return errorsx.New(errorsx.ReasonSTTSend, "deepgram stream not open")
	}
	if _, err := s.pipeWriter.Write(data); err != nil {
		s.logger.Debug("failed to send audio to deepgram", slog.String("error", err.Error()))
		return errorsx.Wrap(err, errorsx.ReasonSTTSend)
	}
	return nil
}

func (s *StreamingSTT) Results() <-chan stt.Result { return s.out }

func (s *StreamingSTT) emit(r stt.Result) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.finished {
		return
	}
	select {
	case s.out <- r:
	default:
		s.logger.Warn("deepgram_out_channel_full")
	}
}

// finish closes the results channel exactly once.
func (s *StreamingSTT) finish() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.finished {
		return
	}
	s.finished = true
	close(s.out)
}

// --- Callback Implementation ---

type callback struct {
	parent *StreamingSTT
}

func (c *callback) Open(or *msginterfaces.OpenResponse) error {
	c.parent.logger.Info("deepgram_connection_opened")
	return nil
}

func (c *callback) Message(mr *msginterfaces.MessageResponse) error {
	raw, err := json.Marshal(mr)
	if err != nil {
		c.parent.logger.Warn("deepgram_message_encode_failed", slog.String("error", err.Error()))
		return nil
	}
	res, err := stt.ParseResult(raw)
	if err != nil {
		c.parent.logger.Warn("deepgram_message_parse_failed", slog.String("error", err.Error()))
		return nil
	}
	c.parent.logger.Debug("transcript_received",
		slog.Bool("is_final", res.IsFinal),
		slog.Int("chars", len(res.Transcript)))
	c.parent.emit(res)
	return nil
}

func (c *callback) Metadata(md *msginterfaces.MetadataResponse) error {
	c.parent.mu.Lock()
	first := !c.parent.metaLogged
	c.parent.metaLogged = true
	c.parent.mu.Unlock()
	if first {
		c.parent.logger.Info("deepgram_metadata_received", slog.String("request_id", md.RequestID))
	}
	return nil
}

func (c *callback) SpeechStarted(ssr *msginterfaces.SpeechStartedResponse) error {
	return nil
}

func (c *callback) UtteranceEnd(ur *msginterfaces.UtteranceEndResponse) error {
	return nil
}

func (c *callback) Close(cr *msginterfaces.CloseResponse) error {
	c.parent.logger.Info("deepgram_connection_closed")
	c.parent.finish()
	return nil
}

func (c *callback) Error(er *msginterfaces.ErrorResponse) error {
	c.parent.logger.Error("deepgram_error",
		slog.String("error_code", er.ErrCode),
		slog.String("error_message", er.ErrMsg))
	c.parent.finish()
	return nil
}

func (c *callback) UnhandledEvent(byData []byte) error {
	c.parent.logger.Debug("deepgram_unhandled_event", slog.Int("bytes", len(byData)))
	return nil
}

var _ stt.StreamingSTT = (*StreamingSTT)(nil)
