package twilio

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/harunnryd/callscribe/pkg/errorsx"
	"github.com/harunnryd/callscribe/pkg/frames"
	"github.com/harunnryd/callscribe/pkg/logging"
	"github.com/harunnryd/callscribe/pkg/transports"
)

const (
	defaultSampleRate = 8000
	defaultEncoding   = "audio/x-mulaw"
)

type Config struct {
	ServerAddr              string   `mapstructure:"server_addr"`
	PublicURL               string   `mapstructure:"public_url"`
	AuthToken               string   `mapstructure:"auth_token"`
	AccountSID              string   `mapstructure:"account_sid"`
	VoicePath               string   `mapstructure:"voice_path"`
	WebsocketPath           string   `mapstructure:"ws_path"`
	ValidateSignature       *bool    `mapstructure:"validate_signature"`
	ValidateStreamSignature bool     `mapstructure:"validate_stream_signature"`
	StreamTrack             string   `mapstructure:"stream_track"`
	BridgeDial              bool     `mapstructure:"bridge_dial"`
	VoiceGreeting           string   `mapstructure:"voice_greeting"`
	AllowAnyOrigin          bool     `mapstructure:"allow_any_origin"`
	AllowedOrigins          []string `mapstructure:"allowed_origins"`
	ForwardParameters       []string `mapstructure:"forward_parameters"`
	EventBuffer             int      `mapstructure:"event_buffer"`
}

func (c Config) withDefaults() Config {
	if c.ServerAddr == "" {
		c.ServerAddr = ":8080"
	}
	if c.VoicePath == "" {
		c.VoicePath = "/voice"
	}
	if c.WebsocketPath == "" {
		c.WebsocketPath = "/ws"
	}
	if c.StreamTrack == "" {
		c.StreamTrack = "inbound_track"
	}
	if c.ValidateSignature == nil {
		v := c.AuthToken != ""
		c.ValidateSignature = &v
	}
	if !c.AllowAnyOrigin && len(c.AllowedOrigins) == 0 {
		c.AllowAnyOrigin = true
	}
	if len(c.ForwardParameters) == 0 {
		c.ForwardParameters = []string{"clientId", "base44_app_id", "generate_agent_tips_api_key"}
	}
	if c.EventBuffer <= 0 {
		c.EventBuffer = 256
	}
	return c
}

func (c Config) validateSignature() bool {
	return c.ValidateSignature != nil && *c.ValidateSignature && c.AuthToken != ""
}

// Transport serves the voice webhook and the media-stream WebSocket. Every
// accepted stream becomes one ordered frame channel handed to the acceptor.
type Transport struct {
	cfg      Config
	router   chi.Router
	server   *http.Server
	upgrader websocket.Upgrader
	logger   *slog.Logger
	pts      *frames.PTSGen

	ctx      context.Context
	acceptor transports.Acceptor

	mu    sync.Mutex
	conns map[*websocket.Conn]struct{}
	wg    sync.WaitGroup

	draining atomic.Bool
}

func New(cfg Config) *Transport {
	cfg = cfg.withDefaults()
	t := &Transport{
		cfg: cfg,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
		},
		logger: logging.NewComponentLogger(slog.Default(), "twilio_transport"),
		pts:    frames.NewPTSGen(),
		ctx:    context.Background(),
		conns:  make(map[*websocket.Conn]struct{}),
	}
	t.upgrader.CheckOrigin = t.checkOrigin
	t.router = t.routes()
	return t
}

func (t *Transport) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Heartbeat("/health"))
	r.Get(t.cfg.VoicePath, t.handleVoice)
	r.Post(t.cfg.VoicePath, t.handleVoice)
	r.Get(t.cfg.WebsocketPath, t.ServeHTTP)
	return r
}

func (t *Transport) Name() string { return "twilio" }

// Handle mounts an extra handler on the transport's router.
func (t *Transport) Handle(pattern string, h http.Handler) {
	t.router.Handle(pattern, h)
}

// Router exposes the HTTP handler, mainly for tests.
func (t *Transport) Router() http.Handler { return t.router }

func (t *Transport) ReadyFields() map[string]any {
	return map[string]any{
		"webhook_url": t.voiceWebhookURL(),
		"stream_url":  t.streamURL(nil),
		"track":       t.cfg.StreamTrack,
	}
}

func (t *Transport) Start(ctx context.Context, acceptor transports.Acceptor) error {
	if ctx == nil {
		ctx = context.Background()
	}
	if acceptor == nil {
		return errors.New("acceptor required")
	}
	t.mu.Lock()
	t.ctx = ctx
	t.acceptor = acceptor
	t.mu.Unlock()

	t.server = &http.Server{
		Addr:              t.cfg.ServerAddr,
		ReadHeaderTimeout: 5 * time.Second,
		Handler:           t.router,
	}
	go func() {
		<-ctx.Done()
		_ = t.server.Close()
	}()
	go func() {
		if err := t.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			t.logger.Error("twilio_transport_server_error", slog.String("error", err.Error()))
		}
	}()
	return nil
}

// Stop refuses new streams, closes open ones and waits for their acceptors.
func (t *Transport) Stop() error {
	t.draining.Store(true)
	if t.server != nil {
		_ = t.server.Close()
	}
	t.mu.Lock()
	for conn := range t.conns {
		_ = conn.Close()
	}
	t.mu.Unlock()
	t.wg.Wait()
	return nil
}

// ServeHTTP upgrades one media stream and relays its events.
func (t *Transport) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if t.draining.Load() {
		w.WriteHeader(http.StatusServiceUnavailable)
		return
	}
	if !websocket.IsWebSocketUpgrade(r) {
		http.Error(w, "Expecting WebSocket connection", http.StatusBadRequest)
		return
	}
	if t.cfg.ValidateStreamSignature && t.cfg.AuthToken != "" && !t.validateTwilioRequest(r, nil) {
		t.logger.Warn("twilio_stream_invalid_signature", slog.String("reason_code", string(errorsx.ReasonTransportInvalidSignature)))
		w.WriteHeader(http.StatusForbidden)
		return
	}

	t.mu.Lock()
	acceptor := t.acceptor
	ctx := t.ctx
	t.mu.Unlock()
	if acceptor == nil {
		w.WriteHeader(http.StatusServiceUnavailable)
		return
	}

	conn, err := t.upgrader.Upgrade(w, r, nil)
	if err != nil {
		t.logger.Warn("twilio_upgrade_failed", slog.String("error", err.Error()))
		return
	}

	t.mu.Lock()
	t.conns[conn] = struct{}{}
	t.wg.Add(1)
	t.mu.Unlock()
	defer func() {
		_ = conn.Close()
		t.mu.Lock()
		delete(t.conns, conn)
		t.mu.Unlock()
		t.wg.Done()
	}()

	events := make(chan frames.Frame, t.cfg.EventBuffer)
	accepted := make(chan struct{})
	go func() {
		defer close(accepted)
		acceptor.Accept(ctx, events)
	}()

	t.readLoop(conn, events, accepted)
	close(events)
	<-accepted
}

type streamState struct {
	streamID   string
	callSID    string
	traceID    string
	sampleRate int
	channels   int
	encoding   string
}

func (st *streamState) meta() map[string]string {
	meta := map[string]string{frames.MetaSource: "transport"}
	if st.callSID != "" {
		meta[frames.MetaCallSID] = st.callSID
	}
	if st.traceID != "" {
		meta[frames.MetaTraceID] = st.traceID
	}
	return meta
}

func (t *Transport) readLoop(conn *websocket.Conn, events chan<- frames.Frame, accepted <-chan struct{}) {
	st := &streamState{traceID: uuid.NewString(), sampleRate: defaultSampleRate, channels: 1, encoding: defaultEncoding}
	logger := t.logger.With(slog.String("trace_id", st.traceID))
	defer func() {
		if st.streamID != "" {
			t.pts.Forget(st.streamID)
		}
	}()

	push := func(f frames.Frame) bool {
		select {
		case events <- f:
			return true
		case <-accepted:
			return false
		}
	}

	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			reason := frames.EndReasonTransportClosed
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) && !t.draining.Load() {
				reason = frames.EndReasonTransportError
				logger.Warn("twilio_stream_read_error",
					slog.String("reason_code", string(errorsx.ReasonTransportRead)),
					slog.String("error", err.Error()))
			}
			if t.draining.Load() {
				reason = frames.EndReasonShutdown
			}
			meta := st.meta()
			meta[frames.MetaReason] = reason
			push(frames.NewSystemFrame(st.streamID, t.pts.Next(st.streamID), frames.SystemCallEnd, meta))
			return
		}

		var evt TwilioEvent
		if err := json.Unmarshal(msg, &evt); err != nil {
			logger.Warn("twilio_event_decode_failed",
				slog.String("reason_code", string(errorsx.ReasonTransportRead)),
				slog.String("error", err.Error()))
			continue
		}

		switch evt.Event {
		case "connected":
			logger.Debug("twilio_stream_connected", slog.String("protocol", evt.Protocol))
		case "start":
			if evt.Start == nil {
				continue
			}
			st.streamID = firstNonEmpty(evt.Start.StreamID, evt.StreamSID)
			st.callSID = evt.Start.CallSID
			if mf := evt.Start.MediaFormat; mf != nil {
				if mf.SampleRate > 0 {
					st.sampleRate = mf.SampleRate
				}
				if mf.Channels > 0 {
					st.channels = mf.Channels
				}
				if mf.Encoding != "" {
					st.encoding = mf.Encoding
				}
			}
			logger = logger.With(slog.String("call_sid", st.callSID), slog.String("stream_id", st.streamID))
			logger.Info("twilio_stream_start", slog.Any("tracks", evt.Start.Tracks))

			meta := st.meta()
			meta[frames.MetaTracks] = strings.Join(evt.Start.Tracks, ",")
			meta[frames.MetaEncoding] = st.encoding
			meta[frames.MetaSampleRate] = strconv.Itoa(st.sampleRate)
			for k, v := range evt.Start.CustomParameters {
				meta[frames.MetaParamPrefix+k] = v
			}
			if !push(frames.NewSystemFrame(st.streamID, t.pts.Next(st.streamID), frames.SystemCallStart, meta)) {
				return
			}
		case "media":
			if evt.Media == nil {
				continue
			}
			meta := st.meta()
			meta[frames.MetaTrack] = evt.Media.Track
			meta[frames.MetaChunk] = evt.Media.Chunk
			meta[frames.MetaTimestamp] = evt.Media.Timestamp
			af := frames.NewEncodedAudioFrame(st.streamID, t.pts.Next(st.streamID), evt.Media.Payload, st.sampleRate, st.channels, meta)
			if !push(af) {
				return
			}
		case "dtmf":
			if evt.DTMF == nil {
				continue
			}
			meta := st.meta()
			meta[frames.MetaDigit] = evt.DTMF.Digit
			meta[frames.MetaTrack] = evt.DTMF.Track
			if !push(frames.NewControlFrame(st.streamID, t.pts.Next(st.streamID), frames.ControlDTMF, meta)) {
				return
			}
		case "mark":
			meta := st.meta()
			if evt.Mark != nil {
				meta[frames.MetaMarkName] = evt.Mark.Name
			}
			if !push(frames.NewControlFrame(st.streamID, t.pts.Next(st.streamID), frames.ControlMark, meta)) {
				return
			}
		case "stop":
			logger.Info("twilio_stream_stop")
			meta := st.meta()
			meta[frames.MetaReason] = frames.EndReasonStop
			push(frames.NewSystemFrame(st.streamID, t.pts.Next(st.streamID), frames.SystemCallEnd, meta))
			return
		default:
			logger.Debug("twilio_unknown_event", slog.String("event", evt.Event))
		}
	}
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

// Dial places an outbound call using Twilio REST API.
func (t *Transport) Dial(ctx context.Context, to, from, url string) (string, error) {
	dialer := NewDialer(t.cfg)
	return dialer.Dial(ctx, to, from, url)
}

// DialWithOptions places an outbound call using Twilio REST API with options.
func (t *Transport) DialWithOptions(ctx context.Context, to, from, url string, opts transports.DialOptions) (string, error) {
	dialer := NewDialer(t.cfg)
	return dialer.DialWithOptions(ctx, to, from, url, opts)
}

func (t *Transport) checkOrigin(r *http.Request) bool {
	if t.cfg.AllowAnyOrigin {
		return true
	}
	origin := strings.TrimSpace(r.Header.Get("Origin"))
	if origin == "" {
		return true
	}
	origin = strings.TrimRight(origin, "/")
	originHost := strings.TrimPrefix(origin, "https://")
	originHost = strings.TrimPrefix(originHost, "http://")
	for _, allowed := range t.cfg.AllowedOrigins {
		a := strings.TrimSpace(allowed)
		if a == "" {
			continue
		}
		a = strings.TrimRight(a, "/")
		if strings.HasPrefix(a, "http://") || strings.HasPrefix(a, "https://") {
			if strings.EqualFold(a, origin) {
				return true
			}
			continue
		}
		if strings.EqualFold(a, originHost) {
			return true
		}
	}
	return false
}

var _ transports.Transport = (*Transport)(nil)
var _ transports.RouteRegistrar = (*Transport)(nil)
