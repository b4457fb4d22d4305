// Package call drives one telephone call: it opens speech sessions on the
// start event, routes media by track, and turns final transcripts into
// history entries and notifications.
package call

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/harunnryd/callscribe/pkg/adapters/stt"
	"github.com/harunnryd/callscribe/pkg/codec"
	"github.com/harunnryd/callscribe/pkg/configutil"
	"github.com/harunnryd/callscribe/pkg/errorsx"
	"github.com/harunnryd/callscribe/pkg/frames"
	"github.com/harunnryd/callscribe/pkg/history"
	"github.com/harunnryd/callscribe/pkg/logging"
	"github.com/harunnryd/callscribe/pkg/metrics"
	"github.com/harunnryd/callscribe/pkg/notify"
	"github.com/harunnryd/callscribe/pkg/redact"
	"github.com/harunnryd/callscribe/pkg/speech"
)

var credentialSchema = configutil.Schema{
	Required:     []string{ParamWebhookAPIKey, ParamWebhookAppID},
	Optional:     []string{ParamClientID},
	AllowUnknown: true,
}

type Deps struct {
	STT      stt.Factory
	Notifier Notifier
	Observer metrics.Observer
	Logger   *slog.Logger
}

type inboxKind int

const (
	inboxFragment inboxKind = iota
	inboxSpeechClosed
)

type inboxEvent struct {
	kind  inboxKind
	frag  speech.Fragment
	track speech.Track
	cause error
}

// Controller is the per-call state machine: Idle, Active, Terminated.
// All state changes happen on the goroutine running Run.
type Controller struct {
	cfg      Config
	deps     Deps
	logger   *slog.Logger
	observer metrics.Observer

	state      atomic.Int32
	inbox      chan inboxEvent
	terminated chan struct{}
	done       chan struct{}

	callSID  string
	streamID string
	traceID  string
	creds    Credentials
	history  *history.History
	sessions map[speech.Track]*speech.Session
	live     int
	started  time.Time

	mu       sync.Mutex
	counters Counters
	final    []history.Entry
}

func NewController(cfg Config, deps Deps) *Controller {
	cfg = cfg.withDefaults()
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	observer := deps.Observer
	if observer == nil {
		observer = metrics.NoopObserver{}
	}
	return &Controller{
		cfg:        cfg,
		deps:       deps,
		logger:     logging.NewComponentLogger(logger, "call"),
		observer:   observer,
		inbox:      make(chan inboxEvent, cfg.InboxBuffer),
		terminated: make(chan struct{}),
		done:       make(chan struct{}),
		sessions:   make(map[speech.Track]*speech.Session),
		counters: Counters{
			ForwardedByTrack: make(map[speech.Track]int64),
			Dropped:          make(map[string]int64),
		},
	}
}

func (c *Controller) State() State { return State(c.state.Load()) }

// Done is closed when Run has returned.
func (c *Controller) Done() <-chan struct{} { return c.done }

// Counters returns a snapshot of the call's instrumentation.
func (c *Controller) Counters() Counters {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := c.counters
	out.ForwardedByTrack = make(map[speech.Track]int64, len(c.counters.ForwardedByTrack))
	for k, v := range c.counters.ForwardedByTrack {
		out.ForwardedByTrack[k] = v
	}
	out.Dropped = make(map[string]int64, len(c.counters.Dropped))
	for k, v := range c.counters.Dropped {
		out.Dropped[k] = v
	}
	return out
}

// History returns the conversation so far, or the final transcript once the
// call has ended.
func (c *Controller) History() []history.Entry {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.final != nil {
		return append([]history.Entry(nil), c.final...)
	}
	if c.history == nil {
		return nil
	}
	return c.history.Entries()
}

// Run consumes the call's events in arrival order until the channel is
// closed or ctx ends. Events after termination are read and ignored.
func (c *Controller) Run(ctx context.Context, events <-chan frames.Frame) error {
	defer close(c.done)
	for {
		select {
		case <-ctx.Done():
			c.terminate(frames.EndReasonShutdown)
			c.awaitSessions()
			return ctx.Err()
		case f, ok := <-events:
			if !ok {
				c.terminate(frames.EndReasonTransportClosed)
				c.awaitSessions()
				return nil
			}
			c.handleFrame(ctx, f)
		case ev := <-c.inbox:
			c.handleInbox(ev)
		}
	}
}

func (c *Controller) handleFrame(ctx context.Context, f frames.Frame) {
	if c.State() == StateTerminated {
		c.count(func(k *Counters) { k.FramesIgnored++ })
		return
	}
	switch fr := f.(type) {
	case frames.SystemFrame:
		switch fr.Name() {
		case frames.SystemCallStart:
			c.start(ctx, fr)
		case frames.SystemCallEnd:
			reason := fr.Meta()[frames.MetaReason]
			if reason == "" {
				reason = frames.EndReasonStop
			}
			c.terminate(reason)
		}
	case frames.AudioFrame:
		c.handleMedia(fr)
	case frames.ControlFrame:
		c.count(func(k *Counters) { k.ControlEvents++ })
		c.logger.Debug("control_event", slog.String("code", string(fr.Code())), slog.String("call_sid", c.callSID))
	}
}

func (c *Controller) start(ctx context.Context, f frames.SystemFrame) {
	if c.State() != StateIdle {
		c.logger.Warn("duplicate_call_start", slog.String("call_sid", c.callSID))
		return
	}
	meta := f.Meta()
	c.callSID = meta[frames.MetaCallSID]
	c.streamID = meta[frames.MetaStreamID]
	c.traceID = meta[frames.MetaTraceID]
	c.logger = c.logger.With(
		slog.String("call_sid", c.callSID),
		slog.String("stream_id", c.streamID),
		slog.String("trace_id", c.traceID),
	)

	params := f.Params()
	c.logger.Info("call_start_received",
		slog.Any("params", redact.Params(params, ParamWebhookAPIKey)),
		slog.String("topology", string(c.cfg.Topology)))

	creds, err := c.credentials(params)
	if err != nil {
		c.abort(err)
		return
	}
	c.creds = creds

	c.started = time.Now()
	c.mu.Lock()
	c.history = history.New()
	c.counters.StartedAt = c.started
	c.mu.Unlock()
	c.state.Store(int32(StateActive))
	metrics.Emit(c.observer, metrics.EventCallStart, 1, c.tags(), nil)

	for _, track := range c.tracks() {
		c.openSession(ctx, track)
	}
	if c.live == 0 {
		c.logger.Error("no_speech_session_available")
		c.terminate(EndReasonSpeechClosed)
	}
}

func (c *Controller) credentials(params map[string]string) (Credentials, error) {
	input := configutil.StringMap(params)
	if err := configutil.ValidateSettings(input, credentialSchema); err != nil {
		return Credentials{}, errorsx.Wrap(fmt.Errorf("%w: %v", ErrMissingCredentials, err), errorsx.ReasonMissingCredentials)
	}
	var creds Credentials
	if err := configutil.DecodeSettings(input, &creds); err != nil {
		return Credentials{}, errorsx.Wrap(fmt.Errorf("%w: %v", ErrMissingCredentials, err), errorsx.ReasonMissingCredentials)
	}
	if err := configutil.RequireString(c.cfg.SpeechAPIKey, "speech api key"); err != nil {
		return Credentials{}, errorsx.Wrap(fmt.Errorf("%w: %v", ErrMissingSecret, err), errorsx.ReasonMissingSecret)
	}
	creds.SpeechAPIKey = c.cfg.SpeechAPIKey
	return creds, nil
}

// abort rejects the call before any speech session exists.
func (c *Controller) abort(err error) {
	c.state.Store(int32(StateTerminated))
	close(c.terminated)
	reason := errorsx.Reason(err)
	c.logger.Error("call_aborted", slog.String("reason", string(reason)), slog.String("error", err.Error()))
	tags := c.tags()
	tags[metrics.TagReason] = string(reason)
	metrics.Emit(c.observer, metrics.EventCallAbort, 1, tags, nil)
}

func (c *Controller) tracks() []speech.Track {
	if c.cfg.Topology == TopologySplit {
		return []speech.Track{speech.TrackInbound, speech.TrackOutbound}
	}
	return []speech.Track{speech.TrackCombined}
}

func (c *Controller) openSession(ctx context.Context, track speech.Track) {
	tc := c.cfg.STT
	tc.APIKey = c.creds.SpeechAPIKey
	tc.StreamID = c.streamID
	tc.CallSID = c.callSID
	tc.TraceID = c.traceID
	tc.Track = string(track)
	tc.Channels = 1

	attr := speech.Attribution{AgentLabel: c.cfg.AgentSpeaker}
	if track != speech.TrackCombined {
		tc.Diarize = false
		attr.Fixed = speech.SpeakerCustomer
		if track == c.cfg.AgentTrack {
			attr.Fixed = speech.SpeakerAgent
		}
	}

	adapter, err := c.deps.STT(tc)
	if err != nil {
		c.logger.Error("speech_adapter_failed", slog.String("track", string(track)), slog.String("error", err.Error()))
		tags := c.tags()
		tags[metrics.TagTrack] = string(track)
		tags[metrics.TagReason] = string(errorsx.Reason(err))
		metrics.Emit(c.observer, metrics.EventSpeechClosed, 1, tags, nil)
		return
	}

	s := speech.Open(ctx, adapter, speech.Options{
		Track:       track,
		Attribution: attr,
		Logger:      c.logger,
		OnTranscript: func(frag speech.Fragment) {
			c.post(inboxEvent{kind: inboxFragment, frag: frag})
		},
		OnOpen: func(tr speech.Track) {
			tags := c.tags()
			tags[metrics.TagTrack] = string(tr)
			metrics.Emit(c.observer, metrics.EventSpeechOpen, 1, tags, nil)
		},
		OnClose: func(tr speech.Track, cause error) {
			tags := c.tags()
			tags[metrics.TagTrack] = string(tr)
			tags[metrics.TagReason] = "local"
			if cause != nil {
				tags[metrics.TagReason] = string(errorsx.Reason(cause))
			}
			metrics.Emit(c.observer, metrics.EventSpeechClosed, 1, tags, nil)
			c.post(inboxEvent{kind: inboxSpeechClosed, track: tr, cause: cause})
		},
	})
	c.sessions[track] = s
	c.live++
}

// post hands a session event to Run. It gives up once the call is over.
func (c *Controller) post(ev inboxEvent) {
	select {
	case c.inbox <- ev:
	case <-c.terminated:
	}
}

func (c *Controller) handleMedia(f frames.AudioFrame) {
	c.count(func(k *Counters) { k.FramesReceived++ })
	if c.State() != StateActive {
		c.drop(errorsx.ReasonSessionInactive)
		return
	}

	session := c.route(f.Track())
	if session == nil {
		c.drop(errorsx.ReasonUnknownTrack)
		return
	}

	data := f.RawPayload()
	if f.Encoded() != "" || len(data) == 0 {
		decoded, err := codec.Decode(f.Encoded())
		if err != nil {
			c.logger.Debug("audio_decode_failed", slog.String("error", err.Error()))
			c.drop(errorsx.Reason(err))
			return
		}
		data = decoded
	}
	c.count(func(k *Counters) { k.FramesDecoded++ })

	if !session.SendAudio(data) {
		c.drop(errorsx.ReasonSessionNotOpen)
		return
	}
	c.count(func(k *Counters) {
		k.FramesForwarded++
		k.ForwardedByTrack[session.Track()]++
	})
}

func (c *Controller) route(rawTrack string) *speech.Session {
	track, ok := speech.ParseTrack(rawTrack)
	if !ok {
		return nil
	}
	if c.cfg.Topology == TopologySplit {
		return c.sessions[track]
	}
	// A mono session cannot take both sides interleaved.
	if track != c.cfg.CombinedTrack {
		return nil
	}
	return c.sessions[speech.TrackCombined]
}

func (c *Controller) drop(reason errorsx.ReasonCode) {
	c.count(func(k *Counters) { k.Dropped[string(reason)]++ })
	tags := c.tags()
	tags[metrics.TagReason] = string(reason)
	metrics.Emit(c.observer, metrics.EventAudioDropped, 1, tags, nil)
}

func (c *Controller) handleInbox(ev inboxEvent) {
	if c.State() != StateActive {
		return
	}
	switch ev.kind {
	case inboxFragment:
		c.handleFragment(ev.frag)
	case inboxSpeechClosed:
		c.live--
		if ev.cause != nil {
			c.logger.Warn("speech_track_ended",
				slog.String("track", string(ev.track)),
				slog.String("reason", string(errorsx.Reason(ev.cause))),
				slog.Int("live_sessions", c.live))
		}
		if c.live <= 0 {
			c.terminate(EndReasonSpeechClosed)
		}
	}
}

func (c *Controller) handleFragment(frag speech.Fragment) {
	c.history.Append(string(frag.Speaker), frag.Text)
	window := c.history.RecentWindow(c.cfg.HistoryWindow)
	c.count(func(k *Counters) { k.Fragments++ })

	c.logger.Info("transcript",
		slog.String("speaker", string(frag.Speaker)),
		slog.String("track", string(frag.Track)),
		slog.String("text", redact.Text(frag.Text)))

	tags := c.tags()
	tags[metrics.TagSpeaker] = string(frag.Speaker)
	tags[metrics.TagTrack] = string(frag.Track)
	metrics.Emit(c.observer, metrics.EventSpeechFinal, 1, tags, nil)

	if c.deps.Notifier == nil {
		return
	}
	n := notify.Notification{
		Transcript:          frag.Text,
		CallSID:             c.callSID,
		ClientID:            c.creds.ClientID,
		Speaker:             string(frag.Speaker),
		ConversationHistory: window,
	}
	if c.deps.Notifier.Notify(c.creds.Target(), n) {
		c.count(func(k *Counters) { k.Dispatches++ })
	} else {
		c.count(func(k *Counters) { k.DispatchRejected++ })
	}
}

// terminate is absorbing; only the first call has an effect.
func (c *Controller) terminate(reason string) {
	prev := c.State()
	if prev == StateTerminated {
		return
	}
	c.state.Store(int32(StateTerminated))
	close(c.terminated)

	if prev == StateIdle {
		c.logger.Info("call_end_before_start", slog.String("reason", reason))
		return
	}

	for _, s := range c.sessions {
		_ = s.Close()
	}

	c.mu.Lock()
	c.final = c.history.Entries()
	c.history = nil
	c.mu.Unlock()

	snap := c.Counters()
	duration := time.Since(c.started)
	c.logger.Info("call_end",
		slog.String("reason", reason),
		slog.Int64("duration_ms", duration.Milliseconds()),
		slog.Int64("frames_received", snap.FramesReceived),
		slog.Int64("frames_forwarded", snap.FramesForwarded),
		slog.Int64("frames_dropped", snap.DroppedTotal()),
		slog.Int64("fragments", snap.Fragments),
		slog.Int64("dispatches", snap.Dispatches))

	tags := c.tags()
	tags[metrics.TagReason] = reason
	metrics.Emit(c.observer, metrics.EventCallEnd, duration.Seconds(), tags, map[string]any{
		"frames_received":   snap.FramesReceived,
		"frames_forwarded":  snap.FramesForwarded,
		"frames_dropped":    snap.DroppedTotal(),
		"fragments":         snap.Fragments,
		"dispatches":        snap.Dispatches,
		"dispatch_rejected": snap.DispatchRejected,
	})
}

func (c *Controller) awaitSessions() {
	for _, s := range c.sessions {
		<-s.Done()
	}
}

func (c *Controller) count(fn func(*Counters)) {
	c.mu.Lock()
	fn(&c.counters)
	c.mu.Unlock()
}

func (c *Controller) tags() map[string]string {
	return map[string]string{
		metrics.TagCallSID:  c.callSID,
		metrics.TagStreamID: c.streamID,
		metrics.TagTraceID:  c.traceID,
		metrics.TagTopology: string(c.cfg.Topology),
	}
}
