package call

import (
	"errors"
	"fmt"
	"time"

	"github.com/harunnryd/callscribe/pkg/adapters/stt"
	"github.com/harunnryd/callscribe/pkg/notify"
	"github.com/harunnryd/callscribe/pkg/speech"
)

// Custom parameter names carried by the start event.
const (
	ParamClientID      = "clientId"
	ParamWebhookAPIKey = "generate_agent_tips_api_key"
	ParamWebhookAppID  = "base44_app_id"
)

// EndReasonSpeechClosed ends a call whose speech sessions all closed.
const EndReasonSpeechClosed = "speech_closed"

var (
	ErrMissingCredentials = errors.New("missing call credentials")
	ErrMissingSecret      = errors.New("missing speech api key")
)

type Topology string

const (
	// TopologyCombined opens one diarized session for the merged stream.
	TopologyCombined Topology = "combined"
	// TopologySplit opens one session per call direction.
	TopologySplit Topology = "split"
)

func ParseTopology(v string) (Topology, error) {
	switch Topology(v) {
	case "", TopologyCombined:
		return TopologyCombined, nil
	case TopologySplit:
		return TopologySplit, nil
	default:
		return "", fmt.Errorf("unknown topology %q", v)
	}
}

type State int32

const (
	StateIdle State = iota
	StateActive
	StateTerminated
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateActive:
		return "active"
	case StateTerminated:
		return "terminated"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// Credentials are fixed for the lifetime of a call.
type Credentials struct {
	ClientID      string `mapstructure:"clientId"`
	WebhookAPIKey string `mapstructure:"generate_agent_tips_api_key"`
	WebhookAppID  string `mapstructure:"base44_app_id"`
	SpeechAPIKey  string `mapstructure:"-"`
}

func (c Credentials) Target() notify.Target {
	return notify.Target{AppID: c.WebhookAppID, APIKey: c.WebhookAPIKey}
}

type Config struct {
	Topology      Topology
	HistoryWindow int
	// AgentTrack is the agent's direction in split topology.
	AgentTrack speech.Track
	// CombinedTrack is the only direction forwarded in combined topology.
	CombinedTrack speech.Track
	// AgentSpeaker is the provider label treated as agent in combined topology.
	AgentSpeaker int
	// SpeechAPIKey is the process-wide provider secret.
	SpeechAPIKey string
	InboxBuffer  int
	// STT is the template for every track config.
	STT stt.TrackConfig
}

func (c Config) withDefaults() Config {
	if c.Topology == "" {
		c.Topology = TopologyCombined
	}
	if c.HistoryWindow <= 0 {
		c.HistoryWindow = 5
	}
	if c.AgentTrack == "" {
		c.AgentTrack = speech.TrackOutbound
	}
	if c.CombinedTrack == "" {
		c.CombinedTrack = speech.TrackInbound
	}
	if c.InboxBuffer <= 0 {
		c.InboxBuffer = 64
	}
	return c
}

// Notifier issues fire-and-forget notifications.
type Notifier interface {
	Notify(target notify.Target, n notify.Notification) bool
}

// Counters is a point-in-time copy of per-call instrumentation.
type Counters struct {
	FramesReceived   int64
	FramesDecoded    int64
	FramesForwarded  int64
	FramesIgnored    int64
	ForwardedByTrack map[speech.Track]int64
	Dropped          map[string]int64
	ControlEvents    int64
	Fragments        int64
	Dispatches       int64
	DispatchRejected int64
	StartedAt        time.Time
}

func (c Counters) DroppedTotal() int64 {
	var n int64
	for _, v := range c.Dropped {
		n += v
	}
	return n
}
