package speech

import (
	"fmt"
	"strings"
	"time"

	"github.com/harunnryd/callscribe/pkg/adapters/stt"
)

// Track names one audio direction of a call, or the merged stream.
type Track string

const (
	TrackInbound  Track = "inbound"
	TrackOutbound Track = "outbound"
	TrackCombined Track = "combined"
)

// ParseTrack accepts media-stream track names ("inbound", "inbound_track",
// "both_tracks").
func ParseTrack(v string) (Track, bool) {
	v = strings.ToLower(strings.TrimSpace(v))
	v = strings.TrimSuffix(strings.TrimSuffix(v, "_tracks"), "_track")
	switch v {
	case "inbound":
		return TrackInbound, true
	case "outbound":
		return TrackOutbound, true
	case "combined", "both":
		return TrackCombined, true
	default:
		return "", false
	}
}

type Speaker string

const (
	SpeakerAgent    Speaker = "agent"
	SpeakerCustomer Speaker = "customer"
)

type State int32

const (
	StateConnecting State = iota
	StateOpen
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	case StateClosed:
		return "closed"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// Fragment is one finalized, non-empty utterance.
type Fragment struct {
	Track   Track
	Speaker Speaker
	// Label is the provider speaker label, -1 when none was attached.
	Label      int
	Text       string
	IsFinal    bool
	ReceivedAt time.Time
}

// Attribution maps provider results to a speaker. A non-empty Fixed speaker
// wins; otherwise the provider label is compared with AgentLabel and a
// missing label counts as 0.
type Attribution struct {
	Fixed      Speaker
	AgentLabel int
}

func (a Attribution) SpeakerFor(r stt.Result) Speaker {
	if a.Fixed != "" {
		return a.Fixed
	}
	if r.SpeakerOr(0) == a.AgentLabel {
		return SpeakerAgent
	}
	return SpeakerCustomer
}
