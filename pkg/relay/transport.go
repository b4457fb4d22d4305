package relay

import (
	"fmt"
	"strings"

	"github.com/harunnryd/callscribe/pkg/call"
	"github.com/harunnryd/callscribe/pkg/configutil"
	"github.com/harunnryd/callscribe/pkg/transports"
	mocktransport "github.com/harunnryd/callscribe/pkg/transports/mock"
	twiliotransport "github.com/harunnryd/callscribe/pkg/transports/twilio"
)

var twilioSchema = configutil.Schema{
	Optional: []string{
		"server_addr", "public_url", "auth_token", "account_sid", "voice_path", "ws_path",
		"validate_signature", "validate_stream_signature", "stream_track", "bridge_dial",
		"voice_greeting", "allow_any_origin", "allowed_origins", "forward_parameters", "event_buffer",
	},
}

// BuildTransport constructs the configured telephony transport.
func BuildTransport(cfg Config) (transports.Transport, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Transports.Provider)) {
	case "twilio":
		if err := validateSettings("transports.settings", cfg.Transports.Settings, twilioSchema); err != nil {
			return nil, err
		}
		var settings twiliotransport.Config
		if err := configutil.DecodeSettings(cfg.Transports.Settings, &settings); err != nil {
			return nil, fmt.Errorf("transports.settings: %w", err)
		}
		track := configutil.StringValue(settings.StreamTrack, "inbound_track")
		if track != "inbound_track" && track != "both_tracks" {
			return nil, fmt.Errorf("transports.settings.stream_track must be inbound_track or both_tracks, got %q", track)
		}
		if topo, _ := call.ParseTopology(cfg.Relay.Topology); topo == call.TopologySplit && track != "both_tracks" {
			return nil, fmt.Errorf("relay.topology split requires transports.settings.stream_track both_tracks")
		}
		return twiliotransport.New(settings), nil
	case "mock":
		return mocktransport.New(), nil
	default:
		return nil, fmt.Errorf("unsupported transport provider: %s", cfg.Transports.Provider)
	}
}
