package stt

import (
	"context"
)

// StreamingSTT defines the contract for any STT vendor implementation.
type StreamingSTT interface {
	// Name returns adapter name for logging/metrics.
	Name() string
	// Start opens the vendor connection and returns once the handshake
	// succeeded or failed.
	Start(ctx context.Context) error
	// Close shuts down the STT connection. Safe to call more than once.
	Close() error
	// SendAudio writes raw audio bytes to the vendor.
	SendAudio(data []byte) error
	// Results returns transcript events. The channel is closed when the
	// vendor connection ends, whichever side ended it.
	Results() <-chan Result
}

// Factory builds an adapter for one audio track.
type Factory func(cfg TrackConfig) (StreamingSTT, error)

// TrackConfig contains vendor-agnostic configuration for one audio track.
type TrackConfig struct {
	APIKey     string
	StreamID   string
	CallSID    string
	TraceID    string
	Track      string
	Model      string
	Language   string
	Encoding   string
	SampleRate int
	Channels   int
	Punctuate  bool
	Diarize    bool
	Interim    bool
	KeepAlive  bool
}
