package mock

import (
	"sync"

	"github.com/harunnryd/callscribe/pkg/adapters/stt"
)

// STTFactory builds mock adapters and remembers them per track.
type STTFactory struct {
	Template STTConfig

	mu      sync.Mutex
	created []*StreamingSTT
	configs []stt.TrackConfig
}

func NewSTTFactory(template STTConfig) *STTFactory {
	return &STTFactory{Template: template}
}

func (f *STTFactory) New(tc stt.TrackConfig) (stt.StreamingSTT, error) {
	cfg := f.Template
	cfg.StreamID = tc.StreamID
	cfg.CallSID = tc.CallSID
	cfg.TraceID = tc.TraceID
	cfg.Track = tc.Track
	s := NewSTT(cfg)
	f.mu.Lock()
	f.created = append(f.created, s)
	f.configs = append(f.configs, tc)
	f.mu.Unlock()
	return s, nil
}

// Created returns every adapter built so far, in creation order.
func (f *STTFactory) Created() []*StreamingSTT {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*StreamingSTT(nil), f.created...)
}

// Configs returns the track configs passed to New.
func (f *STTFactory) Configs() []stt.TrackConfig {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]stt.TrackConfig(nil), f.configs...)
}

// ForTrack returns the most recent adapter built for track.
func (f *STTFactory) ForTrack(track string) *StreamingSTT {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := len(f.created) - 1; i >= 0; i-- {
		if f.created[i].cfg.Track == track {
			return f.created[i]
		}
	}
	return nil
}
