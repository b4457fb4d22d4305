// Package codec converts media-stream payloads to the raw bytes a speech
// provider expects.
package codec

import (
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	"github.com/harunnryd/callscribe/pkg/errorsx"
)

// ErrEmptyPayload is returned for media events that carry no audio.
var ErrEmptyPayload = errors.New("empty audio payload")

// Decode turns one base64 media payload into raw audio bytes. The bytes are
// passed through unmodified (8 kHz narrowband, mono or interleaved stereo).
// Every failure carries the audio_decode reason; callers drop the frame.
func Decode(payload string) ([]byte, error) {
	payload = strings.TrimSpace(payload)
	if payload == "" {
		return nil, errorsx.Wrap(ErrEmptyPayload, errorsx.ReasonAudioDecode)
	}
	data, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return nil, errorsx.Wrap(fmt.Errorf("decode media payload: %w", err), errorsx.ReasonAudioDecode)
	}
	if len(data) == 0 {
		return nil, errorsx.Wrap(ErrEmptyPayload, errorsx.ReasonAudioDecode)
	}
	return data, nil
}

// Encode is the inverse of Decode, used when replaying captured audio.
func Encode(data []byte) string {
	return base64.StdEncoding.EncodeToString(data)
}
