package stt

import (
	"encoding/json"
	"strings"
)

// Result is one transcript event reported by a vendor.
type Result struct {
	Type        string
	IsFinal     bool
	SpeechFinal bool
	Transcript  string
	// Speaker is the diarization label of the first word, nil when absent.
	Speaker *int
}

// Text returns the trimmed transcript.
func (r Result) Text() string {
	return strings.TrimSpace(r.Transcript)
}

// SpeakerOr returns the speaker label or fallback when none was attached.
func (r Result) SpeakerOr(fallback int) int {
	if r.Speaker == nil {
		return fallback
	}
	return *r.Speaker
}

type wireResult struct {
	Type        string `json:"type"`
	IsFinal     bool   `json:"is_final"`
	SpeechFinal bool   `json:"speech_final"`
	Channel     struct {
		Alternatives []struct {
			Transcript string `json:"transcript"`
			Words      []struct {
				Speaker *int `json:"speaker"`
			} `json:"words"`
		} `json:"alternatives"`
	} `json:"channel"`
}

// ParseResult decodes a provider transcript message of the shape
// {type, is_final, channel:{alternatives:[{transcript, words:[{speaker}]}]}}.
// Only the first alternative is used.
func ParseResult(data []byte) (Result, error) {
	var w wireResult
	if err := json.Unmarshal(data, &w); err != nil {
		return Result{}, err
	}
	out := Result{
		Type:        w.Type,
		IsFinal:     w.IsFinal,
		SpeechFinal: w.SpeechFinal,
	}
	if len(w.Channel.Alternatives) == 0 {
		return out, nil
	}
	alt := w.Channel.Alternatives[0]
	out.Transcript = alt.Transcript
	if len(alt.Words) > 0 && alt.Words[0].Speaker != nil {
		v := *alt.Words[0].Speaker
		out.Speaker = &v
	}
	return out, nil
}
