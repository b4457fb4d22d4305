package metrics

import "time"

// Event names emitted by the relay.
const (
	EventCallStart     = "call_start"
	EventCallAbort     = "call_abort"
	EventCallEnd       = "call_end"
	EventSpeechOpen    = "stt_open"
	EventSpeechClosed  = "stt_closed"
	EventSpeechFinal   = "stt_final"
	EventAudioDropped  = "audio_dropped"
	EventNotifySent    = "notify_sent"
	EventNotifyFailed  = "notify_failed"
	EventNotifyDropped = "notify_dropped"
)

// Tag keys.
const (
	TagCallSID  = "call_sid"
	TagStreamID = "stream_id"
	TagTraceID  = "trace_id"
	TagTrack    = "track"
	TagSpeaker  = "speaker"
	TagReason   = "reason"
	TagTopology = "topology"
)

// Emit records an event stamped with the current time. A nil observer is ignored.
func Emit(obs Observer, name string, value float64, tags map[string]string, fields map[string]any) {
	if obs == nil {
		return
	}
	obs.RecordEvent(MetricsEvent{
		Name:   name,
		Time:   time.Now(),
		Value:  value,
		Tags:   tags,
		Fields: fields,
	})
}
