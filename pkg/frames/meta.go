package frames

// Metadata keys shared by transports and the call controller.
const (
	MetaStreamID   = "stream_id"
	MetaCallSID    = "call_sid"
	MetaTraceID    = "trace_id"
	MetaTrack      = "track"
	MetaChunk      = "chunk"
	MetaTimestamp  = "timestamp"
	MetaSource     = "source"
	MetaReason     = "reason"
	MetaSpeaker    = "speaker"
	MetaIsFinal    = "is_final"
	MetaDigit      = "digit"
	MetaMarkName   = "mark_name"
	MetaEncoding   = "encoding"
	MetaSampleRate = "sample_rate"
	MetaTracks     = "tracks"

	// MetaParamPrefix prefixes custom call parameters on call_start frames.
	MetaParamPrefix = "param_"
)

// Call end reasons.
const (
	EndReasonStop            = "stop"
	EndReasonTransportClosed = "transport_closed"
	EndReasonTransportError  = "transport_error"
	EndReasonShutdown        = "shutdown"
)
