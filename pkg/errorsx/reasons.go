package errorsx

// ReasonCode is a short machine-readable error reason.
type ReasonCode string

const (
	ReasonUnknown ReasonCode = "unknown"

	ReasonMissingCredentials ReasonCode = "missing_credentials"
	ReasonMissingSecret      ReasonCode = "missing_secret"

	ReasonAudioDecode     ReasonCode = "audio_decode"
	ReasonUnknownTrack    ReasonCode = "unknown_track"
	ReasonSessionNotOpen  ReasonCode = "session_not_open"
	ReasonSessionInactive ReasonCode = "session_inactive"

	ReasonSTTConnect ReasonCode = "stt_connect"
	ReasonSTTSend    ReasonCode = "stt_send"
	ReasonSTTClosed  ReasonCode = "stt_closed"

	ReasonNotifyRequest ReasonCode = "notify_request"
	ReasonNotifyStatus  ReasonCode = "notify_status"
	ReasonNotifyLimit   ReasonCode = "notify_limit"

	ReasonTransportInvalidSignature ReasonCode = "transport_invalid_signature"
	ReasonTransportRead             ReasonCode = "transport_read"
)
