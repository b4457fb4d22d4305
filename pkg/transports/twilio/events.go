package twilio

// TwilioEvent is one JSON message of a Twilio media stream.
type TwilioEvent struct {
	Event          string       `json:"event"`
	SequenceNumber string       `json:"sequenceNumber,omitempty"`
	StreamSID      string       `json:"streamSid,omitempty"`
	Protocol       string       `json:"protocol,omitempty"`
	Version        string       `json:"version,omitempty"`
	Start          *TwilioStart `json:"start,omitempty"`
	Media          *TwilioMedia `json:"media,omitempty"`
	Mark           *TwilioMark  `json:"mark,omitempty"`
	DTMF           *TwilioDTMF  `json:"dtmf,omitempty"`
	Stop           *TwilioStop  `json:"stop,omitempty"`
}

type TwilioStart struct {
	AccountSID       string             `json:"accountSid"`
	CallSID          string             `json:"callSid"`
	StreamID         string             `json:"streamSid"`
	Tracks           []string           `json:"tracks"`
	MediaFormat      *TwilioMediaFormat `json:"mediaFormat,omitempty"`
	CustomParameters map[string]string  `json:"customParameters,omitempty"`
}

type TwilioMediaFormat struct {
	Encoding   string `json:"encoding"`
	SampleRate int    `json:"sampleRate"`
	Channels   int    `json:"channels"`
}

type TwilioMedia struct {
	Track     string `json:"track"`
	Chunk     string `json:"chunk"`
	Timestamp string `json:"timestamp"`
	Payload   string `json:"payload"`
}

type TwilioMark struct {
	Name string `json:"name"`
}

type TwilioDTMF struct {
	Track string `json:"track"`
	Digit string `json:"digit"`
}

type TwilioStop struct {
	AccountSID string `json:"accountSid"`
	CallSID    string `json:"callSid"`
}
