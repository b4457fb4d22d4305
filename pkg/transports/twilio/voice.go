package twilio

import (
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	twilioclient "github.com/twilio/twilio-go/client"
	"github.com/twilio/twilio-go/twiml"

	"github.com/harunnryd/callscribe/pkg/errorsx"
	"github.com/harunnryd/callscribe/pkg/redact"
)

const secretParameter = "generate_agent_tips_api_key"

// handleVoice answers the voice webhook with TwiML that attaches the media
// stream. Configured request parameters are forwarded as stream parameters.
func (t *Transport) handleVoice(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	if t.cfg.validateSignature() && !t.validateTwilioRequest(r, r.PostForm) {
		t.logger.Warn("twilio_invalid_signature", slog.String("reason_code", string(errorsx.ReasonTransportInvalidSignature)))
		w.WriteHeader(http.StatusForbidden)
		return
	}

	params := t.forwardedParameters(r)
	t.logger.Info("twilio_voice_webhook",
		slog.String("call_sid", r.FormValue("CallSid")),
		slog.Any("params", redact.Params(params, secretParameter)))

	doc, err := t.voiceTwiML(r, params)
	if err != nil {
		t.logger.Error("twilio_twiml_failed", slog.String("error", err.Error()))
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/xml")
	_, _ = w.Write([]byte(doc))
}

func (t *Transport) forwardedParameters(r *http.Request) map[string]string {
	params := make(map[string]string, len(t.cfg.ForwardParameters))
	for _, name := range t.cfg.ForwardParameters {
		if v := strings.TrimSpace(r.Form.Get(name)); v != "" {
			params[name] = v
		}
	}
	return params
}

func (t *Transport) voiceTwiML(r *http.Request, params map[string]string) (string, error) {
	stream := &twiml.VoiceStream{
		Url:  t.streamURL(r),
		Name: "callscribe",
	}
	for _, name := range t.cfg.ForwardParameters {
		v, ok := params[name]
		if !ok {
			continue
		}
		stream.InnerElements = append(stream.InnerElements, &twiml.VoiceParameter{Name: name, Value: v})
	}

	var verbs []twiml.Element
	if greeting := strings.TrimSpace(t.cfg.VoiceGreeting); greeting != "" {
		verbs = append(verbs, &twiml.VoiceSay{Message: greeting})
	}
	if t.cfg.StreamTrack == "both_tracks" {
		stream.Track = "both_tracks"
		verbs = append(verbs, &twiml.VoiceStart{InnerElements: []twiml.Element{stream}})
		if to := strings.TrimSpace(r.Form.Get("To")); t.cfg.BridgeDial && to != "" {
			verbs = append(verbs, &twiml.VoiceDial{Number: to})
		}
	} else {
		verbs = append(verbs, &twiml.VoiceConnect{InnerElements: []twiml.Element{stream}})
	}
	return twiml.Voice(verbs)
}

func (t *Transport) validateTwilioRequest(r *http.Request, form url.Values) bool {
	signature := r.Header.Get("X-Twilio-Signature")
	if signature == "" || t.cfg.AuthToken == "" {
		return false
	}
	params := make(map[string]string, len(form))
	for k, v := range form {
		if len(v) > 0 {
			params[k] = v[0]
		}
	}
	validator := twilioclient.NewRequestValidator(t.cfg.AuthToken)
	return validator.Validate(t.requestURL(r), params, signature)
}

func (t *Transport) streamURL(r *http.Request) string {
	if t.cfg.PublicURL != "" {
		return "wss://" + normalizePublicURL(t.cfg.PublicURL) + t.cfg.WebsocketPath
	}
	host := ""
	if r != nil {
		host = r.Host
	}
	if host == "" {
		host = strings.TrimPrefix(t.cfg.ServerAddr, ":")
	}
	return "wss://" + host + t.cfg.WebsocketPath
}

func (t *Transport) voiceWebhookURL() string {
	return webhookURL(t.cfg)
}

func webhookURL(cfg Config) string {
	if cfg.PublicURL != "" {
		return "https://" + normalizePublicURL(cfg.PublicURL) + cfg.VoicePath
	}
	addr := cfg.ServerAddr
	if addr == "" {
		addr = ":8080"
	}
	if strings.HasPrefix(addr, ":") {
		addr = "localhost" + addr
	}
	return "http://" + addr + cfg.VoicePath
}

func (t *Transport) requestURL(r *http.Request) string {
	if t.cfg.PublicURL != "" {
		base := strings.TrimRight(t.cfg.PublicURL, "/")
		if !strings.Contains(base, "://") {
			base = "https://" + base
		}
		return base + r.URL.RequestURI()
	}
	scheme := r.URL.Scheme
	if scheme == "" {
		if proto := r.Header.Get("X-Forwarded-Proto"); proto != "" {
			scheme = proto
		} else {
			scheme = "https"
		}
	}
	host := r.Host
	if host == "" {
		host = strings.TrimPrefix(t.cfg.ServerAddr, ":")
	}
	return scheme + "://" + host + r.URL.RequestURI()
}

func normalizePublicURL(v string) string {
	v = strings.TrimPrefix(v, "https://")
	v = strings.TrimPrefix(v, "http://")
	return strings.TrimRight(v, "/")
}
