package relay

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadConfigDefaults(t *testing.T) {
	cfg, err := LoadConfig("")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Transports.Provider != "twilio" || cfg.Vendors.STT.Provider != "deepgram" {
		t.Fatalf("unexpected providers %q/%q", cfg.Transports.Provider, cfg.Vendors.STT.Provider)
	}
	if cfg.Relay.Topology != "combined" || cfg.Relay.HistoryWindow != 5 || cfg.Relay.AgentTrack != "outbound" || cfg.Relay.CombinedTrack != "inbound" {
		t.Fatalf("unexpected relay defaults %+v", cfg.Relay)
	}
	if !strings.Contains(cfg.Notify.URLTemplate, "{app_id}") || cfg.Notify.APIKeyHeader != "api_key" {
		t.Fatalf("unexpected notify defaults %+v", cfg.Notify)
	}
	if cfg.Notify.DrainTimeoutMS != 5000 || cfg.Notify.MaxInFlight != 0 {
		t.Fatalf("unexpected notify limits %+v", cfg.Notify)
	}
	if cfg.Observability.MetricsPath != "/metrics" || cfg.Observability.LogSampleRate != 1.0 {
		t.Fatalf("unexpected observability defaults %+v", cfg.Observability)
	}
	if !cfg.Privacy.RedactPII {
		t.Fatalf("expected redaction on by default")
	}
}

func TestLoadConfigFileExpandsEnv(t *testing.T) {
	t.Setenv("TEST_DG_KEY", "dg-from-env")
	t.Setenv("TEST_PUBLIC_HOST", "calls.example.com")
	path := writeConfig(t, `
environment: staging
log_level: debug
transports:
  provider: twilio
  settings:
    public_url: "https://${TEST_PUBLIC_HOST}"
    stream_track: both_tracks
vendors:
  stt:
    provider: deepgram
    settings:
      api_key: "${TEST_DG_KEY}"
      language: en
relay:
  topology: split
  history_window: 8
  agent_track: inbound
notify:
  max_in_flight: 16
`)
	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Environment != "staging" || cfg.LogLevel != "debug" {
		t.Fatalf("unexpected top level %+v", cfg)
	}
	if got := cfg.Vendors.STT.Settings["api_key"]; got != "dg-from-env" {
		t.Fatalf("expected expanded api key, got %v", got)
	}
	if got := cfg.Transports.Settings["public_url"]; got != "https://calls.example.com" {
		t.Fatalf("expected expanded public url, got %v", got)
	}
	if cfg.Relay.Topology != "split" || cfg.Relay.HistoryWindow != 8 || cfg.Relay.AgentTrack != "inbound" {
		t.Fatalf("unexpected relay config %+v", cfg.Relay)
	}
	if cfg.Notify.MaxInFlight != 16 || cfg.Notify.DrainTimeoutMS != 5000 {
		t.Fatalf("unexpected notify config %+v", cfg.Notify)
	}
}

func TestLoadConfigEnvOverride(t *testing.T) {
	t.Setenv("CALLSCRIBE_RELAY_HISTORY_WINDOW", "10")
	t.Setenv("CALLSCRIBE_TRANSPORTS_PROVIDER", "mock")
	cfg, err := LoadConfig("")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Relay.HistoryWindow != 10 {
		t.Fatalf("expected env override, got %d", cfg.Relay.HistoryWindow)
	}
	if cfg.Transports.Provider != "mock" {
		t.Fatalf("expected mock transport, got %q", cfg.Transports.Provider)
	}
}

func TestLoadConfigRejectsInvalidValues(t *testing.T) {
	path := writeConfig(t, `
relay:
  topology: stereo
  agent_track: combined
  combined_track: both
observability:
  log_sample_rate: 2
`)
	_, err := LoadConfig(path)
	if err == nil {
		t.Fatalf("expected validation error")
	}
	for _, want := range []string{"relay.topology", "relay.agent_track", "relay.combined_track", "log_sample_rate"} {
		if !strings.Contains(err.Error(), want) {
			t.Fatalf("expected %q in %v", want, err)
		}
	}
}

func TestLoadConfigMissingFile(t *testing.T) {
	if _, err := LoadConfig(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatalf("expected read error")
	}
}

func TestSpeechTemplateDefaults(t *testing.T) {
	t.Setenv("DEEPGRAM_API_KEY", "dg-env")
	tc, err := speechTemplate(Config{})
	if err != nil {
		t.Fatalf("template: %v", err)
	}
	if tc.APIKey != "dg-env" || tc.Model != "nova-3" || tc.Language != "de" {
		t.Fatalf("unexpected template %+v", tc)
	}
	if tc.Encoding != "mulaw" || tc.SampleRate != 8000 || tc.Channels != 1 {
		t.Fatalf("unexpected audio format %+v", tc)
	}
	if !tc.Punctuate || !tc.Diarize || tc.Interim || !tc.KeepAlive {
		t.Fatalf("unexpected flags %+v", tc)
	}

	cfg := Config{Vendors: VendorsConfig{STT: VendorConfig{Settings: map[string]any{
		"api_key":     "dg-file",
		"sample_rate": "16000",
		"interim":     true,
	}}}}
	tc, err = speechTemplate(cfg)
	if err != nil {
		t.Fatalf("template: %v", err)
	}
	if tc.APIKey != "dg-file" || tc.SampleRate != 16000 || !tc.Interim {
		t.Fatalf("expected overrides, got %+v", tc)
	}
}
