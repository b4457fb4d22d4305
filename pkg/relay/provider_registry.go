package relay

import (
	"fmt"
	"os"
	"strings"

	"github.com/harunnryd/callscribe/pkg/adapters/stt"
	"github.com/harunnryd/callscribe/pkg/configutil"
	"github.com/harunnryd/callscribe/pkg/providers/deepgram"
	"github.com/harunnryd/callscribe/pkg/providers/mock"
)

// STTFactoryBuilder turns the configured vendor settings into a per-track
// adapter factory. It runs once, at engine construction.
type STTFactoryBuilder func(cfg Config) (stt.Factory, error)

type ProviderRegistry struct {
	stt map[string]STTFactoryBuilder
}

func NewProviderRegistry() *ProviderRegistry {
	return &ProviderRegistry{stt: make(map[string]STTFactoryBuilder)}
}

func (r *ProviderRegistry) RegisterSTT(name string, factory STTFactoryBuilder) {
	r.stt[strings.ToLower(strings.TrimSpace(name))] = factory
}

func (r *ProviderRegistry) BuildSTTFactory(provider string, cfg Config) (stt.Factory, error) {
	fn := r.stt[strings.ToLower(strings.TrimSpace(provider))]
	if fn == nil {
		return nil, fmt.Errorf("stt provider not registered: %s", provider)
	}
	return fn(cfg)
}

// speechSettings are the vendors.stt.settings keys shared by every provider.
type speechSettings struct {
	APIKey     string `mapstructure:"api_key"`
	Model      string `mapstructure:"model"`
	Language   string `mapstructure:"language"`
	Encoding   string `mapstructure:"encoding"`
	SampleRate *int   `mapstructure:"sample_rate"`
	Punctuate  *bool  `mapstructure:"punctuate"`
	Diarize    *bool  `mapstructure:"diarize"`
	Interim    *bool  `mapstructure:"interim"`
	KeepAlive  *bool  `mapstructure:"keep_alive"`
}

type mockSTTSettings struct {
	Transcript string `mapstructure:"transcript"`
	Speaker    *int   `mapstructure:"speaker"`
}

var speechKeys = []string{"api_key", "model", "language", "encoding", "sample_rate", "punctuate", "diarize", "interim", "keep_alive"}

// RegisterDefaultProviders wires the deepgram and mock speech providers.
func RegisterDefaultProviders(reg *ProviderRegistry) {
	reg.RegisterSTT("deepgram", func(cfg Config) (stt.Factory, error) {
		if err := validateSettings("vendors.stt.settings", cfg.Vendors.STT.Settings, configutil.Schema{
			Optional: speechKeys,
		}); err != nil {
			return nil, err
		}
		return deepgram.NewFactory(), nil
	})

	reg.RegisterSTT("mock", func(cfg Config) (stt.Factory, error) {
		if err := validateSettings("vendors.stt.settings", cfg.Vendors.STT.Settings, configutil.Schema{
			Optional: append([]string{"transcript", "speaker"}, speechKeys...),
		}); err != nil {
			return nil, err
		}
		var settings mockSTTSettings
		if err := configutil.DecodeSettings(cfg.Vendors.STT.Settings, &settings); err != nil {
			return nil, err
		}
		template := mock.STTConfig{}
		if text := strings.TrimSpace(settings.Transcript); text != "" {
			speaker := 0
			if settings.Speaker != nil {
				speaker = *settings.Speaker
			}
			template.Script = []stt.Result{mock.Final(text, speaker)}
		}
		return mock.NewSTTFactory(template).New, nil
	})
}

// speechTemplate decodes the shared speech settings into the per-track
// template, with telephony defaults.
func speechTemplate(cfg Config) (stt.TrackConfig, error) {
	var s speechSettings
	if err := configutil.DecodeSettings(cfg.Vendors.STT.Settings, &s); err != nil {
		return stt.TrackConfig{}, fmt.Errorf("vendors.stt.settings: %w", err)
	}
	return stt.TrackConfig{
		APIKey:     configutil.StringValue(s.APIKey, os.Getenv("DEEPGRAM_API_KEY")),
		Model:      configutil.StringValue(s.Model, "nova-3"),
		Language:   configutil.StringValue(s.Language, "de"),
		Encoding:   configutil.StringValue(s.Encoding, "mulaw"),
		SampleRate: configutil.IntValue(s.SampleRate, 8000),
		Channels:   1,
		Punctuate:  configutil.BoolValue(s.Punctuate, true),
		Diarize:    configutil.BoolValue(s.Diarize, true),
		Interim:    configutil.BoolValue(s.Interim, false),
		KeepAlive:  configutil.BoolValue(s.KeepAlive, true),
	}, nil
}

func validateSettings(path string, settings map[string]any, schema configutil.Schema) error {
	if err := configutil.ValidateSettings(settings, schema); err != nil {
		return fmt.Errorf("%s: %w", path, err)
	}
	return nil
}
