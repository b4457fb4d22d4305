package relay

import (
	"errors"
	"fmt"
	"os"
	"reflect"
	"strings"

	"github.com/spf13/viper"

	"github.com/harunnryd/callscribe/pkg/call"
	"github.com/harunnryd/callscribe/pkg/speech"
)

const envPrefix = "CALLSCRIBE"

type Config struct {
	Environment   string              `mapstructure:"environment"`
	LogLevel      string              `mapstructure:"log_level"`
	LogFormat     string              `mapstructure:"log_format"`
	Transports    TransportsConfig    `mapstructure:"transports"`
	Vendors       VendorsConfig       `mapstructure:"vendors"`
	Relay         RelayConfig         `mapstructure:"relay"`
	Notify        NotifyConfig        `mapstructure:"notify"`
	Observability ObservabilityConfig `mapstructure:"observability"`
	Privacy       PrivacyConfig       `mapstructure:"privacy"`
}

type VendorConfig struct {
	Provider string         `mapstructure:"provider"`
	Settings map[string]any `mapstructure:"settings"`
}

type VendorsConfig struct {
	STT VendorConfig `mapstructure:"stt"`
}

type TransportsConfig struct {
	Provider string         `mapstructure:"provider"`
	Settings map[string]any `mapstructure:"settings"`
}

// RelayConfig shapes every call controller.
type RelayConfig struct {
	Topology      string `mapstructure:"topology"`
	HistoryWindow int    `mapstructure:"history_window"`
	AgentTrack    string `mapstructure:"agent_track"`
	CombinedTrack string `mapstructure:"combined_track"`
	AgentSpeaker  int    `mapstructure:"agent_speaker"`
	InboxBuffer   int    `mapstructure:"inbox_buffer"`
}

type NotifyConfig struct {
	URLTemplate    string `mapstructure:"url_template"`
	APIKeyHeader   string `mapstructure:"api_key_header"`
	TimeoutMS      int    `mapstructure:"timeout_ms"`
	MaxInFlight    int    `mapstructure:"max_in_flight"`
	DrainTimeoutMS int    `mapstructure:"drain_timeout_ms"`
}

type ObservabilityConfig struct {
	MetricsPath   string  `mapstructure:"metrics_path"`
	LogSampleRate float64 `mapstructure:"log_sample_rate"`
}

type PrivacyConfig struct {
	RedactPII bool `mapstructure:"redact_pii"`
}

// LoadConfig reads a YAML file when path is set, layers CALLSCRIBE_*
// environment variables over the defaults and expands ${VAR} references in
// string values.
func LoadConfig(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)

	if strings.TrimSpace(path) != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal: %w", err)
	}

	expandEnvStrings(&cfg)

	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("validate config: %w", err)
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("environment", "development")
	v.SetDefault("log_level", "info")
	v.SetDefault("log_format", "text")
	v.SetDefault("transports.provider", "twilio")
	v.SetDefault("vendors.stt.provider", "deepgram")
	v.SetDefault("relay.topology", string(call.TopologyCombined))
	v.SetDefault("relay.history_window", 5)
	v.SetDefault("relay.agent_track", string(speech.TrackOutbound))
	v.SetDefault("relay.combined_track", string(speech.TrackInbound))
	v.SetDefault("relay.agent_speaker", 0)
	v.SetDefault("relay.inbox_buffer", 64)
	v.SetDefault("notify.url_template", "https://power-dialer-pro-bc2ca247.base44.app/api/apps/{app_id}/functions/generateAgentTips")
	v.SetDefault("notify.api_key_header", "api_key")
	v.SetDefault("notify.timeout_ms", 0)
	v.SetDefault("notify.max_in_flight", 0)
	v.SetDefault("notify.drain_timeout_ms", 5000)
	v.SetDefault("observability.metrics_path", "/metrics")
	v.SetDefault("observability.log_sample_rate", 1.0)
	v.SetDefault("privacy.redact_pii", true)
}

func (c *Config) Validate() error {
	var errs []error
	if strings.TrimSpace(c.Transports.Provider) == "" {
		errs = append(errs, errors.New("transports.provider is required"))
	}
	if strings.TrimSpace(c.Vendors.STT.Provider) == "" {
		errs = append(errs, errors.New("vendors.stt.provider is required"))
	}
	if _, err := call.ParseTopology(c.Relay.Topology); err != nil {
		errs = append(errs, fmt.Errorf("relay.topology: %w", err))
	}
	if tr, ok := speech.ParseTrack(c.Relay.AgentTrack); !ok || tr == speech.TrackCombined {
		errs = append(errs, fmt.Errorf("relay.agent_track must be inbound or outbound, got %q", c.Relay.AgentTrack))
	}
	if tr, ok := speech.ParseTrack(c.Relay.CombinedTrack); !ok || tr == speech.TrackCombined {
		errs = append(errs, fmt.Errorf("relay.combined_track must be inbound or outbound, got %q", c.Relay.CombinedTrack))
	}
	if c.Relay.HistoryWindow <= 0 {
		errs = append(errs, errors.New("relay.history_window must be positive"))
	}
	if strings.TrimSpace(c.Notify.URLTemplate) == "" {
		errs = append(errs, errors.New("notify.url_template is required"))
	}
	if c.Notify.MaxInFlight < 0 {
		errs = append(errs, errors.New("notify.max_in_flight must not be negative"))
	}
	if c.Observability.LogSampleRate < 0 || c.Observability.LogSampleRate > 1 {
		errs = append(errs, errors.New("observability.log_sample_rate must be within [0,1]"))
	}
	return errors.Join(errs...)
}

func expandEnvStrings(cfg *Config) {
	expandValue(reflect.ValueOf(cfg))
	cfg.Vendors.STT.Settings = expandSettings(cfg.Vendors.STT.Settings)
	cfg.Transports.Settings = expandSettings(cfg.Transports.Settings)
}

func expandSettings(settings map[string]any) map[string]any {
	if settings == nil {
		return nil
	}
	for k, v := range settings {
		settings[k] = expandAny(v)
	}
	return settings
}

func expandAny(v any) any {
	switch val := v.(type) {
	case string:
		return os.ExpandEnv(val)
	case []any:
		for i := range val {
			val[i] = expandAny(val[i])
		}
		return val
	case map[string]any:
		for k, v := range val {
			val[k] = expandAny(v)
		}
		return val
	case map[any]any:
		out := make(map[string]any, len(val))
		for k, v := range val {
			ks, ok := k.(string)
			if !ok {
				continue
			}
			out[ks] = expandAny(v)
		}
		return out
	default:
		return v
	}
}

func expandValue(v reflect.Value) {
	if !v.IsValid() {
		return
	}
	if v.Kind() == reflect.Pointer {
		if v.IsNil() {
			return
		}
		expandValue(v.Elem())
		return
	}
	switch v.Kind() {
	case reflect.Struct:
		for i := 0; i < v.NumField(); i++ {
			expandValue(v.Field(i))
		}
	case reflect.String:
		if v.CanSet() {
			v.SetString(os.ExpandEnv(v.String()))
		}
	}
}
