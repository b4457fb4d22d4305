package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// PrometheusObserver folds relay events into process-wide Prometheus metrics.
type PrometheusObserver struct {
	registry *prometheus.Registry

	CallsStarted   prometheus.Counter
	CallsAborted   *prometheus.CounterVec
	CallsEnded     *prometheus.CounterVec
	ActiveCalls    prometheus.Gauge
	CallDuration   prometheus.Histogram
	FramesReceived prometheus.Counter
	FramesSent     prometheus.Counter
	FramesDropped  *prometheus.CounterVec

	SpeechOpened *prometheus.CounterVec
	SpeechClosed *prometheus.CounterVec
	Transcripts  *prometheus.CounterVec

	Notifications  *prometheus.CounterVec
	NotifyDuration prometheus.Histogram
}

// NewPrometheusObserver registers its metrics on a fresh registry.
func NewPrometheusObserver() *PrometheusObserver {
	reg := prometheus.NewRegistry()
	auto := promauto.With(reg)
	return &PrometheusObserver{
		registry: reg,
		CallsStarted: auto.NewCounter(prometheus.CounterOpts{
			Name: "callscribe_calls_started_total",
			Help: "Calls that reached the active state",
		}),
		CallsAborted: auto.NewCounterVec(prometheus.CounterOpts{
			Name: "callscribe_calls_aborted_total",
			Help: "Calls rejected at start",
		}, []string{TagReason}),
		CallsEnded: auto.NewCounterVec(prometheus.CounterOpts{
			Name: "callscribe_calls_ended_total",
			Help: "Active calls that terminated",
		}, []string{TagReason}),
		ActiveCalls: auto.NewGauge(prometheus.GaugeOpts{
			Name: "callscribe_active_calls",
			Help: "Calls currently relaying audio",
		}),
		CallDuration: auto.NewHistogram(prometheus.HistogramOpts{
			Name:    "callscribe_call_duration_seconds",
			Help:    "Duration of active calls",
			Buckets: prometheus.ExponentialBuckets(1, 2, 12), // 1s to ~68 minutes
		}),
		FramesReceived: auto.NewCounter(prometheus.CounterOpts{
			Name: "callscribe_audio_frames_received_total",
			Help: "Media frames received from the telephony transport",
		}),
		FramesSent: auto.NewCounter(prometheus.CounterOpts{
			Name: "callscribe_audio_frames_forwarded_total",
			Help: "Media frames forwarded to a speech session",
		}),
		FramesDropped: auto.NewCounterVec(prometheus.CounterOpts{
			Name: "callscribe_audio_frames_dropped_total",
			Help: "Media frames dropped before reaching a speech session",
		}, []string{TagReason}),
		SpeechOpened: auto.NewCounterVec(prometheus.CounterOpts{
			Name: "callscribe_speech_sessions_opened_total",
			Help: "Speech sessions that completed the provider handshake",
		}, []string{TagTrack}),
		SpeechClosed: auto.NewCounterVec(prometheus.CounterOpts{
			Name: "callscribe_speech_sessions_closed_total",
			Help: "Speech sessions closed, by cause",
		}, []string{TagTrack, TagReason}),
		Transcripts: auto.NewCounterVec(prometheus.CounterOpts{
			Name: "callscribe_transcripts_total",
			Help: "Final transcript fragments, by speaker",
		}, []string{TagSpeaker}),
		Notifications: auto.NewCounterVec(prometheus.CounterOpts{
			Name: "callscribe_notifications_total",
			Help: "Notification dispatches, by result",
		}, []string{"result"}),
		NotifyDuration: auto.NewHistogram(prometheus.HistogramOpts{
			Name:    "callscribe_notify_duration_seconds",
			Help:    "Round trip of notification requests",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 10), // 10ms to ~5s
		}),
	}
}

// Registry exposes the registry for extra collectors.
func (p *PrometheusObserver) Registry() *prometheus.Registry { return p.registry }

// Handler serves the registry in the Prometheus text format.
func (p *PrometheusObserver) Handler() http.Handler {
	return promhttp.HandlerFor(p.registry, promhttp.HandlerOpts{})
}

func (p *PrometheusObserver) RecordEvent(ev MetricsEvent) {
	tag := func(k string) string {
		if v := ev.Tags[k]; v != "" {
			return v
		}
		return "none"
	}
	switch ev.Name {
	case EventCallStart:
		p.CallsStarted.Inc()
		p.ActiveCalls.Inc()
	case EventCallAbort:
		p.CallsAborted.WithLabelValues(tag(TagReason)).Inc()
	case EventCallEnd:
		p.ActiveCalls.Dec()
		p.CallsEnded.WithLabelValues(tag(TagReason)).Inc()
		p.CallDuration.Observe(ev.Value)
		p.FramesReceived.Add(fieldFloat(ev.Fields, "frames_received"))
		p.FramesSent.Add(fieldFloat(ev.Fields, "frames_forwarded"))
	case EventAudioDropped:
		p.FramesDropped.WithLabelValues(tag(TagReason)).Inc()
	case EventSpeechOpen:
		p.SpeechOpened.WithLabelValues(tag(TagTrack)).Inc()
	case EventSpeechClosed:
		p.SpeechClosed.WithLabelValues(tag(TagTrack), tag(TagReason)).Inc()
	case EventSpeechFinal:
		p.Transcripts.WithLabelValues(tag(TagSpeaker)).Inc()
	case EventNotifySent:
		p.Notifications.WithLabelValues("sent").Inc()
		p.NotifyDuration.Observe(ev.Value)
	case EventNotifyFailed:
		p.Notifications.WithLabelValues("failed").Inc()
		p.NotifyDuration.Observe(ev.Value)
	case EventNotifyDropped:
		p.Notifications.WithLabelValues("dropped").Inc()
	}
}

func fieldFloat(fields map[string]any, key string) float64 {
	switch v := fields[key].(type) {
	case int:
		return float64(v)
	case int64:
		return float64(v)
	case uint64:
		return float64(v)
	case float64:
		return v
	default:
		return 0
	}
}
