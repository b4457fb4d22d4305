package observers

import (
	"log/slog"
	"sync"
	"time"

	"github.com/harunnryd/callscribe/pkg/metrics"
)

// LatencyObserver measures, per call, how long the speech provider took to
// open and to deliver its first final transcript, and how long the first
// notification took. One summary line is logged when the call ends.
type LatencyObserver struct {
	mu     sync.Mutex
	traces map[string]*trace
	log    *slog.Logger
}

type trace struct {
	callStart   time.Time
	sttOpen     time.Time
	sttFinal    time.Time
	notifyFirst time.Time
	notifyDur   time.Duration
	traceID     string
}

// Latency is the summary logged for one call.
type Latency struct {
	CallSID     string
	TraceID     string
	OpenMS      int64
	FirstFinal  int64
	FirstNotify int64
}

func NewLatencyObserver(log *slog.Logger) *LatencyObserver {
	if log == nil {
		log = slog.Default()
	}
	return &LatencyObserver{
		traces: make(map[string]*trace),
		log:    log,
	}
}

func (o *LatencyObserver) RecordEvent(ev metrics.MetricsEvent) {
	callSID := ev.Tags[metrics.TagCallSID]
	if callSID == "" {
		return
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	t := o.traces[callSID]
	if t == nil {
		if ev.Name != metrics.EventCallStart {
			return
		}
		t = &trace{}
		o.traces[callSID] = t
	}
	switch ev.Name {
	case metrics.EventCallStart:
		t.callStart = ev.Time
		t.traceID = ev.Tags[metrics.TagTraceID]
	case metrics.EventSpeechOpen:
		if t.sttOpen.IsZero() {
			t.sttOpen = ev.Time
		}
	case metrics.EventSpeechFinal:
		if t.sttFinal.IsZero() {
			t.sttFinal = ev.Time
		}
	case metrics.EventNotifySent:
		if t.notifyFirst.IsZero() {
			t.notifyFirst = ev.Time
			t.notifyDur = time.Duration(ev.Value * float64(time.Second))
		}
	case metrics.EventCallEnd:
		l := summarize(callSID, t)
		o.log.Info("latency",
			"call_sid", l.CallSID,
			"trace_id", l.TraceID,
			"stt_open_ms", l.OpenMS,
			"first_final_ms", l.FirstFinal,
			"first_notify_ms", l.FirstNotify,
		)
		delete(o.traces, callSID)
	}
}

// Pending reports how many calls are still being tracked.
func (o *LatencyObserver) Pending() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.traces)
}

func summarize(callSID string, t *trace) Latency {
	l := Latency{
		CallSID:     callSID,
		TraceID:     t.traceID,
		OpenMS:      durationMs(t.callStart, t.sttOpen),
		FirstFinal:  durationMs(t.callStart, t.sttFinal),
		FirstNotify: -1,
	}
	if !t.notifyFirst.IsZero() {
		l.FirstNotify = t.notifyDur.Milliseconds()
	}
	return l
}

func durationMs(a, b time.Time) int64 {
	if a.IsZero() || b.IsZero() {
		return -1
	}
	return b.Sub(a).Milliseconds()
}
