package notify

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sourcegraph/conc"

	"github.com/harunnryd/callscribe/pkg/errorsx"
	"github.com/harunnryd/callscribe/pkg/logging"
	"github.com/harunnryd/callscribe/pkg/metrics"
)

type DispatcherConfig struct {
	// MaxInFlight bounds concurrent requests; 0 means unbounded. Dispatches
	// over the limit are dropped, never queued.
	MaxInFlight int
	// Timeout per request; 0 keeps the HTTP client's own behavior.
	Timeout  time.Duration
	Logger   *slog.Logger
	Observer metrics.Observer
}

type Stats struct {
	Dispatched int64
	Succeeded  int64
	Failed     int64
	Dropped    int64
	InFlight   int64
}

// Dispatcher issues fire-and-forget notifications. Callers never wait on a
// request; Close drains whatever is still running.
type Dispatcher struct {
	sender   Sender
	cfg      DispatcherConfig
	logger   *slog.Logger
	observer metrics.Observer

	ctx    context.Context
	cancel context.CancelFunc
	sem    chan struct{}
	wg     conc.WaitGroup

	mu     sync.RWMutex
	closed bool

	dispatched atomic.Int64
	succeeded  atomic.Int64
	failed     atomic.Int64
	dropped    atomic.Int64
	inFlight   atomic.Int64
}

func NewDispatcher(sender Sender, cfg DispatcherConfig) *Dispatcher {
	logger := cfg.Logger
	if logger == nil {
		logger = logging.NewComponentLogger(slog.Default(), "notify")
	}
	observer := cfg.Observer
	if observer == nil {
		observer = metrics.NoopObserver{}
	}
	ctx, cancel := context.WithCancel(context.Background())
	d := &Dispatcher{
		sender:   sender,
		cfg:      cfg,
		logger:   logger,
		observer: observer,
		ctx:      ctx,
		cancel:   cancel,
	}
	if cfg.MaxInFlight > 0 {
		d.sem = make(chan struct{}, cfg.MaxInFlight)
	}
	return d
}

// Notify starts one request in the background and reports whether it was
// issued. It returns false when the dispatcher is closed or at its limit.
func (d *Dispatcher) Notify(target Target, n Notification) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	tags := map[string]string{metrics.TagCallSID: n.CallSID, metrics.TagSpeaker: n.Speaker}
	if d.closed {
		d.drop(n, "closed", tags)
		return false
	}
	if d.sem != nil {
		select {
		case d.sem <- struct{}{}:
		default:
			d.drop(n, string(errorsx.ReasonNotifyLimit), tags)
			return false
		}
	}

	d.dispatched.Add(1)
	d.inFlight.Add(1)
	d.wg.Go(func() {
		defer func() {
			d.inFlight.Add(-1)
			if d.sem != nil {
				<-d.sem
			}
		}()
		d.send(target, n, tags)
	})
	return true
}

func (d *Dispatcher) send(target Target, n Notification, tags map[string]string) {
	ctx := d.ctx
	if d.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.cfg.Timeout)
		defer cancel()
	}
	start := time.Now()
	err := d.sender.Send(ctx, target, n)
	elapsed := time.Since(start)
	if err != nil {
		d.failed.Add(1)
		reason := errorsx.Reason(err)
		d.logger.Warn("notify_failed",
			slog.String("call_sid", n.CallSID),
			slog.String("speaker", n.Speaker),
			slog.String("reason", string(reason)),
			slog.String("error", err.Error()))
		failTags := cloneTags(tags)
		failTags[metrics.TagReason] = string(reason)
		metrics.Emit(d.observer, metrics.EventNotifyFailed, elapsed.Seconds(), failTags, nil)
		return
	}
	d.succeeded.Add(1)
	d.logger.Debug("notify_sent",
		slog.String("call_sid", n.CallSID),
		slog.String("speaker", n.Speaker),
		slog.Int64("duration_ms", elapsed.Milliseconds()))
	metrics.Emit(d.observer, metrics.EventNotifySent, elapsed.Seconds(), tags, nil)
}

func (d *Dispatcher) drop(n Notification, reason string, tags map[string]string) {
	d.dropped.Add(1)
	d.logger.Warn("notify_dropped",
		slog.String("call_sid", n.CallSID),
		slog.String("reason", reason),
		slog.Int64("in_flight", d.inFlight.Load()))
	dropTags := cloneTags(tags)
	dropTags[metrics.TagReason] = reason
	metrics.Emit(d.observer, metrics.EventNotifyDropped, 1, dropTags, nil)
}

func (d *Dispatcher) InFlight() int {
	return int(d.inFlight.Load())
}

func (d *Dispatcher) Stats() Stats {
	return Stats{
		Dispatched: d.dispatched.Load(),
		Succeeded:  d.succeeded.Load(),
		Failed:     d.failed.Load(),
		Dropped:    d.dropped.Load(),
		InFlight:   d.inFlight.Load(),
	}
}

// Close stops accepting notifications and waits for in-flight requests.
// When ctx ends first the remaining requests are cancelled and ctx's error
// is returned. Close is safe to call more than once.
func (d *Dispatcher) Close(ctx context.Context) error {
	d.mu.Lock()
	d.closed = true
	d.mu.Unlock()

	done := make(chan struct{})
	go func() {
		defer close(done)
		if rec := d.wg.WaitAndRecover(); rec != nil {
			d.logger.Error("notify_panic", slog.String("panic", fmt.Sprint(rec.Value)))
		}
	}()

	select {
	case <-done:
		d.cancel()
		return nil
	case <-ctx.Done():
		d.cancel()
		<-done
		return ctx.Err()
	}
}

func cloneTags(in map[string]string) map[string]string {
	out := make(map[string]string, len(in)+1)
	for k, v := range in {
		out[k] = v
	}
	return out
}
