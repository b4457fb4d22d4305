package relay

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"runtime"
	"strings"
	"time"

	"github.com/harunnryd/callscribe/pkg/adapters/stt"
	"github.com/harunnryd/callscribe/pkg/call"
	"github.com/harunnryd/callscribe/pkg/frames"
	"github.com/harunnryd/callscribe/pkg/logging"
	"github.com/harunnryd/callscribe/pkg/metrics"
	"github.com/harunnryd/callscribe/pkg/notify"
	"github.com/harunnryd/callscribe/pkg/observers"
	"github.com/harunnryd/callscribe/pkg/redact"
	"github.com/harunnryd/callscribe/pkg/runner"
	"github.com/harunnryd/callscribe/pkg/speech"
	"github.com/harunnryd/callscribe/pkg/transports"
)

// Engine accepts call connections from a transport and runs one controller
// per connection.
type Engine struct {
	cfg        Config
	callCfg    call.Config
	logger     *slog.Logger
	callLogger *slog.Logger
	transport  transports.Transport
	providers  *ProviderRegistry
	sttFactory stt.Factory
	registry   *CallRegistry
	dispatcher *notify.Dispatcher
	prom       *metrics.PrometheusObserver
	asyncObs   *metrics.AsyncObserver
	observer   metrics.Observer
	runner     *runner.LifecycleRunner
	ctx        context.Context
	cancel     context.CancelFunc
}

type EngineOptions struct {
	Config    Config
	Providers *ProviderRegistry
	Transport transports.Transport
	// Sender overrides the webhook client.
	Sender notify.Sender
	// Observers receive every metrics event next to the built-in ones.
	Observers []metrics.Observer
	Logger    *slog.Logger
	// Banner receives the startup banner; nil keeps stdout.
	Banner io.Writer
	// Quiet suppresses the startup banner.
	Quiet bool
}

func NewEngine(opts EngineOptions) (*Engine, error) {
	cfg := opts.Config
	redact.SetEnabled(cfg.Privacy.RedactPII)
	base := opts.Logger
	if base == nil {
		base = slog.Default()
	}
	logger := logging.NewComponentLogger(base, "engine")

	if opts.Transport == nil {
		return nil, errors.New("transport required")
	}
	providers := opts.Providers
	if providers == nil {
		providers = NewProviderRegistry()
		RegisterDefaultProviders(providers)
	}
	sttFactory, err := providers.BuildSTTFactory(cfg.Vendors.STT.Provider, cfg)
	if err != nil {
		return nil, err
	}
	template, err := speechTemplate(cfg)
	if err != nil {
		return nil, err
	}
	topology, err := call.ParseTopology(cfg.Relay.Topology)
	if err != nil {
		return nil, err
	}
	agentTrack, _ := speech.ParseTrack(cfg.Relay.AgentTrack)
	combinedTrack, _ := speech.ParseTrack(cfg.Relay.CombinedTrack)

	if template.APIKey == "" {
		logger.Warn("speech_api_key_missing", slog.String("reason_code", "missing_secret"))
	}
	logger.Info("callscribe_init",
		slog.String("environment", cfg.Environment),
		slog.String("stt_provider", cfg.Vendors.STT.Provider),
		slog.String("transport", cfg.Transports.Provider),
		slog.String("topology", string(topology)),
		slog.String("speech_api_key", redact.Secret(template.APIKey)),
		slog.String("model", template.Model),
		slog.String("language", template.Language))

	prom := metrics.NewPrometheusObserver()
	latencyObs := observers.NewLatencyObserver(logging.NewComponentLogger(base, "latency"))
	logObs := metrics.NewSamplingObserver(
		observers.NewLoggerObserver(logging.NewComponentLogger(base, "metrics")),
		cfg.Observability.LogSampleRate,
		metrics.EventCallStart, metrics.EventCallAbort, metrics.EventCallEnd, metrics.EventSpeechClosed,
	)
	obsList := []metrics.Observer{prom, latencyObs, logObs}
	obsList = append(obsList, opts.Observers...)
	asyncObs := metrics.NewAsyncObserver(observers.NewMultiObserver(obsList...), 2048)

	sender := opts.Sender
	if sender == nil {
		httpClient := &http.Client{}
		if cfg.Notify.TimeoutMS > 0 {
			httpClient.Timeout = time.Duration(cfg.Notify.TimeoutMS) * time.Millisecond
		}
		sender = &notify.Client{
			URLTemplate:  cfg.Notify.URLTemplate,
			APIKeyHeader: cfg.Notify.APIKeyHeader,
			HTTP:         httpClient,
			Logger:       logging.NewComponentLogger(base, "notify"),
		}
	}
	dispatcher := notify.NewDispatcher(sender, notify.DispatcherConfig{
		MaxInFlight: cfg.Notify.MaxInFlight,
		Timeout:     time.Duration(cfg.Notify.TimeoutMS) * time.Millisecond,
		Logger:      logging.NewComponentLogger(base, "notify"),
		Observer:    asyncObs,
	})

	if path := strings.TrimSpace(cfg.Observability.MetricsPath); path != "" {
		if rr, ok := opts.Transport.(transports.RouteRegistrar); ok {
			rr.Handle(path, prom.Handler())
		}
	}

	callCfg := call.Config{
		Topology:      topology,
		HistoryWindow: cfg.Relay.HistoryWindow,
		AgentTrack:    agentTrack,
		CombinedTrack: combinedTrack,
		AgentSpeaker:  cfg.Relay.AgentSpeaker,
		SpeechAPIKey:  template.APIKey,
		InboxBuffer:   cfg.Relay.InboxBuffer,
		STT:           template,
	}
	e := &Engine{
		cfg:        cfg,
		callCfg:    callCfg,
		logger:     logger,
		callLogger: logging.NewComponentLogger(base, "call"),
		transport:  opts.Transport,
		providers:  providers,
		sttFactory: sttFactory,
		registry:   NewCallRegistry(),
		dispatcher: dispatcher,
		prom:       prom,
		asyncObs:   asyncObs,
		observer:   asyncObs,
	}
	e.ctx, e.cancel = context.WithCancel(context.Background())

	hooks := runner.Hooks{
		OnStart: func() {
			attrs := []any{slog.String("message", "CallScribe Engine Ready")}
			if rr, ok := opts.Transport.(transports.ReadyReporter); ok {
				for k, v := range rr.ReadyFields() {
					attrs = append(attrs, slog.Any(k, v))
				}
			}
			logger.Info("engine_ready", attrs...)
		},
		OnStop: func() {
			asyncObs.Close()
			stats := dispatcher.Stats()
			logger.Info("shutdown",
				slog.Int("goroutines", runtime.NumGoroutine()),
				slog.Int64("active_calls", e.registry.Count()),
				slog.Int64("notifications_sent", stats.Succeeded),
				slog.Int64("notifications_failed", stats.Failed),
				slog.Int64("notifications_dropped", stats.Dropped))
		},
	}
	drainTimeout := time.Duration(cfg.Notify.DrainTimeoutMS) * time.Millisecond
	if drainTimeout <= 0 {
		drainTimeout = 5 * time.Second
	}
	e.runner = runner.NewLifecycleRunner(runner.DrainerFunc(e.drain(drainTimeout)), hooks, drainTimeout+10*time.Second)
	if opts.Quiet {
		e.runner.SetBannerWriter(nil)
	} else if opts.Banner != nil {
		e.runner.SetBannerWriter(opts.Banner)
	}
	return e, nil
}

func (e *Engine) drain(timeout time.Duration) func() error {
	return func() error {
		e.registry.SetDraining(true)
		e.registry.CloseAll()
		if e.transport != nil {
			_ = e.transport.Stop()
		}
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		if !e.registry.WaitForEmpty(ctx, 50*time.Millisecond) {
			e.logger.Warn("drain_calls_timeout", slog.Int64("active_calls", e.registry.Count()))
		}
		if err := e.dispatcher.Close(ctx); err != nil {
			e.logger.Warn("drain_notifications_timeout",
				slog.Int("in_flight", e.dispatcher.InFlight()),
				slog.String("error", err.Error()))
			return fmt.Errorf("drain notifications: %w", err)
		}
		return nil
	}
}

// Accept runs one call controller over the connection's events.
func (e *Engine) Accept(ctx context.Context, events <-chan frames.Frame) {
	ctrl := call.NewController(e.callCfg, call.Deps{
		STT:      e.sttFactory,
		Notifier: e.dispatcher,
		Observer: e.observer,
		Logger:   e.callLogger,
	})
	ac, callCtx, ok := e.registry.Add(ctx, ctrl)
	if !ok {
		e.logger.Warn("call_rejected_draining")
		return
	}
	defer e.registry.Remove(ac.ID)

	if err := ctrl.Run(callCtx, events); err != nil && !errors.Is(err, context.Canceled) {
		e.logger.Warn("call_run_error", slog.String("error", err.Error()))
	}
}

func (e *Engine) Start(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	runCtx, cancel := context.WithCancel(ctx)
	go func() {
		select {
		case <-e.ctx.Done():
			cancel()
		case <-runCtx.Done():
		}
	}()
	if err := e.transport.Start(runCtx, e); err != nil {
		cancel()
		return err
	}
	go func() {
		_ = e.runner.Run(runCtx)
	}()
	return nil
}

// Stop refuses new calls, ends the live ones and drains notifications.
func (e *Engine) Stop() error {
	if e.cancel != nil {
		e.cancel()
	}
	return e.runner.Stop()
}

func (e *Engine) ProviderRegistry() *ProviderRegistry { return e.providers }

func (e *Engine) Transport() transports.Transport { return e.transport }

func (e *Engine) Config() Config { return e.cfg }

func (e *Engine) Registry() *CallRegistry { return e.registry }

func (e *Engine) Dispatcher() *notify.Dispatcher { return e.dispatcher }

// MetricsHandler serves the Prometheus registry.
func (e *Engine) MetricsHandler() http.Handler { return e.prom.Handler() }

func (e *Engine) Context() context.Context {
	if e.ctx == nil {
		return context.Background()
	}
	return e.ctx
}

func (e *Engine) Health() error {
	if e.transport == nil {
		return errors.New("missing transport")
	}
	if e.registry.Draining() {
		return errors.New("draining")
	}
	return nil
}

var _ transports.Acceptor = (*Engine)(nil)
